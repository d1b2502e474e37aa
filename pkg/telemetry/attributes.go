// Copyright 2026 © The Kairos Authors
// SPDX-License-Identifier: Apache-2.0

package telemetry

import (
	"go.opentelemetry.io/otel/attribute"
)

// Attribute keys for capkernel spans and metrics.
// These follow OpenTelemetry naming conventions where applicable.
const (
	// Session attributes
	AttrSessionID    = "capkernel.session.id"
	AttrSessionState = "capkernel.session.state"
	AttrSessionCount = "capkernel.session.count"

	// Contract attributes
	AttrContractID        = "capkernel.contract.id"
	AttrContractClass     = "capkernel.contract.class"
	AttrContractStability = "capkernel.contract.stability"
	AttrContractBand      = "capkernel.contract.resource_band"
	AttrContractRisk      = "capkernel.contract.risk_score"
	AttrContractAgentSafe = "capkernel.contract.agent_safe"

	// Frame attributes
	AttrStreamID   = "capkernel.stream.id"
	AttrFrameKind  = "capkernel.frame.kind"
	AttrFrameBytes = "capkernel.frame.bytes"

	// Negotiation attributes
	AttrGrammarName        = "capkernel.grammar.name"
	AttrNegotiationMode    = "capkernel.negotiation.mode"
	AttrVersionRequested   = "capkernel.negotiation.requested"
	AttrVersionSelected    = "capkernel.negotiation.selected"
	AttrNegotiationOutcome = "capkernel.negotiation.outcome"
	AttrDeltaBreaking      = "capkernel.delta.breaking"
	AttrDeltaAdded         = "capkernel.delta.added"
	AttrDeltaRemoved       = "capkernel.delta.removed"
	AttrDeltaChanged       = "capkernel.delta.changed"

	// Governance attributes
	AttrPolicyDecision = "capkernel.policy.decision"
	AttrPolicyRuleID   = "capkernel.policy.rule_id"
	AttrPolicyReason   = "capkernel.policy.reason"

	// Error attributes
	AttrErrorCode   = "error.code"
	AttrComponent   = "component"
	AttrRecoverable = "recoverable"
)

// SessionAttributes returns attributes identifying a session.
func SessionAttributes(id, state string) []attribute.KeyValue {
	return []attribute.KeyValue{
		attribute.String(AttrSessionID, id),
		attribute.String(AttrSessionState, state),
	}
}

// ContractAttributes returns attributes describing a capability contract.
func ContractAttributes(id, class, stability, band string, risk int, agentSafe bool) []attribute.KeyValue {
	attrs := []attribute.KeyValue{
		attribute.String(AttrContractClass, class),
		attribute.String(AttrContractStability, stability),
		attribute.String(AttrContractBand, band),
		attribute.Int(AttrContractRisk, risk),
		attribute.Bool(AttrContractAgentSafe, agentSafe),
	}
	if id != "" {
		attrs = append(attrs, attribute.String(AttrContractID, id))
	}
	return attrs
}

// NegotiationAttributes returns attributes for a negotiation span.
func NegotiationAttributes(grammar, mode, requested, selected string) []attribute.KeyValue {
	attrs := []attribute.KeyValue{
		attribute.String(AttrNegotiationMode, mode),
		attribute.String(AttrVersionRequested, requested),
	}
	if grammar != "" {
		attrs = append(attrs, attribute.String(AttrGrammarName, grammar))
	}
	if selected != "" {
		attrs = append(attrs, attribute.String(AttrVersionSelected, selected))
	}
	return attrs
}

// DeltaAttributes summarises a grammar delta.
func DeltaAttributes(added, removed, changed int, breaking bool) []attribute.KeyValue {
	return []attribute.KeyValue{
		attribute.Int(AttrDeltaAdded, added),
		attribute.Int(AttrDeltaRemoved, removed),
		attribute.Int(AttrDeltaChanged, changed),
		attribute.Bool(AttrDeltaBreaking, breaking),
	}
}

// PolicyAttributes returns attributes for a policy decision.
func PolicyAttributes(decision, ruleID, reason string) []attribute.KeyValue {
	attrs := []attribute.KeyValue{
		attribute.String(AttrPolicyDecision, decision),
	}
	if ruleID != "" {
		attrs = append(attrs, attribute.String(AttrPolicyRuleID, ruleID))
	}
	if reason != "" {
		if len(reason) > 200 {
			reason = reason[:200] + "..."
		}
		attrs = append(attrs, attribute.String(AttrPolicyReason, reason))
	}
	return attrs
}
