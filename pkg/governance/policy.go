// Copyright 2026 © The Kairos Authors
// SPDX-License-Identifier: Apache-2.0

// Package governance decides whether a capability contract may be executed.
// The session kernel consults a Policy before admitting a session; a
// require_approval outcome is escalated to an ApprovalHook.
package governance

import (
	"context"
	"path"
	"strings"
	"sync/atomic"

	"github.com/jllopis/capkernel/pkg/config"
	"github.com/jllopis/capkernel/pkg/contract"
)

// Effect names what the caller intends to do with a capability.
type Effect string

const (
	EffectExecute Effect = "execute"
)

// Request is the input to a policy evaluation.
type Request struct {
	Contract *contract.Contract
	Effect   Effect
	// Capability is the identifier being requested. It defaults to the
	// contract ID when empty.
	Capability string
}

func (r Request) capability() string {
	if r.Capability != "" {
		return r.Capability
	}
	if r.Contract != nil {
		return r.Contract.ID()
	}
	return ""
}

// DecisionStatus captures the policy outcome.
type DecisionStatus string

const (
	DecisionStatusAllow           DecisionStatus = "allow"
	DecisionStatusDeny            DecisionStatus = "deny"
	DecisionStatusRequireApproval DecisionStatus = "require_approval"
)

// Decision captures the outcome of a policy evaluation.
type Decision struct {
	Status DecisionStatus
	Reason string
	RuleID string
}

// Allow is the decision returned when nothing objects.
var Allow = Decision{Status: DecisionStatusAllow}

// IsAllowed returns true when the decision permits the request.
func (d Decision) IsAllowed() bool { return d.Status == DecisionStatusAllow }

// RequiresApproval returns true when a human decision is needed.
func (d Decision) RequiresApproval() bool { return d.Status == DecisionStatusRequireApproval }

// IsDenied returns true for any outcome other than allow or require_approval,
// including an unset status.
func (d Decision) IsDenied() bool { return !d.IsAllowed() && !d.RequiresApproval() }

// Policy evaluates requests. Implementations must be safe for concurrent use.
type Policy interface {
	Evaluate(ctx context.Context, req Request) Decision
}

// PolicyFunc adapts a function to Policy.
type PolicyFunc func(ctx context.Context, req Request) Decision

func (f PolicyFunc) Evaluate(ctx context.Context, req Request) Decision { return f(ctx, req) }

// AllowAll admits every request.
var AllowAll Policy = PolicyFunc(func(context.Context, Request) Decision { return Allow })

// Rule defines a single policy rule. Empty matchers match everything.
type Rule struct {
	ID         string
	Effect     DecisionStatus
	Class      string // class name, e.g. "network"
	Stability  string
	Capability string // glob pattern
	Reason     string
}

func (r Rule) matches(req Request) bool {
	if req.Contract == nil {
		return false
	}
	if r.Class != "" && !sameName(r.Class, req.Contract.Class().String()) {
		return false
	}
	if r.Stability != "" && !sameName(r.Stability, req.Contract.Stability().String()) {
		return false
	}
	return matchPattern(r.Capability, req.capability())
}

// RuleSet evaluates rules in order.
type RuleSet struct {
	Rules           []Rule
	DefaultDecision Decision
}

// NewRuleSet creates a rule set with a default allow decision.
func NewRuleSet(rules []Rule) *RuleSet {
	return &RuleSet{
		Rules:           append([]Rule(nil), rules...),
		DefaultDecision: Allow,
	}
}

// Evaluate checks rules in order and returns the first match.
func (r *RuleSet) Evaluate(_ context.Context, req Request) Decision {
	for _, rule := range r.Rules {
		if !rule.matches(req) {
			continue
		}
		return Decision{Status: rule.Effect, Reason: rule.Reason, RuleID: rule.ID}
	}
	return r.DefaultDecision
}

// ParseEffect maps a configured effect to a decision status. "pending" is
// accepted as an alias of require_approval; anything unknown denies.
func ParseEffect(effect string) DecisionStatus {
	switch strings.ToLower(strings.TrimSpace(effect)) {
	case "allow":
		return DecisionStatusAllow
	case "require_approval", "pending":
		return DecisionStatusRequireApproval
	default:
		return DecisionStatusDeny
	}
}

// RuleSetFromConfig builds a rule set from config rules.
func RuleSetFromConfig(cfg config.GovernanceConfig) *RuleSet {
	if len(cfg.Policies) == 0 {
		return NewRuleSet(nil)
	}
	rules := make([]Rule, 0, len(cfg.Policies))
	for _, rule := range cfg.Policies {
		if strings.TrimSpace(rule.ID) == "" {
			rule.ID = "rule"
		}
		rules = append(rules, Rule{
			ID:         rule.ID,
			Effect:     ParseEffect(rule.Effect),
			Class:      rule.Class,
			Stability:  rule.Stability,
			Capability: rule.Capability,
			Reason:     rule.Reason,
		})
	}
	return NewRuleSet(rules)
}

// ChainPolicy evaluates policies in order. The first deny wins at once; a
// require_approval is held while the remaining policies run, so an approval
// can never override a later deny. The first held require_approval is
// returned when nothing denies.
type ChainPolicy []Policy

func (c ChainPolicy) Evaluate(ctx context.Context, req Request) Decision {
	var pending *Decision
	for _, p := range c {
		if p == nil {
			continue
		}
		d := p.Evaluate(ctx, req)
		switch {
		case d.IsAllowed():
		case d.RequiresApproval():
			if pending == nil {
				pending = &d
			}
		default:
			return d
		}
	}
	if pending != nil {
		return *pending
	}
	return Allow
}

// SwappablePolicy delegates to a policy that can be replaced at runtime,
// for example when configuration is reloaded.
type SwappablePolicy struct {
	current atomic.Pointer[policyBox]
}

type policyBox struct{ p Policy }

// NewSwappablePolicy starts with p, or AllowAll when p is nil.
func NewSwappablePolicy(p Policy) *SwappablePolicy {
	s := &SwappablePolicy{}
	s.Swap(p)
	return s
}

// Swap installs p for subsequent evaluations.
func (s *SwappablePolicy) Swap(p Policy) {
	if p == nil {
		p = AllowAll
	}
	s.current.Store(&policyBox{p: p})
}

func (s *SwappablePolicy) Evaluate(ctx context.Context, req Request) Decision {
	return s.current.Load().p.Evaluate(ctx, req)
}

// FromConfig builds the configured policy: the capability filter, then the
// rule set, then the CEL rules.
func FromConfig(cfg config.GovernanceConfig) (Policy, error) {
	chain := ChainPolicy{
		NewCapabilityFilter(
			WithAllowlist(cfg.Allowlist),
			WithDenylist(cfg.Denylist),
			WithRequireAgentSafe(cfg.RequireAgentSafe),
			WithMaxRisk(cfg.MaxRisk),
		),
		RuleSetFromConfig(cfg),
	}
	if len(cfg.CEL) > 0 {
		cel, err := CELPolicyFromConfig(cfg.CEL)
		if err != nil {
			return nil, err
		}
		chain = append(chain, cel)
	}
	return chain, nil
}

func matchPattern(pattern, value string) bool {
	if pattern == "" {
		return true
	}
	ok, err := path.Match(pattern, value)
	if err == nil && ok {
		return true
	}
	return pattern == value
}

func sameName(a, b string) bool {
	norm := func(s string) string {
		s = strings.ToLower(strings.TrimSpace(s))
		return strings.NewReplacer("_", "", "-", "").Replace(s)
	}
	return norm(a) == norm(b)
}
