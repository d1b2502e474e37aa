// Copyright 2026 © The Kairos Authors
// SPDX-License-Identifier: Apache-2.0

package governance

import (
	"context"
	"fmt"
	"path"
	"strings"

	"github.com/jllopis/capkernel/pkg/contract"
)

// CapabilityFilter gates requests on capability identifiers and on the
// contract's risk profile.
//
// Evaluation order:
//  1. denylist match → deny
//  2. non-empty allowlist without a match → deny
//  3. agent-safe required and contract not agent-safe → deny
//  4. risk score above the ceiling → require_approval
//  5. otherwise allow
type CapabilityFilter struct {
	allowlist        map[string]bool
	denylist         map[string]bool
	requireAgentSafe bool
	maxRisk          int
}

// CapabilityFilterOption configures a CapabilityFilter.
type CapabilityFilterOption func(*CapabilityFilter)

// NewCapabilityFilter creates a filter that allows everything until
// configured otherwise.
func NewCapabilityFilter(opts ...CapabilityFilterOption) *CapabilityFilter {
	f := &CapabilityFilter{
		allowlist: make(map[string]bool),
		denylist:  make(map[string]bool),
	}
	for _, opt := range opts {
		opt(f)
	}
	return f
}

// WithAllowlist sets the permitted capability names or glob patterns.
func WithAllowlist(capabilities []string) CapabilityFilterOption {
	return func(f *CapabilityFilter) { f.AddToAllowlist(capabilities...) }
}

// WithDenylist sets the forbidden capability names or glob patterns.
func WithDenylist(capabilities []string) CapabilityFilterOption {
	return func(f *CapabilityFilter) { f.AddToDenylist(capabilities...) }
}

// WithRequireAgentSafe denies every contract that is not agent-safe.
func WithRequireAgentSafe(required bool) CapabilityFilterOption {
	return func(f *CapabilityFilter) { f.requireAgentSafe = required }
}

// WithMaxRisk escalates contracts scoring above limit to require_approval.
// Zero disables the ceiling.
func WithMaxRisk(limit int) CapabilityFilterOption {
	return func(f *CapabilityFilter) {
		if limit > 0 {
			f.maxRisk = limit
		}
	}
}

func (f *CapabilityFilter) Evaluate(_ context.Context, req Request) Decision {
	name := req.capability()
	if matchesList(name, f.denylist) {
		return Decision{Status: DecisionStatusDeny, Reason: "capability is in denylist", RuleID: "denylist"}
	}
	if len(f.allowlist) > 0 && !matchesList(name, f.allowlist) {
		return Decision{Status: DecisionStatusDeny, Reason: "capability is not in allowlist", RuleID: "allowlist"}
	}
	if req.Contract == nil {
		return Allow
	}
	if f.requireAgentSafe && !contract.IsAgentSafe(req.Contract) {
		return Decision{Status: DecisionStatusDeny, Reason: "contract is not agent-safe", RuleID: "agent_safe"}
	}
	if f.maxRisk > 0 {
		if score := req.Contract.RiskScore(); score > f.maxRisk {
			return Decision{
				Status: DecisionStatusRequireApproval,
				Reason: fmt.Sprintf("risk score %d exceeds %d", score, f.maxRisk),
				RuleID: "max_risk",
			}
		}
	}
	return Allow
}

// Filter returns the capabilities of reqs that would be allowed outright.
func (f *CapabilityFilter) Filter(ctx context.Context, reqs []Request) []Request {
	out := make([]Request, 0, len(reqs))
	for _, r := range reqs {
		if f.Evaluate(ctx, r).IsAllowed() {
			out = append(out, r)
		}
	}
	return out
}

// AddToAllowlist adds capabilities to the allowlist.
func (f *CapabilityFilter) AddToAllowlist(capabilities ...string) {
	addAll(f.allowlist, capabilities)
}

// AddToDenylist adds capabilities to the denylist.
func (f *CapabilityFilter) AddToDenylist(capabilities ...string) {
	addAll(f.denylist, capabilities)
}

func addAll(list map[string]bool, values []string) {
	for _, v := range values {
		v = strings.TrimSpace(v)
		if v != "" {
			list[v] = true
		}
	}
}

// matchesList checks name against exact entries and glob patterns such as
// "files.*".
func matchesList(name string, list map[string]bool) bool {
	if list[name] {
		return true
	}
	for pattern := range list {
		if ok, err := path.Match(pattern, name); err == nil && ok {
			return true
		}
	}
	return false
}
