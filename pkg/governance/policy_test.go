// Copyright 2026 © The Kairos Authors
// SPDX-License-Identifier: Apache-2.0

package governance

import (
	"context"
	"testing"

	"github.com/jllopis/capkernel/pkg/config"
	"github.com/jllopis/capkernel/pkg/contract"
)

func req(t *testing.T, id string, class contract.Class, s contract.Stability) Request {
	t.Helper()
	c, err := contract.New().ID(id).Class(class).Stability(s).ResourceBand(contract.BandFast).Build()
	if err != nil {
		t.Fatalf("build contract: %v", err)
	}
	return Request{Contract: c, Effect: EffectExecute}
}

func TestRuleSetEvaluate(t *testing.T) {
	engine := NewRuleSet([]Rule{
		{ID: "deny-secrets", Effect: DecisionStatusDeny, Capability: "secrets.*", Reason: "blocked"},
		{ID: "review-network", Effect: DecisionStatusRequireApproval, Class: "network"},
		{ID: "deny-experimental-writes", Effect: DecisionStatusDeny, Class: "read-write", Stability: "experimental"},
	})
	ctx := context.Background()

	tests := []struct {
		name   string
		req    Request
		status DecisionStatus
		rule   string
	}{
		{"glob deny", req(t, "secrets.read", contract.ClassReadOnly, contract.StabilityStable), DecisionStatusDeny, "deny-secrets"},
		{"class match", req(t, "http.get", contract.ClassNetwork, contract.StabilityStable), DecisionStatusRequireApproval, "review-network"},
		{"class and stability", req(t, "files.write", contract.ClassReadWrite, contract.StabilityExperimental), DecisionStatusDeny, "deny-experimental-writes"},
		{"stability mismatch", req(t, "files.write", contract.ClassReadWrite, contract.StabilityStable), DecisionStatusAllow, ""},
		{"default allow", req(t, "calc.sum", contract.ClassPure, contract.StabilityStable), DecisionStatusAllow, ""},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			d := engine.Evaluate(ctx, tc.req)
			if d.Status != tc.status || d.RuleID != tc.rule {
				t.Fatalf("expected %s/%q, got %s/%q", tc.status, tc.rule, d.Status, d.RuleID)
			}
		})
	}
}

func TestRequestCapabilityOverride(t *testing.T) {
	engine := NewRuleSet([]Rule{{ID: "deny", Effect: DecisionStatusDeny, Capability: "admin.*"}})
	r := req(t, "files.read", contract.ClassReadOnly, contract.StabilityStable)
	r.Capability = "admin.files.read"
	if d := engine.Evaluate(context.Background(), r); !d.IsDenied() {
		t.Fatalf("expected explicit capability to be matched, got %+v", d)
	}
}

func TestRuleSetFromConfig(t *testing.T) {
	cfg := config.GovernanceConfig{
		Policies: []config.PolicyRuleConfig{
			{ID: "deny-dangerous", Effect: "deny", Class: "dangerous", Reason: "blocked"},
			{Effect: "pending", Capability: "deploy.*"},
		},
	}
	engine := RuleSetFromConfig(cfg)
	if len(engine.Rules) != 2 || engine.Rules[1].ID != "rule" {
		t.Fatalf("unexpected rules %+v", engine.Rules)
	}
	d := engine.Evaluate(context.Background(), req(t, "shell.exec", contract.ClassDangerous, contract.StabilityStable))
	if !d.IsDenied() || d.RuleID != "deny-dangerous" {
		t.Fatalf("expected denied decision, got %+v", d)
	}
	d = engine.Evaluate(context.Background(), req(t, "deploy.app", contract.ClassNetwork, contract.StabilityStable))
	if !d.RequiresApproval() {
		t.Fatalf("expected pending alias to require approval, got %+v", d)
	}
}

func TestParseEffect(t *testing.T) {
	tests := map[string]DecisionStatus{
		"allow":            DecisionStatusAllow,
		" ALLOW ":          DecisionStatusAllow,
		"deny":             DecisionStatusDeny,
		"require_approval": DecisionStatusRequireApproval,
		"pending":          DecisionStatusRequireApproval,
		"whatever":         DecisionStatusDeny,
	}
	for in, want := range tests {
		if got := ParseEffect(in); got != want {
			t.Errorf("ParseEffect(%q) = %s, want %s", in, got, want)
		}
	}
}

func TestChainPolicy(t *testing.T) {
	ctx := context.Background()
	var calls int
	counting := PolicyFunc(func(context.Context, Request) Decision {
		calls++
		return Allow
	})
	deny := PolicyFunc(func(context.Context, Request) Decision {
		return Decision{Status: DecisionStatusDeny, RuleID: "second"}
	})

	chain := ChainPolicy{counting, nil, deny, counting}
	d := chain.Evaluate(ctx, req(t, "x", contract.ClassPure, contract.StabilityStable))
	if d.RuleID != "second" {
		t.Fatalf("expected the deny decision, got %+v", d)
	}
	if calls != 1 {
		t.Fatalf("expected evaluation to stop at the deny, got %d calls", calls)
	}
	if d := (ChainPolicy{}).Evaluate(ctx, Request{}); !d.IsAllowed() {
		t.Fatalf("expected empty chain to allow")
	}
}

func TestChainPolicyDenyOverridesPendingApproval(t *testing.T) {
	ctx := context.Background()
	review := func(id string) Policy {
		return PolicyFunc(func(context.Context, Request) Decision {
			return Decision{Status: DecisionStatusRequireApproval, RuleID: id}
		})
	}
	deny := PolicyFunc(func(context.Context, Request) Decision {
		return Decision{Status: DecisionStatusDeny, RuleID: "late-deny"}
	})
	r := req(t, "x", contract.ClassPure, contract.StabilityStable)

	tests := []struct {
		name   string
		chain  ChainPolicy
		status DecisionStatus
		rule   string
	}{
		{"deny after approval", ChainPolicy{review("first"), AllowAll, deny}, DecisionStatusDeny, "late-deny"},
		{"approval held when nothing denies", ChainPolicy{review("first"), AllowAll}, DecisionStatusRequireApproval, "first"},
		{"first approval kept", ChainPolicy{review("first"), review("second")}, DecisionStatusRequireApproval, "first"},
		{"approval after allow", ChainPolicy{AllowAll, review("second")}, DecisionStatusRequireApproval, "second"},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			d := tc.chain.Evaluate(ctx, r)
			if d.Status != tc.status || d.RuleID != tc.rule {
				t.Fatalf("got %+v, want %s/%s", d, tc.status, tc.rule)
			}
		})
	}
}

func TestFromConfigRuleDenyBeatsRiskCeiling(t *testing.T) {
	p, err := FromConfig(config.GovernanceConfig{
		MaxRisk: 40,
		Policies: []config.PolicyRuleConfig{
			{ID: "no-network", Effect: "deny", Class: "network"},
		},
	})
	if err != nil {
		t.Fatalf("FromConfig: %v", err)
	}
	risky := contract.New().ID("http.fetch").Class(contract.ClassNetwork).
		Stability(contract.StabilityExperimental).ResourceBand(contract.BandSlow).MustBuild()
	if risky.RiskScore() <= 40 {
		t.Fatalf("fixture must exceed the risk ceiling, scored %d", risky.RiskScore())
	}
	d := p.Evaluate(context.Background(), Request{Contract: risky, Effect: EffectExecute})
	if !d.IsDenied() || d.RuleID != "no-network" {
		t.Fatalf("expected no-network deny, got %+v", d)
	}

	// Outside the deny rule's reach, the ceiling still escalates.
	write := contract.New().ID("files.write").Class(contract.ClassReadWrite).
		Stability(contract.StabilityExperimental).ResourceBand(contract.BandSlow).MustBuild()
	d = p.Evaluate(context.Background(), Request{Contract: write, Effect: EffectExecute})
	if !d.RequiresApproval() || d.RuleID != "max_risk" {
		t.Fatalf("expected max_risk escalation, got %+v", d)
	}
}

func TestSwappablePolicy(t *testing.T) {
	ctx := context.Background()
	r := req(t, "x", contract.ClassPure, contract.StabilityStable)
	p := NewSwappablePolicy(nil)
	if !p.Evaluate(ctx, r).IsAllowed() {
		t.Fatalf("expected nil policy to allow")
	}
	p.Swap(NewRuleSet([]Rule{{ID: "all", Effect: DecisionStatusDeny}}))
	if !p.Evaluate(ctx, r).IsDenied() {
		t.Fatalf("expected swapped policy to deny")
	}
}

func TestFromConfig(t *testing.T) {
	p, err := FromConfig(config.GovernanceConfig{
		Denylist: []string{"rm.*"},
		MaxRisk:  60,
		CEL: []config.CELRuleConfig{
			{ID: "no-cold", Effect: "deny", Expr: `contract.resource_band == "cold"`},
		},
	})
	if err != nil {
		t.Fatalf("FromConfig: %v", err)
	}
	ctx := context.Background()
	if d := p.Evaluate(ctx, req(t, "rm.rf", contract.ClassPure, contract.StabilityStable)); d.RuleID != "denylist" {
		t.Fatalf("expected denylist decision, got %+v", d)
	}
	cold := contract.New().ID("archive.restore").Class(contract.ClassReadOnly).
		Stability(contract.StabilityStable).ResourceBand(contract.BandCold).MustBuild()
	if d := p.Evaluate(ctx, Request{Contract: cold, Effect: EffectExecute}); d.RuleID != "no-cold" {
		t.Fatalf("expected cel decision, got %+v", d)
	}

	if _, err := FromConfig(config.GovernanceConfig{CEL: []config.CELRuleConfig{{Effect: "deny", Expr: "contract."}}}); err == nil {
		t.Fatalf("expected compile error to surface")
	}
}
