// Copyright 2026 © The Kairos Authors
// SPDX-License-Identifier: Apache-2.0

package governance

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"

	"github.com/google/cel-go/cel"

	"github.com/jllopis/capkernel/pkg/config"
	"github.com/jllopis/capkernel/pkg/contract"
)

// celCostLimit bounds the evaluation cost of a single rule.
const celCostLimit = 10000

// CELRule applies Effect when Expr evaluates to true. Expressions see two
// variables:
//
//	contract: {id, class, stability, resource_band, risk_score, agent_safe, metadata}
//	effect:   the requested effect, e.g. "execute"
type CELRule struct {
	ID     string
	Effect DecisionStatus
	Expr   string
	Reason string
}

// CELPolicy evaluates CEL rules in order; the first rule that matches wins.
// A rule that fails at evaluation time denies, so a broken expression never
// admits a session.
type CELPolicy struct {
	env   *cel.Env
	rules []CELRule

	mu       sync.RWMutex
	prgCache map[string]cel.Program
}

// NewCELPolicy compiles every rule up front; a rule that does not compile
// or does not yield a bool is reported here.
func NewCELPolicy(rules []CELRule) (*CELPolicy, error) {
	env, err := cel.NewEnv(
		cel.Variable("contract", cel.MapType(cel.StringType, cel.DynType)),
		cel.Variable("effect", cel.StringType),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create CEL environment: %w", err)
	}
	p := &CELPolicy{
		env:      env,
		rules:    append([]CELRule(nil), rules...),
		prgCache: make(map[string]cel.Program),
	}
	for _, rule := range p.rules {
		if _, err := p.program(rule.Expr); err != nil {
			return nil, fmt.Errorf("cel rule %q: %w", rule.ID, err)
		}
	}
	return p, nil
}

// CELPolicyFromConfig builds a CELPolicy from configuration.
func CELPolicyFromConfig(cfgs []config.CELRuleConfig) (*CELPolicy, error) {
	rules := make([]CELRule, 0, len(cfgs))
	for i, c := range cfgs {
		id := strings.TrimSpace(c.ID)
		if id == "" {
			id = fmt.Sprintf("cel-%d", i)
		}
		rules = append(rules, CELRule{ID: id, Effect: ParseEffect(c.Effect), Expr: c.Expr, Reason: c.Reason})
	}
	return NewCELPolicy(rules)
}

func (p *CELPolicy) Evaluate(_ context.Context, req Request) Decision {
	if req.Contract == nil {
		return Decision{Status: DecisionStatusDeny, Reason: "no contract"}
	}
	input := map[string]any{
		"contract": contractInput(req),
		"effect":   string(req.Effect),
	}
	for _, rule := range p.rules {
		matched, err := p.eval(rule.Expr, input)
		if err != nil {
			return Decision{Status: DecisionStatusDeny, RuleID: rule.ID, Reason: fmt.Sprintf("policy evaluation failed: %v", err)}
		}
		if matched {
			return Decision{Status: rule.Effect, Reason: rule.Reason, RuleID: rule.ID}
		}
	}
	return Allow
}

func contractInput(req Request) map[string]any {
	c := req.Contract
	meta := make(map[string]any, c.Metadata().Len())
	c.Metadata().Range(func(key string, raw json.RawMessage) bool {
		var v any
		if err := json.Unmarshal(raw, &v); err == nil {
			meta[key] = v
		}
		return true
	})
	return map[string]any{
		"id":            req.capability(),
		"class":         c.Class().String(),
		"stability":     c.Stability().String(),
		"resource_band": c.ResourceBand().String(),
		"risk_score":    int64(c.RiskScore()),
		"agent_safe":    contract.IsAgentSafe(c),
		"metadata":      meta,
	}
}

func (p *CELPolicy) eval(expr string, input map[string]any) (bool, error) {
	prg, err := p.program(expr)
	if err != nil {
		return false, err
	}
	out, _, err := prg.Eval(input)
	if err != nil {
		return false, fmt.Errorf("eval: %w", err)
	}
	val, ok := out.Value().(bool)
	if !ok {
		return false, fmt.Errorf("result not bool")
	}
	return val, nil
}

func (p *CELPolicy) program(expr string) (cel.Program, error) {
	p.mu.RLock()
	prg, hit := p.prgCache[expr]
	p.mu.RUnlock()
	if hit {
		return prg, nil
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	if prg, hit = p.prgCache[expr]; hit {
		return prg, nil
	}
	ast, issues := p.env.Compile(expr)
	if issues != nil && issues.Err() != nil {
		return nil, fmt.Errorf("compile: %w", issues.Err())
	}
	if out := ast.OutputType().String(); out != "bool" && out != "dyn" {
		return nil, fmt.Errorf("expression must return bool, got %s", out)
	}
	prg, err := p.env.Program(ast,
		cel.InterruptCheckFrequency(100),
		cel.CostLimit(celCostLimit),
	)
	if err != nil {
		return nil, fmt.Errorf("program: %w", err)
	}
	p.prgCache[expr] = prg
	return prg, nil
}
