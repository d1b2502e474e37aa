// Copyright 2026 © The Kairos Authors
// SPDX-License-Identifier: Apache-2.0

package contract

import (
	"testing"

	kerrors "github.com/jllopis/capkernel/pkg/errors"
)

func mustContract(t *testing.T, b *Builder) *Contract {
	t.Helper()
	c, err := b.Build()
	if err != nil {
		t.Fatalf("build: %v", err)
	}
	return c
}

func TestRiskScoreTable(t *testing.T) {
	tests := []struct {
		name  string
		class Class
		stab  Stability
		band  ResourceBand
		want  int
	}{
		{"pure stable instant clamps at zero", ClassPure, StabilityStable, BandInstant, 0},
		{"read only stable fast", ClassReadOnly, StabilityStable, BandFast, 12},
		{"read write beta medium", ClassReadWrite, StabilityBeta, BandMedium, 43},
		{"network experimental slow", ClassNetwork, StabilityExperimental, BandSlow, 75},
		{"dangerous deprecated cold clamps at 100", ClassDangerous, StabilityDeprecated, BandCold, 100},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := mustContract(t, New().Class(tt.class).Stability(tt.stab).ResourceBand(tt.band))
			if got := RiskScore(c); got != tt.want {
				t.Errorf("expected %d, got %d", tt.want, got)
			}
			if got := c.RiskScore(); got != tt.want {
				t.Errorf("method: expected %d, got %d", tt.want, got)
			}
		})
	}
}

func TestRiskScoreInvalidContract(t *testing.T) {
	if got := RiskScore(nil); got != 100 {
		t.Fatalf("expected nil contract to score 100, got %d", got)
	}
	if got := RiskScore(&Contract{}); got != 100 {
		t.Fatalf("expected zero contract to score 100, got %d", got)
	}
}

func TestLowRiskAgentSafeScenario(t *testing.T) {
	c := mustContract(t, New().
		Class(ClassReadOnly).
		Stability(StabilityStable).
		ResourceBand(BandFast).
		AgentSafe(true))

	if !IsAgentSafe(c) {
		t.Fatalf("expected read-only stable fast contract to be agent-safe")
	}
	if c.RiskScore() >= LowRiskThreshold {
		t.Fatalf("expected risk below %d, got %d", LowRiskThreshold, c.RiskScore())
	}
}

func TestIsAgentSafe(t *testing.T) {
	tests := []struct {
		name string
		b    *Builder
		want bool
	}{
		{"declared safe", New().Class(ClassReadWrite).Stability(StabilityBeta).ResourceBand(BandMedium).AgentSafe(true), true},
		{"not declared", New().Class(ClassPure).Stability(StabilityStable).ResourceBand(BandInstant), false},
		{"experimental", New().Class(ClassPure).Stability(StabilityExperimental).ResourceBand(BandInstant).AgentSafe(true), false},
		{"deprecated", New().Class(ClassPure).Stability(StabilityDeprecated).ResourceBand(BandInstant).AgentSafe(true), false},
		{"cold band", New().Class(ClassNetwork).Stability(StabilityStable).ResourceBand(BandCold).AgentSafe(true), false},
		{"dangerous", New().Class(ClassDangerous).Stability(StabilityStable).ResourceBand(BandInstant), false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := IsAgentSafe(mustContract(t, tt.b)); got != tt.want {
				t.Errorf("expected %v, got %v", tt.want, got)
			}
		})
	}
	if IsAgentSafe(nil) {
		t.Errorf("expected nil contract to be unsafe")
	}
}

func TestDangerousAgentSafeRejected(t *testing.T) {
	_, err := New().
		ID("shell.exec").
		Class(ClassDangerous).
		Stability(StabilityStable).
		ResourceBand(BandFast).
		AgentSafe(true).
		Build()
	if !kerrors.Is(err, kerrors.CodeInvalidContract) {
		t.Fatalf("expected INVALID_CONTRACT, got %v", err)
	}
	ke := kerrors.AsKernelError(err)
	if ke.Context["class"] != "dangerous" || ke.Context["id"] != "shell.exec" {
		t.Fatalf("expected contract fields in context, got %v", ke.Context)
	}
}

func TestBuildRejects(t *testing.T) {
	base := func() *Builder {
		return New().ID("files.read").Class(ClassReadOnly).Stability(StabilityStable).ResourceBand(BandFast)
	}
	tests := []struct {
		name string
		b    *Builder
	}{
		{"missing class", New().Stability(StabilityStable).ResourceBand(BandFast)},
		{"missing stability", New().Class(ClassPure).ResourceBand(BandFast)},
		{"missing band", New().Class(ClassPure).Stability(StabilityStable)},
		{"out of range class", base().Class(Class(42))},
		{"self replacement", base().Replaces("files.read")},
		{"empty replacement", base().Replaces("  ")},
		{"empty metadata key", base().Meta("", 1)},
		{"unencodable metadata", base().Meta("ch", make(chan int))},
		{"invalid raw metadata", base().MetaRaw("raw", []byte("{nope"))},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c, err := tt.b.Build()
			if err == nil {
				t.Fatalf("expected error, got contract %v", c)
			}
			if !kerrors.Is(err, kerrors.CodeInvalidContract) {
				t.Fatalf("expected INVALID_CONTRACT, got %v", err)
			}
		})
	}
}

func TestValidate(t *testing.T) {
	if err := Validate(nil); !kerrors.Is(err, kerrors.CodeInvalidContract) {
		t.Fatalf("expected nil contract to be invalid, got %v", err)
	}
	if err := Validate(&Contract{}); !kerrors.Is(err, kerrors.CodeInvalidContract) {
		t.Fatalf("expected zero contract to be invalid, got %v", err)
	}
	c := mustContract(t, New().Class(ClassPure).Stability(StabilityBeta).ResourceBand(BandInstant))
	if err := Validate(c); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestIsStableEnoughFor(t *testing.T) {
	mk := func(id string, s Stability, replaces ...string) *Contract {
		return mustContract(t, New().ID(id).Class(ClassPure).Stability(s).ResourceBand(BandInstant).Replaces(replaces...))
	}
	exp := mk("a", StabilityExperimental)
	beta := mk("b", StabilityBeta)
	stable := mk("c", StabilityStable)
	dep := mk("old", StabilityDeprecated)
	dep2 := mk("older", StabilityDeprecated)
	depRevision := mustContract(t, New().ID("old").Class(ClassReadOnly).Stability(StabilityDeprecated).ResourceBand(BandSlow))
	anon := mk("", StabilityDeprecated)
	anonCopy := mk("", StabilityDeprecated)
	successor := mk("new", StabilityStable, "old")
	depSuccessor := mk("older", StabilityDeprecated, "old")

	tests := []struct {
		name string
		a, b *Contract
		want bool
	}{
		{"stable for beta", stable, beta, true},
		{"beta for stable", beta, stable, false},
		{"beta for experimental", beta, exp, true},
		{"experimental for beta", exp, beta, false},
		{"deprecated for stable", dep, stable, false},
		{"stable for deprecated", stable, dep, false},
		{"unrelated deprecated pair", dep, dep2, false},
		{"deprecated revision of the same capability", dep, depRevision, true},
		{"anonymous deprecated copy", anon, anonCopy, true},
		{"anonymous deprecated for named", anon, dep, false},
		{"deprecated successor", depSuccessor, dep, true},
		{"successor for deprecated", successor, dep, true},
		{"deprecated for successor", dep, successor, true},
		{"nil", nil, stable, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := IsStableEnoughFor(tt.a, tt.b); got != tt.want {
				t.Errorf("expected %v, got %v", tt.want, got)
			}
		})
	}
}

func TestCompatible(t *testing.T) {
	mk := func(class Class, s Stability) *Contract {
		return mustContract(t, New().Class(class).Stability(s).ResourceBand(BandFast))
	}
	tests := []struct {
		name       string
		prev, next *Contract
		want       bool
	}{
		{"identical", mk(ClassReadOnly, StabilityBeta), mk(ClassReadOnly, StabilityBeta), true},
		{"class narrowed", mk(ClassReadWrite, StabilityBeta), mk(ClassReadOnly, StabilityBeta), true},
		{"class widened", mk(ClassReadOnly, StabilityStable), mk(ClassReadWrite, StabilityStable), false},
		{"promoted", mk(ClassPure, StabilityExperimental), mk(ClassPure, StabilityStable), true},
		{"deprecated", mk(ClassPure, StabilityStable), mk(ClassPure, StabilityDeprecated), false},
		{"experimental regression", mk(ClassPure, StabilityBeta), mk(ClassPure, StabilityExperimental), false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Compatible(tt.prev, tt.next); got != tt.want {
				t.Errorf("expected %v, got %v", tt.want, got)
			}
		})
	}
}

func TestToBuilderDerivesIndependentContract(t *testing.T) {
	orig := mustContract(t, New().ID("x").Class(ClassPure).Stability(StabilityBeta).ResourceBand(BandFast).Meta("owner", "core"))
	derived := mustContract(t, orig.ToBuilder().Stability(StabilityStable).Meta("tier", 1))

	if orig.Stability() != StabilityBeta {
		t.Fatalf("expected original untouched, got %s", orig.Stability())
	}
	if orig.Metadata().Len() != 1 {
		t.Fatalf("expected original metadata untouched, got %v", orig.Metadata().Keys())
	}
	if got := derived.Metadata().Keys(); len(got) != 2 || got[0] != "owner" || got[1] != "tier" {
		t.Fatalf("unexpected derived keys %v", got)
	}
}

func TestReplacesReturnsCopy(t *testing.T) {
	c := mustContract(t, New().ID("new").Class(ClassPure).Stability(StabilityStable).ResourceBand(BandFast).Replaces("old"))
	r := c.Replaces()
	r[0] = "mutated"
	if c.Replaces()[0] != "old" {
		t.Fatalf("expected contract replaces to be immutable")
	}
}

func TestParseEnums(t *testing.T) {
	for _, in := range []string{"ReadOnly", "read-only", "read_only", " READONLY "} {
		got, err := ParseClass(in)
		if err != nil || got != ClassReadOnly {
			t.Errorf("ParseClass(%q) = %v, %v", in, got, err)
		}
	}
	if _, err := ParseStability("gamma"); err == nil {
		t.Errorf("expected unknown stability error")
	}
	if b, err := ParseResourceBand("Cold"); err != nil || b != BandCold {
		t.Errorf("ParseResourceBand(Cold) = %v, %v", b, err)
	}
	if got := Class(0).String(); got != "class(0)" {
		t.Errorf("unexpected invalid class name %q", got)
	}
}
