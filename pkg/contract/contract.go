// Copyright 2026 © The Kairos Authors
// SPDX-License-Identifier: Apache-2.0

// Package contract implements the capability contract engine: the declared
// safety envelope (class, stability, resource band, agent safety) attached to
// every capability, the risk score derived from it, and the stability and
// compatibility predicates used by session creation and version negotiation.
//
// Contracts are built once and never mutated:
//
//	c, err := contract.New().
//		ID("files.read").
//		Class(contract.ClassReadOnly).
//		Stability(contract.StabilityStable).
//		ResourceBand(contract.BandFast).
//		AgentSafe(true).
//		Build()
//
// Contradictory fields (for example a Dangerous class declared agent-safe)
// are rejected by Build with an INVALID_CONTRACT error; nothing is silently
// corrected.
package contract

import (
	"encoding/json"
	"fmt"
	"slices"
	"strings"

	kerrors "github.com/jllopis/capkernel/pkg/errors"
)

// Contract is an immutable capability safety envelope.
type Contract struct {
	id        string
	class     Class
	stability Stability
	band      ResourceBand
	agentSafe bool
	replaces  []string
	metadata  *Metadata
}

// ID returns the capability identifier the contract was declared for, if any.
func (c *Contract) ID() string { return c.id }

func (c *Contract) Class() Class { return c.class }

func (c *Contract) Stability() Stability { return c.stability }

func (c *Contract) ResourceBand() ResourceBand { return c.band }

// AgentSafe returns the declared agent-safety flag. Use IsAgentSafe for the
// effective decision.
func (c *Contract) AgentSafe() bool { return c.agentSafe }

// Replaces returns the capability identifiers this contract supersedes.
func (c *Contract) Replaces() []string { return slices.Clone(c.replaces) }

// Metadata returns the contract metadata. The returned value is read-only.
func (c *Contract) Metadata() *Metadata {
	if c.metadata == nil {
		return newMetadata()
	}
	return c.metadata
}

// RiskScore is shorthand for RiskScore(c).
func (c *Contract) RiskScore() int { return RiskScore(c) }

// IsAgentSafe is shorthand for IsAgentSafe(c).
func (c *Contract) IsAgentSafe() bool { return IsAgentSafe(c) }

// Equal reports whether two contracts carry identical fields, metadata included.
func (c *Contract) Equal(other *Contract) bool {
	if c == nil || other == nil {
		return c == other
	}
	if c.id != other.id || c.class != other.class || c.stability != other.stability ||
		c.band != other.band || c.agentSafe != other.agentSafe ||
		!slices.Equal(c.replaces, other.replaces) {
		return false
	}
	a, err := c.Metadata().MarshalJSON()
	if err != nil {
		return false
	}
	b, err := other.Metadata().MarshalJSON()
	if err != nil {
		return false
	}
	return string(a) == string(b)
}

func (c *Contract) String() string {
	id := c.id
	if id == "" {
		id = "<anonymous>"
	}
	return fmt.Sprintf("%s{class=%s stability=%s band=%s agent_safe=%t risk=%d}",
		id, c.class, c.stability, c.band, c.agentSafe, RiskScore(c))
}

// ToBuilder returns a Builder seeded with c's fields, for deriving a new
// contract. c itself is not affected.
func (c *Contract) ToBuilder() *Builder {
	b := &Builder{c: Contract{
		id:        c.id,
		class:     c.class,
		stability: c.stability,
		band:      c.band,
		agentSafe: c.agentSafe,
		replaces:  slices.Clone(c.replaces),
	}}
	b.c.metadata = c.Metadata().clone()
	return b
}

// Builder assembles a Contract. Builder methods never fail; problems are
// reported together by Build.
type Builder struct {
	c    Contract
	errs []string
}

// New starts a contract with no fields set.
func New() *Builder {
	return &Builder{c: Contract{metadata: newMetadata()}}
}

func (b *Builder) ID(id string) *Builder {
	b.c.id = strings.TrimSpace(id)
	return b
}

func (b *Builder) Class(class Class) *Builder {
	b.c.class = class
	return b
}

func (b *Builder) Stability(s Stability) *Builder {
	b.c.stability = s
	return b
}

func (b *Builder) ResourceBand(band ResourceBand) *Builder {
	b.c.band = band
	return b
}

func (b *Builder) AgentSafe(safe bool) *Builder {
	b.c.agentSafe = safe
	return b
}

// Replaces marks the capability identifiers this contract supersedes.
func (b *Builder) Replaces(ids ...string) *Builder {
	for _, id := range ids {
		id = strings.TrimSpace(id)
		if !slices.Contains(b.c.replaces, id) {
			b.c.replaces = append(b.c.replaces, id)
		}
	}
	return b
}

// Meta stores value under key, encoded as JSON. Re-using a key replaces the
// value and keeps its original position.
func (b *Builder) Meta(key string, value any) *Builder {
	raw, err := json.Marshal(value)
	if err != nil {
		b.errs = append(b.errs, fmt.Sprintf("metadata %q: %v", key, err))
		return b
	}
	return b.MetaRaw(key, raw)
}

// MetaRaw stores an already encoded JSON value under key.
func (b *Builder) MetaRaw(key string, raw json.RawMessage) *Builder {
	if !json.Valid(raw) {
		b.errs = append(b.errs, fmt.Sprintf("metadata %q: value is not valid JSON", key))
		return b
	}
	if b.c.metadata == nil {
		b.c.metadata = newMetadata()
	}
	b.c.metadata.set(key, raw)
	return b
}

func (b *Builder) withMetadata(md *Metadata) *Builder {
	if md != nil {
		b.c.metadata = md.clone()
	}
	return b
}

// Build validates the accumulated fields and returns the contract.
// The Builder may be reused; the returned contract shares no state with it.
func (b *Builder) Build() (*Contract, error) {
	out := b.c
	out.replaces = slices.Clone(b.c.replaces)
	if b.c.metadata == nil {
		out.metadata = newMetadata()
	} else {
		out.metadata = b.c.metadata.clone()
	}
	violations := append(slices.Clone(b.errs), violations(&out)...)
	if len(violations) > 0 {
		return nil, invalidContract(&out, violations)
	}
	return &out, nil
}

// MustBuild is Build that panics on error. Intended for static tables and tests.
func (b *Builder) MustBuild() *Contract {
	c, err := b.Build()
	if err != nil {
		panic(err)
	}
	return c
}

// Validate re-checks a contract's invariants. It guards against contracts
// that did not come from a Builder, such as a zero Contract{}.
func Validate(c *Contract) error {
	if c == nil {
		return kerrors.New(kerrors.CodeInvalidContract, "contract is nil", nil)
	}
	if v := violations(c); len(v) > 0 {
		return invalidContract(c, v)
	}
	return nil
}

func violations(c *Contract) []string {
	var out []string
	if !c.class.Valid() {
		out = append(out, fmt.Sprintf("unknown class %s", c.class))
	}
	if !c.stability.Valid() {
		out = append(out, fmt.Sprintf("unknown stability %s", c.stability))
	}
	if !c.band.Valid() {
		out = append(out, fmt.Sprintf("unknown resource band %s", c.band))
	}
	if c.class == ClassDangerous && c.agentSafe {
		out = append(out, "dangerous capabilities cannot be agent-safe")
	}
	for _, id := range c.replaces {
		if id == "" {
			out = append(out, "replaces contains an empty identifier")
		} else if id == c.id {
			out = append(out, "contract cannot replace itself")
		}
	}
	for _, key := range c.Metadata().Keys() {
		if strings.TrimSpace(key) == "" {
			out = append(out, "metadata keys must not be empty")
			break
		}
	}
	return out
}

func invalidContract(c *Contract, violations []string) *kerrors.KernelError {
	return kerrors.New(kerrors.CodeInvalidContract, strings.Join(violations, "; "), nil).
		WithContext("id", c.id).
		WithContext("class", c.class.String()).
		WithContext("stability", c.stability.String()).
		WithContext("resource_band", c.band.String()).
		WithContext("agent_safe", c.agentSafe).
		WithContext("violations", violations)
}
