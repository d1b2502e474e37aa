// Copyright 2026 © The Kairos Authors
// SPDX-License-Identifier: Apache-2.0

package contract

import "slices"

// LowRiskThreshold is the risk score below which a contract counts as low
// risk. Every agent-safe Stable contract in the Instant or Fast band scores
// below it.
const LowRiskThreshold = 50

const (
	minRisk = 0
	maxRisk = 100
)

// RiskScore derives the 0..100 risk score of c from its class, stability and
// resource band. It is monotone in each axis. A nil or malformed contract
// scores maxRisk.
func RiskScore(c *Contract) int {
	if c == nil || !c.class.Valid() || !c.stability.Valid() || !c.band.Valid() {
		return maxRisk
	}
	score := classBase[c.class] + stabilityModifier[c.stability] + bandModifier[c.band]
	return min(max(score, minRisk), maxRisk)
}

// IsAgentSafe reports whether an autonomous agent may invoke the capability
// without a human in the loop. Dangerous contracts are never agent-safe;
// otherwise the declared flag must be set and both stability and band must
// be acceptable for unattended use.
func IsAgentSafe(c *Contract) bool {
	if c == nil || c.class == ClassDangerous || !c.agentSafe {
		return false
	}
	return agentSafeStability[c.stability] && agentSafeBand[c.band]
}

// IsStableEnoughFor reports whether a may stand in where b is expected, judged
// on stability alone. Among non-deprecated contracts a must be at least as
// mature as b (Experimental < Beta < Stable). A deprecated contract only
// stands in for itself (an equal contract, or a deprecated one with the same
// ID) and for contracts linked to it through Replaces.
func IsStableEnoughFor(a, b *Contract) bool {
	if a == nil || b == nil {
		return false
	}
	aDep := a.stability == StabilityDeprecated
	bDep := b.stability == StabilityDeprecated
	if !aDep && !bDep {
		return maturity[a.stability] >= maturity[b.stability]
	}
	if aDep && bDep && sameCapability(a, b) {
		return true
	}
	return replaces(a, b) || replaces(b, a)
}

func sameCapability(a, b *Contract) bool {
	return (a.id != "" && a.id == b.id) || a.Equal(b)
}

func replaces(a, b *Contract) bool {
	return b.id != "" && slices.Contains(a.replaces, b.id)
}

// Compatible reports whether next can replace prev without breaking callers:
// the class may not become riskier and stability may not regress
// (Deprecated < Experimental < Beta < Stable). The relation is reflexive and
// transitive.
func Compatible(prev, next *Contract) bool {
	if prev == nil || next == nil {
		return false
	}
	return next.class <= prev.class && maturity[next.stability] >= maturity[prev.stability]
}
