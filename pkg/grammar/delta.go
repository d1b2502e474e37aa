// Copyright 2026 © The Kairos Authors
// SPDX-License-Identifier: Apache-2.0

package grammar

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/gowebpki/jcs"

	"github.com/jllopis/capkernel/pkg/contract"
)

// CapabilityChange describes a verb present in both grammars whose class or
// stability differs.
type CapabilityChange struct {
	Path         string             `json:"path"`
	OldClass     contract.Class     `json:"old_class"`
	NewClass     contract.Class     `json:"new_class"`
	OldStability contract.Stability `json:"old_stability"`
	NewStability contract.Stability `json:"new_stability"`
	// Breaking is set when the new contract raises the class or lowers the
	// stability of the old one.
	Breaking bool `json:"breaking"`
}

// Delta is the structured difference between two grammars. All lists are
// sorted by path.
type Delta struct {
	Added             []string           `json:"added"`
	Removed           []string           `json:"removed"`
	CapabilityChanges []CapabilityChange `json:"capability_changes"`
	Breaking          bool               `json:"breaking"`
}

// ComputeDelta compares prev against next. Paths only in next are
// additions, paths only in prev are removals. Any removal or breaking change makes the
// delta breaking; additions never do. A nil grammar is treated as empty.
// Both grammars are expected to be validated.
func ComputeDelta(prev, next *Grammar) Delta {
	d := Delta{
		Added:             []string{},
		Removed:           []string{},
		CapabilityChanges: []CapabilityChange{},
	}
	oldPaths, newPaths := prev.Paths(), next.Paths()

	// Both path lists are sorted; walk them together.
	i, j := 0, 0
	for i < len(oldPaths) || j < len(newPaths) {
		switch {
		case j == len(newPaths) || (i < len(oldPaths) && oldPaths[i] < newPaths[j]):
			d.Removed = append(d.Removed, oldPaths[i])
			i++
		case i == len(oldPaths) || newPaths[j] < oldPaths[i]:
			d.Added = append(d.Added, newPaths[j])
			j++
		default:
			path := oldPaths[i]
			if change, ok := compareVerb(path, prev, next); ok {
				d.CapabilityChanges = append(d.CapabilityChanges, change)
			}
			i++
			j++
		}
	}

	d.Breaking = len(d.Removed) > 0
	for _, c := range d.CapabilityChanges {
		if c.Breaking {
			d.Breaking = true
			break
		}
	}
	return d
}

func compareVerb(path string, prev, next *Grammar) (CapabilityChange, bool) {
	ov, ok1 := prev.Lookup(path)
	nv, ok2 := next.Lookup(path)
	if !ok1 || !ok2 || ov.Contract == nil || nv.Contract == nil {
		return CapabilityChange{}, false
	}
	oc, nc := ov.Contract, nv.Contract
	if oc.Class() == nc.Class() && oc.Stability() == nc.Stability() {
		return CapabilityChange{}, false
	}
	return CapabilityChange{
		Path:         path,
		OldClass:     oc.Class(),
		NewClass:     nc.Class(),
		OldStability: oc.Stability(),
		NewStability: nc.Stability(),
		Breaking:     !contract.Compatible(oc, nc),
	}, true
}

// IsEmpty reports whether the grammars compared equal on every path, class
// and stability.
func (d Delta) IsEmpty() bool {
	return len(d.Added) == 0 && len(d.Removed) == 0 && len(d.CapabilityChanges) == 0
}

// BreakingChanges returns the capability changes that are breaking.
func (d Delta) BreakingChanges() []CapabilityChange {
	var out []CapabilityChange
	for _, c := range d.CapabilityChanges {
		if c.Breaking {
			out = append(out, c)
		}
	}
	return out
}

// Canonical returns the RFC 8785 canonical JSON encoding of the delta.
func (d Delta) Canonical() ([]byte, error) {
	data, err := json.Marshal(d)
	if err != nil {
		return nil, err
	}
	return jcs.Transform(data)
}

// Summary renders a one-line human description.
func (d Delta) Summary() string {
	if d.IsEmpty() {
		return "no changes"
	}
	var parts []string
	if n := len(d.Added); n > 0 {
		parts = append(parts, fmt.Sprintf("%d added", n))
	}
	if n := len(d.Removed); n > 0 {
		parts = append(parts, fmt.Sprintf("%d removed", n))
	}
	if n := len(d.CapabilityChanges); n > 0 {
		parts = append(parts, fmt.Sprintf("%d changed", n))
	}
	s := strings.Join(parts, ", ")
	if d.Breaking {
		s += " (breaking)"
	}
	return s
}
