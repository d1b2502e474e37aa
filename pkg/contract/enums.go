// Copyright 2026 © The Kairos Authors
// SPDX-License-Identifier: Apache-2.0

package contract

import (
	"fmt"
	"strings"
)

// Class is the effect class of a capability, ordered by risk.
// The zero value is invalid so an unset class is always rejected.
type Class int

const (
	ClassPure Class = iota + 1
	ClassReadOnly
	ClassReadWrite
	ClassNetwork
	ClassDangerous
	classEnd
)

// Stability is the lifecycle stage of a capability.
type Stability int

const (
	StabilityExperimental Stability = iota + 1
	StabilityBeta
	StabilityStable
	StabilityDeprecated
	stabilityEnd
)

// ResourceBand is the expected runtime/memory cost of a capability, strictly
// ordered from cheapest to most expensive.
type ResourceBand int

const (
	BandInstant ResourceBand = iota + 1
	BandFast
	BandMedium
	BandSlow
	BandCold
	bandEnd
)

var classNames = map[Class]string{
	ClassPure:      "pure",
	ClassReadOnly:  "read_only",
	ClassReadWrite: "read_write",
	ClassNetwork:   "network",
	ClassDangerous: "dangerous",
}

var stabilityNames = map[Stability]string{
	StabilityExperimental: "experimental",
	StabilityBeta:         "beta",
	StabilityStable:       "stable",
	StabilityDeprecated:   "deprecated",
}

var bandNames = map[ResourceBand]string{
	BandInstant: "instant",
	BandFast:    "fast",
	BandMedium:  "medium",
	BandSlow:    "slow",
	BandCold:    "cold",
}

// Classes returns every class in ascending risk order.
func Classes() []Class {
	out := make([]Class, 0, int(classEnd)-1)
	for c := ClassPure; c < classEnd; c++ {
		out = append(out, c)
	}
	return out
}

// Stabilities returns every stability value in declaration order.
func Stabilities() []Stability {
	out := make([]Stability, 0, int(stabilityEnd)-1)
	for s := StabilityExperimental; s < stabilityEnd; s++ {
		out = append(out, s)
	}
	return out
}

// ResourceBands returns every band in ascending cost order.
func ResourceBands() []ResourceBand {
	out := make([]ResourceBand, 0, int(bandEnd)-1)
	for b := BandInstant; b < bandEnd; b++ {
		out = append(out, b)
	}
	return out
}

// Valid reports whether c is a declared class.
func (c Class) Valid() bool { return c >= ClassPure && c < classEnd }

// Valid reports whether s is a declared stability.
func (s Stability) Valid() bool { return s >= StabilityExperimental && s < stabilityEnd }

// Valid reports whether b is a declared band.
func (b ResourceBand) Valid() bool { return b >= BandInstant && b < bandEnd }

func (c Class) String() string {
	if name, ok := classNames[c]; ok {
		return name
	}
	return fmt.Sprintf("class(%d)", int(c))
}

func (s Stability) String() string {
	if name, ok := stabilityNames[s]; ok {
		return name
	}
	return fmt.Sprintf("stability(%d)", int(s))
}

func (b ResourceBand) String() string {
	if name, ok := bandNames[b]; ok {
		return name
	}
	return fmt.Sprintf("band(%d)", int(b))
}

// ParseClass parses a class name. Matching ignores case, '-' and '_',
// so "ReadOnly", "read-only" and "read_only" are equivalent.
func ParseClass(s string) (Class, error) {
	if v, ok := parseName(s, classNames); ok {
		return v, nil
	}
	return 0, fmt.Errorf("unknown capability class %q", s)
}

// ParseStability parses a stability name.
func ParseStability(s string) (Stability, error) {
	if v, ok := parseName(s, stabilityNames); ok {
		return v, nil
	}
	return 0, fmt.Errorf("unknown stability %q", s)
}

// ParseResourceBand parses a resource band name.
func ParseResourceBand(s string) (ResourceBand, error) {
	if v, ok := parseName(s, bandNames); ok {
		return v, nil
	}
	return 0, fmt.Errorf("unknown resource band %q", s)
}

func (c Class) MarshalText() ([]byte, error) {
	if !c.Valid() {
		return nil, fmt.Errorf("cannot encode invalid class %d", int(c))
	}
	return []byte(c.String()), nil
}

func (c *Class) UnmarshalText(text []byte) error {
	v, err := ParseClass(string(text))
	if err != nil {
		return err
	}
	*c = v
	return nil
}

func (s Stability) MarshalText() ([]byte, error) {
	if !s.Valid() {
		return nil, fmt.Errorf("cannot encode invalid stability %d", int(s))
	}
	return []byte(s.String()), nil
}

func (s *Stability) UnmarshalText(text []byte) error {
	v, err := ParseStability(string(text))
	if err != nil {
		return err
	}
	*s = v
	return nil
}

func (b ResourceBand) MarshalText() ([]byte, error) {
	if !b.Valid() {
		return nil, fmt.Errorf("cannot encode invalid resource band %d", int(b))
	}
	return []byte(b.String()), nil
}

func (b *ResourceBand) UnmarshalText(text []byte) error {
	v, err := ParseResourceBand(string(text))
	if err != nil {
		return err
	}
	*b = v
	return nil
}

func parseName[E comparable](s string, names map[E]string) (E, bool) {
	want := normalizeName(s)
	for v, name := range names {
		if normalizeName(name) == want {
			return v, true
		}
	}
	var zero E
	return zero, false
}

func normalizeName(s string) string {
	s = strings.ToLower(strings.TrimSpace(s))
	s = strings.ReplaceAll(s, "_", "")
	return strings.ReplaceAll(s, "-", "")
}
