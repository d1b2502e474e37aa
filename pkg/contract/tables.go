// Copyright 2026 © The Kairos Authors
// SPDX-License-Identifier: Apache-2.0

package contract

import "fmt"

// Every table below must carry one entry per enum member. init enforces it,
// so adding a member without extending each table fails at package load
// instead of falling through to a zero value.

var classBase = map[Class]int{
	ClassPure:      0,
	ClassReadOnly:  15,
	ClassReadWrite: 35,
	ClassNetwork:   50,
	ClassDangerous: 75,
}

// Risk order: Stable < Beta < Experimental < Deprecated.
var stabilityModifier = map[Stability]int{
	StabilityStable:       -5,
	StabilityBeta:         0,
	StabilityExperimental: 10,
	StabilityDeprecated:   15,
}

var bandModifier = map[ResourceBand]int{
	BandInstant: 0,
	BandFast:    2,
	BandMedium:  8,
	BandSlow:    15,
	BandCold:    25,
}

// maturity orders stability for compatibility: a lower value is a degradation.
var maturity = map[Stability]int{
	StabilityDeprecated:   0,
	StabilityExperimental: 1,
	StabilityBeta:         2,
	StabilityStable:       3,
}

var agentSafeStability = map[Stability]bool{
	StabilityExperimental: false,
	StabilityBeta:         true,
	StabilityStable:       true,
	StabilityDeprecated:   false,
}

var agentSafeBand = map[ResourceBand]bool{
	BandInstant: true,
	BandFast:    true,
	BandMedium:  true,
	BandSlow:    true,
	BandCold:    false,
}

func init() {
	mustCover("classBase", classBase, Classes())
	mustCover("classNames", classNames, Classes())
	mustCover("stabilityModifier", stabilityModifier, Stabilities())
	mustCover("maturity", maturity, Stabilities())
	mustCover("agentSafeStability", agentSafeStability, Stabilities())
	mustCover("stabilityNames", stabilityNames, Stabilities())
	mustCover("bandModifier", bandModifier, ResourceBands())
	mustCover("agentSafeBand", agentSafeBand, ResourceBands())
	mustCover("bandNames", bandNames, ResourceBands())
}

func mustCover[K comparable, V any](name string, table map[K]V, members []K) {
	for _, m := range members {
		if _, ok := table[m]; !ok {
			panic(fmt.Sprintf("contract: table %s has no entry for %v", name, m))
		}
	}
	if len(table) != len(members) {
		panic(fmt.Sprintf("contract: table %s has %d entries for %d members", name, len(table), len(members)))
	}
}
