// Copyright 2026 © The Kairos Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"fmt"
	"io"
	"strconv"

	"github.com/jllopis/capkernel/pkg/errors"
	"github.com/jllopis/capkernel/pkg/grammar"
)

func runDelta(global globalFlags, args []string, stdout io.Writer) error {
	fs := newFlagSet("delta")
	failOnBreaking := fs.Bool("fail-on-breaking", false, "Exit with INCOMPATIBLE_GRAMMAR when the delta is breaking")
	if done, err := parseFlags(fs, args, stdout); done || err != nil {
		return err
	}
	files := fs.Args()
	if len(files) != 2 {
		return NewInvalidArgumentError("delta", "usage: capkernel delta [--fail-on-breaking] <old> <new>")
	}

	prev, err := grammar.LoadGrammar(files[0])
	if err != nil {
		return err
	}
	next, err := grammar.LoadGrammar(files[1])
	if err != nil {
		return err
	}
	delta := grammar.ComputeDelta(prev, next)

	if global.JSON {
		data, err := delta.Canonical()
		if err != nil {
			return errors.New(errors.CodeInternal, "encode delta", err)
		}
		fmt.Fprintln(stdout, string(data))
	} else {
		printDelta(stdout, prev.Version, next.Version, delta)
	}

	if *failOnBreaking && delta.Breaking {
		return errors.Newf(errors.CodeIncompatibleGrammar, "grammar %s %s -> %s has breaking changes",
			next.Name, prev.Version, next.Version).
			WithContext("delta", delta)
	}
	return nil
}

func printDelta(stdout io.Writer, from, to string, d grammar.Delta) {
	fmt.Fprintf(stdout, "%s -> %s: %s\n", from, to, d.Summary())
	if d.IsEmpty() {
		return
	}
	w := newTabWriter(stdout)
	writeRow(w, "CHANGE", "CAPABILITY", "FROM", "TO", "BREAKING")
	for _, p := range d.Added {
		writeRow(w, "added", p, "-", "-", "false")
	}
	for _, p := range d.Removed {
		writeRow(w, "removed", p, "-", "-", "true")
	}
	for _, c := range d.CapabilityChanges {
		writeRow(w, "changed", c.Path,
			c.OldClass.String()+"/"+c.OldStability.String(),
			c.NewClass.String()+"/"+c.NewStability.String(),
			strconv.FormatBool(c.Breaking))
	}
	_ = w.Flush()
}
