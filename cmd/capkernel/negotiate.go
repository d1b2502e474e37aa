// Copyright 2026 © The Kairos Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/jllopis/capkernel/pkg/negotiate"
)

func runNegotiate(ctx context.Context, a *app, global globalFlags, args []string, stdout io.Writer) error {
	fs := newFlagSet("negotiate")
	modeName := fs.String("mode", a.cfg.Negotiation.Mode, "Negotiation mode: strict, lenient")
	name := fs.String("grammar", a.cfg.Negotiation.Grammar, "Grammar name in the catalog")
	if done, err := parseFlags(fs, args, stdout); done || err != nil {
		return err
	}
	positional := fs.Args()
	if len(positional) == 0 {
		return NewInvalidArgumentError("negotiate", "usage: capkernel negotiate [--mode M] [--grammar G] <requested> [available...]")
	}

	mode, err := negotiate.ParseMode(*modeName)
	if err != nil {
		return err
	}

	n := negotiate.New(a.catalog, *name,
		negotiate.WithLogger(a.logger),
		negotiate.WithMetrics(a.metrics),
		negotiate.WithAuditStore(a.audit),
	)

	var result *negotiate.Result
	requested, available := positional[0], positional[1:]
	if len(available) == 0 {
		result, err = n.NegotiateCatalog(ctx, requested, mode)
	} else {
		result, err = n.Negotiate(ctx, requested, available, mode)
	}
	if err != nil {
		return err
	}

	if global.JSON {
		return printJSON(stdout, result)
	}
	status := "accepted"
	if result.Degraded() {
		status = "degraded"
	}
	fmt.Fprintf(stdout, "%s %s: requested %s, selected %s (%s)\n",
		status, result.Grammar, result.Requested, result.Selected, result.Mode)
	fmt.Fprintf(stdout, "delta: %s\n", result.Delta.Summary())
	if len(result.Warnings) > 0 {
		fmt.Fprintf(stdout, "warnings:\n  %s\n", strings.Join(result.Warnings, "\n  "))
	}
	return nil
}
