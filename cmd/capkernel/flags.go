// Copyright 2026 © The Kairos Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"errors"
	"flag"
	"fmt"
	"io"
)

// newFlagSet returns a subcommand flag set that hands parse errors back to
// the caller so they print through CLIError.
func newFlagSet(name string) *flag.FlagSet {
	fs := flag.NewFlagSet(name, flag.ContinueOnError)
	fs.SetOutput(io.Discard)
	return fs
}

// parseFlags parses args into fs. On -h or --help it prints the defaults to
// w and reports done.
func parseFlags(fs *flag.FlagSet, args []string, w io.Writer) (done bool, err error) {
	err = fs.Parse(args)
	if errors.Is(err, flag.ErrHelp) {
		fmt.Fprintf(w, "Usage of %s:\n", fs.Name())
		fs.SetOutput(w)
		fs.PrintDefaults()
		return true, nil
	}
	if err != nil {
		return false, NewInvalidArgumentError(fs.Name(), err.Error())
	}
	return false, nil
}
