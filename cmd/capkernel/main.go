// Copyright 2026 © The Kairos Authors
// SPDX-License-Identifier: Apache-2.0

// Command capkernel inspects capability contracts, computes grammar deltas,
// negotiates grammar versions and runs sessions from the command line.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"text/tabwriter"

	"github.com/jllopis/capkernel/pkg/config"
)

// version is set at build time with -ldflags "-X main.version=...".
var version = "dev"

type globalFlags struct {
	ConfigArgs []string
	ConfigPath string
	Profile    string
	JSON       bool
	Help       bool
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	global, args, err := parseGlobalFlags(os.Args[1:])
	if err != nil {
		fatal(err, false)
	}
	if global.Help || len(args) == 0 {
		printUsage(os.Stdout)
		return
	}

	cfg, err := config.LoadWithCLI(global.ConfigArgs)
	if err != nil {
		fatal(NewConfigError(err, global.ConfigPath), global.JSON)
	}
	if err := cfg.Validate(); err != nil {
		fatal(NewConfigError(err, global.ConfigPath), global.JSON)
	}

	if err := dispatch(ctx, global, cfg, args, os.Stdin, os.Stdout, os.Stderr); err != nil {
		fatal(err, global.JSON)
	}
}

func dispatch(ctx context.Context, global globalFlags, cfg *config.Config, args []string, stdin io.Reader, stdout, stderr io.Writer) error {
	switch args[0] {
	case "contract":
		return runContract(global, args[1:], stdout)
	case "delta":
		return runDelta(global, args[1:], stdout)
	case "negotiate":
		app, err := newApp(ctx, cfg, stderr)
		if err != nil {
			return err
		}
		defer app.Close()
		return runNegotiate(ctx, app, global, args[1:], stdout)
	case "run":
		app, err := newApp(ctx, cfg, stderr)
		if err != nil {
			return err
		}
		defer app.Close()
		return runSession(ctx, app, global, args[1:], stdin, stdout, stderr)
	case "audit":
		app, err := newApp(ctx, cfg, stderr)
		if err != nil {
			return err
		}
		defer app.Close()
		return runAudit(ctx, app, global, args[1:], stdout)
	case "help":
		printUsage(stdout)
		return nil
	case "version":
		fmt.Fprintln(stdout, version)
		return nil
	default:
		return NewInvalidArgumentError(args[0], fmt.Sprintf("unknown command %q", args[0]))
	}
}

func parseGlobalFlags(args []string) (globalFlags, []string, error) {
	var flags globalFlags
	for i := 0; i < len(args); i++ {
		arg := args[i]
		if arg == "--" {
			return flags, args[i+1:], nil
		}
		if !strings.HasPrefix(arg, "-") {
			return flags, args[i:], nil
		}
		name, value, hasValue := strings.Cut(arg, "=")
		switch name {
		case "-h", "--help":
			flags.Help = true
			return flags, nil, nil
		case "--json":
			flags.JSON = true
			continue
		case "--config", "--set", "--profile", "--env":
		default:
			return flags, nil, fmt.Errorf("unknown global flag %q", arg)
		}
		if !hasValue {
			if i+1 >= len(args) {
				return flags, nil, fmt.Errorf("missing value for %s", name)
			}
			i++
			value = args[i]
		}
		flags.ConfigArgs = append(flags.ConfigArgs, name, value)
		switch name {
		case "--config":
			flags.ConfigPath = value
		case "--profile", "--env":
			flags.Profile = value
		}
	}
	return flags, nil, nil
}

func printUsage(w io.Writer) {
	fmt.Fprintln(w, `capkernel - capability-aware session kernel

Usage:
  capkernel [global flags] <command> [args]

Global flags:
  --config <path>      Configuration file (YAML or JSON)
  --profile <name>     Overlay <config>.<name>.<ext>
  --set key=value      Override config (repeatable)
  --json               JSON output

Commands:
  contract <file> [<other>]           Validate a contract; with two files, compare them
  delta [--fail-on-breaking] <old> <new>
                                      Compute the delta between two grammar files
  negotiate [--mode M] [--grammar G] <requested> [available...]
                                      Negotiate a grammar version (catalog versions by default)
  run [--stream S] [--kind K] [--approve console|allow|deny] <contract>
                                      Run a session that emits stdin lines as frames
  audit [--session ID] [--type T] [--limit N]
                                      List audit events
  version`)
}

func printJSON(w io.Writer, value any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(value)
}

func newTabWriter(w io.Writer) *tabwriter.Writer {
	return tabwriter.NewWriter(w, 0, 8, 2, ' ', 0)
}

func writeRow(writer *tabwriter.Writer, cols ...string) {
	fmt.Fprintln(writer, strings.Join(cols, "\t"))
}

func fatal(err error, asJSON bool) {
	cliErr := AsCLIError(err)
	cliErr.PrintError(os.Stderr, asJSON)
	os.Exit(cliErr.ExitCode())
}
