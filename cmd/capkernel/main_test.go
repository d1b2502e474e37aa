// Copyright 2026 © The Kairos Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"bytes"
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/jllopis/capkernel/pkg/config"
	"github.com/jllopis/capkernel/pkg/errors"
	"github.com/jllopis/capkernel/pkg/session"
)

const readContractYAML = `
id: file.read
class: read_only
stability: stable
resource_band: fast
agent_safe: true
`

const fetchContractYAML = `
id: http.fetch
class: network
stability: beta
resource_band: medium
`

const grammarV1 = `
name: files
version: 1.0.0
nouns:
  file:
    verbs:
      read:
        contract: {class: read_only, stability: stable, resource_band: fast}
      stat:
        contract: {class: pure, stability: stable, resource_band: instant}
`

const grammarV2 = `
name: files
version: 2.0.0
nouns:
  file:
    verbs:
      read:
        contract: {class: network, stability: stable, resource_band: fast}
      write:
        contract: {class: read_write, stability: beta, resource_band: medium}
`

func writeTemp(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	cfg, err := config.Load("")
	require.NoError(t, err)
	cfg.Telemetry.Exporter = "none"
	cfg.Log.Level = "error"
	return cfg
}

type result struct {
	stdout, stderr bytes.Buffer
}

func run(t *testing.T, cfg *config.Config, global globalFlags, stdin string, args ...string) (*result, error) {
	t.Helper()
	var r result
	err := dispatch(context.Background(), global, cfg, args, strings.NewReader(stdin), &r.stdout, &r.stderr)
	return &r, err
}

func TestParseGlobalFlags(t *testing.T) {
	tests := []struct {
		name       string
		args       []string
		wantArgs   []string
		wantConfig []string
		wantPath   string
		wantJSON   bool
	}{
		{
			name:     "command only",
			args:     []string{"contract", "c.yaml"},
			wantArgs: []string{"contract", "c.yaml"},
		},
		{
			name:       "config and json",
			args:       []string{"--config", "cfg.yaml", "--json", "delta", "a", "b"},
			wantArgs:   []string{"delta", "a", "b"},
			wantConfig: []string{"--config", "cfg.yaml"},
			wantPath:   "cfg.yaml",
			wantJSON:   true,
		},
		{
			name:       "inline values",
			args:       []string{"--set=log.level=debug", "--profile=dev", "version"},
			wantArgs:   []string{"version"},
			wantConfig: []string{"--set", "log.level=debug", "--profile", "dev"},
		},
		{
			name:     "double dash",
			args:     []string{"--", "--json"},
			wantArgs: []string{"--json"},
		},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			flags, args, err := parseGlobalFlags(tc.args)
			require.NoError(t, err)
			require.Equal(t, tc.wantArgs, args)
			require.Equal(t, tc.wantConfig, flags.ConfigArgs)
			require.Equal(t, tc.wantPath, flags.ConfigPath)
			require.Equal(t, tc.wantJSON, flags.JSON)
		})
	}

	_, _, err := parseGlobalFlags([]string{"--config"})
	require.Error(t, err)
	_, _, err = parseGlobalFlags([]string{"--verbose", "version"})
	require.Error(t, err)

	flags, _, err := parseGlobalFlags([]string{"-h"})
	require.NoError(t, err)
	require.True(t, flags.Help)
}

func TestDispatchVersionAndUnknown(t *testing.T) {
	cfg := testConfig(t)
	r, err := run(t, cfg, globalFlags{}, "", "version")
	require.NoError(t, err)
	require.Equal(t, version+"\n", r.stdout.String())

	_, err = run(t, cfg, globalFlags{}, "", "frobnicate")
	require.Error(t, err)
	cliErr := AsCLIError(err)
	require.Equal(t, errors.CodeInvalidInput, cliErr.Code)
	require.Equal(t, 2, cliErr.ExitCode())
}

func TestSubcommandFlags(t *testing.T) {
	cfg := testConfig(t)

	tests := []struct {
		name string
		args []string
	}{
		{"unknown delta flag", []string{"delta", "--bogus", "a.yaml", "b.yaml"}},
		{"missing mode value", []string{"negotiate", "--mode"}},
		{"bad since duration", []string{"audit", "--since", "yesterday"}},
		{"bad limit", []string{"audit", "--limit", "many"}},
		{"negative limit", []string{"audit", "--limit", "-1"}},
		{"unknown contract flag", []string{"contract", "--risk", "x.yaml"}},
		{"empty stream", []string{"run", "--stream", "", "x.yaml"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := run(t, cfg, globalFlags{}, "", tt.args...)
			require.Error(t, err)
			cliErr := AsCLIError(err)
			require.Equal(t, errors.CodeInvalidInput, cliErr.Code, "got %v", err)
			require.Equal(t, 2, cliErr.ExitCode())
		})
	}

	r, err := run(t, cfg, globalFlags{}, "", "delta", "-h")
	require.NoError(t, err)
	require.Contains(t, r.stdout.String(), "fail-on-breaking")
}

func TestContractCommand(t *testing.T) {
	dir := t.TempDir()
	read := writeTemp(t, dir, "read.yaml", readContractYAML)
	fetch := writeTemp(t, dir, "fetch.yaml", fetchContractYAML)
	cfg := testConfig(t)

	r, err := run(t, cfg, globalFlags{JSON: true}, "", "contract", read)
	require.NoError(t, err)
	var report contractReport
	require.NoError(t, json.Unmarshal(r.stdout.Bytes(), &report))
	require.Equal(t, "file.read", report.ID)
	require.Equal(t, "read_only", report.Class)
	require.True(t, report.AgentSafe)
	require.True(t, report.LowRisk)

	r, err = run(t, cfg, globalFlags{JSON: true}, "", "contract", read, fetch)
	require.NoError(t, err)
	var cmp comparisonReport
	require.NoError(t, json.Unmarshal(r.stdout.Bytes(), &cmp))
	require.True(t, cmp.StableEnoughFor)
	require.False(t, cmp.Compatible, "read_only -> network raises the class")
	require.True(t, cmp.CompatibleReverse, "network/beta -> read_only/stable lowers the class and matures")

	r, err = run(t, cfg, globalFlags{}, "", "contract", read)
	require.NoError(t, err)
	require.Contains(t, r.stdout.String(), "RISK_SCORE")

	bad := writeTemp(t, dir, "bad.yaml", "class: dangerous\nstability: stable\nresource_band: fast\nagent_safe: true\n")
	_, err = run(t, cfg, globalFlags{}, "", "contract", bad)
	require.True(t, errors.Is(err, errors.CodeInvalidContract), "got %v", err)

	_, err = run(t, cfg, globalFlags{}, "", "contract")
	require.True(t, errors.Is(err, errors.CodeInvalidInput))
}

func TestDeltaCommand(t *testing.T) {
	dir := t.TempDir()
	v1 := writeTemp(t, dir, "v1.yaml", grammarV1)
	v2 := writeTemp(t, dir, "v2.yaml", grammarV2)
	cfg := testConfig(t)

	r, err := run(t, cfg, globalFlags{}, "", "delta", v1, v2)
	require.NoError(t, err)
	out := r.stdout.String()
	require.Contains(t, out, "1.0.0 -> 2.0.0: 1 added, 1 removed, 1 changed (breaking)")
	require.Contains(t, out, "file.write")
	require.Contains(t, out, "read_only/stable")

	r, err = run(t, cfg, globalFlags{JSON: true}, "", "delta", v1, v2)
	require.NoError(t, err)
	var delta map[string]any
	require.NoError(t, json.Unmarshal(r.stdout.Bytes(), &delta))
	require.Equal(t, true, delta["breaking"])
	require.Equal(t, []any{"file.write"}, delta["added"])

	_, err = run(t, cfg, globalFlags{}, "", "delta", "--fail-on-breaking", v1, v2)
	cliErr := AsCLIError(err)
	require.Equal(t, errors.CodeIncompatibleGrammar, cliErr.Code)
	require.Equal(t, 3, cliErr.ExitCode())

	_, err = run(t, cfg, globalFlags{}, "", "delta", "--fail-on-breaking", v1, v1)
	require.NoError(t, err)
}

func TestNegotiateCommand(t *testing.T) {
	dir := t.TempDir()
	writeTemp(t, dir, "files-1.yaml", grammarV1)
	writeTemp(t, dir, "files-2.yaml", grammarV2)
	cfg := testConfig(t)
	cfg.Catalog.Dir = dir
	cfg.Negotiation.Grammar = "files"

	_, err := run(t, cfg, globalFlags{}, "", "negotiate", "1.0.0")
	require.True(t, errors.Is(err, errors.CodeIncompatibleGrammar), "got %v", err)

	r, err := run(t, cfg, globalFlags{}, "", "negotiate", "--mode", "lenient", "1.0.0")
	require.NoError(t, err)
	require.Contains(t, r.stdout.String(), "degraded files: requested 1.0.0, selected 2.0.0")
	require.Contains(t, r.stdout.String(), "removed file.stat")

	r, err = run(t, cfg, globalFlags{JSON: true}, "", "negotiate", "2.0.0", "1.0.0", "2.0.0")
	require.NoError(t, err)
	var res map[string]any
	require.NoError(t, json.Unmarshal(r.stdout.Bytes(), &res))
	require.Equal(t, "2.0.0", res["selected"])

	_, err = run(t, cfg, globalFlags{}, "", "negotiate", "3.0.0", "1.0.0", "2.0.0")
	cliErr := AsCLIError(err)
	require.Equal(t, errors.CodeUnknownVersion, cliErr.Code)
	require.Equal(t, 4, cliErr.ExitCode())
}

func TestRunAndAuditCommands(t *testing.T) {
	dir := t.TempDir()
	read := writeTemp(t, dir, "read.yaml", readContractYAML)
	cfg := testConfig(t)
	cfg.Audit.SQLitePath = filepath.Join(dir, "audit.db")

	r, err := run(t, cfg, globalFlags{}, "alpha\nbeta\n", "run", "--approve", "allow", read)
	require.NoError(t, err)

	dec := json.NewDecoder(&r.stdout)
	var frames []session.Frame
	for dec.More() {
		var f session.Frame
		require.NoError(t, dec.Decode(&f))
		frames = append(frames, f)
	}
	require.Len(t, frames, 3)
	require.Equal(t, "alpha", string(frames[0].Payload))
	require.Equal(t, uint64(1), frames[0].Sequence)
	require.Equal(t, uint64(2), frames[1].Sequence)
	require.Equal(t, session.KindControl, frames[2].Kind)
	require.Equal(t, "eof", string(frames[2].Payload))
	require.Contains(t, r.stderr.String(), "3 frames")

	r, err = run(t, cfg, globalFlags{JSON: true}, "", "audit", "--session", frames[0].SessionID)
	require.NoError(t, err)
	var events []auditView
	require.NoError(t, json.Unmarshal(r.stdout.Bytes(), &events))
	require.Len(t, events, 2)
	require.Equal(t, "session.created", events[0].Type)
	require.Equal(t, "session.released", events[1].Type)
	require.Equal(t, "file.read", events[0].Capability)
}

func TestRunRequiresApproval(t *testing.T) {
	dir := t.TempDir()
	fetch := writeTemp(t, dir, "fetch.yaml", fetchContractYAML)
	cfg := testConfig(t)
	cfg.Governance.Policies = []config.PolicyRuleConfig{{
		ID: "review-network", Effect: "require_approval", Class: "network", Reason: "network access needs review",
	}}

	r, err := run(t, cfg, globalFlags{}, "", "run", fetch)
	cliErr := AsCLIError(err)
	require.Equal(t, errors.CodeApprovalRequired, cliErr.Code)
	require.Equal(t, 5, cliErr.ExitCode())
	require.Empty(t, r.stdout.String())

	r, err = run(t, cfg, globalFlags{}, "y\npayload\n", "run", "--approve", "console", fetch)
	require.NoError(t, err)
	require.Contains(t, r.stdout.String(), `"payload":"cGF5bG9hZA=="`)
	require.Contains(t, r.stderr.String(), "Approve?")

	cfg.Governance.Denylist = []string{"http.*"}
	_, err = run(t, cfg, globalFlags{}, "", "run", "--approve", "allow", fetch)
	require.True(t, errors.Is(err, errors.CodePolicyDenied), "got %v", err)
}

func TestCLIErrorOutput(t *testing.T) {
	err := errors.New(errors.CodeUnknownVersion, "version 9.9.9 of files is not available", nil).
		WithContext("requested", "9.9.9")
	cliErr := AsCLIError(err)
	require.NotEmpty(t, cliErr.Hint)

	var text bytes.Buffer
	cliErr.PrintError(&text, false)
	require.Contains(t, text.String(), "Error [UNKNOWN_VERSION]")
	require.Contains(t, text.String(), "Hint:")

	var out bytes.Buffer
	cliErr.PrintError(&out, true)
	var payload struct {
		Error struct {
			Code    string         `json:"code"`
			Context map[string]any `json:"context"`
		} `json:"error"`
	}
	require.NoError(t, json.Unmarshal(out.Bytes(), &payload))
	require.Equal(t, "UNKNOWN_VERSION", payload.Error.Code)
	require.Equal(t, "9.9.9", payload.Error.Context["requested"])

	require.Equal(t, 1, AsCLIError(os.ErrClosed).ExitCode())
}
