// Copyright 2026 © The Kairos Authors
// SPDX-License-Identifier: Apache-2.0

package governance

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/jllopis/capkernel/pkg/config"
	"github.com/jllopis/capkernel/pkg/contract"
)

func TestReloadOnChangeSwapsPolicy(t *testing.T) {
	path := filepath.Join(t.TempDir(), "capkernel.yaml")
	write := func(content string, mod time.Time) {
		t.Helper()
		if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
			t.Fatalf("write config: %v", err)
		}
		if err := os.Chtimes(path, mod, mod); err != nil {
			t.Fatalf("chtimes: %v", err)
		}
	}
	write("governance: {}\n", time.Now().Add(-time.Minute))

	watcher, err := config.NewWatcher(path, config.WithWatchInterval(20*time.Millisecond))
	if err != nil {
		t.Fatalf("NewWatcher: %v", err)
	}
	initial, err := FromConfig(watcher.Config().Governance)
	if err != nil {
		t.Fatalf("FromConfig: %v", err)
	}
	policy := NewSwappablePolicy(initial)
	ReloadOnChange(watcher, policy, nil)

	reloaded := make(chan struct{}, 1)
	watcher.OnChange(func(*config.Config) {
		select {
		case reloaded <- struct{}{}:
		default:
		}
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	watcher.Start(ctx)
	defer watcher.Stop()

	probe := req(t, "http.get", contract.ClassNetwork, contract.StabilityStable)
	if d := policy.Evaluate(ctx, probe); !d.IsAllowed() {
		t.Fatalf("expected allow before reload, got %+v", d)
	}

	write(`
governance:
  policies:
    - id: no-network
      effect: deny
      class: network
`, time.Now())

	select {
	case <-reloaded:
	case <-time.After(2 * time.Second):
		t.Fatal("timeout waiting for reload")
	}
	d := policy.Evaluate(ctx, probe)
	if !d.IsDenied() || d.RuleID != "no-network" {
		t.Fatalf("expected no-network deny after reload, got %+v", d)
	}
}

func TestReloadOnChangeKeepsPolicyOnBadCEL(t *testing.T) {
	path := filepath.Join(t.TempDir(), "capkernel.yaml")
	if err := os.WriteFile(path, []byte("governance: {}\n"), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	old := time.Now().Add(-time.Minute)
	if err := os.Chtimes(path, old, old); err != nil {
		t.Fatalf("chtimes: %v", err)
	}
	watcher, err := config.NewWatcher(path, config.WithWatchInterval(20*time.Millisecond))
	if err != nil {
		t.Fatalf("NewWatcher: %v", err)
	}
	deny := PolicyFunc(func(context.Context, Request) Decision {
		return Decision{Status: DecisionStatusDeny, RuleID: "previous"}
	})
	policy := NewSwappablePolicy(deny)
	ReloadOnChange(watcher, policy, nil)

	// Listeners run in registration order, so this one fires after the
	// policy rebuild was attempted.
	reloaded := make(chan struct{}, 1)
	watcher.OnChange(func(*config.Config) {
		select {
		case reloaded <- struct{}{}:
		default:
		}
	})
	watcher.Start(context.Background())
	defer watcher.Stop()

	content := "governance:\n  cel:\n    - id: broken\n      effect: deny\n      expr: \"contract.(\"\n"
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	select {
	case <-reloaded:
	case <-time.After(2 * time.Second):
		t.Fatal("timeout waiting for reload")
	}

	probe := req(t, "files.read", contract.ClassReadOnly, contract.StabilityStable)
	if d := policy.Evaluate(context.Background(), probe); d.RuleID != "previous" {
		t.Fatalf("expected previous policy to stay installed, got %+v", d)
	}
}
