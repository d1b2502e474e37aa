// Copyright 2026 © The Kairos Authors
// SPDX-License-Identifier: Apache-2.0

package session

import (
	"bytes"
	"context"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/require"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"

	"github.com/jllopis/capkernel/pkg/audit"
	"github.com/jllopis/capkernel/pkg/contract"
	kerrors "github.com/jllopis/capkernel/pkg/errors"
	"github.com/jllopis/capkernel/pkg/governance"
	"github.com/jllopis/capkernel/pkg/telemetry"
)

func readOnly(id string) *contract.Contract {
	return contract.New().
		ID(id).
		Class(contract.ClassReadOnly).
		Stability(contract.StabilityStable).
		ResourceBand(contract.BandFast).
		AgentSafe(true).
		MustBuild()
}

func network(id string) *contract.Contract {
	return contract.New().
		ID(id).
		Class(contract.ClassNetwork).
		Stability(contract.StabilityBeta).
		ResourceBand(contract.BandMedium).
		MustBuild()
}

func TestCreateSession(t *testing.T) {
	store := audit.NewMemoryStore()
	k := New(WithAuditStore(store))

	s, err := k.CreateSession(context.Background(), readOnly("files.read"))
	require.NoError(t, err)
	require.NotEmpty(t, s.ID())
	require.Equal(t, StateActive, s.State())
	require.Equal(t, Metrics{}, s.Metrics())
	require.Equal(t, "files.read", s.Contract().ID())

	streams := s.Streams()
	require.Len(t, streams, len(WellKnownStreams()))
	for i, id := range WellKnownStreams() {
		require.Equal(t, StreamInfo{ID: id}, streams[i])
	}

	got, err := k.Lookup(s.ID())
	require.NoError(t, err)
	require.Same(t, s, got)
	require.Equal(t, 1, k.Len())

	events, err := store.List(context.Background(), audit.Filter{SessionID: s.ID()})
	require.NoError(t, err)
	require.Len(t, events, 1)
	require.Equal(t, audit.EventSessionCreated, events[0].Type)
	require.Equal(t, "read_only", events[0].Class)
}

func TestSessionLogsCarryIdentity(t *testing.T) {
	var buf bytes.Buffer
	k := New(WithLogger(telemetry.NewLogger(&buf, "info", "json")))

	s, err := k.CreateSession(context.Background(), readOnly("files.read"))
	require.NoError(t, err)
	s.Cancel()

	dec := json.NewDecoder(&buf)
	var msgs []string
	for dec.More() {
		var rec map[string]any
		require.NoError(t, dec.Decode(&rec))
		msgs = append(msgs, rec["msg"].(string))
		require.Equal(t, s.ID(), rec["session_id"], "record %v", rec)
		require.Equal(t, "files.read", rec["capability"], "record %v", rec)
	}
	require.Equal(t, []string{"session.create", "session.cancel"}, msgs)
}

func TestCreateSessionUniqueIDs(t *testing.T) {
	k := New()
	seen := make(map[string]bool)
	for i := 0; i < 100; i++ {
		s, err := k.CreateSession(context.Background(), readOnly("files.read"))
		require.NoError(t, err)
		require.False(t, seen[s.ID()], "duplicate id %s", s.ID())
		seen[s.ID()] = true
	}
	require.Equal(t, 100, k.Len())
}

func TestCreateSessionRejectsInvalidContract(t *testing.T) {
	store := audit.NewMemoryStore()
	k := New(WithAuditStore(store))

	for name, c := range map[string]*contract.Contract{
		"nil":        nil,
		"zero value": {},
	} {
		t.Run(name, func(t *testing.T) {
			_, err := k.CreateSession(context.Background(), c)
			require.Error(t, err)
			require.True(t, kerrors.Is(err, kerrors.CodeInvalidContract), "got %v", err)
		})
	}
	require.Equal(t, 0, k.Len())

	denied, err := store.List(context.Background(), audit.Filter{Type: audit.EventSessionDenied})
	require.NoError(t, err)
	require.Len(t, denied, 2)
	require.Equal(t, "INVALID_CONTRACT", denied[0].Detail["code"])
}

func TestCreateSessionPolicy(t *testing.T) {
	rules := governance.NewRuleSet([]governance.Rule{
		{ID: "no-network", Effect: governance.DecisionStatusDeny, Class: "network", Capability: "http.*", Reason: "egress disabled"},
		{ID: "review-network", Effect: governance.DecisionStatusRequireApproval, Class: "network"},
	})

	tests := []struct {
		name     string
		hook     governance.ApprovalHook
		contract *contract.Contract
		wantCode kerrors.ErrorCode
	}{
		{"allowed", nil, readOnly("files.read"), ""},
		{"denied", nil, network("http.get"), kerrors.CodePolicyDenied},
		{"approval without hook", nil, network("dns.lookup"), kerrors.CodeApprovalRequired},
		{"approval refused", governance.StaticApprovalHook{Decision: governance.Decision{Status: governance.DecisionStatusDeny, Reason: "no"}},
			network("dns.lookup"), kerrors.CodeApprovalRequired},
		{"approval granted", governance.StaticApprovalHook{Decision: governance.Allow}, network("dns.lookup"), ""},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			k := New(WithPolicy(rules), WithApprovalHook(tc.hook))
			s, err := k.CreateSession(context.Background(), tc.contract)
			if tc.wantCode == "" {
				require.NoError(t, err)
				require.NotNil(t, s)
				return
			}
			require.Error(t, err)
			require.Nil(t, s)
			require.Equal(t, tc.wantCode, kerrors.CodeOf(err))
			require.Equal(t, 0, k.Len())
		})
	}
}

func TestCreateSessionPolicyErrorContext(t *testing.T) {
	k := New(WithPolicy(governance.PolicyFunc(func(context.Context, governance.Request) governance.Decision {
		return governance.Decision{Status: governance.DecisionStatusDeny, RuleID: "freeze", Reason: "change freeze"}
	})))
	_, err := k.CreateSession(context.Background(), readOnly("files.read"))
	ke := kerrors.AsKernelError(err)
	require.NotNil(t, ke)
	require.Equal(t, "freeze", ke.Context["rule_id"])
	require.Contains(t, ke.Message, "change freeze")
}

func TestApprovalHookSeesRequest(t *testing.T) {
	var seen governance.Request
	hook := governance.ApprovalHookFunc(func(_ context.Context, req governance.Request, pending governance.Decision) governance.Decision {
		seen = req
		require.True(t, pending.RequiresApproval())
		return governance.Allow
	})
	policy := governance.PolicyFunc(func(context.Context, governance.Request) governance.Decision {
		return governance.Decision{Status: governance.DecisionStatusRequireApproval}
	})
	k := New(WithPolicy(policy), WithApprovalHook(hook))

	_, err := k.CreateSession(context.Background(), network("dns.lookup"))
	require.NoError(t, err)
	require.Equal(t, governance.EffectExecute, seen.Effect)
	require.Equal(t, "dns.lookup", seen.Contract.ID())
}

func TestLookupAndRelease(t *testing.T) {
	store := audit.NewMemoryStore()
	k := New(WithAuditStore(store))
	s, err := k.CreateSession(context.Background(), readOnly("files.read"))
	require.NoError(t, err)

	require.True(t, k.Release(s.ID()))
	require.False(t, k.Release(s.ID()))
	require.Equal(t, 0, k.Len())

	_, err = k.Lookup(s.ID())
	require.True(t, kerrors.Is(err, kerrors.CodeNotFound))

	// A released handle keeps working for its holder.
	_, err = s.Emit(StreamStdout, KindStdout, []byte("still here"))
	require.NoError(t, err)

	released, err := store.List(context.Background(), audit.Filter{Type: audit.EventSessionReleased})
	require.NoError(t, err)
	require.Len(t, released, 1)
	require.Equal(t, "active", released[0].Detail["state"])
}

func TestKernelMetrics(t *testing.T) {
	reader := sdkmetric.NewManualReader()
	mp := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	t.Cleanup(func() { _ = mp.Shutdown(context.Background()) })
	km, err := telemetry.NewKernelMetricsWithMeter(mp.Meter(telemetry.MeterName))
	require.NoError(t, err)

	k := New(WithMetrics(km), WithPolicy(governance.NewRuleSet([]governance.Rule{
		{ID: "no-network", Effect: governance.DecisionStatusDeny, Class: "network"},
	})))
	s, err := k.CreateSession(context.Background(), readOnly("files.read"))
	require.NoError(t, err)
	_, err = k.CreateSession(context.Background(), network("http.get"))
	require.Error(t, err)

	for i := 0; i < 3; i++ {
		_, err := s.Emit(StreamStdout, KindStdout, []byte("abcd"))
		require.NoError(t, err)
	}
	s.Cancel()
	s.Cancel()
	_, err = s.Emit(StreamStdout, KindStdout, []byte("late"))
	require.Error(t, err)

	var rm metricdata.ResourceMetrics
	require.NoError(t, reader.Collect(context.Background(), &rm))
	totals := make(map[string]int64)
	for _, sm := range rm.ScopeMetrics {
		for _, m := range sm.Metrics {
			if sum, ok := m.Data.(metricdata.Sum[int64]); ok {
				for _, dp := range sum.DataPoints {
					totals[m.Name] += dp.Value
				}
			}
		}
	}
	require.Equal(t, int64(1), totals["capkernel.sessions.created"])
	require.Equal(t, int64(1), totals["capkernel.sessions.rejected"])
	require.Equal(t, int64(1), totals["capkernel.sessions.cancelled"])
	require.Equal(t, int64(3), totals["capkernel.frames.emitted"])
	require.Equal(t, int64(12), totals["capkernel.frames.bytes"])
	require.Equal(t, int64(1), totals["capkernel.frames.rejected"])
}
