// Copyright 2026 © The Kairos Authors
// SPDX-License-Identifier: Apache-2.0

// Package session implements the session kernel: it admits sessions bound
// to a capability contract, multiplexes their output across sequenced
// streams and handles cooperative cancellation.
//
// A Kernel is an owned value; there is no package-level registry.
//
//	k := session.New(session.WithPolicy(policy))
//	s, err := k.CreateSession(ctx, c)
//	frame, err := s.Emit(session.StreamStdout, session.KindStdout, []byte("hello"))
package session

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/jllopis/capkernel/pkg/audit"
	"github.com/jllopis/capkernel/pkg/contract"
	kerrors "github.com/jllopis/capkernel/pkg/errors"
	"github.com/jllopis/capkernel/pkg/governance"
	"github.com/jllopis/capkernel/pkg/telemetry"
)

// DefaultMaxStreams is the arena capacity when none is configured.
const DefaultMaxStreams = 16

// Kernel creates and tracks sessions.
type Kernel struct {
	logger     *slog.Logger
	policy     governance.Policy
	approval   governance.ApprovalHook
	metrics    *telemetry.KernelMetrics
	audit      audit.Store
	maxStreams int
	clock      func() time.Time
	sink       FrameSink
	tracer     trace.Tracer

	mu       sync.RWMutex
	sessions map[string]*Session
}

// Option configures a Kernel.
type Option func(*Kernel)

// WithLogger sets the kernel logger.
func WithLogger(logger *slog.Logger) Option {
	return func(k *Kernel) {
		if logger != nil {
			k.logger = logger
		}
	}
}

// WithPolicy sets the policy consulted before a session is admitted.
func WithPolicy(p governance.Policy) Option {
	return func(k *Kernel) {
		if p != nil {
			k.policy = p
		}
	}
}

// WithApprovalHook sets the hook resolving require_approval decisions.
// Without one, such decisions refuse the session.
func WithApprovalHook(h governance.ApprovalHook) Option {
	return func(k *Kernel) { k.approval = h }
}

// WithMetrics sets the OpenTelemetry instruments.
func WithMetrics(m *telemetry.KernelMetrics) Option {
	return func(k *Kernel) { k.metrics = m }
}

// WithAuditStore records lifecycle events in store.
func WithAuditStore(store audit.Store) Option {
	return func(k *Kernel) { k.audit = store }
}

// WithMaxStreams sets the per-session stream arena capacity. The
// well-known streams always fit.
func WithMaxStreams(n int) Option {
	return func(k *Kernel) {
		if n > 0 {
			k.maxStreams = n
		}
	}
}

// WithClock overrides the frame timestamp source.
func WithClock(clock func() time.Time) Option {
	return func(k *Kernel) {
		if clock != nil {
			k.clock = clock
		}
	}
}

// WithSink delivers every emitted frame to sink.
func WithSink(sink FrameSink) Option {
	return func(k *Kernel) { k.sink = sink }
}

// WithTracer overrides the tracer used for kernel spans.
func WithTracer(tracer trace.Tracer) Option {
	return func(k *Kernel) {
		if tracer != nil {
			k.tracer = tracer
		}
	}
}

// New creates a kernel. By default every valid contract is admitted.
func New(opts ...Option) *Kernel {
	k := &Kernel{
		logger:     slog.Default(),
		policy:     governance.AllowAll,
		maxStreams: DefaultMaxStreams,
		clock:      time.Now,
		tracer:     otel.Tracer("capkernel/session"),
		sessions:   make(map[string]*Session),
	}
	for _, opt := range opts {
		opt(k)
	}
	return k
}

// CreateSession validates c, consults the policy and registers a new
// Active session. Failures are INVALID_CONTRACT, POLICY_DENIED or
// APPROVAL_REQUIRED.
func (k *Kernel) CreateSession(ctx context.Context, c *contract.Contract) (*Session, error) {
	ctx, span := k.tracer.Start(ctx, "Kernel.CreateSession")
	defer span.End()

	if err := contract.Validate(c); err != nil {
		return nil, k.reject(ctx, span, c, err)
	}
	ctx = telemetry.WithCapability(ctx, c.ID())
	span.SetAttributes(telemetry.ContractAttributes(
		c.ID(), c.Class().String(), c.Stability().String(), c.ResourceBand().String(),
		c.RiskScore(), c.IsAgentSafe(),
	)...)

	if err := k.authorize(ctx, span, c); err != nil {
		return nil, k.reject(ctx, span, c, err)
	}

	id, err := uuid.NewV7()
	if err != nil {
		return nil, k.reject(ctx, span, c, kerrors.New(kerrors.CodeInternal, "generate session id", err))
	}
	s := &Session{
		id:        id.String(),
		contract:  c,
		kernel:    k,
		createdAt: k.clock().UTC(),
		streams:   newArena(k.maxStreams, WellKnownStreams()),
	}

	k.mu.Lock()
	k.sessions[s.id] = s
	k.mu.Unlock()
	ctx = telemetry.WithSession(ctx, s.id)

	span.SetAttributes(telemetry.SessionAttributes(s.id, StateActive.String())...)
	k.metrics.SessionCreated(ctx, c.Class().String())
	k.record(ctx, audit.Event{
		SessionID:  s.id,
		Type:       audit.EventSessionCreated,
		Capability: c.ID(),
		Class:      c.Class().String(),
		Detail: map[string]any{
			"risk_score": c.RiskScore(),
			"stability":  c.Stability().String(),
		},
	})
	k.logger.InfoContext(ctx, "session.create",
		slog.String("class", c.Class().String()),
		slog.Int("risk_score", c.RiskScore()),
	)
	return s, nil
}

func (k *Kernel) authorize(ctx context.Context, span trace.Span, c *contract.Contract) error {
	req := governance.Request{Contract: c, Effect: governance.EffectExecute}
	decision := k.policy.Evaluate(ctx, req)
	span.SetAttributes(telemetry.PolicyAttributes(string(decision.Status), decision.RuleID, decision.Reason)...)

	switch {
	case decision.IsAllowed():
		return nil
	case decision.RequiresApproval():
		if k.approval == nil {
			return policyError(kerrors.CodeApprovalRequired, "approval required", decision)
		}
		resolved := k.approval.Request(ctx, req, decision)
		if resolved.IsAllowed() {
			k.logger.InfoContext(ctx, "session.approve",
				slog.String("rule_id", decision.RuleID),
			)
			return nil
		}
		if resolved.Reason == "" {
			resolved.Reason = decision.Reason
		}
		if resolved.RuleID == "" {
			resolved.RuleID = decision.RuleID
		}
		return policyError(kerrors.CodeApprovalRequired, "approval not granted", resolved)
	default:
		return policyError(kerrors.CodePolicyDenied, "policy denied session", decision)
	}
}

func policyError(code kerrors.ErrorCode, msg string, d governance.Decision) *kerrors.KernelError {
	if d.Reason != "" {
		msg += ": " + d.Reason
	}
	return kerrors.New(code, msg, nil).
		WithContext("decision", string(d.Status)).
		WithContext("rule_id", d.RuleID).
		WithContext("reason", d.Reason)
}

func (k *Kernel) reject(ctx context.Context, span trace.Span, c *contract.Contract, err error) error {
	code := kerrors.CodeOf(err)
	span.RecordError(err)
	span.SetStatus(codes.Error, string(code))
	k.metrics.SessionRejected(ctx, code)
	k.metrics.RecordError(ctx, err, "session")

	ev := audit.Event{
		Type:   audit.EventSessionDenied,
		Detail: map[string]any{"code": string(code), "error": err.Error()},
	}
	if c != nil {
		ev.Capability = c.ID()
		ev.Class = c.Class().String()
	}
	k.record(ctx, ev)
	k.logger.WarnContext(ctx, "session.reject",
		slog.String("capability", ev.Capability),
		slog.String("code", string(code)),
		slog.String("error", err.Error()),
	)
	return err
}

// record writes an audit event; audit failures are logged, never returned.
func (k *Kernel) record(ctx context.Context, ev audit.Event) {
	if k.audit == nil {
		return
	}
	if ev.At.IsZero() {
		ev.At = k.clock()
	}
	if err := k.audit.Record(ctx, ev); err != nil {
		k.logger.ErrorContext(ctx, "session.audit failed",
			slog.String("event", string(ev.Type)),
			slog.String("error", err.Error()),
		)
	}
}

// Lookup returns the registered session with id.
func (k *Kernel) Lookup(id string) (*Session, error) {
	k.mu.RLock()
	s, ok := k.sessions[id]
	k.mu.RUnlock()
	if !ok {
		return nil, kerrors.Newf(kerrors.CodeNotFound, "session %q not found", id).
			WithContext("session_id", id)
	}
	return s, nil
}

// Release removes the session from the kernel table. Handles held by
// callers keep working; the session is reclaimed once they are dropped.
// It reports whether the session was registered.
func (k *Kernel) Release(id string) bool {
	k.mu.Lock()
	s, ok := k.sessions[id]
	delete(k.sessions, id)
	k.mu.Unlock()
	if !ok {
		return false
	}

	ctx := context.Background()
	m := s.Metrics()
	k.metrics.SessionReleased(ctx)
	k.record(ctx, audit.Event{
		SessionID:  id,
		Type:       audit.EventSessionReleased,
		Capability: s.contract.ID(),
		Class:      s.contract.Class().String(),
		Detail: map[string]any{
			"state":       s.State().String(),
			"frames_sent": m.FramesSent,
			"bytes_sent":  m.BytesSent,
		},
	})
	k.logger.Debug("session.release", slog.String("session_id", id))
	return true
}

// Len returns the number of registered sessions.
func (k *Kernel) Len() int {
	k.mu.RLock()
	defer k.mu.RUnlock()
	return len(k.sessions)
}
