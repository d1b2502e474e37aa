// Copyright 2026 © The Kairos Authors
// SPDX-License-Identifier: Apache-2.0

// Package negotiate decides whether a caller bound to one grammar version
// can keep operating against the best version available.
package negotiate

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/Masterminds/semver/v3"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/jllopis/capkernel/pkg/audit"
	kerrors "github.com/jllopis/capkernel/pkg/errors"
	"github.com/jllopis/capkernel/pkg/grammar"
	"github.com/jllopis/capkernel/pkg/telemetry"
)

// Mode selects how breaking deltas are handled.
type Mode string

const (
	// ModeStrict fails negotiation on a breaking delta.
	ModeStrict Mode = "strict"
	// ModeLenient accepts a breaking delta and reports it as warnings.
	ModeLenient Mode = "lenient"
)

// ParseMode parses a mode name, ignoring case.
func ParseMode(s string) (Mode, error) {
	switch m := Mode(strings.ToLower(strings.TrimSpace(s))); m {
	case ModeStrict, ModeLenient:
		return m, nil
	}
	return "", kerrors.Newf(kerrors.CodeInvalidInput, "unknown negotiation mode %q", s).
		WithContext("mode", s)
}

// Outcome labels recorded in metrics and audit events.
const (
	outcomeAccepted = "accepted"
	outcomeDegraded = "degraded"
	outcomeRejected = "rejected"
	outcomeUnknown  = "unknown_version"
	outcomeInvalid  = "invalid"
)

// Result is an accepted negotiation.
type Result struct {
	Grammar   string        `json:"grammar"`
	Requested string        `json:"requested"`
	Selected  string        `json:"selected"`
	Mode      Mode          `json:"mode"`
	Delta     grammar.Delta `json:"delta"`
	// Warnings describe the breaking parts of Delta accepted under lenient
	// mode.
	Warnings []string `json:"warnings,omitempty"`
}

// Degraded reports whether the result was accepted despite a breaking delta.
func (r *Result) Degraded() bool { return len(r.Warnings) > 0 }

// Negotiator resolves versions of one grammar against a snapshot catalog.
type Negotiator struct {
	catalog grammar.Catalog
	grammar string
	logger  *slog.Logger
	metrics *telemetry.KernelMetrics
	audit   audit.Store
	tracer  trace.Tracer
}

// Option configures a Negotiator.
type Option func(*Negotiator)

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(n *Negotiator) {
		if logger != nil {
			n.logger = logger
		}
	}
}

// WithMetrics sets the OpenTelemetry instruments.
func WithMetrics(m *telemetry.KernelMetrics) Option {
	return func(n *Negotiator) { n.metrics = m }
}

// WithAuditStore records negotiation outcomes in store.
func WithAuditStore(store audit.Store) Option {
	return func(n *Negotiator) { n.audit = store }
}

// WithTracer overrides the tracer.
func WithTracer(tracer trace.Tracer) Option {
	return func(n *Negotiator) {
		if tracer != nil {
			n.tracer = tracer
		}
	}
}

// New creates a negotiator for the grammar named name, reading snapshots
// from catalog.
func New(catalog grammar.Catalog, name string, opts ...Option) *Negotiator {
	if catalog == nil {
		catalog = grammar.NewMemoryCatalog()
	}
	n := &Negotiator{
		catalog: catalog,
		grammar: name,
		logger:  slog.Default(),
		tracer:  otel.Tracer("capkernel/negotiate"),
	}
	for _, opt := range opts {
		opt(n)
	}
	return n
}

// Negotiate checks requested against the highest version in available.
//
// It fails with UNKNOWN_VERSION when requested is not in available (in any
// mode) or a snapshot is missing, with INVALID_INPUT on a malformed version
// list or mode, and with INCOMPATIBLE_GRAMMAR when the delta from requested
// to the selected version is breaking under strict mode. The delta is
// attached to that error's context under "delta".
func (n *Negotiator) Negotiate(ctx context.Context, requested string, available []string, mode Mode) (*Result, error) {
	ctx, span := n.tracer.Start(ctx, "Negotiator.Negotiate")
	defer span.End()
	span.SetAttributes(telemetry.NegotiationAttributes(n.grammar, string(mode), requested, "")...)

	parsed, err := ParseMode(string(mode))
	if err != nil {
		return nil, n.fail(ctx, span, mode, requested, "", outcomeInvalid, err)
	}
	mode = parsed

	versions := make([]*semver.Version, 0, len(available))
	for _, raw := range available {
		v, err := semver.NewVersion(raw)
		if err != nil {
			return nil, n.fail(ctx, span, mode, requested, "", outcomeInvalid,
				kerrors.Newf(kerrors.CodeInvalidInput, "invalid available version %q", raw).
					WithContext("available", available))
		}
		versions = append(versions, v)
	}

	req, reqIdx := n.find(requested, versions)
	if req == nil {
		return nil, n.fail(ctx, span, mode, requested, "", outcomeUnknown,
			unknownVersion(n.grammar, requested, available))
	}

	bestIdx := 0
	for i, v := range versions {
		if v.GreaterThan(versions[bestIdx]) {
			bestIdx = i
		}
	}
	selected := available[bestIdx]
	span.SetAttributes(telemetry.NegotiationAttributes(n.grammar, string(mode), requested, selected)...)

	delta, err := n.delta(ctx, available[reqIdx], req, selected, versions[bestIdx])
	if err != nil {
		return nil, n.fail(ctx, span, mode, requested, selected, outcomeUnknown, err)
	}
	span.SetAttributes(telemetry.DeltaAttributes(
		len(delta.Added), len(delta.Removed), len(delta.CapabilityChanges), delta.Breaking)...)

	result := &Result{
		Grammar:   n.grammar,
		Requested: requested,
		Selected:  selected,
		Mode:      mode,
		Delta:     delta,
	}
	if delta.Breaking {
		if mode == ModeStrict {
			err := kerrors.Newf(kerrors.CodeIncompatibleGrammar,
				"%s %s -> %s is breaking: %s", n.grammar, requested, selected, delta.Summary()).
				WithContext("grammar", n.grammar).
				WithContext("requested", requested).
				WithContext("selected", selected).
				WithContext("available", available).
				WithContext("delta", delta)
			return nil, n.fail(ctx, span, mode, requested, selected, outcomeRejected, err)
		}
		result.Warnings = warnings(delta)
	}

	outcome := outcomeAccepted
	if result.Degraded() {
		outcome = outcomeDegraded
	}
	n.metrics.Negotiation(ctx, string(mode), outcome)
	n.record(ctx, audit.EventNegotiationAccepted, map[string]any{
		"grammar":   n.grammar,
		"requested": requested,
		"selected":  selected,
		"mode":      string(mode),
		"outcome":   outcome,
		"delta":     delta.Summary(),
	})
	n.logger.InfoContext(ctx, "negotiate.accept",
		slog.String("grammar", n.grammar),
		slog.String("requested", requested),
		slog.String("selected", selected),
		slog.String("mode", string(mode)),
		slog.Bool("breaking", delta.Breaking),
	)
	return result, nil
}

// find returns the available version semantically equal to requested.
func (n *Negotiator) find(requested string, versions []*semver.Version) (*semver.Version, int) {
	want, err := semver.NewVersion(requested)
	if err != nil {
		return nil, -1
	}
	for i, v := range versions {
		if v.Equal(want) {
			return v, i
		}
	}
	return nil, -1
}

// delta loads both snapshots and compares them. Equal versions need no
// snapshot.
func (n *Negotiator) delta(ctx context.Context, reqRaw string, req *semver.Version, bestRaw string, best *semver.Version) (grammar.Delta, error) {
	if req.Equal(best) {
		return grammar.ComputeDelta(nil, nil), nil
	}
	prev, err := n.snapshot(ctx, reqRaw)
	if err != nil {
		return grammar.Delta{}, err
	}
	next, err := n.snapshot(ctx, bestRaw)
	if err != nil {
		return grammar.Delta{}, err
	}
	return grammar.ComputeDelta(prev, next), nil
}

func (n *Negotiator) snapshot(ctx context.Context, version string) (*grammar.Grammar, error) {
	g, err := n.catalog.Get(ctx, n.grammar, version)
	if kerrors.Is(err, kerrors.CodeNotFound) {
		return nil, kerrors.Newf(kerrors.CodeUnknownVersion, "no snapshot of %s@%s", n.grammar, version).
			WithContext("grammar", n.grammar).
			WithContext("version", version)
	}
	return g, err
}

func unknownVersion(name, requested string, available []string) *kerrors.KernelError {
	return kerrors.Newf(kerrors.CodeUnknownVersion, "version %q of %s is not available", requested, name).
		WithContext("grammar", name).
		WithContext("requested", requested).
		WithContext("available", available)
}

func warnings(d grammar.Delta) []string {
	var out []string
	for _, p := range d.Removed {
		out = append(out, "removed "+p)
	}
	for _, c := range d.BreakingChanges() {
		out = append(out, fmt.Sprintf("%s changed %s/%s -> %s/%s",
			c.Path, c.OldClass, c.OldStability, c.NewClass, c.NewStability))
	}
	return out
}

func (n *Negotiator) fail(ctx context.Context, span trace.Span, mode Mode, requested, selected, outcome string, err error) error {
	span.RecordError(err)
	span.SetStatus(codes.Error, string(kerrors.CodeOf(err)))
	n.metrics.Negotiation(ctx, string(mode), outcome)
	n.metrics.RecordError(ctx, err, "negotiate")
	n.record(ctx, audit.EventNegotiationRejected, map[string]any{
		"grammar":   n.grammar,
		"requested": requested,
		"selected":  selected,
		"mode":      string(mode),
		"outcome":   outcome,
		"code":      string(kerrors.CodeOf(err)),
	})
	n.logger.WarnContext(ctx, "negotiate.reject",
		slog.String("grammar", n.grammar),
		slog.String("requested", requested),
		slog.String("selected", selected),
		slog.String("mode", string(mode)),
		slog.String("error", err.Error()),
	)
	return err
}

func (n *Negotiator) record(ctx context.Context, typ audit.EventType, detail map[string]any) {
	if n.audit == nil {
		return
	}
	if err := n.audit.Record(ctx, audit.Event{Type: typ, Detail: detail}); err != nil {
		n.logger.ErrorContext(ctx, "negotiate.audit failed", slog.String("error", err.Error()))
	}
}

// NegotiateCatalog negotiates requested against every stored version of
// the grammar.
func (n *Negotiator) NegotiateCatalog(ctx context.Context, requested string, mode Mode) (*Result, error) {
	available, err := n.catalog.Versions(ctx, n.grammar)
	if err != nil {
		return nil, err
	}
	return n.Negotiate(ctx, requested, available, mode)
}
