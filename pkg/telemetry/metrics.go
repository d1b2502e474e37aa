// Copyright 2026 © The Kairos Authors
// SPDX-License-Identifier: Apache-2.0

package telemetry

import (
	"context"
	stderrors "errors"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/jllopis/capkernel/pkg/errors"
)

// MeterName is the instrumentation scope of the kernel instruments.
const MeterName = "capkernel/kernel"

// KernelMetrics holds the OpenTelemetry instruments of the session kernel
// and the version negotiator. A nil *KernelMetrics records nothing, so
// components can take one unconditionally.
type KernelMetrics struct {
	sessionsCreated   metric.Int64Counter
	sessionsRejected  metric.Int64Counter
	sessionsCancelled metric.Int64Counter
	sessionsActive    metric.Int64UpDownCounter
	framesEmitted     metric.Int64Counter
	frameBytes        metric.Int64Counter
	framesRejected    metric.Int64Counter
	negotiations      metric.Int64Counter
	errorCounter      metric.Int64Counter
}

// NewKernelMetrics creates the instruments on the global meter provider.
func NewKernelMetrics() (*KernelMetrics, error) {
	return NewKernelMetricsWithMeter(otel.Meter(MeterName))
}

// NewKernelMetricsWithMeter creates the instruments on meter.
func NewKernelMetricsWithMeter(meter metric.Meter) (*KernelMetrics, error) {
	var (
		km  KernelMetrics
		err error
	)
	counters := []struct {
		dst  *metric.Int64Counter
		name string
		desc string
		unit string
	}{
		{&km.sessionsCreated, "capkernel.sessions.created", "Sessions admitted by class", "{session}"},
		{&km.sessionsRejected, "capkernel.sessions.rejected", "Session creations refused by error code", "{session}"},
		{&km.sessionsCancelled, "capkernel.sessions.cancelled", "Sessions transitioned to cancelled", "{session}"},
		{&km.framesEmitted, "capkernel.frames.emitted", "Frames emitted by stream and kind", "{frame}"},
		{&km.frameBytes, "capkernel.frames.bytes", "Payload bytes emitted", "By"},
		{&km.framesRejected, "capkernel.frames.rejected", "Frames refused after cancellation", "{frame}"},
		{&km.negotiations, "capkernel.negotiations", "Version negotiations by mode and outcome", "{negotiation}"},
		{&km.errorCounter, "capkernel.errors.total", "Total errors by code and component", "{error}"},
	}
	for _, c := range counters {
		*c.dst, err = meter.Int64Counter(c.name, metric.WithDescription(c.desc), metric.WithUnit(c.unit))
		if err != nil {
			return nil, err
		}
	}
	km.sessionsActive, err = meter.Int64UpDownCounter(
		"capkernel.sessions.active",
		metric.WithDescription("Sessions registered in the kernel table"),
		metric.WithUnit("{session}"),
	)
	if err != nil {
		return nil, err
	}
	return &km, nil
}

// SessionCreated records an admitted session.
func (km *KernelMetrics) SessionCreated(ctx context.Context, class string) {
	if km == nil {
		return
	}
	km.sessionsCreated.Add(ctx, 1, metric.WithAttributes(attribute.String(AttrContractClass, class)))
	km.sessionsActive.Add(ctx, 1)
}

// SessionRejected records a refused session creation.
func (km *KernelMetrics) SessionRejected(ctx context.Context, code errors.ErrorCode) {
	if km == nil {
		return
	}
	km.sessionsRejected.Add(ctx, 1, metric.WithAttributes(attribute.String(AttrErrorCode, string(code))))
}

// SessionCancelled records the first cancellation of a session.
func (km *KernelMetrics) SessionCancelled(ctx context.Context) {
	if km == nil {
		return
	}
	km.sessionsCancelled.Add(ctx, 1)
}

// SessionReleased records a session leaving the kernel table.
func (km *KernelMetrics) SessionReleased(ctx context.Context) {
	if km == nil {
		return
	}
	km.sessionsActive.Add(ctx, -1)
}

// FrameEmitted records one delivered frame of size bytes.
func (km *KernelMetrics) FrameEmitted(ctx context.Context, stream, kind string, size int) {
	if km == nil {
		return
	}
	attrs := metric.WithAttributes(
		attribute.String(AttrStreamID, stream),
		attribute.String(AttrFrameKind, kind),
	)
	km.framesEmitted.Add(ctx, 1, attrs)
	km.frameBytes.Add(ctx, int64(size), attrs)
}

// FrameRejected records a data-plane frame refused after cancellation.
func (km *KernelMetrics) FrameRejected(ctx context.Context, stream, kind string) {
	if km == nil {
		return
	}
	km.framesRejected.Add(ctx, 1, metric.WithAttributes(
		attribute.String(AttrStreamID, stream),
		attribute.String(AttrFrameKind, kind),
	))
}

// Negotiation records a negotiation outcome (accepted, degraded, rejected).
func (km *KernelMetrics) Negotiation(ctx context.Context, mode, outcome string) {
	if km == nil {
		return
	}
	km.negotiations.Add(ctx, 1, metric.WithAttributes(
		attribute.String(AttrNegotiationMode, mode),
		attribute.String(AttrNegotiationOutcome, outcome),
	))
}

// RecordError increments the error counter for err's code and component.
func (km *KernelMetrics) RecordError(ctx context.Context, err error, component string) {
	if km == nil || err == nil {
		return
	}
	code, recoverable := "UNKNOWN", "unknown"
	var ke *errors.KernelError
	if stderrors.As(err, &ke) {
		code, recoverable = string(ke.Code), ke.RecoverableString()
	}
	km.errorCounter.Add(ctx, 1, metric.WithAttributes(
		attribute.String(AttrErrorCode, code),
		attribute.String(AttrComponent, component),
		attribute.String(AttrRecoverable, recoverable),
	))
}
