// Copyright 2026 © The Kairos Authors
// SPDX-License-Identifier: Apache-2.0

package session

import (
	"context"
	"fmt"
	"log/slog"
	"slices"
	"sync/atomic"
	"time"

	"github.com/jllopis/capkernel/pkg/audit"
	"github.com/jllopis/capkernel/pkg/contract"
	kerrors "github.com/jllopis/capkernel/pkg/errors"
	"github.com/jllopis/capkernel/pkg/telemetry"
)

// State is the lifecycle state of a session.
type State int32

const (
	StateActive State = iota
	StateCancelled
)

func (s State) String() string {
	switch s {
	case StateActive:
		return "active"
	case StateCancelled:
		return "cancelled"
	}
	return fmt.Sprintf("state(%d)", int32(s))
}

// MarshalText implements encoding.TextMarshaler.
func (s State) MarshalText() ([]byte, error) { return []byte(s.String()), nil }

// Session is one execution bound to a capability contract. It multiplexes
// output across independently sequenced streams. All methods are safe for
// concurrent use.
type Session struct {
	id        string
	contract  *contract.Contract
	kernel    *Kernel
	createdAt time.Time

	state   atomic.Int32
	streams *arena

	// lastStamp is the unix-nano timestamp of the latest frame; frames never
	// carry an earlier one.
	lastStamp  atomic.Int64
	framesSent atomic.Uint64
	bytesSent  atomic.Uint64
}

// ID returns the session identifier.
func (s *Session) ID() string { return s.id }

// Contract returns the contract the session was admitted under.
func (s *Session) Contract() *contract.Contract { return s.contract }

// State returns the current lifecycle state.
func (s *Session) State() State { return State(s.state.Load()) }

// CreatedAt returns the admission time.
func (s *Session) CreatedAt() time.Time { return s.createdAt }

// Metrics returns a snapshot of the session counters.
func (s *Session) Metrics() Metrics {
	return Metrics{FramesSent: s.framesSent.Load(), BytesSent: s.bytesSent.Load()}
}

// Streams lists registered streams in registration order.
func (s *Session) Streams() []StreamInfo { return s.streams.snapshot() }

// Emit emits payload on stream. See EmitContext.
func (s *Session) Emit(stream StreamID, kind FrameKind, payload []byte) (Frame, error) {
	return s.EmitContext(context.Background(), stream, kind, payload)
}

// EmitContext allocates the next sequence number of stream and returns the
// resulting frame. Data-plane kinds fail with SESSION_CANCELLED once the
// session is cancelled; control frames are always accepted. ctx only
// carries telemetry; emission never blocks on it.
func (s *Session) EmitContext(ctx context.Context, stream StreamID, kind FrameKind, payload []byte) (Frame, error) {
	if stream == "" {
		return Frame{}, kerrors.New(kerrors.CodeInvalidInput, "stream id is empty", nil).
			WithContext("session_id", s.id)
	}
	if !kind.Valid() {
		return Frame{}, kerrors.Newf(kerrors.CodeInvalidInput, "unknown frame kind %q", string(kind)).
			WithContext("session_id", s.id).
			WithContext("stream", string(stream))
	}
	if err := s.checkActive(ctx, stream, kind); err != nil {
		return Frame{}, err
	}

	slot, err := s.streams.slot(stream)
	if err != nil {
		return Frame{}, err
	}

	slot.mu.Lock()
	defer slot.mu.Unlock()

	// Re-checked under the stream lock so a Cancel that returned before we
	// got here is honoured.
	if err := s.checkActive(ctx, stream, kind); err != nil {
		return Frame{}, err
	}

	prev := slot.seq.Load()
	next := prev + 1
	if !slot.seq.CompareAndSwap(prev, next) {
		panic(sequenceViolation(s.id, stream, prev, slot.seq.Load()))
	}

	size := uint64(len(payload))
	beforeFrames := s.framesSent.Add(1) - 1
	beforeBytes := s.bytesSent.Add(size) - size
	if beforeFrames == ^uint64(0) || beforeBytes > beforeBytes+size {
		panic(kerrors.New(kerrors.CodeSequenceViolation, "session metrics overflowed", nil).
			WithContext("session_id", s.id))
	}

	frame := Frame{
		SessionID: s.id,
		Stream:    stream,
		Sequence:  next,
		Timestamp: s.stamp(),
		Kind:      kind,
		Payload:   slices.Clone(payload),
	}
	if sink := s.kernel.sink; sink != nil {
		sink.Deliver(frame)
	}
	s.kernel.metrics.FrameEmitted(ctx, string(stream), string(kind), len(payload))
	return frame, nil
}

func (s *Session) checkActive(ctx context.Context, stream StreamID, kind FrameKind) error {
	if kind.IsControl() || s.State() == StateActive {
		return nil
	}
	s.kernel.metrics.FrameRejected(ctx, string(stream), string(kind))
	return kerrors.New(kerrors.CodeSessionCancelled, "session is cancelled", nil).
		WithContext("session_id", s.id).
		WithContext("stream", string(stream)).
		WithContext("kind", string(kind))
}

// stamp returns max(clock, last stamp) and records it as the last stamp.
func (s *Session) stamp() time.Time {
	for {
		last := s.lastStamp.Load()
		now := s.kernel.clock().UnixNano()
		if now < last {
			now = last
		}
		if s.lastStamp.CompareAndSwap(last, now) {
			return time.Unix(0, now).UTC()
		}
	}
}

// Cancel moves the session to Cancelled. Calling it again is a no-op.
// Frames already emitted stay valid.
func (s *Session) Cancel() {
	if !s.state.CompareAndSwap(int32(StateActive), int32(StateCancelled)) {
		return
	}
	ctx := telemetry.WithSession(telemetry.WithCapability(context.Background(), s.contract.ID()), s.id)
	m := s.Metrics()
	s.kernel.logger.InfoContext(ctx, "session.cancel",
		slog.Uint64("frames_sent", m.FramesSent),
	)
	s.kernel.metrics.SessionCancelled(ctx)
	s.kernel.record(ctx, audit.Event{
		SessionID:  s.id,
		Type:       audit.EventSessionCancelled,
		Capability: s.contract.ID(),
		Class:      s.contract.Class().String(),
		Detail: map[string]any{
			"frames_sent": m.FramesSent,
			"bytes_sent":  m.BytesSent,
		},
	})
}

// CancelOnDone cancels the session when ctx is done. The returned stop
// function detaches it, reporting whether it did so before cancellation ran.
func (s *Session) CancelOnDone(ctx context.Context) (stop func() bool) {
	return context.AfterFunc(ctx, s.Cancel)
}

func sequenceViolation(id string, stream StreamID, expected, found uint64) *kerrors.KernelError {
	return kerrors.Newf(kerrors.CodeSequenceViolation,
		"sequence of stream %q advanced outside its lock", string(stream)).
		WithContext("session_id", id).
		WithContext("stream", string(stream)).
		WithContext("expected", expected).
		WithContext("found", found)
}
