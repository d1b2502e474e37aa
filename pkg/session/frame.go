// Copyright 2026 © The Kairos Authors
// SPDX-License-Identifier: Apache-2.0

package session

import (
	"fmt"
	"strings"
	"time"
)

// StreamID names an output channel of a session. Each stream owns its own
// sequence space.
type StreamID string

// Well-known streams, registered in every session arena at creation.
const (
	StreamStdout  StreamID = "stdout"
	StreamStderr  StreamID = "stderr"
	StreamLog     StreamID = "log"
	StreamMetric  StreamID = "metric"
	StreamControl StreamID = "control"
)

// WellKnownStreams returns the streams pre-registered in every session.
func WellKnownStreams() []StreamID {
	return []StreamID{StreamStdout, StreamStderr, StreamLog, StreamMetric, StreamControl}
}

// FrameKind distinguishes data-plane output from control-plane traffic.
type FrameKind string

const (
	KindStdout  FrameKind = "stdout"
	KindStderr  FrameKind = "stderr"
	KindLog     FrameKind = "log"
	KindMetric  FrameKind = "metric"
	KindControl FrameKind = "control"
)

// Valid reports whether k is a known kind.
func (k FrameKind) Valid() bool {
	switch k {
	case KindStdout, KindStderr, KindLog, KindMetric, KindControl:
		return true
	}
	return false
}

// IsControl reports whether k is control-plane. Control frames are accepted
// after cancellation.
func (k FrameKind) IsControl() bool { return k == KindControl }

// ParseFrameKind parses a kind name, ignoring case.
func ParseFrameKind(s string) (FrameKind, error) {
	k := FrameKind(strings.ToLower(strings.TrimSpace(s)))
	if !k.Valid() {
		return "", fmt.Errorf("unknown frame kind %q", s)
	}
	return k, nil
}

// Frame is one sequenced, timestamped unit of session output.
type Frame struct {
	SessionID string    `json:"session_id"`
	Stream    StreamID  `json:"stream"`
	Sequence  uint64    `json:"sequence"`
	Timestamp time.Time `json:"timestamp"`
	Kind      FrameKind `json:"kind"`
	Payload   []byte    `json:"payload"`
}

// Metrics is a snapshot of a session's counters. Both values only increase.
type Metrics struct {
	FramesSent uint64 `json:"frames_sent"`
	BytesSent  uint64 `json:"bytes_sent"`
}

// StreamInfo describes one registered stream.
type StreamInfo struct {
	ID StreamID `json:"id"`
	// LastSequence is the sequence of the last frame emitted on the stream,
	// or 0 when nothing was emitted yet.
	LastSequence uint64 `json:"last_sequence"`
}
