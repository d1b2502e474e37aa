// Copyright 2026 © The Kairos Authors
// SPDX-License-Identifier: Apache-2.0

package session

import (
	"encoding/json"
	"io"
	"sync"
)

// FrameSink receives emitted frames. Deliver is called while the emitting
// stream is locked, so frames of one stream arrive in sequence order.
// Implementations must be safe for concurrent use and must not call back
// into the emitting session.
type FrameSink interface {
	Deliver(frame Frame)
}

// FrameSinkFunc adapts a function to FrameSink.
type FrameSinkFunc func(Frame)

func (f FrameSinkFunc) Deliver(frame Frame) { f(frame) }

// MultiSink fans frames out to several sinks in order.
type MultiSink []FrameSink

func (m MultiSink) Deliver(frame Frame) {
	for _, s := range m {
		if s != nil {
			s.Deliver(frame)
		}
	}
}

type recordKey struct {
	session string
	stream  StreamID
}

// Recorder keeps every delivered frame in memory for replay and inspection.
type Recorder struct {
	mu     sync.Mutex
	all    []Frame
	byPair map[recordKey][]Frame
}

// NewRecorder returns an empty recorder.
func NewRecorder() *Recorder {
	return &Recorder{byPair: make(map[recordKey][]Frame)}
}

// Deliver stores frame.
func (r *Recorder) Deliver(frame Frame) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.all = append(r.all, frame)
	key := recordKey{frame.SessionID, frame.Stream}
	r.byPair[key] = append(r.byPair[key], frame)
}

// Frames returns the frames of one (session, stream) pair in delivery order.
func (r *Recorder) Frames(sessionID string, stream StreamID) []Frame {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Frame(nil), r.byPair[recordKey{sessionID, stream}]...)
}

// All returns every recorded frame in delivery order.
func (r *Recorder) All() []Frame {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Frame(nil), r.all...)
}

// Len returns the number of recorded frames.
func (r *Recorder) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.all)
}

// JSONSink writes each frame as one JSON line.
type JSONSink struct {
	mu  sync.Mutex
	enc *json.Encoder
	err error
}

// NewJSONSink returns a sink encoding frames to w.
func NewJSONSink(w io.Writer) *JSONSink {
	return &JSONSink{enc: json.NewEncoder(w)}
}

// Deliver encodes frame. After the first write error further frames are
// dropped; see Err.
func (s *JSONSink) Deliver(frame Frame) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return
	}
	s.err = s.enc.Encode(frame)
}

// Err returns the first write error.
func (s *JSONSink) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}
