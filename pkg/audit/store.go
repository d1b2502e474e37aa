// Copyright 2026 © The Kairos Authors
// SPDX-License-Identifier: Apache-2.0

// Package audit records kernel lifecycle events: sessions admitted, refused,
// cancelled and released, and version negotiations accepted or rejected.
package audit

import (
	"context"
	"encoding/json"
	"sync"
	"time"
)

// EventType names a lifecycle transition.
type EventType string

const (
	EventSessionCreated      EventType = "session.created"
	EventSessionDenied       EventType = "session.denied"
	EventSessionCancelled    EventType = "session.cancelled"
	EventSessionReleased     EventType = "session.released"
	EventNegotiationAccepted EventType = "negotiation.accepted"
	EventNegotiationRejected EventType = "negotiation.rejected"
)

// Event is a single audit record. SessionID is empty for negotiation events.
type Event struct {
	SessionID  string
	Type       EventType
	Capability string
	Class      string
	Detail     map[string]any
	At         time.Time
}

// Store persists audit events. Implementations must be safe for concurrent
// use.
type Store interface {
	Record(ctx context.Context, event Event) error
	List(ctx context.Context, filter Filter) ([]Event, error)
}

// Filter limits audit event queries. Zero fields match everything.
type Filter struct {
	SessionID  string
	Type       EventType
	Capability string
	Since      time.Time
	Limit      int
}

func (f Filter) match(ev Event) bool {
	if f.SessionID != "" && ev.SessionID != f.SessionID {
		return false
	}
	if f.Type != "" && ev.Type != f.Type {
		return false
	}
	if f.Capability != "" && ev.Capability != f.Capability {
		return false
	}
	if !f.Since.IsZero() && ev.At.Before(f.Since) {
		return false
	}
	return true
}

// MemoryStore keeps audit events in memory.
type MemoryStore struct {
	mu     sync.Mutex
	events []Event
}

// NewMemoryStore returns an in-memory audit store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{}
}

// Record appends an audit event.
func (s *MemoryStore) Record(_ context.Context, event Event) error {
	event.At = normalizeTime(event.At)
	event.Detail = cloneDetail(event.Detail)
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, event)
	return nil
}

// List returns filtered audit events in insertion order.
func (s *MemoryStore) List(_ context.Context, filter Filter) ([]Event, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Event, 0, len(s.events))
	for _, ev := range s.events {
		if !filter.match(ev) {
			continue
		}
		ev.Detail = cloneDetail(ev.Detail)
		out = append(out, ev)
		if filter.Limit > 0 && len(out) >= filter.Limit {
			break
		}
	}
	return out, nil
}

func cloneDetail(detail map[string]any) map[string]any {
	if detail == nil {
		return nil
	}
	out := make(map[string]any, len(detail))
	for k, v := range detail {
		out[k] = v
	}
	return out
}

func encodeDetail(detail map[string]any) ([]byte, error) {
	if detail == nil {
		return []byte("null"), nil
	}
	return json.Marshal(detail)
}

func decodeDetail(raw []byte) (map[string]any, error) {
	if len(raw) == 0 {
		return nil, nil
	}
	var out map[string]any
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// normalizeTime stamps unset times with now and stores everything in UTC.
func normalizeTime(value time.Time) time.Time {
	if value.IsZero() {
		return time.Now().UTC()
	}
	return value.UTC()
}
