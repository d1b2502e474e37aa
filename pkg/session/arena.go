// Copyright 2026 © The Kairos Authors
// SPDX-License-Identifier: Apache-2.0

package session

import (
	"sync"
	"sync/atomic"

	kerrors "github.com/jllopis/capkernel/pkg/errors"
)

// streamSlot is one entry of the arena. mu serializes emitters on the
// stream; seq holds the last allocated sequence number and is only advanced
// while mu is held.
type streamSlot struct {
	id  StreamID
	mu  sync.Mutex
	seq atomic.Uint64
}

// arena is a fixed-capacity table of stream slots allocated with the
// session. Slots are claimed in order and never freed, so a *streamSlot
// stays valid for the session's lifetime.
type arena struct {
	slots []streamSlot

	mu    sync.RWMutex
	index map[StreamID]int
	used  int
}

func newArena(capacity int, preload []StreamID) *arena {
	if capacity < len(preload) {
		capacity = len(preload)
	}
	a := &arena{
		slots: make([]streamSlot, capacity),
		index: make(map[StreamID]int, capacity),
	}
	for _, id := range preload {
		a.slots[a.used].id = id
		a.index[id] = a.used
		a.used++
	}
	return a
}

// slot returns the slot for id, claiming a free one on first use.
func (a *arena) slot(id StreamID) (*streamSlot, error) {
	a.mu.RLock()
	i, ok := a.index[id]
	a.mu.RUnlock()
	if ok {
		return &a.slots[i], nil
	}

	a.mu.Lock()
	defer a.mu.Unlock()
	if i, ok = a.index[id]; ok {
		return &a.slots[i], nil
	}
	if a.used == len(a.slots) {
		return nil, kerrors.Newf(kerrors.CodeStreamCapacity, "stream arena full (%d streams)", len(a.slots)).
			WithContext("stream", string(id)).
			WithContext("capacity", len(a.slots))
	}
	i = a.used
	a.slots[i].id = id
	a.index[id] = i
	a.used++
	return &a.slots[i], nil
}

func (a *arena) snapshot() []StreamInfo {
	a.mu.RLock()
	defer a.mu.RUnlock()
	out := make([]StreamInfo, a.used)
	for i := range out {
		out[i] = StreamInfo{ID: a.slots[i].id, LastSequence: a.slots[i].seq.Load()}
	}
	return out
}

func (a *arena) capacity() int { return len(a.slots) }
