package realtime

import "sync"

type entry[T any] struct {
	seq     int64
	value   T
	deleted bool
}

// Snapshot is a keyed view reconciled by sequence number. A write older than the
// stored entry is discarded, so late fetch results cannot overwrite newer state.
type Snapshot[T any] struct {
	mu      sync.RWMutex
	entries map[string]entry[T]
}

// NewSnapshot returns an empty snapshot.
func NewSnapshot[T any]() *Snapshot[T] {
	return &Snapshot[T]{entries: make(map[string]entry[T])}
}

// Apply stores value under id unless a newer or equal sequence is already recorded.
func (s *Snapshot[T]) Apply(seq int64, id string, value T) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if cur, ok := s.entries[id]; ok && cur.seq >= seq {
		return false
	}
	s.entries[id] = entry[T]{seq: seq, value: value}
	return true
}

// Delete tombstones id at seq.
func (s *Snapshot[T]) Delete(seq int64, id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if cur, ok := s.entries[id]; ok && cur.seq >= seq {
		return false
	}
	var zero T
	s.entries[id] = entry[T]{seq: seq, value: zero, deleted: true}
	return true
}

// Get returns the live value stored under id.
func (s *Snapshot[T]) Get(id string) (T, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	e, ok := s.entries[id]
	if !ok || e.deleted {
		var zero T
		return zero, false
	}
	return e.value, true
}

// Values returns every live value in unspecified order.
func (s *Snapshot[T]) Values() []T {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]T, 0, len(s.entries))
	for _, e := range s.entries {
		if !e.deleted {
			out = append(out, e.value)
		}
	}
	return out
}

// Len counts live entries.
func (s *Snapshot[T]) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	n := 0
	for _, e := range s.entries {
		if !e.deleted {
			n++
		}
	}
	return n
}
