// Package session keeps the per-session synthetic editor state that feeds the paste
// classifier across successive ingestion calls.
package session

import (
	"context"
	"sync"
	"time"

	"github.com/codementor/integrity/internal/classifier"
)

// State is the last observed synthetic state for a key. It never holds source text.
type State struct {
	Time     time.Time
	Length   int
	Newlines int
	Hash     string
	Events   int64
}

// Fresh reports whether the state was produced by GetOrInit for an unseen key.
func (s State) Fresh() bool {
	return s.Events == 0
}

// Snapshot returns the classifier view of the state.
func (s State) Snapshot() classifier.Snapshot {
	return classifier.Synthetic(s.Length, s.Newlines)
}

// Tracker stores State per key. GetOrInit has no side effects; Update overwrites.
type Tracker interface {
	GetOrInit(ctx context.Context, key string, now time.Time) (State, error)
	Update(ctx context.Context, key string, state State) error
}

// MemoryTracker is a process-local Tracker.
type MemoryTracker struct {
	mu     sync.RWMutex
	states map[string]State
}

// NewMemoryTracker returns an empty in-memory tracker.
func NewMemoryTracker() *MemoryTracker {
	return &MemoryTracker{states: make(map[string]State)}
}

// GetOrInit returns the stored state or {Time: now} when none exists.
func (t *MemoryTracker) GetOrInit(ctx context.Context, key string, now time.Time) (State, error) {
	t.mu.RLock()
	s, ok := t.states[key]
	t.mu.RUnlock()
	if !ok {
		return State{Time: now}, nil
	}
	return s, nil
}

// Update overwrites the state for key.
func (t *MemoryTracker) Update(ctx context.Context, key string, state State) error {
	t.mu.Lock()
	t.states[key] = state
	t.mu.Unlock()
	return nil
}

// Len returns the number of tracked keys.
func (t *MemoryTracker) Len() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.states)
}
