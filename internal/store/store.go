// Package store persists annotated telemetry records per session and the cross-session
// index of flagged records.
package store

import (
	"context"
	"errors"

	"github.com/codementor/integrity/internal/telemetry"
)

var (
	// ErrNotFound is returned by Read when a session has no records.
	ErrNotFound = errors.New("store: session not found")
	// ErrInvalidSessionID is returned for ids that cannot be used as storage keys.
	ErrInvalidSessionID = errors.New("store: invalid session id")
)

// EventStore is an append-only log of records keyed by session. Appends for the same
// session are serialized and a batch is written as one unit; Read returns records in
// insertion order.
type EventStore interface {
	Append(ctx context.Context, sessionID string, records []telemetry.Record) error
	Read(ctx context.Context, sessionID string) ([]telemetry.Record, error)
}

// FlagIndex receives reviewer-facing entries for suspicious records.
type FlagIndex interface {
	Index(ctx context.Context, entries []telemetry.FlaggedEntry) error
}

// MultiIndex fans entries out to every index and returns the first error.
type MultiIndex []FlagIndex

func (m MultiIndex) Index(ctx context.Context, entries []telemetry.FlaggedEntry) error {
	var first error
	for _, idx := range m {
		if err := idx.Index(ctx, entries); err != nil && first == nil {
			first = err
		}
	}
	return first
}
