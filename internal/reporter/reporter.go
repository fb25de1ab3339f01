// Package reporter serves stored session records and suspicion summaries to review
// flows.
package reporter

import (
	"context"
	"errors"

	"github.com/codementor/integrity/internal/auth"
	"github.com/codementor/integrity/internal/store"
	"github.com/codementor/integrity/internal/telemetry"
	"github.com/codementor/integrity/internal/transformer"
)

var (
	// ErrNotFound is returned when a session has no records.
	ErrNotFound = store.ErrNotFound
	// ErrForbidden is returned when the caller may not read the session.
	ErrForbidden = errors.New("reporter: forbidden")
)

// SessionRecords is the read model for one session.
type SessionRecords struct {
	SessionID string             `json:"sessionId"`
	Events    []telemetry.Record `json:"events"`
}

type Reporter struct {
	events    store.EventStore
	reviewers auth.Roles
}

// New returns a reporter. Callers holding one of reviewers may read any session; others
// only sessions whose records were all submitted under their own user id.
func New(events store.EventStore, reviewers auth.Roles) *Reporter {
	return &Reporter{events: events, reviewers: reviewers}
}

// SessionRecords returns every record of the session in insertion order.
func (r *Reporter) SessionRecords(ctx context.Context, id auth.Identity, sessionID string) (SessionRecords, error) {
	records, err := r.load(ctx, id, sessionID)
	if err != nil {
		return SessionRecords{}, err
	}
	return SessionRecords{SessionID: sessionID, Events: records}, nil
}

// SessionSummary recomputes the suspicion summary from the stored records.
func (r *Reporter) SessionSummary(ctx context.Context, id auth.Identity, sessionID string) (telemetry.Summary, error) {
	records, err := r.load(ctx, id, sessionID)
	if err != nil {
		return telemetry.Summary{}, err
	}
	return telemetry.Summarize(sessionID, records), nil
}

// FlaggedRecords returns the records that would appear in the flagged index.
func (r *Reporter) FlaggedRecords(ctx context.Context, id auth.Identity, sessionID string) (SessionRecords, error) {
	records, err := r.load(ctx, id, sessionID)
	if err != nil {
		return SessionRecords{}, err
	}
	flagged := make([]telemetry.Record, 0, len(records))
	for _, rec := range records {
		if transformer.ShouldFlag(rec) {
			flagged = append(flagged, rec)
		}
	}
	return SessionRecords{SessionID: sessionID, Events: flagged}, nil
}

func (r *Reporter) load(ctx context.Context, id auth.Identity, sessionID string) ([]telemetry.Record, error) {
	if !telemetry.ValidSessionID(sessionID) {
		return nil, ErrNotFound
	}
	records, err := r.events.Read(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	if len(records) == 0 {
		return nil, ErrNotFound
	}
	if !r.canRead(id, records) {
		return nil, ErrForbidden
	}
	return records, nil
}

func (r *Reporter) canRead(id auth.Identity, records []telemetry.Record) bool {
	if r.reviewers.Allows(id) {
		return true
	}
	if id.UserID == "" {
		return false
	}
	for _, rec := range records {
		if rec.UserID != id.UserID {
			return false
		}
	}
	return true
}
