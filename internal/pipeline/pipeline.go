// Package pipeline validates telemetry batches, reconciles client-declared pastes with
// the classifier verdict, persists annotated records and keeps session state in step
// with what was persisted.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/codementor/integrity/internal/auth"
	"github.com/codementor/integrity/internal/classifier"
	"github.com/codementor/integrity/internal/session"
	"github.com/codementor/integrity/internal/store"
	"github.com/codementor/integrity/internal/telemetry"
	"github.com/codementor/integrity/internal/transformer"
)

var (
	// ErrInvalidRequest marks caller errors: empty batch, blank or mismatched session id.
	ErrInvalidRequest = errors.New("invalid request")
	// ErrPersistence marks batches that could not be durably recorded.
	ErrPersistence = errors.New("persistence failure")
)

type Status string

const (
	StatusOK      Status = "ok"
	StatusPartial Status = "partial"
)

const (
	msgBadOrdering      = "Events saved but timestamp validation failed."
	msgStateUnavailable = "Events saved without paste analysis: session state unavailable."
)

// Result is returned for every accepted batch.
type Result struct {
	Status  Status            `json:"status"`
	Message string            `json:"message,omitempty"`
	Summary telemetry.Summary `json:"summary"`
}

// Meta is per-request context attached to every record.
type Meta struct {
	Identity auth.Identity
	Client   *telemetry.ClientInfo
}

type Config struct {
	// MaxEvents caps a single batch; 0 means unlimited.
	MaxEvents int
	// LockWait bounds how long a batch waits for its session lock.
	LockWait time.Duration
}

type Pipeline struct {
	events  store.EventStore
	flags   store.FlagIndex
	tracker session.Tracker
	locker  session.Locker
	cfg     Config

	now   func() time.Time
	newID func() string
}

// New wires a pipeline. flags may be nil when no flagged index is configured.
func New(events store.EventStore, tracker session.Tracker, locker session.Locker, flags store.FlagIndex, cfg Config) *Pipeline {
	if cfg.LockWait <= 0 {
		cfg.LockWait = 5 * time.Second
	}
	return &Pipeline{
		events:  events,
		flags:   flags,
		tracker: tracker,
		locker:  locker,
		cfg:     cfg,
		now:     func() time.Time { return time.Now().UTC() },
		newID:   func() string { return uuid.New().String() },
	}
}

// SubmitEvent ingests a single event as a batch of one.
func (p *Pipeline) SubmitEvent(ctx context.Context, meta Meta, ev telemetry.Event) (Result, error) {
	return p.SubmitBatch(ctx, meta, telemetry.Batch{SessionID: ev.SessionID, Events: []telemetry.Event{ev}})
}

// SubmitBatch validates, classifies and persists a batch. Ordering problems and an
// unavailable session state produce StatusPartial; only ErrInvalidRequest and
// ErrPersistence are returned as errors.
func (p *Pipeline) SubmitBatch(ctx context.Context, meta Meta, batch telemetry.Batch) (Result, error) {
	if err := p.validate(batch); err != nil {
		return Result{}, err
	}
	sessionID := batch.SessionID
	receivedAt := p.now()

	records := make([]telemetry.Record, len(batch.Events))
	for i, ev := range batch.Events {
		records[i] = p.newRecord(meta, sessionID, ev, receivedAt)
	}

	times, ordered := clientTimes(batch.Events)
	if !ordered {
		for i := range records {
			records[i].ServerFlag = telemetry.FlagOutOfOrder
		}
		if err := p.persist(ctx, sessionID, records); err != nil {
			return Result{}, err
		}
		log.Warn().Str("session_id", sessionID).Int("count", len(records)).Msg("Batch failed timestamp validation")
		return Result{Status: StatusPartial, Message: msgBadOrdering, Summary: telemetry.Summarize(sessionID, records)}, nil
	}

	unlock, prev, err := p.acquire(ctx, sessionID, receivedAt)
	if err != nil {
		log.Warn().Err(err).Str("session_id", sessionID).Msg("Session state unavailable, skipping paste analysis")
		if err := p.persist(ctx, sessionID, records); err != nil {
			return Result{}, err
		}
		return Result{Status: StatusPartial, Message: msgStateUnavailable, Summary: telemetry.Summarize(sessionID, records)}, nil
	}
	defer unlock()

	state := prev
	for i := range records {
		var detected bool
		detected, state = advance(state, records[i], times[i])
		if detected {
			records[i].ServerFlag = telemetry.FlagServerDetectedPaste
		}
	}

	if err := p.persist(ctx, sessionID, records); err != nil {
		return Result{}, err
	}
	p.commitState(ctx, sessionID, state)

	return Result{Status: StatusOK, Summary: telemetry.Summarize(sessionID, records)}, nil
}

// Reset replaces the session's tracked state with a fresh one.
func (p *Pipeline) Reset(ctx context.Context, sessionID string) error {
	if !telemetry.ValidSessionID(sessionID) {
		return fmt.Errorf("%w: invalid sessionId", ErrInvalidRequest)
	}
	unlock, err := p.lock(ctx, sessionID)
	if err != nil {
		return err
	}
	defer unlock()
	return p.tracker.Update(ctx, sessionID, session.State{Time: p.now()})
}

func (p *Pipeline) validate(batch telemetry.Batch) error {
	if strings.TrimSpace(batch.SessionID) == "" {
		return fmt.Errorf("%w: missing sessionId", ErrInvalidRequest)
	}
	if len(batch.Events) == 0 {
		return fmt.Errorf("%w: empty batch", ErrInvalidRequest)
	}
	if !telemetry.ValidSessionID(batch.SessionID) {
		return fmt.Errorf("%w: invalid sessionId", ErrInvalidRequest)
	}
	if p.cfg.MaxEvents > 0 && len(batch.Events) > p.cfg.MaxEvents {
		return fmt.Errorf("%w: batch exceeds %d events", ErrInvalidRequest, p.cfg.MaxEvents)
	}
	for _, ev := range batch.Events {
		if ev.SessionID != batch.SessionID {
			return fmt.Errorf("%w: mismatched sessionId in events", ErrInvalidRequest)
		}
	}
	return nil
}

func (p *Pipeline) newRecord(meta Meta, sessionID string, ev telemetry.Event, receivedAt time.Time) telemetry.Record {
	return telemetry.Record{
		ID:         p.newID(),
		SessionID:  sessionID,
		UserID:     meta.Identity.UserID,
		Kind:       ev.Kind,
		Details:    ev.Details,
		ClientTime: ev.ClientTime,
		ReceivedAt: receivedAt,
		Client:     meta.Client,
	}
}

// clientTimes parses every client timestamp and reports whether all parsed and none
// precedes its predecessor.
func clientTimes(events []telemetry.Event) ([]time.Time, bool) {
	times := make([]time.Time, len(events))
	ordered := true
	for i, ev := range events {
		t, ok := telemetry.ParseClientTime(ev.ClientTime)
		if !ok {
			ordered = false
			continue
		}
		times[i] = t
		if i > 0 && !times[i-1].IsZero() && t.Before(times[i-1]) {
			ordered = false
		}
	}
	return times, ordered
}

// advance classifies one record against state and returns the verdict and the state
// after it. The record's declared length is taken as inserted characters.
func advance(state session.State, r telemetry.Record, at time.Time) (bool, session.State) {
	elapsed := elapsedSince(state, at)
	declared := r.Details.DeclaredLength()

	prev := state.Snapshot()
	cur := classifier.Synthetic(addLen(prev.Length, declared), prev.Newlines)

	detected, err := classifier.Classify(prev, cur, elapsed)
	if err != nil {
		log.Debug().Err(err).Str("session_id", r.SessionID).Msg("Classification failed, treating as typed")
		detected = false
	}
	if r.Kind.IsDeclaredPaste() && classifier.ConfirmsDeclaredPaste(declared, elapsed) {
		detected = true
	}

	next := session.State{
		Time:     at,
		Length:   cur.Length,
		Newlines: cur.Newlines,
		Hash:     state.Hash,
		Events:   state.Events + 1,
	}
	if r.Details.TextHash != "" {
		next.Hash = r.Details.TextHash
	}
	return detected, next
}

func elapsedSince(state session.State, at time.Time) time.Duration {
	if state.Fresh() || state.Time.IsZero() || at.IsZero() {
		return 0
	}
	d := at.Sub(state.Time)
	if d < 0 {
		return 0
	}
	return d
}

func addLen(a, b int) int {
	if b > math.MaxInt32-a {
		return math.MaxInt32
	}
	return a + b
}

func (p *Pipeline) lock(ctx context.Context, sessionID string) (func(), error) {
	lockCtx, cancel := context.WithTimeout(ctx, p.cfg.LockWait)
	defer cancel()
	return p.locker.Lock(lockCtx, sessionID)
}

// acquire takes the session lock and reads the prior state. On error nothing is held.
func (p *Pipeline) acquire(ctx context.Context, sessionID string, now time.Time) (func(), session.State, error) {
	unlock, err := p.lock(ctx, sessionID)
	if err != nil {
		return nil, session.State{}, err
	}
	prev, err := p.tracker.GetOrInit(ctx, sessionID, now)
	if err != nil {
		unlock()
		return nil, session.State{}, err
	}
	return unlock, prev, nil
}

// persist appends records and feeds the flagged index. Index failures are logged only.
func (p *Pipeline) persist(ctx context.Context, sessionID string, records []telemetry.Record) error {
	if err := p.events.Append(ctx, sessionID, records); err != nil {
		log.Error().Err(err).Str("session_id", sessionID).Int("count", len(records)).Msg("Failed to persist batch")
		return fmt.Errorf("%w: %v", ErrPersistence, err)
	}

	if p.flags == nil {
		return nil
	}
	entries := transformer.FlaggedEntries(records)
	if len(entries) == 0 {
		return nil
	}
	if err := p.flags.Index(context.WithoutCancel(ctx), entries); err != nil {
		log.Error().Err(err).Str("session_id", sessionID).Int("count", len(entries)).Msg("Failed to index flagged events")
	}
	return nil
}

// commitState runs after a successful append, so it ignores cancellation of ctx.
func (p *Pipeline) commitState(ctx context.Context, sessionID string, state session.State) {
	if err := p.tracker.Update(context.WithoutCancel(ctx), sessionID, state); err != nil {
		log.Error().Err(err).Str("session_id", sessionID).Msg("Failed to update session state")
	}
}
