// Package transformer converts records into the flagged-event index shapes used by the
// review log, the Kafka stream and ClickHouse.
package transformer

import (
	"encoding/json"
	"errors"
	"math"
	"time"

	"github.com/google/uuid"

	"github.com/codementor/integrity/internal/classifier"
	"github.com/codementor/integrity/internal/store"
	"github.com/codementor/integrity/internal/telemetry"
)

// MinFlaggedPasteLen is the smallest declared paste that is indexed for review.
const MinFlaggedPasteLen = classifier.MinPasteLen

var errMissingSession = errors.New("transformer: flagged entry without session id")

// ShouldFlag reports whether a record belongs in the flagged index: a server-detected
// paste, or a declared paste of at least MinFlaggedPasteLen characters. Ordering
// anomalies alone are not indexed.
func ShouldFlag(r telemetry.Record) bool {
	if r.ServerFlag == telemetry.FlagServerDetectedPaste {
		return true
	}
	return r.Kind.IsDeclaredPaste() && r.Details.DeclaredLength() >= MinFlaggedPasteLen
}

// NewFlaggedEntry builds the index entry for r. Only lengths and hashes are copied.
func NewFlaggedEntry(r telemetry.Record) telemetry.FlaggedEntry {
	length := r.Details.DeclaredLength()
	if r.Details.TextLength > 0 {
		length = r.Details.TextLength
	}
	return telemetry.FlaggedEntry{
		RecordID:       r.ID,
		Timestamp:      r.ReceivedAt,
		SessionID:      r.SessionID,
		UserID:         r.UserID,
		Kind:           r.Kind,
		TextLength:     length,
		TextHash:       r.Details.TextHash,
		ServerDetected: r.ServerDetected(),
	}
}

// FlaggedEntries filters records down to index entries.
func FlaggedEntries(records []telemetry.Record) []telemetry.FlaggedEntry {
	var out []telemetry.FlaggedEntry
	for _, r := range records {
		if ShouldFlag(r) {
			out = append(out, NewFlaggedEntry(r))
		}
	}
	return out
}

// DecodeFlagged parses a flagged entry from the stream. Entries without a usable record
// id get a fresh one; a missing timestamp becomes now.
func DecodeFlagged(raw []byte) (telemetry.FlaggedEntry, error) {
	var e telemetry.FlaggedEntry
	if err := json.Unmarshal(raw, &e); err != nil {
		return e, err
	}
	if e.SessionID == "" {
		return e, errMissingSession
	}
	if _, err := uuid.Parse(e.RecordID); err != nil {
		e.RecordID = uuid.New().String()
	}
	if e.Timestamp.IsZero() {
		e.Timestamp = time.Now().UTC()
	}
	if e.TextLength < 0 {
		e.TextLength = 0
	}
	return e, nil
}

// ToFlaggedRow converts an entry to its ClickHouse row.
func ToFlaggedRow(e telemetry.FlaggedEntry) store.FlaggedRow {
	row := store.FlaggedRow{
		RecordID:   e.RecordID,
		SessionID:  e.SessionID,
		UserID:     e.UserID,
		EventType:  string(e.Kind),
		Timestamp:  e.Timestamp,
		TextLength: clampUint32(e.TextLength),
		TextHash:   e.TextHash,
	}
	if e.ServerDetected {
		row.ServerDetected = 1
	}
	return row
}

func clampUint32(n int) uint32 {
	if n <= 0 {
		return 0
	}
	if uint64(n) > math.MaxUint32 {
		return math.MaxUint32
	}
	return uint32(n)
}
