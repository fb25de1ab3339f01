package pipeline

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"strconv"

	"github.com/rs/zerolog/log"

	"github.com/codementor/integrity/internal/classifier"
	"github.com/codementor/integrity/internal/session"
	"github.com/codementor/integrity/internal/telemetry"
)

// Snapshot is the full editor content posted by clients that report whole documents
// instead of edit events. Code is classified and hashed, then dropped.
type Snapshot struct {
	SessionID  string         `json:"sessionId"`
	Action     telemetry.Kind `json:"action"`
	Code       string         `json:"code"`
	Language   string         `json:"language"`
	ClientTime string         `json:"clientTime"`
}

type SnapshotResult struct {
	Status        Status `json:"status"`
	PasteDetected bool   `json:"pasteDetected"`
}

// TrackSnapshot classifies the change from the session's previous synthetic state to
// snap.Code and records a single length-and-hash record for it. The record's charCount
// is the number of characters the snapshot added; the whole document length is kept
// under documentLength.
//
// A snapshot whose client time does not parse is stored with the bad-timestamp flag,
// skips classification and leaves session state untouched, the same as an anomalous
// batch.
func (p *Pipeline) TrackSnapshot(ctx context.Context, meta Meta, snap Snapshot) (SnapshotResult, error) {
	if !telemetry.ValidSessionID(snap.SessionID) {
		return SnapshotResult{}, fmt.Errorf("%w: invalid sessionId", ErrInvalidRequest)
	}
	if snap.Action == "" {
		snap.Action = telemetry.KindTyping
	}

	receivedAt := p.now()
	cur := classifier.FromText(snap.Code)
	sum := sha256.Sum256([]byte(snap.Code))
	hash := hex.EncodeToString(sum[:])

	details := telemetry.Details{
		TextHash: hash,
		Extra:    map[string]json.RawMessage{"documentLength": json.RawMessage(strconv.Itoa(cur.Length))},
	}
	if snap.Language != "" {
		lang, _ := json.Marshal(snap.Language)
		details.Extra["language"] = lang
	}

	record := p.newRecord(meta, snap.SessionID, telemetry.Event{
		SessionID:  snap.SessionID,
		Kind:       snap.Action,
		Details:    details,
		ClientTime: snap.ClientTime,
	}, receivedAt)

	at, ok := telemetry.ParseClientTime(snap.ClientTime)
	if !ok {
		record.ServerFlag = telemetry.FlagOutOfOrder
		if err := p.persist(ctx, snap.SessionID, []telemetry.Record{record}); err != nil {
			return SnapshotResult{}, err
		}
		log.Warn().Str("session_id", snap.SessionID).Msg("Snapshot failed timestamp validation")
		return SnapshotResult{Status: StatusPartial}, nil
	}

	unlock, prev, err := p.acquire(ctx, snap.SessionID, receivedAt)
	if err != nil {
		log.Warn().Err(err).Str("session_id", snap.SessionID).Msg("Session state unavailable, skipping paste analysis")
		if err := p.persist(ctx, snap.SessionID, []telemetry.Record{record}); err != nil {
			return SnapshotResult{}, err
		}
		return SnapshotResult{Status: StatusPartial}, nil
	}
	defer unlock()

	prevSnap := prev.Snapshot()
	elapsed := elapsedSince(prev, at)
	detected := classifier.LooksLikePaste(prevSnap, cur, elapsed)

	if added := cur.Length - prevSnap.Length; added > 0 {
		record.Details.CharCount = added
		record.Details.AddedLength = added
		if snap.Action.IsDeclaredPaste() && classifier.ConfirmsDeclaredPaste(added, elapsed) {
			detected = true
		}
	}
	if detected {
		record.ServerFlag = telemetry.FlagServerDetectedPaste
	}

	if err := p.persist(ctx, snap.SessionID, []telemetry.Record{record}); err != nil {
		return SnapshotResult{}, err
	}
	p.commitState(ctx, snap.SessionID, session.State{
		Time:     at,
		Length:   cur.Length,
		Newlines: cur.Newlines,
		Hash:     hash,
		Events:   prev.Events + 1,
	})

	return SnapshotResult{Status: StatusOK, PasteDetected: detected}, nil
}
