package transformer

import (
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/codementor/integrity/internal/telemetry"
)

func TestShouldFlag(t *testing.T) {
	tests := []struct {
		name string
		r    telemetry.Record
		want bool
	}{
		{"plain keystroke", telemetry.Record{Kind: telemetry.KindKeystroke}, false},
		{"server detected", telemetry.Record{Kind: telemetry.KindTyping, ServerFlag: telemetry.FlagServerDetectedPaste}, true},
		{"out of order", telemetry.Record{Kind: telemetry.KindKeystroke, ServerFlag: telemetry.FlagOutOfOrder}, false},
		{"out of order declared paste", telemetry.Record{Kind: telemetry.KindPaste, ServerFlag: telemetry.FlagOutOfOrder, Details: telemetry.Details{TextLength: 200}}, true},
		{"large declared paste", telemetry.Record{Kind: telemetry.KindPaste, Details: telemetry.Details{TextLength: 10}}, true},
		{"small declared paste", telemetry.Record{Kind: telemetry.KindPaste, Details: telemetry.Details{TextLength: 9}}, false},
		{"unknown kind with length", telemetry.Record{Kind: "drop", Details: telemetry.Details{TextLength: 500}}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, ShouldFlag(tt.r))
		})
	}
}

func TestNewFlaggedEntry_CopiesMetadataOnly(t *testing.T) {
	at := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	r := telemetry.Record{
		ID:         "rec-1",
		SessionID:  "s-1",
		UserID:     "u-1",
		Kind:       telemetry.KindPaste,
		Details:    telemetry.Details{AddedLength: 20, TextLength: 120, TextHash: "deadbeef"},
		ReceivedAt: at,
		ServerFlag: telemetry.FlagServerDetectedPaste,
	}

	e := NewFlaggedEntry(r)
	assert.Equal(t, telemetry.FlaggedEntry{
		RecordID:       "rec-1",
		Timestamp:      at,
		SessionID:      "s-1",
		UserID:         "u-1",
		Kind:           telemetry.KindPaste,
		TextLength:     120,
		TextHash:       "deadbeef",
		ServerDetected: true,
	}, e)
}

func TestFlaggedEntries_Filters(t *testing.T) {
	records := []telemetry.Record{
		{ID: "a", Kind: telemetry.KindKeystroke},
		{ID: "b", Kind: telemetry.KindPaste, Details: telemetry.Details{TextLength: 64}},
		{ID: "c", Kind: telemetry.KindTyping, ServerFlag: telemetry.FlagServerDetectedPaste, Details: telemetry.Details{CharCount: 33}},
	}
	entries := FlaggedEntries(records)
	require.Len(t, entries, 2)
	assert.Equal(t, "b", entries[0].RecordID)
	assert.Equal(t, "c", entries[1].RecordID)
	assert.Equal(t, 33, entries[1].TextLength)
}

func TestDecodeFlagged(t *testing.T) {
	id := uuid.New().String()
	e, err := DecodeFlagged([]byte(`{"recordId":"` + id + `","sessionId":"s-1","type":"paste","textLength":90,"timestamp":"2026-03-01T12:00:00Z"}`))
	require.NoError(t, err)
	assert.Equal(t, id, e.RecordID)
	assert.Equal(t, 90, e.TextLength)

	e, err = DecodeFlagged([]byte(`{"recordId":"not-a-uuid","sessionId":"s-1","textLength":-3}`))
	require.NoError(t, err)
	_, perr := uuid.Parse(e.RecordID)
	assert.NoError(t, perr)
	assert.Zero(t, e.TextLength)
	assert.False(t, e.Timestamp.IsZero())

	_, err = DecodeFlagged([]byte(`{"recordId":"x"}`))
	assert.Error(t, err)
	_, err = DecodeFlagged([]byte(`not json`))
	assert.Error(t, err)
}

func TestToFlaggedRow(t *testing.T) {
	row := ToFlaggedRow(telemetry.FlaggedEntry{
		RecordID:       "r",
		SessionID:      "s",
		Kind:           telemetry.KindTyping,
		TextLength:     42,
		ServerDetected: true,
	})
	assert.Equal(t, "typing", row.EventType)
	assert.EqualValues(t, 42, row.TextLength)
	assert.EqualValues(t, 1, row.ServerDetected)
}
