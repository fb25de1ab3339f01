package reporter

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/codementor/integrity/internal/auth"
	"github.com/codementor/integrity/internal/store"
	"github.com/codementor/integrity/internal/telemetry"
)

var (
	owner      = auth.Identity{UserID: "u-1", Role: "student"}
	classmate  = auth.Identity{UserID: "u-2", Role: "student"}
	instructor = auth.Identity{UserID: "t-1", Role: "instructor"}
)

func seed(t *testing.T) *Reporter {
	t.Helper()
	events, err := store.NewFileStore(t.TempDir())
	require.NoError(t, err)

	at := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	require.NoError(t, events.Append(context.Background(), "s-1", []telemetry.Record{
		{ID: "r1", SessionID: "s-1", UserID: "u-1", Kind: telemetry.KindKeystroke, Details: telemetry.Details{CharCount: 1}, ReceivedAt: at},
		{ID: "r2", SessionID: "s-1", UserID: "u-1", Kind: telemetry.KindPaste, Details: telemetry.Details{TextLength: 80, TextHash: "h"}, ReceivedAt: at},
		{ID: "r3", SessionID: "s-1", UserID: "u-1", Kind: telemetry.KindTyping, ServerFlag: telemetry.FlagServerDetectedPaste, ReceivedAt: at},
		{ID: "r4", SessionID: "s-1", UserID: "u-1", Kind: telemetry.KindPaste, Details: telemetry.Details{TextLength: 3}, ReceivedAt: at},
	}))
	return New(events, auth.NewRoles([]string{"admin", "instructor", "university"}))
}

func TestSessionRecords_InsertionOrder(t *testing.T) {
	r := seed(t)
	got, err := r.SessionRecords(context.Background(), owner, "s-1")
	require.NoError(t, err)
	assert.Equal(t, "s-1", got.SessionID)

	var ids []string
	for _, rec := range got.Events {
		ids = append(ids, rec.ID)
	}
	assert.Equal(t, []string{"r1", "r2", "r3", "r4"}, ids)
}

func TestSessionRecords_NotFound(t *testing.T) {
	r := seed(t)
	for _, id := range []string{"unknown", "", "../s-1"} {
		_, err := r.SessionRecords(context.Background(), instructor, id)
		assert.True(t, errors.Is(err, ErrNotFound), "session %q", id)
	}
}

func TestAccessControl(t *testing.T) {
	r := seed(t)
	ctx := context.Background()

	_, err := r.SessionRecords(ctx, instructor, "s-1")
	assert.NoError(t, err)
	_, err = r.SessionSummary(ctx, auth.Identity{UserID: "a", Role: "admin"}, "s-1")
	assert.NoError(t, err)

	_, err = r.SessionRecords(ctx, classmate, "s-1")
	assert.ErrorIs(t, err, ErrForbidden)
	_, err = r.FlaggedRecords(ctx, auth.Identity{}, "s-1")
	assert.ErrorIs(t, err, ErrForbidden)
}

func TestSessionSummary(t *testing.T) {
	r := seed(t)
	s, err := r.SessionSummary(context.Background(), owner, "s-1")
	require.NoError(t, err)

	assert.Equal(t, 4, s.Received)
	assert.Equal(t, 2, s.Keystrokes)
	assert.Equal(t, 2, s.PasteEvents)
	assert.Equal(t, 83, s.PastedChars)
	assert.Equal(t, 1, s.ServerDetectedPastes)
	assert.Equal(t, 1, s.SuspiciousEvents)
}

func TestFlaggedRecords(t *testing.T) {
	r := seed(t)
	got, err := r.FlaggedRecords(context.Background(), instructor, "s-1")
	require.NoError(t, err)
	require.Len(t, got.Events, 2)
	assert.Equal(t, "r2", got.Events[0].ID)
	assert.Equal(t, "r3", got.Events[1].ID)
}

func TestFlaggedRecords_SkipsOrderingAnomalies(t *testing.T) {
	events, err := store.NewFileStore(t.TempDir())
	require.NoError(t, err)
	at := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	require.NoError(t, events.Append(context.Background(), "s-2", []telemetry.Record{
		{ID: "k1", SessionID: "s-2", UserID: "u-1", Kind: telemetry.KindKeystroke, ServerFlag: telemetry.FlagOutOfOrder, Details: telemetry.Details{CharCount: 1}, ReceivedAt: at},
		{ID: "p1", SessionID: "s-2", UserID: "u-1", Kind: telemetry.KindPaste, ServerFlag: telemetry.FlagOutOfOrder, Details: telemetry.Details{TextLength: 120}, ReceivedAt: at},
	}))

	got, err := New(events, auth.NewRoles([]string{"instructor"})).FlaggedRecords(context.Background(), instructor, "s-2")
	require.NoError(t, err)
	require.Len(t, got.Events, 1)
	assert.Equal(t, "p1", got.Events[0].ID)
}
