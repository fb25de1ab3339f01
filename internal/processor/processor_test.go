package processor

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/codementor/integrity/internal/config"
	"github.com/codementor/integrity/internal/store"
	"github.com/codementor/integrity/internal/telemetry"
)

type fakeSink struct {
	mu      sync.Mutex
	batches [][]store.FlaggedRow
	err     error
}

func (s *fakeSink) InsertFlagged(ctx context.Context, rows []store.FlaggedRow) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return s.err
	}
	s.batches = append(s.batches, rows)
	return nil
}

func (s *fakeSink) rows() []store.FlaggedRow {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []store.FlaggedRow
	for _, b := range s.batches {
		out = append(out, b...)
	}
	return out
}

func message(t *testing.T, sessionID string, length int) []byte {
	t.Helper()
	data, err := json.Marshal(telemetry.FlaggedEntry{
		RecordID:       "7f8b3c1e-9d2a-4c5b-8e6f-1a2b3c4d5e6f",
		SessionID:      sessionID,
		UserID:         "u-1",
		Kind:           telemetry.KindKeystroke,
		Timestamp:      time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC),
		TextLength:     length,
		TextHash:       "h",
		ServerDetected: true,
	})
	require.NoError(t, err)
	return data
}

func TestProcess_FlushesOnBatchSize(t *testing.T) {
	sink := &fakeSink{}
	p := NewFlagProcessor(sink, config.BatchConfig{Size: 2, FlushInterval: time.Hour})
	defer p.Stop()

	ctx := context.Background()
	require.NoError(t, p.Process(ctx, message(t, "s-1", 40)))
	assert.Empty(t, sink.rows())
	assert.Equal(t, 1, p.Pending())

	require.NoError(t, p.Process(ctx, message(t, "s-2", 80)))
	rows := sink.rows()
	require.Len(t, rows, 2)
	assert.Equal(t, "s-1", rows[0].SessionID)
	assert.Equal(t, uint32(80), rows[1].TextLength)
	assert.Equal(t, uint8(1), rows[1].ServerDetected)
	assert.Equal(t, "keystroke", rows[1].EventType)
	assert.Equal(t, 0, p.Pending())
}

func TestProcess_RejectsUndecodable(t *testing.T) {
	sink := &fakeSink{}
	p := NewFlagProcessor(sink, config.BatchConfig{Size: 10, FlushInterval: time.Hour})
	defer p.Stop()

	assert.Error(t, p.Process(context.Background(), []byte("not json")))
	assert.Error(t, p.Process(context.Background(), []byte(`{"recordId":"x"}`)))
	assert.Equal(t, 0, p.Pending())
}

func TestFlushOnInterval(t *testing.T) {
	sink := &fakeSink{}
	p := NewFlagProcessor(sink, config.BatchConfig{Size: 100, FlushInterval: 20 * time.Millisecond})
	defer p.Stop()

	require.NoError(t, p.Process(context.Background(), message(t, "s-1", 40)))
	assert.Eventually(t, func() bool { return len(sink.rows()) == 1 }, time.Second, 10*time.Millisecond)
}

func TestStopFlushesRemainder(t *testing.T) {
	sink := &fakeSink{}
	p := NewFlagProcessor(sink, config.BatchConfig{Size: 100, FlushInterval: time.Hour})

	require.NoError(t, p.Process(context.Background(), message(t, "s-1", 40)))
	p.Stop()
	p.Stop()
	assert.Len(t, sink.rows(), 1)
}

func TestFlushFailureDropsBatch(t *testing.T) {
	sink := &fakeSink{err: assert.AnError}
	p := NewFlagProcessor(sink, config.BatchConfig{Size: 100, FlushInterval: time.Hour})
	defer p.Stop()

	require.NoError(t, p.Process(context.Background(), message(t, "s-1", 40)))
	p.Flush()
	assert.Equal(t, 0, p.Pending())
}
