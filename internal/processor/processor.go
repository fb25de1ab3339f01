package processor

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/codementor/integrity/internal/config"
	"github.com/codementor/integrity/internal/store"
	"github.com/codementor/integrity/internal/transformer"
)

// FlaggedSink stores flagged rows for reviewer analytics.
type FlaggedSink interface {
	InsertFlagged(ctx context.Context, rows []store.FlaggedRow) error
}

// FlagProcessor buffers flagged entries from Kafka and writes them to the sink in
// batches, on size or on a timer.
type FlagProcessor struct {
	sink     FlaggedSink
	batchCfg config.BatchConfig

	buffer []store.FlaggedRow

	mu        sync.Mutex
	flushMu   sync.Mutex
	lastFlush time.Time
	ticker    *time.Ticker
	done      chan struct{}
	stopOnce  sync.Once
}

func NewFlagProcessor(sink FlaggedSink, batchCfg config.BatchConfig) *FlagProcessor {
	if batchCfg.Size <= 0 {
		batchCfg.Size = 500
	}
	if batchCfg.FlushInterval <= 0 {
		batchCfg.FlushInterval = 5 * time.Second
	}

	p := &FlagProcessor{
		sink:      sink,
		batchCfg:  batchCfg,
		buffer:    make([]store.FlaggedRow, 0, batchCfg.Size),
		lastFlush: time.Now(),
		done:      make(chan struct{}),
	}

	p.ticker = time.NewTicker(batchCfg.FlushInterval)
	go p.flushLoop()

	return p
}

// Process decodes one message value and buffers it.
func (p *FlagProcessor) Process(ctx context.Context, value []byte) error {
	entry, err := transformer.DecodeFlagged(value)
	if err != nil {
		return err
	}

	p.mu.Lock()
	p.buffer = append(p.buffer, transformer.ToFlaggedRow(entry))
	shouldFlush := len(p.buffer) >= p.batchCfg.Size
	p.mu.Unlock()

	if shouldFlush {
		p.Flush()
	}
	return nil
}

func (p *FlagProcessor) flushLoop() {
	for {
		select {
		case <-p.done:
			return
		case <-p.ticker.C:
			p.Flush()
		}
	}
}

// Flush writes everything buffered so far. Failed batches are logged and dropped; the
// event store remains the source of truth and entries can be rebuilt from it.
func (p *FlagProcessor) Flush() {
	p.flushMu.Lock()
	defer p.flushMu.Unlock()

	p.mu.Lock()
	if len(p.buffer) == 0 {
		p.mu.Unlock()
		return
	}
	rows := p.buffer
	p.buffer = make([]store.FlaggedRow, 0, p.batchCfg.Size)
	p.lastFlush = time.Now()
	p.mu.Unlock()

	start := time.Now()
	if err := p.sink.InsertFlagged(context.Background(), rows); err != nil {
		log.Error().Err(err).Int("count", len(rows)).Msg("Failed to insert flagged events")
		return
	}
	log.Info().
		Int("count", len(rows)).
		Dur("duration", time.Since(start)).
		Msg("Flushed flagged events to ClickHouse")
}

// Pending returns the number of buffered rows.
func (p *FlagProcessor) Pending() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.buffer)
}

// Stop ends the timer and flushes what is left.
func (p *FlagProcessor) Stop() {
	p.stopOnce.Do(func() {
		p.ticker.Stop()
		close(p.done)
		p.Flush()
	})
}
