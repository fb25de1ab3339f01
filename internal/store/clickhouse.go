package store

import (
	"context"
	"time"

	"github.com/ClickHouse/clickhouse-go/v2"
	"github.com/ClickHouse/clickhouse-go/v2/lib/driver"

	"github.com/codementor/integrity/internal/config"
)

type ClickHouse struct {
	conn driver.Conn
}

// FlaggedRow represents a row in the flagged_events table
type FlaggedRow struct {
	RecordID       string
	SessionID      string
	UserID         string
	EventType      string
	Timestamp      time.Time
	TextLength     uint32
	TextHash       string
	ServerDetected uint8
}

const flaggedEventsDDL = `
	CREATE TABLE IF NOT EXISTS flagged_events (
		record_id String,
		session_id String,
		user_id String,
		event_type LowCardinality(String),
		timestamp DateTime64(3, 'UTC'),
		text_length UInt32,
		text_hash String,
		server_detected UInt8
	) ENGINE = ReplacingMergeTree
	ORDER BY (session_id, timestamp, record_id)
`

func NewClickHouse(cfg config.ClickHouseConfig) (*ClickHouse, error) {
	conn, err := clickhouse.Open(&clickhouse.Options{
		Addr: []string{cfg.Addr},
		Auth: clickhouse.Auth{
			Database: cfg.Database,
			Username: cfg.Username,
			Password: cfg.Password,
		},
		MaxOpenConns: cfg.MaxOpenConns,
		MaxIdleConns: cfg.MaxIdleConns,
	})
	if err != nil {
		return nil, err
	}

	if err := conn.Ping(context.Background()); err != nil {
		return nil, err
	}

	return &ClickHouse{conn: conn}, nil
}

// EnsureSchema creates flagged_events if it does not exist.
func (c *ClickHouse) EnsureSchema(ctx context.Context) error {
	return c.conn.Exec(ctx, flaggedEventsDDL)
}

// InsertFlagged writes rows in one batch. Replays of the same record collapse on
// record_id during merges.
func (c *ClickHouse) InsertFlagged(ctx context.Context, rows []FlaggedRow) error {
	if len(rows) == 0 {
		return nil
	}

	batch, err := c.conn.PrepareBatch(ctx, `
		INSERT INTO flagged_events (
			record_id, session_id, user_id, event_type, timestamp,
			text_length, text_hash, server_detected
		)
	`)
	if err != nil {
		return err
	}

	for _, r := range rows {
		err := batch.Append(
			r.RecordID, r.SessionID, r.UserID, r.EventType, r.Timestamp,
			r.TextLength, r.TextHash, r.ServerDetected,
		)
		if err != nil {
			return err
		}
	}

	return batch.Send()
}

func (c *ClickHouse) Close() error {
	return c.conn.Close()
}
