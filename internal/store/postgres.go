package store

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/codementor/integrity/internal/config"
	"github.com/codementor/integrity/internal/telemetry"
)

// PostgresStore keeps records in telemetry_events. Insertion order is the seq column.
type PostgresStore struct {
	db *pgxpool.Pool
}

func NewPostgresStore(ctx context.Context, cfg config.PostgresConfig) (*PostgresStore, error) {
	poolCfg, err := pgxpool.ParseConfig(cfg.DSN)
	if err != nil {
		return nil, err
	}
	if cfg.MaxConns > 0 {
		poolCfg.MaxConns = cfg.MaxConns
	}

	db, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, err
	}
	if err := db.Ping(ctx); err != nil {
		db.Close()
		return nil, err
	}
	return &PostgresStore{db: db}, nil
}

// Append inserts the batch in one transaction.
func (s *PostgresStore) Append(ctx context.Context, sessionID string, records []telemetry.Record) error {
	if !telemetry.ValidSessionID(sessionID) {
		return ErrInvalidSessionID
	}
	if len(records) == 0 {
		return nil
	}

	tx, err := s.db.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	batch := &pgx.Batch{}
	for _, r := range records {
		details, err := json.Marshal(r.Details)
		if err != nil {
			return fmt.Errorf("encode details: %w", err)
		}
		var client []byte
		if r.Client != nil {
			if client, err = json.Marshal(r.Client); err != nil {
				return fmt.Errorf("encode client info: %w", err)
			}
		}

		batch.Queue(`
			INSERT INTO telemetry_events (
				id, session_id, user_id, kind, details,
				client_time, received_at, server_flag, client
			) VALUES ($1, $2, $3, $4, $5::jsonb, $6, $7, $8, $9::jsonb)
		`,
			r.ID, sessionID, r.UserID, string(r.Kind), string(details),
			r.ClientTime, r.ReceivedAt, string(r.ServerFlag), nullableJSON(client),
		)
	}

	br := tx.SendBatch(ctx, batch)
	for range records {
		if _, err := br.Exec(); err != nil {
			br.Close()
			return err
		}
	}
	if err := br.Close(); err != nil {
		return err
	}
	return tx.Commit(ctx)
}

func (s *PostgresStore) Read(ctx context.Context, sessionID string) ([]telemetry.Record, error) {
	rows, err := s.db.Query(ctx, `
		SELECT id::text, session_id, user_id, kind, details::text,
			client_time, received_at, server_flag, client::text
		FROM telemetry_events
		WHERE session_id = $1
		ORDER BY seq
	`, sessionID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var records []telemetry.Record
	for rows.Next() {
		var (
			r       telemetry.Record
			kind    string
			flag    string
			details string
			client  *string
		)
		if err := rows.Scan(&r.ID, &r.SessionID, &r.UserID, &kind, &details,
			&r.ClientTime, &r.ReceivedAt, &flag, &client); err != nil {
			return nil, err
		}
		r.Kind = telemetry.Kind(kind)
		r.ServerFlag = telemetry.ServerFlag(flag)
		r.ReceivedAt = r.ReceivedAt.UTC()
		if err := json.Unmarshal([]byte(details), &r.Details); err != nil {
			return nil, fmt.Errorf("decode details: %w", err)
		}
		if client != nil {
			var ci telemetry.ClientInfo
			if err := json.Unmarshal([]byte(*client), &ci); err == nil {
				r.Client = &ci
			}
		}
		records = append(records, r)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	if len(records) == 0 {
		return nil, ErrNotFound
	}
	return records, nil
}

func (s *PostgresStore) Close() {
	s.db.Close()
}

func nullableJSON(b []byte) any {
	if b == nil {
		return nil
	}
	return string(b)
}
