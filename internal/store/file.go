package store

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"hash/fnv"
	"io/fs"
	"os"
	"path/filepath"
	"sync"

	"github.com/rs/zerolog/log"

	"github.com/codementor/integrity/internal/telemetry"
)

const (
	lockStripes = 64
	// FlaggedFileName is the flag index file inside the store directory.
	FlaggedFileName = "flagged_events.jsonl"
	maxLineSize     = 16 << 20
)

// FileStore writes one JSON-lines file per session under dir.
type FileStore struct {
	dir   string
	locks [lockStripes]sync.Mutex
}

// NewFileStore creates dir if needed.
func NewFileStore(dir string) (*FileStore, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create store dir: %w", err)
	}
	return &FileStore{dir: dir}, nil
}

func (s *FileStore) lockFor(sessionID string) *sync.Mutex {
	h := fnv.New32a()
	h.Write([]byte(sessionID))
	return &s.locks[h.Sum32()%lockStripes]
}

func (s *FileStore) path(sessionID string) string {
	return filepath.Join(s.dir, sessionID+".jsonl")
}

// Append writes records with a single write call so a batch is never interleaved with
// another append to the same session.
func (s *FileStore) Append(ctx context.Context, sessionID string, records []telemetry.Record) error {
	if !telemetry.ValidSessionID(sessionID) {
		return ErrInvalidSessionID
	}
	if len(records) == 0 {
		return nil
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	buf, err := encodeLines(records)
	if err != nil {
		return err
	}

	mu := s.lockFor(sessionID)
	mu.Lock()
	defer mu.Unlock()

	return appendFile(s.path(sessionID), buf)
}

// Read returns the session's records in insertion order. Lines that fail to decode are
// skipped and logged.
func (s *FileStore) Read(ctx context.Context, sessionID string) ([]telemetry.Record, error) {
	if !telemetry.ValidSessionID(sessionID) {
		return nil, ErrNotFound
	}

	mu := s.lockFor(sessionID)
	mu.Lock()
	defer mu.Unlock()

	f, err := os.Open(s.path(sessionID))
	if errors.Is(err, fs.ErrNotExist) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var records []telemetry.Record
	err = scanLines(f, func(line []byte) {
		var r telemetry.Record
		if err := json.Unmarshal(line, &r); err != nil {
			log.Warn().Err(err).Str("session_id", sessionID).Msg("Skipping unreadable record")
			return
		}
		records = append(records, r)
	})
	if err != nil {
		return nil, err
	}
	if len(records) == 0 {
		return nil, ErrNotFound
	}
	return records, nil
}

// FileFlagIndex appends flagged entries to a single JSON-lines file.
type FileFlagIndex struct {
	path string
	mu   sync.Mutex
}

// NewFileFlagIndex stores entries in dir/flagged_events.jsonl.
func NewFileFlagIndex(dir string) (*FileFlagIndex, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create flag index dir: %w", err)
	}
	return &FileFlagIndex{path: filepath.Join(dir, FlaggedFileName)}, nil
}

func (x *FileFlagIndex) Index(ctx context.Context, entries []telemetry.FlaggedEntry) error {
	if len(entries) == 0 {
		return nil
	}
	buf, err := encodeLines(entries)
	if err != nil {
		return err
	}

	x.mu.Lock()
	defer x.mu.Unlock()
	return appendFile(x.path, buf)
}

// Entries returns every indexed entry in write order.
func (x *FileFlagIndex) Entries(ctx context.Context) ([]telemetry.FlaggedEntry, error) {
	x.mu.Lock()
	defer x.mu.Unlock()

	f, err := os.Open(x.path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var entries []telemetry.FlaggedEntry
	err = scanLines(f, func(line []byte) {
		var e telemetry.FlaggedEntry
		if err := json.Unmarshal(line, &e); err == nil {
			entries = append(entries, e)
		}
	})
	return entries, err
}

func encodeLines[T any](items []T) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	for _, it := range items {
		if err := enc.Encode(it); err != nil {
			return nil, fmt.Errorf("encode record: %w", err)
		}
	}
	return buf.Bytes(), nil
}

func appendFile(path string, data []byte) error {
	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return err
	}
	if _, err := f.Write(data); err != nil {
		f.Close()
		return err
	}
	if err := f.Sync(); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}

func scanLines(f *os.File, fn func(line []byte)) error {
	sc := bufio.NewScanner(f)
	sc.Buffer(make([]byte, 64*1024), maxLineSize)
	for sc.Scan() {
		line := bytes.TrimSpace(sc.Bytes())
		if len(line) == 0 {
			continue
		}
		fn(line)
	}
	return sc.Err()
}
