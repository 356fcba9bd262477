// Package eventstore persists the synthesis timeline to SQLite so that
// past sequences can be inspected after the fact.
package eventstore

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/ambiware-labs/staccato/internal/config"
	_ "modernc.org/sqlite"
)

// Event is one recorded step of a synthesis sequence.
type Event struct {
	ID         int64
	SequenceID string
	SessionID  string
	Type       string
	Payload    []byte
	CreatedAt  time.Time
}

// Event types written by the speak service.
const (
	EventSequenceStarted  = "sequence_started"
	EventChunkSynthesized = "chunk_synthesized"
	EventChunkFailed      = "chunk_failed"
	EventSequenceEnded    = "sequence_ended"
)

// Store wraps a SQLite-backed synthesis timeline. A disabled store is a
// valid value whose write methods are no-ops.
type Store struct {
	db    *sql.DB
	cfg   config.EventLogConfig
	log   *slog.Logger
	clock func() time.Time
}

// Open initializes the store. When the event log is disabled it returns
// a store without a database connection.
func Open(ctx context.Context, cfg config.EventLogConfig, log *slog.Logger) (*Store, error) {
	if !cfg.Enabled {
		return &Store{cfg: cfg, log: log, clock: time.Now}, nil
	}

	dir := filepath.Dir(cfg.Path)
	if dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create data dir: %w", err)
		}
	}

	dsn := fmt.Sprintf("file:%s?_pragma=journal_mode(WAL)&_pragma=foreign_keys(ON)", cfg.Path)
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping sqlite: %w", err)
	}

	s := &Store{db: db, cfg: cfg, log: log, clock: time.Now}

	if err := s.initSchema(ctx); err != nil {
		db.Close()
		return nil, err
	}

	if cfg.VacuumOnStart {
		if err := s.vacuum(ctx); err != nil {
			log.Warn("event log vacuum failed", slog.String("error", err.Error()))
		}
	}

	if err := s.Prune(ctx); err != nil {
		log.Warn("event log prune on start failed", slog.String("error", err.Error()))
	}

	return s, nil
}

func (s *Store) initSchema(ctx context.Context) error {
	if s.db == nil {
		return nil
	}
	ddl := `
CREATE TABLE IF NOT EXISTS sequences (
    sequence_id TEXT PRIMARY KEY,
    session_id TEXT,
    created_at TIMESTAMP NOT NULL
);
CREATE TABLE IF NOT EXISTS events (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    sequence_id TEXT NOT NULL,
    session_id TEXT,
    event_type TEXT,
    payload BLOB,
    created_at TIMESTAMP NOT NULL,
    FOREIGN KEY(sequence_id) REFERENCES sequences(sequence_id) ON DELETE CASCADE
);
CREATE INDEX IF NOT EXISTS idx_events_sequence_created ON events(sequence_id, created_at);
`
	_, err := s.db.ExecContext(ctx, ddl)
	return err
}

func (s *Store) vacuum(ctx context.Context) error {
	if s.db == nil {
		return nil
	}
	_, err := s.db.ExecContext(ctx, "VACUUM")
	return err
}

// Close releases underlying resources.
func (s *Store) Close() error {
	if s.db == nil {
		return nil
	}
	return s.db.Close()
}

// AppendSequence ensures a sequence row exists.
func (s *Store) AppendSequence(ctx context.Context, sequenceID, sessionID string) error {
	if s.db == nil {
		return nil
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO sequences(sequence_id, session_id, created_at)
		 VALUES(?, ?, ?)
		 ON CONFLICT(sequence_id) DO UPDATE SET session_id=excluded.session_id`,
		sequenceID, sessionID, s.clock().UTC())
	return err
}

// AppendEvent writes one timeline entry.
func (s *Store) AppendEvent(ctx context.Context, evt Event) error {
	if s.db == nil {
		return nil
	}
	if evt.CreatedAt.IsZero() {
		evt.CreatedAt = s.clock().UTC()
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO events(sequence_id, session_id, event_type, payload, created_at)
		 VALUES(?, ?, ?, ?, ?)`,
		evt.SequenceID, evt.SessionID, evt.Type, evt.Payload, evt.CreatedAt)
	return err
}

// ListSequenceEvents retrieves up to limit events for one sequence in
// ascending time order.
func (s *Store) ListSequenceEvents(ctx context.Context, sequenceID string, limit int) ([]Event, error) {
	if s.db == nil {
		return nil, nil
	}
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, sequence_id, session_id, event_type, payload, created_at
		 FROM events WHERE sequence_id = ? ORDER BY created_at ASC, id ASC LIMIT ?`, sequenceID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var events []Event
	for rows.Next() {
		var e Event
		var created string
		if err := rows.Scan(&e.ID, &e.SequenceID, &e.SessionID, &e.Type, &e.Payload, &created); err != nil {
			return nil, err
		}
		if ts, err := time.Parse(time.RFC3339Nano, created); err == nil {
			e.CreatedAt = ts
		}
		events = append(events, e)
	}
	return events, rows.Err()
}

// Prune applies the configured retention window.
func (s *Store) Prune(ctx context.Context) error {
	if s.db == nil || s.cfg.RetentionDays <= 0 {
		return nil
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() {
		if err != nil {
			tx.Rollback()
		}
	}()

	cutoff := s.clock().Add(-time.Duration(s.cfg.RetentionDays) * 24 * time.Hour).UTC()
	if _, err = tx.ExecContext(ctx, `DELETE FROM events WHERE created_at < ?`, cutoff); err != nil {
		return err
	}
	if _, err = tx.ExecContext(ctx, `DELETE FROM sequences WHERE created_at < ?`, cutoff); err != nil {
		return err
	}
	err = tx.Commit()
	return err
}
