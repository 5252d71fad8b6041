package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	_ "modernc.org/sqlite"

	"github.com/nudgeworks/nudge/internal/engine"
)

// SQLiteStore is the embedded persistence backend.
type SQLiteStore struct {
	db *sql.DB
}

const schema = `
CREATE TABLE IF NOT EXISTS kv (
    key TEXT PRIMARY KEY,
    value TEXT NOT NULL,
    updated_at INTEGER NOT NULL DEFAULT (unixepoch())
);

CREATE TABLE IF NOT EXISTS experiments (
    id TEXT PRIMARY KEY,
    definition TEXT NOT NULL,
    state TEXT NOT NULL DEFAULT 'running',
    winner_variant TEXT,
    created_at INTEGER NOT NULL DEFAULT (unixepoch()),
    updated_at INTEGER NOT NULL DEFAULT (unixepoch())
);

CREATE INDEX IF NOT EXISTS idx_experiments_state ON experiments(state);

CREATE TABLE IF NOT EXISTS events (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    experiment_id TEXT NOT NULL,
    variant_id TEXT NOT NULL,
    event_type TEXT NOT NULL,
    visitor_id TEXT NOT NULL,
    value REAL NOT NULL DEFAULT 0,
    created_at INTEGER NOT NULL DEFAULT (unixepoch()),
    FOREIGN KEY (experiment_id) REFERENCES experiments(id)
);

CREATE INDEX IF NOT EXISTS idx_events_experiment ON events(experiment_id);
CREATE INDEX IF NOT EXISTS idx_events_experiment_type ON events(experiment_id, event_type);
CREATE UNIQUE INDEX IF NOT EXISTS idx_events_dedup ON events(experiment_id, visitor_id, event_type);
`

// Open opens (creating if needed) the database at dbPath.
func Open(dbPath string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to enable WAL mode: %w", err)
	}

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to apply schema: %w", err)
	}

	return &SQLiteStore{db: db}, nil
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// DB exposes the underlying connection for health checks.
func (s *SQLiteStore) DB() *sql.DB {
	return s.db
}

// Get implements the KV port.
func (s *SQLiteStore) Get(key string) (string, bool, error) {
	var value string
	err := s.db.QueryRow(`SELECT value FROM kv WHERE key = ?`, key).Scan(&value)
	if err == sql.ErrNoRows {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("failed to read key: %w", err)
	}
	return value, true, nil
}

// Set implements the KV port.
func (s *SQLiteStore) Set(key, value string) error {
	_, err := s.db.Exec(
		`INSERT INTO kv (key, value, updated_at) VALUES (?, ?, unixepoch())
		 ON CONFLICT(key) DO UPDATE SET value = excluded.value, updated_at = excluded.updated_at`,
		key, value,
	)
	if err != nil {
		return fmt.Errorf("failed to write key: %w", err)
	}
	return nil
}

// SaveExperiment inserts or replaces a definition. Replacing keeps the
// row's state and winner: definitions change, lifecycle does not.
func (s *SQLiteStore) SaveExperiment(ctx context.Context, def engine.Experiment) error {
	raw, err := json.Marshal(def)
	if err != nil {
		return fmt.Errorf("failed to marshal definition: %w", err)
	}

	now := time.Now().Unix()
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO experiments (id, definition, state, created_at, updated_at)
		 VALUES (?, ?, 'running', ?, ?)
		 ON CONFLICT(id) DO UPDATE SET definition = excluded.definition, updated_at = excluded.updated_at`,
		def.ID, string(raw), now, now,
	)
	if err != nil {
		return fmt.Errorf("failed to save experiment: %w", err)
	}
	return nil
}

func (s *SQLiteStore) GetExperiment(ctx context.Context, id string) (*Record, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT definition, state, winner_variant, created_at, updated_at
		 FROM experiments WHERE id = ?`, id,
	)
	rec, err := scanRecord(row.Scan)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get experiment: %w", err)
	}
	return rec, nil
}

func (s *SQLiteStore) ListExperiments(ctx context.Context) ([]*Record, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT definition, state, winner_variant, created_at, updated_at
		 FROM experiments ORDER BY created_at DESC`,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to list experiments: %w", err)
	}
	defer rows.Close()

	var records []*Record
	for rows.Next() {
		rec, err := scanRecord(rows.Scan)
		if err != nil {
			return nil, fmt.Errorf("failed to scan experiment: %w", err)
		}
		records = append(records, rec)
	}
	return records, rows.Err()
}

func scanRecord(scan func(dest ...any) error) (*Record, error) {
	var (
		definition           string
		state                string
		winner               sql.NullString
		createdAt, updatedAt int64
	)
	if err := scan(&definition, &state, &winner, &createdAt, &updatedAt); err != nil {
		return nil, err
	}

	rec := &Record{
		State:     State(state),
		CreatedAt: time.Unix(createdAt, 0),
		UpdatedAt: time.Unix(updatedAt, 0),
	}
	if winner.Valid {
		rec.WinnerVariantID = winner.String
	}
	if err := json.Unmarshal([]byte(definition), &rec.Experiment); err != nil {
		return nil, fmt.Errorf("failed to unmarshal definition: %w", err)
	}
	return rec, nil
}

func (s *SQLiteStore) SetState(ctx context.Context, id string, state State) error {
	result, err := s.db.ExecContext(ctx,
		`UPDATE experiments SET state = ?, updated_at = unixepoch() WHERE id = ?`,
		string(state), id,
	)
	if err != nil {
		return fmt.Errorf("failed to update state: %w", err)
	}
	return requireRows(result)
}

// SetWinner records the winning variant and completes the experiment.
func (s *SQLiteStore) SetWinner(ctx context.Context, id, variantID string) error {
	result, err := s.db.ExecContext(ctx,
		`UPDATE experiments SET winner_variant = ?, state = 'completed', updated_at = unixepoch() WHERE id = ?`,
		variantID, id,
	)
	if err != nil {
		return fmt.Errorf("failed to set winner: %w", err)
	}
	return requireRows(result)
}

// Reopen clears the winner and returns the experiment to running.
func (s *SQLiteStore) Reopen(ctx context.Context, id string) error {
	result, err := s.db.ExecContext(ctx,
		`UPDATE experiments SET winner_variant = NULL, state = 'running', updated_at = unixepoch() WHERE id = ?`,
		id,
	)
	if err != nil {
		return fmt.Errorf("failed to reopen experiment: %w", err)
	}
	return requireRows(result)
}

func (s *SQLiteStore) DeleteExperiment(ctx context.Context, id string) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM events WHERE experiment_id = ?`, id); err != nil {
		return fmt.Errorf("failed to delete events: %w", err)
	}

	result, err := s.db.ExecContext(ctx, `DELETE FROM experiments WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("failed to delete experiment: %w", err)
	}
	return requireRows(result)
}

// RecordEvent appends a beacon event. The unique index makes repeat
// deliveries for the same (experiment, visitor, event type) no-ops, so a
// visitor counts at most once per counter.
func (s *SQLiteStore) RecordEvent(ctx context.Context, experimentID, variantID, eventType, visitorID string, value float64) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT OR IGNORE INTO events (experiment_id, variant_id, event_type, visitor_id, value, created_at)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		experimentID, variantID, eventType, visitorID, value, time.Now().Unix(),
	)
	if err != nil {
		return fmt.Errorf("failed to record event: %w", err)
	}
	return nil
}

// VariantCounts aggregates distinct visitors per variant and event type.
func (s *SQLiteStore) VariantCounts(ctx context.Context, experimentID string) (map[string]engine.Counters, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT
			variant_id,
			COUNT(DISTINCT CASE WHEN event_type = 'enroll' THEN visitor_id END) AS impressions,
			COUNT(DISTINCT CASE WHEN event_type = 'convert' THEN visitor_id END) AS conversions
		FROM events
		WHERE experiment_id = ?
		GROUP BY variant_id
	`, experimentID)
	if err != nil {
		return nil, fmt.Errorf("failed to aggregate counts: %w", err)
	}
	defer rows.Close()

	counts := make(map[string]engine.Counters)
	for rows.Next() {
		var variantID string
		var c engine.Counters
		if err := rows.Scan(&variantID, &c.Impressions, &c.Conversions); err != nil {
			return nil, fmt.Errorf("failed to scan counts: %w", err)
		}
		counts[variantID] = c
	}
	return counts, rows.Err()
}

func (s *SQLiteStore) DeleteEvents(ctx context.Context, experimentID string) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM events WHERE experiment_id = ?`, experimentID); err != nil {
		return fmt.Errorf("failed to delete events: %w", err)
	}
	return nil
}

func requireRows(result sql.Result) error {
	n, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}
