// Package journal keeps an append-only history of update cycles and package
// outcomes in SQLite. Journal failures are logged by callers and never fail a
// cycle; the journal is bookkeeping, not ground truth (that is the state store).
package journal

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	_ "modernc.org/sqlite"
)

// Event types recorded by the orchestrator.
const (
	EventCycleStarted   = "cycle_started"
	EventCycleFinished  = "cycle_finished"
	EventPackageOutcome = "package_outcome"
)

// Event is one journal row.
type Event struct {
	ID        int64           `json:"id"`
	CycleID   string          `json:"cycle_id"`
	EventType string          `json:"event_type"`
	Timestamp time.Time       `json:"timestamp"`
	Payload   json.RawMessage `json:"payload,omitempty"`
}

// Journal is a SQLite-backed event log.
type Journal struct {
	db *sql.DB
	mu sync.Mutex
}

// Open creates or opens the journal database. Use ":memory:" for tests.
func Open(dbPath string) (*Journal, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open journal database: %w", err)
	}

	j := &Journal{db: db}
	if err := j.initialize(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("initialize journal schema: %w", err)
	}
	return j, nil
}

func (j *Journal) initialize() error {
	schema := `
	CREATE TABLE IF NOT EXISTS events (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		cycle_id TEXT NOT NULL,
		event_type TEXT NOT NULL,
		timestamp INTEGER NOT NULL,
		payload BLOB
	);
	CREATE INDEX IF NOT EXISTS idx_cycle_id ON events(cycle_id);
	CREATE INDEX IF NOT EXISTS idx_event_type ON events(event_type);
	`
	_, err := j.db.Exec(schema)
	return err
}

// Append adds one event. payload may be nil.
func (j *Journal) Append(ctx context.Context, cycleID, eventType string, payload any) error {
	j.mu.Lock()
	defer j.mu.Unlock()

	var payloadJSON []byte
	if payload != nil {
		var err error
		payloadJSON, err = json.Marshal(payload)
		if err != nil {
			return fmt.Errorf("marshal journal payload: %w", err)
		}
	}

	_, err := j.db.ExecContext(ctx,
		"INSERT INTO events (cycle_id, event_type, timestamp, payload) VALUES (?, ?, ?, ?)",
		cycleID, eventType, time.Now().Unix(), payloadJSON,
	)
	if err != nil {
		return fmt.Errorf("insert journal event: %w", err)
	}
	return nil
}

// ByCycle returns all events for one cycle in insertion order.
func (j *Journal) ByCycle(ctx context.Context, cycleID string) ([]Event, error) {
	j.mu.Lock()
	defer j.mu.Unlock()

	rows, err := j.db.QueryContext(ctx,
		"SELECT id, cycle_id, event_type, timestamp, payload FROM events WHERE cycle_id = ? ORDER BY id",
		cycleID,
	)
	if err != nil {
		return nil, fmt.Errorf("query journal events: %w", err)
	}
	defer rows.Close()

	return scanEvents(rows)
}

// Recent returns the most recent events, newest first, capped at limit.
func (j *Journal) Recent(ctx context.Context, limit int) ([]Event, error) {
	j.mu.Lock()
	defer j.mu.Unlock()

	rows, err := j.db.QueryContext(ctx,
		"SELECT id, cycle_id, event_type, timestamp, payload FROM events ORDER BY id DESC LIMIT ?",
		limit,
	)
	if err != nil {
		return nil, fmt.Errorf("query journal events: %w", err)
	}
	defer rows.Close()

	return scanEvents(rows)
}

func scanEvents(rows *sql.Rows) ([]Event, error) {
	var events []Event
	for rows.Next() {
		var e Event
		var ts int64
		var payload []byte
		if err := rows.Scan(&e.ID, &e.CycleID, &e.EventType, &ts, &payload); err != nil {
			return nil, fmt.Errorf("scan journal event: %w", err)
		}
		e.Timestamp = time.Unix(ts, 0)
		if len(payload) > 0 {
			e.Payload = json.RawMessage(payload)
		}
		events = append(events, e)
	}
	return events, rows.Err()
}

// Close releases the database handle.
func (j *Journal) Close() error {
	return j.db.Close()
}
