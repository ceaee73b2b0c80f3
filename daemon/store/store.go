// SPDX-License-Identifier: LGPL-3.0-or-later

// Package store persists an append-only audit trail of action lifecycle
// events to SQLite. It is a history log, not a durable queue: on
// restart the MainLoop always starts with an empty queue, and nothing
// here is read back to reconstruct scheduler state.
package store

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"actionloop/daemon/models"
	"actionloop/logger"
	"actionloop/mainloop"
)

// EventStore records action lifecycle events for later querying.
type EventStore interface {
	RecordEvent(actionID, eventType string, details map[string]interface{}) error
	GetEvents(actionID string) ([]Event, error)
	ListRecentEvents(limit int) ([]Event, error)
	GetStatistics() (*Statistics, error)
	Close() error
}

// Event is a single recorded lifecycle event.
type Event struct {
	ID        int64     `json:"id"`
	ActionID  string    `json:"action_id"`
	EventType string    `json:"event_type"`
	Details   string    `json:"details,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// Statistics summarizes the event log by outcome.
type Statistics struct {
	Total     int
	Completed int
	Failed    int
	Cancelled int
}

// SQLiteStore implements EventStore using SQLite.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore opens (creating if needed) a SQLite-backed event log
// at dbPath.
func NewSQLiteStore(dbPath string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite3", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("enable WAL mode: %w", err)
	}

	store := &SQLiteStore{db: db}
	if err := store.initSchema(); err != nil {
		db.Close()
		return nil, err
	}

	return store, nil
}

func (s *SQLiteStore) initSchema() error {
	schema := `
	CREATE TABLE IF NOT EXISTS action_events (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		action_id TEXT NOT NULL,
		event_type TEXT NOT NULL,
		details TEXT,
		timestamp TIMESTAMP NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_action_events_action_id ON action_events(action_id);
	CREATE INDEX IF NOT EXISTS idx_action_events_timestamp ON action_events(timestamp DESC);
	CREATE INDEX IF NOT EXISTS idx_action_events_type ON action_events(event_type);
	`

	_, err := s.db.Exec(schema)
	if err != nil {
		return fmt.Errorf("create schema: %w", err)
	}
	return nil
}

// RecordEvent appends one event to the log.
func (s *SQLiteStore) RecordEvent(actionID, eventType string, details map[string]interface{}) error {
	detailsJSON, err := json.Marshal(details)
	if err != nil {
		return fmt.Errorf("marshal details: %w", err)
	}

	_, err = s.db.Exec(
		"INSERT INTO action_events (action_id, event_type, details, timestamp) VALUES (?, ?, ?, ?)",
		actionID, eventType, string(detailsJSON), time.Now(),
	)
	if err != nil {
		return fmt.Errorf("insert event: %w", err)
	}
	return nil
}

// GetEvents returns every recorded event for actionID, oldest first.
func (s *SQLiteStore) GetEvents(actionID string) ([]Event, error) {
	rows, err := s.db.Query(
		"SELECT id, action_id, event_type, details, timestamp FROM action_events WHERE action_id = ? ORDER BY timestamp ASC",
		actionID,
	)
	if err != nil {
		return nil, fmt.Errorf("query events: %w", err)
	}
	defer rows.Close()

	return scanEvents(rows)
}

// ListRecentEvents returns up to limit of the most recently recorded
// events across all actions, newest first.
func (s *SQLiteStore) ListRecentEvents(limit int) ([]Event, error) {
	if limit <= 0 {
		limit = 100
	}

	rows, err := s.db.Query(
		"SELECT id, action_id, event_type, details, timestamp FROM action_events ORDER BY timestamp DESC LIMIT ?",
		limit,
	)
	if err != nil {
		return nil, fmt.Errorf("query events: %w", err)
	}
	defer rows.Close()

	return scanEvents(rows)
}

func scanEvents(rows *sql.Rows) ([]Event, error) {
	var events []Event
	for rows.Next() {
		var e Event
		var details sql.NullString
		if err := rows.Scan(&e.ID, &e.ActionID, &e.EventType, &details, &e.Timestamp); err != nil {
			return nil, fmt.Errorf("scan event: %w", err)
		}
		e.Details = details.String
		events = append(events, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate rows: %w", err)
	}
	return events, nil
}

// GetStatistics tallies terminal-event counts recorded so far.
func (s *SQLiteStore) GetStatistics() (*Statistics, error) {
	query := `
		SELECT
			SUM(CASE WHEN event_type = 'completed' THEN 1 ELSE 0 END),
			SUM(CASE WHEN event_type = 'failed' THEN 1 ELSE 0 END),
			SUM(CASE WHEN event_type = 'cancelled' THEN 1 ELSE 0 END)
		FROM action_events
	`

	var completed, failed, cancelled sql.NullInt64
	if err := s.db.QueryRow(query).Scan(&completed, &failed, &cancelled); err != nil {
		return nil, fmt.Errorf("get statistics: %w", err)
	}

	stats := &Statistics{
		Completed: int(completed.Int64),
		Failed:    int(failed.Int64),
		Cancelled: int(cancelled.Int64),
	}
	stats.Total = stats.Completed + stats.Failed + stats.Cancelled
	return stats, nil
}

// Close closes the underlying database connection.
func (s *SQLiteStore) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}

// recordFor resolves a mainloop.Action back to the ActionRecord the
// daemon is tracking for it, the same shape daemon/jobs.Manager keeps.
type recordFor func(mainloop.Action) *models.ActionRecord

// Attach subscribes store to loop's signal bus so every job transition
// is appended to the audit log without the caller wiring each call
// site by hand.
func Attach(store EventStore, loop *mainloop.MainLoop, lookup recordFor, log interface{ Warn(string, ...interface{}) }) {
	record := func(job *mainloop.Job, eventType string, extra map[string]interface{}) {
		rec := lookup(job.Action())
		id := job.Action().Name()
		if rec != nil {
			id = rec.Definition.ID
		}
		if err := store.RecordEvent(id, eventType, extra); err != nil && log != nil {
			fields := append(logger.EventFields(id, eventType), "error", err)
			log.Warn("failed to record action event", fields...)
		}
	}

	loop.On(mainloop.EventJobStarted, func(args ...interface{}) {
		job := args[0].(*mainloop.Job)
		record(job, "started", nil)
	})
	loop.On(mainloop.EventJobSucceeded, func(args ...interface{}) {
		job := args[0].(*mainloop.Job)
		record(job, "completed", nil)
	})
	loop.On(mainloop.EventJobAborted, func(args ...interface{}) {
		job := args[0].(*mainloop.Job)
		actionErr, _ := args[1].(error)
		details := map[string]interface{}{}
		if actionErr != nil {
			details["error"] = actionErr.Error()
		}
		record(job, "failed", details)
	})
}
