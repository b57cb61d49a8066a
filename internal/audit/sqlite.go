package audit

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	_ "modernc.org/sqlite"
)

// SQLiteStore is a durable append-only sink for audit events.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore opens (or creates) a SQLite database and runs migrations.
func NewSQLiteStore(path string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("audit store: open: %w", err)
	}

	// Enable WAL mode for better concurrent reads
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("audit store: wal: %w", err)
	}

	s := &SQLiteStore{db: db}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

func (s *SQLiteStore) migrate() error {
	_, err := s.db.Exec(`
		CREATE TABLE IF NOT EXISTS audit_events (
			id              INTEGER PRIMARY KEY AUTOINCREMENT,
			timestamp       TEXT NOT NULL,
			event_type      TEXT NOT NULL,
			user_id         TEXT NOT NULL DEFAULT '',
			channel_id      TEXT NOT NULL DEFAULT '',
			conversation_id TEXT NOT NULL DEFAULT '',
			ticket_id       INTEGER NOT NULL DEFAULT 0,
			workflow_state  TEXT NOT NULL DEFAULT '',
			action_taken    TEXT NOT NULL DEFAULT '',
			details         TEXT NOT NULL DEFAULT '{}'
		);

		CREATE INDEX IF NOT EXISTS idx_events_conversation ON audit_events(conversation_id);
		CREATE INDEX IF NOT EXISTS idx_events_type ON audit_events(event_type);
		CREATE INDEX IF NOT EXISTS idx_events_timestamp ON audit_events(timestamp);
	`)
	if err != nil {
		return fmt.Errorf("audit store: migrate: %w", err)
	}
	return nil
}

// Record appends an event. Implements Sink.
func (s *SQLiteStore) Record(e Event) error {
	details, _ := json.Marshal(e.Details)
	if e.Details == nil {
		details = []byte("{}")
	}

	_, err := s.db.Exec(`
		INSERT INTO audit_events (timestamp, event_type, user_id, channel_id, conversation_id, ticket_id, workflow_state, action_taken, details)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, e.Timestamp.Format(time.RFC3339Nano), e.Type, e.UserID, e.ChannelID, e.ConversationID,
		e.TicketID, e.WorkflowState, e.ActionTaken, string(details))
	if err != nil {
		return fmt.Errorf("audit store: record: %w", err)
	}
	return nil
}

// Query returns events matching the filter, oldest first.
func (s *SQLiteStore) Query(f Filter) ([]Event, error) {
	query := "SELECT timestamp, event_type, user_id, channel_id, conversation_id, ticket_id, workflow_state, action_taken, details FROM audit_events WHERE 1=1"
	var args []any

	if !f.Since.IsZero() {
		query += " AND timestamp >= ?"
		args = append(args, f.Since.Format(time.RFC3339Nano))
	}
	if f.Type != "" {
		query += " AND event_type = ?"
		args = append(args, f.Type)
	}
	if f.ConversationID != "" {
		query += " AND conversation_id = ?"
		args = append(args, f.ConversationID)
	}
	query += " ORDER BY id"
	if f.Limit > 0 {
		query += fmt.Sprintf(" LIMIT %d", f.Limit)
	}

	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("audit store: query: %w", err)
	}
	defer rows.Close()

	var events []Event
	for rows.Next() {
		var e Event
		var ts, details string
		if err := rows.Scan(&ts, &e.Type, &e.UserID, &e.ChannelID, &e.ConversationID,
			&e.TicketID, &e.WorkflowState, &e.ActionTaken, &details); err != nil {
			return nil, fmt.Errorf("audit store: scan: %w", err)
		}
		e.Timestamp, _ = time.Parse(time.RFC3339Nano, ts)
		json.Unmarshal([]byte(details), &e.Details)
		if len(e.Details) == 0 {
			e.Details = nil
		}
		events = append(events, e)
	}
	return events, rows.Err()
}

// Close releases the underlying database.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// DB returns the underlying database connection (for testing or direct access).
func (s *SQLiteStore) DB() *sql.DB {
	return s.db
}
