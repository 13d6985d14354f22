package storage

import (
	"database/sql"
	"fmt"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"github.com/rs/zerolog"

	"github.com/afroash/temper-node/internal/models"
)

const timeLayout = "2006-01-02 15:04:05"

// Journal records every outbound notification attempt.
type Journal interface {
	Close() error
	Migrate() error
	Insert(event *Event) error
	InsertBatch(events []*Event) error
	Recent(limit int) ([]*Event, error)
	DeleteOlderThan(days int) (int64, error)
	KeepNewest(n int) (int64, error)
	Stats() (*JournalStats, error)
}

// Compile-time interface check
var _ Journal = (*SQLiteJournal)(nil)

// Event is one delivery attempt.
type Event struct {
	ID             int64                   `json:"id"`
	NotificationID string                  `json:"notification_id"`
	Kind           models.NotificationKind `json:"kind"`
	Sink           string                  `json:"sink"`
	Delivered      bool                    `json:"delivered"`
	Error          string                  `json:"error,omitempty"`
	Payload        string                  `json:"payload"`
	RecordedAt     time.Time               `json:"recorded_at"`
}

// JournalStats contains information about the journal database
type JournalStats struct {
	TotalEvents    int64     `json:"total_events"`
	FailedEvents   int64     `json:"failed_events"`
	OldestEvent    time.Time `json:"oldest_event,omitempty"`
	NewestEvent    time.Time `json:"newest_event,omitempty"`
	DatabaseSizeMB float64   `json:"database_size_mb"`
}

// SQLiteJournal stores events in a local SQLite file
type SQLiteJournal struct {
	db     *sql.DB
	logger zerolog.Logger
}

// NewSQLiteJournal opens (or creates) the journal at dbPath
func NewSQLiteJournal(dbPath string, logger zerolog.Logger) (*SQLiteJournal, error) {
	db, err := sql.Open("sqlite3", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA synchronous=NORMAL",
		"PRAGMA temp_store=MEMORY",
	}
	for _, pragma := range pragmas {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, fmt.Errorf("failed to set pragma %q: %w", pragma, err)
		}
	}

	// single writer
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	j := &SQLiteJournal{
		db:     db,
		logger: logger,
	}

	if err := j.Migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}

	logger.Info().Str("path", dbPath).Msg("Notification journal initialized")
	return j, nil
}

// Close closes the database connection
func (j *SQLiteJournal) Close() error {
	if j.db != nil {
		return j.db.Close()
	}
	return nil
}

// Migrate creates the schema if it doesn't exist
func (j *SQLiteJournal) Migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS events (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		notification_id TEXT NOT NULL DEFAULT '',
		kind TEXT NOT NULL,
		sink TEXT NOT NULL,
		delivered INTEGER NOT NULL,
		error TEXT NOT NULL DEFAULT '',
		payload TEXT NOT NULL,
		recorded_at DATETIME NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_events_time ON events(recorded_at DESC);
	CREATE INDEX IF NOT EXISTS idx_events_notification ON events(notification_id);
	`

	if _, err := j.db.Exec(schema); err != nil {
		return fmt.Errorf("failed to create schema: %w", err)
	}

	j.logger.Debug().Msg("Journal schema migrated")
	return nil
}

// Insert stores a single event
func (j *SQLiteJournal) Insert(event *Event) error {
	_, err := j.db.Exec(`
		INSERT INTO events (notification_id, kind, sink, delivered, error, payload, recorded_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`,
		event.NotificationID,
		string(event.Kind),
		event.Sink,
		event.Delivered,
		event.Error,
		event.Payload,
		event.RecordedAt.UTC().Format(timeLayout),
	)
	if err != nil {
		return fmt.Errorf("failed to insert event: %w", err)
	}
	return nil
}

// InsertBatch stores multiple events in a single transaction
func (j *SQLiteJournal) InsertBatch(events []*Event) error {
	if len(events) == 0 {
		return nil
	}

	tx, err := j.db.Begin()
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.Prepare(`
		INSERT INTO events (notification_id, kind, sink, delivered, error, payload, recorded_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`)
	if err != nil {
		return fmt.Errorf("failed to prepare statement: %w", err)
	}
	defer stmt.Close()

	for _, event := range events {
		_, err := stmt.Exec(
			event.NotificationID,
			string(event.Kind),
			event.Sink,
			event.Delivered,
			event.Error,
			event.Payload,
			event.RecordedAt.UTC().Format(timeLayout),
		)
		if err != nil {
			return fmt.Errorf("failed to insert event in batch: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}

	j.logger.Debug().Int("count", len(events)).Msg("Batch insert completed")
	return nil
}

// Recent returns the newest events first
func (j *SQLiteJournal) Recent(limit int) ([]*Event, error) {
	rows, err := j.db.Query(`
		SELECT id, notification_id, kind, sink, delivered, error, payload, recorded_at
		FROM events
		ORDER BY recorded_at DESC, id DESC
		LIMIT ?
	`, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query events: %w", err)
	}
	defer rows.Close()

	var events []*Event
	for rows.Next() {
		var e Event
		var kind, recordedAt string

		if err := rows.Scan(&e.ID, &e.NotificationID, &kind, &e.Sink, &e.Delivered, &e.Error, &e.Payload, &recordedAt); err != nil {
			return nil, fmt.Errorf("failed to scan event: %w", err)
		}
		e.Kind = models.NotificationKind(kind)

		e.RecordedAt, err = parseTimestamp(recordedAt)
		if err != nil {
			return nil, fmt.Errorf("failed to parse recorded_at: %w", err)
		}

		events = append(events, &e)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating rows: %w", err)
	}

	return events, nil
}

// DeleteOlderThan removes events older than the specified number of days
func (j *SQLiteJournal) DeleteOlderThan(days int) (int64, error) {
	cutoff := time.Now().UTC().AddDate(0, 0, -days)

	result, err := j.db.Exec(
		"DELETE FROM events WHERE recorded_at < ?",
		cutoff.Format(timeLayout),
	)
	if err != nil {
		return 0, fmt.Errorf("failed to delete old events: %w", err)
	}

	deleted, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to get rows affected: %w", err)
	}

	j.logger.Info().
		Int("days", days).
		Int64("deleted", deleted).
		Time("cutoff", cutoff).
		Msg("Deleted old events")

	return deleted, nil
}

// KeepNewest deletes every event except the newest n.
func (j *SQLiteJournal) KeepNewest(n int) (int64, error) {
	result, err := j.db.Exec(`
		DELETE FROM events WHERE id NOT IN (
			SELECT id FROM events ORDER BY recorded_at DESC, id DESC LIMIT ?
		)
	`, n)
	if err != nil {
		return 0, fmt.Errorf("failed to trim events: %w", err)
	}

	trimmed, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to get rows affected: %w", err)
	}
	return trimmed, nil
}

// Stats returns statistics about the journal
func (j *SQLiteJournal) Stats() (*JournalStats, error) {
	stats := &JournalStats{}

	err := j.db.QueryRow("SELECT COUNT(*), COUNT(CASE WHEN delivered = 0 THEN 1 END) FROM events").
		Scan(&stats.TotalEvents, &stats.FailedEvents)
	if err != nil {
		return nil, fmt.Errorf("failed to count events: %w", err)
	}

	if stats.TotalEvents == 0 {
		return stats, nil
	}

	var oldestStr, newestStr string
	err = j.db.QueryRow("SELECT MIN(recorded_at), MAX(recorded_at) FROM events").
		Scan(&oldestStr, &newestStr)
	if err != nil {
		return nil, fmt.Errorf("failed to get timestamp range: %w", err)
	}

	stats.OldestEvent, _ = parseTimestamp(oldestStr)
	stats.NewestEvent, _ = parseTimestamp(newestStr)

	var pageCount, pageSize int64
	if err := j.db.QueryRow("PRAGMA page_count").Scan(&pageCount); err != nil {
		return nil, fmt.Errorf("failed to read page count: %w", err)
	}
	if err := j.db.QueryRow("PRAGMA page_size").Scan(&pageSize); err != nil {
		return nil, fmt.Errorf("failed to read page size: %w", err)
	}
	stats.DatabaseSizeMB = float64(pageCount*pageSize) / (1024 * 1024)

	return stats, nil
}

// parseTimestamp tries multiple formats to parse a SQLite timestamp
func parseTimestamp(ts string) (time.Time, error) {
	formats := []string{
		timeLayout,
		"2006-01-02T15:04:05Z07:00",
		time.RFC3339Nano,
	}

	for _, format := range formats {
		if t, err := time.Parse(format, ts); err == nil {
			return t, nil
		}
	}

	return time.Time{}, fmt.Errorf("unable to parse timestamp: %s", ts)
}
