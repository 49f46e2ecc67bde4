package spool

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	_ "github.com/mattn/go-sqlite3"

	"github.com/hpcops/amiereport/internal/usage"
)

// DB wraps the spool database connection
type DB struct {
	*sql.DB
}

// Message is one spooled usage message awaiting pickup by the site's
// submission pipeline.
type Message struct {
	ID          string
	UsageType   string
	Resource    string
	RecordCount int
	Body        []byte
	CreatedAt   time.Time
	SentAt      *time.Time
}

// Open opens (creating if needed) the spool database at path.
func Open(path string) (*DB, error) {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0700); err != nil {
			return nil, fmt.Errorf("failed to create spool directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open spool database: %w", err)
	}

	// Set busy timeout to avoid "database is locked" errors when the
	// packaging service and a report run overlap
	if _, err := db.Exec("PRAGMA busy_timeout = 5000"); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to set busy timeout: %w", err)
	}

	return &DB{db}, nil
}

// Migrate creates the spool schema
func (db *DB) Migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS messages (
		id TEXT PRIMARY KEY,
		usage_type TEXT NOT NULL,
		resource TEXT NOT NULL,
		record_count INTEGER NOT NULL,
		body TEXT NOT NULL,
		created_at TIMESTAMP NOT NULL,
		sent_at TIMESTAMP
	);

	CREATE INDEX IF NOT EXISTS idx_messages_sent ON messages(sent_at);

	CREATE TABLE IF NOT EXISTS meta (
		key TEXT PRIMARY KEY,
		value TEXT NOT NULL
	);
	`

	_, err := db.Exec(schema)
	return err
}

// Enqueue serializes a usage message and stores it for submission.
func (db *DB) Enqueue(msg *usage.UsageMessage, resource string) (string, error) {
	body, err := json.Marshal(msg)
	if err != nil {
		return "", err
	}

	id := uuid.New().String()
	_, err = db.Exec(
		`INSERT INTO messages (id, usage_type, resource, record_count, body, created_at)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		id, string(msg.UsageType), resource, len(msg.Records), string(body), time.Now().UTC(),
	)
	if err != nil {
		return "", err
	}
	return id, nil
}

// List returns spooled messages, oldest first. Sent messages are included
// only when includeSent is set.
func (db *DB) List(includeSent bool) ([]Message, error) {
	query := `SELECT id, usage_type, resource, record_count, body, created_at, sent_at
	          FROM messages`
	if !includeSent {
		query += ` WHERE sent_at IS NULL`
	}
	query += ` ORDER BY created_at, id`

	rows, err := db.Query(query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var messages []Message
	for rows.Next() {
		var m Message
		var body string
		if err := rows.Scan(&m.ID, &m.UsageType, &m.Resource, &m.RecordCount, &body, &m.CreatedAt, &m.SentAt); err != nil {
			return nil, err
		}
		m.Body = []byte(body)
		messages = append(messages, m)
	}

	return messages, rows.Err()
}

// MarkSent stamps a message as handed off to the submission pipeline.
func (db *DB) MarkSent(id string) error {
	result, err := db.Exec(`UPDATE messages SET sent_at = ? WHERE id = ?`, time.Now().UTC(), id)
	if err != nil {
		return err
	}
	n, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("no spooled message with id %s", id)
	}
	return nil
}

// ClearSent deletes messages already handed off, returning the count.
func (db *DB) ClearSent() (int64, error) {
	result, err := db.Exec(`DELETE FROM messages WHERE sent_at IS NOT NULL`)
	if err != nil {
		return 0, err
	}
	return result.RowsAffected()
}

// HighWaterMark returns the end time of the newest job already packaged,
// zero if nothing has been packaged yet.
func (db *DB) HighWaterMark() (time.Time, error) {
	var value string
	err := db.QueryRow(`SELECT value FROM meta WHERE key = 'last_packaged_end'`).Scan(&value)
	if err == sql.ErrNoRows {
		return time.Time{}, nil
	}
	if err != nil {
		return time.Time{}, err
	}
	return time.Parse(time.RFC3339, value)
}

// SetHighWaterMark records the end time of the newest packaged job.
func (db *DB) SetHighWaterMark(t time.Time) error {
	_, err := db.Exec(
		`INSERT INTO meta (key, value) VALUES ('last_packaged_end', ?)
		 ON CONFLICT(key) DO UPDATE SET value = excluded.value`,
		t.UTC().Format(time.RFC3339),
	)
	return err
}
