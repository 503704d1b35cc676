package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	_ "modernc.org/sqlite"
)

const defaultBusyTimeout = 5000

// Message senders. User messages carry userId/userName, assistant messages do not.
const (
	SenderUser      = "user"
	SenderAssistant = "assistant"
)

// Store wraps the SQLite handle and exposes the per-room chat log used by the server.
type Store struct {
	db *sql.DB
}

// Message is one immutable entry in a room's chat log.
type Message struct {
	ID        string    `json:"id"`
	Sender    string    `json:"sender"`
	UserID    string    `json:"userId,omitempty"`
	UserName  string    `json:"userName,omitempty"`
	Text      string    `json:"text"`
	Timestamp time.Time `json:"timestamp"`
}

// Stats summarizes a room's log without loading every message.
type Stats struct {
	TotalMessages int        `json:"totalMessages"`
	UserMessages  int        `json:"userMessages"`
	AIMessages    int        `json:"aiMessages"`
	LastActivity  *time.Time `json:"lastActivity"`
}

// ErrRoomNotFound is returned when appending to or clearing a room whose log was never created.
var ErrRoomNotFound = errors.New("room not found")

// NewStore initializes the SQLite database at the provided path. Call Close when done.
func NewStore(path string) (*Store, error) {
	if path == "" {
		path = "studychat.db"
	}
	dsn := buildDSN(path)
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	if _, err := db.Exec(fmt.Sprintf("PRAGMA busy_timeout=%d;", defaultBusyTimeout)); err != nil {
		_ = db.Close()
		return nil, err
	}
	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, err
	}
	return &Store{db: db}, nil
}

// Close releases the underlying DB connection.
func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

func buildDSN(path string) string {
	switch {
	case strings.HasPrefix(path, "sqlite://"):
		path = path[len("sqlite://"):]
	case strings.HasPrefix(path, "file:"), strings.HasPrefix(path, ":memory:"):
		// already in a form sqlite understands
	default:
		path = "file:" + path
	}
	separator := "?"
	if strings.Contains(path, "?") {
		separator = "&"
	}
	return fmt.Sprintf("%s%s_pragma=busy_timeout=%d&_pragma=foreign_keys=ON", path, separator, defaultBusyTimeout)
}

// Migrate runs the schema creation statements.
func (s *Store) Migrate(ctx context.Context) error {
	statements := []string{
		`CREATE TABLE IF NOT EXISTS rooms (
			room_id TEXT PRIMARY KEY,
			created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
		);`,
		`CREATE TABLE IF NOT EXISTS messages (
			seq INTEGER PRIMARY KEY AUTOINCREMENT,
			id TEXT NOT NULL,
			room_id TEXT NOT NULL,
			sender TEXT NOT NULL CHECK (sender IN ('user', 'assistant')),
			user_id TEXT,
			user_name TEXT,
			body TEXT NOT NULL,
			ts DATETIME NOT NULL,
			FOREIGN KEY(room_id) REFERENCES rooms(room_id) ON DELETE CASCADE
		);`,
		`CREATE INDEX IF NOT EXISTS idx_messages_room ON messages(room_id, seq);`,
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()
	for _, stmt := range statements {
		if _, err = tx.ExecContext(ctx, stmt); err != nil {
			return err
		}
	}
	return tx.Commit()
}

// GetOrCreate ensures a log exists for the room and returns its messages in
// append order. INSERT OR IGNORE on the primary key keeps concurrent
// first-access safe: exactly one creation wins and every caller sees the same log.
func (s *Store) GetOrCreate(ctx context.Context, roomID string) ([]Message, error) {
	if _, err := s.db.ExecContext(ctx, `INSERT OR IGNORE INTO rooms(room_id) VALUES(?)`, roomID); err != nil {
		return nil, err
	}
	return s.messages(ctx, roomID)
}

// Exists reports whether a log was ever created for the room.
func (s *Store) Exists(ctx context.Context, roomID string) (bool, error) {
	row := s.db.QueryRowContext(ctx, `SELECT COUNT(1) FROM rooms WHERE room_id = ?`, roomID)
	var count int
	if err := row.Scan(&count); err != nil {
		return false, err
	}
	return count > 0, nil
}

// Append adds one message to the end of the room's log. The write is a single
// INSERT, so concurrent appends from different sessions never overwrite each
// other; their relative order is whichever insert lands first.
func (s *Store) Append(ctx context.Context, roomID string, msg Message) error {
	exists, err := s.Exists(ctx, roomID)
	if err != nil {
		return err
	}
	if !exists {
		return ErrRoomNotFound
	}
	if msg.Timestamp.IsZero() {
		msg.Timestamp = time.Now()
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO messages(id, room_id, sender, user_id, user_name, body, ts) VALUES(?, ?, ?, ?, ?, ?, ?)`,
		msg.ID, roomID, msg.Sender, msg.UserID, msg.UserName, msg.Text, msg.Timestamp.UTC())
	return err
}

// Recent returns up to n messages from the tail of the log, oldest first.
func (s *Store) Recent(ctx context.Context, roomID string, n int) ([]Message, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, sender, user_id, user_name, body, ts FROM (
			SELECT seq, id, sender, user_id, user_name, body, ts
			FROM messages WHERE room_id = ?
			ORDER BY seq DESC LIMIT ?
		) ORDER BY seq ASC
	`, roomID, n)
	if err != nil {
		return nil, err
	}
	return scanMessages(rows)
}

// Clear replaces the room's log with an empty sequence.
func (s *Store) Clear(ctx context.Context, roomID string) error {
	exists, err := s.Exists(ctx, roomID)
	if err != nil {
		return err
	}
	if !exists {
		return ErrRoomNotFound
	}
	_, err = s.db.ExecContext(ctx, `DELETE FROM messages WHERE room_id = ?`, roomID)
	return err
}

// Stats derives read-only counters for a room. A room with no log yields zero stats.
func (s *Store) Stats(ctx context.Context, roomID string) (Stats, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT COUNT(1),
		       COALESCE(SUM(CASE WHEN sender = 'user' THEN 1 ELSE 0 END), 0),
		       COALESCE(SUM(CASE WHEN sender = 'assistant' THEN 1 ELSE 0 END), 0),
		       MAX(ts)
		FROM messages WHERE room_id = ?
	`, roomID)
	var stats Stats
	var last sql.NullTime
	if err := row.Scan(&stats.TotalMessages, &stats.UserMessages, &stats.AIMessages, &last); err != nil {
		return Stats{}, err
	}
	if last.Valid {
		t := last.Time
		stats.LastActivity = &t
	}
	return stats, nil
}

func (s *Store) messages(ctx context.Context, roomID string) ([]Message, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, sender, user_id, user_name, body, ts
		FROM messages WHERE room_id = ?
		ORDER BY seq ASC
	`, roomID)
	if err != nil {
		return nil, err
	}
	return scanMessages(rows)
}

func scanMessages(rows *sql.Rows) ([]Message, error) {
	defer rows.Close()
	messages := make([]Message, 0)
	for rows.Next() {
		var msg Message
		var userID, userName sql.NullString
		if err := rows.Scan(&msg.ID, &msg.Sender, &userID, &userName, &msg.Text, &msg.Timestamp); err != nil {
			return nil, err
		}
		msg.UserID = userID.String
		msg.UserName = userName.String
		messages = append(messages, msg)
	}
	return messages, rows.Err()
}
