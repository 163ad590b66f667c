// Package sessionstore persists finished meeting sessions in a local SQLite
// database and serves them over HTTP.
package sessionstore

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite"
)

// ErrInvalidSession is returned by Save for a session without a title.
var ErrInvalidSession = errors.New("invalid session")

// Session is one saved meeting.
type Session struct {
	ID            int64     `json:"id"`
	Title         string    `json:"title"`
	Summary       string    `json:"summary"`
	Transcription string    `json:"transcription"`
	Participants  []string  `json:"participants"`
	CreatedAt     time.Time `json:"created_at"`
}

// Store is a SQLite-backed session store. It is safe for concurrent use.
type Store struct {
	db  *sql.DB
	now func() time.Time
}

// Open opens or creates the database at path. The special path ":memory:"
// opens a private in-memory database.
func Open(ctx context.Context, path string) (*Store, error) {
	dsn := "file::memory:?_pragma=foreign_keys(ON)"
	if path != ":memory:" {
		if dir := filepath.Dir(path); dir != "." && dir != "" {
			if err := os.MkdirAll(dir, 0o755); err != nil {
				return nil, fmt.Errorf("sessionstore: create data dir: %w", err)
			}
		}
		dsn = fmt.Sprintf("file:%s?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)", path)
	}

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("sessionstore: open sqlite: %w", err)
	}
	if path == ":memory:" {
		// Every connection to :memory: is a separate database.
		db.SetMaxOpenConns(1)
	}
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("sessionstore: ping sqlite: %w", err)
	}

	s := &Store{db: db, now: time.Now}
	if err := s.initSchema(ctx); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

func (s *Store) initSchema(ctx context.Context) error {
	const ddl = `
CREATE TABLE IF NOT EXISTS sessions (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    title TEXT NOT NULL,
    summary TEXT NOT NULL DEFAULT '',
    transcription TEXT NOT NULL DEFAULT '',
    participants TEXT NOT NULL DEFAULT '[]',
    created_at INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_sessions_created ON sessions(created_at);
`
	if _, err := s.db.ExecContext(ctx, ddl); err != nil {
		return fmt.Errorf("sessionstore: init schema: %w", err)
	}
	return nil
}

// Save appends sess and returns its ID. ID and CreatedAt are assigned by the
// store.
func (s *Store) Save(ctx context.Context, sess Session) (int64, error) {
	if strings.TrimSpace(sess.Title) == "" {
		return 0, fmt.Errorf("sessionstore: save: %w: title is required", ErrInvalidSession)
	}
	participants := sess.Participants
	if participants == nil {
		participants = []string{}
	}
	encoded, err := json.Marshal(participants)
	if err != nil {
		return 0, fmt.Errorf("sessionstore: save: encode participants: %w", err)
	}

	res, err := s.db.ExecContext(ctx,
		`INSERT INTO sessions (title, summary, transcription, participants, created_at) VALUES (?, ?, ?, ?, ?)`,
		sess.Title, sess.Summary, sess.Transcription, string(encoded), s.now().UnixMilli(),
	)
	if err != nil {
		return 0, fmt.Errorf("sessionstore: save: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("sessionstore: save: %w", err)
	}
	return id, nil
}

// List returns every session in the order it was saved.
func (s *Store) List(ctx context.Context) ([]Session, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, title, summary, transcription, participants, created_at FROM sessions ORDER BY id ASC`)
	if err != nil {
		return nil, fmt.Errorf("sessionstore: list: %w", err)
	}
	defer rows.Close()

	sessions := []Session{}
	for rows.Next() {
		var (
			sess         Session
			participants string
			createdAt    int64
		)
		if err := rows.Scan(&sess.ID, &sess.Title, &sess.Summary, &sess.Transcription, &participants, &createdAt); err != nil {
			return nil, fmt.Errorf("sessionstore: scan session: %w", err)
		}
		if err := json.Unmarshal([]byte(participants), &sess.Participants); err != nil {
			return nil, fmt.Errorf("sessionstore: decode participants of session %d: %w", sess.ID, err)
		}
		sess.CreatedAt = time.UnixMilli(createdAt).UTC()
		sessions = append(sessions, sess)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("sessionstore: list: %w", err)
	}
	return sessions, nil
}

// Ping checks the database connection.
func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Close closes the database.
func (s *Store) Close() error {
	return s.db.Close()
}
