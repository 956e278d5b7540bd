package session

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/hazyhaar/operator/internal/dbopen"
	"github.com/hazyhaar/operator/operator"
)

const schema = `
CREATE TABLE IF NOT EXISTS sessions (
	id              TEXT PRIMARY KEY,
	transport       TEXT NOT NULL,
	live_url        TEXT NOT NULL DEFAULT '',
	viewport_width  INTEGER NOT NULL DEFAULT 0,
	viewport_height INTEGER NOT NULL DEFAULT 0,
	created_at      INTEGER NOT NULL,
	closed_at       INTEGER
);

CREATE TABLE IF NOT EXISTS actions (
	id          TEXT PRIMARY KEY,
	session_id  TEXT NOT NULL,
	tool        TEXT NOT NULL,
	args        TEXT NOT NULL DEFAULT '{}',
	status      TEXT NOT NULL DEFAULT '',
	error       TEXT NOT NULL DEFAULT '',
	duration_ms INTEGER NOT NULL DEFAULT 0,
	created_at  INTEGER NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_actions_session ON actions(session_id, created_at);
`

// Record is a persisted session row.
type Record struct {
	ID        string            `json:"id"`
	Transport string            `json:"transport"`
	LiveURL   string            `json:"live_url,omitempty"`
	Viewport  operator.Viewport `json:"viewport"`
	CreatedAt time.Time         `json:"created_at"`
	ClosedAt  *time.Time        `json:"closed_at,omitempty"`
}

// Action is one entry of the action ledger.
type Action struct {
	ID        string        `json:"id"`
	SessionID string        `json:"session_id"`
	Tool      string        `json:"tool"`
	Args      string        `json:"args"`
	Status    string        `json:"status"`
	Error     string        `json:"error,omitempty"`
	Duration  time.Duration `json:"duration"`
	CreatedAt time.Time     `json:"created_at"`
}

// Store persists sessions and the action ledger in SQLite.
type Store struct {
	db *sql.DB
}

// OpenStore opens (or creates) the database at path.
func OpenStore(path string) (*Store, error) {
	db, err := dbopen.Open(path, schema)
	if err != nil {
		return nil, fmt.Errorf("session: open store: %w", err)
	}
	return &Store{db: db}, nil
}

// NewStore applies the schema to an already open database.
func NewStore(db *sql.DB) (*Store, error) {
	if _, err := db.Exec(schema); err != nil {
		return nil, fmt.Errorf("session: store schema: %w", err)
	}
	return &Store{db: db}, nil
}

// Close closes the database.
func (s *Store) Close() error {
	return s.db.Close()
}

// InsertSession records a newly created or attached session. Re-inserting an
// id reopens it.
func (s *Store) InsertSession(ctx context.Context, info Info) error {
	_, err := dbopen.Exec(ctx, s.db, `
		INSERT INTO sessions (id, transport, live_url, created_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			transport = excluded.transport,
			live_url  = excluded.live_url,
			closed_at = NULL`,
		info.ID, info.Transport, info.LiveURL, info.CreatedAt.UnixMilli())
	if err != nil {
		return fmt.Errorf("session: insert session: %w", err)
	}
	return nil
}

// SetViewport records the viewport last observed for a session.
func (s *Store) SetViewport(ctx context.Context, id string, vp operator.Viewport) error {
	_, err := dbopen.Exec(ctx, s.db,
		`UPDATE sessions SET viewport_width = ?, viewport_height = ? WHERE id = ?`,
		vp.Width, vp.Height, id)
	if err != nil {
		return fmt.Errorf("session: set viewport: %w", err)
	}
	return nil
}

// MarkClosed stamps the session as closed.
func (s *Store) MarkClosed(ctx context.Context, id string, at time.Time) error {
	_, err := dbopen.Exec(ctx, s.db,
		`UPDATE sessions SET closed_at = ? WHERE id = ? AND closed_at IS NULL`,
		at.UnixMilli(), id)
	if err != nil {
		return fmt.Errorf("session: mark closed: %w", err)
	}
	return nil
}

// Session returns one session row.
func (s *Store) Session(ctx context.Context, id string) (*Record, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, transport, live_url, viewport_width, viewport_height, created_at, closed_at
		FROM sessions WHERE id = ?`, id)
	rec, err := scanRecord(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", ErrUnknownSession, id)
	}
	if err != nil {
		return nil, fmt.Errorf("session: get session: %w", err)
	}
	return rec, nil
}

// Sessions lists sessions, newest first. With openOnly, closed sessions are
// left out.
func (s *Store) Sessions(ctx context.Context, openOnly bool) ([]Record, error) {
	q := `SELECT id, transport, live_url, viewport_width, viewport_height, created_at, closed_at FROM sessions`
	if openOnly {
		q += ` WHERE closed_at IS NULL`
	}
	q += ` ORDER BY created_at DESC, id DESC`

	rows, err := s.db.QueryContext(ctx, q)
	if err != nil {
		return nil, fmt.Errorf("session: list sessions: %w", err)
	}
	defer rows.Close()

	var out []Record
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, fmt.Errorf("session: scan session: %w", err)
		}
		out = append(out, *rec)
	}
	return out, rows.Err()
}

type scanner interface {
	Scan(dest ...any) error
}

func scanRecord(sc scanner) (*Record, error) {
	var (
		rec      Record
		created  int64
		closedAt sql.NullInt64
	)
	if err := sc.Scan(&rec.ID, &rec.Transport, &rec.LiveURL,
		&rec.Viewport.Width, &rec.Viewport.Height, &created, &closedAt); err != nil {
		return nil, err
	}
	rec.CreatedAt = time.UnixMilli(created).UTC()
	if closedAt.Valid {
		t := time.UnixMilli(closedAt.Int64).UTC()
		rec.ClosedAt = &t
	}
	return &rec, nil
}

// RecordAction appends to the action ledger. An empty ID is filled with a
// time-ordered UUID.
func (s *Store) RecordAction(ctx context.Context, a Action) error {
	if a.ID == "" {
		id, err := uuid.NewV7()
		if err != nil {
			return fmt.Errorf("session: action id: %w", err)
		}
		a.ID = id.String()
	}
	if a.CreatedAt.IsZero() {
		a.CreatedAt = time.Now()
	}
	if a.Args == "" {
		a.Args = "{}"
	}
	_, err := dbopen.Exec(ctx, s.db, `
		INSERT INTO actions (id, session_id, tool, args, status, error, duration_ms, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		a.ID, a.SessionID, a.Tool, a.Args, a.Status, a.Error, a.Duration.Milliseconds(), a.CreatedAt.UnixMilli())
	if err != nil {
		return fmt.Errorf("session: record action: %w", err)
	}
	return nil
}

// Actions returns the most recent actions of a session, oldest first. An
// empty sessionID lists all sessions. limit <= 0 means 100.
func (s *Store) Actions(ctx context.Context, sessionID string, limit int) ([]Action, error) {
	if limit <= 0 {
		limit = 100
	}
	q := `SELECT id, session_id, tool, args, status, error, duration_ms, created_at FROM actions`
	var args []any
	if sessionID != "" {
		q += ` WHERE session_id = ?`
		args = append(args, sessionID)
	}
	q += ` ORDER BY created_at DESC, id DESC LIMIT ?`
	args = append(args, limit)

	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("session: list actions: %w", err)
	}
	defer rows.Close()

	var out []Action
	for rows.Next() {
		var (
			a       Action
			ms      int64
			created int64
		)
		if err := rows.Scan(&a.ID, &a.SessionID, &a.Tool, &a.Args, &a.Status, &a.Error, &ms, &created); err != nil {
			return nil, fmt.Errorf("session: scan action: %w", err)
		}
		a.Duration = time.Duration(ms) * time.Millisecond
		a.CreatedAt = time.UnixMilli(created).UTC()
		out = append(out, a)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	for i, j := 0, len(out)-1; i < j; i, j = i+1, j-1 {
		out[i], out[j] = out[j], out[i]
	}
	return out, nil
}
