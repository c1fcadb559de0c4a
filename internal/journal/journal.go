// Package journal keeps a SQLite log of requests and playback transitions
// per process session.
package journal

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"

	"github.com/cbegin/textmusic-go/internal/config"
	"github.com/cbegin/textmusic-go/internal/playback"
)

// Entry is one journal row.
type Entry struct {
	ID         int64
	SessionID  string
	Kind       string
	Generation uint64
	Detail     string
	Duration   float64
	CreatedAt  time.Time
}

// Journal appends entries for one session. With retention mode "off" every
// method is a no-op; "ephemeral" keeps the database in memory.
type Journal struct {
	db        *sql.DB
	mode      string
	log       *slog.Logger
	clock     func() time.Time
	sessionID string
}

// Open prepares the journal and registers a new session.
func Open(ctx context.Context, cfg config.JournalConfig, log *slog.Logger) (*Journal, error) {
	if log == nil {
		log = slog.Default()
	}
	j := &Journal{
		mode:      cfg.RetentionMode,
		log:       log.With(slog.String("component", "journal")),
		clock:     time.Now,
		sessionID: uuid.NewString(),
	}
	if cfg.RetentionMode == "off" {
		return j, nil
	}

	var dsn string
	switch cfg.RetentionMode {
	case "ephemeral":
		dsn = "file::memory:"
	default:
		dir := filepath.Dir(cfg.Path)
		if dir != "." && dir != "" {
			if err := os.MkdirAll(dir, 0o755); err != nil {
				return nil, fmt.Errorf("create data dir: %w", err)
			}
		}
		dsn = fmt.Sprintf("file:%s?_pragma=journal_mode(WAL)&_pragma=foreign_keys(ON)", cfg.Path)
	}
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	// An in-memory database lives and dies with its connection.
	db.SetMaxOpenConns(1)
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping sqlite: %w", err)
	}
	j.db = db
	if err := j.initSchema(ctx); err != nil {
		db.Close()
		return nil, err
	}
	if _, err := db.ExecContext(ctx,
		`INSERT INTO sessions(session_id, started_at) VALUES(?, ?)`,
		j.sessionID, j.clock().UTC().UnixNano()); err != nil {
		db.Close()
		return nil, fmt.Errorf("register session: %w", err)
	}
	return j, nil
}

func (j *Journal) initSchema(ctx context.Context) error {
	ddl := `
CREATE TABLE IF NOT EXISTS sessions (
    session_id TEXT PRIMARY KEY,
    started_at INTEGER NOT NULL
);
CREATE TABLE IF NOT EXISTS entries (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    session_id TEXT NOT NULL,
    kind TEXT NOT NULL,
    generation INTEGER NOT NULL DEFAULT 0,
    detail TEXT,
    duration REAL NOT NULL DEFAULT 0,
    created_at INTEGER NOT NULL,
    FOREIGN KEY(session_id) REFERENCES sessions(session_id) ON DELETE CASCADE
);
CREATE INDEX IF NOT EXISTS idx_entries_session_created ON entries(session_id, created_at);
`
	if _, err := j.db.ExecContext(ctx, ddl); err != nil {
		return fmt.Errorf("init journal schema: %w", err)
	}
	return nil
}

// SessionID identifies this process's entries.
func (j *Journal) SessionID() string { return j.sessionID }

// Close releases the database.
func (j *Journal) Close() error {
	if j.db == nil {
		return nil
	}
	return j.db.Close()
}

// Record appends e under the current session.
func (j *Journal) Record(ctx context.Context, e Entry) error {
	if j.db == nil {
		return nil
	}
	if e.CreatedAt.IsZero() {
		e.CreatedAt = j.clock()
	}
	_, err := j.db.ExecContext(ctx,
		`INSERT INTO entries(session_id, kind, generation, detail, duration, created_at)
		 VALUES(?, ?, ?, ?, ?, ?)`,
		j.sessionID, e.Kind, int64(e.Generation), e.Detail, e.Duration, e.CreatedAt.UTC().UnixNano())
	return err
}

// Observe records a playback transition. Failures are logged.
func (j *Journal) Observe(ev playback.Event) {
	e := Entry{
		Kind:       string(ev.Kind),
		Generation: ev.Generation,
		Detail:     ev.Reason,
		Duration:   ev.Duration,
		CreatedAt:  ev.At,
	}
	if ev.Err != nil {
		e.Detail = ev.Err.Error()
	}
	if err := j.Record(context.Background(), e); err != nil {
		j.log.Warn("journal write failed", slog.String("kind", e.Kind), slog.String("error", err.Error()))
	}
}

// List returns up to limit entries of the current session, oldest first.
func (j *Journal) List(ctx context.Context, limit int) ([]Entry, error) {
	if j.db == nil {
		return nil, nil
	}
	return j.query(ctx,
		`SELECT id, session_id, kind, generation, detail, duration, created_at
		 FROM entries WHERE session_id = ? ORDER BY created_at ASC, id ASC LIMIT ?`, j.sessionID, limitOrDefault(limit))
}

// Recent returns up to limit entries of any session, newest first.
func (j *Journal) Recent(ctx context.Context, limit int) ([]Entry, error) {
	if j.db == nil {
		return nil, nil
	}
	return j.query(ctx,
		`SELECT id, session_id, kind, generation, detail, duration, created_at
		 FROM entries ORDER BY created_at DESC, id DESC LIMIT ?`, limitOrDefault(limit))
}

func limitOrDefault(limit int) int {
	if limit <= 0 {
		return 100
	}
	return limit
}

func (j *Journal) query(ctx context.Context, q string, args ...any) ([]Entry, error) {
	rows, err := j.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Entry
	for rows.Next() {
		var (
			e       Entry
			gen     int64
			detail  sql.NullString
			created int64
		)
		if err := rows.Scan(&e.ID, &e.SessionID, &e.Kind, &gen, &detail, &e.Duration, &created); err != nil {
			return nil, err
		}
		e.Generation = uint64(gen)
		e.Detail = detail.String
		e.CreatedAt = time.Unix(0, created).UTC()
		out = append(out, e)
	}
	return out, rows.Err()
}

// Prune deletes entries older than maxAge across all sessions.
func (j *Journal) Prune(ctx context.Context, maxAge time.Duration) (int64, error) {
	if j.db == nil || maxAge <= 0 {
		return 0, nil
	}
	cutoff := j.clock().Add(-maxAge).UTC().UnixNano()
	res, err := j.db.ExecContext(ctx, `DELETE FROM entries WHERE created_at < ?`, cutoff)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}
