// Package catalog keeps a SQLite index of finished recording sessions, one
// row per session and one per recorded side.
package catalog

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"sync"

	_ "github.com/mattn/go-sqlite3"

	"github.com/e7canasta/camrecord"
)

// DB wraps the SQLite connection with thread-safe access.
type DB struct {
	conn *sql.DB
	mu   sync.RWMutex
}

// Open creates or opens the catalog at dbPath. ":memory:" gives a private
// in-memory catalog.
func Open(dbPath string) (*DB, error) {
	conn, err := sql.Open("sqlite3", dbPath+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("failed to open catalog: %w", err)
	}

	// One connection: an in-memory database lives and dies with it
	conn.SetMaxOpenConns(1)
	conn.SetMaxIdleConns(1)
	conn.SetConnMaxLifetime(0)

	db := &DB{conn: conn}

	if err := db.migrate(); err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to migrate catalog: %w", err)
	}

	slog.Debug("catalog: opened", "path", dbPath)
	return db, nil
}

func (db *DB) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS sessions (
		id TEXT PRIMARY KEY,
		source TEXT NOT NULL,
		output_dir TEXT NOT NULL,
		fps INTEGER NOT NULL,
		duration_seconds INTEGER NOT NULL,
		started_at DATETIME NOT NULL,
		ended_at DATETIME NOT NULL,
		created_at DATETIME DEFAULT CURRENT_TIMESTAMP
	);

	CREATE TABLE IF NOT EXISTS sides (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		session_id TEXT NOT NULL,
		side TEXT NOT NULL,
		device TEXT NOT NULL,
		path TEXT NOT NULL,
		frames_written INTEGER DEFAULT 0,
		pull_failures INTEGER DEFAULT 0,
		fps_real REAL DEFAULT 0,
		fps_stddev REAL DEFAULT 0,
		stable INTEGER DEFAULT 0,
		error TEXT DEFAULT '',
		FOREIGN KEY (session_id) REFERENCES sessions(id) ON DELETE CASCADE
	);

	CREATE INDEX IF NOT EXISTS idx_sessions_started_at ON sessions(started_at);
	CREATE INDEX IF NOT EXISTS idx_sides_session_id ON sides(session_id);
	`

	_, err := db.conn.Exec(schema)
	return err
}

// Close closes the database connection.
func (db *DB) Close() error {
	return db.conn.Close()
}

// SaveSession stores a finished session. Saving the same ID again replaces
// the previous record.
func (db *DB) SaveSession(ctx context.Context, s camrecord.SessionSummary) error {
	db.mu.Lock()
	defer db.mu.Unlock()

	tx, err := db.conn.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `DELETE FROM sides WHERE session_id = ?`, s.ID); err != nil {
		return fmt.Errorf("failed to replace session sides: %w", err)
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM sessions WHERE id = ?`, s.ID); err != nil {
		return fmt.Errorf("failed to replace session: %w", err)
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO sessions (id, source, output_dir, fps, duration_seconds, started_at, ended_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`, s.ID, s.Source, s.OutputDir, s.FPS, s.Duration, s.StartedAt.UTC(), s.EndedAt.UTC())
	if err != nil {
		return fmt.Errorf("failed to insert session: %w", err)
	}

	for _, side := range s.Sides {
		_, err := tx.ExecContext(ctx, `
			INSERT INTO sides (session_id, side, device, path, frames_written, pull_failures, fps_real, fps_stddev, stable, error)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		`, s.ID, side.Side, side.Device, side.Path, int64(side.FramesWritten), int64(side.PullFailures),
			side.FPSReal, side.FPSStdDev, side.Stable, side.Error)
		if err != nil {
			return fmt.Errorf("failed to insert side %s: %w", side.Side, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit session: %w", err)
	}

	slog.Info("catalog: session saved", "id", s.ID, "sides", len(s.Sides))
	return nil
}

// GetSession returns the session with the given ID, or nil if unknown.
func (db *DB) GetSession(ctx context.Context, id string) (*camrecord.SessionSummary, error) {
	db.mu.RLock()
	defer db.mu.RUnlock()

	var s camrecord.SessionSummary
	err := db.conn.QueryRowContext(ctx, `
		SELECT id, source, output_dir, fps, duration_seconds, started_at, ended_at
		FROM sessions WHERE id = ?
	`, id).Scan(&s.ID, &s.Source, &s.OutputDir, &s.FPS, &s.Duration, &s.StartedAt, &s.EndedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get session: %w", err)
	}

	if s.Sides, err = db.sides(ctx, s.ID); err != nil {
		return nil, err
	}
	return &s, nil
}

// ListSessions returns sessions newest first. limit <= 0 returns all.
func (db *DB) ListSessions(ctx context.Context, limit int) ([]camrecord.SessionSummary, error) {
	db.mu.RLock()
	defer db.mu.RUnlock()

	query := `
		SELECT id, source, output_dir, fps, duration_seconds, started_at, ended_at
		FROM sessions ORDER BY started_at DESC, id DESC
	`
	args := []interface{}{}
	if limit > 0 {
		query += " LIMIT ?"
		args = append(args, limit)
	}

	rows, err := db.conn.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query sessions: %w", err)
	}

	var sessions []camrecord.SessionSummary
	for rows.Next() {
		var s camrecord.SessionSummary
		if err := rows.Scan(&s.ID, &s.Source, &s.OutputDir, &s.FPS, &s.Duration, &s.StartedAt, &s.EndedAt); err != nil {
			rows.Close()
			return nil, fmt.Errorf("failed to scan session: %w", err)
		}
		sessions = append(sessions, s)
	}
	err = rows.Err()
	rows.Close()
	if err != nil {
		return nil, fmt.Errorf("failed to iterate sessions: %w", err)
	}

	// Sides are loaded after the cursor is closed; the pool has one connection
	for i := range sessions {
		if sessions[i].Sides, err = db.sides(ctx, sessions[i].ID); err != nil {
			return nil, err
		}
	}
	return sessions, nil
}

func (db *DB) sides(ctx context.Context, sessionID string) ([]camrecord.SideSummary, error) {
	rows, err := db.conn.QueryContext(ctx, `
		SELECT side, device, path, frames_written, pull_failures, fps_real, fps_stddev, stable, error
		FROM sides WHERE session_id = ? ORDER BY id
	`, sessionID)
	if err != nil {
		return nil, fmt.Errorf("failed to query sides: %w", err)
	}
	defer rows.Close()

	var sides []camrecord.SideSummary
	for rows.Next() {
		var side camrecord.SideSummary
		var written, failures int64
		if err := rows.Scan(&side.Side, &side.Device, &side.Path, &written, &failures,
			&side.FPSReal, &side.FPSStdDev, &side.Stable, &side.Error); err != nil {
			return nil, fmt.Errorf("failed to scan side: %w", err)
		}
		side.FramesWritten = uint64(written)
		side.PullFailures = uint64(failures)
		sides = append(sides, side)
	}
	return sides, rows.Err()
}
