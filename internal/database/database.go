package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"breakwatch/internal/models"

	_ "github.com/mattn/go-sqlite3" // sqlite3 driver
	"github.com/rs/zerolog"
)

// DB is the SQLite-backed attendance store.
type DB struct {
	*sql.DB
	logger zerolog.Logger
}

var (
	ErrSessionNotFound  = errors.New("attendance session not found")
	ErrSessionClosed    = errors.New("attendance session already closed")
	ErrBreakNotFound    = errors.New("break not found")
	ErrAlreadyStarted   = errors.New("break already started")
	ErrAlreadyEnded     = errors.New("break already ended")
	ErrNotStarted       = errors.New("break not started")
	ErrInvalidBreakType = errors.New("invalid break type")
)

// NewDB opens the database at path and creates tables if they don't exist.
func NewDB(path string, logger zerolog.Logger) (*DB, error) {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create database directory: %w", err)
	}

	dsn := path + "?_journal_mode=WAL&_synchronous=NORMAL&_busy_timeout=5000&_foreign_keys=on"
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	db.SetMaxOpenConns(10)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(time.Hour)

	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	instance := &DB{
		DB:     db,
		logger: logger.With().Str("component", "database").Logger(),
	}
	if err := instance.createTables(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to create tables: %w", err)
	}

	instance.logger.Info().Str("path", path).Msg("database initialized")
	return instance, nil
}

func (db *DB) createTables() error {
	queries := []string{
		`CREATE TABLE IF NOT EXISTS attendance_sessions (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			worker_id TEXT NOT NULL,
			started_at DATETIME NOT NULL,
			ended_at DATETIME,
			created_at DATETIME DEFAULT CURRENT_TIMESTAMP
		)`,
		`CREATE TABLE IF NOT EXISTS breaks (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			session_id INTEGER NOT NULL,
			type TEXT NOT NULL,
			scheduled_start TEXT NOT NULL,
			scheduled_minute INTEGER,
			duration_minutes INTEGER NOT NULL,
			actual_start DATETIME,
			actual_end DATETIME,
			created_at DATETIME DEFAULT CURRENT_TIMESTAMP,
			updated_at DATETIME DEFAULT CURRENT_TIMESTAMP,
			FOREIGN KEY (session_id) REFERENCES attendance_sessions(id) ON DELETE CASCADE
		)`,
		`CREATE INDEX IF NOT EXISTS idx_sessions_active ON attendance_sessions(worker_id) WHERE ended_at IS NULL`,
		`CREATE INDEX IF NOT EXISTS idx_breaks_session ON breaks(session_id)`,
		`CREATE INDEX IF NOT EXISTS idx_breaks_pending_minute ON breaks(scheduled_minute)
			WHERE actual_start IS NULL AND actual_end IS NULL`,
	}

	for _, q := range queries {
		if _, err := db.Exec(q); err != nil {
			return fmt.Errorf("exec migration %s: %w", trimSQL(q), err)
		}
	}
	return nil
}

func trimSQL(s string) string {
	s = strings.TrimSpace(s)
	if len(s) > 60 {
		return s[:60] + "..."
	}
	return s
}

// CreateSession records a clock-in for worker.
func (db *DB) CreateSession(ctx context.Context, workerID string, startedAt time.Time) (int64, error) {
	res, err := db.ExecContext(ctx,
		`INSERT INTO attendance_sessions (worker_id, started_at) VALUES (?, ?)`,
		workerID, startedAt.UTC())
	if err != nil {
		return 0, fmt.Errorf("insert session: %w", err)
	}
	return res.LastInsertId()
}

// CloseSession records a clock-out.
func (db *DB) CloseSession(ctx context.Context, sessionID int64, endedAt time.Time) error {
	res, err := db.ExecContext(ctx,
		`UPDATE attendance_sessions SET ended_at = ? WHERE id = ? AND ended_at IS NULL`,
		endedAt.UTC(), sessionID)
	if err != nil {
		return fmt.Errorf("close session %d: %w", sessionID, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		var exists int
		err := db.QueryRowContext(ctx, `SELECT 1 FROM attendance_sessions WHERE id = ?`, sessionID).Scan(&exists)
		if errors.Is(err, sql.ErrNoRows) {
			return ErrSessionNotFound
		}
		return ErrSessionClosed
	}
	return nil
}

// AddBreak schedules a break within a session and fills b.ID.
// The scheduled start is normalised to a minute of day for the scheduler index;
// unparseable values are kept verbatim and never match the index.
func (db *DB) AddBreak(ctx context.Context, b *models.Break) error {
	if !b.Type.Valid() {
		return fmt.Errorf("%w: %q", ErrInvalidBreakType, b.Type)
	}

	var minute sql.NullInt64
	if clock, err := models.ParseScheduledStart(b.ScheduledStart); err != nil {
		db.logger.Warn().Err(err).
			Int64("session_id", b.SessionID).
			Str("scheduled_start", b.ScheduledStart).
			Msg("break stored without minute index")
	} else {
		minute = sql.NullInt64{Int64: int64(clock.MinuteOfDay()), Valid: true}
	}

	res, err := db.ExecContext(ctx,
		`INSERT INTO breaks (session_id, type, scheduled_start, scheduled_minute, duration_minutes)
		 VALUES (?, ?, ?, ?, ?)`,
		b.SessionID, string(b.Type), b.ScheduledStart, minute, b.DurationMinutes)
	if err != nil {
		return fmt.Errorf("insert break: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return err
	}
	b.ID = id
	return nil
}

// ActiveSessions returns sessions without an end timestamp.
func (db *DB) ActiveSessions(ctx context.Context) ([]models.AttendanceSession, error) {
	rows, err := db.QueryContext(ctx,
		`SELECT id, worker_id, started_at FROM attendance_sessions WHERE ended_at IS NULL ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("query active sessions: %w", err)
	}
	defer rows.Close()

	var sessions []models.AttendanceSession
	for rows.Next() {
		var s models.AttendanceSession
		if err := rows.Scan(&s.ID, &s.WorkerID, &s.StartedAt); err != nil {
			return nil, fmt.Errorf("scan session: %w", err)
		}
		sessions = append(sessions, s)
	}
	return sessions, rows.Err()
}

const breakColumns = `b.id, b.session_id, s.worker_id, b.type, b.scheduled_start,
	b.duration_minutes, b.actual_start, b.actual_end`

// PendingBreaks returns breaks of a session that have neither started nor ended.
func (db *DB) PendingBreaks(ctx context.Context, sessionID int64) ([]models.Break, error) {
	return db.queryBreaks(ctx,
		`SELECT `+breakColumns+` FROM breaks b
		 JOIN attendance_sessions s ON s.id = b.session_id
		 WHERE b.session_id = ? AND b.actual_start IS NULL AND b.actual_end IS NULL
		 ORDER BY b.id`, sessionID)
}

// DueBreaks returns pending breaks of active sessions scheduled at minuteOfDay.
func (db *DB) DueBreaks(ctx context.Context, minuteOfDay int) ([]models.Break, error) {
	return db.queryBreaks(ctx,
		`SELECT `+breakColumns+` FROM breaks b
		 JOIN attendance_sessions s ON s.id = b.session_id
		 WHERE b.scheduled_minute = ? AND b.actual_start IS NULL AND b.actual_end IS NULL
		   AND s.ended_at IS NULL
		 ORDER BY b.id`, minuteOfDay)
}

// ClosedBreaksBetween returns breaks that ended within [from, to).
func (db *DB) ClosedBreaksBetween(ctx context.Context, from, to time.Time) ([]models.Break, error) {
	return db.queryBreaks(ctx,
		`SELECT `+breakColumns+` FROM breaks b
		 JOIN attendance_sessions s ON s.id = b.session_id
		 WHERE b.actual_end IS NOT NULL AND b.actual_end >= ? AND b.actual_end < ?
		 ORDER BY b.actual_end`, from.UTC(), to.UTC())
}

// GetBreak returns a single break.
func (db *DB) GetBreak(ctx context.Context, breakID int64) (*models.Break, error) {
	list, err := db.queryBreaks(ctx,
		`SELECT `+breakColumns+` FROM breaks b
		 JOIN attendance_sessions s ON s.id = b.session_id
		 WHERE b.id = ?`, breakID)
	if err != nil {
		return nil, err
	}
	if len(list) == 0 {
		return nil, ErrBreakNotFound
	}
	return &list[0], nil
}

func (db *DB) queryBreaks(ctx context.Context, query string, args ...any) ([]models.Break, error) {
	rows, err := db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query breaks: %w", err)
	}
	defer rows.Close()

	var out []models.Break
	for rows.Next() {
		var (
			b          models.Break
			breakType  string
			start, end sql.NullTime
		)
		if err := rows.Scan(&b.ID, &b.SessionID, &b.WorkerID, &breakType, &b.ScheduledStart,
			&b.DurationMinutes, &start, &end); err != nil {
			return nil, fmt.Errorf("scan break: %w", err)
		}
		b.Type = models.BreakType(breakType)
		if start.Valid {
			t := start.Time
			b.ActualStart = &t
		}
		if end.Valid {
			t := end.Time
			b.ActualEnd = &t
		}
		out = append(out, b)
	}
	return out, rows.Err()
}

// MarkBreakStarted sets actual_start once. A second call returns ErrAlreadyStarted.
func (db *DB) MarkBreakStarted(ctx context.Context, breakID int64, at time.Time) error {
	res, err := db.ExecContext(ctx,
		`UPDATE breaks SET actual_start = ?, updated_at = ?
		 WHERE id = ? AND actual_start IS NULL AND actual_end IS NULL`,
		at.UTC(), time.Now().UTC(), breakID)
	if err != nil {
		return fmt.Errorf("mark break %d started: %w", breakID, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 1 {
		return nil
	}

	b, err := db.GetBreak(ctx, breakID)
	if err != nil {
		return err
	}
	if b.ActualEnd != nil {
		return ErrAlreadyEnded
	}
	return ErrAlreadyStarted
}

// MarkBreakEnded sets actual_end once. Ending twice returns ErrAlreadyEnded.
func (db *DB) MarkBreakEnded(ctx context.Context, breakID int64, at time.Time) error {
	res, err := db.ExecContext(ctx,
		`UPDATE breaks SET actual_end = ?, updated_at = ?
		 WHERE id = ? AND actual_start IS NOT NULL AND actual_end IS NULL`,
		at.UTC(), time.Now().UTC(), breakID)
	if err != nil {
		return fmt.Errorf("mark break %d ended: %w", breakID, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 1 {
		return nil
	}

	b, err := db.GetBreak(ctx, breakID)
	if err != nil {
		return err
	}
	if b.ActualEnd != nil {
		return ErrAlreadyEnded
	}
	return ErrNotStarted
}
