// Package journal records raw protocol traffic to SQLite so a session can be
// replayed into state later.
package journal

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	_ "github.com/mattn/go-sqlite3"
	"github.com/rs/zerolog"

	"forumsync/internal/config"
	"forumsync/internal/logging"
)

// Entry directions
const (
	DirectionIn  = "in"
	DirectionOut = "out"
)

// Entry is one frame or command as it crossed the socket.
type Entry struct {
	ID          int64     `json:"id"`
	RecordingID string    `json:"recording_id"`
	Direction   string    `json:"direction"`
	Type        string    `json:"type"`
	Payload     string    `json:"payload"`
	RecordedAt  time.Time `json:"recorded_at"`
}

// Recording groups the entries of one connected session.
type Recording struct {
	ID         string    `json:"id"`
	Kind       string    `json:"kind"`
	ResourceID int64     `json:"resource_id"`
	StartedAt  time.Time `json:"started_at"`
	Entries    int       `json:"entries"`
}

// Journal serialises writes through one goroutine; reads go straight to the
// pool.
type Journal struct {
	db      *sql.DB
	timeout time.Duration
	logger  zerolog.Logger

	writeCh  chan writeOp
	shutdown chan struct{}
	wg       sync.WaitGroup

	mu     sync.RWMutex
	closed bool
}

type writeOp struct {
	fn     func(*sql.DB) error
	result chan error
}

// Open opens (or creates) the database at cfg.Path and applies migrations.
func Open(cfg config.JournalConfig) (*Journal, error) {
	if cfg.Path == "" {
		return nil, errors.New("journal path cannot be empty")
	}
	if cfg.MaxConnections <= 0 {
		cfg.MaxConnections = 1
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}

	db, err := sql.Open("sqlite3", cfg.Path+"?_busy_timeout=5000&_journal_mode=WAL&_foreign_keys=on")
	if err != nil {
		return nil, fmt.Errorf("failed to open journal: %w", err)
	}
	db.SetMaxOpenConns(cfg.MaxConnections)
	db.SetConnMaxIdleTime(10 * time.Minute)

	if err := applyPragmas(db); err != nil {
		_ = db.Close()
		return nil, err
	}
	if err := applyMigrations(db); err != nil {
		_ = db.Close()
		return nil, err
	}

	j := &Journal{
		db:       db,
		timeout:  cfg.Timeout,
		logger:   logging.Component("journal").With().Str("path", cfg.Path).Logger(),
		writeCh:  make(chan writeOp, 100),
		shutdown: make(chan struct{}),
	}

	j.wg.Add(1)
	go j.writeLoop()

	j.logger.Debug().Msg("journal opened")
	return j, nil
}

func applyPragmas(db *sql.DB) error {
	pragmas := []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA synchronous = NORMAL",
		"PRAGMA foreign_keys = ON",
		"PRAGMA busy_timeout = 5000",
	}
	for _, pragma := range pragmas {
		if _, err := db.Exec(pragma); err != nil {
			return fmt.Errorf("failed to execute %s: %w", pragma, err)
		}
	}
	return nil
}

func (j *Journal) writeLoop() {
	defer j.wg.Done()

	for {
		select {
		case op := <-j.writeCh:
			op.result <- op.fn(j.db)
		case <-j.shutdown:
			return
		}
	}
}

func (j *Journal) executeWrite(ctx context.Context, fn func(*sql.DB) error) error {
	j.mu.RLock()
	closed := j.closed
	j.mu.RUnlock()
	if closed {
		return ErrClosed
	}

	timer := time.NewTimer(j.timeout)
	defer timer.Stop()

	result := make(chan error, 1)
	select {
	case j.writeCh <- writeOp{fn: fn, result: result}:
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return ErrWriteTimeout
	case <-j.shutdown:
		return ErrClosed
	}

	select {
	case err := <-result:
		return err
	case <-j.shutdown:
		return ErrClosed
	}
}

// StartRecording creates a recording and returns its id.
func (j *Journal) StartRecording(ctx context.Context, kind string, resourceID int64) (string, error) {
	id := uuid.NewString()
	err := j.executeWrite(ctx, func(db *sql.DB) error {
		_, err := db.ExecContext(ctx,
			`INSERT INTO recordings (id, kind, resource_id, started_at) VALUES (?, ?, ?, ?)`,
			id, kind, resourceID, time.Now().UTC(),
		)
		if err != nil {
			return fmt.Errorf("failed to insert recording: %w", err)
		}
		return nil
	})
	if err != nil {
		return "", err
	}

	j.logger.Info().Str("recording", id).Str("kind", kind).Int64("resource", resourceID).Msg("recording started")
	return id, nil
}

// Record appends one entry. A zero RecordedAt is stamped with the current
// time.
func (j *Journal) Record(ctx context.Context, e Entry) error {
	if e.RecordingID == "" {
		return ErrInvalidRecording
	}
	if e.Direction != DirectionIn && e.Direction != DirectionOut {
		return ErrInvalidDirection
	}
	if e.RecordedAt.IsZero() {
		e.RecordedAt = time.Now()
	}

	return j.executeWrite(ctx, func(db *sql.DB) error {
		_, err := db.ExecContext(ctx,
			`INSERT INTO entries (recording_id, direction, type, payload, recorded_at) VALUES (?, ?, ?, ?, ?)`,
			e.RecordingID, e.Direction, e.Type, e.Payload, e.RecordedAt.UTC(),
		)
		if err != nil {
			return fmt.Errorf("failed to insert entry: %w", err)
		}
		return nil
	})
}

// Entries returns a recording's entries in the order they were written.
func (j *Journal) Entries(ctx context.Context, recordingID string) ([]Entry, error) {
	var exists int
	err := j.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM recordings WHERE id = ?`, recordingID).Scan(&exists)
	if err != nil {
		return nil, fmt.Errorf("failed to query recording: %w", err)
	}
	if exists == 0 {
		return nil, ErrRecordingNotFound
	}

	rows, err := j.db.QueryContext(ctx, `
		SELECT id, recording_id, direction, type, payload, recorded_at
		FROM entries
		WHERE recording_id = ?
		ORDER BY id ASC
	`, recordingID)
	if err != nil {
		return nil, fmt.Errorf("failed to query entries: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var entries []Entry
	for rows.Next() {
		var e Entry
		if err := rows.Scan(&e.ID, &e.RecordingID, &e.Direction, &e.Type, &e.Payload, &e.RecordedAt); err != nil {
			return nil, fmt.Errorf("failed to scan entry row: %w", err)
		}
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating entry rows: %w", err)
	}
	return entries, nil
}

// Recordings lists recordings, newest first.
func (j *Journal) Recordings(ctx context.Context) ([]Recording, error) {
	rows, err := j.db.QueryContext(ctx, `
		SELECT r.id, r.kind, r.resource_id, r.started_at, COUNT(e.id)
		FROM recordings r
		LEFT JOIN entries e ON e.recording_id = r.id
		GROUP BY r.id
		ORDER BY r.started_at DESC
	`)
	if err != nil {
		return nil, fmt.Errorf("failed to query recordings: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var recordings []Recording
	for rows.Next() {
		var r Recording
		if err := rows.Scan(&r.ID, &r.Kind, &r.ResourceID, &r.StartedAt, &r.Entries); err != nil {
			return nil, fmt.Errorf("failed to scan recording row: %w", err)
		}
		recordings = append(recordings, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating recording rows: %w", err)
	}
	return recordings, nil
}

// Latest returns the most recent recording.
func (j *Journal) Latest(ctx context.Context) (Recording, error) {
	recordings, err := j.Recordings(ctx)
	if err != nil {
		return Recording{}, err
	}
	if len(recordings) == 0 {
		return Recording{}, ErrRecordingNotFound
	}
	return recordings[0], nil
}

// HealthCheck validates connectivity and that the schema is readable.
func (j *Journal) HealthCheck(ctx context.Context) error {
	if err := j.db.PingContext(ctx); err != nil {
		return fmt.Errorf("journal ping failed: %w", err)
	}
	var n int
	if err := j.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM recordings").Scan(&n); err != nil {
		return fmt.Errorf("journal read test failed: %w", err)
	}
	return nil
}

// Close stops the writer and closes the database. Safe to call twice.
func (j *Journal) Close() error {
	j.mu.Lock()
	if j.closed {
		j.mu.Unlock()
		return nil
	}
	j.closed = true
	j.mu.Unlock()

	close(j.shutdown)
	j.wg.Wait()

	if err := j.db.Close(); err != nil {
		return fmt.Errorf("failed to close journal: %w", err)
	}
	return nil
}
