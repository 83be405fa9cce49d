package store

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

	"airecorder/internal/services"
)

// Store manages the session journal backed by SQLite.
type Store struct {
	db   *sql.DB
	path string
}

const (
	sqliteBusyCode          = 5
	busyRetryAttempts       = 5
	busyRetryInitialBackoff = 10 * time.Millisecond
	busyRetryMaxBackoff     = 200 * time.Millisecond
)

// Open initializes or connects to the journal at path and applies migrations.
func Open(path string) (*Store, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("ensure state dir: %w", err)
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite db: %w", err)
	}

	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA foreign_keys = ON",
		"PRAGMA busy_timeout = 5000",
	}
	for _, pragma := range pragmas {
		if _, execErr := db.Exec(pragma); execErr != nil {
			_ = db.Close()
			return nil, fmt.Errorf("apply pragma %q: %w", pragma, execErr)
		}
	}

	store := &Store{db: db, path: path}
	if err := store.applyMigrations(context.Background()); err != nil {
		_ = db.Close()
		return nil, err
	}
	return store, nil
}

// Path returns the database file location.
func (s *Store) Path() string { return s.path }

// Close closes the underlying database connection.
func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

func ensureContext(ctx context.Context) context.Context {
	if ctx != nil {
		return ctx
	}
	return context.Background()
}

func isSQLiteBusy(err error) bool {
	if err == nil {
		return false
	}
	var coder interface{ Code() int }
	if errors.As(err, &coder) && coder.Code() == sqliteBusyCode {
		return true
	}
	msg := err.Error()
	return strings.Contains(msg, "SQLITE_BUSY") || strings.Contains(msg, "database is locked")
}

func retryOnBusy(ctx context.Context, op func() error) error {
	delay := busyRetryInitialBackoff
	var lastErr error
	for attempt := 0; attempt < busyRetryAttempts; attempt++ {
		lastErr = op()
		if lastErr == nil {
			return nil
		}
		if !isSQLiteBusy(lastErr) || attempt == busyRetryAttempts-1 {
			break
		}
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return ctx.Err()
		}
		if next := delay * 2; next <= busyRetryMaxBackoff {
			delay = next
		}
	}
	return lastErr
}

// Save inserts or replaces the record and its tracks.
func (s *Store) Save(ctx context.Context, rec Record) error {
	ctx = ensureContext(ctx)
	if strings.TrimSpace(rec.ID) == "" {
		return errors.New("save session: id is required")
	}
	if rec.UpdatedAt.IsZero() {
		rec.UpdatedAt = time.Now()
	}
	sources, err := json.Marshal(nonNil(rec.Sources))
	if err != nil {
		return fmt.Errorf("marshal sources: %w", err)
	}
	warnings, err := json.Marshal(nonNil(rec.Warnings))
	if err != nil {
		return fmt.Errorf("marshal warnings: %w", err)
	}

	return retryOnBusy(ctx, func() error {
		tx, err := s.db.BeginTx(ctx, nil)
		if err != nil {
			return fmt.Errorf("begin save tx: %w", err)
		}
		defer func() { _ = tx.Rollback() }()

		if _, err := tx.ExecContext(ctx, `INSERT INTO sessions (
                id, state, started_at, stopped_at, updated_at, sources_json,
                spool_dir, output_path, output_bytes, cause, error_message, warnings_json
            ) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
            ON CONFLICT(id) DO UPDATE SET
                state = excluded.state,
                started_at = excluded.started_at,
                stopped_at = excluded.stopped_at,
                updated_at = excluded.updated_at,
                sources_json = excluded.sources_json,
                spool_dir = excluded.spool_dir,
                output_path = excluded.output_path,
                output_bytes = excluded.output_bytes,
                cause = excluded.cause,
                error_message = excluded.error_message,
                warnings_json = excluded.warnings_json`,
			rec.ID,
			rec.State,
			formatTime(rec.StartedAt),
			nullableTime(rec.StoppedAt),
			formatTime(rec.UpdatedAt),
			string(sources),
			nullableString(rec.SpoolDir),
			nullableString(rec.OutputPath),
			rec.OutputBytes,
			nullableString(rec.Cause),
			nullableString(rec.ErrorMessage),
			string(warnings),
		); err != nil {
			return fmt.Errorf("upsert session: %w", err)
		}

		if _, err := tx.ExecContext(ctx, `DELETE FROM session_tracks WHERE session_id = ?`, rec.ID); err != nil {
			return fmt.Errorf("clear tracks: %w", err)
		}
		for _, t := range rec.Tracks {
			if _, err := tx.ExecContext(ctx, `INSERT INTO session_tracks (
                    session_id, source, chunks, dropped, bytes, lost, error_message
                ) VALUES (?, ?, ?, ?, ?, ?, ?)`,
				rec.ID, t.Source, int64(t.Chunks), int64(t.Dropped), t.Bytes, boolToInt(t.Lost), nullableString(t.ErrorMessage),
			); err != nil {
				return fmt.Errorf("insert track %s: %w", t.Source, err)
			}
		}
		return tx.Commit()
	})
}

const sessionColumns = "id, state, started_at, stopped_at, updated_at, sources_json, spool_dir, output_path, output_bytes, cause, error_message, warnings_json"

// Get loads one session. Missing sessions return an error marked
// services.ErrNotFound.
func (s *Store) Get(ctx context.Context, id string) (Record, error) {
	ctx = ensureContext(ctx)
	row := s.db.QueryRowContext(ctx, `SELECT `+sessionColumns+` FROM sessions WHERE id = ?`, id)
	rec, err := scanRecord(row)
	if errors.Is(err, sql.ErrNoRows) {
		return Record{}, services.Wrap(services.ErrNotFound, "store", "get", "session "+id, nil)
	}
	if err != nil {
		return Record{}, fmt.Errorf("get session: %w", err)
	}
	tracks, err := s.tracks(ctx, id)
	if err != nil {
		return Record{}, err
	}
	rec.Tracks = tracks
	return rec, nil
}

// Find resolves a full session id from a unique prefix.
func (s *Store) Find(ctx context.Context, prefix string) (Record, error) {
	ctx = ensureContext(ctx)
	prefix = strings.TrimSpace(prefix)
	if prefix == "" {
		return Record{}, services.Wrap(services.ErrNotFound, "store", "find", "empty session id", nil)
	}
	rows, err := s.db.QueryContext(ctx, `SELECT id FROM sessions WHERE id LIKE ? ESCAPE '\' LIMIT 2`, escapeLike(prefix)+"%")
	if err != nil {
		return Record{}, fmt.Errorf("find session: %w", err)
	}
	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			rows.Close()
			return Record{}, err
		}
		ids = append(ids, id)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return Record{}, err
	}
	switch len(ids) {
	case 0:
		return Record{}, services.Wrap(services.ErrNotFound, "store", "find", "session "+prefix, nil)
	case 1:
		return s.Get(ctx, ids[0])
	default:
		return Record{}, fmt.Errorf("session id %q is ambiguous", prefix)
	}
}

// List returns sessions, newest first.
func (s *Store) List(ctx context.Context, opts ListOptions) ([]Record, error) {
	ctx = ensureContext(ctx)
	query := `SELECT ` + sessionColumns + ` FROM sessions`
	var args []any
	if len(opts.States) > 0 {
		query += ` WHERE state IN (` + makePlaceholders(len(opts.States)) + `)`
		for _, st := range opts.States {
			args = append(args, st)
		}
	}
	query += ` ORDER BY started_at DESC, id`
	if opts.Limit > 0 {
		query += ` LIMIT ?`
		args = append(args, opts.Limit)
	}
	return s.query(ctx, query, args...)
}

// FailedBefore returns failed sessions that stopped before cutoff.
func (s *Store) FailedBefore(ctx context.Context, cutoff time.Time) ([]Record, error) {
	ctx = ensureContext(ctx)
	return s.query(ctx, `SELECT `+sessionColumns+` FROM sessions
        WHERE state = ? AND COALESCE(stopped_at, updated_at) < ?
        ORDER BY started_at`, StateFailed, formatTime(cutoff))
}

// MarkInterrupted fails every session left in an active state, typically by
// a crash, and returns the affected records.
func (s *Store) MarkInterrupted(ctx context.Context) ([]Record, error) {
	ctx = ensureContext(ctx)
	active, err := s.List(ctx, ListOptions{States: activeStates})
	if err != nil {
		return nil, err
	}
	now := time.Now()
	for i := range active {
		rec := active[i]
		tracks, err := s.tracks(ctx, rec.ID)
		if err != nil {
			return nil, err
		}
		rec.Tracks = tracks
		rec.State = StateFailed
		rec.Cause = services.CauseInterrupted
		if rec.ErrorMessage == "" {
			rec.ErrorMessage = "recorder exited while the session was active"
		}
		if rec.StoppedAt.IsZero() {
			rec.StoppedAt = now
		}
		rec.UpdatedAt = now
		if err := s.Save(ctx, rec); err != nil {
			return nil, err
		}
		active[i] = rec
	}
	return active, nil
}

// Delete removes a session and its tracks.
func (s *Store) Delete(ctx context.Context, id string) error {
	ctx = ensureContext(ctx)
	return retryOnBusy(ctx, func() error {
		if _, err := s.db.ExecContext(ctx, `DELETE FROM session_tracks WHERE session_id = ?`, id); err != nil {
			return fmt.Errorf("delete tracks: %w", err)
		}
		res, err := s.db.ExecContext(ctx, `DELETE FROM sessions WHERE id = ?`, id)
		if err != nil {
			return fmt.Errorf("delete session: %w", err)
		}
		if n, _ := res.RowsAffected(); n == 0 {
			return services.Wrap(services.ErrNotFound, "store", "delete", "session "+id, nil)
		}
		return nil
	})
}

// Summarize counts sessions by state and failure cause.
func (s *Store) Summarize(ctx context.Context) (Summary, error) {
	ctx = ensureContext(ctx)
	rows, err := s.db.QueryContext(ctx, `SELECT state, COALESCE(cause, ''), COUNT(1), COALESCE(SUM(output_bytes), 0)
        FROM sessions GROUP BY state, cause`)
	if err != nil {
		return Summary{}, fmt.Errorf("summarize sessions: %w", err)
	}
	defer rows.Close()

	summary := Summary{ByCause: map[string]int{}}
	for rows.Next() {
		var (
			state, cause string
			count        int
			bytes        int64
		)
		if err := rows.Scan(&state, &cause, &count, &bytes); err != nil {
			return Summary{}, err
		}
		summary.Total += count
		summary.Bytes += bytes
		switch {
		case state == StateSaved:
			summary.Saved += count
		case state == StateFailed:
			summary.Failed += count
			if cause != "" {
				summary.ByCause[cause] += count
			}
		case IsActive(state):
			summary.Active += count
		}
	}
	return summary, rows.Err()
}

func (s *Store) query(ctx context.Context, query string, args ...any) ([]Record, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list sessions: %w", err)
	}
	var records []Record
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			rows.Close()
			return nil, err
		}
		records = append(records, rec)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return records, nil
}

func (s *Store) tracks(ctx context.Context, id string) ([]Track, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT source, chunks, dropped, bytes, lost, error_message
        FROM session_tracks WHERE session_id = ? ORDER BY rowid`, id)
	if err != nil {
		return nil, fmt.Errorf("load tracks: %w", err)
	}
	defer rows.Close()
	var tracks []Track
	for rows.Next() {
		var (
			t       Track
			chunks  int64
			dropped int64
			lost    int
			errMsg  sql.NullString
		)
		if err := rows.Scan(&t.Source, &chunks, &dropped, &t.Bytes, &lost, &errMsg); err != nil {
			return nil, err
		}
		t.Chunks = uint64(chunks)
		t.Dropped = uint64(dropped)
		t.Lost = lost != 0
		t.ErrorMessage = errMsg.String
		tracks = append(tracks, t)
	}
	return tracks, rows.Err()
}
