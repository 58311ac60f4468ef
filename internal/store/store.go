// Package store records streaming sessions and their events so they can be
// listed and replayed later.
package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/oklog/ulid/v2"
	_ "modernc.org/sqlite"
)

// ErrNotFound indicates the requested recording does not exist.
var ErrNotFound = errors.New("recording not found")

// RecordingStatus is the lifecycle state of a recorded session.
type RecordingStatus string

const (
	StatusStreaming RecordingStatus = "streaming"
	StatusCompleted RecordingStatus = "completed"
	StatusFailed    RecordingStatus = "failed"
	StatusClosed    RecordingStatus = "closed"
)

// Recording describes one streaming session captured by the CLI.
type Recording struct {
	ID        string          `json:"id"`
	SessionID string          `json:"sessionId"`
	Transport string          `json:"transport"`
	BaseURL   string          `json:"baseUrl"`
	ProgramID string          `json:"programId,omitempty"`
	Status    RecordingStatus `json:"status"`
	Error     string          `json:"error,omitempty"`
	Events    int             `json:"events"`
	CreatedAt time.Time       `json:"createdAt"`
	UpdatedAt time.Time       `json:"updatedAt"`
}

// Event is one message received during a recorded session.
type Event struct {
	ID          string    `json:"id"`
	RecordingID string    `json:"recordingId"`
	Seq         int       `json:"seq"`
	Type        string    `json:"type,omitempty"`
	Raw         string    `json:"raw"`
	CreatedAt   time.Time `json:"createdAt"`
}

// Store wraps the database used for trace recordings.
type Store struct {
	db     *sql.DB
	driver string
}

// Open initializes the datastore using the supplied DSN/file path and driver
// ("sqlite" or "postgres").
func Open(dsn string, driver string) (*Store, error) {
	if driver == "" {
		driver = "sqlite"
	}
	if strings.TrimSpace(dsn) == "" {
		return nil, errors.New("datastore DSN is required")
	}

	var (
		db  *sql.DB
		err error
	)
	switch driver {
	case "sqlite":
		if err := os.MkdirAll(filepath.Dir(dsn), 0o755); err != nil {
			return nil, fmt.Errorf("failed to create datastore directory: %w", err)
		}
		conn := fmt.Sprintf("file:%s?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)&_pragma=foreign_keys(1)", dsn)
		db, err = sql.Open("sqlite", conn)
		if err == nil {
			db.SetMaxOpenConns(1)
		}
	case "postgres":
		db, err = sql.Open("pgx", dsn)
	default:
		return nil, fmt.Errorf("unsupported datastore driver: %s", driver)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to open %s datastore: %w", driver, err)
	}

	s := &Store{db: db, driver: driver}
	if err := s.initSchema(); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

func (s *Store) initSchema() error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS recordings (
			id TEXT PRIMARY KEY,
			session_id TEXT NOT NULL,
			transport TEXT NOT NULL,
			base_url TEXT NOT NULL,
			program_id TEXT,
			status TEXT NOT NULL,
			error TEXT,
			created_at TIMESTAMP NOT NULL,
			updated_at TIMESTAMP NOT NULL
		);`,
		`CREATE TABLE IF NOT EXISTS recording_events (
			id TEXT PRIMARY KEY,
			recording_id TEXT NOT NULL REFERENCES recordings(id) ON DELETE CASCADE,
			seq INTEGER NOT NULL,
			type TEXT,
			raw TEXT NOT NULL,
			created_at TIMESTAMP NOT NULL
		);`,
		`CREATE INDEX IF NOT EXISTS idx_recording_events_recording ON recording_events(recording_id, seq);`,
	}
	for _, stmt := range stmts {
		if _, err := s.db.Exec(stmt); err != nil {
			return fmt.Errorf("schema apply failed: %w", err)
		}
	}
	return nil
}

// rebind rewrites ? placeholders to $n for postgres.
func (s *Store) rebind(query string) string {
	if s.driver != "postgres" {
		return query
	}
	var b strings.Builder
	n := 0
	for _, r := range query {
		if r == '?' {
			n++
			b.WriteString("$" + strconv.Itoa(n))
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

// Close shuts down the datastore.
func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

// CreateRecording inserts a new recording and assigns its ID.
func (s *Store) CreateRecording(ctx context.Context, rec *Recording) error {
	if rec.SessionID == "" {
		return errors.New("session id required")
	}
	now := time.Now().UTC()
	rec.ID = ulid.Make().String()
	rec.CreatedAt = now
	rec.UpdatedAt = now
	if rec.Status == "" {
		rec.Status = StatusStreaming
	}
	_, err := s.db.ExecContext(ctx, s.rebind(`INSERT INTO recordings (id, session_id, transport, base_url, program_id, status, error, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`),
		rec.ID, rec.SessionID, rec.Transport, rec.BaseURL, rec.ProgramID, string(rec.Status), rec.Error, rec.CreatedAt, rec.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert recording: %w", err)
	}
	return nil
}

// FinishRecording stores the final status of a recording.
func (s *Store) FinishRecording(ctx context.Context, id string, status RecordingStatus, message string) error {
	res, err := s.db.ExecContext(ctx, s.rebind(`UPDATE recordings SET status=?, error=?, updated_at=? WHERE id=?`),
		string(status), message, time.Now().UTC(), id,
	)
	if err != nil {
		return fmt.Errorf("update recording: %w", err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return ErrNotFound
	}
	return nil
}

// AppendEvent adds an event to a recording and assigns its ID.
func (s *Store) AppendEvent(ctx context.Context, evt *Event) error {
	if evt.RecordingID == "" {
		return errors.New("recording id required")
	}
	evt.ID = ulid.Make().String()
	evt.CreatedAt = time.Now().UTC()
	_, err := s.db.ExecContext(ctx, s.rebind(`INSERT INTO recording_events (id, recording_id, seq, type, raw, created_at) VALUES (?, ?, ?, ?, ?, ?)`),
		evt.ID, evt.RecordingID, evt.Seq, evt.Type, evt.Raw, evt.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert event: %w", err)
	}
	return nil
}

const recordingColumns = `r.id, r.session_id, r.transport, r.base_url, r.program_id, r.status, r.error, r.created_at, r.updated_at,
	(SELECT COUNT(*) FROM recording_events e WHERE e.recording_id = r.id)`

type scanner interface {
	Scan(dest ...any) error
}

func scanRecording(row scanner) (Recording, error) {
	var (
		rec       Recording
		programID sql.NullString
		errText   sql.NullString
		status    string
	)
	if err := row.Scan(&rec.ID, &rec.SessionID, &rec.Transport, &rec.BaseURL, &programID, &status, &errText, &rec.CreatedAt, &rec.UpdatedAt, &rec.Events); err != nil {
		return Recording{}, err
	}
	rec.ProgramID = programID.String
	rec.Error = errText.String
	rec.Status = RecordingStatus(status)
	return rec, nil
}

// GetRecording loads a recording by ID.
func (s *Store) GetRecording(ctx context.Context, id string) (*Recording, error) {
	row := s.db.QueryRowContext(ctx, s.rebind(`SELECT `+recordingColumns+` FROM recordings r WHERE r.id=?`), id)
	rec, err := scanRecording(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &rec, nil
}

// ListRecordings returns recordings sorted from newest to oldest.
func (s *Store) ListRecordings(ctx context.Context, limit int) ([]Recording, error) {
	query := `SELECT ` + recordingColumns + ` FROM recordings r ORDER BY r.id DESC`
	if limit > 0 {
		query = fmt.Sprintf("%s LIMIT %d", query, limit)
	}
	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var recs []Recording
	for rows.Next() {
		rec, err := scanRecording(rows)
		if err != nil {
			return nil, err
		}
		recs = append(recs, rec)
	}
	return recs, rows.Err()
}

// ListEvents returns the events of a recording in arrival order.
func (s *Store) ListEvents(ctx context.Context, recordingID string) ([]Event, error) {
	rows, err := s.db.QueryContext(ctx, s.rebind(`SELECT id, recording_id, seq, type, raw, created_at FROM recording_events WHERE recording_id=? ORDER BY seq ASC`), recordingID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var events []Event
	for rows.Next() {
		var (
			evt  Event
			kind sql.NullString
		)
		if err := rows.Scan(&evt.ID, &evt.RecordingID, &evt.Seq, &kind, &evt.Raw, &evt.CreatedAt); err != nil {
			return nil, err
		}
		evt.Type = kind.String
		events = append(events, evt)
	}
	return events, rows.Err()
}

// DeleteRecording removes a recording and its events.
func (s *Store) DeleteRecording(ctx context.Context, id string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback() //nolint:errcheck
	if _, err := tx.ExecContext(ctx, s.rebind(`DELETE FROM recording_events WHERE recording_id=?`), id); err != nil {
		return err
	}
	res, err := tx.ExecContext(ctx, s.rebind(`DELETE FROM recordings WHERE id=?`), id)
	if err != nil {
		return err
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return ErrNotFound
	}
	return tx.Commit()
}
