package conversation

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	_ "github.com/mattn/go-sqlite3"
	"github.com/rs/zerolog"
)

// SQLiteStore persists threads in a local SQLite database. The checkpoint
// status lives on the thread row so the CAS is a single guarded UPDATE.
type SQLiteStore struct {
	db     *sql.DB
	logger zerolog.Logger
}

// NewSQLiteStore opens (or creates) the thread database at path.
func NewSQLiteStore(path string, logger zerolog.Logger) (*SQLiteStore, error) {
	if path == "" {
		return nil, fmt.Errorf("store path is required")
	}

	db, err := sql.Open("sqlite3", path+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("failed to open thread database: %w", err)
	}

	s := &SQLiteStore{db: db, logger: logger}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, err
	}

	logger.Info().Str("path", path).Msg("Thread store initialized")
	return s, nil
}

func (s *SQLiteStore) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS threads (
		id TEXT PRIMARY KEY,
		created_at TIMESTAMP NOT NULL,
		checkpoint_status TEXT NOT NULL DEFAULT 'none',
		checkpoint TEXT
	);
	CREATE TABLE IF NOT EXISTS turns (
		seq INTEGER PRIMARY KEY AUTOINCREMENT,
		thread_id TEXT NOT NULL,
		turn TEXT NOT NULL,
		FOREIGN KEY (thread_id) REFERENCES threads(id)
	);
	CREATE INDEX IF NOT EXISTS idx_turns_thread ON turns(thread_id, seq);
	`
	if _, err := s.db.Exec(schema); err != nil {
		return fmt.Errorf("failed to migrate thread schema: %w", err)
	}
	return nil
}

// Ensure creates the thread if needed and returns its current state.
func (s *SQLiteStore) Ensure(ctx context.Context, threadID string) (*Thread, error) {
	if threadID == "" {
		return nil, fmt.Errorf("thread id cannot be empty")
	}

	res, err := s.db.ExecContext(ctx,
		`INSERT OR IGNORE INTO threads (id, created_at, checkpoint_status) VALUES (?, ?, ?)`,
		threadID, time.Now().UTC(), string(StatusNone))
	if err != nil {
		return nil, fmt.Errorf("failed to create thread: %w", err)
	}
	if n, _ := res.RowsAffected(); n > 0 {
		s.logger.Info().Str("thread_id", threadID).Msg("Thread created")
	}

	return s.Load(ctx, threadID)
}

// Load returns the thread with its full turn history.
func (s *SQLiteStore) Load(ctx context.Context, threadID string) (*Thread, error) {
	var createdAt time.Time
	var status string
	var checkpointJSON sql.NullString

	err := s.db.QueryRowContext(ctx,
		`SELECT created_at, checkpoint_status, checkpoint FROM threads WHERE id = ?`,
		threadID).Scan(&createdAt, &status, &checkpointJSON)
	if err == sql.ErrNoRows {
		return nil, ErrThreadNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load thread: %w", err)
	}

	thread := &Thread{ID: threadID, CreatedAt: createdAt}

	if checkpointJSON.Valid && status != string(StatusNone) {
		var cp Checkpoint
		if err := json.Unmarshal([]byte(checkpointJSON.String), &cp); err != nil {
			return nil, fmt.Errorf("failed to decode checkpoint: %w", err)
		}
		thread.Checkpoint = &cp
	}

	rows, err := s.db.QueryContext(ctx,
		`SELECT turn FROM turns WHERE thread_id = ? ORDER BY seq ASC`, threadID)
	if err != nil {
		return nil, fmt.Errorf("failed to load turns: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var raw string
		if err := rows.Scan(&raw); err != nil {
			return nil, fmt.Errorf("failed to scan turn: %w", err)
		}
		var turn Turn
		if err := json.Unmarshal([]byte(raw), &turn); err != nil {
			s.logger.Warn().Str("thread_id", threadID).Err(err).Msg("Skipping unreadable turn")
			continue
		}
		thread.Turns = append(thread.Turns, turn)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read turns: %w", err)
	}

	return thread, nil
}

// AppendTurn appends a turn; turns are never updated or deleted.
func (s *SQLiteStore) AppendTurn(ctx context.Context, threadID string, turn Turn) error {
	if turn.Role == "" {
		return fmt.Errorf("turn role cannot be empty")
	}
	if turn.Content == "" {
		return fmt.Errorf("turn content cannot be empty")
	}
	if turn.ID == "" {
		turn.ID = uuid.NewString()
	}
	if turn.Timestamp.IsZero() {
		turn.Timestamp = time.Now().UTC()
	}

	data, err := json.Marshal(turn)
	if err != nil {
		return fmt.Errorf("failed to marshal turn: %w", err)
	}

	res, err := s.db.ExecContext(ctx,
		`INSERT INTO turns (thread_id, turn) SELECT id, ? FROM threads WHERE id = ?`,
		string(data), threadID)
	if err != nil {
		return fmt.Errorf("failed to append turn: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrThreadNotFound
	}

	s.logger.Debug().
		Str("thread_id", threadID).
		Str("role", turn.Role).
		Msg("Turn appended")

	return nil
}

// CompareAndSwapCheckpoint replaces the checkpoint iff the stored status
// still matches what the caller last observed.
func (s *SQLiteStore) CompareAndSwapCheckpoint(ctx context.Context, threadID string, expected CheckpointStatus, next *Checkpoint) error {
	if next == nil {
		return fmt.Errorf("next checkpoint cannot be nil")
	}
	if err := next.Validate(); err != nil {
		return err
	}
	next.UpdatedAt = time.Now().UTC()

	data, err := json.Marshal(next)
	if err != nil {
		return fmt.Errorf("failed to marshal checkpoint: %w", err)
	}

	res, err := s.db.ExecContext(ctx,
		`UPDATE threads SET checkpoint_status = ?, checkpoint = ? WHERE id = ? AND checkpoint_status = ?`,
		string(next.Status), string(data), threadID, string(expected))
	if err != nil {
		return fmt.Errorf("failed to swap checkpoint: %w", err)
	}

	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to read swap result: %w", err)
	}
	if n == 0 {
		var exists int
		if err := s.db.QueryRowContext(ctx,
			`SELECT 1 FROM threads WHERE id = ?`, threadID).Scan(&exists); err == sql.ErrNoRows {
			return ErrThreadNotFound
		}
		s.logger.Warn().
			Str("thread_id", threadID).
			Str("expected", string(expected)).
			Msg("Checkpoint CAS conflict")
		return ErrConcurrentModification
	}

	s.logger.Debug().
		Str("thread_id", threadID).
		Str("status", string(next.Status)).
		Int("step", next.Step).
		Msg("Checkpoint replaced")

	return nil
}

// ListByStatus returns ids of threads with the given checkpoint status.
func (s *SQLiteStore) ListByStatus(ctx context.Context, status CheckpointStatus) ([]string, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id FROM threads WHERE checkpoint_status = ? ORDER BY id`, string(status))
	if err != nil {
		return nil, fmt.Errorf("failed to list threads: %w", err)
	}
	defer rows.Close()

	ids := []string{}
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("failed to scan thread id: %w", err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// Close closes the underlying database.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}
