package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/mattn/go-sqlite3"

	"taskgraph/internal/domain"
)

// Fixed-width UTC timestamps sort correctly as text.
const timeLayout = "2006-01-02T15:04:05.000000000Z07:00"

var schemaStatements = []string{
	`CREATE TABLE IF NOT EXISTS transcripts (
		hash       TEXT PRIMARY KEY,
		content    TEXT NOT NULL,
		created_at TEXT NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS tasks (
		transcript_hash TEXT NOT NULL REFERENCES transcripts(hash) ON DELETE CASCADE,
		position        INTEGER NOT NULL,
		task_id         TEXT NOT NULL,
		description     TEXT NOT NULL DEFAULT '',
		priority        TEXT NOT NULL CHECK (priority IN ('low', 'medium', 'high')),
		dependencies    TEXT NOT NULL DEFAULT '[]',
		status          TEXT NOT NULL CHECK (status IN ('ready', 'error', 'blocked')),
		PRIMARY KEY (transcript_hash, task_id)
	)`,
	`CREATE INDEX IF NOT EXISTS idx_tasks_position ON tasks(transcript_hash, position)`,
	`CREATE INDEX IF NOT EXISTS idx_transcripts_created ON transcripts(created_at)`,
}

// SQLiteStore persists transcripts in SQLite. Task ids are unique per
// transcript only, matching the per-batch id namespace.
type SQLiteStore struct {
	db *sql.DB
}

var _ Repository = (*SQLiteStore)(nil)

func NewSQLiteStore(dbPath string) (*SQLiteStore, error) {
	if dbPath != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(dbPath), 0o755); err != nil {
			return nil, fmt.Errorf("create database directory: %w", err)
		}
	}

	dsn := fmt.Sprintf("file:%s?_foreign_keys=on&_busy_timeout=5000", dbPath)
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	// One writer at a time; also keeps a :memory: database on one connection.
	db.SetMaxOpenConns(1)

	store := &SQLiteStore{db: db}
	if err := store.migrate(); err != nil {
		db.Close()
		return nil, err
	}
	return store, nil
}

func (s *SQLiteStore) migrate() error {
	for _, stmt := range schemaStatements {
		if _, err := s.db.Exec(stmt); err != nil {
			return fmt.Errorf("migrate: %w", err)
		}
	}
	return nil
}

func (s *SQLiteStore) GetTranscript(ctx context.Context, hash string) (domain.TranscriptRecord, error) {
	var (
		record    domain.TranscriptRecord
		createdAt string
	)
	err := s.db.QueryRowContext(ctx,
		`SELECT hash, content, created_at FROM transcripts WHERE hash = ?`, hash,
	).Scan(&record.Hash, &record.Content, &createdAt)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.TranscriptRecord{}, ErrNotFound
	}
	if err != nil {
		return domain.TranscriptRecord{}, fmt.Errorf("query transcript: %w", err)
	}

	if record.CreatedAt, err = time.Parse(timeLayout, createdAt); err != nil {
		return domain.TranscriptRecord{}, fmt.Errorf("parse created_at: %w", err)
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT task_id, description, priority, dependencies, status
		FROM tasks WHERE transcript_hash = ? ORDER BY position`, hash)
	if err != nil {
		return domain.TranscriptRecord{}, fmt.Errorf("query tasks: %w", err)
	}
	defer rows.Close()

	record.Tasks = []domain.Task{}
	for rows.Next() {
		var (
			task     domain.Task
			priority string
			deps     string
			status   string
		)
		if err := rows.Scan(&task.ID, &task.Description, &priority, &deps, &status); err != nil {
			return domain.TranscriptRecord{}, fmt.Errorf("scan task: %w", err)
		}
		if err := json.Unmarshal([]byte(deps), &task.Dependencies); err != nil {
			return domain.TranscriptRecord{}, fmt.Errorf("decode dependencies of %s: %w", task.ID, err)
		}
		if task.Dependencies == nil {
			task.Dependencies = []string{}
		}
		task.Priority = domain.Priority(priority)
		if !task.Priority.Valid() {
			return domain.TranscriptRecord{}, fmt.Errorf("task %s has invalid priority %q", task.ID, priority)
		}
		task.Status = domain.StatusFromStored(status)
		record.Tasks = append(record.Tasks, task)
	}
	if err := rows.Err(); err != nil {
		return domain.TranscriptRecord{}, fmt.Errorf("iterate tasks: %w", err)
	}

	return record, nil
}

func (s *SQLiteStore) CreateTranscript(ctx context.Context, record domain.TranscriptRecord) (domain.TranscriptRecord, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return domain.TranscriptRecord{}, fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	_, err = tx.ExecContext(ctx,
		`INSERT INTO transcripts (hash, content, created_at) VALUES (?, ?, ?)`,
		record.Hash, record.Content, record.CreatedAt.UTC().Format(timeLayout))
	if isUniqueViolation(err) {
		return domain.TranscriptRecord{}, ErrDuplicate
	}
	if err != nil {
		return domain.TranscriptRecord{}, fmt.Errorf("insert transcript: %w", err)
	}

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO tasks (transcript_hash, position, task_id, description, priority, dependencies, status)
		VALUES (?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return domain.TranscriptRecord{}, fmt.Errorf("prepare task insert: %w", err)
	}
	defer stmt.Close()

	for i, task := range record.Tasks {
		deps := task.Dependencies
		if deps == nil {
			deps = []string{}
		}
		encoded, err := json.Marshal(deps)
		if err != nil {
			return domain.TranscriptRecord{}, fmt.Errorf("encode dependencies of %s: %w", task.ID, err)
		}
		if _, err := stmt.ExecContext(ctx, record.Hash, i, task.ID, task.Description,
			string(task.Priority), string(encoded), task.Status.StoredStatus()); err != nil {
			return domain.TranscriptRecord{}, fmt.Errorf("insert task %s: %w", task.ID, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return domain.TranscriptRecord{}, fmt.Errorf("commit: %w", err)
	}

	record.CreatedAt = record.CreatedAt.UTC()
	record.Tasks = domain.CloneTasks(record.Tasks)
	return record, nil
}

func (s *SQLiteStore) ListTranscripts(ctx context.Context) ([]domain.TranscriptSummary, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT t.hash, t.created_at, COUNT(k.task_id),
		       COALESCE(SUM(CASE WHEN k.status = 'error' THEN 1 ELSE 0 END), 0)
		FROM transcripts t
		LEFT JOIN tasks k ON k.transcript_hash = t.hash
		GROUP BY t.hash, t.created_at
		ORDER BY t.created_at DESC, t.hash`)
	if err != nil {
		return nil, fmt.Errorf("list transcripts: %w", err)
	}
	defer rows.Close()

	summaries := []domain.TranscriptSummary{}
	for rows.Next() {
		var (
			summary   domain.TranscriptSummary
			createdAt string
		)
		if err := rows.Scan(&summary.Hash, &createdAt, &summary.TaskCount, &summary.CycleCount); err != nil {
			return nil, fmt.Errorf("scan transcript: %w", err)
		}
		if summary.CreatedAt, err = time.Parse(timeLayout, createdAt); err != nil {
			return nil, fmt.Errorf("parse created_at: %w", err)
		}
		summaries = append(summaries, summary)
	}
	return summaries, rows.Err()
}

func (s *SQLiteStore) DeleteTranscript(ctx context.Context, hash string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM transcripts WHERE hash = ?`, hash)
	if err != nil {
		return fmt.Errorf("delete transcript: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("delete transcript: %w", err)
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func isUniqueViolation(err error) bool {
	var sqliteErr sqlite3.Error
	if !errors.As(err, &sqliteErr) {
		return false
	}
	return sqliteErr.ExtendedCode == sqlite3.ErrConstraintPrimaryKey ||
		sqliteErr.ExtendedCode == sqlite3.ErrConstraintUnique
}
