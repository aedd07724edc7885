package storage

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"

	"taskgraph/internal/domain"
)

var (
	ErrNotFound  = errors.New("transcript not found")
	ErrDuplicate = errors.New("transcript already exists")
)

const (
	DriverSQLite = "sqlite"
	DriverFile   = "file"
)

// Repository is the system of record for processed transcripts. A record and
// its tasks are written together or not at all.
type Repository interface {
	GetTranscript(ctx context.Context, hash string) (domain.TranscriptRecord, error)
	// CreateTranscript returns ErrDuplicate if a record with the same hash exists.
	CreateTranscript(ctx context.Context, record domain.TranscriptRecord) (domain.TranscriptRecord, error)
	ListTranscripts(ctx context.Context) ([]domain.TranscriptSummary, error)
	// DeleteTranscript removes the record and every task it owns.
	DeleteTranscript(ctx context.Context, hash string) error
	Close() error
}

// Open builds the repository selected by driver.
func Open(driver, dataDir, databasePath string) (Repository, error) {
	switch driver {
	case "", DriverSQLite:
		if databasePath == "" {
			databasePath = filepath.Join(dataDir, "tasks.db")
		}
		return NewSQLiteStore(databasePath)
	case DriverFile:
		return NewStore(dataDir)
	default:
		return nil, fmt.Errorf("unknown store driver %q", driver)
	}
}
