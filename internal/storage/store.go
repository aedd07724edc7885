package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"sync"

	"taskgraph/internal/domain"
)

type metaData struct {
	Transcripts map[string]domain.TranscriptRecord `json:"transcripts"`
}

// Store keeps every transcript in a single JSON file, rewritten atomically on
// each change. It suits single-process deployments and tests.
type Store struct {
	mu   sync.RWMutex
	path string
	data metaData
}

var _ Repository = (*Store)(nil)

func NewStore(baseDir string) (*Store, error) {
	if err := os.MkdirAll(baseDir, 0o755); err != nil {
		return nil, fmt.Errorf("create data directory: %w", err)
	}

	store := &Store{path: filepath.Join(baseDir, "transcripts.json")}
	if err := store.Load(); err != nil {
		return nil, err
	}
	return store, nil
}

func (s *Store) Load() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.data = metaData{Transcripts: map[string]domain.TranscriptRecord{}}

	file, err := os.Open(s.path)
	if errors.Is(err, os.ErrNotExist) {
		return s.saveLocked()
	}
	if err != nil {
		return fmt.Errorf("open transcripts file: %w", err)
	}
	defer file.Close()

	if err := json.NewDecoder(file).Decode(&s.data); err != nil {
		if errors.Is(err, io.EOF) {
			return s.saveLocked()
		}
		return fmt.Errorf("decode transcripts file: %w", err)
	}

	if s.data.Transcripts == nil {
		s.data.Transcripts = map[string]domain.TranscriptRecord{}
	}
	for hash, record := range s.data.Transcripts {
		for _, task := range record.Tasks {
			if !task.Priority.Valid() {
				return fmt.Errorf("transcripts file: transcript %s task %s has invalid priority %q", hash, task.ID, task.Priority)
			}
		}
	}
	return nil
}

func (s *Store) GetTranscript(_ context.Context, hash string) (domain.TranscriptRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	record, ok := s.data.Transcripts[hash]
	if !ok {
		return domain.TranscriptRecord{}, ErrNotFound
	}
	record.Tasks = domain.CloneTasks(record.Tasks)
	return record, nil
}

func (s *Store) CreateTranscript(_ context.Context, record domain.TranscriptRecord) (domain.TranscriptRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.data.Transcripts[record.Hash]; exists {
		return domain.TranscriptRecord{}, ErrDuplicate
	}

	record.Tasks = domain.CloneTasks(record.Tasks)
	s.data.Transcripts[record.Hash] = record

	if err := s.saveLocked(); err != nil {
		delete(s.data.Transcripts, record.Hash)
		return domain.TranscriptRecord{}, err
	}

	record.Tasks = domain.CloneTasks(record.Tasks)
	return record, nil
}

func (s *Store) ListTranscripts(_ context.Context) ([]domain.TranscriptSummary, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	summaries := make([]domain.TranscriptSummary, 0, len(s.data.Transcripts))
	for _, record := range s.data.Transcripts {
		summaries = append(summaries, record.Summary())
	}
	sortSummaries(summaries)
	return summaries, nil
}

func (s *Store) DeleteTranscript(_ context.Context, hash string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	record, ok := s.data.Transcripts[hash]
	if !ok {
		return ErrNotFound
	}

	delete(s.data.Transcripts, hash)
	if err := s.saveLocked(); err != nil {
		s.data.Transcripts[hash] = record
		return err
	}
	return nil
}

func (s *Store) Close() error { return nil }

func (s *Store) saveLocked() error {
	tmp, err := os.CreateTemp(filepath.Dir(s.path), "transcripts-*.json")
	if err != nil {
		return fmt.Errorf("create temp transcripts: %w", err)
	}

	encoder := json.NewEncoder(tmp)
	encoder.SetIndent("", "  ")
	if err := encoder.Encode(s.data); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return fmt.Errorf("encode transcripts: %w", err)
	}

	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return fmt.Errorf("close temp transcripts: %w", err)
	}

	if err := os.Rename(tmp.Name(), s.path); err != nil {
		os.Remove(tmp.Name())
		return fmt.Errorf("replace transcripts file: %w", err)
	}

	return nil
}

// sortSummaries orders newest first, hash as tie-breaker.
func sortSummaries(summaries []domain.TranscriptSummary) {
	sort.Slice(summaries, func(i, j int) bool {
		if !summaries[i].CreatedAt.Equal(summaries[j].CreatedAt) {
			return summaries[i].CreatedAt.After(summaries[j].CreatedAt)
		}
		return summaries[i].Hash < summaries[j].Hash
	})
}
