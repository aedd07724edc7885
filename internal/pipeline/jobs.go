package pipeline

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"taskgraph/internal/domain"
)

// ErrShuttingDown is returned for work submitted after Shutdown began.
var ErrShuttingDown = errors.New("shutting down")

// Processor is the part of the Orchestrator the job manager drives.
type Processor interface {
	Process(ctx context.Context, transcript string) (*domain.TranscriptResult, error)
}

// JobManager runs the pipeline in the background and exposes its progress.
// There is one job per transcript hash; a failed job is replaced by the next
// submission of the same text.
type JobManager struct {
	proc   Processor
	logger *slog.Logger

	mu     sync.Mutex
	jobs   map[string]*domain.Job
	byHash map[string]string
	closed bool

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

func NewJobManager(proc Processor, logger *slog.Logger) *JobManager {
	if logger == nil {
		logger = slog.Default()
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &JobManager{
		proc:   proc,
		logger: logger,
		jobs:   map[string]*domain.Job{},
		byHash: map[string]string{},
		ctx:    ctx,
		cancel: cancel,
	}
}

// Submit returns the existing job for the transcript, or starts a new one.
func (m *JobManager) Submit(transcript string) (domain.Job, error) {
	if strings.TrimSpace(transcript) == "" {
		return domain.Job{}, domain.ErrEmptyTranscript
	}
	hash := Hash(transcript)

	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return domain.Job{}, ErrShuttingDown
	}

	if id, ok := m.byHash[hash]; ok {
		if job := m.jobs[id]; job.Status != domain.JobStatusError {
			return snapshot(job), nil
		}
	}

	now := time.Now().UTC()
	job := &domain.Job{
		ID:        uuid.NewString(),
		Hash:      hash,
		Status:    domain.JobStatusPending,
		CreatedAt: now,
		UpdatedAt: now,
	}
	m.jobs[job.ID] = job
	m.byHash[hash] = job.ID

	m.wg.Add(1)
	go m.run(job.ID, transcript)

	m.logger.Info("job submitted", "job", job.ID, "hash", hash)
	return snapshot(job), nil
}

func (m *JobManager) Get(id string) (domain.Job, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	job, ok := m.jobs[id]
	if !ok {
		return domain.Job{}, &domain.NotFoundError{Kind: "job", ID: id}
	}
	return snapshot(job), nil
}

// Shutdown stops accepting jobs, cancels running ones and waits for them.
func (m *JobManager) Shutdown(ctx context.Context) error {
	m.mu.Lock()
	m.closed = true
	m.mu.Unlock()
	m.cancel()

	done := make(chan struct{})
	go func() {
		m.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (m *JobManager) run(id, transcript string) {
	defer m.wg.Done()

	m.update(id, func(job *domain.Job) { job.Status = domain.JobStatusProcessing })

	res, err := m.proc.Process(m.ctx, transcript)

	m.update(id, func(job *domain.Job) {
		if err != nil {
			job.Status = domain.JobStatusError
			job.Error = err.Error()
			job.ErrorKind = domain.ErrorKind(err)
			return
		}
		job.Status = domain.JobStatusDone
		job.Result = res
	})

	if err != nil {
		m.logger.Error("job failed", "job", id, "error", err)
	}
}

func (m *JobManager) update(id string, fn func(*domain.Job)) {
	m.mu.Lock()
	defer m.mu.Unlock()

	job := m.jobs[id]
	fn(job)
	job.UpdatedAt = time.Now().UTC()
}

func snapshot(job *domain.Job) domain.Job {
	out := *job
	if job.Result != nil {
		res := job.Result.Clone()
		out.Result = &res
	}
	return out
}
