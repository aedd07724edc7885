package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"taskgraph/internal/domain"
	"taskgraph/internal/storage"
)

const DefaultExtractTimeout = 60 * time.Second

// Extractor asks a language model for candidate tasks in a transcript.
// Transport, auth and timeout failures are reported as *domain.ProviderError.
type Extractor interface {
	Extract(ctx context.Context, transcript string) ([]domain.RawTask, error)
}

type Stage string

const (
	StageReceived   Stage = "received"
	StageCacheCheck Stage = "cache-check"
	StageStoreCheck Stage = "store-check"
	StageExtracting Stage = "extracting"
	StageValidating Stage = "validating"
	StageSanitizing Stage = "sanitizing"
	StageDetecting  Stage = "detecting-cycles"
	StagePersisting Stage = "persisting"
	StageCached     Stage = "cached"
	StageDone       Stage = "done"
)

type Options struct {
	ExtractTimeout time.Duration
	Logger         *slog.Logger
	// OnStage, when set, is called on every state transition of a request.
	OnStage func(hash string, stage Stage)
	Now     func() time.Time
}

// Orchestrator runs the transcript pipeline. At most one extraction runs per
// hash at any time: concurrent callers for the same new transcript share the
// outcome of a single in-flight run, and a hash conflict reported by storage
// (another process won the race) resolves to the stored record.
//
// In-flight runs belong to the Orchestrator, not to the caller that started
// them; Shutdown waits for them before the store may be closed.
type Orchestrator struct {
	store     storage.Repository
	extractor Extractor
	validator *Validator
	cache     *ResultCache

	lease singleflight.Group

	mu      sync.Mutex
	closed  bool
	leaders sync.WaitGroup
	ctx     context.Context
	cancel  context.CancelFunc

	extractTimeout time.Duration
	logger         *slog.Logger
	onStage        func(string, Stage)
	now            func() time.Time
}

func NewOrchestrator(store storage.Repository, extractor Extractor, validator *Validator, cache *ResultCache, opts Options) *Orchestrator {
	ctx, cancel := context.WithCancel(context.Background())
	o := &Orchestrator{
		ctx:            ctx,
		cancel:         cancel,
		store:          store,
		extractor:      extractor,
		validator:      validator,
		cache:          cache,
		extractTimeout: opts.ExtractTimeout,
		logger:         opts.Logger,
		onStage:        opts.OnStage,
		now:            opts.Now,
	}
	if o.extractTimeout <= 0 {
		o.extractTimeout = DefaultExtractTimeout
	}
	if o.logger == nil {
		o.logger = slog.Default()
	}
	if o.now == nil {
		o.now = time.Now
	}
	return o
}

// Process returns the task graph for transcript, computing and persisting it
// only if no stored result exists for the transcript's hash.
func (o *Orchestrator) Process(ctx context.Context, transcript string) (*domain.TranscriptResult, error) {
	if strings.TrimSpace(transcript) == "" {
		return nil, domain.ErrEmptyTranscript
	}
	if o.isClosed() {
		return nil, ErrShuttingDown
	}

	hash := Hash(transcript)
	o.enter(hash, StageReceived)

	o.enter(hash, StageCacheCheck)
	if res, ok := o.cache.Get(hash); ok {
		o.logger.Debug("transcript served from cache", "hash", hash)
		o.enter(hash, StageDone)
		return &res, nil
	}

	// The leader keeps working if its own caller goes away so that waiters
	// still get a result. It runs on the Orchestrator's context, bounded by
	// extractTimeout and cancelled only by Shutdown.
	ch := o.lease.DoChan(hash, func() (any, error) {
		if !o.acquire() {
			return domain.TranscriptResult{}, ErrShuttingDown
		}
		defer o.leaders.Done()
		return o.resolve(o.ctx, hash, transcript)
	})

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case r := <-ch:
		if r.Err != nil {
			return nil, r.Err
		}
		res := r.Val.(domain.TranscriptResult).Clone()
		o.enter(hash, StageDone)
		return &res, nil
	}
}

// Shutdown refuses new work and waits for in-flight runs to persist their
// results. If ctx ends first, the runs are cancelled and awaited, and
// ctx.Err() is returned.
func (o *Orchestrator) Shutdown(ctx context.Context) error {
	o.mu.Lock()
	o.closed = true
	o.mu.Unlock()

	done := make(chan struct{})
	go func() {
		o.leaders.Wait()
		close(done)
	}()

	select {
	case <-done:
		o.cancel()
		return nil
	case <-ctx.Done():
		o.cancel()
		<-done
		return ctx.Err()
	}
}

// acquire registers a leader unless Shutdown has started. Add and Wait are
// ordered by mu, so no leader is added once Shutdown waits.
func (o *Orchestrator) acquire() bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.closed {
		return false
	}
	o.leaders.Add(1)
	return true
}

func (o *Orchestrator) isClosed() bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.closed
}

func (o *Orchestrator) resolve(ctx context.Context, hash, transcript string) (domain.TranscriptResult, error) {
	if res, ok := o.cache.Get(hash); ok {
		return res, nil
	}

	o.enter(hash, StageStoreCheck)
	existing, err := o.store.GetTranscript(ctx, hash)
	switch {
	case err == nil:
		o.logger.Info("transcript served from store", "hash", hash)
		return o.remember(hash, existing), nil
	case !errors.Is(err, storage.ErrNotFound):
		return domain.TranscriptResult{}, o.fail(hash, StageStoreCheck, &domain.PersistenceError{Op: "get transcript", Err: err})
	}

	tasks, err := o.build(ctx, hash, transcript)
	if err != nil {
		return domain.TranscriptResult{}, err
	}

	o.enter(hash, StagePersisting)
	record := domain.TranscriptRecord{
		Hash:      hash,
		Content:   transcript,
		CreatedAt: o.now().UTC(),
		Tasks:     tasks,
	}
	saved, err := o.store.CreateTranscript(ctx, record)
	if errors.Is(err, storage.ErrDuplicate) {
		o.logger.Warn("transcript persisted concurrently, using stored record", "hash", hash)
		saved, err = o.store.GetTranscript(ctx, hash)
	}
	if err != nil {
		return domain.TranscriptResult{}, o.fail(hash, StagePersisting, &domain.PersistenceError{Op: "create transcript", Err: err})
	}

	o.logger.Info("transcript processed", "hash", hash, "tasks", len(saved.Tasks))
	return o.remember(hash, saved), nil
}

// build runs extraction through cycle annotation. Nothing here touches storage.
func (o *Orchestrator) build(ctx context.Context, hash, transcript string) ([]domain.Task, error) {
	o.enter(hash, StageExtracting)
	raw, err := o.extract(ctx, transcript)
	if err != nil {
		return nil, o.fail(hash, StageExtracting, err)
	}

	o.enter(hash, StageValidating)
	validated, err := o.validator.Validate(raw)
	if err != nil {
		return nil, o.fail(hash, StageValidating, err)
	}

	o.enter(hash, StageSanitizing)
	sanitized := Sanitize(validated)

	o.enter(hash, StageDetecting)
	cyclic, err := DetectCycles(sanitized)
	if err != nil {
		return nil, o.fail(hash, StageDetecting, fmt.Errorf("detect cycles: %w", err))
	}

	tasks := Annotate(sanitized, cyclic)
	descriptions := descriptionsByID(raw)
	for i := range tasks {
		tasks[i].Description = descriptions[tasks[i].ID]
	}
	return tasks, nil
}

func (o *Orchestrator) extract(ctx context.Context, transcript string) ([]domain.RawTask, error) {
	ctx, cancel := context.WithTimeout(ctx, o.extractTimeout)
	defer cancel()

	raw, err := o.extractor.Extract(ctx, transcript)
	if err == nil {
		return raw, nil
	}

	if errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return nil, &domain.ProviderError{Err: fmt.Errorf("extraction timed out after %s: %w", o.extractTimeout, err)}
	}
	var pe *domain.ProviderError
	if errors.As(err, &pe) {
		return nil, err
	}
	return nil, &domain.ProviderError{Err: err}
}

func (o *Orchestrator) remember(hash string, record domain.TranscriptRecord) domain.TranscriptResult {
	res := record.Result()
	o.cache.Put(res)
	o.enter(hash, StageCached)
	return res
}

func (o *Orchestrator) fail(hash string, stage Stage, err error) error {
	o.logger.Error("pipeline failed", "hash", hash, "stage", string(stage), "error", err)
	return err
}

func (o *Orchestrator) enter(hash string, stage Stage) {
	if o.onStage != nil {
		o.onStage(hash, stage)
	}
}

// Get returns a previously processed transcript without running the pipeline.
func (o *Orchestrator) Get(ctx context.Context, hash string) (*domain.TranscriptResult, error) {
	if res, ok := o.cache.Get(hash); ok {
		return &res, nil
	}

	record, err := o.store.GetTranscript(ctx, hash)
	if errors.Is(err, storage.ErrNotFound) {
		return nil, &domain.NotFoundError{Kind: "transcript", ID: hash}
	}
	if err != nil {
		return nil, &domain.PersistenceError{Op: "get transcript", Err: err}
	}

	res := o.remember(hash, record)
	return &res, nil
}

// Record returns the stored transcript including its raw content.
func (o *Orchestrator) Record(ctx context.Context, hash string) (domain.TranscriptRecord, error) {
	record, err := o.store.GetTranscript(ctx, hash)
	if errors.Is(err, storage.ErrNotFound) {
		return domain.TranscriptRecord{}, &domain.NotFoundError{Kind: "transcript", ID: hash}
	}
	if err != nil {
		return domain.TranscriptRecord{}, &domain.PersistenceError{Op: "get transcript", Err: err}
	}
	return record, nil
}

func (o *Orchestrator) List(ctx context.Context) ([]domain.TranscriptSummary, error) {
	summaries, err := o.store.ListTranscripts(ctx)
	if err != nil {
		return nil, &domain.PersistenceError{Op: "list transcripts", Err: err}
	}
	return summaries, nil
}

// Delete removes a transcript and its tasks and evicts it from the cache.
func (o *Orchestrator) Delete(ctx context.Context, hash string) error {
	err := o.store.DeleteTranscript(ctx, hash)
	if errors.Is(err, storage.ErrNotFound) {
		return &domain.NotFoundError{Kind: "transcript", ID: hash}
	}
	if err != nil {
		return &domain.PersistenceError{Op: "delete transcript", Err: err}
	}
	o.cache.Remove(hash)
	return nil
}

// descriptionsByID indexes free-text descriptions from the raw extraction.
// Non-string or missing descriptions become empty.
func descriptionsByID(raw []domain.RawTask) map[string]string {
	out := make(map[string]string, len(raw))
	for _, record := range raw {
		id, ok := record["id"].(string)
		if !ok {
			continue
		}
		if _, seen := out[id]; seen {
			continue
		}
		desc, _ := record["description"].(string)
		out[id] = desc
	}
	return out
}
