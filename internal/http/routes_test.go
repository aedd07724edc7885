package http

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gin-gonic/gin"

	"taskgraph/internal/config"
	"taskgraph/internal/domain"
	"taskgraph/internal/pipeline"
	"taskgraph/internal/storage"
)

type stubExtractor struct {
	calls       atomic.Int32
	ExtractFunc func(ctx context.Context, transcript string) ([]domain.RawTask, error)
}

func (s *stubExtractor) Extract(ctx context.Context, transcript string) ([]domain.RawTask, error) {
	s.calls.Add(1)
	return s.ExtractFunc(ctx, transcript)
}

// stubTranscripts lets a test force failures the real pipeline can't easily produce.
type stubTranscripts struct {
	ProcessFunc func(ctx context.Context, transcript string) (*domain.TranscriptResult, error)
	GetFunc     func(ctx context.Context, hash string) (*domain.TranscriptResult, error)
	ListFunc    func(ctx context.Context) ([]domain.TranscriptSummary, error)
	DeleteFunc  func(ctx context.Context, hash string) error
}

func (s *stubTranscripts) Process(ctx context.Context, transcript string) (*domain.TranscriptResult, error) {
	return s.ProcessFunc(ctx, transcript)
}

func (s *stubTranscripts) Get(ctx context.Context, hash string) (*domain.TranscriptResult, error) {
	return s.GetFunc(ctx, hash)
}

func (s *stubTranscripts) List(ctx context.Context) ([]domain.TranscriptSummary, error) {
	return s.ListFunc(ctx)
}

func (s *stubTranscripts) Delete(ctx context.Context, hash string) error {
	return s.DeleteFunc(ctx, hash)
}

const meeting = "Alice drafts the plan. Bob reviews it after the draft."

func graphExtractor() *stubExtractor {
	return &stubExtractor{ExtractFunc: func(context.Context, string) ([]domain.RawTask, error) {
		return []domain.RawTask{
			{"id": "draft", "description": "Draft the plan", "priority": "high", "dependencies": []any{}},
			{"id": "review", "description": "Review the plan", "priority": "medium", "dependencies": []any{"draft", "ghost"}},
			{"id": "a", "priority": "low", "dependencies": []any{"b"}},
			{"id": "b", "priority": "low", "dependencies": []any{"a"}},
		}, nil
	}}
}

func testConfig(t *testing.T) config.Config {
	return config.Config{
		Port:         "8080",
		AppEnv:       "development",
		BaseURL:      "http://localhost:8080",
		ShareSecret:  "secret",
		ShareTTL:     time.Minute,
		MaxBodyBytes: 64 * 1024,
		DataDir:      t.TempDir(),
	}
}

func setupTestServer(t *testing.T, cfg config.Config, extractor pipeline.Extractor) (*gin.Engine, *pipeline.JobManager) {
	t.Helper()
	gin.SetMode(gin.TestMode)

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	store, err := storage.NewStore(cfg.DataDir)
	if err != nil {
		t.Fatalf("store: %v", err)
	}
	cache, err := pipeline.NewResultCache(8)
	if err != nil {
		t.Fatalf("cache: %v", err)
	}
	orch := pipeline.NewOrchestrator(store, extractor, pipeline.MustNewValidator(), cache, pipeline.Options{Logger: logger})
	t.Cleanup(func() { _ = orch.Shutdown(context.Background()) })
	jobs := pipeline.NewJobManager(orch, logger)
	t.Cleanup(func() { _ = jobs.Shutdown(context.Background()) })

	return setupWithDeps(t, cfg, Deps{Transcripts: orch, Jobs: jobs, Logger: logger}), jobs
}

func setupWithDeps(t *testing.T, cfg config.Config, deps Deps) *gin.Engine {
	t.Helper()
	srv, err := NewServer(cfg, deps)
	if err != nil {
		t.Fatalf("server: %v", err)
	}
	return srv.engine
}

func doJSON(engine *gin.Engine, method, target, body string) *httptest.ResponseRecorder {
	var reader io.Reader
	if body != "" {
		reader = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, target, reader)
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	rec := httptest.NewRecorder()
	engine.ServeHTTP(rec, req)
	return rec
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var out T
	if err := json.Unmarshal(rec.Body.Bytes(), &out); err != nil {
		t.Fatalf("decode body %q: %v", rec.Body.String(), err)
	}
	return out
}

func processBody(text string) string {
	b, _ := json.Marshal(map[string]string{"transcript": text})
	return string(b)
}

func TestHealthHandler(t *testing.T) {
	engine, _ := setupTestServer(t, testConfig(t), graphExtractor())

	rec := doJSON(engine, http.MethodGet, "/api/health", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}

	body := decode[map[string]any](t, rec)
	if ok, exists := body["ok"].(bool); !exists || !ok {
		t.Fatalf("expected ok=true, body=%v", body)
	}
	if rec.Header().Get("X-Content-Type-Options") != "nosniff" {
		t.Fatalf("missing security headers")
	}
}

func TestProcessTranscriptReturnsGraph(t *testing.T) {
	extractor := graphExtractor()
	engine, _ := setupTestServer(t, testConfig(t), extractor)

	rec := doJSON(engine, http.MethodPost, "/api/transcripts", processBody(meeting))
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}

	result := decode[domain.TranscriptResult](t, rec)
	if result.Hash != pipeline.Hash(meeting) {
		t.Fatalf("unexpected hash %s", result.Hash)
	}
	if len(result.Tasks) != 4 {
		t.Fatalf("expected 4 tasks, got %d", len(result.Tasks))
	}

	byID := map[string]domain.Task{}
	for _, task := range result.Tasks {
		byID[task.ID] = task
	}
	if got := byID["review"].Dependencies; len(got) != 1 || got[0] != "draft" {
		t.Fatalf("unknown dependency not dropped: %v", got)
	}
	if byID["draft"].Status != domain.StatusOK || byID["review"].Status != domain.StatusOK {
		t.Fatalf("acyclic tasks must be ok: %+v", result.Tasks)
	}
	if byID["a"].Status != domain.StatusError || byID["b"].Status != domain.StatusError {
		t.Fatalf("cycle members must be error: %+v", result.Tasks)
	}

	again := doJSON(engine, http.MethodPost, "/api/transcripts", processBody(meeting))
	if again.Code != http.StatusOK {
		t.Fatalf("expected 200 on resubmit, got %d", again.Code)
	}
	if n := extractor.calls.Load(); n != 1 {
		t.Fatalf("expected a single extraction, got %d", n)
	}
}

func TestProcessTranscriptRejectsBadInput(t *testing.T) {
	engine, _ := setupTestServer(t, testConfig(t), graphExtractor())

	tests := []struct {
		name string
		body string
		want int
	}{
		{name: "blank transcript", body: processBody("   \n"), want: http.StatusBadRequest},
		{name: "missing field", body: `{}`, want: http.StatusBadRequest},
		{name: "malformed json", body: `{"transcript":`, want: http.StatusBadRequest},
		{name: "too large", body: processBody(strings.Repeat("x", 70*1024)), want: http.StatusRequestEntityTooLarge},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := doJSON(engine, http.MethodPost, "/api/transcripts", tt.body)
			if rec.Code != tt.want {
				t.Fatalf("expected %d, got %d: %s", tt.want, rec.Code, rec.Body.String())
			}
		})
	}
}

func TestProcessTranscriptMapsPipelineErrors(t *testing.T) {
	tests := []struct {
		name     string
		extract  func(context.Context, string) ([]domain.RawTask, error)
		wantCode int
		wantKind string
	}{
		{
			name: "validation",
			extract: func(context.Context, string) ([]domain.RawTask, error) {
				return []domain.RawTask{{"id": "x", "priority": "urgent"}}, nil
			},
			wantCode: http.StatusBadRequest,
			wantKind: domain.KindValidation,
		},
		{
			name: "provider",
			extract: func(context.Context, string) ([]domain.RawTask, error) {
				return nil, &domain.ProviderError{Err: errors.New("upstream 503")}
			},
			wantCode: http.StatusBadGateway,
			wantKind: domain.KindProvider,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			engine, _ := setupTestServer(t, testConfig(t), &stubExtractor{ExtractFunc: tt.extract})

			rec := doJSON(engine, http.MethodPost, "/api/transcripts", processBody(meeting))
			if rec.Code != tt.wantCode {
				t.Fatalf("expected %d, got %d: %s", tt.wantCode, rec.Code, rec.Body.String())
			}
			body := decode[map[string]any](t, rec)
			if body["kind"] != tt.wantKind {
				t.Fatalf("expected kind %s, got %v", tt.wantKind, body["kind"])
			}
		})
	}
}

func TestValidationErrorReportsField(t *testing.T) {
	extractor := &stubExtractor{ExtractFunc: func(context.Context, string) ([]domain.RawTask, error) {
		return []domain.RawTask{
			{"id": "ok", "priority": "low"},
			{"id": "bad", "priority": "urgent"},
		}, nil
	}}
	engine, _ := setupTestServer(t, testConfig(t), extractor)

	rec := doJSON(engine, http.MethodPost, "/api/transcripts", processBody(meeting))
	body := decode[map[string]any](t, rec)
	if body["field"] != "priority" {
		t.Fatalf("expected priority field, got %v", body)
	}
	if index, _ := body["index"].(float64); index != 1 {
		t.Fatalf("expected index 1, got %v", body["index"])
	}

	list := doJSON(engine, http.MethodGet, "/api/transcripts", "")
	if summaries := decode[[]domain.TranscriptSummary](t, list); len(summaries) != 0 {
		t.Fatalf("failed transcript must not be stored, got %v", summaries)
	}
}

func TestProductionHidesInternalErrors(t *testing.T) {
	cfg := testConfig(t)
	cfg.AppEnv = config.EnvProduction

	transcripts := &stubTranscripts{
		ProcessFunc: func(context.Context, string) (*domain.TranscriptResult, error) {
			return nil, &domain.PersistenceError{Op: "create transcript", Err: errors.New("disk /var/lib/x is full")}
		},
	}
	engine := setupWithDeps(t, cfg, Deps{Transcripts: transcripts, Logger: slog.New(slog.NewTextHandler(io.Discard, nil))})
	gin.SetMode(gin.TestMode)

	rec := doJSON(engine, http.MethodPost, "/api/transcripts", processBody(meeting))
	if rec.Code != http.StatusInternalServerError {
		t.Fatalf("expected 500, got %d", rec.Code)
	}
	body := decode[map[string]any](t, rec)
	if body["error"] != "internal error" {
		t.Fatalf("internal details leaked: %v", body["error"])
	}
}

func TestTranscriptLifecycle(t *testing.T) {
	engine, _ := setupTestServer(t, testConfig(t), graphExtractor())
	hash := pipeline.Hash(meeting)

	missing := doJSON(engine, http.MethodGet, "/api/transcripts/"+hash, "")
	if missing.Code != http.StatusNotFound {
		t.Fatalf("expected 404 before processing, got %d", missing.Code)
	}

	if rec := doJSON(engine, http.MethodPost, "/api/transcripts", processBody(meeting)); rec.Code != http.StatusOK {
		t.Fatalf("process: %d", rec.Code)
	}

	got := doJSON(engine, http.MethodGet, "/api/transcripts/"+hash, "")
	if got.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", got.Code)
	}

	list := decode[[]domain.TranscriptSummary](t, doJSON(engine, http.MethodGet, "/api/transcripts", ""))
	if len(list) != 1 || list[0].TaskCount != 4 || list[0].CycleCount != 2 {
		t.Fatalf("unexpected summaries %+v", list)
	}

	if rec := doJSON(engine, http.MethodDelete, "/api/transcripts/"+hash, ""); rec.Code != http.StatusNoContent {
		t.Fatalf("expected 204, got %d", rec.Code)
	}
	if rec := doJSON(engine, http.MethodDelete, "/api/transcripts/"+hash, ""); rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404 on second delete, got %d", rec.Code)
	}
	if rec := doJSON(engine, http.MethodGet, "/api/transcripts/"+hash, ""); rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404 after delete, got %d", rec.Code)
	}
}

func TestJobsEndpoints(t *testing.T) {
	engine, _ := setupTestServer(t, testConfig(t), graphExtractor())

	rec := doJSON(engine, http.MethodPost, "/api/jobs", processBody(meeting))
	if rec.Code != http.StatusAccepted {
		t.Fatalf("expected 202, got %d: %s", rec.Code, rec.Body.String())
	}
	job := decode[domain.Job](t, rec)
	if job.ID == "" || job.Hash != pipeline.Hash(meeting) {
		t.Fatalf("unexpected job %+v", job)
	}

	deadline := time.Now().Add(2 * time.Second)
	for {
		poll := doJSON(engine, http.MethodGet, "/api/jobs/"+job.ID, "")
		if poll.Code != http.StatusOK {
			t.Fatalf("expected 200, got %d", poll.Code)
		}
		job = decode[domain.Job](t, poll)
		if job.Status == domain.JobStatusDone {
			break
		}
		if job.Status == domain.JobStatusError || time.Now().After(deadline) {
			t.Fatalf("job did not finish: %+v", job)
		}
		time.Sleep(10 * time.Millisecond)
	}
	if job.Result == nil || len(job.Result.Tasks) != 4 {
		t.Fatalf("expected result with 4 tasks, got %+v", job.Result)
	}

	if rec := doJSON(engine, http.MethodGet, "/api/jobs/unknown", ""); rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404 for unknown job, got %d", rec.Code)
	}
	if rec := doJSON(engine, http.MethodPost, "/api/jobs", processBody("")); rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for empty job, got %d", rec.Code)
	}
}

func TestReportShareFlow(t *testing.T) {
	engine, _ := setupTestServer(t, testConfig(t), graphExtractor())
	hash := pipeline.Hash(meeting)

	if rec := doJSON(engine, http.MethodPost, "/api/transcripts/"+hash+"/report", ""); rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404 for unknown transcript, got %d", rec.Code)
	}
	if rec := doJSON(engine, http.MethodPost, "/api/transcripts", processBody(meeting)); rec.Code != http.StatusOK {
		t.Fatalf("process: %d", rec.Code)
	}

	if rec := doJSON(engine, http.MethodPost, "/api/transcripts/"+hash+"/share", ""); rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 before a report exists, got %d", rec.Code)
	}

	if rec := doJSON(engine, http.MethodPost, "/api/transcripts/"+hash+"/report", ""); rec.Code != http.StatusOK {
		t.Fatalf("expected 200 for report, got %d: %s", rec.Code, rec.Body.String())
	}

	rec := doJSON(engine, http.MethodPost, "/api/transcripts/"+hash+"/share", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200 for share, got %d", rec.Code)
	}
	share := decode[struct {
		URL string `json:"url"`
	}](t, rec)
	link, err := url.Parse(share.URL)
	if err != nil {
		t.Fatalf("parse share url: %v", err)
	}

	served := doJSON(engine, http.MethodGet, link.RequestURI(), "")
	if served.Code != http.StatusOK {
		t.Fatalf("expected 200 for signed link, got %d", served.Code)
	}
	if ct := served.Header().Get("Content-Type"); ct != "application/pdf" {
		t.Fatalf("expected pdf content type, got %s", ct)
	}

	invalid := doJSON(engine, http.MethodGet, "/reports/"+hash+"?exp=9999999999&sig=invalid", "")
	if invalid.Code != http.StatusForbidden {
		t.Fatalf("expected 403 for invalid signature, got %d", invalid.Code)
	}

	expired := doJSON(engine, http.MethodGet, "/reports/"+hash+"?exp=1&sig=whatever", "")
	if expired.Code != http.StatusGone {
		t.Fatalf("expected 410 for expired link, got %d", expired.Code)
	}

	unsigned := doJSON(engine, http.MethodGet, "/reports/"+hash, "")
	if unsigned.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for missing signature, got %d", unsigned.Code)
	}
}

func TestProcessAfterShutdownIsUnavailable(t *testing.T) {
	transcripts := &stubTranscripts{
		ProcessFunc: func(context.Context, string) (*domain.TranscriptResult, error) {
			return nil, pipeline.ErrShuttingDown
		},
	}
	engine := setupWithDeps(t, testConfig(t), Deps{Transcripts: transcripts, Logger: slog.New(slog.NewTextHandler(io.Discard, nil))})

	rec := doJSON(engine, http.MethodPost, "/api/transcripts", processBody(meeting))
	if rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected 503, got %d", rec.Code)
	}
}
