package http

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"taskgraph/internal/config"
	"taskgraph/internal/domain"
	"taskgraph/internal/pipeline"
	"taskgraph/internal/services"
	"taskgraph/internal/storage"
)

// TranscriptService is the pipeline as seen by the handlers.
type TranscriptService interface {
	Process(ctx context.Context, transcript string) (*domain.TranscriptResult, error)
	Get(ctx context.Context, hash string) (*domain.TranscriptResult, error)
	List(ctx context.Context) ([]domain.TranscriptSummary, error)
	Delete(ctx context.Context, hash string) error
}

type JobService interface {
	Submit(transcript string) (domain.Job, error)
	Get(id string) (domain.Job, error)
}

type API struct {
	cfg         config.Config
	logger      *slog.Logger
	files       *storage.FileManager
	transcripts TranscriptService
	jobs        JobService
	pdf         *services.PDFService
	share       *services.ShareService
}

func NewAPI(cfg config.Config, logger *slog.Logger, fm *storage.FileManager, transcripts TranscriptService, jobs JobService, pdf *services.PDFService, share *services.ShareService) *API {
	return &API{cfg: cfg, logger: logger, files: fm, transcripts: transcripts, jobs: jobs, pdf: pdf, share: share}
}

func registerRoutes(r *gin.Engine, api *API) {
	apiGroup := r.Group("/api")
	{
		apiGroup.GET("/health", api.handleHealth)

		apiGroup.POST("/transcripts", api.handleProcessTranscript)
		apiGroup.GET("/transcripts", api.handleListTranscripts)
		apiGroup.GET("/transcripts/:hash", api.handleGetTranscript)
		apiGroup.DELETE("/transcripts/:hash", api.handleDeleteTranscript)
		apiGroup.POST("/transcripts/:hash/report", api.handleGenerateReport)
		apiGroup.POST("/transcripts/:hash/share", api.handleShareReport)

		apiGroup.POST("/jobs", api.handleSubmitJob)
		apiGroup.GET("/jobs/:id", api.handleGetJob)
	}

	r.GET("/reports/:hash", api.handleServeReport)
}

type transcriptPayload struct {
	Transcript string `json:"transcript"`
}

func (a *API) handleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"ok": true})
}

func (a *API) handleProcessTranscript(c *gin.Context) {
	payload, ok := a.bindTranscript(c)
	if !ok {
		return
	}

	result, err := a.transcripts.Process(c.Request.Context(), payload.Transcript)
	if err != nil {
		a.respondPipelineError(c, err)
		return
	}

	c.JSON(http.StatusOK, result)
}

func (a *API) handleListTranscripts(c *gin.Context) {
	summaries, err := a.transcripts.List(c.Request.Context())
	if err != nil {
		a.respondPipelineError(c, err)
		return
	}

	c.JSON(http.StatusOK, summaries)
}

func (a *API) handleGetTranscript(c *gin.Context) {
	result, err := a.transcripts.Get(c.Request.Context(), c.Param("hash"))
	if err != nil {
		a.respondPipelineError(c, err)
		return
	}

	c.JSON(http.StatusOK, result)
}

func (a *API) handleDeleteTranscript(c *gin.Context) {
	hash := c.Param("hash")
	if err := a.transcripts.Delete(c.Request.Context(), hash); err != nil {
		a.respondPipelineError(c, err)
		return
	}

	if err := a.files.RemoveReport(hash); err != nil {
		a.logger.Warn("report cleanup failed", "hash", hash, "error", err)
	}

	c.Status(http.StatusNoContent)
}

func (a *API) handleSubmitJob(c *gin.Context) {
	payload, ok := a.bindTranscript(c)
	if !ok {
		return
	}

	job, err := a.jobs.Submit(payload.Transcript)
	if err != nil {
		a.respondPipelineError(c, err)
		return
	}

	c.JSON(http.StatusAccepted, a.publicJob(job))
}

func (a *API) handleGetJob(c *gin.Context) {
	job, err := a.jobs.Get(c.Param("id"))
	if err != nil {
		a.respondPipelineError(c, err)
		return
	}

	c.JSON(http.StatusOK, a.publicJob(job))
}

func (a *API) handleGenerateReport(c *gin.Context) {
	hash := c.Param("hash")
	result, err := a.transcripts.Get(c.Request.Context(), hash)
	if err != nil {
		a.respondPipelineError(c, err)
		return
	}

	reportPath, err := a.files.ReportPath(hash)
	if err != nil {
		respondMessage(c, http.StatusNotFound, "transcript not found")
		return
	}

	if err := a.pdf.GenerateReport(*result, reportPath); err != nil {
		a.respondPipelineError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"hash": hash, "generatedAt": time.Now().UTC()})
}

func (a *API) handleShareReport(c *gin.Context) {
	hash := c.Param("hash")
	if _, err := a.transcripts.Get(c.Request.Context(), hash); err != nil {
		a.respondPipelineError(c, err)
		return
	}

	if !a.files.ReportExists(hash) {
		respondMessage(c, http.StatusBadRequest, "no report available for this transcript")
		return
	}

	url, expiresAt, err := a.share.Generate(hash)
	if err != nil {
		a.respondPipelineError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"url": url, "expiresAt": expiresAt.UTC()})
}

func (a *API) handleServeReport(c *gin.Context) {
	hash := c.Param("hash")
	expiresParam := c.Query("exp")
	signature := c.Query("sig")

	if expiresParam == "" || signature == "" {
		respondMessage(c, http.StatusBadRequest, "missing signature")
		return
	}

	expires, err := strconv.ParseInt(expiresParam, 10, 64)
	if err != nil {
		respondMessage(c, http.StatusBadRequest, "invalid expiration")
		return
	}

	if expires < time.Now().Unix() {
		respondMessage(c, http.StatusGone, "link expired")
		return
	}

	if !a.share.Validate(hash, expires, signature) {
		respondMessage(c, http.StatusForbidden, "invalid signature")
		return
	}

	reportPath, err := a.files.ReportPath(hash)
	if err != nil || !a.files.ReportExists(hash) {
		respondMessage(c, http.StatusNotFound, "report not found")
		return
	}

	c.Header("Content-Type", "application/pdf")
	c.FileAttachment(reportPath, "taskgraph-"+hash[:12]+".pdf")
}

func (a *API) bindTranscript(c *gin.Context) (transcriptPayload, bool) {
	var payload transcriptPayload
	if err := c.ShouldBindJSON(&payload); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			respondMessage(c, http.StatusRequestEntityTooLarge, "transcript too large")
			return payload, false
		}
		respondMessage(c, http.StatusBadRequest, "invalid payload")
		return payload, false
	}
	return payload, true
}

// publicJob hides internal failure details from clients in production.
func (a *API) publicJob(job domain.Job) domain.Job {
	if job.Status == domain.JobStatusError && a.cfg.Production() && !clientFacing(job.ErrorKind) {
		job.Error = genericMessage(job.ErrorKind)
	}
	return job
}

func (a *API) respondPipelineError(c *gin.Context, err error) {
	_ = c.Error(err)

	if errors.Is(err, pipeline.ErrShuttingDown) {
		respondMessage(c, http.StatusServiceUnavailable, "server is shutting down")
		return
	}

	kind := domain.ErrorKind(err)
	status := statusForKind(kind)
	if status >= http.StatusInternalServerError {
		a.logger.Error("request failed", "route", c.FullPath(), "kind", kind, "error", err)
	}

	message := err.Error()
	if a.cfg.Production() && !clientFacing(kind) {
		message = genericMessage(kind)
	}

	body := gin.H{"error": message, "kind": kind}
	var ve *domain.ValidationError
	if errors.As(err, &ve) {
		body["field"] = ve.Field
		body["reason"] = ve.Reason
		if ve.Index >= 0 {
			body["index"] = ve.Index
		}
	}
	c.JSON(status, body)
}

func statusForKind(kind string) int {
	switch kind {
	case domain.KindEmpty, domain.KindValidation:
		return http.StatusBadRequest
	case domain.KindNotFound:
		return http.StatusNotFound
	case domain.KindProvider:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

func clientFacing(kind string) bool {
	switch kind {
	case domain.KindEmpty, domain.KindValidation, domain.KindNotFound:
		return true
	}
	return false
}

func genericMessage(kind string) string {
	if kind == domain.KindProvider {
		return "task extraction is unavailable"
	}
	return "internal error"
}

func respondMessage(c *gin.Context, status int, message string) {
	c.JSON(status, gin.H{"error": message})
}
