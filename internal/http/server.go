package http

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"taskgraph/internal/config"
	"taskgraph/internal/services"
	"taskgraph/internal/storage"
)

// Deps are the collaborators the HTTP surface drives.
type Deps struct {
	Transcripts TranscriptService
	Jobs        JobService
	Logger      *slog.Logger
}

type Server struct {
	engine *gin.Engine
	srv    *http.Server
	cfg    config.Config
	logger *slog.Logger
}

func NewServer(cfg config.Config, deps Deps) (*Server, error) {
	if cfg.Production() {
		gin.SetMode(gin.ReleaseMode)
	}
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}

	fm, err := storage.NewFileManager(cfg.DataDir)
	if err != nil {
		return nil, fmt.Errorf("init file manager: %w", err)
	}

	engine := gin.New()
	engine.Use(gin.Recovery())
	engine.Use(RequestLogger(deps.Logger))
	engine.Use(SecurityHeaders())
	engine.Use(MaxBodySize(cfg.MaxBodyBytes))
	engine.Use(CORS(cfg.CORSOrigins))

	api := NewAPI(cfg, deps.Logger, fm, deps.Transcripts, deps.Jobs, services.NewPDFService(), services.NewShareService(cfg))
	registerRoutes(engine, api)

	return &Server{
		engine: engine,
		srv: &http.Server{
			Addr:              fmt.Sprintf(":%s", cfg.Port),
			Handler:           engine,
			ReadHeaderTimeout: 10 * time.Second,
		},
		cfg:    cfg,
		logger: deps.Logger,
	}, nil
}

// Handler exposes the router, mainly for tests.
func (s *Server) Handler() http.Handler {
	return s.engine
}

// Run blocks until the server stops. A graceful Shutdown is not an error.
func (s *Server) Run() error {
	s.logger.Info("http server listening", "addr", s.srv.Addr, "env", s.cfg.AppEnv)
	if err := s.srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func (s *Server) Shutdown(ctx context.Context) error {
	return s.srv.Shutdown(ctx)
}
