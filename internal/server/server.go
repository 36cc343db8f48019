// Package server is the HTTP/SSE boundary. It wires the queue, the vector
// stores, the query pipeline, and the query logger behind a REST surface and
// propagates client disconnects as cancellation.
package server

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/gofrs/flock"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"golang.org/x/sync/errgroup"

	"localrag/internal/config"
	ragerr "localrag/internal/errors"
	"localrag/internal/ollama"
	"localrag/internal/qlog"
	"localrag/internal/query"
	"localrag/internal/queue"
	"localrag/internal/store"
)

const (
	healthCacheTTL  = 15 * time.Second
	metricsCacheTTL = 5 * time.Second

	// shutdownGrace is how long in-flight requests get on SIGINT/SIGTERM.
	shutdownGrace = 5 * time.Second
)

// Server owns the HTTP surface and the shared service state.
type Server struct {
	cfg      *config.Config
	e        *echo.Echo
	client   *ollama.Client
	manager  *store.Manager
	pipeline *query.Pipeline
	queue    *queue.Queue
	qlog     *qlog.Logger
	logger   *slog.Logger
	lock     *flock.Flock

	healthCache  *ttlCache[healthResponse]
	metricsCache *ttlCache[metricsResponse]
}

// Deps are the collaborators the server exposes over HTTP.
type Deps struct {
	Client   *ollama.Client
	Manager  *store.Manager
	Pipeline *query.Pipeline
	Queue    *queue.Queue
	QueryLog *qlog.Logger
	Logger   *slog.Logger
}

// New builds the server and acquires the single-instance lock on dataDir.
func New(cfg *config.Config, deps Deps) (*Server, error) {
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}

	if err := os.MkdirAll(cfg.DataDir, 0o755); err != nil {
		return nil, ragerr.Wrap(ragerr.ErrCodeStoreIO, err)
	}
	lock := flock.New(filepath.Join(cfg.DataDir, "localrag.lock"))
	locked, err := lock.TryLock()
	if err != nil {
		return nil, ragerr.Wrap(ragerr.ErrCodeStoreIO, err)
	}
	if !locked {
		return nil, ragerr.Newf(ragerr.ErrCodeConfigInvalid,
			"another instance already serves data directory %s", cfg.DataDir)
	}

	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.Use(middleware.CORS())
	e.Use(middleware.Recover())

	s := &Server{
		cfg:          cfg,
		e:            e,
		client:       deps.Client,
		manager:      deps.Manager,
		pipeline:     deps.Pipeline,
		queue:        deps.Queue,
		qlog:         deps.QueryLog,
		logger:       logger,
		lock:         lock,
		healthCache:  newTTLCache[healthResponse](healthCacheTTL),
		metricsCache: newTTLCache[metricsResponse](metricsCacheTTL),
	}
	s.routes()
	return s, nil
}

func (s *Server) routes() {
	api := s.e.Group("/api")

	api.GET("/health", s.handleHealth)
	api.GET("/models", s.handleModels)
	api.GET("/browse", s.handleBrowse)

	api.POST("/queue", s.handleEnqueue)
	api.GET("/queue", s.handleQueueList)
	api.GET("/queue/stream", s.handleQueueStream)
	api.DELETE("/queue/:id", s.handleQueueCancel)
	api.DELETE("/queue", s.handleQueuePurge)

	api.GET("/index/metrics", s.handleMetrics)
	api.POST("/chat", s.handleChat)
	api.POST("/log", s.handleClientLog)
}

// Handler exposes the routed mux, mainly for tests.
func (s *Server) Handler() http.Handler {
	return s.e
}

// Run serves until ctx is cancelled, then drains: stop accepting, give
// in-flight chats the grace period, flush the query log, persist the queue.
func (s *Server) Run(ctx context.Context) error {
	addr := fmt.Sprintf(":%d", s.cfg.Port)
	s.logger.Info("http server listening", "addr", addr)

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		if err := s.e.Start(addr); err != nil && err != http.ErrServerClosed {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-ctx.Done()
		return s.shutdown()
	})
	return g.Wait()
}

func (s *Server) shutdown() error {
	s.logger.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownGrace)
	defer cancel()
	if err := s.e.Shutdown(shutdownCtx); err != nil {
		s.logger.Warn("forced http shutdown", "error", err)
		s.e.Close()
	}

	if s.qlog != nil {
		if err := s.qlog.Flush(); err != nil {
			s.logger.Error("flush query log", "error", err)
		}
	}
	if s.queue != nil {
		if err := s.queue.Close(); err != nil {
			s.logger.Error("persist job queue", "error", err)
		}
	}
	if err := s.lock.Unlock(); err != nil {
		s.logger.Warn("release instance lock", "error", err)
	}
	return nil
}
