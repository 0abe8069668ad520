// Package server exposes the retention buffer over HTTP. Each consumer polls
// /data with its own id and receives only blocks it has not seen yet.
package server

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/penwyp/go-log-plotter/internal/config"
	"github.com/penwyp/go-log-plotter/internal/core/buffer"
	"github.com/penwyp/go-log-plotter/internal/core/cursor"
	"github.com/penwyp/go-log-plotter/internal/core/pattern"
	"github.com/penwyp/go-log-plotter/internal/monitoring"
	"github.com/penwyp/go-log-plotter/internal/util"
)

// Response headers.
const (
	// EpochHeader identifies the process instance. A consumer that sees it
	// change knows the history restarted.
	EpochHeader = "X-Stream-Epoch"
	// GapHeader is "true" when blocks the consumer never received were
	// evicted before this poll.
	GapHeader = "X-Stream-Gap"
)

// DefaultClientID is used when a poll carries no client_id.
const DefaultClientID = "unknown"

const shutdownTimeout = 5 * time.Second

// Options configures a Server.
type Options struct {
	Settings  *config.ServerSettings
	StaticDir string
	// Epoch overrides the generated instance id, mainly for tests.
	Epoch string
}

// Server wraps the HTTP engine and its dependencies.
type Server struct {
	router   *gin.Engine
	buffer   *buffer.Retention
	tracker  *cursor.Tracker
	patterns *pattern.PatternSet
	metrics  *monitoring.Metrics
	settings *config.ServerSettings
	epoch    string
	meta     []byte
}

// New builds the router. Nothing listens until Run.
func New(buf *buffer.Retention, tracker *cursor.Tracker, ps *pattern.PatternSet, metrics *monitoring.Metrics, opts Options) (*Server, error) {
	if opts.Settings == nil {
		opts.Settings = config.DefaultServerSettings()
	}
	if opts.Epoch == "" {
		opts.Epoch = uuid.NewString()
	}

	meta, err := jsonAPI.Marshal(ps.Metadata())
	if err != nil {
		return nil, fmt.Errorf("failed to encode config metadata: %w", err)
	}

	s := &Server{
		buffer:   buf,
		tracker:  tracker,
		patterns: ps,
		metrics:  metrics,
		settings: opts.Settings,
		epoch:    opts.Epoch,
		meta:     meta,
	}

	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(requestLogger())
	router.Use(monitoring.Middleware(metrics))
	router.Use(CORS(opts.Settings.CORSOrigins))

	data := []gin.HandlerFunc{s.handleData}
	if opts.Settings.RateLimit.Enabled {
		data = append([]gin.HandlerFunc{RateLimit(opts.Settings.RateLimit)}, data...)
	}
	router.GET("/data", data...)
	router.GET("/config", s.handleConfig)
	router.GET("/health", s.handleHealth)
	router.GET("/metrics", gin.WrapH(metrics.Handler()))

	if opts.StaticDir != "" {
		files := http.FileServer(http.Dir(opts.StaticDir))
		router.NoRoute(gin.WrapH(files))
	}

	s.router = router
	return s, nil
}

// Epoch is the instance id sent with every data and config response.
func (s *Server) Epoch() string { return s.epoch }

// Handler exposes the router, mainly for tests.
func (s *Server) Handler() http.Handler { return s.router }

// Run listens on the configured address until ctx ends, then shuts down
// gracefully.
func (s *Server) Run(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.settings.Listen)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", s.settings.Listen, err)
	}
	return s.Serve(ctx, ln)
}

// Serve handles requests from ln until ctx ends.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	srv := &http.Server{
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		util.LogInfof("HTTP server listening on %s", ln.Addr())
		errCh <- srv.Serve(ln)
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("http server: %w", err)
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("http server shutdown: %w", err)
	}
	util.LogInfo("HTTP server stopped")
	return nil
}
