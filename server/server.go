// Package server exposes schedules, reports, notifications and pulse
// statistics over HTTP, and streams execution events to WebSocket clients.
package server

import (
	"context"
	"net/http"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/teranos/keywatch/errors"
	"github.com/teranos/keywatch/notify"
	"github.com/teranos/keywatch/pulse/schedule"
	"github.com/teranos/keywatch/report"
	"github.com/teranos/keywatch/sym"
)

// Schedules is the part of the schedule store the API drives
type Schedules interface {
	Create(ctx context.Context, sched *schedule.Schedule) error
	Get(ctx context.Context, id string) (*schedule.Schedule, error)
	ListByOwner(ctx context.Context, owner string) ([]*schedule.Schedule, error)
	UpdateStatus(ctx context.Context, id string, to schedule.Status) (*schedule.Schedule, error)
	Delete(ctx context.Context, id string, force bool) (bool, error)
}

// Stats reports scheduler loop statistics (the pulse ticker)
type Stats interface {
	GetStats() map[string]interface{}
}

// Notifications lists and acknowledges an owner's notifications
type Notifications interface {
	ListForOwner(ctx context.Context, owner string, unreadOnly bool) ([]notify.Record, error)
	MarkRead(ctx context.Context, id, owner string) error
}

// Reports reads stored reports
type Reports interface {
	Get(ctx context.Context, id string) (*report.Stored, error)
	ListByOwner(ctx context.Context, owner string, limit int) ([]*report.Stored, error)
}

// Deps are the stores behind the API. Stats, Notifications and Reports may
// be nil; their endpoints then answer 503.
type Deps struct {
	Schedules     Schedules
	Stats         Stats
	Notifications Notifications
	Reports       Reports
}

// Config for the HTTP server
type Config struct {
	Addr              string        // listen address (default ":8787")
	AllowedOrigins    []string      // origin prefixes allowed for CORS and WebSocket upgrades
	RequestsPerSecond float64       // per-IP rate limit (default 20)
	Burst             int           // per-IP burst (default 40)
	ShutdownTimeout   time.Duration // default 10s
}

// DefaultConfig returns the server defaults
func DefaultConfig() Config {
	return Config{
		Addr:              ":8787",
		AllowedOrigins:    []string{"http://localhost", "https://localhost", "http://127.0.0.1"},
		RequestsPerSecond: 20,
		Burst:             40,
		ShutdownTimeout:   10 * time.Second,
	}
}

// Server serves the keywatch API
type Server struct {
	cfg        Config
	deps       Deps
	hub        *Hub
	limiter    *rateLimiter
	httpServer *http.Server
	logger     *zap.SugaredLogger

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// New creates a server. Call Start to listen.
func New(cfg Config, deps Deps, log *zap.SugaredLogger) *Server {
	defaults := DefaultConfig()
	if cfg.Addr == "" {
		cfg.Addr = defaults.Addr
	}
	if len(cfg.AllowedOrigins) == 0 {
		cfg.AllowedOrigins = defaults.AllowedOrigins
	}
	if cfg.ShutdownTimeout <= 0 {
		cfg.ShutdownTimeout = defaults.ShutdownTimeout
	}
	if log == nil {
		log = zap.NewNop().Sugar()
	}
	log = log.Named("server")

	ctx, cancel := context.WithCancel(context.Background())
	s := &Server{
		cfg:     cfg,
		deps:    deps,
		hub:     NewHub(log),
		limiter: newRateLimiter(cfg.RequestsPerSecond, cfg.Burst),
		logger:  log,
		ctx:     ctx,
		cancel:  cancel,
	}
	s.httpServer = &http.Server{
		Addr:              cfg.Addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	return s
}

// Hub returns the WebSocket hub. Pass it to the pipeline as its
// execution broadcaster.
func (s *Server) Hub() *Hub {
	return s.hub
}

// Start runs the hub and blocks serving HTTP until Stop is called
func (s *Server) Start() error {
	s.startBackground()

	s.logger.Infow(sym.Pulse+" HTTP server listening", "addr", s.cfg.Addr)
	if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return errors.Wrapf(err, "failed to serve on %s", s.cfg.Addr)
	}
	return nil
}

// startBackground runs the hub and the rate limiter cleanup
func (s *Server) startBackground() {
	s.wg.Add(2)
	go func() {
		defer s.wg.Done()
		s.hub.Run(s.ctx)
	}()
	go s.runCleanup()
}

// Stop drains HTTP requests, closes WebSocket clients and waits for the hub
func (s *Server) Stop() error {
	s.logger.Infow("Initiating server shutdown")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), s.cfg.ShutdownTimeout)
	defer cancel()
	err := s.httpServer.Shutdown(shutdownCtx)

	// Hijacked WebSocket connections are not tracked by Shutdown
	s.hub.closeAll()
	s.cancel()

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-shutdownCtx.Done():
		s.logger.Warnw("Server goroutines did not stop before timeout", "timeout", s.cfg.ShutdownTimeout)
	}

	if drops := s.hub.Drops(); drops > 0 {
		s.logger.Infow("Broadcast drops during session", "broadcast_drops", drops)
	}
	if err != nil {
		return errors.Wrap(err, "http shutdown")
	}
	s.logger.Infow("Server stopped")
	return nil
}
