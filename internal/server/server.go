package server

import (
	"context"
	"crypto/tls"
	"fmt"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/quic-go/quic-go/http3"
	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
	"golang.org/x/time/rate"

	"github.com/zsiec/playcore/internal/config"
	"github.com/zsiec/playcore/internal/errors"
	"github.com/zsiec/playcore/internal/health"
	"github.com/zsiec/playcore/internal/logger"
	"github.com/zsiec/playcore/internal/player"
)

// Controller is the playback surface driven by the control API.
type Controller interface {
	Status() player.Status
	IsOpen() bool
	Open(item string, opts player.OpenOptions) bool
	Close() bool
	Pause()
	SetSpeed(speed int)
	Seek(forward, large bool)
	SeekTime(t time.Duration)
	SeekPercentage(pct float64)
	SeekChapter(chapter int) bool
	SeekScene(forward bool) error
	SetAudioStream(i int) error
	SetSubtitle(i int) error
	SetSubtitleVisible(visible bool)
}

// Server is the control API. It always serves plain HTTP and adds an
// HTTP/3 listener when TLS is configured.
type Server struct {
	config       *config.ServerConfig
	router       *mux.Router
	httpServer   *http.Server
	http3Server  *http3.Server
	logger       *logrus.Logger
	redis        redis.UniversalClient
	player       Controller
	healthMgr    *health.Manager
	errorHandler *errors.ErrorHandler
	limiter      *rate.Limiter
}

// New creates a server for ctrl. redisClient may be nil when bookmarks are
// not kept in Redis.
func New(cfg *config.ServerConfig, log *logrus.Logger, ctrl Controller, redisClient redis.UniversalClient) *Server {
	s := &Server{
		config:       cfg,
		router:       mux.NewRouter(),
		logger:       log,
		redis:        redisClient,
		player:       ctrl,
		healthMgr:    health.NewManager(log),
		errorHandler: errors.NewErrorHandler(log),
	}
	if cfg.RateLimit > 0 {
		s.limiter = rate.NewLimiter(rate.Limit(cfg.RateLimit), cfg.RateBurst)
	}

	s.registerHealthCheckers()
	s.setupRoutes()
	return s
}

// Start serves until ctx is cancelled, then shuts down gracefully.
func (s *Server) Start(ctx context.Context) error {
	s.httpServer = &http.Server{
		Addr:         fmt.Sprintf(":%d", s.config.HTTPPort),
		Handler:      s.router,
		ReadTimeout:  s.config.ReadTimeout,
		WriteTimeout: s.config.WriteTimeout,
	}

	if s.config.HTTP3Enabled() {
		cert, err := tls.LoadX509KeyPair(s.config.TLSCertFile, s.config.TLSKeyFile)
		if err != nil {
			return fmt.Errorf("failed to load TLS certificates: %w", err)
		}
		s.http3Server = &http3.Server{
			Addr:    fmt.Sprintf(":%d", s.config.HTTP3Port),
			Handler: s.router,
			TLSConfig: &tls.Config{
				MinVersion:   tls.VersionTLS13,
				NextProtos:   []string{"h3"},
				Certificates: []tls.Certificate{cert},
			},
		}
	}

	go s.healthMgr.StartPeriodicChecks(ctx, 30*time.Second)

	errCh := make(chan error, 2)

	s.logger.WithField("port", s.config.HTTPPort).Info("Starting HTTP server")
	go func() {
		if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- fmt.Errorf("http server: %w", err)
		}
	}()

	if s.http3Server != nil {
		s.logger.WithField("port", s.config.HTTP3Port).Info("Starting HTTP/3 server")
		go func() {
			if err := s.http3Server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				errCh <- fmt.Errorf("http3 server: %w", err)
			}
		}()
	}

	timeout := s.config.ShutdownTimeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}

	select {
	case err := <-errCh:
		shutdownCtx, cancel := context.WithTimeout(context.Background(), timeout)
		defer cancel()
		_ = s.Shutdown(shutdownCtx)
		return fmt.Errorf("server failed: %w", err)
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), timeout)
		defer cancel()
		return s.Shutdown(shutdownCtx)
	}
}

// Shutdown stops the listeners.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("Shutting down control server")

	if s.httpServer != nil {
		if err := s.httpServer.Shutdown(ctx); err != nil {
			return fmt.Errorf("failed to shutdown http server: %w", err)
		}
	}

	// http3.Server has no graceful shutdown with a deadline
	if s.http3Server != nil {
		if err := s.http3Server.Close(); err != nil {
			return fmt.Errorf("failed to shutdown http3 server: %w", err)
		}
	}

	s.logger.Info("Control server shutdown complete")
	return nil
}

// setupRoutes configures all routes
func (s *Server) setupRoutes() {
	s.router.Use(s.requestIDMiddleware)
	s.router.Use(logger.RequestLoggerMiddleware(s.logger))
	s.router.Use(s.recoveryMiddleware)
	s.router.Use(s.errorHandler.Middleware)
	s.router.Use(s.metricsMiddleware)
	s.router.Use(s.corsMiddleware)
	s.router.Use(s.altSvcMiddleware)

	healthHandler := health.NewHandler(s.healthMgr, s.player)
	s.router.HandleFunc("/health", healthHandler.HandleHealth).Methods("GET")
	s.router.HandleFunc("/ready", healthHandler.HandleReady).Methods("GET")
	s.router.HandleFunc("/live", healthHandler.HandleLive).Methods("GET")

	s.router.HandleFunc("/version", s.handleVersion).Methods("GET")

	api := s.router.PathPrefix("/api/v1").Subrouter()
	api.Use(s.rateLimitMiddleware)
	s.registerPlayerRoutes(api)

	s.router.NotFoundHandler = http.HandlerFunc(s.errorHandler.HandleNotFound)
	s.router.MethodNotAllowedHandler = http.HandlerFunc(s.errorHandler.HandleMethodNotAllowed)
}

// registerHealthCheckers registers all health checkers
func (s *Server) registerHealthCheckers() {
	if s.redis != nil {
		s.healthMgr.Register(health.NewRedisChecker(s.redis))
	}

	if s.player != nil {
		s.healthMgr.Register(health.NewPlayerChecker(s.player))
	}

	limit := uint64(s.config.MemoryLimitMB) * 1024 * 1024
	s.healthMgr.Register(health.NewMemoryChecker(limit, 0.9))
}

// RegisterRoutes adds additional route handlers to the server
func (s *Server) RegisterRoutes(registerFunc func(*mux.Router)) {
	registerFunc(s.router)
}

// GetRouter returns the router for testing.
func (s *Server) GetRouter() *mux.Router {
	return s.router
}
