package server

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
	"golang.org/x/net/http2"
	"golang.org/x/net/http2/h2c"

	"github.com/kbukum/discoverykit/logger"
	"github.com/kbukum/discoverykit/server/middleware"
)

// Server is the admin HTTP server, backed by Gin and served over HTTP/1.1
// and h2c on the same port.
type Server struct {
	httpServer *http.Server
	engine     *gin.Engine
	mux        *http.ServeMux
	config     Config
	log        *logger.Logger

	mu    sync.Mutex
	bound string
}

// New creates a Server. No middleware is applied yet.
func New(cfg Config, log *logger.Logger) *Server {
	if log == nil {
		log = logger.Nop()
	}
	if zerolog.GlobalLevel() <= zerolog.DebugLevel {
		gin.SetMode(gin.DebugMode)
	} else {
		gin.SetMode(gin.ReleaseMode)
	}

	engine := gin.New()
	mux := http.NewServeMux()
	mux.Handle("/", engine)

	h2s := &http2.Server{
		MaxConcurrentStreams: 250,
		IdleTimeout:          cfg.IdleTimeout,
	}

	return &Server{
		httpServer: &http.Server{
			Addr:         fmt.Sprintf("%s:%d", cfg.Host, cfg.Port),
			Handler:      h2c.NewHandler(mux, h2s),
			ReadTimeout:  cfg.ReadTimeout,
			WriteTimeout: cfg.WriteTimeout,
			IdleTimeout:  cfg.IdleTimeout,
		},
		engine: engine,
		mux:    mux,
		config: cfg,
		log:    log.WithComponent("server"),
	}
}

// GinEngine returns the underlying Gin engine for route registration.
func (s *Server) GinEngine() *gin.Engine {
	return s.engine
}

// Handler returns the root handler, as served by Start.
func (s *Server) Handler() http.Handler {
	return s.httpServer.Handler
}

// Handle mounts an http.Handler at the given pattern next to Gin.
func (s *Server) Handle(pattern string, handler http.Handler) {
	s.mux.Handle(pattern, handler)
	s.log.Debug("Handler mounted", logger.Fields("pattern", pattern))
}

// Start binds the port and begins serving. It returns once the listener is
// bound; serving continues in a goroutine. With TLS enabled the listener
// negotiates h2 through ALPN instead of h2c.
func (s *Server) Start(ctx context.Context) error {
	tlsConfig, err := s.config.TLS.ServerConfig()
	if err != nil {
		return err
	}
	s.httpServer.TLSConfig = tlsConfig

	listener, err := net.Listen("tcp", s.httpServer.Addr)
	if err != nil {
		return fmt.Errorf("server failed to bind %s: %w", s.httpServer.Addr, err)
	}
	s.mu.Lock()
	s.bound = listener.Addr().String()
	s.mu.Unlock()

	go func() {
		var err error
		if tlsConfig != nil {
			err = s.httpServer.ServeTLS(listener, "", "")
		} else {
			err = s.httpServer.Serve(listener)
		}
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.log.Error("Server error", logger.Fields(logger.FieldError, err.Error()))
		}
	}()

	s.log.Info("HTTP server started", logger.Fields("addr", s.Addr(), "tls", tlsConfig != nil))
	return nil
}

// Scheme is "https" when TLS is enabled and "http" otherwise.
func (s *Server) Scheme() string {
	if s.config.TLS.Enabled {
		return "https"
	}
	return "http"
}

// Stop gracefully shuts down the server within ShutdownTimeout.
func (s *Server) Stop(ctx context.Context) error {
	timeout := s.config.ShutdownTimeout
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	shutdownCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	if err := s.httpServer.Shutdown(shutdownCtx); err != nil {
		s.log.Error("Server shutdown error", logger.Fields(logger.FieldError, err.Error()))
		return fmt.Errorf("server shutdown error: %w", err)
	}
	s.log.Info("HTTP server shut down")
	return nil
}

// Addr returns the bound address once started, the configured one before.
func (s *Server) Addr() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.bound != "" {
		return s.bound
	}
	return s.httpServer.Addr
}

func (s *Server) started() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.bound != ""
}

// ApplyMiddleware applies the standard middleware stack: recovery,
// request ID, request logging and, when configured, per-client rate limiting.
func (s *Server) ApplyMiddleware() {
	s.engine.Use(middleware.Recovery(s.log))
	s.engine.Use(middleware.RequestID())
	s.engine.Use(middleware.RequestLogger(s.log))
	if s.config.RateLimit > 0 {
		s.engine.Use(middleware.RateLimit(middleware.RateLimitConfig{
			RequestsPerSecond: s.config.RateLimit,
			Burst:             s.config.RateBurst,
		}))
	}
}
