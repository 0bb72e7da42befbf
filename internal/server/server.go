package server

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/rs/zerolog"

	"github.com/opencode-ai/streamd/internal/event"
	"github.com/opencode-ai/streamd/internal/logging"
	"github.com/opencode-ai/streamd/internal/session"
)

// Config holds server configuration.
type Config struct {
	Hostname    string
	Port        int
	EnableCORS  bool
	ReadTimeout time.Duration
	// Heartbeat is the SSE keepalive interval on /event.
	Heartbeat time.Duration
}

// DefaultConfig returns default server configuration.
func DefaultConfig() *Config {
	return &Config{
		Hostname:    "127.0.0.1",
		Port:        4096,
		EnableCORS:  true,
		ReadTimeout: 30 * time.Second,
		Heartbeat:   SSEHeartbeatInterval,
	}
}

// Addr returns the listen address.
func (c *Config) Addr() string {
	return net.JoinHostPort(c.Hostname, fmt.Sprint(c.Port))
}

// Server is the HTTP server.
type Server struct {
	config   *Config
	router   *chi.Mux
	httpSrv  *http.Server
	sessions *session.Service
	bus      *event.Bus
	log      zerolog.Logger
}

// New creates a server over svc. bus may be nil, in which case /event
// reports the stream as unavailable.
func New(cfg *Config, svc *session.Service, bus *event.Bus) *Server {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	if cfg.Heartbeat <= 0 {
		cfg.Heartbeat = SSEHeartbeatInterval
	}
	s := &Server{
		config:   cfg,
		router:   chi.NewRouter(),
		sessions: svc,
		bus:      bus,
		log:      logging.Component("server"),
	}
	s.setupMiddleware()
	s.setupRoutes()
	s.httpSrv = &http.Server{
		Addr:              cfg.Addr(),
		Handler:           s.router,
		ReadHeaderTimeout: cfg.ReadTimeout,
	}
	return s
}

func (s *Server) setupMiddleware() {
	s.router.Use(middleware.RequestID)
	s.router.Use(middleware.RealIP)
	s.router.Use(s.requestLogger)
	s.router.Use(middleware.Recoverer)

	if s.config.EnableCORS {
		s.router.Use(cors.Handler(cors.Options{
			AllowedOrigins: []string{"*"},
			AllowedMethods: []string{"GET", "POST", "PATCH", "DELETE", "OPTIONS"},
			AllowedHeaders: []string{"Accept", "Authorization", "Content-Type", "X-Request-ID"},
			ExposedHeaders: []string{"X-Request-ID"},
			MaxAge:         300,
		}))
	}
}

// requestLogger logs each request through zerolog once it completes.
func (s *Server) requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()
		defer func() {
			s.log.Debug().
				Str("requestID", middleware.GetReqID(r.Context())).
				Str("method", r.Method).
				Str("path", r.URL.Path).
				Int("status", ww.Status()).
				Int("bytes", ww.BytesWritten()).
				Dur("elapsed", time.Since(start)).
				Msg("Request")
		}()
		next.ServeHTTP(ww, r)
	})
}

// Start listens on the configured address and serves until Shutdown.
func (s *Server) Start() error {
	s.log.Info().Str("addr", s.httpSrv.Addr).Msg("Listening")

	err := s.httpSrv.ListenAndServe()
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}

// Shutdown stops accepting requests and waits for open ones to finish.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpSrv.Shutdown(ctx)
}

// Router returns the chi router, for tests and embedding.
func (s *Server) Router() *chi.Mux {
	return s.router
}
