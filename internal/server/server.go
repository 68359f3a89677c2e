package server

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	"github.com/sergioferragut/data-chat/internal/event"
	"github.com/sergioferragut/data-chat/internal/gateway"
	"github.com/sergioferragut/data-chat/internal/logging"
	"github.com/sergioferragut/data-chat/internal/session"
	"github.com/sergioferragut/data-chat/internal/storage"
)

// Config holds server configuration.
type Config struct {
	Addr         string
	CORSOrigins  []string
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
}

// DefaultConfig returns default server configuration.
func DefaultConfig() *Config {
	return &Config{
		Addr:         ":8080",
		CORSOrigins:  []string{"*"},
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 0, // No write timeout for SSE
	}
}

// Server is the HTTP server.
type Server struct {
	config      *Config
	router      *chi.Mux
	httpSrv     *http.Server
	sessions    *session.Manager
	gateway     *gateway.Gateway
	transcripts *storage.Transcripts
	bus         *event.Bus
	started     time.Time
}

// New creates a new Server instance. transcripts may be nil.
func New(cfg *Config, sessions *session.Manager, gw *gateway.Gateway, transcripts *storage.Transcripts, bus *event.Bus) *Server {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	if bus == nil {
		bus = event.Default()
	}
	s := &Server{
		config:      cfg,
		router:      chi.NewRouter(),
		sessions:    sessions,
		gateway:     gw,
		transcripts: transcripts,
		bus:         bus,
		started:     time.Now(),
	}

	s.setupMiddleware()
	s.setupRoutes()
	s.httpSrv = &http.Server{
		Addr:         cfg.Addr,
		Handler:      s.router,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
	}

	return s
}

// setupMiddleware configures middleware for the server.
func (s *Server) setupMiddleware() {
	s.router.Use(middleware.RequestID)
	s.router.Use(middleware.RealIP)
	s.router.Use(requestLogger)
	s.router.Use(middleware.Recoverer)

	if len(s.config.CORSOrigins) > 0 {
		s.router.Use(cors.Handler(cors.Options{
			AllowedOrigins:   s.config.CORSOrigins,
			AllowedMethods:   []string{"GET", "POST", "DELETE", "OPTIONS"},
			AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "X-Request-ID"},
			ExposedHeaders:   []string{"X-Request-ID"},
			AllowCredentials: true,
			MaxAge:           300,
		}))
	}
}

// requestLogger logs each request through zerolog once it completes.
func requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()
		next.ServeHTTP(ww, r)
		logging.Debug().
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Int("status", ww.Status()).
			Int("bytes", ww.BytesWritten()).
			Dur("took", time.Since(start)).
			Str("requestID", middleware.GetReqID(r.Context())).
			Msg("http request")
	})
}

// Handler returns the router, for tests and embedding.
func (s *Server) Handler() http.Handler {
	return s.router
}

// Start serves until Shutdown, when it returns http.ErrServerClosed.
func (s *Server) Start() error {
	logging.Info().Str("addr", s.config.Addr).Msg("http server listening")
	return s.httpSrv.ListenAndServe()
}

// Shutdown stops accepting requests, then closes every session.
func (s *Server) Shutdown(ctx context.Context) error {
	err := s.httpSrv.Shutdown(ctx)
	if serr := s.sessions.Shutdown(ctx); serr != nil && err == nil {
		err = serr
	}
	return err
}
