// Package api serves the management interface of a jelling session over HTTP.
package api

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/mgutz/logxi/v1"
	"github.com/pkg/errors"

	"github.com/currantlabs/jelling"
)

var logger = log.New("api")

// Session is the part of *jelling.Session the API manages.
type Session interface {
	Info() jelling.Info
	Start() error
	Stop() error
	Config() jelling.Config
	SetConfig(c jelling.Config) error
	LoadDefaultConfig()
	FilterAdd(a jelling.Addr) error
	FilterClear()
}

// An Option is a configuration function, which configures the server.
type Option func(*Server)

// OptAllowedOrigins enables CORS for the given origins.
func OptAllowedOrigins(origins ...string) Option {
	return func(s *Server) { s.origins = origins }
}

// Server is the REST server.
type Server struct {
	sess    Session
	router  chi.Router
	server  *http.Server
	origins []string
}

// NewServer returns a server managing sess.
func NewServer(sess Session, opts ...Option) *Server {
	s := &Server{
		sess:   sess,
		router: chi.NewRouter(),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.setupRoutes()
	s.server = &http.Server{
		Handler:      s.router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}
	return s
}

func (s *Server) setupRoutes() {
	s.router.Use(middleware.RequestID)
	s.router.Use(middleware.RealIP)
	s.router.Use(requestLogger)
	s.router.Use(middleware.Recoverer)
	s.router.Use(middleware.Timeout(10 * time.Second))
	if len(s.origins) > 0 {
		s.router.Use(cors.Handler(cors.Options{
			AllowedOrigins: s.origins,
			AllowedMethods: []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
			AllowedHeaders: []string{"Accept", "Content-Type"},
			MaxAge:         300,
		}))
	}

	s.router.Route("/api/v1", func(r chi.Router) {
		r.Get("/info", s.handleInfo)
		r.Post("/start", s.handleStart)
		r.Post("/stop", s.handleStop)

		r.Route("/config", func(r chi.Router) {
			r.Get("/", s.handleGetConfig)
			r.Put("/", s.handlePutConfig)
			r.Post("/default", s.handleDefaultConfig)
		})

		r.Route("/filter", func(r chi.Router) {
			r.Get("/", s.handleGetFilter)
			r.Post("/", s.handleAddFilter)
			r.Delete("/", s.handleClearFilter)
		})
	})
}

// Handler returns the router of the server.
func (s *Server) Handler() http.Handler { return s.router }

// ListenAndServe serves on addr until Shutdown.
func (s *Server) ListenAndServe(addr string) error {
	s.server.Addr = addr
	logger.Info("serving", "addr", addr)
	if err := s.server.ListenAndServe(); err != http.ErrServerClosed {
		return err
	}
	return nil
}

// Shutdown gracefully shuts down the server.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.server.Shutdown(ctx)
}

func requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()
		next.ServeHTTP(ww, r)
		logger.Info("request", "method", r.Method, "path", r.URL.Path, "status", ww.Status(),
			"bytes", ww.BytesWritten(), "elapsed", time.Since(start), "id", middleware.GetReqID(r.Context()))
	})
}

func (s *Server) respondJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		logger.Warn("can't encode response", "err", err)
	}
}

func (s *Server) respondError(w http.ResponseWriter, status int, msg string) {
	s.respondJSON(w, status, map[string]string{"error": msg})
}

// respondErr maps session errors to HTTP status codes.
func (s *Server) respondErr(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	switch errors.Cause(err) {
	case jelling.ErrInvalidConfig, jelling.ErrInvalidAddr:
		status = http.StatusBadRequest
	case jelling.ErrFilterFull:
		status = http.StatusConflict
	case jelling.ErrInitFailed, jelling.ErrRadioClosed:
		status = http.StatusServiceUnavailable
	}
	s.respondError(w, status, err.Error())
}
