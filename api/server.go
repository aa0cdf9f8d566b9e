// Package api exposes the lending workflow over HTTP/JSON.
package api

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	"library-service/library"
)

// Server routes HTTP requests onto a LibraryManager.
type Server struct {
	mgr     *library.LibraryManager
	logger  *slog.Logger
	origins []string
	router  chi.Router
}

// Option configures a Server.
type Option func(*Server)

// WithLogger sets the logger for request and failure logs.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Server) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// WithCORSOrigins sets the origins allowed by the CORS handler.
func WithCORSOrigins(origins ...string) Option {
	return func(s *Server) { s.origins = origins }
}

// NewServer builds the router over mgr.
func NewServer(mgr *library.LibraryManager, opts ...Option) *Server {
	s := &Server{
		mgr:     mgr,
		logger:  slog.New(slog.NewTextHandler(io.Discard, nil)),
		origins: []string{"http://localhost:3000"},
	}
	for _, opt := range opts {
		opt(s)
	}
	s.routes()
	return s
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

func (s *Server) routes() {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(s.requestLogger)
	r.Use(middleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   s.origins,
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]any{"ok": true})
	})

	r.Route("/api", func(r chi.Router) {
		// Public
		r.Post("/user/register", s.handleRegister)
		r.Post("/user/login", s.handleLogin)
		r.Get("/book", s.handleListBooks)
		r.Get("/book/{bookID}", s.handleGetBook)

		// Session required
		r.Group(func(r chi.Router) {
			r.Use(s.requireSession)
			r.Post("/user/logout", s.handleLogout)
			r.Get("/user/book", s.handleMyBooks)
			r.Post("/book", s.handleCreateBook)
			r.Put("/book/{bookID}/borrow", s.handleBorrow)
			r.Put("/book/{bookID}/return", s.handleReturn)
			r.Delete("/book/{bookID}", s.handleDeleteBook)
			r.Get("/history", s.handleHistory)
		})
	})

	s.router = r
}

// PurgeSessions removes expired token rows every interval until ctx ends.
func (s *Server) PurgeSessions(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		return
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			n, err := s.mgr.PurgeExpiredSessions(ctx)
			if err != nil {
				if ctx.Err() == nil {
					s.logger.Error("purge expired sessions", "error", err.Error())
				}
				continue
			}
			if n > 0 {
				s.logger.Debug("expired sessions purged", "count", n)
			}
		}
	}
}
