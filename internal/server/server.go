// Package server exposes the bot over HTTP so any chat front end (or curl)
// can deliver messages, photos, and button presses.
package server

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/zombor/finance-bot/internal/bot"
)

// Bot is the conversation engine behind the HTTP API
type Bot interface {
	OnText(ctx context.Context, userID int64, text string) bot.Reply
	OnPhoto(ctx context.Context, userID int64, photo bot.Photo) bot.Reply
	OnCallback(ctx context.Context, userID int64, option string) bot.Reply
}

// BasicAuth holds basic authentication credentials
type BasicAuth struct {
	Username string
	Password string
}

// Server handles HTTP requests for the bot
type Server struct {
	bot       Bot
	basicAuth BasicAuth
	router    chi.Router
}

// NewServer creates a new Server with all routes mounted
func NewServer(b Bot, basicAuth BasicAuth) *Server {
	s := &Server{
		bot:       b,
		basicAuth: basicAuth,
		router:    chi.NewRouter(),
	}
	s.registerRoutes()
	return s
}

// corsMiddleware adds CORS headers to responses and answers preflight requests
func corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")
		w.Header().Set("Access-Control-Max-Age", "3600")

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (s *Server) registerRoutes() {
	r := s.router
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(corsMiddleware)

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	r.Handle("/metrics", promhttp.Handler())

	r.Route("/api/users/{userID}", func(r chi.Router) {
		if s.basicAuth.Username != "" || s.basicAuth.Password != "" {
			r.Use(middleware.BasicAuth("Finance Bot", map[string]string{
				s.basicAuth.Username: s.basicAuth.Password,
			}))
		}
		// Photo handling can include several AI attempts with backoff
		r.Use(middleware.Timeout(3 * time.Minute))

		r.Post("/messages", s.handleMessage)
		r.Post("/photos", s.handlePhoto)
		r.Post("/callbacks", s.handleCallback)
	})
}

// Handler returns the router for use in an http.Server
func (s *Server) Handler() http.Handler {
	return s.router
}

// ServeHTTP implements http.Handler for testing
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

// Start starts the HTTP server
func (s *Server) Start(addr string) error {
	slog.Info("Starting server", "address", addr)
	return http.ListenAndServe(addr, s.router)
}
