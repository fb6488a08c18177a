// Package api exposes a small read-only HTTP surface over the post store.
package api

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	"github.com/postwatch/postwatch/internal/metrics"
	"github.com/postwatch/postwatch/internal/monitor"
	"github.com/postwatch/postwatch/internal/store"
)

// PostReader is the store surface the server reads from.
type PostReader interface {
	List(ctx context.Context, filter store.ListFilter) ([]monitor.Post, error)
	Search(ctx context.Context, keyword, author string, limit, offset int) ([]monitor.Post, error)
	GetStats(ctx context.Context) (store.Stats, error)
}

// Server serves the read-only inspection API alongside the poller.
type Server struct {
	reader PostReader
	logger *zap.Logger
	router chi.Router
}

// NewServer builds the server and its routes.
func NewServer(reader PostReader, logger *zap.Logger) *Server {
	s := &Server{reader: reader, logger: logger}

	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(15 * time.Second))

	r.Get("/healthz", s.handleHealth)
	r.Handle("/metrics", metrics.Handler())
	r.Get("/posts", s.handleListPosts)
	r.Get("/posts/search", s.handleSearchPosts)
	r.Get("/stats", s.handleStats)

	s.router = r
	return s
}

// Handler returns the HTTP handler.
func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleListPosts(w http.ResponseWriter, r *http.Request) {
	filter := store.ListFilter{
		Author: r.URL.Query().Get("author"),
		Limit:  queryInt(r, "limit", 50),
		Offset: queryInt(r, "offset", 0),
	}
	if raw := r.URL.Query().Get("processed"); raw != "" {
		processed, err := strconv.ParseBool(raw)
		if err != nil {
			writeError(w, http.StatusBadRequest, "processed must be a boolean")
			return
		}
		filter.Processed = &processed
	}

	posts, err := s.reader.List(r.Context(), filter)
	if err != nil {
		s.logger.Error("list posts failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "list posts failed")
		return
	}
	writeJSON(w, http.StatusOK, postsPayload(posts))
}

func (s *Server) handleSearchPosts(w http.ResponseWriter, r *http.Request) {
	keyword := r.URL.Query().Get("q")
	if keyword == "" {
		writeError(w, http.StatusBadRequest, "q is required")
		return
	}

	posts, err := s.reader.Search(r.Context(), keyword,
		r.URL.Query().Get("author"), queryInt(r, "limit", 50), queryInt(r, "offset", 0))
	if err != nil {
		s.logger.Error("search posts failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "search posts failed")
		return
	}
	writeJSON(w, http.StatusOK, postsPayload(posts))
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	stats, err := s.reader.GetStats(r.Context())
	if err != nil {
		s.logger.Error("stats failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "stats failed")
		return
	}
	writeJSON(w, http.StatusOK, stats)
}

func postsPayload(posts []monitor.Post) map[string]any {
	if posts == nil {
		posts = []monitor.Post{}
	}
	return map[string]any{"posts": posts, "count": len(posts)}
}

func queryInt(r *http.Request, key string, fallback int) int {
	raw := r.URL.Query().Get(key)
	if raw == "" {
		return fallback
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return fallback
	}
	return n
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}
