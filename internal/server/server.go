// Package server exposes the tool listing and the version reconciliation
// report over HTTP.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	"gitlab.com/cincan/cincan-registry/internal/maintainer"
	"gitlab.com/cincan/cincan-registry/internal/models"
)

// Reconciler is the reporting surface the server serves.
// maintainer.Reconciler satisfies it.
type Reconciler interface {
	ListTools(ctx context.Context, definedTag string) ([]models.ToolListing, error)
	ListVersions(ctx context.Context, onlyUpdates bool) (map[string]models.ToolSummary, error)
	ListVersionsSingle(ctx context.Context, toolName string, onlyUpdates bool) (models.ToolSummary, error)
}

// Options configures a Server.
type Options struct {
	// Reconciler serves the listings and reports. Required.
	Reconciler Reconciler
	// AllowedOrigins configures CORS. Defaults to every origin.
	AllowedOrigins []string
	// Logger defaults to slog.Default.
	Logger *slog.Logger
}

// Server routes report requests to the reconciler.
type Server struct {
	router     chi.Router
	reconciler Reconciler
	logger     *slog.Logger
	startedAt  time.Time
}

// New builds a Server with its routes registered.
func New(opts Options) *Server {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	origins := opts.AllowedOrigins
	if len(origins) == 0 {
		origins = []string{"*"}
	}

	s := &Server{
		reconciler: opts.Reconciler,
		logger:     logger.With("component", "server"),
		startedAt:  time.Now(),
	}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   origins,
		AllowedMethods:   []string{"GET", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
		AllowCredentials: false,
		MaxAge:           300,
	}))

	r.Get("/health", s.healthHandler)
	r.Route("/api/v1", func(r chi.Router) {
		r.Get("/tools", s.toolsHandler)
		r.Get("/versions", s.versionsHandler)
		r.Get("/versions/{tool}", s.toolVersionsHandler)
	})
	s.router = r
	return s
}

// ServeHTTP makes the server a http.Handler.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		s.logger.Error("writing response failed", "error", err)
	}
}

func (s *Server) writeError(w http.ResponseWriter, status int, err error) {
	s.writeJSON(w, status, map[string]string{"error": err.Error()})
}

func (s *Server) healthHandler(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, map[string]string{
		"status": "alive",
		"uptime": time.Since(s.startedAt).Round(time.Second).String(),
	})
}

// toolsHandler returns the merged local and remote tool listing. The tag
// query parameter narrows the listing to versions carrying that tag.
func (s *Server) toolsHandler(w http.ResponseWriter, r *http.Request) {
	rows, err := s.reconciler.ListTools(r.Context(), r.URL.Query().Get("tag"))
	if err != nil {
		s.logger.Error("listing tools failed", "error", err)
		s.writeError(w, http.StatusBadGateway, err)
		return
	}
	s.writeJSON(w, http.StatusOK, rows)
}

// versionsHandler returns the full reconciliation report. With
// only_updates=true, tools with no pending update are dropped.
func (s *Server) versionsHandler(w http.ResponseWriter, r *http.Request) {
	report, err := s.reconciler.ListVersions(r.Context(), onlyUpdates(r))
	if err != nil {
		s.logger.Error("building version report failed", "error", err)
		s.writeError(w, http.StatusBadGateway, err)
		return
	}
	s.writeJSON(w, http.StatusOK, report)
}

func (s *Server) toolVersionsHandler(w http.ResponseWriter, r *http.Request) {
	toolName := chi.URLParam(r, "tool")
	summary, err := s.reconciler.ListVersionsSingle(r.Context(), toolName, onlyUpdates(r))
	if err != nil {
		if errors.Is(err, maintainer.ErrToolNotFound) {
			s.writeError(w, http.StatusNotFound, fmt.Errorf("tool %q not found", toolName))
			return
		}
		s.logger.Error("building version report failed", "tool", toolName, "error", err)
		s.writeError(w, http.StatusBadGateway, err)
		return
	}
	s.writeJSON(w, http.StatusOK, summary)
}

func onlyUpdates(r *http.Request) bool {
	return r.URL.Query().Get("only_updates") == "true"
}
