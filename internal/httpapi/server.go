// Package httpapi exposes the engine's observability surface: task listing,
// a live SSE event stream, safe static serving of a task's worktree, a
// system-health snapshot, and Prometheus metrics. Grounded on the teacher's
// internal/web/server.go (madhatter5501/Factory), trimmed from a full HTML
// dashboard down to spec.md §4.11's JSON/SSE surface.
package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/arkaledge/orchestrator/internal/events"
	"github.com/arkaledge/orchestrator/internal/kanban"
)

// Server is the HTTP observability surface for one running engine.
type Server struct {
	Store        *kanban.Store
	Bus          *events.Bus
	WorktreeRoot string
	Logger       *slog.Logger

	httpServer *http.Server
	metrics    *metricsSet
}

// New builds a Server listening at addr. WorktreeRoot is the project
// directory containing .arkaledge/worktrees/<taskId>; it is used to resolve
// and safely serve worktree artifacts.
func New(addr string, store *kanban.Store, bus *events.Bus, worktreeRoot string, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Server{Store: store, Bus: bus, WorktreeRoot: worktreeRoot, Logger: logger, metrics: newMetricsSet()}

	mux := http.NewServeMux()
	mux.HandleFunc("GET /api/tasks", s.handleTasks)
	mux.HandleFunc("GET /api/events", s.handleEvents)
	mux.HandleFunc("GET /api/health", s.handleHealth)
	mux.HandleFunc("GET /api/tasks/{taskId}/worktree/", s.handleWorktree)
	mux.HandleFunc("GET /api/tasks/{taskId}/worktree/{path...}", s.handleWorktree)
	mux.Handle("GET /metrics", s.metrics.handler())

	s.httpServer = &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}
	return s
}

// Start runs the HTTP server until ctx is canceled, then shuts it down
// gracefully.
func (s *Server) Start(ctx context.Context) error {
	errc := make(chan error, 1)
	go func() {
		if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errc <- err
			return
		}
		errc <- nil
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = s.httpServer.Shutdown(shutdownCtx)
		return nil
	case err := <-errc:
		return err
	}
}

func (s *Server) handleTasks(w http.ResponseWriter, r *http.Request) {
	tasks, err := s.Store.GetAllTasks()
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, tasks)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	tasks, err := s.Store.GetAllTasks()
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, kanban.ComputeSystemHealth(tasks))
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
