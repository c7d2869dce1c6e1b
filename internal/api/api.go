// Package api implements the read-only admin HTTP surface named in
// SPEC_FULL.md's domain stack: operational visibility into the task
// board, agent roster, and usage ledger, never mutating state. Grounded
// on MikeSquared-Agency-Dispatch/internal/api's chi router and admin
// handler shape.
package api

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"

	"github.com/loomwork/loom/internal/board"
	"github.com/loomwork/loom/internal/config"
	"github.com/loomwork/loom/internal/resilience"
)

// UsageSummarizer is satisfied by *usage.Store; a narrow interface keeps
// this package's dependency on internal/usage to the one method it needs.
type UsageSummarizer interface {
	Summary(ctx context.Context) (resilience.Summary, error)
}

// Server wires the board, agent roster, and usage store into a read-only
// chi router, per SPEC_FULL.md's admin HTTP surface.
type Server struct {
	board  *board.Board
	agents map[string]config.AgentConfig
	usage  UsageSummarizer
	log    *slog.Logger
}

// New builds a Server. usage may be nil, in which case GET /usage
// reports an empty summary rather than erroring.
func New(b *board.Board, agents map[string]config.AgentConfig, u UsageSummarizer, log *slog.Logger) *Server {
	if log == nil {
		log = slog.Default()
	}
	return &Server{board: b, agents: agents, usage: u, log: log}
}

// Router returns the assembled http.Handler for this server.
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(chimiddleware.Recoverer)
	r.Use(chimiddleware.RequestID)
	r.Use(s.requestLogger)

	r.Get("/healthz", s.handleHealthz)
	r.Get("/board", s.handleBoard)
	r.Get("/agents", s.handleAgents)
	r.Get("/usage", s.handleUsage)

	return r
}

func (s *Server) requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		next.ServeHTTP(w, r)
		s.log.Info("api: request", "method", r.Method, "path", r.URL.Path, "duration_ms", time.Since(start).Milliseconds())
	})
}

func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// boardSummary is the /board response shape: the pending tasks and their
// counts by status, for operational visibility without exposing the
// board's on-disk document shape directly. Tasks in any other status are
// not included.
type boardSummary struct {
	Counts map[board.Status]int `json:"counts"`
	Tasks  []*board.Task        `json:"tasks"`
}

func (s *Server) handleBoard(w http.ResponseWriter, r *http.Request) {
	pending, err := s.board.ListPending()
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
		return
	}
	summary := boardSummary{Counts: map[board.Status]int{}, Tasks: pending}
	for _, t := range pending {
		summary.Counts[t.Status]++
	}
	writeJSON(w, http.StatusOK, summary)
}

// agentInfo is the /agents response shape: one entry per configured
// agent, joined with its live claimed-task count from the board.
type agentInfo struct {
	AgentID       string   `json:"agent_id"`
	Role          string   `json:"role"`
	Provider      string   `json:"provider"`
	Model         string   `json:"model"`
	AlwaysOn      bool     `json:"always_on"`
	MinReputation int      `json:"min_reputation"`
	Skills        []string `json:"skills,omitempty"`
	ActiveTasks   int      `json:"active_tasks"`
}

func (s *Server) handleAgents(w http.ResponseWriter, r *http.Request) {
	infos := make([]agentInfo, 0, len(s.agents))
	for agentID, cfg := range s.agents {
		active := 0
		if tasks, err := s.board.ListByAgent(agentID); err == nil {
			for _, t := range tasks {
				if !t.Status.IsTerminal() {
					active++
				}
			}
		}
		infos = append(infos, agentInfo{
			AgentID:       agentID,
			Role:          cfg.Role,
			Provider:      cfg.Provider,
			Model:         cfg.Model,
			AlwaysOn:      cfg.AlwaysOn,
			MinReputation: cfg.MinReputation,
			Skills:        cfg.Skills,
			ActiveTasks:   active,
		})
	}
	writeJSON(w, http.StatusOK, infos)
}

func (s *Server) handleUsage(w http.ResponseWriter, r *http.Request) {
	if s.usage == nil {
		writeJSON(w, http.StatusOK, resilience.Summary{ByModel: map[string]resilience.ModelSummary{}})
		return
	}
	summary, err := s.usage.Summary(r.Context())
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, summary)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
