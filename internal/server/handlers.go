package server

import (
	"database/sql"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"
	"go.uber.org/zap"

	"github.com/wsn-testbed/dca-analyzer/internal/db"
	"github.com/wsn-testbed/dca-analyzer/internal/models"
)

func (s *Server) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.log.Warn("encode response", zap.Error(err))
	}
}

func (s *Server) writeError(w http.ResponseWriter, status int, msg string) {
	s.writeJSON(w, status, map[string]string{"error": msg})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if err := s.store.Ping(r.Context()); err != nil {
		s.writeError(w, http.StatusServiceUnavailable, "store unreachable")
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]any{
		"status": "ok",
		"time":   time.Now().UTC(),
	})
}

func (s *Server) handleListRuns(w http.ResponseWriter, r *http.Request) {
	limit := queryInt(r, "limit", 50)
	runs, err := s.store.ListRuns(r.Context(), limit)
	if err != nil {
		s.log.Error("list runs", zap.Error(err))
		s.writeError(w, http.StatusInternalServerError, "failed to list runs")
		return
	}
	if runs == nil {
		runs = []*db.RunRecord{}
	}
	s.writeJSON(w, http.StatusOK, map[string]any{"runs": runs})
}

func (s *Server) handleGetRun(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	run, err := s.store.GetRun(r.Context(), id)
	if errors.Is(err, sql.ErrNoRows) {
		s.writeError(w, http.StatusNotFound, "unknown run")
		return
	}
	if err != nil {
		s.log.Error("get run", zap.String("run_id", id), zap.Error(err))
		s.writeError(w, http.StatusInternalServerError, "failed to load run")
		return
	}
	s.writeJSON(w, http.StatusOK, run)
}

func (s *Server) handleListClassifications(w http.ResponseWriter, r *http.Request) {
	filter := db.ClassificationFilter{
		RunID:  r.URL.Query().Get("run_id"),
		NodeID: r.URL.Query().Get("node_id"),
		Limit:  queryInt(r, "limit", 100),
	}
	if c := r.URL.Query().Get("context"); c != "" {
		if c != string(models.ContextNormal) && c != string(models.ContextAnomalous) {
			s.writeError(w, http.StatusBadRequest, "context must be normal or anomalous")
			return
		}
		filter.Context = models.Context(c)
	}

	recs, err := s.store.QueryClassifications(r.Context(), filter)
	if err != nil {
		s.log.Error("query classifications", zap.Error(err))
		s.writeError(w, http.StatusInternalServerError, "failed to query classifications")
		return
	}
	if recs == nil {
		recs = []*models.ClassificationRecord{}
	}
	s.writeJSON(w, http.StatusOK, map[string]any{"classifications": recs})
}

func (s *Server) handleSummary(w http.ResponseWriter, r *http.Request) {
	summary, err := s.summaries.Summarize(r.Context(), r.URL.Query().Get("run_id"))
	if err != nil {
		s.log.Error("summarize nodes", zap.Error(err))
		s.writeError(w, http.StatusInternalServerError, "failed to build summary")
		return
	}
	s.writeJSON(w, http.StatusOK, summary)
}

func (s *Server) handleListNodes(w http.ResponseWriter, r *http.Request) {
	nodes, err := s.store.ListNodes(r.Context())
	if err != nil {
		s.log.Error("list nodes", zap.Error(err))
		s.writeError(w, http.StatusInternalServerError, "failed to list nodes")
		return
	}
	if nodes == nil {
		nodes = []string{}
	}
	s.writeJSON(w, http.StatusOK, map[string]any{"nodes": nodes})
}

func queryInt(r *http.Request, key string, fallback int) int {
	raw := r.URL.Query().Get(key)
	if raw == "" {
		return fallback
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n <= 0 {
		return fallback
	}
	return n
}
