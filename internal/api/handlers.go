package api

import (
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
)

func (s *Server) handleRunStatus(w http.ResponseWriter, r *http.Request) {
	if s.opts.Progress == nil {
		jsonError(w, "no run in progress", http.StatusServiceUnavailable)
		return
	}
	writeJSON(w, s.opts.Progress.Snapshot())
}

func (s *Server) handleLLMStats(w http.ResponseWriter, r *http.Request) {
	if s.opts.Stats == nil {
		jsonError(w, "llm stats unavailable", http.StatusServiceUnavailable)
		return
	}
	writeJSON(w, map[string]any{
		"model": s.opts.Model,
		"stats": s.opts.Stats.Snapshot(),
	})
}

func (s *Server) handleRuns(w http.ResponseWriter, r *http.Request) {
	if s.opts.Ledger == nil {
		jsonError(w, "run history disabled", http.StatusServiceUnavailable)
		return
	}
	limit := 20
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			jsonError(w, "limit must be a positive integer", http.StatusBadRequest)
			return
		}
		limit = n
	}
	runs, err := s.opts.Ledger.Runs(r.Context(), limit)
	if err != nil {
		s.log.Error("list runs", "error", err)
		jsonError(w, "failed to list runs", http.StatusInternalServerError)
		return
	}
	writeJSON(w, map[string]any{"runs": runs})
}

func (s *Server) handleRunResults(w http.ResponseWriter, r *http.Request) {
	if s.opts.Ledger == nil {
		jsonError(w, "run history disabled", http.StatusServiceUnavailable)
		return
	}
	runID := chi.URLParam(r, "runID")
	results, err := s.opts.Ledger.Results(r.Context(), runID)
	if err != nil {
		s.log.Error("list results", "run_id", runID, "error", err)
		jsonError(w, "failed to list results", http.StatusInternalServerError)
		return
	}
	if len(results) == 0 {
		jsonError(w, "run not found", http.StatusNotFound)
		return
	}
	writeJSON(w, map[string]any{"run_id": runID, "results": results})
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(v)
}

func jsonError(w http.ResponseWriter, msg string, code int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(map[string]string{"error": msg})
}
