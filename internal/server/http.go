package server

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/postfiatorg/validator-history-service/internal/cycle"
)

// NewHTTPHandler returns an http.Handler with all routes registered.
// When authToken is non-empty, POST /v1/cycle requires a valid
// Authorization: Bearer <token> header.
func (s *Server) NewHTTPHandler(authToken string) http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /v1/health", s.handleHealth)
	mux.HandleFunc("GET /v1/cycle", s.handleLastCycle)
	mux.HandleFunc("POST /v1/cycle", s.handleRunCycle)
	if s.hub != nil {
		mux.HandleFunc("GET /v1/events/stream", s.handleEventStream)
	}
	mux.Handle("GET /metrics", promhttp.HandlerFor(s.gatherer, promhttp.HandlerOpts{}))
	return AuthMiddleware(authToken, mux)
}

type healthResponse struct {
	Status       string `json:"status"`
	CycleRunning bool   `json:"cycle_running"`
	LastCycle    string `json:"last_cycle,omitempty"`
}

// handleHealth handles GET /v1/health.
func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	resp := healthResponse{Status: "ok", CycleRunning: s.cycles.Running()}
	if rep := s.cycles.LastReport(); rep != nil {
		resp.LastCycle = rep.ID
	}
	writeJSON(w, http.StatusOK, resp)
}

// handleLastCycle handles GET /v1/cycle.
func (s *Server) handleLastCycle(w http.ResponseWriter, _ *http.Request) {
	rep := s.cycles.LastReport()
	if rep == nil {
		writeError(w, http.StatusNotFound, "no cycle has completed yet")
		return
	}
	writeJSON(w, http.StatusOK, rep)
}

// handleRunCycle handles POST /v1/cycle. The cycle runs to completion
// before the response is written, even if the client goes away.
func (s *Server) handleRunCycle(w http.ResponseWriter, r *http.Request) {
	rep, err := s.cycles.Run(context.WithoutCancel(r.Context()))
	switch {
	case errors.Is(err, cycle.ErrCycleRunning):
		writeError(w, http.StatusConflict, err.Error())
		return
	case err != nil:
		s.logger.Error("manual cycle failed", "err", err)
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, rep)
}

// writeJSON writes a JSON response with the given status code.
func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

// writeError writes a JSON error response.
func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}
