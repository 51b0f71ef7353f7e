package api

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"slugbin/svc/util"
)

type HealthResponse struct {
	Status string `json:"status"`
}

type ReadyResponse struct {
	Ready   bool   `json:"ready"`
	Backend string `json:"backend"`
	Kind    string `json:"kind"`
}

func (s *Server) Health(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	json.NewEncoder(w).Encode(HealthResponse{Status: "ok"})
}

func (s *Server) Ready(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()
	resp := ReadyResponse{
		Ready:   true,
		Backend: "up",
		Kind:    s.cfg.Backend,
	}
	if s.backend == nil {
		resp.Ready = false
		resp.Backend = "unavailable"
	} else if err := s.backend.Ping(ctx); err != nil {
		util.Error().Err(err).Str("backend", s.cfg.Backend).Msg("backend health check failed")
		resp.Ready = false
		resp.Backend = "down"
	}
	w.Header().Set("Content-Type", "application/json")
	if !resp.Ready {
		w.WriteHeader(http.StatusServiceUnavailable)
	} else {
		w.WriteHeader(http.StatusOK)
	}
	json.NewEncoder(w).Encode(resp)
}
