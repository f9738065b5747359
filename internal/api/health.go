package api

import (
	"encoding/json"
	"net/http"
)

type healthResponse struct {
	Status          string `json:"status"`
	HealthCheckMode bool   `json:"health_check_mode"`
}

func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	if err := json.NewEncoder(w).Encode(healthResponse{Status: "ok", HealthCheckMode: s.healthCheck}); err != nil {
		s.logger.Error("encode healthz response", "error", err)
	}
}
