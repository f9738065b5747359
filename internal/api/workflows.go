package api

import "net/http"

func (s *Server) handleListWorkflows(w http.ResponseWriter, _ *http.Request) {
	s.writeJSON(w, http.StatusOK, s.workflows.List())
}
