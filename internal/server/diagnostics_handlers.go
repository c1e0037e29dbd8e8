package server

import (
	"net/http"
)

func (s *Server) handleTokenStatus(w http.ResponseWriter, r *http.Request) {
	writeSuccess(w, s.tokens.Status(r.Context()), "Token diagnostics")
}

func (s *Server) handleConfig(w http.ResponseWriter, r *http.Request) {
	writeSuccess(w, s.cfg.Redacted(), "Configuration (sanitized)")
}
