package api

import (
	"encoding/json"
	"net/http"
)

// handleJWKS publishes the verification key set robots use to validate
// capability tokens.
func (s *Server) handleJWKS(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "application/jwk-set+json")
	w.Header().Set("Cache-Control", "max-age=300")
	json.NewEncoder(w).Encode(s.keys.JWKS())
}
