package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/datapilot/chainkvm/internal/audit"
)

const (
	maxAuditBody     = 16 * 1024
	maxMetadataPairs = 32
)

// handleAuditIngest accepts one audit event from a peer and appends it to
// the ledger sink. Oversized bodies get 413; the caller is never blocked on
// ledger durability beyond the sink's bounded write.
func (s *Server) handleAuditIngest(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, maxAuditBody)

	var event audit.Event
	if err := json.NewDecoder(r.Body).Decode(&event); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			s.counters.AuditDropped.Inc()
			writeError(w, http.StatusRequestEntityTooLarge, "audit event too large")
			return
		}
		s.counters.AuditDropped.Inc()
		writeError(w, http.StatusBadRequest, "malformed audit event")
		return
	}

	if event.EventType == "" {
		s.counters.AuditDropped.Inc()
		writeError(w, http.StatusBadRequest, "event_type is required")
		return
	}
	if len(event.Metadata) > maxMetadataPairs {
		s.counters.AuditDropped.Inc()
		writeError(w, http.StatusBadRequest, "metadata exceeds pair limit")
		return
	}

	s.counters.AuditAccepted.Inc()
	s.emit(event)
	writeJSON(w, http.StatusOK, map[string]string{"status": "accepted"})
}
