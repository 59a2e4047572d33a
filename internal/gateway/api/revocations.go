package api

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/datapilot/chainkvm/internal/audit"
)

// RevocationRequest revokes by token, by session, or by operator. Exactly
// one selector is honored, checked in that order.
type RevocationRequest struct {
	TokenID    string `json:"token_id,omitempty"`
	SessionID  string `json:"session_id,omitempty"`
	OperatorID string `json:"operator_id,omitempty"`
	Reason     string `json:"reason,omitempty"`
}

// RevocationResponse reports what the revocation touched. RevocationID is
// the handle audit trails reference this revocation by.
type RevocationResponse struct {
	RevocationID  string    `json:"revocation_id"`
	Timestamp     time.Time `json:"timestamp"`
	RevokedTokens int       `json:"revoked_tokens"`
	Sessions      []string  `json:"sessions"`
	PeersNotified int       `json:"peers_notified"`
}

func (s *Server) handleRevoke(w http.ResponseWriter, r *http.Request) {
	var req RevocationRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "malformed revocation request")
		return
	}
	if req.Reason == "" {
		req.Reason = "unspecified"
	}
	revocationID := uuid.NewString()
	revokedAt := time.Now().UTC()

	var (
		revokedTokens int
		sessions      []string
	)
	switch {
	case req.TokenID != "":
		entry, ok := s.registry.GetByToken(req.TokenID)
		if ok {
			if err := s.registry.Revoke(req.TokenID, req.Reason); err == nil {
				revokedTokens = 1
				sessions = []string{entry.SessionID}
			}
		}
	case req.SessionID != "":
		revokedTokens = s.registry.RevokeBySession(req.SessionID, req.Reason)
		if revokedTokens > 0 {
			sessions = []string{req.SessionID}
		}
	case req.OperatorID != "":
		sessions = s.registry.RevokeByOperator(req.OperatorID, req.Reason)
		revokedTokens = len(sessions)
	default:
		writeError(w, http.StatusBadRequest, "token_id, session_id or operator_id required")
		return
	}

	if revokedTokens == 0 && len(sessions) == 0 {
		writeError(w, http.StatusNotFound, "nothing to revoke")
		return
	}

	notified := 0
	for _, sessionID := range sessions {
		n := s.hub.PushRevoked(sessionID, req.Reason)
		if n == 0 {
			s.counters.SignalingPushFails.Inc()
		}
		notified += n

		s.counters.SessionsRevoked.Inc()
		s.emit(audit.Event{
			EventType:  audit.EventSessionRevoked,
			SessionID:  sessionID,
			OperatorID: req.OperatorID,
			Metadata: map[string]string{
				"reason":        req.Reason,
				"revocation_id": revocationID,
			},
		})
	}

	s.logger.Info("revocation processed",
		zap.String("revocation_id", revocationID),
		zap.Int("revoked_tokens", revokedTokens),
		zap.Strings("sessions", sessions),
		zap.Int("peers_notified", notified),
		zap.String("reason", req.Reason))

	writeJSON(w, http.StatusOK, RevocationResponse{
		RevocationID:  revocationID,
		Timestamp:     revokedAt,
		RevokedTokens: revokedTokens,
		Sessions:      sessions,
		PeersNotified: notified,
	})
}
