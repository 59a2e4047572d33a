package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/datapilot/chainkvm/internal/audit"
	"github.com/datapilot/chainkvm/internal/gateway/policy"
	"github.com/datapilot/chainkvm/internal/gateway/registry"
	"github.com/datapilot/chainkvm/internal/gateway/vc"
	"github.com/datapilot/chainkvm/pkg/protocol"
)

const maxSessionBody = 64 * 1024

// SessionRequest is the operator's grant request.
type SessionRequest struct {
	Credential       string   `json:"credential"`
	RobotID          string   `json:"robot_id"`
	RequestedActions []string `json:"requested_actions"`
	PolicyID         string   `json:"policy_id,omitempty"`
}

// SessionResponse is the grant handed back on approval.
type SessionResponse struct {
	SessionID     string    `json:"session_id"`
	Token         string    `json:"token"`
	ExpiresAt     time.Time `json:"expires_at"`
	Scope         []string  `json:"scope"`
	SignalingURL  string    `json:"signaling_url"`
	STUNServers   []string  `json:"stun_servers,omitempty"`
	TURNServers   []string  `json:"turn_servers,omitempty"`
	PolicyID      string    `json:"policy_id"`
	PolicyVersion int       `json:"policy_version"`
	PolicyHash    string    `json:"policy_hash"`
}

func (s *Server) handleCreateSession(w http.ResponseWriter, r *http.Request) {
	var req SessionRequest
	r.Body = http.MaxBytesReader(w, r.Body, maxSessionBody)
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "malformed session request")
		return
	}
	if req.Credential == "" || req.RobotID == "" || len(req.RequestedActions) == 0 {
		writeError(w, http.StatusBadRequest, "credential, robot_id and requested_actions are required")
		return
	}
	for _, action := range req.RequestedActions {
		if !protocol.IsValidAction(action) {
			writeError(w, http.StatusBadRequest, "invalid action: "+action)
			return
		}
	}

	s.emit(audit.Event{
		EventType: audit.EventSessionRequested,
		RobotID:   req.RobotID,
		Metadata:  map[string]string{"requested_actions": joinActions(req.RequestedActions)},
	})

	attrs, _, _, err := s.verifier.Verify(req.Credential)
	if err != nil {
		s.deny(w, req, "", "credential rejected", err)
		return
	}

	policyID := req.PolicyID
	if policyID == "" {
		policyID = s.opts.DefaultPolicyID
	}
	pol, err := s.policies.Get(policyID)
	if err != nil {
		writeError(w, http.StatusBadRequest, "unknown policy: "+policyID)
		return
	}

	result := policy.Evaluate(pol, evaluationContext(attrs, req.RobotID), req.RequestedActions)
	if result.Decision != policy.DecisionAllow || len(result.AllowedActions) == 0 {
		s.deny(w, req, attrs.Subject, result.Reason, nil)
		return
	}

	sessionID := uuid.NewString()
	minted, err := s.minter.Generate(attrs.Subject, req.RobotID, sessionID, result.AllowedActions, s.opts.TokenTTL)
	if err != nil {
		s.logger.Error("token mint failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "token issuance failed")
		return
	}

	s.registry.Register(registry.Entry{
		TokenID:    minted.TokenID,
		SessionID:  sessionID,
		OperatorID: attrs.Subject,
		RobotID:    req.RobotID,
		ExpiresAt:  minted.ExpiresAt,
	})

	if !s.hub.NotifyGrant(sessionID, req.RobotID) {
		s.logger.Warn("robot not connected to signaling, grant not pushed",
			zap.String("session_id", sessionID),
			zap.String("robot_id", req.RobotID))
	}

	s.counters.SessionsGranted.Inc()
	s.emit(audit.Event{
		EventType:  audit.EventSessionGranted,
		SessionID:  sessionID,
		RobotID:    req.RobotID,
		OperatorID: attrs.Subject,
		PolicyHash: result.PolicyHash,
		Metadata: map[string]string{
			"scope":           joinActions(result.AllowedActions),
			"matched_rule_id": result.MatchedRuleID,
			"token_id":        minted.TokenID,
		},
	})

	s.logger.Info("session granted",
		zap.String("session_id", sessionID),
		zap.String("operator_id", attrs.Subject),
		zap.String("robot_id", req.RobotID),
		zap.Strings("scope", result.AllowedActions))

	writeJSON(w, http.StatusOK, SessionResponse{
		SessionID:     sessionID,
		Token:         minted.Signed,
		ExpiresAt:     minted.ExpiresAt,
		Scope:         result.AllowedActions,
		SignalingURL:  s.opts.SignalingURL,
		STUNServers:   s.opts.STUNServers,
		TURNServers:   s.opts.TURNServers,
		PolicyID:      result.PolicyID,
		PolicyVersion: result.PolicyVersion,
		PolicyHash:    result.PolicyHash,
	})
}

func (s *Server) deny(w http.ResponseWriter, req SessionRequest, operatorID, reason string, cause error) {
	s.counters.SessionsDenied.Inc()
	meta := map[string]string{"reason": reason}
	if cause != nil {
		meta["cause"] = cause.Error()
	}
	s.emit(audit.Event{
		EventType:  audit.EventSessionRequested,
		RobotID:    req.RobotID,
		OperatorID: operatorID,
		Metadata:   meta,
	})
	s.logger.Warn("session denied",
		zap.String("robot_id", req.RobotID),
		zap.String("operator_id", operatorID),
		zap.String("reason", reason),
		zap.Error(cause))

	status := http.StatusForbidden
	if errors.Is(cause, vc.ErrInvalidEnvelope) {
		status = http.StatusBadRequest
	}
	writeError(w, status, reason)
}

// evaluationContext merges credential attributes with the runtime request
// context the policy conditions may reference.
func evaluationContext(attrs *vc.Attributes, robotID string) map[string]any {
	ctx := map[string]any{
		"issuer":   attrs.Issuer,
		"subject":  attrs.Subject,
		"role":     attrs.Role,
		"resource": robotID,
		"time":     time.Now().UTC().Format(time.RFC3339),
		"hour":     time.Now().UTC().Hour(),
	}
	for k, v := range attrs.Claims {
		if _, taken := ctx[k]; !taken {
			ctx[k] = v
		}
	}
	return ctx
}

func joinActions(actions []string) string {
	return strings.Join(actions, ",")
}
