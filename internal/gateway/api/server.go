// Package api is the Gateway's HTTP surface: session issuance, revocation,
// audit ingest, key publication, signaling upgrade and the operational
// endpoints.
package api

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/datapilot/chainkvm/internal/audit"
	"github.com/datapilot/chainkvm/internal/gateway/policy"
	"github.com/datapilot/chainkvm/internal/gateway/registry"
	"github.com/datapilot/chainkvm/internal/gateway/signaling"
	"github.com/datapilot/chainkvm/internal/gateway/token"
	"github.com/datapilot/chainkvm/internal/gateway/vc"
)

// Options carries the request-independent settings handed to each grant.
type Options struct {
	SignalingURL    string
	STUNServers     []string
	TURNServers     []string
	TokenTTL        time.Duration
	DefaultPolicyID string
}

// Server wires the Gateway subsystems behind a mux router.
type Server struct {
	verifier *vc.Verifier
	policies *policy.Store
	minter   *token.Generator
	keys     *token.KeyManager
	registry *registry.Registry
	hub      *signaling.Hub
	ledger   audit.Sink
	counters *Counters
	opts     Options
	logger   *zap.Logger
}

func NewServer(
	verifier *vc.Verifier,
	policies *policy.Store,
	minter *token.Generator,
	keys *token.KeyManager,
	reg *registry.Registry,
	hub *signaling.Hub,
	ledger audit.Sink,
	counters *Counters,
	opts Options,
	logger *zap.Logger,
) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	if opts.TokenTTL <= 0 {
		opts.TokenTTL = 5 * time.Minute
	}
	if opts.DefaultPolicyID == "" {
		opts.DefaultPolicyID = policy.DefaultPolicyID
	}
	return &Server{
		verifier: verifier,
		policies: policies,
		minter:   minter,
		keys:     keys,
		registry: reg,
		hub:      hub,
		ledger:   ledger,
		counters: counters,
		opts:     opts,
		logger:   logger,
	}
}

// Router builds the route table.
func (s *Server) Router(gatherer prometheus.Gatherer) *mux.Router {
	r := mux.NewRouter()

	r.HandleFunc("/v1/sessions", s.handleCreateSession).Methods(http.MethodPost)
	r.HandleFunc("/v1/revocations", s.handleRevoke).Methods(http.MethodPost)
	r.HandleFunc("/v1/audit", s.handleAuditIngest).Methods(http.MethodPost)
	r.HandleFunc("/v1/jwks", s.handleJWKS).Methods(http.MethodGet)
	r.HandleFunc("/v1/signal", s.hub.HandleWS)
	// Legacy path kept for older robot agent builds.
	r.HandleFunc("/ws", s.hub.HandleWS)

	r.Handle("/metrics", promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{}))
	r.HandleFunc("/healthz", s.handleHealthz).Methods(http.MethodGet)

	return r
}

func (s *Server) handleHealthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":    "ok",
		"signaling": s.hub.Stats(),
	})
}

// emit writes an event to the ledger sink without letting a sink failure
// surface to the request path.
func (s *Server) emit(event audit.Event) {
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now().UTC()
	}
	if err := s.ledger.Write(event); err != nil {
		s.counters.AuditDropped.Inc()
		s.logger.Error("ledger write failed",
			zap.String("event_type", string(event.EventType)),
			zap.Error(err))
	}
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(body)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}
