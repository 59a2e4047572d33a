package api

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Counters are the Gateway's Prometheus counters.
type Counters struct {
	SessionsGranted    prometheus.Counter
	SessionsDenied     prometheus.Counter
	SessionsRevoked    prometheus.Counter
	AuditAccepted      prometheus.Counter
	AuditDropped       prometheus.Counter
	SignalingPushFails prometheus.Counter
}

// NewCounters registers the Gateway counters on the given registerer.
func NewCounters(reg prometheus.Registerer) *Counters {
	c := &Counters{
		SessionsGranted: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "gateway_sessions_granted_total",
			Help: "Sessions granted after credential and policy checks.",
		}),
		SessionsDenied: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "gateway_sessions_denied_total",
			Help: "Session requests denied by credential or policy checks.",
		}),
		SessionsRevoked: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "gateway_sessions_revoked_total",
			Help: "Sessions revoked via the revocation endpoint.",
		}),
		AuditAccepted: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "gateway_audit_events_accepted_total",
			Help: "Audit events accepted into the ledger.",
		}),
		AuditDropped: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "gateway_audit_events_dropped_total",
			Help: "Audit events rejected or lost at ingest.",
		}),
		SignalingPushFails: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "gateway_signaling_push_failures_total",
			Help: "Revocation pushes that reached no signaling peer.",
		}),
	}
	reg.MustRegister(
		c.SessionsGranted, c.SessionsDenied, c.SessionsRevoked,
		c.AuditAccepted, c.AuditDropped, c.SignalingPushFails,
	)
	return c
}
