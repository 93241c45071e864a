package metrics

import (
	"net/http"
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Request outcome labels
const (
	OutcomeFillApproved   = "fill_approved"
	OutcomeCancelAccepted = "cancel_accepted"
	OutcomeRejected       = "rejected"
	OutcomeInternalError  = "internal_error"
)

// Metrics bundles the coordinator's Prometheus collectors. Each server owns
// its own registry so tests never trip duplicate registration.
type Metrics struct {
	registry *prometheus.Registry

	requests      *prometheus.CounterVec
	approvals     *prometheus.CounterVec
	softCancels   *prometheus.CounterVec
	wsSubscribers *prometheus.GaugeVec
}

func New() *Metrics {
	registry := prometheus.NewRegistry()
	factory := promauto.With(registry)
	return &Metrics{
		registry: registry,
		requests: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "coordinator",
			Name:      "requests_total",
			Help:      "Approval requests handled, by chain and outcome.",
		}, []string{"chain_id", "outcome"}),
		approvals: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "coordinator",
			Name:      "fill_approvals_total",
			Help:      "Fill approvals granted, by chain.",
		}, []string{"chain_id"}),
		softCancels: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "coordinator",
			Name:      "soft_cancel_requests_total",
			Help:      "Cancel requests accepted, by chain.",
		}, []string{"chain_id"}),
		wsSubscribers: factory.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "coordinator",
			Name:      "ws_subscribers",
			Help:      "Connected WebSocket subscribers, by chain.",
		}, []string{"chain_id"}),
	}
}

// Handler serves the registry in Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// Registry exposes the underlying registry, mainly for tests.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

func (m *Metrics) ObserveRequest(chainID int64, outcome string) {
	m.requests.WithLabelValues(chainLabel(chainID), outcome).Inc()
}

func (m *Metrics) ObserveFillApproval(chainID int64) {
	m.approvals.WithLabelValues(chainLabel(chainID)).Inc()
}

func (m *Metrics) ObserveCancelAccepted(chainID int64) {
	m.softCancels.WithLabelValues(chainLabel(chainID)).Inc()
}

func (m *Metrics) SubscriberConnected(chainID int64) {
	m.wsSubscribers.WithLabelValues(chainLabel(chainID)).Inc()
}

func (m *Metrics) SubscriberDisconnected(chainID int64) {
	m.wsSubscribers.WithLabelValues(chainLabel(chainID)).Dec()
}

func chainLabel(chainID int64) string {
	return strconv.FormatInt(chainID, 10)
}
