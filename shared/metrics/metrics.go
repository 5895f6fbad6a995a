package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds the Prometheus collectors of one process. A nil *Metrics is
// valid and records nothing.
type Metrics struct {
	RPCRequests       *prometheus.CounterVec
	RPCDuration       *prometheus.HistogramVec
	EnvelopesReceived *prometheus.CounterVec
	EnvelopesDropped  *prometheus.CounterVec
	Peers             *prometheus.GaugeVec
	PoolSize          *prometheus.GaugeVec
	ArenaBuilds       *prometheus.CounterVec
	QueueDepth        *prometheus.GaugeVec
	MatchesStarted    *prometheus.CounterVec

	gatherer prometheus.Gatherer
}

// New creates the collectors and registers them with reg. A fresh registry is
// used when reg is nil.
func New(serviceID string, reg *prometheus.Registry) *Metrics {
	if reg == nil {
		reg = prometheus.NewRegistry()
	}
	labels := prometheus.Labels{"service_id": serviceID}

	m := &Metrics{
		RPCRequests: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name:        "duels_rpc_requests_total",
				Help:        "Outbound requests by kind and outcome",
				ConstLabels: labels,
			},
			[]string{"kind", "outcome"},
		),
		RPCDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:        "duels_rpc_duration_seconds",
				Help:        "Outbound request latency until response, timeout or cancellation",
				ConstLabels: labels,
				Buckets:     []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1.0, 5.0},
			},
			[]string{"kind"},
		),
		EnvelopesReceived: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name:        "duels_envelopes_received_total",
				Help:        "Inbound envelopes by class and kind",
				ConstLabels: labels,
			},
			[]string{"class", "kind"},
		),
		EnvelopesDropped: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name:        "duels_envelopes_dropped_total",
				Help:        "Inbound envelopes dropped before dispatch, by reason",
				ConstLabels: labels,
			},
			[]string{"reason"},
		),
		Peers: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Name:        "duels_registry_peers",
				Help:        "Live peers by service kind",
				ConstLabels: labels,
			},
			[]string{"kind"},
		),
		PoolSize: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Name:        "duels_arena_pool_size",
				Help:        "Idle pooled arenas by arena type",
				ConstLabels: labels,
			},
			[]string{"arena_type"},
		),
		ArenaBuilds: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name:        "duels_arena_builds_total",
				Help:        "Arena constructions by arena type and mode",
				ConstLabels: labels,
			},
			[]string{"arena_type", "mode"},
		),
		QueueDepth: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Name:        "duels_queue_depth",
				Help:        "Queued players by kit and queue type",
				ConstLabels: labels,
			},
			[]string{"kit", "queue_type"},
		),
		MatchesStarted: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name:        "duels_matches_started_total",
				Help:        "Matches handed to a duel server by kit and queue type",
				ConstLabels: labels,
			},
			[]string{"kit", "queue_type"},
		),
		gatherer: reg,
	}

	reg.MustRegister(
		m.RPCRequests,
		m.RPCDuration,
		m.EnvelopesReceived,
		m.EnvelopesDropped,
		m.Peers,
		m.PoolSize,
		m.ArenaBuilds,
		m.QueueDepth,
		m.MatchesStarted,
	)
	return m
}

// Handler serves the registered collectors in the Prometheus text format.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return promhttp.Handler()
	}
	return promhttp.HandlerFor(m.gatherer, promhttp.HandlerOpts{})
}

func (m *Metrics) ObserveRPC(kind, outcome string, elapsed time.Duration) {
	if m == nil {
		return
	}
	m.RPCRequests.WithLabelValues(kind, outcome).Inc()
	m.RPCDuration.WithLabelValues(kind).Observe(elapsed.Seconds())
}

func (m *Metrics) EnvelopeReceived(class, kind string) {
	if m == nil {
		return
	}
	m.EnvelopesReceived.WithLabelValues(class, kind).Inc()
}

func (m *Metrics) EnvelopeDropped(reason string) {
	if m == nil {
		return
	}
	m.EnvelopesDropped.WithLabelValues(reason).Inc()
}

func (m *Metrics) SetPeers(kind string, n int) {
	if m == nil {
		return
	}
	m.Peers.WithLabelValues(kind).Set(float64(n))
}

func (m *Metrics) SetPoolSize(arenaType string, n int) {
	if m == nil {
		return
	}
	m.PoolSize.WithLabelValues(arenaType).Set(float64(n))
}

func (m *Metrics) ArenaBuilt(arenaType, mode string) {
	if m == nil {
		return
	}
	m.ArenaBuilds.WithLabelValues(arenaType, mode).Inc()
}

func (m *Metrics) SetQueueDepth(kit, queueType string, n int) {
	if m == nil {
		return
	}
	m.QueueDepth.WithLabelValues(kit, queueType).Set(float64(n))
}

func (m *Metrics) MatchStarted(kit, queueType string) {
	if m == nil {
		return
	}
	m.MatchesStarted.WithLabelValues(kit, queueType).Inc()
}
