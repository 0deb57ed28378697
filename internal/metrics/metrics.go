// Package metrics exposes weave's Prometheus collectors. Uses an
// isolated prometheus.Registry so weave metrics never collide with the
// global default registry, matching the teacher's pattern of one
// Metrics instance per node (and a fresh one per test).
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds every custom weave Prometheus collector.
type Metrics struct {
	Registry *prometheus.Registry

	// Gossip/session service
	AnnouncementsReceivedTotal *prometheus.CounterVec
	AnnouncementsRelayedTotal  *prometheus.CounterVec
	AnnouncementsDroppedTotal  *prometheus.CounterVec
	SessionsActive             *prometheus.GaugeVec
	DisconnectsTotal            *prometheus.CounterVec
	PenaltiesTotal               *prometheus.CounterVec
	RateLimitDropsTotal          *prometheus.CounterVec

	// Fetch orchestrator
	FetchesTotal           *prometheus.CounterVec
	FetchDurationSeconds   *prometheus.HistogramVec
	FetchBytesTotal        *prometheus.CounterVec
	FetchQueueDepth        *prometheus.GaugeVec

	// Stores
	RoutingTableSize *prometheus.GaugeVec
	AddressBookSize  *prometheus.GaugeVec

	// Daemon API
	DaemonRequestsTotal          *prometheus.CounterVec
	DaemonRequestDurationSeconds *prometheus.HistogramVec

	BuildInfo *prometheus.GaugeVec
}

// New creates a Metrics instance with every collector registered on an
// isolated registry.
func New(version, goVersion string) *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(prometheus.NewGoCollector())
	reg.MustRegister(prometheus.NewProcessCollector(prometheus.ProcessCollectorOpts{}))

	m := &Metrics{
		Registry: reg,

		AnnouncementsReceivedTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "weave_announcements_received_total",
			Help: "Total announcements accepted after signature/timestamp/pow verification, by variant.",
		}, []string{"variant"}),
		AnnouncementsRelayedTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "weave_announcements_relayed_total",
			Help: "Total announcements relayed to subscribed peers, by variant.",
		}, []string{"variant"}),
		AnnouncementsDroppedTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "weave_announcements_dropped_total",
			Help: "Total announcements dropped, by reason.",
		}, []string{"reason"}),
		SessionsActive: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "weave_sessions_active",
			Help: "Current number of sessions, by direction and phase.",
		}, []string{"direction", "phase"}),
		DisconnectsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "weave_disconnects_total",
			Help: "Total session disconnects, by reason.",
		}, []string{"reason"}),
		PenaltiesTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "weave_penalties_total",
			Help: "Total penalties applied to peers, by severity.",
		}, []string{"severity"}),
		RateLimitDropsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "weave_rate_limit_drops_total",
			Help: "Total messages dropped or disconnected by rate limiting, by direction.",
		}, []string{"direction"}),

		FetchesTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "weave_fetches_total",
			Help: "Total staged fetches, by outcome.",
		}, []string{"outcome"}),
		FetchDurationSeconds: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "weave_fetch_duration_seconds",
			Help:    "Staged fetch wall-clock duration.",
			Buckets: prometheus.DefBuckets,
		}, []string{"outcome"}),
		FetchBytesTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "weave_fetch_bytes_total",
			Help: "Total bytes received by the staged fetch protocol.",
		}, []string{"rid"}),
		FetchQueueDepth: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "weave_fetch_queue_depth",
			Help: "Current number of queued fetches per peer.",
		}, []string{"peer"}),

		RoutingTableSize: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "weave_routing_table_size",
			Help: "Current number of routing-table entries.",
		}, []string{}),
		AddressBookSize: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "weave_address_book_size",
			Help: "Current number of address-book entries.",
		}, []string{}),

		DaemonRequestsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "weave_daemon_requests_total",
			Help: "Total requests served by the local operator API.",
		}, []string{"path", "status"}),
		DaemonRequestDurationSeconds: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "weave_daemon_request_duration_seconds",
			Help:    "Local operator API request duration.",
			Buckets: prometheus.DefBuckets,
		}, []string{"path"}),

		BuildInfo: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "weave_build_info",
			Help: "Build information, value is always 1.",
		}, []string{"version", "go_version"}),
	}

	for _, c := range []prometheus.Collector{
		m.AnnouncementsReceivedTotal, m.AnnouncementsRelayedTotal, m.AnnouncementsDroppedTotal,
		m.SessionsActive, m.DisconnectsTotal, m.PenaltiesTotal, m.RateLimitDropsTotal,
		m.FetchesTotal, m.FetchDurationSeconds, m.FetchBytesTotal, m.FetchQueueDepth,
		m.RoutingTableSize, m.AddressBookSize,
		m.DaemonRequestsTotal, m.DaemonRequestDurationSeconds, m.BuildInfo,
	} {
		reg.MustRegister(c)
	}

	m.BuildInfo.WithLabelValues(version, goVersion).Set(1)
	return m
}

// Handler returns the promhttp handler serving this registry, for the
// loopback operator surface (internal/daemon).
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.Registry, promhttp.HandlerOpts{})
}
