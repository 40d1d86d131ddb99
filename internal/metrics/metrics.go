// Package metrics holds the process-wide Prometheus collectors, exposed on
// /metrics next to the API.
package metrics

import (
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
)

type Metrics struct {
	RequestsTotal   *prometheus.CounterVec
	RequestDuration *prometheus.HistogramVec
	CacheLookups    *prometheus.CounterVec
	UpstreamErrors  *prometheus.CounterVec
	DeniedRequests  *prometheus.CounterVec
}

func New(registerer prometheus.Registerer) *Metrics {
	m := &Metrics{
		RequestsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "marketgate_requests_total",
			Help: "API requests by route template and status code.",
		}, []string{"endpoint", "status"}),
		RequestDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "marketgate_request_duration_seconds",
			Help:    "API request latency by route template.",
			Buckets: prometheus.DefBuckets,
		}, []string{"endpoint"}),
		CacheLookups: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "marketgate_cache_lookups_total",
			Help: "Market-data fallback cache lookups by outcome (stale, miss).",
		}, []string{"outcome"}),
		UpstreamErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "marketgate_upstream_errors_total",
			Help: "Upstream provider failures by data kind.",
		}, []string{"kind"}),
		DeniedRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "marketgate_denied_requests_total",
			Help: "Requests denied at the authorization gate, by reason.",
		}, []string{"reason"}),
	}

	registerer.MustRegister(
		m.RequestsTotal,
		m.RequestDuration,
		m.CacheLookups,
		m.UpstreamErrors,
		m.DeniedRequests,
	)
	return m
}

func (m *Metrics) ObserveRequest(endpoint string, status int, seconds float64) {
	m.RequestsTotal.WithLabelValues(endpoint, strconv.Itoa(status)).Inc()
	m.RequestDuration.WithLabelValues(endpoint).Observe(seconds)
}
