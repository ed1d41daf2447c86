// Package metrics expone contadores Prometheus del bridge.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "trio"

// Metrics agrupa los colectores en un registry propio. Implementa session.Recorder.
type Metrics struct {
	registry *prometheus.Registry

	sessionsActive  prometheus.Gauge
	turns           *prometheus.CounterVec
	warnings        prometheus.Counter
	requests        *prometheus.CounterVec
	requestDuration *prometheus.HistogramVec
}

func New() *Metrics {
	registry := prometheus.NewRegistry()
	factory := promauto.With(registry)
	return &Metrics{
		registry: registry,
		sessionsActive: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "sessions_active",
			Help:      "Chat sessions with at least one subscriber.",
		}),
		turns: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "turns_total",
			Help:      "Streamed turns by outcome.",
		}, []string{"outcome"}),
		warnings: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "stream_consistency_warnings_total",
			Help:      "Non-fatal stream anomalies such as deltas without an active sender.",
		}),
		requests: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_requests_total",
			Help:      "Bridge HTTP requests by route and status.",
		}, []string{"method", "route", "status"}),
		requestDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_request_duration_seconds",
			Help:      "Bridge HTTP request latency. Event streams are excluded.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"method", "route"}),
	}
}

// Handler sirve el registry en formato Prometheus.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

func (m *Metrics) SessionOpened() {
	m.sessionsActive.Inc()
}

func (m *Metrics) SessionClosed() {
	m.sessionsActive.Dec()
}

func (m *Metrics) TurnFinished(outcome string) {
	m.turns.WithLabelValues(outcome).Inc()
}

func (m *Metrics) ConsistencyWarning() {
	m.warnings.Inc()
}

// ObserveRequest registra una request terminada. route es la ruta de gin, no el path.
func (m *Metrics) ObserveRequest(method, route string, status int, latency time.Duration, streaming bool) {
	if route == "" {
		route = "unmatched"
	}
	m.requests.WithLabelValues(method, route, strconv.Itoa(status)).Inc()
	if !streaming {
		m.requestDuration.WithLabelValues(method, route).Observe(latency.Seconds())
	}
}
