// Package metrics exposes relay counters and gauges in Prometheus format.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/wricardo/lens-relay/relay/session"
)

const namespace = "lens_relay"

// Drop reasons recorded for inbound messages.
const (
	DropMalformed   = "malformed"
	DropUnknownType = "unknown_type"
	DropInvalid     = "invalid_fields"
)

// Metrics holds the relay's collectors on a private registry. All methods
// are safe on a nil *Metrics.
type Metrics struct {
	registry      *prometheus.Registry
	messages      *prometheus.CounterVec
	dropped       *prometheus.CounterVec
	forwarded     prometheus.Counter
	skipped       prometheus.Counter
	sessionsEnded *prometheus.CounterVec
	connections   prometheus.Gauge
}

// New registers the relay collectors. stats feeds the session gauges at
// scrape time and may be nil.
func New(stats func() session.Stats) *Metrics {
	reg := prometheus.NewRegistry()
	factory := promauto.With(reg)

	m := &Metrics{
		registry: reg,
		messages: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "messages_total",
			Help:      "Inbound messages by type",
		}, []string{"type"}),
		dropped: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "messages_dropped_total",
			Help:      "Inbound messages dropped without forwarding, by reason",
		}, []string{"reason"}),
		forwarded: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "telemetry_delivered_total",
			Help:      "Telemetry messages delivered to peers",
		}),
		skipped: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "telemetry_skipped_total",
			Help:      "Telemetry deliveries skipped because the peer was closed or full",
		}),
		sessionsEnded: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "sessions_ended_total",
			Help:      "Sessions torn down, by reason",
		}, []string{"reason"}),
		connections: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "connections",
			Help:      "Open websocket connections",
		}),
	}

	if stats != nil {
		gauge := func(name, help string, pick func(session.Stats) int) {
			factory.NewGaugeFunc(prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      name,
				Help:      help,
			}, func() float64 { return float64(pick(stats())) })
		}
		gauge("sessions", "Live sessions", func(s session.Stats) int { return s.Sessions })
		gauge("host_connections", "Attached host connections", func(s session.Stats) int { return s.Hosts })
		gauge("web_connections", "Attached web connections", func(s session.Stats) int { return s.Webs })
		gauge("participant_codes", "Registered participant codes", func(s session.Stats) int { return s.Codes })
	}

	return m
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			http.Error(w, "metrics not configured", http.StatusNotFound)
		})
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

func (m *Metrics) Message(kind string) {
	if m == nil {
		return
	}
	m.messages.WithLabelValues(kind).Inc()
}

// Dropped implements telemetry.Recorder.
func (m *Metrics) Dropped(reason string) {
	if m == nil {
		return
	}
	m.dropped.WithLabelValues(reason).Inc()
}

// Forwarded implements telemetry.Recorder.
func (m *Metrics) Forwarded(delivered, skipped int) {
	if m == nil {
		return
	}
	m.forwarded.Add(float64(delivered))
	m.skipped.Add(float64(skipped))
}

func (m *Metrics) SessionEnded(reason string) {
	if m == nil {
		return
	}
	m.sessionsEnded.WithLabelValues(reason).Inc()
}

func (m *Metrics) ConnectionOpened() {
	if m == nil {
		return
	}
	m.connections.Inc()
}

func (m *Metrics) ConnectionClosed() {
	if m == nil {
		return
	}
	m.connections.Dec()
}
