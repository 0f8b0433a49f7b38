// Package metrics exposes the gateway's Prometheus instrumentation.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics is the gateway's metric set over its own registry, so tests can
// hold isolated instances.
type Metrics struct {
	registry *prometheus.Registry

	SessionsActive     prometheus.Gauge
	SessionsTotal      prometheus.Counter
	SessionsRefused    prometheus.Counter
	AudioFramesIn      prometheus.Counter
	AudioFramesDropped prometheus.Counter
	TurnsTotal         prometheus.Counter
	Interrupts         prometheus.Counter
	WatchdogRecoveries prometheus.Counter
	DispatchEvents     prometheus.Counter
}

// New creates and registers the metric set.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	m := &Metrics{
		registry: reg,
		SessionsActive: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "fleetdeck_sessions_active",
			Help: "Currently running voice sessions.",
		}),
		SessionsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "fleetdeck_sessions_total",
			Help: "Voice sessions started since process start.",
		}),
		SessionsRefused: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "fleetdeck_sessions_refused_total",
			Help: "Connections refused because the session cap was reached.",
		}),
		AudioFramesIn: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "fleetdeck_audio_frames_in_total",
			Help: "Inbound audio frames accepted.",
		}),
		AudioFramesDropped: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "fleetdeck_audio_frames_dropped_total",
			Help: "Inbound audio frames dropped by the rate limiter.",
		}),
		TurnsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "fleetdeck_turns_total",
			Help: "Agent turns started.",
		}),
		Interrupts: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "fleetdeck_interrupts_total",
			Help: "Barge-in interrupts received.",
		}),
		WatchdogRecoveries: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "fleetdeck_watchdog_recoveries_total",
			Help: "Sessions force-recovered to listening by the watchdog.",
		}),
		DispatchEvents: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "fleetdeck_dispatch_events_total",
			Help: "Dispatch-call events relayed to clients.",
		}),
	}

	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.SessionsActive,
		m.SessionsTotal,
		m.SessionsRefused,
		m.AudioFramesIn,
		m.AudioFramesDropped,
		m.TurnsTotal,
		m.Interrupts,
		m.WatchdogRecoveries,
		m.DispatchEvents,
	)
	return m
}

// Handler serves the /metrics endpoint for this metric set.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
