// Package telemetry wires the process's structured logging, Prometheus
// metrics, and OpenTelemetry tracing, modeled on the crawler's telemetry
// stack but scoped to this pipeline's own counters and spans.
package telemetry

import (
	"net/http"

	prom "github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds the process-wide Prometheus collectors for the crawl,
// extraction, and notification stages.
type Metrics struct {
	registry *prom.Registry

	FetchesTotal       *prom.CounterVec
	FetchDurationMs    *prom.HistogramVec
	RendersTotal       *prom.CounterVec
	SelectorRepairs    *prom.CounterVec
	LLMCallsTotal      *prom.CounterVec
	DiscoveryRunsTotal *prom.CounterVec
	ChangeEventsTotal  *prom.CounterVec
	AlertsSentTotal    *prom.CounterVec
	QueueDepth         *prom.GaugeVec
}

// NewMetrics registers every collector on a fresh registry and returns the
// handle used to increment them from the driver's pipeline stages.
func NewMetrics() *Metrics {
	reg := prom.NewRegistry()

	m := &Metrics{
		registry: reg,
		FetchesTotal: prom.NewCounterVec(prom.CounterOpts{
			Namespace: "oemwatch", Name: "fetches_total", Help: "HTTP fetches attempted, by tenant and outcome.",
		}, []string{"tenant", "outcome"}),
		FetchDurationMs: prom.NewHistogramVec(prom.HistogramOpts{
			Namespace: "oemwatch", Name: "fetch_duration_ms", Help: "Fetch latency in milliseconds.",
			Buckets: []float64{50, 100, 250, 500, 1000, 2500, 5000, 10000},
		}, []string{"tenant"}),
		RendersTotal: prom.NewCounterVec(prom.CounterOpts{
			Namespace: "oemwatch", Name: "renders_total", Help: "Headless render invocations, by tenant and outcome.",
		}, []string{"tenant", "outcome"}),
		SelectorRepairs: prom.NewCounterVec(prom.CounterOpts{
			Namespace: "oemwatch", Name: "selector_repairs_total", Help: "L3 selector repair attempts, by tenant and outcome.",
		}, []string{"tenant", "outcome"}),
		LLMCallsTotal: prom.NewCounterVec(prom.CounterOpts{
			Namespace: "oemwatch", Name: "llm_calls_total", Help: "Oracle calls issued, by tenant.",
		}, []string{"tenant"}),
		DiscoveryRunsTotal: prom.NewCounterVec(prom.CounterOpts{
			Namespace: "oemwatch", Name: "discovery_runs_total", Help: "L4 discovery passes, by tenant.",
		}, []string{"tenant"}),
		ChangeEventsTotal: prom.NewCounterVec(prom.CounterOpts{
			Namespace: "oemwatch", Name: "change_events_total", Help: "Change events recorded, by tenant and severity.",
		}, []string{"tenant", "severity"}),
		AlertsSentTotal: prom.NewCounterVec(prom.CounterOpts{
			Namespace: "oemwatch", Name: "alerts_sent_total", Help: "Notifications posted, by tenant, channel, and outcome.",
		}, []string{"tenant", "channel", "outcome"}),
		QueueDepth: prom.NewGaugeVec(prom.GaugeOpts{
			Namespace: "oemwatch", Name: "queue_depth", Help: "Pending scheduler queue items, by tenant.",
		}, []string{"tenant"}),
	}

	reg.MustRegister(m.FetchesTotal, m.FetchDurationMs, m.RendersTotal, m.SelectorRepairs,
		m.LLMCallsTotal, m.DiscoveryRunsTotal, m.ChangeEventsTotal, m.AlertsSentTotal, m.QueueDepth)

	return m
}

// Handler exposes the registry on /metrics.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
