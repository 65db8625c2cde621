// Package metrics exposes server counters in Prometheus format.
//
// All methods are safe on a nil *Metrics, so callers that run without
// metrics pass nil instead of guarding every call.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"nimf/internal/ic"
)

const namespace = "nimf"

// Metrics holds the server's collectors and the registry they live in.
type Metrics struct {
	registry *prometheus.Registry

	connections     prometheus.Gauge
	connectionsSeen prometheus.Counter
	contexts        *prometheus.GaugeVec
	messages        *prometheus.CounterVec
	malformed       prometheus.Counter
	ximRequests     *prometheus.CounterVec
	engineSwitches  *prometheus.CounterVec
	filterDuration  prometheus.Histogram
}

var _ ic.Observer = (*Metrics)(nil)

// New creates the collectors and registers them, together with the Go
// runtime and process collectors, in a fresh registry.
func New() *Metrics {
	startTime := time.Now()

	m := &Metrics{
		registry: prometheus.NewRegistry(),
		connections: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "connections",
			Help:      "Number of open socket connections",
		}),
		connectionsSeen: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "connections_total",
			Help:      "Total number of accepted socket connections",
		}),
		contexts: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "contexts",
			Help:      "Number of live input contexts",
		}, []string{"kind"}),
		messages: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "messages_total",
			Help:      "Socket requests handled, by opcode",
		}, []string{"op"}),
		malformed: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "malformed_messages_total",
			Help:      "Socket messages dropped as malformed",
		}),
		ximRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "xim_requests_total",
			Help:      "XIM requests handled, by request name",
		}, []string{"request"}),
		engineSwitches: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "engine_switches_total",
			Help:      "Engine changes announced to agents, by target engine",
		}, []string{"engine"}),
		filterDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "filter_event_duration_seconds",
			Help:      "Time spent handling a key event on the reactor",
			Buckets:   []float64{.00005, .0001, .0005, .001, .005, .01, .05, .1},
		}),
	}

	m.registry.MustRegister(
		m.connections,
		m.connectionsSeen,
		m.contexts,
		m.messages,
		m.malformed,
		m.ximRequests,
		m.engineSwitches,
		m.filterDuration,
		prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "uptime_seconds",
			Help:      "Seconds since the server started",
		}, func() float64 { return time.Since(startTime).Seconds() }),
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return m
}

// Registry returns the underlying registry.
func (m *Metrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.registry
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

func (m *Metrics) ConnectionOpened() {
	if m == nil {
		return
	}
	m.connections.Inc()
	m.connectionsSeen.Inc()
}

func (m *Metrics) ConnectionClosed() {
	if m == nil {
		return
	}
	m.connections.Dec()
}

func (m *Metrics) MessageHandled(op string) {
	if m == nil {
		return
	}
	m.messages.WithLabelValues(op).Inc()
}

func (m *Metrics) MalformedMessage() {
	if m == nil {
		return
	}
	m.malformed.Inc()
}

func (m *Metrics) XimRequest(name string) {
	if m == nil {
		return
	}
	m.ximRequests.WithLabelValues(name).Inc()
}

// ObserveFilter records how long one FilterEvent took.
func (m *Metrics) ObserveFilter(d time.Duration) {
	if m == nil {
		return
	}
	m.filterDuration.Observe(d.Seconds())
}

// ContextCreated implements ic.Observer.
func (m *Metrics) ContextCreated(kind ic.Kind) {
	if m == nil {
		return
	}
	m.contexts.WithLabelValues(kind.String()).Inc()
}

// ContextDestroyed implements ic.Observer.
func (m *Metrics) ContextDestroyed(kind ic.Kind) {
	if m == nil {
		return
	}
	m.contexts.WithLabelValues(kind.String()).Dec()
}

// EngineSwitched implements ic.Observer.
func (m *Metrics) EngineSwitched(engineID string) {
	if m == nil {
		return
	}
	m.engineSwitches.WithLabelValues(engineID).Inc()
}
