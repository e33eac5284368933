// Package metrics exposes per-network connection counters to Prometheus.
package metrics

import (
	"errors"
	"net/http"
	"time"

	"reconcile/logger"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "reconcile"

// Metrics holds every collector of the process.
type Metrics struct {
	registry *prometheus.Registry

	LinesReceived    *prometheus.CounterVec
	LinesSent        *prometheus.CounterVec
	Reconnects       *prometheus.CounterVec
	ProcessingErrors *prometheus.CounterVec
	PluginPanics     *prometheus.CounterVec
	Queued           *prometheus.GaugeVec
}

// New creates the collectors and registers them on a private registry.
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),

		LinesReceived: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "lines",
				Name:      "received_total",
				Help:      "Total number of lines received from the server",
			},
			[]string{"network"},
		),

		LinesSent: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "lines",
				Name:      "sent_total",
				Help:      "Total number of lines written to the server",
			},
			[]string{"network", "kind"},
		),

		Reconnects: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "connection",
				Name:      "reconnects_total",
				Help:      "Total number of reconnect attempts",
			},
			[]string{"network"},
		),

		ProcessingErrors: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "connection",
				Name:      "processing_errors_total",
				Help:      "Errors raised while handling well-formed lines",
			},
			[]string{"network"},
		),

		PluginPanics: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "plugins",
				Name:      "panics_total",
				Help:      "Recovered plugin panics",
			},
			[]string{"network", "plugin"},
		),

		Queued: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Subsystem: "queue",
				Name:      "pending",
				Help:      "Messages waiting in the egress queues",
			},
			[]string{"network", "kind"},
		),
	}

	m.registry.MustRegister(
		m.LinesReceived,
		m.LinesSent,
		m.Reconnects,
		m.ProcessingErrors,
		m.PluginPanics,
		m.Queued,
	)
	return m
}

// Registry returns the registry holding the collectors.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{EnableOpenMetrics: true})
}

// Serve exposes /metrics on address until the server fails.
func (m *Metrics) Serve(address string) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", m.Handler())

	server := &http.Server{
		Addr:              address,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		logger.Info("Serving metrics", "address", address)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("Metrics server stopped", "error", err)
		}
	}()
	return server
}

// Network returns a recorder bound to one network. It is safe to call on a nil
// Metrics, in which case every recording is a no-op.
func (m *Metrics) Network(name string) *Network {
	if m == nil {
		return nil
	}
	return &Network{metrics: m, name: name}
}

// Network records metrics for one network. A nil *Network records nothing.
type Network struct {
	metrics *Metrics
	name    string
}

func (n *Network) LineReceived() {
	if n == nil {
		return
	}
	n.metrics.LinesReceived.WithLabelValues(n.name).Inc()
}

func (n *Network) LineSent(kind string) {
	if n == nil {
		return
	}
	n.metrics.LinesSent.WithLabelValues(n.name, kind).Inc()
}

func (n *Network) Reconnect() {
	if n == nil {
		return
	}
	n.metrics.Reconnects.WithLabelValues(n.name).Inc()
}

func (n *Network) ProcessingError() {
	if n == nil {
		return
	}
	n.metrics.ProcessingErrors.WithLabelValues(n.name).Inc()
}

func (n *Network) PluginPanic(plugin string) {
	if n == nil {
		return
	}
	n.metrics.PluginPanics.WithLabelValues(n.name, plugin).Inc()
}

func (n *Network) Pending(messages, notices int) {
	if n == nil {
		return
	}
	n.metrics.Queued.WithLabelValues(n.name, "message").Set(float64(messages))
	n.metrics.Queued.WithLabelValues(n.name, "notice").Set(float64(notices))
}
