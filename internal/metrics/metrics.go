// Package metrics defines the Prometheus collectors exported at /metrics.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "studio"

// Metrics groups the service's collectors. A nil *Metrics is valid and
// records nothing.
type Metrics struct {
	gatherer prometheus.Gatherer

	SessionsActive    prometheus.Gauge
	SessionsCreated   prometheus.Counter
	SessionsDestroyed *prometheus.CounterVec
	BindingsActive    prometheus.Gauge
	OutputBytes       prometheus.Counter
	DuplicateBytes    prometheus.Counter
	BufferedBytes     prometheus.Counter
	OverflowBytes     prometheus.Counter
	DetachedRunning   prometheus.Gauge
	DetachedStarted   prometheus.Counter
	DetachedStopped   *prometheus.CounterVec
	SweptRecords      prometheus.Counter
}

// New registers the collectors on reg. A nil reg gets a fresh registry
// that also carries the Go and process collectors.
func New(reg *prometheus.Registry) *Metrics {
	if reg == nil {
		reg = prometheus.NewRegistry()
		reg.MustRegister(
			collectors.NewGoCollector(),
			collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		)
	}

	m := &Metrics{
		gatherer: reg,
		SessionsActive: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace, Subsystem: "sessions", Name: "active",
			Help: "Number of live interactive terminal sessions.",
		}),
		SessionsCreated: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "sessions", Name: "created_total",
			Help: "Interactive sessions created.",
		}),
		SessionsDestroyed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "sessions", Name: "destroyed_total",
			Help: "Interactive sessions torn down, by reason.",
		}, []string{"reason"}),
		BindingsActive: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace, Subsystem: "bindings", Name: "active",
			Help: "Connections currently bound to a session.",
		}),
		OutputBytes: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "relay", Name: "output_bytes_total",
			Help: "Terminal output bytes forwarded to connections or buffers.",
		}),
		DuplicateBytes: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "relay", Name: "duplicate_bytes_total",
			Help: "Terminal output bytes suppressed as repeated echo.",
		}),
		BufferedBytes: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "relay", Name: "buffered_bytes_total",
			Help: "Terminal output bytes buffered while no connection was bound.",
		}),
		OverflowBytes: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "relay", Name: "overflow_bytes_total",
			Help: "Buffered terminal output bytes discarded because the buffer was full.",
		}),
		DetachedRunning: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace, Subsystem: "detached", Name: "running",
			Help: "Detached processes tracked in memory.",
		}),
		DetachedStarted: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "detached", Name: "started_total",
			Help: "Detached processes started.",
		}),
		DetachedStopped: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "detached", Name: "stopped_total",
			Help: "Detached processes ended, by reason.",
		}, []string{"reason"}),
		SweptRecords: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "detached", Name: "records_swept_total",
			Help: "Expired durable process records removed by the sweep.",
		}),
	}

	reg.MustRegister(
		m.SessionsActive,
		m.SessionsCreated,
		m.SessionsDestroyed,
		m.BindingsActive,
		m.OutputBytes,
		m.DuplicateBytes,
		m.BufferedBytes,
		m.OverflowBytes,
		m.DetachedRunning,
		m.DetachedStarted,
		m.DetachedStopped,
		m.SweptRecords,
	)
	return m
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.gatherer, promhttp.HandlerOpts{})
}

func (m *Metrics) SessionCreated() {
	if m == nil {
		return
	}
	m.SessionsCreated.Inc()
	m.SessionsActive.Inc()
}

func (m *Metrics) SessionDestroyed(reason string) {
	if m == nil {
		return
	}
	m.SessionsDestroyed.WithLabelValues(reason).Inc()
	m.SessionsActive.Dec()
}

func (m *Metrics) SetBindings(n int) {
	if m == nil {
		return
	}
	m.BindingsActive.Set(float64(n))
}

func (m *Metrics) Output(forwarded, suppressed int) {
	if m == nil {
		return
	}
	m.OutputBytes.Add(float64(forwarded))
	m.DuplicateBytes.Add(float64(suppressed))
}

func (m *Metrics) Buffered(n int) {
	if m == nil {
		return
	}
	m.BufferedBytes.Add(float64(n))
}

func (m *Metrics) Overflowed(n int64) {
	if m == nil {
		return
	}
	m.OverflowBytes.Add(float64(n))
}

func (m *Metrics) DetachedStart() {
	if m == nil {
		return
	}
	m.DetachedStarted.Inc()
	m.DetachedRunning.Inc()
}

func (m *Metrics) DetachedStop(reason string) {
	if m == nil {
		return
	}
	m.DetachedStopped.WithLabelValues(reason).Inc()
	m.DetachedRunning.Dec()
}

func (m *Metrics) RecordsSwept(n int64) {
	if m == nil {
		return
	}
	m.SweptRecords.Add(float64(n))
}
