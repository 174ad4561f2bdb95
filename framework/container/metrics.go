package container

import (
	"errors"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds the Prometheus collectors of the engine. A nil *Metrics is
// valid and records nothing.
type Metrics struct {
	resolutions      *prometheus.CounterVec
	duration         *prometheus.HistogramVec
	events           *prometheus.CounterVec
	observerFailures prometheus.Counter
	pendingEvents    prometheus.Gauge
	openContexts     prometheus.Gauge
}

// NewMetrics creates the collectors and registers them with reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		resolutions: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "container",
				Subsystem: "resolver",
				Name:      "resolutions_total",
				Help:      "Total number of top-level resolutions.",
			},
			[]string{"mode", "outcome"},
		),
		duration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: "container",
				Subsystem: "resolver",
				Name:      "resolution_duration_seconds",
				Help:      "Duration of top-level resolutions.",
				Buckets:   prometheus.ExponentialBuckets(0.00001, 4, 10), // 10µs to ~2.6s
			},
			[]string{"mode"},
		),
		events: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "container",
				Subsystem: "notifier",
				Name:      "events_total",
				Help:      "Total number of binding change events emitted.",
			},
			[]string{"type"},
		),
		observerFailures: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: "container",
				Subsystem: "notifier",
				Name:      "observer_failures_total",
				Help:      "Total number of observer errors and panics.",
			},
		),
		pendingEvents: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: "container",
				Subsystem: "notifier",
				Name:      "pending_events",
				Help:      "Events queued but not yet delivered.",
			},
		),
		openContexts: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: "container",
				Subsystem: "context",
				Name:      "open",
				Help:      "Number of contexts created and not yet closed.",
			},
		),
	}
	if reg != nil {
		reg.MustRegister(
			m.resolutions,
			m.duration,
			m.events,
			m.observerFailures,
			m.pendingEvents,
			m.openContexts,
		)
	}
	return m
}

func (m *Metrics) observeResolution(mode string, err error, elapsed time.Duration) {
	if m == nil {
		return
	}
	m.resolutions.WithLabelValues(mode, outcome(err)).Inc()
	m.duration.WithLabelValues(mode).Observe(elapsed.Seconds())
}

func (m *Metrics) eventEmitted(t EventType) {
	if m == nil {
		return
	}
	m.events.WithLabelValues(string(t)).Inc()
}

func (m *Metrics) observerFailed() {
	if m == nil {
		return
	}
	m.observerFailures.Inc()
}

func (m *Metrics) eventQueued() {
	if m == nil {
		return
	}
	m.pendingEvents.Inc()
}

func (m *Metrics) eventDelivered() {
	if m == nil {
		return
	}
	m.pendingEvents.Dec()
}

func (m *Metrics) contextOpened() {
	if m == nil {
		return
	}
	m.openContexts.Inc()
}

func (m *Metrics) contextClosed() {
	if m == nil {
		return
	}
	m.openContexts.Dec()
}

func outcome(err error) string {
	var (
		notFound *BindingNotFoundError
		circular *CircularDependencyError
		async    *AsyncResolutionError
	)
	switch {
	case err == nil:
		return "ok"
	case errors.As(err, &notFound):
		return "not_found"
	case errors.As(err, &circular):
		return "circular"
	case errors.As(err, &async):
		return "async"
	default:
		return "error"
	}
}
