package metrics

import (
	"errors"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"media-acquirer/internal/domain"
	"media-acquirer/internal/statemachine"
)

const namespace = "acquirer"

// Transition results.
const (
	ResultOK      = "ok"
	ResultInvalid = "invalid"
	ResultGuard   = "guard"
	ResultError   = "error"
)

// Metrics owns the registry and the collectors recorded by the orchestrator
// and scheduler. A nil *Metrics records nothing.
type Metrics struct {
	registry      *prometheus.Registry
	transitions   *prometheus.CounterVec
	sweepDuration *prometheus.HistogramVec
	sweepsSkipped *prometheus.CounterVec
}

func New() *Metrics {
	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector())
	registry.MustRegister(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	m := &Metrics{
		registry: registry,
		transitions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "transitions_total",
			Help:      "Request state transitions attempted, by outcome.",
		}, []string{"from", "to", "result"}),
		sweepDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "sweep_duration_seconds",
			Help:      "Duration of scheduled sweeps.",
			Buckets:   prometheus.ExponentialBuckets(0.01, 4, 8),
		}, []string{"sweep"}),
		sweepsSkipped: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "sweeps_skipped_total",
			Help:      "Sweep ticks skipped because the previous run was still in flight.",
		}, []string{"sweep"}),
	}
	registry.MustRegister(m.transitions, m.sweepDuration, m.sweepsSkipped)
	return m
}

func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// ObserveTransition counts a transition attempt, classifying err.
func (m *Metrics) ObserveTransition(from, to domain.RequestStatus, err error) {
	if m == nil {
		return
	}
	m.transitions.WithLabelValues(string(from), string(to), resultOf(err)).Inc()
}

func (m *Metrics) ObserveSweep(sweep string, d time.Duration) {
	if m == nil {
		return
	}
	m.sweepDuration.WithLabelValues(sweep).Observe(d.Seconds())
}

func (m *Metrics) SweepSkipped(sweep string) {
	if m == nil {
		return
	}
	m.sweepsSkipped.WithLabelValues(sweep).Inc()
}

func resultOf(err error) string {
	switch {
	case err == nil:
		return ResultOK
	case errors.Is(err, statemachine.ErrInvalidTransition):
		return ResultInvalid
	case errors.Is(err, statemachine.ErrGuardRejected):
		return ResultGuard
	}
	return ResultError
}
