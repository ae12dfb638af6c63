// Package metrics exposes scheduler counters to Prometheus. A nil *Metrics is
// valid and records nothing.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
)

const namespace = "hooksched"

type Metrics struct {
	registry *prometheus.Registry

	ticks          *prometheus.CounterVec
	sweepDuration  prometheus.Histogram
	dispatches     *prometheus.CounterVec
	dispatchTime   prometheus.Histogram
	disabled       *prometheus.CounterVec
	loadFailures   prometheus.Counter
	persistFailure prometheus.Counter
	tasksLoaded    prometheus.Gauge
}

// New registers the scheduler collectors, plus the Go and process collectors,
// on a fresh registry.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	m := &Metrics{
		registry: reg,
		ticks: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "ticks_total",
			Help:      "Scheduler ticks by outcome (swept, skipped, failed).",
		}, []string{"outcome"}),
		sweepDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "sweep_duration_seconds",
			Help:      "Time spent sweeping all task files in one tick.",
			Buckets:   prometheus.DefBuckets,
		}),
		dispatches: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "dispatches_total",
			Help:      "Trigger calls by result.",
		}, []string{"result"}),
		dispatchTime: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "dispatch_duration_seconds",
			Help:      "Latency of trigger calls.",
			Buckets:   []float64{.05, .1, .25, .5, 1, 2.5, 5, 10, 30},
		}),
		disabled: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "tasks_disabled_total",
			Help:      "Tasks disabled after a run, by reason.",
		}, []string{"reason"}),
		loadFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "load_failures_total",
			Help:      "Task files that could not be loaded.",
		}),
		persistFailure: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "persist_failures_total",
			Help:      "Task files that could not be written back.",
		}),
		tasksLoaded: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "tasks_loaded",
			Help:      "Tasks seen in the last sweep.",
		}),
	}
	reg.MustRegister(
		m.ticks, m.sweepDuration, m.dispatches, m.dispatchTime,
		m.disabled, m.loadFailures, m.persistFailure, m.tasksLoaded,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return m
}

// Registry is what the admin API serves.
func (m *Metrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.registry
}

func (m *Metrics) TickSkipped() {
	if m == nil {
		return
	}
	m.ticks.WithLabelValues("skipped").Inc()
}

func (m *Metrics) SweepDone(took time.Duration, err error) {
	if m == nil {
		return
	}
	outcome := "swept"
	if err != nil {
		outcome = "failed"
	}
	m.ticks.WithLabelValues(outcome).Inc()
	m.sweepDuration.Observe(took.Seconds())
}

func (m *Metrics) Dispatched(ok bool, took time.Duration) {
	if m == nil {
		return
	}
	result := "success"
	if !ok {
		result = "failure"
	}
	m.dispatches.WithLabelValues(result).Inc()
	m.dispatchTime.Observe(took.Seconds())
}

func (m *Metrics) TaskDisabled(reason string) {
	if m == nil {
		return
	}
	m.disabled.WithLabelValues(reason).Inc()
}

func (m *Metrics) LoadFailed() {
	if m == nil {
		return
	}
	m.loadFailures.Inc()
}

func (m *Metrics) PersistFailed() {
	if m == nil {
		return
	}
	m.persistFailure.Inc()
}

func (m *Metrics) SetTasksLoaded(n int) {
	if m == nil {
		return
	}
	m.tasksLoaded.Set(float64(n))
}
