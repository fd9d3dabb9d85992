package pipeline

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"healthwatch/pkg/models"
)

// Metrics holds the engine collectors on a private registry.
type Metrics struct {
	registry *prometheus.Registry

	CyclesTotal    *prometheus.CounterVec
	CycleDuration  prometheus.Histogram
	SourceFetch    *prometheus.HistogramVec
	SourceErrors   *prometheus.CounterVec
	AlertsActive   *prometheus.GaugeVec
	AlertsResolved prometheus.Counter
}

// NewMetrics creates and registers the engine collectors.
func NewMetrics() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		CyclesTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "healthwatch",
			Name:      "cycles_total",
			Help:      "Completed monitoring cycles by run status.",
		}, []string{"status"}),
		CycleDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "healthwatch",
			Name:      "cycle_duration_seconds",
			Help:      "Wall time of a monitoring cycle.",
			Buckets:   prometheus.DefBuckets,
		}),
		SourceFetch: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "healthwatch",
			Name:      "source_fetch_seconds",
			Help:      "Source adapter fetch latency.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"service"}),
		SourceErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "healthwatch",
			Name:      "source_errors_total",
			Help:      "Source adapter failures.",
		}, []string{"service"}),
		AlertsActive: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "healthwatch",
			Name:      "alerts_active",
			Help:      "Active alerts per service after the last cycle.",
		}, []string{"service"}),
		AlertsResolved: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "healthwatch",
			Name:      "alerts_resolved_total",
			Help:      "Alerts resolved by absence.",
		}),
	}
	m.registry.MustRegister(
		m.CyclesTotal,
		m.CycleDuration,
		m.SourceFetch,
		m.SourceErrors,
		m.AlertsActive,
		m.AlertsResolved,
	)
	return m
}

// Registry exposes the private registry for the /metrics handler.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

func (m *Metrics) observeSource(service models.ServiceName, elapsed time.Duration, failed bool) {
	if m == nil {
		return
	}
	m.SourceFetch.WithLabelValues(string(service)).Observe(elapsed.Seconds())
	if failed {
		m.SourceErrors.WithLabelValues(string(service)).Inc()
	}
}

func (m *Metrics) observeCycle(run models.RunRecord, active map[models.ServiceName]int) {
	if m == nil {
		return
	}
	m.CyclesTotal.WithLabelValues(string(run.Status)).Inc()
	m.CycleDuration.Observe(float64(run.DurationMs) / 1000)
	m.AlertsResolved.Add(float64(run.AlertsResolved))
	for service, n := range active {
		m.AlertsActive.WithLabelValues(string(service)).Set(float64(n))
	}
}
