// Package metrics holds the Prometheus collectors shared by the report
// pipeline. A nil *Metrics is valid and records nothing.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "ospool_report"

type Metrics struct {
	reportsTotal    *prometheus.CounterVec
	reportDuration  prometheus.Histogram
	queryDuration   *prometheus.HistogramVec
	queryErrors     *prometheus.CounterVec
	refreshTotal    *prometheus.CounterVec
	referenceSize   *prometheus.GaugeVec
	unmappedKeys    *prometheus.GaugeVec
	jobsTotal       *prometheus.CounterVec
	publishFailures prometheus.Counter
}

func New(registerer prometheus.Registerer) *Metrics {
	reportsTotal := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "runs",
			Name:      "total",
		},
		[]string{"outcome"},
	)
	registerer.MustRegister(reportsTotal)

	reportDuration := prometheus.NewHistogram(prometheus.HistogramOpts{
		Namespace: namespace,
		Subsystem: "runs",
		Name:      "duration_seconds",
		Buckets:   []float64{10, 30, 60, 120, 300, 600, 1200, 1800},
	})
	registerer.MustRegister(reportDuration)

	queryDuration := prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "search",
			Name:      "query_duration_seconds",
			Buckets:   prometheus.ExponentialBuckets(0.05, 2, 12),
		},
		[]string{"query"},
	)
	registerer.MustRegister(queryDuration)

	queryErrors := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "search",
			Name:      "query_errors_total",
		},
		[]string{"query"},
	)
	registerer.MustRegister(queryErrors)

	refreshTotal := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "reference",
			Name:      "refresh_total",
		},
		[]string{"table", "outcome"},
	)
	registerer.MustRegister(refreshTotal)

	referenceSize := prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "reference",
			Name:      "entries",
		},
		[]string{"table"},
	)
	registerer.MustRegister(referenceSize)

	unmappedKeys := prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "runs",
			Name:      "unmapped_keys",
			Help:      "Unmapped keys found by the last successful run.",
		},
		[]string{"category"},
	)
	registerer.MustRegister(unmappedKeys)

	jobsTotal := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "jobs",
			Name:      "total",
		},
		[]string{"status"},
	)
	registerer.MustRegister(jobsTotal)

	publishFailures := prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: namespace, Subsystem: "runs", Name: "publish_failures_total",
	})
	registerer.MustRegister(publishFailures)

	return &Metrics{
		reportsTotal:    reportsTotal,
		reportDuration:  reportDuration,
		queryDuration:   queryDuration,
		queryErrors:     queryErrors,
		refreshTotal:    refreshTotal,
		referenceSize:   referenceSize,
		unmappedKeys:    unmappedKeys,
		jobsTotal:       jobsTotal,
		publishFailures: publishFailures,
	}
}

// ObserveRun records one finished report run.
func (m *Metrics) ObserveRun(outcome string, elapsed time.Duration) {
	if m == nil {
		return
	}
	m.reportsTotal.WithLabelValues(outcome).Inc()
	m.reportDuration.Observe(elapsed.Seconds())
}

func (m *Metrics) ObserveQuery(query string, elapsed time.Duration, err error) {
	if m == nil {
		return
	}
	m.queryDuration.WithLabelValues(query).Observe(elapsed.Seconds())
	if err != nil {
		m.queryErrors.WithLabelValues(query).Inc()
	}
}

// ObserveRefresh records a reference table refresh attempt and the table size
// after it.
func (m *Metrics) ObserveRefresh(table, outcome string, entries int) {
	if m == nil {
		return
	}
	m.refreshTotal.WithLabelValues(table, outcome).Inc()
	m.referenceSize.WithLabelValues(table).Set(float64(entries))
}

func (m *Metrics) SetUnmapped(category string, n int) {
	if m == nil {
		return
	}
	m.unmappedKeys.WithLabelValues(category).Set(float64(n))
}

func (m *Metrics) JobFinished(status string) {
	if m == nil {
		return
	}
	m.jobsTotal.WithLabelValues(status).Inc()
}

func (m *Metrics) PublishFailed() {
	if m == nil {
		return
	}
	m.publishFailures.Inc()
}
