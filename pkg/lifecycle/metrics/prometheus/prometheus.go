package prommetrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/sinuapp/sinu-api/pkg/lifecycle"
)

// Metrics implements lifecycle.Metrics using Prometheus.
type Metrics struct {
	sweepsTotal           prometheus.Counter
	sweepDuration         prometheus.Histogram
	sweepScanned          prometheus.Histogram
	sweepMutated          prometheus.Histogram
	sweepBatchErrorsTotal prometheus.Counter
	statusChangesTotal    *prometheus.CounterVec
	paymentsTotal         *prometheus.CounterVec
}

// NewMetrics creates a new Prometheus metrics implementation.
func NewMetrics(reg prometheus.Registerer, namespace string) *Metrics {
	factory := promauto.With(reg)

	return &Metrics{
		sweepsTotal: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "recalculation_sweeps_total",
			Help:      "Total number of recalculation sweeps.",
		}),

		sweepDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "recalculation_sweep_duration_seconds",
			Help:      "Duration of recalculation sweeps.",
			Buckets:   prometheus.DefBuckets,
		}),

		sweepScanned: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "recalculation_sweep_scanned_records",
			Help:      "Records scanned per sweep.",
			Buckets:   []float64{10, 100, 1000, 10000, 100000},
		}),

		sweepMutated: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "recalculation_sweep_mutated_records",
			Help:      "Records mutated per sweep.",
			Buckets:   []float64{1, 10, 100, 1000, 10000},
		}),

		sweepBatchErrorsTotal: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "recalculation_sweep_batch_errors_total",
			Help:      "Total number of failed batch commits during sweeps.",
		}),

		statusChangesTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "subscription_status_changes_total",
			Help:      "Total number of persisted status transitions.",
		}, []string{"from", "to"}),

		paymentsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "payment_confirmations_total",
			Help:      "Total number of confirmed payments.",
		}, []string{"frequency"}),
	}
}

// RecordSweep implements lifecycle.Metrics.
func (m *Metrics) RecordSweep(scanned, mutated int, duration time.Duration) {
	m.sweepsTotal.Inc()
	m.sweepDuration.Observe(duration.Seconds())
	m.sweepScanned.Observe(float64(scanned))
	m.sweepMutated.Observe(float64(mutated))
}

// RecordSweepBatchError implements lifecycle.Metrics.
func (m *Metrics) RecordSweepBatchError() {
	m.sweepBatchErrorsTotal.Inc()
}

// RecordStatusChange implements lifecycle.Metrics.
func (m *Metrics) RecordStatusChange(from, to lifecycle.Status) {
	m.statusChangesTotal.WithLabelValues(from.String(), to.String()).Inc()
}

// RecordPaymentConfirmed implements lifecycle.Metrics.
func (m *Metrics) RecordPaymentConfirmed(frequency lifecycle.Frequency) {
	m.paymentsTotal.WithLabelValues(string(frequency)).Inc()
}
