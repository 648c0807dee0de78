package lifecycle

import "time"

// Metrics defines the interface for tracking lifecycle operations.
type Metrics interface {
	// RecordSweep records one full recalculation sweep.
	RecordSweep(scanned, mutated int, duration time.Duration)

	// RecordSweepBatchError records one failed batch commit during a sweep.
	RecordSweepBatchError()

	// RecordStatusChange records a persisted status transition.
	RecordStatusChange(from, to Status)

	// RecordPaymentConfirmed records a successful payment confirmation.
	RecordPaymentConfirmed(frequency Frequency)
}

// NoopMetrics is a no-op implementation of the Metrics interface.
type NoopMetrics struct{}

func (n *NoopMetrics) RecordSweep(scanned, mutated int, duration time.Duration) {}
func (n *NoopMetrics) RecordSweepBatchError()                                   {}
func (n *NoopMetrics) RecordStatusChange(from, to Status)                       {}
func (n *NoopMetrics) RecordPaymentConfirmed(frequency Frequency)               {}
