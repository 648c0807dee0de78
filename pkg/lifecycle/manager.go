package lifecycle

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// Manager drives subscription status reconciliation. Both trigger paths (the
// periodic sweep and explicit payment confirmation) funnel through the same
// classification and advancement logic, so status semantics are identical
// regardless of how a record was touched.
type Manager struct {
	store  Store
	config Config
}

// NewManager creates a new lifecycle manager with the given store and configuration.
func NewManager(store Store, config Config) (*Manager, error) {
	if store == nil {
		return nil, ErrStoreRequired
	}

	// Set defaults
	if config.Logger == nil {
		config.Logger = &NoopLogger{}
	}
	if config.Metrics == nil {
		config.Metrics = &NoopMetrics{}
	}
	if config.Clock == nil {
		config.Clock = func() time.Time { return time.Now().UTC() }
	}
	if config.SweepBatchSize == 0 {
		config.SweepBatchSize = DefaultSweepBatchSize
	}
	if config.SweepBatchSize < 0 || config.SweepBatchSize > MaxSweepBatchSize {
		return nil, fmt.Errorf("sweep batch size %d out of range [1,%d]", config.SweepBatchSize, MaxSweepBatchSize)
	}

	return &Manager{
		store:  store,
		config: config,
	}, nil
}

// Reconcile recomputes one record's status and writes it back only when it
// changed. The due date is never advanced here; only the sweep pre-rolls dates.
func (m *Manager) Reconcile(ctx context.Context, ownerID, id string) (*Subscription, error) {
	sub, err := m.store.GetSubscription(ctx, ownerID, id)
	if err != nil {
		return nil, err
	}

	now := m.config.Clock()
	newStatus := Classify(sub.Status, sub.NextPayment, now)
	if newStatus == sub.Status {
		return sub, nil
	}

	st := newStatus
	if err := m.store.UpdateSubscription(ctx, ownerID, id, &SubscriptionUpdate{Status: &st}); err != nil {
		return nil, fmt.Errorf("persist reconciled status: %w", err)
	}
	m.config.Metrics.RecordStatusChange(sub.Status, newStatus)
	m.config.Logger.Debug("subscription reconciled",
		Field{Key: "owner", Value: ownerID},
		Field{Key: "subscription", Value: id},
		Field{Key: "from", Value: sub.Status.String()},
		Field{Key: "to", Value: newStatus.String()},
	)

	sub.Status = newStatus
	return sub, nil
}

// ListReconciled returns every subscription of one owner, reconciling each on
// the way out. Write failures on this path degrade to the stale stored status
// for that record; the listing itself still succeeds.
func (m *Manager) ListReconciled(ctx context.Context, ownerID string) ([]*Subscription, error) {
	subs, err := m.store.ListSubscriptions(ctx, ownerID)
	if err != nil {
		return nil, err
	}

	now := m.config.Clock()
	for _, sub := range subs {
		newStatus := Classify(sub.Status, sub.NextPayment, now)
		if newStatus == sub.Status {
			continue
		}
		st := newStatus
		if err := m.store.UpdateSubscription(ctx, ownerID, sub.ID, &SubscriptionUpdate{Status: &st}); err != nil {
			m.config.Logger.Warn("reconcile write failed",
				Field{Key: "owner", Value: ownerID},
				Field{Key: "subscription", Value: sub.ID},
				Field{Key: "error", Value: err.Error()},
			)
			continue
		}
		m.config.Metrics.RecordStatusChange(sub.Status, newStatus)
		sub.Status = newStatus
	}
	return subs, nil
}

// ConfirmPayment handles an explicit "I paid" action on an expired
// subscription. The due date is rolled across every elapsed billing period
// until it is strictly in the future, and the record is reactivated
// unconditionally; the classifier is not consulted again.
func (m *Manager) ConfirmPayment(ctx context.Context, ownerID, id string) (*Subscription, error) {
	sub, err := m.store.GetSubscription(ctx, ownerID, id)
	if err != nil {
		return nil, err
	}

	if sub.Status != StatusExpired {
		return nil, ErrNotExpired
	}
	if sub.NextPayment == nil {
		// Missing or unparseable: an undefined date cannot be advanced.
		return nil, ErrInvalidDueDate
	}

	now := m.config.Clock()
	due := AdvanceDueDate(*sub.NextPayment, sub.BillingFrequency, now)
	st := StatusActive
	update := &SubscriptionUpdate{Status: &st, NextPayment: &due}
	if err := m.store.UpdateSubscription(ctx, ownerID, id, update); err != nil {
		return nil, fmt.Errorf("persist payment confirmation: %w", err)
	}

	m.config.Metrics.RecordStatusChange(sub.Status, StatusActive)
	m.config.Metrics.RecordPaymentConfirmed(sub.BillingFrequency)
	m.config.Logger.Info("payment confirmed",
		Field{Key: "owner", Value: ownerID},
		Field{Key: "subscription", Value: id},
		Field{Key: "nextPayment", Value: due},
	)

	sub.Status = StatusActive
	sub.NextPayment = &due
	return sub, nil
}

// RecalculateAll sweeps every subscription across all accounts, recomputing
// statuses and committing writes in bounded-size batches. It returns the number
// of records actually mutated, not the number scanned.
//
// The current instant is captured once and reused for every record so the whole
// sweep sees one consistent cutover point. A failed batch is logged and skipped;
// later batches still commit, since each batch is an independent unit of
// idempotent work that the next scheduled run re-attempts.
func (m *Manager) RecalculateAll(ctx context.Context) (int, error) {
	var (
		now       = m.config.Clock()
		started   = time.Now()
		pending   []StatusUpdate
		processed int
		scanned   int
		flushErrs []error
	)

	flush := func() {
		if len(pending) == 0 {
			return
		}
		if err := m.store.ApplyStatusUpdates(ctx, pending); err != nil {
			m.config.Metrics.RecordSweepBatchError()
			m.config.Logger.Error("sweep batch commit failed",
				Field{Key: "writes", Value: len(pending)},
				Field{Key: "error", Value: err.Error()},
			)
			flushErrs = append(flushErrs, fmt.Errorf("batch of %d writes: %w", len(pending), err))
		} else {
			processed += len(pending)
		}
		pending = nil
	}

	err := m.store.ScanSubscriptions(ctx, func(sub *Subscription) error {
		scanned++

		// Cancelled is sticky; a record without a usable due date cannot
		// be classified. Both are left untouched.
		if sub.Status == StatusCancelled || sub.NextPayment == nil {
			return nil
		}

		newStatus := Classify(sub.Status, sub.NextPayment, now)

		// An expired record whose due date is already in the future was
		// pre-rolled by an earlier sweep and is waiting on payment
		// confirmation. The sweep never un-expires a record; that keeps
		// back-to-back runs write-free.
		if sub.Status == StatusExpired && newStatus != StatusExpired {
			return nil
		}

		var rolled *time.Time
		if newStatus == StatusExpired {
			// Newly or still expired: pre-roll the next occurrence so the
			// record is ready for confirmation. Only the sweep does this;
			// passive reconciliation never touches the due date.
			next := AdvanceDueDate(*sub.NextPayment, sub.BillingFrequency, now)
			rolled = &next
		}

		if newStatus == sub.Status && rolled == nil {
			return nil
		}

		pending = append(pending, StatusUpdate{
			OwnerID:        sub.OwnerID,
			SubscriptionID: sub.ID,
			Status:         newStatus,
			NextPayment:    rolled,
		})
		m.config.Metrics.RecordStatusChange(sub.Status, newStatus)

		if len(pending) >= m.config.SweepBatchSize {
			flush()
		}
		return nil
	})
	flush()

	m.config.Metrics.RecordSweep(scanned, processed, time.Since(started))
	m.config.Logger.Info("recalculation sweep finished",
		Field{Key: "scanned", Value: scanned},
		Field{Key: "mutated", Value: processed},
		Field{Key: "batchErrors", Value: len(flushErrs)},
	)

	if err != nil {
		return processed, errors.Join(fmt.Errorf("sweep scan: %w", err), errors.Join(flushErrs...))
	}
	return processed, errors.Join(flushErrs...)
}
