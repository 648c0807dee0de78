// Package memory provides an in-memory implementation of the lifecycle.Store
// interface. This implementation is primarily intended for testing and
// development.
package memory

import (
	"context"
	"fmt"
	"sync"

	"github.com/google/uuid"

	"github.com/sinuapp/sinu-api/pkg/lifecycle"
)

// Store implements lifecycle.Store using in-memory maps
type Store struct {
	mu       sync.RWMutex
	accounts map[string]*lifecycle.Account
	subs     map[string]map[string]*lifecycle.Subscription // ownerID -> id -> record
}

// New creates a new in-memory store
func New() *Store {
	return &Store{
		accounts: make(map[string]*lifecycle.Account),
		subs:     make(map[string]map[string]*lifecycle.Subscription),
	}
}

// GetAccount implements lifecycle.Store
func (s *Store) GetAccount(ctx context.Context, uid string) (*lifecycle.Account, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	acct, ok := s.accounts[uid]
	if !ok {
		return nil, lifecycle.ErrAccountNotFound
	}

	// Return a copy to prevent external mutations
	cp := *acct
	return &cp, nil
}

// UpsertAccount implements lifecycle.Store
func (s *Store) UpsertAccount(ctx context.Context, acct *lifecycle.Account) error {
	if acct == nil || acct.UID == "" {
		return fmt.Errorf("invalid account")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	existing, ok := s.accounts[acct.UID]
	if !ok {
		cp := *acct
		s.accounts[acct.UID] = &cp
		return nil
	}

	// Merge non-zero fields into the stored profile
	if acct.Name != "" {
		existing.Name = acct.Name
	}
	if acct.Email != "" {
		existing.Email = acct.Email
	}
	if existing.CreatedAt.IsZero() {
		existing.CreatedAt = acct.CreatedAt
	}
	if !acct.LastLoginAt.IsZero() {
		existing.LastLoginAt = acct.LastLoginAt
	}
	return nil
}

// GetSubscription implements lifecycle.Store
func (s *Store) GetSubscription(ctx context.Context, ownerID, id string) (*lifecycle.Subscription, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	sub, ok := s.subs[ownerID][id]
	if !ok {
		return nil, lifecycle.ErrSubscriptionNotFound
	}
	return copySubscription(sub), nil
}

// ListSubscriptions implements lifecycle.Store
func (s *Store) ListSubscriptions(ctx context.Context, ownerID string) ([]*lifecycle.Subscription, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]*lifecycle.Subscription, 0, len(s.subs[ownerID]))
	for _, sub := range s.subs[ownerID] {
		out = append(out, copySubscription(sub))
	}
	return out, nil
}

// CreateSubscription implements lifecycle.Store
func (s *Store) CreateSubscription(ctx context.Context, sub *lifecycle.Subscription) (string, error) {
	if sub == nil || sub.OwnerID == "" {
		return "", fmt.Errorf("invalid subscription")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	cp := copySubscription(sub)
	if cp.ID == "" {
		cp.ID = uuid.NewString()
	}
	if s.subs[cp.OwnerID] == nil {
		s.subs[cp.OwnerID] = make(map[string]*lifecycle.Subscription)
	}
	s.subs[cp.OwnerID][cp.ID] = cp
	return cp.ID, nil
}

// UpdateSubscription implements lifecycle.Store
func (s *Store) UpdateSubscription(ctx context.Context, ownerID, id string, update *lifecycle.SubscriptionUpdate) error {
	if update.Empty() {
		return lifecycle.ErrEmptyUpdate
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	sub, ok := s.subs[ownerID][id]
	if !ok {
		return lifecycle.ErrSubscriptionNotFound
	}
	applyUpdate(sub, update)
	return nil
}

// DeleteSubscription implements lifecycle.Store
func (s *Store) DeleteSubscription(ctx context.Context, ownerID, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.subs[ownerID][id]; !ok {
		return lifecycle.ErrSubscriptionNotFound
	}
	delete(s.subs[ownerID], id)
	return nil
}

// ScanSubscriptions implements lifecycle.Store
func (s *Store) ScanSubscriptions(ctx context.Context, fn func(*lifecycle.Subscription) error) error {
	// Snapshot under the read lock so fn can write back through the store.
	s.mu.RLock()
	var snapshot []*lifecycle.Subscription
	for _, owned := range s.subs {
		for _, sub := range owned {
			snapshot = append(snapshot, copySubscription(sub))
		}
	}
	s.mu.RUnlock()

	for _, sub := range snapshot {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := fn(sub); err != nil {
			return err
		}
	}
	return nil
}

// ApplyStatusUpdates implements lifecycle.Store
func (s *Store) ApplyStatusUpdates(ctx context.Context, updates []lifecycle.StatusUpdate) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, u := range updates {
		sub, ok := s.subs[u.OwnerID][u.SubscriptionID]
		if !ok {
			return fmt.Errorf("apply status update: %w", lifecycle.ErrSubscriptionNotFound)
		}
		sub.Status = u.Status
		if u.NextPayment != nil {
			due := u.NextPayment.UTC()
			sub.NextPayment = &due
		}
	}
	return nil
}

func copySubscription(sub *lifecycle.Subscription) *lifecycle.Subscription {
	cp := *sub
	if sub.NextPayment != nil {
		due := *sub.NextPayment
		cp.NextPayment = &due
	}
	return &cp
}

func applyUpdate(sub *lifecycle.Subscription, update *lifecycle.SubscriptionUpdate) {
	if update.Name != nil {
		sub.Name = *update.Name
	}
	if update.Description != nil {
		sub.Description = *update.Description
	}
	if update.Price != nil {
		sub.Price = *update.Price
	}
	if update.Currency != nil {
		sub.Currency = *update.Currency
	}
	if update.SubscriptionType != nil {
		sub.SubscriptionType = *update.SubscriptionType
	}
	if update.BillingDay != nil {
		sub.BillingDay = *update.BillingDay
	}
	if update.BillingFrequency != nil {
		sub.BillingFrequency = *update.BillingFrequency
	}
	if update.NextPayment != nil {
		due := update.NextPayment.UTC()
		sub.NextPayment = &due
		sub.NextPaymentInvalid = false
	}
	if update.PaymentMethod != nil {
		sub.PaymentMethod = *update.PaymentMethod
	}
	if update.Status != nil {
		sub.Status = *update.Status
	}
	if update.CardBank != nil {
		sub.CardBank = *update.CardBank
	}
	if update.CardFinalNumbers != nil {
		sub.CardFinalNumbers = *update.CardFinalNumbers
	}
}
