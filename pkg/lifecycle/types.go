package lifecycle

import (
	"context"
	"strings"
	"time"
)

// Status is the lifecycle state code stored on a subscription record.
type Status int

const (
	// StatusCancelled marks a subscription the user deactivated. It is sticky:
	// no automated process ever moves a record out of this state.
	StatusCancelled Status = 0
	// StatusActive marks a subscription whose due date is comfortably in the future.
	StatusActive Status = 1
	// StatusExpiring marks a subscription due within the near-term window.
	StatusExpiring Status = 2
	// StatusExpired marks a subscription whose due date has passed.
	StatusExpired Status = 3
)

// Valid reports whether s is one of the four known status codes.
func (s Status) Valid() bool {
	return s >= StatusCancelled && s <= StatusExpired
}

func (s Status) String() string {
	switch s {
	case StatusCancelled:
		return "cancelled"
	case StatusActive:
		return "active"
	case StatusExpiring:
		return "expiring"
	case StatusExpired:
		return "expired"
	default:
		return "unknown"
	}
}

// Frequency is the billing cadence of a subscription.
type Frequency string

const (
	// FrequencyMonthly bills once per calendar month.
	FrequencyMonthly Frequency = "monthly"
	// FrequencyYearly bills once per calendar year.
	FrequencyYearly Frequency = "yearly"
)

// ParseFrequency maps a stored frequency value to a Frequency.
// Anything that is not "yearly" is treated as monthly; that is a deliberate
// fallback for legacy records, not an error.
func ParseFrequency(raw string) Frequency {
	if strings.EqualFold(strings.TrimSpace(raw), string(FrequencyYearly)) {
		return FrequencyYearly
	}
	return FrequencyMonthly
}

// Subscription is one recurring charge tracked for an account.
type Subscription struct {
	ID      string
	OwnerID string

	Name             string
	Description      string
	Price            float64
	Currency         string
	SubscriptionType string
	BillingDay       int
	BillingFrequency Frequency
	PaymentMethod    string
	CardBank         string
	CardFinalNumbers string
	CreatedDate      time.Time

	// NextPayment is the normalized due date in UTC. It is nil when the stored
	// record has no due date, or when the stored value could not be parsed
	// (NextPaymentInvalid is set in that case).
	NextPayment        *time.Time
	NextPaymentInvalid bool

	Status Status
}

// Account is the profile record of a signed-up user.
type Account struct {
	UID         string
	Name        string
	Email       string
	CreatedAt   time.Time
	LastLoginAt time.Time
}

// SubscriptionUpdate is a partial update; nil fields are left untouched.
type SubscriptionUpdate struct {
	Name             *string
	Description      *string
	Price            *float64
	Currency         *string
	SubscriptionType *string
	BillingDay       *int
	BillingFrequency *Frequency
	NextPayment      *time.Time
	PaymentMethod    *string
	Status           *Status
	CardBank         *string
	CardFinalNumbers *string
}

// Empty reports whether the update carries no fields at all.
func (u *SubscriptionUpdate) Empty() bool {
	return u == nil || *u == SubscriptionUpdate{}
}

// StatusUpdate is one pending write produced by the recalculation sweep.
type StatusUpdate struct {
	OwnerID        string
	SubscriptionID string
	Status         Status
	// NextPayment is set when the sweep pre-rolled the due date; nil leaves the
	// stored due date untouched.
	NextPayment *time.Time
}

// Store is the persistence boundary for accounts and subscriptions.
// Subscriptions are keyed per owner; ScanSubscriptions crosses all owners.
type Store interface {
	// GetAccount retrieves an account profile by uid.
	// Returns ErrAccountNotFound when no profile exists.
	GetAccount(ctx context.Context, uid string) (*Account, error)

	// UpsertAccount merges the non-zero fields of acct into the stored profile,
	// creating it when absent. CreatedAt is first-write-wins: once stored it is
	// never overwritten.
	UpsertAccount(ctx context.Context, acct *Account) error

	// GetSubscription retrieves one subscription belonging to ownerID.
	// Returns ErrSubscriptionNotFound when no such record exists.
	GetSubscription(ctx context.Context, ownerID, id string) (*Subscription, error)

	// ListSubscriptions returns every subscription belonging to ownerID.
	ListSubscriptions(ctx context.Context, ownerID string) ([]*Subscription, error)

	// CreateSubscription stores a new record and returns its assigned id.
	CreateSubscription(ctx context.Context, sub *Subscription) (string, error)

	// UpdateSubscription applies the non-nil fields of update to one record.
	// Returns ErrSubscriptionNotFound when no such record exists.
	UpdateSubscription(ctx context.Context, ownerID, id string, update *SubscriptionUpdate) error

	// DeleteSubscription removes one record.
	// Returns ErrSubscriptionNotFound when no such record exists.
	DeleteSubscription(ctx context.Context, ownerID, id string) error

	// ScanSubscriptions visits every subscription across all accounts.
	// A non-nil error from fn aborts the scan and is returned unchanged.
	ScanSubscriptions(ctx context.Context, fn func(*Subscription) error) error

	// ApplyStatusUpdates commits the given writes as one batch. The caller caps
	// len(updates) at the backend's per-commit write ceiling.
	ApplyStatusUpdates(ctx context.Context, updates []StatusUpdate) error
}

const (
	// DefaultSweepBatchSize is the number of writes flushed per batch commit.
	DefaultSweepBatchSize = 400

	// MaxSweepBatchSize is the hard ceiling, matching Firestore's per-batch
	// write limit.
	MaxSweepBatchSize = 500
)

// Config holds Manager configuration.
type Config struct {
	// Logger is used for structured logging (default: NoopLogger).
	Logger Logger

	// Metrics is used for tracking lifecycle operations (default: NoopMetrics).
	Metrics Metrics

	// Clock returns the current instant; defaults to time.Now in UTC.
	// The sweep captures one instant at start and reuses it for every record.
	Clock func() time.Time

	// SweepBatchSize caps writes per batch commit (default: DefaultSweepBatchSize,
	// at most MaxSweepBatchSize).
	SweepBatchSize int
}
