package lifecycle

import "errors"

var (
	// ErrAccountNotFound is returned when no profile exists for a uid
	ErrAccountNotFound = errors.New("account not found")

	// ErrSubscriptionNotFound is returned when a record does not exist for the owner
	ErrSubscriptionNotFound = errors.New("subscription not found")

	// ErrNotExpired is returned when confirming payment on a non-expired subscription
	ErrNotExpired = errors.New("subscription is not expired")

	// ErrInvalidDueDate is returned when a due date is missing or unparseable on a
	// path that cannot proceed without one
	ErrInvalidDueDate = errors.New("invalid due date")

	// ErrEmptyUpdate is returned when a partial update carries no fields
	ErrEmptyUpdate = errors.New("no fields to update")

	// ErrStoreRequired is returned when a Manager is built without a store
	ErrStoreRequired = errors.New("store is required")
)
