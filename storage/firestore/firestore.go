// Package firestore provides a Firestore implementation of the lifecycle.Store
// interface. Subscriptions live in a per-account subcollection
// (accounts/{uid}/subscriptions/{id}); the recalculation sweep reads them back
// through a collection-group query and commits writes with WriteBatch, whose
// per-commit ceiling caps lifecycle.MaxSweepBatchSize.
package firestore

import (
	"context"
	"fmt"
	"math"
	"time"

	"cloud.google.com/go/firestore"
	"google.golang.org/api/iterator"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/sinuapp/sinu-api/pkg/lifecycle"
)

// Store implements lifecycle.Store using Google Cloud Firestore
type Store struct {
	client                  *firestore.Client
	accountsCollection      string
	subscriptionsCollection string
}

// Config holds Firestore store configuration
type Config struct {
	// AccountsCollection is the top-level collection of account profiles
	// Default: "accounts"
	AccountsCollection string

	// SubscriptionsCollection is the per-account subcollection of subscription
	// records. It is also the collection-group id used by the sweep scan, so it
	// must be unique to subscription documents within the project.
	// Default: "subscriptions"
	SubscriptionsCollection string
}

// New creates a new Firestore store adapter
func New(client *firestore.Client, config Config) (*Store, error) {
	if client == nil {
		return nil, fmt.Errorf("firestore client is required")
	}

	// Set defaults
	if config.AccountsCollection == "" {
		config.AccountsCollection = "accounts"
	}
	if config.SubscriptionsCollection == "" {
		config.SubscriptionsCollection = "subscriptions"
	}

	return &Store{
		client:                  client,
		accountsCollection:      config.AccountsCollection,
		subscriptionsCollection: config.SubscriptionsCollection,
	}, nil
}

// GetAccount implements lifecycle.Store
func (s *Store) GetAccount(ctx context.Context, uid string) (*lifecycle.Account, error) {
	snap, err := s.accountDoc(uid).Get(ctx)
	if err != nil {
		if status.Code(err) == codes.NotFound {
			return nil, lifecycle.ErrAccountNotFound
		}
		return nil, fmt.Errorf("failed to get account: %w", err)
	}

	data := snap.Data()
	return &lifecycle.Account{
		UID:         uid,
		Name:        getString(data, "name"),
		Email:       getString(data, "email"),
		CreatedAt:   getTime(data, "createdAt"),
		LastLoginAt: getTime(data, "lastLoginAt"),
	}, nil
}

// UpsertAccount implements lifecycle.Store. Only the non-zero fields of acct
// are merged into the stored profile.
func (s *Store) UpsertAccount(ctx context.Context, acct *lifecycle.Account) error {
	if acct == nil || acct.UID == "" {
		return fmt.Errorf("invalid account")
	}

	data := map[string]interface{}{
		"uid": acct.UID,
	}
	if acct.Name != "" {
		data["name"] = acct.Name
	}
	if acct.Email != "" {
		data["email"] = acct.Email
	}
	if !acct.CreatedAt.IsZero() {
		// CreatedAt is first-write-wins; only send it when the stored
		// profile does not have one yet.
		snap, err := s.accountDoc(acct.UID).Get(ctx)
		if err != nil || getTime(snap.Data(), "createdAt").IsZero() {
			data["createdAt"] = acct.CreatedAt.UTC().Format(time.RFC3339)
		}
	}
	if !acct.LastLoginAt.IsZero() {
		data["lastLoginAt"] = acct.LastLoginAt.UTC().Format(time.RFC3339)
	}

	if _, err := s.accountDoc(acct.UID).Set(ctx, data, firestore.MergeAll); err != nil {
		return fmt.Errorf("failed to upsert account: %w", err)
	}
	return nil
}

// GetSubscription implements lifecycle.Store
func (s *Store) GetSubscription(ctx context.Context, ownerID, id string) (*lifecycle.Subscription, error) {
	snap, err := s.subscriptionDoc(ownerID, id).Get(ctx)
	if err != nil {
		if status.Code(err) == codes.NotFound {
			return nil, lifecycle.ErrSubscriptionNotFound
		}
		return nil, fmt.Errorf("failed to get subscription: %w", err)
	}
	return s.decodeSubscription(snap)
}

// ListSubscriptions implements lifecycle.Store
func (s *Store) ListSubscriptions(ctx context.Context, ownerID string) ([]*lifecycle.Subscription, error) {
	iter := s.subscriptionsCol(ownerID).Documents(ctx)
	defer iter.Stop()

	var out []*lifecycle.Subscription
	for {
		snap, err := iter.Next()
		if err == iterator.Done {
			return out, nil
		}
		if err != nil {
			return nil, fmt.Errorf("failed to list subscriptions: %w", err)
		}
		sub, err := s.decodeSubscription(snap)
		if err != nil {
			// Malformed documents degrade to absence from the listing.
			continue
		}
		out = append(out, sub)
	}
}

// CreateSubscription implements lifecycle.Store
func (s *Store) CreateSubscription(ctx context.Context, sub *lifecycle.Subscription) (string, error) {
	if sub == nil || sub.OwnerID == "" {
		return "", fmt.Errorf("invalid subscription")
	}

	doc := s.subscriptionsCol(sub.OwnerID).NewDoc()
	data := map[string]interface{}{
		"user_id":          sub.OwnerID,
		"name":             sub.Name,
		"description":      sub.Description,
		"price":            sub.Price,
		"currency":         sub.Currency,
		"subscriptionType": sub.SubscriptionType,
		"billingDay":       sub.BillingDay,
		"billingFrequency": string(sub.BillingFrequency),
		"paymentMethod":    sub.PaymentMethod,
		"status":           int(sub.Status),
		"cardBank":         sub.CardBank,
		"cardFinalNumbers": sub.CardFinalNumbers,
		"createdDate":      sub.CreatedDate.UTC().Format(time.RFC3339),
	}
	if sub.NextPayment != nil {
		data["nextPayment"] = sub.NextPayment.UTC().Format(time.RFC3339Nano)
	}

	if _, err := doc.Create(ctx, data); err != nil {
		return "", fmt.Errorf("failed to create subscription: %w", err)
	}
	return doc.ID, nil
}

// UpdateSubscription implements lifecycle.Store
func (s *Store) UpdateSubscription(ctx context.Context, ownerID, id string, update *lifecycle.SubscriptionUpdate) error {
	if update.Empty() {
		return lifecycle.ErrEmptyUpdate
	}

	_, err := s.subscriptionDoc(ownerID, id).Update(ctx, updatesFor(update))
	if err != nil {
		if status.Code(err) == codes.NotFound {
			return lifecycle.ErrSubscriptionNotFound
		}
		return fmt.Errorf("failed to update subscription: %w", err)
	}
	return nil
}

// DeleteSubscription implements lifecycle.Store
func (s *Store) DeleteSubscription(ctx context.Context, ownerID, id string) error {
	doc := s.subscriptionDoc(ownerID, id)

	// Delete on a missing document is a silent success in Firestore; the API
	// contract wants a not-found instead.
	snap, err := doc.Get(ctx)
	if err != nil {
		if status.Code(err) == codes.NotFound {
			return lifecycle.ErrSubscriptionNotFound
		}
		return fmt.Errorf("failed to get subscription: %w", err)
	}
	if !snap.Exists() {
		return lifecycle.ErrSubscriptionNotFound
	}

	if _, err := doc.Delete(ctx); err != nil {
		return fmt.Errorf("failed to delete subscription: %w", err)
	}
	return nil
}

// ScanSubscriptions implements lifecycle.Store using a collection-group query,
// so every account's subscriptions are visited in one flattened scan.
func (s *Store) ScanSubscriptions(ctx context.Context, fn func(*lifecycle.Subscription) error) error {
	iter := s.client.CollectionGroup(s.subscriptionsCollection).Documents(ctx)
	defer iter.Stop()

	for {
		snap, err := iter.Next()
		if err == iterator.Done {
			return nil
		}
		if err != nil {
			return fmt.Errorf("collection group scan: %w", err)
		}
		sub, err := s.decodeSubscription(snap)
		if err != nil {
			// Documents the sweep cannot make sense of are left untouched.
			continue
		}
		if err := fn(sub); err != nil {
			return err
		}
	}
}

// ApplyStatusUpdates implements lifecycle.Store with one WriteBatch commit.
func (s *Store) ApplyStatusUpdates(ctx context.Context, updates []lifecycle.StatusUpdate) error {
	if len(updates) == 0 {
		return nil
	}
	if len(updates) > lifecycle.MaxSweepBatchSize {
		return fmt.Errorf("batch of %d exceeds the %d-write commit ceiling", len(updates), lifecycle.MaxSweepBatchSize)
	}

	batch := s.client.Batch()
	for _, u := range updates {
		fields := []firestore.Update{
			{Path: "status", Value: int(u.Status)},
		}
		if u.NextPayment != nil {
			fields = append(fields, firestore.Update{
				Path:  "nextPayment",
				Value: u.NextPayment.UTC().Format(time.RFC3339Nano),
			})
		}
		batch.Update(s.subscriptionDoc(u.OwnerID, u.SubscriptionID), fields)
	}

	if _, err := batch.Commit(ctx); err != nil {
		return fmt.Errorf("batch commit of %d writes: %w", len(updates), err)
	}
	return nil
}

func (s *Store) accountDoc(uid string) *firestore.DocumentRef {
	return s.client.Collection(s.accountsCollection).Doc(uid)
}

func (s *Store) subscriptionsCol(ownerID string) *firestore.CollectionRef {
	return s.accountDoc(ownerID).Collection(s.subscriptionsCollection)
}

func (s *Store) subscriptionDoc(ownerID, id string) *firestore.DocumentRef {
	return s.subscriptionsCol(ownerID).Doc(id)
}

// decodeSubscription validates a document once, at the store boundary. The due
// date may be stored as a native timestamp or an ISO-8601 string; an
// unparseable value is flagged rather than failing the read, since the
// reconciliation paths degrade to "leave status unchanged".
func (s *Store) decodeSubscription(snap *firestore.DocumentSnapshot) (*lifecycle.Subscription, error) {
	data := snap.Data()

	st := lifecycle.Status(getInt(data, "status"))
	if !st.Valid() {
		return nil, fmt.Errorf("document %s: status code %d out of range", snap.Ref.Path, int(st))
	}

	ownerID := getString(data, "user_id")
	if ownerID == "" && snap.Ref.Parent != nil && snap.Ref.Parent.Parent != nil {
		ownerID = snap.Ref.Parent.Parent.ID
	}

	sub := &lifecycle.Subscription{
		ID:               snap.Ref.ID,
		OwnerID:          ownerID,
		Name:             getString(data, "name"),
		Description:      getString(data, "description"),
		Price:            getFloat(data, "price"),
		Currency:         getString(data, "currency"),
		SubscriptionType: getString(data, "subscriptionType"),
		BillingDay:       getInt(data, "billingDay"),
		BillingFrequency: lifecycle.ParseFrequency(getString(data, "billingFrequency")),
		PaymentMethod:    getString(data, "paymentMethod"),
		CardBank:         getString(data, "cardBank"),
		CardFinalNumbers: getString(data, "cardFinalNumbers"),
		CreatedDate:      getTime(data, "createdDate"),
		Status:           st,
	}

	due, err := lifecycle.NormalizeDueDate(data["nextPayment"])
	if err != nil {
		sub.NextPaymentInvalid = true
	} else {
		sub.NextPayment = due
	}

	return sub, nil
}

func updatesFor(update *lifecycle.SubscriptionUpdate) []firestore.Update {
	var out []firestore.Update
	add := func(path string, value interface{}) {
		out = append(out, firestore.Update{Path: path, Value: value})
	}

	if update.Name != nil {
		add("name", *update.Name)
	}
	if update.Description != nil {
		add("description", *update.Description)
	}
	if update.Price != nil {
		add("price", *update.Price)
	}
	if update.Currency != nil {
		add("currency", *update.Currency)
	}
	if update.SubscriptionType != nil {
		add("subscriptionType", *update.SubscriptionType)
	}
	if update.BillingDay != nil {
		add("billingDay", *update.BillingDay)
	}
	if update.BillingFrequency != nil {
		add("billingFrequency", string(*update.BillingFrequency))
	}
	if update.NextPayment != nil {
		add("nextPayment", update.NextPayment.UTC().Format(time.RFC3339Nano))
	}
	if update.PaymentMethod != nil {
		add("paymentMethod", *update.PaymentMethod)
	}
	if update.Status != nil {
		add("status", int(*update.Status))
	}
	if update.CardBank != nil {
		add("cardBank", *update.CardBank)
	}
	if update.CardFinalNumbers != nil {
		add("cardFinalNumbers", *update.CardFinalNumbers)
	}
	return out
}

// Helper functions for type conversion from Firestore data

func getString(data map[string]interface{}, key string) string {
	if v, ok := data[key].(string); ok {
		return v
	}
	return ""
}

func getInt(data map[string]interface{}, key string) int {
	switch v := data[key].(type) {
	case int:
		return v
	case int64:
		return int(v)
	case float64:
		return int(math.Round(v))
	default:
		return 0
	}
}

func getFloat(data map[string]interface{}, key string) float64 {
	switch v := data[key].(type) {
	case float64:
		return v
	case int64:
		return float64(v)
	case int:
		return float64(v)
	default:
		return 0
	}
}

func getTime(data map[string]interface{}, key string) time.Time {
	switch v := data[key].(type) {
	case time.Time:
		return v
	case string:
		if t, err := time.Parse(time.RFC3339, v); err == nil {
			return t
		}
	}
	return time.Time{}
}
