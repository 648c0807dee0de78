// Package postgres provides a PostgreSQL implementation of the lifecycle.Store
// interface. Sweep writes go through pgx.Batch so a chunk of status updates
// travels as a single pipelined round trip.
package postgres

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/sinuapp/sinu-api/pkg/lifecycle"
)

// Store implements lifecycle.Store using PostgreSQL
type Store struct {
	pool   *pgxpool.Pool
	config Config
}

// Config holds PostgreSQL store configuration
type Config struct {
	// ConnectionString is the PostgreSQL connection string
	ConnectionString string

	// Pool configuration
	MaxConns        int32
	MinConns        int32
	MaxConnLifetime time.Duration
	MaxConnIdleTime time.Duration
}

// DefaultConfig returns a Config with sensible defaults
func DefaultConfig() Config {
	return Config{
		MaxConns:        10,
		MinConns:        2,
		MaxConnLifetime: time.Hour,
		MaxConnIdleTime: 30 * time.Minute,
	}
}

// New creates a new PostgreSQL store adapter
func New(ctx context.Context, config Config) (*Store, error) {
	if config.ConnectionString == "" {
		return nil, fmt.Errorf("connection string is required")
	}

	poolConfig, err := pgxpool.ParseConfig(config.ConnectionString)
	if err != nil {
		return nil, fmt.Errorf("failed to parse connection string: %w", err)
	}

	// Apply pool settings
	if config.MaxConns > 0 {
		poolConfig.MaxConns = config.MaxConns
	}
	if config.MinConns > 0 {
		poolConfig.MinConns = config.MinConns
	}
	if config.MaxConnLifetime > 0 {
		poolConfig.MaxConnLifetime = config.MaxConnLifetime
	}
	if config.MaxConnIdleTime > 0 {
		poolConfig.MaxConnIdleTime = config.MaxConnIdleTime
	}

	pool, err := pgxpool.NewWithConfig(ctx, poolConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to create connection pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	return &Store{pool: pool, config: config}, nil
}

// Close closes the PostgreSQL connection pool
func (s *Store) Close() {
	if s.pool != nil {
		s.pool.Close()
	}
}

// EnsureSchema creates the tables if they do not exist yet. Deploys that
// manage schema externally can skip this.
func (s *Store) EnsureSchema(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, `
		CREATE TABLE IF NOT EXISTS accounts (
			uid           TEXT PRIMARY KEY,
			name          TEXT NOT NULL DEFAULT '',
			email         TEXT NOT NULL DEFAULT '',
			created_at    TIMESTAMPTZ,
			last_login_at TIMESTAMPTZ
		);

		CREATE TABLE IF NOT EXISTS subscriptions (
			id                 TEXT PRIMARY KEY,
			owner_id           TEXT NOT NULL,
			name               TEXT NOT NULL DEFAULT '',
			description        TEXT NOT NULL DEFAULT '',
			price              DOUBLE PRECISION NOT NULL DEFAULT 0,
			currency           TEXT NOT NULL DEFAULT '',
			subscription_type  TEXT NOT NULL DEFAULT '',
			billing_day        INT NOT NULL DEFAULT 0,
			billing_frequency  TEXT NOT NULL DEFAULT 'monthly',
			payment_method     TEXT NOT NULL DEFAULT '',
			card_bank          TEXT NOT NULL DEFAULT '',
			card_final_numbers TEXT NOT NULL DEFAULT '',
			created_date       TIMESTAMPTZ,
			next_payment       TIMESTAMPTZ,
			status             INT NOT NULL DEFAULT 1
		);

		CREATE INDEX IF NOT EXISTS idx_subscriptions_owner
			ON subscriptions (owner_id);
	`)
	if err != nil {
		return fmt.Errorf("failed to create schema: %w", err)
	}
	return nil
}

// GetAccount implements lifecycle.Store
func (s *Store) GetAccount(ctx context.Context, uid string) (*lifecycle.Account, error) {
	var acct lifecycle.Account
	var createdAt, lastLoginAt *time.Time

	err := s.pool.QueryRow(ctx,
		`SELECT uid, name, email, created_at, last_login_at
			FROM accounts WHERE uid = $1`,
		uid).Scan(&acct.UID, &acct.Name, &acct.Email, &createdAt, &lastLoginAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, lifecycle.ErrAccountNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get account: %w", err)
	}

	if createdAt != nil {
		acct.CreatedAt = createdAt.UTC()
	}
	if lastLoginAt != nil {
		acct.LastLoginAt = lastLoginAt.UTC()
	}
	return &acct, nil
}

// UpsertAccount implements lifecycle.Store. Zero-value fields of acct leave
// the stored column untouched.
func (s *Store) UpsertAccount(ctx context.Context, acct *lifecycle.Account) error {
	if acct == nil || acct.UID == "" {
		return fmt.Errorf("invalid account")
	}

	_, err := s.pool.Exec(ctx, `
		INSERT INTO accounts (uid, name, email, created_at, last_login_at)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (uid) DO UPDATE SET
			name          = COALESCE(NULLIF(EXCLUDED.name, ''), accounts.name),
			email         = COALESCE(NULLIF(EXCLUDED.email, ''), accounts.email),
			created_at    = COALESCE(accounts.created_at, EXCLUDED.created_at),
			last_login_at = COALESCE(EXCLUDED.last_login_at, accounts.last_login_at)`,
		acct.UID, acct.Name, acct.Email,
		nullableTime(acct.CreatedAt), nullableTime(acct.LastLoginAt))
	if err != nil {
		return fmt.Errorf("failed to upsert account: %w", err)
	}
	return nil
}

const subscriptionColumns = `id, owner_id, name, description, price, currency,
	subscription_type, billing_day, billing_frequency, payment_method,
	card_bank, card_final_numbers, created_date, next_payment, status`

// GetSubscription implements lifecycle.Store
func (s *Store) GetSubscription(ctx context.Context, ownerID, id string) (*lifecycle.Subscription, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+subscriptionColumns+` FROM subscriptions
			WHERE owner_id = $1 AND id = $2`,
		ownerID, id)

	sub, err := scanSubscription(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, lifecycle.ErrSubscriptionNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get subscription: %w", err)
	}
	return sub, nil
}

// ListSubscriptions implements lifecycle.Store
func (s *Store) ListSubscriptions(ctx context.Context, ownerID string) ([]*lifecycle.Subscription, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+subscriptionColumns+` FROM subscriptions
			WHERE owner_id = $1 ORDER BY created_date`,
		ownerID)
	if err != nil {
		return nil, fmt.Errorf("failed to list subscriptions: %w", err)
	}
	defer rows.Close()

	var out []*lifecycle.Subscription
	for rows.Next() {
		sub, err := scanSubscription(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan subscription: %w", err)
		}
		out = append(out, sub)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to list subscriptions: %w", err)
	}
	return out, nil
}

// CreateSubscription implements lifecycle.Store
func (s *Store) CreateSubscription(ctx context.Context, sub *lifecycle.Subscription) (string, error) {
	if sub == nil || sub.OwnerID == "" {
		return "", fmt.Errorf("invalid subscription")
	}

	id := uuid.NewString()
	_, err := s.pool.Exec(ctx, `
		INSERT INTO subscriptions (`+subscriptionColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15)`,
		id, sub.OwnerID, sub.Name, sub.Description, sub.Price, sub.Currency,
		sub.SubscriptionType, sub.BillingDay, string(sub.BillingFrequency),
		sub.PaymentMethod, sub.CardBank, sub.CardFinalNumbers,
		nullableTime(sub.CreatedDate), sub.NextPayment, int(sub.Status))
	if err != nil {
		return "", fmt.Errorf("failed to create subscription: %w", err)
	}
	return id, nil
}

// UpdateSubscription implements lifecycle.Store
func (s *Store) UpdateSubscription(ctx context.Context, ownerID, id string, update *lifecycle.SubscriptionUpdate) error {
	if update.Empty() {
		return lifecycle.ErrEmptyUpdate
	}

	set, args := updateClause(update)
	args = append(args, ownerID, id)
	query := fmt.Sprintf(
		`UPDATE subscriptions SET %s WHERE owner_id = $%d AND id = $%d`,
		set, len(args)-1, len(args))

	tag, err := s.pool.Exec(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("failed to update subscription: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return lifecycle.ErrSubscriptionNotFound
	}
	return nil
}

// DeleteSubscription implements lifecycle.Store
func (s *Store) DeleteSubscription(ctx context.Context, ownerID, id string) error {
	tag, err := s.pool.Exec(ctx,
		`DELETE FROM subscriptions WHERE owner_id = $1 AND id = $2`,
		ownerID, id)
	if err != nil {
		return fmt.Errorf("failed to delete subscription: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return lifecycle.ErrSubscriptionNotFound
	}
	return nil
}

// ScanSubscriptions implements lifecycle.Store
func (s *Store) ScanSubscriptions(ctx context.Context, fn func(*lifecycle.Subscription) error) error {
	rows, err := s.pool.Query(ctx,
		`SELECT `+subscriptionColumns+` FROM subscriptions ORDER BY owner_id, id`)
	if err != nil {
		return fmt.Errorf("failed to scan subscriptions: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		sub, err := scanSubscription(rows)
		if err != nil {
			return fmt.Errorf("failed to scan subscription: %w", err)
		}
		if err := fn(sub); err != nil {
			return err
		}
	}
	return rows.Err()
}

// ApplyStatusUpdates implements lifecycle.Store via one pipelined pgx.Batch.
func (s *Store) ApplyStatusUpdates(ctx context.Context, updates []lifecycle.StatusUpdate) error {
	if len(updates) == 0 {
		return nil
	}
	if len(updates) > lifecycle.MaxSweepBatchSize {
		return fmt.Errorf("batch of %d exceeds the %d-write ceiling", len(updates), lifecycle.MaxSweepBatchSize)
	}

	batch := &pgx.Batch{}
	for _, u := range updates {
		batch.Queue(
			`UPDATE subscriptions
				SET status = $1, next_payment = COALESCE($2, next_payment)
				WHERE owner_id = $3 AND id = $4`,
			int(u.Status), u.NextPayment, u.OwnerID, u.SubscriptionID)
	}

	results := s.pool.SendBatch(ctx, batch)
	defer results.Close()

	for range updates {
		if _, err := results.Exec(); err != nil {
			return fmt.Errorf("failed to apply status updates: %w", err)
		}
	}
	return nil
}

// scanSubscription decodes one row. The due date column is TIMESTAMPTZ, so it
// either scans cleanly or is NULL; the string-format salvage the document
// store needs does not apply here.
func scanSubscription(row pgx.Row) (*lifecycle.Subscription, error) {
	var sub lifecycle.Subscription
	var frequency string
	var statusCode int
	var createdDate, nextPayment *time.Time

	err := row.Scan(&sub.ID, &sub.OwnerID, &sub.Name, &sub.Description,
		&sub.Price, &sub.Currency, &sub.SubscriptionType, &sub.BillingDay,
		&frequency, &sub.PaymentMethod, &sub.CardBank, &sub.CardFinalNumbers,
		&createdDate, &nextPayment, &statusCode)
	if err != nil {
		return nil, err
	}

	st := lifecycle.Status(statusCode)
	if !st.Valid() {
		return nil, fmt.Errorf("subscription %s: status code %d out of range", sub.ID, statusCode)
	}
	sub.Status = st
	sub.BillingFrequency = lifecycle.ParseFrequency(frequency)
	if createdDate != nil {
		sub.CreatedDate = createdDate.UTC()
	}
	if nextPayment != nil {
		t := nextPayment.UTC()
		sub.NextPayment = &t
	}
	return &sub, nil
}

func updateClause(update *lifecycle.SubscriptionUpdate) (string, []interface{}) {
	var parts []string
	var args []interface{}
	add := func(column string, value interface{}) {
		args = append(args, value)
		parts = append(parts, fmt.Sprintf("%s = $%d", column, len(args)))
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
		add("subscription_type", *update.SubscriptionType)
	}
	if update.BillingDay != nil {
		add("billing_day", *update.BillingDay)
	}
	if update.BillingFrequency != nil {
		add("billing_frequency", string(*update.BillingFrequency))
	}
	if update.NextPayment != nil {
		add("next_payment", *update.NextPayment)
	}
	if update.PaymentMethod != nil {
		add("payment_method", *update.PaymentMethod)
	}
	if update.Status != nil {
		add("status", int(*update.Status))
	}
	if update.CardBank != nil {
		add("card_bank", *update.CardBank)
	}
	if update.CardFinalNumbers != nil {
		add("card_final_numbers", *update.CardFinalNumbers)
	}
	return strings.Join(parts, ", "), args
}

func nullableTime(t time.Time) *time.Time {
	if t.IsZero() {
		return nil
	}
	u := t.UTC()
	return &u
}
