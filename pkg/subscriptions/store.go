package subscriptions

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/pixelmint/pixelmint/pkg/storage"
)

const subscriptionColumns = `id, user_id, provider, provider_subscription_id, plan, status,
	       current_period_start, current_period_end, ended_at, created_at, updated_at`

// Store provides subscription persistence backed by PostgreSQL
type Store struct {
	db *sql.DB
}

// NewStore creates a new subscription store
func NewStore(db *sql.DB) *Store {
	return &Store{db: db}
}

// DB returns the underlying database handle for read-only queries
func (s *Store) DB() *sql.DB {
	return s.db
}

// GetBlockingSubscription returns the subscription currently blocking a new
// checkout for the user, or (nil, nil) when none. A row blocks while it is
// open and either carries a blocking status or its paid period has not lapsed.
func (s *Store) GetBlockingSubscription(ctx context.Context, q storage.Querier, userID string) (*Subscription, error) {
	query := fmt.Sprintf(`
		SELECT %s
		FROM subscriptions
		WHERE user_id = $1
		  AND ended_at IS NULL
		  AND (status IN ('active', 'trialing', 'past_due') OR current_period_end > NOW())
		ORDER BY current_period_end DESC NULLS FIRST
		LIMIT 1
	`, subscriptionColumns)

	sub, err := scanSubscription(q.QueryRowContext(ctx, query, userID))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get blocking subscription: %w", err)
	}
	return sub, nil
}

// Create inserts a new subscription row
func (s *Store) Create(ctx context.Context, q storage.Querier, sub *Subscription) error {
	if !sub.Status.Valid() {
		return fmt.Errorf("invalid subscription status: %s", sub.Status)
	}

	query := `
		INSERT INTO subscriptions (user_id, provider, provider_subscription_id, plan, status,
		                           current_period_start, current_period_end)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		RETURNING id, created_at, updated_at
	`
	err := q.QueryRowContext(ctx, query,
		sub.UserID, sub.Provider, sub.ProviderSubscriptionID, sub.Plan, sub.Status,
		sub.CurrentPeriodStart, sub.CurrentPeriodEnd,
	).Scan(&sub.ID, &sub.CreatedAt, &sub.UpdatedAt)
	if err != nil {
		return fmt.Errorf("failed to create subscription: %w", err)
	}
	return nil
}

// ExtendPeriod advances the billing period on renewal
func (s *Store) ExtendPeriod(ctx context.Context, q storage.Querier, id int64, periodStart, periodEnd time.Time) error {
	query := `
		UPDATE subscriptions
		SET current_period_start = $2, current_period_end = $3, status = 'active', updated_at = NOW()
		WHERE id = $1 AND ended_at IS NULL
	`
	result, err := q.ExecContext(ctx, query, id, periodStart, periodEnd)
	if err != nil {
		return fmt.Errorf("failed to extend subscription period: %w", err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to check extend result: %w", err)
	}
	if rows == 0 {
		return ErrSubscriptionNotFound
	}
	return nil
}

// End closes a subscription, setting ended_at and the terminal status
func (s *Store) End(ctx context.Context, q storage.Querier, id int64, status Status, endedAt time.Time) error {
	if !status.Valid() {
		return fmt.Errorf("invalid subscription status: %s", status)
	}

	query := `
		UPDATE subscriptions
		SET status = $2, ended_at = $3, updated_at = NOW()
		WHERE id = $1 AND ended_at IS NULL
	`
	result, err := q.ExecContext(ctx, query, id, status, endedAt)
	if err != nil {
		return fmt.Errorf("failed to end subscription: %w", err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to check end result: %w", err)
	}
	if rows == 0 {
		return ErrSubscriptionNotFound
	}
	return nil
}

// GetByProviderID retrieves the open subscription for a provider subscription id
func (s *Store) GetByProviderID(ctx context.Context, q storage.Querier, provider, providerSubscriptionID string) (*Subscription, error) {
	query := fmt.Sprintf(`
		SELECT %s
		FROM subscriptions
		WHERE provider = $1 AND provider_subscription_id = $2 AND ended_at IS NULL
		ORDER BY created_at DESC
		LIMIT 1
	`, subscriptionColumns)

	sub, err := scanSubscription(q.QueryRowContext(ctx, query, provider, providerSubscriptionID))
	if err == sql.ErrNoRows {
		return nil, ErrSubscriptionNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get subscription by provider id: %w", err)
	}
	return sub, nil
}

// SweepLapsed closes open non-blocking subscriptions whose paid period lapsed
// before the cutoff. Safety net only; providers normally send an expired event.
func (s *Store) SweepLapsed(ctx context.Context, cutoff time.Time) (int64, error) {
	query := `
		UPDATE subscriptions
		SET status = 'expired', ended_at = NOW(), updated_at = NOW()
		WHERE ended_at IS NULL
		  AND status NOT IN ('active', 'trialing', 'past_due')
		  AND current_period_end IS NOT NULL
		  AND current_period_end < $1
	`
	result, err := s.db.ExecContext(ctx, query, cutoff)
	if err != nil {
		return 0, fmt.Errorf("failed to sweep lapsed subscriptions: %w", err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to count swept subscriptions: %w", err)
	}
	return rows, nil
}

// CountBlocking returns the number of currently blocking subscriptions.
// Feeds the active subscriptions gauge.
func (s *Store) CountBlocking(ctx context.Context) (int64, error) {
	query := `
		SELECT COUNT(*)
		FROM subscriptions
		WHERE ended_at IS NULL
		  AND (status IN ('active', 'trialing', 'past_due') OR current_period_end > NOW())
	`
	var count int64
	if err := s.db.QueryRowContext(ctx, query).Scan(&count); err != nil {
		return 0, fmt.Errorf("failed to count blocking subscriptions: %w", err)
	}
	return count, nil
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanSubscription(row rowScanner) (*Subscription, error) {
	sub := &Subscription{}
	err := row.Scan(
		&sub.ID, &sub.UserID, &sub.Provider, &sub.ProviderSubscriptionID,
		&sub.Plan, &sub.Status, &sub.CurrentPeriodStart, &sub.CurrentPeriodEnd,
		&sub.EndedAt, &sub.CreatedAt, &sub.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return sub, nil
}
