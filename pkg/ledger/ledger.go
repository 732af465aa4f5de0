package ledger

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/lib/pq"

	"github.com/pixelmint/pixelmint/pkg/storage"
)

// Store provides credit ledger persistence backed by PostgreSQL
type Store struct {
	db *sql.DB
}

// NewStore creates a new ledger store
func NewStore(db *sql.DB) *Store {
	return &Store{db: db}
}

// DB returns the underlying database handle for read-only queries
func (s *Store) DB() *sql.DB {
	return s.db
}

// ApplyDelta records a credit movement and updates the running balance in the
// caller's transaction. sourceProvider/sourceEventID form the idempotency key
// together with reason; pass empty strings for movements without an event
// source (no idempotency enforced for those).
func (s *Store) ApplyDelta(ctx context.Context, q storage.Querier, userID string, delta int64, reason, sourceProvider, sourceEventID string) (*Transaction, error) {
	txn := &Transaction{
		UserID:         userID,
		Delta:          delta,
		Reason:         reason,
		SourceProvider: sourceProvider,
		SourceEventID:  sourceEventID,
	}

	insert := `
		INSERT INTO credit_transactions (user_id, delta, reason, source_provider, source_event_id)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING id, created_at
	`
	err := q.QueryRowContext(ctx, insert, userID, delta, reason, sourceProvider, sourceEventID).
		Scan(&txn.ID, &txn.CreatedAt)
	if err != nil {
		if pqErr, ok := err.(*pq.Error); ok && pqErr.Code == "23505" {
			return nil, ErrDuplicateApply
		}
		return nil, fmt.Errorf("failed to record credit transaction: %w", err)
	}

	// The WHERE guard keeps the balance non-negative; the table CHECK backs it up.
	update := `
		UPDATE users
		SET credits_balance = credits_balance + $2, updated_at = NOW()
		WHERE id = $1 AND credits_balance + $2 >= 0
	`
	result, err := q.ExecContext(ctx, update, userID, delta)
	if err != nil {
		return nil, fmt.Errorf("failed to update credit balance: %w", err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return nil, fmt.Errorf("failed to check balance update: %w", err)
	}
	if rows == 0 {
		return nil, ErrInsufficientCredits
	}

	return txn, nil
}

// Balance returns the user's current credit balance
func (s *Store) Balance(ctx context.Context, q storage.Querier, userID string) (int64, error) {
	var balance int64
	err := q.QueryRowContext(ctx, `SELECT credits_balance FROM users WHERE id = $1`, userID).Scan(&balance)
	if err == sql.ErrNoRows {
		return 0, fmt.Errorf("user %s not found", userID)
	}
	if err != nil {
		return 0, fmt.Errorf("failed to read credit balance: %w", err)
	}
	return balance, nil
}

// History returns the user's most recent transactions, newest first
func (s *Store) History(ctx context.Context, q storage.Querier, userID string, limit, offset int) ([]*Transaction, error) {
	if limit <= 0 || limit > 200 {
		limit = 50
	}
	if offset < 0 {
		offset = 0
	}

	query := `
		SELECT id, user_id, delta, reason, source_provider, source_event_id, created_at
		FROM credit_transactions
		WHERE user_id = $1
		ORDER BY created_at DESC, id DESC
		LIMIT $2 OFFSET $3
	`
	rows, err := q.QueryContext(ctx, query, userID, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("failed to list credit transactions: %w", err)
	}
	defer rows.Close()

	var txns []*Transaction
	for rows.Next() {
		txn := &Transaction{}
		if err := rows.Scan(&txn.ID, &txn.UserID, &txn.Delta, &txn.Reason,
			&txn.SourceProvider, &txn.SourceEventID, &txn.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan credit transaction: %w", err)
		}
		txns = append(txns, txn)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate credit transactions: %w", err)
	}
	return txns, nil
}

// ActiveUserIDs returns the IDs of users with at least one ledger entry,
// for reconciliation sweeps.
func (s *Store) ActiveUserIDs(ctx context.Context, q storage.Querier, limit int) ([]string, error) {
	if limit <= 0 || limit > 10000 {
		limit = 1000
	}

	query := `
		SELECT DISTINCT user_id
		FROM credit_transactions
		ORDER BY user_id
		LIMIT $1
	`
	rows, err := q.QueryContext(ctx, query, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list active users: %w", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("failed to scan user id: %w", err)
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate active users: %w", err)
	}
	return ids, nil
}

// VerifyBalance checks that the ledger sum matches the derived balance.
// Returns the agreed balance, or an error describing the drift.
func (s *Store) VerifyBalance(ctx context.Context, q storage.Querier, userID string) (int64, error) {
	query := `
		SELECT u.credits_balance,
		       COALESCE((SELECT SUM(delta) FROM credit_transactions WHERE user_id = u.id), 0)
		FROM users u
		WHERE u.id = $1
	`
	var balance, ledgerSum int64
	err := q.QueryRowContext(ctx, query, userID).Scan(&balance, &ledgerSum)
	if err == sql.ErrNoRows {
		return 0, fmt.Errorf("user %s not found", userID)
	}
	if err != nil {
		return 0, fmt.Errorf("failed to verify balance: %w", err)
	}
	if balance != ledgerSum {
		return 0, fmt.Errorf("balance drift for user %s: balance=%d ledger=%d", userID, balance, ledgerSum)
	}
	return balance, nil
}
