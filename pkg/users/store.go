package users

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/hashicorp/golang-lru/v2/expirable"

	"github.com/pixelmint/pixelmint/pkg/storage"
)

const (
	cacheSize = 4096
	cacheTTL  = 30 * time.Second
)

// Store provides user persistence backed by PostgreSQL with a small
// in-process read cache for profile lookups.
type Store struct {
	db    *sql.DB
	cache *expirable.LRU[string, *User]
}

// NewStore creates a new user store
func NewStore(db *sql.DB) *Store {
	return &Store{
		db:    db,
		cache: expirable.NewLRU[string, *User](cacheSize, nil, cacheTTL),
	}
}

// Create inserts a new user. A zero ID is assigned a fresh UUID.
func (s *Store) Create(ctx context.Context, q storage.Querier, user *User) error {
	if user.ID == "" {
		user.ID = uuid.NewString()
	}

	query := `
		INSERT INTO users (id, email, name, avatar_url, credits_balance)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING created_at, updated_at
	`
	err := q.QueryRowContext(ctx, query, user.ID, user.Email, user.Name, user.AvatarURL, user.CreditsBalance).
		Scan(&user.CreatedAt, &user.UpdatedAt)
	if err != nil {
		return fmt.Errorf("failed to create user: %w", err)
	}
	return nil
}

// GetByID retrieves a user by ID, served from cache when fresh.
func (s *Store) GetByID(ctx context.Context, id string) (*User, error) {
	if user, ok := s.cache.Get(id); ok {
		return user, nil
	}

	user, err := s.getBy(ctx, "id", id)
	if err != nil {
		return nil, err
	}
	s.cache.Add(id, user)
	return user, nil
}

// GetByEmail retrieves a user by email. Not cached; only used on login.
func (s *Store) GetByEmail(ctx context.Context, email string) (*User, error) {
	return s.getBy(ctx, "email", email)
}

func (s *Store) getBy(ctx context.Context, column, value string) (*User, error) {
	query := fmt.Sprintf(`
		SELECT id, email, name, avatar_url, credits_balance, created_at, updated_at
		FROM users
		WHERE %s = $1
	`, column)

	user := &User{}
	err := s.db.QueryRowContext(ctx, query, value).Scan(
		&user.ID, &user.Email, &user.Name, &user.AvatarURL,
		&user.CreditsBalance, &user.CreatedAt, &user.UpdatedAt,
	)
	if err == sql.ErrNoRows {
		return nil, ErrUserNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get user: %w", err)
	}
	return user, nil
}

// Exists reports whether a user row exists, bypassing the cache.
func (s *Store) Exists(ctx context.Context, q storage.Querier, id string) (bool, error) {
	var one int
	err := q.QueryRowContext(ctx, `SELECT 1 FROM users WHERE id = $1`, id).Scan(&one)
	if err == sql.ErrNoRows {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("failed to check user existence: %w", err)
	}
	return true, nil
}

// LockForUpdate takes the per-user row lock. The lock is released when the
// enclosing transaction commits or rolls back.
func (s *Store) LockForUpdate(ctx context.Context, q storage.Querier, id string) error {
	var lockedID string
	err := q.QueryRowContext(ctx, `SELECT id FROM users WHERE id = $1 FOR UPDATE`, id).Scan(&lockedID)
	if err == sql.ErrNoRows {
		return ErrUserNotFound
	}
	if err != nil {
		return fmt.Errorf("failed to lock user row: %w", err)
	}
	return nil
}

// UpdateProfile updates mutable profile fields
func (s *Store) UpdateProfile(ctx context.Context, id, name, avatarURL string) error {
	query := `
		UPDATE users
		SET name = $2, avatar_url = $3, updated_at = NOW()
		WHERE id = $1
	`
	result, err := s.db.ExecContext(ctx, query, id, name, avatarURL)
	if err != nil {
		return fmt.Errorf("failed to update user profile: %w", err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to check update result: %w", err)
	}
	if rows == 0 {
		return ErrUserNotFound
	}

	s.Invalidate(id)
	return nil
}

// Invalidate drops a user from the read cache. Call after any write that
// changes the user row outside this store (ledger balance updates).
func (s *Store) Invalidate(id string) {
	s.cache.Remove(id)
}
