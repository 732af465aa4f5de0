package auth

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

// Session errors
var (
	ErrSessionNotFound = errors.New("session not found")
	ErrSessionExpired  = errors.New("session expired")
	ErrSessionRevoked  = errors.New("session revoked")
)

// Session is an issued credential resolving to a user
type Session struct {
	ID          int64
	UserID      string
	TokenPrefix string
	ExpiresAt   *time.Time
	RevokedAt   *time.Time
	LastUsedAt  *time.Time
	CreatedAt   time.Time
}

// SessionStore issues and validates session tokens backed by the sessions
// table. Plaintext tokens are never stored.
type SessionStore struct {
	db        *sql.DB
	generator *TokenGenerator
	ttl       time.Duration
	now       func() time.Time
}

// NewSessionStore creates a session store. ttl bounds session lifetime; zero
// means sessions never expire.
func NewSessionStore(db *sql.DB, ttl time.Duration) *SessionStore {
	return &SessionStore{
		db:        db,
		generator: NewTokenGenerator(),
		ttl:       ttl,
		now:       time.Now,
	}
}

// Create issues a new session for the user. The plaintext token is returned
// exactly once.
func (s *SessionStore) Create(ctx context.Context, userID string) (*Session, string, error) {
	token, tokenHash, tokenPrefix, err := s.generator.GenerateToken()
	if err != nil {
		return nil, "", fmt.Errorf("failed to generate session token: %w", err)
	}

	var expiresAt *time.Time
	if s.ttl > 0 {
		t := s.now().Add(s.ttl)
		expiresAt = &t
	}

	session := &Session{
		UserID:      userID,
		TokenPrefix: tokenPrefix,
		ExpiresAt:   expiresAt,
	}
	query := `
		INSERT INTO sessions (user_id, token_hash, token_prefix, expires_at)
		VALUES ($1, $2, $3, $4)
		RETURNING id, created_at
	`
	err = s.db.QueryRowContext(ctx, query, userID, tokenHash, tokenPrefix, expiresAt).
		Scan(&session.ID, &session.CreatedAt)
	if err != nil {
		return nil, "", fmt.Errorf("failed to create session: %w", err)
	}

	return session, token, nil
}

// Validate resolves a plaintext token to its session, checking expiry and
// revocation and touching last_used_at.
func (s *SessionStore) Validate(ctx context.Context, token string) (*Session, error) {
	if err := s.generator.ValidateTokenFormat(token); err != nil {
		return nil, fmt.Errorf("invalid token format: %w", err)
	}

	query := `
		SELECT id, user_id, token_prefix, expires_at, revoked_at, last_used_at, created_at
		FROM sessions
		WHERE token_hash = $1
	`
	session := &Session{}
	err := s.db.QueryRowContext(ctx, query, s.generator.HashToken(token)).Scan(
		&session.ID, &session.UserID, &session.TokenPrefix,
		&session.ExpiresAt, &session.RevokedAt, &session.LastUsedAt, &session.CreatedAt,
	)
	if err == sql.ErrNoRows {
		return nil, ErrSessionNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to look up session: %w", err)
	}

	if session.RevokedAt != nil {
		return nil, ErrSessionRevoked
	}
	if session.ExpiresAt != nil && session.ExpiresAt.Before(s.now()) {
		return nil, ErrSessionExpired
	}

	// Best-effort; validation does not fail on a touch error
	if _, err := s.db.ExecContext(ctx,
		`UPDATE sessions SET last_used_at = NOW() WHERE id = $1`, session.ID); err != nil {
		return session, nil
	}
	return session, nil
}

// Revoke invalidates a session by id
func (s *SessionStore) Revoke(ctx context.Context, id int64) error {
	result, err := s.db.ExecContext(ctx,
		`UPDATE sessions SET revoked_at = NOW() WHERE id = $1 AND revoked_at IS NULL`, id)
	if err != nil {
		return fmt.Errorf("failed to revoke session: %w", err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to check revoke result: %w", err)
	}
	if rows == 0 {
		return ErrSessionNotFound
	}
	return nil
}

// RevokeAllForUser invalidates every open session for a user
func (s *SessionStore) RevokeAllForUser(ctx context.Context, userID string) (int64, error) {
	result, err := s.db.ExecContext(ctx,
		`UPDATE sessions SET revoked_at = NOW() WHERE user_id = $1 AND revoked_at IS NULL`, userID)
	if err != nil {
		return 0, fmt.Errorf("failed to revoke user sessions: %w", err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to count revoked sessions: %w", err)
	}
	return rows, nil
}

// CleanupExpired deletes sessions past their expiry. Returns the number of
// deleted rows.
func (s *SessionStore) CleanupExpired(ctx context.Context) (int64, error) {
	result, err := s.db.ExecContext(ctx,
		`DELETE FROM sessions WHERE expires_at IS NOT NULL AND expires_at < NOW()`)
	if err != nil {
		return 0, fmt.Errorf("failed to clean up expired sessions: %w", err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to count cleaned sessions: %w", err)
	}
	return rows, nil
}
