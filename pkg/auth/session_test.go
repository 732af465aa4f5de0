package auth

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
)

var sessionTestNow = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func newTestSessionStore(t *testing.T, ttl time.Duration) (*SessionStore, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherRegexp))
	if err != nil {
		t.Fatalf("Failed to create mock db: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	store := NewSessionStore(db, ttl)
	store.now = func() time.Time { return sessionTestNow }
	return store, mock
}

func TestSessionCreate(t *testing.T) {
	store, mock := newTestSessionStore(t, 720*time.Hour)

	mock.ExpectQuery(`INSERT INTO sessions`).
		WithArgs("u-1", sqlmock.AnyArg(), sqlmock.AnyArg(), sessionTestNow.Add(720*time.Hour)).
		WillReturnRows(sqlmock.NewRows([]string{"id", "created_at"}).AddRow(int64(1), sessionTestNow))

	session, token, err := store.Create(context.Background(), "u-1")
	if err != nil {
		t.Fatalf("Create failed: %v", err)
	}
	if session.UserID != "u-1" || session.ID != 1 {
		t.Errorf("Unexpected session: %+v", session)
	}
	if err := store.generator.ValidateTokenFormat(token); err != nil {
		t.Errorf("Issued token failed format check: %v", err)
	}
	if session.ExpiresAt == nil || !session.ExpiresAt.Equal(sessionTestNow.Add(720*time.Hour)) {
		t.Errorf("Unexpected expiry: %v", session.ExpiresAt)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("Unmet expectations: %v", err)
	}
}

func TestSessionCreate_NoTTL(t *testing.T) {
	store, mock := newTestSessionStore(t, 0)

	mock.ExpectQuery(`INSERT INTO sessions`).
		WithArgs("u-1", sqlmock.AnyArg(), sqlmock.AnyArg(), nil).
		WillReturnRows(sqlmock.NewRows([]string{"id", "created_at"}).AddRow(int64(2), sessionTestNow))

	session, _, err := store.Create(context.Background(), "u-1")
	if err != nil {
		t.Fatalf("Create failed: %v", err)
	}
	if session.ExpiresAt != nil {
		t.Errorf("Expected no expiry, got %v", session.ExpiresAt)
	}
}

func sessionRow(expiresAt, revokedAt *time.Time) *sqlmock.Rows {
	return sqlmock.NewRows([]string{
		"id", "user_id", "token_prefix", "expires_at", "revoked_at", "last_used_at", "created_at",
	}).AddRow(int64(1), "u-1", "pm_abcdefgh", expiresAt, revokedAt, nil, sessionTestNow)
}

func TestSessionValidate(t *testing.T) {
	store, mock := newTestSessionStore(t, time.Hour)
	token := TokenPrefix + "dGVzdHRva2Vu"

	expires := sessionTestNow.Add(time.Hour)
	mock.ExpectQuery(`FROM sessions\s+WHERE token_hash = \$1`).
		WithArgs(store.generator.HashToken(token)).
		WillReturnRows(sessionRow(&expires, nil))
	mock.ExpectExec(`UPDATE sessions SET last_used_at = NOW\(\)`).
		WithArgs(int64(1)).
		WillReturnResult(sqlmock.NewResult(0, 1))

	session, err := store.Validate(context.Background(), token)
	if err != nil {
		t.Fatalf("Validate failed: %v", err)
	}
	if session.UserID != "u-1" {
		t.Errorf("Unexpected session: %+v", session)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("Unmet expectations: %v", err)
	}
}

func TestSessionValidate_Failures(t *testing.T) {
	token := TokenPrefix + "dGVzdHRva2Vu"
	expired := sessionTestNow.Add(-time.Minute)
	revoked := sessionTestNow.Add(-time.Hour)
	future := sessionTestNow.Add(time.Hour)

	tests := []struct {
		name string
		rows *sqlmock.Rows
		want error
	}{
		{"unknown token", sqlmock.NewRows([]string{
			"id", "user_id", "token_prefix", "expires_at", "revoked_at", "last_used_at", "created_at",
		}), ErrSessionNotFound},
		{"expired", sessionRow(&expired, nil), ErrSessionExpired},
		{"revoked", sessionRow(&future, &revoked), ErrSessionRevoked},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			store, mock := newTestSessionStore(t, time.Hour)
			mock.ExpectQuery(`FROM sessions\s+WHERE token_hash = \$1`).WillReturnRows(tc.rows)
			if _, err := store.Validate(context.Background(), token); !errors.Is(err, tc.want) {
				t.Errorf("Expected %v, got %v", tc.want, err)
			}
		})
	}
}

func TestSessionValidate_BadFormat(t *testing.T) {
	store, _ := newTestSessionStore(t, time.Hour)
	if _, err := store.Validate(context.Background(), "bearer-whatever"); err == nil {
		t.Error("Expected format error")
	}
}

func TestSessionRevoke(t *testing.T) {
	store, mock := newTestSessionStore(t, time.Hour)

	mock.ExpectExec(`UPDATE sessions SET revoked_at = NOW\(\) WHERE id = \$1`).
		WithArgs(int64(1)).
		WillReturnResult(sqlmock.NewResult(0, 1))
	if err := store.Revoke(context.Background(), 1); err != nil {
		t.Fatalf("Revoke failed: %v", err)
	}

	mock.ExpectExec(`UPDATE sessions SET revoked_at = NOW\(\) WHERE id = \$1`).
		WithArgs(int64(9)).
		WillReturnResult(sqlmock.NewResult(0, 0))
	if err := store.Revoke(context.Background(), 9); !errors.Is(err, ErrSessionNotFound) {
		t.Errorf("Expected ErrSessionNotFound, got %v", err)
	}
}

func TestSessionCleanupExpired(t *testing.T) {
	store, mock := newTestSessionStore(t, time.Hour)

	mock.ExpectExec(`DELETE FROM sessions WHERE expires_at IS NOT NULL`).
		WillReturnResult(sqlmock.NewResult(0, 5))

	deleted, err := store.CleanupExpired(context.Background())
	if err != nil {
		t.Fatalf("CleanupExpired failed: %v", err)
	}
	if deleted != 5 {
		t.Errorf("Expected 5 deleted sessions, got %d", deleted)
	}
}
