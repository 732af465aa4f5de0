package users

import (
	"context"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
)

func newTestStore(t *testing.T) (*Store, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherRegexp))
	if err != nil {
		t.Fatalf("Failed to create mock db: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return NewStore(db), mock
}

func userRows() *sqlmock.Rows {
	now := time.Now()
	return sqlmock.NewRows([]string{"id", "email", "name", "avatar_url", "credits_balance", "created_at", "updated_at"}).
		AddRow("u-1", "ada@example.com", "Ada", "", int64(100), now, now)
}

func TestStore_Create(t *testing.T) {
	store, mock := newTestStore(t)
	now := time.Now()

	mock.ExpectQuery(`INSERT INTO users`).
		WithArgs(sqlmock.AnyArg(), "ada@example.com", "Ada", "", int64(0)).
		WillReturnRows(sqlmock.NewRows([]string{"created_at", "updated_at"}).AddRow(now, now))

	user := &User{Email: "ada@example.com", Name: "Ada"}
	if err := store.Create(context.Background(), store.db, user); err != nil {
		t.Fatalf("Create failed: %v", err)
	}
	if user.ID == "" {
		t.Error("Expected generated UUID")
	}
	if user.CreatedAt.IsZero() {
		t.Error("Expected created_at to be populated")
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("Unmet expectations: %v", err)
	}
}

func TestStore_GetByID(t *testing.T) {
	store, mock := newTestStore(t)

	mock.ExpectQuery(`SELECT id, email, name, avatar_url, credits_balance, created_at, updated_at\s+FROM users`).
		WithArgs("u-1").
		WillReturnRows(userRows())

	user, err := store.GetByID(context.Background(), "u-1")
	if err != nil {
		t.Fatalf("GetByID failed: %v", err)
	}
	if user.Email != "ada@example.com" {
		t.Errorf("Unexpected email: %s", user.Email)
	}
	if user.CreditsBalance != 100 {
		t.Errorf("Unexpected balance: %d", user.CreditsBalance)
	}

	// Second read served from cache, no new query expected
	if _, err := store.GetByID(context.Background(), "u-1"); err != nil {
		t.Fatalf("Cached GetByID failed: %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("Unmet expectations: %v", err)
	}
}

func TestStore_GetByID_NotFound(t *testing.T) {
	store, mock := newTestStore(t)

	mock.ExpectQuery(`FROM users`).
		WithArgs("missing").
		WillReturnRows(sqlmock.NewRows([]string{"id", "email", "name", "avatar_url", "credits_balance", "created_at", "updated_at"}))

	if _, err := store.GetByID(context.Background(), "missing"); err != ErrUserNotFound {
		t.Errorf("Expected ErrUserNotFound, got %v", err)
	}
}

func TestStore_Invalidate(t *testing.T) {
	store, mock := newTestStore(t)

	mock.ExpectQuery(`FROM users`).WithArgs("u-1").WillReturnRows(userRows())
	if _, err := store.GetByID(context.Background(), "u-1"); err != nil {
		t.Fatalf("GetByID failed: %v", err)
	}

	store.Invalidate("u-1")

	// Cache dropped: expect a fresh query
	mock.ExpectQuery(`FROM users`).WithArgs("u-1").WillReturnRows(userRows())
	if _, err := store.GetByID(context.Background(), "u-1"); err != nil {
		t.Fatalf("GetByID after invalidate failed: %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("Unmet expectations: %v", err)
	}
}

func TestStore_LockForUpdate(t *testing.T) {
	store, mock := newTestStore(t)

	t.Run("locks existing row", func(t *testing.T) {
		mock.ExpectQuery(`SELECT id FROM users WHERE id = \$1 FOR UPDATE`).
			WithArgs("u-1").
			WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow("u-1"))

		if err := store.LockForUpdate(context.Background(), store.db, "u-1"); err != nil {
			t.Fatalf("LockForUpdate failed: %v", err)
		}
	})

	t.Run("missing user", func(t *testing.T) {
		mock.ExpectQuery(`FOR UPDATE`).
			WithArgs("missing").
			WillReturnRows(sqlmock.NewRows([]string{"id"}))

		if err := store.LockForUpdate(context.Background(), store.db, "missing"); err != ErrUserNotFound {
			t.Errorf("Expected ErrUserNotFound, got %v", err)
		}
	})
}

func TestStore_Exists(t *testing.T) {
	store, mock := newTestStore(t)

	mock.ExpectQuery(`SELECT 1 FROM users`).
		WithArgs("u-1").
		WillReturnRows(sqlmock.NewRows([]string{"?column?"}).AddRow(1))

	ok, err := store.Exists(context.Background(), store.db, "u-1")
	if err != nil {
		t.Fatalf("Exists failed: %v", err)
	}
	if !ok {
		t.Error("Expected user to exist")
	}

	mock.ExpectQuery(`SELECT 1 FROM users`).
		WithArgs("missing").
		WillReturnRows(sqlmock.NewRows([]string{"?column?"}))

	ok, err = store.Exists(context.Background(), store.db, "missing")
	if err != nil {
		t.Fatalf("Exists failed: %v", err)
	}
	if ok {
		t.Error("Expected user to be absent")
	}
}

func TestStore_UpdateProfile(t *testing.T) {
	store, mock := newTestStore(t)

	t.Run("updates and invalidates", func(t *testing.T) {
		mock.ExpectExec(`UPDATE users`).
			WithArgs("u-1", "Ada Lovelace", "https://cdn.example.com/a.png").
			WillReturnResult(sqlmock.NewResult(0, 1))

		if err := store.UpdateProfile(context.Background(), "u-1", "Ada Lovelace", "https://cdn.example.com/a.png"); err != nil {
			t.Fatalf("UpdateProfile failed: %v", err)
		}
	})

	t.Run("missing user", func(t *testing.T) {
		mock.ExpectExec(`UPDATE users`).
			WithArgs("missing", "X", "").
			WillReturnResult(sqlmock.NewResult(0, 0))

		if err := store.UpdateProfile(context.Background(), "missing", "X", ""); err != ErrUserNotFound {
			t.Errorf("Expected ErrUserNotFound, got %v", err)
		}
	})
}
