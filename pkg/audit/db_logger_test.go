package audit

import (
	"context"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
)

func newTestLogger(t *testing.T) (*DBLogger, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherRegexp))
	if err != nil {
		t.Fatalf("Failed to create mock db: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return NewDBLogger(db), mock
}

func TestDBLogger_Record(t *testing.T) {
	logger, mock := newTestLogger(t)

	mock.ExpectExec(`INSERT INTO audit_log`).
		WithArgs("u-1", ActionBillingEvent, "creem/evt_1", "applied", sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(1, 1))

	err := logger.Record(context.Background(), Entry{
		Actor:    "u-1",
		Action:   ActionBillingEvent,
		Resource: "creem/evt_1",
		Outcome:  "applied",
		Detail:   map[string]interface{}{"credits_delta": 500},
	})
	if err != nil {
		t.Fatalf("Record failed: %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("Unmet expectations: %v", err)
	}
}

func TestDBLogger_Record_NilDetail(t *testing.T) {
	logger, mock := newTestLogger(t)

	mock.ExpectExec(`INSERT INTO audit_log`).
		WithArgs("", ActionCheckoutInitiated, "", "", []byte(`{}`)).
		WillReturnResult(sqlmock.NewResult(1, 1))

	if err := logger.Record(context.Background(), Entry{Action: ActionCheckoutInitiated}); err != nil {
		t.Fatalf("Record failed: %v", err)
	}
}

func TestDBLogger_List(t *testing.T) {
	logger, mock := newTestLogger(t)
	now := time.Now()

	rows := sqlmock.NewRows([]string{"id", "occurred_at", "actor", "action", "resource", "outcome", "detail"}).
		AddRow(int64(2), now, "u-1", ActionBillingEvent, "creem/evt_2", "rejected", []byte(`{"reject_code":"subscription_conflict"}`)).
		AddRow(int64(1), now.Add(-time.Minute), "u-1", ActionBillingEvent, "creem/evt_1", "applied", []byte(`{}`))

	mock.ExpectQuery(`FROM audit_log\s+WHERE action = \$1`).
		WithArgs(ActionBillingEvent, 100).
		WillReturnRows(rows)

	entries, err := logger.List(context.Background(), ActionBillingEvent, 0)
	if err != nil {
		t.Fatalf("List failed: %v", err)
	}
	if len(entries) != 2 {
		t.Fatalf("Expected 2 entries, got %d", len(entries))
	}
	if entries[0].Outcome != "rejected" {
		t.Errorf("Unexpected first entry: %+v", entries[0])
	}
	if entries[0].Detail["reject_code"] != "subscription_conflict" {
		t.Errorf("Unexpected detail: %+v", entries[0].Detail)
	}
}

func TestDBLogger_Prune(t *testing.T) {
	logger, mock := newTestLogger(t)

	mock.ExpectExec(`DELETE FROM audit_log WHERE occurred_at < \$1`).
		WithArgs(sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 42))

	pruned, err := logger.Prune(context.Background(), 90*24*time.Hour)
	if err != nil {
		t.Fatalf("Prune failed: %v", err)
	}
	if pruned != 42 {
		t.Errorf("Expected 42 pruned rows, got %d", pruned)
	}
}

func TestDBLogger_Prune_InvalidRetention(t *testing.T) {
	logger, _ := newTestLogger(t)
	if _, err := logger.Prune(context.Background(), 0); err == nil {
		t.Error("Expected error for non-positive retention")
	}
}

func TestNopLogger(t *testing.T) {
	if err := (NopLogger{}).Record(context.Background(), Entry{Action: "x"}); err != nil {
		t.Errorf("NopLogger should never fail, got %v", err)
	}
}
