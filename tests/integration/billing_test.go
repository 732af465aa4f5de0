//go:build integration

package integration

import (
	"context"
	"database/sql"
	"io"
	"testing"
	"time"

	"github.com/google/uuid"
	_ "github.com/lib/pq"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	tcpostgres "github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/pixelmint/pixelmint/pkg/audit"
	"github.com/pixelmint/pixelmint/pkg/billing"
	"github.com/pixelmint/pixelmint/pkg/ledger"
	"github.com/pixelmint/pixelmint/pkg/observability"
	"github.com/pixelmint/pixelmint/pkg/storage/postgres"
	"github.com/pixelmint/pixelmint/pkg/subscriptions"
	"github.com/pixelmint/pixelmint/pkg/users"
)

// setupPostgres starts a disposable PostgreSQL container and applies the
// schema. Skips when no container runtime is available.
func setupPostgres(t *testing.T) *sql.DB {
	t.Helper()
	ctx := context.Background()

	if _, err := testcontainers.ProviderDocker.GetProvider(); err != nil {
		t.Skip("Docker/Podman not available, skipping integration tests")
	}

	container, err := tcpostgres.Run(ctx, "postgres:16-alpine",
		tcpostgres.WithDatabase("pixelmint_test"),
		tcpostgres.WithUsername("pixelmint"),
		tcpostgres.WithPassword("pixelmint_test_password"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(60*time.Second)),
	)
	if err != nil {
		t.Skipf("Failed to start PostgreSQL container: %v", err)
	}
	t.Cleanup(func() {
		cleanupCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		container.Terminate(cleanupCtx)
	})

	connStr, err := container.ConnectionString(ctx, "sslmode=disable")
	require.NoError(t, err)

	db, err := sql.Open("postgres", connStr)
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	require.NoError(t, db.Ping())

	require.NoError(t, postgres.InitSchema(ctx, db))
	return db
}

type billingFixture struct {
	db      *sql.DB
	handler *billing.Handler
	users   *users.Store
	subs    *subscriptions.Store
	ledger  *ledger.Store
}

func newBillingFixture(t *testing.T) *billingFixture {
	t.Helper()
	db := setupPostgres(t)

	userStore := users.NewStore(db)
	subStore := subscriptions.NewStore(db)
	ledgerStore := ledger.NewStore(db)
	handler := billing.NewHandler(billing.HandlerConfig{
		DB:            db,
		Events:        billing.NewEventStore(db),
		Users:         userStore,
		Subscriptions: subStore,
		Ledger:        ledgerStore,
		Logger:        observability.NewLogger(observability.ErrorLevel, io.Discard),
		Metrics:       observability.NewMetrics(prometheus.NewRegistry()),
		Audit:         audit.NewDBLogger(db),
	})
	return &billingFixture{db: db, handler: handler, users: userStore, subs: subStore, ledger: ledgerStore}
}

func (f *billingFixture) createUser(t *testing.T) string {
	t.Helper()
	id := uuid.NewString()
	err := f.users.Create(context.Background(), f.db, &users.User{
		ID:    id,
		Email: id + "@example.com",
		Name:  "Test User",
	})
	require.NoError(t, err)
	return id
}

func checkoutEvent(id, userID string) *billing.Event {
	start := time.Now().UTC().Truncate(time.Second)
	end := start.AddDate(0, 1, 0)
	return &billing.Event{
		Provider: billing.ProviderCreem,
		ID:       id,
		Type:     billing.EventCheckoutCompleted,
		UserID:   userID,
		Data: billing.EventData{
			PlanID:                 "standard",
			ProviderSubscriptionID: "sub_1",
			PeriodStart:            &start,
			PeriodEnd:              &end,
		},
	}
}

func TestBillingFlow_CheckoutGrantAndIdempotency(t *testing.T) {
	f := newBillingFixture(t)
	ctx := context.Background()
	userID := f.createUser(t)

	// First delivery applies the grant and opens the subscription
	result, err := f.handler.Handle(ctx, checkoutEvent("evt_1", userID))
	require.NoError(t, err)
	require.Equal(t, int64(500), result.CreditsDelta)
	require.True(t, result.SubscriptionChanged)
	require.False(t, result.Replayed)

	balance, err := f.ledger.Balance(ctx, f.db, userID)
	require.NoError(t, err)
	require.Equal(t, int64(500), balance)

	sub, err := f.subs.GetBlockingSubscription(ctx, f.db, userID)
	require.NoError(t, err)
	require.NotNil(t, sub)
	require.Equal(t, "standard", sub.Plan)

	// Redelivery of the same event replays the stored outcome
	replay, err := f.handler.Handle(ctx, checkoutEvent("evt_1", userID))
	require.NoError(t, err)
	require.True(t, replay.Replayed)
	require.Equal(t, int64(500), replay.CreditsDelta)

	balance, err = f.ledger.Balance(ctx, f.db, userID)
	require.NoError(t, err)
	require.Equal(t, int64(500), balance)

	// A second checkout while the subscription blocks is rejected and
	// leaves the balance untouched
	second := checkoutEvent("evt_2", userID)
	second.Data.ProviderSubscriptionID = "sub_2"
	_, err = f.handler.Handle(ctx, second)
	var conflict *billing.SubscriptionConflictError
	require.ErrorAs(t, err, &conflict)

	balance, err = f.ledger.Balance(ctx, f.db, userID)
	require.NoError(t, err)
	require.Equal(t, int64(500), balance)

	// The rejection itself is remembered on redelivery
	_, err = f.handler.Handle(ctx, second)
	require.ErrorAs(t, err, &conflict)
}

func TestBillingFlow_RenewalExtendsAndGrantsOnce(t *testing.T) {
	f := newBillingFixture(t)
	ctx := context.Background()
	userID := f.createUser(t)

	_, err := f.handler.Handle(ctx, checkoutEvent("evt_1", userID))
	require.NoError(t, err)

	start := time.Now().UTC().AddDate(0, 1, 0).Truncate(time.Second)
	end := start.AddDate(0, 1, 0)
	renewal := &billing.Event{
		Provider: billing.ProviderCreem,
		ID:       "evt_renew",
		Type:     billing.EventSubscriptionRenewed,
		UserID:   userID,
		Data: billing.EventData{
			ProviderSubscriptionID: "sub_1",
			PeriodStart:            &start,
			PeriodEnd:              &end,
		},
	}

	result, err := f.handler.Handle(ctx, renewal)
	require.NoError(t, err)
	require.Equal(t, int64(500), result.CreditsDelta)

	sub, err := f.subs.GetBlockingSubscription(ctx, f.db, userID)
	require.NoError(t, err)
	require.NotNil(t, sub)
	require.WithinDuration(t, end, *sub.CurrentPeriodEnd, time.Second)

	// Duplicate renewal delivery grants exactly once
	replay, err := f.handler.Handle(ctx, renewal)
	require.NoError(t, err)
	require.True(t, replay.Replayed)

	balance, err := f.ledger.Balance(ctx, f.db, userID)
	require.NoError(t, err)
	require.Equal(t, int64(1000), balance)

	// Ledger and balance stay consistent end to end
	verified, err := f.ledger.VerifyBalance(ctx, f.db, userID)
	require.NoError(t, err)
	require.Equal(t, int64(1000), verified)
}

func TestBillingFlow_UnknownUserRejected(t *testing.T) {
	f := newBillingFixture(t)
	ctx := context.Background()
	ghost := uuid.NewString()

	_, err := f.handler.Handle(ctx, checkoutEvent("evt_ghost", ghost))
	var invalid *billing.InvalidPayloadError
	require.ErrorAs(t, err, &invalid)

	// No ledger rows were written for the unknown user
	var count int64
	err = f.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM credit_transactions WHERE user_id = $1`, ghost).Scan(&count)
	require.NoError(t, err)
	require.Zero(t, count)
}

func TestBillingFlow_UnhandledTypeAcknowledged(t *testing.T) {
	f := newBillingFixture(t)
	ctx := context.Background()

	// Verified pass-through events (e.g. stripe's first invoice) carry no
	// user metadata; they must still persist and be acknowledged so the
	// provider stops retrying.
	evt := &billing.Event{
		Provider: billing.ProviderStripe,
		ID:       "evt_first_invoice",
		Type:     "invoice.paid",
	}
	_, err := f.handler.Handle(ctx, evt)
	require.ErrorIs(t, err, billing.ErrUnhandledEventType)

	var status, userID string
	err = f.db.QueryRowContext(ctx,
		`SELECT status, user_id FROM billing_events WHERE provider = $1 AND event_id = $2`,
		billing.ProviderStripe, "evt_first_invoice").Scan(&status, &userID)
	require.NoError(t, err)
	require.Equal(t, "ignored", status)
	require.Empty(t, userID)

	// Redelivery replays the acknowledgement
	_, err = f.handler.Handle(ctx, evt)
	require.ErrorIs(t, err, billing.ErrUnhandledEventType)
}

func TestBillingFlow_CancellationStopsBlocking(t *testing.T) {
	f := newBillingFixture(t)
	ctx := context.Background()
	userID := f.createUser(t)

	_, err := f.handler.Handle(ctx, checkoutEvent("evt_1", userID))
	require.NoError(t, err)

	cancelEvent := &billing.Event{
		Provider: billing.ProviderCreem,
		ID:       "evt_cancel",
		Type:     billing.EventSubscriptionCanceled,
		UserID:   userID,
		Data:     billing.EventData{ProviderSubscriptionID: "sub_1"},
	}
	result, err := f.handler.Handle(ctx, cancelEvent)
	require.NoError(t, err)
	require.True(t, result.SubscriptionChanged)
	require.Zero(t, result.CreditsDelta)

	// A new checkout goes through once the subscription has ended
	next := checkoutEvent("evt_next", userID)
	next.Data.ProviderSubscriptionID = "sub_2"
	applied, err := f.handler.Handle(ctx, next)
	require.NoError(t, err)
	require.Equal(t, int64(500), applied.CreditsDelta)
}
