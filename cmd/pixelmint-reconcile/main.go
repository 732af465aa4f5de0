// Command pixelmint-reconcile re-drives billing events that were committed but
// never processed, then verifies that credit balances match the ledger. Run it
// after a partial outage or on a schedule as a safety net.
package main

import (
	"context"
	"errors"
	"flag"
	"os"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/sirupsen/logrus"

	"github.com/pixelmint/pixelmint/pkg/async"
	"github.com/pixelmint/pixelmint/pkg/audit"
	"github.com/pixelmint/pixelmint/pkg/billing"
	"github.com/pixelmint/pixelmint/pkg/config"
	"github.com/pixelmint/pixelmint/pkg/ledger"
	"github.com/pixelmint/pixelmint/pkg/observability"
	"github.com/pixelmint/pixelmint/pkg/storage/postgres"
	"github.com/pixelmint/pixelmint/pkg/subscriptions"
	"github.com/pixelmint/pixelmint/pkg/users"
)

func main() {
	limit := flag.Int("limit", 100, "Maximum number of stuck events to re-drive")
	verifyUsers := flag.Int("verify-users", 1000, "Maximum number of users to balance-check (0 disables)")
	timeout := flag.Duration("timeout", 5*time.Minute, "Overall run timeout")
	verbose := flag.Bool("verbose", false, "Enable debug logging")
	flag.Parse()

	log := logrus.New()
	log.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	if *verbose {
		log.SetLevel(logrus.DebugLevel)
	}

	cfg, err := config.LoadConfig()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), *timeout)
	defer cancel()

	cm, err := postgres.Connect(cfg.Storage)
	if err != nil {
		log.Fatalf("Failed to connect to postgres: %v", err)
	}
	defer cm.Close()
	db := cm.Primary()

	ledgerStore := ledger.NewStore(db)
	handler := billing.NewHandler(billing.HandlerConfig{
		DB:            db,
		Events:        billing.NewEventStore(db),
		Users:         users.NewStore(db),
		Subscriptions: subscriptions.NewStore(db),
		Ledger:        ledgerStore,
		Logger:        observability.NewLogger(observability.WarnLevel, os.Stderr),
		Metrics:       observability.NewMetrics(prometheus.NewRegistry()),
		Audit:         audit.NewDBLogger(db),
	})

	redriven, failed := redriveStuckEvents(ctx, log, handler, billing.NewEventStore(db), *limit)

	drifted := 0
	checked := 0
	if *verifyUsers > 0 {
		checked, drifted = verifyBalances(ctx, log, ledgerStore, *verifyUsers)
	}

	log.WithFields(logrus.Fields{
		"redriven": redriven,
		"failed":   failed,
		"checked":  checked,
		"drifted":  drifted,
	}).Info("Reconciliation complete")

	if failed > 0 || drifted > 0 {
		os.Exit(1)
	}
}

// redriveStuckEvents pushes events stuck in status received back through the
// handler. The handler's claim logic adopts the existing row, so this is safe
// to run while the API server is live.
func redriveStuckEvents(ctx context.Context, log *logrus.Logger, handler *billing.Handler, events *billing.EventStore, limit int) (redriven, failed int) {
	stuck, err := events.ListUnprocessed(ctx, limit)
	if err != nil {
		log.Fatalf("Failed to list unprocessed events: %v", err)
	}
	if len(stuck) == 0 {
		log.Info("No unprocessed events found")
		return 0, 0
	}
	log.WithField("count", len(stuck)).Info("Re-driving unprocessed events")

	for _, event := range stuck {
		entry := log.WithFields(logrus.Fields{
			"provider": event.Provider,
			"event_id": event.ID,
			"type":     event.Type,
		})
		result, err := handler.Handle(ctx, event)
		switch {
		case err == nil:
			entry.WithField("credits_delta", result.CreditsDelta).Info("Event applied")
			redriven++
		case errors.Is(err, billing.ErrUnhandledEventType):
			entry.Info("Event ignored")
			redriven++
		case billing.IsRejection(err):
			// Terminal outcome recorded by the handler; not a reconcile failure
			entry.WithError(err).Warn("Event rejected")
			redriven++
		default:
			entry.WithError(err).Error("Event re-drive failed")
			failed++
		}
	}
	return redriven, failed
}

func verifyBalances(ctx context.Context, log *logrus.Logger, store *ledger.Store, limit int) (checked, drifted int) {
	ids, err := store.ActiveUserIDs(ctx, store.DB(), limit)
	if err != nil {
		log.Fatalf("Failed to list users for verification: %v", err)
	}

	errs := async.ForEach(ctx, ids, 8, 10*time.Second, func(ctx context.Context, id string) error {
		if _, err := store.VerifyBalance(ctx, store.DB(), id); err != nil {
			log.WithField("user_id", id).WithError(err).Error("Balance drift detected")
			return err
		}
		return nil
	})

	log.WithField("checked", len(ids)).Debug("Balance verification complete")
	return len(ids), len(errs)
}
