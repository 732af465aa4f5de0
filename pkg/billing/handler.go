package billing

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/pixelmint/pixelmint/pkg/audit"
	"github.com/pixelmint/pixelmint/pkg/ledger"
	"github.com/pixelmint/pixelmint/pkg/observability"
	"github.com/pixelmint/pixelmint/pkg/storage"
	"github.com/pixelmint/pixelmint/pkg/subscriptions"
	"github.com/pixelmint/pixelmint/pkg/users"
)

// Handler applies canonical billing events exactly once. All effects for one
// event run in a single transaction serialized per user by a row lock.
type Handler struct {
	db      *sql.DB
	events  *EventStore
	users   *users.Store
	subs    *subscriptions.Store
	ledger  *ledger.Store
	catalog *Catalog
	logger  *observability.Logger
	metrics *observability.Metrics
	audit   audit.Logger
	tracer  trace.Tracer
	now     func() time.Time
}

// HandlerConfig wires the handler's collaborators
type HandlerConfig struct {
	DB            *sql.DB
	Events        *EventStore
	Users         *users.Store
	Subscriptions *subscriptions.Store
	Ledger        *ledger.Store
	Catalog       *Catalog
	Logger        *observability.Logger
	Metrics       *observability.Metrics
	Audit         audit.Logger
}

// NewHandler creates a new event handler
func NewHandler(cfg HandlerConfig) *Handler {
	auditLogger := cfg.Audit
	if auditLogger == nil {
		auditLogger = audit.NopLogger{}
	}
	catalog := cfg.Catalog
	if catalog == nil {
		catalog = DefaultCatalog()
	}
	return &Handler{
		db:      cfg.DB,
		events:  cfg.Events,
		users:   cfg.Users,
		subs:    cfg.Subscriptions,
		ledger:  cfg.Ledger,
		catalog: catalog,
		logger:  cfg.Logger,
		metrics: cfg.Metrics,
		audit:   auditLogger,
		tracer:  otel.Tracer("pixelmint/billing"),
		now:     time.Now,
	}
}

// Handle processes one canonical event.
//
// Outcomes:
//   - applied: effects committed, result persisted on the event row
//   - replayed: the stored outcome of an earlier delivery, no effects
//   - rejected: business-rule rejection committed so redeliveries replay it
//   - ignored: recognized-but-unhandled type, acknowledged (ErrUnhandledEventType)
//
// Any storage failure rolls the whole event back and returns a StorageError;
// the provider's retry redelivers against the same idempotency key.
func (h *Handler) Handle(ctx context.Context, event *Event) (*Result, error) {
	if err := validateEvent(event); err != nil {
		return nil, err
	}

	ctx, span := h.tracer.Start(ctx, "billing.Handle", trace.WithAttributes(
		attribute.String("billing.provider", string(event.Provider)),
		attribute.String("billing.event_id", event.ID),
		attribute.String("billing.event_type", event.Type),
	))
	defer span.End()

	start := h.now()
	h.metrics.EventsReceivedTotal.WithLabelValues(string(event.Provider), event.Type).Inc()
	logger := h.logger.WithFields(map[string]interface{}{
		"provider": string(event.Provider),
		"event_id": event.ID,
		"type":     event.Type,
	})

	result, err := h.handleTx(ctx, event, logger)

	h.metrics.EventHandleDuration.WithLabelValues(string(event.Provider), event.Type).
		Observe(h.now().Sub(start).Seconds())
	return result, err
}

func (h *Handler) handleTx(ctx context.Context, event *Event, logger *observability.Logger) (*Result, error) {
	tx, err := h.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, &StorageError{Op: "begin transaction", Err: err}
	}
	committed := false
	defer func() {
		if !committed {
			tx.Rollback()
		}
	}()

	claimed, err := h.events.Claim(ctx, tx, event)
	if err != nil {
		return nil, &StorageError{Op: "claim event", Err: err}
	}
	if !claimed {
		return h.replay(ctx, tx, event, logger)
	}

	if !isCanonicalType(event.Type) {
		if err := h.events.MarkIgnored(ctx, tx, event.Provider, event.ID); err != nil {
			return nil, &StorageError{Op: "mark event ignored", Err: err}
		}
		if err := tx.Commit(); err != nil {
			return nil, &StorageError{Op: "commit", Err: err}
		}
		committed = true
		logger.Info("Ignoring unhandled event type")
		return nil, ErrUnhandledEventType
	}

	if err := h.users.LockForUpdate(ctx, tx, event.UserID); err != nil {
		if errors.Is(err, users.ErrUserNotFound) {
			rejection := NewInvalidPayloadError(event.Provider, "unknown user %s", event.UserID)
			return nil, h.commitRejection(ctx, tx, event, rejection, logger, &committed)
		}
		return nil, &StorageError{Op: "lock user row", Err: err}
	}

	result, applyErr := h.apply(ctx, tx, event)
	if applyErr != nil {
		if IsRejection(applyErr) {
			return nil, h.commitRejection(ctx, tx, event, applyErr, logger, &committed)
		}
		return nil, applyErr
	}

	if err := h.events.MarkApplied(ctx, tx, event.Provider, event.ID, result); err != nil {
		return nil, &StorageError{Op: "mark event applied", Err: err}
	}
	if err := tx.Commit(); err != nil {
		return nil, &StorageError{Op: "commit", Err: err}
	}
	committed = true

	h.users.Invalidate(event.UserID)
	h.recordApplied(ctx, event, result, logger)
	return result, nil
}

// replay answers a redelivered event from its stored outcome
func (h *Handler) replay(ctx context.Context, tx *sql.Tx, event *Event, logger *observability.Logger) (*Result, error) {
	stored, err := h.events.GetOutcome(ctx, tx, event.Provider, event.ID)
	if err != nil {
		return nil, &StorageError{Op: "load stored outcome", Err: err}
	}

	switch stored.Status {
	case EventStatusApplied:
		result := &Result{Replayed: true}
		if stored.Result != nil {
			result.CreditsDelta = stored.Result.CreditsDelta
			result.SubscriptionChanged = stored.Result.SubscriptionChanged
		}
		h.metrics.EventsReplayedTotal.WithLabelValues(string(event.Provider)).Inc()
		logger.Info("Replaying stored event result")
		h.recordAudit(ctx, event, "replayed", map[string]interface{}{
			"credits_delta": result.CreditsDelta,
		})
		return result, nil
	case EventStatusRejected:
		h.metrics.EventsReplayedTotal.WithLabelValues(string(event.Provider)).Inc()
		logger.WithField("reject_code", stored.RejectCode).Info("Replaying stored rejection")
		return nil, rejectionFromStored(stored)
	case EventStatusIgnored:
		return nil, ErrUnhandledEventType
	default:
		// Committed but unprocessed (partial outage); adopt the row and apply.
		return h.applyAdopted(ctx, tx, event, logger)
	}
}

// applyAdopted finishes processing an event whose claim row was committed
// without an outcome. Only the reconcile path reaches this.
func (h *Handler) applyAdopted(ctx context.Context, tx *sql.Tx, event *Event, logger *observability.Logger) (*Result, error) {
	committed := false
	defer func() {
		if !committed {
			tx.Rollback()
		}
	}()

	if !isCanonicalType(event.Type) {
		if err := h.events.MarkIgnored(ctx, tx, event.Provider, event.ID); err != nil {
			return nil, &StorageError{Op: "mark event ignored", Err: err}
		}
		if err := tx.Commit(); err != nil {
			return nil, &StorageError{Op: "commit", Err: err}
		}
		committed = true
		return nil, ErrUnhandledEventType
	}

	if err := h.users.LockForUpdate(ctx, tx, event.UserID); err != nil {
		if errors.Is(err, users.ErrUserNotFound) {
			rejection := NewInvalidPayloadError(event.Provider, "unknown user %s", event.UserID)
			return nil, h.commitRejection(ctx, tx, event, rejection, logger, &committed)
		}
		return nil, &StorageError{Op: "lock user row", Err: err}
	}

	result, applyErr := h.apply(ctx, tx, event)
	if applyErr != nil {
		if IsRejection(applyErr) {
			return nil, h.commitRejection(ctx, tx, event, applyErr, logger, &committed)
		}
		return nil, applyErr
	}

	if err := h.events.MarkApplied(ctx, tx, event.Provider, event.ID, result); err != nil {
		return nil, &StorageError{Op: "mark event applied", Err: err}
	}
	if err := tx.Commit(); err != nil {
		return nil, &StorageError{Op: "commit", Err: err}
	}
	committed = true

	h.users.Invalidate(event.UserID)
	h.recordApplied(ctx, event, result, logger)
	return result, nil
}

// apply dispatches the event to its effect inside the caller's transaction
func (h *Handler) apply(ctx context.Context, q storage.Querier, event *Event) (*Result, error) {
	switch event.Type {
	case EventCheckoutCompleted:
		return h.applyCheckoutCompleted(ctx, q, event)
	case EventSubscriptionRenewed:
		return h.applyRenewal(ctx, q, event)
	case EventSubscriptionCanceled:
		return h.applyEnd(ctx, q, event, subscriptions.StatusCanceled)
	case EventSubscriptionExpired:
		return h.applyEnd(ctx, q, event, subscriptions.StatusExpired)
	case EventCreditsPurchased:
		return h.applyCreditsPurchased(ctx, q, event)
	default:
		return nil, ErrUnhandledEventType
	}
}

func (h *Handler) applyCheckoutCompleted(ctx context.Context, q storage.Querier, event *Event) (*Result, error) {
	blocker, err := h.subs.GetBlockingSubscription(ctx, q, event.UserID)
	if err != nil {
		return nil, &StorageError{Op: "blocking subscription check", Err: err}
	}
	if blocker != nil {
		return nil, &SubscriptionConflictError{UserID: event.UserID, ExistingPlan: blocker.Plan}
	}

	plan, ok := h.resolvePlan(event)
	if !ok {
		return nil, NewInvalidPayloadError(event.Provider, "unknown plan %q", event.Data.PlanID)
	}

	start, end := h.period(event, plan)
	sub := &subscriptions.Subscription{
		UserID:                 event.UserID,
		Provider:               string(event.Provider),
		ProviderSubscriptionID: event.Data.ProviderSubscriptionID,
		Plan:                   plan.ID,
		Status:                 subscriptions.StatusActive,
		CurrentPeriodStart:     &start,
		CurrentPeriodEnd:       &end,
	}
	if err := h.subs.Create(ctx, q, sub); err != nil {
		return nil, &StorageError{Op: "create subscription", Err: err}
	}

	if _, err := h.applyGrant(ctx, q, event, plan.CreditsPerCycle, EventCheckoutCompleted); err != nil {
		return nil, err
	}
	return &Result{CreditsDelta: plan.CreditsPerCycle, SubscriptionChanged: true}, nil
}

func (h *Handler) applyRenewal(ctx context.Context, q storage.Querier, event *Event) (*Result, error) {
	sub, err := h.subs.GetByProviderID(ctx, q, string(event.Provider), event.Data.ProviderSubscriptionID)
	if err != nil {
		if errors.Is(err, subscriptions.ErrSubscriptionNotFound) {
			return nil, &ConflictError{Reason: fmt.Sprintf("renewal for unknown subscription %s", event.Data.ProviderSubscriptionID), Err: err}
		}
		return nil, &StorageError{Op: "load subscription", Err: err}
	}

	plan, ok := h.catalog.Get(sub.Plan)
	if !ok {
		plan, ok = h.resolvePlan(event)
		if !ok {
			return nil, NewInvalidPayloadError(event.Provider, "unknown plan for renewal")
		}
	}

	start, end := h.period(event, plan)
	if err := h.subs.ExtendPeriod(ctx, q, sub.ID, start, end); err != nil {
		return nil, &StorageError{Op: "extend subscription period", Err: err}
	}

	if _, err := h.applyGrant(ctx, q, event, plan.CreditsPerCycle, EventSubscriptionRenewed); err != nil {
		return nil, err
	}
	return &Result{CreditsDelta: plan.CreditsPerCycle, SubscriptionChanged: true}, nil
}

func (h *Handler) applyEnd(ctx context.Context, q storage.Querier, event *Event, status subscriptions.Status) (*Result, error) {
	sub, err := h.subs.GetByProviderID(ctx, q, string(event.Provider), event.Data.ProviderSubscriptionID)
	if err != nil {
		if errors.Is(err, subscriptions.ErrSubscriptionNotFound) {
			return nil, &ConflictError{Reason: fmt.Sprintf("%s for unknown subscription %s", event.Type, event.Data.ProviderSubscriptionID), Err: err}
		}
		return nil, &StorageError{Op: "load subscription", Err: err}
	}

	if err := h.subs.End(ctx, q, sub.ID, status, h.now()); err != nil {
		return nil, &StorageError{Op: "end subscription", Err: err}
	}
	return &Result{SubscriptionChanged: true}, nil
}

func (h *Handler) applyCreditsPurchased(ctx context.Context, q storage.Querier, event *Event) (*Result, error) {
	if event.Data.Credits <= 0 {
		return nil, NewInvalidPayloadError(event.Provider, "credit purchase without a positive credit amount")
	}
	if _, err := h.applyGrant(ctx, q, event, event.Data.Credits, EventCreditsPurchased); err != nil {
		return nil, err
	}
	return &Result{CreditsDelta: event.Data.Credits}, nil
}

func (h *Handler) applyGrant(ctx context.Context, q storage.Querier, event *Event, credits int64, reason string) (*ledger.Transaction, error) {
	txn, err := h.ledger.ApplyDelta(ctx, q, event.UserID, credits, reason, string(event.Provider), event.ID)
	if err != nil {
		switch {
		case errors.Is(err, ledger.ErrDuplicateApply):
			return nil, &ConflictError{Reason: "credit grant already applied", Err: err}
		case errors.Is(err, ledger.ErrInsufficientCredits):
			return nil, &ConflictError{Reason: "balance would go negative", Err: err}
		default:
			return nil, &StorageError{Op: "apply credit delta", Err: err}
		}
	}
	return txn, nil
}

// commitRejection records a business-rule rejection on the event row and
// commits it, so provider redeliveries replay the rejection without
// re-running effects. The surrounding transaction's effects are discarded by
// rolling back first.
func (h *Handler) commitRejection(ctx context.Context, tx *sql.Tx, event *Event, rejection error, logger *observability.Logger, committed *bool) error {
	tx.Rollback()
	*committed = true // nothing left to roll back

	code := RejectCode(rejection)
	if err := h.markRejectedCommitted(ctx, event, code, rejection.Error()); err != nil {
		return &StorageError{Op: "record rejection", Err: err}
	}

	h.metrics.EventsRejectedTotal.WithLabelValues(string(event.Provider), code).Inc()
	logger.WithField("reject_code", code).WithError(rejection).Warn("Rejected billing event")
	h.recordAudit(ctx, event, "rejected", map[string]interface{}{
		"reject_code":   code,
		"reject_reason": rejection.Error(),
	})
	return rejection
}

// markRejectedCommitted re-claims the event row in a fresh transaction and
// marks it rejected. The original transaction was rolled back, including its
// claim, so the insert runs again here. A concurrent delivery may win the
// re-claim and commit its own outcome first; MarkRejected's status guard
// leaves that outcome in place.
func (h *Handler) markRejectedCommitted(ctx context.Context, event *Event, code, reason string) error {
	tx, err := h.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if _, err := h.events.Claim(ctx, tx, event); err != nil {
		return err
	}
	if err := h.events.MarkRejected(ctx, tx, event.Provider, event.ID, code, reason); err != nil {
		return err
	}
	return tx.Commit()
}

func (h *Handler) recordApplied(ctx context.Context, event *Event, result *Result, logger *observability.Logger) {
	h.metrics.EventsAppliedTotal.WithLabelValues(string(event.Provider), event.Type).Inc()
	if result.CreditsDelta > 0 {
		h.metrics.CreditsGrantedTotal.WithLabelValues(event.Type).Add(float64(result.CreditsDelta))
	} else if result.CreditsDelta < 0 {
		h.metrics.CreditsSpentTotal.WithLabelValues(event.Type).Add(float64(-result.CreditsDelta))
	}
	logger.WithFields(map[string]interface{}{
		"credits_delta":        result.CreditsDelta,
		"subscription_changed": result.SubscriptionChanged,
	}).Info("Applied billing event")
	h.recordAudit(ctx, event, "applied", map[string]interface{}{
		"credits_delta":        result.CreditsDelta,
		"subscription_changed": result.SubscriptionChanged,
	})
}

func (h *Handler) recordAudit(ctx context.Context, event *Event, outcome string, detail map[string]interface{}) {
	if detail == nil {
		detail = map[string]interface{}{}
	}
	detail["idempotency_key"] = fmt.Sprintf("%s/%s", event.Provider, event.ID)
	detail["event_type"] = event.Type

	entry := audit.Entry{
		Actor:    event.UserID,
		Action:   "billing.event",
		Resource: fmt.Sprintf("%s/%s", event.Provider, event.ID),
		Outcome:  outcome,
		Detail:   detail,
	}
	if err := h.audit.Record(ctx, entry); err != nil {
		h.logger.WithError(err).Warn("Failed to record audit entry")
	}
}

func (h *Handler) resolvePlan(event *Event) (Plan, bool) {
	if plan, ok := h.catalog.Get(event.Data.PlanID); ok {
		return plan, true
	}
	return h.catalog.ByProviderRef(event.Provider, event.Data.PlanID)
}

// period resolves the billing period from the event, defaulting to one plan
// interval starting now.
func (h *Handler) period(event *Event, plan Plan) (time.Time, time.Time) {
	start := h.now()
	if event.Data.PeriodStart != nil {
		start = *event.Data.PeriodStart
	}
	if event.Data.PeriodEnd != nil {
		return start, *event.Data.PeriodEnd
	}
	if plan.Interval == "year" {
		return start, start.AddDate(1, 0, 0)
	}
	return start, start.AddDate(0, 1, 0)
}

func validateEvent(event *Event) error {
	if event == nil {
		return NewInvalidPayloadError("", "nil event")
	}
	if !event.Provider.Valid() {
		return NewInvalidPayloadError(event.Provider, "unknown provider")
	}
	if event.ID == "" {
		return NewInvalidPayloadError(event.Provider, "missing event id")
	}
	if event.Type == "" {
		return NewInvalidPayloadError(event.Provider, "missing event type")
	}
	return nil
}

// rejectionFromStored reconstructs the rejection error a redelivered event
// originally received.
func rejectionFromStored(stored *StoredEvent) error {
	switch stored.RejectCode {
	case "subscription_conflict":
		return &SubscriptionConflictError{UserID: stored.UserID}
	case "invalid_payload":
		return &InvalidPayloadError{Provider: stored.Provider, Reason: stored.RejectReason}
	default:
		return &ConflictError{Reason: stored.RejectReason}
	}
}

func isCanonicalType(t string) bool {
	switch t {
	case EventCheckoutCompleted, EventSubscriptionRenewed, EventSubscriptionCanceled,
		EventSubscriptionExpired, EventCreditsPurchased:
		return true
	}
	return false
}
