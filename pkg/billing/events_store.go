package billing

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/pixelmint/pixelmint/pkg/storage"
)

// Billing event row statuses
const (
	EventStatusReceived = "received"
	EventStatusApplied  = "applied"
	EventStatusRejected = "rejected"
	EventStatusIgnored  = "ignored"
)

// StoredEvent is the persisted outcome of a previously handled event
type StoredEvent struct {
	ID           int64
	Provider     Provider
	EventID      string
	EventType    string
	UserID       string
	Status       string
	RejectCode   string
	RejectReason string
	Result       *Result
}

// EventStore persists billing events and their outcomes. The UNIQUE
// (provider, event_id) constraint is the idempotency claim: concurrent
// deliveries of the same event serialize on the insert.
type EventStore struct {
	db *sql.DB
}

// NewEventStore creates a new billing event store
func NewEventStore(db *sql.DB) *EventStore {
	return &EventStore{db: db}
}

// Claim attempts to register the event as this delivery's to process.
// Returns false when another delivery already claimed it.
func (s *EventStore) Claim(ctx context.Context, q storage.Querier, event *Event) (bool, error) {
	query := `
		INSERT INTO billing_events (provider, event_id, event_type, user_id, payload)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (provider, event_id) DO NOTHING
	`
	payload := event.Payload
	if len(payload) == 0 {
		payload = json.RawMessage(`{}`)
	}
	result, err := q.ExecContext(ctx, query, event.Provider, event.ID, event.Type, event.UserID, []byte(payload))
	if err != nil {
		return false, fmt.Errorf("failed to claim billing event: %w", err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to check event claim: %w", err)
	}
	return rows == 1, nil
}

// GetOutcome loads the stored outcome for an idempotency key
func (s *EventStore) GetOutcome(ctx context.Context, q storage.Querier, provider Provider, eventID string) (*StoredEvent, error) {
	query := `
		SELECT id, provider, event_id, event_type, user_id, status, reject_code, reject_reason, result
		FROM billing_events
		WHERE provider = $1 AND event_id = $2
	`
	stored := &StoredEvent{}
	var resultJSON []byte
	err := q.QueryRowContext(ctx, query, provider, eventID).Scan(
		&stored.ID, &stored.Provider, &stored.EventID, &stored.EventType,
		&stored.UserID, &stored.Status, &stored.RejectCode, &stored.RejectReason, &resultJSON,
	)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("billing event %s/%s not found", provider, eventID)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load billing event outcome: %w", err)
	}

	if len(resultJSON) > 0 {
		stored.Result = &Result{}
		if err := json.Unmarshal(resultJSON, stored.Result); err != nil {
			return nil, fmt.Errorf("failed to decode stored result: %w", err)
		}
	}
	return stored, nil
}

// MarkApplied records a successful application and its result
func (s *EventStore) MarkApplied(ctx context.Context, q storage.Querier, provider Provider, eventID string, result *Result) error {
	resultJSON, err := json.Marshal(result)
	if err != nil {
		return fmt.Errorf("failed to encode result: %w", err)
	}

	query := `
		UPDATE billing_events
		SET status = 'applied', result = $3, processed_at = NOW()
		WHERE provider = $1 AND event_id = $2
	`
	if _, err := q.ExecContext(ctx, query, provider, eventID, resultJSON); err != nil {
		return fmt.Errorf("failed to mark event applied: %w", err)
	}
	return nil
}

// MarkRejected records a business-rule rejection. The status guard keeps a
// rejection from overwriting an outcome a concurrent delivery already
// committed; the zero-row case is not an error then.
func (s *EventStore) MarkRejected(ctx context.Context, q storage.Querier, provider Provider, eventID, code, reason string) error {
	query := `
		UPDATE billing_events
		SET status = 'rejected', reject_code = $3, reject_reason = $4, processed_at = NOW()
		WHERE provider = $1 AND event_id = $2 AND status = 'received'
	`
	if _, err := q.ExecContext(ctx, query, provider, eventID, code, reason); err != nil {
		return fmt.Errorf("failed to mark event rejected: %w", err)
	}
	return nil
}

// MarkIgnored records an acknowledged but unhandled event type
func (s *EventStore) MarkIgnored(ctx context.Context, q storage.Querier, provider Provider, eventID string) error {
	query := `
		UPDATE billing_events
		SET status = 'ignored', processed_at = NOW()
		WHERE provider = $1 AND event_id = $2
	`
	if _, err := q.ExecContext(ctx, query, provider, eventID); err != nil {
		return fmt.Errorf("failed to mark event ignored: %w", err)
	}
	return nil
}

// ListUnprocessed returns committed rows still in status received. These only
// appear after a partial outage; the reconcile CLI re-drives them.
func (s *EventStore) ListUnprocessed(ctx context.Context, limit int) ([]*Event, error) {
	if limit <= 0 || limit > 1000 {
		limit = 100
	}

	query := `
		SELECT provider, event_id, event_type, user_id, payload
		FROM billing_events
		WHERE status = 'received'
		ORDER BY received_at ASC
		LIMIT $1
	`
	rows, err := s.db.QueryContext(ctx, query, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list unprocessed events: %w", err)
	}
	defer rows.Close()

	var events []*Event
	for rows.Next() {
		event := &Event{}
		var payload []byte
		if err := rows.Scan(&event.Provider, &event.ID, &event.Type, &event.UserID, &payload); err != nil {
			return nil, fmt.Errorf("failed to scan billing event: %w", err)
		}
		event.Payload = json.RawMessage(payload)
		events = append(events, event)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate billing events: %w", err)
	}
	return events, nil
}
