package audit

import (
	"context"
	"time"
)

// Audit actions
const (
	ActionBillingEvent      = "billing.event"
	ActionCheckoutInitiated = "billing.checkout_initiated"
	ActionSessionCreated    = "auth.session_created"
	ActionSessionRevoked    = "auth.session_revoked"
)

// Entry is one audit log record
type Entry struct {
	ID         int64                  `json:"id,omitempty"`
	OccurredAt time.Time              `json:"occurred_at,omitempty"`
	Actor      string                 `json:"actor,omitempty"`
	Action     string                 `json:"action"`
	Resource   string                 `json:"resource,omitempty"`
	Outcome    string                 `json:"outcome,omitempty"`
	Detail     map[string]interface{} `json:"detail,omitempty"`
}

// Logger records audit entries
type Logger interface {
	Record(ctx context.Context, entry Entry) error
}

// NopLogger discards audit entries. Used in tests and when auditing is
// disabled.
type NopLogger struct{}

// Record implements Logger
func (NopLogger) Record(ctx context.Context, entry Entry) error { return nil }
