package ledger

import (
	"errors"
	"time"
)

var (
	// ErrDuplicateApply is returned when a transaction with the same source
	// provider, event id, and reason has already been recorded
	ErrDuplicateApply = errors.New("credit transaction already applied")

	// ErrInsufficientCredits is returned when a debit would take the balance
	// below zero
	ErrInsufficientCredits = errors.New("insufficient credits")
)

// Transaction represents one append-only ledger row
type Transaction struct {
	ID             int64     `json:"id"`
	UserID         string    `json:"user_id"`
	Delta          int64     `json:"delta"`
	Reason         string    `json:"reason"`
	SourceProvider string    `json:"source_provider,omitempty"`
	SourceEventID  string    `json:"source_event_id,omitempty"`
	CreatedAt      time.Time `json:"created_at"`
}
