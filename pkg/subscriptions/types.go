package subscriptions

import (
	"errors"
	"time"
)

// ErrSubscriptionNotFound is returned when a subscription lookup finds no row
var ErrSubscriptionNotFound = errors.New("subscription not found")

// Status represents the provider-reported state of a subscription
type Status string

const (
	StatusActive     Status = "active"
	StatusTrialing   Status = "trialing"
	StatusPastDue    Status = "past_due"
	StatusCanceled   Status = "canceled"
	StatusIncomplete Status = "incomplete"
	StatusExpired    Status = "expired"
)

// Valid reports whether the status is a known value
func (s Status) Valid() bool {
	switch s {
	case StatusActive, StatusTrialing, StatusPastDue, StatusCanceled, StatusIncomplete, StatusExpired:
		return true
	}
	return false
}

// Blocking reports whether this status alone keeps a subscription blocking.
// A row in any other status still blocks while its paid period has not lapsed.
func (s Status) Blocking() bool {
	switch s {
	case StatusActive, StatusTrialing, StatusPastDue:
		return true
	}
	return false
}

// Subscription represents one subscription row
type Subscription struct {
	ID                     int64      `json:"id"`
	UserID                 string     `json:"user_id"`
	Provider               string     `json:"provider"`
	ProviderSubscriptionID string     `json:"provider_subscription_id,omitempty"`
	Plan                   string     `json:"plan"`
	Status                 Status     `json:"status"`
	CurrentPeriodStart     *time.Time `json:"current_period_start,omitempty"`
	CurrentPeriodEnd       *time.Time `json:"current_period_end,omitempty"`
	EndedAt                *time.Time `json:"ended_at,omitempty"`
	CreatedAt              time.Time  `json:"created_at"`
	UpdatedAt              time.Time  `json:"updated_at"`
}

// Open reports whether the subscription has not been ended
func (s *Subscription) Open() bool {
	return s.EndedAt == nil
}
