package billing

import (
	"encoding/json"
	"time"
)

// Provider identifies a payment provider. Closed set; adding a provider means
// adding a Normalizer and a CheckoutProvider implementation.
type Provider string

const (
	ProviderCreem  Provider = "creem"
	ProviderStripe Provider = "stripe"
)

// Valid reports whether the provider is a known value
func (p Provider) Valid() bool {
	switch p {
	case ProviderCreem, ProviderStripe:
		return true
	}
	return false
}

// Canonical event types emitted by the normalizers
const (
	EventCheckoutCompleted    = "checkout.completed"
	EventSubscriptionRenewed  = "subscription.renewed"
	EventSubscriptionCanceled = "subscription.canceled"
	EventSubscriptionExpired  = "subscription.expired"
	EventCreditsPurchased     = "credits.purchased"
)

// Event is the canonical, provider-agnostic representation of a payment
// provider notification. (Provider, ID) is the idempotency key.
type Event struct {
	Provider Provider        `json:"provider"`
	ID       string          `json:"id"`
	Type     string          `json:"type"`
	UserID   string          `json:"user_id"`
	Data     EventData       `json:"data"`
	Payload  json.RawMessage `json:"payload"`
}

// EventData carries the normalized provider object fields the handler needs
type EventData struct {
	PlanID                 string     `json:"plan_id,omitempty"`
	ProviderSubscriptionID string     `json:"provider_subscription_id,omitempty"`
	PeriodStart            *time.Time `json:"period_start,omitempty"`
	PeriodEnd              *time.Time `json:"period_end,omitempty"`
	Credits                int64      `json:"credits,omitempty"`
}

// Result is the recorded outcome of handling one event
type Result struct {
	CreditsDelta        int64 `json:"credits_delta"`
	SubscriptionChanged bool  `json:"subscription_changed"`
	Replayed            bool  `json:"replayed"`
}
