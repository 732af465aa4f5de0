package billing

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"
)

// creem webhook envelope. The signature header carries a plain hex
// HMAC-SHA256 of the raw body.
type creemEnvelope struct {
	ID        string      `json:"id"`
	EventType string      `json:"eventType"`
	Object    creemObject `json:"object"`
}

type creemObject struct {
	ID           string             `json:"id"`
	Product      creemProduct       `json:"product"`
	Subscription *creemSubscription `json:"subscription"`
	Metadata     creemMetadata      `json:"metadata"`
}

type creemProduct struct {
	ID string `json:"id"`
}

type creemSubscription struct {
	ID                     string `json:"id"`
	CurrentPeriodStartDate string `json:"current_period_start_date"`
	CurrentPeriodEndDate   string `json:"current_period_end_date"`
}

type creemMetadata struct {
	UserID  string       `json:"userId"`
	Credits creemCredits `json:"credits"`
}

// creemCredits decodes the credits metadata from either a JSON number or a
// numeric string; dashboard-entered metadata arrives as both.
type creemCredits int64

func (c *creemCredits) UnmarshalJSON(data []byte) error {
	s := strings.Trim(string(data), `"`)
	if s == "" || s == "null" {
		*c = 0
		return nil
	}
	v, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return fmt.Errorf("credits is not numeric: %q", s)
	}
	*c = creemCredits(v)
	return nil
}

// CreemNormalizer verifies and normalizes creem webhook payloads
type CreemNormalizer struct {
	secret []byte
}

// NewCreemNormalizer creates a creem normalizer with the webhook secret
func NewCreemNormalizer(secret string) *CreemNormalizer {
	return &CreemNormalizer{secret: []byte(secret)}
}

// Provider returns ProviderCreem
func (n *CreemNormalizer) Provider() Provider { return ProviderCreem }

// Normalize verifies the creem-signature header and maps the payload
func (n *CreemNormalizer) Normalize(body []byte, signatureHeader string) (*Event, error) {
	if signatureHeader == "" {
		return nil, NewInvalidPayloadError(ProviderCreem, "missing signature header")
	}
	if !verifyHMAC(n.secret, body, signatureHeader) {
		return nil, NewInvalidPayloadError(ProviderCreem, "signature verification failed")
	}

	var env creemEnvelope
	if err := json.Unmarshal(body, &env); err != nil {
		return nil, NewInvalidPayloadError(ProviderCreem, "malformed JSON: %v", err)
	}
	if env.ID == "" {
		return nil, NewInvalidPayloadError(ProviderCreem, "missing event id")
	}
	if env.EventType == "" {
		return nil, NewInvalidPayloadError(ProviderCreem, "missing event type")
	}

	event := &Event{
		Provider: ProviderCreem,
		ID:       env.ID,
		UserID:   env.Object.Metadata.UserID,
		Payload:  json.RawMessage(body),
	}

	switch env.EventType {
	case "checkout.completed":
		if env.Object.Subscription != nil {
			event.Type = EventCheckoutCompleted
			event.Data.ProviderSubscriptionID = env.Object.Subscription.ID
			event.Data.PeriodStart = parseCreemDate(env.Object.Subscription.CurrentPeriodStartDate)
			event.Data.PeriodEnd = parseCreemDate(env.Object.Subscription.CurrentPeriodEndDate)
		} else {
			// One-time credit pack purchase
			event.Type = EventCreditsPurchased
			event.Data.Credits = int64(env.Object.Metadata.Credits)
		}
		event.Data.PlanID = env.Object.Product.ID
	case "subscription.paid":
		event.Type = EventSubscriptionRenewed
		event.Data.PlanID = env.Object.Product.ID
		if env.Object.Subscription != nil {
			event.Data.ProviderSubscriptionID = env.Object.Subscription.ID
			event.Data.PeriodStart = parseCreemDate(env.Object.Subscription.CurrentPeriodStartDate)
			event.Data.PeriodEnd = parseCreemDate(env.Object.Subscription.CurrentPeriodEndDate)
		} else {
			event.Data.ProviderSubscriptionID = env.Object.ID
		}
	case "subscription.canceled":
		event.Type = EventSubscriptionCanceled
		event.Data.ProviderSubscriptionID = subscriptionRef(env.Object)
	case "subscription.expired":
		event.Type = EventSubscriptionExpired
		event.Data.ProviderSubscriptionID = subscriptionRef(env.Object)
	default:
		// Verified but not handled; the caller acknowledges and ignores it.
		event.Type = env.EventType
		return event, nil
	}

	if event.UserID == "" {
		return nil, NewInvalidPayloadError(ProviderCreem, "missing userId in metadata")
	}
	return event, nil
}

func subscriptionRef(obj creemObject) string {
	if obj.Subscription != nil {
		return obj.Subscription.ID
	}
	return obj.ID
}

func parseCreemDate(s string) *time.Time {
	if s == "" {
		return nil
	}
	t, err := time.Parse(time.RFC3339, s)
	if err != nil {
		return nil
	}
	return &t
}
