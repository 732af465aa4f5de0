package billing

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"
)

// stripe webhook envelope and signature scheme. The Stripe-Signature header
// has the form "t=<unix>,v1=<hex>[,v1=<hex>...]"; the signed message is
// "<t>.<body>".
type stripeEnvelope struct {
	ID   string `json:"id"`
	Type string `json:"type"`
	Data struct {
		Object stripeObject `json:"object"`
	} `json:"data"`
}

type stripeObject struct {
	ID                 string         `json:"id"`
	Mode               string         `json:"mode"`
	Subscription       string         `json:"subscription"`
	ClientReferenceID  string         `json:"client_reference_id"`
	BillingReason      string         `json:"billing_reason"`
	PeriodStart        int64          `json:"period_start"`
	PeriodEnd          int64          `json:"period_end"`
	CurrentPeriodStart int64          `json:"current_period_start"`
	CurrentPeriodEnd   int64          `json:"current_period_end"`
	Metadata           stripeMetadata `json:"metadata"`

	// Invoices carry the subscription's metadata here, not on the
	// invoice's own metadata.
	SubscriptionDetails struct {
		Metadata stripeMetadata `json:"metadata"`
	} `json:"subscription_details"`
}

type stripeMetadata struct {
	UserID  string `json:"user_id"`
	PlanID  string `json:"plan_id"`
	Credits string `json:"credits"`
}

// StripeNormalizer verifies and normalizes stripe webhook payloads
type StripeNormalizer struct {
	secret    []byte
	tolerance time.Duration
	now       func() time.Time
}

// NewStripeNormalizer creates a stripe normalizer. tolerance bounds the age
// of the signed timestamp; zero means the 5 minute default.
func NewStripeNormalizer(secret string, tolerance time.Duration) *StripeNormalizer {
	if tolerance <= 0 {
		tolerance = 5 * time.Minute
	}
	return &StripeNormalizer{secret: []byte(secret), tolerance: tolerance, now: time.Now}
}

// Provider returns ProviderStripe
func (n *StripeNormalizer) Provider() Provider { return ProviderStripe }

// Normalize verifies the Stripe-Signature header and maps the payload
func (n *StripeNormalizer) Normalize(body []byte, signatureHeader string) (*Event, error) {
	if err := n.verifySignature(body, signatureHeader); err != nil {
		return nil, err
	}

	var env stripeEnvelope
	if err := json.Unmarshal(body, &env); err != nil {
		return nil, NewInvalidPayloadError(ProviderStripe, "malformed JSON: %v", err)
	}
	if env.ID == "" {
		return nil, NewInvalidPayloadError(ProviderStripe, "missing event id")
	}
	if env.Type == "" {
		return nil, NewInvalidPayloadError(ProviderStripe, "missing event type")
	}

	obj := env.Data.Object
	event := &Event{
		Provider: ProviderStripe,
		ID:       env.ID,
		UserID:   obj.Metadata.UserID,
		Payload:  json.RawMessage(body),
	}

	switch env.Type {
	case "checkout.session.completed":
		if event.UserID == "" {
			event.UserID = obj.ClientReferenceID
		}
		if obj.Mode == "payment" {
			// One-time credit pack purchase
			event.Type = EventCreditsPurchased
			event.Data.Credits = parseStripeCredits(obj.Metadata.Credits)
		} else {
			event.Type = EventCheckoutCompleted
			event.Data.ProviderSubscriptionID = obj.Subscription
		}
		event.Data.PlanID = obj.Metadata.PlanID
	case "invoice.paid":
		if obj.BillingReason == "subscription_create" {
			// First invoice; the grant rides on checkout.session.completed.
			event.Type = env.Type
			return event, nil
		}
		event.Type = EventSubscriptionRenewed
		event.Data.ProviderSubscriptionID = obj.Subscription
		if event.UserID == "" {
			event.UserID = obj.SubscriptionDetails.Metadata.UserID
		}
		event.Data.PlanID = obj.Metadata.PlanID
		if event.Data.PlanID == "" {
			event.Data.PlanID = obj.SubscriptionDetails.Metadata.PlanID
		}
		event.Data.PeriodStart = unixTime(obj.PeriodStart)
		event.Data.PeriodEnd = unixTime(obj.PeriodEnd)
	case "customer.subscription.deleted":
		event.Type = EventSubscriptionCanceled
		event.Data.ProviderSubscriptionID = obj.ID
		event.Data.PeriodEnd = unixTime(obj.CurrentPeriodEnd)
	default:
		// Verified but not handled; the caller acknowledges and ignores it.
		event.Type = env.Type
		return event, nil
	}

	if event.UserID == "" {
		return nil, NewInvalidPayloadError(ProviderStripe, "missing user_id in metadata")
	}
	return event, nil
}

func (n *StripeNormalizer) verifySignature(body []byte, header string) error {
	if header == "" {
		return NewInvalidPayloadError(ProviderStripe, "missing signature header")
	}

	var timestamp int64
	var signatures []string
	for _, part := range strings.Split(header, ",") {
		kv := strings.SplitN(strings.TrimSpace(part), "=", 2)
		if len(kv) != 2 {
			continue
		}
		switch kv[0] {
		case "t":
			ts, err := strconv.ParseInt(kv[1], 10, 64)
			if err != nil {
				return NewInvalidPayloadError(ProviderStripe, "malformed signature timestamp")
			}
			timestamp = ts
		case "v1":
			signatures = append(signatures, kv[1])
		}
	}
	if timestamp == 0 || len(signatures) == 0 {
		return NewInvalidPayloadError(ProviderStripe, "malformed signature header")
	}

	age := n.now().Sub(time.Unix(timestamp, 0))
	if age > n.tolerance || age < -n.tolerance {
		return NewInvalidPayloadError(ProviderStripe, "signature timestamp outside tolerance")
	}

	signed := []byte(fmt.Sprintf("%d.%s", timestamp, body))
	for _, sig := range signatures {
		if verifyHMAC(n.secret, signed, sig) {
			return nil
		}
	}
	return NewInvalidPayloadError(ProviderStripe, "signature verification failed")
}

func parseStripeCredits(s string) int64 {
	if s == "" {
		return 0
	}
	v, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return 0
	}
	return v
}

func unixTime(ts int64) *time.Time {
	if ts == 0 {
		return nil
	}
	t := time.Unix(ts, 0).UTC()
	return &t
}
