package api

import (
	"errors"
	"io"
	"net/http"

	"github.com/pixelmint/pixelmint/pkg/billing"
	"github.com/pixelmint/pixelmint/pkg/httputil"
)

// maxWebhookBody bounds webhook payload size (1 MiB)
const maxWebhookBody = 1 << 20

// signatureHeaders maps each provider to its webhook signature header
var signatureHeaders = map[billing.Provider]string{
	billing.ProviderCreem:  "creem-signature",
	billing.ProviderStripe: "Stripe-Signature",
}

// webhookResponse acknowledges a processed webhook
type webhookResponse struct {
	OK                  bool  `json:"ok"`
	Ignored             bool  `json:"ignored,omitempty"`
	Replayed            bool  `json:"replayed,omitempty"`
	CreditsDelta        int64 `json:"credits_delta"`
	SubscriptionChanged bool  `json:"subscription_changed"`
}

// handleWebhook handles POST /api/v1/webhooks/{provider}
func (s *Server) handleWebhook(w http.ResponseWriter, r *http.Request) {
	provider := billing.Provider(httputil.GetPathVars(r)["provider"])
	normalizer, ok := s.normalizers[provider]
	if !ok {
		httputil.WriteNotFoundError(w, "Unknown provider")
		return
	}

	body, err := io.ReadAll(io.LimitReader(r.Body, maxWebhookBody))
	if err != nil {
		httputil.WriteBadRequest(w, "Failed to read request body")
		return
	}

	event, err := normalizer.Normalize(body, r.Header.Get(signatureHeaders[provider]))
	if err != nil {
		s.logger.WithError(err).WithField("provider", string(provider)).
			Warn("Webhook payload rejected")
		httputil.WriteCodedError(w, http.StatusBadRequest, "invalid_payload", err.Error())
		return
	}

	result, err := s.events.Handle(r.Context(), event)
	if err != nil {
		s.writeEventError(w, provider, err)
		return
	}

	httputil.WriteJSON(w, http.StatusOK, webhookResponse{
		OK:                  true,
		Replayed:            result.Replayed,
		CreditsDelta:        result.CreditsDelta,
		SubscriptionChanged: result.SubscriptionChanged,
	})
}

// writeEventError maps handler outcomes to webhook responses. Committed
// rejections answer 4xx so operators see them, but the event row already
// records the outcome; providers treat non-5xx as delivered.
func (s *Server) writeEventError(w http.ResponseWriter, provider billing.Provider, err error) {
	switch {
	case errors.Is(err, billing.ErrUnhandledEventType):
		httputil.WriteJSON(w, http.StatusOK, webhookResponse{OK: true, Ignored: true})
	case errors.Is(err, &billing.InvalidPayloadError{}):
		httputil.WriteCodedError(w, http.StatusBadRequest, "invalid_payload", err.Error())
	case errors.Is(err, &billing.SubscriptionConflictError{}):
		httputil.WriteCodedError(w, http.StatusConflict, "subscription_conflict", err.Error())
	case errors.Is(err, &billing.ConflictError{}):
		httputil.WriteCodedError(w, http.StatusConflict, "ledger_conflict", err.Error())
	default:
		s.logger.WithError(err).WithField("provider", string(provider)).
			Error("Webhook processing failed")
		httputil.WriteInternalError(w, errors.New("event processing failed"))
	}
}
