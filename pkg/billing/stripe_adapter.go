package billing

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// StripeAdapter creates checkout sessions via the stripe REST API
// (form-encoded, like the official clients).
type StripeAdapter struct {
	apiKey  string
	baseURL string
	client  *http.Client

	successURL string
	cancelURL  string
}

// NewStripeAdapter creates a stripe checkout adapter. A nil client uses a
// default with a 10s timeout.
func NewStripeAdapter(apiKey, baseURL, successURL, cancelURL string, client *http.Client) *StripeAdapter {
	if client == nil {
		client = &http.Client{Timeout: 10 * time.Second}
	}
	if baseURL == "" {
		baseURL = "https://api.stripe.com"
	}
	return &StripeAdapter{
		apiKey:     apiKey,
		baseURL:    baseURL,
		client:     client,
		successURL: successURL,
		cancelURL:  cancelURL,
	}
}

// Provider returns ProviderStripe
func (a *StripeAdapter) Provider() Provider { return ProviderStripe }

type stripeCheckoutResponse struct {
	ID  string `json:"id"`
	URL string `json:"url"`
}

// CreateCheckout implements CheckoutProvider
func (a *StripeAdapter) CreateCheckout(ctx context.Context, plan Plan, params CheckoutParams) (*CheckoutSession, error) {
	if plan.StripePriceID == "" {
		return nil, fmt.Errorf("plan %s has no stripe price", plan.ID)
	}

	form := url.Values{}
	form.Set("mode", "subscription")
	form.Set("line_items[0][price]", plan.StripePriceID)
	form.Set("line_items[0][quantity]", "1")
	form.Set("client_reference_id", params.UserID)
	form.Set("metadata[user_id]", params.UserID)
	form.Set("metadata[plan_id]", plan.ID)
	// Session metadata is not copied to the subscription; renewal and
	// cancellation webhooks only see subscription_data metadata.
	form.Set("subscription_data[metadata][user_id]", params.UserID)
	form.Set("subscription_data[metadata][plan_id]", plan.ID)
	if params.OrderID != "" {
		form.Set("metadata[order_id]", params.OrderID)
	}
	form.Set("success_url", a.successURL)
	form.Set("cancel_url", a.cancelURL)

	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		a.baseURL+"/v1/checkout/sessions", strings.NewReader(form.Encode()))
	if err != nil {
		return nil, fmt.Errorf("failed to build checkout request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("Authorization", "Bearer "+a.apiKey)

	resp, err := a.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("stripe request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		data, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return nil, fmt.Errorf("stripe returned %d: %s", resp.StatusCode, data)
	}

	var session stripeCheckoutResponse
	if err := json.NewDecoder(resp.Body).Decode(&session); err != nil {
		return nil, fmt.Errorf("failed to decode stripe response: %w", err)
	}
	if session.URL == "" {
		return nil, fmt.Errorf("stripe response missing url")
	}

	return &CheckoutSession{URL: session.URL, ProviderSessionID: session.ID}, nil
}
