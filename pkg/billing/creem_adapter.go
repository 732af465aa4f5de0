package billing

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

// CreemAdapter creates checkout sessions via the creem REST API
type CreemAdapter struct {
	apiKey  string
	baseURL string
	client  *http.Client

	successURL string
	cancelURL  string
}

// NewCreemAdapter creates a creem checkout adapter. A nil client uses a
// default with a 10s timeout.
func NewCreemAdapter(apiKey, baseURL, successURL, cancelURL string, client *http.Client) *CreemAdapter {
	if client == nil {
		client = &http.Client{Timeout: 10 * time.Second}
	}
	if baseURL == "" {
		baseURL = "https://api.creem.io"
	}
	return &CreemAdapter{
		apiKey:     apiKey,
		baseURL:    baseURL,
		client:     client,
		successURL: successURL,
		cancelURL:  cancelURL,
	}
}

// Provider returns ProviderCreem
func (a *CreemAdapter) Provider() Provider { return ProviderCreem }

type creemCheckoutRequest struct {
	ProductID  string            `json:"product_id"`
	RequestID  string            `json:"request_id,omitempty"`
	SuccessURL string            `json:"success_url,omitempty"`
	Metadata   map[string]string `json:"metadata"`
}

type creemCheckoutResponse struct {
	ID          string `json:"id"`
	CheckoutURL string `json:"checkout_url"`
}

// CreateCheckout implements CheckoutProvider
func (a *CreemAdapter) CreateCheckout(ctx context.Context, plan Plan, params CheckoutParams) (*CheckoutSession, error) {
	if plan.CreemProductID == "" {
		return nil, fmt.Errorf("plan %s has no creem product", plan.ID)
	}

	reqBody := creemCheckoutRequest{
		ProductID:  plan.CreemProductID,
		RequestID:  params.OrderID,
		SuccessURL: a.successURL,
		Metadata: map[string]string{
			"userId": params.UserID,
		},
	}
	body, err := json.Marshal(reqBody)
	if err != nil {
		return nil, fmt.Errorf("failed to encode checkout request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, a.baseURL+"/v1/checkouts", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to build checkout request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("x-api-key", a.apiKey)

	resp, err := a.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("creem request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		data, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return nil, fmt.Errorf("creem returned %d: %s", resp.StatusCode, data)
	}

	var checkout creemCheckoutResponse
	if err := json.NewDecoder(resp.Body).Decode(&checkout); err != nil {
		return nil, fmt.Errorf("failed to decode creem response: %w", err)
	}
	if checkout.CheckoutURL == "" {
		return nil, fmt.Errorf("creem response missing checkout_url")
	}

	return &CheckoutSession{URL: checkout.CheckoutURL, ProviderSessionID: checkout.ID}, nil
}
