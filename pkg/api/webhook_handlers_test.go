package api

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/pixelmint/pixelmint/pkg/billing"
	"github.com/pixelmint/pixelmint/pkg/observability"
)

const webhookTestSecret = "whsec_test"

type stubEvents struct {
	result *billing.Result
	err    error
	got    *billing.Event
}

func (s *stubEvents) Handle(_ context.Context, event *billing.Event) (*billing.Result, error) {
	s.got = event
	return s.result, s.err
}

type stubCheckout struct {
	session *billing.CheckoutSession
	err     error
}

func (s *stubCheckout) CreateCheckout(_ context.Context, _ billing.Provider, _ billing.CheckoutParams) (*billing.CheckoutSession, error) {
	return s.session, s.err
}

func newTestServer(events EventHandler, checkout CheckoutCreator, auth Middleware) *Server {
	return NewServer(Config{
		Normalizers: []billing.Normalizer{billing.NewCreemNormalizer(webhookTestSecret)},
		Events:      events,
		Checkout:    checkout,
		Logger:      observability.NewLogger(observability.ErrorLevel, io.Discard),
		Metrics:     observability.NewMetrics(prometheus.NewRegistry()),
		Auth:        auth,
	})
}

func signBody(body []byte) string {
	mac := hmac.New(sha256.New, []byte(webhookTestSecret))
	mac.Write(body)
	return hex.EncodeToString(mac.Sum(nil))
}

func postWebhook(t *testing.T, server *Server, body []byte, signature string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, "/api/v1/webhooks/creem", bytes.NewReader(body))
	if signature != "" {
		req.Header.Set("creem-signature", signature)
	}
	rec := httptest.NewRecorder()
	server.ServeHTTP(rec, req)
	return rec
}

func creemCheckoutBody() []byte {
	return []byte(`{
		"id": "evt_1",
		"eventType": "checkout.completed",
		"object": {
			"product": {"id": "prod_standard_monthly"},
			"subscription": {"id": "sub_1"},
			"metadata": {"userId": "u-1"}
		}
	}`)
}

func TestWebhook_Applied(t *testing.T) {
	events := &stubEvents{result: &billing.Result{CreditsDelta: 500, SubscriptionChanged: true}}
	server := newTestServer(events, nil, nil)

	body := creemCheckoutBody()
	rec := postWebhook(t, server, body, signBody(body))

	if rec.Code != http.StatusOK {
		t.Fatalf("Expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	var resp webhookResponse
	if err := json.NewDecoder(rec.Body).Decode(&resp); err != nil {
		t.Fatalf("Failed to decode response: %v", err)
	}
	if !resp.OK || resp.CreditsDelta != 500 || !resp.SubscriptionChanged {
		t.Errorf("Unexpected response: %+v", resp)
	}
	if events.got == nil || events.got.ID != "evt_1" || events.got.Type != billing.EventCheckoutCompleted {
		t.Errorf("Handler received unexpected event: %+v", events.got)
	}
}

func TestWebhook_Replayed(t *testing.T) {
	events := &stubEvents{result: &billing.Result{CreditsDelta: 500, Replayed: true}}
	server := newTestServer(events, nil, nil)

	body := creemCheckoutBody()
	rec := postWebhook(t, server, body, signBody(body))

	if rec.Code != http.StatusOK {
		t.Fatalf("Expected 200, got %d", rec.Code)
	}
	var resp webhookResponse
	json.NewDecoder(rec.Body).Decode(&resp)
	if !resp.Replayed {
		t.Errorf("Expected replayed response: %+v", resp)
	}
}

func TestWebhook_BadSignature(t *testing.T) {
	events := &stubEvents{}
	server := newTestServer(events, nil, nil)

	rec := postWebhook(t, server, creemCheckoutBody(), "deadbeef")

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("Expected 400, got %d", rec.Code)
	}
	if events.got != nil {
		t.Error("Handler must not run for an unverified payload")
	}
}

func TestWebhook_UnknownProvider(t *testing.T) {
	server := newTestServer(&stubEvents{}, nil, nil)

	req := httptest.NewRequest(http.MethodPost, "/api/v1/webhooks/paypal", bytes.NewReader([]byte(`{}`)))
	rec := httptest.NewRecorder()
	server.ServeHTTP(rec, req)

	if rec.Code != http.StatusNotFound {
		t.Fatalf("Expected 404, got %d", rec.Code)
	}
}

func TestWebhook_ErrorMapping(t *testing.T) {
	tests := []struct {
		name       string
		err        error
		wantStatus int
		wantCode   string
	}{
		{"ignored type", billing.ErrUnhandledEventType, http.StatusOK, ""},
		{"subscription conflict", &billing.SubscriptionConflictError{UserID: "u-1"}, http.StatusConflict, "subscription_conflict"},
		{"ledger conflict", &billing.ConflictError{Reason: "duplicate"}, http.StatusConflict, "ledger_conflict"},
		{"invalid payload", &billing.InvalidPayloadError{Provider: billing.ProviderCreem, Reason: "unknown user"}, http.StatusBadRequest, "invalid_payload"},
		{"storage failure", &billing.StorageError{Op: "commit", Err: errors.New("down")}, http.StatusInternalServerError, ""},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			server := newTestServer(&stubEvents{err: tc.err}, nil, nil)
			body := creemCheckoutBody()
			rec := postWebhook(t, server, body, signBody(body))

			if rec.Code != tc.wantStatus {
				t.Fatalf("Expected %d, got %d: %s", tc.wantStatus, rec.Code, rec.Body.String())
			}
			if tc.wantCode != "" {
				var resp struct {
					Code string `json:"code"`
				}
				json.NewDecoder(rec.Body).Decode(&resp)
				if resp.Code != tc.wantCode {
					t.Errorf("Expected code %s, got %s", tc.wantCode, resp.Code)
				}
			}
		})
	}
}
