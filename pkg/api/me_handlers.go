package api

import (
	"errors"
	"net/http"
	"time"

	"github.com/pixelmint/pixelmint/pkg/contextkeys"
	"github.com/pixelmint/pixelmint/pkg/httputil"
	"github.com/pixelmint/pixelmint/pkg/ledger"
	"github.com/pixelmint/pixelmint/pkg/subscriptions"
	"github.com/pixelmint/pixelmint/pkg/users"
)

type subscriptionResponse struct {
	Plan               string     `json:"plan"`
	Status             string     `json:"status"`
	Provider           string     `json:"provider"`
	CurrentPeriodStart *time.Time `json:"current_period_start,omitempty"`
	CurrentPeriodEnd   *time.Time `json:"current_period_end,omitempty"`
}

// getSubscription handles GET /api/v1/me/subscription
func (s *Server) getSubscription(w http.ResponseWriter, r *http.Request) {
	userID := contextkeys.GetUserID(r.Context())
	if userID == "" {
		httputil.WriteUnauthorized(w, "Authentication required")
		return
	}

	sub, err := s.subs.GetBlockingSubscription(r.Context(), s.subs.DB(), userID)
	if err != nil {
		s.logger.WithError(err).Error("Failed to load subscription")
		httputil.WriteInternalError(w, errors.New("failed to load subscription"))
		return
	}
	if sub == nil {
		httputil.WriteSuccess(w, map[string]interface{}{"subscription": nil})
		return
	}

	httputil.WriteSuccess(w, map[string]interface{}{"subscription": toSubscriptionResponse(sub)})
}

func toSubscriptionResponse(sub *subscriptions.Subscription) subscriptionResponse {
	return subscriptionResponse{
		Plan:               sub.Plan,
		Status:             string(sub.Status),
		Provider:           sub.Provider,
		CurrentPeriodStart: sub.CurrentPeriodStart,
		CurrentPeriodEnd:   sub.CurrentPeriodEnd,
	}
}

// getCredits handles GET /api/v1/me/credits
func (s *Server) getCredits(w http.ResponseWriter, r *http.Request) {
	userID := contextkeys.GetUserID(r.Context())
	if userID == "" {
		httputil.WriteUnauthorized(w, "Authentication required")
		return
	}

	user, err := s.users.GetByID(r.Context(), userID)
	if err != nil {
		if errors.Is(err, users.ErrUserNotFound) {
			httputil.WriteNotFoundError(w, "User not found")
			return
		}
		s.logger.WithError(err).Error("Failed to load user")
		httputil.WriteInternalError(w, errors.New("failed to load balance"))
		return
	}

	httputil.WriteSuccess(w, map[string]interface{}{"balance": user.CreditsBalance})
}

type historyResponse struct {
	Transactions []*ledger.Transaction `json:"transactions"`
	Limit        int                   `json:"limit"`
	Offset       int                   `json:"offset"`
}

// getCreditHistory handles GET /api/v1/me/credits/history
func (s *Server) getCreditHistory(w http.ResponseWriter, r *http.Request) {
	userID := contextkeys.GetUserID(r.Context())
	if userID == "" {
		httputil.WriteUnauthorized(w, "Authentication required")
		return
	}

	limit, err := httputil.ParseQueryInt(r, "limit", 50)
	if err != nil {
		httputil.WriteValidationError(w, "Invalid limit")
		return
	}
	offset, err := httputil.ParseQueryInt(r, "offset", 0)
	if err != nil {
		httputil.WriteValidationError(w, "Invalid offset")
		return
	}

	txns, err := s.ledger.History(r.Context(), s.ledger.DB(), userID, limit, offset)
	if err != nil {
		s.logger.WithError(err).Error("Failed to load credit history")
		httputil.WriteInternalError(w, errors.New("failed to load history"))
		return
	}
	if txns == nil {
		txns = []*ledger.Transaction{}
	}

	httputil.WriteSuccess(w, historyResponse{Transactions: txns, Limit: limit, Offset: offset})
}
