package api

import (
	"errors"
	"net/http"

	"github.com/pixelmint/pixelmint/pkg/billing"
	"github.com/pixelmint/pixelmint/pkg/contextkeys"
	"github.com/pixelmint/pixelmint/pkg/httputil"
)

type checkoutRequest struct {
	Provider string `json:"provider"`
	PlanID   string `json:"plan_id"`
	OrderID  string `json:"order_id,omitempty"`
}

// createCheckout handles POST /api/v1/checkout
func (s *Server) createCheckout(w http.ResponseWriter, r *http.Request) {
	userID := contextkeys.GetUserID(r.Context())
	if userID == "" {
		httputil.WriteUnauthorized(w, "Authentication required")
		return
	}

	var req checkoutRequest
	if err := httputil.ParseJSON(r, &req); err != nil {
		httputil.WriteBadRequest(w, err.Error())
		return
	}
	if !httputil.RequireNonEmpty(w, req.Provider, "provider") {
		return
	}
	if !httputil.RequireNonEmpty(w, req.PlanID, "plan_id") {
		return
	}

	session, err := s.checkout.CreateCheckout(r.Context(), billing.Provider(req.Provider), billing.CheckoutParams{
		UserID:  userID,
		PlanID:  req.PlanID,
		OrderID: req.OrderID,
	})
	if err != nil {
		s.writeCheckoutError(w, err)
		return
	}

	httputil.WriteCreated(w, session)
}

func (s *Server) writeCheckoutError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, &billing.InvalidPayloadError{}):
		httputil.WriteCodedError(w, http.StatusBadRequest, "invalid_request", err.Error())
	case errors.Is(err, &billing.SubscriptionConflictError{}):
		httputil.WriteCodedError(w, http.StatusConflict, "subscription_conflict", err.Error())
	default:
		s.logger.WithError(err).Error("Checkout creation failed")
		httputil.WriteInternalError(w, errors.New("checkout creation failed"))
	}
}

// listPlans handles GET /api/v1/plans
func (s *Server) listPlans(w http.ResponseWriter, r *http.Request) {
	plans := make([]billing.Plan, 0)
	for _, id := range s.catalog.IDs() {
		if plan, ok := s.catalog.Get(id); ok {
			plans = append(plans, plan)
		}
	}
	httputil.WriteSuccess(w, map[string]interface{}{"plans": plans})
}
