package billing

import (
	"context"
	"fmt"

	"github.com/pixelmint/pixelmint/pkg/audit"
	"github.com/pixelmint/pixelmint/pkg/observability"
	"github.com/pixelmint/pixelmint/pkg/subscriptions"
)

// CheckoutParams describes a checkout session to create
type CheckoutParams struct {
	UserID     string
	PlanID     string
	OrderID    string
	SuccessURL string
	CancelURL  string
}

// CheckoutSession is the provider-hosted checkout the user is redirected to
type CheckoutSession struct {
	URL               string `json:"url"`
	ProviderSessionID string `json:"provider_session_id"`
}

// CheckoutProvider creates checkout sessions with an external payment
// provider. Implementations are registered at startup as a closed set; a
// provider must implement the full interface to be registered.
type CheckoutProvider interface {
	Provider() Provider
	CreateCheckout(ctx context.Context, plan Plan, params CheckoutParams) (*CheckoutSession, error)
}

// Registry holds the registered checkout providers
type Registry struct {
	providers map[Provider]CheckoutProvider
}

// NewRegistry builds a registry from the given providers
func NewRegistry(providers ...CheckoutProvider) (*Registry, error) {
	byName := make(map[Provider]CheckoutProvider, len(providers))
	for _, p := range providers {
		name := p.Provider()
		if !name.Valid() {
			return nil, fmt.Errorf("unknown provider: %s", name)
		}
		if _, dup := byName[name]; dup {
			return nil, fmt.Errorf("duplicate provider registration: %s", name)
		}
		byName[name] = p
	}
	return &Registry{providers: byName}, nil
}

// Get returns the registered provider adapter
func (r *Registry) Get(name Provider) (CheckoutProvider, bool) {
	p, ok := r.providers[name]
	return p, ok
}

// CheckoutService creates provider checkout sessions, refusing when the user
// already has a blocking subscription. The event handler re-checks on the
// resulting checkout.completed event; enforcing here avoids selling a session
// that would later be rejected.
type CheckoutService struct {
	registry *Registry
	subs     *subscriptions.Store
	catalog  *Catalog
	logger   *observability.Logger
	metrics  *observability.Metrics
	audit    audit.Logger
}

// NewCheckoutService creates a checkout service
func NewCheckoutService(registry *Registry, subs *subscriptions.Store, catalog *Catalog,
	logger *observability.Logger, metrics *observability.Metrics, auditLogger audit.Logger) *CheckoutService {
	if auditLogger == nil {
		auditLogger = audit.NopLogger{}
	}
	if catalog == nil {
		catalog = DefaultCatalog()
	}
	return &CheckoutService{
		registry: registry,
		subs:     subs,
		catalog:  catalog,
		logger:   logger,
		metrics:  metrics,
		audit:    auditLogger,
	}
}

// CreateCheckout validates the request and creates a provider checkout session
func (s *CheckoutService) CreateCheckout(ctx context.Context, provider Provider, params CheckoutParams) (*CheckoutSession, error) {
	adapter, ok := s.registry.Get(provider)
	if !ok {
		s.metrics.CheckoutsRejectedTotal.WithLabelValues(string(provider), "unknown_provider").Inc()
		return nil, NewInvalidPayloadError(provider, "provider not configured")
	}

	plan, ok := s.catalog.Get(params.PlanID)
	if !ok {
		s.metrics.CheckoutsRejectedTotal.WithLabelValues(string(provider), "unknown_plan").Inc()
		return nil, NewInvalidPayloadError(provider, "unknown plan %q", params.PlanID)
	}

	blocker, err := s.subs.GetBlockingSubscription(ctx, s.subs.DB(), params.UserID)
	if err != nil {
		return nil, &StorageError{Op: "blocking subscription check", Err: err}
	}
	if blocker != nil {
		s.metrics.CheckoutsRejectedTotal.WithLabelValues(string(provider), "subscription_conflict").Inc()
		return nil, &SubscriptionConflictError{UserID: params.UserID, ExistingPlan: blocker.Plan}
	}

	session, err := adapter.CreateCheckout(ctx, plan, params)
	if err != nil {
		return nil, fmt.Errorf("failed to create %s checkout: %w", provider, err)
	}

	s.metrics.CheckoutsCreatedTotal.WithLabelValues(string(provider), plan.ID).Inc()
	s.logger.WithFields(map[string]interface{}{
		"provider": string(provider),
		"plan":     plan.ID,
		"user_id":  params.UserID,
	}).Info("Created checkout session")

	if err := s.audit.Record(ctx, audit.Entry{
		Actor:    params.UserID,
		Action:   audit.ActionCheckoutInitiated,
		Resource: fmt.Sprintf("%s/%s", provider, session.ProviderSessionID),
		Outcome:  "created",
		Detail:   map[string]interface{}{"plan": plan.ID, "order_id": params.OrderID},
	}); err != nil {
		s.logger.WithError(err).Warn("Failed to record audit entry")
	}

	return session, nil
}
