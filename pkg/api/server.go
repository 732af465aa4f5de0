package api

import (
	"context"
	"net/http"

	"github.com/gorilla/mux"

	"github.com/pixelmint/pixelmint/pkg/billing"
	"github.com/pixelmint/pixelmint/pkg/images"
	"github.com/pixelmint/pixelmint/pkg/ledger"
	"github.com/pixelmint/pixelmint/pkg/observability"
	"github.com/pixelmint/pixelmint/pkg/subscriptions"
	"github.com/pixelmint/pixelmint/pkg/users"
)

// EventHandler processes canonical billing events
type EventHandler interface {
	Handle(ctx context.Context, event *billing.Event) (*billing.Result, error)
}

// CheckoutCreator creates provider checkout sessions
type CheckoutCreator interface {
	CreateCheckout(ctx context.Context, provider billing.Provider, params billing.CheckoutParams) (*billing.CheckoutSession, error)
}

// Middleware wraps a handler
type Middleware func(http.Handler) http.Handler

// Server represents the Pixelmint API server
type Server struct {
	router *mux.Router

	normalizers map[billing.Provider]billing.Normalizer
	events      EventHandler
	checkout    CheckoutCreator
	catalog     *billing.Catalog
	users       *users.Store
	subs        *subscriptions.Store
	ledger      *ledger.Store
	images      *images.Store

	logger  *observability.Logger
	metrics *observability.Metrics
}

// Config wires the server's collaborators. Auth and RateLimit are applied to
// authenticated routes; webhooks carry their own signature verification and
// skip Auth.
type Config struct {
	Normalizers []billing.Normalizer
	Events      EventHandler
	Checkout    CheckoutCreator
	Catalog     *billing.Catalog

	Users         *users.Store
	Subscriptions *subscriptions.Store
	Ledger        *ledger.Store
	Images        *images.Store

	Logger  *observability.Logger
	Metrics *observability.Metrics

	Auth      Middleware
	RateLimit Middleware
}

// NewServer creates a new API server
func NewServer(cfg Config) *Server {
	s := &Server{
		router:      mux.NewRouter(),
		normalizers: make(map[billing.Provider]billing.Normalizer, len(cfg.Normalizers)),
		events:      cfg.Events,
		checkout:    cfg.Checkout,
		catalog:     cfg.Catalog,
		users:       cfg.Users,
		subs:        cfg.Subscriptions,
		ledger:      cfg.Ledger,
		images:      cfg.Images,
		logger:      cfg.Logger,
		metrics:     cfg.Metrics,
	}
	if s.catalog == nil {
		s.catalog = billing.DefaultCatalog()
	}
	for _, n := range cfg.Normalizers {
		s.normalizers[n.Provider()] = n
	}

	s.setupRoutes(cfg.Auth, cfg.RateLimit)
	return s
}

// setupRoutes configures all the API routes
func (s *Server) setupRoutes(authMW, rateMW Middleware) {
	chain := func(h http.HandlerFunc, mws ...Middleware) http.Handler {
		var handler http.Handler = h
		for i := len(mws) - 1; i >= 0; i-- {
			if mws[i] != nil {
				handler = mws[i](handler)
			}
		}
		return handler
	}

	// Webhook intake: signature-authenticated, rate limited by source IP
	s.router.Handle("/api/v1/webhooks/{provider}",
		chain(s.handleWebhook, rateMW)).Methods("POST")

	// Catalog is public
	s.router.HandleFunc("/api/v1/plans", s.listPlans).Methods("GET")

	// Authenticated routes
	s.router.Handle("/api/v1/checkout",
		chain(s.createCheckout, authMW, rateMW)).Methods("POST")
	s.router.Handle("/api/v1/me/subscription",
		chain(s.getSubscription, authMW, rateMW)).Methods("GET")
	s.router.Handle("/api/v1/me/credits",
		chain(s.getCredits, authMW, rateMW)).Methods("GET")
	s.router.Handle("/api/v1/me/credits/history",
		chain(s.getCreditHistory, authMW, rateMW)).Methods("GET")
	s.router.Handle("/api/v1/images/{key:.*}",
		chain(s.getImage, authMW, rateMW)).Methods("GET")
}

// ServeHTTP implements http.Handler
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}
