package billing

import "fmt"

// Plan describes a purchasable subscription tier and its credit grant
type Plan struct {
	ID              string `json:"id"`
	Name            string `json:"name"`
	CreemProductID  string `json:"creem_product_id,omitempty"`
	StripePriceID   string `json:"stripe_price_id,omitempty"`
	CreditsPerCycle int64  `json:"credits_per_cycle"`
	PriceCents      int64  `json:"price_cents"`
	Interval        string `json:"interval"`
}

// Catalog is an immutable set of purchasable plans keyed by plan id
type Catalog struct {
	plans map[string]Plan
}

// NewCatalog builds a catalog from the given plans
func NewCatalog(plans ...Plan) (*Catalog, error) {
	byID := make(map[string]Plan, len(plans))
	for _, p := range plans {
		if p.ID == "" {
			return nil, fmt.Errorf("plan with empty id")
		}
		if _, dup := byID[p.ID]; dup {
			return nil, fmt.Errorf("duplicate plan id: %s", p.ID)
		}
		byID[p.ID] = p
	}
	return &Catalog{plans: byID}, nil
}

// DefaultCatalog returns the standard Pixelmint plan lineup
func DefaultCatalog() *Catalog {
	catalog, _ := NewCatalog(
		Plan{
			ID:              "standard",
			Name:            "Standard",
			CreemProductID:  "prod_standard_monthly",
			StripePriceID:   "price_standard_monthly",
			CreditsPerCycle: 500,
			PriceCents:      999,
			Interval:        "month",
		},
		Plan{
			ID:              "pro",
			Name:            "Pro",
			CreemProductID:  "prod_pro_monthly",
			StripePriceID:   "price_pro_monthly",
			CreditsPerCycle: 2000,
			PriceCents:      2499,
			Interval:        "month",
		},
		Plan{
			ID:              "pro-yearly",
			Name:            "Pro (annual)",
			CreemProductID:  "prod_pro_yearly",
			StripePriceID:   "price_pro_yearly",
			CreditsPerCycle: 2000,
			PriceCents:      23988,
			Interval:        "year",
		},
	)
	return catalog
}

// Get returns the plan with the given id
func (c *Catalog) Get(id string) (Plan, bool) {
	p, ok := c.plans[id]
	return p, ok
}

// ByProviderRef resolves a plan from a provider-side product/price reference
func (c *Catalog) ByProviderRef(provider Provider, ref string) (Plan, bool) {
	if ref == "" {
		return Plan{}, false
	}
	for _, p := range c.plans {
		switch provider {
		case ProviderCreem:
			if p.CreemProductID == ref {
				return p, true
			}
		case ProviderStripe:
			if p.StripePriceID == ref {
				return p, true
			}
		}
	}
	return Plan{}, false
}

// IDs returns all plan ids in the catalog
func (c *Catalog) IDs() []string {
	ids := make([]string, 0, len(c.plans))
	for id := range c.plans {
		ids = append(ids, id)
	}
	return ids
}
