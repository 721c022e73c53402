package billing

import (
	"strings"

	"pulseboard/internal/config"
)

// BillingCycle selects a plan price.
type BillingCycle string

const (
	CycleMonthly BillingCycle = "monthly"
	CycleYearly  BillingCycle = "yearly"
)

// PlanPrice is a purchasable price point for a plan.
type PlanPrice struct {
	PriceID  string
	Amount   int64 // smallest currency unit
	Currency string
}

// Plan is a static catalog entry. Price IDs come from configuration so each
// environment can point at its own Stripe objects; amounts and trial lengths
// are fixed product decisions.
type Plan struct {
	ID          string
	Name        string
	Description string
	Monthly     PlanPrice
	Yearly      PlanPrice
	TrialDays   int
	Enterprise  bool // sales-led, no self-serve price IDs
}

// Catalog is the set of purchasable plans, resolvable by price ID.
type Catalog struct {
	plans []Plan
}

// NewCatalog builds the plan catalog from the configured Stripe price IDs.
func NewCatalog(cfg config.StripeConfig) *Catalog {
	return &Catalog{
		plans: []Plan{
			{
				ID:          "basic",
				Name:        "Basic",
				Description: "Essential features for individual users",
				Monthly:     PlanPrice{PriceID: cfg.BasicPriceMonthly, Amount: 900, Currency: "usd"},
				Yearly:      PlanPrice{PriceID: cfg.BasicPriceYearly, Amount: 9900, Currency: "usd"},
				TrialDays:   7,
			},
			{
				ID:          "pro",
				Name:        "Pro",
				Description: "For professionals and growing teams",
				Monthly:     PlanPrice{PriceID: cfg.ProPriceMonthly, Amount: 2900, Currency: "usd"},
				Yearly:      PlanPrice{PriceID: cfg.ProPriceYearly, Amount: 29900, Currency: "usd"},
				TrialDays:   14,
			},
			{
				ID:          "enterprise",
				Name:        "Enterprise",
				Description: "For large organizations with custom needs",
				Enterprise:  true,
			},
		},
	}
}

// Plans returns the catalog entries in display order.
func (c *Catalog) Plans() []Plan {
	out := make([]Plan, len(c.plans))
	copy(out, c.plans)
	return out
}

// PlanByID returns the plan with the given ID, or nil.
func (c *Catalog) PlanByID(id string) *Plan {
	for i := range c.plans {
		if c.plans[i].ID == id {
			return &c.plans[i]
		}
	}
	return nil
}

// PlanByPriceID resolves a Stripe price ID to its plan and cycle.
// Empty price IDs (unconfigured or enterprise plans) never match.
func (c *Catalog) PlanByPriceID(priceID string) (*Plan, BillingCycle) {
	if priceID == "" {
		return nil, ""
	}
	for i := range c.plans {
		p := &c.plans[i]
		if p.Monthly.PriceID == priceID {
			return p, CycleMonthly
		}
		if p.Yearly.PriceID == priceID {
			return p, CycleYearly
		}
	}
	return nil, ""
}

// PlanNameByPriceID maps a price ID to its display name; unknown price IDs
// fall back to the price nickname supplied by the caller, then "Unknown".
func (c *Catalog) PlanNameByPriceID(priceID, nickname string) string {
	if plan, _ := c.PlanByPriceID(priceID); plan != nil {
		return plan.Name
	}
	if nickname != "" {
		return nickname
	}
	return "Unknown"
}

// ValidPriceID reports whether the price ID is a purchasable catalog price
// for the given cycle.
func (c *Catalog) ValidPriceID(priceID string, cycle BillingCycle) bool {
	if !strings.HasPrefix(priceID, "price_") {
		return false
	}
	plan, matched := c.PlanByPriceID(priceID)
	return plan != nil && matched == cycle
}
