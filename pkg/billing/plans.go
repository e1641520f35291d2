package billing

import "strings"

// Plan ids. Team plans are disjoint from individual plans; max-lifetime is
// the only payment-mode plan and is terminal once paid.
const (
	PlanProMonthly   = "pro-monthly"
	PlanProQuarterly = "pro-quarterly"
	PlanProYearly    = "pro-yearly"
	PlanMaxLifetime  = "max-lifetime"
	PlanTeamMonthly  = "team-monthly"
	PlanTeamYearly   = "team-yearly"
)

// Provider metadata keys used to tag customers, subscriptions and
// payment intents for later reconciliation.
const (
	MetadataKeyPlanID = "plan_id"
	MetadataKeyUserID = "user_id"
	MetadataKeyOrgID  = "org_id"
)

// Plan is a static catalog entry. PriceRef is either a provider price id
// (price_...) or a price lookup key.
type Plan struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
	Mode        Mode   `json:"mode"`
	Team        bool   `json:"team"`
	Interval    string `json:"interval,omitempty"`
	PriceRef    string `json:"price_ref"`
}

// RefIsPriceID reports whether the plan's price reference is a concrete
// provider price id rather than a lookup key.
func (p Plan) RefIsPriceID() bool {
	return strings.HasPrefix(p.PriceRef, "price_")
}

// Catalog is the static plan registry. Pure lookup, no I/O.
type Catalog struct {
	plans []Plan
	byID  map[string]Plan
	byRef map[string]Plan
}

func defaultPlans() []Plan {
	return []Plan{
		{ID: PlanProMonthly, Name: "Pro Monthly", Mode: ModeSubscription, Interval: "month", PriceRef: "billingd-pro-monthly"},
		{ID: PlanProQuarterly, Name: "Pro Quarterly", Mode: ModeSubscription, Interval: "quarter", PriceRef: "billingd-pro-quarterly"},
		{ID: PlanProYearly, Name: "Pro Yearly", Mode: ModeSubscription, Interval: "year", PriceRef: "billingd-pro-yearly"},
		{ID: PlanMaxLifetime, Name: "Max Lifetime", Description: "One-time purchase, permanent access", Mode: ModePayment, PriceRef: "billingd-max-lifetime"},
		{ID: PlanTeamMonthly, Name: "Team Monthly", Mode: ModeSubscription, Team: true, Interval: "month", PriceRef: "billingd-team-monthly"},
		{ID: PlanTeamYearly, Name: "Team Yearly", Mode: ModeSubscription, Team: true, Interval: "year", PriceRef: "billingd-team-yearly"},
	}
}

// NewCatalog builds the plan catalog. priceRefs overrides the default
// price lookup keys per plan id, typically from configuration; values may
// be concrete price ids or lookup keys.
func NewCatalog(priceRefs map[string]string) *Catalog {
	plans := defaultPlans()
	for i := range plans {
		if ref, ok := priceRefs[plans[i].ID]; ok && ref != "" {
			plans[i].PriceRef = ref
		}
	}

	c := &Catalog{
		plans: plans,
		byID:  make(map[string]Plan, len(plans)),
		byRef: make(map[string]Plan, len(plans)),
	}
	for _, p := range plans {
		c.byID[p.ID] = p
		c.byRef[p.PriceRef] = p
	}
	return c
}

// DefaultCatalog returns the catalog with default price lookup keys
func DefaultCatalog() *Catalog {
	return NewCatalog(nil)
}

// Get looks up a plan by id
func (c *Catalog) Get(id string) (Plan, bool) {
	p, ok := c.byID[id]
	return p, ok
}

// List returns all plans in catalog order
func (c *Catalog) List() []Plan {
	out := make([]Plan, len(c.plans))
	copy(out, c.plans)
	return out
}

// PlanHints are the clues available when resolving which catalog plan a
// provider object corresponds to.
type PlanHints struct {
	// Metadata is the provider object's metadata; the plan_id tag wins
	// when present and valid.
	Metadata map[string]string
	// PriceID and PriceLookupKey identify the bound provider price.
	PriceID        string
	PriceLookupKey string
	// PriorPlanID is the previously stored plan id, used as a last
	// resort so an unrecognized price fails open instead of clearing
	// the plan.
	PriorPlanID string
}

// ResolvePlan maps provider-side hints to a catalog plan id using a fixed
// priority order: explicit metadata tag, then bound price reference, then
// the previously stored plan id. Returns "" when nothing matches.
func (c *Catalog) ResolvePlan(h PlanHints) string {
	if id, ok := h.Metadata[MetadataKeyPlanID]; ok {
		if _, known := c.byID[id]; known {
			return id
		}
	}
	if h.PriceID != "" {
		if p, ok := c.byRef[h.PriceID]; ok {
			return p.ID
		}
	}
	if h.PriceLookupKey != "" {
		if p, ok := c.byRef[h.PriceLookupKey]; ok {
			return p.ID
		}
	}
	if _, known := c.byID[h.PriorPlanID]; known {
		return h.PriorPlanID
	}
	return ""
}

// isTerminalLifetime reports whether a record holds the terminal lifetime
// state: the payment-mode plan with a settled status. No further plan
// changes or checkouts are permitted while it holds.
func (c *Catalog) isTerminalLifetime(r *Record) bool {
	p, ok := c.byID[r.PlanID]
	if !ok || p.Mode != ModePayment {
		return false
	}
	return r.Status == StatusPaid || r.Status == StatusActive
}
