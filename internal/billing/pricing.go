package billing

// Plan is one purchasable credit pack. The catalog is static configuration;
// ExternalPriceID is the payment processor's identifier for the pack.
type Plan struct {
	Name            string
	PriceAmount     int64
	CreditAmount    int64
	ExternalPriceID string
}

// Catalog maps external price identifiers to plans.
type Catalog struct {
	plans   []Plan
	byPrice map[string]Plan
}

// NewCatalog builds a catalog from the provided plans.
func NewCatalog(plans []Plan) *Catalog {
	byPrice := make(map[string]Plan, len(plans))
	for _, plan := range plans {
		byPrice[plan.ExternalPriceID] = plan
	}
	return &Catalog{plans: plans, byPrice: byPrice}
}

// DefaultCatalog returns the shipped credit packs.
func DefaultCatalog() *Catalog {
	return NewCatalog([]Plan{
		{Name: "Basic", PriceAmount: 5, CreditAmount: 50, ExternalPriceID: "price_1RxUFeEPLxn9A8IK0IJyF66f"},
		{Name: "Pro", PriceAmount: 10, CreditAmount: 120, ExternalPriceID: "price_1RxUMxEPLxn9A8IKkiIZilD4"},
		{Name: "Ultimate", PriceAmount: 20, CreditAmount: 300, ExternalPriceID: "price_1RxUNREPLxn9A8IKk5IK5hfe"},
	})
}

// Plans lists every plan in catalog order.
func (c *Catalog) Plans() []Plan {
	return c.plans
}

// CreditsForPrice resolves an external price identifier to its credit amount.
func (c *Catalog) CreditsForPrice(priceID string) (int64, bool) {
	plan, ok := c.byPrice[priceID]
	if !ok {
		return 0, false
	}
	return plan.CreditAmount, true
}
