package plan

// DefaultCatalog returns the built-in StableBook plan tiers. Provider
// price ids are left empty; providers that need catalog prices (Paddle)
// get them injected at startup via WithProviderPrices.
func DefaultCatalog() []Plan {
	return []Plan{
		{
			ID:             "starter",
			Name:           "Starter",
			Description:    "One horse, full records",
			MaxHorses:      1,
			MaxMonthlyDocs: 25,
			MonthlyPrice:   Money{Amount: 900, Currency: "USD"},
			AnnualPrice:    Money{Amount: 9000, Currency: "USD"},
			Public:         true,
		},
		{
			ID:             "trainer",
			Name:           "Trainer",
			Description:    "Up to five horses with training logs",
			MaxHorses:      5,
			MaxMonthlyDocs: 200,
			MonthlyPrice:   Money{Amount: 2900, Currency: "USD"},
			AnnualPrice:    Money{Amount: 29000, Currency: "USD"},
			Public:         true,
		},
		{
			ID:             "stable",
			Name:           "Stable",
			Description:    "Unlimited horses for full barns",
			MaxHorses:      Unlimited,
			MaxMonthlyDocs: Unlimited,
			MonthlyPrice:   Money{Amount: 9900, Currency: "USD"},
			AnnualPrice:    Money{Amount: 99000, Currency: "USD"},
			Public:         true,
		},
	}
}

// WithProviderPrices attaches processor price ids to a catalog plan.
func (p Plan) WithProviderPrices(prices map[BillingCycle]string) Plan {
	p.ProviderPriceIDs = prices
	return p
}
