package delivery

import (
	"context"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vladislavdragonenkov/orderedit/internal/cart"
	"github.com/vladislavdragonenkov/orderedit/internal/domain"
	"github.com/vladislavdragonenkov/orderedit/internal/price"
	"github.com/vladislavdragonenkov/orderedit/internal/rule"
)

func dec(v string) decimal.Decimal {
	return decimal.RequireFromString(v)
}

func decPtr(v string) *decimal.Decimal {
	d := dec(v)
	return &d
}

type stubMethods map[string]Method

func (s stubMethods) ShippingMethod(_ context.Context, id string) (Method, error) {
	m, ok := s[id]
	if !ok || !m.Active {
		return Method{}, domain.ErrShippingMethodNotFound
	}
	return m, nil
}

func tieredMethod() Method {
	return Method{
		ID:      "standard",
		Active:  true,
		TaxType: TaxAuto,
		Prices: []PriceTier{
			{ID: "a-small", RuleID: "rule-a", Mode: ModeLineItemCount, Start: dec("1"), End: decPtr("5"), Price: dec("4.99")},
			{ID: "a-large", RuleID: "rule-a", Mode: ModeLineItemCount, Start: dec("6"), End: decPtr("9"), Price: dec("0")},
			{ID: "b-all", RuleID: "rule-b", Mode: ModeLineItemCount, Start: dec("1"), Price: dec("9.99")},
			{ID: "fallback", Mode: ModeLineItemCount, Start: dec("0"), Price: dec("19.99")},
		},
	}
}

func TestCalculator_SelectTier(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name   string
		ruleA  bool
		ruleB  bool
		count  string
		expect string
	}{
		{name: "highest priority rule, first range", ruleA: true, ruleB: true, count: "3", expect: "a-small"},
		{name: "highest priority rule, second range", ruleA: true, ruleB: true, count: "7", expect: "a-large"},
		{name: "no range of the rule contains metric", ruleA: true, ruleB: true, count: "12", expect: "b-all"},
		{name: "lower priority rule when first not matched", ruleA: false, ruleB: true, count: "3", expect: "b-all"},
		{name: "rule-less tier last", ruleA: false, ruleB: false, count: "3", expect: "fallback"},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			registry := rule.NewMemoryRegistry()
			registry.Register("rule-a", 10, func(rule.Scope) bool { return tt.ruleA })
			registry.Register("rule-b", 5, func(rule.Scope) bool { return tt.ruleB })

			tier, err := NewCalculator(registry).SelectTier(tieredMethod(), Metrics{Count: dec(tt.count)}, rule.Scope{})
			require.NoError(t, err)
			assert.Equal(t, tt.expect, tier.ID)
		})
	}
}

func TestCalculator_SelectTierTieBreakByRuleID(t *testing.T) {
	t.Parallel()

	registry := rule.NewMemoryRegistry()
	registry.Register("rule-z", 1, rule.Always())
	registry.Register("rule-m", 1, rule.Always())

	method := Method{ID: "m", Active: true, Prices: []PriceTier{
		{ID: "z", RuleID: "rule-z", Mode: ModePrice, Start: dec("0"), Price: dec("1")},
		{ID: "m", RuleID: "rule-m", Mode: ModePrice, Start: dec("0"), Price: dec("2")},
	}}

	tier, err := NewCalculator(registry).SelectTier(method, Metrics{Price: dec("10")}, rule.Scope{})
	require.NoError(t, err)
	assert.Equal(t, "m", tier.ID)
}

func TestCalculator_SelectTierFailures(t *testing.T) {
	t.Parallel()

	registry := rule.NewMemoryRegistry()
	registry.Register("rule-a", 1, rule.Always())

	t.Run("no tier matches", func(t *testing.T) {
		method := Method{ID: "m", Prices: []PriceTier{
			{ID: "a", RuleID: "rule-a", Mode: ModeWeight, Start: dec("0"), End: decPtr("1"), Price: dec("5")},
		}}
		_, err := NewCalculator(registry).SelectTier(method, Metrics{Weight: dec("2")}, rule.Scope{})
		require.ErrorIs(t, err, domain.ErrShippingPriceNotFound)
	})

	t.Run("overlapping tiers of one rule", func(t *testing.T) {
		method := Method{ID: "m", Prices: []PriceTier{
			{ID: "a1", RuleID: "rule-a", Mode: ModeLineItemCount, Start: dec("1"), End: decPtr("5"), Price: dec("5")},
			{ID: "a2", RuleID: "rule-a", Mode: ModeLineItemCount, Start: dec("5"), Price: dec("0")},
		}}
		_, err := NewCalculator(registry).SelectTier(method, Metrics{Count: dec("2")}, rule.Scope{})
		require.ErrorIs(t, err, domain.ErrShippingTiersOverlap)
	})

	t.Run("open-ended tier followed by another", func(t *testing.T) {
		method := Method{ID: "m", Prices: []PriceTier{
			{ID: "a1", RuleID: "rule-a", Mode: ModeLineItemCount, Start: dec("1"), Price: dec("5")},
			{ID: "a2", RuleID: "rule-a", Mode: ModeLineItemCount, Start: dec("10"), Price: dec("0")},
		}}
		require.ErrorIs(t, method.Validate(), domain.ErrShippingTiersOverlap)
	})

	t.Run("unknown rule", func(t *testing.T) {
		method := Method{ID: "m", Prices: []PriceTier{
			{ID: "x", RuleID: "missing", Mode: ModeLineItemCount, Start: dec("0"), Price: dec("5")},
		}}
		_, err := NewCalculator(registry).SelectTier(method, Metrics{Count: dec("1")}, rule.Scope{})
		require.ErrorIs(t, err, rule.ErrRuleNotFound)
	})
}

func pricedItem(t *testing.T, calc *price.Calculator, id, unit, rate string, qty int) *cart.LineItem {
	t.Helper()
	item, err := cart.NewLineItem(id, cart.LineItemProduct, qty)
	require.NoError(t, err)
	def := price.NewQuantityDefinition(dec(unit), price.TaxRuleCollection{price.NewTaxRule(dec(rate))}, qty, true)
	p, err := calc.Calculate(def, price.TaxStateGross, nil)
	require.NoError(t, err)
	item.PriceDefinition = &def
	item.Price = &p
	item.DeliveryInformation = &cart.DeliveryInformation{Weight: dec("0.5")}
	return item
}

func TestBuilder_ManualShippingCostsSplitAcrossRates(t *testing.T) {
	t.Parallel()

	calc := price.NewCalculator(price.DefaultRounding())
	c := cart.New("t")
	require.NoError(t, c.AddLineItems(
		pricedItem(t, calc, "p19", "100", "19", 1),
		pricedItem(t, calc, "p5", "100", "5", 1),
	))
	c.ManualShippingCosts = &price.CalculatedPrice{UnitPrice: dec("5"), TotalPrice: dec("5"), Quantity: 1}

	builder := NewBuilder(stubMethods{"standard": tieredMethod()}, NewCalculator(rule.NewMemoryRegistry()))
	sc := cart.SalesContext{TaxState: price.TaxStateGross, ShippingMethodID: "standard", Now: time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)}
	require.NoError(t, builder.Build(context.Background(), c, sc, calc))

	require.Len(t, c.Deliveries, 1)
	costs := c.Deliveries[0].ShippingCosts
	assert.True(t, dec("5").Equal(costs.TotalPrice))
	require.Len(t, costs.CalculatedTaxes, 2)

	rates := costs.CalculatedTaxes.Rates()
	assert.True(t, dec("5").Equal(rates[0]))
	assert.True(t, dec("19").Equal(rates[1]))

	bucketSum := decimal.Zero
	for _, tax := range costs.CalculatedTaxes {
		bucketSum = bucketSum.Add(tax.Price)
	}
	assert.True(t, costs.TotalPrice.Equal(bucketSum))
	// 2.50 * 19/119 + 2.50 * 5/105
	assert.True(t, dec("0.52").Equal(costs.CalculatedTaxes.Amount()), costs.CalculatedTaxes.Amount().String())
}

func TestBuilder_ReusesDeliveryIdentity(t *testing.T) {
	t.Parallel()

	calc := price.NewCalculator(price.DefaultRounding())
	registry := rule.NewMemoryRegistry()
	registry.Register("rule-a", 10, rule.Always())
	registry.Register("rule-b", 5, rule.Always())

	c := cart.New("t")
	require.NoError(t, c.AddLineItems(pricedItem(t, calc, "p1", "10", "19", 2)))
	c.Deliveries = cart.Deliveries{
		{ID: "keep-me", Positions: []cart.DeliveryPosition{{LineItemID: "p1", OriginalID: "pos-row"}}},
		{ID: "promotion-delivery-d1", DiscountID: "d1"},
	}

	builder := NewBuilder(stubMethods{"standard": tieredMethod()}, NewCalculator(registry))
	sc := cart.SalesContext{TaxState: price.TaxStateGross, ShippingMethodID: "standard"}
	require.NoError(t, builder.Build(context.Background(), c, sc, calc))

	require.Len(t, c.Deliveries, 1)
	d := c.Deliveries[0]
	assert.Equal(t, "keep-me", d.ID)
	assert.Equal(t, "pos-row", d.Positions[0].OriginalID)
	assert.True(t, dec("4.99").Equal(d.ShippingCosts.TotalPrice))
	assert.False(t, d.Date.Earliest.IsZero())
}

func TestBuilder_FreeDeliveryAndMissingMethod(t *testing.T) {
	t.Parallel()

	calc := price.NewCalculator(price.DefaultRounding())
	c := cart.New("t")
	item := pricedItem(t, calc, "p1", "10", "19", 1)
	item.DeliveryInformation.FreeDelivery = true
	require.NoError(t, c.AddLineItems(item))

	builder := NewBuilder(stubMethods{"standard": tieredMethod()}, NewCalculator(rule.NewMemoryRegistry()))
	sc := cart.SalesContext{TaxState: price.TaxStateGross, ShippingMethodID: "standard"}
	require.NoError(t, builder.Build(context.Background(), c, sc, calc))
	assert.True(t, c.Deliveries[0].ShippingCosts.TotalPrice.IsZero())

	sc.ShippingMethodID = "express"
	err := builder.Build(context.Background(), c, sc, calc)
	require.ErrorIs(t, err, domain.ErrShippingMethodNotFound)
}

func TestTaxRules(t *testing.T) {
	t.Parallel()

	calc := price.NewCalculator(price.DefaultRounding())
	a := pricedItem(t, calc, "a", "30", "19", 1)
	b := pricedItem(t, calc, "b", "10", "7", 1)
	d := cart.Delivery{Positions: []cart.DeliveryPosition{
		{LineItemID: "a", Quantity: 1, Price: *a.Price},
		{LineItemID: "b", Quantity: 1, Price: *b.Price},
	}}

	highest := TaxRules(Method{TaxType: TaxHighest}, d)
	require.Len(t, highest, 1)
	assert.True(t, dec("19").Equal(highest[0].TaxRate))

	fixed := TaxRules(Method{TaxType: TaxFixed, TaxRate: dec("10")}, d)
	require.Len(t, fixed, 1)
	assert.True(t, dec("10").Equal(fixed[0].TaxRate))

	auto := TaxRules(Method{TaxType: TaxAuto}, d)
	require.Len(t, auto, 2)
	assert.True(t, dec("75").Equal(auto[0].Percentage))
}
