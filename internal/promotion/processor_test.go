package promotion

import (
	"context"
	"testing"

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

type stubRepository struct {
	promotions map[string]Promotion
}

func newStubRepository(promotions ...Promotion) *stubRepository {
	repo := &stubRepository{promotions: map[string]Promotion{}}
	for _, p := range promotions {
		repo.promotions[p.ID] = p
	}
	return repo
}

func (s *stubRepository) Automatic(context.Context) ([]Promotion, error) {
	var out []Promotion
	for _, p := range s.promotions {
		if p.Active && p.IsAutomatic() {
			out = append(out, p)
		}
	}
	return out, nil
}

func (s *stubRepository) ByCode(_ context.Context, code string) (Promotion, error) {
	for _, p := range s.promotions {
		if p.Code != "" && p.Code == code {
			return p, nil
		}
	}
	return Promotion{}, domain.ErrPromotionNotFound
}

func (s *stubRepository) Get(_ context.Context, id string) (Promotion, error) {
	p, ok := s.promotions[id]
	if !ok {
		return Promotion{}, domain.ErrPromotionNotFound
	}
	return p, nil
}

func goodsCart(t *testing.T, calc *price.Calculator, gross string) *cart.Cart {
	t.Helper()
	item, err := cart.NewLineItem("p1", cart.LineItemProduct, 1)
	require.NoError(t, err)
	def := price.NewQuantityDefinition(dec(gross), price.TaxRuleCollection{price.NewTaxRule(dec("19"))}, 1, true)
	p, err := calc.Calculate(def, price.TaxStateGross, nil)
	require.NoError(t, err)
	item.PriceDefinition = &def
	item.Price = &p

	c := cart.New("token")
	require.NoError(t, c.AddLineItems(item))
	return c
}

func autoPercent(value string) Promotion {
	return Promotion{
		ID:       "auto",
		Name:     "Autumn sale",
		Active:   true,
		Priority: 1,
		Discounts: []Discount{
			{ID: "d-auto", Scope: ScopeCart, Type: TypePercentage, Value: dec(value)},
		},
	}
}

var gross = cart.SalesContext{TaxState: price.TaxStateGross}

func TestProcessor_Idempotent(t *testing.T) {
	t.Parallel()

	calc := price.NewCalculator(price.DefaultRounding())
	processor := NewProcessor(newStubRepository(autoPercent("10")), rule.NewMemoryRegistry())
	c := goodsCart(t, calc, "100")

	_, err := processor.Process(context.Background(), c, gross, calc)
	require.NoError(t, err)
	first := c.LineItems.FilterType(cart.LineItemPromotion)
	require.Len(t, first, 1)
	firstPayload := first[0].Payload

	_, err = processor.Process(context.Background(), c, gross, calc)
	require.NoError(t, err)
	second := c.LineItems.FilterType(cart.LineItemPromotion)
	require.Len(t, second, 1)

	assert.Equal(t, "d-auto", second[0].ID)
	assert.Equal(t, firstPayload, second[0].Payload)
	assert.True(t, dec("-10").Equal(second[0].Price.TotalPrice))
	assert.Equal(t, "auto", second[0].Payload[PayloadPromotionID])
}

func TestProcessor_RemovesDisabledPromotion(t *testing.T) {
	t.Parallel()

	calc := price.NewCalculator(price.DefaultRounding())
	repo := newStubRepository(autoPercent("10"))
	processor := NewProcessor(repo, rule.NewMemoryRegistry())
	c := goodsCart(t, calc, "100")

	_, err := processor.Process(context.Background(), c, gross, calc)
	require.NoError(t, err)
	require.Len(t, c.LineItems.FilterType(cart.LineItemPromotion), 1)

	disabled := repo.promotions["auto"]
	disabled.Active = false
	repo.promotions["auto"] = disabled

	_, err = processor.Process(context.Background(), c, gross, calc)
	require.NoError(t, err)
	assert.Empty(t, c.LineItems.FilterType(cart.LineItemPromotion))
	assert.Len(t, c.LineItems, 1)
}

func TestProcessor_UnknownCode(t *testing.T) {
	t.Parallel()

	calc := price.NewCalculator(price.DefaultRounding())
	processor := NewProcessor(newStubRepository(), rule.NewMemoryRegistry())
	c := goodsCart(t, calc, "100")
	c.AddPromotionCode("NOPE")
	c.AddPromotionCode("ALSO-NOPE")

	_, err := processor.Process(context.Background(), c, gross, calc)
	require.NoError(t, err)

	assert.Empty(t, c.PromotionCodes)
	require.Len(t, c.Errors, 2)
	assert.Equal(t, ErrorKeyCodeNotFound, c.Errors[0].Key)
	assert.Contains(t, c.Errors[0].Message, "NOPE")
}

func TestProcessor_CodeRuleNotMatched(t *testing.T) {
	t.Parallel()

	calc := price.NewCalculator(price.DefaultRounding())
	registry := rule.NewMemoryRegistry()
	registry.Register("big-cart", 1, rule.GoodsAmountAtLeast(dec("500")))
	coded := Promotion{
		ID: "coded", Name: "Big cart", Active: true, Code: "BIG", RuleIDs: []string{"big-cart"},
		Discounts: []Discount{{ID: "d-big", Scope: ScopeCart, Type: TypeAbsolute, Value: dec("50")}},
	}
	processor := NewProcessor(newStubRepository(coded), registry)
	c := goodsCart(t, calc, "100")
	c.AddPromotionCode("BIG")

	_, err := processor.Process(context.Background(), c, gross, calc)
	require.NoError(t, err)

	assert.Empty(t, c.LineItems.FilterType(cart.LineItemPromotion))
	assert.Equal(t, []string{"BIG"}, c.PromotionCodes)
	assert.True(t, c.Errors.Has(ErrorKeyNotEligible))
}

func TestProcessor_SkipAutomaticKeepsStoredValue(t *testing.T) {
	t.Parallel()

	calc := price.NewCalculator(price.DefaultRounding())
	repo := newStubRepository(autoPercent("10"))
	processor := NewProcessor(repo, rule.NewMemoryRegistry())
	c := goodsCart(t, calc, "100")

	_, err := processor.Process(context.Background(), c, gross, calc)
	require.NoError(t, err)

	changed := repo.promotions["auto"]
	changed.Discounts[0].Value = dec("20")
	repo.promotions["auto"] = changed
	repo.promotions["new"] = Promotion{
		ID: "new", Name: "New", Active: true,
		Discounts: []Discount{{ID: "d-new", Scope: ScopeCart, Type: TypeAbsolute, Value: dec("5")}},
	}
	c.Behavior = cart.RecalculationBehavior()

	_, err = processor.Process(context.Background(), c, gross, calc)
	require.NoError(t, err)

	items := c.LineItems.FilterType(cart.LineItemPromotion)
	require.Len(t, items, 1)
	assert.Equal(t, "d-auto", items[0].ID)
	assert.True(t, dec("-10").Equal(items[0].Price.TotalPrice), items[0].Price.TotalPrice.String())
}

func TestProcessor_DiscountCappedByGoodsTotal(t *testing.T) {
	t.Parallel()

	calc := price.NewCalculator(price.DefaultRounding())
	first := Promotion{ID: "a", Name: "A", Active: true, Priority: 2,
		Discounts: []Discount{{ID: "d-a", Scope: ScopeCart, Type: TypeAbsolute, Value: dec("80")}}}
	second := Promotion{ID: "b", Name: "B", Active: true, Priority: 1,
		Discounts: []Discount{{ID: "d-b", Scope: ScopeCart, Type: TypeAbsolute, Value: dec("50")}}}
	processor := NewProcessor(newStubRepository(first, second), rule.NewMemoryRegistry())
	c := goodsCart(t, calc, "100")

	_, err := processor.Process(context.Background(), c, gross, calc)
	require.NoError(t, err)

	assert.True(t, dec("-80").Equal(c.LineItems.Get("d-a").Price.TotalPrice))
	assert.True(t, dec("-20").Equal(c.LineItems.Get("d-b").Price.TotalPrice))
}

func TestApplyShippingDiscounts(t *testing.T) {
	t.Parallel()

	calc := price.NewCalculator(price.DefaultRounding())
	shipping := calc.Total(dec("5.95"), price.TaxRuleCollection{price.NewTaxRule(dec("19"))}, price.TaxStateGross)
	free := Promotion{ID: "ship", Name: "Free shipping", Active: true,
		Discounts: []Discount{{ID: "d-ship", Scope: ScopeDelivery, Type: TypeAbsolute, Value: dec("10")}}}

	processor := NewProcessor(newStubRepository(free), rule.NewMemoryRegistry())
	c := goodsCart(t, calc, "100")
	c.Deliveries = cart.Deliveries{{ID: "regular", ShippingMethodID: "standard", ShippingCosts: shipping}}

	for i := 0; i < 2; i++ {
		discounts, err := processor.Process(context.Background(), c, gross, calc)
		require.NoError(t, err)
		require.Len(t, discounts, 1)
		ApplyShippingDiscounts(c, discounts, calc, price.TaxStateGross)
	}

	require.Len(t, c.Deliveries, 2)
	promo := c.Deliveries[1]
	assert.Equal(t, DeliveryIDPrefix+"d-ship", promo.ID)
	assert.True(t, promo.IsPromotion())
	assert.Equal(t, "standard", promo.ShippingMethodID)
	assert.True(t, dec("-5.95").Equal(promo.ShippingCosts.TotalPrice))
	assert.Empty(t, promo.Positions)
	assert.Empty(t, c.LineItems.FilterType(cart.LineItemPromotion))
}
