package price

import (
	"errors"
	"fmt"

	"github.com/shopspring/decimal"
)

var (
	// ErrInvalidQuantity возвращается для количества <= 0.
	ErrInvalidQuantity = errors.New("price quantity must be greater than zero")
	// ErrUnknownDefinition возвращается для неизвестного типа определения цены.
	ErrUnknownDefinition = errors.New("unknown price definition")
)

// Calculator рассчитывает цены и налоги с заданным округлением.
type Calculator struct {
	rounding CashRounding
}

// NewCalculator создаёт калькулятор цен.
func NewCalculator(rounding CashRounding) *Calculator {
	if rounding.Decimals < 0 {
		rounding = DefaultRounding()
	}
	return &Calculator{rounding: rounding}
}

// Rounding возвращает используемое округление.
func (c *Calculator) Rounding() CashRounding {
	return c.rounding
}

// Calculate рассчитывает цену по определению.
// referenced — цены, от которых зависят absolute/percentage определения.
func (c *Calculator) Calculate(def Definition, state TaxState, referenced []CalculatedPrice) (CalculatedPrice, error) {
	switch def.Kind {
	case KindQuantity:
		return c.quantity(def, state)
	case KindAbsolute:
		return c.absolute(def, state, referenced), nil
	case KindPercentage:
		return c.percentage(def, state, referenced), nil
	default:
		return CalculatedPrice{}, fmt.Errorf("%w: %q", ErrUnknownDefinition, def.Kind)
	}
}

func (c *Calculator) quantity(def Definition, state TaxState) (CalculatedPrice, error) {
	if def.Quantity <= 0 {
		return CalculatedPrice{}, fmt.Errorf("%w: %d", ErrInvalidQuantity, def.Quantity)
	}

	unit := def.Price
	if state == TaxStateGross && !def.IsCalculated {
		unit = unit.Add(c.netTaxes(unit, def.TaxRules))
	}
	unit = c.rounding.Round(unit)
	total := unit.Mul(decimal.NewFromInt(int64(def.Quantity)))

	return CalculatedPrice{
		UnitPrice:       unit,
		TotalPrice:      total,
		Quantity:        def.Quantity,
		CalculatedTaxes: c.Taxes(total, def.TaxRules, state),
		TaxRules:        def.TaxRules,
	}, nil
}

func (c *Calculator) absolute(def Definition, state TaxState, referenced []CalculatedPrice) CalculatedPrice {
	amount := c.rounding.Round(def.Price)
	rules := def.TaxRules
	if len(rules) == 0 {
		rules = BuildPercentageRules(referenced)
	}
	return c.Total(amount, rules, state)
}

func (c *Calculator) percentage(def Definition, state TaxState, referenced []CalculatedPrice) CalculatedPrice {
	base := decimal.Zero
	for _, p := range referenced {
		base = base.Add(p.TotalPrice)
	}
	amount := c.rounding.Round(base.Mul(def.Percentage).Div(hundred))
	if def.MaxValue != nil && amount.Abs().GreaterThan(def.MaxValue.Abs()) {
		limit := c.rounding.Round(def.MaxValue.Abs())
		if amount.IsNegative() {
			limit = limit.Neg()
		}
		amount = limit
	}
	rules := def.TaxRules
	if len(rules) == 0 {
		rules = BuildPercentageRules(referenced)
	}
	return c.Total(amount, rules, state)
}

// Total рассчитывает цену количества 1 для суммы, уже заданной в форме state.
func (c *Calculator) Total(total decimal.Decimal, rules TaxRuleCollection, state TaxState) CalculatedPrice {
	total = c.rounding.Round(total)
	return CalculatedPrice{
		UnitPrice:       total,
		TotalPrice:      total,
		Quantity:        1,
		CalculatedTaxes: c.Taxes(total, rules, state),
		TaxRules:        rules,
	}
}

// Taxes делит total по долям правил и считает налог каждой корзины отдельно.
// Последняя корзина получает остаток округления, поэтому сумма корзин равна total.
func (c *Calculator) Taxes(total decimal.Decimal, rules TaxRuleCollection, state TaxState) CalculatedTaxCollection {
	taxes := CalculatedTaxCollection{}
	if state == TaxStateTaxFree || len(rules) == 0 {
		return taxes
	}

	allocated := decimal.Zero
	for i, rule := range rules {
		bucket := c.rounding.Round(total.Mul(rule.Percentage).Div(hundred))
		if i == len(rules)-1 {
			bucket = total.Sub(allocated)
		}
		allocated = allocated.Add(bucket)

		var tax decimal.Decimal
		if state == TaxStateGross {
			tax = bucket.Mul(rule.TaxRate).Div(hundred.Add(rule.TaxRate))
		} else {
			tax = bucket.Mul(rule.TaxRate).Div(hundred)
		}
		taxes = taxes.Add(CalculatedTax{
			TaxRate: rule.TaxRate,
			Tax:     c.rounding.Round(tax),
			Price:   bucket,
		})
	}
	return taxes
}

// netTaxes возвращает налог на нетто-цену без округления.
func (c *Calculator) netTaxes(net decimal.Decimal, rules TaxRuleCollection) decimal.Decimal {
	tax := decimal.Zero
	for _, rule := range rules {
		share := net.Mul(rule.Percentage).Div(hundred)
		tax = tax.Add(share.Mul(rule.TaxRate).Div(hundred))
	}
	return tax
}
