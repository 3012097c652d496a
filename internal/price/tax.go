package price

import (
	"sort"

	"github.com/shopspring/decimal"
)

var hundred = decimal.NewFromInt(100)

// TaxRule описывает ставку налога и её долю в цене (в процентах).
type TaxRule struct {
	TaxRate    decimal.Decimal `json:"taxRate"`
	Percentage decimal.Decimal `json:"percentage"`
}

// NewTaxRule создаёт правило, покрывающее 100% цены.
func NewTaxRule(rate decimal.Decimal) TaxRule {
	return TaxRule{TaxRate: rate, Percentage: hundred}
}

// TaxRuleCollection — упорядоченный набор правил налогообложения.
type TaxRuleCollection []TaxRule

// Highest возвращает правило с максимальной ставкой, оно покрывает 100% цены.
func (c TaxRuleCollection) Highest() (TaxRule, bool) {
	if len(c) == 0 {
		return TaxRule{}, false
	}
	best := c[0]
	for _, rule := range c[1:] {
		if rule.TaxRate.GreaterThan(best.TaxRate) {
			best = rule
		}
	}
	return NewTaxRule(best.TaxRate), true
}

// Equal сравнивает наборы правил по значениям.
func (c TaxRuleCollection) Equal(other TaxRuleCollection) bool {
	if len(c) != len(other) {
		return false
	}
	for i := range c {
		if !c[i].TaxRate.Equal(other[i].TaxRate) || !c[i].Percentage.Equal(other[i].Percentage) {
			return false
		}
	}
	return true
}

// CalculatedTax — рассчитанный налог одной ставки: сумма налога и облагаемая цена.
type CalculatedTax struct {
	TaxRate decimal.Decimal `json:"taxRate"`
	Tax     decimal.Decimal `json:"tax"`
	Price   decimal.Decimal `json:"price"`
}

// CalculatedTaxCollection хранит налоги, уникальные по ставке, в порядке добавления.
type CalculatedTaxCollection []CalculatedTax

// Add возвращает новую коллекцию, в которой налог той же ставки просуммирован.
func (c CalculatedTaxCollection) Add(tax CalculatedTax) CalculatedTaxCollection {
	out := make(CalculatedTaxCollection, len(c), len(c)+1)
	copy(out, c)
	for i := range out {
		if out[i].TaxRate.Equal(tax.TaxRate) {
			out[i].Tax = out[i].Tax.Add(tax.Tax)
			out[i].Price = out[i].Price.Add(tax.Price)
			return out
		}
	}
	return append(out, tax)
}

// Merge объединяет две коллекции по ставкам.
func (c CalculatedTaxCollection) Merge(other CalculatedTaxCollection) CalculatedTaxCollection {
	out := c
	if out == nil {
		out = CalculatedTaxCollection{}
	}
	for _, tax := range other {
		out = out.Add(tax)
	}
	return out
}

// Amount возвращает общую сумму налогов.
func (c CalculatedTaxCollection) Amount() decimal.Decimal {
	total := decimal.Zero
	for _, tax := range c {
		total = total.Add(tax.Tax)
	}
	return total
}

// Get возвращает налог по ставке.
func (c CalculatedTaxCollection) Get(rate decimal.Decimal) (CalculatedTax, bool) {
	for _, tax := range c {
		if tax.TaxRate.Equal(rate) {
			return tax, true
		}
	}
	return CalculatedTax{}, false
}

// Rates возвращает ставки по возрастанию.
func (c CalculatedTaxCollection) Rates() []decimal.Decimal {
	rates := make([]decimal.Decimal, 0, len(c))
	for _, tax := range c {
		rates = append(rates, tax.TaxRate)
	}
	sort.Slice(rates, func(i, j int) bool { return rates[i].LessThan(rates[j]) })
	return rates
}

// Negate инвертирует знак налогов и облагаемых сумм.
func (c CalculatedTaxCollection) Negate() CalculatedTaxCollection {
	out := make(CalculatedTaxCollection, 0, len(c))
	for _, tax := range c {
		out = append(out, CalculatedTax{TaxRate: tax.TaxRate, Tax: tax.Tax.Neg(), Price: tax.Price.Neg()})
	}
	return out
}

// BuildPercentageRules строит пропорциональные правила по долям цен каждой ставки.
// Нулевая или отрицательная база не даёт правил.
func BuildPercentageRules(prices []CalculatedPrice) TaxRuleCollection {
	shares := CalculatedTaxCollection{}
	for _, p := range prices {
		for _, tax := range p.CalculatedTaxes {
			shares = shares.Add(CalculatedTax{TaxRate: tax.TaxRate, Price: tax.Price})
		}
	}

	total := decimal.Zero
	for _, share := range shares {
		total = total.Add(share.Price)
	}
	if !total.IsPositive() {
		return TaxRuleCollection{}
	}

	rules := make(TaxRuleCollection, 0, len(shares))
	for _, share := range shares {
		if share.Price.IsZero() {
			continue
		}
		rules = append(rules, TaxRule{
			TaxRate:    share.TaxRate,
			Percentage: share.Price.Mul(hundred).Div(total),
		})
	}
	return rules
}
