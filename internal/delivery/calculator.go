package delivery

import (
	"fmt"
	"sort"

	"github.com/shopspring/decimal"

	"github.com/vladislavdragonenkov/orderedit/internal/cart"
	"github.com/vladislavdragonenkov/orderedit/internal/domain"
	"github.com/vladislavdragonenkov/orderedit/internal/price"
	"github.com/vladislavdragonenkov/orderedit/internal/rule"
)

// Calculator выбирает тариф и считает стоимость доставки.
type Calculator struct {
	rules rule.Registry
}

// NewCalculator создаёт калькулятор доставки.
func NewCalculator(rules rule.Registry) *Calculator {
	return &Calculator{rules: rules}
}

type tierGroup struct {
	ruleID   string
	priority int
	tiers    []PriceTier
}

// SelectTier выбирает ровно один тариф.
// Группы совпавших правил перебираются по убыванию приоритета, затем по ruleID;
// тарифы без правила проверяются последними. Внутри группы берётся тариф,
// чей диапазон содержит метрику.
func (c *Calculator) SelectTier(method Method, metrics Metrics, scope rule.Scope) (PriceTier, error) {
	if err := method.Validate(); err != nil {
		return PriceTier{}, err
	}

	byRule := make(map[string]*tierGroup)
	for _, tier := range method.Prices {
		group, ok := byRule[tier.RuleID]
		if !ok {
			matched, err := c.rules.Matches(tier.RuleID, scope)
			if err != nil {
				return PriceTier{}, fmt.Errorf("evaluate shipping rule %s: %w", tier.RuleID, err)
			}
			if !matched {
				byRule[tier.RuleID] = nil
				continue
			}
			group = &tierGroup{ruleID: tier.RuleID, priority: c.rules.Priority(tier.RuleID)}
			byRule[tier.RuleID] = group
		}
		if group == nil {
			continue
		}
		group.tiers = append(group.tiers, tier)
	}

	groups := make([]*tierGroup, 0, len(byRule))
	for _, group := range byRule {
		if group != nil {
			groups = append(groups, group)
		}
	}
	sort.Slice(groups, func(i, j int) bool {
		a, b := groups[i], groups[j]
		if (a.ruleID == "") != (b.ruleID == "") {
			return b.ruleID == ""
		}
		if a.priority != b.priority {
			return a.priority > b.priority
		}
		return a.ruleID < b.ruleID
	})

	for _, group := range groups {
		for _, tier := range group.tiers {
			if tier.Contains(metrics) {
				return tier, nil
			}
		}
	}
	return PriceTier{}, fmt.Errorf("%w: method %s", domain.ErrShippingPriceNotFound, method.ID)
}

// Positions собирает метрики по позициям доставки, влияющим на стоимость.
// Количество дочерней позиции контейнера абсолютное: итог контейнера равен
// сумме итогов детей, поэтому количество контейнера на метрики не множится.
func Positions(d cart.Delivery, items cart.LineItems) (Metrics, bool) {
	metrics := Metrics{Count: decimal.Zero, Price: decimal.Zero, Weight: decimal.Zero}
	allFree := true
	aware := 0
	for _, pos := range d.Positions {
		item := items.Find(pos.LineItemID)
		if item == nil || !item.ShippingCostAware {
			continue
		}
		aware++
		qty := decimal.NewFromInt(int64(pos.Quantity))
		metrics.Count = metrics.Count.Add(qty)
		metrics.Price = metrics.Price.Add(pos.Price.TotalPrice)
		if item.DeliveryInformation != nil {
			metrics.Weight = metrics.Weight.Add(item.DeliveryInformation.Weight.Mul(qty))
			if !item.DeliveryInformation.FreeDelivery {
				allFree = false
			}
		} else {
			allFree = false
		}
	}
	return metrics, aware == 0 || allFree
}

// TaxRules строит налоговые правила стоимости доставки по типу налогообложения.
func TaxRules(method Method, d cart.Delivery) price.TaxRuleCollection {
	prices := positionPrices(d)

	switch method.TaxType {
	case TaxFixed:
		return price.TaxRuleCollection{price.NewTaxRule(method.TaxRate)}
	case TaxHighest:
		var all price.TaxRuleCollection
		for _, p := range prices {
			all = append(all, p.TaxRules...)
		}
		if highest, ok := all.Highest(); ok {
			return price.TaxRuleCollection{highest}
		}
		return price.TaxRuleCollection{}
	default:
		return price.BuildPercentageRules(prices)
	}
}

// Calculate считает стоимость доставки для d.
// Ручная стоимость заменяет тариф, но облагается пропорционально позициям.
func (c *Calculator) Calculate(
	calc *price.Calculator,
	method Method,
	d cart.Delivery,
	items cart.LineItems,
	manual *price.CalculatedPrice,
	scope rule.Scope,
) (price.CalculatedPrice, error) {
	state := scope.Context.TaxState

	if manual != nil {
		rules := price.BuildPercentageRules(positionPrices(d))
		return calc.Total(manual.TotalPrice, rules, state), nil
	}

	rules := TaxRules(method, d)
	metrics, free := Positions(d, items)
	if free {
		return calc.Total(decimal.Zero, rules, state), nil
	}

	tier, err := c.SelectTier(method, metrics, scope)
	if err != nil {
		return price.CalculatedPrice{}, err
	}
	return calc.Total(tier.Price, rules, state), nil
}

func positionPrices(d cart.Delivery) []price.CalculatedPrice {
	out := make([]price.CalculatedPrice, 0, len(d.Positions))
	for _, pos := range d.Positions {
		out = append(out, pos.Price)
	}
	return out
}
