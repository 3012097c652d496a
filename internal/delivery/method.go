package delivery

import (
	"context"
	"fmt"
	"sort"

	"github.com/shopspring/decimal"

	"github.com/vladislavdragonenkov/orderedit/internal/domain"
)

// TaxType определяет, как облагается стоимость доставки.
type TaxType string

const (
	// TaxAuto делит налог пропорционально ставкам позиций доставки.
	TaxAuto TaxType = "auto"
	// TaxHighest применяет максимальную ставку среди позиций.
	TaxHighest TaxType = "highest"
	// TaxFixed применяет ставку способа доставки.
	TaxFixed TaxType = "fixed"
)

// Mode — метрика, по которой выбирается тариф.
type Mode string

const (
	ModeLineItemCount Mode = "line-item-count"
	ModePrice         Mode = "price"
	ModeWeight        Mode = "weight"
)

// PriceTier — тариф способа доставки, ограниченный правилом и диапазоном [Start, End].
type PriceTier struct {
	ID     string           `json:"id"`
	RuleID string           `json:"ruleId,omitempty"`
	Mode   Mode             `json:"mode"`
	Start  decimal.Decimal  `json:"start"`
	End    *decimal.Decimal `json:"end,omitempty"`
	// Price задан в форме TaxState контекста.
	Price decimal.Decimal `json:"price"`
}

// Contains проверяет попадание метрики в диапазон тарифа.
func (t PriceTier) Contains(m Metrics) bool {
	v := m.Value(t.Mode)
	if v.LessThan(t.Start) {
		return false
	}
	return t.End == nil || v.LessThanOrEqual(*t.End)
}

// DeliveryTime задаёт срок доставки в днях.
type DeliveryTime struct {
	MinDays int `json:"minDays"`
	MaxDays int `json:"maxDays"`
}

// Method — способ доставки с тарифами.
type Method struct {
	ID           string          `json:"id"`
	Name         string          `json:"name"`
	Active       bool            `json:"active"`
	TaxType      TaxType         `json:"taxType"`
	TaxRate      decimal.Decimal `json:"taxRate"`
	DeliveryTime DeliveryTime    `json:"deliveryTime"`
	Prices       []PriceTier     `json:"prices"`
}

// Validate проверяет, что тарифы одного правила и метрики не пересекаются.
func (m Method) Validate() error {
	type groupKey struct {
		ruleID string
		mode   Mode
	}
	groups := make(map[groupKey][]PriceTier)
	for _, tier := range m.Prices {
		if tier.End != nil && tier.End.LessThan(tier.Start) {
			return fmt.Errorf("%w: tier %s of method %s ends before it starts", domain.ErrShippingTiersOverlap, tier.ID, m.ID)
		}
		key := groupKey{ruleID: tier.RuleID, mode: tier.Mode}
		groups[key] = append(groups[key], tier)
	}

	for key, tiers := range groups {
		sort.Slice(tiers, func(i, j int) bool { return tiers[i].Start.LessThan(tiers[j].Start) })
		for i := 1; i < len(tiers); i++ {
			prev, next := tiers[i-1], tiers[i]
			if prev.End == nil || !next.Start.GreaterThan(*prev.End) {
				return fmt.Errorf("%w: method %s rule %q tiers %s and %s",
					domain.ErrShippingTiersOverlap, m.ID, key.ruleID, prev.ID, next.ID)
			}
		}
	}
	return nil
}

// MethodRepository возвращает способы доставки.
type MethodRepository interface {
	// ShippingMethod возвращает активный способ или ErrShippingMethodNotFound.
	ShippingMethod(ctx context.Context, id string) (Method, error)
}

// Metrics — значения корзины для выбора тарифа.
type Metrics struct {
	Count  decimal.Decimal
	Price  decimal.Decimal
	Weight decimal.Decimal
}

// Value возвращает метрику для режима тарифа.
func (m Metrics) Value(mode Mode) decimal.Decimal {
	switch mode {
	case ModePrice:
		return m.Price
	case ModeWeight:
		return m.Weight
	default:
		return m.Count
	}
}
