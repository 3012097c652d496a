package promotion

import (
	"context"

	"github.com/shopspring/decimal"
)

// DiscountScope — на что действует скидка.
type DiscountScope string

const (
	ScopeCart     DiscountScope = "cart"
	ScopeDelivery DiscountScope = "delivery"
)

// DiscountType — способ расчёта скидки.
type DiscountType string

const (
	TypePercentage DiscountType = "percentage"
	TypeAbsolute   DiscountType = "absolute"
)

// Discount — одна скидка промо-акции. ID скидки становится ID позиции корзины.
type Discount struct {
	ID       string           `json:"id"`
	Scope    DiscountScope    `json:"scope"`
	Type     DiscountType     `json:"type"`
	Value    decimal.Decimal  `json:"value"`
	MaxValue *decimal.Decimal `json:"maxValue,omitempty"`
}

// Promotion — промо-акция; без кода применяется автоматически.
type Promotion struct {
	ID        string     `json:"id"`
	Name      string     `json:"name"`
	Active    bool       `json:"active"`
	Code      string     `json:"code,omitempty"`
	Priority  int        `json:"priority"`
	RuleIDs   []string   `json:"ruleIds,omitempty"`
	Discounts []Discount `json:"discounts"`
}

// IsAutomatic сообщает, что акция применяется без кода.
func (p Promotion) IsAutomatic() bool {
	return p.Code == ""
}

// Discount возвращает скидку по ID.
func (p Promotion) Discount(id string) (Discount, bool) {
	for _, d := range p.Discounts {
		if d.ID == id {
			return d, true
		}
	}
	return Discount{}, false
}

// Repository возвращает промо-акции.
type Repository interface {
	// Automatic возвращает активные акции без кода.
	Automatic(ctx context.Context) ([]Promotion, error)
	// ByCode возвращает акцию по коду или ErrPromotionNotFound.
	ByCode(ctx context.Context, code string) (Promotion, error)
	// Get возвращает акцию по ID или ErrPromotionNotFound.
	Get(ctx context.Context, id string) (Promotion, error)
}

// Ключи payload позиции-скидки.
const (
	PayloadPromotionID  = "promotionId"
	PayloadDiscountID   = "discountId"
	PayloadCode         = "code"
	PayloadDiscountType = "discountType"
	PayloadValue        = "value"
	PayloadMaxValue     = "maxValue"
)

// Ключи мягких ошибок.
const (
	ErrorKeyCodeNotFound = "promotion-code-not-found"
	ErrorKeyNotEligible  = "promotion-not-eligible"
)
