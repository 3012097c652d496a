package cart

import (
	"time"

	"github.com/vladislavdragonenkov/orderedit/internal/price"
)

// Location — адрес доставки, от которого зависят правила.
type Location struct {
	CountryID string `json:"countryId,omitempty"`
	AddressID string `json:"addressId,omitempty"`
}

// DeliveryDate — окно доставки.
type DeliveryDate struct {
	Earliest time.Time `json:"earliest"`
	Latest   time.Time `json:"latest"`
}

// DeliveryPosition — позиция, входящая в доставку.
type DeliveryPosition struct {
	LineItemID string                `json:"lineItemId"`
	Quantity   int                   `json:"quantity"`
	Price      price.CalculatedPrice `json:"price"`
	// Идентификатор строки позиции доставки в заказе.
	OriginalID string `json:"-"`
}

// Delivery группирует товарные позиции с одной стоимостью доставки.
type Delivery struct {
	ID               string                `json:"id"`
	Positions        []DeliveryPosition    `json:"positions"`
	ShippingMethodID string                `json:"shippingMethodId"`
	Location         Location              `json:"location"`
	Date             DeliveryDate          `json:"deliveryDate"`
	ShippingCosts    price.CalculatedPrice `json:"shippingCosts"`
	// PromotionID и DiscountID заполнены только у доставки-скидки.
	PromotionID string `json:"promotionId,omitempty"`
	DiscountID  string `json:"discountId,omitempty"`
}

// IsPromotion сообщает, что доставка сгенерирована скидкой на доставку.
func (d Delivery) IsPromotion() bool {
	return d.DiscountID != ""
}

// Deliveries содержит доставки корзины.
type Deliveries []Delivery

// Regular возвращает доставки без сгенерированных скидок.
func (ds Deliveries) Regular() Deliveries {
	out := make(Deliveries, 0, len(ds))
	for _, d := range ds {
		if !d.IsPromotion() {
			out = append(out, d)
		}
	}
	return out
}

// ShippingCosts возвращает стоимости доставок.
func (ds Deliveries) ShippingCosts() []price.CalculatedPrice {
	out := make([]price.CalculatedPrice, 0, len(ds))
	for _, d := range ds {
		out = append(out, d.ShippingCosts)
	}
	return out
}

// Transaction описывает платёж корзины.
type Transaction struct {
	ID              string                `json:"id"`
	PaymentMethodID string                `json:"paymentMethodId"`
	Amount          price.CalculatedPrice `json:"amount"`
}

// Behavior содержит флаги исполнения пайплайна.
type Behavior struct {
	IsRecalculation          bool `json:"isRecalculation"`
	KeepInactiveProduct      bool `json:"keepInactiveProduct"`
	SkipAutomaticPromotions  bool `json:"skipAutomaticPromotions"`
	SkipProductRecalculation bool `json:"skipProductRecalculation"`
}

// DefaultBehavior возвращает поведение обычной обработки корзины.
func DefaultBehavior() Behavior {
	return Behavior{}
}

// RecalculationBehavior возвращает поведение пересчёта сохранённого заказа.
func RecalculationBehavior() Behavior {
	return Behavior{
		IsRecalculation:          true,
		KeepInactiveProduct:      true,
		SkipAutomaticPromotions:  true,
		SkipProductRecalculation: true,
	}
}

// SalesContext — разрешённый снаружи контекст исполнения.
type SalesContext struct {
	Currency         string             `json:"currency"`
	TaxState         price.TaxState     `json:"taxState"`
	Rounding         price.CashRounding `json:"rounding"`
	ShippingMethodID string             `json:"shippingMethodId"`
	PaymentMethodID  string             `json:"paymentMethodId"`
	Location         Location           `json:"location"`
	CustomerID       string             `json:"customerId,omitempty"`
	Now              time.Time          `json:"now"`
}

// Cart — эфемерная корзина, существующая только в рамках обработки.
type Cart struct {
	Token           string          `json:"token"`
	LineItems       LineItems       `json:"lineItems"`
	Deliveries      Deliveries      `json:"deliveries"`
	Transactions    []Transaction   `json:"transactions"`
	RuleIDs         []string        `json:"ruleIds"`
	CustomerComment string          `json:"customerComment,omitempty"`
	AffiliateCode   string          `json:"affiliateCode,omitempty"`
	CampaignCode    string          `json:"campaignCode,omitempty"`
	Price           price.CartPrice `json:"price"`
	Behavior        Behavior        `json:"behavior"`
	Errors          Errors          `json:"errors,omitempty"`

	// ManualShippingCosts переопределяет расчёт стоимости доставки.
	ManualShippingCosts *price.CalculatedPrice `json:"manualShippingCosts,omitempty"`
	// Применённые коды промо-акций.
	PromotionCodes []string `json:"promotionCodes,omitempty"`
}

// New создаёт пустую корзину.
func New(token string) *Cart {
	return &Cart{Token: token}
}

// AddLineItems добавляет позиции верхнего уровня.
func (c *Cart) AddLineItems(items ...*LineItem) error {
	for _, item := range items {
		next, err := c.LineItems.Add(item)
		if err != nil {
			return err
		}
		c.LineItems = next
	}
	return nil
}

// AddPromotionCode добавляет код без дублей.
func (c *Cart) AddPromotionCode(code string) {
	for _, existing := range c.PromotionCodes {
		if existing == code {
			return
		}
	}
	c.PromotionCodes = append(c.PromotionCodes, code)
}

// RemovePromotionCode удаляет код.
func (c *Cart) RemovePromotionCode(code string) {
	out := c.PromotionCodes[:0:0]
	for _, existing := range c.PromotionCodes {
		if existing != code {
			out = append(out, existing)
		}
	}
	c.PromotionCodes = out
}

// PositionIndex строит индекс line item ID -> ID доставки.
func (c *Cart) PositionIndex() map[string]string {
	index := make(map[string]string)
	for _, d := range c.Deliveries {
		for _, pos := range d.Positions {
			index[pos.LineItemID] = d.ID
		}
	}
	return index
}

// Clone делает глубокую копию корзины.
func (c *Cart) Clone() *Cart {
	out := *c
	out.LineItems = c.LineItems.Clone()

	out.Deliveries = make(Deliveries, 0, len(c.Deliveries))
	for _, d := range c.Deliveries {
		positions := make([]DeliveryPosition, 0, len(d.Positions))
		for _, pos := range d.Positions {
			pos.Price = clonePrice(pos.Price)
			positions = append(positions, pos)
		}
		d.Positions = positions
		d.ShippingCosts = clonePrice(d.ShippingCosts)
		out.Deliveries = append(out.Deliveries, d)
	}

	out.Transactions = make([]Transaction, 0, len(c.Transactions))
	for _, tr := range c.Transactions {
		tr.Amount = clonePrice(tr.Amount)
		out.Transactions = append(out.Transactions, tr)
	}

	out.RuleIDs = append([]string(nil), c.RuleIDs...)
	out.Errors = append(Errors(nil), c.Errors...)
	out.PromotionCodes = append([]string(nil), c.PromotionCodes...)
	out.Price.CalculatedTaxes = append(price.CalculatedTaxCollection(nil), c.Price.CalculatedTaxes...)
	out.Price.TaxRules = append(price.TaxRuleCollection(nil), c.Price.TaxRules...)
	if c.ManualShippingCosts != nil {
		p := clonePrice(*c.ManualShippingCosts)
		out.ManualShippingCosts = &p
	}
	return &out
}
