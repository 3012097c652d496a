package cart

import (
	"errors"
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/vladislavdragonenkov/orderedit/internal/price"
)

// LineItemType — закрытый набор типов позиций.
type LineItemType string

const (
	LineItemProduct   LineItemType = "product"
	LineItemCustom    LineItemType = "custom"
	LineItemCredit    LineItemType = "credit"
	LineItemPromotion LineItemType = "promotion"
	LineItemContainer LineItemType = "container"
)

var (
	// ErrUnknownLineItemType возвращается для типа вне перечисления.
	ErrUnknownLineItemType = errors.New("unknown line item type")
	// ErrLineItemNotStackable возвращается при повторном добавлении нескладываемой позиции.
	ErrLineItemNotStackable = errors.New("line item is not stackable")
	// ErrLineItemQuantity возвращается для количества <= 0.
	ErrLineItemQuantity = errors.New("line item quantity must be greater than zero")
)

// Flags — поведенческие признаки позиции.
type Flags struct {
	Good              bool `json:"good"`
	Stackable         bool `json:"stackable"`
	Removable         bool `json:"removable"`
	ShippingCostAware bool `json:"shippingCostAware"`
}

var defaultFlags = map[LineItemType]Flags{
	LineItemProduct:   {Good: true, Stackable: true, Removable: true, ShippingCostAware: true},
	LineItemCustom:    {Good: true, Stackable: true, Removable: true, ShippingCostAware: true},
	LineItemCredit:    {Good: false, Stackable: false, Removable: true, ShippingCostAware: false},
	LineItemPromotion: {Good: false, Stackable: false, Removable: true, ShippingCostAware: false},
	LineItemContainer: {Good: false, Stackable: true, Removable: true, ShippingCostAware: false},
}

// DefaultFlags возвращает признаки типа по умолчанию.
func DefaultFlags(t LineItemType) (Flags, error) {
	flags, ok := defaultFlags[t]
	if !ok {
		return Flags{}, fmt.Errorf("%w: %q", ErrUnknownLineItemType, t)
	}
	return flags, nil
}

// DeliveryInformation — данные для расчёта доставки.
type DeliveryInformation struct {
	Weight       decimal.Decimal `json:"weight"`
	FreeDelivery bool            `json:"freeDelivery"`
}

// LineItem — узел дерева позиций. Родитель владеет детьми, обратных ссылок нет.
type LineItem struct {
	ID           string       `json:"id"`
	ReferencedID string       `json:"referencedId,omitempty"`
	Type         LineItemType `json:"type"`
	Label        string       `json:"label"`
	Description  string       `json:"description,omitempty"`
	Quantity     int          `json:"quantity"`

	PriceDefinition *price.Definition      `json:"priceDefinition,omitempty"`
	Price           *price.CalculatedPrice `json:"price,omitempty"`

	Children LineItems         `json:"children,omitempty"`
	States   []string          `json:"states,omitempty"`
	Payload  map[string]string `json:"payload,omitempty"`
	Flags

	DeliveryInformation *DeliveryInformation `json:"deliveryInformation,omitempty"`

	// Идентификатор строки заказа, из которой восстановлена позиция.
	OriginalID string `json:"-"`
}

// NewLineItem создаёт позицию с признаками типа по умолчанию.
func NewLineItem(id string, t LineItemType, quantity int) (*LineItem, error) {
	flags, err := DefaultFlags(t)
	if err != nil {
		return nil, err
	}
	if quantity <= 0 {
		return nil, fmt.Errorf("%w: %d", ErrLineItemQuantity, quantity)
	}
	return &LineItem{
		ID:       id,
		Type:     t,
		Quantity: quantity,
		Flags:    flags,
		Payload:  map[string]string{},
	}, nil
}

// HasState проверяет наличие флага состояния.
func (li *LineItem) HasState(state string) bool {
	for _, s := range li.States {
		if s == state {
			return true
		}
	}
	return false
}

// Clone делает глубокую копию позиции.
func (li *LineItem) Clone() *LineItem {
	if li == nil {
		return nil
	}
	out := *li
	if li.PriceDefinition != nil {
		def := *li.PriceDefinition
		def.TaxRules = append(price.TaxRuleCollection(nil), def.TaxRules...)
		out.PriceDefinition = &def
	}
	if li.Price != nil {
		p := clonePrice(*li.Price)
		out.Price = &p
	}
	if li.DeliveryInformation != nil {
		info := *li.DeliveryInformation
		out.DeliveryInformation = &info
	}
	out.States = append([]string(nil), li.States...)
	if li.Payload != nil {
		out.Payload = make(map[string]string, len(li.Payload))
		for k, v := range li.Payload {
			out.Payload[k] = v
		}
	}
	out.Children = li.Children.Clone()
	return &out
}

func clonePrice(p price.CalculatedPrice) price.CalculatedPrice {
	p.CalculatedTaxes = append(price.CalculatedTaxCollection(nil), p.CalculatedTaxes...)
	p.TaxRules = append(price.TaxRuleCollection(nil), p.TaxRules...)
	return p
}

// LineItems — упорядоченная коллекция позиций одного уровня.
type LineItems []*LineItem

// Get ищет позицию этого уровня по ID.
func (items LineItems) Get(id string) *LineItem {
	for _, item := range items {
		if item.ID == id {
			return item
		}
	}
	return nil
}

// Find ищет позицию по ID на любом уровне.
func (items LineItems) Find(id string) *LineItem {
	for _, item := range items {
		if item.ID == id {
			return item
		}
		if found := item.Children.Find(id); found != nil {
			return found
		}
	}
	return nil
}

// Add добавляет позицию; складываемая позиция с тем же ID увеличивает количество.
func (items LineItems) Add(item *LineItem) (LineItems, error) {
	existing := items.Get(item.ID)
	if existing == nil {
		return append(items, item), nil
	}
	if !existing.Stackable || existing.Type != item.Type {
		return items, fmt.Errorf("%w: %s", ErrLineItemNotStackable, item.ID)
	}
	existing.Quantity += item.Quantity
	if existing.PriceDefinition != nil {
		def := existing.PriceDefinition.WithQuantity(existing.Quantity)
		existing.PriceDefinition = &def
	}
	return items, nil
}

// Remove удаляет позицию с ID на любом уровне.
func (items LineItems) Remove(id string) LineItems {
	out := items[:0:0]
	for _, item := range items {
		if item.ID == id {
			continue
		}
		item.Children = item.Children.Remove(id)
		out = append(out, item)
	}
	return out
}

// Filter оставляет позиции этого уровня, для которых keep вернул true.
func (items LineItems) Filter(keep func(*LineItem) bool) LineItems {
	out := make(LineItems, 0, len(items))
	for _, item := range items {
		if keep(item) {
			out = append(out, item)
		}
	}
	return out
}

// FilterType возвращает позиции этого уровня заданного типа.
func (items LineItems) FilterType(t LineItemType) LineItems {
	return items.Filter(func(li *LineItem) bool { return li.Type == t })
}

// Flatten обходит дерево в глубину: родитель перед детьми.
func (items LineItems) Flatten() LineItems {
	out := make(LineItems, 0, len(items))
	for _, item := range items {
		out = append(out, item)
		out = append(out, item.Children.Flatten()...)
	}
	return out
}

// GoodsFlat возвращает все товарные позиции дерева.
func (items LineItems) GoodsFlat() LineItems {
	return items.Flatten().Filter(func(li *LineItem) bool { return li.Good })
}

// Prices возвращает рассчитанные цены позиций этого уровня.
func (items LineItems) Prices() []price.CalculatedPrice {
	out := make([]price.CalculatedPrice, 0, len(items))
	for _, item := range items {
		if item.Price != nil {
			out = append(out, *item.Price)
		}
	}
	return out
}

// Clone делает глубокую копию коллекции.
func (items LineItems) Clone() LineItems {
	if items == nil {
		return nil
	}
	out := make(LineItems, 0, len(items))
	for _, item := range items {
		out = append(out, item.Clone())
	}
	return out
}
