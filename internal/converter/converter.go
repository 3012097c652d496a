package converter

import (
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"

	"github.com/vladislavdragonenkov/orderedit/internal/cart"
	"github.com/vladislavdragonenkov/orderedit/internal/domain"
	"github.com/vladislavdragonenkov/orderedit/internal/price"
)

// Состояния новых строк заказа.
const (
	StateOpen = "open"
)

// ConversionContext управляет переносом корзины в заказ.
type ConversionContext struct {
	// Сохранённый заказ, который обновляется; nil для нового заказа.
	Existing *domain.Order
	// ExcludeTransactions оставляет платежи Existing без изменений.
	ExcludeTransactions bool

	// Поля нового заказа; при Existing != nil берутся из него.
	OrderID          string
	OrderNumber      string
	Addresses        []domain.OrderAddress
	Customer         *domain.OrderCustomer
	BillingAddressID string
}

// Converter переводит корзину в заказ и обратно.
type Converter struct {
	newID func() string
}

// New создаёт конвертер.
func New() *Converter {
	return &Converter{newID: uuid.NewString}
}

// ConvertToOrder строит заказ из рассчитанной корзины.
// Обычные доставки получают ID доставки корзины, доставки-скидки всегда
// получают новый ID и пересоздаются при сохранении.
func (cv *Converter) ConvertToOrder(c *cart.Cart, sc cart.SalesContext, cc ConversionContext) (domain.Order, error) {
	o := cv.header(c, sc, cc)

	lineItemIDs := make(map[string]string)
	items, err := cv.lineItems(o.ID, nil, c.LineItems, lineItemIDs)
	if err != nil {
		return domain.Order{}, err
	}
	o.LineItems = items

	o.Deliveries = cv.deliveries(o, c.Deliveries, lineItemIDs)
	o.ShippingCosts = price.Sum(c.Deliveries.ShippingCosts())
	o.PrimaryOrderDeliveryID = primaryDelivery(cc.Existing, o.Deliveries)

	if cc.ExcludeTransactions && cc.Existing != nil {
		o.Transactions = append([]domain.OrderTransaction(nil), cc.Existing.Transactions...)
	} else {
		o.Transactions = cv.transactions(o.ID, c.Transactions, cc.Existing)
	}
	o.PrimaryOrderTransactionID = primaryTransaction(cc.Existing, o.Transactions)

	if err := o.Validate(); err != nil {
		return domain.Order{}, err
	}
	return o, nil
}

func (cv *Converter) header(c *cart.Cart, sc cart.SalesContext, cc ConversionContext) domain.Order {
	o := domain.Order{
		ID:               cc.OrderID,
		VersionID:        domain.LiveVersionID,
		OrderNumber:      cc.OrderNumber,
		OrderDateTime:    sc.Now,
		StateID:          StateOpen,
		Addresses:        append([]domain.OrderAddress(nil), cc.Addresses...),
		Customer:         cc.Customer,
		BillingAddressID: cc.BillingAddressID,
	}
	if existing := cc.Existing; existing != nil {
		o.ID = existing.ID
		o.VersionID = existing.VersionID
		o.OrderNumber = existing.OrderNumber
		o.OrderDateTime = existing.OrderDateTime
		o.StateID = existing.StateID
		o.Addresses = append([]domain.OrderAddress(nil), existing.Addresses...)
		o.Customer = existing.Customer
		o.BillingAddressID = existing.BillingAddressID
		o.TagIDs = append([]string(nil), existing.TagIDs...)
	}
	if o.ID == "" {
		o.ID = cv.newID()
	}
	if o.OrderDateTime.IsZero() {
		o.OrderDateTime = time.Now().UTC()
	}
	for i := range o.Addresses {
		o.Addresses[i].OrderID = o.ID
	}
	if o.Customer != nil {
		customer := *o.Customer
		customer.OrderID = o.ID
		if customer.ID == "" {
			customer.ID = cv.newID()
		}
		o.Customer = &customer
	}

	o.Currency = sc.Currency
	o.TaxState = sc.TaxState
	o.Rounding = sc.Rounding
	o.CustomerComment = c.CustomerComment
	o.AffiliateCode = c.AffiliateCode
	o.CampaignCode = c.CampaignCode
	o.Price = c.Price
	o.RuleIDs = append([]string(nil), c.RuleIDs...)
	o.PromotionCodes = append([]string(nil), c.PromotionCodes...)
	if c.ManualShippingCosts != nil {
		manual := *c.ManualShippingCosts
		o.ManualShippingCosts = &manual
	}
	return o
}

func (cv *Converter) lineItems(orderID string, parentID *string, items cart.LineItems, ids map[string]string) ([]domain.OrderLineItem, error) {
	var out []domain.OrderLineItem
	for i, item := range items {
		if item.Price == nil {
			return nil, fmt.Errorf("%w: line item %s has no price", domain.ErrCartNotCalculated, item.ID)
		}
		id := item.OriginalID
		if id == "" {
			id = cv.newID()
		}
		ids[item.ID] = id

		row := domain.OrderLineItem{
			ID:                id,
			OrderID:           orderID,
			ParentID:          parentID,
			Identifier:        item.ID,
			ReferencedID:      item.ReferencedID,
			Type:              string(item.Type),
			Label:             item.Label,
			Description:       item.Description,
			Quantity:          item.Quantity,
			Position:          i + 1,
			Good:              item.Good,
			Stackable:         item.Stackable,
			Removable:         item.Removable,
			ShippingCostAware: item.ShippingCostAware,
			Price:             *item.Price,
			Payload:           item.Payload,
			States:            item.States,
		}
		if item.PriceDefinition != nil {
			def := *item.PriceDefinition
			row.PriceDefinition = &def
		}
		if info := item.DeliveryInformation; info != nil {
			weight := info.Weight
			row.Weight = &weight
			row.FreeDelivery = info.FreeDelivery
		}
		out = append(out, row)

		children, err := cv.lineItems(orderID, &id, item.Children, ids)
		if err != nil {
			return nil, err
		}
		out = append(out, children...)
	}
	return out, nil
}

func (cv *Converter) deliveries(o domain.Order, deliveries cart.Deliveries, lineItemIDs map[string]string) []domain.OrderDelivery {
	out := make([]domain.OrderDelivery, 0, len(deliveries))
	for _, d := range deliveries {
		id := d.ID
		if d.IsPromotion() || id == "" {
			id = cv.newID()
		}
		row := domain.OrderDelivery{
			ID:                   id,
			OrderID:              o.ID,
			ShippingMethodID:     d.ShippingMethodID,
			ShippingDateEarliest: d.Date.Earliest,
			ShippingDateLatest:   d.Date.Latest,
			ShippingCosts:        d.ShippingCosts,
			StateID:              StateOpen,
			PromotionID:          d.PromotionID,
			DiscountID:           d.DiscountID,
			CustomFields:         map[string]string{domain.CustomFieldOriginalID: d.ID},
		}
		if d.Location.AddressID != "" {
			if _, ok := o.Address(d.Location.AddressID); ok {
				addressID := d.Location.AddressID
				row.ShippingOrderAddressID = &addressID
			}
		}
		for _, pos := range d.Positions {
			lineItemID, ok := lineItemIDs[pos.LineItemID]
			if !ok {
				continue
			}
			posID := pos.OriginalID
			if posID == "" {
				posID = cv.newID()
			}
			row.Positions = append(row.Positions, domain.OrderDeliveryPosition{
				ID:              posID,
				OrderDeliveryID: id,
				OrderLineItemID: lineItemID,
				Quantity:        pos.Quantity,
				Price:           pos.Price,
			})
		}
		out = append(out, row)
	}
	return out
}

func (cv *Converter) transactions(orderID string, transactions []cart.Transaction, existing *domain.Order) []domain.OrderTransaction {
	states := map[string]string{}
	if existing != nil {
		for _, tr := range existing.Transactions {
			states[tr.ID] = tr.StateID
		}
	}
	out := make([]domain.OrderTransaction, 0, len(transactions))
	for _, tr := range transactions {
		id := tr.ID
		if id == "" {
			id = cv.newID()
		}
		state, ok := states[id]
		if !ok {
			state = StateOpen
		}
		out = append(out, domain.OrderTransaction{
			ID:              id,
			OrderID:         orderID,
			PaymentMethodID: tr.PaymentMethodID,
			Amount:          tr.Amount,
			StateID:         state,
		})
	}
	return out
}

// primaryDelivery сохраняет прежнюю основную доставку, если она осталась,
// иначе выбирает первую обычную доставку.
func primaryDelivery(existing *domain.Order, deliveries []domain.OrderDelivery) string {
	if existing != nil && existing.PrimaryOrderDeliveryID != "" {
		for _, d := range deliveries {
			if d.ID == existing.PrimaryOrderDeliveryID {
				return d.ID
			}
		}
	}
	for _, d := range deliveries {
		if !d.IsPromotion() {
			return d.ID
		}
	}
	return ""
}

func primaryTransaction(existing *domain.Order, transactions []domain.OrderTransaction) string {
	if existing != nil && existing.PrimaryOrderTransactionID != "" {
		for _, tr := range transactions {
			if tr.ID == existing.PrimaryOrderTransactionID {
				return tr.ID
			}
		}
	}
	if len(transactions) > 0 {
		return transactions[0].ID
	}
	return ""
}

// ConvertToCart восстанавливает корзину из заказа. Позиции получают
// OriginalID строк заказа, поэтому обратная конвертация сохраняет их ID.
func (cv *Converter) ConvertToCart(o domain.Order) (*cart.Cart, error) {
	c := cart.New(o.ID)
	c.CustomerComment = o.CustomerComment
	c.AffiliateCode = o.AffiliateCode
	c.CampaignCode = o.CampaignCode
	c.Price = o.Price
	c.RuleIDs = append([]string(nil), o.RuleIDs...)
	c.PromotionCodes = append([]string(nil), o.PromotionCodes...)
	if o.ManualShippingCosts != nil {
		manual := *o.ManualShippingCosts
		c.ManualShippingCosts = &manual
	}

	items, identifiers, err := rebuildTree(o.LineItems)
	if err != nil {
		return nil, err
	}
	c.LineItems = items

	deliveries := append([]domain.OrderDelivery(nil), o.Deliveries...)
	sort.SliceStable(deliveries, func(i, j int) bool {
		return deliveries[i].ID == o.PrimaryOrderDeliveryID && deliveries[j].ID != o.PrimaryOrderDeliveryID
	})
	for _, d := range deliveries {
		c.Deliveries = append(c.Deliveries, cartDelivery(o, d, identifiers))
	}

	transactions := append([]domain.OrderTransaction(nil), o.Transactions...)
	sort.SliceStable(transactions, func(i, j int) bool {
		return transactions[i].ID == o.PrimaryOrderTransactionID && transactions[j].ID != o.PrimaryOrderTransactionID
	})
	for _, tr := range transactions {
		c.Transactions = append(c.Transactions, cart.Transaction{
			ID:              tr.ID,
			PaymentMethodID: tr.PaymentMethodID,
			Amount:          tr.Amount,
		})
	}
	return c, nil
}

// rebuildTree собирает дерево позиций по ParentID в порядке Position.
// Возвращает дерево и отображение ID строки заказа в ID позиции корзины.
func rebuildTree(rows []domain.OrderLineItem) (cart.LineItems, map[string]string, error) {
	identifiers := make(map[string]string, len(rows))
	byID := make(map[string]*cart.LineItem, len(rows))
	children := make(map[string][]domain.OrderLineItem)
	var roots []domain.OrderLineItem

	for _, row := range rows {
		item, err := cartLineItem(row)
		if err != nil {
			return nil, nil, err
		}
		byID[row.ID] = item
		identifiers[row.ID] = item.ID
		if row.ParentID == nil {
			roots = append(roots, row)
		} else {
			children[*row.ParentID] = append(children[*row.ParentID], row)
		}
	}
	for parentID := range children {
		if _, ok := byID[parentID]; !ok {
			return nil, nil, fmt.Errorf("%w: line item parent %s does not exist", domain.ErrOrderInvalid, parentID)
		}
	}

	var attach func(level []domain.OrderLineItem) cart.LineItems
	attach = func(level []domain.OrderLineItem) cart.LineItems {
		sort.SliceStable(level, func(i, j int) bool { return level[i].Position < level[j].Position })
		out := make(cart.LineItems, 0, len(level))
		for _, row := range level {
			item := byID[row.ID]
			if nested := children[row.ID]; len(nested) > 0 {
				item.Children = attach(nested)
			}
			out = append(out, item)
		}
		return out
	}
	return attach(roots), identifiers, nil
}

func cartLineItem(row domain.OrderLineItem) (*cart.LineItem, error) {
	t := cart.LineItemType(row.Type)
	if _, err := cart.DefaultFlags(t); err != nil {
		return nil, err
	}
	id := row.Identifier
	if id == "" {
		id = row.ID
	}
	item := &cart.LineItem{
		ID:           id,
		ReferencedID: row.ReferencedID,
		Type:         t,
		Label:        row.Label,
		Description:  row.Description,
		Quantity:     row.Quantity,
		States:       append([]string(nil), row.States...),
		Payload:      map[string]string{},
		Flags: cart.Flags{
			Good:              row.Good,
			Stackable:         row.Stackable,
			Removable:         row.Removable,
			ShippingCostAware: row.ShippingCostAware,
		},
		OriginalID: row.ID,
	}
	for k, v := range row.Payload {
		item.Payload[k] = v
	}
	if row.PriceDefinition != nil {
		def := *row.PriceDefinition
		item.PriceDefinition = &def
	}
	p := row.Price
	item.Price = &p
	if row.Weight != nil || row.FreeDelivery {
		info := &cart.DeliveryInformation{FreeDelivery: row.FreeDelivery}
		if row.Weight != nil {
			info.Weight = *row.Weight
		}
		item.DeliveryInformation = info
	}
	return item, nil
}

func cartDelivery(o domain.Order, d domain.OrderDelivery, identifiers map[string]string) cart.Delivery {
	id := d.CustomFields[domain.CustomFieldOriginalID]
	if id == "" {
		id = d.ID
	}
	out := cart.Delivery{
		ID:               id,
		ShippingMethodID: d.ShippingMethodID,
		Date:             cart.DeliveryDate{Earliest: d.ShippingDateEarliest, Latest: d.ShippingDateLatest},
		ShippingCosts:    d.ShippingCosts,
		PromotionID:      d.PromotionID,
		DiscountID:       d.DiscountID,
	}
	if d.ShippingOrderAddressID != nil {
		out.Location.AddressID = *d.ShippingOrderAddressID
		if address, ok := o.Address(*d.ShippingOrderAddressID); ok {
			out.Location.CountryID = address.CountryID
		}
	}
	for _, pos := range d.Positions {
		lineItemID, ok := identifiers[pos.OrderLineItemID]
		if !ok {
			continue
		}
		out.Positions = append(out.Positions, cart.DeliveryPosition{
			LineItemID: lineItemID,
			Quantity:   pos.Quantity,
			Price:      pos.Price,
			OriginalID: pos.ID,
		})
	}
	return out
}

// SalesContext восстанавливает контекст исполнения из сохранённого заказа.
func SalesContext(o domain.Order, now time.Time) cart.SalesContext {
	sc := cart.SalesContext{
		Currency: o.Currency,
		TaxState: o.TaxState,
		Rounding: o.Rounding,
		Now:      now,
	}
	if sc.TaxState == "" {
		sc.TaxState = price.TaxStateGross
	}
	if primary, ok := o.PrimaryDelivery(); ok {
		sc.ShippingMethodID = primary.ShippingMethodID
		if primary.ShippingOrderAddressID != nil {
			sc.Location.AddressID = *primary.ShippingOrderAddressID
			if address, ok := o.Address(*primary.ShippingOrderAddressID); ok {
				sc.Location.CountryID = address.CountryID
			}
		}
	}
	if primary, ok := o.PrimaryTransaction(); ok {
		sc.PaymentMethodID = primary.PaymentMethodID
	}
	if o.Customer != nil {
		sc.CustomerID = o.Customer.CustomerID
	}
	return sc
}
