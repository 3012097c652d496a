package domain

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"github.com/vladislavdragonenkov/orderedit/internal/price"
)

// LiveVersionID — версия, в которой хранятся действующие данные.
const LiveVersionID = "0fa91ce3e96a4bc2be4bd9ce752c3425"

// CustomFieldOriginalID хранит cart-side ID доставки в строке заказа.
const CustomFieldOriginalID = "original_id"

// Order — сохранённая проекция корзины.
type Order struct {
	ID            string             `json:"id"`
	VersionID     string             `json:"versionId"`
	OrderNumber   string             `json:"orderNumber"`
	OrderDateTime time.Time          `json:"orderDateTime"`
	StateID       string             `json:"stateId"`
	Currency      string             `json:"currency"`
	TaxState      price.TaxState     `json:"taxState"`
	Rounding      price.CashRounding `json:"rounding"`

	CustomerComment string `json:"customerComment,omitempty"`
	AffiliateCode   string `json:"affiliateCode,omitempty"`
	CampaignCode    string `json:"campaignCode,omitempty"`

	Price               price.CartPrice        `json:"price"`
	ShippingCosts       price.CalculatedPrice  `json:"shippingCosts"`
	ManualShippingCosts *price.CalculatedPrice `json:"manualShippingCosts,omitempty"`
	RuleIDs             []string               `json:"ruleIds"`
	PromotionCodes      []string               `json:"promotionCodes,omitempty"`

	BillingAddressID          string `json:"billingAddressId,omitempty"`
	PrimaryOrderDeliveryID    string `json:"primaryOrderDeliveryId,omitempty"`
	PrimaryOrderTransactionID string `json:"primaryOrderTransactionId,omitempty"`

	LineItems    []OrderLineItem    `json:"lineItems"`
	Deliveries   []OrderDelivery    `json:"deliveries"`
	Transactions []OrderTransaction `json:"transactions"`
	Addresses    []OrderAddress     `json:"addresses"`
	Customer     *OrderCustomer     `json:"orderCustomer,omitempty"`
	TagIDs       []string           `json:"tagIds,omitempty"`
}

// OrderLineItem — плоская строка позиции; вложенность задаётся ParentID и Position.
type OrderLineItem struct {
	ID           string  `json:"id"`
	OrderID      string  `json:"orderId"`
	ParentID     *string `json:"parentId"`
	Identifier   string  `json:"identifier"`
	ReferencedID string  `json:"referencedId,omitempty"`
	Type         string  `json:"type"`
	Label        string  `json:"label"`
	Description  string  `json:"description,omitempty"`
	Quantity     int     `json:"quantity"`
	Position     int     `json:"position"`

	Good              bool `json:"good"`
	Stackable         bool `json:"stackable"`
	Removable         bool `json:"removable"`
	ShippingCostAware bool `json:"shippingCostAware"`

	PriceDefinition *price.Definition     `json:"priceDefinition,omitempty"`
	Price           price.CalculatedPrice `json:"price"`
	Payload         map[string]string     `json:"payload,omitempty"`
	States          []string              `json:"states,omitempty"`
	Weight          *decimal.Decimal      `json:"weight,omitempty"`
	FreeDelivery    bool                  `json:"freeDelivery,omitempty"`
}

// OrderDelivery описывает доставку заказа.
type OrderDelivery struct {
	ID                     string                `json:"id"`
	OrderID                string                `json:"orderId"`
	ShippingOrderAddressID *string               `json:"shippingOrderAddressId"`
	ShippingMethodID       string                `json:"shippingMethodId"`
	ShippingDateEarliest   time.Time             `json:"shippingDateEarliest"`
	ShippingDateLatest     time.Time             `json:"shippingDateLatest"`
	ShippingCosts          price.CalculatedPrice `json:"shippingCosts"`
	StateID                string                `json:"stateId"`
	PromotionID            string                `json:"promotionId,omitempty"`
	DiscountID             string                `json:"discountId,omitempty"`
	CustomFields           map[string]string     `json:"customFields,omitempty"`

	Positions []OrderDeliveryPosition `json:"positions"`
}

// IsPromotion сообщает, что доставка сгенерирована скидкой.
func (d OrderDelivery) IsPromotion() bool {
	return d.DiscountID != ""
}

// OrderDeliveryPosition связывает доставку и позицию заказа.
type OrderDeliveryPosition struct {
	ID              string                `json:"id"`
	OrderDeliveryID string                `json:"orderDeliveryId"`
	OrderLineItemID string                `json:"orderLineItemId"`
	Quantity        int                   `json:"quantity"`
	Price           price.CalculatedPrice `json:"price"`
}

// OrderTransaction описывает платёж заказа.
type OrderTransaction struct {
	ID              string                `json:"id"`
	OrderID         string                `json:"orderId"`
	PaymentMethodID string                `json:"paymentMethodId"`
	Amount          price.CalculatedPrice `json:"amount"`
	StateID         string                `json:"stateId"`
}

// OrderAddress описывает адрес, принадлежащий заказу.
type OrderAddress struct {
	ID        string `json:"id"`
	OrderID   string `json:"orderId"`
	FirstName string `json:"firstName"`
	LastName  string `json:"lastName"`
	Street    string `json:"street"`
	ZipCode   string `json:"zipCode"`
	City      string `json:"city"`
	CountryID string `json:"countryId"`
	Company   string `json:"company,omitempty"`
}

// OrderCustomer хранит снимок данных клиента на момент заказа.
type OrderCustomer struct {
	ID         string `json:"id"`
	OrderID    string `json:"orderId"`
	CustomerID string `json:"customerId,omitempty"`
	Email      string `json:"email"`
	FirstName  string `json:"firstName"`
	LastName   string `json:"lastName"`
}

// Address возвращает адрес заказа по ID.
func (o *Order) Address(id string) (OrderAddress, bool) {
	for _, a := range o.Addresses {
		if a.ID == id {
			return a, true
		}
	}
	return OrderAddress{}, false
}

// Delivery возвращает доставку по ID.
func (o *Order) Delivery(id string) (OrderDelivery, bool) {
	for _, d := range o.Deliveries {
		if d.ID == id {
			return d, true
		}
	}
	return OrderDelivery{}, false
}

// PrimaryDelivery возвращает основную доставку.
func (o *Order) PrimaryDelivery() (OrderDelivery, bool) {
	if o.PrimaryOrderDeliveryID == "" {
		return OrderDelivery{}, false
	}
	return o.Delivery(o.PrimaryOrderDeliveryID)
}

// PrimaryTransaction возвращает основной платёж.
func (o *Order) PrimaryTransaction() (OrderTransaction, bool) {
	for _, tr := range o.Transactions {
		if tr.ID == o.PrimaryOrderTransactionID {
			return tr, true
		}
	}
	return OrderTransaction{}, false
}

// Validate проверяет ссылочные инварианты агрегата.
func (o *Order) Validate() error {
	if o.ID == "" {
		return fmt.Errorf("%w: id is required", ErrOrderInvalid)
	}
	if o.Currency == "" {
		return fmt.Errorf("%w: currency is required", ErrOrderInvalid)
	}

	items := make(map[string]struct{}, len(o.LineItems))
	for _, li := range o.LineItems {
		items[li.ID] = struct{}{}
	}
	for _, li := range o.LineItems {
		if li.ParentID == nil {
			continue
		}
		if _, ok := items[*li.ParentID]; !ok {
			return fmt.Errorf("%w: line item %s references missing parent %s", ErrOrderInvalid, li.ID, *li.ParentID)
		}
	}

	for _, d := range o.Deliveries {
		if d.ShippingOrderAddressID != nil {
			if _, ok := o.Address(*d.ShippingOrderAddressID); !ok {
				return fmt.Errorf("%w: delivery %s references missing address", ErrOrderInvalid, d.ID)
			}
		}
		for _, pos := range d.Positions {
			if _, ok := items[pos.OrderLineItemID]; !ok {
				return fmt.Errorf("%w: delivery position %s references missing line item", ErrOrderInvalid, pos.ID)
			}
		}
	}

	if o.PrimaryOrderDeliveryID != "" {
		if _, ok := o.PrimaryDelivery(); !ok {
			return fmt.Errorf("%w: primary delivery %s does not exist", ErrOrderInvalid, o.PrimaryOrderDeliveryID)
		}
	}
	if o.PrimaryOrderTransactionID != "" {
		if _, ok := o.PrimaryTransaction(); !ok {
			return fmt.Errorf("%w: primary transaction %s does not exist", ErrOrderInvalid, o.PrimaryOrderTransactionID)
		}
	}
	if o.BillingAddressID != "" {
		if _, ok := o.Address(o.BillingAddressID); !ok {
			return fmt.Errorf("%w: billing address %s does not exist", ErrOrderInvalid, o.BillingAddressID)
		}
	}
	return nil
}
