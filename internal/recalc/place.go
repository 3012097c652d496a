package recalc

import (
	"context"
	"fmt"

	"github.com/vladislavdragonenkov/orderedit/internal/cart"
	"github.com/vladislavdragonenkov/orderedit/internal/converter"
	"github.com/vladislavdragonenkov/orderedit/internal/domain"
	"github.com/vladislavdragonenkov/orderedit/internal/price"
)

// PlaceItem — товар нового заказа.
type PlaceItem struct {
	ProductID string `json:"productId"`
	Quantity  int    `json:"quantity"`
}

// PlaceRequest описывает новый заказ.
type PlaceRequest struct {
	OrderNumber       string                `json:"orderNumber"`
	Currency          string                `json:"currency,omitempty"`
	TaxState          price.TaxState        `json:"taxState,omitempty"`
	ShippingMethodID  string                `json:"shippingMethodId"`
	PaymentMethodID   string                `json:"paymentMethodId,omitempty"`
	Customer          *domain.OrderCustomer `json:"customer,omitempty"`
	Addresses         []domain.OrderAddress `json:"addresses"`
	BillingAddressID  string                `json:"billingAddressId,omitempty"`
	ShippingAddressID string                `json:"shippingAddressId,omitempty"`
	Items             []PlaceItem           `json:"items"`
	PromotionCodes    []string              `json:"promotionCodes,omitempty"`
	CustomerComment   string                `json:"customerComment,omitempty"`
}

// PlaceOrder обрабатывает новую корзину и сохраняет заказ в live-версии.
func (s *Service) PlaceOrder(ctx context.Context, req PlaceRequest) (domain.Order, Result, error) {
	if len(req.Items) == 0 {
		return domain.Order{}, Result{}, fmt.Errorf("%w: order has no items", domain.ErrInvalidArgument)
	}
	if req.ShippingMethodID == "" {
		return domain.Order{}, Result{}, fmt.Errorf("%w: shipping method is required", domain.ErrInvalidArgument)
	}

	sc := cart.SalesContext{
		Currency:         req.Currency,
		TaxState:         req.TaxState,
		Rounding:         s.rounding,
		ShippingMethodID: req.ShippingMethodID,
		PaymentMethodID:  req.PaymentMethodID,
		Now:              s.now(),
	}
	if sc.Currency == "" {
		sc.Currency = s.currency
	}
	if sc.TaxState == "" {
		sc.TaxState = s.taxState
	}
	if req.Customer != nil {
		sc.CustomerID = req.Customer.CustomerID
	}

	shippingAddress := req.ShippingAddressID
	if shippingAddress == "" {
		shippingAddress = req.BillingAddressID
	}
	if shippingAddress != "" {
		found := false
		for _, a := range req.Addresses {
			if a.ID == shippingAddress {
				sc.Location = cart.Location{CountryID: a.CountryID, AddressID: a.ID}
				found = true
				break
			}
		}
		if !found {
			return domain.Order{}, Result{}, fmt.Errorf("%w: %s", domain.ErrAddressNotFound, shippingAddress)
		}
	}

	c := cart.New(s.newID())
	c.CustomerComment = req.CustomerComment
	for _, in := range req.Items {
		product, err := s.products.Product(ctx, in.ProductID)
		if err != nil {
			return domain.Order{}, Result{}, err
		}
		qty := in.Quantity
		if qty <= 0 {
			qty = 1
		}
		item, err := cart.NewLineItem(product.ID, cart.LineItemProduct, qty)
		if err != nil {
			return domain.Order{}, Result{}, err
		}
		item.ReferencedID = product.ID
		if err := c.AddLineItems(item); err != nil {
			return domain.Order{}, Result{}, err
		}
	}
	for _, code := range req.PromotionCodes {
		c.AddPromotionCode(code)
	}

	processed, err := s.processor.Process(ctx, c, sc, cart.DefaultBehavior())
	if err != nil {
		return domain.Order{}, Result{}, err
	}
	if len(processed.LineItems.GoodsFlat()) == 0 {
		return domain.Order{}, Result{Errors: processed.Errors}, fmt.Errorf("%w: no orderable items left", domain.ErrInvalidArgument)
	}

	o, err := s.converter.ConvertToOrder(processed, sc, converter.ConversionContext{
		OrderNumber:      req.OrderNumber,
		Addresses:        req.Addresses,
		Customer:         req.Customer,
		BillingAddressID: req.BillingAddressID,
	})
	if err != nil {
		return domain.Order{}, Result{}, err
	}
	if err := s.orders.Create(ctx, o); err != nil {
		return domain.Order{}, Result{}, err
	}

	s.logger.WithField("order_id", o.ID).WithField("total_price", o.Price.TotalPrice.String()).Info("order placed")
	s.emit(ctx, o.ID, domain.LiveVersionID, domain.TimelineOrderPlaced, domain.EventOrderPlaced, "", &o)

	errs := processed.Errors
	if errs == nil {
		errs = cart.Errors{}
	}
	return o, Result{Errors: errs}, nil
}
