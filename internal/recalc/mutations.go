package recalc

import (
	"context"
	"fmt"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/vladislavdragonenkov/orderedit/internal/cart"
	"github.com/vladislavdragonenkov/orderedit/internal/domain"
	"github.com/vladislavdragonenkov/orderedit/internal/price"
)

// CustomLineItem — произвольная позиция с ценой за единицу в режиме налогов заказа.
type CustomLineItem struct {
	Label       string          `json:"label"`
	Description string          `json:"description,omitempty"`
	Quantity    int             `json:"quantity"`
	UnitPrice   decimal.Decimal `json:"unitPrice"`
	TaxRate     decimal.Decimal `json:"taxRate"`
}

// CreditItem — фиксированный кредит; налоги распределяются по позициям заказа.
type CreditItem struct {
	Label  string          `json:"label"`
	Amount decimal.Decimal `json:"amount"`
}

// AddProductLineItem добавляет товар; повторное добавление увеличивает количество.
func (s *Service) AddProductLineItem(ctx context.Context, orderID, versionID, productID string, quantity int) (Result, error) {
	if quantity <= 0 {
		quantity = 1
	}
	return s.apply(ctx, orderID, versionID, change{
		name:     "add-product",
		behavior: cart.RecalculationBehavior(),
		cart: func(ctx context.Context, c *cart.Cart) (cart.Errors, error) {
			product, err := s.products.Product(ctx, productID)
			if err != nil {
				return nil, err
			}
			item, err := cart.NewLineItem(product.ID, cart.LineItemProduct, quantity)
			if err != nil {
				return nil, err
			}
			item.ReferencedID = product.ID
			item.Label = product.Name
			return nil, c.AddLineItems(item)
		},
	})
}

// AddCustomLineItem добавляет произвольную позицию с собственной ценой.
func (s *Service) AddCustomLineItem(ctx context.Context, orderID, versionID string, in CustomLineItem) (Result, error) {
	if strings.TrimSpace(in.Label) == "" {
		return Result{}, fmt.Errorf("%w: label is required", domain.ErrInvalidArgument)
	}
	if in.Quantity <= 0 {
		return Result{}, fmt.Errorf("%w: %v", domain.ErrInvalidArgument, cart.ErrLineItemQuantity)
	}
	return s.apply(ctx, orderID, versionID, change{
		name:     "add-custom-line-item",
		behavior: cart.RecalculationBehavior(),
		cart: func(_ context.Context, c *cart.Cart) (cart.Errors, error) {
			item, err := cart.NewLineItem(s.newID(), cart.LineItemCustom, in.Quantity)
			if err != nil {
				return nil, err
			}
			item.Label = in.Label
			item.Description = in.Description
			rules := price.TaxRuleCollection{price.NewTaxRule(in.TaxRate)}
			def := price.NewQuantityDefinition(in.UnitPrice, rules, in.Quantity, false)
			item.PriceDefinition = &def
			return nil, c.AddLineItems(item)
		},
	})
}

// AddCreditItem добавляет кредит; положительная сумма трактуется как скидка.
func (s *Service) AddCreditItem(ctx context.Context, orderID, versionID string, in CreditItem) (Result, error) {
	if strings.TrimSpace(in.Label) == "" {
		return Result{}, fmt.Errorf("%w: label is required", domain.ErrInvalidArgument)
	}
	if in.Amount.IsZero() {
		return Result{}, fmt.Errorf("%w: credit amount must not be zero", domain.ErrInvalidArgument)
	}
	return s.apply(ctx, orderID, versionID, change{
		name:     "add-credit-item",
		behavior: cart.RecalculationBehavior(),
		cart: func(_ context.Context, c *cart.Cart) (cart.Errors, error) {
			item, err := cart.NewLineItem(s.newID(), cart.LineItemCredit, 1)
			if err != nil {
				return nil, err
			}
			item.Label = in.Label
			def := price.NewAbsoluteDefinition(in.Amount.Abs().Neg())
			item.PriceDefinition = &def
			return nil, c.AddLineItems(item)
		},
	})
}

// AddPromotionLineItem применяет промо-код. Неизвестный или неподходящий код
// возвращается мягкой ошибкой, заказ при этом всё равно пересчитывается.
func (s *Service) AddPromotionLineItem(ctx context.Context, orderID, versionID, code string) (Result, error) {
	code = strings.TrimSpace(code)
	if code == "" {
		return Result{}, fmt.Errorf("%w: promotion code is required", domain.ErrInvalidArgument)
	}
	return s.apply(ctx, orderID, versionID, change{
		name:     "add-promotion-code",
		behavior: cart.RecalculationBehavior(),
		cart: func(_ context.Context, c *cart.Cart) (cart.Errors, error) {
			c.AddPromotionCode(code)
			return nil, nil
		},
	})
}

// ApplyAutomaticPromotions пересчитывает заказ с повторной оценкой автоматических акций.
func (s *Service) ApplyAutomaticPromotions(ctx context.Context, orderID, versionID string) (Result, error) {
	behavior := cart.RecalculationBehavior()
	behavior.SkipAutomaticPromotions = false
	return s.apply(ctx, orderID, versionID, change{name: "apply-automatic-promotions", behavior: behavior})
}

// ReplaceOrderAddress заменяет данные адреса заказа; ID адреса и ссылки на него сохраняются.
func (s *Service) ReplaceOrderAddress(ctx context.Context, orderID, versionID, addressID string, address domain.OrderAddress) (Result, error) {
	return s.apply(ctx, orderID, versionID, change{
		name:     "replace-order-address",
		behavior: cart.RecalculationBehavior(),
		order: func(o *domain.Order) error {
			for i := range o.Addresses {
				if o.Addresses[i].ID != addressID {
					continue
				}
				address.ID = addressID
				address.OrderID = o.ID
				o.Addresses[i] = address
				return nil
			}
			return fmt.Errorf("%w: %s", domain.ErrAddressNotFound, addressID)
		},
	})
}

// ChangeShippingCosts фиксирует стоимость доставки вручную. Налоги
// распределяются пропорционально позициям доставки.
func (s *Service) ChangeShippingCosts(ctx context.Context, orderID, versionID string, costs price.CalculatedPrice) (Result, error) {
	if costs.TotalPrice.IsNegative() {
		return Result{}, fmt.Errorf("%w: shipping costs must not be negative", domain.ErrInvalidArgument)
	}
	return s.apply(ctx, orderID, versionID, change{
		name:     "change-shipping-costs",
		behavior: cart.RecalculationBehavior(),
		cart: func(_ context.Context, c *cart.Cart) (cart.Errors, error) {
			manual := costs
			if manual.Quantity == 0 {
				manual.Quantity = 1
			}
			c.ManualShippingCosts = &manual
			return nil, nil
		},
	})
}
