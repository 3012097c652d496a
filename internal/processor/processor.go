package processor

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/orderedit/internal/cart"
	"github.com/vladislavdragonenkov/orderedit/internal/catalog"
	"github.com/vladislavdragonenkov/orderedit/internal/delivery"
	"github.com/vladislavdragonenkov/orderedit/internal/metrics"
	"github.com/vladislavdragonenkov/orderedit/internal/price"
	"github.com/vladislavdragonenkov/orderedit/internal/promotion"
	"github.com/vladislavdragonenkov/orderedit/internal/rule"
)

// Ключи мягких ошибок обработки.
const (
	ErrorKeyProductNotAvailable = "product-not-available"
	ErrorKeyLineItemNotPriced   = "line-item-not-priceable"
)

// ProductGateway загружает товары по ID; отсутствующие товары не попадают в результат.
type ProductGateway interface {
	Products(ctx context.Context, ids []string) (map[string]catalog.Product, error)
}

// Processor выполняет полный пересчёт корзины.
type Processor struct {
	products   ProductGateway
	rules      rule.Registry
	promotions *promotion.Processor
	deliveries *delivery.Builder
	metrics    *metrics.RecalcMetrics
	logger     *log.Entry
	newID      func() string
}

// Option настраивает Processor.
type Option func(*Processor)

// WithMetrics включает метрики обработки.
func WithMetrics(m *metrics.RecalcMetrics) Option {
	return func(p *Processor) {
		p.metrics = m
	}
}

// WithLogger задаёт логгер.
func WithLogger(logger *log.Entry) Option {
	return func(p *Processor) {
		if logger != nil {
			p.logger = logger
		}
	}
}

// New создаёт обработчик корзины.
func New(products ProductGateway, rules rule.Registry, promotions *promotion.Processor, deliveries *delivery.Builder, opts ...Option) *Processor {
	p := &Processor{
		products:   products,
		rules:      rules,
		promotions: promotions,
		deliveries: deliveries,
		logger:     log.WithField("component", "cart-processor"),
		newID:      uuid.NewString,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Process пересчитывает копию корзины. Входная корзина не изменяется.
// Повторная обработка результата даёт те же идентификаторы и суммы.
func (p *Processor) Process(ctx context.Context, in *cart.Cart, sc cart.SalesContext, behavior cart.Behavior) (*cart.Cart, error) {
	start := time.Now()
	c := in.Clone()
	c.Behavior = behavior
	c.Errors = nil
	calc := price.NewCalculator(sc.Rounding)

	err := p.run(ctx, c, sc, calc)
	if err != nil {
		p.metrics.RecordRun(metrics.ResultError, time.Since(start))
		p.logger.WithError(err).WithField("cart", c.Token).Warn("cart processing failed")
		return nil, err
	}
	p.metrics.RecordRun(metrics.ResultOK, time.Since(start))
	for _, softErr := range c.Errors {
		p.metrics.RecordSoftError(softErr.Key)
	}
	return c, nil
}

func (p *Processor) run(ctx context.Context, c *cart.Cart, sc cart.SalesContext, calc *price.Calculator) error {
	stage := func(name string, fn func() error) error {
		started := time.Now()
		err := fn()
		p.metrics.RecordStage(name, time.Since(started))
		if err != nil {
			return fmt.Errorf("%s: %w", name, err)
		}
		return nil
	}

	if err := stage("products", func() error { return p.enrich(ctx, c) }); err != nil {
		return err
	}
	if err := stage("prices", func() error {
		items, err := p.priceLevel(c, c.LineItems, sc.TaxState, calc)
		c.LineItems = items
		return err
	}); err != nil {
		return err
	}

	c.RuleIDs = p.rules.Evaluate(rule.Scope{Cart: c, Context: sc})

	var shippingDiscounts []promotion.ShippingDiscount
	if err := stage("promotions", func() error {
		var err error
		shippingDiscounts, err = p.promotions.Process(ctx, c, sc, calc)
		return err
	}); err != nil {
		return err
	}
	if err := stage("deliveries", func() error {
		if err := p.deliveries.Build(ctx, c, sc, calc); err != nil {
			return err
		}
		promotion.ApplyShippingDiscounts(c, shippingDiscounts, calc, sc.TaxState)
		return nil
	}); err != nil {
		return err
	}

	c.Price = totals(c, sc.TaxState)
	p.updateTransactions(c, sc)
	return nil
}

// enrich загружает данные товаров и удаляет недоступные товарные позиции.
func (p *Processor) enrich(ctx context.Context, c *cart.Cart) error {
	var ids []string
	for _, item := range c.LineItems.Flatten() {
		if item.Type == cart.LineItemProduct && item.ReferencedID != "" {
			ids = append(ids, item.ReferencedID)
		}
	}
	products := map[string]catalog.Product{}
	if len(ids) > 0 {
		loaded, err := p.products.Products(ctx, ids)
		if err != nil {
			return fmt.Errorf("load products: %w", err)
		}
		products = loaded
	}
	c.LineItems = p.enrichLevel(c, c.LineItems, products)
	return nil
}

func (p *Processor) enrichLevel(c *cart.Cart, items cart.LineItems, products map[string]catalog.Product) cart.LineItems {
	out := make(cart.LineItems, 0, len(items))
	for _, item := range items {
		item.Children = p.enrichLevel(c, item.Children, products)
		if item.Type != cart.LineItemProduct || item.ReferencedID == "" {
			out = append(out, item)
			continue
		}

		product, found := products[item.ReferencedID]
		if !found || !product.Active {
			if !c.Behavior.KeepInactiveProduct {
				c.Errors = c.Errors.Add(cart.Error{
					Key:     ErrorKeyProductNotAvailable,
					Level:   cart.LevelWarning,
					Message: fmt.Sprintf("product %s is not available and was removed", item.ReferencedID),
				})
				continue
			}
			if !found {
				c.Errors = c.Errors.Add(cart.Error{
					Key:     ErrorKeyProductNotAvailable,
					Level:   cart.LevelNotice,
					Message: fmt.Sprintf("product %s no longer exists, line item %s kept with stored price", item.ReferencedID, item.ID),
				})
				item.ReferencedID = ""
				out = append(out, item)
				continue
			}
		}

		if item.Label == "" || !c.Behavior.SkipProductRecalculation {
			item.Label = product.Name
		}
		item.DeliveryInformation = &cart.DeliveryInformation{
			Weight:       product.Weight,
			FreeDelivery: product.FreeDelivery,
		}
		if item.PriceDefinition == nil || !c.Behavior.SkipProductRecalculation {
			def := product.Definition(item.Quantity)
			item.PriceDefinition = &def
		}
		out = append(out, item)
	}
	return out
}

// priceLevel считает цены уровня дерева: сначала дети, затем позиции с
// абсолютной ценой, затем относительные определения от товаров уровня.
// Позиции-скидки оцениваются обработчиком промо-акций.
func (p *Processor) priceLevel(c *cart.Cart, items cart.LineItems, state price.TaxState, calc *price.Calculator) (cart.LineItems, error) {
	out := make(cart.LineItems, 0, len(items))
	var relative cart.LineItems

	for _, item := range items {
		if len(item.Children) > 0 {
			children, err := p.priceLevel(c, item.Children, state, calc)
			if err != nil {
				return nil, err
			}
			item.Children = children
		}

		switch {
		case item.Type == cart.LineItemPromotion:
		case item.PriceDefinition != nil && item.PriceDefinition.IsRelative():
			relative = append(relative, item)
		case item.PriceDefinition != nil:
			def := item.PriceDefinition.WithQuantity(item.Quantity)
			calculated, err := calc.Calculate(def, state, nil)
			if err != nil {
				return nil, fmt.Errorf("line item %s: %w", item.ID, err)
			}
			item.PriceDefinition = &def
			item.Price = &calculated
		case len(item.Children) > 0:
			item.Price = containerPrice(item, calc)
		default:
			c.Errors = c.Errors.Add(cart.Error{
				Key:     ErrorKeyLineItemNotPriced,
				Level:   cart.LevelWarning,
				Message: fmt.Sprintf("line item %s has no price and was removed", item.ID),
			})
			continue
		}
		out = append(out, item)
	}

	referenced := out.GoodsFlat().Prices()
	for _, item := range relative {
		calculated, err := calc.Calculate(*item.PriceDefinition, state, referenced)
		if err != nil {
			return nil, fmt.Errorf("line item %s: %w", item.ID, err)
		}
		item.Price = &calculated
	}
	return out, nil
}

func containerPrice(item *cart.LineItem, calc *price.Calculator) *price.CalculatedPrice {
	sum := price.Sum(item.Children.Prices())
	sum.Quantity = item.Quantity
	if item.Quantity > 1 {
		sum.UnitPrice = calc.Rounding().Round(sum.TotalPrice.Div(decimal.NewFromInt(int64(item.Quantity))))
	}
	return &sum
}

// totals складывает позиции верхнего уровня и доставки.
func totals(c *cart.Cart, state price.TaxState) price.CartPrice {
	positions := price.Sum(c.LineItems.Prices())
	shipping := price.Sum(c.Deliveries.ShippingCosts())
	all := append(c.LineItems.Prices(), c.Deliveries.ShippingCosts()...)

	taxes := positions.CalculatedTaxes.Merge(shipping.CalculatedTaxes)
	sum := positions.TotalPrice.Add(shipping.TotalPrice)

	out := price.CartPrice{
		PositionPrice: positions.TotalPrice,
		TaxRules:      price.BuildPercentageRules(all),
		TaxStatus:     state,
	}
	switch state {
	case price.TaxStateNet:
		out.NetPrice = sum
		out.TotalPrice = sum.Add(taxes.Amount())
		out.CalculatedTaxes = taxes
	case price.TaxStateTaxFree:
		out.NetPrice = sum
		out.TotalPrice = sum
		out.CalculatedTaxes = price.CalculatedTaxCollection{}
	default:
		out.TotalPrice = sum
		out.NetPrice = sum.Sub(taxes.Amount())
		out.CalculatedTaxes = taxes
	}
	return out
}

// updateTransactions переносит итог корзины в первый платёж.
func (p *Processor) updateTransactions(c *cart.Cart, sc cart.SalesContext) {
	if len(c.Transactions) == 0 {
		if sc.PaymentMethodID == "" {
			return
		}
		c.Transactions = []cart.Transaction{{ID: p.newID(), PaymentMethodID: sc.PaymentMethodID}}
	}
	c.Transactions[0].Amount = price.CalculatedPrice{
		UnitPrice:       c.Price.TotalPrice,
		TotalPrice:      c.Price.TotalPrice,
		Quantity:        1,
		CalculatedTaxes: append(price.CalculatedTaxCollection(nil), c.Price.CalculatedTaxes...),
		TaxRules:        append(price.TaxRuleCollection(nil), c.Price.TaxRules...),
	}
}
