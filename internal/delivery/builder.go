package delivery

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/vladislavdragonenkov/orderedit/internal/cart"
	"github.com/vladislavdragonenkov/orderedit/internal/price"
	"github.com/vladislavdragonenkov/orderedit/internal/rule"
)

// Builder пересобирает доставки корзины.
type Builder struct {
	methods    MethodRepository
	calculator *Calculator
	newID      func() string
}

// NewBuilder создаёт сборщик доставок.
func NewBuilder(methods MethodRepository, calculator *Calculator) *Builder {
	return &Builder{
		methods:    methods,
		calculator: calculator,
		newID:      uuid.NewString,
	}
}

// Build группирует товарные позиции в одну доставку и считает её стоимость.
// ID существующей обычной доставки сохраняется, доставки-скидки удаляются:
// их заново создаёт обработчик промо-акций.
func (b *Builder) Build(ctx context.Context, c *cart.Cart, sc cart.SalesContext, calc *price.Calculator) error {
	goods := c.LineItems.GoodsFlat().Filter(func(li *cart.LineItem) bool { return li.Price != nil })
	if len(goods) == 0 {
		c.Deliveries = cart.Deliveries{}
		return nil
	}

	method, err := b.methods.ShippingMethod(ctx, sc.ShippingMethodID)
	if err != nil {
		return fmt.Errorf("load shipping method %q: %w", sc.ShippingMethodID, err)
	}

	var previous *cart.Delivery
	if regular := c.Deliveries.Regular(); len(regular) > 0 {
		previous = &regular[0]
	}

	d := cart.Delivery{
		ShippingMethodID: method.ID,
		Location:         sc.Location,
		Date:             deliveryDate(method, sc.Now),
	}
	if previous != nil {
		d.ID = previous.ID
		if c.Behavior.IsRecalculation && !previous.Date.Earliest.IsZero() {
			d.Date = previous.Date
		}
	} else {
		d.ID = b.newID()
	}

	originals := make(map[string]string)
	if previous != nil {
		for _, pos := range previous.Positions {
			originals[pos.LineItemID] = pos.OriginalID
		}
	}
	for _, item := range goods {
		d.Positions = append(d.Positions, cart.DeliveryPosition{
			LineItemID: item.ID,
			Quantity:   item.Quantity,
			Price:      *item.Price,
			OriginalID: originals[item.ID],
		})
	}

	costs, err := b.calculator.Calculate(calc, method, d, c.LineItems, c.ManualShippingCosts, rule.Scope{Cart: c, Context: sc})
	if err != nil {
		return err
	}
	d.ShippingCosts = costs

	c.Deliveries = cart.Deliveries{d}
	return nil
}

func deliveryDate(method Method, now time.Time) cart.DeliveryDate {
	if now.IsZero() {
		now = time.Now().UTC()
	}
	day := now.Truncate(24 * time.Hour)
	return cart.DeliveryDate{
		Earliest: day.AddDate(0, 0, method.DeliveryTime.MinDays),
		Latest:   day.AddDate(0, 0, method.DeliveryTime.MaxDays),
	}
}
