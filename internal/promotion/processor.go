package promotion

import (
	"context"
	"errors"
	"fmt"
	"sort"

	"github.com/shopspring/decimal"
	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/orderedit/internal/cart"
	"github.com/vladislavdragonenkov/orderedit/internal/domain"
	"github.com/vladislavdragonenkov/orderedit/internal/price"
	"github.com/vladislavdragonenkov/orderedit/internal/rule"
)

// DeliveryIDPrefix — префикс ID доставки, сгенерированной скидкой на доставку.
const DeliveryIDPrefix = "promotion-delivery-"

// ShippingDiscount — скидка на доставку, которую нужно применить после сборки доставок.
type ShippingDiscount struct {
	PromotionID string
	Discount    Discount
}

// Processor применяет промо-акции к корзине.
type Processor struct {
	repo   Repository
	rules  rule.Registry
	logger *log.Entry
}

// NewProcessor создаёт обработчик промо-акций.
func NewProcessor(repo Repository, rules rule.Registry) *Processor {
	return &Processor{
		repo:   repo,
		rules:  rules,
		logger: log.WithField("component", "promotion-processor"),
	}
}

// candidate — акция и скидки, которые разрешено применить.
type candidate struct {
	promotion Promotion
	// discounts == nil означает все скидки акции.
	discounts map[string]Discount
	// checkRules == false для сохранённых автоматических скидок в режиме пересчёта.
	checkRules bool
}

// Process приводит позиции-скидки корзины в соответствие с применимыми акциями.
// Позиция получает ID скидки, поэтому повторный запуск обновляет её на месте.
// Скидки на доставку возвращаются вызывающему: их применяют после сборки доставок.
func (p *Processor) Process(ctx context.Context, c *cart.Cart, sc cart.SalesContext, calc *price.Calculator) ([]ShippingDiscount, error) {
	candidates, err := p.collect(ctx, c)
	if err != nil {
		return nil, err
	}

	scope := rule.Scope{Cart: c, Context: sc}
	eligible := make([]candidate, 0, len(candidates))
	for _, cand := range candidates {
		ok, err := p.eligible(cand, scope)
		if err != nil {
			return nil, err
		}
		if !ok {
			if !cand.promotion.IsAutomatic() {
				c.Errors = c.Errors.Add(cart.Error{
					Key:     ErrorKeyNotEligible,
					Level:   cart.LevelNotice,
					Message: fmt.Sprintf("promotion code %q is not applicable to the cart", cand.promotion.Code),
				})
			}
			continue
		}
		eligible = append(eligible, cand)
	}

	sort.SliceStable(eligible, func(i, j int) bool {
		if eligible[i].promotion.Priority != eligible[j].promotion.Priority {
			return eligible[i].promotion.Priority > eligible[j].promotion.Priority
		}
		return eligible[i].promotion.ID < eligible[j].promotion.ID
	})

	goods := c.LineItems.GoodsFlat().Filter(func(li *cart.LineItem) bool { return li.Price != nil })
	goodsPrices := goods.Prices()
	remaining := decimal.Zero
	for _, gp := range goodsPrices {
		remaining = remaining.Add(gp.TotalPrice)
	}

	produced := make(map[string]struct{})
	var shipping []ShippingDiscount
	for _, cand := range eligible {
		for _, discount := range cand.promotion.Discounts {
			if cand.discounts != nil {
				stored, ok := cand.discounts[discount.ID]
				if !ok {
					continue
				}
				discount = stored
			}

			if discount.Scope == ScopeDelivery {
				shipping = append(shipping, ShippingDiscount{PromotionID: cand.promotion.ID, Discount: discount})
				continue
			}
			if !remaining.IsPositive() {
				continue
			}

			def := lineItemDefinition(discount)
			discounted, err := calc.Calculate(def, sc.TaxState, goodsPrices)
			if err != nil {
				return nil, fmt.Errorf("price discount %s: %w", discount.ID, err)
			}
			if discounted.TotalPrice.Neg().GreaterThan(remaining) {
				discounted = calc.Total(remaining.Neg(), discounted.TaxRules, sc.TaxState)
			}
			if discounted.TotalPrice.IsZero() {
				continue
			}
			remaining = remaining.Add(discounted.TotalPrice)

			if err := upsertItem(c, cand.promotion, discount, def, discounted); err != nil {
				return nil, err
			}
			produced[discount.ID] = struct{}{}
		}
	}

	c.LineItems = c.LineItems.Filter(func(li *cart.LineItem) bool {
		if li.Type != cart.LineItemPromotion {
			return true
		}
		_, ok := produced[li.ID]
		return ok
	})

	return shipping, nil
}

// collect собирает акции по кодам корзины, автоматические акции и,
// при SkipAutomaticPromotions, ранее применённые автоматические скидки.
func (p *Processor) collect(ctx context.Context, c *cart.Cart) ([]candidate, error) {
	var out []candidate
	seen := make(map[string]int)
	add := func(cand candidate) {
		if idx, ok := seen[cand.promotion.ID]; ok {
			// Код или полный набор скидок важнее сохранённого подмножества.
			if out[idx].discounts != nil {
				out[idx] = cand
			}
			return
		}
		seen[cand.promotion.ID] = len(out)
		out = append(out, cand)
	}

	for _, code := range append([]string(nil), c.PromotionCodes...) {
		promo, err := p.repo.ByCode(ctx, code)
		if errors.Is(err, domain.ErrPromotionNotFound) || (err == nil && !promo.Active) {
			c.Errors = c.Errors.Add(cart.Error{
				Key:     ErrorKeyCodeNotFound,
				Level:   cart.LevelWarning,
				Message: fmt.Sprintf("promotion code %q not found", code),
			})
			c.RemovePromotionCode(code)
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("load promotion by code %q: %w", code, err)
		}
		add(candidate{promotion: promo, checkRules: true})
	}

	if !c.Behavior.SkipAutomaticPromotions {
		automatic, err := p.repo.Automatic(ctx)
		if err != nil {
			return nil, fmt.Errorf("load automatic promotions: %w", err)
		}
		for _, promo := range automatic {
			add(candidate{promotion: promo, checkRules: true})
		}
		return out, nil
	}

	kept, err := p.keptAutomatic(ctx, c)
	if err != nil {
		return nil, err
	}
	for _, cand := range kept {
		add(cand)
	}
	return out, nil
}

// keptAutomatic возвращает автоматические скидки, уже применённые к корзине.
// Позиции пересчитываются по значению из payload, доставки по текущей скидке.
func (p *Processor) keptAutomatic(ctx context.Context, c *cart.Cart) ([]candidate, error) {
	byPromotion := make(map[string]*candidate)
	var order []string

	keep := func(promotionID string, discountID string, stored *Discount) error {
		cand, ok := byPromotion[promotionID]
		if !ok {
			promo, err := p.repo.Get(ctx, promotionID)
			if errors.Is(err, domain.ErrPromotionNotFound) {
				return nil
			}
			if err != nil {
				return fmt.Errorf("load promotion %s: %w", promotionID, err)
			}
			if !promo.Active || !promo.IsAutomatic() {
				return nil
			}
			cand = &candidate{promotion: promo, discounts: map[string]Discount{}}
			byPromotion[promotionID] = cand
			order = append(order, promotionID)
		}
		current, ok := cand.promotion.Discount(discountID)
		if !ok {
			return nil
		}
		if stored != nil {
			current = *stored
		}
		cand.discounts[discountID] = current
		return nil
	}

	for _, item := range c.LineItems.FilterType(cart.LineItemPromotion) {
		if item.Payload[PayloadCode] != "" {
			continue
		}
		stored, ok := discountFromPayload(item.ID, item.Payload)
		if !ok {
			continue
		}
		if err := keep(item.Payload[PayloadPromotionID], item.ID, &stored); err != nil {
			return nil, err
		}
	}
	for _, d := range c.Deliveries {
		if !d.IsPromotion() || d.PromotionID == "" {
			continue
		}
		if err := keep(d.PromotionID, d.DiscountID, nil); err != nil {
			return nil, err
		}
	}

	out := make([]candidate, 0, len(order))
	for _, id := range order {
		out = append(out, *byPromotion[id])
	}
	return out, nil
}

func (p *Processor) eligible(cand candidate, scope rule.Scope) (bool, error) {
	if !cand.promotion.Active {
		return false, nil
	}
	if !cand.checkRules {
		return true, nil
	}
	for _, ruleID := range cand.promotion.RuleIDs {
		ok, err := p.rules.Matches(ruleID, scope)
		if err != nil {
			return false, fmt.Errorf("promotion %s: %w", cand.promotion.ID, err)
		}
		if !ok {
			p.logger.WithFields(log.Fields{
				"promotion_id": cand.promotion.ID,
				"rule_id":      ruleID,
			}).Debug("promotion rule not matched")
			return false, nil
		}
	}
	return true, nil
}

func lineItemDefinition(d Discount) price.Definition {
	if d.Type == TypePercentage {
		return price.NewPercentageDefinition(d.Value.Abs().Neg(), d.MaxValue)
	}
	return price.NewAbsoluteDefinition(d.Value.Abs().Neg())
}

func upsertItem(c *cart.Cart, promo Promotion, d Discount, def price.Definition, p price.CalculatedPrice) error {
	item := c.LineItems.Get(d.ID)
	if item == nil {
		created, err := cart.NewLineItem(d.ID, cart.LineItemPromotion, 1)
		if err != nil {
			return err
		}
		next, err := c.LineItems.Add(created)
		if err != nil {
			return err
		}
		c.LineItems = next
		item = created
	}
	if item.Type != cart.LineItemPromotion {
		return fmt.Errorf("%w: line item %s is not a promotion", domain.ErrInvalidArgument, d.ID)
	}

	item.ReferencedID = promo.Code
	item.Label = promo.Name
	item.PriceDefinition = &def
	item.Price = &p
	item.Payload = discountPayload(promo, d)
	return nil
}

func discountPayload(promo Promotion, d Discount) map[string]string {
	payload := map[string]string{
		PayloadPromotionID:  promo.ID,
		PayloadDiscountID:   d.ID,
		PayloadCode:         promo.Code,
		PayloadDiscountType: string(d.Type),
		PayloadValue:        d.Value.String(),
	}
	if d.MaxValue != nil {
		payload[PayloadMaxValue] = d.MaxValue.String()
	}
	return payload
}

func discountFromPayload(id string, payload map[string]string) (Discount, bool) {
	value, err := decimal.NewFromString(payload[PayloadValue])
	if err != nil {
		return Discount{}, false
	}
	d := Discount{
		ID:    id,
		Scope: ScopeCart,
		Type:  DiscountType(payload[PayloadDiscountType]),
		Value: value,
	}
	if raw, ok := payload[PayloadMaxValue]; ok {
		maxValue, err := decimal.NewFromString(raw)
		if err != nil {
			return Discount{}, false
		}
		d.MaxValue = &maxValue
	}
	return d, true
}

// ApplyShippingDiscounts добавляет доставки-скидки к собранным обычным доставкам.
// Скидка ограничена суммой стоимостей обычных доставок и облагается налогом
// в их пропорциях.
func ApplyShippingDiscounts(c *cart.Cart, discounts []ShippingDiscount, calc *price.Calculator, state price.TaxState) {
	regular := c.Deliveries.Regular()
	c.Deliveries = regular
	if len(regular) == 0 || len(discounts) == 0 {
		return
	}

	costs := regular.ShippingCosts()
	total := decimal.Zero
	for _, cost := range costs {
		total = total.Add(cost.TotalPrice)
	}
	if !total.IsPositive() {
		return
	}
	rules := price.BuildPercentageRules(costs)
	rounding := calc.Rounding()
	first := regular[0]

	remaining := total
	for _, sd := range discounts {
		amount := sd.Discount.Value.Abs()
		if sd.Discount.Type == TypePercentage {
			amount = rounding.Round(total.Mul(amount).Div(decimal.NewFromInt(100)))
			if sd.Discount.MaxValue != nil && amount.GreaterThan(sd.Discount.MaxValue.Abs()) {
				amount = rounding.Round(sd.Discount.MaxValue.Abs())
			}
		}
		if amount.GreaterThan(remaining) {
			amount = remaining
		}
		if amount.IsZero() {
			continue
		}
		remaining = remaining.Sub(amount)

		c.Deliveries = append(c.Deliveries, cart.Delivery{
			ID:               DeliveryIDPrefix + sd.Discount.ID,
			ShippingMethodID: first.ShippingMethodID,
			Location:         first.Location,
			Date:             first.Date,
			ShippingCosts:    calc.Total(amount.Neg(), rules, state),
			PromotionID:      sd.PromotionID,
			DiscountID:       sd.Discount.ID,
		})
	}
}
