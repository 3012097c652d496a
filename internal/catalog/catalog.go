package catalog

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/shopspring/decimal"

	"github.com/vladislavdragonenkov/orderedit/internal/delivery"
	"github.com/vladislavdragonenkov/orderedit/internal/domain"
	"github.com/vladislavdragonenkov/orderedit/internal/price"
	"github.com/vladislavdragonenkov/orderedit/internal/promotion"
	"github.com/vladislavdragonenkov/orderedit/internal/rule"
)

// Product — товар каталога. Price задаётся нетто.
type Product struct {
	ID           string          `json:"id"`
	Number       string          `json:"productNumber"`
	Name         string          `json:"name"`
	Active       bool            `json:"active"`
	Price        decimal.Decimal `json:"price"`
	TaxRate      decimal.Decimal `json:"taxRate"`
	Weight       decimal.Decimal `json:"weight"`
	FreeDelivery bool            `json:"freeDelivery"`
}

// Definition возвращает определение цены товара для количества quantity.
func (p Product) Definition(quantity int) price.Definition {
	return price.NewQuantityDefinition(p.Price, price.TaxRuleCollection{price.NewTaxRule(p.TaxRate)}, quantity, false)
}

// Catalog — потокобезопасный каталог в памяти.
// Реализует источники товаров, способов доставки и промо-акций.
type Catalog struct {
	mu         sync.RWMutex
	products   map[string]Product
	methods    map[string]delivery.Method
	promotions map[string]promotion.Promotion
	rules      *rule.MemoryRegistry
}

// New создаёт пустой каталог.
func New() *Catalog {
	return &Catalog{
		products:   make(map[string]Product),
		methods:    make(map[string]delivery.Method),
		promotions: make(map[string]promotion.Promotion),
		rules:      rule.NewMemoryRegistry(),
	}
}

// Rules возвращает реестр правил каталога.
func (c *Catalog) Rules() *rule.MemoryRegistry {
	return c.rules
}

// PutProduct добавляет или заменяет товар.
func (c *Catalog) PutProduct(p Product) error {
	if p.ID == "" {
		return fmt.Errorf("%w: product id is required", domain.ErrInvalidArgument)
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.products[p.ID] = p
	return nil
}

// PutShippingMethod добавляет способ доставки после проверки тарифов.
func (c *Catalog) PutShippingMethod(m delivery.Method) error {
	if m.ID == "" {
		return fmt.Errorf("%w: shipping method id is required", domain.ErrInvalidArgument)
	}
	if err := m.Validate(); err != nil {
		return fmt.Errorf("shipping method %s: %w", m.ID, err)
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.methods[m.ID] = m
	return nil
}

// PutPromotion добавляет или заменяет промо-акцию.
func (c *Catalog) PutPromotion(p promotion.Promotion) error {
	if p.ID == "" {
		return fmt.Errorf("%w: promotion id is required", domain.ErrInvalidArgument)
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	for id, existing := range c.promotions {
		if id != p.ID && p.Code != "" && existing.Code == p.Code {
			return fmt.Errorf("%w: promotion code %q already used by %s", domain.ErrInvalidArgument, p.Code, id)
		}
	}
	c.promotions[p.ID] = p
	return nil
}

// Product возвращает товар по ID.
func (c *Catalog) Product(_ context.Context, id string) (Product, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	p, ok := c.products[id]
	if !ok {
		return Product{}, domain.ErrProductNotFound
	}
	return p, nil
}

// Products возвращает найденные товары; отсутствующие ID пропускаются.
func (c *Catalog) Products(_ context.Context, ids []string) (map[string]Product, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make(map[string]Product, len(ids))
	for _, id := range ids {
		if p, ok := c.products[id]; ok {
			out[id] = p
		}
	}
	return out, nil
}

// ShippingMethod возвращает активный способ доставки.
func (c *Catalog) ShippingMethod(_ context.Context, id string) (delivery.Method, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	m, ok := c.methods[id]
	if !ok || !m.Active {
		return delivery.Method{}, domain.ErrShippingMethodNotFound
	}
	return m, nil
}

// Automatic возвращает активные акции без кода в порядке ID.
func (c *Catalog) Automatic(_ context.Context) ([]promotion.Promotion, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]promotion.Promotion, 0, len(c.promotions))
	for _, p := range c.promotions {
		if p.Active && p.IsAutomatic() {
			out = append(out, p)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

// ByCode возвращает акцию по коду.
func (c *Catalog) ByCode(_ context.Context, code string) (promotion.Promotion, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	for _, p := range c.promotions {
		if code != "" && p.Code == code {
			return p, nil
		}
	}
	return promotion.Promotion{}, domain.ErrPromotionNotFound
}

// Get возвращает акцию по ID.
func (c *Catalog) Get(_ context.Context, id string) (promotion.Promotion, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	p, ok := c.promotions[id]
	if !ok {
		return promotion.Promotion{}, domain.ErrPromotionNotFound
	}
	return p, nil
}
