package rule

import (
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/shopspring/decimal"

	"github.com/vladislavdragonenkov/orderedit/internal/cart"
)

// ErrRuleNotFound возвращается для незарегистрированного правила.
var ErrRuleNotFound = errors.New("rule not found")

// Scope — данные, по которым вычисляются предикаты.
type Scope struct {
	Cart    *cart.Cart
	Context cart.SalesContext
}

// Predicate — именованное условие правила.
type Predicate func(Scope) bool

// Registry вычисляет правила по идентификатору.
type Registry interface {
	// Matches проверяет правило; пустой ruleID всегда совпадает.
	Matches(ruleID string, scope Scope) (bool, error)
	// Priority возвращает приоритет правила; чем больше, тем важнее.
	Priority(ruleID string) int
	// Evaluate возвращает совпавшие правила по убыванию приоритета.
	Evaluate(scope Scope) []string
}

type entry struct {
	priority  int
	predicate Predicate
}

// MemoryRegistry — in-memory реестр правил, создаётся явно и передаётся зависимостям.
type MemoryRegistry struct {
	mu    sync.RWMutex
	rules map[string]entry
}

// NewMemoryRegistry создаёт пустой реестр.
func NewMemoryRegistry() *MemoryRegistry {
	return &MemoryRegistry{rules: make(map[string]entry)}
}

// Register добавляет или заменяет правило.
func (r *MemoryRegistry) Register(ruleID string, priority int, predicate Predicate) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.rules[ruleID] = entry{priority: priority, predicate: predicate}
}

func (r *MemoryRegistry) Matches(ruleID string, scope Scope) (bool, error) {
	if ruleID == "" {
		return true, nil
	}

	r.mu.RLock()
	e, ok := r.rules[ruleID]
	r.mu.RUnlock()
	if !ok {
		return false, fmt.Errorf("%w: %s", ErrRuleNotFound, ruleID)
	}
	return e.predicate(scope), nil
}

func (r *MemoryRegistry) Priority(ruleID string) int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.rules[ruleID].priority
}

func (r *MemoryRegistry) Evaluate(scope Scope) []string {
	r.mu.RLock()
	matched := make([]string, 0, len(r.rules))
	priorities := make(map[string]int, len(r.rules))
	for id, e := range r.rules {
		if e.predicate(scope) {
			matched = append(matched, id)
			priorities[id] = e.priority
		}
	}
	r.mu.RUnlock()

	sort.Slice(matched, func(i, j int) bool {
		if priorities[matched[i]] != priorities[matched[j]] {
			return priorities[matched[i]] > priorities[matched[j]]
		}
		return matched[i] < matched[j]
	})
	return matched
}

var _ Registry = (*MemoryRegistry)(nil)

// Always совпадает всегда.
func Always() Predicate {
	return func(Scope) bool { return true }
}

// Never не совпадает никогда.
func Never() Predicate {
	return func(Scope) bool { return false }
}

// GoodsAmountAtLeast совпадает, если сумма товарных позиций не меньше amount.
func GoodsAmountAtLeast(amount decimal.Decimal) Predicate {
	return func(s Scope) bool {
		if s.Cart == nil {
			return false
		}
		return GoodsAmount(s.Cart).GreaterThanOrEqual(amount)
	}
}

// GoodsCountAtLeast совпадает, если количество товарных единиц не меньше count.
func GoodsCountAtLeast(count int) Predicate {
	return func(s Scope) bool {
		if s.Cart == nil {
			return false
		}
		total := 0
		for _, item := range s.Cart.LineItems.GoodsFlat() {
			total += item.Quantity
		}
		return total >= count
	}
}

// ShippingCountryIn совпадает для перечисленных стран доставки.
func ShippingCountryIn(countries ...string) Predicate {
	set := make(map[string]struct{}, len(countries))
	for _, c := range countries {
		set[c] = struct{}{}
	}
	return func(s Scope) bool {
		_, ok := set[s.Context.Location.CountryID]
		return ok
	}
}

// HasPromotionCode совпадает при наличии кода в корзине.
func HasPromotionCode(code string) Predicate {
	return func(s Scope) bool {
		if s.Cart == nil {
			return false
		}
		for _, c := range s.Cart.PromotionCodes {
			if c == code {
				return true
			}
		}
		return false
	}
}

// GoodsAmount считает сумму цен товарных позиций.
func GoodsAmount(c *cart.Cart) decimal.Decimal {
	total := decimal.Zero
	for _, item := range c.LineItems.GoodsFlat() {
		if item.Price != nil {
			total = total.Add(item.Price.TotalPrice)
		}
	}
	return total
}
