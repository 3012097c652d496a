package price

import "github.com/shopspring/decimal"

// DefinitionKind определяет способ расчёта цены позиции.
type DefinitionKind string

const (
	// Цена за единицу, умножаемая на количество.
	KindQuantity DefinitionKind = "quantity"
	// Фиксированная сумма, налоги распределяются по долям связанных цен.
	KindAbsolute DefinitionKind = "absolute"
	// Процент от связанных цен.
	KindPercentage DefinitionKind = "percentage"
)

// Definition — входные данные расчёта цены позиции.
type Definition struct {
	Kind DefinitionKind `json:"type"`
	// Цена за единицу для KindQuantity и сумма для KindAbsolute.
	Price      decimal.Decimal   `json:"price"`
	Percentage decimal.Decimal   `json:"percentage,omitempty"`
	TaxRules   TaxRuleCollection `json:"taxRules,omitempty"`
	Quantity   int               `json:"quantity"`
	// IsCalculated означает, что Price уже в форме текущего TaxState.
	IsCalculated bool `json:"isCalculated"`
	// MaxValue ограничивает модуль скидки для KindPercentage.
	MaxValue *decimal.Decimal `json:"maxValue,omitempty"`
}

// NewQuantityDefinition создаёт определение цены за единицу.
func NewQuantityDefinition(unitPrice decimal.Decimal, rules TaxRuleCollection, quantity int, calculated bool) Definition {
	return Definition{
		Kind:         KindQuantity,
		Price:        unitPrice,
		TaxRules:     rules,
		Quantity:     quantity,
		IsCalculated: calculated,
	}
}

// NewAbsoluteDefinition создаёт определение фиксированной суммы (отрицательной для кредита).
func NewAbsoluteDefinition(amount decimal.Decimal) Definition {
	return Definition{Kind: KindAbsolute, Price: amount, Quantity: 1}
}

// NewPercentageDefinition создаёт процентное определение; отрицательный процент даёт скидку.
func NewPercentageDefinition(percentage decimal.Decimal, maxValue *decimal.Decimal) Definition {
	return Definition{Kind: KindPercentage, Percentage: percentage, Quantity: 1, MaxValue: maxValue}
}

// WithQuantity возвращает копию определения с новым количеством.
func (d Definition) WithQuantity(quantity int) Definition {
	d.Quantity = quantity
	return d
}

// IsRelative сообщает, зависит ли цена от других позиций.
func (d Definition) IsRelative() bool {
	return d.Kind == KindAbsolute || d.Kind == KindPercentage
}
