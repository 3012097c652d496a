package price

import (
	"fmt"

	"github.com/shopspring/decimal"
)

// TaxState определяет, в какой форме отображаются цены.
type TaxState string

const (
	TaxStateGross   TaxState = "gross"
	TaxStateNet     TaxState = "net"
	TaxStateTaxFree TaxState = "tax-free"
)

// ParseTaxState разбирает строковое представление состояния налогообложения.
func ParseTaxState(v string) (TaxState, error) {
	switch TaxState(v) {
	case TaxStateGross, TaxStateNet, TaxStateTaxFree:
		return TaxState(v), nil
	case "":
		return TaxStateGross, nil
	default:
		return "", fmt.Errorf("unknown tax state %q", v)
	}
}

// CashRounding задаёт точность округления денежных сумм.
type CashRounding struct {
	Decimals int32 `json:"decimals"`
}

// DefaultRounding — округление до 2 знаков.
func DefaultRounding() CashRounding {
	return CashRounding{Decimals: 2}
}

// Round округляет сумму; половина округляется от нуля.
func (r CashRounding) Round(v decimal.Decimal) decimal.Decimal {
	return v.Round(r.Decimals)
}

// CalculatedPrice — неизменяемый результат расчёта цены.
type CalculatedPrice struct {
	UnitPrice       decimal.Decimal         `json:"unitPrice"`
	TotalPrice      decimal.Decimal         `json:"totalPrice"`
	Quantity        int                     `json:"quantity"`
	CalculatedTaxes CalculatedTaxCollection `json:"calculatedTaxes"`
	TaxRules        TaxRuleCollection       `json:"taxRules"`
}

// Equal сравнивает цены по значениям.
func (p CalculatedPrice) Equal(other CalculatedPrice) bool {
	if !p.UnitPrice.Equal(other.UnitPrice) || !p.TotalPrice.Equal(other.TotalPrice) || p.Quantity != other.Quantity {
		return false
	}
	if len(p.CalculatedTaxes) != len(other.CalculatedTaxes) {
		return false
	}
	for i := range p.CalculatedTaxes {
		a, b := p.CalculatedTaxes[i], other.CalculatedTaxes[i]
		if !a.TaxRate.Equal(b.TaxRate) || !a.Tax.Equal(b.Tax) || !a.Price.Equal(b.Price) {
			return false
		}
	}
	return p.TaxRules.Equal(other.TaxRules)
}

// Sum складывает цены в одну позицию с количеством 1.
func Sum(prices []CalculatedPrice) CalculatedPrice {
	total := decimal.Zero
	taxes := CalculatedTaxCollection{}
	for _, p := range prices {
		total = total.Add(p.TotalPrice)
		taxes = taxes.Merge(p.CalculatedTaxes)
	}
	return CalculatedPrice{
		UnitPrice:       total,
		TotalPrice:      total,
		Quantity:        1,
		CalculatedTaxes: taxes,
		TaxRules:        BuildPercentageRules(prices),
	}
}

// CartPrice — итоговая цена корзины или заказа.
type CartPrice struct {
	NetPrice        decimal.Decimal         `json:"netPrice"`
	TotalPrice      decimal.Decimal         `json:"totalPrice"`
	PositionPrice   decimal.Decimal         `json:"positionPrice"`
	CalculatedTaxes CalculatedTaxCollection `json:"calculatedTaxes"`
	TaxRules        TaxRuleCollection       `json:"taxRules"`
	TaxStatus       TaxState                `json:"taxStatus"`
}
