package catalog

import (
	"bytes"
	_ "embed"
	"fmt"
	"io"
	"os"

	"github.com/shopspring/decimal"
	"gopkg.in/yaml.v3"

	"github.com/vladislavdragonenkov/orderedit/internal/delivery"
	"github.com/vladislavdragonenkov/orderedit/internal/promotion"
	"github.com/vladislavdragonenkov/orderedit/internal/rule"
)

//go:embed default.yaml
var defaultSeed []byte

// Seed — содержимое YAML-файла каталога.
type Seed struct {
	Rules           []RuleSeed           `yaml:"rules"`
	Products        []ProductSeed        `yaml:"products"`
	ShippingMethods []ShippingMethodSeed `yaml:"shipping_methods"`
	Promotions      []PromotionSeed      `yaml:"promotions"`
}

// RuleSeed описывает именованное правило.
// Type: always, never, goods_amount_at_least, goods_count_at_least,
// shipping_country_in, has_promotion_code.
type RuleSeed struct {
	ID        string   `yaml:"id"`
	Priority  int      `yaml:"priority"`
	Type      string   `yaml:"type"`
	Amount    string   `yaml:"amount,omitempty"`
	Count     int      `yaml:"count,omitempty"`
	Countries []string `yaml:"countries,omitempty"`
	Code      string   `yaml:"code,omitempty"`
}

// ProductSeed описывает товар. Суммы задаются строками.
type ProductSeed struct {
	ID           string `yaml:"id"`
	Number       string `yaml:"number"`
	Name         string `yaml:"name"`
	Active       bool   `yaml:"active"`
	Price        string `yaml:"price"`
	TaxRate      string `yaml:"tax_rate"`
	Weight       string `yaml:"weight,omitempty"`
	FreeDelivery bool   `yaml:"free_delivery,omitempty"`
}

// ShippingMethodSeed описывает способ доставки.
type ShippingMethodSeed struct {
	ID      string `yaml:"id"`
	Name    string `yaml:"name"`
	Active  bool   `yaml:"active"`
	TaxType string `yaml:"tax_type"`
	TaxRate string `yaml:"tax_rate,omitempty"`
	MinDays int    `yaml:"min_days"`
	MaxDays int    `yaml:"max_days"`
	Prices  []struct {
		ID    string `yaml:"id"`
		Rule  string `yaml:"rule,omitempty"`
		Mode  string `yaml:"mode"`
		Start string `yaml:"start"`
		End   string `yaml:"end,omitempty"`
		Price string `yaml:"price"`
	} `yaml:"prices"`
}

// PromotionSeed описывает промо-акцию.
type PromotionSeed struct {
	ID        string   `yaml:"id"`
	Name      string   `yaml:"name"`
	Active    bool     `yaml:"active"`
	Code      string   `yaml:"code,omitempty"`
	Priority  int      `yaml:"priority"`
	Rules     []string `yaml:"rules,omitempty"`
	Discounts []struct {
		ID       string `yaml:"id"`
		Scope    string `yaml:"scope"`
		Type     string `yaml:"type"`
		Value    string `yaml:"value"`
		MaxValue string `yaml:"max_value,omitempty"`
	} `yaml:"discounts"`
}

// Default возвращает каталог из встроенного файла.
func Default() (*Catalog, error) {
	return Load(bytes.NewReader(defaultSeed))
}

// LoadFile читает каталог из YAML-файла.
func LoadFile(path string) (*Catalog, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open catalog %s: %w", path, err)
	}
	defer f.Close()
	return Load(f)
}

// Load читает YAML и строит каталог.
func Load(r io.Reader) (*Catalog, error) {
	var seed Seed
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(&seed); err != nil && err != io.EOF {
		return nil, fmt.Errorf("decode catalog: %w", err)
	}
	return FromSeed(seed)
}

// FromSeed строит каталог из разобранного файла.
func FromSeed(seed Seed) (*Catalog, error) {
	c := New()

	for _, rs := range seed.Rules {
		predicate, err := rulePredicate(rs)
		if err != nil {
			return nil, fmt.Errorf("rule %s: %w", rs.ID, err)
		}
		c.rules.Register(rs.ID, rs.Priority, predicate)
	}

	for _, ps := range seed.Products {
		p := Product{ID: ps.ID, Number: ps.Number, Name: ps.Name, Active: ps.Active, FreeDelivery: ps.FreeDelivery}
		var err error
		if p.Price, err = parseDecimal(ps.Price, "price"); err != nil {
			return nil, fmt.Errorf("product %s: %w", ps.ID, err)
		}
		if p.TaxRate, err = parseDecimal(ps.TaxRate, "tax_rate"); err != nil {
			return nil, fmt.Errorf("product %s: %w", ps.ID, err)
		}
		if ps.Weight != "" {
			if p.Weight, err = parseDecimal(ps.Weight, "weight"); err != nil {
				return nil, fmt.Errorf("product %s: %w", ps.ID, err)
			}
		}
		if err := c.PutProduct(p); err != nil {
			return nil, err
		}
	}

	for _, ms := range seed.ShippingMethods {
		m, err := shippingMethod(ms)
		if err != nil {
			return nil, fmt.Errorf("shipping method %s: %w", ms.ID, err)
		}
		if err := c.PutShippingMethod(m); err != nil {
			return nil, err
		}
	}

	for _, ps := range seed.Promotions {
		p, err := promotionFromSeed(ps)
		if err != nil {
			return nil, fmt.Errorf("promotion %s: %w", ps.ID, err)
		}
		if err := c.PutPromotion(p); err != nil {
			return nil, err
		}
	}

	return c, nil
}

func rulePredicate(rs RuleSeed) (rule.Predicate, error) {
	switch rs.Type {
	case "always":
		return rule.Always(), nil
	case "never":
		return rule.Never(), nil
	case "goods_amount_at_least":
		amount, err := parseDecimal(rs.Amount, "amount")
		if err != nil {
			return nil, err
		}
		return rule.GoodsAmountAtLeast(amount), nil
	case "goods_count_at_least":
		return rule.GoodsCountAtLeast(rs.Count), nil
	case "shipping_country_in":
		return rule.ShippingCountryIn(rs.Countries...), nil
	case "has_promotion_code":
		return rule.HasPromotionCode(rs.Code), nil
	default:
		return nil, fmt.Errorf("unknown rule type %q", rs.Type)
	}
}

func shippingMethod(ms ShippingMethodSeed) (delivery.Method, error) {
	m := delivery.Method{
		ID:           ms.ID,
		Name:         ms.Name,
		Active:       ms.Active,
		TaxType:      delivery.TaxType(ms.TaxType),
		DeliveryTime: delivery.DeliveryTime{MinDays: ms.MinDays, MaxDays: ms.MaxDays},
	}
	if m.TaxType == "" {
		m.TaxType = delivery.TaxAuto
	}
	if ms.TaxRate != "" {
		rate, err := parseDecimal(ms.TaxRate, "tax_rate")
		if err != nil {
			return delivery.Method{}, err
		}
		m.TaxRate = rate
	}

	for _, tier := range ms.Prices {
		pt := delivery.PriceTier{ID: tier.ID, RuleID: tier.Rule, Mode: delivery.Mode(tier.Mode)}
		var err error
		if pt.Start, err = parseDecimal(tier.Start, "start"); err != nil {
			return delivery.Method{}, fmt.Errorf("tier %s: %w", tier.ID, err)
		}
		if pt.Price, err = parseDecimal(tier.Price, "price"); err != nil {
			return delivery.Method{}, fmt.Errorf("tier %s: %w", tier.ID, err)
		}
		if tier.End != "" {
			end, err := parseDecimal(tier.End, "end")
			if err != nil {
				return delivery.Method{}, fmt.Errorf("tier %s: %w", tier.ID, err)
			}
			pt.End = &end
		}
		m.Prices = append(m.Prices, pt)
	}
	return m, nil
}

func promotionFromSeed(ps PromotionSeed) (promotion.Promotion, error) {
	p := promotion.Promotion{
		ID:       ps.ID,
		Name:     ps.Name,
		Active:   ps.Active,
		Code:     ps.Code,
		Priority: ps.Priority,
		RuleIDs:  ps.Rules,
	}
	for _, ds := range ps.Discounts {
		value, err := parseDecimal(ds.Value, "value")
		if err != nil {
			return promotion.Promotion{}, fmt.Errorf("discount %s: %w", ds.ID, err)
		}
		d := promotion.Discount{
			ID:    ds.ID,
			Scope: promotion.DiscountScope(ds.Scope),
			Type:  promotion.DiscountType(ds.Type),
			Value: value,
		}
		if d.Scope == "" {
			d.Scope = promotion.ScopeCart
		}
		if ds.MaxValue != "" {
			maxValue, err := parseDecimal(ds.MaxValue, "max_value")
			if err != nil {
				return promotion.Promotion{}, fmt.Errorf("discount %s: %w", ds.ID, err)
			}
			d.MaxValue = &maxValue
		}
		p.Discounts = append(p.Discounts, d)
	}
	return p, nil
}

func parseDecimal(raw, field string) (decimal.Decimal, error) {
	v, err := decimal.NewFromString(raw)
	if err != nil {
		return decimal.Decimal{}, fmt.Errorf("invalid %s %q: %w", field, raw, err)
	}
	return v, nil
}
