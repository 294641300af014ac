package order

import (
	"github.com/shopspring/decimal"
)

// PricingPolicy fills in shipping and tax for drafts that leave them out.
type PricingPolicy struct {
	FreeShippingThreshold float64
	FlatShipping          float64
	TaxRate               float64
}

func DefaultPricingPolicy() PricingPolicy {
	return PricingPolicy{
		FreeShippingThreshold: 50,
		FlatShipping:          5.99,
		TaxRate:               0.08,
	}
}

func (p PricingPolicy) Shipping(subtotal float64) float64 {
	if decimal.NewFromFloat(subtotal).GreaterThanOrEqual(decimal.NewFromFloat(p.FreeShippingThreshold)) {
		return 0
	}
	return roundMoney(p.FlatShipping)
}

func (p PricingPolicy) Tax(subtotal float64) float64 {
	return decimal.NewFromFloat(subtotal).
		Mul(decimal.NewFromFloat(p.TaxRate)).
		Round(2).
		InexactFloat64()
}

func roundMoney(v float64) float64 {
	return decimal.NewFromFloat(v).Round(2).InexactFloat64()
}

// sumMoney adds n amounts exactly, so the result does not depend on summation order.
func sumMoney(n int, amount func(i int) float64) float64 {
	total := decimal.Zero
	for i := 0; i < n; i++ {
		total = total.Add(decimal.NewFromFloat(amount(i)))
	}
	return total.Round(2).InexactFloat64()
}

func orderTotal(subtotal, shipping, tax, discount float64) float64 {
	return decimal.NewFromFloat(subtotal).
		Add(decimal.NewFromFloat(shipping)).
		Add(decimal.NewFromFloat(tax)).
		Sub(decimal.NewFromFloat(discount)).
		Round(2).
		InexactFloat64()
}
