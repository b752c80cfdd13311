// Package pricing holds the two storefront price formulas: the cart view
// (subtotal minus coupon discount) and the checkout quote (subtotal plus
// shipping and tax). The formulas are kept separate on purpose: the coupon
// discount is never folded into the checkout quote.
package pricing

import (
	"github.com/shopspring/decimal"
)

var hundred = decimal.NewFromInt(100)

// Policy holds the checkout shipping and tax parameters.
type Policy struct {
	// FreeShippingOver is the subtotal strictly above which shipping is free.
	FreeShippingOver decimal.Decimal
	// FlatShipping is charged when the subtotal does not exceed FreeShippingOver.
	FlatShipping decimal.Decimal
	// TaxRate is applied to the subtotal, e.g. 0.05 for 5%.
	TaxRate decimal.Decimal
}

// DefaultPolicy returns the storefront's standard checkout policy: free
// shipping over 500, otherwise a flat 60, and 5% tax.
func DefaultPolicy() Policy {
	return Policy{
		FreeShippingOver: decimal.NewFromInt(500),
		FlatShipping:     decimal.NewFromInt(60),
		TaxRate:          decimal.RequireFromString("0.05"),
	}
}

// CartSummary is the pre-checkout cart view total.
type CartSummary struct {
	TotalItems         int
	Subtotal           decimal.Decimal
	CouponCode         string
	DiscountPercentage decimal.Decimal
	DiscountAmount     decimal.Decimal
	FinalTotal         decimal.Decimal
}

// Summarize computes the cart view totals. A zero percentage (no coupon)
// yields a zero discount.
func Summarize(totalItems int, subtotal decimal.Decimal, couponCode string, pct decimal.Decimal) CartSummary {
	discount := subtotal.Mul(pct).Div(hundred).Round(2)
	return CartSummary{
		TotalItems:         totalItems,
		Subtotal:           subtotal.Round(2),
		CouponCode:         couponCode,
		DiscountPercentage: pct,
		DiscountAmount:     discount,
		FinalTotal:         subtotal.Sub(discount).Round(2),
	}
}

// CheckoutQuote is the price breakdown sent with a new order.
type CheckoutQuote struct {
	ItemsPrice    decimal.Decimal
	ShippingPrice decimal.Decimal
	TaxPrice      decimal.Decimal
	TotalPrice    decimal.Decimal
}

// Quote computes shipping, tax and grand total for a cart subtotal.
func (p Policy) Quote(subtotal decimal.Decimal) CheckoutQuote {
	shipping := p.FlatShipping
	if subtotal.GreaterThan(p.FreeShippingOver) {
		shipping = decimal.Zero
	}
	tax := subtotal.Mul(p.TaxRate).Round(2)

	return CheckoutQuote{
		ItemsPrice:    subtotal.Round(2),
		ShippingPrice: shipping.Round(2),
		TaxPrice:      tax,
		TotalPrice:    subtotal.Add(shipping).Add(tax).Round(2),
	}
}
