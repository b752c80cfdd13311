// Package cart implements the storefront cart: an ordered list of line items
// keyed by (product, color, size) with stock-bounded quantities, plus the
// session-scoped service that persists carts and tracks the transient coupon
// selection.
package cart

import (
	"context"
	"fmt"

	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"

	"github.com/xenking/storefront-gateway/internal/domain/coupon"
	"github.com/xenking/storefront-gateway/internal/domain/pricing"
	"github.com/xenking/storefront-gateway/internal/domain/product"
)

var (
	// ErrLineNotFound is returned when no line matches the given key.
	ErrLineNotFound = errors.New("cart line not found")
	// ErrOutOfStock is returned when adding a product whose stock is zero.
	ErrOutOfStock = errors.New("product out of stock")
)

// QuantityRejectedError reports a quantity outside [Min, Max]. The cart is
// left unchanged when it is returned.
type QuantityRejectedError struct {
	ProductID string
	Requested int
	Min       int
	Max       int
}

func (e *QuantityRejectedError) Error() string {
	return fmt.Sprintf("quantity %d for product %s outside [%d, %d]", e.Requested, e.ProductID, e.Min, e.Max)
}

// Key identifies a line: the same product in another color or size is a
// different line.
type Key struct {
	ProductID string `json:"productId"`
	Color     string `json:"color,omitempty"`
	Size      string `json:"size,omitempty"`
}

// Line is one (product, color, size) entry with its quantity.
type Line struct {
	ProductID string          `json:"productId"`
	Name      string          `json:"name"`
	UnitPrice decimal.Decimal `json:"price"`
	Quantity  int             `json:"quantity"`
	Color     string          `json:"color,omitempty"`
	Size      string          `json:"size,omitempty"`
	// Stock is the product stock observed when the line was last added to.
	Stock int    `json:"stock"`
	Image string `json:"image,omitempty"`
}

// Key returns the line identity.
func (l Line) Key() Key {
	return Key{ProductID: l.ProductID, Color: l.Color, Size: l.Size}
}

// Total returns UnitPrice × Quantity.
func (l Line) Total() decimal.Decimal {
	return l.UnitPrice.Mul(decimal.NewFromInt(int64(l.Quantity)))
}

// Cart is an ordered collection of lines. The zero value is an empty cart.
type Cart struct {
	Lines []Line `json:"lines"`
}

// TotalItems returns the sum of line quantities.
func (c *Cart) TotalItems() int {
	total := 0
	for _, l := range c.Lines {
		total += l.Quantity
	}
	return total
}

// TotalPrice returns Σ UnitPrice × Quantity.
func (c *Cart) TotalPrice() decimal.Decimal {
	sum := decimal.Zero
	for _, l := range c.Lines {
		sum = sum.Add(l.Total())
	}
	return sum
}

// IsEmpty reports whether the cart has no lines.
func (c *Cart) IsEmpty() bool { return len(c.Lines) == 0 }

func (c *Cart) index(k Key) int {
	for i, l := range c.Lines {
		if l.Key() == k {
			return i
		}
	}
	return -1
}

// Line returns the line with key k.
func (c *Cart) Line(k Key) (Line, bool) {
	i := c.index(k)
	if i < 0 {
		return Line{}, false
	}
	return c.Lines[i], true
}

// AddLine merges quantity into the line for (p, color, size), or appends a
// new line. The resulting quantity may not exceed p.Stock.
func (c *Cart) AddLine(p product.Product, quantity int, color, size string) error {
	if p.Stock < 1 {
		return ErrOutOfStock
	}
	k := Key{ProductID: p.ID, Color: color, Size: size}
	if i := c.index(k); i >= 0 {
		merged := c.Lines[i].Quantity + quantity
		if quantity < 1 || merged > p.Stock {
			return &QuantityRejectedError{ProductID: p.ID, Requested: merged, Min: 1, Max: p.Stock}
		}
		c.Lines[i].Quantity = merged
		c.Lines[i].Stock = p.Stock
		return nil
	}
	if quantity < 1 || quantity > p.Stock {
		return &QuantityRejectedError{ProductID: p.ID, Requested: quantity, Min: 1, Max: p.Stock}
	}
	c.Lines = append(c.Lines, Line{
		ProductID: p.ID,
		Name:      p.Name,
		UnitPrice: p.Price,
		Quantity:  quantity,
		Color:     color,
		Size:      size,
		Stock:     p.Stock,
		Image:     p.PrimaryImage(),
	})
	return nil
}

// RemoveLine deletes the line with key k. It reports whether a line was removed.
func (c *Cart) RemoveLine(k Key) bool {
	i := c.index(k)
	if i < 0 {
		return false
	}
	c.Lines = append(c.Lines[:i], c.Lines[i+1:]...)
	return true
}

// SetQuantity sets the line quantity to n when n is within [1, stock].
func (c *Cart) SetQuantity(k Key, n int) error {
	i := c.index(k)
	if i < 0 {
		return ErrLineNotFound
	}
	l := &c.Lines[i]
	if n < 1 || n > l.Stock {
		return &QuantityRejectedError{ProductID: l.ProductID, Requested: n, Min: 1, Max: l.Stock}
	}
	l.Quantity = n
	return nil
}

// AdjustQuantity changes the line quantity by delta, subject to SetQuantity bounds.
func (c *Cart) AdjustQuantity(k Key, delta int) error {
	l, ok := c.Line(k)
	if !ok {
		return ErrLineNotFound
	}
	return c.SetQuantity(k, l.Quantity+delta)
}

// Clear empties the cart.
func (c *Cart) Clear() { c.Lines = nil }

// Summary returns the cart view totals with the applied coupon, if any.
func (c *Cart) Summary(applied *coupon.Applied) pricing.CartSummary {
	if applied == nil {
		return pricing.Summarize(c.TotalItems(), c.TotalPrice(), "", decimal.Zero)
	}
	return pricing.Summarize(c.TotalItems(), c.TotalPrice(), applied.Code, applied.DiscountPercentage)
}

// Quote returns the checkout breakdown for the cart under policy p.
func (c *Cart) Quote(p pricing.Policy) pricing.CheckoutQuote {
	return p.Quote(c.TotalPrice())
}

// Repository persists carts per session.
type Repository interface {
	// Load returns the cart of the session, or an empty cart if none is stored.
	Load(ctx context.Context, sessionID string) (*Cart, error)
	Save(ctx context.Context, sessionID string, c *Cart) error
	Delete(ctx context.Context, sessionID string) error
}
