package product

import (
	"context"

	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"
)

// ErrNotFound is returned when a requested product does not exist.
var ErrNotFound = errors.New("product not found")

// Product is the catalog snapshot the cart needs when adding a line: the
// price and stock as the backend reports them at add-time.
type Product struct {
	ID       string
	Name     string
	Price    decimal.Decimal
	Stock    int
	Category string
	Images   []string
	Colors   []string
	Sizes    []string
}

// PrimaryImage returns the first image reference, or "".
func (p Product) PrimaryImage() string {
	if len(p.Images) == 0 {
		return ""
	}
	return p.Images[0]
}

// Catalog looks up catalog products.
type Catalog interface {
	GetByID(ctx context.Context, id string) (*Product, error)
}
