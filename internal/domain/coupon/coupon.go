package coupon

import (
	"context"
	"strings"
	"time"

	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"
)

var (
	// ErrEmptyCode is returned when a coupon code is blank after trimming.
	ErrEmptyCode = errors.New("coupon code required")
	// ErrInvalidPercentage is returned when a discount percentage is outside [0, 100].
	ErrInvalidPercentage = errors.New("discount percentage must be between 0 and 100")
	// ErrInvalidPurchaseRange is returned when the purchase bounds are negative
	// or the maximum is below the minimum.
	ErrInvalidPurchaseRange = errors.New("invalid purchase amount range")
	// ErrMissingExpiration is returned when a coupon has no expiration date.
	ErrMissingExpiration = errors.New("expiration date required")
)

var hundred = decimal.NewFromInt(100)

// Coupon is a server-owned discount code as managed from the admin console.
type Coupon struct {
	ID                 string
	Code               string
	Description        string
	DiscountPercentage decimal.Decimal
	MinPurchaseAmount  decimal.Decimal
	// MaxPurchaseAmount is optional; nil means no upper bound.
	MaxPurchaseAmount *decimal.Decimal
	ExpirationDate    time.Time
}

// Applied is the transient coupon selection of a cart after the server
// accepted the code. It is never persisted.
type Applied struct {
	Code               string
	DiscountPercentage decimal.Decimal
}

// NormalizeCode trims and upper-cases a code. Codes are case-insensitive.
func NormalizeCode(code string) string {
	return strings.ToUpper(strings.TrimSpace(code))
}

// Validator asks the coupon authority whether code applies to a cart with the
// given subtotal. Rejections are returned as apperr validation errors
// carrying the server's message verbatim.
type Validator interface {
	Validate(ctx context.Context, code string, subtotal decimal.Decimal) (*Applied, error)
}

// Manager administers coupons on the coupon authority.
type Manager interface {
	List(ctx context.Context) ([]Coupon, error)
	Create(ctx context.Context, c Coupon) (*Coupon, error)
	Delete(ctx context.Context, id string) error
}

// NewCoupon validates admin input and returns a normalised coupon.
func NewCoupon(c Coupon) (Coupon, error) {
	c.Code = NormalizeCode(c.Code)
	c.Description = strings.TrimSpace(c.Description)
	if c.Code == "" {
		return Coupon{}, ErrEmptyCode
	}
	if c.DiscountPercentage.IsNegative() || c.DiscountPercentage.GreaterThan(hundred) {
		return Coupon{}, ErrInvalidPercentage
	}
	if c.MinPurchaseAmount.IsNegative() {
		return Coupon{}, ErrInvalidPurchaseRange
	}
	if c.MaxPurchaseAmount != nil && c.MaxPurchaseAmount.LessThan(c.MinPurchaseAmount) {
		return Coupon{}, ErrInvalidPurchaseRange
	}
	if c.ExpirationDate.IsZero() {
		return Coupon{}, ErrMissingExpiration
	}
	return c, nil
}
