package backend

import (
	"context"
	"net/http"
	"net/url"
	"time"

	"github.com/shopspring/decimal"

	"github.com/xenking/storefront-gateway/internal/domain/coupon"
)

type validateCouponRequest struct {
	Code      string          `json:"code"`
	CartTotal decimal.Decimal `json:"cartTotal"`
}

type validateCouponResponse struct {
	Code               string          `json:"code"`
	DiscountPercentage decimal.Decimal `json:"discountPercentage"`
}

type couponDTO struct {
	ID                 string           `json:"_id,omitempty"`
	Code               string           `json:"code"`
	Description        string           `json:"description,omitempty"`
	DiscountPercentage decimal.Decimal  `json:"discountPercentage"`
	MinPurchaseAmount  decimal.Decimal  `json:"minPurchaseAmount"`
	MaxPurchaseAmount  *decimal.Decimal `json:"maxPurchaseAmount,omitempty"`
	ExpirationDate     time.Time        `json:"expirationDate"`
}

func (d couponDTO) domain() coupon.Coupon {
	return coupon.Coupon{
		ID:                 d.ID,
		Code:               d.Code,
		Description:        d.Description,
		DiscountPercentage: d.DiscountPercentage,
		MinPurchaseAmount:  d.MinPurchaseAmount,
		MaxPurchaseAmount:  d.MaxPurchaseAmount,
		ExpirationDate:     d.ExpirationDate,
	}
}

// Coupons administers and validates coupons. It implements
// coupon.Validator and coupon.Manager.
type Coupons struct{ c *Client }

// Coupons returns the coupon endpoints.
func (c *Client) Coupons() *Coupons { return &Coupons{c: c} }

// Validate asks the backend whether code applies to a cart subtotal.
func (cs *Coupons) Validate(ctx context.Context, code string, subtotal decimal.Decimal) (*coupon.Applied, error) {
	var resp validateCouponResponse
	req := validateCouponRequest{Code: code, CartTotal: subtotal}
	if err := cs.c.call(ctx, "coupon.validate", http.MethodPost, "/api/coupons/validate", req, &resp); err != nil {
		return nil, err
	}
	return &coupon.Applied{
		Code:               coupon.NormalizeCode(resp.Code),
		DiscountPercentage: resp.DiscountPercentage,
	}, nil
}

// List returns all coupons.
func (cs *Coupons) List(ctx context.Context) ([]coupon.Coupon, error) {
	var dtos []couponDTO
	if err := cs.c.call(ctx, "coupon.list", http.MethodGet, "/api/coupons", nil, &dtos); err != nil {
		return nil, err
	}
	out := make([]coupon.Coupon, len(dtos))
	for i, d := range dtos {
		out[i] = d.domain()
	}
	return out, nil
}

// Create creates a coupon.
func (cs *Coupons) Create(ctx context.Context, cp coupon.Coupon) (*coupon.Coupon, error) {
	req := couponDTO{
		Code:               cp.Code,
		Description:        cp.Description,
		DiscountPercentage: cp.DiscountPercentage,
		MinPurchaseAmount:  cp.MinPurchaseAmount,
		MaxPurchaseAmount:  cp.MaxPurchaseAmount,
		ExpirationDate:     cp.ExpirationDate,
	}
	var resp couponDTO
	if err := cs.c.call(ctx, "coupon.create", http.MethodPost, "/api/coupons/create", req, &resp); err != nil {
		return nil, err
	}
	created := resp.domain()
	return &created, nil
}

// Delete removes a coupon.
func (cs *Coupons) Delete(ctx context.Context, id string) error {
	return cs.c.call(ctx, "coupon.delete", http.MethodDelete, "/api/coupons/"+url.PathEscape(id), nil, nil)
}
