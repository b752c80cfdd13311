package handler

import (
	"encoding/json"
	"io"
	"net/http"

	"github.com/shopspring/decimal"

	"github.com/xenking/storefront-gateway/internal/domain/cart"
	"github.com/xenking/storefront-gateway/internal/domain/order"
	"github.com/xenking/storefront-gateway/internal/domain/pricing"
	"github.com/xenking/storefront-gateway/internal/domain/session"
)

const maxBodyBytes = 1 << 20

// decodeBody decodes a JSON request body into v. An empty body leaves v
// untouched.
func decodeBody(w http.ResponseWriter, r *http.Request, v any) error {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err := dec.Decode(v); err != nil {
		if err == io.EOF {
			return nil
		}
		return badRequest("Invalid JSON body")
	}
	return nil
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

type summaryResponse struct {
	TotalItems         int             `json:"totalItems"`
	Subtotal           decimal.Decimal `json:"subtotal"`
	CouponCode         string          `json:"couponCode,omitempty"`
	DiscountPercentage decimal.Decimal `json:"discountPercentage"`
	DiscountAmount     decimal.Decimal `json:"discountAmount"`
	FinalTotal         decimal.Decimal `json:"finalTotal"`
}

func newSummaryResponse(s pricing.CartSummary) summaryResponse {
	return summaryResponse{
		TotalItems:         s.TotalItems,
		Subtotal:           s.Subtotal,
		CouponCode:         s.CouponCode,
		DiscountPercentage: s.DiscountPercentage,
		DiscountAmount:     s.DiscountAmount,
		FinalTotal:         s.FinalTotal,
	}
}

type lineResponse struct {
	cart.Line
	Total decimal.Decimal `json:"total"`
}

type cartResponse struct {
	Items   []lineResponse  `json:"items"`
	Summary summaryResponse `json:"summary"`
}

func newCartResponse(v *cart.View) cartResponse {
	items := make([]lineResponse, len(v.Cart.Lines))
	for i, l := range v.Cart.Lines {
		items[i] = lineResponse{Line: l, Total: l.Total()}
	}
	return cartResponse{Items: items, Summary: newSummaryResponse(v.Summary)}
}

type quoteResponse struct {
	ItemsPrice    decimal.Decimal `json:"itemsPrice"`
	ShippingPrice decimal.Decimal `json:"shippingPrice"`
	TaxPrice      decimal.Decimal `json:"taxPrice"`
	TotalPrice    decimal.Decimal `json:"totalPrice"`
}

func newQuoteResponse(q pricing.CheckoutQuote) quoteResponse {
	return quoteResponse{
		ItemsPrice:    q.ItemsPrice,
		ShippingPrice: q.ShippingPrice,
		TaxPrice:      q.TaxPrice,
		TotalPrice:    q.TotalPrice,
	}
}

type sessionResponse struct {
	ID       string           `json:"id"`
	SignedIn bool             `json:"signedIn"`
	User     *session.Profile `json:"user,omitempty"`
}

func newSessionResponse(s *session.Session) sessionResponse {
	return sessionResponse{ID: s.ID, SignedIn: s.SignedIn(), User: s.Profile}
}

type stepResponse struct {
	Step   int             `json:"step"`
	Status order.Status    `json:"status"`
	State  order.StepState `json:"state"`
}

type trackingResponse struct {
	OrderID string         `json:"orderId"`
	Status  order.Status   `json:"status"`
	Pending bool           `json:"pending"`
	Step    int            `json:"step"`
	Steps   []stepResponse `json:"steps"`
}

func newTrackingResponse(v order.View) trackingResponse {
	steps := make([]stepResponse, len(order.TrackingSteps))
	for i, st := range order.TrackingSteps {
		steps[i] = stepResponse{Step: i + 1, Status: st, State: order.StepStateOf(v.Status, i+1)}
	}
	return trackingResponse{
		OrderID: v.ID,
		Status:  v.Status,
		Pending: v.Pending,
		Step:    v.Step,
		Steps:   steps,
	}
}
