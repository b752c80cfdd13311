package handler

import (
	"context"
	"net/http"

	"github.com/xenking/storefront-gateway/internal/backend"
	"github.com/xenking/storefront-gateway/internal/domain/cart"
)

type addItemRequest struct {
	ProductID string `json:"productId"`
	Quantity  int    `json:"quantity"`
	Color     string `json:"color"`
	Size      string `json:"size"`
}

type lineRequest struct {
	ProductID string `json:"productId"`
	Color     string `json:"color"`
	Size      string `json:"size"`
	Quantity  int    `json:"quantity"`
	Delta     int    `json:"delta"`
}

func (l lineRequest) key() (cart.Key, error) {
	if l.ProductID == "" {
		return cart.Key{}, badRequest("productId is required")
	}
	return cart.Key{ProductID: l.ProductID, Color: l.Color, Size: l.Size}, nil
}

type couponRequest struct {
	Code string `json:"code"`
}

// cartOp runs fn against the caller's session cart and writes the view.
// Backend calls made by fn carry the session token when the user is signed
// in; carts of anonymous sessions work without one.
func (h *Handler) cartOp(w http.ResponseWriter, r *http.Request, fn func(ctx context.Context, sessionID string) (*cart.View, error)) {
	sess, err := h.ensureSession(w, r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	ctx := r.Context()
	if token, err := sess.BearerToken(h.sessions.Now()); err == nil {
		ctx = backend.WithToken(ctx, token)
	}
	v, err := fn(ctx, sess.ID)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, newCartResponse(v))
}

// GetCart returns the cart with its cart-view totals.
func (h *Handler) GetCart(w http.ResponseWriter, r *http.Request) {
	h.cartOp(w, r, func(ctx context.Context, sid string) (*cart.View, error) {
		return h.carts.Get(ctx, sid)
	})
}

// AddToCart adds a product to the cart, merging with an existing line.
func (h *Handler) AddToCart(w http.ResponseWriter, r *http.Request) {
	var req addItemRequest
	if err := decodeBody(w, r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	if req.ProductID == "" {
		writeError(w, r, badRequest("productId is required"))
		return
	}
	if req.Quantity == 0 {
		req.Quantity = 1
	}
	h.cartOp(w, r, func(ctx context.Context, sid string) (*cart.View, error) {
		return h.carts.Add(ctx, sid, cart.AddRequest{
			ProductID: req.ProductID,
			Quantity:  req.Quantity,
			Color:     req.Color,
			Size:      req.Size,
		})
	})
}

// SetCartQuantity sets the quantity of a line.
func (h *Handler) SetCartQuantity(w http.ResponseWriter, r *http.Request) {
	var req lineRequest
	if err := decodeBody(w, r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	k, err := req.key()
	if err != nil {
		writeError(w, r, err)
		return
	}
	h.cartOp(w, r, func(ctx context.Context, sid string) (*cart.View, error) {
		return h.carts.SetQuantity(ctx, sid, k, req.Quantity)
	})
}

// AdjustCartQuantity changes the quantity of a line by delta.
func (h *Handler) AdjustCartQuantity(w http.ResponseWriter, r *http.Request) {
	var req lineRequest
	if err := decodeBody(w, r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	k, err := req.key()
	if err != nil {
		writeError(w, r, err)
		return
	}
	if req.Delta == 0 {
		writeError(w, r, badRequest("delta is required"))
		return
	}
	h.cartOp(w, r, func(ctx context.Context, sid string) (*cart.View, error) {
		return h.carts.AdjustQuantity(ctx, sid, k, req.Delta)
	})
}

// RemoveFromCart removes the line named by the productId, color and size
// query parameters.
func (h *Handler) RemoveFromCart(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	k, err := lineRequest{
		ProductID: q.Get("productId"),
		Color:     q.Get("color"),
		Size:      q.Get("size"),
	}.key()
	if err != nil {
		writeError(w, r, err)
		return
	}
	h.cartOp(w, r, func(ctx context.Context, sid string) (*cart.View, error) {
		return h.carts.Remove(ctx, sid, k)
	})
}

// ClearCart empties the cart.
func (h *Handler) ClearCart(w http.ResponseWriter, r *http.Request) {
	sess, err := h.ensureSession(w, r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	if err := h.carts.Clear(r.Context(), sess.ID); err != nil {
		writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// ApplyCoupon validates a coupon code against the backend and selects it.
func (h *Handler) ApplyCoupon(w http.ResponseWriter, r *http.Request) {
	var req couponRequest
	if err := decodeBody(w, r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	h.cartOp(w, r, func(ctx context.Context, sid string) (*cart.View, error) {
		return h.carts.ApplyCoupon(ctx, sid, req.Code)
	})
}

// RemoveCoupon clears the coupon selection.
func (h *Handler) RemoveCoupon(w http.ResponseWriter, r *http.Request) {
	h.cartOp(w, r, func(ctx context.Context, sid string) (*cart.View, error) {
		return h.carts.RemoveCoupon(ctx, sid)
	})
}

// QuoteCart returns the checkout price breakdown of the cart.
func (h *Handler) QuoteCart(w http.ResponseWriter, r *http.Request) {
	sess, err := h.ensureSession(w, r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	_, q, err := h.carts.Quote(r.Context(), sess.ID)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, newQuoteResponse(q))
}
