package handler

import (
	"net/http"

	"github.com/xenking/storefront-gateway/internal/domain/checkout"
	"github.com/xenking/storefront-gateway/internal/domain/order"
	"github.com/xenking/storefront-gateway/internal/domain/session"
)

type placeOrderRequest struct {
	ShippingAddress order.ShippingAddress `json:"shippingAddress"`
	PaymentMethod   string                `json:"paymentMethod"`
}

type confirmPaymentRequest struct {
	PaymentID string `json:"paymentId"`
}

type returnRequest struct {
	Reason string `json:"reason"`
}

type statusRequest struct {
	Status string `json:"status"`
}

// PlaceOrder creates an order from the session cart. The cart is cleared
// once the backend accepts the order.
func (h *Handler) PlaceOrder(w http.ResponseWriter, r *http.Request) {
	sess, ctx, err := h.authorize(r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	var req placeOrderRequest
	if err := decodeBody(w, r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	o, err := h.checkout.PlaceOrder(ctx, sess.ID, checkout.PlaceOrderRequest{
		ShippingAddress: req.ShippingAddress,
		PaymentMethod:   req.PaymentMethod,
	})
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, o)
}

// CreatePaymentIntent returns a card payment client secret for an order.
func (h *Handler) CreatePaymentIntent(w http.ResponseWriter, r *http.Request) {
	_, ctx, err := h.authorize(r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	intent, err := h.checkout.CreatePaymentIntent(ctx, r.PathValue("id"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, intent)
}

// ConfirmPayment marks an order paid after the card payment succeeded.
func (h *Handler) ConfirmPayment(w http.ResponseWriter, r *http.Request) {
	_, ctx, err := h.authorize(r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	var req confirmPaymentRequest
	if err := decodeBody(w, r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	o, err := h.checkout.ConfirmPayment(ctx, r.PathValue("id"), req.PaymentID)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, o)
}

// ListMyOrders returns the caller's orders.
func (h *Handler) ListMyOrders(w http.ResponseWriter, r *http.Request) {
	_, ctx, err := h.authorize(r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	views, err := h.orders.ListMine(ctx)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, views)
}

// GetOrder returns one order with its progress step.
func (h *Handler) GetOrder(w http.ResponseWriter, r *http.Request) {
	_, ctx, err := h.authorize(r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	v, err := h.orders.Get(ctx, r.PathValue("id"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, v)
}

// TrackOrder returns the tracking timeline of an order.
func (h *Handler) TrackOrder(w http.ResponseWriter, r *http.Request) {
	_, ctx, err := h.authorize(r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	v, err := h.orders.Get(ctx, r.PathValue("id"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, newTrackingResponse(v))
}

// RequestReturn asks for a return of a delivered order.
func (h *Handler) RequestReturn(w http.ResponseWriter, r *http.Request) {
	_, ctx, err := h.authorize(r, session.RoleCustomer, session.RoleAdmin)
	if err != nil {
		writeError(w, r, err)
		return
	}
	var req returnRequest
	if err := decodeBody(w, r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	v, err := h.orders.RequestReturn(ctx, r.PathValue("id"), req.Reason)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, v)
}

// DeliveryTasks returns the orders assigned to the calling delivery partner.
func (h *Handler) DeliveryTasks(w http.ResponseWriter, r *http.Request) {
	_, ctx, err := h.authorize(r, session.RoleDelivery)
	if err != nil {
		writeError(w, r, err)
		return
	}
	views, err := h.orders.DeliveryTasks(ctx)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, views)
}

// AdvanceDelivery moves an assigned order to Out_for_Delivery or Delivered.
func (h *Handler) AdvanceDelivery(w http.ResponseWriter, r *http.Request) {
	_, ctx, err := h.authorize(r, session.RoleDelivery, session.RoleAdmin)
	if err != nil {
		writeError(w, r, err)
		return
	}
	var req statusRequest
	if err := decodeBody(w, r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	to, err := order.ParseStatus(req.Status)
	if err != nil {
		writeError(w, r, err)
		return
	}
	v, err := h.orders.AdvanceDelivery(ctx, r.PathValue("id"), to)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, v)
}
