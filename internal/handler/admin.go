package handler

import (
	"net/http"
	"time"

	"github.com/go-faster/sdk/zctx"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/xenking/storefront-gateway/internal/domain/coupon"
	"github.com/xenking/storefront-gateway/internal/domain/order"
	"github.com/xenking/storefront-gateway/internal/domain/session"
	"github.com/xenking/storefront-gateway/internal/domain/support"
)

type assignRequest struct {
	DeliveryManID string `json:"deliveryManId"`
}

type couponBody struct {
	ID                 string           `json:"id,omitempty"`
	Code               string           `json:"code"`
	Description        string           `json:"description,omitempty"`
	DiscountPercentage decimal.Decimal  `json:"discountPercentage"`
	MinPurchaseAmount  decimal.Decimal  `json:"minPurchaseAmount"`
	MaxPurchaseAmount  *decimal.Decimal `json:"maxPurchaseAmount,omitempty"`
	ExpirationDate     time.Time        `json:"expirationDate"`
}

func newCouponBody(c coupon.Coupon) couponBody {
	return couponBody{
		ID:                 c.ID,
		Code:               c.Code,
		Description:        c.Description,
		DiscountPercentage: c.DiscountPercentage,
		MinPurchaseAmount:  c.MinPurchaseAmount,
		MaxPurchaseAmount:  c.MaxPurchaseAmount,
		ExpirationDate:     c.ExpirationDate,
	}
}

type roleRequest struct {
	Role session.Role `json:"role"`
}

type roleResponse struct {
	UserID          string       `json:"userId"`
	Role            session.Role `json:"role"`
	SessionsUpdated int          `json:"sessionsUpdated"`
}

// ListAllOrders returns every order.
func (h *Handler) ListAllOrders(w http.ResponseWriter, r *http.Request) {
	_, ctx, err := h.authorize(r, session.RoleAdmin)
	if err != nil {
		writeError(w, r, err)
		return
	}
	views, err := h.orders.ListAll(ctx)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, views)
}

// AssignOrder hands an order to a delivery partner.
func (h *Handler) AssignOrder(w http.ResponseWriter, r *http.Request) {
	_, ctx, err := h.authorize(r, session.RoleAdmin)
	if err != nil {
		writeError(w, r, err)
		return
	}
	var req assignRequest
	if err := decodeBody(w, r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	v, err := h.orders.Assign(ctx, r.PathValue("id"), req.DeliveryManID)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, v)
}

// HandleReturn resolves a return request as Returned or Return_Rejected.
func (h *Handler) HandleReturn(w http.ResponseWriter, r *http.Request) {
	_, ctx, err := h.authorize(r, session.RoleAdmin)
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
	v, err := h.orders.HandleReturn(ctx, r.PathValue("id"), to)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, v)
}

// ListCoupons returns all coupons.
func (h *Handler) ListCoupons(w http.ResponseWriter, r *http.Request) {
	_, ctx, err := h.authorize(r, session.RoleAdmin)
	if err != nil {
		writeError(w, r, err)
		return
	}
	list, err := h.coupons.List(ctx)
	if err != nil {
		writeError(w, r, err)
		return
	}
	out := make([]couponBody, len(list))
	for i, c := range list {
		out[i] = newCouponBody(c)
	}
	writeJSON(w, http.StatusOK, out)
}

// CreateCoupon validates and creates a coupon.
func (h *Handler) CreateCoupon(w http.ResponseWriter, r *http.Request) {
	_, ctx, err := h.authorize(r, session.RoleAdmin)
	if err != nil {
		writeError(w, r, err)
		return
	}
	var req couponBody
	if err := decodeBody(w, r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	c, err := coupon.NewCoupon(coupon.Coupon{
		Code:               req.Code,
		Description:        req.Description,
		DiscountPercentage: req.DiscountPercentage,
		MinPurchaseAmount:  req.MinPurchaseAmount,
		MaxPurchaseAmount:  req.MaxPurchaseAmount,
		ExpirationDate:     req.ExpirationDate,
	})
	if err != nil {
		writeError(w, r, err)
		return
	}
	created, err := h.coupons.Create(ctx, c)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, newCouponBody(*created))
}

// DeleteCoupon removes a coupon.
func (h *Handler) DeleteCoupon(w http.ResponseWriter, r *http.Request) {
	_, ctx, err := h.authorize(r, session.RoleAdmin)
	if err != nil {
		writeError(w, r, err)
		return
	}
	if err := h.coupons.Delete(ctx, r.PathValue("id")); err != nil {
		writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// UpdateRole changes a user's role on the backend, rewrites the role in the
// user's live sessions and notifies the user's open sockets.
func (h *Handler) UpdateRole(w http.ResponseWriter, r *http.Request) {
	_, ctx, err := h.authorize(r, session.RoleAdmin)
	if err != nil {
		writeError(w, r, err)
		return
	}
	var req roleRequest
	if err := decodeBody(w, r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	if !req.Role.Valid() {
		writeError(w, r, session.ErrInvalidRole)
		return
	}
	userID := r.PathValue("id")
	if err := h.users.SetRole(ctx, userID, req.Role); err != nil {
		writeError(w, r, err)
		return
	}

	n, err := h.sessions.UpdateRole(ctx, userID, req.Role)
	if err != nil {
		// The backend already holds the new role; sessions pick it up on the
		// next sign-in.
		zctx.From(ctx).Warn("Update session roles failed",
			zap.String("user_id", userID), zap.Error(err))
	}
	h.hub.PublishRoleUpdate(support.RoleUpdate{
		UserID:  userID,
		Role:    string(req.Role),
		Message: "Your role has been updated to " + string(req.Role),
	})
	writeJSON(w, http.StatusOK, roleResponse{UserID: userID, Role: req.Role, SessionsUpdated: n})
}

// ActiveChats lists customers with an open support chat.
func (h *Handler) ActiveChats(w http.ResponseWriter, r *http.Request) {
	if _, _, err := h.authorize(r, session.RoleAdmin); err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, h.hub.ActiveCustomers())
}

// CloseChat removes a customer from the active chat list.
func (h *Handler) CloseChat(w http.ResponseWriter, r *http.Request) {
	if _, _, err := h.authorize(r, session.RoleAdmin); err != nil {
		writeError(w, r, err)
		return
	}
	h.hub.CloseChat(r.PathValue("customerId"))
	w.WriteHeader(http.StatusNoContent)
}
