// Package handler serves the gateway's HTTP and WebSocket API.
package handler

import (
	"context"
	"net/http"
	"time"

	"github.com/xenking/storefront-gateway/internal/domain/cart"
	"github.com/xenking/storefront-gateway/internal/domain/checkout"
	"github.com/xenking/storefront-gateway/internal/domain/coupon"
	"github.com/xenking/storefront-gateway/internal/domain/order"
	"github.com/xenking/storefront-gateway/internal/domain/session"
	"github.com/xenking/storefront-gateway/internal/domain/support"
)

// Users signs users in and changes their roles on the backend.
type Users interface {
	Login(ctx context.Context, email, password string) (string, session.Profile, error)
	SetRole(ctx context.Context, userID string, role session.Role) error
}

// HandlerConfig holds non-dependency configuration for the Handler.
type HandlerConfig struct {
	// CookieName names the session cookie.
	CookieName string
	// CookieSecure marks the session cookie Secure.
	CookieSecure bool
	// SessionTTL is the session cookie lifetime.
	SessionTTL time.Duration
	// WSOrigins are the origin patterns accepted for the support socket.
	// Empty means same-origin only.
	WSOrigins []string
}

// Handler serves the storefront API on top of the domain services.
type Handler struct {
	sessions *session.Service
	users    Users
	carts    *cart.Service
	coupons  coupon.Manager
	checkout *checkout.Service
	orders   *order.Service
	hub      *support.Hub

	cookieName   string
	cookieSecure bool
	sessionTTL   time.Duration
	wsOrigins    []string
}

// NewHandler constructs a Handler with the required domain dependencies.
func NewHandler(
	cfg HandlerConfig,
	sessions *session.Service,
	users Users,
	carts *cart.Service,
	coupons coupon.Manager,
	checkoutSvc *checkout.Service,
	orders *order.Service,
	hub *support.Hub,
) *Handler {
	if cfg.CookieName == "" {
		cfg.CookieName = "storefront_session"
	}
	if cfg.SessionTTL <= 0 {
		cfg.SessionTTL = 30 * 24 * time.Hour
	}
	return &Handler{
		sessions:     sessions,
		users:        users,
		carts:        carts,
		coupons:      coupons,
		checkout:     checkoutSvc,
		orders:       orders,
		hub:          hub,
		cookieName:   cfg.CookieName,
		cookieSecure: cfg.CookieSecure,
		sessionTTL:   cfg.SessionTTL,
		wsOrigins:    cfg.WSOrigins,
	}
}

// CookieName returns the session cookie name, used to key rate limits.
func (h *Handler) CookieName() string { return h.cookieName }

// Register mounts the API routes on mux.
func (h *Handler) Register(mux *http.ServeMux) {
	mux.HandleFunc("GET /api/session", h.GetSession)
	mux.HandleFunc("POST /api/session", h.SignIn)
	mux.HandleFunc("DELETE /api/session", h.SignOut)

	mux.HandleFunc("GET /api/cart", h.GetCart)
	mux.HandleFunc("DELETE /api/cart", h.ClearCart)
	mux.HandleFunc("POST /api/cart/items", h.AddToCart)
	mux.HandleFunc("PUT /api/cart/items", h.SetCartQuantity)
	mux.HandleFunc("PATCH /api/cart/items", h.AdjustCartQuantity)
	mux.HandleFunc("DELETE /api/cart/items", h.RemoveFromCart)
	mux.HandleFunc("POST /api/cart/coupon", h.ApplyCoupon)
	mux.HandleFunc("DELETE /api/cart/coupon", h.RemoveCoupon)
	mux.HandleFunc("GET /api/cart/quote", h.QuoteCart)

	mux.HandleFunc("POST /api/checkout", h.PlaceOrder)
	mux.HandleFunc("POST /api/orders/{id}/payment-intent", h.CreatePaymentIntent)
	mux.HandleFunc("POST /api/orders/{id}/pay", h.ConfirmPayment)
	mux.HandleFunc("GET /api/orders", h.ListMyOrders)
	mux.HandleFunc("GET /api/orders/{id}", h.GetOrder)
	mux.HandleFunc("GET /api/orders/{id}/tracking", h.TrackOrder)
	mux.HandleFunc("POST /api/orders/{id}/return", h.RequestReturn)

	mux.HandleFunc("GET /api/delivery/tasks", h.DeliveryTasks)
	mux.HandleFunc("PUT /api/delivery/orders/{id}/status", h.AdvanceDelivery)

	mux.HandleFunc("GET /api/admin/orders", h.ListAllOrders)
	mux.HandleFunc("PUT /api/admin/orders/{id}/assign", h.AssignOrder)
	mux.HandleFunc("PUT /api/admin/orders/{id}/return", h.HandleReturn)
	mux.HandleFunc("GET /api/admin/coupons", h.ListCoupons)
	mux.HandleFunc("POST /api/admin/coupons", h.CreateCoupon)
	mux.HandleFunc("DELETE /api/admin/coupons/{id}", h.DeleteCoupon)
	mux.HandleFunc("PUT /api/admin/users/{id}/role", h.UpdateRole)
	mux.HandleFunc("GET /api/admin/support/chats", h.ActiveChats)
	mux.HandleFunc("DELETE /api/admin/support/chats/{customerId}", h.CloseChat)

	mux.HandleFunc("GET /api/support/ws", h.SupportSocket)
}
