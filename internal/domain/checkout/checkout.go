// Package checkout turns a session cart into a backend order and drives the
// payment hand-off for it.
package checkout

import (
	"context"
	"strings"

	"github.com/go-faster/errors"
	"github.com/go-faster/sdk/zctx"
	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel/metric"
	"go.uber.org/zap"

	"github.com/xenking/storefront-gateway/internal/domain/cart"
	"github.com/xenking/storefront-gateway/internal/domain/order"
	"github.com/xenking/storefront-gateway/internal/domain/pricing"
)

// DefaultPaymentMethod is used when the request names none.
const DefaultPaymentMethod = "Stripe"

// Sentinel errors for checkout validation.
var (
	ErrMissingAddress = errors.New("address and phone number required")
	ErrEmptyCart      = errors.New("cart is empty")
	ErrAlreadyPaid    = errors.New("order already paid")
	ErrMissingPayment = errors.New("payment id required")
)

// Carts is the part of the cart service checkout depends on.
type Carts interface {
	Checkout(ctx context.Context, sessionID string, place func(c *cart.Cart, q pricing.CheckoutQuote) error) error
}

// PaymentIntents creates payment intents with the payment provider.
type PaymentIntents interface {
	CreateIntent(ctx context.Context, amount decimal.Decimal) (clientSecret string, err error)
}

// PlaceOrderRequest holds the input for placing an order.
type PlaceOrderRequest struct {
	ShippingAddress order.ShippingAddress
	PaymentMethod   string
}

// PaymentIntent is the client secret for paying an order.
type PaymentIntent struct {
	OrderID      string          `json:"orderId"`
	Amount       decimal.Decimal `json:"amount"`
	ClientSecret string          `json:"clientSecret"`
}

// Service encapsulates order placement and payment.
type Service struct {
	carts    Carts
	orders   order.Repository
	payments PaymentIntents

	placed metric.Int64Counter
}

// NewService creates a checkout Service.
func NewService(
	carts Carts,
	orders order.Repository,
	payments PaymentIntents,
	meter metric.Meter,
) (*Service, error) {
	placed, err := meter.Int64Counter("storefront.checkout.orders_placed",
		metric.WithDescription("Orders placed through checkout"))
	if err != nil {
		return nil, errors.Wrap(err, "create orders counter")
	}
	return &Service{
		carts:    carts,
		orders:   orders,
		payments: payments,
		placed:   placed,
	}, nil
}

// PlaceOrder prices the session cart with the checkout formula and creates
// the order through the backend. The cart is cleared only once the backend
// has accepted the order, and stays locked against concurrent changes until
// then.
func (s *Service) PlaceOrder(ctx context.Context, sessionID string, req PlaceOrderRequest) (*order.Order, error) {
	addr := req.ShippingAddress
	addr.Address = strings.TrimSpace(addr.Address)
	addr.Phone = strings.TrimSpace(addr.Phone)
	if addr.Address == "" || addr.Phone == "" {
		return nil, ErrMissingAddress
	}
	method := strings.TrimSpace(req.PaymentMethod)
	if method == "" {
		method = DefaultPaymentMethod
	}

	var created *order.Order
	err := s.carts.Checkout(ctx, sessionID, func(c *cart.Cart, quote pricing.CheckoutQuote) error {
		if c.IsEmpty() {
			return ErrEmptyCart
		}
		items := make([]order.Item, len(c.Lines))
		for i, l := range c.Lines {
			items[i] = order.Item{
				ProductID: l.ProductID,
				Name:      l.Name,
				Quantity:  l.Quantity,
				UnitPrice: l.UnitPrice,
				Image:     l.Image,
			}
		}

		o, err := s.orders.Create(ctx, &order.Order{
			Items:           items,
			ShippingAddress: addr,
			PaymentMethod:   method,
			ItemsPrice:      quote.ItemsPrice,
			ShippingPrice:   quote.ShippingPrice,
			TaxPrice:        quote.TaxPrice,
			TotalPrice:      quote.TotalPrice,
			Status:          order.StatusProcessing,
		})
		if err != nil {
			return errors.Wrap(err, "create order")
		}
		created = o
		return nil
	})
	var clearErr *cart.ClearError
	switch {
	case errors.As(err, &clearErr):
		zctx.From(ctx).Warn("Clear cart after order failed",
			zap.String("order_id", created.ID), zap.Error(clearErr.Err))
	case err != nil:
		return nil, err
	}
	s.placed.Add(ctx, 1)

	zctx.From(ctx).Info("Order placed",
		zap.String("order_id", created.ID),
		zap.Stringer("total", created.TotalPrice))
	return created, nil
}

// CreatePaymentIntent requests a client secret for the order total.
func (s *Service) CreatePaymentIntent(ctx context.Context, orderID string) (*PaymentIntent, error) {
	o, err := s.orders.Get(ctx, orderID)
	if err != nil {
		return nil, errors.Wrap(err, "get order")
	}
	if o.IsPaid {
		return nil, ErrAlreadyPaid
	}
	secret, err := s.payments.CreateIntent(ctx, o.TotalPrice)
	if err != nil {
		return nil, errors.Wrap(err, "create payment intent")
	}
	return &PaymentIntent{
		OrderID:      o.ID,
		Amount:       o.TotalPrice,
		ClientSecret: secret,
	}, nil
}

// ConfirmPayment records a successful payment for the order and returns
// the refreshed order.
func (s *Service) ConfirmPayment(ctx context.Context, orderID, paymentID string) (*order.Order, error) {
	if strings.TrimSpace(paymentID) == "" {
		return nil, ErrMissingPayment
	}
	if err := s.orders.MarkPaid(ctx, orderID, paymentID); err != nil {
		return nil, errors.Wrap(err, "mark order paid")
	}
	o, err := s.orders.Get(ctx, orderID)
	if err != nil {
		return nil, errors.Wrap(err, "get order")
	}
	return o, nil
}
