package cart

import (
	"context"
	"slices"
	"sync"
	"time"

	"github.com/go-faster/errors"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/xenking/storefront-gateway/internal/apperr"
	"github.com/xenking/storefront-gateway/internal/domain/coupon"
	"github.com/xenking/storefront-gateway/internal/domain/pricing"
	"github.com/xenking/storefront-gateway/internal/domain/product"
)

var (
	// ErrEmptyCouponCode is returned by ApplyCoupon for a blank code.
	ErrEmptyCouponCode = errors.New("coupon code required")
	// ErrInvalidVariant is returned by Add when the product offers colors or
	// sizes and the request does not pick one of them.
	ErrInvalidVariant = errors.New("select an available color and size")
)

// AddRequest holds the input for adding a product to a cart.
type AddRequest struct {
	ProductID string
	Quantity  int
	Color     string
	Size      string
}

// View is a cart together with its cart-view totals.
type View struct {
	Cart    *Cart
	Coupon  *coupon.Applied
	Summary pricing.CartSummary
}

// Service manages session-scoped carts. Mutations for one session are
// serialised; different sessions proceed in parallel.
type Service struct {
	carts   Repository
	catalog product.Catalog
	coupons coupon.Validator
	policy  pricing.Policy
	locks   *keyedMutex
	applied *selections

	mutations      metric.Int64Counter
	couponOutcomes metric.Int64Counter
}

// Option configures a Service.
type Option func(*Service)

// WithCouponRetention bounds the in-memory coupon selections: at most limit
// sessions are remembered and a selection untouched for ttl is forgotten.
// A non-positive value disables the corresponding bound.
func WithCouponRetention(limit int, ttl time.Duration) Option {
	return func(s *Service) {
		s.applied.limit = limit
		s.applied.ttl = ttl
	}
}

// NewService creates a cart Service.
func NewService(
	carts Repository,
	catalog product.Catalog,
	coupons coupon.Validator,
	policy pricing.Policy,
	meter metric.Meter,
	opts ...Option,
) (*Service, error) {
	mutations, err := meter.Int64Counter("storefront.cart.mutations",
		metric.WithDescription("Cart mutations by operation and outcome"))
	if err != nil {
		return nil, errors.Wrap(err, "create mutations counter")
	}
	couponOutcomes, err := meter.Int64Counter("storefront.cart.coupon_applications",
		metric.WithDescription("Coupon applications by outcome"))
	if err != nil {
		return nil, errors.Wrap(err, "create coupon counter")
	}
	s := &Service{
		carts:          carts,
		catalog:        catalog,
		coupons:        coupons,
		policy:         policy,
		locks:          newKeyedMutex(),
		applied:        newSelections(DefaultSelectionLimit, DefaultSelectionTTL),
		mutations:      mutations,
		couponOutcomes: couponOutcomes,
	}
	for _, o := range opts {
		o(s)
	}
	return s, nil
}

// Policy returns the checkout pricing policy.
func (s *Service) Policy() pricing.Policy { return s.policy }

// Get returns the session's cart view.
func (s *Service) Get(ctx context.Context, sessionID string) (*View, error) {
	c, err := s.carts.Load(ctx, sessionID)
	if err != nil {
		return nil, errors.Wrap(err, "load cart")
	}
	return s.view(sessionID, c), nil
}

// Add fetches the product from the catalog and adds it to the cart.
func (s *Service) Add(ctx context.Context, sessionID string, req AddRequest) (*View, error) {
	p, err := s.catalog.GetByID(ctx, req.ProductID)
	if err != nil {
		return nil, errors.Wrap(err, "get product")
	}
	if !offers(p.Colors, req.Color) || !offers(p.Sizes, req.Size) {
		return nil, ErrInvalidVariant
	}
	return s.mutate(ctx, sessionID, "add", func(c *Cart) error {
		return c.AddLine(*p, req.Quantity, req.Color, req.Size)
	})
}

// Remove deletes a line. Removing a missing line is not an error.
func (s *Service) Remove(ctx context.Context, sessionID string, k Key) (*View, error) {
	return s.mutate(ctx, sessionID, "remove", func(c *Cart) error {
		c.RemoveLine(k)
		return nil
	})
}

// SetQuantity sets a line quantity; see Cart.SetQuantity.
func (s *Service) SetQuantity(ctx context.Context, sessionID string, k Key, n int) (*View, error) {
	return s.mutate(ctx, sessionID, "set_quantity", func(c *Cart) error {
		return c.SetQuantity(k, n)
	})
}

// AdjustQuantity changes a line quantity by delta; see Cart.AdjustQuantity.
func (s *Service) AdjustQuantity(ctx context.Context, sessionID string, k Key, delta int) (*View, error) {
	return s.mutate(ctx, sessionID, "adjust_quantity", func(c *Cart) error {
		return c.AdjustQuantity(k, delta)
	})
}

// Clear empties the cart and drops the coupon selection.
func (s *Service) Clear(ctx context.Context, sessionID string) error {
	unlock := s.locks.Lock(sessionID)
	defer unlock()

	if err := s.carts.Delete(ctx, sessionID); err != nil {
		return errors.Wrap(err, "delete cart")
	}
	s.setApplied(sessionID, nil)
	s.mutations.Add(ctx, 1, metric.WithAttributes(
		attribute.String("op", "clear"), attribute.Bool("ok", true)))
	return nil
}

// ApplyCoupon validates code against the current subtotal with the coupon
// authority. On acceptance the selection is stored for the session. Any
// answer from the authority other than acceptance clears the previous
// selection; only a failure to reach it leaves the selection untouched.
// The cart itself never changes.
func (s *Service) ApplyCoupon(ctx context.Context, sessionID, code string) (*View, error) {
	code = coupon.NormalizeCode(code)
	if code == "" {
		return nil, ErrEmptyCouponCode
	}

	c, err := s.carts.Load(ctx, sessionID)
	if err != nil {
		return nil, errors.Wrap(err, "load cart")
	}

	applied, err := s.coupons.Validate(ctx, code, c.TotalPrice())
	if err != nil {
		outcome := "error"
		if apperr.IsTransport(err) {
			outcome = "network"
		} else if _, ok := apperr.KindOf(err); ok {
			outcome = "rejected"
			s.setApplied(sessionID, nil)
		}
		s.couponOutcomes.Add(ctx, 1, metric.WithAttributes(attribute.String("outcome", outcome)))
		return nil, errors.Wrap(err, "validate coupon")
	}

	if applied.Code == "" {
		applied.Code = code
	}
	s.setApplied(sessionID, applied)
	s.couponOutcomes.Add(ctx, 1, metric.WithAttributes(attribute.String("outcome", "applied")))
	return s.view(sessionID, c), nil
}

// RemoveCoupon drops the coupon selection.
func (s *Service) RemoveCoupon(ctx context.Context, sessionID string) (*View, error) {
	s.setApplied(sessionID, nil)
	return s.Get(ctx, sessionID)
}

// Quote returns the session cart and its checkout breakdown. The coupon
// selection does not take part in the checkout formula.
func (s *Service) Quote(ctx context.Context, sessionID string) (*Cart, pricing.CheckoutQuote, error) {
	c, err := s.carts.Load(ctx, sessionID)
	if err != nil {
		return nil, pricing.CheckoutQuote{}, errors.Wrap(err, "load cart")
	}
	return c, c.Quote(s.policy), nil
}

// ClearError reports that Checkout placed the order but could not empty the
// cart afterwards.
type ClearError struct {
	Err error
}

func (e *ClearError) Error() string { return "clear cart: " + e.Err.Error() }

func (e *ClearError) Unwrap() error { return e.Err }

// Checkout calls place with the session cart and its quote while holding the
// session lock, then empties the cart and drops the coupon selection. Cart
// mutations for the session wait until Checkout returns, so nothing added
// concurrently is lost with the cleared cart. An error from place is
// returned as is and leaves the cart intact. A failure to empty the cart
// after place succeeded is reported as *ClearError.
func (s *Service) Checkout(
	ctx context.Context,
	sessionID string,
	place func(c *Cart, q pricing.CheckoutQuote) error,
) error {
	unlock := s.locks.Lock(sessionID)
	defer unlock()

	c, err := s.carts.Load(ctx, sessionID)
	if err != nil {
		return errors.Wrap(err, "load cart")
	}
	if err := place(c, c.Quote(s.policy)); err != nil {
		return err
	}

	s.setApplied(sessionID, nil)
	if err := s.carts.Delete(ctx, sessionID); err != nil {
		return &ClearError{Err: err}
	}
	s.mutations.Add(ctx, 1, metric.WithAttributes(
		attribute.String("op", "checkout"), attribute.Bool("ok", true)))
	return nil
}

// Move hands the cart and coupon selection of one session over to another,
// replacing whatever the target held. Moving an empty cart only removes the
// source.
func (s *Service) Move(ctx context.Context, from, to string) error {
	if from == to {
		return nil
	}
	first, second := from, to
	if second < first {
		first, second = second, first
	}
	unlockFirst := s.locks.Lock(first)
	defer unlockFirst()
	unlockSecond := s.locks.Lock(second)
	defer unlockSecond()

	c, err := s.carts.Load(ctx, from)
	if err != nil {
		return errors.Wrap(err, "load cart")
	}
	if !c.IsEmpty() {
		if err := s.carts.Save(ctx, to, c); err != nil {
			return errors.Wrap(err, "save cart")
		}
	}
	if err := s.carts.Delete(ctx, from); err != nil {
		return errors.Wrap(err, "delete cart")
	}
	s.applied.move(from, to)
	s.mutations.Add(ctx, 1, metric.WithAttributes(
		attribute.String("op", "move"), attribute.Bool("ok", true)))
	return nil
}

func offers(options []string, v string) bool {
	if len(options) == 0 {
		return v == ""
	}
	return slices.Contains(options, v)
}

func (s *Service) mutate(ctx context.Context, sessionID, op string, fn func(*Cart) error) (*View, error) {
	unlock := s.locks.Lock(sessionID)
	defer unlock()

	c, err := s.carts.Load(ctx, sessionID)
	if err != nil {
		return nil, errors.Wrap(err, "load cart")
	}
	if err := fn(c); err != nil {
		s.mutations.Add(ctx, 1, metric.WithAttributes(
			attribute.String("op", op), attribute.Bool("ok", false)))
		return nil, err
	}
	if err := s.carts.Save(ctx, sessionID, c); err != nil {
		return nil, errors.Wrap(err, "save cart")
	}
	s.mutations.Add(ctx, 1, metric.WithAttributes(
		attribute.String("op", op), attribute.Bool("ok", true)))
	return s.view(sessionID, c), nil
}

func (s *Service) view(sessionID string, c *Cart) *View {
	applied := s.getApplied(sessionID)
	return &View{
		Cart:    c,
		Coupon:  applied,
		Summary: c.Summary(applied),
	}
}

func (s *Service) getApplied(sessionID string) *coupon.Applied {
	return s.applied.get(sessionID)
}

func (s *Service) setApplied(sessionID string, a *coupon.Applied) {
	s.applied.set(sessionID, a)
}

// keyedMutex hands out one mutex per key and forgets it once unused.
type keyedMutex struct {
	mu    sync.Mutex
	locks map[string]*refLock
}

type refLock struct {
	mu   sync.Mutex
	refs int
}

func newKeyedMutex() *keyedMutex {
	return &keyedMutex{locks: make(map[string]*refLock)}
}

// Lock acquires the mutex for key and returns its release function.
func (k *keyedMutex) Lock(key string) func() {
	k.mu.Lock()
	l, ok := k.locks[key]
	if !ok {
		l = &refLock{}
		k.locks[key] = l
	}
	l.refs++
	k.mu.Unlock()

	l.mu.Lock()
	return func() {
		l.mu.Unlock()
		k.mu.Lock()
		l.refs--
		if l.refs == 0 {
			delete(k.locks, key)
		}
		k.mu.Unlock()
	}
}
