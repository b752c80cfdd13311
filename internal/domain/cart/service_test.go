package cart

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/metric/noop"

	"github.com/xenking/storefront-gateway/internal/apperr"
	"github.com/xenking/storefront-gateway/internal/domain/coupon"
	"github.com/xenking/storefront-gateway/internal/domain/pricing"
	"github.com/xenking/storefront-gateway/internal/domain/product"
)

// --- Mock implementations ---

type memRepo struct {
	mu        sync.Mutex
	carts     map[string]Cart
	saveErr   error
	deleteErr error
}

func newMemRepo() *memRepo { return &memRepo{carts: make(map[string]Cart)} }

func (m *memRepo) Load(_ context.Context, sessionID string) (*Cart, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	c := m.carts[sessionID]
	lines := append([]Line(nil), c.Lines...)
	return &Cart{Lines: lines}, nil
}

func (m *memRepo) Save(_ context.Context, sessionID string, c *Cart) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.saveErr != nil {
		return m.saveErr
	}
	m.carts[sessionID] = Cart{Lines: append([]Line(nil), c.Lines...)}
	return nil
}

func (m *memRepo) Delete(_ context.Context, sessionID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.deleteErr != nil {
		return m.deleteErr
	}
	delete(m.carts, sessionID)
	return nil
}

type mockCatalog struct {
	byID map[string]product.Product
}

func (m *mockCatalog) GetByID(_ context.Context, id string) (*product.Product, error) {
	p, ok := m.byID[id]
	if !ok {
		return nil, product.ErrNotFound
	}
	return &p, nil
}

type mockValidator struct {
	applied      *coupon.Applied
	err          error
	lastCode     string
	lastSubtotal decimal.Decimal
}

func (m *mockValidator) Validate(_ context.Context, code string, subtotal decimal.Decimal) (*coupon.Applied, error) {
	m.lastCode = code
	m.lastSubtotal = subtotal
	return m.applied, m.err
}

// --- Helpers ---

func newTestService(t *testing.T, v *mockValidator, products ...product.Product) (*Service, *memRepo) {
	t.Helper()
	byID := make(map[string]product.Product, len(products))
	for _, p := range products {
		byID[p.ID] = p
	}
	repo := newMemRepo()
	svc, err := NewService(repo, &mockCatalog{byID: byID}, v, pricing.DefaultPolicy(), noop.NewMeterProvider().Meter("test"))
	require.NoError(t, err)
	return svc, repo
}

// --- Tests ---

func TestService_AddPersists(t *testing.T) {
	svc, repo := newTestService(t, &mockValidator{}, newTestProduct("p1", "100", 10))
	ctx := context.Background()

	_, err := svc.Add(ctx, "s1", AddRequest{ProductID: "p1", Quantity: 2})
	require.NoError(t, err)
	view, err := svc.Add(ctx, "s1", AddRequest{ProductID: "p1", Quantity: 1})
	require.NoError(t, err)

	assert.Equal(t, 3, view.Summary.TotalItems)
	assert.Equal(t, 3, repo.carts["s1"].Lines[0].Quantity)

	other, err := svc.Get(ctx, "s2")
	require.NoError(t, err)
	assert.True(t, other.Cart.IsEmpty(), "carts are scoped per session")
}

func TestService_AddUnknownProduct(t *testing.T) {
	svc, _ := newTestService(t, &mockValidator{})

	_, err := svc.Add(context.Background(), "s1", AddRequest{ProductID: "missing", Quantity: 1})
	require.ErrorIs(t, err, product.ErrNotFound)
}

func TestService_RejectedQuantityLeavesStoredCart(t *testing.T) {
	svc, repo := newTestService(t, &mockValidator{}, newTestProduct("p1", "10", 3))
	ctx := context.Background()

	_, err := svc.Add(ctx, "s1", AddRequest{ProductID: "p1", Quantity: 2})
	require.NoError(t, err)

	_, err = svc.SetQuantity(ctx, "s1", Key{ProductID: "p1"}, 9)
	var qErr *QuantityRejectedError
	require.ErrorAs(t, err, &qErr)
	assert.Equal(t, 2, repo.carts["s1"].Lines[0].Quantity)
}

func TestService_SaveError(t *testing.T) {
	svc, repo := newTestService(t, &mockValidator{}, newTestProduct("p1", "10", 3))
	repo.saveErr = errors.New("redis down")

	_, err := svc.Add(context.Background(), "s1", AddRequest{ProductID: "p1", Quantity: 1})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "save cart")
}

func TestService_ApplyCoupon(t *testing.T) {
	v := &mockValidator{
		applied: &coupon.Applied{Code: "SAVE10", DiscountPercentage: decimal.NewFromInt(10)},
	}
	svc, _ := newTestService(t, v, newTestProduct("p1", "100", 10))
	ctx := context.Background()

	_, err := svc.Add(ctx, "s1", AddRequest{ProductID: "p1", Quantity: 2})
	require.NoError(t, err)

	view, err := svc.ApplyCoupon(ctx, "s1", " save10 ")
	require.NoError(t, err)

	assert.Equal(t, "SAVE10", v.lastCode)
	assert.True(t, decimal.NewFromInt(200).Equal(v.lastSubtotal))
	assert.True(t, decimal.RequireFromString("20.00").Equal(view.Summary.DiscountAmount))
	assert.True(t, decimal.RequireFromString("180.00").Equal(view.Summary.FinalTotal))

	// The selection survives later reads and follows the subtotal.
	view, err = svc.Add(ctx, "s1", AddRequest{ProductID: "p1", Quantity: 1})
	require.NoError(t, err)
	assert.True(t, decimal.RequireFromString("30.00").Equal(view.Summary.DiscountAmount))
}

func TestService_ApplyCoupon_RejectionClearsSelection(t *testing.T) {
	v := &mockValidator{
		applied: &coupon.Applied{Code: "SAVE10", DiscountPercentage: decimal.NewFromInt(10)},
	}
	svc, _ := newTestService(t, v, newTestProduct("p1", "20", 10))
	ctx := context.Background()

	_, err := svc.Add(ctx, "s1", AddRequest{ProductID: "p1", Quantity: 1})
	require.NoError(t, err)
	_, err = svc.ApplyCoupon(ctx, "s1", "SAVE10")
	require.NoError(t, err)

	v.applied, v.err = nil, apperr.Validation("Minimum purchase of $50 required")
	_, err = svc.ApplyCoupon(ctx, "s1", "BIG50")
	require.Error(t, err)
	assert.Equal(t, "Minimum purchase of $50 required", apperr.MessageOf(err, ""))

	view, err := svc.Get(ctx, "s1")
	require.NoError(t, err)
	assert.Nil(t, view.Coupon)
	assert.True(t, decimal.Zero.Equal(view.Summary.DiscountAmount))
	assert.Equal(t, 1, view.Summary.TotalItems, "cart unaffected")
}

func TestService_ApplyCoupon_NetworkErrorKeepsSelection(t *testing.T) {
	v := &mockValidator{
		applied: &coupon.Applied{Code: "SAVE10", DiscountPercentage: decimal.NewFromInt(10)},
	}
	svc, _ := newTestService(t, v, newTestProduct("p1", "100", 10))
	ctx := context.Background()

	_, err := svc.Add(ctx, "s1", AddRequest{ProductID: "p1", Quantity: 1})
	require.NoError(t, err)
	_, err = svc.ApplyCoupon(ctx, "s1", "SAVE10")
	require.NoError(t, err)

	v.applied, v.err = nil, apperr.Network(errors.New("connection refused"))
	_, err = svc.ApplyCoupon(ctx, "s1", "OTHER")
	require.True(t, apperr.Is(err, apperr.KindNetwork))

	view, err := svc.Get(ctx, "s1")
	require.NoError(t, err)
	require.NotNil(t, view.Coupon)
	assert.Equal(t, "SAVE10", view.Coupon.Code)
}

func TestService_ApplyCoupon_BackendAnswers(t *testing.T) {
	tests := []struct {
		name     string
		err      error
		wantKept bool
		wantKind apperr.Kind
	}{
		{name: "unknown code", err: apperr.NotFound("Invalid coupon code"), wantKind: apperr.KindNotFound},
		{name: "unauthorized", err: apperr.Auth("Not authorized"), wantKind: apperr.KindAuth},
		{name: "business rule", err: apperr.Validation("Coupon expired"), wantKind: apperr.KindValidation},
		{name: "server error", err: apperr.Upstream(502, errors.New("backend status 502")), wantKind: apperr.KindNetwork},
		{name: "unreachable", err: apperr.Network(errors.New("dial tcp: connection refused")), wantKept: true, wantKind: apperr.KindNetwork},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			v := &mockValidator{
				applied: &coupon.Applied{Code: "SAVE10", DiscountPercentage: decimal.NewFromInt(10)},
			}
			svc, _ := newTestService(t, v, newTestProduct("p1", "100", 10))
			ctx := context.Background()

			_, err := svc.Add(ctx, "s1", AddRequest{ProductID: "p1", Quantity: 2})
			require.NoError(t, err)
			view, err := svc.ApplyCoupon(ctx, "s1", "SAVE10")
			require.NoError(t, err)
			require.True(t, decimal.NewFromInt(20).Equal(view.Summary.DiscountAmount))

			v.applied, v.err = nil, tt.err
			_, err = svc.ApplyCoupon(ctx, "s1", "OTHER")
			require.Error(t, err)
			assert.True(t, apperr.Is(err, tt.wantKind))

			view, err = svc.Get(ctx, "s1")
			require.NoError(t, err)
			assert.Equal(t, 2, view.Summary.TotalItems, "cart unaffected")
			if tt.wantKept {
				require.NotNil(t, view.Coupon)
				assert.Equal(t, "SAVE10", view.Coupon.Code)
				assert.True(t, decimal.NewFromInt(20).Equal(view.Summary.DiscountAmount))
				return
			}
			assert.Nil(t, view.Coupon)
			assert.True(t, decimal.Zero.Equal(view.Summary.DiscountAmount))
		})
	}
}

func TestService_ApplyCoupon_CanceledKeepsSelection(t *testing.T) {
	v := &mockValidator{
		applied: &coupon.Applied{Code: "SAVE10", DiscountPercentage: decimal.NewFromInt(10)},
	}
	svc, _ := newTestService(t, v, newTestProduct("p1", "100", 10))
	ctx := context.Background()

	_, err := svc.Add(ctx, "s1", AddRequest{ProductID: "p1", Quantity: 1})
	require.NoError(t, err)
	_, err = svc.ApplyCoupon(ctx, "s1", "SAVE10")
	require.NoError(t, err)

	v.applied, v.err = nil, errors.Wrap(context.Canceled, "send request")
	_, err = svc.ApplyCoupon(ctx, "s1", "OTHER")
	require.ErrorIs(t, err, context.Canceled)

	view, err := svc.Get(ctx, "s1")
	require.NoError(t, err)
	require.NotNil(t, view.Coupon)
	assert.Equal(t, "SAVE10", view.Coupon.Code)
}

func TestService_ApplyCoupon_EmptyCode(t *testing.T) {
	v := &mockValidator{}
	svc, _ := newTestService(t, v)

	_, err := svc.ApplyCoupon(context.Background(), "s1", "  ")
	require.ErrorIs(t, err, ErrEmptyCouponCode)
	assert.Empty(t, v.lastCode, "validator must not be called")
}

func TestService_ClearDropsCoupon(t *testing.T) {
	v := &mockValidator{
		applied: &coupon.Applied{Code: "SAVE10", DiscountPercentage: decimal.NewFromInt(10)},
	}
	svc, repo := newTestService(t, v, newTestProduct("p1", "100", 10))
	ctx := context.Background()

	_, err := svc.Add(ctx, "s1", AddRequest{ProductID: "p1", Quantity: 1})
	require.NoError(t, err)
	_, err = svc.ApplyCoupon(ctx, "s1", "SAVE10")
	require.NoError(t, err)

	require.NoError(t, svc.Clear(ctx, "s1"))

	view, err := svc.Get(ctx, "s1")
	require.NoError(t, err)
	assert.True(t, view.Cart.IsEmpty())
	assert.Nil(t, view.Coupon)
	assert.NotContains(t, repo.carts, "s1")
}

func TestService_QuoteIgnoresCoupon(t *testing.T) {
	v := &mockValidator{
		applied: &coupon.Applied{Code: "SAVE10", DiscountPercentage: decimal.NewFromInt(10)},
	}
	svc, _ := newTestService(t, v, newTestProduct("p1", "300", 10))
	ctx := context.Background()

	_, err := svc.Add(ctx, "s1", AddRequest{ProductID: "p1", Quantity: 2})
	require.NoError(t, err)
	_, err = svc.ApplyCoupon(ctx, "s1", "SAVE10")
	require.NoError(t, err)

	_, q, err := svc.Quote(ctx, "s1")
	require.NoError(t, err)
	assert.True(t, decimal.NewFromInt(600).Equal(q.ItemsPrice))
	assert.True(t, decimal.Zero.Equal(q.ShippingPrice))
	assert.True(t, decimal.NewFromInt(630).Equal(q.TotalPrice))
}

func TestService_ConcurrentAddsSameSession(t *testing.T) {
	svc, repo := newTestService(t, &mockValidator{}, newTestProduct("p1", "1", 1000))
	ctx := context.Background()

	var wg sync.WaitGroup
	for range 50 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, _ = svc.Add(ctx, "s1", AddRequest{ProductID: "p1", Quantity: 1})
		}()
	}
	wg.Wait()

	assert.Equal(t, 50, repo.carts["s1"].Lines[0].Quantity)
	assert.Empty(t, svc.locks.locks)
}

func TestService_AddValidatesVariant(t *testing.T) {
	p := newTestProduct("p1", "25", 5)
	p.Colors = []string{"red", "blue"}
	p.Sizes = []string{"M", "L"}
	plain := newTestProduct("p2", "10", 5)
	svc, _ := newTestService(t, &mockValidator{}, p, plain)
	ctx := context.Background()

	tests := []struct {
		name    string
		req     AddRequest
		wantErr bool
	}{
		{name: "available variant", req: AddRequest{ProductID: "p1", Quantity: 1, Color: "red", Size: "M"}},
		{name: "missing size", req: AddRequest{ProductID: "p1", Quantity: 1, Color: "red"}, wantErr: true},
		{name: "unknown color", req: AddRequest{ProductID: "p1", Quantity: 1, Color: "green", Size: "M"}, wantErr: true},
		{name: "plain product", req: AddRequest{ProductID: "p2", Quantity: 1}},
		{name: "variant on plain product", req: AddRequest{ProductID: "p2", Quantity: 1, Size: "XL"}, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := svc.Add(ctx, "s1", tt.req)
			if tt.wantErr {
				require.ErrorIs(t, err, ErrInvalidVariant)
				return
			}
			require.NoError(t, err)
		})
	}
}

func TestService_CouponRetention(t *testing.T) {
	v := &mockValidator{
		applied: &coupon.Applied{Code: "SAVE10", DiscountPercentage: decimal.NewFromInt(10)},
	}
	repo := newMemRepo()
	catalog := &mockCatalog{byID: map[string]product.Product{"p1": newTestProduct("p1", "100", 10)}}
	svc, err := NewService(repo, catalog, v, pricing.DefaultPolicy(), noop.NewMeterProvider().Meter("test"),
		WithCouponRetention(2, time.Hour))
	require.NoError(t, err)
	clock := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	svc.applied.now = func() time.Time {
		clock = clock.Add(time.Second)
		return clock
	}
	ctx := context.Background()

	for _, id := range []string{"s1", "s2", "s3"} {
		_, err := svc.ApplyCoupon(ctx, id, "SAVE10")
		require.NoError(t, err)
	}

	assert.Equal(t, 2, svc.applied.len())
	view, err := svc.Get(ctx, "s1")
	require.NoError(t, err)
	assert.Nil(t, view.Coupon, "oldest selection evicted")
	view, err = svc.Get(ctx, "s3")
	require.NoError(t, err)
	assert.NotNil(t, view.Coupon)
}

func TestService_Checkout(t *testing.T) {
	v := &mockValidator{
		applied: &coupon.Applied{Code: "SAVE10", DiscountPercentage: decimal.NewFromInt(10)},
	}
	svc, repo := newTestService(t, v, newTestProduct("p1", "300", 10))
	ctx := context.Background()

	_, err := svc.Add(ctx, "s1", AddRequest{ProductID: "p1", Quantity: 2})
	require.NoError(t, err)
	_, err = svc.ApplyCoupon(ctx, "s1", "SAVE10")
	require.NoError(t, err)

	var placed pricing.CheckoutQuote
	err = svc.Checkout(ctx, "s1", func(c *Cart, q pricing.CheckoutQuote) error {
		assert.Equal(t, 2, c.TotalItems())
		placed = q
		return nil
	})
	require.NoError(t, err)

	assert.True(t, decimal.NewFromInt(630).Equal(placed.TotalPrice))
	assert.NotContains(t, repo.carts, "s1")
	view, err := svc.Get(ctx, "s1")
	require.NoError(t, err)
	assert.Nil(t, view.Coupon)
}

func TestService_CheckoutFailureKeepsCart(t *testing.T) {
	svc, repo := newTestService(t, &mockValidator{}, newTestProduct("p1", "10", 10))
	ctx := context.Background()

	_, err := svc.Add(ctx, "s1", AddRequest{ProductID: "p1", Quantity: 1})
	require.NoError(t, err)

	placeErr := errors.New("out of stock")
	err = svc.Checkout(ctx, "s1", func(*Cart, pricing.CheckoutQuote) error { return placeErr })
	require.ErrorIs(t, err, placeErr)
	assert.Equal(t, 1, repo.carts["s1"].Lines[0].Quantity)
}

func TestService_CheckoutDeleteFailure(t *testing.T) {
	svc, repo := newTestService(t, &mockValidator{}, newTestProduct("p1", "10", 10))
	ctx := context.Background()

	_, err := svc.Add(ctx, "s1", AddRequest{ProductID: "p1", Quantity: 1})
	require.NoError(t, err)
	repo.deleteErr = errors.New("redis down")

	err = svc.Checkout(ctx, "s1", func(*Cart, pricing.CheckoutQuote) error { return nil })
	var clearErr *ClearError
	require.ErrorAs(t, err, &clearErr)
	assert.EqualError(t, clearErr.Err, "redis down")
}

func TestService_CheckoutBlocksConcurrentAdd(t *testing.T) {
	svc, repo := newTestService(t, &mockValidator{}, newTestProduct("p1", "10", 10), newTestProduct("p2", "5", 10))
	ctx := context.Background()

	_, err := svc.Add(ctx, "s1", AddRequest{ProductID: "p1", Quantity: 2})
	require.NoError(t, err)

	var wg sync.WaitGroup
	err = svc.Checkout(ctx, "s1", func(c *Cart, _ pricing.CheckoutQuote) error {
		wg.Go(func() {
			_, err := svc.Add(ctx, "s1", AddRequest{ProductID: "p2", Quantity: 1})
			assert.NoError(t, err)
		})
		// Give the add time to reach the session lock while the order is
		// being placed.
		time.Sleep(20 * time.Millisecond)
		assert.Len(t, c.Lines, 1)
		return nil
	})
	require.NoError(t, err)
	wg.Wait()

	stored := repo.carts["s1"]
	require.Len(t, stored.Lines, 1, "item added during checkout is kept")
	assert.Equal(t, "p2", stored.Lines[0].ProductID)
	assert.Equal(t, 1, stored.Lines[0].Quantity)
}

func TestService_Move(t *testing.T) {
	v := &mockValidator{
		applied: &coupon.Applied{Code: "SAVE10", DiscountPercentage: decimal.NewFromInt(10)},
	}
	svc, repo := newTestService(t, v, newTestProduct("p1", "100", 10))
	ctx := context.Background()

	_, err := svc.Add(ctx, "anon", AddRequest{ProductID: "p1", Quantity: 2})
	require.NoError(t, err)
	_, err = svc.ApplyCoupon(ctx, "anon", "SAVE10")
	require.NoError(t, err)

	require.NoError(t, svc.Move(ctx, "anon", "signed"))

	assert.NotContains(t, repo.carts, "anon")
	view, err := svc.Get(ctx, "signed")
	require.NoError(t, err)
	assert.Equal(t, 2, view.Summary.TotalItems)
	require.NotNil(t, view.Coupon)
	assert.Equal(t, "SAVE10", view.Coupon.Code)

	old, err := svc.Get(ctx, "anon")
	require.NoError(t, err)
	assert.True(t, old.Cart.IsEmpty())
	assert.Nil(t, old.Coupon)
	assert.Empty(t, svc.locks.locks)
}

func TestService_MoveEmptyAndSame(t *testing.T) {
	svc, repo := newTestService(t, &mockValidator{}, newTestProduct("p1", "100", 10))
	ctx := context.Background()

	_, err := svc.Add(ctx, "s1", AddRequest{ProductID: "p1", Quantity: 1})
	require.NoError(t, err)

	require.NoError(t, svc.Move(ctx, "s1", "s1"))
	assert.Contains(t, repo.carts, "s1")

	require.NoError(t, svc.Move(ctx, "empty", "s1"))
	assert.Equal(t, 1, repo.carts["s1"].Lines[0].Quantity, "empty source leaves target alone")
}
