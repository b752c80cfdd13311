// Command seed-coupons creates the coupons listed in a JSON file on the
// backend, signing in with an admin account. Coupons whose code already
// exists are left untouched.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"log/slog"
	"os"
	"os/signal"
	"time"

	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"

	"github.com/xenking/storefront-gateway/internal/backend"
	"github.com/xenking/storefront-gateway/internal/domain/coupon"
	"github.com/xenking/storefront-gateway/internal/domain/session"
)

type couponJSON struct {
	Code               string           `json:"code"`
	Description        string           `json:"description"`
	DiscountPercentage decimal.Decimal  `json:"discountPercentage"`
	MinPurchaseAmount  decimal.Decimal  `json:"minPurchaseAmount"`
	MaxPurchaseAmount  *decimal.Decimal `json:"maxPurchaseAmount"`
	ExpirationDate     time.Time        `json:"expirationDate"`
}

func main() {
	var (
		backendURL  string
		couponsFile string
		email       string
		password    string
	)

	flag.StringVar(&backendURL, "backend-url", "", "backend base URL (or BACKEND_URL env)")
	flag.StringVar(&couponsFile, "coupons-file", "db/seed/coupons.json", "path to coupons JSON file")
	flag.StringVar(&email, "admin-email", "", "admin account email (or STOREFRONT_SEED_ADMIN_EMAIL env)")
	flag.StringVar(&password, "admin-password", "", "admin account password (or STOREFRONT_SEED_ADMIN_PASSWORD env)")
	flag.Parse()

	if backendURL == "" {
		backendURL = os.Getenv("BACKEND_URL")
	}
	if email == "" {
		email = os.Getenv("STOREFRONT_SEED_ADMIN_EMAIL")
	}
	if password == "" {
		password = os.Getenv("STOREFRONT_SEED_ADMIN_PASSWORD")
	}
	if backendURL == "" {
		slog.Error("backend URL is required: set --backend-url or BACKEND_URL")
		os.Exit(1)
	}
	if email == "" || password == "" {
		slog.Error("admin credentials are required: set --admin-email and --admin-password")
		os.Exit(1)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt)
	defer cancel()

	if err := run(ctx, backendURL, couponsFile, email, password); err != nil {
		slog.Error("seed failed", slog.String("error", err.Error()))
		os.Exit(1)
	}

	slog.Info("seed completed successfully")
}

func run(ctx context.Context, backendURL, couponsFile, email, password string) error {
	coupons, err := readCoupons(couponsFile)
	if err != nil {
		return err
	}

	client, err := backend.New(backend.Options{BaseURL: backendURL})
	if err != nil {
		return errors.Wrap(err, "create backend client")
	}

	slog.Info("signing in", slog.String("email", email))

	token, profile, err := client.Users().Login(ctx, email, password)
	if err != nil {
		return errors.Wrap(err, "sign in")
	}
	if profile.Role != session.RoleAdmin {
		return errors.Errorf("user %s has role %q, coupons need %q", email, profile.Role, session.RoleAdmin)
	}

	return seedCoupons(backend.WithToken(ctx, token), client.Coupons(), coupons)
}

func readCoupons(path string) ([]coupon.Coupon, error) {
	slog.Info("reading coupons file", slog.String("path", path))

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrap(err, "read coupons file")
	}

	var raw []couponJSON
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, errors.Wrap(err, "parse coupons JSON")
	}

	out := make([]coupon.Coupon, 0, len(raw))
	for i, c := range raw {
		cp, err := coupon.NewCoupon(coupon.Coupon{
			Code:               c.Code,
			Description:        c.Description,
			DiscountPercentage: c.DiscountPercentage,
			MinPurchaseAmount:  c.MinPurchaseAmount,
			MaxPurchaseAmount:  c.MaxPurchaseAmount,
			ExpirationDate:     c.ExpirationDate,
		})
		if err != nil {
			return nil, errors.Wrapf(err, "coupon #%d (%q)", i, c.Code)
		}
		out = append(out, cp)
	}
	return out, nil
}

func seedCoupons(ctx context.Context, m coupon.Manager, coupons []coupon.Coupon) error {
	existing, err := m.List(ctx)
	if err != nil {
		return errors.Wrap(err, "list coupons")
	}
	known := make(map[string]struct{}, len(existing))
	for _, c := range existing {
		known[coupon.NormalizeCode(c.Code)] = struct{}{}
	}

	slog.Info("seeding coupons", slog.Int("count", len(coupons)), slog.Int("existing", len(existing)))

	for _, c := range coupons {
		if _, ok := known[c.Code]; ok {
			slog.Info("coupon exists, skipping", slog.String("code", c.Code))
			continue
		}
		created, err := m.Create(ctx, c)
		if err != nil {
			return errors.Wrapf(err, "create coupon %s", c.Code)
		}
		known[c.Code] = struct{}{}

		slog.Info("created coupon", slog.String("id", created.ID), slog.String("code", created.Code))
	}

	return nil
}
