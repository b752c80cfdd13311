package app

import (
	"context"
	"net/http"
	"time"

	"github.com/go-faster/errors"
	"github.com/go-faster/sdk/app"
	"github.com/go-faster/sdk/zctx"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/xenking/storefront-gateway/internal/backend"
	"github.com/xenking/storefront-gateway/internal/domain/cart"
	"github.com/xenking/storefront-gateway/internal/domain/checkout"
	"github.com/xenking/storefront-gateway/internal/domain/order"
	"github.com/xenking/storefront-gateway/internal/domain/session"
	"github.com/xenking/storefront-gateway/internal/domain/support"
	"github.com/xenking/storefront-gateway/internal/handler"
	"github.com/xenking/storefront-gateway/internal/storage/postgres"
	"github.com/xenking/storefront-gateway/internal/storage/redisstore"
	"github.com/xenking/storefront-gateway/pkg/health"
	"github.com/xenking/storefront-gateway/pkg/httpmiddleware"
)

const serviceName = "storefront-api"

// Run wires storage, the backend client and the domain services behind the
// gateway's HTTP server and blocks until ctx is cancelled and the server has
// drained.
func Run(ctx context.Context, lg *zap.Logger, m *app.Telemetry, cfg *Config) error {
	lg.Info("Initializing",
		zap.String("addr", cfg.Addr),
		zap.String("backend", cfg.Backend.URL),
		zap.String("cart_backend", cfg.Storage.CartBackend),
	)
	meter := m.MeterProvider().Meter(serviceName)

	policy, err := cfg.Pricing.Policy()
	if err != nil {
		return errors.Wrap(err, "pricing policy")
	}

	// Redis: sessions always, carts optionally.
	rdb, err := redisstore.Open(ctx, cfg.Storage.RedisURL)
	if err != nil {
		return errors.Wrap(err, "connect redis")
	}
	defer func() { _ = rdb.Close() }()
	sessionStore := redisstore.NewSessionStore(rdb, cfg.Session.TTL)

	healthSvc := health.New()
	healthSvc.AddLivenessCheck("goroutines", time.Second, health.GoroutineCountCheck(10000))
	healthSvc.AddReadinessCheck("redis", 5*time.Second, health.PingCheck(sessionStore))
	healthSvc.AddReadinessCheck("backend", 5*time.Second,
		health.HTTPReachableCheck(&http.Client{Timeout: 5 * time.Second}, cfg.Backend.URL))

	var (
		carts     cart.Repository
		cartsRepo *postgres.CartRepository
	)
	switch cfg.Storage.CartBackend {
	case CartBackendPostgres:
		pool, err := postgres.NewPool(ctx, cfg.Storage.DatabaseURL)
		if err != nil {
			return errors.Wrap(err, "create db pool")
		}
		defer pool.Close()
		if err := postgres.RunMigrations(ctx, pool); err != nil {
			return errors.Wrap(err, "run migrations")
		}
		cartsRepo = postgres.NewCartRepository(pool)
		carts = cartsRepo
		healthSvc.AddReadinessCheck("postgres", 5*time.Second, health.PingCheck(cartsRepo))
	default:
		carts = redisstore.NewCartStore(rdb, cfg.Storage.CartTTL)
	}

	// Backend client.
	client, err := backend.New(backend.Options{
		BaseURL:        cfg.Backend.URL,
		Timeout:        cfg.Backend.Timeout,
		Logger:         lg.Named("backend"),
		TracerProvider: m.TracerProvider(),
		MeterProvider:  m.MeterProvider(),
	})
	if err != nil {
		return errors.Wrap(err, "create backend client")
	}
	coupons := client.Coupons()
	orders := client.Orders()

	// Domain services.
	sessions := session.NewService(sessionStore)
	cartService, err := cart.NewService(carts, client.Catalog(), coupons, policy, meter,
		cart.WithCouponRetention(cfg.Session.CouponSelections, cfg.Session.TTL))
	if err != nil {
		return errors.Wrap(err, "create cart service")
	}
	checkoutService, err := checkout.NewService(cartService, orders, client.Payments(), meter)
	if err != nil {
		return errors.Wrap(err, "create checkout service")
	}
	orderService, err := order.NewService(orders, order.NewTracker(cfg.Orders.TrackerLimit), meter)
	if err != nil {
		return errors.Wrap(err, "create order service")
	}
	hub, err := support.NewHub(cfg.Support.Buffer, meter)
	if err != nil {
		return errors.Wrap(err, "create support hub")
	}

	h := handler.NewHandler(
		handler.HandlerConfig{
			CookieName:   cfg.Session.CookieName,
			CookieSecure: cfg.Session.CookieSecure,
			SessionTTL:   cfg.Session.TTL,
			WSOrigins:    cfg.Support.Origins,
		},
		sessions,
		client.Users(),
		cartService,
		coupons,
		checkoutService,
		orderService,
		hub,
	)

	var (
		limiter       httpmiddleware.Limiter
		memoryLimiter *httpmiddleware.MemoryLimiter
	)
	switch cfg.RateLimit.Store {
	case RateLimitMemory:
		memoryLimiter = httpmiddleware.NewMemoryLimiter(cfg.RateLimit.Max, cfg.RateLimit.Window)
		limiter = memoryLimiter
	default:
		limiter = redisstore.NewRateLimiter(rdb, cfg.RateLimit.Max, cfg.RateLimit.Window)
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/livez", healthSvc.LiveEndpoint)
	mux.HandleFunc("/readyz", healthSvc.ReadyEndpoint)
	h.Register(mux)

	server := &http.Server{
		ReadHeaderTimeout: time.Second,
		ReadTimeout:       5 * time.Second,
		WriteTimeout:      cfg.Backend.Timeout + 5*time.Second,
		IdleTimeout:       120 * time.Second,
		MaxHeaderBytes:    1 << 20,
		Addr:              cfg.Addr,
		Handler: httpmiddleware.Wrap(mux,
			httpmiddleware.RequestID(),
			httpmiddleware.InjectLogger(zctx.From(ctx)),
			httpmiddleware.Recovery(),
			httpmiddleware.CORS(httpmiddleware.CORSConfig{
				Origins:     cfg.CORS.Origins,
				Headers:     []string{"Content-Type", "X-Request-ID"},
				Expose:      []string{"X-Request-ID", "Retry-After"},
				Credentials: cfg.CORS.AllowCredentials,
				MaxAge:      cfg.CORS.MaxAge,
			}),
			httpmiddleware.RateLimit(httpmiddleware.RateLimitConfig{
				Limiter: limiter,
				KeyFunc: httpmiddleware.CookieKey(h.CookieName()),
			}),
			httpmiddleware.Instrument(serviceName, m),
			httpmiddleware.LogRequests(),
			httpmiddleware.Gzip(0),
		),
	}

	g, gCtx := errgroup.WithContext(ctx)
	healthSvc.Start(ctx, 10*time.Second)
	healthSvc.SetReady(true)

	g.Go(func() error {
		lg.Info("Server listening", zap.String("addr", cfg.Addr))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return errors.Wrap(err, "server")
		}
		return nil
	})
	if memoryLimiter != nil {
		g.Go(func() error { return memoryLimiter.Run(gCtx) })
	}
	if cartsRepo != nil {
		g.Go(func() error {
			pruneCarts(gCtx, lg, cartsRepo, cfg.Storage.CartTTL, cfg.Storage.PruneEvery)
			return nil
		})
	}
	// Graceful shutdown: wait for context cancellation, drain, then stop.
	g.Go(func() error {
		<-gCtx.Done()
		healthSvc.SetReady(false)
		lg.Info("Readiness set to false, draining", zap.Duration("delay", cfg.Graceful.ReadinessDelay))
		time.Sleep(cfg.Graceful.ReadinessDelay)

		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Graceful.ShutdownTimeout)
		defer cancel()

		// Hijacked support sockets are not tracked by Shutdown.
		hub.Close()
		lg.Info("Shutting down server", zap.Duration("timeout", cfg.Graceful.ShutdownTimeout))
		if err := server.Shutdown(shutdownCtx); err != nil {
			lg.Error("Server shutdown error", zap.Error(err))
		}
		healthSvc.Stop()
		return nil
	})
	return g.Wait()
}

// pruneCarts deletes postgres carts idle for longer than ttl until ctx is
// done. Redis expires carts on its own.
func pruneCarts(ctx context.Context, lg *zap.Logger, repo *postgres.CartRepository, ttl, every time.Duration) {
	if every <= 0 {
		every = time.Hour
	}
	ticker := time.NewTicker(every)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			n, err := repo.Prune(ctx, now.Add(-ttl))
			if err != nil {
				lg.Warn("Prune carts failed", zap.Error(err))
				continue
			}
			if n > 0 {
				lg.Info("Pruned idle carts", zap.Int64("rows", n))
			}
		}
	}
}
