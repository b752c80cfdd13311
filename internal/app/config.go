package app

import (
	"os"
	"time"

	"github.com/cristalhq/aconfig"
	"github.com/cristalhq/aconfig/aconfigyaml"
	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"

	"github.com/xenking/storefront-gateway/internal/domain/pricing"
)

// Cart storage backends.
const (
	CartBackendPostgres = "postgres"
	CartBackendRedis    = "redis"
)

// Config holds the complete application configuration, loadable from
// environment variables (STOREFRONT_ prefix), flags, or YAML config files.
type Config struct {
	Addr      string `default:"0.0.0.0:8080" usage:"API server listen address"`
	Backend   BackendConfig
	Storage   StorageConfig
	Session   SessionConfig
	Pricing   PricingConfig
	Support   SupportConfig
	Orders    OrdersConfig
	RateLimit RateLimitConfig
	CORS      CORSConfig
	Graceful  GracefulConfig
}

// BackendConfig points at the remote commerce backend.
type BackendConfig struct {
	URL     string        `usage:"Commerce backend base URL (STOREFRONT_BACKEND_URL or BACKEND_URL)" flag:"backend-url"`
	Timeout time.Duration `default:"10s" usage:"Timeout of a single backend call" flag:"backend-timeout"`
}

// StorageConfig selects where carts and sessions live.
type StorageConfig struct {
	CartBackend string        `default:"postgres" usage:"Cart storage: postgres or redis" flag:"cart-backend"`
	DatabaseURL string        `usage:"PostgreSQL connection URL (STOREFRONT_STORAGE_DATABASE_URL or DATABASE_URL)" flag:"database-url"`
	RedisURL    string        `usage:"Redis URL (STOREFRONT_STORAGE_REDIS_URL or REDIS_URL)" flag:"redis-url"`
	CartTTL     time.Duration `default:"720h" usage:"Idle lifetime of a stored cart" flag:"cart-ttl"`
	PruneEvery  time.Duration `default:"1h" usage:"How often expired postgres carts are pruned" flag:"prune-every"`
}

// SessionConfig controls the session cookie.
type SessionConfig struct {
	TTL              time.Duration `default:"720h" usage:"Session lifetime" flag:"session-ttl"`
	CookieName       string        `default:"storefront_session" usage:"Session cookie name" flag:"cookie-name"`
	CookieSecure     bool          `default:"false" usage:"Mark the session cookie Secure" flag:"cookie-secure"`
	CouponSelections int           `default:"100000" usage:"Sessions whose coupon selection is kept in memory" flag:"coupon-selections"`
}

// PricingConfig is the checkout shipping and tax policy.
type PricingConfig struct {
	FreeShippingOver string `default:"500" usage:"Subtotal above which shipping is free"`
	FlatShipping     string `default:"60" usage:"Flat shipping charge"`
	TaxRate          string `default:"0.05" usage:"Tax rate applied to the subtotal"`
}

// Policy parses the configured amounts.
func (p PricingConfig) Policy() (pricing.Policy, error) {
	var (
		out pricing.Policy
		err error
	)
	if out.FreeShippingOver, err = decimal.NewFromString(p.FreeShippingOver); err != nil {
		return pricing.Policy{}, errors.Wrap(err, "free shipping threshold")
	}
	if out.FlatShipping, err = decimal.NewFromString(p.FlatShipping); err != nil {
		return pricing.Policy{}, errors.Wrap(err, "flat shipping")
	}
	if out.TaxRate, err = decimal.NewFromString(p.TaxRate); err != nil {
		return pricing.Policy{}, errors.Wrap(err, "tax rate")
	}
	if out.FreeShippingOver.IsNegative() || out.FlatShipping.IsNegative() || out.TaxRate.IsNegative() {
		return pricing.Policy{}, errors.New("pricing amounts must not be negative")
	}
	return out, nil
}

// SupportConfig controls the support chat relay.
type SupportConfig struct {
	Buffer  int      `default:"64" usage:"Events buffered per chat subscriber"`
	Origins []string `usage:"Origin patterns accepted for the support WebSocket"`
}

// OrdersConfig controls the order tracker.
type OrdersConfig struct {
	TrackerLimit int `default:"10000" usage:"Orders kept in the status tracker"`
}

// Rate limiter stores.
const (
	RateLimitMemory = "memory"
	RateLimitRedis  = "redis"
)

// RateLimitConfig controls the per-session sliding window rate limiter.
type RateLimitConfig struct {
	Max    int           `default:"100" usage:"Max requests per window"`
	Window time.Duration `default:"1m"  usage:"Rate limit window duration"`
	Store  string        `default:"redis" usage:"Counter store: memory (per replica) or redis (shared)" flag:"rate-limit-store"`
}

// CORSConfig controls Cross-Origin Resource Sharing headers.
type CORSConfig struct {
	Origins          []string      `default:"*" usage:"Allowed CORS origin patterns"`
	AllowCredentials bool          `default:"false" usage:"Allow credentials (the session cookie)" flag:"cors-credentials"`
	MaxAge           time.Duration `default:"10m" usage:"How long browsers may cache preflight results" flag:"cors-max-age"`
}

// GracefulConfig controls graceful shutdown timing.
type GracefulConfig struct {
	ReadinessDelay  time.Duration `default:"3s"  usage:"Delay after readiness=false before shutdown" flag:"readiness-delay"`
	ShutdownTimeout time.Duration `default:"15s" usage:"Maximum shutdown duration" flag:"shutdown-timeout"`
}

// LoadConfig loads configuration from environment variables, YAML config files,
// and applies platform-specific defaults.
func LoadConfig() (*Config, error) {
	var cfg Config
	loader := aconfig.LoaderFor(&cfg, aconfig.Config{
		EnvPrefix: "STOREFRONT",
		Files:     []string{"config.yaml", "/etc/storefront/config.yaml"},
		FileDecoders: map[string]aconfig.FileDecoder{
			".yaml": aconfigyaml.New(),
		},
	})
	if err := loader.Load(); err != nil {
		return nil, errors.Wrap(err, "load config")
	}
	cfg.applyPlatformDefaults()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate reports missing or inconsistent settings.
func (c *Config) Validate() error {
	if c.Backend.URL == "" {
		return errors.New("backend URL is required: set STOREFRONT_BACKEND_URL or BACKEND_URL")
	}
	if c.Storage.RedisURL == "" {
		return errors.New("redis URL is required: set STOREFRONT_STORAGE_REDIS_URL or REDIS_URL")
	}
	switch c.Storage.CartBackend {
	case CartBackendPostgres:
		if c.Storage.DatabaseURL == "" {
			return errors.New("database URL is required for postgres carts: set STOREFRONT_STORAGE_DATABASE_URL or DATABASE_URL")
		}
	case CartBackendRedis:
	default:
		return errors.Errorf("unknown cart backend %q", c.Storage.CartBackend)
	}
	switch c.RateLimit.Store {
	case RateLimitMemory, RateLimitRedis:
	default:
		return errors.Errorf("unknown rate limit store %q", c.RateLimit.Store)
	}
	if c.RateLimit.Max < 1 || c.RateLimit.Window <= 0 {
		return errors.New("rate limit max and window must be positive")
	}
	if _, err := c.Pricing.Policy(); err != nil {
		return errors.Wrap(err, "pricing")
	}
	return nil
}

// applyPlatformDefaults maps platform-provided environment variables (Railway,
// Render, etc.) that use standard names like DATABASE_URL and PORT to the
// application's STOREFRONT_-prefixed configuration.
func (c *Config) applyPlatformDefaults() {
	if c.Storage.DatabaseURL == "" {
		c.Storage.DatabaseURL = os.Getenv("DATABASE_URL")
	}
	if c.Storage.RedisURL == "" {
		c.Storage.RedisURL = os.Getenv("REDIS_URL")
	}
	if c.Backend.URL == "" {
		c.Backend.URL = os.Getenv("BACKEND_URL")
	}
	if port := os.Getenv("PORT"); port != "" && c.Addr == "0.0.0.0:8080" {
		c.Addr = "0.0.0.0:" + port
	}
}
