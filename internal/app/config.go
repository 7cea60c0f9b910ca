package app

import (
	"os"
	"strings"
	"time"

	"github.com/cristalhq/aconfig"
	"github.com/cristalhq/aconfig/aconfigyaml"
	"github.com/go-faster/errors"
	"github.com/joho/godotenv"
	"github.com/shopspring/decimal"

	"github.com/xenking/smartpick/internal/domain/pricing"
	"github.com/xenking/smartpick/internal/storage/breaker"
)

// Order store backends.
const (
	BackendPostgres = "postgres"
	BackendMongo    = "mongo"
	BackendMemory   = "memory"
	BackendRedis    = "redis"
)

// Config holds the complete application configuration, loadable from
// environment variables (KART_ prefix), flags, or YAML config files.
type Config struct {
	Addr         string `default:"0.0.0.0:8080" usage:"API server listen address"`
	DatabaseURL  string `usage:"PostgreSQL connection URL (KART_DATABASE_URL or DATABASE_URL)" flag:"database-url"`
	ImageBaseURL string `default:"" usage:"Base URL for product images (e.g. https://cdn.example.com/images)" flag:"image-base-url"`
	APIKeyPepper string `usage:"HMAC pepper for API key hashing (KART_API_KEY_PEPPER)" flag:"api-key-pepper"`
	Storage      StorageConfig
	Redis        RedisConfig
	Mongo        MongoConfig
	Kafka        KafkaConfig
	JWT          JWTConfig
	Pricing      PricingConfig
	Checkout     CheckoutConfig
	Breaker      BreakerConfig
	RateLimit    RateLimitConfig
	CORS         CORSConfig
	Graceful     GracefulConfig
}

// StorageConfig selects the backends.
type StorageConfig struct {
	Orders    string        `default:"postgres" usage:"Order store: postgres, mongo or memory"`
	Carts     string        `default:"redis" usage:"Cart store: redis or memory"`
	CartQuota int           `default:"0" usage:"Byte quota of the in-memory cart store, 0 for none" flag:"cart-quota"`
	CartIdle  time.Duration `default:"1h" usage:"Unused carts are dropped from process memory after this" flag:"cart-idle"`
}

// RedisConfig configures the cart store and the shared rate limiter.
type RedisConfig struct {
	URL     string        `default:"redis://localhost:6379/0" usage:"Redis URL (KART_REDIS_URL or REDIS_URL)"`
	Prefix  string        `default:"smartpick:" usage:"Key prefix"`
	CartTTL time.Duration `default:"720h" usage:"Idle cart expiry" flag:"cart-ttl"`
}

// MongoConfig configures the MongoDB order store.
type MongoConfig struct {
	URI      string `default:"mongodb://localhost:27017" usage:"MongoDB connection URI"`
	Database string `default:"smartpick" usage:"MongoDB database name"`
}

// KafkaConfig configures order event publishing. No brokers disables it.
type KafkaConfig struct {
	Brokers []string `usage:"Kafka bootstrap brokers"`
	Topic   string   `default:"smartpick.orders" usage:"Order events topic"`
}

// JWTConfig configures shopper bearer tokens.
type JWTConfig struct {
	Secret string        `usage:"HS256 signing secret (KART_JWT_SECRET)"`
	TTL    time.Duration `default:"24h" usage:"Issued token lifetime"`
}

// PricingConfig overrides pricing.DefaultRules. Amounts are decimal strings.
type PricingConfig struct {
	FreeShippingAbove string `default:"500" usage:"Subtotal above which shipping is free" flag:"free-shipping-above"`
	FlatShippingFee   string `default:"50" usage:"Shipping fee below the free shipping threshold" flag:"shipping-fee"`
	TaxRate           string `default:"0.18" usage:"Tax rate applied to the subtotal" flag:"tax-rate"`
}

// Rules parses c into pricing rules.
func (c PricingConfig) Rules() (pricing.Rules, error) {
	var (
		r   pricing.Rules
		err error
	)
	if r.FreeShippingAbove, err = decimal.NewFromString(c.FreeShippingAbove); err != nil {
		return r, errors.Wrap(err, "free shipping threshold")
	}
	if r.FlatShippingFee, err = decimal.NewFromString(c.FlatShippingFee); err != nil {
		return r, errors.Wrap(err, "shipping fee")
	}
	if r.TaxRate, err = decimal.NewFromString(c.TaxRate); err != nil {
		return r, errors.Wrap(err, "tax rate")
	}
	return r, r.Validate()
}

// CheckoutConfig controls order submission.
type CheckoutConfig struct {
	SubmitTimeout  time.Duration `default:"10s" usage:"Bound on a single order submission" flag:"submit-timeout"`
	DeliveryWindow time.Duration `default:"120h" usage:"Estimated delivery after the order date" flag:"delivery-window"`
	IdleTimeout    time.Duration `default:"30m" usage:"Untouched checkout sessions are dropped after this" flag:"checkout-idle"`
}

// BreakerConfig controls the order store circuit breaker.
type BreakerConfig struct {
	Timeout             time.Duration `default:"5s" usage:"Bound on every order store call"`
	ConsecutiveFailures uint32        `default:"5" usage:"Consecutive write failures that open the breaker"`
	OpenTimeout         time.Duration `default:"30s" usage:"Time the breaker stays open before probing"`
}

func (c BreakerConfig) breaker() breaker.Config {
	return breaker.Config{
		Timeout:             c.Timeout,
		ConsecutiveFailures: c.ConsecutiveFailures,
		OpenTimeout:         c.OpenTimeout,
	}
}

// RateLimitConfig controls the per-client rate limiter.
type RateLimitConfig struct {
	Max    int           `default:"100" usage:"Max requests per window"`
	Window time.Duration `default:"1m"  usage:"Rate limit window duration"`
	Shared bool          `default:"false" usage:"Count requests in Redis across instances" flag:"rate-limit-shared"`
}

// CORSConfig controls Cross-Origin Resource Sharing headers.
type CORSConfig struct {
	Origins          []string `default:"*" usage:"Allowed CORS origins"`
	AllowCredentials bool     `default:"false" usage:"Allow credentials (cookies, auth headers)" flag:"cors-credentials"`
}

// GracefulConfig controls graceful shutdown timing.
type GracefulConfig struct {
	ReadinessDelay  time.Duration `default:"3s"  usage:"Delay after readiness=false before shutdown" flag:"readiness-delay"`
	ShutdownTimeout time.Duration `default:"15s" usage:"Maximum shutdown duration" flag:"shutdown-timeout"`
}

// LoadConfig loads a .env file when present, then configuration from
// environment variables and YAML config files, and applies platform
// defaults.
func LoadConfig() (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, errors.Wrap(err, "load .env")
	}

	var cfg Config
	loader := aconfig.LoaderFor(&cfg, aconfig.Config{
		EnvPrefix: "KART",
		Files:     []string{"config.yaml", "/etc/kart/config.yaml"},
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

// Validate checks that every selected backend has its connection settings.
func (c *Config) Validate() error {
	switch c.Storage.Orders {
	case BackendPostgres:
	case BackendMongo:
		if c.Mongo.URI == "" {
			return errors.New("mongo URI is required for the mongo order store")
		}
	case BackendMemory:
	default:
		return errors.Errorf("unknown order store %q", c.Storage.Orders)
	}
	switch c.Storage.Carts {
	case BackendRedis, BackendMemory:
	default:
		return errors.Errorf("unknown cart store %q", c.Storage.Carts)
	}
	if c.DatabaseURL == "" {
		return errors.New("database URL is required: set KART_DATABASE_URL or DATABASE_URL")
	}
	if c.JWT.Secret == "" {
		return errors.New("JWT secret is required: set KART_JWT_SECRET")
	}
	if _, err := c.Pricing.Rules(); err != nil {
		return errors.Wrap(err, "pricing")
	}
	return nil
}

// usesRedis reports whether any component needs a Redis connection.
func (c *Config) usesRedis() bool {
	return c.Storage.Carts == BackendRedis || c.RateLimit.Shared
}

// applyPlatformDefaults maps platform-provided environment variables (Railway,
// Render, etc.) that use standard names like DATABASE_URL and PORT to the
// application's KART_-prefixed configuration.
func (c *Config) applyPlatformDefaults() {
	if c.DatabaseURL == "" {
		if v := os.Getenv("DATABASE_URL"); v != "" {
			c.DatabaseURL = v
		}
	}
	if v := os.Getenv("REDIS_URL"); v != "" && os.Getenv("KART_REDIS_URL") == "" {
		c.Redis.URL = v
	}
	if port := os.Getenv("PORT"); port != "" && c.Addr == "0.0.0.0:8080" {
		c.Addr = "0.0.0.0:" + port
	}
	c.Storage.Orders = strings.ToLower(c.Storage.Orders)
	c.Storage.Carts = strings.ToLower(c.Storage.Carts)
}
