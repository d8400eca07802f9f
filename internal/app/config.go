package app

import (
	"os"
	"time"

	"github.com/cristalhq/aconfig"
	"github.com/cristalhq/aconfig/aconfigyaml"
	"github.com/go-faster/errors"
)

// Config holds the complete application configuration, loadable from
// environment variables (CART_ prefix), flags, or YAML config files.
type Config struct {
	Addr         string `default:"0.0.0.0:8080" usage:"API server listen address"`
	DatabaseURL  string `usage:"PostgreSQL connection URL (CART_DATABASE_URL or DATABASE_URL)" flag:"database-url"`
	RedisURL     string `default:"redis://localhost:6379/0" usage:"Redis connection URL for the cart cache" flag:"redis-url"`
	APIKeyPepper string `usage:"HMAC pepper for API key hashing (CART_API_KEY_PEPPER)" flag:"api-key-pepper"`

	SessionTTL time.Duration `default:"24h" usage:"Shopping session lifetime" flag:"session-ttl"`
	CacheTTL   time.Duration `default:"10s" usage:"Cart cache entry lifetime" flag:"cache-ttl"`

	Payment   PaymentConfig
	Monitor   MonitorConfig
	RateLimit RateLimitConfig
	CORS      CORSConfig
	Graceful  GracefulConfig
}

// PaymentConfig identifies the payment provider and its credentials.
type PaymentConfig struct {
	Provider  string `default:"yookassa" usage:"Payment provider name recorded on payments"`
	Currency  string `default:"RUB" usage:"Charge currency"`
	BaseURL   string `default:"https://api.yookassa.ru" usage:"Provider API base URL" flag:"payment-base-url"`
	ShopID    string `usage:"Provider shop/account id" flag:"payment-shop-id"`
	SecretKey string `usage:"Provider API secret key" flag:"payment-secret-key"`
	ReturnURL string `usage:"Customer redirect target after payment confirmation" flag:"payment-return-url"`
}

// MonitorConfig bounds the payment status polling loop.
type MonitorConfig struct {
	Workers        int           `default:"4"   usage:"Payment monitor worker count"`
	QueueSize      int           `default:"256" usage:"Payment monitor job queue size" flag:"monitor-queue-size"`
	Interval       time.Duration `default:"5s"  usage:"Delay between status polls" flag:"monitor-interval"`
	RequestTimeout time.Duration `default:"10s" usage:"Per-poll gateway request timeout" flag:"monitor-request-timeout"`
	MaxAttempts    int           `default:"60"  usage:"Polls before a payment is abandoned" flag:"monitor-max-attempts"`
}

// RateLimitConfig controls the per-client sliding window rate limiter.
type RateLimitConfig struct {
	Max    int           `default:"100" usage:"Max requests per window"`
	Window time.Duration `default:"1m"  usage:"Rate limit window duration"`
}

// CORSConfig controls Cross-Origin Resource Sharing headers. Cookie-carrying
// cross-origin requests need AllowCredentials, which in turn requires an
// explicit origin list: the wildcard cannot be combined with credentials.
type CORSConfig struct {
	Origins          []string `default:"*" usage:"Allowed CORS origins"`
	AllowCredentials bool     `default:"false" usage:"Allow credentials (cookies, auth headers); requires explicit origins" flag:"cors-credentials"`
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
		EnvPrefix: "CART",
		Files:     []string{"config.yaml", "/etc/bookcart/config.yaml"},
		FileDecoders: map[string]aconfig.FileDecoder{
			".yaml": aconfigyaml.New(),
		},
	})
	if err := loader.Load(); err != nil {
		return nil, errors.Wrap(err, "load config")
	}
	cfg.applyPlatformDefaults()

	if cfg.DatabaseURL == "" {
		return nil, errors.New("database URL is required: set CART_DATABASE_URL or DATABASE_URL")
	}

	return &cfg, nil
}

// applyPlatformDefaults maps platform-provided environment variables (Railway,
// Render, etc.) that use standard names like DATABASE_URL and PORT to the
// application's CART_-prefixed configuration.
func (c *Config) applyPlatformDefaults() {
	if c.DatabaseURL == "" {
		if v := os.Getenv("DATABASE_URL"); v != "" {
			c.DatabaseURL = v
		}
	}
	if c.RedisURL == "redis://localhost:6379/0" {
		if v := os.Getenv("REDIS_URL"); v != "" {
			c.RedisURL = v
		}
	}
	if port := os.Getenv("PORT"); port != "" && c.Addr == "0.0.0.0:8080" {
		c.Addr = "0.0.0.0:" + port
	}
}
