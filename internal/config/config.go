// Package config loads service settings from an optional YAML file with
// environment variables taking precedence.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

type Config struct {
	Port string `yaml:"port"`
	Log  Log    `yaml:"log"`

	Store     Store     `yaml:"store"`
	Redis     Redis     `yaml:"redis"`
	AMQP      AMQP      `yaml:"amqp"`
	Auth      Auth      `yaml:"auth"`
	Payment   Payment   `yaml:"payment"`
	RateLimit RateLimit `yaml:"rateLimit"`
	Webhooks  Webhooks  `yaml:"webhooks"`
}

type Log struct {
	Mode string `yaml:"mode"`
}

type Store struct {
	// Driver is memory, postgres or mongo. Empty picks postgres when
	// DatabaseURL is set, otherwise memory.
	Driver        string `yaml:"driver"`
	DatabaseURL   string `yaml:"databaseUrl"`
	Migrate       bool   `yaml:"migrate"`
	MongoURL      string `yaml:"mongoUrl"`
	MongoDatabase string `yaml:"mongoDatabase"`
}

type Redis struct {
	URL string `yaml:"url"`
}

type AMQP struct {
	URL      string `yaml:"url"`
	Exchange string `yaml:"exchange"`
}

type Auth struct {
	Mode       string `yaml:"mode"`
	HMACSecret string `yaml:"hmacSecret"`
	JWKSURL    string `yaml:"jwksUrl"`
	RoleClaim  string `yaml:"roleClaim"`
}

type Payment struct {
	ProviderURL     string `yaml:"providerUrl"`
	APIKey          string `yaml:"apiKey"`
	WebhookSecret   string `yaml:"webhookSecret"`
	Currency        string `yaml:"currency"`
	CheckoutBaseURL string `yaml:"checkoutBaseUrl"`
}

type RateLimit struct {
	RPS   float64 `yaml:"rps"`
	Burst int     `yaml:"burst"`
}

type Webhooks struct {
	MaxAttempts int `yaml:"maxAttempts"`
}

// Default returns the development defaults.
func Default() Config {
	return Config{
		Port:      "8080",
		Log:       Log{Mode: "dev"},
		Store:     Store{Migrate: true, MongoDatabase: "drivlet"},
		AMQP:      AMQP{Exchange: "drivlet.bookings"},
		Auth:      Auth{Mode: "dev", RoleClaim: "role"},
		Payment:   Payment{Currency: "aud"},
		RateLimit: RateLimit{RPS: 0, Burst: 20},
		Webhooks:  Webhooks{MaxAttempts: 10},
	}
}

// Load reads DRIVLET_CONFIG (if set) and applies environment overrides.
func Load() (Config, error) {
	return LoadFrom(os.Getenv("DRIVLET_CONFIG"), os.LookupEnv)
}

// LoadFrom is Load with an explicit file path and environment lookup.
func LoadFrom(path string, lookup func(string) (string, bool)) (Config, error) {
	cfg := Default()
	if path != "" {
		b, err := os.ReadFile(path)
		if err != nil {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
		if err := yaml.Unmarshal(b, &cfg); err != nil {
			return Config{}, fmt.Errorf("parse config %s: %w", path, err)
		}
	}
	if err := applyEnv(&cfg, lookup); err != nil {
		return Config{}, err
	}
	if cfg.Store.Driver == "" {
		cfg.Store.Driver = "memory"
		if cfg.Store.DatabaseURL != "" {
			cfg.Store.Driver = "postgres"
		}
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func applyEnv(cfg *Config, lookup func(string) (string, bool)) error {
	str := func(key string, dst *string) {
		if v, ok := lookup(key); ok && strings.TrimSpace(v) != "" {
			*dst = strings.TrimSpace(v)
		}
	}
	str("PORT", &cfg.Port)
	str("LOG_MODE", &cfg.Log.Mode)
	str("STORE_DRIVER", &cfg.Store.Driver)
	str("DATABASE_URL", &cfg.Store.DatabaseURL)
	str("MONGO_URL", &cfg.Store.MongoURL)
	str("MONGO_DATABASE", &cfg.Store.MongoDatabase)
	str("REDIS_URL", &cfg.Redis.URL)
	str("AMQP_URL", &cfg.AMQP.URL)
	str("AMQP_EXCHANGE", &cfg.AMQP.Exchange)
	str("AUTH_MODE", &cfg.Auth.Mode)
	str("AUTH_HMAC_SECRET", &cfg.Auth.HMACSecret)
	str("AUTH_JWKS_URL", &cfg.Auth.JWKSURL)
	str("AUTH_ROLE_CLAIM", &cfg.Auth.RoleClaim)
	str("PAYMENT_PROVIDER_URL", &cfg.Payment.ProviderURL)
	str("PAYMENT_API_KEY", &cfg.Payment.APIKey)
	str("PAYMENT_WEBHOOK_SECRET", &cfg.Payment.WebhookSecret)
	str("PAYMENT_CURRENCY", &cfg.Payment.Currency)
	str("PAYMENT_CHECKOUT_BASE_URL", &cfg.Payment.CheckoutBaseURL)

	if v, ok := lookup("DB_MIGRATE"); ok && v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return fmt.Errorf("DB_MIGRATE: %w", err)
		}
		cfg.Store.Migrate = b
	}
	if v, ok := lookup("RATE_RPS"); ok && v != "" {
		f, err := strconv.ParseFloat(v, 64)
		if err != nil {
			return fmt.Errorf("RATE_RPS: %w", err)
		}
		cfg.RateLimit.RPS = f
	}
	if v, ok := lookup("RATE_BURST"); ok && v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("RATE_BURST: %w", err)
		}
		cfg.RateLimit.Burst = n
	}
	if v, ok := lookup("WEBHOOK_MAX_ATTEMPTS"); ok && v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("WEBHOOK_MAX_ATTEMPTS: %w", err)
		}
		cfg.Webhooks.MaxAttempts = n
	}
	return nil
}

// Validate rejects settings that cannot work together.
func (c Config) Validate() error {
	switch c.Store.Driver {
	case "memory":
	case "postgres":
		if c.Store.DatabaseURL == "" {
			return fmt.Errorf("store driver postgres requires DATABASE_URL")
		}
	case "mongo":
		if c.Store.MongoURL == "" {
			return fmt.Errorf("store driver mongo requires MONGO_URL")
		}
	default:
		return fmt.Errorf("unknown store driver %q", c.Store.Driver)
	}
	switch c.Auth.Mode {
	case "dev":
	case "hmac":
		if c.Auth.HMACSecret == "" {
			return fmt.Errorf("auth mode hmac requires AUTH_HMAC_SECRET")
		}
	case "jwks":
		if c.Auth.JWKSURL == "" {
			return fmt.Errorf("auth mode jwks requires AUTH_JWKS_URL")
		}
	default:
		return fmt.Errorf("unknown auth mode %q", c.Auth.Mode)
	}
	if c.RateLimit.RPS > 0 && c.RateLimit.Burst <= 0 {
		return fmt.Errorf("rate limit burst must be positive when rps is set")
	}
	if c.Webhooks.MaxAttempts <= 0 {
		return fmt.Errorf("webhook max attempts must be positive")
	}
	return nil
}
