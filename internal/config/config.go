package config

import (
	"errors"
	"fmt"
	"io/fs"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

type Config struct {
	Server     ServerConfig     `mapstructure:"server"`
	Database   DatabaseConfig   `mapstructure:"database"`
	Auth       AuthConfig       `mapstructure:"auth"`
	Billing    BillingConfig    `mapstructure:"billing"`
	Generation GenerationConfig `mapstructure:"generation"`
	Storage    StorageConfig    `mapstructure:"storage"`
	RateLimit  RateLimitConfig  `mapstructure:"ratelimit"`
	Log        LogConfig        `mapstructure:"log"`
}

type ServerConfig struct {
	Port            int           `mapstructure:"port"`
	ReadTimeout     time.Duration `mapstructure:"read_timeout"`
	WriteTimeout    time.Duration `mapstructure:"write_timeout"`
	IdleTimeout     time.Duration `mapstructure:"idle_timeout"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
	CORSOrigins     []string      `mapstructure:"cors_origins"`
}

type DatabaseConfig struct {
	Type            string        `mapstructure:"type"` // sqlite or postgres
	DSN             string        `mapstructure:"dsn"`  // postgres connection string
	Path            string        `mapstructure:"path"` // sqlite file
	MaxOpenConns    int           `mapstructure:"max_open_conns"`
	MaxIdleConns    int           `mapstructure:"max_idle_conns"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
}

type AuthConfig struct {
	JWTSecret string        `mapstructure:"jwt_secret"`
	Issuer    string        `mapstructure:"issuer"`
	TokenTTL  time.Duration `mapstructure:"token_ttl"`
}

type BillingConfig struct {
	StripeSecretKey string `mapstructure:"stripe_secret_key"`
	WebhookSecret   string `mapstructure:"webhook_secret"`
	ProPriceCents   int64  `mapstructure:"pro_price_cents"`
	Currency        string `mapstructure:"currency"`
	PeriodDays      int    `mapstructure:"period_days"`
	SuccessURL      string `mapstructure:"success_url"`
	CancelURL       string `mapstructure:"cancel_url"`
}

// Enabled reports whether checkout can reach the processor.
func (b BillingConfig) Enabled() bool {
	return b.StripeSecretKey != ""
}

type GenerationConfig struct {
	Backend  string        `mapstructure:"backend"` // template or http
	Endpoint string        `mapstructure:"endpoint"`
	APIKey   string        `mapstructure:"api_key"`
	Timeout  time.Duration `mapstructure:"timeout"`
}

type StorageConfig struct {
	Enabled    bool          `mapstructure:"enabled"`
	Endpoint   string        `mapstructure:"endpoint"`
	Region     string        `mapstructure:"region"`
	Bucket     string        `mapstructure:"bucket"`
	AccessKey  string        `mapstructure:"access_key"`
	SecretKey  string        `mapstructure:"secret_key"`
	PresignTTL time.Duration `mapstructure:"presign_ttl"`
}

type RateLimitConfig struct {
	APIRequests        int           `mapstructure:"api_requests"`
	APIWindow          time.Duration `mapstructure:"api_window"`
	GenerationRequests int           `mapstructure:"generation_requests"`
	GenerationWindow   time.Duration `mapstructure:"generation_window"`
	PaymentRequests    int           `mapstructure:"payment_requests"`
	PaymentWindow      time.Duration `mapstructure:"payment_window"`
}

type LogConfig struct {
	Level       string `mapstructure:"level"`
	Development bool   `mapstructure:"development"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", 8081)
	v.SetDefault("server.read_timeout", 15*time.Second)
	v.SetDefault("server.write_timeout", 60*time.Second)
	v.SetDefault("server.idle_timeout", 120*time.Second)
	v.SetDefault("server.shutdown_timeout", 15*time.Second)
	v.SetDefault("server.cors_origins", []string{"http://localhost:*", "http://127.0.0.1:*"})

	v.SetDefault("database.type", "sqlite")
	v.SetDefault("database.dsn", "")
	v.SetDefault("database.path", "data/aisaas.db")
	v.SetDefault("database.max_open_conns", 25)
	v.SetDefault("database.max_idle_conns", 5)
	v.SetDefault("database.conn_max_lifetime", 5*time.Minute)

	v.SetDefault("auth.jwt_secret", "")
	v.SetDefault("auth.issuer", "aisaas")
	v.SetDefault("auth.token_ttl", 24*time.Hour)

	v.SetDefault("billing.stripe_secret_key", "")
	v.SetDefault("billing.webhook_secret", "")
	v.SetDefault("billing.pro_price_cents", 2900)
	v.SetDefault("billing.currency", "usd")
	v.SetDefault("billing.period_days", 30)
	v.SetDefault("billing.success_url", "http://localhost:5173/dashboard?payment=success")
	v.SetDefault("billing.cancel_url", "http://localhost:5173/pricing?payment=cancelled")

	v.SetDefault("generation.backend", "template")
	v.SetDefault("generation.endpoint", "")
	v.SetDefault("generation.api_key", "")
	v.SetDefault("generation.timeout", 30*time.Second)

	v.SetDefault("storage.enabled", false)
	v.SetDefault("storage.endpoint", "")
	v.SetDefault("storage.region", "us-east-1")
	v.SetDefault("storage.bucket", "")
	v.SetDefault("storage.access_key", "")
	v.SetDefault("storage.secret_key", "")
	v.SetDefault("storage.presign_ttl", 24*time.Hour)

	v.SetDefault("ratelimit.api_requests", 100)
	v.SetDefault("ratelimit.api_window", 15*time.Minute)
	v.SetDefault("ratelimit.generation_requests", 5)
	v.SetDefault("ratelimit.generation_window", time.Minute)
	v.SetDefault("ratelimit.payment_requests", 10)
	v.SetDefault("ratelimit.payment_window", time.Hour)

	v.SetDefault("log.level", "info")
	v.SetDefault("log.development", false)
}

// LoadConfig loads .env (if present), then the YAML file at path, then
// environment variables such as DATABASE_TYPE or AUTH_JWT_SECRET. A missing
// config file is not an error.
func LoadConfig(path string) (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("load .env: %w", err)
	}

	v := viper.New()
	setDefaults(v)
	v.SetConfigType("yaml")
	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			var notFound viper.ConfigFileNotFoundError
			if !errors.As(err, &notFound) && !errors.Is(err, fs.ErrNotExist) {
				return nil, fmt.Errorf("read config %s: %w", path, err)
			}
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks settings that have no safe default.
func (c *Config) Validate() error {
	if c.Auth.JWTSecret == "" {
		return errors.New("auth.jwt_secret is required")
	}
	switch c.Database.Type {
	case "sqlite":
		if c.Database.Path == "" {
			return errors.New("database.path is required for sqlite")
		}
	case "postgres":
		if c.Database.DSN == "" {
			return errors.New("database.dsn is required for postgres")
		}
	default:
		return fmt.Errorf("unsupported database type: %s", c.Database.Type)
	}
	switch c.Generation.Backend {
	case "template":
	case "http":
		if c.Generation.Endpoint == "" {
			return errors.New("generation.endpoint is required for the http backend")
		}
	default:
		return fmt.Errorf("unsupported generation backend: %s", c.Generation.Backend)
	}
	if c.Storage.Enabled && c.Storage.Bucket == "" {
		return errors.New("storage.bucket is required when storage is enabled")
	}
	return nil
}
