package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

type ProviderConfig struct {
	BaseURL     string
	PublicKey   string
	SecretKey   string
	WebhookURL  string
	CountryCode string
	Timeout     time.Duration
}

type PricingConfig struct {
	Discounts    map[string]float64
	PlanDiscount float64
}

type Config struct {
	DBSource  string
	Port      string
	Env       string
	LogLevel  string
	RedisAddr string

	JWTSecret string
	TokenTTL  time.Duration

	AdminUsername string
	AdminPassword string

	TopupMinValue float64
	TopupMaxValue float64

	Provider ProviderConfig
	Pricing  PricingConfig
}

// MemoryDSN selects the in-process store instead of PostgreSQL.
const MemoryDSN = "memory://"

const devJWTSecret = "dev-only-jwt-secret"

func defaults(v *viper.Viper) {
	v.SetDefault("SERVER_PORT", "8080")
	v.SetDefault("ENVIRONMENT", "development")
	v.SetDefault("LOG_LEVEL", "info")
	v.SetDefault("TOKEN_TTL", "168h")
	v.SetDefault("PROVIDER_BASE_URL", "https://pay.chargily.net/api/v2")
	v.SetDefault("PROVIDER_TIMEOUT", "10s")
	v.SetDefault("COUNTRY_CODE", "DZ")
	v.SetDefault("ADMIN_USERNAME", "admin")
	v.SetDefault("TOPUP_MIN_VALUE", 10)
	v.SetDefault("TOPUP_MAX_VALUE", 5000)
	v.SetDefault("PRICING_OOREDOO", 2.5)
	v.SetDefault("PRICING_DJEZZY", 2.0)
	v.SetDefault("PRICING_MOBILIS", 2.0)
	v.SetDefault("PRICING_PLAN_DISCOUNT", 1.5)
}

// Load reads defaults, then the optional YAML file named by CONFIG_FILE, then the environment.
func Load() (*Config, error) {
	v := viper.New()
	defaults(v)
	v.AutomaticEnv()

	if path := v.GetString("CONFIG_FILE"); path != "" {
		v.SetConfigFile(path)
		v.SetConfigType("yaml")
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config file %s: %w", path, err)
		}
	}

	cfg := &Config{
		DBSource:      v.GetString("DB_SOURCE"),
		Port:          v.GetString("SERVER_PORT"),
		Env:           strings.ToLower(v.GetString("ENVIRONMENT")),
		LogLevel:      v.GetString("LOG_LEVEL"),
		RedisAddr:     v.GetString("REDIS_ADDR"),
		JWTSecret:     v.GetString("JWT_SECRET"),
		TokenTTL:      v.GetDuration("TOKEN_TTL"),
		AdminUsername: v.GetString("ADMIN_USERNAME"),
		AdminPassword: v.GetString("ADMIN_PASSWORD"),
		TopupMinValue: v.GetFloat64("TOPUP_MIN_VALUE"),
		TopupMaxValue: v.GetFloat64("TOPUP_MAX_VALUE"),
		Provider: ProviderConfig{
			BaseURL:     v.GetString("PROVIDER_BASE_URL"),
			PublicKey:   v.GetString("PROVIDER_PUBLIC_KEY"),
			SecretKey:   v.GetString("PROVIDER_SECRET_KEY"),
			WebhookURL:  v.GetString("WEBHOOK_URL"),
			CountryCode: v.GetString("COUNTRY_CODE"),
			Timeout:     v.GetDuration("PROVIDER_TIMEOUT"),
		},
		Pricing: PricingConfig{
			Discounts: map[string]float64{
				"ooredoo": v.GetFloat64("PRICING_OOREDOO"),
				"djezzy":  v.GetFloat64("PRICING_DJEZZY"),
				"mobilis": v.GetFloat64("PRICING_MOBILIS"),
			},
			PlanDiscount: v.GetFloat64("PRICING_PLAN_DISCOUNT"),
		},
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) IsProduction() bool {
	return c.Env == "production"
}

// UsesMemoryStore reports whether DB_SOURCE selects the in-process store.
func (c *Config) UsesMemoryStore() bool {
	return c.DBSource == MemoryDSN
}

func (c *Config) validate() error {
	if c.DBSource == "" {
		return errors.New("DB_SOURCE environment variable is required")
	}
	if c.JWTSecret == "" {
		if c.IsProduction() {
			return errors.New("JWT_SECRET is required in production")
		}
		c.JWTSecret = devJWTSecret
	}
	if c.IsProduction() && c.Provider.SecretKey == "" {
		return errors.New("PROVIDER_SECRET_KEY is required in production")
	}
	if c.TopupMinValue <= 0 || c.TopupMaxValue < c.TopupMinValue {
		return fmt.Errorf("invalid top-up bounds %v..%v", c.TopupMinValue, c.TopupMaxValue)
	}
	if c.TokenTTL <= 0 {
		return fmt.Errorf("invalid TOKEN_TTL %v", c.TokenTTL)
	}
	return nil
}
