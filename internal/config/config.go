package config

import (
	"encoding/base64"
	"errors"
	"fmt"
	"net/netip"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	Server   ServerConfig
	Database DatabaseConfig
	Etupay   EtupayConfig
	Stripe   StripeConfig
	Redis    RedisConfig
	AMQP     AMQPConfig
	Admin    AdminConfig
	Log      LogConfig
	Carts    CartConfig
}

type ServerConfig struct {
	Port            string
	Host            string
	Env             string
	AllowedOrigins  []string
	ShutdownTimeout time.Duration
	RequestTimeout  time.Duration
	// AutoMigrate applies pending migrations at startup
	AutoMigrate bool
}

// Addr returns the listen address
func (s ServerConfig) Addr() string {
	return s.Host + ":" + s.Port
}

// IsProduction returns true when running in production
func (s ServerConfig) IsProduction() bool {
	return s.Env == "production"
}

type DatabaseConfig struct {
	URL      string // Full database URL
	Host     string
	Port     int
	User     string
	Password string
	DBName   string
	SSLMode  string
}

type EtupayConfig struct {
	// Key is the base64 encoded 32 byte shared secret
	Key          string
	ServiceID    int
	Endpoint     string
	AllowedCIDRs []netip.Prefix
	SuccessURL   string
	ErrorURL     string
}

type StripeConfig struct {
	SecretKey       string
	WebhookSecret   string
	APIBase         string
	Currency        string
	SignatureMaxAge time.Duration
}

type RedisConfig struct {
	// Addr empty disables webhook event deduplication
	Addr     string
	Password string
	DB       int
	EventTTL time.Duration
}

type AMQPConfig struct {
	// URL empty makes payment notifications log-only
	URL      string
	Exchange string
}

type AdminConfig struct {
	Token string
}

type LogConfig struct {
	Level     string
	AddSource bool
}

type CartConfig struct {
	// ProcessingTTL is how long a processing cart may wait before expiry
	ProcessingTTL  time.Duration
	// ExpiryInterval zero disables the background expiry loop
	ExpiryInterval time.Duration

	// CheckoutLimit checkouts per user are allowed in CheckoutWindow; zero disables the limit
	CheckoutLimit  int
	CheckoutWindow time.Duration
}

func Load() (*Config, error) {
	// Load .env files if they exist (try .env.local first, then .env)
	_ = godotenv.Load(".env.local")
	_ = godotenv.Load(".env")

	cidrs, err := parseCIDRs(getEnv("ETUPAY_ALLOWED_CIDRS", "127.0.0.1/32"))
	if err != nil {
		return nil, fmt.Errorf("invalid ETUPAY_ALLOWED_CIDRS: %w", err)
	}

	config := &Config{
		Server: ServerConfig{
			Port:            getEnv("PORT", "8080"),
			Host:            getEnv("HOST", "localhost"),
			Env:             getEnv("ENV", "development"),
			AllowedOrigins:  getEnvAsList("ALLOWED_ORIGINS", []string{"http://localhost:3000"}),
			ShutdownTimeout: getEnvAsDuration("SHUTDOWN_TIMEOUT", 10*time.Second),
			RequestTimeout:  getEnvAsDuration("REQUEST_TIMEOUT", 15*time.Second),
			AutoMigrate:     getEnvAsBool("AUTO_MIGRATE", true),
		},
		Database: parseDatabaseConfig(),
		Etupay: EtupayConfig{
			Key:          getEnv("ETUPAY_KEY", ""),
			ServiceID:    getEnvAsInt("ETUPAY_SERVICE_ID", 1),
			Endpoint:     getEnv("ETUPAY_ENDPOINT", "https://etupay.utt.fr/initiate"),
			AllowedCIDRs: cidrs,
			SuccessURL:   getEnv("ETUPAY_SUCCESS_URL", "http://localhost:3000/dashboard/payment?type=success"),
			ErrorURL:     getEnv("ETUPAY_ERROR_URL", "http://localhost:3000/dashboard/payment?type=error"),
		},
		Stripe: StripeConfig{
			SecretKey:       getEnv("STRIPE_SECRET_KEY", ""),
			WebhookSecret:   getEnv("STRIPE_WEBHOOK_SECRET", ""),
			APIBase:         getEnv("STRIPE_API_BASE", "https://api.stripe.com"),
			Currency:        getEnv("STRIPE_CURRENCY", "eur"),
			SignatureMaxAge: getEnvAsDuration("STRIPE_SIGNATURE_MAX_AGE", 5*time.Minute),
		},
		Redis: RedisConfig{
			Addr:     getEnv("REDIS_ADDR", ""),
			Password: getEnv("REDIS_PASSWORD", ""),
			DB:       getEnvAsInt("REDIS_DB", 0),
			EventTTL: getEnvAsDuration("REDIS_EVENT_TTL", 24*time.Hour),
		},
		AMQP: AMQPConfig{
			URL:      getEnv("AMQP_URL", ""),
			Exchange: getEnv("AMQP_EXCHANGE", "arena.payments"),
		},
		Admin: AdminConfig{
			Token: getEnv("ADMIN_TOKEN", ""),
		},
		Log: LogConfig{
			Level:     getEnv("LOG_LEVEL", "info"),
			AddSource: getEnvAsBool("LOG_ADD_SOURCE", false),
		},
		Carts: CartConfig{
			ProcessingTTL:  getEnvAsDuration("CART_PROCESSING_TTL", time.Hour),
			ExpiryInterval: getEnvAsDuration("CART_EXPIRY_INTERVAL", 5*time.Minute),
			CheckoutLimit:  getEnvAsInt("CHECKOUT_LIMIT", 10),
			CheckoutWindow: getEnvAsDuration("CHECKOUT_WINDOW", time.Minute),
		},
	}

	return config, nil
}

// Validate checks the settings that have no usable default
func (c *Config) Validate() error {
	var errs []error

	if c.Etupay.Key != "" {
		key, err := base64.StdEncoding.DecodeString(c.Etupay.Key)
		if err != nil || len(key) != 32 {
			errs = append(errs, errors.New("ETUPAY_KEY must be a base64 encoded 32 byte key"))
		}
	}

	if c.Server.IsProduction() {
		if c.Etupay.Key == "" {
			errs = append(errs, errors.New("ETUPAY_KEY is required in production"))
		}
		if c.Stripe.SecretKey == "" || c.Stripe.WebhookSecret == "" {
			errs = append(errs, errors.New("STRIPE_SECRET_KEY and STRIPE_WEBHOOK_SECRET are required in production"))
		}
		if c.Admin.Token == "" {
			errs = append(errs, errors.New("ADMIN_TOKEN is required in production"))
		}
	}

	return errors.Join(errs...)
}

func parseDatabaseConfig() DatabaseConfig {
	// Check if DATABASE_URL is provided
	databaseURL := getEnv("DATABASE_URL", "")
	if databaseURL != "" {
		return parseDatabaseURL(databaseURL)
	}

	// Fall back to individual environment variables
	return DatabaseConfig{
		Host:     getEnv("DB_HOST", "localhost"),
		Port:     getEnvAsInt("DB_PORT", 5432),
		User:     getEnv("DB_USER", "postgres"),
		Password: getEnv("DB_PASSWORD", ""),
		DBName:   getEnv("DB_NAME", "arena"),
		SSLMode:  getEnv("DB_SSLMODE", "disable"),
	}
}

func parseDatabaseURL(databaseURL string) DatabaseConfig {
	config := DatabaseConfig{
		URL: databaseURL,
	}

	u, err := url.Parse(databaseURL)
	if err != nil {
		// If parsing fails, return the URL as-is
		return config
	}

	config.Host = u.Hostname()
	if u.Port() != "" {
		config.Port, _ = strconv.Atoi(u.Port())
	} else {
		config.Port = 5432 // Default PostgreSQL port
	}

	if u.User != nil {
		config.User = u.User.Username()
		config.Password, _ = u.User.Password()
	}

	config.DBName = strings.TrimPrefix(u.Path, "/")

	config.SSLMode = u.Query().Get("sslmode")
	if config.SSLMode == "" {
		config.SSLMode = "disable"
	}

	return config
}

func parseCIDRs(value string) ([]netip.Prefix, error) {
	var prefixes []netip.Prefix
	for _, raw := range strings.Split(value, ",") {
		raw = strings.TrimSpace(raw)
		if raw == "" {
			continue
		}
		if !strings.Contains(raw, "/") {
			addr, err := netip.ParseAddr(raw)
			if err != nil {
				return nil, err
			}
			prefixes = append(prefixes, netip.PrefixFrom(addr, addr.BitLen()))
			continue
		}
		prefix, err := netip.ParsePrefix(raw)
		if err != nil {
			return nil, err
		}
		prefixes = append(prefixes, prefix.Masked())
	}
	return prefixes, nil
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvAsInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}

func getEnvAsBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if boolValue, err := strconv.ParseBool(value); err == nil {
			return boolValue
		}
	}
	return defaultValue
}

func getEnvAsDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return defaultValue
}

func getEnvAsList(key string, defaultValue []string) []string {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	var list []string
	for _, part := range strings.Split(value, ",") {
		if part = strings.TrimSpace(part); part != "" {
			list = append(list, part)
		}
	}
	return list
}
