// Package config loads billingd configuration from environment
// variables.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/meterline/billingd/pkg/billing"
	"github.com/meterline/billingd/pkg/observability"
)

// Config holds all application configuration
type Config struct {
	Server        ServerConfig
	Database      DatabaseConfig
	Redis         RedisConfig
	Stripe        StripeConfig
	Reconciler    ReconcilerConfig
	Observability ObservabilityConfig
}

// ServerConfig holds HTTP server configuration
type ServerConfig struct {
	Host            string
	Port            string
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	IdleTimeout     time.Duration
	ShutdownTimeout time.Duration
}

// DatabaseConfig holds PostgreSQL configuration
type DatabaseConfig struct {
	URL          string
	MaxOpenConns int
	MaxIdleConns int
}

// RedisConfig holds the price cache configuration. Caching is disabled
// when URL is empty.
type RedisConfig struct {
	URL      string
	PriceTTL time.Duration
}

// StripeConfig holds payment provider configuration
type StripeConfig struct {
	APIKey             string
	CheckoutSuccessURL string
	CheckoutCancelURL  string
	PortalReturnURL    string

	// PriceRefs overrides catalog price references per plan id,
	// parsed from "plan-id=ref,plan-id=ref".
	PriceRefs map[string]string
}

// ReconcilerConfig holds the background sweep configuration
type ReconcilerConfig struct {
	// Schedule is a cron expression for the team reconciliation sweep
	Schedule string
	// Concurrency bounds how many organizations sync in parallel
	Concurrency int
}

// ObservabilityConfig holds observability settings
type ObservabilityConfig struct {
	LogLevel       observability.LogLevel
	MetricsEnabled bool
}

// LoadConfig loads configuration from environment variables
func LoadConfig() (*Config, error) {
	cfg := &Config{
		Server: ServerConfig{
			Host:            getEnv("BILLINGD_HOST", "0.0.0.0"),
			Port:            getEnv("BILLINGD_PORT", "8080"),
			ReadTimeout:     getEnvDuration("BILLINGD_READ_TIMEOUT", 15*time.Second),
			WriteTimeout:    getEnvDuration("BILLINGD_WRITE_TIMEOUT", 15*time.Second),
			IdleTimeout:     getEnvDuration("BILLINGD_IDLE_TIMEOUT", 60*time.Second),
			ShutdownTimeout: getEnvDuration("BILLINGD_SHUTDOWN_TIMEOUT", 30*time.Second),
		},
		Database: DatabaseConfig{
			URL:          getEnv("BILLINGD_POSTGRES_URL", ""),
			MaxOpenConns: getEnvInt("BILLINGD_POSTGRES_MAX_CONNS", 25),
			MaxIdleConns: getEnvInt("BILLINGD_POSTGRES_IDLE_CONNS", 5),
		},
		Redis: RedisConfig{
			URL:      getEnv("BILLINGD_REDIS_URL", ""),
			PriceTTL: getEnvDuration("BILLINGD_PRICE_CACHE_TTL", 10*time.Minute),
		},
		Stripe: StripeConfig{
			APIKey:             getEnv("BILLINGD_STRIPE_API_KEY", ""),
			CheckoutSuccessURL: getEnv("BILLINGD_CHECKOUT_SUCCESS_URL", ""),
			CheckoutCancelURL:  getEnv("BILLINGD_CHECKOUT_CANCEL_URL", ""),
			PortalReturnURL:    getEnv("BILLINGD_PORTAL_RETURN_URL", ""),
			PriceRefs:          parsePriceRefs(getEnv("BILLINGD_PRICE_REFS", "")),
		},
		Reconciler: ReconcilerConfig{
			Schedule:    getEnv("BILLINGD_RECONCILE_SCHEDULE", "*/15 * * * *"),
			Concurrency: getEnvInt("BILLINGD_RECONCILE_CONCURRENCY", 4),
		},
		Observability: ObservabilityConfig{
			LogLevel:       parseLogLevel(getEnv("BILLINGD_LOG_LEVEL", "info")),
			MetricsEnabled: getEnvBool("BILLINGD_METRICS_ENABLED", true),
		},
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}
	return cfg, nil
}

// Validate checks if the configuration is valid
func (c *Config) Validate() error {
	if c.Server.Port == "" {
		return fmt.Errorf("server port is required")
	}
	if c.Database.URL == "" {
		return fmt.Errorf("BILLINGD_POSTGRES_URL is required")
	}
	if c.Stripe.APIKey == "" {
		return fmt.Errorf("BILLINGD_STRIPE_API_KEY is required")
	}
	if c.Stripe.CheckoutSuccessURL == "" || c.Stripe.CheckoutCancelURL == "" {
		return fmt.Errorf("checkout redirect URLs are required")
	}
	if c.Stripe.PortalReturnURL == "" {
		return fmt.Errorf("BILLINGD_PORTAL_RETURN_URL is required")
	}
	if c.Reconciler.Concurrency < 1 {
		return fmt.Errorf("reconcile concurrency must be at least 1")
	}
	for planID := range c.Stripe.PriceRefs {
		if _, ok := billing.DefaultCatalog().Get(planID); !ok {
			return fmt.Errorf("price ref override for unknown plan: %s", planID)
		}
	}
	return nil
}

// parsePriceRefs parses "plan-id=ref,plan-id=ref" into a map
func parsePriceRefs(raw string) map[string]string {
	if raw == "" {
		return nil
	}
	out := make(map[string]string)
	for _, pair := range strings.Split(raw, ",") {
		pair = strings.TrimSpace(pair)
		if pair == "" {
			continue
		}
		parts := strings.SplitN(pair, "=", 2)
		if len(parts) != 2 {
			continue
		}
		out[strings.TrimSpace(parts[0])] = strings.TrimSpace(parts[1])
	}
	return out
}

// parseLogLevel converts a string log level to observability.LogLevel
func parseLogLevel(level string) observability.LogLevel {
	switch strings.ToLower(level) {
	case "debug":
		return observability.DebugLevel
	case "warn", "warning":
		return observability.WarnLevel
	case "error":
		return observability.ErrorLevel
	default:
		return observability.InfoLevel
	}
}

// getEnv returns an environment variable or a default
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getEnvBool returns a boolean environment variable or a default
func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		return strings.ToLower(value) == "true" || value == "1"
	}
	return defaultValue
}

// getEnvInt returns an integer environment variable or a default
func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return defaultValue
}

// getEnvDuration returns a duration environment variable or a default
func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if duration, err := time.ParseDuration(value); err == nil {
			return duration
		}
	}
	return defaultValue
}
