// Package config provides configuration management functionality.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/aristath/brokersync/internal/utils"
	"github.com/joho/godotenv"
)

// Config holds application configuration
type Config struct {
	DataDir  string // Base directory for the ledger file store (always absolute)
	LogLevel string
	Port     int
	DevMode  bool

	Gateway  GatewayConfig
	Fallback FallbackConfig
	Storage  StorageConfig
	Hub      HubConfig
	Risk     RiskConfig

	SystemStatusInterval  time.Duration
	MarketRefreshInterval time.Duration // 0 disables mark-to-market refresh
	AllowedOrigins        []string      // CORS and websocket origin patterns; empty allows any
}

// GatewayConfig configures the brokerage gateway client
type GatewayConfig struct {
	BaseURL        string
	AccountID      string
	RequestTimeout time.Duration
	RetryDelay     time.Duration
	MaxAttempts    int
	InsecureTLS    bool // Client Portal gateways ship with a self-signed certificate
	QuoteCacheTTL  time.Duration
}

// FallbackConfig configures the Yahoo Finance fallback provider
type FallbackConfig struct {
	RequestTimeout time.Duration
}

// StorageConfig selects the ledger store. S3 is used when Bucket is set.
type StorageConfig struct {
	Bucket          string
	Prefix          string
	Region          string
	Endpoint        string
	AccessKeyID     string
	SecretAccessKey string
}

// UseS3 reports whether the object store backend is configured
func (s StorageConfig) UseS3() bool {
	return s.Bucket != ""
}

// HubConfig configures the realtime broadcast hub
type HubConfig struct {
	SweepInterval    time.Duration
	HeartbeatTimeout time.Duration
	SendBuffer       int
}

// RiskConfig holds the post-sync risk limits
type RiskConfig struct {
	MaxPositionValue float64
	MaxConcentration float64
}

// Load reads configuration from environment variables
func Load() (*Config, error) {
	// Load .env file if it exists
	_ = godotenv.Load()

	dataDir := getEnv("BROKERSYNC_DATA_DIR", "./data")
	absDataDir, err := filepath.Abs(dataDir)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve data directory path: %w", err)
	}
	if err := os.MkdirAll(absDataDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create data directory: %w", err)
	}

	cfg := &Config{
		DataDir:  absDataDir,
		LogLevel: getEnv("LOG_LEVEL", "info"),
		Port:     getEnvAsInt("BROKERSYNC_PORT", 8080),
		DevMode:  getEnvAsBool("DEV_MODE", false),
		Gateway: GatewayConfig{
			BaseURL:        getEnv("IBKR_GATEWAY_URL", "https://localhost:5000"),
			AccountID:      getEnv("IBKR_ACCOUNT_ID", ""),
			RequestTimeout: getEnvAsDuration("IBKR_REQUEST_TIMEOUT", 15*time.Second),
			RetryDelay:     getEnvAsDuration("IBKR_RETRY_DELAY", 5*time.Second),
			MaxAttempts:    getEnvAsInt("IBKR_MAX_ATTEMPTS", 5),
			InsecureTLS:    getEnvAsBool("IBKR_INSECURE_TLS", true),
			QuoteCacheTTL:  getEnvAsDuration("QUOTE_CACHE_TTL", 10*time.Second),
		},
		Fallback: FallbackConfig{
			RequestTimeout: getEnvAsDuration("FALLBACK_REQUEST_TIMEOUT", 10*time.Second),
		},
		Storage: StorageConfig{
			Bucket:          getEnv("BROKERSYNC_S3_BUCKET", ""),
			Prefix:          getEnv("BROKERSYNC_S3_PREFIX", "brokersync/"),
			Region:          getEnv("BROKERSYNC_S3_REGION", "us-east-1"),
			Endpoint:        getEnv("BROKERSYNC_S3_ENDPOINT", ""),
			AccessKeyID:     getEnv("BROKERSYNC_S3_ACCESS_KEY_ID", ""),
			SecretAccessKey: getEnv("BROKERSYNC_S3_SECRET_ACCESS_KEY", ""),
		},
		Hub: HubConfig{
			SweepInterval:    getEnvAsDuration("HUB_SWEEP_INTERVAL", 30*time.Second),
			HeartbeatTimeout: getEnvAsDuration("HUB_HEARTBEAT_TIMEOUT", 60*time.Second),
			SendBuffer:       getEnvAsInt("HUB_SEND_BUFFER", 64),
		},
		Risk: RiskConfig{
			MaxPositionValue: getEnvAsFloat("RISK_MAX_POSITION_VALUE", 10000),
			MaxConcentration: getEnvAsFloat("RISK_MAX_CONCENTRATION", 0.25),
		},
		SystemStatusInterval:  getEnvAsDuration("SYSTEM_STATUS_INTERVAL", 30*time.Second),
		MarketRefreshInterval: getEnvAsDuration("MARKET_REFRESH_INTERVAL", time.Minute),
		AllowedOrigins:        getEnvAsList("ALLOWED_ORIGINS"),
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Validate checks if required configuration is present
func (c *Config) Validate() error {
	if c.Port <= 0 || c.Port > 65535 {
		return fmt.Errorf("invalid port %d", c.Port)
	}
	if c.Gateway.BaseURL == "" {
		return fmt.Errorf("IBKR_GATEWAY_URL is required")
	}
	if c.Gateway.MaxAttempts < 1 {
		return fmt.Errorf("IBKR_MAX_ATTEMPTS must be at least 1")
	}
	if c.Gateway.RetryDelay <= 0 || c.Gateway.RequestTimeout <= 0 {
		return fmt.Errorf("gateway retry delay and request timeout must be positive")
	}
	if c.Hub.SweepInterval <= 0 || c.Hub.HeartbeatTimeout <= 0 {
		return fmt.Errorf("hub sweep interval and heartbeat timeout must be positive")
	}
	if c.Hub.HeartbeatTimeout < c.Hub.SweepInterval {
		return fmt.Errorf("hub heartbeat timeout (%s) must not be shorter than the sweep interval (%s)",
			c.Hub.HeartbeatTimeout, c.Hub.SweepInterval)
	}
	if c.MarketRefreshInterval != 0 && c.MarketRefreshInterval < time.Second {
		return fmt.Errorf("MARKET_REFRESH_INTERVAL must be at least 1s or 0 to disable")
	}
	if c.Storage.UseS3() && c.Storage.Region == "" {
		return fmt.Errorf("BROKERSYNC_S3_REGION is required when BROKERSYNC_S3_BUCKET is set")
	}
	return nil
}

// Helper functions
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvAsInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return defaultValue
}

func getEnvAsFloat(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if f, err := strconv.ParseFloat(value, 64); err == nil {
			return f
		}
	}
	return defaultValue
}

func getEnvAsBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if boolVal, err := strconv.ParseBool(value); err == nil {
			return boolVal
		}
	}
	return defaultValue
}

// getEnvAsList splits a comma separated variable, dropping empty items
func getEnvAsList(key string) []string {
	return utils.ParseCSV(os.Getenv(key))
}

// getEnvAsDuration accepts Go durations ("5s") or a bare number of seconds
func getEnvAsDuration(key string, defaultValue time.Duration) time.Duration {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	if d, err := time.ParseDuration(value); err == nil {
		return d
	}
	if secs, err := strconv.Atoi(value); err == nil {
		return time.Duration(secs) * time.Second
	}
	return defaultValue
}
