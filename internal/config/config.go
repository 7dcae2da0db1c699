package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds infrastructure-level configuration loaded from the environment.
type Config struct {
	// Database
	PostgresDSN string

	// Chain
	EthRPCURL     string
	Confirmations uint64

	// Transaction monitoring
	MonitorTimeout time.Duration
	PollInterval   time.Duration

	// Gas estimation
	GasSafetyMultiplier float64
	EstimateTTL         time.Duration

	// Swap
	QuoteTTL           time.Duration
	PriceImpactCeiling float64
	DefaultSlippagePct float64
	SwapRouterAddress  string
	SwapQuoterAddress  string

	// Session
	IdleLockTimeout time.Duration

	// Server
	Port             int
	RateLimitRPS     int
	RateLimitBurst   int
	RateLimitEnabled bool
}

// Load loads configuration from environment variables
func Load() (*Config, error) {
	cfg := &Config{
		PostgresDSN:         getEnv("POSTGRES_DSN", ""),
		EthRPCURL:           getEnv("ETH_RPC_URL", ""),
		Confirmations:       uint64(getEnvInt("TX_CONFIRMATIONS", 1)),
		MonitorTimeout:      getEnvDuration("TX_MONITOR_TIMEOUT", 10*time.Minute),
		PollInterval:        getEnvDuration("TX_POLL_INTERVAL", 4*time.Second),
		GasSafetyMultiplier: getEnvFloat("GAS_SAFETY_MULTIPLIER", 1.2),
		EstimateTTL:         getEnvDuration("GAS_ESTIMATE_TTL", 15*time.Second),
		QuoteTTL:            getEnvDuration("SWAP_QUOTE_TTL", 30*time.Second),
		PriceImpactCeiling:  getEnvFloat("SWAP_PRICE_IMPACT_CEILING", 3.0),
		DefaultSlippagePct:  getEnvFloat("SWAP_DEFAULT_SLIPPAGE", 0.5),
		SwapRouterAddress:   getEnv("SWAP_ROUTER_ADDRESS", ""),
		SwapQuoterAddress:   getEnv("SWAP_QUOTER_ADDRESS", ""),
		IdleLockTimeout:     getEnvDuration("SESSION_IDLE_TIMEOUT", 5*time.Minute),
		Port:                getEnvInt("PORT", 8080),
		RateLimitRPS:        getEnvInt("RATE_LIMIT_RPS", 20),
		RateLimitBurst:      getEnvInt("RATE_LIMIT_BURST", 40),
		RateLimitEnabled:    getEnvBool("RATE_LIMIT_ENABLED", true),
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

// Validate checks if the configuration is valid
func (c *Config) Validate() error {
	if c.PostgresDSN == "" {
		return fmt.Errorf("POSTGRES_DSN is required")
	}

	if c.EthRPCURL == "" {
		return fmt.Errorf("ETH_RPC_URL is required")
	}

	if c.Confirmations == 0 {
		return fmt.Errorf("TX_CONFIRMATIONS must be at least 1")
	}

	if c.GasSafetyMultiplier < 1.0 {
		return fmt.Errorf("GAS_SAFETY_MULTIPLIER must be >= 1.0, got: %g", c.GasSafetyMultiplier)
	}

	if c.PriceImpactCeiling <= 0 || c.PriceImpactCeiling > 100 {
		return fmt.Errorf("SWAP_PRICE_IMPACT_CEILING must be in (0, 100], got: %g", c.PriceImpactCeiling)
	}

	if c.DefaultSlippagePct < 0 || c.DefaultSlippagePct > 100 {
		return fmt.Errorf("SWAP_DEFAULT_SLIPPAGE must be in [0, 100], got: %g", c.DefaultSlippagePct)
	}

	if c.IdleLockTimeout <= 0 {
		return fmt.Errorf("SESSION_IDLE_TIMEOUT must be positive")
	}

	return nil
}

// getEnv gets an environment variable with a default value
func getEnv(key, defaultValue string) string {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	return value
}

// getEnvInt gets an integer environment variable with a default value
func getEnvInt(key string, defaultValue int) int {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	value, err := strconv.Atoi(valueStr)
	if err != nil {
		return defaultValue
	}
	return value
}

// getEnvFloat gets a float environment variable with a default value
func getEnvFloat(key string, defaultValue float64) float64 {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	value, err := strconv.ParseFloat(valueStr, 64)
	if err != nil {
		return defaultValue
	}
	return value
}

// getEnvDuration gets a duration environment variable with a default value
func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	value, err := time.ParseDuration(valueStr)
	if err != nil {
		return defaultValue
	}
	return value
}

// getEnvBool gets a boolean environment variable with a default value
func getEnvBool(key string, defaultValue bool) bool {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	valueStr = strings.ToLower(valueStr)
	return valueStr == "true" || valueStr == "1" || valueStr == "yes"
}
