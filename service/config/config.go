package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/ethereum/go-ethereum/common"
)

// Config holds all application configuration loaded from environment variables.
// All required fields are validated at startup to ensure fail-fast behavior.
type Config struct {
	// Server configuration
	ServerAddr string
	LogLevel   string

	// Database configuration
	DatabaseURL string

	// NATS configuration
	NATSURL string

	// Chain node configuration
	NodeURL          string
	Network          string // "main" or "test"
	RecipientAddress common.Address
	TokenAddress     common.Address
	TokenDecimals    int

	// Signer configuration (remote signing service for outbound transfers)
	SignerURL string

	// Refetch configuration
	RefetchCooldown time.Duration

	// Email configuration
	EmailBaseURL    string
	EmailServiceID  string
	EmailTemplateID string
	EmailPublicKey  string
}

// Defaults for the main network. Overridable via environment.
const (
	defaultTokenAddress = "0x5ef79995FE8a89e0812330E4378eB2660ceDe699"
	defaultNodeURL      = "https://mainnet.vechain.org"
)

// Load reads configuration from environment variables and validates all required fields.
// Returns an error if any required configuration is missing or invalid.
func Load() (*Config, error) {
	cfg := &Config{}
	var errs []error

	// Server configuration
	cfg.ServerAddr = getEnvOrDefault("SERVER_ADDR", ":8080")
	cfg.LogLevel = getEnvOrDefault("LOG_LEVEL", "info")

	// Database configuration
	cfg.DatabaseURL = os.Getenv("DATABASE_URL")
	if cfg.DatabaseURL == "" {
		errs = append(errs, fmt.Errorf("DATABASE_URL is required"))
	}

	// NATS configuration
	cfg.NATSURL = getEnvOrDefault("NATS_URL", "nats://localhost:4222")

	// Chain node configuration
	cfg.NodeURL = getEnvOrDefault("NODE_URL", defaultNodeURL)
	cfg.Network = getEnvOrDefault("NETWORK", "main")

	recipient := os.Getenv("RECIPIENT_ADDRESS")
	if recipient == "" {
		errs = append(errs, fmt.Errorf("RECIPIENT_ADDRESS is required"))
	} else if !common.IsHexAddress(recipient) {
		errs = append(errs, fmt.Errorf("RECIPIENT_ADDRESS %q is not a valid address", recipient))
	} else {
		cfg.RecipientAddress = common.HexToAddress(recipient)
	}

	token := getEnvOrDefault("TOKEN_ADDRESS", defaultTokenAddress)
	if !common.IsHexAddress(token) {
		errs = append(errs, fmt.Errorf("TOKEN_ADDRESS %q is not a valid address", token))
	} else {
		cfg.TokenAddress = common.HexToAddress(token)
	}

	decimals, err := parseInt("TOKEN_DECIMALS", 18)
	if err != nil {
		errs = append(errs, err)
	} else {
		cfg.TokenDecimals = decimals
	}

	// Signer configuration
	cfg.SignerURL = os.Getenv("SIGNER_URL")
	if cfg.SignerURL == "" {
		errs = append(errs, fmt.Errorf("SIGNER_URL is required"))
	}

	// Refetch configuration
	cooldown, err := parseDuration("REFETCH_COOLDOWN", "10s")
	if err != nil {
		errs = append(errs, err)
	} else {
		cfg.RefetchCooldown = cooldown
	}

	// Email configuration
	cfg.EmailBaseURL = getEnvOrDefault("EMAIL_BASE_URL", "https://api.emailjs.com")
	cfg.EmailServiceID = os.Getenv("EMAIL_SERVICE_ID")
	if cfg.EmailServiceID == "" {
		errs = append(errs, fmt.Errorf("EMAIL_SERVICE_ID is required"))
	}
	cfg.EmailTemplateID = os.Getenv("EMAIL_TEMPLATE_ID")
	if cfg.EmailTemplateID == "" {
		errs = append(errs, fmt.Errorf("EMAIL_TEMPLATE_ID is required"))
	}
	cfg.EmailPublicKey = os.Getenv("EMAIL_PUBLIC_KEY")
	if cfg.EmailPublicKey == "" {
		errs = append(errs, fmt.Errorf("EMAIL_PUBLIC_KEY is required"))
	}

	if len(errs) > 0 {
		return nil, fmt.Errorf("configuration validation failed: %v", errs)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// MustLoad is like Load but panics if configuration is invalid.
// Useful for server initialization where misconfiguration should halt startup.
func MustLoad() *Config {
	cfg, err := Load()
	if err != nil {
		panic(fmt.Sprintf("failed to load configuration: %v", err))
	}
	return cfg
}

// Validate checks if the configuration is valid.
// This is useful for testing configuration without loading from env.
func (c *Config) Validate() error {
	var errs []error

	if c.DatabaseURL == "" {
		errs = append(errs, fmt.Errorf("DatabaseURL is required"))
	}

	if c.NodeURL == "" {
		errs = append(errs, fmt.Errorf("NodeURL is required"))
	}

	if c.Network != "main" && c.Network != "test" {
		errs = append(errs, fmt.Errorf("Network must be %q or %q, got %q", "main", "test", c.Network))
	}

	zero := common.Address{}
	if c.RecipientAddress == zero {
		errs = append(errs, fmt.Errorf("RecipientAddress is required"))
	}

	if c.TokenAddress == zero {
		errs = append(errs, fmt.Errorf("TokenAddress is required"))
	}

	if c.RecipientAddress == c.TokenAddress {
		errs = append(errs, fmt.Errorf("RecipientAddress and TokenAddress must be different"))
	}

	if c.TokenDecimals < 0 || c.TokenDecimals > 36 {
		errs = append(errs, fmt.Errorf("TokenDecimals must be between 0 and 36, got %d", c.TokenDecimals))
	}

	if c.RefetchCooldown < time.Second {
		errs = append(errs, fmt.Errorf("RefetchCooldown must be at least 1 second, got %v", c.RefetchCooldown))
	}

	if c.SignerURL == "" {
		errs = append(errs, fmt.Errorf("SignerURL is required"))
	}

	if len(errs) > 0 {
		return fmt.Errorf("configuration validation failed: %v", errs)
	}

	return nil
}

// getEnvOrDefault returns the environment variable value or a default if not set.
func getEnvOrDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// parseDuration parses a duration from an environment variable or uses a default.
func parseDuration(key, defaultValue string) (time.Duration, error) {
	value := getEnvOrDefault(key, defaultValue)
	duration, err := time.ParseDuration(value)
	if err != nil {
		return 0, fmt.Errorf("%s: invalid duration %q: %w", key, value, err)
	}
	return duration, nil
}

// parseInt parses an integer from an environment variable or uses a default.
func parseInt(key string, defaultValue int) (int, error) {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue, nil
	}
	result, err := strconv.Atoi(value)
	if err != nil {
		return 0, fmt.Errorf("%s: invalid integer %q: %w", key, value, err)
	}
	return result, nil
}
