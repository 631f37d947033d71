package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/kelseyhightower/envconfig"
)

// Config holds all application configuration loaded from environment variables.
// All fields are validated at startup to ensure fail-fast behavior.
type Config struct {
	// Server configuration
	ServerAddr        string `envconfig:"SERVER_ADDR" default:":8080"`
	LogLevel          string `envconfig:"LOG_LEVEL" default:"info"`
	Environment       string `envconfig:"ENVIRONMENT" default:"development"`
	CORSAllowedOrigin string `envconfig:"CORS_ALLOWED_ORIGIN"`
	MetricsEnabled    bool   `envconfig:"METRICS_ENABLED" default:"true"`

	// Solana configuration
	SolanaRPCURL             string        `envconfig:"SOLANA_RPC_URL" default:"https://api.mainnet-beta.solana.com"`
	SolanaRPCURLs            []string      `envconfig:"SOLANA_RPC_URLS"`
	Commitment               string        `envconfig:"SOLANA_COMMITMENT" default:"confirmed"`
	ConfirmationTimeout      time.Duration `envconfig:"CONFIRMATION_TIMEOUT" default:"30s"`
	ConfirmationPollInterval time.Duration `envconfig:"CONFIRMATION_POLL_INTERVAL" default:"500ms"`
	RPCReadRetries           int           `envconfig:"RPC_READ_RETRIES" default:"2"`
	RPCRetryBackoff          time.Duration `envconfig:"RPC_RETRY_BACKOFF" default:"250ms"`
	VerifySenderKey          bool          `envconfig:"VERIFY_SENDER_KEY" default:"true"`

	// Authorization configuration
	AuthTokenSecret string `envconfig:"AUTH_TOKEN_SECRET"`
	AuthTokenIssuer string `envconfig:"AUTH_TOKEN_ISSUER"`

	// Transfer rate limiting (per authenticated subject)
	TransferRateLimitRPS   float64 `envconfig:"TRANSFER_RATE_LIMIT_RPS" default:"1"`
	TransferRateLimitBurst int     `envconfig:"TRANSFER_RATE_LIMIT_BURST" default:"3"`

	// Optional collaborators. Empty disables the feature.
	DatabaseURL    string        `envconfig:"DATABASE_URL"`
	NATSURL        string        `envconfig:"NATS_URL"`
	RedisURL       string        `envconfig:"REDIS_URL"`
	IdempotencyTTL time.Duration `envconfig:"IDEMPOTENCY_TTL" default:"24h"`

	// Temporal configuration
	TemporalHost      string `envconfig:"TEMPORAL_HOST"`
	TemporalNamespace string `envconfig:"TEMPORAL_NAMESPACE" default:"default"`
	TemporalTaskQueue string `envconfig:"TEMPORAL_TASK_QUEUE" default:"solrelay-reconcile"`
}

const (
	minSecretLength  = 32
	maxConfirmWait   = 5 * time.Minute
	developmentEnv   = "development"
	defaultDevOrigin = "*"
)

var validCommitments = map[string]bool{
	"processed": true,
	"confirmed": true,
	"finalized": true,
}

// Load reads configuration from environment variables and validates all fields.
// Returns an error listing every problem found.
func Load() (*Config, error) {
	cfg := &Config{}
	if err := envconfig.Process("", cfg); err != nil {
		return nil, fmt.Errorf("failed to process config: %w", err)
	}

	if cfg.CORSAllowedOrigin == "" && cfg.Environment == developmentEnv {
		cfg.CORSAllowedOrigin = defaultDevOrigin
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

	if c.SolanaRPCURL == "" && len(c.SolanaRPCURLs) == 0 {
		errs = append(errs, fmt.Errorf("SOLANA_RPC_URL is required"))
	}

	if !validCommitments[c.Commitment] {
		errs = append(errs, fmt.Errorf("SOLANA_COMMITMENT must be one of processed, confirmed, finalized (got %q)", c.Commitment))
	}

	if c.ConfirmationTimeout <= 0 || c.ConfirmationTimeout > maxConfirmWait {
		errs = append(errs, fmt.Errorf("CONFIRMATION_TIMEOUT must be between 0 and %v (got %v)", maxConfirmWait, c.ConfirmationTimeout))
	}

	if c.ConfirmationPollInterval <= 0 || c.ConfirmationPollInterval >= c.ConfirmationTimeout {
		errs = append(errs, fmt.Errorf("CONFIRMATION_POLL_INTERVAL (%v) must be positive and less than CONFIRMATION_TIMEOUT (%v)",
			c.ConfirmationPollInterval, c.ConfirmationTimeout))
	}

	if c.RPCReadRetries < 0 || c.RPCReadRetries > 5 {
		errs = append(errs, fmt.Errorf("RPC_READ_RETRIES must be between 0 and 5 (got %d)", c.RPCReadRetries))
	}

	if c.AuthTokenSecret == "" {
		errs = append(errs, fmt.Errorf("AUTH_TOKEN_SECRET is required"))
	} else if len(c.AuthTokenSecret) < minSecretLength {
		errs = append(errs, fmt.Errorf("AUTH_TOKEN_SECRET must be at least %d bytes", minSecretLength))
	}

	if c.CORSAllowedOrigin == "" {
		errs = append(errs, fmt.Errorf("CORS_ALLOWED_ORIGIN is required outside %s", developmentEnv))
	} else if c.CORSAllowedOrigin == "*" && c.Environment != developmentEnv {
		errs = append(errs, fmt.Errorf("CORS_ALLOWED_ORIGIN cannot be '*' in %s", c.Environment))
	}

	if c.TransferRateLimitRPS <= 0 || c.TransferRateLimitBurst <= 0 {
		errs = append(errs, fmt.Errorf("TRANSFER_RATE_LIMIT_RPS and TRANSFER_RATE_LIMIT_BURST must be positive"))
	}

	if c.RedisURL != "" && c.IdempotencyTTL < time.Minute {
		errs = append(errs, fmt.Errorf("IDEMPOTENCY_TTL must be at least 1m (got %v)", c.IdempotencyTTL))
	}

	if c.TemporalHost != "" && (c.TemporalNamespace == "" || c.TemporalTaskQueue == "") {
		errs = append(errs, fmt.Errorf("TEMPORAL_NAMESPACE and TEMPORAL_TASK_QUEUE are required when TEMPORAL_HOST is set"))
	}

	if len(errs) > 0 {
		return fmt.Errorf("configuration validation failed: %v", errs)
	}

	return nil
}

// RPCEndpoints returns the configured RPC endpoints, preferring the list form.
func (c *Config) RPCEndpoints() []string {
	var out []string
	for _, u := range c.SolanaRPCURLs {
		if u = strings.TrimSpace(u); u != "" {
			out = append(out, u)
		}
	}
	if len(out) == 0 && c.SolanaRPCURL != "" {
		out = append(out, c.SolanaRPCURL)
	}
	return out
}

// ReconciliationEnabled reports whether timed-out transfers are handed to Temporal.
func (c *Config) ReconciliationEnabled() bool {
	return c.TemporalHost != ""
}
