package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/kelseyhightower/envconfig"
	"github.com/rs/zerolog/log"
)

// Environment represents different deployment environments
type Environment string

const (
	EnvDevelopment Environment = "development"
	EnvTesting     Environment = "testing"
	EnvProduction  Environment = "production"
)

// Config holds the configuration for the directory service.
// Environment variables are parsed with the CAPNET_ prefix; envconfig falls
// back to the unprefixed name (e.g. KV_URL, TRUSTGRAPH_URL) when the
// prefixed one is unset.
type Config struct {
	Environment Environment `envconfig:"CAPNET_ENV" default:"development"`
	LogLevel    string      `envconfig:"LOG_LEVEL" default:"info"`

	// HTTP Configuration
	HTTPPort   int    `envconfig:"HTTP_PORT" default:"8080"`
	APIBaseURL string `envconfig:"API_BASE_URL" default:""`
	CORSOrigin string `envconfig:"CORS_ORIGIN" default:"*"`

	// Durable key-value store. Presence of KVURL selects the Redis backend.
	KVURL    string `envconfig:"KV_URL" default:""`
	KVToken  string `envconfig:"KV_TOKEN" default:""`
	KVPrefix string `envconfig:"KV_PREFIX" default:"capnet:"`

	// Console endpoints answer 503 KV_REQUIRED on the memory backend when set.
	ConsoleRequiresKV bool `envconfig:"CONSOLE_REQUIRES_KV" default:"false"`

	// TrustGraph reputation service
	TrustGraphURL     string `envconfig:"TRUSTGRAPH_URL" default:""`
	TrustGraphAPIKey  string `envconfig:"TRUSTGRAPH_API_KEY" default:""`
	TrustGraphEnabled bool   `envconfig:"TRUSTGRAPH_ENABLED" default:"true"`

	// Trust ledger webhook. URL and API key default to the TrustGraph values.
	LedgerURL     string `envconfig:"LEDGER_URL" default:""`
	LedgerAPIKey  string `envconfig:"LEDGER_API_KEY" default:""`
	WebhookSecret string `envconfig:"TRUSTGRAPH_WEBHOOK_SECRET" default:""`
	LedgerEnabled bool   `envconfig:"LEDGER_ENABLED" default:"true"`

	// WakeNet signal service, probed by /api/status only.
	WakeNetURL string `envconfig:"WAKENET_URL" default:""`

	IdentityNamespace string `envconfig:"IDENTITY_NAMESPACE" default:"praxis"`

	ExternalTimeoutSeconds int `envconfig:"EXTERNAL_TIMEOUT_SECONDS" default:"5"`
	TrustCacheTTLSeconds   int `envconfig:"TRUST_CACHE_TTL_SECONDS" default:"90"`

	// Trust event dispatch
	EventQueueSize int `envconfig:"EVENT_QUEUE_SIZE" default:"256"`
	EventWorkers   int `envconfig:"EVENT_WORKERS" default:"2"`

	// Health checking
	HealthIntervalSeconds     int `envconfig:"HEALTH_INTERVAL_SECONDS" default:"30"`
	HealthProbeTimeoutSeconds int `envconfig:"HEALTH_PROBE_TIMEOUT_SECONDS" default:"2"`
}

// ResolveDefaults validates the environment and derives ledger settings from
// TrustGraph when they are not set explicitly.
func (c *Config) ResolveDefaults() error {
	switch c.Environment {
	case EnvDevelopment, EnvTesting, EnvProduction:
	case "dev", "":
		c.Environment = EnvDevelopment
	case "prod":
		c.Environment = EnvProduction
	default:
		return fmt.Errorf("unsupported ENV: %s", c.Environment)
	}

	if c.LedgerURL == "" {
		c.LedgerURL = c.TrustGraphURL
	}
	if c.LedgerAPIKey == "" {
		c.LedgerAPIKey = c.TrustGraphAPIKey
	}
	if c.KVPrefix == "" {
		c.KVPrefix = "capnet:"
	}
	if strings.TrimSpace(c.IdentityNamespace) == "" {
		return fmt.Errorf("IDENTITY_NAMESPACE must not be empty")
	}
	if c.ExternalTimeoutSeconds <= 0 {
		c.ExternalTimeoutSeconds = 5
	}
	if c.TrustCacheTTLSeconds <= 0 {
		c.TrustCacheTTLSeconds = 90
	}
	if c.APIBaseURL == "" {
		c.APIBaseURL = fmt.Sprintf("http://localhost:%d", c.HTTPPort)
	}
	return nil
}

// New creates a new Config by parsing environment variables
// Environment variables should be prefixed with CAPNET_
// Example: CAPNET_KV_URL, CAPNET_HTTP_PORT
func New() (*Config, error) {
	var cfg Config

	if err := envconfig.Process("CAPNET", &cfg); err != nil {
		return nil, fmt.Errorf("failed to process environment variables: %w", err)
	}

	if err := cfg.ResolveDefaults(); err != nil {
		return nil, err
	}

	log.Info().
		Str("environment", string(cfg.Environment)).
		Int("port", cfg.HTTPPort).
		Str("store", cfg.StoreKind()).
		Str("kv_prefix", cfg.KVPrefix).
		Bool("trustgraph_enabled", cfg.ReputationEnabled()).
		Bool("ledger_enabled", cfg.LedgerActive()).
		Str("identity_namespace", cfg.IdentityNamespace).
		Msg("Configuration loaded")

	return &cfg, nil
}

// NewForTesting creates a config specifically for testing
func NewForTesting() *Config {
	cfg := &Config{
		Environment:               EnvTesting,
		LogLevel:                  "debug",
		HTTPPort:                  8080,
		CORSOrigin:                "*",
		KVPrefix:                  "capnet-test:",
		TrustGraphEnabled:         true,
		LedgerEnabled:             true,
		IdentityNamespace:         "praxis",
		ExternalTimeoutSeconds:    5,
		TrustCacheTTLSeconds:      90,
		EventQueueSize:            16,
		EventWorkers:              1,
		HealthIntervalSeconds:     1,
		HealthProbeTimeoutSeconds: 1,
	}
	_ = cfg.ResolveDefaults()
	return cfg
}

// UseKV reports whether the durable key-value backend is configured.
func (c *Config) UseKV() bool { return c.KVURL != "" }

// StoreKind names the selected store backend.
func (c *Config) StoreKind() string {
	if c.UseKV() {
		return "kv"
	}
	return "memory"
}

// ReputationEnabled reports whether reputation lookups may reach TrustGraph.
func (c *Config) ReputationEnabled() bool {
	return c.TrustGraphEnabled && c.TrustGraphURL != ""
}

// LedgerActive reports whether trust events are delivered.
func (c *Config) LedgerActive() bool {
	return c.LedgerEnabled && c.LedgerURL != ""
}

// SecureCookies is true everywhere except local development.
func (c *Config) SecureCookies() bool {
	return c.Environment != EnvDevelopment
}

// ExternalTimeout bounds every outbound call to TrustGraph, the ledger, and status probes.
func (c *Config) ExternalTimeout() time.Duration {
	return time.Duration(c.ExternalTimeoutSeconds) * time.Second
}

// TrustCacheTTL is the lifetime of cached reputation results.
func (c *Config) TrustCacheTTL() time.Duration {
	return time.Duration(c.TrustCacheTTLSeconds) * time.Second
}

// IsTesting returns true if the environment is set to testing
func (c *Config) IsTesting() bool {
	return c.Environment == EnvTesting
}

// IsProduction returns true if the environment is set to production
func (c *Config) IsProduction() bool {
	return c.Environment == EnvProduction
}

// GetHTTPAddr returns the HTTP server address
func (c *Config) GetHTTPAddr() string {
	return fmt.Sprintf(":%d", c.HTTPPort)
}
