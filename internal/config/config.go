// Package config handles YAML configuration loading with environment variable expansion.
package config

import (
	"fmt"
	"os"
	"regexp"
	"time"

	"go.yaml.in/yaml/v3"
)

// Config is the top-level gateway configuration.
type Config struct {
	Server     ServerConfig    `yaml:"server"`
	Database   DatabaseConfig  `yaml:"database"`
	Auth       AuthConfig      `yaml:"auth"`
	Crypto     CryptoConfig    `yaml:"crypto"`
	RateLimits RateLimitConfig `yaml:"rate_limits"`
	Cache      CacheConfig     `yaml:"cache"`
	Telemetry  TelemetryConfig `yaml:"telemetry"`
	Channels   []ChannelEntry  `yaml:"channels"`
	Keys       []KeyEntry      `yaml:"keys"`
	OAuth      OAuthConfig     `yaml:"oauth"`
}

// OAuthConfig holds per-vendor OAuth client credentials for the admin-side
// authorize/callback flow (google/azure-hosted channels only; spec's env
// var list names "vendor OAuth client ids/secrets").
type OAuthConfig struct {
	Providers map[string]OAuthProviderConfig `yaml:"providers"`
}

// OAuthProviderConfig is one vendor's registered OAuth application.
type OAuthProviderConfig struct {
	ClientID     string `yaml:"client_id"`
	ClientSecret string `yaml:"client_secret"`
	RedirectURL  string `yaml:"redirect_url"`
}

// TelemetryConfig holds observability settings.
type TelemetryConfig struct {
	Metrics MetricsConfig `yaml:"metrics"`
	Tracing TracingConfig `yaml:"tracing"`
}

// MetricsConfig controls Prometheus metrics.
type MetricsConfig struct {
	Enabled bool `yaml:"enabled"`
}

// TracingConfig controls OpenTelemetry tracing.
type TracingConfig struct {
	Enabled    bool    `yaml:"enabled"`
	Endpoint   string  `yaml:"endpoint"`    // OTLP gRPC endpoint
	SampleRate float64 `yaml:"sample_rate"` // 0.0 to 1.0
}

// RateLimitConfig holds default identity-scoped rate limiting settings,
// layered on top of the fixed-window ingress presets.
type RateLimitConfig struct {
	DefaultRPM int64 `yaml:"default_rpm"` // default per-key requests per minute (0 = ingress preset only)
	DefaultTPM int64 `yaml:"default_tpm"` // default per-key tokens per minute (0 = unlimited)
}

// CacheConfig holds transform/routing decision cache settings.
type CacheConfig struct {
	Enabled    bool          `yaml:"enabled"`
	MaxSize    int           `yaml:"max_size"`
	DefaultTTL time.Duration `yaml:"default_ttl"`
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Addr            string        `yaml:"addr"`
	ReadTimeout     time.Duration `yaml:"read_timeout"`
	WriteTimeout    time.Duration `yaml:"write_timeout"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
}

// DatabaseConfig holds SQLite settings.
type DatabaseConfig struct {
	DSN string `yaml:"dsn"` // file path or ":memory:"
}

// AuthConfig holds admin-surface authentication settings.
type AuthConfig struct {
	AdminKey        string `yaml:"admin_key"`        // parsed but not read; admin keys are seeded from Keys
	SignatureSecret string `yaml:"signature_secret"` // HMAC secret for request signing; empty disables verification
}

// CryptoConfig configures the at-rest encryption box used for Channel
// credentials (APIKeyEnc, RefreshToken).
type CryptoConfig struct {
	Passphrase string `yaml:"passphrase"`
	Salt       string `yaml:"salt"` // hex-encoded; a fixed deployment salt, not a per-secret one
}

// ChannelEntry is a channel definition in the config file. Credentials are
// plaintext here and encrypted once at bootstrap time via the configured
// CryptoConfig box before being persisted.
type ChannelEntry struct {
	Name         string   `yaml:"name"`
	Vendor       string   `yaml:"vendor"`
	BaseURL      string   `yaml:"base_url"`
	APIKey       string   `yaml:"api_key"`
	RefreshToken string   `yaml:"refresh_token"`
	Models       []string `yaml:"models"`
	Priority     int      `yaml:"priority"`
	Weight       int      `yaml:"weight"`
	Transformers []string `yaml:"transformers"`
	Enabled      *bool    `yaml:"enabled"`
}

// IsEnabled reports whether the channel is enabled (defaults to true when nil).
func (c ChannelEntry) IsEnabled() bool {
	return c.Enabled == nil || *c.Enabled
}

// KeyEntry is an admin API key seed in the config file.
type KeyEntry struct {
	Name     string `yaml:"name"`
	Key      string `yaml:"key"` // plaintext, hashed on bootstrap
	Role     string `yaml:"role"`
	RPMLimit *int64 `yaml:"rpm_limit"`
	TPMLimit *int64 `yaml:"tpm_limit"`
}

var envPattern = regexp.MustCompile(`\$\{([^}]+)\}|\$([A-Za-z_][A-Za-z0-9_]*)`)

// expandEnv replaces ${VAR} and $VAR patterns with environment variable
// values. References to unset variables are left as written.
func expandEnv(data []byte) []byte {
	return envPattern.ReplaceAllFunc(data, func(match []byte) []byte {
		varName := string(match[1:])
		if match[1] == '{' {
			varName = string(match[2 : len(match)-1])
		}
		if val, ok := os.LookupEnv(varName); ok {
			return []byte(val)
		}
		return match
	})
}

// Load reads and parses a YAML config file, expanding environment variables.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}
	data = expandEnv(data)

	cfg := &Config{
		Server: ServerConfig{
			Addr:            ":8080",
			ReadTimeout:     30 * time.Second,
			WriteTimeout:    120 * time.Second,
			ShutdownTimeout: 30 * time.Second,
		},
		Database: DatabaseConfig{
			DSN: "routex.db",
		},
		RateLimits: RateLimitConfig{
			DefaultRPM: 0,
			DefaultTPM: 0,
		},
		Cache: CacheConfig{
			Enabled:    true,
			MaxSize:    10_000,
			DefaultTTL: 5 * time.Minute,
		},
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	return cfg, nil
}
