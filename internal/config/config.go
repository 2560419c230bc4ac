// Package config provides configuration loading, parsing, and validation for planbridge.
package config

import (
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/samber/mo"
)

// Log level constants.
const (
	LevelDebug = "debug"
	LevelInfo  = "info"
	LevelWarn  = "warn"
	LevelError = "error"
)

// Week start constants for usage aggregation.
const (
	WeekStartMonday = "monday"
	WeekStartSunday = "sunday"
)

// Config represents the complete planbridge configuration.
type Config struct {
	Environment string         `yaml:"environment" toml:"environment"`
	Server      ServerConfig   `yaml:"server" toml:"server"`
	Logging     LoggingConfig  `yaml:"logging" toml:"logging"`
	Database    DatabaseConfig `yaml:"database" toml:"database"`
	Plan        PlanConfig     `yaml:"plan" toml:"plan"`
	Bedrock     BedrockConfig  `yaml:"bedrock" toml:"bedrock"`
	Auth        AuthConfig     `yaml:"auth" toml:"auth"`
	Circuit     CircuitConfig  `yaml:"circuit" toml:"circuit"`
	KMS         KMSConfig      `yaml:"kms" toml:"kms"`
	Usage       UsageConfig    `yaml:"usage" toml:"usage"`
	Metrics     MetricsConfig  `yaml:"metrics" toml:"metrics"`
}

// ServerConfig defines listener-level settings.
type ServerConfig struct {
	Listen      string `yaml:"listen" toml:"listen"`
	EnableHTTP2 bool   `yaml:"enable_http2" toml:"enable_http2"` // Enable HTTP/2 cleartext (h2c) support
}

// LoggingConfig defines logging behavior.
type LoggingConfig struct {
	Level  string `yaml:"level" toml:"level"`   // debug, info, warn, error
	Format string `yaml:"format" toml:"format"` // json, console, auto
	Output string `yaml:"output" toml:"output"` // stdout, stderr, or file path
}

// ParseLevel converts a string log level to zerolog.Level.
// Returns zerolog.InfoLevel if the level string is invalid.
func (l *LoggingConfig) ParseLevel() zerolog.Level {
	switch strings.ToLower(l.Level) {
	case LevelDebug:
		return zerolog.DebugLevel
	case LevelInfo:
		return zerolog.InfoLevel
	case LevelWarn:
		return zerolog.WarnLevel
	case LevelError:
		return zerolog.ErrorLevel
	default:
		return zerolog.InfoLevel
	}
}

// DatabaseConfig defines the relational store connection.
type DatabaseConfig struct {
	URL                string `yaml:"url" toml:"url"` // supports ${ENV_VAR}; env PLANBRIDGE_DATABASE_URL wins
	MaxConns           int    `yaml:"max_conns" toml:"max_conns"`
	ConnLifetimeSecond int    `yaml:"conn_lifetime_seconds" toml:"conn_lifetime_seconds"`
}

// GetMaxConns returns the pool size with default fallback.
func (d *DatabaseConfig) GetMaxConns() int {
	if d.MaxConns <= 0 {
		return 10
	}
	return d.MaxConns
}

// GetConnLifetime returns the maximum connection lifetime with default fallback.
func (d *DatabaseConfig) GetConnLifetime() time.Duration {
	if d.ConnLifetimeSecond <= 0 {
		return 30 * time.Minute
	}
	return time.Duration(d.ConnLifetimeSecond) * time.Second
}

// PlanConfig defines the primary upstream.
type PlanConfig struct {
	APIURL             string `yaml:"api_url" toml:"api_url"`
	APIKey             string `yaml:"api_key" toml:"api_key"` // process-wide fallback credential; env PLANBRIDGE_PLAN_API_KEY wins
	ConnectTimeoutSecs int    `yaml:"connect_timeout_seconds" toml:"connect_timeout_seconds"`
	ReadTimeoutSecs    int    `yaml:"read_timeout_seconds" toml:"read_timeout_seconds"`
}

// GetAPIURL returns the upstream base URL with default fallback.
func (p *PlanConfig) GetAPIURL() string {
	if p.APIURL == "" {
		return "https://api.anthropic.com"
	}
	return strings.TrimSuffix(p.APIURL, "/")
}

// GetAPIKeyOption returns the process-wide plan API key, None when unset.
func (p *PlanConfig) GetAPIKeyOption() mo.Option[string] {
	if p.APIKey == "" {
		return mo.None[string]()
	}
	return mo.Some(p.APIKey)
}

// GetConnectTimeout returns the dial timeout with default fallback (5s).
func (p *PlanConfig) GetConnectTimeout() time.Duration {
	if p.ConnectTimeoutSecs <= 0 {
		return 5 * time.Second
	}
	return time.Duration(p.ConnectTimeoutSecs) * time.Second
}

// GetReadTimeout returns the read timeout with default fallback (300s).
func (p *PlanConfig) GetReadTimeout() time.Duration {
	if p.ReadTimeoutSecs <= 0 {
		return 300 * time.Second
	}
	return time.Duration(p.ReadTimeoutSecs) * time.Second
}

// BedrockConfig defines per-tenant fallback defaults.
type BedrockConfig struct {
	Region          string `yaml:"region" toml:"region"`
	DefaultModel    string `yaml:"default_model" toml:"default_model"`
	KeyCacheTTLSecs int    `yaml:"key_cache_ttl_seconds" toml:"key_cache_ttl_seconds"`
}

// GetRegion returns the AWS region with default fallback.
func (b *BedrockConfig) GetRegion() string {
	if b.Region == "" {
		return "ap-northeast-2"
	}
	return b.Region
}

// GetDefaultModel returns the Bedrock model id with default fallback.
func (b *BedrockConfig) GetDefaultModel() string {
	if b.DefaultModel == "" {
		return "global.anthropic.claude-sonnet-4-5-20250929-v1:0"
	}
	return b.DefaultModel
}

// GetKeyCacheTTL returns the decrypted-credential cache TTL with default fallback (300s).
func (b *BedrockConfig) GetKeyCacheTTL() time.Duration {
	if b.KeyCacheTTLSecs <= 0 {
		return 300 * time.Second
	}
	return time.Duration(b.KeyCacheTTLSecs) * time.Second
}

// AuthConfig defines access-key authentication settings.
type AuthConfig struct {
	// HasherSecret salts the access-key fingerprint. Required; env PLANBRIDGE_KEY_HASHER_SECRET wins.
	HasherSecret string `yaml:"hasher_secret" toml:"hasher_secret"`
	CacheTTLSecs int    `yaml:"cache_ttl_seconds" toml:"cache_ttl_seconds"`
}

// GetCacheTTL returns the auth cache TTL with default fallback (60s).
func (a *AuthConfig) GetCacheTTL() time.Duration {
	if a.CacheTTLSecs <= 0 {
		return 60 * time.Second
	}
	return time.Duration(a.CacheTTLSecs) * time.Second
}

// CircuitConfig defines per-key circuit breaker parameters.
type CircuitConfig struct {
	FailureThreshold int `yaml:"failure_threshold" toml:"failure_threshold"`
	FailureWindowSec int `yaml:"failure_window_seconds" toml:"failure_window_seconds"`
	ResetTimeoutSecs int `yaml:"reset_timeout_seconds" toml:"reset_timeout_seconds"`
}

// GetFailureThreshold returns the trip threshold with default fallback (3).
func (c *CircuitConfig) GetFailureThreshold() int {
	if c.FailureThreshold <= 0 {
		return 3
	}
	return c.FailureThreshold
}

// GetFailureWindow returns the sliding window with default fallback (60s).
func (c *CircuitConfig) GetFailureWindow() time.Duration {
	if c.FailureWindowSec <= 0 {
		return 60 * time.Second
	}
	return time.Duration(c.FailureWindowSec) * time.Second
}

// GetResetTimeout returns the open-state hold time with default fallback (1800s).
func (c *CircuitConfig) GetResetTimeout() time.Duration {
	if c.ResetTimeoutSecs <= 0 {
		return 1800 * time.Second
	}
	return time.Duration(c.ResetTimeoutSecs) * time.Second
}

// KMSConfig selects the credential decrypter.
// When KeyID is set the AWS KMS decrypter is used; otherwise LocalEncryptionKey
// enables the local AES-GCM decrypter (development deployments).
type KMSConfig struct {
	KeyID              string `yaml:"key_id" toml:"key_id"`
	LocalEncryptionKey string `yaml:"local_encryption_key" toml:"local_encryption_key"`
}

// GetKeyIDOption returns the KMS key id, None when unset.
func (k *KMSConfig) GetKeyIDOption() mo.Option[string] {
	if k.KeyID == "" {
		return mo.None[string]()
	}
	return mo.Some(k.KeyID)
}

// UsageConfig defines aggregation bucket behavior.
type UsageConfig struct {
	WeekStart string `yaml:"week_start" toml:"week_start"` // monday (default) or sunday
	Timezone  string `yaml:"timezone" toml:"timezone"`     // IANA name, default UTC
}

// GetWeekStart returns the configured week-start weekday.
func (u *UsageConfig) GetWeekStart() time.Weekday {
	if strings.EqualFold(u.WeekStart, WeekStartSunday) {
		return time.Sunday
	}
	return time.Monday
}

// GetLocation resolves the configured bucket time zone, defaulting to UTC.
func (u *UsageConfig) GetLocation() (*time.Location, error) {
	if u.Timezone == "" {
		return time.UTC, nil
	}
	return time.LoadLocation(u.Timezone)
}

// MetricsConfig defines the detached metrics pipeline.
type MetricsConfig struct {
	QueueSize int  `yaml:"queue_size" toml:"queue_size"`
	Disabled  bool `yaml:"disabled" toml:"disabled"`
}

// GetQueueSize returns the bounded queue capacity with default fallback (1024).
func (m *MetricsConfig) GetQueueSize() int {
	if m.QueueSize <= 0 {
		return 1024
	}
	return m.QueueSize
}

// Default returns a configuration populated with development defaults.
// Secrets (database URL, hasher secret, plan API key) still come from the
// environment or the config file.
func Default() *Config {
	return &Config{
		Environment: "development",
		Server:      ServerConfig{Listen: ":8080"},
		Logging:     LoggingConfig{Level: LevelInfo, Format: "auto", Output: "stderr"},
	}
}
