package config

import (
	"net"
	"strings"
	"time"
)

// Valid logging levels.
var validLogLevels = map[string]bool{
	"":      true, // Empty defaults to info
	"debug": true,
	"info":  true,
	"warn":  true,
	"error": true,
}

// Valid logging formats.
var validLogFormats = map[string]bool{
	"":        true, // Empty defaults to auto
	"auto":    true,
	"json":    true,
	"console": true,
}

// Valid week-start weekdays.
var validWeekStarts = map[string]bool{
	"":              true, // Empty defaults to monday
	WeekStartMonday: true,
	WeekStartSunday: true,
}

// Validate checks the configuration for errors.
// It validates required fields, valid values, and cross-field constraints.
// Returns a ValidationError containing all errors found, or nil if valid.
func (c *Config) Validate() error {
	errs := &ValidationError{}

	validateServer(c, errs)
	validateLogging(c, errs)
	validateAuth(c, errs)
	validateCircuit(c, errs)
	validateUsage(c, errs)

	return errs.ToError()
}

func validateServer(c *Config, errs *ValidationError) {
	if c.Server.Listen == "" {
		errs.Add("server.listen is required")
		return
	}

	host, port, err := net.SplitHostPort(c.Server.Listen)
	if err != nil {
		errs.Addf("server.listen must be in host:port format (got %q)", c.Server.Listen)
		return
	}
	if host != "" && strings.ContainsAny(host, " \t\n") {
		errs.Add("server.listen host contains invalid characters")
	}
	if port == "" {
		errs.Add("server.listen port is required")
	}
}

func validateLogging(c *Config, errs *ValidationError) {
	if !validLogLevels[strings.ToLower(c.Logging.Level)] {
		errs.Addf("logging.level is invalid (got %q, valid: debug, info, warn, error)",
			c.Logging.Level)
	}
	if !validLogFormats[strings.ToLower(c.Logging.Format)] {
		errs.Addf("logging.format is invalid (got %q, valid: auto, json, console)",
			c.Logging.Format)
	}
}

func validateAuth(c *Config, errs *ValidationError) {
	if c.Auth.HasherSecret == "" {
		errs.Add("auth.hasher_secret is required (env PLANBRIDGE_KEY_HASHER_SECRET)")
	}
	if c.Auth.CacheTTLSecs < 0 {
		errs.Add("auth.cache_ttl_seconds must be >= 0")
	}
	if c.Bedrock.KeyCacheTTLSecs < 0 {
		errs.Add("bedrock.key_cache_ttl_seconds must be >= 0")
	}
}

func validateCircuit(c *Config, errs *ValidationError) {
	if c.Circuit.FailureThreshold < 0 {
		errs.Add("circuit.failure_threshold must be >= 0")
	}
	if c.Circuit.FailureWindowSec < 0 {
		errs.Add("circuit.failure_window_seconds must be >= 0")
	}
	if c.Circuit.ResetTimeoutSecs < 0 {
		errs.Add("circuit.reset_timeout_seconds must be >= 0")
	}
}

func validateUsage(c *Config, errs *ValidationError) {
	if !validWeekStarts[strings.ToLower(c.Usage.WeekStart)] {
		errs.Addf("usage.week_start is invalid (got %q, valid: monday, sunday)", c.Usage.WeekStart)
	}
	if c.Usage.Timezone != "" {
		if _, err := time.LoadLocation(c.Usage.Timezone); err != nil {
			errs.Addf("usage.timezone is invalid (got %q): %v", c.Usage.Timezone, err)
		}
	}
}
