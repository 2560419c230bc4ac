package config

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/pelletier/go-toml/v2"
	"gopkg.in/yaml.v3"
)

// EnvPrefix is prepended to every recognized environment override.
const EnvPrefix = "PLANBRIDGE_"

// Load reads a YAML or TOML configuration file (chosen by extension), expands
// ${VAR} references, applies environment overrides, and returns the result.
// An empty path yields Default() plus environment overrides, so the server
// can run from the environment alone.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		file, err := os.Open(path)
		if err != nil {
			return nil, fmt.Errorf("failed to open config file %s: %w", path, err)
		}
		defer file.Close()

		cfg, err = LoadFromReader(file, filepath.Ext(path))
		if err != nil {
			return nil, fmt.Errorf("failed to load config file %s: %w", path, err)
		}
	}

	applyEnv(cfg)
	return cfg, nil
}

// LoadFromReader parses configuration from an io.Reader. The extension picks
// the decoder: ".toml" for TOML, anything else parses as YAML.
// Environment variables in the format ${VAR_NAME} are expanded before parsing.
func LoadFromReader(r io.Reader, ext string) (*Config, error) {
	content, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("failed to read config: %w", err)
	}

	expanded := os.ExpandEnv(string(content))

	cfg := Default()
	switch strings.ToLower(ext) {
	case ".toml":
		if err := toml.Unmarshal([]byte(expanded), cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config TOML: %w", err)
		}
	default:
		if err := yaml.Unmarshal([]byte(expanded), cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config YAML: %w", err)
		}
	}

	return cfg, nil
}

// applyEnv overlays PLANBRIDGE_* environment variables onto cfg.
// Environment values win over file values; secrets are expected to arrive
// this way in production.
func applyEnv(cfg *Config) {
	setString := func(key string, dst *string) {
		if v, ok := os.LookupEnv(EnvPrefix + key); ok {
			*dst = v
		}
	}
	setInt := func(key string, dst *int) {
		if v, ok := os.LookupEnv(EnvPrefix + key); ok {
			if n, err := strconv.Atoi(v); err == nil {
				*dst = n
			}
		}
	}

	setString("ENVIRONMENT", &cfg.Environment)
	setString("LISTEN", &cfg.Server.Listen)
	setString("LOG_LEVEL", &cfg.Logging.Level)
	setString("LOG_FORMAT", &cfg.Logging.Format)
	setString("DATABASE_URL", &cfg.Database.URL)
	setString("PLAN_API_URL", &cfg.Plan.APIURL)
	setString("PLAN_API_KEY", &cfg.Plan.APIKey)
	setString("KEY_HASHER_SECRET", &cfg.Auth.HasherSecret)
	setString("KMS_KEY_ID", &cfg.KMS.KeyID)
	setString("LOCAL_ENCRYPTION_KEY", &cfg.KMS.LocalEncryptionKey)
	setString("BEDROCK_REGION", &cfg.Bedrock.Region)
	setString("BEDROCK_DEFAULT_MODEL", &cfg.Bedrock.DefaultModel)
	setString("USAGE_WEEK_START", &cfg.Usage.WeekStart)
	setString("USAGE_TIMEZONE", &cfg.Usage.Timezone)

	setInt("ACCESS_KEY_CACHE_TTL", &cfg.Auth.CacheTTLSecs)
	setInt("BEDROCK_KEY_CACHE_TTL", &cfg.Bedrock.KeyCacheTTLSecs)
	setInt("CIRCUIT_FAILURE_THRESHOLD", &cfg.Circuit.FailureThreshold)
	setInt("CIRCUIT_FAILURE_WINDOW", &cfg.Circuit.FailureWindowSec)
	setInt("CIRCUIT_RESET_TIMEOUT", &cfg.Circuit.ResetTimeoutSecs)
	setInt("HTTP_CONNECT_TIMEOUT", &cfg.Plan.ConnectTimeoutSecs)
	setInt("HTTP_READ_TIMEOUT", &cfg.Plan.ReadTimeoutSecs)
}
