package di

import (
	"fmt"

	"github.com/samber/do/v2"

	"github.com/planbridge/planbridge/internal/config"
)

// ConfigService wraps the loaded configuration. Configuration is read once
// at startup; caches and breaker state are sized from it and never resized.
type ConfigService struct {
	Config *config.Config
}

// NewConfig loads and validates the configuration from the config path.
func NewConfig(i do.Injector) (*ConfigService, error) {
	path := do.MustInvokeNamed[string](i, ConfigPathKey)

	cfg, err := config.Load(path)
	if err != nil {
		return nil, fmt.Errorf("failed to load config from %s: %w", path, err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config %s: %w", path, err)
	}

	return &ConfigService{Config: cfg}, nil
}
