package di

import (
	"github.com/samber/do/v2"

	"github.com/planbridge/planbridge/internal/breaker"
)

// BreakerService wraps the per-key circuit breaker registry for DI.
type BreakerService struct {
	Registry *breaker.Registry
}

// NewBreakers builds the registry from the circuit configuration.
func NewBreakers(i do.Injector) (*BreakerService, error) {
	cfgSvc := do.MustInvoke[*ConfigService](i)

	return &BreakerService{Registry: breaker.NewRegistry(&cfgSvc.Config.Circuit, nil)}, nil
}
