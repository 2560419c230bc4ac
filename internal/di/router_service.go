package di

import (
	"github.com/samber/do/v2"

	"github.com/planbridge/planbridge/internal/router"
)

// RouterService wraps the primary-then-fallback router for DI.
type RouterService struct {
	Router *router.Router
}

// NewRouter wires the adapters and breaker registry into the router.
func NewRouter(i do.Injector) (*RouterService, error) {
	logSvc := do.MustInvoke[*LoggerService](i)
	providerSvc := do.MustInvoke[*ProviderService](i)
	breakerSvc := do.MustInvoke[*BreakerService](i)

	r := router.New(providerSvc.Plan, providerSvc.Bedrock, breakerSvc.Registry, *logSvc.Logger)
	return &RouterService{Router: r}, nil
}
