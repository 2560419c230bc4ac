package di

import (
	"github.com/samber/do/v2"

	"github.com/planbridge/planbridge/internal/providers"
)

// ProviderService wraps both upstream adapters for DI.
type ProviderService struct {
	Plan    providers.Adapter
	Bedrock providers.Adapter
}

// NewProviders builds the plan and Bedrock adapters.
func NewProviders(i do.Injector) (*ProviderService, error) {
	cfgSvc := do.MustInvoke[*ConfigService](i)
	keyCacheSvc := do.MustInvoke[*KeyCacheService](i)

	return &ProviderService{
		Plan:    providers.NewPlanAdapter(&cfgSvc.Config.Plan),
		Bedrock: providers.NewBedrockAdapter(cfgSvc.Config, keyCacheSvc.Cache),
	}, nil
}

// Shutdown closes idle connections on both adapters.
func (p *ProviderService) Shutdown() error {
	if err := p.Plan.Close(); err != nil {
		return err
	}
	return p.Bedrock.Close()
}
