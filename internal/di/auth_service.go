package di

import (
	"fmt"

	"github.com/samber/do/v2"

	"github.com/planbridge/planbridge/internal/auth"
)

// AuthService wraps the access-key authenticator for DI.
type AuthService struct {
	Authenticator *auth.Authenticator
}

// NewAuth builds the authenticator over the store.
func NewAuth(i do.Injector) (*AuthService, error) {
	cfgSvc := do.MustInvoke[*ConfigService](i)
	logSvc := do.MustInvoke[*LoggerService](i)
	storeSvc := do.MustInvoke[*StoreService](i)

	authenticator, err := auth.New(storeSvc.Store, auth.Options{
		Secret:               cfgSvc.Config.Auth.HasherSecret,
		TTL:                  cfgSvc.Config.Auth.GetCacheTTL(),
		DefaultBedrockRegion: cfgSvc.Config.Bedrock.GetRegion(),
		DefaultBedrockModel:  cfgSvc.Config.Bedrock.GetDefaultModel(),
	}, *logSvc.Logger)
	if err != nil {
		return nil, fmt.Errorf("failed to create authenticator: %w", err)
	}

	return &AuthService{Authenticator: authenticator}, nil
}

// Shutdown releases the auth cache.
func (a *AuthService) Shutdown() error {
	return a.Authenticator.Close()
}
