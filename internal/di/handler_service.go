package di

import (
	"net/http"

	"github.com/samber/do/v2"

	"github.com/planbridge/planbridge/internal/proxy"
)

// HandlerService wraps the fully wired HTTP handler for DI.
type HandlerService struct {
	Handler http.Handler
}

// NewProxyHandler assembles the request handler and route table.
func NewProxyHandler(i do.Injector) (*HandlerService, error) {
	cfgSvc := do.MustInvoke[*ConfigService](i)
	logSvc := do.MustInvoke[*LoggerService](i)
	authSvc := do.MustInvoke[*AuthService](i)
	routerSvc := do.MustInvoke[*RouterService](i)
	usageSvc := do.MustInvoke[*UsageService](i)
	providerSvc := do.MustInvoke[*ProviderService](i)
	metricsSvc := do.MustInvoke[*MetricsService](i)

	h := proxy.NewHandler(
		authSvc.Authenticator,
		routerSvc.Router,
		usageSvc.Recorder,
		providerSvc.Plan,
		cfgSvc.Config.Plan.GetAPIKeyOption().IsPresent(),
		*logSvc.Logger,
	)

	return &HandlerService{Handler: proxy.SetupRoutes(h, metricsSvc.Handler())}, nil
}
