package di

import "github.com/samber/do/v2"

// RegisterSingletons registers all service providers as singletons.
// Services are registered in dependency order:
//  1. Config (no dependencies)
//  2. Logger (depends on Config)
//  3. Metrics (depends on Config, Logger)
//  4. Store (depends on Config, Logger)
//  5. KMS (depends on Config, Logger)
//  6. KeyCache (depends on Store, KMS, Config, Logger)
//  7. Auth (depends on Store, Config, Logger)
//  8. Breakers (depends on Config)
//  9. Providers (depends on Config, KeyCache)
//  10. Router (depends on Providers, Breakers, Logger)
//  11. Usage (depends on Store, Metrics, Config, Logger)
//  12. Handler (depends on Auth, Router, Usage, Providers, Metrics)
//  13. Server (depends on Handler, Config).
func RegisterSingletons(i do.Injector) {
	do.Provide(i, NewConfig)
	do.Provide(i, NewLogger)
	do.Provide(i, NewMetrics)
	do.Provide(i, NewStore)
	do.Provide(i, NewKMS)
	do.Provide(i, NewKeyCache)
	do.Provide(i, NewAuth)
	do.Provide(i, NewBreakers)
	do.Provide(i, NewProviders)
	do.Provide(i, NewRouter)
	do.Provide(i, NewUsage)
	do.Provide(i, NewProxyHandler)
	do.Provide(i, NewHTTPServer)
}
