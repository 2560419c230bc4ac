package di

import (
	"fmt"

	"github.com/samber/do/v2"

	"github.com/planbridge/planbridge/internal/keycache"
)

// KeyCacheService wraps the decrypted Bedrock credential cache for DI.
type KeyCacheService struct {
	Cache *keycache.Cache
}

// NewKeyCache builds the TTL cache over the store and decrypter.
func NewKeyCache(i do.Injector) (*KeyCacheService, error) {
	cfgSvc := do.MustInvoke[*ConfigService](i)
	logSvc := do.MustInvoke[*LoggerService](i)
	storeSvc := do.MustInvoke[*StoreService](i)
	kmsSvc := do.MustInvoke[*KMSService](i)

	cache, err := keycache.New(storeSvc.Store, kmsSvc.Decrypter, cfgSvc.Config.Bedrock.GetKeyCacheTTL(), *logSvc.Logger)
	if err != nil {
		return nil, fmt.Errorf("failed to create key cache: %w", err)
	}

	return &KeyCacheService{Cache: cache}, nil
}

// Shutdown releases the cache.
func (k *KeyCacheService) Shutdown() error {
	return k.Cache.Close()
}
