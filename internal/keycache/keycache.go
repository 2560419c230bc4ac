// Package keycache holds decrypted tenant Bedrock credentials in memory so
// the store and KMS are consulted at most once per TTL per key. Plaintext
// lives only here: it is never logged and never written back anywhere.
package keycache

import (
	"context"
	"fmt"
	"time"

	"github.com/dgraph-io/ristretto/v2"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"golang.org/x/sync/singleflight"

	"github.com/planbridge/planbridge/internal/kms"
	"github.com/planbridge/planbridge/internal/storage"
)

const (
	cacheNumCounters = 10_000
	cacheMaxCost     = 1 << 20 // bytes of plaintext
	cacheBufferItems = 64
)

// Provider hands out decrypted tenant credentials.
type Provider interface {
	// Get returns the plaintext credential for the access key, fetching
	// and decrypting on cache miss. storage.ErrNotFound passes through
	// when no credential is registered.
	Get(ctx context.Context, accessKeyID uuid.UUID) (string, error)

	// Invalidate drops the cached plaintext. Called synchronously on
	// credential revocation or rotation.
	Invalidate(accessKeyID uuid.UUID)
}

// Cache implements Provider on ristretto with singleflight coalescing, so
// a burst of misses on one key produces a single store read and a single
// KMS call.
type Cache struct {
	store     storage.BedrockKeyStore
	decrypter kms.Decrypter
	cache     *ristretto.Cache[string, string]
	group     singleflight.Group
	ttl       time.Duration
	logger    zerolog.Logger
}

// New builds the cache. ttl bounds how long revoked-but-not-invalidated
// plaintext can keep serving.
func New(store storage.BedrockKeyStore, decrypter kms.Decrypter, ttl time.Duration, logger zerolog.Logger) (*Cache, error) {
	rc, err := ristretto.NewCache(&ristretto.Config[string, string]{
		NumCounters: cacheNumCounters,
		MaxCost:     cacheMaxCost,
		BufferItems: cacheBufferItems,
	})
	if err != nil {
		return nil, fmt.Errorf("keycache: create cache: %w", err)
	}
	return &Cache{
		store:     store,
		decrypter: decrypter,
		cache:     rc,
		ttl:       ttl,
		logger:    logger,
	}, nil
}

// Get implements Provider.
func (c *Cache) Get(ctx context.Context, accessKeyID uuid.UUID) (string, error) {
	key := accessKeyID.String()
	if secret, ok := c.cache.Get(key); ok {
		return secret, nil
	}

	v, err, shared := c.group.Do(key, func() (any, error) {
		// A coalesced caller may land here after the winner populated.
		if secret, ok := c.cache.Get(key); ok {
			return secret, nil
		}
		row, err := c.store.GetBedrockKey(ctx, accessKeyID)
		if err != nil {
			return "", err
		}
		plaintext, err := c.decrypter.Decrypt(ctx, row.EncryptedKey)
		if err != nil {
			return "", fmt.Errorf("keycache: decrypt credential: %w", err)
		}
		secret := string(plaintext)
		c.cache.SetWithTTL(key, secret, int64(len(secret)), c.ttl)
		return secret, nil
	})
	if err != nil {
		return "", err
	}

	c.logger.Debug().
		Str("access_key_id", key).
		Bool("coalesced", shared).
		Msg("bedrock credential loaded")
	return v.(string), nil
}

// Invalidate implements Provider.
func (c *Cache) Invalidate(accessKeyID uuid.UUID) {
	c.cache.Del(accessKeyID.String())
	c.logger.Info().
		Str("access_key_id", accessKeyID.String()).
		Msg("bedrock credential invalidated")
}

// Close releases the cache.
func (c *Cache) Close() error {
	c.cache.Close()
	return nil
}
