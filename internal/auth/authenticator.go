// Package auth resolves path-embedded access keys to tenant identity.
//
// The raw key never appears in logs, storage, or cache keys: it is reduced
// to a salted HMAC-SHA256 fingerprint at the edge and only the fingerprint
// travels further. Lookups are cached with a TTL, including negative
// results, so a flood of bogus keys cannot become a database flood.
package auth

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"time"

	"github.com/dgraph-io/ristretto/v2"
	"github.com/rs/zerolog"

	"github.com/planbridge/planbridge/internal/storage"
)

const (
	cacheNumCounters = 100_000
	cacheMaxCost     = 10_000 // entries, not bytes
	cacheBufferItems = 64
)

// Fingerprint reduces a raw access key to its salted HMAC-SHA256 hex
// digest. The same function must be used wherever keys are written, or
// lookups will never match.
func Fingerprint(secret []byte, rawKey string) string {
	mac := hmac.New(sha256.New, secret)
	mac.Write([]byte(rawKey))
	return hex.EncodeToString(mac.Sum(nil))
}

// entry is one cached auth decision. A nil identity records a miss so
// repeated garbage keys are rejected without touching the store.
type entry struct {
	identity *RequestContext
}

// Authenticator turns raw access keys into RequestContexts backed by the
// access-key store, with a TTL cache in front.
type Authenticator struct {
	store  storage.AccessKeyStore
	secret []byte
	cache  *ristretto.Cache[string, *entry]
	ttl    time.Duration
	logger zerolog.Logger

	// defaultRegion and defaultModel fill in keys provisioned without a
	// pinned Bedrock target.
	defaultRegion string
	defaultModel  string
}

// Options configures the authenticator.
type Options struct {
	// Secret salts key fingerprints. Must match the provisioning side.
	Secret string

	// TTL bounds both positive and negative cache entries. Revocation
	// takes at most this long to propagate unless Invalidate is called.
	TTL time.Duration

	// DefaultBedrockRegion and DefaultBedrockModel apply when the key
	// row leaves them blank.
	DefaultBedrockRegion string
	DefaultBedrockModel  string
}

// New builds an Authenticator over the given store.
func New(store storage.AccessKeyStore, opts Options, logger zerolog.Logger) (*Authenticator, error) {
	if opts.Secret == "" {
		return nil, errors.New("auth: hasher secret is required")
	}
	rc, err := ristretto.NewCache(&ristretto.Config[string, *entry]{
		NumCounters: cacheNumCounters,
		MaxCost:     cacheMaxCost,
		BufferItems: cacheBufferItems,
	})
	if err != nil {
		return nil, fmt.Errorf("auth: create cache: %w", err)
	}
	return &Authenticator{
		store:         store,
		secret:        []byte(opts.Secret),
		cache:         rc,
		ttl:           opts.TTL,
		logger:        logger,
		defaultRegion: opts.DefaultBedrockRegion,
		defaultModel:  opts.DefaultBedrockModel,
	}, nil
}

// Authenticate resolves a raw access key. It returns (nil, false) for any
// key that does not map to a usable row; callers must not distinguish the
// reasons outward. The returned context is a copy the caller may mutate.
func (a *Authenticator) Authenticate(ctx context.Context, rawKey string) (*RequestContext, bool) {
	if rawKey == "" {
		return nil, false
	}
	fp := Fingerprint(a.secret, rawKey)

	if e, ok := a.cache.Get(fp); ok {
		if e.identity == nil {
			return nil, false
		}
		out := *e.identity
		return &out, true
	}

	row, err := a.store.LookupForAuth(ctx, fp)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			a.cache.SetWithTTL(fp, &entry{}, 1, a.ttl)
			return nil, false
		}
		// Store trouble is not a verdict on the key: fail closed but do
		// not cache, the next attempt may succeed.
		a.logger.Error().Err(err).Msg("access key lookup failed")
		return nil, false
	}

	identity := a.buildIdentity(row)
	a.cache.SetWithTTL(fp, &entry{identity: identity}, 1, a.ttl)

	out := *identity
	return &out, true
}

func (a *Authenticator) buildIdentity(row *storage.AuthLookup) *RequestContext {
	region := row.Key.BedrockRegion
	if region == "" {
		region = a.defaultRegion
	}
	model := row.Key.BedrockModel
	if model == "" {
		model = a.defaultModel
	}
	return &RequestContext{
		UserID:          row.Key.UserID,
		AccessKeyID:     row.Key.ID,
		AccessKeyPrefix: row.Key.KeyPrefix,
		BedrockRegion:   region,
		BedrockModel:    model,
		HasBedrockKey:   row.HasBedrockKey,
	}
}

// Invalidate drops one fingerprint from the cache. Called on key
// revocation or rotation so the change beats the TTL.
func (a *Authenticator) Invalidate(keyHash string) {
	a.cache.Del(keyHash)
}

// InvalidateUser drops every fingerprint belonging to one tenant, for
// suspension and deletion paths that must take effect immediately.
func (a *Authenticator) InvalidateUser(keyHashes []string) {
	for _, h := range keyHashes {
		a.cache.Del(h)
	}
}

// Close releases the cache.
func (a *Authenticator) Close() error {
	a.cache.Close()
	return nil
}
