package storage

import (
	"context"
	"errors"

	"github.com/google/uuid"
)

// ErrNotFound reports that a lookup matched no usable row.
var ErrNotFound = errors.New("storage: not found")

// AuthLookup is everything authentication needs in a single round trip.
type AuthLookup struct {
	Key           AccessKey
	UserStatus    UserStatus
	HasBedrockKey bool
}

// AccessKeyStore resolves access-key fingerprints.
type AccessKeyStore interface {
	// LookupForAuth finds a usable access key by its fingerprint: the key
	// must be active (or inside its rotation grace window) and belong to a
	// non-deleted user. Returns ErrNotFound otherwise.
	LookupForAuth(ctx context.Context, keyHash string) (*AuthLookup, error)
}

// BedrockKeyStore fetches tenant AWS credentials.
type BedrockKeyStore interface {
	// GetBedrockKey returns the encrypted credential registered for the
	// access key, or ErrNotFound.
	GetBedrockKey(ctx context.Context, accessKeyID uuid.UUID) (*BedrockKey, error)
}

// UsageStore persists per-request usage.
type UsageStore interface {
	// RecordUsage writes the append-only row and bumps every aggregate
	// bucket inside one transaction, so a crash never leaves the row and
	// its aggregates disagreeing.
	RecordUsage(ctx context.Context, row *TokenUsage, buckets []Bucket) error
}

// Store is the full persistence surface the proxy consumes.
type Store interface {
	AccessKeyStore
	BedrockKeyStore
	UsageStore
}
