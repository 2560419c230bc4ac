// Package storage persists tenants, access keys, encrypted Bedrock
// credentials, and token usage in Postgres.
package storage

import (
	"time"

	"github.com/google/uuid"
)

// UserStatus is the lifecycle state of a tenant.
type UserStatus string

// User lifecycle states.
const (
	UserActive    UserStatus = "active"
	UserSuspended UserStatus = "suspended"
	UserDeleted   UserStatus = "deleted"
)

// KeyStatus is the lifecycle state of an access key.
type KeyStatus string

// Access key lifecycle states.
const (
	KeyActive  KeyStatus = "active"
	KeyRevoked KeyStatus = "revoked"
)

// User is a tenant that owns access keys.
type User struct {
	ID          uuid.UUID
	Name        string
	Description *string
	Status      UserStatus
	CreatedAt   time.Time
	UpdatedAt   time.Time
	DeletedAt   *time.Time
}

// AccessKey is one proxy credential. Only the salted fingerprint of the raw
// key is stored; the raw key exists nowhere but the client.
type AccessKey struct {
	ID        uuid.UUID
	UserID    uuid.UUID
	KeyHash   string
	KeyPrefix string
	Status    KeyStatus

	// BedrockRegion and BedrockModel pin the fallback target for this key.
	BedrockRegion string
	BedrockModel  string

	CreatedAt time.Time
	RevokedAt *time.Time

	// RotationExpiresAt bounds the grace window during which a rotated-out
	// key still authenticates. Nil when the key was never rotated.
	RotationExpiresAt *time.Time
}

// BedrockKey is a tenant's encrypted AWS credential, at most one per access
// key. KeyHash fingerprints the plaintext for change detection; the
// plaintext itself is never stored.
type BedrockKey struct {
	AccessKeyID  uuid.UUID
	EncryptedKey []byte
	KeyHash      string
	CreatedAt    time.Time
	RotatedAt    *time.Time
}

// TokenUsage is one append-only usage row, written only for Bedrock-served
// requests that reported token counts.
type TokenUsage struct {
	ID          uuid.UUID
	RequestID   string
	Timestamp   time.Time
	UserID      uuid.UUID
	AccessKeyID uuid.UUID
	Model       string

	InputTokens              int64
	OutputTokens             int64
	CacheReadInputTokens     *int64
	CacheCreationInputTokens *int64
	TotalTokens              int64

	Provider   string
	IsFallback bool
	LatencyMS  int64
}

// Bucket identifies one aggregation window an incoming usage row lands in.
type Bucket struct {
	Type  string
	Start time.Time
}

// Aggregation bucket types, finest first.
const (
	BucketMinute = "minute"
	BucketHour   = "hour"
	BucketDay    = "day"
	BucketWeek   = "week"
	BucketMonth  = "month"
)
