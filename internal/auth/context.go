package auth

import "github.com/google/uuid"

// RequestContext is the authenticated identity attached to one request.
// It carries everything downstream code needs so nothing re-reads the
// access key after the auth step.
type RequestContext struct {
	// RequestID is the correlation id for logs and usage rows.
	RequestID string

	UserID      uuid.UUID
	AccessKeyID uuid.UUID

	// AccessKeyPrefix is the display prefix of the key. Safe to log; the
	// raw key never leaves the auth step.
	AccessKeyPrefix string

	// BedrockRegion and BedrockModel are the key's pinned Bedrock target.
	BedrockRegion string
	BedrockModel  string

	// HasBedrockKey reports whether a tenant credential is registered,
	// which is what makes this caller fallback-eligible.
	HasBedrockKey bool
}
