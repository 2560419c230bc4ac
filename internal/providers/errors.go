package providers

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"

	"github.com/tidwall/gjson"
)

// ErrorKind classifies an upstream failure. Kinds drive three decisions:
// fallback eligibility, circuit accounting, and the public error type
// written to the client.
type ErrorKind string

const (
	// KindRateLimit covers upstream 408 and 429 answers.
	KindRateLimit ErrorKind = "rate_limit"

	// KindUsageLimit marks a caller that exhausted an administrative
	// quota. Never fallback-eligible: the quota applies to the tenant,
	// not to one upstream.
	KindUsageLimit ErrorKind = "usage_limit"

	// KindServerError covers upstream 5xx answers.
	KindServerError ErrorKind = "server_error"

	// KindClientError covers upstream 4xx answers that retrying cannot
	// fix, auth failures included.
	KindClientError ErrorKind = "client_error"

	// KindTimeout marks an exceeded connect or read deadline.
	KindTimeout ErrorKind = "timeout"

	// KindNetworkError marks a failed round trip with no HTTP answer.
	KindNetworkError ErrorKind = "network_error"

	// KindBedrockAuthError marks rejected tenant AWS credentials.
	KindBedrockAuthError ErrorKind = "bedrock_auth_error"

	// KindBedrockQuotaExceeded marks Bedrock throttling.
	KindBedrockQuotaExceeded ErrorKind = "bedrock_quota_exceeded"

	// KindBedrockValidation marks a request Bedrock refused as malformed.
	KindBedrockValidation ErrorKind = "bedrock_validation"

	// KindBedrockModelError marks a model-side processing failure.
	KindBedrockModelError ErrorKind = "bedrock_model_error"

	// KindBedrockUnavailable marks Bedrock service unavailability.
	KindBedrockUnavailable ErrorKind = "bedrock_unavailable"

	// KindOverloaded marks a request no upstream could serve: the primary
	// failed or was skipped and the caller has no fallback configured.
	// Produced by routing, never by an adapter.
	KindOverloaded ErrorKind = "overloaded"
)

// RetryableKinds are the kinds eligible for plan-to-Bedrock fallback. A
// kind outside this set ends routing even when the adapter marked the
// individual error retryable.
var RetryableKinds = map[ErrorKind]bool{
	KindRateLimit:          true,
	KindServerError:        true,
	KindTimeout:            true,
	KindNetworkError:       true,
	KindBedrockUnavailable: true,
}

// PublicType maps an internal kind to the error type clients see. Unknown
// kinds degrade to api_error rather than leaking internal labels.
func (k ErrorKind) PublicType() string {
	switch k {
	case KindRateLimit, KindUsageLimit, KindBedrockQuotaExceeded:
		return "rate_limit_error"
	case KindClientError, KindBedrockValidation:
		return "invalid_request_error"
	case KindTimeout, KindBedrockUnavailable, KindOverloaded:
		return "overloaded_error"
	case KindBedrockAuthError:
		return "authentication_error"
	default:
		return "api_error"
	}
}

// Error is a classified upstream failure. Message is already safe for
// clients: adapters keep transport detail in logs, not here.
type Error struct {
	Kind      ErrorKind
	Status    int
	Message   string
	Retryable bool
}

// NewError builds a classified upstream failure.
func NewError(kind ErrorKind, status int, message string, retryable bool) *Error {
	return &Error{Kind: kind, Status: status, Message: message, Retryable: retryable}
}

func (e *Error) Error() string {
	return fmt.Sprintf("%s (status %d): %s", e.Kind, e.Status, e.Message)
}

// FallbackEligible reports whether this failure permits switching to the
// secondary upstream: the adapter must mark it retryable and the kind must
// be in the retryable set.
func (e *Error) FallbackEligible() bool {
	return e.Retryable && RetryableKinds[e.Kind]
}

// FromTransportError classifies a round trip that produced no HTTP answer.
// Deadline and timeout failures become KindTimeout, everything else
// KindNetworkError. Both are retryable.
func FromTransportError(err error) *Error {
	var netErr net.Error
	switch {
	case errors.Is(err, context.DeadlineExceeded),
		errors.As(err, &netErr) && netErr.Timeout():
		return &Error{
			Kind:      KindTimeout,
			Status:    http.StatusGatewayTimeout,
			Message:   "upstream request timed out",
			Retryable: true,
		}
	default:
		return &Error{
			Kind:      KindNetworkError,
			Status:    http.StatusBadGateway,
			Message:   "upstream connection failed",
			Retryable: true,
		}
	}
}

// upstreamMessage pulls the human-readable message out of an Anthropic
// error body. Falls back to the HTTP status text so clients always get a
// message, never raw upstream bytes.
func upstreamMessage(body []byte, status int) string {
	if msg := gjson.GetBytes(body, "error.message"); msg.Exists() && msg.String() != "" {
		return msg.String()
	}
	return http.StatusText(status)
}
