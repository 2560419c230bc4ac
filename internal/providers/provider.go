// Package providers contains the upstream adapters the router dispatches to:
// the shared Anthropic-compatible plan upstream and the tenant-credentialed
// AWS Bedrock runtime. Adapters normalize every outcome to either a Response
// or a classified Error so routing and fallback decisions never inspect raw
// transport failures.
package providers

import (
	"context"
	"io"
	"net/http"
	"sync"

	"github.com/planbridge/planbridge/internal/anthropic"
	"github.com/planbridge/planbridge/internal/auth"
)

const (
	// ProviderPlan identifies the shared Anthropic-compatible upstream.
	ProviderPlan = "plan"

	// ProviderBedrock identifies the per-tenant AWS Bedrock upstream.
	ProviderBedrock = "bedrock"
)

const (
	// ContentTypeJSON is the media type for buffered responses.
	ContentTypeJSON = "application/json"

	// ContentTypeSSE is the media type for server-sent event streams.
	ContentTypeSSE = "text/event-stream"

	// ContentTypeEventStream is the binary framing Bedrock uses for
	// streaming responses. Never relayed to clients.
	ContentTypeEventStream = "application/vnd.amazon.eventstream"
)

// Request is one inbound messages call in adapter-neutral form.
type Request struct {
	// Raw is the client body exactly as received. Pass-through upstreams
	// forward it byte for byte.
	Raw []byte

	// Parsed is the decoded body. Translating adapters work from this.
	Parsed *anthropic.Request

	// Header holds the inbound headers eligible for upstream forwarding.
	Header http.Header

	// Tenant identifies the authenticated caller.
	Tenant *auth.RequestContext
}

// Response is a complete, buffered upstream answer.
type Response struct {
	Status      int
	ContentType string
	Body        []byte

	// Usage carries token counts when the adapter can see them in the
	// upstream answer. Nil when the body carried no usage block.
	Usage *anthropic.Usage
}

// Adapter is the contract every upstream implements. Invoke and Stream
// return exactly one of a result or a classified error.
type Adapter interface {
	// Invoke performs a buffered messages call.
	Invoke(ctx context.Context, req *Request) (*Response, *Error)

	// Stream opens a live stream already translated to SSE wire form.
	// Errors detected before the first event come back as *Error; once a
	// handle is returned the stream can only end, not be rerouted.
	Stream(ctx context.Context, req *Request) (*StreamHandle, *Error)

	// CountTokens proxies a token-count call and returns the raw JSON
	// answer on success.
	CountTokens(ctx context.Context, req *Request) ([]byte, *Error)

	// Close releases pooled transport resources.
	Close() error
}

// StreamHandle is a live upstream stream. Reads yield SSE-formatted bytes.
// Close is idempotent so both the happy path and deferred cleanup can call
// it without double-releasing the upstream connection.
type StreamHandle struct {
	body        io.ReadCloser
	contentType string
	usage       func() *anthropic.Usage

	closeOnce sync.Once
	closeErr  error
}

// NewStreamHandle wraps an SSE byte stream. usage may be nil when the
// upstream never surfaces token counts mid-stream.
func NewStreamHandle(body io.ReadCloser, contentType string, usage func() *anthropic.Usage) *StreamHandle {
	return &StreamHandle{body: body, contentType: contentType, usage: usage}
}

// Read yields the next SSE-formatted chunk.
func (h *StreamHandle) Read(p []byte) (int, error) {
	return h.body.Read(p)
}

// ContentType reports the media type to relay to the client.
func (h *StreamHandle) ContentType() string {
	if h.contentType == "" {
		return ContentTypeSSE
	}
	return h.contentType
}

// Usage reports the final token usage once the stream is drained, or nil
// when the upstream never surfaced it.
func (h *StreamHandle) Usage() *anthropic.Usage {
	if h.usage == nil {
		return nil
	}
	return h.usage()
}

// Close releases the upstream connection exactly once.
func (h *StreamHandle) Close() error {
	h.closeOnce.Do(func() {
		h.closeErr = h.body.Close()
	})
	return h.closeErr
}
