package proxy

import (
	"net/http"

	"github.com/tidwall/gjson"

	"github.com/planbridge/planbridge/internal/providers"
)

// IsStreamingRequest checks if request body contains "stream": true.
// Returns false if the body is invalid JSON or stream field is missing/false.
func IsStreamingRequest(body []byte) bool {
	return gjson.GetBytes(body, "stream").Bool()
}

// SetSSEHeaders sets required headers for SSE streaming.
// These headers MUST be set for proper streaming through nginx/CDN:
//   - Content-Type: text/event-stream - SSE format
//   - Cache-Control: no-cache, no-transform - prevent caching
//   - X-Accel-Buffering: no - CRITICAL: disable nginx/Cloudflare buffering
//   - Connection: keep-alive - maintain streaming connection
func SetSSEHeaders(h http.Header) {
	h.Set("Content-Type", providers.ContentTypeSSE)
	h.Set("Cache-Control", "no-cache, no-transform")
	h.Set("X-Accel-Buffering", "no")
	h.Set("Connection", "keep-alive")
}
