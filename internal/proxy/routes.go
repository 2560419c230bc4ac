package proxy

import "net/http"

// SetupRoutes creates the HTTP handler with all routes configured.
// Routes:
//   - POST /ak/{access_key}/v1/messages - Authenticated proxy to plan or Bedrock
//   - POST /ak/{access_key}/v1/messages/count_tokens - Token counting via plan
//   - GET /health - Health check endpoint (no auth required)
//   - GET /metrics - Prometheus scrape endpoint, registered only when provided
//
// Middleware order: RequestIDMiddleware runs first so the logging
// middleware and every handler log line carry the request ID.
func SetupRoutes(h *Handler, metricsHandler http.Handler) http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("POST /ak/{access_key}/v1/messages", h.Messages)
	mux.HandleFunc("POST /ak/{access_key}/v1/messages/count_tokens", h.CountTokens)
	mux.HandleFunc("GET /health", h.Health)

	if metricsHandler != nil {
		mux.Handle("GET /metrics", metricsHandler)
	}

	var handler http.Handler = mux
	handler = LoggingMiddleware()(handler)
	handler = RequestIDMiddleware()(handler)

	return handler
}
