package proxy

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/planbridge/planbridge/internal/providers"
	"github.com/rs/zerolog"
)

// RequestIDMiddleware adds X-Request-ID header and logger with request ID to context.
func RequestIDMiddleware() func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(writer http.ResponseWriter, request *http.Request) {
			// Extract or generate request ID
			requestID := request.Header.Get("X-Request-ID")
			ctx := AddRequestID(request.Context(), requestID)

			// Write request ID to response header
			if requestID == "" {
				requestID = GetRequestID(ctx)
			}

			writer.Header().Set("X-Request-ID", requestID)

			// Attach logger to request
			request = request.WithContext(ctx)

			next.ServeHTTP(writer, request)
		})
	}
}

// LoggingMiddleware logs each request with method, path, status, and duration.
func LoggingMiddleware() func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(writer http.ResponseWriter, request *http.Request) {
			start := time.Now()

			// Wrap ResponseWriter to capture status code
			wrapped := &responseWriter{
				ResponseWriter: writer,
				statusCode:     http.StatusOK,
				sseEvents:      0,
				isStreaming:    false,
			}

			requestID := GetRequestID(request.Context())
			shortID := requestID
			if len(shortID) > 8 {
				shortID = shortID[:8]
			}

			logRequestStart(request.Context(), request, shortID)

			next.ServeHTTP(wrapped, request)

			logRequestCompletion(request.Context(), request, wrapped, time.Since(start), shortID)
		})
	}
}

func withRequestFields(ctx context.Context, r *http.Request, shortID string) zerolog.Context {
	return zerolog.Ctx(ctx).With().
		Str("method", r.Method).
		Str("path", r.URL.Path).
		Str("req_id", shortID)
}

func logRequestStart(ctx context.Context, request *http.Request, shortID string) {
	logger := withRequestFields(ctx, request, shortID).Logger()
	logger.Info().Msgf("%s %s", request.Method, request.URL.Path)
}

func logRequestCompletion(
	ctx context.Context,
	request *http.Request,
	wrapped *responseWriter,
	duration time.Duration,
	shortID string,
) {
	durationStr := formatDuration(duration)
	statusMsg := statusSymbol(wrapped.statusCode)
	completionMsg := formatCompletionMessage(wrapped.statusCode, statusMsg, durationStr)

	logCtx := withRequestFields(ctx, request, shortID).
		Int("status", wrapped.statusCode).
		Str("duration", durationStr)

	if wrapped.isStreaming && wrapped.sseEvents > 0 {
		logCtx = logCtx.Int("sse_events", wrapped.sseEvents)
	}

	logger := logCtx.Logger()
	switch {
	case wrapped.statusCode >= 500:
		logger.Error().Msg(completionMsg)
	case wrapped.statusCode >= 400:
		logger.Warn().Msg(completionMsg)
	default:
		logger.Info().Msg(completionMsg)
	}
}

func statusSymbol(statusCode int) string {
	switch {
	case statusCode >= 500:
		return "✗"
	case statusCode >= 400:
		return "⚠"
	default:
		return "✓"
	}
}

// formatDuration formats duration in a human-readable form with microsecond precision.
// Uses dynamic units so very fast requests show in µs while longer ones show in ms/s.
func formatDuration(duration time.Duration) string {
	if duration <= 0 {
		return "0s"
	}
	duration = duration.Round(time.Microsecond)
	switch {
	case duration < time.Millisecond:
		return fmt.Sprintf("%dµs", duration.Microseconds())
	case duration < time.Second:
		return fmt.Sprintf("%.2fms", float64(duration)/float64(time.Millisecond))
	case duration < time.Minute:
		return fmt.Sprintf("%.2fs", duration.Seconds())
	default:
		return duration.Truncate(time.Second).String()
	}
}

// formatCompletionMessage formats the completion message with status.
func formatCompletionMessage(status int, symbol, duration string) string {
	return symbol + " " + http.StatusText(status) + " (" + duration + ")"
}

// responseWriter wraps http.ResponseWriter to capture status code and SSE events.
type responseWriter struct {
	http.ResponseWriter
	statusCode  int
	sseEvents   int
	isStreaming bool
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.statusCode = code
	// Upstreams may append a charset parameter, so match on the prefix.
	if strings.HasPrefix(rw.Header().Get("Content-Type"), providers.ContentTypeSSE) {
		rw.isStreaming = true
	}
	rw.ResponseWriter.WriteHeader(code)
}

// Write intercepts writes to count SSE events.
func (rw *responseWriter) Write(data []byte) (int, error) {
	if rw.isStreaming {
		rw.sseEvents += strings.Count(string(data), "data:")
	}
	return rw.ResponseWriter.Write(data)
}

// Flush forwards flushes so streaming responses reach the client promptly.
func (rw *responseWriter) Flush() {
	if flusher, ok := rw.ResponseWriter.(http.Flusher); ok {
		flusher.Flush()
	}
}
