package proxy

import (
	"encoding/json"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/planbridge/planbridge/internal/anthropic"
	"github.com/planbridge/planbridge/internal/auth"
	"github.com/planbridge/planbridge/internal/providers"
	"github.com/planbridge/planbridge/internal/router"
	"github.com/planbridge/planbridge/internal/usage"
)

// maxRequestBody bounds inbound message bodies. Anthropic caps request
// payloads well below this; anything larger is abuse, not traffic.
const maxRequestBody = 10 << 20

// streamBufferSize is the relay chunk size for SSE passthrough.
const streamBufferSize = 32 * 1024

// Handler serves the tenant-facing API: messages, count_tokens, health.
// Every request is authenticated by the access key embedded in its path;
// failures are answered with an anonymous 404 so the URL space leaks
// nothing about which keys exist.
type Handler struct {
	auth     *auth.Authenticator
	router   *router.Router
	recorder *usage.Recorder
	plan     providers.Adapter

	// planKeyConfigured reports whether the process holds a shared upstream
	// credential. count_tokens needs some credential from somewhere; when
	// neither the client nor the process has one the call is refused early.
	planKeyConfigured bool

	logger zerolog.Logger
}

// NewHandler builds the API handler over the authenticated routing stack.
func NewHandler(
	authenticator *auth.Authenticator,
	rt *router.Router,
	recorder *usage.Recorder,
	plan providers.Adapter,
	planKeyConfigured bool,
	logger zerolog.Logger,
) *Handler {
	return &Handler{
		auth:              authenticator,
		router:            rt,
		recorder:          recorder,
		plan:              plan,
		planKeyConfigured: planKeyConfigured,
		logger:            logger,
	}
}

// Messages handles POST /ak/{access_key}/v1/messages.
func (h *Handler) Messages(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	requestID := GetRequestID(r.Context())

	rctx, ok := h.auth.Authenticate(r.Context(), r.PathValue("access_key"))
	if !ok {
		WriteNotFound(w, requestID)
		return
	}
	rctx.RequestID = requestID

	body, done := h.readBody(w, r, requestID)
	if done {
		return
	}

	var parsed anthropic.Request
	if err := json.Unmarshal(body, &parsed); err != nil {
		WriteError(w, http.StatusBadRequest, "invalid_request_error",
			"Request body is not valid JSON", requestID)
		return
	}

	h.logAuthHeaders(r)

	req := &providers.Request{
		Raw:    body,
		Parsed: &parsed,
		Header: r.Header,
		Tenant: rctx,
	}

	if IsStreamingRequest(body) {
		h.serveStream(w, r, req, start)
		return
	}
	h.serveBuffered(w, r, req, start)
}

// serveBuffered routes a non-streaming request and writes the single
// buffered answer.
func (h *Handler) serveBuffered(w http.ResponseWriter, r *http.Request, req *providers.Request, start time.Time) {
	out := h.router.Route(r.Context(), req)
	h.recorder.Record(r.Context(), req.Tenant, out, time.Since(start), req.Parsed.Model)

	if !out.Success {
		WriteError(w, out.Status, out.ErrorKind.PublicType(), out.ErrorMessage, req.Tenant.RequestID)
		return
	}

	contentType := out.ContentType
	if contentType == "" {
		contentType = providers.ContentTypeJSON
	}
	w.Header().Set("Content-Type", contentType)
	w.WriteHeader(out.Status)
	if _, err := w.Write(out.Body); err != nil {
		h.logger.Warn().Err(err).Str("request_id", req.Tenant.RequestID).Msg("writing response failed")
	}
}

// serveStream routes a streaming request and relays the SSE stream. Once
// the status line is written the response cannot change shape: upstream
// trouble after that point ends the stream and is only recorded.
func (h *Handler) serveStream(w http.ResponseWriter, r *http.Request, req *providers.Request, start time.Time) {
	sout, failure := h.router.RouteStream(r.Context(), req)
	if failure != nil {
		h.recorder.Record(r.Context(), req.Tenant, failure, time.Since(start), req.Parsed.Model)
		WriteError(w, failure.Status, failure.ErrorKind.PublicType(), failure.ErrorMessage, req.Tenant.RequestID)
		return
	}

	handle := sout.Handle
	defer handle.Close()

	SetSSEHeaders(w.Header())
	w.Header().Set("Content-Type", handle.ContentType())
	w.WriteHeader(http.StatusOK)

	streamErr := h.relay(w, handle, req.Tenant.RequestID)

	// Close before reading usage: translating adapters only know the final
	// counts once the upstream stream is fully consumed and released.
	handle.Close()

	out := &router.Outcome{
		Success:        streamErr == nil,
		Provider:       sout.Provider,
		IsFallback:     sout.IsFallback,
		PlanSkipped:    sout.PlanSkipped,
		FallbackReason: sout.FallbackReason,
		Status:         http.StatusOK,
		Usage:          handle.Usage(),
	}
	if streamErr != nil {
		out.ErrorKind = providers.KindNetworkError
		out.ErrorMessage = "stream interrupted"
	}
	h.recorder.Record(r.Context(), req.Tenant, out, time.Since(start), req.Parsed.Model)
}

// relay copies SSE bytes to the client, flushing after every chunk so
// events are delivered as they arrive rather than when buffers fill.
func (h *Handler) relay(w http.ResponseWriter, handle *providers.StreamHandle, requestID string) error {
	flusher, canFlush := w.(http.Flusher)
	buf := make([]byte, streamBufferSize)

	for {
		n, readErr := handle.Read(buf)
		if n > 0 {
			if _, writeErr := w.Write(buf[:n]); writeErr != nil {
				h.logger.Debug().Err(writeErr).Str("request_id", requestID).Msg("client disconnected mid-stream")
				return writeErr
			}
			if canFlush {
				flusher.Flush()
			}
		}
		if readErr != nil {
			if readErr == io.EOF {
				return nil
			}
			h.logger.Warn().Err(readErr).Str("request_id", requestID).Msg("upstream stream ended abnormally")
			return readErr
		}
	}
}

// CountTokens handles POST /ak/{access_key}/v1/messages/count_tokens.
// Token counting always goes to the primary upstream: Bedrock has no
// equivalent call, so there is no fallback and no circuit involvement.
func (h *Handler) CountTokens(w http.ResponseWriter, r *http.Request) {
	requestID := GetRequestID(r.Context())

	rctx, ok := h.auth.Authenticate(r.Context(), r.PathValue("access_key"))
	if !ok {
		WriteNotFound(w, requestID)
		return
	}
	rctx.RequestID = requestID

	if r.Header.Get("x-api-key") == "" && r.Header.Get("Authorization") == "" && !h.planKeyConfigured {
		WriteError(w, http.StatusUnauthorized, "authentication_error",
			"Missing API key for count_tokens", requestID)
		return
	}

	body, done := h.readBody(w, r, requestID)
	if done {
		return
	}

	req := &providers.Request{
		Raw:    body,
		Header: r.Header,
		Tenant: rctx,
	}

	result, perr := h.plan.CountTokens(r.Context(), req)
	if perr != nil {
		WriteError(w, perr.Status, perr.Kind.PublicType(), perr.Message, requestID)
		return
	}

	w.Header().Set("Content-Type", providers.ContentTypeJSON)
	w.WriteHeader(http.StatusOK)
	if _, err := w.Write(result); err != nil {
		h.logger.Warn().Err(err).Str("request_id", requestID).Msg("writing response failed")
	}
}

// Health handles GET /health.
func (h *Handler) Health(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "healthy"})
}

// readBody reads the request body under the size cap. The bool reports
// whether an error response was already written.
func (h *Handler) readBody(w http.ResponseWriter, r *http.Request, requestID string) ([]byte, bool) {
	r.Body = http.MaxBytesReader(w, r.Body, maxRequestBody)
	body, err := io.ReadAll(r.Body)
	if err != nil {
		if IsBodyTooLargeError(err) {
			WriteBodyTooLargeError(w, requestID)
			return nil, true
		}
		WriteError(w, http.StatusBadRequest, "invalid_request_error",
			"Failed to read request body", requestID)
		return nil, true
	}
	return body, false
}

// logAuthHeaders records which upstream credentials the client supplied,
// never their values. Useful when a tenant reports auth trouble that only
// reproduces through the proxy.
func (h *Handler) logAuthHeaders(r *http.Request) {
	authz := r.Header.Get("Authorization")
	h.logger.Info().
		Str("request_id", GetRequestID(r.Context())).
		Bool("has_x_api_key", r.Header.Get("x-api-key") != "").
		Bool("has_authorization", authz != "").
		Bool("authorization_is_bearer", strings.HasPrefix(authz, "Bearer ")).
		Msg("proxy_auth_headers")
}
