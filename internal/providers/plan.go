package providers

import (
	"bytes"
	"context"
	"io"
	"net"
	"net/http"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/samber/mo"
	"github.com/tidwall/gjson"

	"github.com/planbridge/planbridge/internal/anthropic"
	"github.com/planbridge/planbridge/internal/config"
)

const (
	planMessagesPath    = "/v1/messages"
	planCountTokensPath = "/v1/messages/count_tokens"

	// maxErrorBody bounds how much of an upstream error answer is read.
	maxErrorBody = 64 << 10
)

// planForwardHeaders is the inbound header subset forwarded upstream.
// Everything else, client connection headers included, stays behind.
var planForwardHeaders = []string{
	"x-api-key",
	"authorization",
	"anthropic-version",
	"anthropic-beta",
	"content-type",
}

// PlanAdapter passes requests through to the primary upstream, which speaks
// the same wire format as the public surface. No translation happens here;
// only header curation and outcome classification.
type PlanAdapter struct {
	baseURL     string
	apiKey      mo.Option[string]
	readTimeout time.Duration
	client      *http.Client
	transport   *http.Transport
}

// NewPlanAdapter builds the adapter with a pooled transport. The dial
// timeout bounds connection setup; buffered calls additionally get the read
// timeout as an overall deadline, while streams stay open past it.
func NewPlanAdapter(cfg *config.PlanConfig) *PlanAdapter {
	transport := &http.Transport{
		Proxy: http.ProxyFromEnvironment,
		DialContext: (&net.Dialer{
			Timeout: cfg.GetConnectTimeout(),
		}).DialContext,
		ForceAttemptHTTP2:   true,
		MaxIdleConnsPerHost: 16,
		IdleConnTimeout:     90 * time.Second,
		// Bounds the pre-first-byte phase of streams, which carry no
		// overall deadline.
		ResponseHeaderTimeout: cfg.GetReadTimeout(),
	}
	return &PlanAdapter{
		baseURL:     cfg.GetAPIURL(),
		apiKey:      cfg.GetAPIKeyOption(),
		readTimeout: cfg.GetReadTimeout(),
		client:      &http.Client{Transport: transport},
		transport:   transport,
	}
}

// Invoke implements Adapter.
func (a *PlanAdapter) Invoke(ctx context.Context, req *Request) (*Response, *Error) {
	ctx, cancel := context.WithTimeout(ctx, a.readTimeout)
	defer cancel()

	resp, perr := a.do(ctx, planMessagesPath, req)
	if perr != nil {
		return nil, perr
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		log.Ctx(ctx).Warn().Err(err).Str("provider", ProviderPlan).Msg("reading upstream body failed")
		return nil, FromTransportError(err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, classifyPlanStatus(resp.StatusCode, body)
	}
	return &Response{
		Status:      resp.StatusCode,
		ContentType: contentTypeOf(resp, ContentTypeJSON),
		Body:        body,
		Usage:       planUsage(body),
	}, nil
}

// planUsage lifts the usage block out of a successful answer. Bodies without
// one, which a healthy upstream never produces, yield nil.
func planUsage(body []byte) *anthropic.Usage {
	u := gjson.GetBytes(body, "usage")
	if !u.Exists() {
		return nil
	}
	usage := &anthropic.Usage{
		InputTokens:  u.Get("input_tokens").Int(),
		OutputTokens: u.Get("output_tokens").Int(),
	}
	if v := u.Get("cache_read_input_tokens"); v.Exists() {
		n := v.Int()
		usage.CacheReadInputTokens = &n
	}
	if v := u.Get("cache_creation_input_tokens"); v.Exists() {
		n := v.Int()
		usage.CacheCreationInputTokens = &n
	}
	return usage
}

// Stream implements Adapter. The inbound body already carries stream=true;
// upstream bytes are relayed untouched since the wire formats match.
func (a *PlanAdapter) Stream(ctx context.Context, req *Request) (*StreamHandle, *Error) {
	resp, perr := a.do(ctx, planMessagesPath, req)
	if perr != nil {
		return nil, perr
	}
	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		resp.Body.Close()
		return nil, classifyPlanStatus(resp.StatusCode, body)
	}
	return NewStreamHandle(resp.Body, contentTypeOf(resp, ContentTypeSSE), nil), nil
}

// CountTokens implements Adapter.
func (a *PlanAdapter) CountTokens(ctx context.Context, req *Request) ([]byte, *Error) {
	ctx, cancel := context.WithTimeout(ctx, a.readTimeout)
	defer cancel()

	resp, perr := a.do(ctx, planCountTokensPath, req)
	if perr != nil {
		return nil, perr
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, FromTransportError(err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, classifyPlanStatus(resp.StatusCode, body)
	}
	return body, nil
}

// Close implements Adapter.
func (a *PlanAdapter) Close() error {
	a.transport.CloseIdleConnections()
	return nil
}

func (a *PlanAdapter) do(ctx context.Context, path string, req *Request) (*http.Response, *Error) {
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, a.baseURL+path, bytes.NewReader(req.Raw))
	if err != nil {
		return nil, NewError(KindClientError, http.StatusBadRequest, "malformed upstream request", false)
	}
	httpReq.Header = a.buildHeaders(req.Header)

	resp, err := a.client.Do(httpReq)
	if err != nil {
		log.Ctx(ctx).Warn().Err(err).Str("provider", ProviderPlan).Msg("upstream round trip failed")
		return nil, FromTransportError(err)
	}
	return resp, nil
}

// buildHeaders copies the pass-through subset and injects the process-wide
// API key only when the caller supplied no credential of its own.
func (a *PlanAdapter) buildHeaders(inbound http.Header) http.Header {
	h := make(http.Header, len(planForwardHeaders))
	for _, name := range planForwardHeaders {
		if v := inbound.Get(name); v != "" {
			h.Set(name, v)
		}
	}
	if h.Get("Content-Type") == "" {
		h.Set("Content-Type", ContentTypeJSON)
	}
	if h.Get("x-api-key") == "" && h.Get("Authorization") == "" {
		if key, ok := a.apiKey.Get(); ok {
			h.Set("x-api-key", key)
		}
	}
	return h
}

// classifyPlanStatus maps a non-200 upstream status to a typed error. 408
// and 429 invite fallback, as does any 5xx; the remaining 4xx are the
// caller's fault and final.
func classifyPlanStatus(status int, body []byte) *Error {
	msg := upstreamMessage(body, status)
	switch {
	case status == http.StatusRequestTimeout || status == http.StatusTooManyRequests:
		return NewError(KindRateLimit, status, msg, true)
	case status >= 500:
		return NewError(KindServerError, status, msg, true)
	default:
		return NewError(KindClientError, status, msg, false)
	}
}

func contentTypeOf(resp *http.Response, fallback string) string {
	if ct := resp.Header.Get("Content-Type"); ct != "" {
		return ct
	}
	return fallback
}
