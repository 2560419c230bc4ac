package providers

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	v4 "github.com/aws/aws-sdk-go-v2/aws/signer/v4"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	"github.com/tidwall/gjson"

	"github.com/planbridge/planbridge/internal/config"
	"github.com/planbridge/planbridge/internal/keycache"
	"github.com/planbridge/planbridge/internal/storage"
)

const (
	bedrockService        = "bedrock"
	bedrockEndpointFormat = "https://bedrock-runtime.%s.amazonaws.com"
)

// BedrockAdapter fronts the per-tenant AWS fallback. Each call loads the
// tenant's decrypted credential through the key cache, translates the
// request into the Converse payload, signs, and translates the answer back.
// The tenant's pinned region and model decide the endpoint; nothing here is
// process-global except the connection pool.
type BedrockAdapter struct {
	keys        keycache.Provider
	signer      *v4.Signer
	client      *http.Client
	transport   *http.Transport
	readTimeout time.Duration

	// baseURL overrides the regional endpoint; tests point it at a local
	// server.
	baseURL string
}

// bedrockCredential is the decrypted JSON credential form. Plaintext that
// is not a JSON object is treated as a Bearer-form API key instead.
type bedrockCredential struct {
	AccessKeyID     string `json:"access_key_id"`
	SecretAccessKey string `json:"secret_access_key"`
	SessionToken    string `json:"session_token"`
}

func NewBedrockAdapter(cfg *config.Config, keys keycache.Provider) *BedrockAdapter {
	transport := &http.Transport{
		Proxy: http.ProxyFromEnvironment,
		DialContext: (&net.Dialer{
			Timeout: cfg.Plan.GetConnectTimeout(),
		}).DialContext,
		ForceAttemptHTTP2:   true,
		MaxIdleConnsPerHost: 16,
		IdleConnTimeout:     90 * time.Second,
		// Bounds the pre-first-byte phase of streams, which carry no
		// overall deadline.
		ResponseHeaderTimeout: cfg.Plan.GetReadTimeout(),
	}
	return &BedrockAdapter{
		keys:        keys,
		signer:      v4.NewSigner(),
		client:      &http.Client{Transport: transport},
		transport:   transport,
		readTimeout: cfg.Plan.GetReadTimeout(),
	}
}

// Invoke implements Adapter.
func (a *BedrockAdapter) Invoke(ctx context.Context, req *Request) (*Response, *Error) {
	ctx, cancel := context.WithTimeout(ctx, a.readTimeout)
	defer cancel()

	resp, perr := a.converse(ctx, req, "/converse")
	if perr != nil {
		return nil, perr
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, FromTransportError(err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, classifyBedrockError(resp, body)
	}

	translated, usage, err := parseConverseResponse(body, req.Parsed.Model)
	if err != nil {
		log.Ctx(ctx).Warn().Err(err).Str("provider", ProviderBedrock).Msg("converse response not decodable")
		return nil, NewError(KindServerError, http.StatusBadGateway, "upstream returned an unreadable response", false)
	}
	out, err := json.Marshal(translated)
	if err != nil {
		return nil, NewError(KindServerError, http.StatusBadGateway, "upstream returned an unreadable response", false)
	}
	return &Response{
		Status:      http.StatusOK,
		ContentType: ContentTypeJSON,
		Body:        out,
		Usage:       usage,
	}, nil
}

// Stream implements Adapter. The returned handle decodes the binary event
// stream lazily as the caller reads.
func (a *BedrockAdapter) Stream(ctx context.Context, req *Request) (*StreamHandle, *Error) {
	resp, perr := a.converse(ctx, req, "/converse-stream")
	if perr != nil {
		return nil, perr
	}
	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		resp.Body.Close()
		return nil, classifyBedrockError(resp, body)
	}

	stream := newConverseStream(resp.Body, req.Parsed.Model, newMessageID(), *log.Ctx(ctx))
	return NewStreamHandle(stream, ContentTypeSSE, stream.FinalUsage), nil
}

// CountTokens implements Adapter. The Converse API has no token counting
// operation, so the call is refused rather than guessed at.
func (a *BedrockAdapter) CountTokens(ctx context.Context, req *Request) ([]byte, *Error) {
	return nil, NewError(KindClientError, http.StatusBadRequest, "token counting is not available on the fallback provider", false)
}

// Close implements Adapter.
func (a *BedrockAdapter) Close() error {
	a.transport.CloseIdleConnections()
	return nil
}

// converse builds, signs, and sends one Converse call for the tenant in
// req.Tenant. op is "/converse" or "/converse-stream".
func (a *BedrockAdapter) converse(ctx context.Context, req *Request, op string) (*http.Response, *Error) {
	tenant := req.Tenant

	plaintext, err := a.keys.Get(ctx, tenant.AccessKeyID)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return nil, NewError(KindBedrockAuthError, http.StatusForbidden, "no fallback credential configured", false)
		}
		log.Ctx(ctx).Error().Err(err).Msg("bedrock credential load failed")
		return nil, NewError(KindServerError, http.StatusInternalServerError, "credential load failed", false)
	}

	body, err := buildConverseRequest(req.Parsed)
	if err != nil {
		return nil, NewError(KindBedrockValidation, http.StatusBadRequest, "request cannot be translated for the fallback provider", false)
	}

	endpoint := a.baseURL
	if endpoint == "" {
		endpoint = fmt.Sprintf(bedrockEndpointFormat, tenant.BedrockRegion)
	}
	target := endpoint + "/model/" + url.PathEscape(tenant.BedrockModel) + op

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, target, bytes.NewReader(body))
	if err != nil {
		return nil, NewError(KindBedrockValidation, http.StatusBadRequest, "request cannot be translated for the fallback provider", false)
	}
	httpReq.Header.Set("Content-Type", ContentTypeJSON)

	if perr := a.authorize(ctx, httpReq, plaintext, body, tenant.BedrockRegion); perr != nil {
		return nil, perr
	}

	resp, err := a.client.Do(httpReq)
	if err != nil {
		log.Ctx(ctx).Warn().Err(err).Str("provider", ProviderBedrock).Msg("upstream round trip failed")
		return nil, FromTransportError(err)
	}
	return resp, nil
}

// authorize attaches the tenant credential: JSON credentials are signed
// with SigV4, anything else rides as a Bearer token. The plaintext itself
// never reaches logs or errors.
func (a *BedrockAdapter) authorize(ctx context.Context, httpReq *http.Request, plaintext string, body []byte, region string) *Error {
	trimmed := strings.TrimSpace(plaintext)
	if !strings.HasPrefix(trimmed, "{") {
		httpReq.Header.Set("Authorization", "Bearer "+trimmed)
		return nil
	}

	var cred bedrockCredential
	if err := json.Unmarshal([]byte(trimmed), &cred); err != nil || cred.AccessKeyID == "" || cred.SecretAccessKey == "" {
		return NewError(KindBedrockAuthError, http.StatusForbidden, "stored fallback credential is malformed", false)
	}

	sum := sha256.Sum256(body)
	creds := aws.Credentials{
		AccessKeyID:     cred.AccessKeyID,
		SecretAccessKey: cred.SecretAccessKey,
		SessionToken:    cred.SessionToken,
	}
	err := a.signer.SignHTTP(ctx, creds, httpReq, hex.EncodeToString(sum[:]), bedrockService, region, time.Now(),
		func(o *v4.SignerOptions) { o.DisableURIPathEscaping = true })
	if err != nil {
		return NewError(KindBedrockAuthError, http.StatusForbidden, "request signing failed", false)
	}
	return nil
}

// classifyBedrockError maps a non-200 Converse answer to a typed error.
// The exception name is taken from the x-amzn-errortype header, falling
// back to the body's __type field, then to the bare status code.
func classifyBedrockError(resp *http.Response, body []byte) *Error {
	name := resp.Header.Get("x-amzn-errortype")
	if name == "" {
		name = gjson.GetBytes(body, "__type").String()
	}

	kind := classifyBedrockException(name)
	if name == "" {
		kind = classifyBedrockStatus(resp.StatusCode)
	}
	return NewError(kind, resp.StatusCode, upstreamExceptionMessage(body), kind == KindBedrockUnavailable)
}

// classifyBedrockException maps a Converse exception name to an error kind.
// Names arrive in several dressings (namespace prefixes, content hints
// after a colon, lowercase first letters on stream frames); everything but
// the bare name is stripped before matching.
func classifyBedrockException(name string) ErrorKind {
	name = bareExceptionName(name)
	switch strings.ToLower(name) {
	case "accessdeniedexception", "unauthorizedoperation", "unauthorizedexception":
		return KindBedrockAuthError
	case "throttlingexception", "servicequotaexceededexception":
		return KindBedrockQuotaExceeded
	case "validationexception":
		return KindBedrockValidation
	case "modelerrorexception", "modelstreamerrorexception":
		return KindBedrockModelError
	case "serviceunavailableexception", "internalserverexception", "modelnotreadyexception":
		return KindBedrockUnavailable
	default:
		return KindServerError
	}
}

func classifyBedrockStatus(status int) ErrorKind {
	switch {
	case status == http.StatusUnauthorized || status == http.StatusForbidden:
		return KindBedrockAuthError
	case status == http.StatusTooManyRequests:
		return KindBedrockQuotaExceeded
	case status == http.StatusBadRequest || status == http.StatusUnprocessableEntity:
		return KindBedrockValidation
	case status == http.StatusFailedDependency:
		return KindBedrockModelError
	case status >= 500:
		return KindBedrockUnavailable
	default:
		return KindServerError
	}
}

// bareExceptionName strips "namespace#Name" prefixes and ":detail"
// suffixes from an exception identifier.
func bareExceptionName(name string) string {
	if i := strings.LastIndex(name, "#"); i >= 0 {
		name = name[i+1:]
	}
	if i := strings.Index(name, ":"); i >= 0 {
		name = name[:i]
	}
	return strings.TrimSpace(name)
}

// upstreamExceptionMessage pulls the human-readable message out of an AWS
// error body.
func upstreamExceptionMessage(body []byte) string {
	if msg := gjson.GetBytes(body, "message").String(); msg != "" {
		return msg
	}
	if msg := gjson.GetBytes(body, "Message").String(); msg != "" {
		return msg
	}
	return "fallback provider request failed"
}

func newMessageID() string {
	return "msg_" + strings.ReplaceAll(uuid.NewString(), "-", "")
}
