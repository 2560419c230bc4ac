package router

import (
	"context"
	"io"
	"net/http"
	"strings"
	"testing"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/planbridge/planbridge/internal/anthropic"
	"github.com/planbridge/planbridge/internal/auth"
	"github.com/planbridge/planbridge/internal/breaker"
	"github.com/planbridge/planbridge/internal/config"
	"github.com/planbridge/planbridge/internal/providers"
)

// fakeAdapter scripts one upstream's behavior and counts attempts.
type fakeAdapter struct {
	invokeResp *providers.Response
	invokeErr  *providers.Error
	streamBody string
	streamErr  *providers.Error

	invokes int
	streams int
}

func (f *fakeAdapter) Invoke(_ context.Context, _ *providers.Request) (*providers.Response, *providers.Error) {
	f.invokes++
	if f.invokeErr != nil {
		return nil, f.invokeErr
	}
	return f.invokeResp, nil
}

func (f *fakeAdapter) Stream(_ context.Context, _ *providers.Request) (*providers.StreamHandle, *providers.Error) {
	f.streams++
	if f.streamErr != nil {
		return nil, f.streamErr
	}
	body := io.NopCloser(strings.NewReader(f.streamBody))
	return providers.NewStreamHandle(body, providers.ContentTypeSSE, nil), nil
}

func (f *fakeAdapter) CountTokens(_ context.Context, _ *providers.Request) ([]byte, *providers.Error) {
	return []byte(`{"input_tokens":1}`), nil
}

func (f *fakeAdapter) Close() error { return nil }

func okResponse() *providers.Response {
	return &providers.Response{
		Status:      http.StatusOK,
		ContentType: providers.ContentTypeJSON,
		Body:        []byte(`{"id":"msg_1"}`),
		Usage:       &anthropic.Usage{InputTokens: 10, OutputTokens: 20},
	}
}

func testRequest(hasBedrockKey bool) *providers.Request {
	return &providers.Request{
		Raw:    []byte(`{"model":"claude-sonnet-4"}`),
		Parsed: &anthropic.Request{Model: "claude-sonnet-4"},
		Tenant: &auth.RequestContext{
			RequestID:     "req-1",
			UserID:        uuid.New(),
			AccessKeyID:   uuid.New(),
			HasBedrockKey: hasBedrockKey,
		},
	}
}

func newTestRouter(plan, bedrock providers.Adapter) (*Router, *breaker.Registry) {
	reg := breaker.NewRegistry(&config.CircuitConfig{}, nil)
	return New(plan, bedrock, reg, zerolog.Nop()), reg
}

func tripBreaker(reg *breaker.Registry, keyID uuid.UUID) {
	for range 3 {
		reg.RecordFailure(keyID, providers.KindServerError)
	}
}

func TestRoutePlanSuccess(t *testing.T) {
	plan := &fakeAdapter{invokeResp: okResponse()}
	bedrock := &fakeAdapter{}
	r, reg := newTestRouter(plan, bedrock)
	req := testRequest(true)

	out := r.Route(context.Background(), req)

	require.True(t, out.Success)
	assert.Equal(t, providers.ProviderPlan, out.Provider)
	assert.False(t, out.IsFallback)
	assert.Equal(t, http.StatusOK, out.Status)
	assert.Equal(t, int64(10), out.Usage.InputTokens)
	assert.Equal(t, 1, plan.invokes)
	assert.Equal(t, 0, bedrock.invokes)
	assert.Equal(t, breaker.StateClosed, reg.State(req.Tenant.AccessKeyID))
}

func TestRouteFallsBackOnRetryableFailure(t *testing.T) {
	plan := &fakeAdapter{invokeErr: providers.NewError(providers.KindServerError, 500, "boom", true)}
	bedrock := &fakeAdapter{invokeResp: okResponse()}
	r, _ := newTestRouter(plan, bedrock)

	out := r.Route(context.Background(), testRequest(true))

	require.True(t, out.Success)
	assert.Equal(t, providers.ProviderBedrock, out.Provider)
	assert.True(t, out.IsFallback)
	assert.Equal(t, providers.KindServerError, out.FallbackReason)
	assert.Equal(t, 1, plan.invokes)
	assert.Equal(t, 1, bedrock.invokes)
}

func TestRouteNonRetryableFailureStaysOnPlan(t *testing.T) {
	plan := &fakeAdapter{invokeErr: providers.NewError(providers.KindClientError, 400, "bad request", false)}
	bedrock := &fakeAdapter{invokeResp: okResponse()}
	r, _ := newTestRouter(plan, bedrock)

	out := r.Route(context.Background(), testRequest(true))

	require.False(t, out.Success)
	assert.Equal(t, providers.ProviderPlan, out.Provider)
	assert.False(t, out.IsFallback)
	assert.Equal(t, 400, out.Status)
	assert.Equal(t, providers.KindClientError, out.ErrorKind)
	assert.Equal(t, 0, bedrock.invokes)
}

func TestRouteUsageLimitNeverFallsBack(t *testing.T) {
	// Retryable flag set, but the kind is outside the retryable set: the
	// quota binds the tenant, not the upstream.
	plan := &fakeAdapter{invokeErr: providers.NewError(providers.KindUsageLimit, 429, "quota exhausted", true)}
	bedrock := &fakeAdapter{invokeResp: okResponse()}
	r, _ := newTestRouter(plan, bedrock)

	out := r.Route(context.Background(), testRequest(true))

	require.False(t, out.Success)
	assert.Equal(t, providers.ProviderPlan, out.Provider)
	assert.Equal(t, 0, bedrock.invokes)
}

func TestRouteOpenCircuitSkipsPlan(t *testing.T) {
	plan := &fakeAdapter{invokeResp: okResponse()}
	bedrock := &fakeAdapter{invokeResp: okResponse()}
	r, reg := newTestRouter(plan, bedrock)
	req := testRequest(true)
	tripBreaker(reg, req.Tenant.AccessKeyID)

	out := r.Route(context.Background(), req)

	require.True(t, out.Success)
	assert.Equal(t, providers.ProviderBedrock, out.Provider)
	assert.False(t, out.IsFallback, "skipped primary is not a fallback")
	assert.True(t, out.PlanSkipped)
	assert.Equal(t, 0, plan.invokes)
	assert.Equal(t, 1, bedrock.invokes)
}

func TestRouteDeadEndWithoutBedrockKey(t *testing.T) {
	plan := &fakeAdapter{invokeErr: providers.NewError(providers.KindServerError, 500, "boom", true)}
	bedrock := &fakeAdapter{invokeResp: okResponse()}
	r, _ := newTestRouter(plan, bedrock)

	out := r.Route(context.Background(), testRequest(false))

	require.False(t, out.Success)
	assert.Equal(t, http.StatusServiceUnavailable, out.Status)
	assert.Equal(t, providers.KindOverloaded, out.ErrorKind)
	assert.Equal(t, "Service unavailable and no fallback configured", out.ErrorMessage)
	assert.Equal(t, 0, bedrock.invokes)
}

func TestRouteOpenCircuitWithoutBedrockKey(t *testing.T) {
	plan := &fakeAdapter{invokeResp: okResponse()}
	bedrock := &fakeAdapter{}
	r, reg := newTestRouter(plan, bedrock)
	req := testRequest(false)
	tripBreaker(reg, req.Tenant.AccessKeyID)

	out := r.Route(context.Background(), req)

	require.False(t, out.Success)
	assert.Equal(t, http.StatusServiceUnavailable, out.Status)
	assert.True(t, out.PlanSkipped)
	assert.Equal(t, 0, plan.invokes)
	assert.Equal(t, 0, bedrock.invokes)
}

func TestRouteBedrockFailureAfterFallback(t *testing.T) {
	plan := &fakeAdapter{invokeErr: providers.NewError(providers.KindRateLimit, 429, "slow down", true)}
	bedrock := &fakeAdapter{invokeErr: providers.NewError(providers.KindBedrockAuthError, 403, "bad credentials", false)}
	r, _ := newTestRouter(plan, bedrock)

	out := r.Route(context.Background(), testRequest(true))

	require.False(t, out.Success)
	assert.Equal(t, providers.ProviderBedrock, out.Provider)
	assert.True(t, out.IsFallback)
	assert.Equal(t, providers.KindBedrockAuthError, out.ErrorKind)
	assert.Equal(t, providers.KindRateLimit, out.FallbackReason)
	assert.Equal(t, 403, out.Status)
}

func TestRouteTripsBreakerAfterThreshold(t *testing.T) {
	plan := &fakeAdapter{invokeErr: providers.NewError(providers.KindServerError, 500, "boom", true)}
	bedrock := &fakeAdapter{invokeResp: okResponse()}
	r, reg := newTestRouter(plan, bedrock)
	req := testRequest(true)

	for range 3 {
		r.Route(context.Background(), req)
	}
	assert.Equal(t, breaker.StateOpen, reg.State(req.Tenant.AccessKeyID))

	out := r.Route(context.Background(), req)
	assert.Equal(t, 3, plan.invokes, "open circuit must skip the primary")
	assert.Equal(t, providers.ProviderBedrock, out.Provider)
	assert.False(t, out.IsFallback)
}

func TestRouteSuccessClearsFailureWindow(t *testing.T) {
	plan := &fakeAdapter{invokeResp: okResponse()}
	bedrock := &fakeAdapter{}
	r, reg := newTestRouter(plan, bedrock)
	req := testRequest(true)

	reg.RecordFailure(req.Tenant.AccessKeyID, providers.KindServerError)
	reg.RecordFailure(req.Tenant.AccessKeyID, providers.KindServerError)

	out := r.Route(context.Background(), req)
	require.True(t, out.Success)

	// Without the clear these two would land on top of the earlier pair
	// and trip the circuit.
	reg.RecordFailure(req.Tenant.AccessKeyID, providers.KindServerError)
	reg.RecordFailure(req.Tenant.AccessKeyID, providers.KindServerError)
	assert.Equal(t, breaker.StateClosed, reg.State(req.Tenant.AccessKeyID))
}

func TestRouteStreamPlanSuccess(t *testing.T) {
	plan := &fakeAdapter{streamBody: "event: message_start\n\n"}
	bedrock := &fakeAdapter{}
	r, _ := newTestRouter(plan, bedrock)

	stream, failure := r.RouteStream(context.Background(), testRequest(true))

	require.Nil(t, failure)
	require.NotNil(t, stream)
	defer stream.Handle.Close()
	assert.Equal(t, providers.ProviderPlan, stream.Provider)
	assert.False(t, stream.IsFallback)

	data, err := io.ReadAll(stream.Handle)
	require.NoError(t, err)
	assert.Equal(t, "event: message_start\n\n", string(data))
}

func TestRouteStreamFallsBackBeforeFirstByte(t *testing.T) {
	plan := &fakeAdapter{streamErr: providers.NewError(providers.KindServerError, 529, "overloaded", true)}
	bedrock := &fakeAdapter{streamBody: "data: {}\n\n"}
	r, _ := newTestRouter(plan, bedrock)

	stream, failure := r.RouteStream(context.Background(), testRequest(true))

	require.Nil(t, failure)
	require.NotNil(t, stream)
	defer stream.Handle.Close()
	assert.Equal(t, providers.ProviderBedrock, stream.Provider)
	assert.True(t, stream.IsFallback)
	assert.Equal(t, providers.KindServerError, stream.FallbackReason)
	assert.Equal(t, 1, plan.streams)
	assert.Equal(t, 1, bedrock.streams)
}

func TestRouteStreamSurfacesPlanErrorWithoutKey(t *testing.T) {
	// No buffered answer exists to substitute, so the primary's own error
	// goes to the client rather than the dead-end 503.
	plan := &fakeAdapter{streamErr: providers.NewError(providers.KindServerError, 529, "overloaded", true)}
	bedrock := &fakeAdapter{streamBody: "data: {}\n\n"}
	r, _ := newTestRouter(plan, bedrock)

	stream, failure := r.RouteStream(context.Background(), testRequest(false))

	require.Nil(t, stream)
	require.NotNil(t, failure)
	assert.Equal(t, providers.ProviderPlan, failure.Provider)
	assert.Equal(t, 529, failure.Status)
	assert.Equal(t, providers.KindServerError, failure.ErrorKind)
	assert.Equal(t, 0, bedrock.streams)
}

func TestRouteStreamNonRetryableError(t *testing.T) {
	plan := &fakeAdapter{streamErr: providers.NewError(providers.KindClientError, 400, "bad request", false)}
	bedrock := &fakeAdapter{streamBody: "data: {}\n\n"}
	r, _ := newTestRouter(plan, bedrock)

	stream, failure := r.RouteStream(context.Background(), testRequest(true))

	require.Nil(t, stream)
	require.NotNil(t, failure)
	assert.Equal(t, providers.ProviderPlan, failure.Provider)
	assert.Equal(t, 0, bedrock.streams)
}

func TestRouteStreamOpenCircuitUsesBedrock(t *testing.T) {
	plan := &fakeAdapter{streamBody: "data: {}\n\n"}
	bedrock := &fakeAdapter{streamBody: "data: {}\n\n"}
	r, reg := newTestRouter(plan, bedrock)
	req := testRequest(true)
	tripBreaker(reg, req.Tenant.AccessKeyID)

	stream, failure := r.RouteStream(context.Background(), req)

	require.Nil(t, failure)
	require.NotNil(t, stream)
	defer stream.Handle.Close()
	assert.Equal(t, providers.ProviderBedrock, stream.Provider)
	assert.False(t, stream.IsFallback)
	assert.True(t, stream.PlanSkipped)
	assert.Equal(t, 0, plan.streams)
}

func TestRouteStreamOpenCircuitWithoutKeyIsDeadEnd(t *testing.T) {
	plan := &fakeAdapter{streamBody: "data: {}\n\n"}
	bedrock := &fakeAdapter{}
	r, reg := newTestRouter(plan, bedrock)
	req := testRequest(false)
	tripBreaker(reg, req.Tenant.AccessKeyID)

	stream, failure := r.RouteStream(context.Background(), req)

	require.Nil(t, stream)
	require.NotNil(t, failure)
	assert.Equal(t, http.StatusServiceUnavailable, failure.Status)
	assert.Equal(t, providers.KindOverloaded, failure.ErrorKind)
	assert.Equal(t, 0, plan.streams)
}

func TestRouteStreamSuccessRecordsBreakerSuccess(t *testing.T) {
	plan := &fakeAdapter{streamBody: "data: {}\n\n"}
	bedrock := &fakeAdapter{}
	r, reg := newTestRouter(plan, bedrock)
	req := testRequest(true)

	reg.RecordFailure(req.Tenant.AccessKeyID, providers.KindServerError)
	stream, failure := r.RouteStream(context.Background(), req)

	require.Nil(t, failure)
	defer stream.Handle.Close()
	assert.Equal(t, breaker.StateClosed, reg.State(req.Tenant.AccessKeyID))
}
