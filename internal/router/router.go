// Package router decides which upstream serves each request: the shared
// plan upstream first, the tenant's Bedrock fallback when the primary
// fails in a retryable way or its circuit is open.
package router

import (
	"context"
	"net/http"

	"github.com/rs/zerolog"

	"github.com/planbridge/planbridge/internal/anthropic"
	"github.com/planbridge/planbridge/internal/breaker"
	"github.com/planbridge/planbridge/internal/providers"
)

// noFallbackMessage is the client-facing message for the dead end where
// the primary is unavailable and the key has no Bedrock credential.
const noFallbackMessage = "Service unavailable and no fallback configured"

// Outcome is the terminal result of routing one buffered request. Exactly
// one upstream's answer (or the dead-end error) is represented; callers
// never see intermediate attempts.
type Outcome struct {
	Success bool

	// Provider is the upstream that produced this outcome. The dead end
	// reports the plan provider since that is the upstream that was
	// unavailable.
	Provider string

	// IsFallback is true only when the primary was actually attempted in
	// this request and Bedrock answered instead. A Bedrock answer behind
	// an open circuit is not a fallback: nothing was tried first.
	IsFallback bool

	// PlanSkipped reports that the primary was skipped because its
	// circuit was open.
	PlanSkipped bool

	// FallbackReason is the primary failure kind that triggered the
	// switch, set only when IsFallback is true.
	FallbackReason providers.ErrorKind

	Status      int
	ContentType string
	Body        []byte

	// Usage is set when the serving adapter surfaced token counts.
	Usage *anthropic.Usage

	// ErrorKind and ErrorMessage describe the failure when Success is
	// false. ErrorKind maps to the public error type at the edge.
	ErrorKind    providers.ErrorKind
	ErrorMessage string
}

// StreamOutcome is a live stream plus the provenance needed for recording
// once it ends.
type StreamOutcome struct {
	Handle         *providers.StreamHandle
	Provider       string
	IsFallback     bool
	PlanSkipped    bool
	FallbackReason providers.ErrorKind
}

// Router drives the primary-then-fallback policy. All decisions are made
// per request; the only cross-request state is the circuit registry.
type Router struct {
	plan     providers.Adapter
	bedrock  providers.Adapter
	breakers *breaker.Registry
	logger   zerolog.Logger
}

// New builds a Router over the two upstream adapters.
func New(plan, bedrock providers.Adapter, breakers *breaker.Registry, logger zerolog.Logger) *Router {
	return &Router{
		plan:     plan,
		bedrock:  bedrock,
		breakers: breakers,
		logger:   logger,
	}
}

// Route serves one buffered request. The primary is attempted unless its
// circuit is open for this key; a retryable primary failure falls back to
// Bedrock when the key has a credential. Every primary attempt is recorded
// against the key's circuit. When nothing can serve, the dead end is a 503.
func (r *Router) Route(ctx context.Context, req *providers.Request) *Outcome {
	keyID := req.Tenant.AccessKeyID

	planAttempted := false
	planSkipped := false
	var fallbackReason providers.ErrorKind

	if r.breakers.IsOpen(keyID) {
		planSkipped = true
		r.logger.Info().
			Str("request_id", req.Tenant.RequestID).
			Str("access_key_id", keyID.String()).
			Msg("plan_skipped_circuit_open")
	} else {
		planAttempted = true
		resp, perr := r.plan.Invoke(ctx, req)
		if perr == nil {
			r.breakers.RecordSuccess(keyID)
			return successOutcome(providers.ProviderPlan, false, resp)
		}
		r.breakers.RecordFailure(keyID, perr.Kind)
		if !perr.FallbackEligible() {
			return failureOutcome(providers.ProviderPlan, false, perr)
		}
		fallbackReason = perr.Kind
	}

	if req.Tenant.HasBedrockKey {
		resp, perr := r.bedrock.Invoke(ctx, req)
		var out *Outcome
		if perr != nil {
			out = failureOutcome(providers.ProviderBedrock, planAttempted, perr)
		} else {
			out = successOutcome(providers.ProviderBedrock, planAttempted, resp)
		}
		out.PlanSkipped = planSkipped
		out.FallbackReason = fallbackReason
		return out
	}

	out := deadEnd()
	out.PlanSkipped = planSkipped
	return out
}

// RouteStream opens a stream for one request. The policy matches Route
// with one restriction: only failures detected before the first byte can
// trigger fallback. Exactly one of the returns is non-nil; a non-nil
// Outcome is always a failure. Unlike Route, a retryable primary failure
// with no fallback key surfaces the primary error itself, since there is
// no buffered answer to substitute.
func (r *Router) RouteStream(ctx context.Context, req *providers.Request) (*StreamOutcome, *Outcome) {
	keyID := req.Tenant.AccessKeyID

	planAttempted := false
	planSkipped := false
	var fallbackReason providers.ErrorKind

	if r.breakers.IsOpen(keyID) {
		planSkipped = true
		r.logger.Info().
			Str("request_id", req.Tenant.RequestID).
			Str("access_key_id", keyID.String()).
			Msg("plan_skipped_circuit_open")
	} else {
		planAttempted = true
		handle, perr := r.plan.Stream(ctx, req)
		if perr == nil {
			r.breakers.RecordSuccess(keyID)
			return &StreamOutcome{Handle: handle, Provider: providers.ProviderPlan}, nil
		}
		r.breakers.RecordFailure(keyID, perr.Kind)
		if !perr.FallbackEligible() || !req.Tenant.HasBedrockKey {
			return nil, failureOutcome(providers.ProviderPlan, false, perr)
		}
		fallbackReason = perr.Kind
	}

	if req.Tenant.HasBedrockKey {
		handle, perr := r.bedrock.Stream(ctx, req)
		if perr != nil {
			out := failureOutcome(providers.ProviderBedrock, planAttempted, perr)
			out.PlanSkipped = planSkipped
			out.FallbackReason = fallbackReason
			return nil, out
		}
		return &StreamOutcome{
			Handle:         handle,
			Provider:       providers.ProviderBedrock,
			IsFallback:     planAttempted,
			PlanSkipped:    planSkipped,
			FallbackReason: fallbackReason,
		}, nil
	}

	out := deadEnd()
	out.PlanSkipped = planSkipped
	return nil, out
}

func successOutcome(provider string, isFallback bool, resp *providers.Response) *Outcome {
	return &Outcome{
		Success:     true,
		Provider:    provider,
		IsFallback:  isFallback,
		Status:      resp.Status,
		ContentType: resp.ContentType,
		Body:        resp.Body,
		Usage:       resp.Usage,
	}
}

func failureOutcome(provider string, isFallback bool, perr *providers.Error) *Outcome {
	return &Outcome{
		Provider:     provider,
		IsFallback:   isFallback,
		Status:       perr.Status,
		ErrorKind:    perr.Kind,
		ErrorMessage: perr.Message,
	}
}

func deadEnd() *Outcome {
	return &Outcome{
		Provider:     providers.ProviderPlan,
		Status:       http.StatusServiceUnavailable,
		ErrorKind:    providers.KindOverloaded,
		ErrorMessage: noFallbackMessage,
	}
}
