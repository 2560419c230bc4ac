package usage

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/planbridge/planbridge/internal/auth"
	"github.com/planbridge/planbridge/internal/metrics"
	"github.com/planbridge/planbridge/internal/providers"
	"github.com/planbridge/planbridge/internal/router"
	"github.com/planbridge/planbridge/internal/storage"
)

// Sink receives one metric record per request. The metrics queue satisfies
// it; tests substitute their own.
type Sink interface {
	Emit(rec metrics.Record)
}

// Recorder is the single place request outcomes are turned into logs,
// metric records, and usage rows. Exactly one Record call per request.
type Recorder struct {
	store     storage.UsageStore
	sink      Sink
	weekStart time.Weekday
	loc       *time.Location
	logger    zerolog.Logger

	// clock overrides time.Now in tests.
	clock func() time.Time
}

// NewRecorder builds a Recorder. loc fixes the zone bucket boundaries are
// computed in; weekStart fixes which midnight a week bucket begins on.
func NewRecorder(store storage.UsageStore, sink Sink, weekStart time.Weekday, loc *time.Location, logger zerolog.Logger) *Recorder {
	return &Recorder{
		store:     store,
		sink:      sink,
		weekStart: weekStart,
		loc:       loc,
		logger:    logger,
		clock:     time.Now,
	}
}

// Record runs after every request, success or failure. It always logs and
// always emits a metric record; it persists token usage only for
// Bedrock-served successes that reported counts. Persistence failures are
// logged, never surfaced: accounting trouble must not fail a request that
// already succeeded upstream.
func (r *Recorder) Record(ctx context.Context, rctx *auth.RequestContext, out *router.Outcome, latency time.Duration, model string) {
	latencyMS := latency.Milliseconds()

	r.logger.Info().
		Str("request_id", rctx.RequestID).
		Str("access_key_prefix", rctx.AccessKeyPrefix).
		Str("provider_used", out.Provider).
		Bool("is_fallback", out.IsFallback).
		Int("status_code", out.Status).
		Str("error_kind", string(out.ErrorKind)).
		Int64("latency_ms", latencyMS).
		Str("model", model).
		Msg("request_completed")

	r.sink.Emit(r.metricRecord(out, latency))

	if !out.Success || out.Provider != providers.ProviderBedrock || out.Usage == nil {
		return
	}

	now := r.clock()
	row := &storage.TokenUsage{
		ID:                       uuid.New(),
		RequestID:                rctx.RequestID,
		Timestamp:                now,
		UserID:                   rctx.UserID,
		AccessKeyID:              rctx.AccessKeyID,
		Model:                    model,
		InputTokens:              out.Usage.InputTokens,
		OutputTokens:             out.Usage.OutputTokens,
		CacheReadInputTokens:     out.Usage.CacheReadInputTokens,
		CacheCreationInputTokens: out.Usage.CacheCreationInputTokens,
		TotalTokens:              out.Usage.Total(),
		Provider:                 out.Provider,
		IsFallback:               out.IsFallback,
		LatencyMS:                latencyMS,
	}

	if err := r.store.RecordUsage(ctx, row, Buckets(now, r.weekStart, r.loc)); err != nil {
		r.logger.Error().
			Err(err).
			Str("request_id", rctx.RequestID).
			Msg("usage_persist_failed")
	}
}

func (r *Recorder) metricRecord(out *router.Outcome, latency time.Duration) metrics.Record {
	rec := metrics.Record{
		Provider:       out.Provider,
		IsFallback:     out.IsFallback,
		PlanSkipped:    out.PlanSkipped,
		FallbackReason: string(out.FallbackReason),
		Status:         out.Status,
		ErrorKind:      string(out.ErrorKind),
		Latency:        latency,
	}
	if out.Usage != nil {
		rec.InputTokens = out.Usage.InputTokens
		rec.OutputTokens = out.Usage.OutputTokens
	}
	return rec
}
