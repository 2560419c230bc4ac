// Package metrics is the detached per-request metrics pipeline: handlers
// enqueue one Record per request and a single background worker feeds the
// Prometheus emitter. Serving latency never waits on metric export.
package metrics

import "time"

// Record is one request's metric payload, complete at request end.
type Record struct {
	Provider   string
	IsFallback bool

	// PlanSkipped marks a request whose primary was skipped because its
	// circuit was open.
	PlanSkipped bool

	// FallbackReason is the primary failure kind that triggered fallback,
	// empty otherwise.
	FallbackReason string

	Status    int
	ErrorKind string
	Latency   time.Duration

	InputTokens  int64
	OutputTokens int64
}

// Emitter consumes records. Implementations must be safe for use from the
// single queue worker; they are never called concurrently.
type Emitter interface {
	Emit(rec Record)
}

// Discard drops every record. Used when metrics are disabled so callers
// can emit unconditionally.
var Discard Emitter = discard{}

type discard struct{}

func (discard) Emit(Record) {}
