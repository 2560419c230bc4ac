// Package breaker isolates per-key failures of the primary upstream. Each
// access key gets an independent three-state machine so one tenant's bad
// run never blocks another tenant's traffic.
package breaker

import (
	"sync"
	"time"

	"github.com/planbridge/planbridge/internal/providers"
)

// State is the circuit position for one key.
type State int

// Circuit states.
const (
	StateClosed State = iota
	StateOpen
	StateHalfOpen
)

func (s State) String() string {
	switch s {
	case StateOpen:
		return "open"
	case StateHalfOpen:
		return "half_open"
	default:
		return "closed"
	}
}

// CountableKinds are the failure kinds that trip the circuit. Client-caused
// errors never do: a tenant sending bad requests is not upstream trouble.
var CountableKinds = map[providers.ErrorKind]bool{
	providers.KindServerError:        true,
	providers.KindTimeout:            true,
	providers.KindNetworkError:       true,
	providers.KindBedrockUnavailable: true,
}

// Options parameterize one breaker.
type Options struct {
	// FailureThreshold trips the circuit once this many countable
	// failures land inside FailureWindow.
	FailureThreshold int
	FailureWindow    time.Duration

	// ResetTimeout is how long the circuit stays open before admitting a
	// half-open probe.
	ResetTimeout time.Duration

	// Clock overrides time.Now. Tests use it; nil means time.Now.
	Clock func() time.Time
}

func (o Options) now() time.Time {
	if o.Clock != nil {
		return o.Clock()
	}
	return time.Now()
}

// Breaker is the state machine for a single access key.
type Breaker struct {
	opts Options

	mu       sync.Mutex
	state    State
	failures []time.Time
	openedAt time.Time
	probing  bool
}

// NewBreaker builds a closed breaker.
func NewBreaker(opts Options) *Breaker {
	return &Breaker{opts: opts}
}

// IsOpen reports whether the primary should be skipped. An open circuit
// whose reset timeout has elapsed moves to half-open and admits exactly one
// probe; callers racing the probe still observe open.
func (b *Breaker) IsOpen() bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case StateOpen:
		if b.opts.now().Sub(b.openedAt) >= b.opts.ResetTimeout {
			b.state = StateHalfOpen
			b.probing = true
			return false
		}
		return true
	case StateHalfOpen:
		if b.probing {
			return true
		}
		b.probing = true
		return false
	default:
		return false
	}
}

// RecordSuccess closes the circuit and clears the failure window.
func (b *Breaker) RecordSuccess() {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.state = StateClosed
	b.failures = b.failures[:0]
	b.probing = false
}

// RecordFailure counts a failure of the given kind. Outside half-open,
// non-countable kinds are ignored. A half-open probe always settles here:
// a countable failure reopens the circuit for a full reset timeout, while a
// non-countable one closes it, since the upstream answered and the fault
// was the request's.
func (b *Breaker) RecordFailure(kind providers.ErrorKind) {
	b.mu.Lock()
	defer b.mu.Unlock()

	now := b.opts.now()
	if b.state == StateHalfOpen {
		b.probing = false
		if CountableKinds[kind] {
			b.state = StateOpen
			b.openedAt = now
		} else {
			b.state = StateClosed
			b.failures = b.failures[:0]
		}
		return
	}

	if !CountableKinds[kind] {
		return
	}

	b.failures = append(b.failures, now)
	b.prune(now)

	if b.state == StateClosed && len(b.failures) >= b.opts.FailureThreshold {
		b.state = StateOpen
		b.openedAt = now
	}
}

// State reports the current position without side effects.
func (b *Breaker) State() State {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}

// prune drops window entries older than FailureWindow. Callers hold b.mu.
func (b *Breaker) prune(now time.Time) {
	cutoff := now.Add(-b.opts.FailureWindow)
	kept := b.failures[:0]
	for _, ts := range b.failures {
		if ts.After(cutoff) {
			kept = append(kept, ts)
		}
	}
	b.failures = kept
}
