package breaker

import (
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"

	"github.com/planbridge/planbridge/internal/config"
	"github.com/planbridge/planbridge/internal/providers"
)

// fakeClock advances only when told to.
type fakeClock struct {
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2025, 1, 6, 12, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time          { return c.now }
func (c *fakeClock) Advance(d time.Duration) { c.now = c.now.Add(d) }

func testOptions(clock *fakeClock) Options {
	return Options{
		FailureThreshold: 3,
		FailureWindow:    60 * time.Second,
		ResetTimeout:     1800 * time.Second,
		Clock:            clock.Now,
	}
}

func TestBreakerStartsClosed(t *testing.T) {
	b := NewBreaker(testOptions(newFakeClock()))
	assert.False(t, b.IsOpen())
	assert.Equal(t, StateClosed, b.State())
}

func TestBreakerTripsAtThreshold(t *testing.T) {
	clock := newFakeClock()
	b := NewBreaker(testOptions(clock))

	b.RecordFailure(providers.KindServerError)
	b.RecordFailure(providers.KindServerError)
	assert.False(t, b.IsOpen(), "two failures must not trip")

	b.RecordFailure(providers.KindServerError)
	assert.True(t, b.IsOpen(), "third failure inside the window trips")
	assert.Equal(t, StateOpen, b.State())
}

func TestBreakerIgnoresNonCountableKinds(t *testing.T) {
	clock := newFakeClock()
	b := NewBreaker(testOptions(clock))

	for range 10 {
		b.RecordFailure(providers.KindClientError)
		b.RecordFailure(providers.KindRateLimit)
		b.RecordFailure(providers.KindUsageLimit)
		b.RecordFailure(providers.KindBedrockValidation)
	}
	assert.False(t, b.IsOpen())
	assert.Equal(t, StateClosed, b.State())
}

func TestBreakerWindowSlides(t *testing.T) {
	clock := newFakeClock()
	b := NewBreaker(testOptions(clock))

	b.RecordFailure(providers.KindTimeout)
	b.RecordFailure(providers.KindTimeout)

	clock.Advance(61 * time.Second)
	b.RecordFailure(providers.KindTimeout)
	assert.False(t, b.IsOpen(), "stale failures must age out of the window")

	b.RecordFailure(providers.KindTimeout)
	b.RecordFailure(providers.KindTimeout)
	assert.True(t, b.IsOpen())
}

func TestBreakerSuccessClearsWindow(t *testing.T) {
	clock := newFakeClock()
	b := NewBreaker(testOptions(clock))

	b.RecordFailure(providers.KindServerError)
	b.RecordFailure(providers.KindServerError)
	b.RecordSuccess()
	b.RecordFailure(providers.KindServerError)
	b.RecordFailure(providers.KindServerError)
	assert.False(t, b.IsOpen(), "success resets the failure count")
}

func TestBreakerHalfOpenSingleProbe(t *testing.T) {
	clock := newFakeClock()
	b := NewBreaker(testOptions(clock))

	for range 3 {
		b.RecordFailure(providers.KindServerError)
	}
	assert.True(t, b.IsOpen())

	clock.Advance(1800 * time.Second)
	assert.False(t, b.IsOpen(), "reset timeout elapsed, probe admitted")
	assert.Equal(t, StateHalfOpen, b.State())
	assert.True(t, b.IsOpen(), "second caller during the probe sees open")
	assert.True(t, b.IsOpen())
}

func TestBreakerProbeSuccessCloses(t *testing.T) {
	clock := newFakeClock()
	b := NewBreaker(testOptions(clock))

	for range 3 {
		b.RecordFailure(providers.KindNetworkError)
	}
	clock.Advance(1800 * time.Second)
	assert.False(t, b.IsOpen())

	b.RecordSuccess()
	assert.Equal(t, StateClosed, b.State())
	assert.False(t, b.IsOpen())
}

func TestBreakerProbeFailureReopens(t *testing.T) {
	clock := newFakeClock()
	b := NewBreaker(testOptions(clock))

	for range 3 {
		b.RecordFailure(providers.KindBedrockUnavailable)
	}
	clock.Advance(1800 * time.Second)
	assert.False(t, b.IsOpen())

	b.RecordFailure(providers.KindServerError)
	assert.Equal(t, StateOpen, b.State())
	assert.True(t, b.IsOpen(), "failed probe holds the circuit open")

	clock.Advance(1799 * time.Second)
	assert.True(t, b.IsOpen(), "reopen restarts the full reset timeout")
	clock.Advance(1 * time.Second)
	assert.False(t, b.IsOpen())
}

func TestBreakerProbeNonCountableFailureCloses(t *testing.T) {
	clock := newFakeClock()
	b := NewBreaker(testOptions(clock))

	for range 3 {
		b.RecordFailure(providers.KindServerError)
	}
	clock.Advance(1800 * time.Second)
	assert.False(t, b.IsOpen(), "reset timeout elapsed, probe admitted")

	// The upstream answered the probe; a client-caused error must not pin
	// the circuit in half-open.
	b.RecordFailure(providers.KindClientError)
	assert.Equal(t, StateClosed, b.State())
	assert.False(t, b.IsOpen())

	clock.Advance(5 * 24 * time.Hour)
	assert.False(t, b.IsOpen())
}

func TestRegistryProbeSettledByNonCountableKind(t *testing.T) {
	clock := newFakeClock()
	cfg := &config.CircuitConfig{FailureThreshold: 3, FailureWindowSec: 60, ResetTimeoutSecs: 1800}
	r := NewRegistry(cfg, clock.Now)
	key := uuid.New()

	for range 3 {
		r.RecordFailure(key, providers.KindServerError)
	}
	assert.True(t, r.IsOpen(key))

	clock.Advance(1800 * time.Second)
	assert.False(t, r.IsOpen(key), "probe admitted after the reset timeout")

	r.RecordFailure(key, providers.KindClientError)
	assert.Equal(t, StateClosed, r.State(key))
	assert.False(t, r.IsOpen(key))
}

func TestRegistryIsolatesKeys(t *testing.T) {
	clock := newFakeClock()
	cfg := &config.CircuitConfig{FailureThreshold: 3, FailureWindowSec: 60, ResetTimeoutSecs: 1800}
	r := NewRegistry(cfg, clock.Now)

	hot := uuid.New()
	cold := uuid.New()

	for range 3 {
		r.RecordFailure(hot, providers.KindServerError)
	}
	assert.True(t, r.IsOpen(hot))
	assert.False(t, r.IsOpen(cold))
	assert.Equal(t, StateOpen, r.State(hot))
	assert.Equal(t, StateClosed, r.State(cold))
}

func TestRegistryDoesNotCreateOnRead(t *testing.T) {
	cfg := &config.CircuitConfig{}
	r := NewRegistry(cfg, nil)

	key := uuid.New()
	assert.False(t, r.IsOpen(key))
	r.RecordSuccess(key)
	r.RecordFailure(key, providers.KindClientError)
	r.mu.RLock()
	defer r.mu.RUnlock()
	assert.Empty(t, r.breakers, "reads, successes, and non-countable failures must not allocate breakers")
}
