package breaker

import (
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/planbridge/planbridge/internal/config"
	"github.com/planbridge/planbridge/internal/providers"
)

// Registry is the per-key breaker map. Breakers are created lazily on first
// failure and live for the process; the active-key set bounds the map.
type Registry struct {
	opts Options

	mu       sync.RWMutex
	breakers map[uuid.UUID]*Breaker
}

// NewRegistry builds a registry from configuration. clock may be nil.
func NewRegistry(cfg *config.CircuitConfig, clock func() time.Time) *Registry {
	return &Registry{
		opts: Options{
			FailureThreshold: cfg.GetFailureThreshold(),
			FailureWindow:    cfg.GetFailureWindow(),
			ResetTimeout:     cfg.GetResetTimeout(),
			Clock:            clock,
		},
		breakers: make(map[uuid.UUID]*Breaker),
	}
}

// IsOpen reports whether the primary should be skipped for this key. A key
// with no breaker yet is closed; no breaker is created.
func (r *Registry) IsOpen(keyID uuid.UUID) bool {
	if b := r.lookup(keyID); b != nil {
		return b.IsOpen()
	}
	return false
}

// RecordSuccess closes the key's circuit if one exists.
func (r *Registry) RecordSuccess(keyID uuid.UUID) {
	if b := r.lookup(keyID); b != nil {
		b.RecordSuccess()
	}
}

// RecordFailure counts a failure against the key, creating its breaker on
// first countable failure. Non-countable kinds never allocate a breaker but
// still reach an existing one, which may hold a half-open probe permit.
func (r *Registry) RecordFailure(keyID uuid.UUID, kind providers.ErrorKind) {
	if !CountableKinds[kind] {
		if b := r.lookup(keyID); b != nil {
			b.RecordFailure(kind)
		}
		return
	}
	r.forKey(keyID).RecordFailure(kind)
}

// State reports the key's circuit position.
func (r *Registry) State(keyID uuid.UUID) State {
	if b := r.lookup(keyID); b != nil {
		return b.State()
	}
	return StateClosed
}

func (r *Registry) lookup(keyID uuid.UUID) *Breaker {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.breakers[keyID]
}

func (r *Registry) forKey(keyID uuid.UUID) *Breaker {
	r.mu.RLock()
	b := r.breakers[keyID]
	r.mu.RUnlock()
	if b != nil {
		return b
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if b = r.breakers[keyID]; b == nil {
		b = NewBreaker(r.opts)
		r.breakers[keyID] = b
	}
	return b
}
