package metrics

import (
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// collectEmitter records everything it sees.
type collectEmitter struct {
	mu   sync.Mutex
	recs []Record
}

func (c *collectEmitter) Emit(rec Record) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.recs = append(c.recs, rec)
}

func (c *collectEmitter) records() []Record {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]Record(nil), c.recs...)
}

// gateEmitter blocks its first Emit until released, so tests can hold the
// worker busy while they fill the queue.
type gateEmitter struct {
	collectEmitter
	started chan struct{}
	release chan struct{}
	once    sync.Once
}

func (g *gateEmitter) Emit(rec Record) {
	g.once.Do(func() {
		close(g.started)
		<-g.release
	})
	g.collectEmitter.Emit(rec)
}

func TestQueueDeliversEverythingOnClose(t *testing.T) {
	em := &collectEmitter{}
	q := NewQueue(em, 16, zerolog.Nop())

	for i := range 10 {
		q.Emit(Record{Status: 200 + i})
	}
	require.NoError(t, q.Close())

	recs := em.records()
	require.Len(t, recs, 10)
	assert.Equal(t, 200, recs[0].Status)
	assert.Equal(t, 209, recs[9].Status)
	assert.Equal(t, uint64(0), q.Dropped())
}

func TestQueueDropsOldestWhenFull(t *testing.T) {
	em := &gateEmitter{started: make(chan struct{}), release: make(chan struct{})}
	q := NewQueue(em, 2, zerolog.Nop())

	// First record occupies the worker.
	q.Emit(Record{Status: 1})
	select {
	case <-em.started:
	case <-time.After(time.Second):
		t.Fatal("worker never picked up the first record")
	}

	// Fill the queue, then overflow it.
	q.Emit(Record{Status: 2})
	q.Emit(Record{Status: 3})
	q.Emit(Record{Status: 4})

	close(em.release)
	require.NoError(t, q.Close())

	var statuses []int
	for _, rec := range em.records() {
		statuses = append(statuses, rec.Status)
	}
	assert.Equal(t, []int{1, 3, 4}, statuses, "the oldest queued record gives way")
	assert.Equal(t, uint64(1), q.Dropped())
}

func TestQueueCloseIsIdempotent(t *testing.T) {
	q := NewQueue(&collectEmitter{}, 4, zerolog.Nop())
	require.NoError(t, q.Close())
	require.NoError(t, q.Close())
}

func TestQueueDefaultSize(t *testing.T) {
	em := &collectEmitter{}
	q := NewQueue(em, 0, zerolog.Nop())
	q.Emit(Record{Status: 200})
	require.NoError(t, q.Close())
	assert.Len(t, em.records(), 1)
}
