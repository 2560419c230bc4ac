package metrics

import (
	"sync"
	"sync/atomic"

	"github.com/rs/zerolog"
)

// DefaultQueueSize bounds the in-flight record backlog.
const DefaultQueueSize = 1024

// Queue decouples request handling from metric export with a bounded
// channel and one worker goroutine. When the queue is full the oldest
// record is dropped so the backlog always reflects recent traffic.
type Queue struct {
	ch      chan Record
	emitter Emitter
	dropped atomic.Uint64
	logger  zerolog.Logger

	wg        sync.WaitGroup
	closeOnce sync.Once
}

// NewQueue starts the worker. size <= 0 falls back to DefaultQueueSize.
func NewQueue(emitter Emitter, size int, logger zerolog.Logger) *Queue {
	if size <= 0 {
		size = DefaultQueueSize
	}
	q := &Queue{
		ch:      make(chan Record, size),
		emitter: emitter,
		logger:  logger,
	}
	q.wg.Add(1)
	go q.run()
	return q
}

func (q *Queue) run() {
	defer q.wg.Done()
	for rec := range q.ch {
		q.emitter.Emit(rec)
	}
}

// Emit enqueues without blocking. Must not be called after Close; the
// server drains in-flight requests before the queue shuts down.
func (q *Queue) Emit(rec Record) {
	select {
	case q.ch <- rec:
		return
	default:
	}

	// Full: evict the oldest record and try once more. A concurrent
	// enqueue can still win the freed slot, in which case this record is
	// the one dropped.
	select {
	case <-q.ch:
		q.dropped.Add(1)
	default:
	}
	select {
	case q.ch <- rec:
	default:
		q.dropped.Add(1)
	}
}

// Dropped reports how many records were discarded due to backpressure.
func (q *Queue) Dropped() uint64 {
	return q.dropped.Load()
}

// Close drains the backlog and stops the worker. Idempotent.
func (q *Queue) Close() error {
	q.closeOnce.Do(func() {
		close(q.ch)
		q.wg.Wait()
		if n := q.dropped.Load(); n > 0 {
			q.logger.Warn().Uint64("dropped", n).Msg("metrics records dropped under backpressure")
		}
	})
	return nil
}
