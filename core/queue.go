package core

import (
	"sync"
	"sync/atomic"

	apperrors "github.com/Skryldev/multiimage/errors"
)

// DefaultDecodeConcurrency caps parallel decodes so that rapid zooming does
// not over-subscribe the CPU.
const DefaultDecodeConcurrency = 2

// DefaultDecodeQueueSize is the backlog a DecodeQueue accepts before Submit
// reports ErrQueueFull.
const DefaultDecodeQueueSize = 64

// DecodeQueue is a fixed-size worker pool for DecodeOperations. One queue is
// created at startup and shared by every viewer. It is safe for concurrent
// use.
type DecodeQueue struct {
	workers int

	jobs     chan *DecodeOperation
	wg       sync.WaitGroup
	start    sync.Once
	stop     sync.Once
	shutdown chan struct{}

	mu     sync.RWMutex
	closed bool

	// Atomic counters for lightweight internal metrics.
	submitted int64
	completed int64
	cancelled int64
}

// NewDecodeQueue creates a queue. Non-positive arguments select the
// defaults. Call Start before expecting work to run and Stop when done.
func NewDecodeQueue(workers, queueSize int) *DecodeQueue {
	if workers <= 0 {
		workers = DefaultDecodeConcurrency
	}
	if queueSize <= 0 {
		queueSize = DefaultDecodeQueueSize
	}
	return &DecodeQueue{
		workers:  workers,
		jobs:     make(chan *DecodeOperation, queueSize),
		shutdown: make(chan struct{}),
	}
}

// Workers returns the concurrency limit.
func (q *DecodeQueue) Workers() int { return q.workers }

// Start launches the workers. It is idempotent.
func (q *DecodeQueue) Start() {
	q.start.Do(func() {
		for i := 0; i < q.workers; i++ {
			q.wg.Add(1)
			go q.worker()
		}
	})
}

// Stop shuts the workers down. Operations still queued are cancelled and
// run so that their Done channels close and their OnCancel callbacks fire.
func (q *DecodeQueue) Stop() {
	q.stop.Do(func() {
		q.mu.Lock()
		q.closed = true
		q.mu.Unlock()

		close(q.shutdown)
		q.wg.Wait()

		for {
			select {
			case op := <-q.jobs:
				op.Cancel()
				q.execute(op)
			default:
				return
			}
		}
	})
}

// Submit enqueues op without blocking.
func (q *DecodeQueue) Submit(op *DecodeOperation) error {
	q.mu.RLock()
	defer q.mu.RUnlock()
	if q.closed {
		return apperrors.New(apperrors.CategoryQueue, "decode.submit", apperrors.ErrQueueClosed)
	}
	select {
	case q.jobs <- op:
		atomic.AddInt64(&q.submitted, 1)
		return nil
	default:
		return apperrors.New(apperrors.CategoryQueue, "decode.submit", apperrors.ErrQueueFull)
	}
}

func (q *DecodeQueue) worker() {
	defer q.wg.Done()
	for {
		select {
		case <-q.shutdown:
			return
		case op := <-q.jobs:
			q.execute(op)
		}
	}
}

func (q *DecodeQueue) execute(op *DecodeOperation) {
	op.Run()
	if op.IsCancelled() {
		atomic.AddInt64(&q.cancelled, 1)
		return
	}
	atomic.AddInt64(&q.completed, 1)
}

// Stats returns the number of submitted, completed and cancelled operations.
func (q *DecodeQueue) Stats() (submitted, completed, cancelled int64) {
	return atomic.LoadInt64(&q.submitted), atomic.LoadInt64(&q.completed), atomic.LoadInt64(&q.cancelled)
}
