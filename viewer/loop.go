package viewer

import "sync"

// Dispatcher runs functions on the single context that owns viewer state,
// typically a UI thread. Dispatch must not block and must run functions in
// submission order.
type Dispatcher interface {
	Dispatch(fn func())
}

// Loop is a Dispatcher backed by one goroutine and an unbounded FIFO. It
// plays the UI context for headless programs and tests.
type Loop struct {
	mu     sync.Mutex
	cond   *sync.Cond
	queue  []func()
	closed bool
	done   chan struct{}
}

// NewLoop starts a Loop.
func NewLoop() *Loop {
	l := &Loop{done: make(chan struct{})}
	l.cond = sync.NewCond(&l.mu)
	go l.run()
	return l
}

// Dispatch queues fn. Functions dispatched after Close are dropped.
func (l *Loop) Dispatch(fn func()) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.closed {
		return
	}
	l.queue = append(l.queue, fn)
	l.cond.Signal()
}

// Do runs fn on the loop and waits for it. It must not be called from the
// loop itself. After Close, Do returns without running fn.
func (l *Loop) Do(fn func()) {
	ran := make(chan struct{})
	l.mu.Lock()
	if l.closed {
		l.mu.Unlock()
		return
	}
	l.queue = append(l.queue, func() {
		defer close(ran)
		fn()
	})
	l.cond.Signal()
	l.mu.Unlock()
	<-ran
}

// Sync waits until everything queued before the call has run.
func (l *Loop) Sync() { l.Do(func() {}) }

// Close stops accepting work, runs what is already queued and waits for
// the loop goroutine to exit.
func (l *Loop) Close() {
	l.mu.Lock()
	if !l.closed {
		l.closed = true
		l.cond.Signal()
	}
	l.mu.Unlock()
	<-l.done
}

func (l *Loop) run() {
	defer close(l.done)
	for {
		l.mu.Lock()
		for len(l.queue) == 0 && !l.closed {
			l.cond.Wait()
		}
		if len(l.queue) == 0 {
			l.mu.Unlock()
			return
		}
		fn := l.queue[0]
		l.queue[0] = nil
		l.queue = l.queue[1:]
		l.mu.Unlock()
		fn()
	}
}

var _ Dispatcher = (*Loop)(nil)
