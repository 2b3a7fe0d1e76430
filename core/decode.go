package core

import (
	"image"
	"sync"
	"sync/atomic"
	"time"
)

// DecodeOperation forces eager decompression of an in-memory image so that
// displaying the result later costs nothing. It is cancellable until it has
// produced its result.
type DecodeOperation struct {
	src    image.Image
	raster Rasterizer

	cancelled atomic.Bool
	done      chan struct{}
	finish    sync.Once

	mu         sync.Mutex
	result     image.Image
	elapsed    time.Duration
	onComplete func(*DecodeOperation)
	onCancel   func(*DecodeOperation)
}

// NewDecodeOperation prepares a decode of src. A nil Rasterizer passes src
// through untouched.
func NewDecodeOperation(src image.Image, r Rasterizer) *DecodeOperation {
	return &DecodeOperation{src: src, raster: r, done: make(chan struct{})}
}

// OnComplete registers fn to run after a successful, uncancelled Run. It
// runs on the goroutine that executed the operation.
func (op *DecodeOperation) OnComplete(fn func(*DecodeOperation)) {
	op.mu.Lock()
	op.onComplete = fn
	op.mu.Unlock()
}

// OnCancel registers fn to run when Run returns without a result because the
// operation was cancelled, whoever cancelled it.
func (op *DecodeOperation) OnCancel(fn func(*DecodeOperation)) {
	op.mu.Lock()
	op.onCancel = fn
	op.mu.Unlock()
}

// Cancel marks the operation cancelled. A running operation notices at its
// next checkpoint.
func (op *DecodeOperation) Cancel() { op.cancelled.Store(true) }

// IsCancelled reports whether Cancel has been called.
func (op *DecodeOperation) IsCancelled() bool { return op.cancelled.Load() }

// Done is closed once Run has returned, cancelled or not.
func (op *DecodeOperation) Done() <-chan struct{} { return op.done }

// Result returns the decompressed image; nil until Run succeeds, and nil
// forever if the operation was cancelled.
func (op *DecodeOperation) Result() image.Image {
	op.mu.Lock()
	defer op.mu.Unlock()
	return op.result
}

// Elapsed returns how long the draw and extract phases took.
func (op *DecodeOperation) Elapsed() time.Duration {
	op.mu.Lock()
	defer op.mu.Unlock()
	return op.elapsed
}

// Run performs the decode. Cancellation is checked before drawing, after
// drawing and after extraction; a cancelled operation keeps no output.
func (op *DecodeOperation) Run() {
	ok := op.run()
	op.finish.Do(func() {
		close(op.done)
		op.mu.Lock()
		fn := op.onComplete
		if !ok {
			fn = op.onCancel
		}
		op.mu.Unlock()
		if fn != nil {
			fn(op)
		}
	})
}

func (op *DecodeOperation) run() bool {
	if op.IsCancelled() || op.src == nil {
		op.setResult(nil, 0)
		return !op.IsCancelled()
	}
	if op.raster == nil {
		op.setResult(op.src, 0)
		return true
	}

	start := time.Now()
	canvas := op.raster.Draw(op.src)
	if op.IsCancelled() {
		op.setResult(nil, 0)
		return false
	}

	out := op.raster.Extract(canvas)
	if op.IsCancelled() {
		op.setResult(nil, 0)
		return false
	}
	op.setResult(out, time.Since(start))
	return true
}

func (op *DecodeOperation) setResult(img image.Image, d time.Duration) {
	op.mu.Lock()
	op.result = img
	op.elapsed = d
	op.mu.Unlock()
}
