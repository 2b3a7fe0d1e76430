package core

import (
	"context"
	"image"
	"image/draw"
	"sync/atomic"
	"time"
)

// Transport downloads a remote source into a temporary local file.
// Implementations live in adapters/transport/.
type Transport interface {
	// Download fetches src and returns the path of a temporary file holding
	// the body. An empty path with a nil error means the source produced no
	// file. Cancelling ctx aborts the transfer.
	Download(ctx context.Context, src string) (tmpPath string, err error)
}

// Decoder turns a cached file into an in-memory image.
// Implementations live in adapters/decoder/ and adapters/vips/.
type Decoder interface {
	// DecodeFile returns nil when the file is missing, unreadable or corrupt.
	DecodeFile(path string) image.Image
}

// Rasterizer forces full decompression of an image by drawing it into an
// offscreen buffer and reading the pixels back. The two phases are separate
// so callers can check for cancellation in between.
type Rasterizer interface {
	Draw(src image.Image) draw.Image
	Extract(canvas draw.Image) image.Image
}

// FileSystem is the slice of the local filesystem the cache needs.
// Implementations live in adapters/storage/.
type FileSystem interface {
	Exists(path string) bool
	// Move atomically replaces dst with src.
	Move(src, dst string) error
	// CacheDir resolves the root directory for cached renditions.
	CacheDir() (string, error)
}

// MetricsCollector receives observations from renditions and viewers.
type MetricsCollector interface {
	RecordFetch(source string, d interface{ Seconds() float64 }, fromCache bool)
	RecordDecode(d interface{ Seconds() float64 })
	RecordStale(kind string)
	RecordError(op string, category string)
}

// Logger is a minimal structured logging interface.
type Logger interface {
	Debug(msg string, fields ...interface{})
	Info(msg string, fields ...interface{})
	Warn(msg string, fields ...interface{})
	Error(msg string, fields ...interface{})
}

// Hook is an optional observer invoked around rendition fetches.
type Hook interface {
	BeforeFetch(ctx context.Context, r *Rendition)
	AfterFetch(ctx context.Context, r *Rendition, img image.Image, d time.Duration, err error)
}

type fetchIDKey struct{}

var fetchIDs atomic.Uint64

// WithFetchID tags ctx with a process-unique fetch ID so that hooks can pair
// BeforeFetch with AfterFetch when one rendition is fetched more than once.
func WithFetchID(ctx context.Context) context.Context {
	return context.WithValue(ctx, fetchIDKey{}, fetchIDs.Add(1))
}

// FetchID returns the ID set by WithFetchID.
func FetchID(ctx context.Context) (uint64, bool) {
	id, ok := ctx.Value(fetchIDKey{}).(uint64)
	return id, ok
}

// NopLogger discards everything.
type NopLogger struct{}

func (NopLogger) Debug(string, ...interface{}) {}
func (NopLogger) Info(string, ...interface{})  {}
func (NopLogger) Warn(string, ...interface{})  {}
func (NopLogger) Error(string, ...interface{}) {}
