// Package decoder provides file decoders and the offscreen rasterizer.
package decoder

import (
	"image"
	"image/jpeg"
	"image/png"
	"io"
	"sync"

	"golang.org/x/image/webp"
)

// Format identifies an image codec.
type Format string

const (
	FormatJPEG    Format = "jpeg"
	FormatPNG     Format = "png"
	FormatWebP    Format = "webp"
	FormatUnknown Format = "unknown"
)

// DecodeFunc decodes one encoded image.
type DecodeFunc func(r io.Reader) (image.Image, error)

// Registry maps formats to decode functions. It is safe for concurrent use.
type Registry struct {
	mu       sync.RWMutex
	decoders map[Format]DecodeFunc
}

// NewRegistry returns a registry with the built-in JPEG, PNG and WebP
// decoders registered.
// NOTE: golang.org/x/image/webp only supports lossy and lossless still
// images; animated WebP needs the vips backend.
func NewRegistry() *Registry {
	r := &Registry{decoders: make(map[Format]DecodeFunc)}
	r.Register(FormatJPEG, jpeg.Decode)
	r.Register(FormatPNG, png.Decode)
	r.Register(FormatWebP, webp.Decode)
	return r
}

// Register installs fn for f, replacing any previous decoder.
func (r *Registry) Register(f Format, fn DecodeFunc) {
	r.mu.Lock()
	r.decoders[f] = fn
	r.mu.Unlock()
}

// DecoderFor returns the decoder for f.
func (r *Registry) DecoderFor(f Format) (DecodeFunc, bool) {
	r.mu.RLock()
	fn, ok := r.decoders[f]
	r.mu.RUnlock()
	return fn, ok
}
