// Package vips decodes cached renditions with libvips.
package vips

import (
	"bytes"
	"context"
	"image"
	"image/png"
	"io"
	"os"
	"runtime"
	"sync"

	govips "github.com/davidbyttow/govips/v2/vips"

	"github.com/Skryldev/multiimage/adapters/decoder"
	"github.com/Skryldev/multiimage/core"
	apperrors "github.com/Skryldev/multiimage/errors"
	"github.com/Skryldev/multiimage/utils"
)

// BackendConfig configures the libvips backend.
type BackendConfig struct {
	MaxCacheSize int
	MaxWorkers   int
	ReportLeaks  bool
	Logger       core.Logger
}

// Backend is a libvips-powered core.Decoder. libvips handles EXIF
// orientation and animated WebP first frames that the Go codecs do not.
// Safe for concurrent use across goroutines.
type Backend struct {
	cfg BackendConfig
}

var startOnce sync.Once

// NewBackend initialises libvips and returns a ready Backend.
// Call Shutdown() when the process exits.
func NewBackend(cfg BackendConfig) *Backend {
	if cfg.MaxWorkers <= 0 {
		cfg.MaxWorkers = runtime.NumCPU()
	}
	if cfg.Logger == nil {
		cfg.Logger = core.NopLogger{}
	}
	startOnce.Do(func() {
		govips.Startup(&govips.Config{
			ConcurrencyLevel: cfg.MaxWorkers,
			MaxCacheSize:     cfg.MaxCacheSize,
			ReportLeaks:      cfg.ReportLeaks,
		})
	})
	return &Backend{cfg: cfg}
}

// Shutdown releases all libvips resources. Call once at process exit.
func (b *Backend) Shutdown() {
	govips.Shutdown()
}

// DecodeFile implements core.Decoder. Any failure yields nil.
func (b *Backend) DecodeFile(path string) image.Image {
	raw, err := os.ReadFile(path)
	if err != nil {
		b.cfg.Logger.Debug("vips.decode.read", "path", path, "error", err.Error())
		return nil
	}
	img, err := b.DecodeBytes(raw)
	if err != nil {
		b.cfg.Logger.Debug("vips.decode.failed", "path", path, "error", err.Error())
		return nil
	}
	return img
}

// DecodeBytes decodes raw with libvips, applies the EXIF orientation, and
// hands the pixels back as a Go image.
func (b *Backend) DecodeBytes(raw []byte) (image.Image, error) {
	if len(raw) == 0 {
		return nil, apperrors.New(apperrors.CategoryDecode, "vips.decode", apperrors.ErrEmptyInput)
	}
	ref, err := govips.NewImageFromBuffer(raw)
	if err != nil {
		return nil, apperrors.Wrap(apperrors.CategoryDecode, "vips.decode", err)
	}
	defer ref.Close()

	if err := ref.AutoRotate(); err != nil {
		return nil, apperrors.Wrap(apperrors.CategoryDecode, "vips.decode.rotate", err)
	}
	ep := govips.NewPngExportParams()
	ep.StripMetadata = true
	ep.Compression = 0
	buf, _, err := ref.ExportPng(ep)
	if err != nil {
		return nil, apperrors.Wrap(apperrors.CategoryDecode, "vips.decode.export", err)
	}
	img, err := png.Decode(bytes.NewReader(buf))
	if err != nil {
		return nil, apperrors.Wrap(apperrors.CategoryDecode, "vips.decode.png", err)
	}
	return img, nil
}

func (b *Backend) decodeReader(r io.Reader) (image.Image, error) {
	buf, err := utils.DrainReader(context.Background(), r, 32*1024)
	if err != nil {
		return nil, apperrors.Wrap(apperrors.CategoryDecode, "vips.decode.drain", err)
	}
	defer utils.ReleaseBuffer(buf)
	return b.DecodeBytes(buf.Bytes())
}

// Register replaces the Go codecs in reg with libvips for every format it
// knows, so a decoder.File keeps its size limits and sniffing while libvips
// does the decoding.
func Register(reg *decoder.Registry, b *Backend) {
	for _, f := range []decoder.Format{decoder.FormatJPEG, decoder.FormatPNG, decoder.FormatWebP} {
		reg.Register(f, b.decodeReader)
	}
}

var _ core.Decoder = (*Backend)(nil)
