package decoder

import (
	"context"
	"fmt"
	"image"
	"io"
	"os"

	"github.com/Skryldev/multiimage/core"
	apperrors "github.com/Skryldev/multiimage/errors"
	"github.com/Skryldev/multiimage/utils"
)

// File decodes cached rendition files. The format is sniffed from the file
// contents, never from the name, since cache names come from URLs.
type File struct {
	reg       *Registry
	maxBytes  int64
	chunkSize int
	logger    core.Logger
}

// Option configures a File decoder.
type Option func(*File)

// WithRegistry replaces the default registry.
func WithRegistry(r *Registry) Option { return func(f *File) { f.reg = r } }

// WithMaxBytes rejects files larger than n bytes (0 = no limit).
func WithMaxBytes(n int64) Option { return func(f *File) { f.maxBytes = n } }

// WithLogger reports decode failures to l.
func WithLogger(l core.Logger) Option { return func(f *File) { f.logger = l } }

// NewFile returns a File decoder.
func NewFile(opts ...Option) *File {
	f := &File{chunkSize: 32 * 1024, logger: core.NopLogger{}}
	for _, opt := range opts {
		opt(f)
	}
	if f.reg == nil {
		f.reg = NewRegistry()
	}
	return f
}

// DecodeFile implements core.Decoder. Any failure yields nil.
func (f *File) DecodeFile(path string) image.Image {
	img, err := f.Decode(path)
	if err != nil {
		f.logger.Debug("decoder.file.failed", "path", path, "error", err.Error())
		return nil
	}
	return img
}

// Decode reads and decodes path, reporting why it failed.
func (f *File) Decode(path string) (image.Image, error) {
	fh, err := os.Open(path)
	if err != nil {
		return nil, apperrors.Wrap(apperrors.CategoryDecode, "file.open", err)
	}
	defer fh.Close()

	var r io.Reader = fh
	if f.maxBytes > 0 {
		r = &utils.LimitedReader{R: fh, Max: f.maxBytes}
	}
	buf, err := utils.DrainReader(context.Background(), r, f.chunkSize)
	if err != nil {
		return nil, apperrors.Wrap(apperrors.CategoryDecode, "file.read", err)
	}
	defer utils.ReleaseBuffer(buf)
	if buf.Len() == 0 {
		return nil, apperrors.New(apperrors.CategoryDecode, "file.read", apperrors.ErrEmptyInput)
	}

	format := Format(utils.DetectFormat(buf.Bytes()))
	fn, ok := f.reg.DecoderFor(format)
	if !ok {
		return nil, apperrors.New(apperrors.CategoryDecode, "file.decode",
			fmt.Errorf("%w: %s", apperrors.ErrUnsupportedFormat, format))
	}
	img, err := fn(utils.BytesReader(buf.Bytes()))
	if err != nil {
		return nil, apperrors.Wrap(apperrors.CategoryDecode, "file.decode."+string(format), err)
	}
	return img, nil
}

var _ core.Decoder = (*File)(nil)
