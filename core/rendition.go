package core

import (
	"context"
	"errors"
	"image"
	"net/url"
	"path"
	"path/filepath"
	"sync"
	"sync/atomic"

	"github.com/disintegration/imaging"
	"golang.org/x/text/unicode/norm"

	apperrors "github.com/Skryldev/multiimage/errors"
)

// renditionIDs hands out process-wide rendition identities.
var renditionIDs atomic.Uint64

// RenditionOption customises a Rendition at construction time.
type RenditionOption func(*Rendition)

// WithCachePath pins the cache location instead of deriving it from the
// source.
func WithCachePath(p string) RenditionOption {
	return func(r *Rendition) {
		r.pathOnce.Do(func() { r.cachePath = p })
	}
}

// Rendition is one fetchable variant of a logical image. Identity, not value,
// distinguishes renditions: two renditions with the same source and size are
// still different renditions.
type Rendition struct {
	id     uint64
	source string
	size   Size
	svc    Services

	pathOnce  sync.Once
	cachePath string

	thumbOnce sync.Once
	thumbSize Size

	mu    sync.Mutex
	image image.Image
}

// NewRendition creates a rendition for source declared at size.
func NewRendition(source string, size Size, svc Services, opts ...RenditionOption) *Rendition {
	r := &Rendition{
		id:     renditionIDs.Add(1),
		source: source,
		size:   size,
		svc:    svc,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// ID returns the rendition's stable identity.
func (r *Rendition) ID() uint64 { return r.id }

// Source returns the remote location.
func (r *Rendition) Source() string { return r.source }

// Size returns the declared pixel dimensions.
func (r *Rendition) Size() Size { return r.size }

func (r *Rendition) String() string { return r.size.String() + " " + r.source }

// SameRendition reports whether a and b are the same rendition. Two nils are
// the same.
func SameRendition(a, b *Rendition) bool {
	if a == nil || b == nil {
		return a == b
	}
	return a.id == b.id
}

// CachePath returns where the rendition lives on disk, or "" when no cache
// directory is available. It is computed once.
func (r *Rendition) CachePath() string {
	r.pathOnce.Do(func() {
		if r.svc.Files == nil {
			return
		}
		dir, err := r.svc.Files.CacheDir()
		if err != nil {
			r.svc.logger().Warn("rendition.cache_dir", "source", r.source, "error", err.Error())
			return
		}
		name := cacheFileName(r.source)
		if name == "" {
			return
		}
		r.cachePath = filepath.Join(dir, name)
	})
	return r.cachePath
}

// cacheFileName derives the cache file name from the trailing path component
// of src. Names are NFC-normalised so that the same URL always maps to the
// same file regardless of how the filesystem stores Unicode.
func cacheFileName(src string) string {
	p := src
	if u, err := url.Parse(src); err == nil && u.Path != "" {
		p = u.Path
	}
	base := path.Base(p)
	if base == "/" || base == "." || base == "" {
		return ""
	}
	return norm.NFC.String(base)
}

// IsAvailable reports whether the rendition is cached locally. It is checked
// on every call because fetches complete out-of-band.
func (r *Rendition) IsAvailable() bool {
	p := r.CachePath()
	if p == "" || r.svc.Files == nil {
		return false
	}
	return r.svc.Files.Exists(p)
}

// SquareThumbnailSize is the largest square that fits the declared size.
func (r *Rendition) SquareThumbnailSize() Size {
	r.thumbOnce.Do(func() {
		side := min(r.size.Width, r.size.Height)
		r.thumbSize = Size{Width: side, Height: side}
	})
	return r.thumbSize
}

// Image returns the decoded cached image, or nil when the rendition is not
// cached or cannot be decoded. A successful decode is memoised until Reset.
func (r *Rendition) Image() image.Image {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.image != nil {
		return r.image
	}
	if !r.IsAvailable() || r.svc.Decoder == nil {
		return nil
	}
	r.image = r.svc.Decoder.DecodeFile(r.CachePath())
	return r.image
}

// Reset drops the memoised image so the next Image call reads the cache file
// again.
func (r *Rendition) Reset() {
	r.mu.Lock()
	r.image = nil
	r.mu.Unlock()
}

// SquareThumbnailImage returns the centred square crop of Image.
func (r *Rendition) SquareThumbnailImage() image.Image {
	img := r.Image()
	if img == nil {
		return nil
	}
	b := img.Bounds()
	side := min(b.Dx(), b.Dy())
	return imaging.CropCenter(img, side, side)
}

// Load returns the rendition's image, downloading it into the cache first
// when it is not available locally. On failure the image currently held (if
// any) is returned alongside the error so callers never lose a good image.
func (r *Rendition) Load(ctx context.Context) (image.Image, error) {
	if img, ok := r.cached(); ok {
		return img, nil
	}
	return r.download(ctx)
}

// Fetch is the asynchronous form of Load. When the rendition is cached, done
// runs before Fetch returns; otherwise it runs on a new goroutine.
func (r *Rendition) Fetch(ctx context.Context, done func(image.Image, error)) {
	if img, ok := r.cached(); ok {
		done(img, nil)
		return
	}
	go func() {
		done(r.download(ctx))
	}()
}

func (r *Rendition) cached() (image.Image, bool) {
	if !r.IsAvailable() {
		return nil, false
	}
	img := r.Image()
	return img, img != nil
}

func (r *Rendition) download(ctx context.Context) (image.Image, error) {
	if err := ctx.Err(); err != nil {
		return r.Image(), apperrors.Wrap(apperrors.CategoryTransport, "rendition.download", err)
	}
	if r.svc.Transport == nil || r.svc.Files == nil {
		return r.Image(), apperrors.New(apperrors.CategoryConfig, "rendition.download",
			errors.New("transport or filesystem not configured"))
	}
	dst := r.CachePath()
	if dst == "" {
		return r.Image(), apperrors.New(apperrors.CategoryCache, "rendition.download", apperrors.ErrCacheDirUnavailable)
	}

	tmp, err := r.svc.Transport.Download(ctx, r.source)
	if err != nil {
		if apperrors.CategoryOf(err) == "" {
			err = apperrors.Transient("rendition.download", err)
		}
		return r.Image(), err
	}
	if tmp == "" {
		return r.Image(), apperrors.New(apperrors.CategoryTransport, "rendition.download", apperrors.ErrSourceNotFound)
	}

	if err := r.svc.Files.Move(tmp, dst); err != nil {
		return r.Image(), apperrors.Wrap(apperrors.CategoryCache, "rendition.move", err)
	}
	r.Reset()
	// A file that does not decode yields a nil image, not an error.
	return r.Image(), nil
}
