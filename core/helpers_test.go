package core_test

import (
	"context"
	"fmt"
	"image"
	"image/draw"
	"os"
	"path"
	"sync"
	"sync/atomic"

	"github.com/Skryldev/multiimage/core"
)

// memFS is an in-memory FileSystem. File contents are "WxH" strings that
// fakeDecoder turns into blank images of that size.
type memFS struct {
	mu      sync.Mutex
	dir     string
	files   map[string]string
	moveErr error
}

func newMemFS() *memFS {
	return &memFS{dir: "/cache", files: make(map[string]string)}
}

func (m *memFS) Exists(p string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.files[p]
	return ok
}

func (m *memFS) Move(src, dst string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.moveErr != nil {
		return m.moveErr
	}
	data, ok := m.files[src]
	if !ok {
		return &os.PathError{Op: "rename", Path: src, Err: os.ErrNotExist}
	}
	delete(m.files, src)
	m.files[dst] = data
	return nil
}

func (m *memFS) CacheDir() (string, error) { return m.dir, nil }

func (m *memFS) put(p, content string) {
	m.mu.Lock()
	m.files[p] = content
	m.mu.Unlock()
}

// cache marks r as cached with an image of its declared size.
func (m *memFS) cache(r *core.Rendition) {
	m.put(r.CachePath(), fmt.Sprintf("%dx%d", int(r.Size().Width), int(r.Size().Height)))
}

type fakeDecoder struct{ fs *memFS }

func (d fakeDecoder) DecodeFile(p string) image.Image {
	d.fs.mu.Lock()
	content, ok := d.fs.files[p]
	d.fs.mu.Unlock()
	if !ok {
		return nil
	}
	var w, h int
	if _, err := fmt.Sscanf(content, "%dx%d", &w, &h); err != nil {
		return nil
	}
	return image.NewGray(image.Rect(0, 0, w, h))
}

// fakeTransport serves "WxH" bodies from a table keyed by source.
type fakeTransport struct {
	fs     *memFS
	bodies map[string]string
	err    error
	calls  atomic.Int32
	n      atomic.Int32
}

func (f *fakeTransport) Download(ctx context.Context, src string) (string, error) {
	f.calls.Add(1)
	if err := ctx.Err(); err != nil {
		return "", err
	}
	if f.err != nil {
		return "", f.err
	}
	body, ok := f.bodies[src]
	if !ok {
		return "", nil
	}
	tmp := path.Join("/tmp", fmt.Sprintf("dl-%d", f.n.Add(1)))
	f.fs.put(tmp, body)
	return tmp, nil
}

type env struct {
	fs        *memFS
	transport *fakeTransport
	svc       core.Services
}

func newEnv() *env {
	fs := newMemFS()
	tr := &fakeTransport{fs: fs, bodies: make(map[string]string)}
	return &env{
		fs:        fs,
		transport: tr,
		svc:       core.Services{Transport: tr, Decoder: fakeDecoder{fs: fs}, Files: fs},
	}
}

// rendition creates a rendition at https://img.example/<w>x<h>.jpg whose
// remote body decodes to its declared size.
func (e *env) rendition(w, h float64) *core.Rendition {
	src := fmt.Sprintf("https://img.example/%gx%g.jpg", w, h)
	e.transport.bodies[src] = fmt.Sprintf("%dx%d", int(w), int(h))
	return core.NewRendition(src, core.Size{Width: w, Height: h}, e.svc)
}

// gatedRasterizer copies pixels and lets a test intervene between phases.
type gatedRasterizer struct {
	afterDraw    func()
	afterExtract func()
	drawn        atomic.Int32
	extracted    atomic.Int32
}

func (g *gatedRasterizer) Draw(src image.Image) draw.Image {
	g.drawn.Add(1)
	dst := image.NewRGBA(src.Bounds())
	draw.Draw(dst, dst.Bounds(), src, src.Bounds().Min, draw.Src)
	if g.afterDraw != nil {
		g.afterDraw()
	}
	return dst
}

func (g *gatedRasterizer) Extract(canvas draw.Image) image.Image {
	g.extracted.Add(1)
	if g.afterExtract != nil {
		g.afterExtract()
	}
	return canvas
}
