package viewer_test

import (
	"context"
	"fmt"
	"image"
	"os"
	"path"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/Skryldev/multiimage/adapters/decoder"
	"github.com/Skryldev/multiimage/core"
	"github.com/Skryldev/multiimage/hooks"
	"github.com/Skryldev/multiimage/viewer"
)

type memFS struct {
	mu    sync.Mutex
	files map[string]string
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
	data, ok := m.files[src]
	if !ok {
		return &os.PathError{Op: "rename", Path: src, Err: os.ErrNotExist}
	}
	delete(m.files, src)
	m.files[dst] = data
	return nil
}

func (m *memFS) CacheDir() (string, error) { return "/cache", nil }

func (m *memFS) put(p, content string) {
	m.mu.Lock()
	m.files[p] = content
	m.mu.Unlock()
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

// gatedTransport serves "WxH" bodies. Sources with a gate block until the
// gate is closed or the request is cancelled.
type gatedTransport struct {
	fs *memFS

	mu        sync.Mutex
	bodies    map[string]string
	errs      map[string]error
	gates     map[string]chan struct{}
	requested []string

	n         atomic.Int32
	cancelled atomic.Int32
}

func (g *gatedTransport) Download(ctx context.Context, src string) (string, error) {
	g.mu.Lock()
	g.requested = append(g.requested, src)
	gate := g.gates[src]
	err := g.errs[src]
	body, ok := g.bodies[src]
	g.mu.Unlock()

	if gate != nil {
		select {
		case <-gate:
		case <-ctx.Done():
			g.cancelled.Add(1)
			return "", ctx.Err()
		}
	}
	if err != nil {
		return "", err
	}
	if !ok {
		return "", nil
	}
	tmp := path.Join("/tmp", fmt.Sprintf("dl-%d", g.n.Add(1)))
	g.fs.put(tmp, body)
	return tmp, nil
}

func (g *gatedTransport) gate(src string) chan struct{} {
	g.mu.Lock()
	defer g.mu.Unlock()
	ch := make(chan struct{})
	g.gates[src] = ch
	return ch
}

func (g *gatedTransport) fail(src string, err error) {
	g.mu.Lock()
	g.errs[src] = err
	g.mu.Unlock()
}

func (g *gatedTransport) calls() []string {
	g.mu.Lock()
	defer g.mu.Unlock()
	return append([]string(nil), g.requested...)
}

// recDisplay records what the coordinator does to it.
type recDisplay struct {
	mu      sync.Mutex
	events  []string
	img     image.Image
	loading bool
}

func (d *recDisplay) SetImage(img image.Image) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.img = img
	if img == nil {
		d.events = append(d.events, "clear")
		return
	}
	d.events = append(d.events, "image "+sizeOf(img))
}

func (d *recDisplay) StartLoading() {
	d.mu.Lock()
	d.loading = true
	d.events = append(d.events, "start")
	d.mu.Unlock()
}

func (d *recDisplay) StopLoading() {
	d.mu.Lock()
	d.loading = false
	d.events = append(d.events, "stop")
	d.mu.Unlock()
}

func (d *recDisplay) shown() string {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.img == nil {
		return ""
	}
	return sizeOf(d.img)
}

func (d *recDisplay) log() []string {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]string(nil), d.events...)
}

func sizeOf(img image.Image) string {
	b := img.Bounds()
	return fmt.Sprintf("%dx%d", b.Dx(), b.Dy())
}

type harness struct {
	t         *testing.T
	fs        *memFS
	transport *gatedTransport
	svc       core.Services
	display   *recDisplay
	loop      *viewer.Loop
	queue     *core.DecodeQueue
	metrics   *hooks.InMemoryMetrics
	coord     *viewer.Coordinator
}

func newHarness(t *testing.T, mode core.ContentMode) *harness {
	t.Helper()
	queue := core.NewDecodeQueue(core.DefaultDecodeConcurrency, 16)
	queue.Start()
	return newHarnessWithQueue(t, mode, queue)
}

// newHarnessWithQueue builds a harness around queue, which the caller may
// leave unstarted.
func newHarnessWithQueue(t *testing.T, mode core.ContentMode, queue *core.DecodeQueue) *harness {
	t.Helper()
	fs := &memFS{files: make(map[string]string)}
	tr := &gatedTransport{
		fs:     fs,
		bodies: make(map[string]string),
		errs:   make(map[string]error),
		gates:  make(map[string]chan struct{}),
	}
	h := &harness{
		t:         t,
		fs:        fs,
		transport: tr,
		svc:       core.Services{Transport: tr, Decoder: fakeDecoder{fs: fs}, Files: fs},
		display:   &recDisplay{},
		loop:      viewer.NewLoop(),
		queue:     queue,
		metrics:   hooks.NewInMemoryMetrics(),
	}

	coord, err := viewer.New(viewer.Options{
		Display:     h.display,
		Dispatcher:  h.loop,
		Queue:       queue,
		Rasterizer:  decoder.NewRaster(),
		ContentMode: mode,
		Metrics:     h.metrics,
		Hooks:       []core.Hook{hooks.NewMetricsHook(h.metrics)},
	})
	require.NoError(t, err)
	h.coord = coord

	t.Cleanup(func() {
		h.loop.Do(coord.Close)
		h.loop.Close()
		queue.Stop()
	})
	return h
}

func (h *harness) source(w, ht float64) string {
	return fmt.Sprintf("https://img.example/%gx%g.jpg", w, ht)
}

// rendition creates a w×h rendition, cached locally when cached is true.
func (h *harness) rendition(w, ht float64, cached bool) *core.Rendition {
	src := h.source(w, ht)
	body := fmt.Sprintf("%dx%d", int(w), int(ht))
	h.transport.mu.Lock()
	h.transport.bodies[src] = body
	h.transport.mu.Unlock()
	r := core.NewRendition(src, core.Size{Width: w, Height: ht}, h.svc)
	if cached {
		h.fs.put(r.CachePath(), body)
	}
	return r
}

// do runs fn on the loop.
func (h *harness) do(fn func(c *viewer.Coordinator)) {
	h.loop.Do(func() { fn(h.coord) })
}

// settled waits until the coordinator has nothing in flight.
func (h *harness) settled() bool {
	var fetches, decodes int
	h.loop.Do(func() { fetches, decodes = h.coord.InFlight() })
	return fetches == 0 && decodes == 0
}

const (
	waitFor = 2 * time.Second
	tick    = 5 * time.Millisecond
)
