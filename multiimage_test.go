package multiimage_test

import (
	"bytes"
	"context"
	"image"
	"image/color"
	"image/jpeg"
	"image/png"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	multiimage "github.com/Skryldev/multiimage"
	"github.com/Skryldev/multiimage/config"
	"github.com/Skryldev/multiimage/core"
	apperrors "github.com/Skryldev/multiimage/errors"
	"github.com/Skryldev/multiimage/viewer"
)

// ── Test helpers ──────────────────────────────────────────────────────────────

func newRedJPEG(t *testing.T, w, h int) []byte {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.Set(x, y, color.RGBA{R: 200, G: 50, B: 50, A: 255})
		}
	}
	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, img, &jpeg.Options{Quality: 90}); err != nil {
		t.Fatalf("encode test jpeg: %v", err)
	}
	return buf.Bytes()
}

func newBluePNG(t *testing.T, w, h int) []byte {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.Set(x, y, color.RGBA{R: 50, G: 50, B: 200, A: 255})
		}
	}
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		t.Fatalf("encode test png: %v", err)
	}
	return buf.Bytes()
}

// imageServer serves three renditions of one photo and counts requests.
type imageServer struct {
	*httptest.Server
	hits atomic.Int32
}

func newImageServer(t *testing.T) *imageServer {
	t.Helper()
	bodies := map[string][]byte{
		"/photo-60.png":   newBluePNG(t, 60, 40),
		"/photo-300.jpg":  newRedJPEG(t, 300, 200),
		"/photo-1200.jpg": newRedJPEG(t, 1200, 800),
	}
	s := &imageServer{}
	s.Server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		s.hits.Add(1)
		body, ok := bodies[r.URL.Path]
		if !ok {
			http.NotFound(w, r)
			return
		}
		w.Write(body)
	}))
	t.Cleanup(s.Close)
	return s
}

func (s *imageServer) manifest() []config.ManifestEntry {
	return []config.ManifestEntry{
		{URL: s.URL + "/photo-1200.jpg", Size: core.Size{Width: 1200, Height: 800}},
		{URL: s.URL + "/photo-60.png", Size: core.Size{Width: 60, Height: 40}},
		{URL: s.URL + "/photo-300.jpg", Size: core.Size{Width: 300, Height: 200}},
	}
}

func newClient(t *testing.T) *multiimage.Client {
	t.Helper()
	cfg := multiimage.DefaultConfig()
	cfg.CacheDir = t.TempDir()
	cfg.DecodeQueueSize = 16
	c, err := multiimage.New(cfg)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	c.Start()
	t.Cleanup(c.Stop)
	return c
}

type display struct {
	mu  sync.Mutex
	img image.Image
	n   int
}

func (d *display) SetImage(img image.Image) {
	d.mu.Lock()
	d.img = img
	d.n++
	d.mu.Unlock()
}
func (d *display) StartLoading() {}
func (d *display) StopLoading()  {}

func (d *display) width() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.img == nil {
		return 0
	}
	return d.img.Bounds().Dx()
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatal("condition not met before deadline")
		}
		time.Sleep(5 * time.Millisecond)
	}
}

// ── Unit tests ────────────────────────────────────────────────────────────────

func TestNew_RejectsInvalidConfig(t *testing.T) {
	cfg := multiimage.DefaultConfig()
	cfg.Scale = 0
	if _, err := multiimage.New(cfg); !apperrors.IsCategory(err, apperrors.CategoryConfig) {
		t.Fatalf("err = %v, want config error", err)
	}
}

func TestNewSet_SortsManifest(t *testing.T) {
	srv := newImageServer(t)
	c := newClient(t)
	set := c.NewSet(srv.manifest())

	if set.Len() != 3 {
		t.Fatalf("Len = %d", set.Len())
	}
	if w := set.Smallest().Size().Width; w != 60 {
		t.Errorf("Smallest width = %v", w)
	}
	if w := set.Largest().Size().Width; w != 1200 {
		t.Errorf("Largest width = %v", w)
	}
	if got := set.BestFit(core.Size{Width: 250, Height: 100}, 1, multiimage.Fit); got.Size().Width != 300 {
		t.Errorf("BestFit(250x100) = %v", got.Size())
	}
}

func TestPrefetch_FillsCache(t *testing.T) {
	srv := newImageServer(t)
	c := newClient(t)
	set := c.NewSet(srv.manifest())

	if err := c.Prefetch(context.Background(), set); err != nil {
		t.Fatalf("Prefetch: %v", err)
	}
	for _, r := range set.Renditions() {
		if !r.IsAvailable() {
			t.Errorf("%s not cached", r)
		}
		if _, err := os.Stat(r.CachePath()); err != nil {
			t.Errorf("stat %s: %v", r.CachePath(), err)
		}
		if img := r.Image(); img == nil || float64(img.Bounds().Dx()) != r.Size().Width {
			t.Errorf("%s decoded to %v", r, img)
		}
	}
	if n := srv.hits.Load(); n != 3 {
		t.Errorf("server hits = %d, want 3", n)
	}

	// A second prefetch is served from disk.
	if err := c.Prefetch(context.Background(), set); err != nil {
		t.Fatalf("second Prefetch: %v", err)
	}
	if n := srv.hits.Load(); n != 3 {
		t.Errorf("server hits after second prefetch = %d, want 3", n)
	}

	n, err := c.Purge()
	if err != nil || n != 3 {
		t.Errorf("Purge = %d, %v; want 3", n, err)
	}
}

func TestPrefetch_MissingSource(t *testing.T) {
	srv := newImageServer(t)
	c := newClient(t)
	set := c.NewSet([]config.ManifestEntry{
		{URL: srv.URL + "/gone.jpg", Size: core.Size{Width: 10, Height: 10}},
	})
	err := c.Prefetch(context.Background(), set)
	if err == nil {
		t.Fatal("Prefetch succeeded for a missing source")
	}
	if !apperrors.IsCategory(err, apperrors.CategoryTransport) {
		t.Errorf("err = %v, want transport category", err)
	}
}

func TestViewer_EndToEnd(t *testing.T) {
	srv := newImageServer(t)
	c := newClient(t)
	set := c.NewSet(srv.manifest())

	loop := viewer.NewLoop()
	defer loop.Close()
	d := &display{}
	v, err := c.NewViewer(d, loop)
	if err != nil {
		t.Fatalf("NewViewer: %v", err)
	}
	defer loop.Do(v.Close)

	loop.Do(func() {
		v.SetBounds(core.Size{Width: 300, Height: 300})
		v.SetImageSet(set)
	})
	waitFor(t, func() bool { return d.width() == 300 })

	loop.Do(func() { v.ZoomTo(1) })
	waitFor(t, func() bool { return d.width() == 1200 })

	stats := c.Stats()
	if stats.DecodesCompleted == 0 {
		t.Errorf("no decodes recorded: %+v", stats)
	}
	if stats.Metrics.Decodes == 0 {
		t.Errorf("no decode metrics: %+v", stats.Metrics)
	}
	if _, err := os.Stat(filepath.Join(c.Config().CacheDir, "photo-1200.jpg")); err != nil {
		t.Errorf("1200 rendition not cached: %v", err)
	}
}
