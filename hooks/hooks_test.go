package hooks

import (
	"bytes"
	"context"
	"errors"
	"image"
	"log/slog"
	"strings"
	"testing"
	"time"

	metrics "github.com/rcrowley/go-metrics"

	"github.com/Skryldev/multiimage/core"
	apperrors "github.com/Skryldev/multiimage/errors"
)

type stubFS struct{ present bool }

func (s stubFS) Exists(string) bool      { return s.present }
func (stubFS) Move(string, string) error { return nil }
func (stubFS) CacheDir() (string, error) { return "/cache", nil }

func rendition(cached bool) *core.Rendition {
	return core.NewRendition("https://img.example/a.jpg", core.Size{Width: 400, Height: 300},
		core.Services{Files: stubFS{present: cached}})
}

func TestSlogLogger(t *testing.T) {
	var buf bytes.Buffer
	l := NewSlogLogger(slog.New(slog.NewTextHandler(&buf, &slog.HandlerOptions{Level: slog.LevelDebug})))
	l.Debug("d", "k", 1)
	l.Info("i")
	l.Warn("w")
	l.Error("e", "err", "boom")
	out := buf.String()
	for _, want := range []string{"msg=d k=1", "msg=i", "msg=w", "msg=e err=boom"} {
		if !strings.Contains(out, want) {
			t.Errorf("output missing %q:\n%s", want, out)
		}
	}
}

func TestLoggingHook(t *testing.T) {
	var buf bytes.Buffer
	h := NewLoggingHook(NewSlogLogger(slog.New(slog.NewTextHandler(&buf, &slog.HandlerOptions{Level: slog.LevelDebug}))))
	r := rendition(false)
	ctx := context.Background()

	h.BeforeFetch(ctx, r)
	h.AfterFetch(ctx, r, image.NewRGBA(image.Rect(0, 0, 4, 3)), time.Millisecond, nil)
	h.AfterFetch(ctx, r, nil, time.Millisecond, apperrors.Transient("http.do", errors.New("reset")))

	out := buf.String()
	for _, want := range []string{"rendition.fetch.start", "size=400x300", "output=(4,3)", "rendition.fetch.error", "category=transport"} {
		if !strings.Contains(out, want) {
			t.Errorf("output missing %q:\n%s", want, out)
		}
	}
}

func TestMetricsHook(t *testing.T) {
	m := NewInMemoryMetrics()
	h := NewMetricsHook(m)
	ctx := context.Background()

	cached := rendition(true)
	h.BeforeFetch(ctx, cached)
	h.AfterFetch(ctx, cached, nil, 2*time.Second, nil)

	remote := rendition(false)
	h.BeforeFetch(ctx, remote)
	h.AfterFetch(ctx, remote, nil, time.Second, errors.New("plain"))

	snap := m.Snapshot()
	if snap.CacheHits != 1 {
		t.Errorf("CacheHits = %d, want 1", snap.CacheHits)
	}
	if snap.FetchCalls["https://img.example/a.jpg"] != 1 {
		t.Errorf("FetchCalls = %v", snap.FetchCalls)
	}
	if snap.FetchDurationsMs["https://img.example/a.jpg"] != 2000 {
		t.Errorf("FetchDurationsMs = %v", snap.FetchDurationsMs)
	}
	if snap.Errors["fetch"] != 1 {
		t.Errorf("Errors = %v", snap.Errors)
	}
}

// flagFS reports presence from a switch the test flips.
type flagFS struct{ present bool }

func (f *flagFS) Exists(string) bool      { return f.present }
func (*flagFS) Move(string, string) error { return nil }
func (*flagFS) CacheDir() (string, error) { return "/cache", nil }

func TestMetricsHook_OverlappingFetchesOfOneRendition(t *testing.T) {
	m := NewInMemoryMetrics()
	h := NewMetricsHook(m)
	fs := &flagFS{present: true}
	r := core.NewRendition("https://img.example/a.jpg", core.Size{Width: 400, Height: 300}, core.Services{Files: fs})

	hit := core.WithFetchID(context.Background())
	miss := core.WithFetchID(context.Background())
	h.BeforeFetch(hit, r)
	fs.present = false
	h.BeforeFetch(miss, r)

	h.AfterFetch(hit, r, nil, time.Millisecond, nil)
	h.AfterFetch(miss, r, nil, time.Millisecond, nil)

	snap := m.Snapshot()
	if snap.CacheHits != 1 {
		t.Errorf("CacheHits = %d, want 1", snap.CacheHits)
	}
	if snap.FetchCalls["https://img.example/a.jpg"] != 2 {
		t.Errorf("FetchCalls = %v", snap.FetchCalls)
	}
}

func TestFetchID(t *testing.T) {
	if _, ok := core.FetchID(context.Background()); ok {
		t.Error("bare context has a fetch ID")
	}
	a, _ := core.FetchID(core.WithFetchID(context.Background()))
	b, _ := core.FetchID(core.WithFetchID(context.Background()))
	if a == 0 || a == b {
		t.Errorf("fetch IDs %d and %d should be distinct and non-zero", a, b)
	}
}

func TestInMemoryMetrics_SnapshotIsCopy(t *testing.T) {
	m := NewInMemoryMetrics()
	m.RecordStale("fetch")
	m.RecordDecode(1500 * time.Millisecond)
	snap := m.Snapshot()
	m.RecordStale("fetch")

	if snap.Stale["fetch"] != 1 {
		t.Errorf("snapshot mutated: %v", snap.Stale)
	}
	if snap.Decodes != 1 || snap.DecodeTimeMs != 1500 {
		t.Errorf("decodes = %d/%dms", snap.Decodes, snap.DecodeTimeMs)
	}
}

func TestGoMetrics(t *testing.T) {
	reg := metrics.NewRegistry()
	g := NewGoMetrics(reg)

	g.RecordFetch("a", 10*time.Millisecond, true)
	g.RecordFetch("b", 20*time.Millisecond, false)
	g.RecordFetch("c", 30*time.Millisecond, false)
	g.RecordDecode(5 * time.Millisecond)
	g.RecordStale("decode")
	g.RecordStale("decode")
	g.RecordError("fetch", "transport")

	if n := metrics.GetOrRegisterTimer("fetch.cache", reg).Count(); n != 1 {
		t.Errorf("fetch.cache count = %d", n)
	}
	if n := metrics.GetOrRegisterTimer("fetch.network", reg).Count(); n != 2 {
		t.Errorf("fetch.network count = %d", n)
	}
	if n := metrics.GetOrRegisterTimer("decode", reg).Count(); n != 1 {
		t.Errorf("decode count = %d", n)
	}
	if n := metrics.GetOrRegisterCounter("stale.decode", reg).Count(); n != 2 {
		t.Errorf("stale.decode = %d", n)
	}
	if n := metrics.GetOrRegisterCounter("error.fetch.transport", reg).Count(); n != 1 {
		t.Errorf("error.fetch.transport = %d", n)
	}
}

func TestTee(t *testing.T) {
	a, b := NewInMemoryMetrics(), NewInMemoryMetrics()
	tee := Tee{a, b}
	tee.RecordStale("fetch")
	tee.RecordError("fetch", "transport")
	tee.RecordDecode(time.Millisecond)
	tee.RecordFetch("s", time.Millisecond, true)
	for i, m := range []*InMemoryMetrics{a, b} {
		s := m.Snapshot()
		if s.Stale["fetch"] != 1 || s.Errors["fetch"] != 1 || s.Decodes != 1 || s.CacheHits != 1 {
			t.Errorf("collector %d = %+v", i, s)
		}
	}
}
