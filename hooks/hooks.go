// Package hooks provides production-ready Hook, Logger and MetricsCollector
// implementations.
package hooks

import (
	"context"
	"image"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/Skryldev/multiimage/core"
	apperrors "github.com/Skryldev/multiimage/errors"
)

// ── Structured logger adapter ─────────────────────────────────────────────────

// SlogLogger wraps the standard library slog.Logger to satisfy core.Logger.
type SlogLogger struct {
	log *slog.Logger
}

// NewSlogLogger creates a logger backed by slog.
func NewSlogLogger(l *slog.Logger) *SlogLogger { return &SlogLogger{log: l} }

func (s *SlogLogger) Debug(msg string, fields ...interface{}) {
	s.log.Debug(msg, toAttrs(fields)...)
}
func (s *SlogLogger) Info(msg string, fields ...interface{}) {
	s.log.Info(msg, toAttrs(fields)...)
}
func (s *SlogLogger) Warn(msg string, fields ...interface{}) {
	s.log.Warn(msg, toAttrs(fields)...)
}
func (s *SlogLogger) Error(msg string, fields ...interface{}) {
	s.log.Error(msg, toAttrs(fields)...)
}

func toAttrs(fields []interface{}) []any { return fields }

// ── Logging hook ──────────────────────────────────────────────────────────────

// LoggingHook logs before/after each rendition fetch.
type LoggingHook struct {
	logger core.Logger
}

// NewLoggingHook creates a LoggingHook.
func NewLoggingHook(l core.Logger) *LoggingHook { return &LoggingHook{logger: l} }

func (h *LoggingHook) BeforeFetch(_ context.Context, r *core.Rendition) {
	h.logger.Debug("rendition.fetch.start",
		"source", r.Source(),
		"size", r.Size().String(),
		"cached", r.IsAvailable(),
	)
}

func (h *LoggingHook) AfterFetch(_ context.Context, r *core.Rendition, img image.Image, d time.Duration, err error) {
	if err != nil {
		h.logger.Warn("rendition.fetch.error",
			"source", r.Source(),
			"duration_ms", d.Milliseconds(),
			"category", string(apperrors.CategoryOf(err)),
			"error", err.Error(),
		)
		return
	}
	out := "nil"
	if img != nil {
		out = img.Bounds().Size().String()
	}
	h.logger.Debug("rendition.fetch.done",
		"source", r.Source(),
		"duration_ms", d.Milliseconds(),
		"output", out,
	)
}

// ── In-memory metrics collector ───────────────────────────────────────────────

// InMemoryMetrics accumulates metrics atomically; safe for concurrent use.
type InMemoryMetrics struct {
	mu sync.RWMutex

	fetchDurationsMs map[string]int64 // cumulative ms per source
	fetchCalls       map[string]int64
	errors           map[string]int64 // keyed by op
	stale            map[string]int64 // keyed by kind

	cacheHits    int64
	decodes      int64
	decodeTimeMs int64
}

// NewInMemoryMetrics creates an empty metrics store.
func NewInMemoryMetrics() *InMemoryMetrics {
	return &InMemoryMetrics{
		fetchDurationsMs: make(map[string]int64),
		fetchCalls:       make(map[string]int64),
		errors:           make(map[string]int64),
		stale:            make(map[string]int64),
	}
}

func (m *InMemoryMetrics) RecordFetch(source string, d interface{ Seconds() float64 }, fromCache bool) {
	ms := int64(d.Seconds() * 1000)
	m.mu.Lock()
	m.fetchDurationsMs[source] += ms
	m.fetchCalls[source]++
	m.mu.Unlock()
	if fromCache {
		atomic.AddInt64(&m.cacheHits, 1)
	}
}

func (m *InMemoryMetrics) RecordDecode(d interface{ Seconds() float64 }) {
	atomic.AddInt64(&m.decodes, 1)
	atomic.AddInt64(&m.decodeTimeMs, int64(d.Seconds()*1000))
}

func (m *InMemoryMetrics) RecordStale(kind string) {
	m.mu.Lock()
	m.stale[kind]++
	m.mu.Unlock()
}

func (m *InMemoryMetrics) RecordError(op string, _ string) {
	m.mu.Lock()
	m.errors[op]++
	m.mu.Unlock()
}

// Snapshot returns a copy of current metrics.
func (m *InMemoryMetrics) Snapshot() MetricsSnapshot {
	m.mu.RLock()
	defer m.mu.RUnlock()

	snap := MetricsSnapshot{
		FetchDurationsMs: make(map[string]int64, len(m.fetchDurationsMs)),
		FetchCalls:       make(map[string]int64, len(m.fetchCalls)),
		Errors:           make(map[string]int64, len(m.errors)),
		Stale:            make(map[string]int64, len(m.stale)),
		CacheHits:        atomic.LoadInt64(&m.cacheHits),
		Decodes:          atomic.LoadInt64(&m.decodes),
		DecodeTimeMs:     atomic.LoadInt64(&m.decodeTimeMs),
	}
	for k, v := range m.fetchDurationsMs {
		snap.FetchDurationsMs[k] = v
	}
	for k, v := range m.fetchCalls {
		snap.FetchCalls[k] = v
	}
	for k, v := range m.errors {
		snap.Errors[k] = v
	}
	for k, v := range m.stale {
		snap.Stale[k] = v
	}
	return snap
}

// MetricsSnapshot is an immutable point-in-time copy of metrics.
type MetricsSnapshot struct {
	FetchDurationsMs map[string]int64
	FetchCalls       map[string]int64
	Errors           map[string]int64
	Stale            map[string]int64
	CacheHits        int64
	Decodes          int64
	DecodeTimeMs     int64
}

// ── Metrics hook ──────────────────────────────────────────────────────────────

// MetricsHook feeds fetch events into a MetricsCollector. Whether a fetch
// was served from the cache is sampled in BeforeFetch, keyed by the fetch ID
// on ctx, or by rendition when there is none.
type MetricsHook struct {
	collector core.MetricsCollector
	cached    sync.Map // sampleKey -> bool
}

type sampleKey struct {
	fetch     uint64
	rendition uint64
}

func keyFor(ctx context.Context, r *core.Rendition) sampleKey {
	if id, ok := core.FetchID(ctx); ok {
		return sampleKey{fetch: id}
	}
	return sampleKey{rendition: r.ID()}
}

// NewMetricsHook creates a MetricsHook.
func NewMetricsHook(c core.MetricsCollector) *MetricsHook { return &MetricsHook{collector: c} }

func (h *MetricsHook) BeforeFetch(ctx context.Context, r *core.Rendition) {
	h.cached.Store(keyFor(ctx, r), r.IsAvailable())
}

func (h *MetricsHook) AfterFetch(ctx context.Context, r *core.Rendition, _ image.Image, d time.Duration, err error) {
	v, _ := h.cached.LoadAndDelete(keyFor(ctx, r))
	fromCache, _ := v.(bool)
	if err != nil {
		cat := apperrors.CategoryOf(err)
		if cat == "" {
			cat = apperrors.CategoryTransport
		}
		h.collector.RecordError("fetch", string(cat))
		return
	}
	h.collector.RecordFetch(r.Source(), d, fromCache)
}

var (
	_ core.Hook             = (*LoggingHook)(nil)
	_ core.Hook             = (*MetricsHook)(nil)
	_ core.MetricsCollector = (*InMemoryMetrics)(nil)
	_ core.Logger           = (*SlogLogger)(nil)
)
