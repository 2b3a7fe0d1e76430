// Package multiimage displays images that exist in several resolutions: it
// picks the rendition that fits the current zoom, caches downloads on disk
// and shows a cheap placeholder while the real one arrives.
package multiimage

import (
	"context"

	"github.com/Skryldev/multiimage/adapters/decoder"
	"github.com/Skryldev/multiimage/adapters/storage"
	"github.com/Skryldev/multiimage/adapters/transport"
	"github.com/Skryldev/multiimage/adapters/vips"
	"github.com/Skryldev/multiimage/config"
	"github.com/Skryldev/multiimage/core"
	apperrors "github.com/Skryldev/multiimage/errors"
	"github.com/Skryldev/multiimage/hooks"
	"github.com/Skryldev/multiimage/viewer"
)

// Re-export content modes for convenience.
const (
	Fit  = core.ContentModeFit
	Fill = core.ContentModeFill
)

// DefaultConfig returns a sensible production configuration.
func DefaultConfig() config.Config { return config.Default() }

// Option customises a Client.
type Option func(*Client)

// WithLogger attaches a structured logger.
func WithLogger(l core.Logger) Option { return func(c *Client) { c.log = l } }

// WithMetrics forwards observations to m in addition to the built-in
// counters behind Stats.
func WithMetrics(m core.MetricsCollector) Option { return func(c *Client) { c.extMetrics = m } }

// WithHook registers an observer for fetch events.
func WithHook(h core.Hook) Option { return func(c *Client) { c.hooks = append(c.hooks, h) } }

// WithTransport replaces the HTTP transport.
func WithTransport(t core.Transport) Option { return func(c *Client) { c.transport = t } }

// WithFileSystem replaces the on-disk cache.
func WithFileSystem(fs core.FileSystem) Option { return func(c *Client) { c.files = fs } }

// WithDecoder replaces the file decoder chosen by Config.Backend.
func WithDecoder(d core.Decoder) Option { return func(c *Client) { c.decoder = d } }

// Client is the primary entry point. It owns the process-wide decode queue
// and the collaborators every rendition and viewer share.
type Client struct {
	cfg config.Config
	log core.Logger

	files     core.FileSystem
	transport core.Transport
	decoder   core.Decoder
	raster    core.Rasterizer
	backend   *vips.Backend
	queue     *core.DecodeQueue

	stats      *hooks.InMemoryMetrics
	extMetrics core.MetricsCollector
	metrics    core.MetricsCollector
	hooks      []core.Hook
}

// New creates a fully wired Client. Call Start before showing images and
// Stop at shutdown.
func New(cfg config.Config, opts ...Option) (*Client, error) {
	if err := config.Validate(cfg); err != nil {
		return nil, err
	}
	c := &Client{cfg: cfg, stats: hooks.NewInMemoryMetrics()}
	for _, opt := range opts {
		opt(c)
	}
	if c.log == nil {
		c.log = core.NopLogger{}
	}

	c.metrics = c.stats
	if c.extMetrics != nil {
		c.metrics = hooks.Tee{c.stats, c.extMetrics}
	}
	c.hooks = append([]core.Hook{hooks.NewLoggingHook(c.log), hooks.NewMetricsHook(c.metrics)}, c.hooks...)

	if c.files == nil {
		c.files = storage.NewLocal(cfg.CacheDir, 0o644)
	}
	if c.transport == nil {
		t := transport.NewHTTP()
		t.Timeout = cfg.Transport.Timeout
		t.KeepAlive = cfg.Transport.KeepAlive
		t.MaxIdleConns = cfg.Transport.MaxIdleConns
		t.UserAgent = cfg.Transport.UserAgent
		t.MaxBytes = cfg.MaxImageBytes
		t.Logger = c.log
		c.transport = t
	}
	if c.decoder == nil {
		fileOpts := []decoder.Option{decoder.WithMaxBytes(cfg.MaxImageBytes), decoder.WithLogger(c.log)}
		if cfg.Backend == config.BackendVips {
			c.backend = vips.NewBackend(vips.BackendConfig{Logger: c.log})
			reg := decoder.NewRegistry()
			vips.Register(reg, c.backend)
			fileOpts = append(fileOpts, decoder.WithRegistry(reg))
		}
		c.decoder = decoder.NewFile(fileOpts...)
	}
	c.raster = decoder.NewRaster()
	c.queue = core.NewDecodeQueue(cfg.DecodeWorkers, cfg.DecodeQueueSize)

	c.log.Info("multiimage.new",
		"backend", string(cfg.Backend),
		"decode_workers", c.queue.Workers(),
		"content_mode", cfg.ContentMode.String(),
	)
	return c, nil
}

// Config returns the configuration the client was built with.
func (c *Client) Config() config.Config { return c.cfg }

// Start starts the decode workers.
func (c *Client) Start() { c.queue.Start() }

// Stop drains the decode queue and releases libvips if it was started.
// Viewers still open show any image whose decode was dropped as is.
func (c *Client) Stop() {
	c.queue.Stop()
	if c.backend != nil {
		c.backend.Shutdown()
	}
}

func (c *Client) services() core.Services {
	return core.Services{Transport: c.transport, Decoder: c.decoder, Files: c.files, Logger: c.log}
}

// NewRendition creates a rendition of source declared at size.
func (c *Client) NewRendition(source string, size core.Size) *core.Rendition {
	return core.NewRendition(source, size, c.services())
}

// NewSet builds a RenditionSet from manifest entries.
func (c *Client) NewSet(entries []config.ManifestEntry) *core.RenditionSet {
	rs := make([]*core.Rendition, 0, len(entries))
	for _, e := range entries {
		rs = append(rs, c.NewRendition(e.URL, e.Size))
	}
	return core.NewRenditionSet(rs)
}

// LoadSet reads a manifest file and builds its RenditionSet.
func (c *Client) LoadSet(path string) (*core.RenditionSet, error) {
	entries, err := config.LoadManifest(path)
	if err != nil {
		return nil, err
	}
	return c.NewSet(entries), nil
}

// NewViewer creates a Coordinator that paints on display and runs its state
// changes through dispatcher.
func (c *Client) NewViewer(display viewer.Display, dispatcher viewer.Dispatcher) (*viewer.Coordinator, error) {
	return viewer.New(viewer.Options{
		Display:         display,
		Dispatcher:      dispatcher,
		Queue:           c.queue,
		Rasterizer:      c.raster,
		PlaceholderSize: c.cfg.PlaceholderSize,
		Scale:           c.cfg.Scale,
		ContentMode:     c.cfg.ContentMode,
		Logger:          c.log,
		Metrics:         c.metrics,
		Hooks:           c.hooks,
	})
}

// Prefetch downloads every rendition of set into the cache, at most
// Config.PrefetchLimit at a time.
func (c *Client) Prefetch(ctx context.Context, set *core.RenditionSet) error {
	if set == nil {
		return apperrors.New(apperrors.CategoryInput, "multiimage.prefetch", apperrors.ErrEmptyInput)
	}
	return core.Prefetch(ctx, set.Renditions(), c.cfg.PrefetchLimit)
}

// Purge empties the on-disk cache when it is the built-in one.
func (c *Client) Purge() (int, error) {
	if l, ok := c.files.(*storage.Local); ok {
		return l.Purge()
	}
	return 0, nil
}

// Stats is a point-in-time view of client activity.
type Stats struct {
	DecodesSubmitted int64
	DecodesCompleted int64
	DecodesCancelled int64
	Metrics          hooks.MetricsSnapshot
}

// Stats returns lightweight activity counters.
func (c *Client) Stats() Stats {
	submitted, completed, cancelled := c.queue.Stats()
	return Stats{
		DecodesSubmitted: submitted,
		DecodesCompleted: completed,
		DecodesCancelled: cancelled,
		Metrics:          c.stats.Snapshot(),
	}
}
