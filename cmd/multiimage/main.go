// Command multiimage is a headless viewer: it loads a rendition manifest,
// walks through a list of zoom levels and logs which rendition ends up on
// screen at each step.
package main

import (
	"context"
	"flag"
	"fmt"
	"image"
	"image/png"
	"log/slog"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"sync"
	"syscall"
	"time"

	multiimage "github.com/Skryldev/multiimage"
	"github.com/Skryldev/multiimage/config"
	"github.com/Skryldev/multiimage/core"
	"github.com/Skryldev/multiimage/hooks"
	"github.com/Skryldev/multiimage/viewer"
)

func main() {
	os.Exit(run())
}

func run() int {
	configPath := flag.String("config", "", "config file (default ~/.config/multiimage/config.toml)")
	manifestPath := flag.String("manifest", "", "rendition manifest (required)")
	boundsFlag := flag.String("bounds", "800x600", "viewport size in points, WxH")
	zoomFlag := flag.String("zoom", "0.1,0.5,1", "comma-separated zoom levels relative to the largest rendition")
	prefetch := flag.Bool("prefetch", false, "download every rendition before viewing")
	purge := flag.Bool("purge", false, "empty the cache before starting")
	outPath := flag.String("out", "", "write the final displayed image to this PNG file")
	settle := flag.Duration("settle", 30*time.Second, "maximum wait per zoom level")
	flag.Parse()

	if *manifestPath == "" {
		fmt.Fprintln(os.Stderr, "multiimage: -manifest is required")
		flag.Usage()
		return 2
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	// ── 1. Config ─────────────────────────────────────────────────────────────
	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "multiimage: %v\n", err)
		return 1
	}
	bounds, err := config.ParseSize(*boundsFlag)
	if err != nil {
		fmt.Fprintf(os.Stderr, "multiimage: -bounds: %v\n", err)
		return 2
	}
	zooms, err := parseZooms(*zoomFlag)
	if err != nil {
		fmt.Fprintf(os.Stderr, "multiimage: -zoom: %v\n", err)
		return 2
	}

	// ── 2. Observability ──────────────────────────────────────────────────────
	level, _ := config.ParseLogLevel(cfg.LogLevel)
	logger := hooks.NewSlogLogger(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level})))

	// ── 3. Client ─────────────────────────────────────────────────────────────
	client, err := multiimage.New(cfg, multiimage.WithLogger(logger))
	if err != nil {
		fmt.Fprintf(os.Stderr, "multiimage: %v\n", err)
		return 1
	}
	client.Start()
	defer client.Stop()

	if *purge {
		n, err := client.Purge()
		if err != nil {
			logger.Warn("cache.purge", "error", err.Error())
		} else {
			logger.Info("cache.purge", "removed", n)
		}
	}

	set, err := client.LoadSet(*manifestPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "multiimage: %v\n", err)
		return 1
	}
	for _, r := range set.Renditions() {
		logger.Info("rendition", "size", r.Size().String(), "cached", r.IsAvailable(), "source", r.Source())
	}

	if *prefetch {
		start := time.Now()
		if err := client.Prefetch(ctx, set); err != nil {
			logger.Warn("prefetch", "error", err.Error())
		} else {
			logger.Info("prefetch", "duration_ms", time.Since(start).Milliseconds())
		}
	}

	// ── 4. Viewer ─────────────────────────────────────────────────────────────
	loop := viewer.NewLoop()
	defer loop.Close()
	screen := &logDisplay{log: logger}
	v, err := client.NewViewer(screen, loop)
	if err != nil {
		fmt.Fprintf(os.Stderr, "multiimage: %v\n", err)
		return 1
	}
	defer loop.Do(v.Close)

	loop.Do(func() {
		v.SetBounds(bounds)
		v.SetImageSet(set)
	})
	waitSettled(ctx, loop, v, *settle)

	for _, z := range zooms {
		if ctx.Err() != nil {
			break
		}
		loop.Do(func() { v.ZoomTo(z) })
		waitSettled(ctx, loop, v, *settle)

		var shown *core.Rendition
		loop.Do(func() { shown = v.Displayed() })
		if shown != nil {
			logger.Info("zoom", "level", z, "displayed", shown.Size().String())
		} else {
			logger.Info("zoom", "level", z, "displayed", "none")
		}
	}

	stats := client.Stats()
	logger.Info("stats",
		"decodes_submitted", stats.DecodesSubmitted,
		"decodes_completed", stats.DecodesCompleted,
		"decodes_cancelled", stats.DecodesCancelled,
		"cache_hits", stats.Metrics.CacheHits,
		"stale", stats.Metrics.Stale["fetch"]+stats.Metrics.Stale["decode"],
	)

	if *outPath != "" {
		if err := screen.writePNG(*outPath); err != nil {
			fmt.Fprintf(os.Stderr, "multiimage: %v\n", err)
			return 1
		}
	}
	return 0
}

// logDisplay logs what a real view would draw and keeps the last image.
type logDisplay struct {
	log core.Logger

	mu  sync.Mutex
	img image.Image
}

func (d *logDisplay) SetImage(img image.Image) {
	d.mu.Lock()
	d.img = img
	d.mu.Unlock()
	if img == nil {
		d.log.Info("display.clear")
		return
	}
	d.log.Info("display.image", "pixels", img.Bounds().Size().String())
}

func (d *logDisplay) StartLoading() { d.log.Info("display.loading", "on", true) }
func (d *logDisplay) StopLoading()  { d.log.Info("display.loading", "on", false) }

func (d *logDisplay) writePNG(path string) error {
	d.mu.Lock()
	img := d.img
	d.mu.Unlock()
	if img == nil {
		return fmt.Errorf("nothing displayed")
	}
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	if err := png.Encode(f, img); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}

// waitSettled polls until the viewer has nothing in flight.
func waitSettled(ctx context.Context, loop *viewer.Loop, v *viewer.Coordinator, limit time.Duration) {
	deadline := time.Now().Add(limit)
	for time.Now().Before(deadline) && ctx.Err() == nil {
		var fetches, decodes int
		loop.Do(func() { fetches, decodes = v.InFlight() })
		if fetches == 0 && decodes == 0 {
			return
		}
		time.Sleep(20 * time.Millisecond)
	}
}

func parseZooms(s string) ([]float64, error) {
	var out []float64
	for _, part := range strings.Split(s, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		z, err := strconv.ParseFloat(part, 64)
		if err != nil {
			return nil, err
		}
		if z <= 0 {
			return nil, fmt.Errorf("zoom %v must be positive", z)
		}
		out = append(out, z)
	}
	return out, nil
}
