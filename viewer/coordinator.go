// Package viewer drives progressive display of a RenditionSet: a cheap
// placeholder first, then the rendition that best fits the current zoom.
package viewer

import (
	"context"
	"errors"
	"image"
	"time"

	"github.com/Skryldev/multiimage/core"
	apperrors "github.com/Skryldev/multiimage/errors"
)

// Display is the surface a Coordinator paints on. Its methods are called on
// the Dispatcher's context.
type Display interface {
	// SetImage replaces the displayed image; nil clears it.
	SetImage(img image.Image)
	StartLoading()
	StopLoading()
}

// DefaultPlaceholderSize is the point size of the placeholder footprint.
var DefaultPlaceholderSize = core.Size{Width: 55, Height: 55}

// Options configures a Coordinator. Display and Dispatcher are required.
type Options struct {
	Display    Display
	Dispatcher Dispatcher

	// Queue runs decodes; nil runs each decode on its own goroutine.
	Queue      *core.DecodeQueue
	Rasterizer core.Rasterizer

	PlaceholderSize core.Size
	Scale           float64
	ContentMode     core.ContentMode

	Logger  core.Logger
	Metrics core.MetricsCollector
	Hooks   []core.Hook
}

type requestKind int

const (
	kindPlaceholder requestKind = iota
	kindIntermediate
	kindIdeal
)

func (k requestKind) String() string {
	switch k {
	case kindPlaceholder:
		return "placeholder"
	case kindIntermediate:
		return "intermediate"
	default:
		return "ideal"
	}
}

// request is one fetch of a rendition and the decode that follows it. A
// request still in flight when a later generation asks for the same
// rendition is re-tagged to that generation instead of being issued again.
type request struct {
	id   uint64
	r    *core.Rendition
	gen  uint64
	kind requestKind
}

// Coordinator decides which rendition to fetch, decode and display as the
// desired size changes. All methods must be called on the Dispatcher's
// context; fetch and decode completions are routed back onto it.
//
// Every size change that picks a different ideal rendition starts a new
// generation. Completions carry the generation they were issued for and are
// dropped when it is no longer current. Within a generation a rendition never
// replaces a larger one already on screen. A rendition has at most one
// request in flight at a time.
type Coordinator struct {
	opts Options
	log  core.Logger

	ctx    context.Context
	cancel context.CancelFunc

	set    *core.RenditionSet
	bounds core.Size

	generation uint64
	current    *core.Rendition
	pending    int

	displayed     *core.Rendition
	displayedGen  uint64
	displayedRank int
	displayedKind requestKind
	loading       bool

	nextID  uint64
	active  map[uint64]*request // rendition ID -> request until it retires
	fetches map[uint64]context.CancelFunc
	decodes map[uint64]*core.DecodeOperation
	closed  bool
}

// New returns a Coordinator with no image set.
func New(opts Options) (*Coordinator, error) {
	if opts.Display == nil || opts.Dispatcher == nil {
		return nil, apperrors.New(apperrors.CategoryConfig, "viewer.new",
			errors.New("display and dispatcher are required"))
	}
	if opts.PlaceholderSize.IsZero() {
		opts.PlaceholderSize = DefaultPlaceholderSize
	}
	if opts.Scale <= 0 {
		opts.Scale = 1
	}
	if opts.Logger == nil {
		opts.Logger = core.NopLogger{}
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Coordinator{
		opts:    opts,
		log:     opts.Logger,
		ctx:     ctx,
		cancel:  cancel,
		active:  make(map[uint64]*request),
		fetches: make(map[uint64]context.CancelFunc),
		decodes: make(map[uint64]*core.DecodeOperation),
	}, nil
}

// Set returns the current image set.
func (c *Coordinator) Set() *core.RenditionSet { return c.set }

// Current returns the rendition the coordinator is working towards.
func (c *Coordinator) Current() *core.Rendition { return c.current }

// Displayed returns the rendition on screen, or nil.
func (c *Coordinator) Displayed() *core.Rendition { return c.displayed }

// Generation returns the current generation number.
func (c *Coordinator) Generation() uint64 { return c.generation }

// Loading reports whether the loading indicator is showing.
func (c *Coordinator) Loading() bool { return c.loading }

// InFlight returns the number of fetches and decodes not yet completed.
func (c *Coordinator) InFlight() (fetches, decodes int) { return len(c.fetches), len(c.decodes) }

// SetImageSet replaces the image set. In-flight work is cancelled, the
// display is cleared and the set is shown at its natural size for the
// current bounds.
func (c *Coordinator) SetImageSet(set *core.RenditionSet) {
	if c.closed {
		return
	}
	c.cancelAll()
	if c.displayed != nil {
		c.opts.Display.SetImage(nil)
	}
	c.displayed = nil
	c.displayedRank = -1
	c.stopLoading()
	c.current = nil
	c.generation++
	c.pending = 0

	c.set = set
	if set == nil || set.Len() == 0 {
		return
	}
	c.UpdateSize(c.naturalSize())
}

// SetBounds records the layout size and re-runs selection at the natural
// size when it changed.
func (c *Coordinator) SetBounds(bounds core.Size) {
	if c.closed || bounds == c.bounds {
		return
	}
	c.bounds = bounds
	if c.set != nil && c.set.Len() > 0 {
		c.UpdateSize(c.naturalSize())
	}
}

// ZoomTo shows the set at zoom times the largest rendition's size.
func (c *Coordinator) ZoomTo(zoom float64) {
	if c.set == nil || zoom <= 0 {
		return
	}
	largest, ok := c.set.LargestSize()
	if !ok {
		return
	}
	c.UpdateSize(largest.Scaled(zoom))
}

// naturalSize is the largest rendition scaled to fit the bounds; with no
// bounds it is the largest rendition itself.
func (c *Coordinator) naturalSize() core.Size {
	largest, _ := c.set.LargestSize()
	if c.bounds.IsZero() {
		return largest
	}
	return largest.Scaled(core.FitScale(largest, c.bounds, c.opts.ContentMode))
}

// UpdateSize selects the ideal rendition for desired and starts loading it
// unless it is already the current target.
func (c *Coordinator) UpdateSize(desired core.Size) {
	if c.closed || c.set == nil || c.set.Len() == 0 {
		return
	}
	ideal := c.set.BestFit(desired, c.opts.Scale, c.opts.ContentMode)
	if ideal == nil || core.SameRendition(ideal, c.current) {
		return
	}

	c.generation++
	c.pending = 0
	c.current = ideal
	gen := c.generation
	c.log.Debug("viewer.target",
		"generation", gen,
		"desired", desired.String(),
		"ideal", ideal.Size().String(),
		"cached", ideal.IsAvailable(),
	)

	switch {
	case c.displayed == nil:
		c.firstLoad(ideal, desired, gen)
	case core.SameRendition(ideal, c.displayed):
		// Already on screen; it now counts as this generation's ideal.
		c.displayedGen = gen
		c.displayedKind = kindIdeal
		c.stopLoading()
	default:
		c.refine(ideal, gen)
	}
}

func (c *Coordinator) firstLoad(ideal *core.Rendition, desired core.Size, gen uint64) {
	if ideal.IsAvailable() {
		c.request(ideal, gen, kindIdeal)
		return
	}

	c.startLoading()
	placeholder := c.set.BestFit(c.opts.PlaceholderSize, c.opts.Scale, core.ContentModeFit)
	if placeholder != nil && !core.SameRendition(placeholder, ideal) {
		c.request(placeholder, gen, kindPlaceholder)
	}

	intermediate := c.set.BestAvailableFit(desired, c.opts.Scale, c.opts.ContentMode)
	if intermediate != nil && intermediate.IsAvailable() &&
		!core.SameRendition(intermediate, ideal) && !core.SameRendition(intermediate, placeholder) {
		c.request(intermediate, gen, kindIntermediate)
	}
	c.request(ideal, gen, kindIdeal)
}

func (c *Coordinator) refine(ideal *core.Rendition, gen uint64) {
	if !ideal.IsAvailable() {
		c.startLoading()
	}
	c.request(ideal, gen, kindIdeal)
}

func (c *Coordinator) request(r *core.Rendition, gen uint64, kind requestKind) {
	if req, ok := c.active[r.ID()]; ok {
		if req.gen != gen {
			c.log.Debug("viewer.fetch.retag", "from", req.gen, "generation", gen, "kind", kind.String(), "rendition", r.String())
			req.gen = gen
			req.kind = kind
			c.pending++
		} else if kind > req.kind {
			req.kind = kind
		}
		return
	}

	c.nextID++
	req := &request{id: c.nextID, r: r, gen: gen, kind: kind}
	ctx, cancel := context.WithCancel(core.WithFetchID(c.ctx))
	c.active[r.ID()] = req
	c.fetches[req.id] = cancel
	c.pending++

	c.log.Debug("viewer.fetch.start", "generation", gen, "kind", kind.String(), "rendition", r.String())
	for _, h := range c.opts.Hooks {
		h.BeforeFetch(ctx, r)
	}
	start := time.Now()
	r.Fetch(ctx, func(img image.Image, err error) {
		d := time.Since(start)
		for _, h := range c.opts.Hooks {
			h.AfterFetch(ctx, r, img, d, err)
		}
		c.opts.Dispatcher.Dispatch(func() { c.fetched(req, img, err) })
	})
}

func (c *Coordinator) fetched(req *request, img image.Image, err error) {
	if cancel, ok := c.fetches[req.id]; ok {
		cancel()
		delete(c.fetches, req.id)
	}
	if c.closed {
		return
	}
	if req.gen != c.generation {
		c.retire(req)
		c.stale("fetch", req)
		return
	}
	if err != nil || img == nil {
		if err == nil {
			err = apperrors.New(apperrors.CategoryDecode, "viewer.fetch", apperrors.ErrEmptyInput)
		}
		c.log.Warn("viewer.fetch.failed",
			"generation", req.gen,
			"kind", req.kind.String(),
			"rendition", req.r.String(),
			"error", err.Error(),
		)
		c.retire(req)
		c.finish(req.gen)
		return
	}
	if !c.accepts(req) {
		c.retire(req)
		c.stale("fetch", req)
		c.finish(req.gen)
		return
	}
	c.decode(req, img)
}

func (c *Coordinator) decode(req *request, img image.Image) {
	op := core.NewDecodeOperation(img, c.opts.Rasterizer)
	c.nextID++
	id := c.nextID
	c.decodes[id] = op
	op.OnComplete(func(op *core.DecodeOperation) {
		c.opts.Dispatcher.Dispatch(func() { c.decoded(id, req, op.Result(), op.Elapsed()) })
	})
	op.OnCancel(func(*core.DecodeOperation) {
		c.opts.Dispatcher.Dispatch(func() { c.abandoned(id, req, img) })
	})

	if c.opts.Queue == nil {
		go op.Run()
		return
	}
	if err := c.opts.Queue.Submit(op); err != nil {
		// Queue full or closed: show the undecoded image.
		c.log.Warn("viewer.decode.submit", "rendition", req.r.String(), "error", err.Error())
		if c.opts.Metrics != nil {
			c.opts.Metrics.RecordError("decode.submit", string(apperrors.CategoryOf(err)))
		}
		delete(c.decodes, id)
		c.present(req, img)
	}
}

func (c *Coordinator) decoded(id uint64, req *request, img image.Image, d time.Duration) {
	delete(c.decodes, id)
	if c.closed {
		return
	}
	if c.opts.Metrics != nil {
		c.opts.Metrics.RecordDecode(d)
	}
	if req.gen != c.generation {
		c.retire(req)
		c.stale("decode", req)
		return
	}
	if img == nil {
		c.retire(req)
		c.finish(req.gen)
		return
	}
	c.present(req, img)
}

// abandoned handles a decode cancelled by someone other than the
// coordinator, such as a queue being stopped. The fetched image is shown
// undecoded.
func (c *Coordinator) abandoned(id uint64, req *request, img image.Image) {
	if _, ok := c.decodes[id]; !ok || c.closed {
		return
	}
	delete(c.decodes, id)
	if req.gen != c.generation {
		c.retire(req)
		c.stale("decode", req)
		return
	}
	c.log.Warn("viewer.decode.abandoned", "rendition", req.r.String())
	c.present(req, img)
}

func (c *Coordinator) present(req *request, img image.Image) {
	c.retire(req)
	if !c.accepts(req) {
		c.stale("decode", req)
		c.finish(req.gen)
		return
	}
	c.opts.Display.SetImage(img)
	c.displayed = req.r
	c.displayedGen = req.gen
	c.displayedRank = c.set.Rank(req.r)
	c.displayedKind = req.kind
	c.log.Debug("viewer.display", "generation", req.gen, "kind", req.kind.String(), "rendition", req.r.String())
	c.stopLoading()
	c.finish(req.gen)
}

// accepts reports whether req may replace what is on screen. The ideal
// rendition of the current generation always wins; stand-ins never replace
// it or a larger stand-in of the same generation.
func (c *Coordinator) accepts(req *request) bool {
	if c.displayed == nil || req.kind == kindIdeal {
		return true
	}
	if req.kind == kindPlaceholder {
		return false
	}
	if c.displayedGen != req.gen {
		return true
	}
	return c.displayedKind != kindIdeal && c.set.Rank(req.r) > c.displayedRank
}

// finish retires one request of gen; the indicator stops once the current
// generation has nothing left outstanding.
func (c *Coordinator) finish(gen uint64) {
	if gen != c.generation {
		return
	}
	if c.pending > 0 {
		c.pending--
	}
	if c.pending == 0 {
		c.stopLoading()
	}
}

// retire drops req from the in-flight index so the rendition can be
// requested again.
func (c *Coordinator) retire(req *request) {
	if c.active[req.r.ID()] == req {
		delete(c.active, req.r.ID())
	}
}

func (c *Coordinator) stale(kind string, req *request) {
	c.log.Debug("viewer.stale", "stage", kind, "generation", req.gen, "current", c.generation, "rendition", req.r.String())
	if c.opts.Metrics != nil {
		c.opts.Metrics.RecordStale(kind)
	}
}

func (c *Coordinator) startLoading() {
	if c.loading {
		return
	}
	c.loading = true
	c.opts.Display.StartLoading()
}

func (c *Coordinator) stopLoading() {
	if !c.loading {
		return
	}
	c.loading = false
	c.opts.Display.StopLoading()
}

func (c *Coordinator) cancelAll() {
	clear(c.active)
	for id, cancel := range c.fetches {
		cancel()
		delete(c.fetches, id)
	}
	for id, op := range c.decodes {
		op.Cancel()
		delete(c.decodes, id)
	}
}

// Close cancels all work and detaches from the display. Completions that
// arrive afterwards are ignored.
func (c *Coordinator) Close() {
	if c.closed {
		return
	}
	c.cancelAll()
	c.stopLoading()
	c.cancel()
	c.closed = true
	c.set = nil
	c.current = nil
}
