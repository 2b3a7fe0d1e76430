package hooks

import (
	"time"

	metrics "github.com/rcrowley/go-metrics"

	"github.com/Skryldev/multiimage/core"
)

// GoMetrics publishes observations into a go-metrics registry so they can be
// exported with any of its reporters.
type GoMetrics struct {
	registry metrics.Registry
}

// NewGoMetrics records into r; nil selects metrics.DefaultRegistry.
func NewGoMetrics(r metrics.Registry) *GoMetrics {
	if r == nil {
		r = metrics.DefaultRegistry
	}
	return &GoMetrics{registry: r}
}

// Registry returns the underlying registry.
func (g *GoMetrics) Registry() metrics.Registry { return g.registry }

func (g *GoMetrics) RecordFetch(_ string, d interface{ Seconds() float64 }, fromCache bool) {
	name := "fetch.network"
	if fromCache {
		name = "fetch.cache"
	}
	metrics.GetOrRegisterTimer(name, g.registry).Update(seconds(d))
}

func (g *GoMetrics) RecordDecode(d interface{ Seconds() float64 }) {
	metrics.GetOrRegisterTimer("decode", g.registry).Update(seconds(d))
}

func (g *GoMetrics) RecordStale(kind string) {
	metrics.GetOrRegisterCounter("stale."+kind, g.registry).Inc(1)
}

func (g *GoMetrics) RecordError(op string, category string) {
	metrics.GetOrRegisterCounter("error."+op+"."+category, g.registry).Inc(1)
}

func seconds(d interface{ Seconds() float64 }) time.Duration {
	if td, ok := d.(time.Duration); ok {
		return td
	}
	return time.Duration(d.Seconds() * float64(time.Second))
}

var _ core.MetricsCollector = (*GoMetrics)(nil)

// Tee fans observations out to several collectors.
type Tee []core.MetricsCollector

func (t Tee) RecordFetch(source string, d interface{ Seconds() float64 }, fromCache bool) {
	for _, c := range t {
		c.RecordFetch(source, d, fromCache)
	}
}

func (t Tee) RecordDecode(d interface{ Seconds() float64 }) {
	for _, c := range t {
		c.RecordDecode(d)
	}
}

func (t Tee) RecordStale(kind string) {
	for _, c := range t {
		c.RecordStale(kind)
	}
}

func (t Tee) RecordError(op string, category string) {
	for _, c := range t {
		c.RecordError(op, category)
	}
}

var _ core.MetricsCollector = Tee(nil)
