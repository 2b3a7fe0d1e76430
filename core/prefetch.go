package core

import (
	"context"

	"golang.org/x/sync/errgroup"
)

// Prefetch loads every rendition into the cache, at most limit at a time
// (limit <= 0 means unbounded). It stops at the first failure.
func Prefetch(ctx context.Context, renditions []*Rendition, limit int) error {
	g, ctx := errgroup.WithContext(ctx)
	if limit > 0 {
		g.SetLimit(limit)
	}
	for _, r := range renditions {
		if r == nil {
			continue
		}
		r := r
		g.Go(func() error {
			_, err := r.Load(ctx)
			return err
		})
	}
	return g.Wait()
}
