package core

import "sort"

// RenditionSet is the immutable, size-sorted collection of renditions for one
// logical image. Renditions are ordered smallest to largest by width, then
// height; that is the only order used anywhere.
type RenditionSet struct {
	renditions []*Rendition
}

// NewRenditionSet copies rs and sorts the copy. rs may be empty.
func NewRenditionSet(rs []*Rendition) *RenditionSet {
	sorted := make([]*Rendition, 0, len(rs))
	for _, r := range rs {
		if r != nil {
			sorted = append(sorted, r)
		}
	}
	sort.SliceStable(sorted, func(i, j int) bool {
		a, b := sorted[i].size, sorted[j].size
		if a.Width == b.Width {
			return a.Height < b.Height
		}
		return a.Width < b.Width
	})
	return &RenditionSet{renditions: sorted}
}

// Renditions returns the sorted renditions. The slice is a copy.
func (s *RenditionSet) Renditions() []*Rendition {
	out := make([]*Rendition, len(s.renditions))
	copy(out, s.renditions)
	return out
}

// Len returns the number of renditions.
func (s *RenditionSet) Len() int { return len(s.renditions) }

// Smallest returns the first rendition, or nil for an empty set.
func (s *RenditionSet) Smallest() *Rendition {
	if len(s.renditions) == 0 {
		return nil
	}
	return s.renditions[0]
}

// Largest returns the last rendition, or nil for an empty set.
func (s *RenditionSet) Largest() *Rendition {
	if len(s.renditions) == 0 {
		return nil
	}
	return s.renditions[len(s.renditions)-1]
}

// LargestSize returns the declared size of the largest rendition.
func (s *RenditionSet) LargestSize() (Size, bool) {
	r := s.Largest()
	if r == nil {
		return Size{}, false
	}
	return r.size, true
}

// Rank returns r's position in the set, or -1 when r is not a member.
func (s *RenditionSet) Rank(r *Rendition) int {
	for i, c := range s.renditions {
		if SameRendition(c, r) {
			return i
		}
	}
	return -1
}

// BestFit returns the smallest rendition that covers size at scale under
// mode, regardless of cache state.
func (s *RenditionSet) BestFit(size Size, scale float64, mode ContentMode) *Rendition {
	return s.BestFitFiltered(size, scale, mode, false)
}

// BestAvailableFit is BestFit restricted to locally cached renditions.
func (s *RenditionSet) BestAvailableFit(size Size, scale float64, mode ContentMode) *Rendition {
	return s.BestFitFiltered(size, scale, mode, true)
}

// BestFitFiltered returns the first rendition, in ascending order, whose
// declared size covers size*scale: both axes for ContentModeFill, at least
// one axis otherwise. mustBeAvailable additionally requires a local copy.
// When nothing qualifies the largest rendition is returned whether or not it
// is available.
func (s *RenditionSet) BestFitFiltered(size Size, scale float64, mode ContentMode, mustBeAvailable bool) *Rendition {
	adjusted := size.Scaled(scale)

	viable := func(c Size) bool {
		return c.Width >= adjusted.Width || c.Height >= adjusted.Height
	}
	if mode == ContentModeFill {
		viable = func(c Size) bool {
			return c.Width >= adjusted.Width && c.Height >= adjusted.Height
		}
	}

	for _, r := range s.renditions {
		if !viable(r.size) {
			continue
		}
		if mustBeAvailable && !r.IsAvailable() {
			continue
		}
		return r
	}
	return s.Largest()
}

// BestSquareThumbnailFit returns the rendition whose square thumbnail is the
// smallest one covering size*scale in both axes. Without such a rendition it
// falls back to the one with the largest square thumbnail.
func (s *RenditionSet) BestSquareThumbnailFit(size Size, scale float64) *Rendition {
	adjusted := size.Scaled(scale)

	var best, largest *Rendition
	for _, r := range s.renditions {
		thumb := r.SquareThumbnailSize()
		if thumb.Width >= adjusted.Width && thumb.Height >= adjusted.Height {
			if best == nil || best.SquareThumbnailSize().Width > thumb.Width {
				best = r
			}
		}
		if largest == nil || largest.SquareThumbnailSize().Width < thumb.Width {
			largest = r
		}
	}

	switch {
	case best != nil:
		return best
	case largest != nil:
		return largest
	}
	return s.Largest()
}

// FitScale returns the minimum zoom at which content fits bounds. Fit mode
// never zooms past 1; fill mode covers bounds completely.
func FitScale(content, bounds Size, mode ContentMode) float64 {
	if content.IsZero() || bounds.IsZero() {
		return 1
	}
	rw := bounds.Width / content.Width
	rh := bounds.Height / content.Height
	if mode == ContentModeFill {
		return max(rw, rh)
	}
	return min(1, rw, rh)
}
