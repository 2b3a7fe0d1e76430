package core

import (
	"fmt"
	"strings"
)

// Size is a width/height pair in points or pixels, depending on context.
type Size struct {
	Width  float64
	Height float64
}

// Scaled returns s multiplied by f in both axes.
func (s Size) Scaled(f float64) Size {
	return Size{Width: s.Width * f, Height: s.Height * f}
}

// IsZero reports whether either axis is non-positive.
func (s Size) IsZero() bool { return s.Width <= 0 || s.Height <= 0 }

func (s Size) String() string { return fmt.Sprintf("%gx%g", s.Width, s.Height) }

// ContentMode selects how a rendition must cover a target size.
type ContentMode int

const (
	// ContentModeFit requires coverage in at least one axis; the other axis
	// is padded.
	ContentModeFit ContentMode = iota
	// ContentModeFill requires coverage in both axes so no border shows.
	ContentModeFill
)

func (m ContentMode) String() string {
	switch m {
	case ContentModeFill:
		return "fill"
	default:
		return "fit"
	}
}

// ParseContentMode maps a configuration string to a ContentMode. The empty
// string selects ContentModeFit.
func ParseContentMode(s string) (ContentMode, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "fit", "aspect_fit":
		return ContentModeFit, nil
	case "fill", "aspect_fill":
		return ContentModeFill, nil
	}
	return ContentModeFit, fmt.Errorf("unknown content mode %q", s)
}

// Services bundles the collaborators a Rendition calls into.
type Services struct {
	Transport Transport
	Decoder   Decoder
	Files     FileSystem
	Logger    Logger
}

func (s Services) logger() Logger {
	if s.Logger == nil {
		return NopLogger{}
	}
	return s.Logger
}
