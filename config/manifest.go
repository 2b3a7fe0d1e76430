package config

import (
	"errors"
	"fmt"
	"os"
	"strings"

	toml "github.com/pelletier/go-toml/v2"

	"github.com/Skryldev/multiimage/core"
	apperrors "github.com/Skryldev/multiimage/errors"
)

// ManifestEntry describes one rendition of a logical image.
type ManifestEntry struct {
	URL  string
	Size core.Size
}

// LoadManifest reads a rendition list:
//
//	[[rendition]]
//	url = "https://example.com/photo-400.jpg"
//	size = "400x300"
//
//	[[rendition]]
//	url = "https://example.com/photo-1200.jpg"
//	width = 1200
//	height = 900
func LoadManifest(path string) ([]ManifestEntry, error) {
	resolved, err := expandPath(path)
	if err != nil {
		return nil, apperrors.New(apperrors.CategoryConfig, "manifest.path", err)
	}
	bytes, err := os.ReadFile(resolved)
	if err != nil {
		return nil, apperrors.New(apperrors.CategoryConfig, "manifest.read", err)
	}
	return ParseManifest(bytes)
}

// ParseManifest decodes manifest TOML. Entries keep file order.
func ParseManifest(data []byte) ([]ManifestEntry, error) {
	var raw struct {
		Rendition []struct {
			URL    string  `toml:"url"`
			Size   string  `toml:"size"`
			Width  float64 `toml:"width"`
			Height float64 `toml:"height"`
		} `toml:"rendition"`
	}
	if err := toml.Unmarshal(data, &raw); err != nil {
		return nil, apperrors.New(apperrors.CategoryConfig, "manifest.parse", err)
	}

	var errs []error
	entries := make([]ManifestEntry, 0, len(raw.Rendition))
	for i, r := range raw.Rendition {
		url := strings.TrimSpace(r.URL)
		if url == "" {
			errs = append(errs, fmt.Errorf("rendition %d: url is empty", i))
			continue
		}
		size := core.Size{Width: r.Width, Height: r.Height}
		if s := strings.TrimSpace(r.Size); s != "" {
			parsed, err := ParseSize(s)
			if err != nil {
				errs = append(errs, fmt.Errorf("rendition %d: %w", i, err))
				continue
			}
			size = parsed
		}
		if size.IsZero() {
			errs = append(errs, fmt.Errorf("rendition %d (%s): %w", i, url, apperrors.ErrInvalidDimensions))
			continue
		}
		entries = append(entries, ManifestEntry{URL: url, Size: size})
	}
	if len(errs) > 0 {
		return nil, apperrors.New(apperrors.CategoryConfig, "manifest.validate", errors.Join(errs...))
	}
	if len(entries) == 0 {
		return nil, apperrors.New(apperrors.CategoryConfig, "manifest.validate", apperrors.ErrEmptyInput)
	}
	return entries, nil
}
