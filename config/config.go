// Package config loads multiimage settings and rendition manifests from TOML.
package config

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	toml "github.com/pelletier/go-toml/v2"

	"github.com/Skryldev/multiimage/core"
	apperrors "github.com/Skryldev/multiimage/errors"
)

// Backend selects the decoder implementation.
type Backend string

const (
	BackendStd  Backend = "std"
	BackendVips Backend = "vips"
)

const (
	defaultConfigPath = "~/.config/multiimage/config.toml"
	defaultUserAgent  = "multiimage/1.0"
)

// DefaultPlaceholderSize is the point size used to pick the low-resolution
// rendition shown while the real one downloads.
var DefaultPlaceholderSize = core.Size{Width: 55, Height: 55}

// Config is the top-level configuration struct. Default() fills every field;
// Load overrides only what the file sets.
type Config struct {
	// Decode queue controls.
	DecodeWorkers   int // default: core.DefaultDecodeConcurrency
	DecodeQueueSize int // default: core.DefaultDecodeQueueSize

	// Selection.
	PlaceholderSize core.Size
	Scale           float64 // display pixels per point; default 1
	ContentMode     core.ContentMode

	// Cache and decoding.
	CacheDir      string // "" = <user cache dir>/multiimage
	Backend       Backend
	MaxImageBytes int64 // 0 = no limit

	Transport TransportConfig

	// PrefetchLimit caps concurrent downloads during Prefetch.
	PrefetchLimit int

	LogLevel string // "debug", "info", "warn", "error"
}

// TransportConfig configures the HTTP transport.
type TransportConfig struct {
	Timeout      time.Duration
	KeepAlive    time.Duration
	MaxIdleConns int
	UserAgent    string
}

// Default returns a Config populated with sensible production defaults.
func Default() Config {
	return Config{
		DecodeWorkers:   core.DefaultDecodeConcurrency,
		DecodeQueueSize: core.DefaultDecodeQueueSize,
		PlaceholderSize: DefaultPlaceholderSize,
		Scale:           1,
		ContentMode:     core.ContentModeFit,
		Backend:         BackendStd,
		Transport: TransportConfig{
			Timeout:      30 * time.Second,
			KeepAlive:    60 * time.Second,
			MaxIdleConns: 4,
			UserAgent:    defaultUserAgent,
		},
		PrefetchLimit: 4,
		LogLevel:      "info",
	}
}

// Validate returns an error if the configuration is inconsistent.
func Validate(c Config) error {
	var errs []error
	if c.DecodeWorkers < 0 {
		errs = append(errs, errors.New("DecodeWorkers must not be negative"))
	}
	if c.DecodeQueueSize < 0 {
		errs = append(errs, errors.New("DecodeQueueSize must not be negative"))
	}
	if c.PlaceholderSize.IsZero() {
		errs = append(errs, fmt.Errorf("PlaceholderSize %v: %w", c.PlaceholderSize, apperrors.ErrInvalidDimensions))
	}
	if c.Scale <= 0 {
		errs = append(errs, errors.New("Scale must be positive"))
	}
	switch c.Backend {
	case BackendStd, BackendVips:
	default:
		errs = append(errs, fmt.Errorf("unknown backend %q", c.Backend))
	}
	if c.MaxImageBytes < 0 {
		errs = append(errs, errors.New("MaxImageBytes must not be negative"))
	}
	if c.Transport.Timeout < 0 || c.Transport.KeepAlive < 0 {
		errs = append(errs, errors.New("transport durations must not be negative"))
	}
	if _, err := ParseLogLevel(c.LogLevel); err != nil {
		errs = append(errs, err)
	}
	if len(errs) > 0 {
		return apperrors.New(apperrors.CategoryConfig, "config.validate", errors.Join(errs...))
	}
	return nil
}

// Load reads the TOML file at path over Default(). An empty path selects
// ~/.config/multiimage/config.toml; a missing file yields the defaults.
func Load(path string) (Config, error) {
	cfg := Default()

	resolved, err := resolvePath(path)
	if err != nil {
		return Config{}, err
	}
	bytes, err := readFile(resolved)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return cfg, nil
		}
		return Config{}, err
	}

	var raw struct {
		DecodeWorkers   int     `toml:"decode_workers"`
		DecodeQueueSize int     `toml:"decode_queue_size"`
		PlaceholderSize string  `toml:"placeholder_size"`
		Scale           float64 `toml:"scale"`
		ContentMode     string  `toml:"content_mode"`
		CacheDir        string  `toml:"cache_dir"`
		Backend         string  `toml:"backend"`
		MaxImageBytes   int64   `toml:"max_image_bytes"`
		PrefetchLimit   int     `toml:"prefetch_limit"`
		LogLevel        string  `toml:"log_level"`
		Transport       struct {
			Timeout      string `toml:"timeout"`
			KeepAlive    string `toml:"keep_alive"`
			MaxIdleConns int    `toml:"max_idle_conns"`
			UserAgent    string `toml:"user_agent"`
		} `toml:"transport"`
	}
	if err := toml.Unmarshal(bytes, &raw); err != nil {
		return Config{}, apperrors.New(apperrors.CategoryConfig, "config.parse", err)
	}

	if raw.DecodeWorkers != 0 {
		cfg.DecodeWorkers = raw.DecodeWorkers
	}
	if raw.DecodeQueueSize != 0 {
		cfg.DecodeQueueSize = raw.DecodeQueueSize
	}
	if s := strings.TrimSpace(raw.PlaceholderSize); s != "" {
		size, err := ParseSize(s)
		if err != nil {
			return Config{}, apperrors.New(apperrors.CategoryConfig, "config.placeholder_size", err)
		}
		cfg.PlaceholderSize = size
	}
	if raw.Scale != 0 {
		cfg.Scale = raw.Scale
	}
	mode, err := core.ParseContentMode(raw.ContentMode)
	if err != nil {
		return Config{}, apperrors.New(apperrors.CategoryConfig, "config.content_mode", err)
	}
	cfg.ContentMode = mode
	if dir := strings.TrimSpace(raw.CacheDir); dir != "" {
		cfg.CacheDir = mustExpand(dir)
	}
	if b := strings.ToLower(strings.TrimSpace(raw.Backend)); b != "" {
		cfg.Backend = Backend(b)
	}
	if raw.MaxImageBytes != 0 {
		cfg.MaxImageBytes = raw.MaxImageBytes
	}
	if raw.PrefetchLimit != 0 {
		cfg.PrefetchLimit = raw.PrefetchLimit
	}
	if lvl := strings.TrimSpace(raw.LogLevel); lvl != "" {
		cfg.LogLevel = lvl
	}

	if d, err := parseDuration(raw.Transport.Timeout); err != nil {
		return Config{}, apperrors.New(apperrors.CategoryConfig, "config.transport.timeout", err)
	} else if d != 0 {
		cfg.Transport.Timeout = d
	}
	if d, err := parseDuration(raw.Transport.KeepAlive); err != nil {
		return Config{}, apperrors.New(apperrors.CategoryConfig, "config.transport.keep_alive", err)
	} else if d != 0 {
		cfg.Transport.KeepAlive = d
	}
	if raw.Transport.MaxIdleConns != 0 {
		cfg.Transport.MaxIdleConns = raw.Transport.MaxIdleConns
	}
	if ua := strings.TrimSpace(raw.Transport.UserAgent); ua != "" {
		cfg.Transport.UserAgent = ua
	}

	return cfg, Validate(cfg)
}

// ParseLogLevel maps a level name to a slog.Level. The empty string is info.
func ParseLogLevel(s string) (slog.Level, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "debug":
		return slog.LevelDebug, nil
	case "", "info":
		return slog.LevelInfo, nil
	case "warn", "warning":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	}
	return slog.LevelInfo, fmt.Errorf("unknown log level %q", s)
}

// ParseSize parses "WxH" (either axis may be fractional).
func ParseSize(s string) (core.Size, error) {
	w, h, ok := strings.Cut(strings.ToLower(strings.TrimSpace(s)), "x")
	if !ok {
		return core.Size{}, fmt.Errorf("size %q: want WxH", s)
	}
	width, err := strconv.ParseFloat(strings.TrimSpace(w), 64)
	if err != nil {
		return core.Size{}, fmt.Errorf("size %q: %w", s, err)
	}
	height, err := strconv.ParseFloat(strings.TrimSpace(h), 64)
	if err != nil {
		return core.Size{}, fmt.Errorf("size %q: %w", s, err)
	}
	size := core.Size{Width: width, Height: height}
	if size.IsZero() {
		return core.Size{}, fmt.Errorf("size %q: %w", s, apperrors.ErrInvalidDimensions)
	}
	return size, nil
}

func parseDuration(s string) (time.Duration, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, nil
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return 0, err
	}
	if d < 0 {
		return 0, fmt.Errorf("duration %q is negative", s)
	}
	return d, nil
}

func readFile(path string) ([]byte, error) {
	file, err := os.Open(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, err
		}
		return nil, apperrors.New(apperrors.CategoryConfig, "config.open", err)
	}
	defer file.Close()

	bytes, err := io.ReadAll(file)
	if err != nil {
		return nil, apperrors.New(apperrors.CategoryConfig, "config.read", err)
	}
	return bytes, nil
}

func resolvePath(path string) (string, error) {
	if strings.TrimSpace(path) == "" {
		return expandPath(defaultConfigPath)
	}
	return expandPath(path)
}

func mustExpand(path string) string {
	expanded, err := expandPath(path)
	if err != nil {
		return path
	}
	return expanded
}

func expandPath(path string) (string, error) {
	trimmed := strings.TrimSpace(path)
	if trimmed == "" {
		return "", fmt.Errorf("path is empty")
	}
	if strings.HasPrefix(trimmed, "~") {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", fmt.Errorf("resolve home dir: %w", err)
		}
		trimmed = filepath.Join(home, strings.TrimPrefix(trimmed, "~"))
	}
	return filepath.Abs(trimmed)
}
