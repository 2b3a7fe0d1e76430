// Package transport downloads rendition sources over HTTP.
package transport

import (
	"context"
	"fmt"
	"io"
	"net"
	"net/http"
	"os"
	"sync"
	"time"

	"github.com/goware/urlx"
	"golang.org/x/net/context/ctxhttp"

	"github.com/Skryldev/multiimage/core"
	apperrors "github.com/Skryldev/multiimage/errors"
	"github.com/Skryldev/multiimage/utils"
)

var (
	DefaultTimeout      = 30 * time.Second
	DefaultKeepAlive    = 60 * time.Second
	DefaultMaxIdleConns = 4
	DefaultUserAgent    = "multiimage/1.0"
)

// HTTP is a core.Transport that streams response bodies into temp files.
type HTTP struct {
	Client *http.Client

	Timeout      time.Duration
	KeepAlive    time.Duration
	MaxIdleConns int
	UserAgent    string
	// MaxBytes aborts downloads larger than this (0 = no limit).
	MaxBytes int64
	// TempDir holds in-flight downloads; "" uses os.TempDir.
	TempDir string
	Logger  core.Logger

	once sync.Once
}

// NewHTTP returns an HTTP transport with the package defaults.
func NewHTTP() *HTTP {
	return &HTTP{
		Timeout:      DefaultTimeout,
		KeepAlive:    DefaultKeepAlive,
		MaxIdleConns: DefaultMaxIdleConns,
		UserAgent:    DefaultUserAgent,
		Logger:       core.NopLogger{},
	}
}

func (t *HTTP) client() *http.Client {
	t.once.Do(t.initClient)
	return t.Client
}

func (t *HTTP) initClient() {
	if t.Client != nil {
		return
	}
	tr := &http.Transport{
		Proxy: http.ProxyFromEnvironment,
		DialContext: (&net.Dialer{
			Timeout:   t.Timeout,
			KeepAlive: t.KeepAlive,
		}).DialContext,
		TLSHandshakeTimeout:   10 * time.Second,
		MaxIdleConnsPerHost:   t.MaxIdleConns,
		ResponseHeaderTimeout: t.Timeout,
		DisableCompression:    true,
	}
	t.Client = &http.Client{Timeout: t.Timeout, Transport: tr}
}

func (t *HTTP) logger() core.Logger {
	if t.Logger == nil {
		return core.NopLogger{}
	}
	return t.Logger
}

// Download implements core.Transport. A 404 or 410 yields ("", nil) so the
// caller can tell a missing source from a failed transfer; other non-2xx
// statuses are errors.
func (t *HTTP) Download(ctx context.Context, src string) (string, error) {
	u, err := urlx.Parse(src)
	if err != nil {
		return "", apperrors.New(apperrors.CategoryInput, "http.parse", err)
	}

	req, err := http.NewRequest(http.MethodGet, u.String(), nil)
	if err != nil {
		return "", apperrors.New(apperrors.CategoryInput, "http.request", err)
	}
	req.Header.Set("User-Agent", t.UserAgent)
	req.Header.Set("Accept", "image/*,*/*")

	t.logger().Debug("http.fetch", "url", u.String())
	resp, err := ctxhttp.Do(ctx, t.client(), req)
	if err != nil {
		t.logger().Warn("http.fetch.failed", "url", u.String(), "error", err.Error())
		return "", apperrors.Transient("http.do", err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusNotFound || resp.StatusCode == http.StatusGone:
		return "", nil
	case resp.StatusCode >= 500:
		return "", apperrors.Transient("http.status", fmt.Errorf("%s: %s", u, resp.Status))
	case resp.StatusCode < 200 || resp.StatusCode > 299:
		return "", apperrors.New(apperrors.CategoryTransport, "http.status", fmt.Errorf("%s: %s", u, resp.Status))
	}

	f, err := os.CreateTemp(t.TempDir, "multiimage-*.part")
	if err != nil {
		return "", apperrors.Wrap(apperrors.CategoryCache, "http.tempfile", err)
	}
	var body io.Reader = resp.Body
	if t.MaxBytes > 0 {
		body = &utils.LimitedReader{R: resp.Body, Max: t.MaxBytes}
	}
	if _, err := io.Copy(f, body); err != nil {
		f.Close()
		os.Remove(f.Name())
		return "", apperrors.Transient("http.body", err)
	}
	if err := f.Close(); err != nil {
		os.Remove(f.Name())
		return "", apperrors.Wrap(apperrors.CategoryCache, "http.tempfile.close", err)
	}
	return f.Name(), nil
}

var _ core.Transport = (*HTTP)(nil)
