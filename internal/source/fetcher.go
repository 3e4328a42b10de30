// Package source fetches raw layer payloads over HTTP or from the local data
// directory.
package source

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/rubmoyanop/lost-frequencies-nasa-space-apps-challenge-2025/internal/core/observability"
)

// Fetcher returns the raw bytes behind a layer URL.
type Fetcher interface {
	Fetch(ctx context.Context, rawURL string) ([]byte, error)
}

// StatusError is a non-2xx answer from an HTTP source.
type StatusError struct {
	URL        string
	StatusCode int
	Status     string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("fetch %s: unexpected status %s", e.URL, e.Status)
}

var ErrTooLarge = errors.New("payload exceeds size limit")

type Options struct {
	// DataDir serves relative and file:// URLs.
	DataDir  string
	MaxBytes int64
}

type HTTPFetcher struct {
	client *http.Client
	opts   Options
	logger *slog.Logger
}

func NewHTTPFetcher(client *http.Client, opts Options, logger *slog.Logger) *HTTPFetcher {
	if client == nil {
		client = http.DefaultClient
	}
	if opts.MaxBytes <= 0 {
		opts.MaxBytes = 512 << 20
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &HTTPFetcher{client: client, opts: opts, logger: logger}
}

func (f *HTTPFetcher) Fetch(ctx context.Context, rawURL string) ([]byte, error) {
	u, err := url.Parse(strings.TrimSpace(rawURL))
	if err != nil {
		return nil, fmt.Errorf("fetch %s: invalid url: %w", rawURL, err)
	}
	switch u.Scheme {
	case "http", "https":
		return f.fetchHTTP(ctx, u.String())
	case "", "file":
		return f.readLocal(ctx, u.Path)
	default:
		return nil, fmt.Errorf("fetch %s: unsupported scheme %q", rawURL, u.Scheme)
	}
}

func (f *HTTPFetcher) fetchHTTP(ctx context.Context, target string) ([]byte, error) {
	start := time.Now()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	resp, err := f.client.Do(req)
	observability.ObserveUpstreamLatency("source_http", time.Since(start).Seconds())
	if err != nil {
		return nil, fmt.Errorf("fetch %s: %w", target, err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 4<<10))
		return nil, &StatusError{URL: target, StatusCode: resp.StatusCode, Status: resp.Status}
	}

	b, err := readLimited(resp.Body, f.opts.MaxBytes)
	if err != nil {
		return nil, fmt.Errorf("fetch %s: %w", target, err)
	}
	f.logger.DebugContext(ctx, "source fetched", "url", target, "bytes", len(b), "dur", time.Since(start))
	return b, nil
}

func (f *HTTPFetcher) readLocal(ctx context.Context, p string) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if f.opts.DataDir == "" {
		return nil, fmt.Errorf("fetch %s: no data directory configured", p)
	}
	// Clean against "/" so ".." can never climb out of DataDir.
	clean := filepath.Clean("/" + filepath.FromSlash(p))
	full := filepath.Join(f.opts.DataDir, clean)

	start := time.Now()
	fh, err := os.Open(full)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, &StatusError{URL: p, StatusCode: http.StatusNotFound, Status: "404 Not Found"}
		}
		return nil, fmt.Errorf("fetch %s: %w", p, err)
	}
	defer func() { _ = fh.Close() }()

	b, err := readLimited(fh, f.opts.MaxBytes)
	observability.ObserveUpstreamLatency("source_file", time.Since(start).Seconds())
	if err != nil {
		return nil, fmt.Errorf("fetch %s: %w", p, err)
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return b, nil
}

func readLimited(r io.Reader, max int64) ([]byte, error) {
	b, err := io.ReadAll(io.LimitReader(r, max+1))
	if err != nil {
		return nil, err
	}
	if int64(len(b)) > max {
		return nil, ErrTooLarge
	}
	return b, nil
}
