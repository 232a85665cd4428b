// Package fetch is the built-in tool server for reading web pages. Its
// fetch tool returns a page's readable text, and fetch_raw_html returns
// the body untouched.
package fetch

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/nugget/toolhost/internal/httpkit"
)

// Defaults used when Config leaves a field zero.
const (
	DefaultTimeout  = 30 * time.Second
	DefaultMaxBytes = 5 << 20
	DefaultMaxChars = 50000
)

// Config tunes a Fetcher.
type Config struct {
	// Timeout bounds each request.
	Timeout time.Duration

	// MaxBytes caps how much of a body is read.
	MaxBytes int64

	// MaxChars caps returned content, counted in runes.
	MaxChars int

	// Client overrides the HTTP client. Nil builds one with httpkit.
	Client *http.Client

	Logger *slog.Logger
}

// Result is one fetched page.
type Result struct {
	URL         string `json:"url"`
	Title       string `json:"title,omitempty"`
	Content     string `json:"content"`
	ContentType string `json:"content_type,omitempty"`
	StatusCode  int    `json:"status_code"`
	Truncated   bool   `json:"truncated,omitempty"`
}

// Fetcher downloads pages and extracts their text.
type Fetcher struct {
	client   *http.Client
	maxBytes int64
	maxChars int
	logger   *slog.Logger
}

// New returns a Fetcher configured by cfg.
func New(cfg Config) *Fetcher {
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	if cfg.MaxBytes <= 0 {
		cfg.MaxBytes = DefaultMaxBytes
	}
	if cfg.MaxChars <= 0 {
		cfg.MaxChars = DefaultMaxChars
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	client := cfg.Client
	if client == nil {
		client = httpkit.NewClient(
			httpkit.WithTimeout(cfg.Timeout),
			httpkit.WithRetry(1, 500*time.Millisecond),
			httpkit.WithLogger(cfg.Logger),
		)
	}
	return &Fetcher{
		client:   client,
		maxBytes: cfg.MaxBytes,
		maxChars: cfg.MaxChars,
		logger:   cfg.Logger,
	}
}

// Fetch downloads rawURL and returns its readable text. HTML is reduced
// to visible text; plain text and other UTF-8 bodies pass through.
// maxChars <= 0 uses the configured limit.
func (f *Fetcher) Fetch(ctx context.Context, rawURL string, maxChars int) (*Result, error) {
	res, body, err := f.get(ctx, rawURL, "text/html,application/xhtml+xml,text/plain;q=0.9,*/*;q=0.5")
	if err != nil {
		return nil, err
	}

	switch {
	case isHTML(res.ContentType):
		res.Title, res.Content = extractHTML(body)
	case utf8.Valid(body):
		res.Content = string(body)
	default:
		res.Content = fmt.Sprintf("Binary content (%s), %d bytes", res.ContentType, len(body))
	}
	f.truncate(res, maxChars)
	return res, nil
}

// FetchRaw downloads rawURL and returns the body as-is.
func (f *Fetcher) FetchRaw(ctx context.Context, rawURL string, maxChars int) (*Result, error) {
	res, body, err := f.get(ctx, rawURL, "text/html,*/*;q=0.8")
	if err != nil {
		return nil, err
	}
	res.Content = string(body)
	f.truncate(res, maxChars)
	return res, nil
}

// get performs the request. HTTP error statuses are returned as errors.
func (f *Fetcher) get(ctx context.Context, rawURL, accept string) (*Result, []byte, error) {
	rawURL = strings.TrimSpace(rawURL)
	if rawURL == "" {
		return nil, nil, fmt.Errorf("url is required")
	}
	if !strings.HasPrefix(rawURL, "http://") && !strings.HasPrefix(rawURL, "https://") {
		rawURL = "https://" + rawURL
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, nil, fmt.Errorf("invalid url: %w", err)
	}
	req.Header.Set("Accept", accept)
	req.Header.Set("Accept-Language", "en-US,en;q=0.9")

	resp, err := f.client.Do(req)
	if err != nil {
		return nil, nil, fmt.Errorf("request failed: %w", err)
	}
	defer httpkit.DrainAndClose(resp.Body, 64<<10)

	if resp.StatusCode >= http.StatusBadRequest {
		return nil, nil, fmt.Errorf("%s returned %s", rawURL, resp.Status)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, f.maxBytes))
	if err != nil {
		return nil, nil, fmt.Errorf("read response: %w", err)
	}
	f.logger.Debug("fetched url", "url", rawURL, "status", resp.StatusCode, "bytes", len(body))

	return &Result{
		URL:         rawURL,
		ContentType: resp.Header.Get("Content-Type"),
		StatusCode:  resp.StatusCode,
	}, body, nil
}

func (f *Fetcher) truncate(res *Result, maxChars int) {
	if maxChars <= 0 {
		maxChars = f.maxChars
	}
	if cut, ok := truncateRunes(res.Content, maxChars); ok {
		res.Content = cut
		res.Truncated = true
	}
}

func isHTML(ct string) bool {
	ct = strings.ToLower(ct)
	return strings.Contains(ct, "text/html") || strings.Contains(ct, "application/xhtml")
}

// truncateRunes cuts s to at most n runes and reports whether it cut.
func truncateRunes(s string, n int) (string, bool) {
	if len(s) <= n {
		return s, false
	}
	count := 0
	for i := range s {
		if count == n {
			return s[:i], true
		}
		count++
	}
	return s, false
}
