// Package httpkit builds the outbound *http.Client shared by the fetch
// tool server and HTTP-backed tool servers.
package httpkit

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"maps"
	"net"
	"net/http"
	"syscall"
	"time"

	"github.com/nugget/toolhost/internal/buildinfo"
)

const (
	DefaultTimeout             = 30 * time.Second
	DefaultDialTimeout         = 10 * time.Second
	DefaultKeepAlive           = 30 * time.Second
	DefaultTLSHandshakeTimeout = 10 * time.Second
	DefaultResponseHeader      = 15 * time.Second
	DefaultIdleConnTimeout     = 90 * time.Second
	DefaultMaxIdleConns        = 20
	DefaultMaxIdleConnsPerHost = 5

	// maxRetryDelay caps the doubling backoff between dial retries.
	maxRetryDelay = 5 * time.Second
)

// ClientOption adjusts a client built by NewClient.
type ClientOption func(*transport, *http.Client)

// WithTimeout sets the whole-request timeout. Zero means none, which
// suits callers that bound requests with their own context.
func WithTimeout(d time.Duration) ClientOption {
	return func(_ *transport, c *http.Client) { c.Timeout = d }
}

// WithUserAgent replaces the host User-Agent. An empty string sends
// Go's default.
func WithUserAgent(ua string) ClientOption {
	return func(t *transport, _ *http.Client) { t.userAgent = ua }
}

// WithHeaders adds fixed headers to every request. They override
// anything the caller set.
func WithHeaders(h map[string]string) ClientOption {
	return func(t *transport, _ *http.Client) {
		if t.headers == nil {
			t.headers = make(map[string]string, len(h))
		}
		maps.Copy(t.headers, h)
	}
}

// WithTransport swaps the underlying round tripper.
func WithTransport(rt http.RoundTripper) ClientOption {
	return func(t *transport, _ *http.Client) { t.base = rt }
}

// WithRetry retries a request up to attempts more times when the dial
// fails, waiting delay before the first retry and doubling after each.
// A request whose body cannot be rewound is never retried.
func WithRetry(attempts int, delay time.Duration) ClientOption {
	return func(t *transport, _ *http.Client) {
		t.retries = attempts
		t.delay = delay
	}
}

// WithLogger sets where retry attempts are logged.
func WithLogger(l *slog.Logger) ClientOption {
	return func(t *transport, _ *http.Client) {
		if l != nil {
			t.logger = l
		}
	}
}

// NewTransport returns an *http.Transport with the package timeouts.
func NewTransport() *http.Transport {
	dialer := &net.Dialer{Timeout: DefaultDialTimeout, KeepAlive: DefaultKeepAlive}
	return &http.Transport{
		Proxy:                 http.ProxyFromEnvironment,
		DialContext:           dialer.DialContext,
		ForceAttemptHTTP2:     true,
		TLSHandshakeTimeout:   DefaultTLSHandshakeTimeout,
		ResponseHeaderTimeout: DefaultResponseHeader,
		IdleConnTimeout:       DefaultIdleConnTimeout,
		MaxIdleConns:          DefaultMaxIdleConns,
		MaxIdleConnsPerHost:   DefaultMaxIdleConnsPerHost,
	}
}

// NewClient returns a client that stamps the host User-Agent and
// applies opts.
func NewClient(opts ...ClientOption) *http.Client {
	t := &transport{
		userAgent: buildinfo.UserAgent(),
		logger:    slog.Default(),
	}
	c := &http.Client{Timeout: DefaultTimeout}
	for _, o := range opts {
		o(t, c)
	}
	if t.base == nil {
		t.base = NewTransport()
	}
	c.Transport = t
	return c
}

// transport decorates requests with headers and retries dial failures.
type transport struct {
	base      http.RoundTripper
	userAgent string
	headers   map[string]string
	retries   int
	delay     time.Duration
	logger    *slog.Logger
}

func (t *transport) RoundTrip(req *http.Request) (*http.Response, error) {
	req = t.decorate(req)

	resp, err := t.base.RoundTrip(req)
	if err == nil || t.retries <= 0 || !IsDialError(err) || !canRewind(req) {
		return resp, err
	}

	delay := t.delay
	for attempt := 1; attempt <= t.retries; attempt++ {
		t.logger.Debug("dial failed, retrying",
			"method", req.Method,
			"url", req.URL.Redacted(),
			"attempt", attempt,
			"delay", delay,
			"error", err,
		)
		if werr := sleep(req, delay); werr != nil {
			return nil, werr
		}
		delay = min(delay*2, maxRetryDelay)

		next := req.Clone(req.Context())
		if req.GetBody != nil {
			body, berr := req.GetBody()
			if berr != nil {
				return nil, fmt.Errorf("rewind request body: %w", berr)
			}
			next.Body = body
		}

		resp, err = t.base.RoundTrip(next)
		if err == nil || !IsDialError(err) {
			return resp, err
		}
	}
	return nil, err
}

// decorate returns req, or a clone of it carrying the extra headers.
// RoundTrippers must not modify the caller's request.
func (t *transport) decorate(req *http.Request) *http.Request {
	addUA := t.userAgent != "" && req.Header.Get("User-Agent") == ""
	if !addUA && len(t.headers) == 0 {
		return req
	}
	out := req.Clone(req.Context())
	if addUA {
		out.Header.Set("User-Agent", t.userAgent)
	}
	for k, v := range t.headers {
		out.Header.Set(k, v)
	}
	return out
}

func canRewind(req *http.Request) bool {
	return req.Body == nil || req.Body == http.NoBody || req.GetBody != nil
}

func sleep(req *http.Request, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-req.Context().Done():
		return req.Context().Err()
	case <-timer.C:
		return nil
	}
}

// IsDialError reports whether err is a connection failure that happened
// before the request reached the server, which makes it safe to retry.
func IsDialError(err error) bool {
	var errno syscall.Errno
	if !errors.As(err, &errno) {
		return false
	}
	return errno == syscall.ECONNREFUSED ||
		errno == syscall.EHOSTUNREACH ||
		errno == syscall.ENETUNREACH
}

// DrainAndClose reads and discards at most limit bytes from rc, then
// closes it so the connection can be reused.
func DrainAndClose(rc io.ReadCloser, limit int64) {
	if rc == nil {
		return
	}
	_, _ = io.CopyN(io.Discard, rc, limit)
	_ = rc.Close()
}

// ReadErrorBody returns at most limit bytes of rc for an error message
// and closes it.
func ReadErrorBody(rc io.ReadCloser, limit int64) string {
	if rc == nil {
		return ""
	}
	defer DrainAndClose(rc, 4<<10)
	body, err := io.ReadAll(io.LimitReader(rc, limit))
	if err != nil {
		return fmt.Sprintf("(error body unreadable: %v)", err)
	}
	return string(body)
}
