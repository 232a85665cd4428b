package httpkit

import (
	"context"
	"errors"
	"io"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"syscall"
	"testing"
	"time"

	"github.com/nugget/toolhost/internal/buildinfo"
)

// scripted fails with a dial error for the first failures calls and
// records every request it sees.
type scripted struct {
	failures int
	err      error
	reqs     []*http.Request
}

func (s *scripted) RoundTrip(req *http.Request) (*http.Response, error) {
	s.reqs = append(s.reqs, req)
	if len(s.reqs) <= s.failures {
		if s.err != nil {
			return nil, s.err
		}
		return nil, &net.OpError{Op: "dial", Net: "tcp", Err: syscall.ECONNREFUSED}
	}
	return &http.Response{StatusCode: http.StatusOK, Body: io.NopCloser(strings.NewReader("ok")), Request: req}, nil
}

func TestNewClient_Timeout(t *testing.T) {
	if got := NewClient().Timeout; got != DefaultTimeout {
		t.Errorf("default Timeout = %v", got)
	}
	if got := NewClient(WithTimeout(0)).Timeout; got != 0 {
		t.Errorf("WithTimeout(0) = %v", got)
	}
}

func TestNewClient_Headers(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("X-Seen-UA", r.Header.Get("User-Agent"))
		w.Header().Set("X-Seen-Auth", r.Header.Get("Authorization"))
	}))
	defer srv.Close()

	tests := []struct {
		name     string
		opts     []ClientOption
		setUA    string
		wantUA   string
		wantAuth string
	}{
		{"default", nil, "", buildinfo.UserAgent(), ""},
		{"override", []ClientOption{WithUserAgent("probe/1")}, "", "probe/1", ""},
		{"caller wins", nil, "caller/2", "caller/2", ""},
		{"fixed headers", []ClientOption{WithHeaders(map[string]string{"Authorization": "Bearer t"})}, "", buildinfo.UserAgent(), "Bearer t"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req, _ := http.NewRequest(http.MethodGet, srv.URL, nil)
			if tt.setUA != "" {
				req.Header.Set("User-Agent", tt.setUA)
			}
			resp, err := NewClient(tt.opts...).Do(req)
			if err != nil {
				t.Fatal(err)
			}
			DrainAndClose(resp.Body, 1024)
			if got := resp.Header.Get("X-Seen-UA"); got != tt.wantUA {
				t.Errorf("User-Agent = %q, want %q", got, tt.wantUA)
			}
			if got := resp.Header.Get("X-Seen-Auth"); got != tt.wantAuth {
				t.Errorf("Authorization = %q, want %q", got, tt.wantAuth)
			}
			if req.Header.Get("Authorization") != "" {
				t.Error("caller's request was modified")
			}
		})
	}
}

func TestRetry(t *testing.T) {
	tests := []struct {
		name      string
		failures  int
		retries   int
		err       error
		wantErr   bool
		wantCalls int
	}{
		{"first try", 0, 2, nil, false, 1},
		{"recovers", 2, 2, nil, false, 3},
		{"gives up", 9, 2, nil, true, 3},
		{"retry disabled", 1, 0, nil, true, 1},
		{"not a dial error", 1, 2, syscall.ECONNRESET, true, 1},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			base := &scripted{failures: tt.failures, err: tt.err}
			c := NewClient(WithTransport(base), WithRetry(tt.retries, time.Millisecond))
			resp, err := c.Get("http://tools.invalid/")
			if resp != nil {
				DrainAndClose(resp.Body, 64)
			}
			if (err != nil) != tt.wantErr {
				t.Fatalf("err = %v, wantErr %v", err, tt.wantErr)
			}
			if len(base.reqs) != tt.wantCalls {
				t.Errorf("calls = %d, want %d", len(base.reqs), tt.wantCalls)
			}
		})
	}
}

func TestRetry_Body(t *testing.T) {
	base := &scripted{failures: 1}
	c := NewClient(WithTransport(base), WithRetry(1, time.Millisecond))

	// NewRequest sets GetBody for a strings.Reader, so the body is resent.
	resp, err := c.Post("http://tools.invalid/", "application/json", strings.NewReader(`{"a":1}`))
	if err != nil {
		t.Fatal(err)
	}
	DrainAndClose(resp.Body, 64)
	body, _ := io.ReadAll(base.reqs[1].Body)
	if string(body) != `{"a":1}` {
		t.Errorf("retried body = %q", body)
	}

	base = &scripted{failures: 1}
	c = NewClient(WithTransport(base), WithRetry(1, time.Millisecond))
	req, _ := http.NewRequest(http.MethodPost, "http://tools.invalid/", io.NopCloser(strings.NewReader("x")))
	if _, err := c.Do(req); err == nil {
		t.Fatal("expected error for a body that cannot be rewound")
	}
	if len(base.reqs) != 1 {
		t.Errorf("calls = %d, want 1", len(base.reqs))
	}
}

func TestRetry_ContextCancelled(t *testing.T) {
	base := &scripted{failures: 9}
	c := NewClient(WithTransport(base), WithRetry(5, 5*time.Second), WithTimeout(0))

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	req, _ := http.NewRequestWithContext(ctx, http.MethodGet, "http://tools.invalid/", nil)

	start := time.Now()
	_, err := c.Do(req)
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("err = %v, want deadline exceeded", err)
	}
	if time.Since(start) > 2*time.Second {
		t.Error("retry wait ignored the context")
	}
	if len(base.reqs) != 1 {
		t.Errorf("calls = %d, want 1", len(base.reqs))
	}
}

func TestIsDialError(t *testing.T) {
	tests := []struct {
		err  error
		want bool
	}{
		{nil, false},
		{errors.New("boom"), false},
		{syscall.ECONNREFUSED, true},
		{&net.OpError{Op: "dial", Err: syscall.EHOSTUNREACH}, true},
		{&net.OpError{Op: "dial", Err: syscall.ENETUNREACH}, true},
		{syscall.ECONNRESET, false},
	}
	for _, tt := range tests {
		if got := IsDialError(tt.err); got != tt.want {
			t.Errorf("IsDialError(%v) = %v, want %v", tt.err, got, tt.want)
		}
	}
}

type brokenBody struct{ closed bool }

func (b *brokenBody) Read([]byte) (int, error) { return 0, errors.New("wire cut") }
func (b *brokenBody) Close() error             { b.closed = true; return nil }

func TestReadErrorBody(t *testing.T) {
	if got := ReadErrorBody(io.NopCloser(strings.NewReader("bad gateway")), 64); got != "bad gateway" {
		t.Errorf("got %q", got)
	}
	if got := ReadErrorBody(io.NopCloser(strings.NewReader(strings.Repeat("z", 500))), 8); got != "zzzzzzzz" {
		t.Errorf("truncated = %q", got)
	}
	if got := ReadErrorBody(nil, 64); got != "" {
		t.Errorf("nil = %q", got)
	}

	b := &brokenBody{}
	if got := ReadErrorBody(b, 64); !strings.Contains(got, "wire cut") {
		t.Errorf("broken = %q", got)
	}
	if !b.closed {
		t.Error("body not closed")
	}
}
