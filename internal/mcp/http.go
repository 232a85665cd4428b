package mcp

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/nugget/toolhost/internal/events"
	"github.com/nugget/toolhost/internal/httpkit"
)

// sessionHeader carries session affinity between requests.
const sessionHeader = "Mcp-Session"

// maxResponseBody caps how much of a response body is read.
const maxResponseBody = 10 << 20

// HTTPServer is a tool server reached over HTTP: every JSON-RPC request
// is one POST whose response body carries the envelope.
type HTTPServer struct {
	id             string
	url            string
	client         *http.Client
	logger         *slog.Logger
	bus            *events.Bus
	requestTimeout time.Duration

	nextID atomic.Uint64

	mu        sync.RWMutex
	sessionID string

	tools toolCache
}

// DialHTTP connects to the server at spec.URL, performs the handshake
// within opts.StartupTimeout and loads the tool listing.
func DialHTTP(ctx context.Context, spec ServerSpec, opts ServerOptions) (*HTTPServer, error) {
	opts = opts.withDefaults()
	if spec.URL == "" {
		return nil, fmt.Errorf("%w: %s: no url", ErrSpawn, spec.ID)
	}

	logger := opts.Logger.With("mcp_server", spec.ID)
	s := &HTTPServer{
		id:  spec.ID,
		url: spec.URL,
		client: httpkit.NewClient(
			httpkit.WithTimeout(0),
			httpkit.WithHeaders(spec.Headers),
			httpkit.WithRetry(2, 250*time.Millisecond),
			httpkit.WithLogger(logger),
		),
		logger:         logger,
		bus:            opts.Events,
		requestTimeout: opts.RequestTimeout,
	}

	hctx, cancel := context.WithTimeout(ctx, opts.StartupTimeout)
	defer cancel()
	if err := initialize(hctx, s, opts.StartupTimeout, logger); err != nil {
		if errors.Is(err, ErrCallTimeout) || (errors.Is(err, context.DeadlineExceeded) && ctx.Err() == nil) {
			return nil, fmt.Errorf("%s: %w after %s", spec.ID, ErrHandshakeTimeout, opts.StartupTimeout)
		}
		return nil, fmt.Errorf("%w: %s: initialize: %w", ErrSpawn, spec.ID, err)
	}

	if err := s.RefreshTools(ctx); err != nil {
		logger.Warn("initial tools/list failed; listing stays empty", "error", err)
	}
	s.bus.Emit(events.SourceServer, events.KindServerReady, map[string]any{
		"server_id": s.id,
		"transport": TransportHTTP,
		"tools":     len(s.tools.get()),
	})
	return s, nil
}

// ID returns the server id.
func (s *HTTPServer) ID() string {
	return s.id
}

// ListTools returns the cached tool listing.
func (s *HTTPServer) ListTools(context.Context) []Tool {
	return s.tools.get()
}

// RefreshTools replaces the cached listing with a fresh tools/list.
func (s *HTTPServer) RefreshTools(ctx context.Context) error {
	tools, err := listTools(ctx, s)
	if err != nil {
		return fmt.Errorf("tools/list: %w", err)
	}
	s.tools.set(tools)
	s.bus.Emit(events.SourceServer, events.KindToolsRefreshed, map[string]any{
		"server_id": s.id,
		"tools":     len(tools),
	})
	return nil
}

// Call sends method with params and returns the raw result.
func (s *HTTPServer) Call(ctx context.Context, method string, params any) (json.RawMessage, error) {
	return s.rpcCall(ctx, method, params, 0)
}

func (s *HTTPServer) rpcCall(ctx context.Context, method string, params any, timeout time.Duration) (json.RawMessage, error) {
	if timeout <= 0 {
		timeout = s.requestTimeout
	}
	id := strconv.FormatUint(s.nextID.Add(1)-1, 10)

	cctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	resp, err := s.post(cctx, NewRequest(StringID(id), method, params))
	if err != nil {
		if errors.Is(cctx.Err(), context.DeadlineExceeded) && ctx.Err() == nil {
			return nil, fmt.Errorf("%s after %s: %w", method, timeout, ErrCallTimeout)
		}
		if ctx.Err() != nil {
			return nil, fmt.Errorf("%s: %w", method, ctx.Err())
		}
		return nil, fmt.Errorf("%s: %w: %w", method, ErrTransportClosed, err)
	}
	defer httpkit.DrainAndClose(resp.Body, 1<<20)

	if resp.StatusCode != http.StatusOK {
		body := httpkit.ReadErrorBody(resp.Body, 1<<20)
		return nil, fmt.Errorf("%s: server returned %d: %s", method, resp.StatusCode, body)
	}

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBody))
	if err != nil {
		return nil, fmt.Errorf("%s: read response: %w", method, err)
	}
	msg, err := DecodeMessage(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", method, err)
	}
	if got := msg.IDString(); got != id {
		return nil, fmt.Errorf("%s: response id %q does not match request id %q", method, got, id)
	}
	return resultOf(method, msg)
}

func (s *HTTPServer) notify(ctx context.Context, method string, params any) error {
	resp, err := s.post(ctx, NewRequest(nil, method, params))
	if err != nil {
		return err
	}
	defer httpkit.DrainAndClose(resp.Body, 1<<20)

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusAccepted {
		body := httpkit.ReadErrorBody(resp.Body, 1<<20)
		return fmt.Errorf("server returned %d for %s: %s", resp.StatusCode, method, body)
	}
	return nil
}

// post sends one envelope, replaying and capturing the session header.
func (s *HTTPServer) post(ctx context.Context, req *Request) (*http.Response, error) {
	body, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}
	s.logger.Log(ctx, levelTrace, "request payload", "json", string(body))

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, s.url, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Accept", "application/json")

	s.mu.RLock()
	if s.sessionID != "" {
		httpReq.Header.Set(sessionHeader, s.sessionID)
	}
	s.mu.RUnlock()

	resp, err := s.client.Do(httpReq)
	if err != nil {
		return nil, err
	}
	if sid := resp.Header.Get(sessionHeader); sid != "" {
		s.mu.Lock()
		s.sessionID = sid
		s.mu.Unlock()
	}
	return resp, nil
}

// Close releases idle connections.
func (s *HTTPServer) Close() error {
	s.client.CloseIdleConnections()
	return nil
}
