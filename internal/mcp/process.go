package mcp

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/nugget/toolhost/internal/events"
)

// Default timeouts applied when ServerOptions leaves them zero.
const (
	DefaultRequestTimeout = 10 * time.Second
	DefaultStartupTimeout = 10 * time.Second
)

// stopGracePeriod is how long Close waits for a child to exit after its
// stdin is closed before killing it.
const stopGracePeriod = 5 * time.Second

// ServerOptions carries the settings shared by every server the host
// constructs.
type ServerOptions struct {
	// RequestTimeout bounds every call to the server.
	RequestTimeout time.Duration

	// StartupTimeout bounds the initialize handshake.
	StartupTimeout time.Duration

	// Logger is the structured logger; a nil value uses slog.Default.
	Logger *slog.Logger

	// Events receives lifecycle and stderr events. May be nil.
	Events *events.Bus
}

func (o ServerOptions) withDefaults() ServerOptions {
	if o.RequestTimeout <= 0 {
		o.RequestTimeout = DefaultRequestTimeout
	}
	if o.StartupTimeout <= 0 {
		o.StartupTimeout = DefaultStartupTimeout
	}
	if o.Logger == nil {
		o.Logger = slog.Default()
	}
	return o
}

// ProcessServer is a tool server running as a child process and
// speaking newline-delimited JSON-RPC over its standard streams. Calls
// are correlated by id, so any number may be in flight and the child
// may answer them in any order.
type ProcessServer struct {
	id             string
	logger         *slog.Logger
	bus            *events.Bus
	requestTimeout time.Duration

	cmd       *exec.Cmd
	transport *StreamTransport

	nextID atomic.Uint64

	pendingMu sync.Mutex
	pending   map[string]chan Message
	closed    bool // set once the router has exited

	tools toolCache

	done      chan struct{}
	closeOnce sync.Once
}

// Spawn starts spec.Command, performs the initialize handshake within
// opts.StartupTimeout and loads the tool listing. The child's lifetime
// is not tied to ctx; it runs until Close or until it exits on its own.
// A failed tools/list is logged and leaves the listing empty.
func Spawn(ctx context.Context, spec ServerSpec, opts ServerOptions) (*ProcessServer, error) {
	opts = opts.withDefaults()
	logger := opts.Logger.With("mcp_server", spec.ID)

	if spec.Command == "" {
		return nil, fmt.Errorf("%w: %s: no command", ErrSpawn, spec.ID)
	}

	logger.Info("starting tool server", "command", spec.Command, "args", spec.Args)

	cmd := exec.Command(spec.Command, spec.Args...)
	cmd.Env = append(os.Environ(), spec.environ()...)

	stdin, err := cmd.StdinPipe()
	if err != nil {
		return nil, fmt.Errorf("%w: %s: stdin pipe: %w", ErrSpawn, spec.ID, err)
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		stdin.Close()
		return nil, fmt.Errorf("%w: %s: stdout pipe: %w", ErrSpawn, spec.ID, err)
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		stdin.Close()
		stdout.Close()
		return nil, fmt.Errorf("%w: %s: stderr pipe: %w", ErrSpawn, spec.ID, err)
	}
	if err := cmd.Start(); err != nil {
		stdin.Close()
		stdout.Close()
		stderr.Close()
		return nil, fmt.Errorf("%w: %s: %w", ErrSpawn, spec.ID, err)
	}
	logger.Info("tool server process started", "pid", cmd.Process.Pid)

	s := newProcessServer(spec.ID, NewStreamTransport(stdin, stdout, stderr, logger), cmd, opts)
	if err := s.start(ctx, opts.StartupTimeout); err != nil {
		s.Close()
		return nil, err
	}
	return s, nil
}

// newProcessServer wires a server around an existing transport and
// starts its router. cmd may be nil when the remote end is not a child
// process.
func newProcessServer(id string, t *StreamTransport, cmd *exec.Cmd, opts ServerOptions) *ProcessServer {
	opts = opts.withDefaults()
	s := &ProcessServer{
		id:             id,
		logger:         opts.Logger.With("mcp_server", id),
		bus:            opts.Events,
		requestTimeout: opts.RequestTimeout,
		cmd:            cmd,
		transport:      t,
		pending:        make(map[string]chan Message),
		done:           make(chan struct{}),
	}
	go s.route(t.Inbound())
	return s
}

// start runs the handshake and the first tool listing.
func (s *ProcessServer) start(ctx context.Context, startup time.Duration) error {
	hctx, cancel := context.WithTimeout(ctx, startup)
	defer cancel()

	if err := initialize(hctx, s, startup, s.logger); err != nil {
		if errors.Is(err, ErrCallTimeout) || (errors.Is(err, context.DeadlineExceeded) && ctx.Err() == nil) {
			return fmt.Errorf("%s: %w after %s", s.id, ErrHandshakeTimeout, startup)
		}
		return fmt.Errorf("%w: %s: initialize: %w", ErrSpawn, s.id, err)
	}

	if err := s.RefreshTools(ctx); err != nil {
		s.logger.Warn("initial tools/list failed; listing stays empty", "error", err)
	}

	s.bus.Emit(events.SourceServer, events.KindServerReady, map[string]any{
		"server_id": s.id,
		"transport": TransportStdio,
		"tools":     len(s.tools.get()),
	})
	return nil
}

// ID returns the server id.
func (s *ProcessServer) ID() string {
	return s.id
}

// ListTools returns the cached tool listing.
func (s *ProcessServer) ListTools(context.Context) []Tool {
	return s.tools.get()
}

// RefreshTools replaces the cached listing with a fresh tools/list. On
// failure the previous listing is kept.
func (s *ProcessServer) RefreshTools(ctx context.Context) error {
	tools, err := listTools(ctx, s)
	if err != nil {
		return fmt.Errorf("tools/list: %w", err)
	}
	s.tools.set(tools)
	s.logger.Debug("tool listing refreshed", "count", len(tools))
	s.bus.Emit(events.SourceServer, events.KindToolsRefreshed, map[string]any{
		"server_id": s.id,
		"tools":     len(tools),
	})
	return nil
}

// Call sends method with params and returns the raw result.
func (s *ProcessServer) Call(ctx context.Context, method string, params any) (json.RawMessage, error) {
	return s.rpcCall(ctx, method, params, 0)
}

func (s *ProcessServer) rpcCall(ctx context.Context, method string, params any, timeout time.Duration) (json.RawMessage, error) {
	if timeout <= 0 {
		timeout = s.requestTimeout
	}
	id := strconv.FormatUint(s.nextID.Add(1)-1, 10)
	ch := make(chan Message, 1)

	s.pendingMu.Lock()
	if s.closed {
		s.pendingMu.Unlock()
		return nil, fmt.Errorf("%s: %w", method, ErrTransportClosed)
	}
	s.pending[id] = ch
	s.pendingMu.Unlock()
	defer s.forget(id)

	if err := s.transport.Send(NewRequest(StringID(id), method, params)); err != nil {
		return nil, fmt.Errorf("%s: %w: %w", method, ErrTransportClosed, err)
	}
	s.logger.Debug("request sent", "id", id, "method", method)

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case msg, ok := <-ch:
		if !ok {
			return nil, fmt.Errorf("%s: %w", method, ErrTransportClosed)
		}
		return resultOf(method, msg)
	case <-timer.C:
		return nil, fmt.Errorf("%s after %s: %w", method, timeout, ErrCallTimeout)
	case <-ctx.Done():
		return nil, fmt.Errorf("%s: %w", method, ctx.Err())
	}
}

func (s *ProcessServer) notify(_ context.Context, method string, params any) error {
	return s.transport.Send(NewRequest(nil, method, params))
}

// resultOf turns the envelope answering a call into its result or error.
func resultOf(method string, msg Message) (json.RawMessage, error) {
	switch {
	case msg.Success != nil:
		return msg.Success.Result, nil
	case msg.Error != nil:
		return nil, fmt.Errorf("%s: %w", method, msg.Error.Error)
	default:
		return nil, fmt.Errorf("%s: %w", method, ErrUnexpectedRequest)
	}
}

// forget drops the pending entry for id if it is still present.
func (s *ProcessServer) forget(id string) {
	s.pendingMu.Lock()
	delete(s.pending, id)
	s.pendingMu.Unlock()
}

// route drains the inbound queue until both streams end.
func (s *ProcessServer) route(q *Inbound) {
	defer s.shutdown()

	ctx := context.Background()
	for {
		line, err := q.Next(ctx)
		if err != nil {
			return
		}

		if line.Source == SourceStderr {
			s.logger.Debug("tool server stderr", "line", string(line.Text))
			s.bus.Emit(events.SourceServer, events.KindServerStderr, map[string]any{
				"server_id": s.id,
				"line":      string(line.Text),
			})
			continue
		}

		s.logger.Log(ctx, levelTrace, "stdout line", "line", string(line.Text))
		msg, err := DecodeMessage(line.Text)
		if err != nil {
			s.logger.Debug("discarding non-protocol stdout line", "line", string(line.Text))
			continue
		}
		s.deliver(msg)
	}
}

// deliver completes the caller waiting on msg's id.
func (s *ProcessServer) deliver(msg Message) {
	id := msg.IDString()

	s.pendingMu.Lock()
	ch, ok := s.pending[id]
	delete(s.pending, id)
	s.pendingMu.Unlock()

	if !ok {
		s.logger.Debug("discarding message with no waiting caller", "id", id)
		return
	}
	ch <- msg
}

// shutdown fails every waiting caller, reaps the child and marks the
// server closed.
func (s *ProcessServer) shutdown() {
	s.pendingMu.Lock()
	s.closed = true
	for id, ch := range s.pending {
		close(ch)
		delete(s.pending, id)
	}
	s.pendingMu.Unlock()

	var exitErr error
	if s.cmd != nil {
		exitErr = s.cmd.Wait()
	}
	if exitErr != nil {
		s.logger.Info("tool server exited", "error", exitErr)
	} else {
		s.logger.Info("tool server exited")
	}

	data := map[string]any{"server_id": s.id}
	if exitErr != nil {
		data["error"] = exitErr.Error()
	}
	s.bus.Emit(events.SourceServer, events.KindServerExit, data)
	close(s.done)
}

// Done is closed once the server's streams have ended.
func (s *ProcessServer) Done() <-chan struct{} {
	return s.done
}

// Close closes the child's stdin and waits for it to exit, killing it
// after a grace period.
func (s *ProcessServer) Close() error {
	s.closeOnce.Do(func() {
		s.logger.Info("stopping tool server")
		if err := s.transport.Close(); err != nil && !errors.Is(err, os.ErrClosed) {
			s.logger.Debug("closing stdin", "error", err)
		}
		if s.cmd == nil || s.cmd.Process == nil {
			return
		}
		select {
		case <-s.done:
			return
		case <-time.After(stopGracePeriod):
		}
		s.logger.Warn("tool server did not exit gracefully, killing", "pid", s.cmd.Process.Pid)
		_ = s.cmd.Process.Kill()
		select {
		case <-s.done:
		case <-time.After(stopGracePeriod):
			s.logger.Warn("tool server streams still open after kill")
		}
	})
	return nil
}

var _ io.Closer = (*ProcessServer)(nil)
