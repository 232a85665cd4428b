package mcp

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/nugget/toolhost/internal/events"
)

// Server is what the host needs from a tool server: its cached tool
// listing and a way to send it a method call. Process-backed, HTTP and
// in-process servers all satisfy it.
type Server interface {
	ListTools(ctx context.Context) []Tool
	Call(ctx context.Context, method string, params any) (json.RawMessage, error)
}

// Refresher is implemented by servers whose listing can be reloaded.
type Refresher interface {
	RefreshTools(ctx context.Context) error
}

// SpawnFunc builds a running server from a spec.
type SpawnFunc func(ctx context.Context, spec ServerSpec, opts ServerOptions) (Server, error)

// HostConfig configures a Host.
type HostConfig struct {
	// RequestTimeout bounds every call; StartupTimeout bounds handshakes.
	RequestTimeout time.Duration
	StartupTimeout time.Duration

	Logger *slog.Logger
	Events *events.Bus

	// Spawn overrides how specs become servers. Nil uses DefaultSpawn.
	Spawn SpawnFunc
}

// DefaultSpawn starts a child process or dials an HTTP server depending
// on spec.Transport.
func DefaultSpawn(ctx context.Context, spec ServerSpec, opts ServerOptions) (Server, error) {
	if spec.transportKind() == TransportHTTP {
		return DialHTTP(ctx, spec, opts)
	}
	return Spawn(ctx, spec, opts)
}

// Host is the registry of tool servers keyed by id. Reads run
// concurrently; the lock is held only long enough to look up or insert
// a server, never across a call.
type Host struct {
	opts   ServerOptions
	logger *slog.Logger
	bus    *events.Bus
	spawn  SpawnFunc

	mu      sync.RWMutex
	servers map[string]Server
	order   []string

	// spawnMu serializes spawning so an id is started at most once.
	spawnMu sync.Mutex
}

// NewHost creates an empty host.
func NewHost(cfg HostConfig) *Host {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	spawn := cfg.Spawn
	if spawn == nil {
		spawn = DefaultSpawn
	}
	return &Host{
		opts: ServerOptions{
			RequestTimeout: cfg.RequestTimeout,
			StartupTimeout: cfg.StartupTimeout,
			Logger:         logger,
			Events:         cfg.Events,
		}.withDefaults(),
		logger:  logger,
		bus:     cfg.Events,
		spawn:   spawn,
		servers: make(map[string]Server),
	}
}

// Register inserts an already constructed server. A different server
// already registered under id is replaced and closed.
func (h *Host) Register(id string, s Server) {
	h.mu.Lock()
	old, exists := h.servers[id]
	if !exists {
		h.order = append(h.order, id)
	}
	h.servers[id] = s
	h.mu.Unlock()
	h.logger.Debug("tool server registered", "mcp_server", id, "replaced", exists)

	if !exists || old == s {
		return
	}
	if c, ok := old.(io.Closer); ok {
		if err := c.Close(); err != nil {
			h.logger.Warn("closing replaced tool server failed", "mcp_server", id, "error", err)
		}
	}
}

// AddServer spawns spec and registers it. Spawn and handshake failures
// are returned and nothing is registered.
func (h *Host) AddServer(ctx context.Context, spec ServerSpec) error {
	h.spawnMu.Lock()
	defer h.spawnMu.Unlock()
	return h.addLocked(ctx, spec)
}

// addLocked spawns and registers spec. Caller holds spawnMu.
func (h *Host) addLocked(ctx context.Context, spec ServerSpec) error {
	s, err := h.spawn(ctx, spec, h.opts)
	if err != nil {
		return err
	}
	h.Register(spec.ID, s)
	return nil
}

// SyncServers starts every enabled spec whose id is not yet registered.
// Running servers are never stopped or restarted. Each spec is attempted
// even if an earlier one fails; the failures are joined.
func (h *Host) SyncServers(ctx context.Context, specs []ServerSpec) error {
	h.spawnMu.Lock()
	defer h.spawnMu.Unlock()

	var errs []error
	for _, spec := range specs {
		if !spec.Enabled {
			continue
		}
		if h.has(spec.ID) {
			continue
		}
		if err := h.addLocked(ctx, spec); err != nil {
			h.logger.Error("failed to start tool server", "mcp_server", spec.ID, "error", err)
			errs = append(errs, fmt.Errorf("server %s: %w", spec.ID, err))
		}
	}
	return errors.Join(errs...)
}

func (h *Host) has(id string) bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	_, ok := h.servers[id]
	return ok
}

// Server returns the server registered under id.
func (h *Host) Server(id string) (Server, bool) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	s, ok := h.servers[id]
	return s, ok
}

// ServerIDs returns registered ids in registration order.
func (h *Host) ServerIDs() []string {
	h.mu.RLock()
	defer h.mu.RUnlock()
	out := make([]string, len(h.order))
	copy(out, h.order)
	return out
}

// snapshot copies the registry so it can be used without the lock.
func (h *Host) snapshot() ([]string, []Server) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	ids := make([]string, len(h.order))
	copy(ids, h.order)
	servers := make([]Server, len(ids))
	for i, id := range ids {
		servers[i] = h.servers[id]
	}
	return ids, servers
}

// ListTools collects every server's cached listing, tagged with its
// server id. Cross-server order is not guaranteed. An empty host yields
// an empty slice.
func (h *Host) ListTools(ctx context.Context) ([]ToolDescriptor, error) {
	ids, servers := h.snapshot()
	perServer := make([][]Tool, len(servers))

	g, gctx := errgroup.WithContext(ctx)
	for i, s := range servers {
		g.Go(func() error {
			perServer[i] = s.ListTools(gctx)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	out := []ToolDescriptor{}
	for i, tools := range perServer {
		for _, t := range tools {
			out = append(out, ToolDescriptor{ServerID: ids[i], Tool: t})
		}
	}
	return out, nil
}

// Invoke sends an arbitrary method to the server registered under
// serverID.
func (h *Host) Invoke(ctx context.Context, serverID, method string, params any) (json.RawMessage, error) {
	s, ok := h.Server(serverID)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownServer, serverID)
	}
	return s.Call(ctx, method, params)
}

// ToolCall invokes toolName on the server registered under serverID.
func (h *Host) ToolCall(ctx context.Context, serverID, toolName string, arguments any) (*ToolResult, error) {
	s, ok := h.Server(serverID)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownServer, serverID)
	}

	start := time.Now()
	h.bus.Emit(events.SourceHost, events.KindToolCall, map[string]any{
		"server_id": serverID,
		"tool":      toolName,
	})

	result, err := CallTool(ctx, s, toolName, arguments)

	data := map[string]any{
		"server_id":   serverID,
		"tool":        toolName,
		"ok":          err == nil && !result.IsError,
		"duration_ms": time.Since(start).Milliseconds(),
	}
	if err != nil {
		data["error"] = err.Error()
	}
	h.bus.Emit(events.SourceHost, events.KindToolDone, data)

	if err != nil {
		return nil, fmt.Errorf("%s: %w", QualifiedName(serverID, toolName), err)
	}
	return result, nil
}

// CallQualified invokes a tool addressed as "<server>--<tool>".
func (h *Host) CallQualified(ctx context.Context, name string, arguments any) (*ToolResult, error) {
	serverID, toolName, err := SplitQualifiedName(name)
	if err != nil {
		return nil, err
	}
	return h.ToolCall(ctx, serverID, toolName, arguments)
}

// RefreshTools reloads the listing of serverID. Servers whose listing
// is fixed are left alone.
func (h *Host) RefreshTools(ctx context.Context, serverID string) error {
	s, ok := h.Server(serverID)
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownServer, serverID)
	}
	r, ok := s.(Refresher)
	if !ok {
		return nil
	}
	return r.RefreshTools(ctx)
}

// Close closes every server that holds resources. Servers stay
// registered; a closed process server fails further calls.
func (h *Host) Close() error {
	ids, servers := h.snapshot()

	var errs []error
	for i, s := range servers {
		c, ok := s.(io.Closer)
		if !ok {
			continue
		}
		if err := c.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close %s: %w", ids[i], err))
		}
	}
	return errors.Join(errs...)
}
