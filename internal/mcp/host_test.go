package mcp

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sort"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/nugget/toolhost/internal/events"
)

// stubServer is a Server whose listing and replies are set by the test.
type stubServer struct {
	mu     sync.Mutex
	tools  []Tool
	next   []Tool
	calls  int
	closed bool
}

func (s *stubServer) ListTools(context.Context) []Tool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Tool(nil), s.tools...)
}

func (s *stubServer) Call(_ context.Context, method string, params any) (json.RawMessage, error) {
	s.mu.Lock()
	s.calls++
	s.mu.Unlock()
	if method != "tools/call" {
		return nil, ErrUnknownMethod
	}
	return json.Marshal(TextResult("stub"))
}

func (s *stubServer) RefreshTools(context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.tools = s.next
	return nil
}

func (s *stubServer) Close() error {
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()
	return nil
}

func quietHost(spawn SpawnFunc) *Host {
	return NewHost(HostConfig{
		Logger: slog.New(slog.NewTextHandler(io.Discard, nil)),
		Spawn:  spawn,
	})
}

func toolNames(descs []ToolDescriptor) []string {
	var out []string
	for _, d := range descs {
		out = append(out, d.QualifiedName())
	}
	sort.Strings(out)
	return out
}

func TestHost_ListToolsEmpty(t *testing.T) {
	h := quietHost(nil)
	descs, err := h.ListTools(context.Background())
	if err != nil {
		t.Fatalf("ListTools: %v", err)
	}
	if descs == nil || len(descs) != 0 {
		t.Errorf("ListTools() = %#v, want empty non-nil slice", descs)
	}
}

func TestHost_ListToolsTagsAndRefresh(t *testing.T) {
	h := quietHost(nil)
	ctx := context.Background()

	one := &stubServer{tools: []Tool{{Name: "a"}}}
	two := &stubServer{tools: []Tool{{Name: "b"}}, next: []Tool{{Name: "b"}, {Name: "c"}}}
	h.Register("one", one)
	h.Register("two", two)

	descs, err := h.ListTools(ctx)
	if err != nil {
		t.Fatalf("ListTools: %v", err)
	}
	if got := toolNames(descs); fmt.Sprint(got) != "[one--a two--b]" {
		t.Errorf("tools = %v", got)
	}

	if err := h.RefreshTools(ctx, "two"); err != nil {
		t.Fatalf("RefreshTools: %v", err)
	}
	descs, _ = h.ListTools(ctx)
	if got := toolNames(descs); fmt.Sprint(got) != "[one--a two--b two--c]" {
		t.Errorf("tools after refresh = %v", got)
	}
}

func TestHost_UnknownServer(t *testing.T) {
	var spawned atomic.Int32
	h := quietHost(func(context.Context, ServerSpec, ServerOptions) (Server, error) {
		spawned.Add(1)
		return &stubServer{}, nil
	})
	ctx := context.Background()

	if _, err := h.ToolCall(ctx, "missing", "x", map[string]any{}); !errors.Is(err, ErrUnknownServer) {
		t.Errorf("ToolCall error = %v, want ErrUnknownServer", err)
	}
	if _, err := h.Invoke(ctx, "missing", "tools/list", nil); !errors.Is(err, ErrUnknownServer) {
		t.Errorf("Invoke error = %v, want ErrUnknownServer", err)
	}
	if err := h.RefreshTools(ctx, "missing"); !errors.Is(err, ErrUnknownServer) {
		t.Errorf("RefreshTools error = %v, want ErrUnknownServer", err)
	}
	if n := spawned.Load(); n != 0 {
		t.Errorf("spawned %d servers for an unknown id", n)
	}
}

func TestHost_SyncServers(t *testing.T) {
	var mu sync.Mutex
	spawns := map[string]int{}
	h := quietHost(func(_ context.Context, spec ServerSpec, _ ServerOptions) (Server, error) {
		mu.Lock()
		defer mu.Unlock()
		spawns[spec.ID]++
		if spec.ID == "broken" {
			return nil, fmt.Errorf("%w: boom", ErrSpawn)
		}
		return &stubServer{tools: []Tool{{Name: spec.ID + "_tool"}}}, nil
	})
	ctx := context.Background()

	specs := []ServerSpec{
		{ID: "a", Command: "a", Enabled: true},
		{ID: "off", Command: "off", Enabled: false},
		{ID: "broken", Command: "broken", Enabled: true},
		{ID: "b", Command: "b", Enabled: true},
	}

	var wg sync.WaitGroup
	errs := make([]error, 2)
	for i := range 2 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			errs[i] = h.SyncServers(ctx, specs)
		}()
	}
	wg.Wait()

	for _, err := range errs {
		if !errors.Is(err, ErrSpawn) {
			t.Errorf("SyncServers error = %v, want joined ErrSpawn", err)
		}
	}
	if spawns["a"] != 1 || spawns["b"] != 1 {
		t.Errorf("spawn counts = %v, want a and b once each", spawns)
	}
	if spawns["off"] != 0 {
		t.Error("disabled spec was spawned")
	}
	if got := fmt.Sprint(h.ServerIDs()); got != "[a b]" {
		t.Errorf("ServerIDs() = %s", got)
	}
}

func TestHost_AddServerFailure(t *testing.T) {
	h := quietHost(func(context.Context, ServerSpec, ServerOptions) (Server, error) {
		return nil, fmt.Errorf("x: %w", ErrHandshakeTimeout)
	})
	err := h.AddServer(context.Background(), ServerSpec{ID: "slow", Command: "slow", Enabled: true})
	if !errors.Is(err, ErrHandshakeTimeout) {
		t.Errorf("AddServer error = %v", err)
	}
	if len(h.ServerIDs()) != 0 {
		t.Error("failed server was registered")
	}
}

func TestHost_AddServerReplacesAndCloses(t *testing.T) {
	var spawned []*stubServer
	h := quietHost(func(context.Context, ServerSpec, ServerOptions) (Server, error) {
		s := &stubServer{}
		spawned = append(spawned, s)
		return s, nil
	})
	ctx := context.Background()
	spec := ServerSpec{ID: "dup", Command: "dup", Enabled: true}

	for range 2 {
		if err := h.AddServer(ctx, spec); err != nil {
			t.Fatalf("AddServer: %v", err)
		}
	}
	if len(spawned) != 2 {
		t.Fatalf("spawned %d servers", len(spawned))
	}
	if !spawned[0].closed {
		t.Error("replaced server left running")
	}
	if spawned[1].closed {
		t.Error("current server closed")
	}
	if got := fmt.Sprint(h.ServerIDs()); got != "[dup]" {
		t.Errorf("ServerIDs() = %s", got)
	}
	if cur, _ := h.Server("dup"); cur != Server(spawned[1]) {
		t.Error("registry does not hold the newest server")
	}

	// Registering the same server again must not close it.
	h.Register("dup", spawned[1])
	if spawned[1].closed {
		t.Error("re-registering a server closed it")
	}
}

func TestHost_EchoEndToEnd(t *testing.T) {
	bus := events.New()
	sub := bus.Subscribe(8)
	defer bus.Unsubscribe(sub)

	h := NewHost(HostConfig{
		Logger: slog.New(slog.NewTextHandler(io.Discard, nil)),
		Events: bus,
	})
	h.Register("echo_srv", newEchoBuiltin(t))
	ctx := context.Background()

	descs, err := h.ListTools(ctx)
	if err != nil {
		t.Fatalf("ListTools: %v", err)
	}
	if len(descs) != 1 || descs[0].ServerID != "echo_srv" || descs[0].Tool.Name != "echo" {
		t.Fatalf("descs = %+v", descs)
	}

	res, err := h.ToolCall(ctx, "echo_srv", "echo", map[string]any{"text": "hi"})
	if err != nil {
		t.Fatalf("ToolCall: %v", err)
	}
	data, _ := json.Marshal(res)
	if string(data) != `{"content":[{"type":"text","text":"hi"}]}` {
		t.Errorf("result = %s", data)
	}

	res, err = h.CallQualified(ctx, "echo_srv--echo", json.RawMessage(`{"text":"again"}`))
	if err != nil || res.Text() != "again" {
		t.Errorf("CallQualified = %+v, %v", res, err)
	}

	var kinds []string
	timeout := time.After(time.Second)
	for len(kinds) < 2 {
		select {
		case e := <-sub:
			kinds = append(kinds, e.Kind)
		case <-timeout:
			t.Fatalf("events = %v", kinds)
		}
	}
	if kinds[0] != events.KindToolCall || kinds[1] != events.KindToolDone {
		t.Errorf("events = %v", kinds)
	}
}

func TestHost_ProcessServerViaSync(t *testing.T) {
	h := NewHost(HostConfig{
		RequestTimeout: 2 * time.Second,
		StartupTimeout: 5 * time.Second,
		Logger:         slog.New(slog.NewTextHandler(io.Discard, nil)),
	})
	defer h.Close()
	ctx := context.Background()

	if err := h.SyncServers(ctx, []ServerSpec{testServerSpec("child", "")}); err != nil {
		t.Fatalf("SyncServers: %v", err)
	}
	h.Register("echo_srv", newEchoBuiltin(t))

	descs, err := h.ListTools(ctx)
	if err != nil {
		t.Fatalf("ListTools: %v", err)
	}
	if got := fmt.Sprint(toolNames(descs)); got != "[child--echo child--env echo_srv--echo]" {
		t.Errorf("tools = %s", got)
	}

	res, err := h.ToolCall(ctx, "child", "echo", map[string]any{"text": "through the host"})
	if err != nil || res.Text() != "through the host" {
		t.Errorf("ToolCall = %+v, %v", res, err)
	}
}

func TestHost_Close(t *testing.T) {
	h := quietHost(nil)
	s := &stubServer{}
	h.Register("s", s)
	h.Register("echo", newEchoBuiltin(t))

	if err := h.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if !s.closed {
		t.Error("closable server not closed")
	}
}
