package mcp

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"

	"github.com/google/jsonschema-go/jsonschema"
)

// ToolHandler executes a built-in tool. Arguments have already been
// validated against the tool's schema. A returned error is a call
// failure; tool-level failures belong in an [ErrorResult].
type ToolHandler func(ctx context.Context, args map[string]any) (*ToolResult, error)

// MethodHandler answers a method other than tools/call.
type MethodHandler func(ctx context.Context, params json.RawMessage) (any, error)

// BuiltinTool declares one tool of an in-process server.
type BuiltinTool struct {
	Name        string
	Description string
	Schema      *jsonschema.Schema
	Handler     ToolHandler

	// Concurrent marks a handler that keeps no server state, so calls
	// to it skip the per-server serialization.
	Concurrent bool
}

type builtinEntry struct {
	tool     BuiltinTool
	resolved *jsonschema.Resolved
}

// Builtin is a tool server that runs in-process. Calls execute
// synchronously and, apart from Concurrent tools, one at a time, so
// handlers may share state without their own locking. A caller waiting
// for its turn gives up when its context ends.
type Builtin struct {
	name   string
	logger *slog.Logger

	turn    chan struct{}
	tools   []Tool
	entries map[string]builtinEntry

	mu      sync.RWMutex
	methods map[string]MethodHandler
}

// NewBuiltin assembles a server from tools. Schemas are resolved up
// front; a tool without a schema accepts any object.
func NewBuiltin(name string, logger *slog.Logger, tools ...BuiltinTool) (*Builtin, error) {
	if logger == nil {
		logger = slog.Default()
	}
	b := &Builtin{
		name:    name,
		logger:  logger.With("mcp_server", name),
		turn:    make(chan struct{}, 1),
		entries: make(map[string]builtinEntry, len(tools)),
		methods: make(map[string]MethodHandler),
	}

	for _, t := range tools {
		if _, dup := b.entries[t.Name]; dup {
			return nil, fmt.Errorf("builtin %s: duplicate tool %q", name, t.Name)
		}
		if t.Schema == nil {
			t.Schema = &jsonschema.Schema{Type: "object"}
		}
		resolved, err := t.Schema.Resolve(nil)
		if err != nil {
			return nil, fmt.Errorf("builtin %s: tool %s schema: %w", name, t.Name, err)
		}
		raw, err := json.Marshal(t.Schema)
		if err != nil {
			return nil, fmt.Errorf("builtin %s: tool %s schema: %w", name, t.Name, err)
		}
		b.entries[t.Name] = builtinEntry{tool: t, resolved: resolved}
		b.tools = append(b.tools, Tool{
			Name:        t.Name,
			Description: t.Description,
			InputSchema: raw,
		})
	}
	return b, nil
}

// Name returns the name the server was built with.
func (b *Builtin) Name() string {
	return b.name
}

// HandleMethod registers an extra method. It replaces any earlier
// handler for the same method.
func (b *Builtin) HandleMethod(method string, h MethodHandler) {
	b.mu.Lock()
	b.methods[method] = h
	b.mu.Unlock()
}

// ListTools returns the tools in declaration order.
func (b *Builtin) ListTools(context.Context) []Tool {
	out := make([]Tool, len(b.tools))
	copy(out, b.tools)
	return out
}

// Call dispatches tools/call, tools/list and registered methods. Any
// other method fails with ErrUnknownMethod.
func (b *Builtin) Call(ctx context.Context, method string, params any) (json.RawMessage, error) {
	raw, err := rawParams(params)
	if err != nil {
		return nil, err
	}

	switch method {
	case "tools/call":
		result, err := b.callTool(ctx, raw)
		if err != nil {
			return nil, err
		}
		return json.Marshal(result)
	case "tools/list":
		return json.Marshal(map[string]any{"tools": b.ListTools(ctx)})
	}

	b.mu.RLock()
	h, ok := b.methods[method]
	b.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%s: %w: %s", b.name, ErrUnknownMethod, method)
	}

	if err := b.acquire(ctx); err != nil {
		return nil, fmt.Errorf("%s: %s: %w", b.name, method, err)
	}
	defer b.release()
	out, err := h(ctx, raw)
	if err != nil {
		return nil, err
	}
	return json.Marshal(out)
}

func (b *Builtin) callTool(ctx context.Context, raw json.RawMessage) (*ToolResult, error) {
	var p struct {
		Name      string          `json:"name"`
		Arguments json.RawMessage `json:"arguments"`
	}
	if len(raw) > 0 {
		if err := json.Unmarshal(raw, &p); err != nil {
			return nil, fmt.Errorf("%s: %w: %v", b.name, ErrInvalidArguments, err)
		}
	}

	entry, ok := b.entries[p.Name]
	if !ok {
		return nil, fmt.Errorf("%s: %w: %s", b.name, ErrUnknownTool, p.Name)
	}

	args := map[string]any{}
	if a := bytes.TrimSpace(p.Arguments); len(a) > 0 && !bytes.Equal(a, []byte("null")) {
		if err := json.Unmarshal(a, &args); err != nil {
			return nil, fmt.Errorf("%s: %s: %w: arguments must be an object", b.name, p.Name, ErrInvalidArguments)
		}
	}
	if err := entry.resolved.Validate(args); err != nil {
		return nil, fmt.Errorf("%s: %s: %w: %v", b.name, p.Name, ErrInvalidArguments, err)
	}

	if !entry.tool.Concurrent {
		if err := b.acquire(ctx); err != nil {
			return nil, fmt.Errorf("%s: %s: %w", b.name, p.Name, err)
		}
		defer b.release()
	}
	b.logger.Debug("builtin tool call", "tool", p.Name, "concurrent", entry.tool.Concurrent)
	return entry.tool.Handler(ctx, args)
}

// acquire waits for the server's single execution slot.
func (b *Builtin) acquire(ctx context.Context) error {
	select {
	case b.turn <- struct{}{}:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (b *Builtin) release() {
	<-b.turn
}

// rawParams normalizes call params to raw JSON.
func rawParams(params any) (json.RawMessage, error) {
	switch p := params.(type) {
	case nil:
		return nil, nil
	case json.RawMessage:
		return p, nil
	case []byte:
		return p, nil
	}
	raw, err := json.Marshal(params)
	if err != nil {
		return nil, fmt.Errorf("marshal params: %w", err)
	}
	return raw, nil
}

// ArgString returns args[key] if it is a string.
func ArgString(args map[string]any, key string) (string, bool) {
	s, ok := args[key].(string)
	return s, ok
}

// ArgInt returns args[key] as an int when it is a whole JSON number.
func ArgInt(args map[string]any, key string) (int, bool) {
	switch v := args[key].(type) {
	case float64:
		if v != float64(int(v)) {
			return 0, false
		}
		return int(v), true
	case int:
		return v, true
	case json.Number:
		n, err := v.Int64()
		return int(n), err == nil
	}
	return 0, false
}

// ArgStrings returns the string elements of args[key] when it is an
// array. Non-string elements are skipped.
func ArgStrings(args map[string]any, key string) []string {
	list, ok := args[key].([]any)
	if !ok {
		return nil
	}
	out := make([]string, 0, len(list))
	for _, v := range list {
		if s, ok := v.(string); ok {
			out = append(out, s)
		}
	}
	return out
}
