package mcp

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/nugget/toolhost/internal/buildinfo"
)

// ProtocolVersion is the MCP protocol version announced in initialize.
const ProtocolVersion = "2025-06-18"

// rpcConn is the request/response primitive shared by the process and
// HTTP servers. The handshake and tool cache below are written against
// it once. A zero timeout means the server's request timeout.
type rpcConn interface {
	rpcCall(ctx context.Context, method string, params any, timeout time.Duration) (json.RawMessage, error)
	notify(ctx context.Context, method string, params any) error
}

// initializeResult is the part of the initialize response we log. The
// rest of the result is not consumed.
type initializeResult struct {
	ProtocolVersion string `json:"protocolVersion"`
	ServerInfo      struct {
		Name    string `json:"name"`
		Version string `json:"version"`
	} `json:"serverInfo"`
}

// initialize performs the MCP handshake: the initialize request, then
// the notifications/initialized notification. The request waits up to
// startup, independent of the request timeout.
func initialize(ctx context.Context, conn rpcConn, startup time.Duration, logger *slog.Logger) error {
	params := map[string]any{
		"protocolVersion": ProtocolVersion,
		"clientInfo":      buildinfo.ClientInfo(),
		"capabilities":    map[string]any{},
	}

	raw, err := conn.rpcCall(ctx, "initialize", params, startup)
	if err != nil {
		return err
	}

	var result initializeResult
	if err := json.Unmarshal(raw, &result); err == nil {
		logger.Info("tool server initialized",
			"server_name", result.ServerInfo.Name,
			"server_version", result.ServerInfo.Version,
			"protocol", result.ProtocolVersion,
		)
	}

	if err := conn.notify(ctx, "notifications/initialized", nil); err != nil {
		return fmt.Errorf("send initialized notification: %w", err)
	}
	return nil
}

// listTools fetches the server's tool listing.
func listTools(ctx context.Context, conn rpcConn) ([]Tool, error) {
	raw, err := conn.rpcCall(ctx, "tools/list", map[string]any{}, 0)
	if err != nil {
		return nil, err
	}
	var result struct {
		Tools []Tool `json:"tools"`
	}
	if err := json.Unmarshal(raw, &result); err != nil {
		return nil, fmt.Errorf("unmarshal tools/list result: %w", err)
	}
	if result.Tools == nil {
		result.Tools = []Tool{}
	}
	return result.Tools, nil
}

// toolCache holds the last successful tools/list result. It is replaced
// wholesale, never merged.
type toolCache struct {
	mu    sync.RWMutex
	tools []Tool
}

func (c *toolCache) get() []Tool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]Tool, len(c.tools))
	copy(out, c.tools)
	return out
}

func (c *toolCache) set(tools []Tool) {
	c.mu.Lock()
	c.tools = tools
	c.mu.Unlock()
}
