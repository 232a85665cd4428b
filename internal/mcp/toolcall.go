package mcp

import (
	"context"
	"encoding/json"
	"fmt"
)

// toolCallParams is the params object of a tools/call request.
type toolCallParams struct {
	Name      string `json:"name"`
	Arguments any    `json:"arguments"`
}

// CallTool invokes the named tool on s and decodes the result. A nil
// arguments value is sent as an empty object.
func CallTool(ctx context.Context, s Server, name string, arguments any) (*ToolResult, error) {
	if raw, ok := arguments.(json.RawMessage); arguments == nil || (ok && len(raw) == 0) {
		arguments = map[string]any{}
	}
	raw, err := s.Call(ctx, "tools/call", toolCallParams{Name: name, Arguments: arguments})
	if err != nil {
		return nil, err
	}
	var result ToolResult
	if err := json.Unmarshal(raw, &result); err != nil {
		return nil, fmt.Errorf("tools/call %s: decode result: %w", name, err)
	}
	return &result, nil
}
