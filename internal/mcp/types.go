package mcp

import (
	"encoding/json"
	"sort"
	"strings"
)

// Transport kinds accepted in [ServerSpec.Transport].
const (
	TransportStdio = "stdio"
	TransportHTTP  = "http"
)

// ServerSpec is the declarative launch description for an external tool
// server. One spec yields one running instance; specs are treated as
// immutable once handed to the host.
type ServerSpec struct {
	// ID is the unique key of the server inside a host.
	ID string `json:"id"`

	// Command is the executable to spawn.
	Command string `json:"cmd"`

	// Args are passed to Command in order.
	Args []string `json:"args"`

	// Env is added on top of the host's own environment.
	Env map[string]string `json:"env,omitempty"`

	// Enabled servers are started by SyncServers. A JSON spec without an
	// "enabled" key is enabled.
	Enabled bool `json:"enabled"`

	// Transport selects stdio (default) or http.
	Transport string `json:"transport,omitempty"`

	// URL and Headers apply to http servers only.
	URL     string            `json:"url,omitempty"`
	Headers map[string]string `json:"headers,omitempty"`
}

// UnmarshalJSON decodes a spec, defaulting Enabled to true for settings
// written before the field existed.
func (s *ServerSpec) UnmarshalJSON(data []byte) error {
	type plain ServerSpec
	p := plain{Enabled: true}
	if err := json.Unmarshal(data, &p); err != nil {
		return err
	}
	*s = ServerSpec(p)
	return nil
}

// transportKind returns the normalized transport name.
func (s ServerSpec) transportKind() string {
	if strings.EqualFold(s.Transport, TransportHTTP) {
		return TransportHTTP
	}
	return TransportStdio
}

// environ renders Env as sorted KEY=VALUE pairs.
func (s ServerSpec) environ() []string {
	if len(s.Env) == 0 {
		return nil
	}
	out := make([]string, 0, len(s.Env))
	for k, v := range s.Env {
		out = append(out, k+"="+v)
	}
	sort.Strings(out)
	return out
}

// Tool is one callable operation as returned by tools/list.
type Tool struct {
	Name        string          `json:"name"`
	Description string          `json:"description,omitempty"`
	InputSchema json.RawMessage `json:"inputSchema"`
}

// ToolDescriptor associates a tool with the server that provides it.
type ToolDescriptor struct {
	ServerID string `json:"server_id"`
	Tool     Tool   `json:"tool"`
}

// QualifiedName returns the "<server_id>--<tool_name>" address.
func (d ToolDescriptor) QualifiedName() string {
	return QualifiedName(d.ServerID, d.Tool.Name)
}

// ToolResult is the result payload of a tools/call response.
type ToolResult struct {
	Content []ToolResultContent `json:"content"`
	IsError bool                `json:"isError,omitempty"`
}

// ToolResultContent is a single item in a tool result.
type ToolResultContent struct {
	Type     string          `json:"type"`
	Text     string          `json:"text,omitempty"`
	MimeType string          `json:"mimeType,omitempty"`
	Data     string          `json:"data,omitempty"` // base64
	Resource json.RawMessage `json:"resource,omitempty"`
}

// TextResult builds a result holding a single text item.
func TextResult(text string) *ToolResult {
	return &ToolResult{Content: []ToolResultContent{{Type: "text", Text: text}}}
}

// ErrorResult builds a text result flagged as a tool-level failure.
func ErrorResult(text string) *ToolResult {
	r := TextResult(text)
	r.IsError = true
	return r
}

// Text joins the text items of the result with newlines. Other item
// types are skipped.
func (r *ToolResult) Text() string {
	if r == nil {
		return ""
	}
	var parts []string
	for _, c := range r.Content {
		if c.Type == "text" {
			parts = append(parts, c.Text)
		}
	}
	return strings.Join(parts, "\n")
}
