package mcp

import (
	"encoding/json"
	"fmt"
	"strings"
)

// NameSeparator joins a server id and a tool name into the single
// function name an LLM sees.
const NameSeparator = "--"

// QualifiedName returns "<serverID>--<toolName>".
func QualifiedName(serverID, toolName string) string {
	return serverID + NameSeparator + toolName
}

// SplitQualifiedName splits a qualified name back into server id and
// tool name. The name must contain exactly one separator and both parts
// must be non-empty.
func SplitQualifiedName(name string) (serverID, toolName string, err error) {
	if strings.Count(name, NameSeparator) != 1 {
		return "", "", fmt.Errorf("%w %q: want exactly one %q separator", ErrInvalidToolName, name, NameSeparator)
	}
	serverID, toolName, _ = strings.Cut(name, NameSeparator)
	if serverID == "" || toolName == "" {
		return "", "", fmt.Errorf("%w %q: empty server or tool part", ErrInvalidToolName, name)
	}
	return serverID, toolName, nil
}

// FunctionDefinition is the OpenAI-style function tool entry sent to an
// LLM chat completion API.
type FunctionDefinition struct {
	Type     string       `json:"type"`
	Function FunctionSpec `json:"function"`
}

// FunctionSpec describes one callable function.
type FunctionSpec struct {
	Name        string          `json:"name"`
	Description string          `json:"description,omitempty"`
	Parameters  json.RawMessage `json:"parameters"`
	Strict      bool            `json:"strict"`
}

// emptyObjectSchema stands in for tools that publish no schema.
var emptyObjectSchema = json.RawMessage(`{"type":"object","properties":{}}`)

// FunctionDefinitions converts tagged tools into function definitions
// named by their qualified names.
func FunctionDefinitions(descs []ToolDescriptor) []FunctionDefinition {
	out := make([]FunctionDefinition, 0, len(descs))
	for _, d := range descs {
		params := d.Tool.InputSchema
		if len(params) == 0 || string(params) == "null" {
			params = emptyObjectSchema
		}
		out = append(out, FunctionDefinition{
			Type: "function",
			Function: FunctionSpec{
				Name:        d.QualifiedName(),
				Description: d.Tool.Description,
				Parameters:  params,
			},
		})
	}
	return out
}
