package fetch

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/google/jsonschema-go/jsonschema"

	"github.com/nugget/toolhost/internal/mcp"
)

// ServerID is the id the fetch server is registered under by default.
const ServerID = "fetch"

// errorPrefix starts the text of a result describing a failed fetch.
const errorPrefix = "Fetch error: "

func urlSchema() *jsonschema.Schema {
	return &jsonschema.Schema{
		Type: "object",
		Properties: map[string]*jsonschema.Schema{
			"url": {
				Type:        "string",
				Description: "The URL to fetch",
			},
			"max_chars": {
				Type:        "integer",
				Description: fmt.Sprintf("Maximum characters to return. Default: %d.", DefaultMaxChars),
			},
		},
		Required: []string{"url"},
	}
}

// NewServer wraps f as an in-process tool server. Failed fetches come
// back as ordinary results whose text begins "Fetch error:", so the
// model can read what went wrong. Fetches run concurrently.
func NewServer(f *Fetcher, logger *slog.Logger) (*mcp.Builtin, error) {
	return mcp.NewBuiltin(ServerID, logger,
		mcp.BuiltinTool{
			Name:        "fetch",
			Description: "Fetch the contents of a URL.",
			Schema:      urlSchema(),
			Concurrent:  true,
			Handler: func(ctx context.Context, args map[string]any) (*mcp.ToolResult, error) {
				url, _ := mcp.ArgString(args, "url")
				maxChars, _ := mcp.ArgInt(args, "max_chars")
				res, err := f.Fetch(ctx, url, maxChars)
				if err != nil {
					return mcp.TextResult(errorPrefix + err.Error()), nil
				}
				return mcp.TextResult(formatText(res)), nil
			},
		},
		mcp.BuiltinTool{
			Name:        "fetch_raw_html",
			Description: "Fetch the contents of a URL as raw HTML.",
			Schema:      urlSchema(),
			Concurrent:  true,
			Handler: func(ctx context.Context, args map[string]any) (*mcp.ToolResult, error) {
				url, _ := mcp.ArgString(args, "url")
				maxChars, _ := mcp.ArgInt(args, "max_chars")
				res, err := f.FetchRaw(ctx, url, maxChars)
				if err != nil {
					return mcp.TextResult(errorPrefix + err.Error()), nil
				}
				return mcp.TextResult(res.Content), nil
			},
		},
	)
}

func formatText(res *Result) string {
	var b strings.Builder
	if res.Title != "" {
		b.WriteString("# ")
		b.WriteString(res.Title)
		b.WriteString("\n\n")
	}
	b.WriteString(res.Content)
	if res.Truncated {
		fmt.Fprintf(&b, "\n\n[content truncated]")
	}
	return b.String()
}
