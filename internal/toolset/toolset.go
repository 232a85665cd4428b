// Package toolset assembles ready-made hosts: a tool host populated with
// a fixed set of built-in servers plus the system prompt and state views
// that go with them.
package toolset

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"github.com/nugget/toolhost/internal/fetch"
	"github.com/nugget/toolhost/internal/mcp"
	"github.com/nugget/toolhost/internal/story"
)

// Toolset kinds accepted by [New].
const (
	KindChat  = "chat"
	KindStory = "story"
)

// ErrNoMarkdown is returned by Markdown for toolsets without a document.
var ErrNoMarkdown = errors.New("toolset has no markdown representation")

// Toolset is a host plus the prompt and state views an LLM client needs.
type Toolset interface {
	// Kind returns the toolset kind.
	Kind() string

	// SystemPrompt is sent to the model at the start of a conversation.
	SystemPrompt() string

	// Host returns the host the toolset's servers are registered on.
	Host() *mcp.Host

	// State returns the toolset's document as JSON, or JSON null when it
	// has none.
	State(ctx context.Context) (json.RawMessage, error)

	// Markdown renders the document, or returns ErrNoMarkdown.
	Markdown(ctx context.Context) (string, error)
}

// Options configures toolset construction.
type Options struct {
	Fetcher *fetch.Fetcher
	Logger  *slog.Logger

	// Story applies to the story toolset only.
	Story StoryOptions
}

// StoryOptions configures the story writer.
type StoryOptions struct {
	// Name keys snapshots in Store. Defaults to "default".
	Name string

	// Title seeds a new story when no snapshot exists.
	Title string

	// Store, when set, restores the latest snapshot on start and records
	// a new snapshot after every change.
	Store *story.Store
}

// New builds the toolset of the given kind on host.
func New(kind string, host *mcp.Host, opts Options) (Toolset, error) {
	switch kind {
	case KindChat, "":
		return NewChat(host, opts)
	case KindStory:
		return NewStoryWriter(host, opts)
	}
	return nil, fmt.Errorf("unknown toolset %q", kind)
}

func registerFetch(host *mcp.Host, opts Options) error {
	f := opts.Fetcher
	if f == nil {
		f = fetch.New(fetch.Config{Logger: opts.Logger})
	}
	srv, err := fetch.NewServer(f, opts.Logger)
	if err != nil {
		return fmt.Errorf("fetch server: %w", err)
	}
	host.Register(fetch.ServerID, srv)
	return nil
}
