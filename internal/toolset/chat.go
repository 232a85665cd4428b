package toolset

import (
	"context"
	"encoding/json"

	"github.com/nugget/toolhost/internal/mcp"
)

const chatPrompt = `You are a helpful assistant.
You have access to tools which you can call to help the user in the user's task.`

// Chat is the general-purpose toolset: fetch only, no document.
type Chat struct {
	host *mcp.Host
}

// NewChat registers the fetch server on host.
func NewChat(host *mcp.Host, opts Options) (*Chat, error) {
	if err := registerFetch(host, opts); err != nil {
		return nil, err
	}
	return &Chat{host: host}, nil
}

func (c *Chat) Kind() string         { return KindChat }
func (c *Chat) SystemPrompt() string { return chatPrompt }
func (c *Chat) Host() *mcp.Host      { return c.host }

// State is always JSON null.
func (c *Chat) State(context.Context) (json.RawMessage, error) {
	return json.RawMessage("null"), nil
}

// Markdown always returns ErrNoMarkdown.
func (c *Chat) Markdown(context.Context) (string, error) {
	return "", ErrNoMarkdown
}
