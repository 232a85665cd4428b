package toolset

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"github.com/nugget/toolhost/internal/mcp"
	"github.com/nugget/toolhost/internal/story"
)

const storyPrompt = `You are a helpful story and article writing assistant.
You have access to tools which you can call to help the user in the user's task.
For writing, you must only use provided tools.
You MUST NOT put the story in a message.
You MUST NOT put story content, like chapters or new text, in chat or messages.
Only use the tools to add them to the story.
You must understand any instructions the user gives you
and only say "OK" if you understand, or ask clarifying questions.`

const defaultStoryName = "default"

// StoryWriter pairs fetch with the creative-writing server. Its state is
// the story itself, read back through export_story.
type StoryWriter struct {
	host   *mcp.Host
	logger *slog.Logger
}

// NewStoryWriter registers fetch and the story server on host. With a
// store configured the latest snapshot is restored and every change is
// saved.
func NewStoryWriter(host *mcp.Host, opts Options) (*StoryWriter, error) {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	so := opts.Story
	name := so.Name
	if name == "" {
		name = defaultStoryName
	}

	initial := story.New(so.Title)
	var onChange func(story.Story)
	if so.Store != nil {
		snap, err := so.Store.Latest(name)
		if err != nil {
			return nil, fmt.Errorf("restore story %s: %w", name, err)
		}
		if snap != nil {
			initial = snap.Story
			logger.Info("story restored from snapshot",
				"story", name, "snapshot", snap.ID, "words", snap.Words)
		}
		onChange = func(s story.Story) {
			if _, err := so.Store.Save(name, s); err != nil {
				logger.Warn("story snapshot failed", "story", name, "error", err)
			}
		}
	}

	if err := registerFetch(host, opts); err != nil {
		return nil, err
	}
	srv, err := story.NewServer(story.Options{
		Initial:  initial,
		Logger:   logger,
		OnChange: onChange,
	})
	if err != nil {
		return nil, fmt.Errorf("story server: %w", err)
	}
	host.Register(story.ServerID, srv)

	return &StoryWriter{host: host, logger: logger}, nil
}

func (w *StoryWriter) Kind() string         { return KindStory }
func (w *StoryWriter) SystemPrompt() string { return storyPrompt }
func (w *StoryWriter) Host() *mcp.Host      { return w.host }

// State returns the structured export of the story.
func (w *StoryWriter) State(ctx context.Context) (json.RawMessage, error) {
	text, err := w.export(ctx, story.FormatStructured)
	if err != nil {
		return nil, err
	}
	if !json.Valid([]byte(text)) {
		return nil, errors.New("story state is not valid JSON")
	}
	return json.RawMessage(text), nil
}

// Markdown returns the markdown export of the story.
func (w *StoryWriter) Markdown(ctx context.Context) (string, error) {
	return w.export(ctx, story.FormatMarkdown)
}

func (w *StoryWriter) export(ctx context.Context, format string) (string, error) {
	res, err := w.host.ToolCall(ctx, story.ServerID, "export_story", map[string]any{"format": format})
	if err != nil {
		w.logger.Warn("story export failed", "format", format, "error", err)
		return "", err
	}
	if res.IsError {
		return "", fmt.Errorf("export_story %s: %s", format, res.Text())
	}
	return res.Text(), nil
}
