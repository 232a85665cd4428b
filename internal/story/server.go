package story

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/google/jsonschema-go/jsonschema"

	"github.com/nugget/toolhost/internal/mcp"
)

// ServerID is the id the story server is registered under by default.
const ServerID = "creative_writer"

// StateMethod is the extra method that returns the whole story as JSON.
const StateMethod = "get_state"

// Options configures a story server.
type Options struct {
	// Initial seeds the server. A zero Story starts empty.
	Initial Story

	Logger *slog.Logger

	// OnChange receives a deep copy of the story after every successful
	// mutating tool call. It runs while the server is locked and must not
	// call back into the server.
	OnChange func(Story)
}

// writer owns the story. Its methods are only invoked by the builtin
// server, which serializes them.
type writer struct {
	story    Story
	onChange func(Story)
	logger   *slog.Logger
}

type toolFunc func(args map[string]any) *mcp.ToolResult

type toolDef struct {
	name        string
	description string
	schema      *jsonschema.Schema
	mutates     bool
	fn          toolFunc
}

// NewServer builds the creative-writing tool server.
func NewServer(opts Options) (*mcp.Builtin, error) {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	w := &writer{
		story:    opts.Initial.Clone(),
		onChange: opts.OnChange,
		logger:   logger,
	}

	defs := w.tools()
	tools := make([]mcp.BuiltinTool, 0, len(defs))
	for _, d := range defs {
		tools = append(tools, mcp.BuiltinTool{
			Name:        d.name,
			Description: d.description,
			Schema:      d.schema,
			Handler:     w.handler(d),
		})
	}

	b, err := mcp.NewBuiltin(ServerID, logger, tools...)
	if err != nil {
		return nil, err
	}
	b.HandleMethod(StateMethod, func(context.Context, json.RawMessage) (any, error) {
		return w.story.Clone(), nil
	})
	return b, nil
}

func (w *writer) handler(d toolDef) mcp.ToolHandler {
	return func(_ context.Context, args map[string]any) (*mcp.ToolResult, error) {
		res := d.fn(args)
		if d.mutates && !res.IsError && w.onChange != nil {
			w.onChange(w.story.Clone())
		}
		return res, nil
	}
}

// DecodeState parses the result of a get_state call.
func DecodeState(raw json.RawMessage) (Story, error) {
	var s Story
	if err := json.Unmarshal(raw, &s); err != nil {
		return Story{}, fmt.Errorf("decode story state: %w", err)
	}
	s.normalize()
	return s, nil
}

func object(required []string, props map[string]*jsonschema.Schema) *jsonschema.Schema {
	if props == nil {
		props = map[string]*jsonschema.Schema{}
	}
	return &jsonschema.Schema{Type: "object", Properties: props, Required: required}
}

func str(desc string) *jsonschema.Schema {
	return &jsonschema.Schema{Type: "string", Description: desc}
}

func integer(desc string) *jsonschema.Schema {
	return &jsonschema.Schema{Type: "integer", Description: desc}
}

func strList(desc string) *jsonschema.Schema {
	return &jsonschema.Schema{Type: "array", Items: &jsonschema.Schema{Type: "string"}, Description: desc}
}

func (w *writer) tools() []toolDef {
	return []toolDef{
		// Story structure
		{
			name:        "update_story_metadata",
			description: "Update story metadata including title, genre, themes, target audience, and synopsis.",
			schema: object(nil, map[string]*jsonschema.Schema{
				"title":           str("Story title"),
				"genre":           str("Story genre"),
				"themes":          strList("Story themes"),
				"target_audience": str("Target audience"),
				"synopsis":        str("Story synopsis"),
			}),
			mutates: true,
			fn:      w.updateMetadata,
		},
		{
			name:        "create_chapter",
			description: "Create a new chapter with title, content, and metadata.",
			schema: object([]string{"title", "content"}, map[string]*jsonschema.Schema{
				"title":       str("Chapter title"),
				"content":     str("Chapter content"),
				"summary":     str("Chapter summary"),
				"plot_points": strList("Key plot points in this chapter"),
				"position":    integer("Position to insert chapter (0-based index, optional - defaults to end)"),
			}),
			mutates: true,
			fn:      w.createChapter,
		},
		{
			name:        "update_chapter",
			description: "Update an existing chapter's content, title, summary, or plot points.",
			schema: object([]string{"chapter_index"}, map[string]*jsonschema.Schema{
				"chapter_index": integer("Chapter index (0-based)"),
				"title":         str("Updated chapter title"),
				"content":       str("Updated chapter content"),
				"summary":       str("Updated chapter summary"),
				"plot_points":   strList("Updated plot points for this chapter"),
			}),
			mutates: true,
			fn:      w.updateChapter,
		},
		{
			name:        "append_to_chapter",
			description: "Append content to an existing chapter without replacing existing content.",
			schema: object([]string{"chapter_index", "content"}, map[string]*jsonschema.Schema{
				"chapter_index": integer("Chapter index (0-based)"),
				"content":       str("Content to append to the chapter"),
				"separator":     str("Text to insert between existing and new content. Default: two newlines."),
			}),
			mutates: true,
			fn:      w.appendToChapter,
		},
		{
			name:        "delete_chapter",
			description: "Delete a chapter by its index.",
			schema: object([]string{"chapter_index"}, map[string]*jsonschema.Schema{
				"chapter_index": integer("Chapter index to delete (0-based)"),
			}),
			mutates: true,
			fn:      w.deleteChapter,
		},
		{
			name:        "move_chapter",
			description: "Move a chapter to a different position in the story.",
			schema: object([]string{"from_index", "to_index"}, map[string]*jsonschema.Schema{
				"from_index": integer("Current chapter index (0-based)"),
				"to_index":   integer("Target position index (0-based)"),
			}),
			mutates: true,
			fn:      w.moveChapter,
		},
		{
			name:        "get_chapter",
			description: "Get detailed information about a specific chapter.",
			schema: object([]string{"chapter_index"}, map[string]*jsonschema.Schema{
				"chapter_index": integer("Chapter index (0-based)"),
			}),
			fn: w.getChapter,
		},
		{
			name:        "list_chapters",
			description: "List all chapters with basic information (titles, word counts, summaries).",
			schema:      object(nil, nil),
			fn:          w.listChapters,
		},
		{
			name:        "get_story_outline",
			description: "Get the complete story structure including chapters, word counts, and summaries.",
			schema:      object(nil, nil),
			fn:          w.outline,
		},
		{
			name:        "get_story_statistics",
			description: "Get story statistics including total word count, chapter count, character count, and reading time estimate.",
			schema:      object(nil, nil),
			fn:          w.statistics,
		},

		// Characters
		{
			name:        "create_character",
			description: "Create a new character with detailed profile including traits, backstory, and goals.",
			schema: object([]string{"name", "description"}, map[string]*jsonschema.Schema{
				"name":        str("Character name"),
				"description": str("Physical and personality description"),
				"traits":      strList("Character traits"),
				"backstory":   str("Character backstory"),
				"goals":       str("Character goals and motivations"),
			}),
			mutates: true,
			fn:      w.createCharacter,
		},
		{
			name:        "update_character",
			description: "Update an existing character's details.",
			schema: object([]string{"name"}, map[string]*jsonschema.Schema{
				"name":        str("Character name"),
				"description": str("Updated description"),
				"traits":      strList("Updated traits"),
				"backstory":   str("Updated backstory"),
				"goals":       str("Updated goals"),
			}),
			mutates: true,
			fn:      w.updateCharacter,
		},
		{
			name:        "add_character_relationship",
			description: "Add or update a relationship between two characters.",
			schema: object([]string{"character1", "character2", "relationship"}, map[string]*jsonschema.Schema{
				"character1":   str("First character name"),
				"character2":   str("Second character name"),
				"relationship": str("Description of their relationship"),
			}),
			mutates: true,
			fn:      w.addRelationship,
		},
		{
			name:        "get_character_details",
			description: "Get detailed information about a specific character.",
			schema: object([]string{"name"}, map[string]*jsonschema.Schema{
				"name": str("Character name"),
			}),
			fn: w.characterDetails,
		},
		{
			name:        "list_characters",
			description: "List all characters with basic information.",
			schema:      object(nil, nil),
			fn:          w.listCharacters,
		},

		// World-building
		{
			name:        "create_world_element",
			description: "Create a world-building element such as a location, culture, historical event, or magic system.",
			schema: object([]string{"name", "element_type", "description"}, map[string]*jsonschema.Schema{
				"name":         str("Element name"),
				"element_type": str("Type: location, culture, history, magic_system, technology, etc."),
				"description":  str("Detailed description"),
				"properties": {
					Type:        "object",
					Description: "Additional properties as key-value pairs",
				},
			}),
			mutates: true,
			fn:      w.createWorldElement,
		},
		{
			name:        "get_world_element",
			description: "Get details about a specific world element.",
			schema: object([]string{"name"}, map[string]*jsonschema.Schema{
				"name": str("Element name"),
			}),
			fn: w.worldElement,
		},
		{
			name:        "list_world_elements",
			description: "List all world elements, optionally filtered by type.",
			schema: object(nil, map[string]*jsonschema.Schema{
				"element_type": str("Filter by element type (optional)"),
			}),
			fn: w.listWorldElements,
		},

		// Plot and analysis
		{
			name:        "add_plot_point",
			description: "Add a major plot point or story event.",
			schema: object([]string{"plot_point"}, map[string]*jsonschema.Schema{
				"plot_point": str("Description of the plot point"),
			}),
			mutates: true,
			fn:      w.addPlotPoint,
		},
		{
			name:        "analyze_story_structure",
			description: "Analyze the current story structure and provide feedback on narrative arc.",
			schema:      object(nil, nil),
			fn:          w.analyzeStructure,
		},
		{
			name:        "analyze_chapter_content",
			description: "Analyze a specific chapter for pacing, style, and narrative elements.",
			schema: object([]string{"chapter_index"}, map[string]*jsonschema.Schema{
				"chapter_index": integer("Chapter index (0-based)"),
			}),
			fn: w.analyzeChapter,
		},
		{
			name:        "suggest_character_development",
			description: "Suggest character development opportunities based on current story.",
			schema: object(nil, map[string]*jsonschema.Schema{
				"character_name": str("Character to analyze (optional)"),
			}),
			fn: w.suggestCharacterDevelopment,
		},

		// Notes and export
		{
			name:        "add_story_note",
			description: "Add a note or reminder about the story.",
			schema: object([]string{"note"}, map[string]*jsonschema.Schema{
				"note": str("Note content"),
			}),
			mutates: true,
			fn:      w.addNote,
		},
		{
			name:        "get_story_notes",
			description: "Get all story notes.",
			schema:      object(nil, nil),
			fn:          w.notes,
		},
		{
			name:        "export_story",
			description: "Export the complete story in a formatted structure.",
			schema: object(nil, map[string]*jsonschema.Schema{
				"format": {
					Type:        "string",
					Description: "Export format: 'markdown', 'plain_text', 'structured', or 'html'. Default: markdown.",
				},
			}),
			fn: w.export,
		},
	}
}
