package story

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"html"
	"strings"

	"github.com/yuin/goldmark"

	"github.com/nugget/toolhost/internal/mcp"
)

// Export formats accepted by export_story.
const (
	FormatMarkdown   = "markdown"
	FormatPlainText  = "plain_text"
	FormatStructured = "structured"
	FormatHTML       = "html"
)

func (w *writer) export(args map[string]any) *mcp.ToolResult {
	format, ok := mcp.ArgString(args, "format")
	if !ok || format == "" {
		format = FormatMarkdown
	}
	out, err := Export(w.story, format)
	if err != nil {
		return mcp.ErrorResult(err.Error())
	}
	return mcp.TextResult(out)
}

var errInvalidFormat = errors.New("Invalid format. Use 'markdown', 'plain_text', 'structured', or 'html'.")

// Export renders s in one of the export formats.
func Export(s Story, format string) (string, error) {
	switch format {
	case FormatMarkdown:
		return Markdown(s), nil
	case FormatPlainText:
		return PlainText(s), nil
	case FormatStructured:
		s = s.Clone()
		data, err := json.MarshalIndent(s, "", "  ")
		if err != nil {
			return "", fmt.Errorf("export failed: %w", err)
		}
		return string(data), nil
	case FormatHTML:
		return HTML(s)
	}
	return "", errInvalidFormat
}

// Markdown renders the full story: metadata, plot points, characters,
// world elements, chapters and notes. Named entries appear in name order.
func Markdown(s Story) string {
	md := s.Metadata

	var b strings.Builder
	fmt.Fprintf(&b, "# %s\n\n", md.Title)
	fmt.Fprintf(&b, "**Genre:** %s\n", md.Genre)
	fmt.Fprintf(&b, "**Target Audience:** %s\n", md.TargetAudience)
	if len(md.Themes) > 0 {
		fmt.Fprintf(&b, "**Themes:** %s\n", strings.Join(md.Themes, ", "))
	}
	b.WriteString("\n")
	if md.Synopsis != "" {
		fmt.Fprintf(&b, "## Synopsis\n\n%s\n\n", md.Synopsis)
	}

	if len(s.PlotPoints) > 0 {
		b.WriteString("## Plot Points\n\n")
		writeNumbered(&b, s.PlotPoints)
		b.WriteString("\n")
	}

	if len(s.Characters) > 0 {
		b.WriteString("## Characters\n\n")
		for _, name := range s.characterNames() {
			c := s.Characters[name]
			fmt.Fprintf(&b, "### %s\n\n", name)
			writeCharacterBody(&b, c)
			if len(c.Relationships) > 0 {
				b.WriteString("\n")
			}
		}
	}

	if len(s.WorldElements) > 0 {
		b.WriteString("## World Elements\n\n")
		for _, name := range s.elementNames() {
			e := s.WorldElements[name]
			fmt.Fprintf(&b, "### %s (%s)\n\n", name, e.ElementType)
			writeProperties(&b, e)
			if len(e.Properties) > 0 {
				b.WriteString("\n")
			}
		}
	}

	if len(s.Chapters) > 0 {
		b.WriteString("## Chapters\n\n")
		for i, ch := range s.Chapters {
			fmt.Fprintf(&b, "### Chapter %d: %s\n\n", i+1, ch.Title)
			if ch.Summary != "" {
				fmt.Fprintf(&b, "**Summary:** %s\n\n", ch.Summary)
			}
			if len(ch.PlotPoints) > 0 {
				b.WriteString("**Plot Points:**\n")
				for _, p := range ch.PlotPoints {
					fmt.Fprintf(&b, "- %s\n", p)
				}
				b.WriteString("\n")
			}
			fmt.Fprintf(&b, "**Word Count:** %d\n\n", ch.WordCount)
			fmt.Fprintf(&b, "%s\n\n", ch.Content)
		}
	}

	if len(s.StoryNotes) > 0 {
		b.WriteString("## Story Notes\n\n")
		writeNumbered(&b, s.StoryNotes)
		b.WriteString("\n")
	}
	return b.String()
}

// PlainText renders the title and chapter prose only.
func PlainText(s Story) string {
	var b strings.Builder
	fmt.Fprintf(&b, "%s\n\n", s.Metadata.Title)
	for i, ch := range s.Chapters {
		fmt.Fprintf(&b, "Chapter %d: %s\n\n", i+1, ch.Title)
		fmt.Fprintf(&b, "%s\n\n", ch.Content)
	}
	return b.String()
}

// HTML renders the markdown export as a standalone HTML document.
func HTML(s Story) (string, error) {
	var buf bytes.Buffer
	if err := goldmark.Convert([]byte(Markdown(s)), &buf); err != nil {
		return "", fmt.Errorf("render html: %w", err)
	}
	return fmt.Sprintf(`<!DOCTYPE html>
<html><head><meta charset="utf-8"><title>%s</title></head>
<body>
%s
</body></html>`, html.EscapeString(s.Metadata.Title), buf.String()), nil
}
