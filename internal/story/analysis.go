package story

import (
	"fmt"
	"sort"
	"strings"

	"github.com/nugget/toolhost/internal/mcp"
)

func (w *writer) analyzeStructure(map[string]any) *mcp.ToolResult {
	s := w.story
	chapters := len(s.Chapters)
	total := s.TotalWords()
	avg := 0
	if chapters > 0 {
		avg = total / chapters
	}

	var b strings.Builder
	b.WriteString("# Story Structure Analysis\n\n")

	b.WriteString("**Structure Overview:**\n")
	fmt.Fprintf(&b, "- Chapters: %d\n", chapters)
	fmt.Fprintf(&b, "- Total Words: %d\n", total)
	fmt.Fprintf(&b, "- Average Chapter Length: %d words\n\n", avg)

	b.WriteString("**Plot Development:**\n")
	fmt.Fprintf(&b, "- Major Plot Points: %d\n", len(s.PlotPoints))
	if len(s.PlotPoints) > 0 {
		b.WriteString("- Plot Points:\n")
		for i, p := range s.PlotPoints {
			fmt.Fprintf(&b, "  %d. %s\n", i+1, p)
		}
	}
	b.WriteString("\n")

	withGoals, withBackstory := 0, 0
	for _, c := range s.Characters {
		if c.Goals != "" {
			withGoals++
		}
		if c.Backstory != "" {
			withBackstory++
		}
	}
	b.WriteString("**Character Development:**\n")
	fmt.Fprintf(&b, "- Total Characters: %d\n", len(s.Characters))
	fmt.Fprintf(&b, "- Characters with defined goals: %d\n", withGoals)
	fmt.Fprintf(&b, "- Characters with backstory: %d\n\n", withBackstory)

	b.WriteString("**World-building:**\n")
	fmt.Fprintf(&b, "- World Elements: %d\n", len(s.WorldElements))
	if types := elementTypes(s); len(types) > 0 {
		fmt.Fprintf(&b, "- Element Types: %s\n", strings.Join(types, ", "))
	}
	return mcp.TextResult(b.String())
}

// elementTypes returns the distinct world element types in sorted order.
func elementTypes(s Story) []string {
	seen := map[string]bool{}
	var out []string
	for _, e := range s.WorldElements {
		if !seen[e.ElementType] {
			seen[e.ElementType] = true
			out = append(out, e.ElementType)
		}
	}
	sort.Strings(out)
	return out
}

func (w *writer) analyzeChapter(args map[string]any) *mcp.ToolResult {
	idx, ok := w.chapterIndex(args, "chapter_index")
	if !ok {
		return w.outOfRange("Chapter", idx)
	}
	ch := w.story.Chapters[idx]

	sentences := strings.Count(ch.Content, ".") + 1
	paragraphs := 0
	for _, line := range strings.Split(ch.Content, "\n") {
		if strings.TrimSpace(line) != "" {
			paragraphs++
		}
	}
	perParagraph := 0
	if paragraphs > 0 {
		perParagraph = ch.WordCount / paragraphs
	}

	var b strings.Builder
	fmt.Fprintf(&b, "# Chapter Analysis: %s\n\n", ch.Title)
	b.WriteString("**Basic Metrics:**\n")
	fmt.Fprintf(&b, "- Word Count: %d\n", ch.WordCount)
	fmt.Fprintf(&b, "- Estimated Reading Time: %d minutes\n", readingMinutes(ch.WordCount))
	fmt.Fprintf(&b, "- Sentences: ~%d\n", sentences)
	fmt.Fprintf(&b, "- Paragraphs: %d\n", paragraphs)
	fmt.Fprintf(&b, "- Average Words per Paragraph: %d\n\n", perParagraph)

	if len(ch.PlotPoints) > 0 {
		b.WriteString("**Plot Points in this Chapter:**\n")
		for _, p := range ch.PlotPoints {
			fmt.Fprintf(&b, "- %s\n", p)
		}
		b.WriteString("\n")
	}
	if ch.Summary != "" {
		fmt.Fprintf(&b, "**Summary:** %s\n", ch.Summary)
	}
	return mcp.TextResult(b.String())
}

func (w *writer) suggestCharacterDevelopment(args map[string]any) *mcp.ToolResult {
	var b strings.Builder
	b.WriteString("# Character Development Suggestions\n\n")

	if name, ok := mcp.ArgString(args, "character_name"); ok && name != "" {
		c, found := w.story.Characters[name]
		if !found {
			return characterNotFound(name)
		}
		fmt.Fprintf(&b, "## Suggestions for %s\n\n", name)
		if c.Goals == "" {
			b.WriteString("- **Define Goals:** Consider adding specific goals and motivations for this character.\n")
		}
		if c.Backstory == "" {
			b.WriteString("- **Develop Backstory:** Add background information that explains their current situation and personality.\n")
		}
		if len(c.Traits) == 0 {
			b.WriteString("- **Add Traits:** Define personality traits that make this character unique.\n")
		}
		if len(c.Relationships) == 0 {
			b.WriteString("- **Build Relationships:** Establish connections with other characters in the story.\n")
		}
		return mcp.TextResult(b.String())
	}

	b.WriteString("## General Character Development Opportunities\n\n")

	var incomplete, loners []string
	for _, name := range w.story.characterNames() {
		c := w.story.Characters[name]
		var needs []string
		if c.Goals == "" {
			needs = append(needs, "goals")
		}
		if c.Backstory == "" {
			needs = append(needs, "backstory")
		}
		if len(c.Traits) == 0 {
			needs = append(needs, "traits")
		}
		if len(needs) > 0 {
			incomplete = append(incomplete, fmt.Sprintf("- **%s:** %s\n", name, strings.Join(needs, ", ")))
		}
		if len(c.Relationships) == 0 {
			loners = append(loners, name)
		}
	}

	if len(incomplete) > 0 {
		b.WriteString("**Characters needing development:**\n")
		for _, line := range incomplete {
			b.WriteString(line)
		}
		b.WriteString("\n")
	}
	if len(loners) > 0 {
		b.WriteString("**Characters without relationships:**\n")
		for _, name := range loners {
			fmt.Fprintf(&b, "- %s\n", name)
		}
	}
	return mcp.TextResult(b.String())
}
