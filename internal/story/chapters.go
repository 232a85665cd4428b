package story

import (
	"fmt"
	"slices"
	"strings"

	"github.com/nugget/toolhost/internal/mcp"
)

const defaultChapterTitle = "Untitled Chapter"

func (w *writer) outOfRange(label string, idx int) *mcp.ToolResult {
	return mcp.ErrorResult(fmt.Sprintf("%s index %d is out of range. Story has %d chapters.",
		label, idx, len(w.story.Chapters)))
}

// chapterIndex reads an index argument and reports whether it names an
// existing chapter.
func (w *writer) chapterIndex(args map[string]any, key string) (int, bool) {
	idx, _ := mcp.ArgInt(args, key)
	return idx, idx >= 0 && idx < len(w.story.Chapters)
}

func (w *writer) updateMetadata(args map[string]any) *mcp.ToolResult {
	md := &w.story.Metadata
	if v, ok := mcp.ArgString(args, "title"); ok {
		md.Title = v
	}
	if v, ok := mcp.ArgString(args, "genre"); ok {
		md.Genre = v
	}
	if _, ok := args["themes"]; ok {
		md.Themes = mcp.ArgStrings(args, "themes")
	}
	if v, ok := mcp.ArgString(args, "target_audience"); ok {
		md.TargetAudience = v
	}
	if v, ok := mcp.ArgString(args, "synopsis"); ok {
		md.Synopsis = v
	}
	return mcp.TextResult("Story metadata updated successfully.")
}

func (w *writer) createChapter(args map[string]any) *mcp.ToolResult {
	title, ok := mcp.ArgString(args, "title")
	if !ok {
		title = defaultChapterTitle
	}
	content, _ := mcp.ArgString(args, "content")
	summary, _ := mcp.ArgString(args, "summary")
	plotPoints := mcp.ArgStrings(args, "plot_points")
	if plotPoints == nil {
		plotPoints = []string{}
	}

	ch := Chapter{
		Title:      title,
		Content:    content,
		Summary:    summary,
		WordCount:  countWords(content),
		PlotPoints: plotPoints,
	}

	pos := len(w.story.Chapters)
	if p, ok := mcp.ArgInt(args, "position"); ok && p >= 0 && p <= len(w.story.Chapters) {
		pos = p
	}
	w.story.Chapters = slices.Insert(w.story.Chapters, pos, ch)

	return mcp.TextResult(fmt.Sprintf("Chapter '%s' created successfully with %d words at position %d.",
		title, ch.WordCount, pos))
}

func (w *writer) updateChapter(args map[string]any) *mcp.ToolResult {
	idx, ok := w.chapterIndex(args, "chapter_index")
	if !ok {
		return w.outOfRange("Chapter", idx)
	}

	ch := &w.story.Chapters[idx]
	var updated []string
	if v, ok := mcp.ArgString(args, "title"); ok {
		ch.Title = v
		updated = append(updated, "title")
	}
	if v, ok := mcp.ArgString(args, "content"); ok {
		ch.Content = v
		ch.WordCount = countWords(v)
		updated = append(updated, "content")
	}
	if v, ok := mcp.ArgString(args, "summary"); ok {
		ch.Summary = v
		updated = append(updated, "summary")
	}
	if _, ok := args["plot_points"]; ok {
		ch.PlotPoints = mcp.ArgStrings(args, "plot_points")
		updated = append(updated, "plot_points")
	}

	if len(updated) == 0 {
		return mcp.ErrorResult("No fields provided to update.")
	}
	return mcp.TextResult(fmt.Sprintf("Chapter %d '%s' updated successfully. Updated fields: %s",
		idx, ch.Title, strings.Join(updated, ", ")))
}

func (w *writer) appendToChapter(args map[string]any) *mcp.ToolResult {
	idx, ok := w.chapterIndex(args, "chapter_index")
	if !ok {
		return w.outOfRange("Chapter", idx)
	}
	text, _ := mcp.ArgString(args, "content")
	if text == "" {
		return mcp.ErrorResult("Content to append is required.")
	}
	sep, ok := mcp.ArgString(args, "separator")
	if !ok {
		sep = "\n\n"
	}

	ch := &w.story.Chapters[idx]
	before := ch.WordCount
	if ch.Content != "" {
		ch.Content += sep
	}
	ch.Content += text
	ch.WordCount = countWords(ch.Content)

	return mcp.TextResult(fmt.Sprintf("Successfully appended %d words to chapter %d '%s'. Total word count is now %d.",
		ch.WordCount-before, idx, ch.Title, ch.WordCount))
}

func (w *writer) deleteChapter(args map[string]any) *mcp.ToolResult {
	idx, ok := w.chapterIndex(args, "chapter_index")
	if !ok {
		return w.outOfRange("Chapter", idx)
	}
	removed := w.story.Chapters[idx]
	w.story.Chapters = slices.Delete(w.story.Chapters, idx, idx+1)
	return mcp.TextResult(fmt.Sprintf("Chapter %d '%s' deleted successfully.", idx, removed.Title))
}

func (w *writer) moveChapter(args map[string]any) *mcp.ToolResult {
	from, ok := w.chapterIndex(args, "from_index")
	if !ok {
		return w.outOfRange("Source chapter", from)
	}
	to, ok := w.chapterIndex(args, "to_index")
	if !ok {
		return w.outOfRange("Target chapter", to)
	}
	if from == to {
		return mcp.TextResult("Source and target indices are the same. No move needed.")
	}

	ch := w.story.Chapters[from]
	w.story.Chapters = slices.Delete(w.story.Chapters, from, from+1)
	w.story.Chapters = slices.Insert(w.story.Chapters, to, ch)
	return mcp.TextResult(fmt.Sprintf("Chapter '%s' moved from position %d to position %d.", ch.Title, from, to))
}

func (w *writer) getChapter(args map[string]any) *mcp.ToolResult {
	idx, ok := w.chapterIndex(args, "chapter_index")
	if !ok {
		return w.outOfRange("Chapter", idx)
	}
	ch := w.story.Chapters[idx]

	var b strings.Builder
	fmt.Fprintf(&b, "# Chapter %d: %s\n\n", idx+1, ch.Title)
	fmt.Fprintf(&b, "**Word Count:** %d\n", ch.WordCount)
	fmt.Fprintf(&b, "**Estimated Reading Time:** %d minutes\n\n", readingMinutes(ch.WordCount))
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
	b.WriteString("**Content:**\n\n")
	b.WriteString(ch.Content)
	return mcp.TextResult(b.String())
}

func (w *writer) listChapters(map[string]any) *mcp.ToolResult {
	if len(w.story.Chapters) == 0 {
		return mcp.TextResult("No chapters created yet.")
	}

	var b strings.Builder
	b.WriteString("# Chapters\n\n")
	for i, ch := range w.story.Chapters {
		fmt.Fprintf(&b, "## %d. %s (%d words)\n\n", i+1, ch.Title, ch.WordCount)
		if ch.Summary != "" {
			fmt.Fprintf(&b, "**Summary:** %s\n\n", ch.Summary)
		}
		if len(ch.PlotPoints) > 0 {
			fmt.Fprintf(&b, "**Plot Points:** %s\n\n", strings.Join(ch.PlotPoints, ", "))
		}
	}
	return mcp.TextResult(b.String())
}

func (w *writer) outline(map[string]any) *mcp.ToolResult {
	md := w.story.Metadata

	var b strings.Builder
	fmt.Fprintf(&b, "# Story Outline: %s\n\n", md.Title)
	fmt.Fprintf(&b, "**Genre:** %s\n", md.Genre)
	fmt.Fprintf(&b, "**Themes:** %s\n", strings.Join(md.Themes, ", "))
	fmt.Fprintf(&b, "**Target Audience:** %s\n\n", md.TargetAudience)
	if md.Synopsis != "" {
		fmt.Fprintf(&b, "**Synopsis:** %s\n\n", md.Synopsis)
	}

	b.WriteString("## Chapters:\n\n")
	for i, ch := range w.story.Chapters {
		fmt.Fprintf(&b, "%d. **%s** (%d words)\n", i+1, ch.Title, ch.WordCount)
		if ch.Summary != "" {
			fmt.Fprintf(&b, "   Summary: %s\n", ch.Summary)
		}
		if len(ch.PlotPoints) > 0 {
			fmt.Fprintf(&b, "   Plot Points: %s\n", strings.Join(ch.PlotPoints, ", "))
		}
		b.WriteString("\n")
	}
	return mcp.TextResult(b.String())
}

func (w *writer) statistics(map[string]any) *mcp.ToolResult {
	s := w.story
	total := s.TotalWords()
	return mcp.TextResult(fmt.Sprintf("# Story Statistics\n\n"+
		"**Total Word Count:** %d\n"+
		"**Chapter Count:** %d\n"+
		"**Character Count:** %d\n"+
		"**World Elements:** %d\n"+
		"**Plot Points:** %d\n"+
		"**Estimated Reading Time:** %d minutes\n"+
		"**Story Notes:** %d",
		total, len(s.Chapters), len(s.Characters), len(s.WorldElements),
		len(s.PlotPoints), readingMinutes(total), len(s.StoryNotes)))
}
