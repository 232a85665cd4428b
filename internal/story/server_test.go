package story

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/nugget/toolhost/internal/mcp"
)

func newTestServer(t *testing.T, opts Options) *mcp.Builtin {
	t.Helper()
	b, err := NewServer(opts)
	if err != nil {
		t.Fatalf("NewServer: %v", err)
	}
	return b
}

// call invokes a tool and fails the test on call-level errors.
func call(t *testing.T, b *mcp.Builtin, name string, args map[string]any) *mcp.ToolResult {
	t.Helper()
	res, err := mcp.CallTool(context.Background(), b, name, args)
	if err != nil {
		t.Fatalf("%s: %v", name, err)
	}
	return res
}

func state(t *testing.T, b *mcp.Builtin) Story {
	t.Helper()
	raw, err := b.Call(context.Background(), StateMethod, nil)
	if err != nil {
		t.Fatalf("get_state: %v", err)
	}
	s, err := DecodeState(raw)
	if err != nil {
		t.Fatal(err)
	}
	return s
}

func TestNewServer_ToolSet(t *testing.T) {
	b := newTestServer(t, Options{})
	tools := b.ListTools(context.Background())
	if len(tools) != 25 {
		t.Errorf("tool count = %d, want 25", len(tools))
	}
	seen := map[string]bool{}
	for _, tool := range tools {
		seen[tool.Name] = true
	}
	for _, name := range []string{"create_chapter", "export_story", "suggest_character_development"} {
		if !seen[name] {
			t.Errorf("missing tool %s", name)
		}
	}
}

func TestChapters_CreateInsertAndStats(t *testing.T) {
	b := newTestServer(t, Options{Initial: New("The Long Walk")})

	res := call(t, b, "create_chapter", map[string]any{"title": "Two", "content": "one two three"})
	if want := "Chapter 'Two' created successfully with 3 words at position 0."; res.Text() != want {
		t.Errorf("create = %q, want %q", res.Text(), want)
	}
	res = call(t, b, "create_chapter", map[string]any{"title": "One", "content": "alpha beta", "position": 0})
	if !strings.HasSuffix(res.Text(), "at position 0.") {
		t.Errorf("insert = %q", res.Text())
	}
	// Positions past the end append.
	res = call(t, b, "create_chapter", map[string]any{"title": "Three", "content": "", "position": 99})
	if !strings.HasSuffix(res.Text(), "at position 2.") {
		t.Errorf("append = %q", res.Text())
	}

	s := state(t, b)
	var titles []string
	for _, ch := range s.Chapters {
		titles = append(titles, ch.Title)
	}
	if got := strings.Join(titles, ","); got != "One,Two,Three" {
		t.Errorf("order = %s", got)
	}
	if s.TotalWords() != 5 {
		t.Errorf("total words = %d, want 5", s.TotalWords())
	}

	stats := call(t, b, "get_story_statistics", nil).Text()
	for _, want := range []string{"**Total Word Count:** 5", "**Chapter Count:** 3", "**Estimated Reading Time:** 1 minutes"} {
		if !strings.Contains(stats, want) {
			t.Errorf("statistics missing %q:\n%s", want, stats)
		}
	}
}

func TestChapters_UpdateAppendMoveDelete(t *testing.T) {
	b := newTestServer(t, Options{})
	call(t, b, "create_chapter", map[string]any{"title": "A", "content": "first words"})
	call(t, b, "create_chapter", map[string]any{"title": "B", "content": "second"})

	res := call(t, b, "update_chapter", map[string]any{"chapter_index": 1, "summary": "the middle", "title": "Bee"})
	if want := "Chapter 1 'Bee' updated successfully. Updated fields: title, summary"; res.Text() != want {
		t.Errorf("update = %q", res.Text())
	}

	res = call(t, b, "update_chapter", map[string]any{"chapter_index": 0})
	if !res.IsError || res.Text() != "No fields provided to update." {
		t.Errorf("empty update = %+v", res)
	}

	res = call(t, b, "append_to_chapter", map[string]any{"chapter_index": 0, "content": "and more"})
	if want := "Successfully appended 2 words to chapter 0 'A'. Total word count is now 4."; res.Text() != want {
		t.Errorf("append = %q", res.Text())
	}
	res = call(t, b, "append_to_chapter", map[string]any{"chapter_index": 0, "content": "x", "separator": " | "})
	if res.IsError {
		t.Fatalf("append with separator: %s", res.Text())
	}
	if got := state(t, b).Chapters[0].Content; got != "first words\n\nand more | x" {
		t.Errorf("content = %q", got)
	}

	res = call(t, b, "move_chapter", map[string]any{"from_index": 0, "to_index": 1})
	if want := "Chapter 'A' moved from position 0 to position 1."; res.Text() != want {
		t.Errorf("move = %q", res.Text())
	}
	res = call(t, b, "move_chapter", map[string]any{"from_index": 1, "to_index": 1})
	if res.IsError || !strings.Contains(res.Text(), "No move needed") {
		t.Errorf("same index = %+v", res)
	}

	res = call(t, b, "delete_chapter", map[string]any{"chapter_index": 0})
	if want := "Chapter 0 'Bee' deleted successfully."; res.Text() != want {
		t.Errorf("delete = %q", res.Text())
	}
	if n := len(state(t, b).Chapters); n != 1 {
		t.Errorf("chapters = %d, want 1", n)
	}
}

func TestChapters_OutOfRange(t *testing.T) {
	b := newTestServer(t, Options{})
	call(t, b, "create_chapter", map[string]any{"title": "Only", "content": "x"})

	tests := []struct {
		tool string
		args map[string]any
		want string
	}{
		{"get_chapter", map[string]any{"chapter_index": 3}, "Chapter index 3 is out of range. Story has 1 chapters."},
		{"update_chapter", map[string]any{"chapter_index": 1, "title": "t"}, "Chapter index 1 is out of range. Story has 1 chapters."},
		{"delete_chapter", map[string]any{"chapter_index": -1}, "Chapter index -1 is out of range. Story has 1 chapters."},
		{"move_chapter", map[string]any{"from_index": 2, "to_index": 0}, "Source chapter index 2 is out of range. Story has 1 chapters."},
		{"move_chapter", map[string]any{"from_index": 0, "to_index": 5}, "Target chapter index 5 is out of range. Story has 1 chapters."},
		{"analyze_chapter_content", map[string]any{"chapter_index": 9}, "Chapter index 9 is out of range. Story has 1 chapters."},
	}
	for _, tt := range tests {
		t.Run(tt.tool, func(t *testing.T) {
			res := call(t, b, tt.tool, tt.args)
			if !res.IsError {
				t.Errorf("IsError = false")
			}
			if res.Text() != tt.want {
				t.Errorf("text = %q, want %q", res.Text(), tt.want)
			}
		})
	}
}

func TestGetChapter_Details(t *testing.T) {
	b := newTestServer(t, Options{})
	call(t, b, "create_chapter", map[string]any{
		"title":       "Arrival",
		"content":     "The train came in late.",
		"summary":     "She arrives",
		"plot_points": []any{"arrival", "storm"},
	})

	got := call(t, b, "get_chapter", map[string]any{"chapter_index": 0}).Text()
	for _, want := range []string{
		"# Chapter 1: Arrival",
		"**Word Count:** 5",
		"**Summary:** She arrives",
		"- storm",
		"**Content:**\n\nThe train came in late.",
	} {
		if !strings.Contains(got, want) {
			t.Errorf("missing %q in:\n%s", want, got)
		}
	}
}

func TestCharacters(t *testing.T) {
	b := newTestServer(t, Options{})

	call(t, b, "create_character", map[string]any{"name": "Mara", "description": "a pilot", "traits": []any{"brave"}})
	call(t, b, "create_character", map[string]any{"name": "Ilse", "description": "an engineer"})

	res := call(t, b, "update_character", map[string]any{"name": "Mara", "goals": "get home"})
	if res.IsError {
		t.Fatalf("update: %s", res.Text())
	}
	res = call(t, b, "update_character", map[string]any{"name": "Nobody"})
	if !res.IsError || res.Text() != "Character 'Nobody' not found." {
		t.Errorf("missing update = %+v", res)
	}

	res = call(t, b, "add_character_relationship", map[string]any{"character1": "Mara", "character2": "Ilse", "relationship": "sisters"})
	if res.Text() != "Relationship between 'Mara' and 'Ilse' added: sisters" {
		t.Errorf("relationship = %q", res.Text())
	}
	res = call(t, b, "add_character_relationship", map[string]any{"character1": "Mara", "character2": "Ghost", "relationship": "x"})
	if !res.IsError {
		t.Errorf("relationship with unknown character should fail")
	}

	s := state(t, b)
	if s.Characters["Ilse"].Relationships["Mara"] != "sisters" {
		t.Errorf("relationship not symmetric: %+v", s.Characters["Ilse"])
	}

	details := call(t, b, "get_character_details", map[string]any{"name": "Mara"}).Text()
	for _, want := range []string{"# Character: Mara", "**Traits:** brave", "**Goals:** get home", "- Ilse: sisters"} {
		if !strings.Contains(details, want) {
			t.Errorf("details missing %q:\n%s", want, details)
		}
	}

	list := call(t, b, "list_characters", nil).Text()
	if strings.Index(list, "## Ilse") > strings.Index(list, "## Mara") {
		t.Errorf("characters not listed by name:\n%s", list)
	}

	suggest := call(t, b, "suggest_character_development", nil).Text()
	if !strings.Contains(suggest, "- **Ilse:** goals, backstory, traits") {
		t.Errorf("suggestions:\n%s", suggest)
	}
	one := call(t, b, "suggest_character_development", map[string]any{"character_name": "Mara"}).Text()
	if !strings.Contains(one, "Develop Backstory") || strings.Contains(one, "Define Goals") {
		t.Errorf("single suggestions:\n%s", one)
	}
}

func TestWorldElements(t *testing.T) {
	b := newTestServer(t, Options{})

	if got := call(t, b, "list_world_elements", nil).Text(); got != "No world elements created yet." {
		t.Errorf("empty list = %q", got)
	}

	call(t, b, "create_world_element", map[string]any{
		"name": "Harbor", "element_type": "location", "description": "a cold port",
		"properties": map[string]any{"population": 4000, "climate": "wet"},
	})
	call(t, b, "create_world_element", map[string]any{
		"name": "Guild", "element_type": "culture", "description": "traders",
	})

	got := call(t, b, "get_world_element", map[string]any{"name": "Harbor"}).Text()
	if !strings.Contains(got, "- climate: wet\n- population: 4000") {
		t.Errorf("element:\n%s", got)
	}

	filtered := call(t, b, "list_world_elements", map[string]any{"element_type": "culture"}).Text()
	if !strings.Contains(filtered, "## Guild (culture)") || strings.Contains(filtered, "Harbor") {
		t.Errorf("filtered:\n%s", filtered)
	}
	none := call(t, b, "list_world_elements", map[string]any{"element_type": "magic"}).Text()
	if none != "No world elements of type 'magic' found." {
		t.Errorf("none = %q", none)
	}

	res := call(t, b, "get_world_element", map[string]any{"name": "Moon"})
	if !res.IsError {
		t.Errorf("missing element should be an error result")
	}
}

func TestPlotNotesAndAnalysis(t *testing.T) {
	b := newTestServer(t, Options{})
	call(t, b, "add_plot_point", map[string]any{"plot_point": "the bridge falls"})
	call(t, b, "add_story_note", map[string]any{"note": "check the timeline"})
	call(t, b, "create_world_element", map[string]any{"name": "X", "element_type": "tech", "description": "d"})

	if got := call(t, b, "get_story_notes", nil).Text(); got != "# Story Notes\n\n1. check the timeline\n" {
		t.Errorf("notes = %q", got)
	}
	res := call(t, b, "add_story_note", map[string]any{"note": ""})
	if !res.IsError {
		t.Errorf("empty note should fail")
	}

	analysis := call(t, b, "analyze_story_structure", nil).Text()
	for _, want := range []string{"- Major Plot Points: 1", "  1. the bridge falls", "- Element Types: tech"} {
		if !strings.Contains(analysis, want) {
			t.Errorf("analysis missing %q:\n%s", want, analysis)
		}
	}

	call(t, b, "create_chapter", map[string]any{"title": "C", "content": "One. Two.\n\nThree four."})
	ch := call(t, b, "analyze_chapter_content", map[string]any{"chapter_index": 0}).Text()
	for _, want := range []string{"- Sentences: ~4", "- Paragraphs: 2", "- Average Words per Paragraph: 2"} {
		if !strings.Contains(ch, want) {
			t.Errorf("chapter analysis missing %q:\n%s", want, ch)
		}
	}
}

func TestSchemaValidation(t *testing.T) {
	b := newTestServer(t, Options{})
	_, err := mcp.CallTool(context.Background(), b, "create_chapter", map[string]any{"title": "no content"})
	if !errors.Is(err, mcp.ErrInvalidArguments) {
		t.Errorf("missing required arg: err = %v", err)
	}
	_, err = mcp.CallTool(context.Background(), b, "get_chapter", map[string]any{"chapter_index": "zero"})
	if !errors.Is(err, mcp.ErrInvalidArguments) {
		t.Errorf("wrong type: err = %v", err)
	}
}

func TestOnChange(t *testing.T) {
	var snapshots []Story
	b := newTestServer(t, Options{OnChange: func(s Story) { snapshots = append(snapshots, s) }})

	call(t, b, "create_chapter", map[string]any{"title": "A", "content": "a"})
	call(t, b, "list_chapters", nil)
	call(t, b, "delete_chapter", map[string]any{"chapter_index": 4})
	call(t, b, "add_plot_point", map[string]any{"plot_point": "p"})

	if len(snapshots) != 2 {
		t.Fatalf("OnChange fired %d times, want 2", len(snapshots))
	}
	// Snapshots are copies.
	snapshots[0].Chapters[0].Title = "mutated"
	if state(t, b).Chapters[0].Title != "A" {
		t.Error("OnChange snapshot shares state with the server")
	}
	if len(snapshots[1].PlotPoints) != 1 {
		t.Errorf("second snapshot = %+v", snapshots[1])
	}
}

func TestInitialStateIsCopied(t *testing.T) {
	initial := New("Seed")
	initial.StoryNotes = append(initial.StoryNotes, "n1")
	b := newTestServer(t, Options{Initial: initial})

	initial.StoryNotes[0] = "changed"
	if got := state(t, b).StoryNotes[0]; got != "n1" {
		t.Errorf("note = %q", got)
	}
	if got := state(t, b).Metadata.Title; got != "Seed" {
		t.Errorf("title = %q", got)
	}
}
