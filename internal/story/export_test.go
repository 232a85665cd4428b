package story

import (
	"encoding/json"
	"strings"
	"testing"
)

func sampleStory() Story {
	s := New("Salt Road")
	s.Metadata.Genre = "fantasy"
	s.Metadata.Themes = []string{"home", "debt"}
	s.Metadata.Synopsis = "A courier crosses the flats."
	s.PlotPoints = []string{"the map is stolen"}
	s.StoryNotes = []string{"rename the river"}
	s.Characters["Zed"] = Character{Name: "Zed", Description: "a thief", Relationships: map[string]string{}}
	s.Characters["Ann"] = Character{
		Name:          "Ann",
		Description:   "the courier",
		Traits:        []string{"stubborn"},
		Relationships: map[string]string{"Zed": "rivals"},
	}
	s.WorldElements["Flats"] = WorldElement{
		Name: "Flats", ElementType: "location", Description: "salt pans",
		Properties: map[string]string{"heat": "extreme"},
	}
	s.Chapters = []Chapter{{Title: "Departure", Content: "She left at dawn.", WordCount: 4, Summary: "leaving"}}
	return s
}

func TestMarkdown(t *testing.T) {
	got := Markdown(sampleStory())

	for _, want := range []string{
		"# Salt Road\n\n**Genre:** fantasy\n",
		"**Themes:** home, debt\n",
		"## Synopsis\n\nA courier crosses the flats.\n\n",
		"## Plot Points\n\n1. the map is stolen\n",
		"### Ann\n\n**Description:** the courier\n\n**Traits:** stubborn\n\n**Relationships:**\n- Zed: rivals\n",
		"### Flats (location)\n\n**Description:** salt pans\n\n**Properties:**\n- heat: extreme\n",
		"### Chapter 1: Departure\n\n**Summary:** leaving\n\n**Word Count:** 4\n\nShe left at dawn.\n\n",
		"## Story Notes\n\n1. rename the river\n",
	} {
		if !strings.Contains(got, want) {
			t.Errorf("markdown missing %q\n---\n%s", want, got)
		}
	}
	if strings.Index(got, "### Ann") > strings.Index(got, "### Zed") {
		t.Error("characters not in name order")
	}
}

func TestPlainText(t *testing.T) {
	want := "Salt Road\n\nChapter 1: Departure\n\nShe left at dawn.\n\n"
	if got := PlainText(sampleStory()); got != want {
		t.Errorf("PlainText = %q, want %q", got, want)
	}
}

func TestExport_Structured(t *testing.T) {
	out, err := Export(sampleStory(), FormatStructured)
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(out, "\n  \"metadata\": {") {
		t.Errorf("structured export is not indented:\n%s", out)
	}
	var back Story
	if err := json.Unmarshal([]byte(out), &back); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if back.Characters["Ann"].Relationships["Zed"] != "rivals" || back.Chapters[0].WordCount != 4 {
		t.Errorf("decoded = %+v", back)
	}
}

func TestExport_HTML(t *testing.T) {
	out, err := Export(sampleStory(), FormatHTML)
	if err != nil {
		t.Fatal(err)
	}
	for _, want := range []string{"<title>Salt Road</title>", "<h1>Salt Road</h1>", "<strong>Genre:</strong>", "<li>Zed: rivals</li>"} {
		if !strings.Contains(out, want) {
			t.Errorf("html missing %q:\n%s", want, out)
		}
	}
}

func TestExport_InvalidFormat(t *testing.T) {
	if _, err := Export(sampleStory(), "pdf"); err == nil {
		t.Fatal("expected error for unknown format")
	}

	b := newTestServer(t, Options{})
	res := call(t, b, "export_story", map[string]any{"format": "pdf"})
	if !res.IsError || !strings.HasPrefix(res.Text(), "Invalid format.") {
		t.Errorf("result = %+v", res)
	}
	res = call(t, b, "export_story", nil)
	if res.IsError || !strings.HasPrefix(res.Text(), "# ") {
		t.Errorf("default export = %+v", res)
	}
}

func TestClone_Independent(t *testing.T) {
	s := sampleStory()
	c := s.Clone()
	c.Characters["Ann"].Relationships["Zed"] = "friends"
	c.Metadata.Themes[0] = "x"
	c.Chapters[0].Title = "y"

	if s.Characters["Ann"].Relationships["Zed"] != "rivals" || s.Metadata.Themes[0] != "home" || s.Chapters[0].Title != "Departure" {
		t.Errorf("clone shares state: %+v", s)
	}
}

func TestCountWords(t *testing.T) {
	tests := []struct {
		in   string
		want int
	}{
		{"", 0},
		{"one", 1},
		{"  spaced   out\ttabs\nand lines ", 5},
	}
	for _, tt := range tests {
		if got := countWords(tt.in); got != tt.want {
			t.Errorf("countWords(%q) = %d, want %d", tt.in, got, tt.want)
		}
	}
	if readingMinutes(0) != 0 || readingMinutes(1) != 1 || readingMinutes(251) != 2 {
		t.Error("readingMinutes rounding")
	}
}
