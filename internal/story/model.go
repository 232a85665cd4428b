// Package story implements the creative-writing tool server: an
// in-process document model of a story (metadata, chapters, characters,
// world elements, plot points and notes) edited through tool calls,
// with exports and a SQLite snapshot store.
package story

import (
	"maps"
	"slices"
	"sort"
	"strings"
)

// wordsPerMinute is the reading speed behind reading time estimates.
const wordsPerMinute = 250

// Metadata describes the story as a whole.
type Metadata struct {
	Title          string   `json:"title"`
	Genre          string   `json:"genre"`
	Themes         []string `json:"themes"`
	TargetAudience string   `json:"target_audience"`
	Synopsis       string   `json:"synopsis"`
}

// Chapter is one ordered unit of prose. WordCount is recomputed whenever
// Content changes.
type Chapter struct {
	Title      string   `json:"title"`
	Content    string   `json:"content"`
	Summary    string   `json:"summary"`
	WordCount  int      `json:"word_count"`
	PlotPoints []string `json:"plot_points"`
}

// Character is a named member of the cast. Relationships map another
// character's name to a description of how the two relate.
type Character struct {
	Name          string            `json:"name"`
	Description   string            `json:"description"`
	Traits        []string          `json:"traits"`
	Backstory     string            `json:"backstory"`
	Goals         string            `json:"goals"`
	Relationships map[string]string `json:"relationships"`
}

// WorldElement is a piece of world-building such as a location, culture
// or magic system.
type WorldElement struct {
	Name        string            `json:"name"`
	ElementType string            `json:"element_type"`
	Description string            `json:"description"`
	Properties  map[string]string `json:"properties"`
}

// Story is the complete editable state of the server.
type Story struct {
	Metadata      Metadata                `json:"metadata"`
	Characters    map[string]Character    `json:"characters"`
	Chapters      []Chapter               `json:"chapters"`
	WorldElements map[string]WorldElement `json:"world_elements"`
	StoryNotes    []string                `json:"story_notes"`
	PlotPoints    []string                `json:"plot_points"`
}

// New returns an empty story with the given title.
func New(title string) Story {
	s := Story{}
	s.Metadata.Title = title
	s.normalize()
	return s
}

// normalize replaces nil collections with empty ones so the JSON form
// always carries arrays and objects.
func (s *Story) normalize() {
	if s.Metadata.Themes == nil {
		s.Metadata.Themes = []string{}
	}
	if s.Characters == nil {
		s.Characters = map[string]Character{}
	}
	if s.Chapters == nil {
		s.Chapters = []Chapter{}
	}
	if s.WorldElements == nil {
		s.WorldElements = map[string]WorldElement{}
	}
	if s.StoryNotes == nil {
		s.StoryNotes = []string{}
	}
	if s.PlotPoints == nil {
		s.PlotPoints = []string{}
	}
	for i := range s.Chapters {
		if s.Chapters[i].PlotPoints == nil {
			s.Chapters[i].PlotPoints = []string{}
		}
	}
	for name, c := range s.Characters {
		if c.Traits == nil {
			c.Traits = []string{}
		}
		if c.Relationships == nil {
			c.Relationships = map[string]string{}
		}
		s.Characters[name] = c
	}
	for name, e := range s.WorldElements {
		if e.Properties == nil {
			e.Properties = map[string]string{}
		}
		s.WorldElements[name] = e
	}
}

// Clone returns a deep copy that shares no slices or maps with s.
func (s Story) Clone() Story {
	out := Story{
		Metadata:      s.Metadata,
		Characters:    make(map[string]Character, len(s.Characters)),
		Chapters:      make([]Chapter, len(s.Chapters)),
		WorldElements: make(map[string]WorldElement, len(s.WorldElements)),
		StoryNotes:    slices.Clone(s.StoryNotes),
		PlotPoints:    slices.Clone(s.PlotPoints),
	}
	out.Metadata.Themes = slices.Clone(s.Metadata.Themes)
	for name, c := range s.Characters {
		c.Traits = slices.Clone(c.Traits)
		c.Relationships = maps.Clone(c.Relationships)
		out.Characters[name] = c
	}
	for i, ch := range s.Chapters {
		ch.PlotPoints = slices.Clone(ch.PlotPoints)
		out.Chapters[i] = ch
	}
	for name, e := range s.WorldElements {
		e.Properties = maps.Clone(e.Properties)
		out.WorldElements[name] = e
	}
	out.normalize()
	return out
}

// TotalWords sums the word counts of all chapters.
func (s Story) TotalWords() int {
	total := 0
	for _, ch := range s.Chapters {
		total += ch.WordCount
	}
	return total
}

// characterNames returns the cast in name order.
func (s Story) characterNames() []string {
	return sortedKeys(s.Characters)
}

// elementNames returns world element names in name order.
func (s Story) elementNames() []string {
	return sortedKeys(s.WorldElements)
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// countWords counts whitespace-separated words.
func countWords(s string) int {
	return len(strings.Fields(s))
}

// readingMinutes rounds up to whole minutes.
func readingMinutes(words int) int {
	return (words + wordsPerMinute - 1) / wordsPerMinute
}
