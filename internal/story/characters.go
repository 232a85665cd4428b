package story

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/nugget/toolhost/internal/mcp"
)

func characterNotFound(name string) *mcp.ToolResult {
	return mcp.ErrorResult(fmt.Sprintf("Character '%s' not found.", name))
}

func (w *writer) createCharacter(args map[string]any) *mcp.ToolResult {
	name, _ := mcp.ArgString(args, "name")
	if name == "" {
		return mcp.ErrorResult("Character name is required.")
	}
	desc, _ := mcp.ArgString(args, "description")
	backstory, _ := mcp.ArgString(args, "backstory")
	goals, _ := mcp.ArgString(args, "goals")
	traits := mcp.ArgStrings(args, "traits")
	if traits == nil {
		traits = []string{}
	}

	w.story.Characters[name] = Character{
		Name:          name,
		Description:   desc,
		Traits:        traits,
		Backstory:     backstory,
		Goals:         goals,
		Relationships: map[string]string{},
	}
	return mcp.TextResult(fmt.Sprintf("Character '%s' created successfully.", name))
}

func (w *writer) updateCharacter(args map[string]any) *mcp.ToolResult {
	name, _ := mcp.ArgString(args, "name")
	c, ok := w.story.Characters[name]
	if !ok {
		return characterNotFound(name)
	}
	if v, ok := mcp.ArgString(args, "description"); ok {
		c.Description = v
	}
	if _, ok := args["traits"]; ok {
		c.Traits = mcp.ArgStrings(args, "traits")
	}
	if v, ok := mcp.ArgString(args, "backstory"); ok {
		c.Backstory = v
	}
	if v, ok := mcp.ArgString(args, "goals"); ok {
		c.Goals = v
	}
	w.story.Characters[name] = c
	return mcp.TextResult(fmt.Sprintf("Character '%s' updated successfully.", name))
}

// addRelationship records the relationship on both characters. Both
// must already exist.
func (w *writer) addRelationship(args map[string]any) *mcp.ToolResult {
	name1, _ := mcp.ArgString(args, "character1")
	name2, _ := mcp.ArgString(args, "character2")
	rel, _ := mcp.ArgString(args, "relationship")

	c1, ok := w.story.Characters[name1]
	if !ok {
		return characterNotFound(name1)
	}
	c2, ok := w.story.Characters[name2]
	if !ok {
		return characterNotFound(name2)
	}

	c1.Relationships[name2] = rel
	c2.Relationships[name1] = rel
	w.story.Characters[name1] = c1
	w.story.Characters[name2] = c2
	return mcp.TextResult(fmt.Sprintf("Relationship between '%s' and '%s' added: %s", name1, name2, rel))
}

func (w *writer) characterDetails(args map[string]any) *mcp.ToolResult {
	name, _ := mcp.ArgString(args, "name")
	c, ok := w.story.Characters[name]
	if !ok {
		return characterNotFound(name)
	}

	var b strings.Builder
	fmt.Fprintf(&b, "# Character: %s\n\n", c.Name)
	writeCharacterBody(&b, c)
	return mcp.TextResult(b.String())
}

// writeCharacterBody renders the profile shared by character details
// and the markdown export.
func writeCharacterBody(b *strings.Builder, c Character) {
	fmt.Fprintf(b, "**Description:** %s\n\n", c.Description)
	if len(c.Traits) > 0 {
		fmt.Fprintf(b, "**Traits:** %s\n\n", strings.Join(c.Traits, ", "))
	}
	if c.Backstory != "" {
		fmt.Fprintf(b, "**Backstory:** %s\n\n", c.Backstory)
	}
	if c.Goals != "" {
		fmt.Fprintf(b, "**Goals:** %s\n\n", c.Goals)
	}
	if len(c.Relationships) > 0 {
		b.WriteString("**Relationships:**\n")
		for _, other := range sortedKeys(c.Relationships) {
			fmt.Fprintf(b, "- %s: %s\n", other, c.Relationships[other])
		}
	}
}

func (w *writer) listCharacters(map[string]any) *mcp.ToolResult {
	if len(w.story.Characters) == 0 {
		return mcp.TextResult("No characters created yet.")
	}

	var b strings.Builder
	b.WriteString("# Characters\n\n")
	for _, name := range w.story.characterNames() {
		c := w.story.Characters[name]
		fmt.Fprintf(&b, "## %s\n%s\n", name, c.Description)
		if len(c.Traits) > 0 {
			fmt.Fprintf(&b, "*Traits: %s*\n", strings.Join(c.Traits, ", "))
		}
		b.WriteString("\n")
	}
	return mcp.TextResult(b.String())
}

func (w *writer) createWorldElement(args map[string]any) *mcp.ToolResult {
	name, _ := mcp.ArgString(args, "name")
	kind, _ := mcp.ArgString(args, "element_type")
	desc, _ := mcp.ArgString(args, "description")
	if name == "" || kind == "" {
		return mcp.ErrorResult("Name and element type are required.")
	}

	props := map[string]string{}
	if raw, ok := args["properties"].(map[string]any); ok {
		for k, v := range raw {
			props[k] = propertyString(v)
		}
	}

	w.story.WorldElements[name] = WorldElement{
		Name:        name,
		ElementType: kind,
		Description: desc,
		Properties:  props,
	}
	return mcp.TextResult(fmt.Sprintf("World element '%s' (%s) created successfully.", name, kind))
}

// propertyString keeps strings as-is and renders other values as JSON.
func propertyString(v any) string {
	if s, ok := v.(string); ok {
		return s
	}
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Sprint(v)
	}
	return string(data)
}

func (w *writer) worldElement(args map[string]any) *mcp.ToolResult {
	name, _ := mcp.ArgString(args, "name")
	e, ok := w.story.WorldElements[name]
	if !ok {
		return mcp.ErrorResult(fmt.Sprintf("World element '%s' not found.", name))
	}

	var b strings.Builder
	fmt.Fprintf(&b, "# World Element: %s\n\n", e.Name)
	fmt.Fprintf(&b, "**Type:** %s\n\n", e.ElementType)
	writeProperties(&b, e)
	return mcp.TextResult(b.String())
}

func writeProperties(b *strings.Builder, e WorldElement) {
	fmt.Fprintf(b, "**Description:** %s\n\n", e.Description)
	if len(e.Properties) > 0 {
		b.WriteString("**Properties:**\n")
		for _, k := range sortedKeys(e.Properties) {
			fmt.Fprintf(b, "- %s: %s\n", k, e.Properties[k])
		}
	}
}

func (w *writer) listWorldElements(args map[string]any) *mcp.ToolResult {
	filter, filtered := mcp.ArgString(args, "element_type")

	var b strings.Builder
	n := 0
	for _, name := range w.story.elementNames() {
		e := w.story.WorldElements[name]
		if filtered && e.ElementType != filter {
			continue
		}
		if n == 0 {
			b.WriteString("# World Elements\n\n")
		}
		n++
		fmt.Fprintf(&b, "## %s (%s)\n%s\n\n", name, e.ElementType, e.Description)
	}

	if n == 0 {
		if filtered {
			return mcp.TextResult(fmt.Sprintf("No world elements of type '%s' found.", filter))
		}
		return mcp.TextResult("No world elements created yet.")
	}
	return mcp.TextResult(b.String())
}

func (w *writer) addPlotPoint(args map[string]any) *mcp.ToolResult {
	p, _ := mcp.ArgString(args, "plot_point")
	if p == "" {
		return mcp.ErrorResult("Plot point description is required.")
	}
	w.story.PlotPoints = append(w.story.PlotPoints, p)
	return mcp.TextResult("Plot point added: " + p)
}

func (w *writer) addNote(args map[string]any) *mcp.ToolResult {
	note, _ := mcp.ArgString(args, "note")
	if note == "" {
		return mcp.ErrorResult("Note content is required.")
	}
	w.story.StoryNotes = append(w.story.StoryNotes, note)
	return mcp.TextResult("Story note added: " + note)
}

func (w *writer) notes(map[string]any) *mcp.ToolResult {
	if len(w.story.StoryNotes) == 0 {
		return mcp.TextResult("No story notes yet.")
	}
	var b strings.Builder
	b.WriteString("# Story Notes\n\n")
	writeNumbered(&b, w.story.StoryNotes)
	return mcp.TextResult(b.String())
}

func writeNumbered(b *strings.Builder, items []string) {
	for i, it := range items {
		fmt.Fprintf(b, "%d. %s\n", i+1, it)
	}
}
