// Package paths expands named directory prefixes in configured paths.
// With "data" mapped to ~/toolhost, "data:story.db" becomes
// ~/toolhost/story.db, and a leading ~ becomes the home directory.
package paths

import (
	"os"
	"path/filepath"
	"sort"
	"strings"
)

// Resolver maps "name:" prefixes to directories. A nil *Resolver only
// expands ~.
type Resolver struct {
	dirs  map[string]string
	order []string // longest prefix first
}

// New builds a resolver from prefix names (without the colon) to
// directories. It returns nil for an empty map.
func New(prefixes map[string]string) *Resolver {
	if len(prefixes) == 0 {
		return nil
	}
	r := &Resolver{dirs: make(map[string]string, len(prefixes))}
	for name, dir := range prefixes {
		key := strings.TrimSuffix(name, ":") + ":"
		r.dirs[key] = ExpandHome(dir)
		r.order = append(r.order, key)
	}
	// "kb:" must not shadow "kbase:".
	sort.Slice(r.order, func(i, j int) bool {
		if len(r.order[i]) != len(r.order[j]) {
			return len(r.order[i]) > len(r.order[j])
		}
		return r.order[i] < r.order[j]
	})
	return r
}

// Expand resolves a registered prefix, then a leading ~. Anything else
// is returned unchanged.
func (r *Resolver) Expand(path string) string {
	if r != nil {
		for _, prefix := range r.order {
			rest, ok := strings.CutPrefix(path, prefix)
			if !ok {
				continue
			}
			if rest == "" {
				return r.dirs[prefix]
			}
			return filepath.Join(r.dirs[prefix], rest)
		}
	}
	return ExpandHome(path)
}

// ExpandAll applies Expand to each element in place.
func (r *Resolver) ExpandAll(list []string) {
	for i, p := range list {
		list[i] = r.Expand(p)
	}
}

// Prefixes returns the registered names, sorted, without colons.
func (r *Resolver) Prefixes() []string {
	if r == nil {
		return nil
	}
	names := make([]string, 0, len(r.dirs))
	for prefix := range r.dirs {
		names = append(names, strings.TrimSuffix(prefix, ":"))
	}
	sort.Strings(names)
	return names
}

// ExpandHome replaces a leading ~ or ~/ with the home directory.
func ExpandHome(path string) string {
	if path != "~" && !strings.HasPrefix(path, "~/") {
		return path
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return path
	}
	return filepath.Join(home, strings.TrimPrefix(path, "~"))
}
