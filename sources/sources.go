// Package sources locates a source file on disk given a compiler-recorded
// path hint and a list of search roots (the `srcpath` REPL command).
package sources

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
)

// ErrNotFound is returned when no search root/suffix combination exists.
var ErrNotFound = errors.New("sources: file not found in any search root")

// Finder holds the semicolon-delimited list of search roots set by
// `srcpath`.
type Finder struct {
	Roots []string
}

// NewFinder builds a Finder from a `srcpath`-style "path1;path2;..." spec.
func NewFinder(srcpath string) *Finder {
	f := &Finder{}
	f.SetSrcPath(srcpath)
	return f
}

// SetSrcPath replaces the search roots.
func (f *Finder) SetSrcPath(srcpath string) {
	f.Roots = nil
	for _, root := range strings.Split(srcpath, ";") {
		root = strings.TrimSpace(root)
		if root != "" {
			f.Roots = append(f.Roots, root)
		}
	}
}

// Find resolves hint to an existing file: if hint is itself an absolute
// path that exists, it is returned directly; otherwise, for each search
// root in order, every progressive suffix of hint (the whole path, then
// with its leading component dropped, and so on down to the bare
// filename) is joined to the root and tried in turn (spec §6/§8 item 7).
func (f *Finder) Find(hint string) (string, error) {
	if filepath.IsAbs(hint) {
		if _, err := os.Stat(hint); err == nil {
			return hint, nil
		}
	}

	parts := splitPath(hint)
	for _, root := range f.Roots {
		for i := 0; i < len(parts); i++ {
			candidate := filepath.Join(append([]string{root}, parts[i:]...)...)
			if _, err := os.Stat(candidate); err == nil {
				return candidate, nil
			}
		}
	}

	return "", ErrNotFound
}

// splitPath breaks hint into its slash/backslash-delimited components, so
// Find can try progressively shorter suffixes.
func splitPath(hint string) []string {
	hint = strings.ReplaceAll(hint, `\`, "/")
	var parts []string
	for _, p := range strings.Split(hint, "/") {
		if p != "" {
			parts = append(parts, p)
		}
	}
	if len(parts) == 0 {
		return []string{hint}
	}
	return parts
}
