package sheet

import (
	"strings"

	"golang.org/x/text/cases"

	"catalogsync/internal/config"
)

// Unresolved marks a mapped field whose header was not found.
const Unresolved = -1

// Columns maps a field name to its zero-based column index or Unresolved.
type Columns map[string]int

// Index returns the column of field, or Unresolved when it is unknown.
func (c Columns) Index(field string) int {
	idx, ok := c[field]
	if !ok {
		return Unresolved
	}
	return idx
}

var folder = cases.Fold()

func fold(s string) string {
	return folder.String(strings.TrimSpace(s))
}

// ResolveColumns locates every mapped field in the header row. An exact
// case-insensitive match wins; otherwise the first header containing the
// expected text is used.
func ResolveColumns(header []string, mapping []config.Mapping) Columns {
	folded := make([]string, len(header))
	for i, h := range header {
		folded[i] = fold(h)
	}

	cols := make(Columns, len(mapping))
	for _, m := range mapping {
		cols[m.Field] = resolve(folded, fold(m.Header))
	}
	return cols
}

func resolve(header []string, want string) int {
	if want == "" {
		return Unresolved
	}
	for i, h := range header {
		if h == want {
			return i
		}
	}
	for i, h := range header {
		if strings.Contains(h, want) {
			return i
		}
	}
	return Unresolved
}
