package render

import (
	"sort"
	"strings"
	"unicode"
	"unicode/utf8"
)

// Humanize turns a column name into display words: pickup_ntaname becomes
// "Pickup Ntaname". All-caps words such as ID or PU are kept as they are.
func Humanize(name string) string {
	words := strings.FieldsFunc(name, func(r rune) bool {
		return r == '_' || r == '-' || r == '.' || unicode.IsSpace(r)
	})
	for i, w := range words {
		if isUpper(w) {
			continue
		}
		r, size := utf8.DecodeRuneInString(w)
		words[i] = string(unicode.ToUpper(r)) + w[size:]
	}
	if len(words) == 0 {
		return name
	}
	return strings.Join(words, " ")
}

func isUpper(s string) bool {
	hasLetter := false
	for _, r := range s {
		if unicode.IsLetter(r) {
			hasLetter = true
			if !unicode.IsUpper(r) {
				return false
			}
		}
	}
	return hasLetter
}

// Names maps raw column names to unique display names and back. When two
// columns humanize to the same text, both get the raw name appended so the
// mapping stays reversible.
type Names struct {
	display map[string]string
	raw     map[string]string
}

func NewNames(columns []string) *Names {
	n := &Names{
		display: make(map[string]string, len(columns)),
		raw:     make(map[string]string, len(columns)),
	}

	uniq := make([]string, 0, len(columns))
	seen := make(map[string]bool, len(columns))
	for _, c := range columns {
		if !seen[c] {
			seen[c] = true
			uniq = append(uniq, c)
		}
	}
	sort.Strings(uniq)

	counts := make(map[string]int, len(uniq))
	for _, c := range uniq {
		counts[Humanize(c)]++
	}
	for _, c := range uniq {
		h := Humanize(c)
		if counts[h] > 1 || h == "" {
			h = h + " (" + c + ")"
		}
		n.display[c] = h
		n.raw[h] = c
	}
	return n
}

// Display returns the display name for a column. Columns the Names was not
// built with are humanized on the fly.
func (n *Names) Display(column string) string {
	if h, ok := n.display[column]; ok {
		return h
	}
	return Humanize(column)
}

// Resolve maps a display name back to its raw column name.
func (n *Names) Resolve(display string) (string, bool) {
	c, ok := n.raw[display]
	return c, ok
}
