package catalog

import (
	"strings"
	"unicode"

	"golang.org/x/text/cases"
)

var folder = cases.Fold()

// FoldKey returns the case-folded, trimmed form of a natural key. Two keys
// with the same folded form name the same entity.
func FoldKey(s string) string {
	return folder.String(strings.TrimSpace(s))
}

// NormalizeName folds case and collapses runs of punctuation and whitespace
// into single spaces. Names that differ only in those respects normalize to
// the same string.
func NormalizeName(s string) string {
	s = folder.String(s)
	var b strings.Builder
	gap := false
	for _, r := range s {
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			if gap && b.Len() > 0 {
				b.WriteByte(' ')
			}
			gap = false
			b.WriteRune(r)
			continue
		}
		gap = true
	}
	return b.String()
}
