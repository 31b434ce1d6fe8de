package textutil

import (
	"strings"

	"golang.org/x/text/cases"
)

var folder = cases.Fold()

// FoldKey normalises a user-supplied name for uniqueness comparison: whitespace
// is collapsed and the result is Unicode case-folded.
func FoldKey(value string) string {
	collapsed := strings.Join(strings.Fields(value), " ")
	return folder.String(collapsed)
}

// EqualFold reports whether two names are equal under FoldKey normalisation.
func EqualFold(a, b string) bool {
	return FoldKey(a) == FoldKey(b)
}
