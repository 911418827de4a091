package validate

import (
	"fmt"

	"github.com/agext/levenshtein"
)

// Suggest returns the candidate closest to name when it is near enough to be
// a likely typo.
func Suggest(name string, candidates []string) (string, bool) {
	best, bestDist := "", -1
	for _, c := range candidates {
		if c == name {
			continue
		}
		d := levenshtein.Distance(name, c, nil)
		if bestDist < 0 || d < bestDist {
			best, bestDist = c, d
		}
	}
	limit := max(2, len(name)/3)
	if bestDist < 0 || bestDist > limit {
		return "", false
	}
	return best, true
}

// DidYouMean renders the trailing hint for a suggestion, or "" without one.
func DidYouMean(name string, candidates []string) string {
	if s, ok := Suggest(name, candidates); ok {
		return fmt.Sprintf("; did you mean `%s`?", s)
	}
	return ""
}
