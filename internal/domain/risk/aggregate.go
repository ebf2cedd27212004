package risk

import (
	"strings"
)

// dedupPrefixLen is how much of the matched text takes part in the dedup key
const dedupPrefixLen = 100

// DedupKey identifies equivalent findings across detectors: the category
// plus the first characters of the whitespace-collapsed, lowercased excerpt.
func DedupKey(f Finding) string {
	text := strings.ToLower(strings.Join(strings.Fields(f.MatchedText), " "))
	if r := []rune(text); len(r) > dedupPrefixLen {
		text = string(r[:dedupPrefixLen])
	}
	return strings.ToUpper(strings.TrimSpace(f.Category)) + "\x00" + text
}

// Aggregate merges finding sequences in the order given. The first finding
// seen for a key wins and relative input order is kept.
func Aggregate(sources ...[]Finding) []Finding {
	n := 0
	for _, s := range sources {
		n += len(s)
	}
	out := make([]Finding, 0, n)
	seen := make(map[string]struct{}, n)
	for _, s := range sources {
		for _, f := range s {
			k := DedupKey(f)
			if _, ok := seen[k]; ok {
				continue
			}
			seen[k] = struct{}{}
			out = append(out, f)
		}
	}
	return out
}
