package risk

import (
	"fmt"
	"sort"
	"strings"
	"unicode/utf8"
)

const (
	fragmentWindow = 200
	maxPhraseLen   = 200
)

// Matcher applies a catalog to contract text. It holds no mutable state.
type Matcher struct {
	catalog *Catalog
}

// NewMatcher builds a matcher over c, or over the default catalog when c is nil.
func NewMatcher(c *Catalog) *Matcher {
	if c == nil {
		c = DefaultCatalog()
	}
	return &Matcher{catalog: c}
}

func (m *Matcher) Catalog() *Catalog { return m.catalog }

// Match returns one finding per (pattern, containing sentence), ordered
// HIGH -> MEDIUM -> LOW with discovery order kept inside a tier.
func (m *Matcher) Match(text string) ([]Finding, error) {
	if strings.TrimSpace(text) == "" {
		return nil, &InvalidInputError{Field: "text", Reason: "must not be empty"}
	}
	norm := NormalizeText(text)
	spans := sentenceSpans(norm)

	var findings []Finding
	for _, p := range m.catalog.patterns {
		seen := make(map[int]bool)
		for _, loc := range p.re.FindAllStringIndex(norm, -1) {
			start, end := loc[0], loc[1]
			if start == end {
				continue
			}
			idx, inSentence := containing(spans, start)
			key := idx
			if !inSentence {
				// fragments are keyed by position so each stands alone
				key = -1 - start
			}
			if seen[key] {
				continue
			}
			seen[key] = true

			var excerpt string
			if inSentence {
				excerpt = contextWindow(norm, spans, idx, start, end)
			} else {
				from, to := runeWindow(norm, start, end, fragmentWindow)
				excerpt = clipAround(norm[from:to], start-from, end-from, maxExcerptLen)
				if from > 0 && !strings.HasPrefix(excerpt, ellipsis) {
					excerpt = ellipsis + strings.TrimSpace(excerpt)
				}
				if to < len(norm) && !strings.HasSuffix(excerpt, ellipsis) {
					excerpt = strings.TrimSpace(excerpt) + ellipsis
				}
			}

			findings = append(findings, Finding{
				Category:    p.Category,
				Severity:    p.Severity,
				MatchedText: excerpt,
				Explanation: explain(p.RiskPattern, norm[start:end]),
				Source:      SourcePattern,
			})
		}
	}
	SortBySeverity(findings)
	return findings, nil
}

// containing finds the sentence whose span holds byte offset pos.
func containing(spans []span, pos int) (int, bool) {
	i := sort.Search(len(spans), func(k int) bool { return spans[k].end > pos })
	if i < len(spans) && spans[i].start <= pos {
		return i, true
	}
	return i, false
}

// contextWindow joins the previous, containing and next sentences with a
// single space and clips the result around the match.
func contextWindow(text string, spans []span, idx, start, end int) string {
	cur := spans[idx]
	var b strings.Builder
	if idx > 0 {
		prev := spans[idx-1]
		b.WriteString(text[prev.start:prev.end])
		b.WriteByte(' ')
	}
	offset := b.Len() - cur.start
	b.WriteString(text[cur.start:cur.end])
	if idx+1 < len(spans) {
		next := spans[idx+1]
		b.WriteByte(' ')
		b.WriteString(text[next.start:next.end])
	}
	mEnd := end
	if mEnd > cur.end {
		mEnd = cur.end
	}
	return clipAround(b.String(), start+offset, mEnd+offset, maxExcerptLen)
}

func explain(p RiskPattern, phrase string) string {
	phrase = strings.TrimSpace(phrase)
	if utf8.RuneCountInString(phrase) > maxPhraseLen {
		phrase = string([]rune(phrase)[:maxPhraseLen]) + ellipsis
	}
	base := strings.TrimSpace(strings.ReplaceAll(p.Explanation, "{match}", phrase))
	if base == "" {
		base = fmt.Sprintf("Matched risk pattern %s.", p.Name)
	}
	return fmt.Sprintf("%s Specific concern: %q", base, phrase)
}
