package risk

import (
	"regexp"
	"strings"
	"unicode/utf8"
)

const (
	// units shorter than this (in characters) are fragments, not sentences
	minSentenceLen = 12
	// maxExcerptLen bounds Finding.MatchedText including truncation markers
	maxExcerptLen = 500
	ellipsis      = "..."
)

var (
	horizontalSpace = regexp.MustCompile(`[ \t\f\v\x{00A0}]+`)
	paragraphBreak  = regexp.MustCompile(`\n\s*\n`)
)

// NormalizeText collapses whitespace while keeping paragraph breaks.
// Lines inside a paragraph are joined with a single space; paragraphs are
// separated by exactly one blank line.
func NormalizeText(s string) string {
	s = strings.ReplaceAll(s, "\r\n", "\n")
	s = strings.ReplaceAll(s, "\r", "\n")
	paras := paragraphBreak.Split(s, -1)
	out := make([]string, 0, len(paras))
	for _, p := range paras {
		lines := strings.Split(p, "\n")
		kept := lines[:0]
		for _, l := range lines {
			l = strings.TrimSpace(horizontalSpace.ReplaceAllString(l, " "))
			if l != "" {
				kept = append(kept, l)
			}
		}
		if len(kept) > 0 {
			out = append(out, strings.Join(kept, " "))
		}
	}
	return strings.Join(out, "\n\n")
}

type span struct{ start, end int }

// sentenceSpans splits normalized text into sentence-like units and drops
// fragments. Offsets are byte positions into text.
func sentenceSpans(text string) []span {
	var out []span
	start := 0
	emit := func(end int) {
		s, e := start, end
		for s < e && isSpace(text[s]) {
			s++
		}
		for e > s && isSpace(text[e-1]) {
			e--
		}
		if utf8.RuneCountInString(text[s:e]) >= minSentenceLen {
			out = append(out, span{s, e})
		}
		start = end
	}
	for i := 0; i < len(text); i++ {
		switch text[i] {
		case '.', '!', '?':
			j := i + 1
			for j < len(text) && strings.IndexByte(`"')]`, text[j]) >= 0 {
				j++
			}
			if j == len(text) || isSpace(text[j]) {
				emit(j)
				i = j - 1
			}
		case '\n':
			if i+1 < len(text) && text[i+1] == '\n' {
				emit(i)
			}
		}
	}
	if start < len(text) {
		emit(len(text))
	}
	return out
}

// SplitSentences returns the sentence-like units of already normalized text.
func SplitSentences(text string) []string {
	spans := sentenceSpans(text)
	out := make([]string, len(spans))
	for i, sp := range spans {
		out[i] = text[sp.start:sp.end]
	}
	return out
}

func isSpace(b byte) bool { return b == ' ' || b == '\n' || b == '\t' }

// clipAround shortens s to at most limit characters keeping the byte range
// [mStart, mEnd) visible, marking each clipped end with an ellipsis.
func clipAround(s string, mStart, mEnd, limit int) string {
	total := utf8.RuneCountInString(s)
	if total <= limit {
		return s
	}
	r := []rune(s)
	rs := utf8.RuneCountInString(s[:mStart])
	re := utf8.RuneCountInString(s[:mEnd])
	budget := limit - 2*len(ellipsis)

	from := rs
	if slack := budget - (re - rs); slack > 0 {
		from = rs - slack/2
	}
	if from < 0 {
		from = 0
	}
	to := from + budget
	if to > total {
		to = total
		if from = to - budget; from < 0 {
			from = 0
		}
	}

	out := strings.TrimSpace(string(r[from:to]))
	if from > 0 {
		out = ellipsis + out
	}
	if to < total {
		out += ellipsis
	}
	return out
}

// runeWindow expands [start, end) by up to n bytes on each side, staying on
// rune boundaries.
func runeWindow(s string, start, end, n int) (int, int) {
	from := start - n
	if from < 0 {
		from = 0
	}
	for from > 0 && !utf8.RuneStart(s[from]) {
		from--
	}
	to := end + n
	if to > len(s) {
		to = len(s)
	}
	for to < len(s) && !utf8.RuneStart(s[to]) {
		to++
	}
	return from, to
}
