package search

import (
	"sort"
	"strings"
	"unicode"
)

const (
	ellipsis  = "..."
	markOpen  = "<b>"
	markClose = "</b>"
)

// prefixFunction returns, for every prefix of p, the length of its longest
// proper prefix that is also a suffix.
func prefixFunction(p []rune) []int {
	pi := make([]int, len(p))
	for i := 1; i < len(p); i++ {
		k := pi[i-1]
		for k > 0 && p[i] != p[k] {
			k = pi[k-1]
		}
		if p[i] == p[k] {
			k++
		}
		pi[i] = k
	}
	return pi
}

// kmpSearch returns the start offsets of every occurrence of pattern in
// text, in linear time.
func kmpSearch(text, pattern []rune) []int {
	if len(pattern) == 0 || len(pattern) > len(text) {
		return nil
	}

	pi := prefixFunction(pattern)
	var found []int
	k := 0
	for i, r := range text {
		for k > 0 && r != pattern[k] {
			k = pi[k-1]
		}
		if r == pattern[k] {
			k++
		}
		if k == len(pattern) {
			found = append(found, i-k+1)
			k = pi[k-1]
		}
	}
	return found
}

func lowerRunes(s string) []rune {
	rs := []rune(s)
	for i, r := range rs {
		rs[i] = unicode.ToLower(r)
	}
	return rs
}

func isWordRune(r rune) bool {
	return unicode.IsLetter(r) || unicode.IsDigit(r)
}

// Snippet cuts a window of about border characters on each side of the
// first occurrence of the first term found in text. The window is widened to
// whitespace so no word is cut, and the terms in highlight are marked.
func Snippet(text string, terms []string, highlight []string, border int) (string, bool) {
	runes := []rune(text)
	lower := lowerRunes(text)

	at, length := -1, 0
	for _, term := range terms {
		pattern := lowerRunes(term)
		if found := kmpSearch(lower, pattern); len(found) > 0 {
			at, length = found[0], len(pattern)
			break
		}
	}
	if at < 0 {
		return "", false
	}

	start := max(at-border, 0)
	for start > 0 && !unicode.IsSpace(runes[start-1]) {
		start--
	}
	end := min(at+length+border, len(runes))
	for end < len(runes) && !unicode.IsSpace(runes[end]) {
		end++
	}

	window := strings.TrimSpace(string(runes[start:end]))
	return ellipsis + " " + Highlight(window, highlight) + " " + ellipsis, true
}

type span struct{ from, to int }

// Highlight wraps every word of text that starts with one of terms in
// emphasis markers.
func Highlight(text string, terms []string) string {
	runes := []rune(text)
	lower := lowerRunes(text)

	var spans []span
	for _, term := range terms {
		for _, at := range kmpSearch(lower, lowerRunes(term)) {
			if at > 0 && isWordRune(runes[at-1]) {
				continue
			}
			end := at + len([]rune(term))
			for end < len(runes) && isWordRune(runes[end]) {
				end++
			}
			spans = append(spans, span{at, end})
		}
	}
	if len(spans) == 0 {
		return text
	}

	sort.Slice(spans, func(i, j int) bool { return spans[i].from < spans[j].from })
	merged := spans[:1]
	for _, s := range spans[1:] {
		last := &merged[len(merged)-1]
		if s.from <= last.to {
			last.to = max(last.to, s.to)
			continue
		}
		merged = append(merged, s)
	}

	var sb strings.Builder
	prev := 0
	for _, s := range merged {
		sb.WriteString(string(runes[prev:s.from]))
		sb.WriteString(markOpen)
		sb.WriteString(string(runes[s.from:s.to]))
		sb.WriteString(markClose)
		prev = s.to
	}
	sb.WriteString(string(runes[prev:]))
	return sb.String()
}
