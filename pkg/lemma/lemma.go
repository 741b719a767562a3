// Package lemma turns text into normalized word forms.
//
// Tokens are lower-cased, stripped of everything but Latin letters and
// whitespace, and reduced to their stem with the snowball english stemmer.
// Function words (conjunctions, prepositions, interjections and articles)
// carry no content and are dropped from page text; queries keep them as-is.
package lemma

import (
	"strings"
	"unicode"

	"github.com/kljensen/snowball/english"
)

type Set map[string]struct{}

func (s Set) Slice() []string {
	out := make([]string, 0, len(s))
	for k := range s {
		out = append(out, k)
	}
	return out
}

// Extract counts the normal forms of every content word in text.
func Extract(text string) map[string]int {
	counts := make(map[string]int)
	for _, token := range tokenize(text) {
		if isFunctionWord(Analyze(token)) {
			continue
		}

		normal := NormalForm(token)
		if normal == "" {
			continue
		}
		counts[normal]++
	}
	return counts
}

// ExtractPage sums the occurrences found in a page title and its body.
func ExtractPage(title, body string) map[string]int {
	counts := Extract(title)
	for lemma, n := range Extract(body) {
		counts[lemma] += n
	}
	return counts
}

// ExtractDistinct returns the distinct normal forms of a query. Function
// words are kept unchanged so no query token is silently lost.
func ExtractDistinct(text string) Set {
	set := make(Set)
	for lemma := range Surfaces(text) {
		set[lemma] = struct{}{}
	}
	return set
}

// Surfaces maps each query lemma to the tokens of text that produced it, in
// order of first appearance.
func Surfaces(text string) map[string][]string {
	out := make(map[string][]string)
	for _, token := range tokenize(text) {
		lemma := token
		if !isFunctionWord(Analyze(token)) {
			lemma = NormalForm(token)
		}
		if lemma == "" {
			continue
		}

		if !contains(out[lemma], token) {
			out[lemma] = append(out[lemma], token)
		}
	}
	return out
}

func NormalForm(token string) string {
	return english.Stem(token, false)
}

func tokenize(text string) []string {
	cleaned := strings.Map(func(r rune) rune {
		r = unicode.ToLower(r)
		switch {
		case unicode.IsSpace(r):
			return ' '
		case unicode.IsLetter(r) && unicode.Is(unicode.Latin, r):
			return r
		default:
			return -1
		}
	}, text)

	return strings.Fields(cleaned)
}

func contains(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}
