package search

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestPrefixFunction(t *testing.T) {
	assert.Equal(t, []int{0, 0, 0, 1, 2, 0}, prefixFunction([]rune("abcabd")))
	assert.Equal(t, []int{0, 1, 2, 3}, prefixFunction([]rune("aaaa")))
	assert.Empty(t, prefixFunction(nil))
}

func TestKMPSearch(t *testing.T) {
	tests := []struct {
		name    string
		text    string
		pattern string
		want    []int
	}{
		{"overlapping", "abababa", "aba", []int{0, 2, 4}},
		{"single", "aaa bbb target ccc", "target", []int{8}},
		{"absent", "aaa bbb", "target", nil},
		{"empty pattern", "aaa", "", nil},
		{"longer than text", "ab", "abc", nil},
		{"partial restart", "aabaaab", "aaab", []int{3}},
		{"multibyte", "über straße", "straße", []int{5}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, kmpSearch([]rune(tt.text), []rune(tt.pattern)))
		})
	}
}

func TestSnippet(t *testing.T) {
	got, ok := Snippet("aaa bbb target ccc ddd", []string{"target"}, []string{"target"}, 40)
	assert.True(t, ok)
	assert.Equal(t, "... aaa bbb <b>target</b> ccc ddd ...", got)
}

func TestSnippetWidensToWhitespace(t *testing.T) {
	text := "alpha bravo charlie target delta echo foxtrot"

	got, ok := Snippet(text, []string{"target"}, []string{"target"}, 3)
	assert.True(t, ok)
	assert.Equal(t, "... charlie <b>target</b> delta ...", got)
}

func TestSnippetIsCaseInsensitive(t *testing.T) {
	got, ok := Snippet("Some TARGET words", []string{"target"}, []string{"target"}, 40)
	assert.True(t, ok)
	assert.Equal(t, "... Some <b>TARGET</b> words ...", got)
}

func TestSnippetFallsBackToLaterTerms(t *testing.T) {
	got, ok := Snippet("big city never sleeps", []string{"citi", "city"}, []string{"citi", "city", "sleep"}, 40)
	assert.True(t, ok)
	assert.Equal(t, "... big <b>city</b> never <b>sleeps</b> ...", got)
}

func TestSnippetNotFound(t *testing.T) {
	_, ok := Snippet("nothing here", []string{"target"}, nil, 40)
	assert.False(t, ok)
}

func TestHighlight(t *testing.T) {
	tests := []struct {
		name  string
		text  string
		terms []string
		want  string
	}{
		{"whole word from stem", "Dogs bark at dogma", []string{"dog"}, "<b>Dogs</b> bark at <b>dogma</b>"},
		{"not inside a word", "hotdog stand", []string{"dog"}, "hotdog stand"},
		{"overlapping terms", "running late", []string{"run", "running"}, "<b>running</b> late"},
		{"several terms", "cat and dog", []string{"dog", "cat"}, "<b>cat</b> and <b>dog</b>"},
		{"no terms", "cat", nil, "cat"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Highlight(tt.text, tt.terms))
		})
	}
}
