package lemma

type PartOfSpeech int

const (
	ContentWord PartOfSpeech = iota
	Conjunction
	Preposition
	Interjection
	Article
)

func (p PartOfSpeech) String() string {
	switch p {
	case Conjunction:
		return "CONJ"
	case Preposition:
		return "PREP"
	case Interjection:
		return "INTJ"
	case Article:
		return "ART"
	default:
		return "CONTENT"
	}
}

func (p PartOfSpeech) IsFunctionWord() bool {
	return p != ContentWord
}

// Analyze returns every part of speech a lower-case token may take.
func Analyze(token string) []PartOfSpeech {
	if tags, ok := functionWords[token]; ok {
		return tags
	}
	return []PartOfSpeech{ContentWord}
}

func isFunctionWord(tags []PartOfSpeech) bool {
	for _, t := range tags {
		if t.IsFunctionWord() {
			return true
		}
	}
	return false
}

var functionWords = buildFunctionWords(map[PartOfSpeech][]string{
	Article: {"a", "an", "the"},
	Conjunction: {
		"and", "or", "nor", "but", "yet", "so", "because", "although", "though",
		"if", "unless", "whereas", "whether", "while", "whilst", "than", "that",
		"once", "since", "till", "until", "when", "whenever", "where", "wherever",
		"lest", "either", "neither", "both", "also",
	},
	Preposition: {
		"about", "above", "across", "after", "against", "along", "amid", "among",
		"around", "as", "at", "before", "behind", "below", "beneath", "beside",
		"besides", "between", "beyond", "by", "despite", "down", "during",
		"except", "for", "from", "in", "inside", "into", "like", "near", "of",
		"off", "on", "onto", "out", "outside", "over", "past", "per", "since",
		"through", "throughout", "to", "toward", "towards", "under", "underneath",
		"unlike", "until", "up", "upon", "via", "with", "within", "without",
	},
	Interjection: {
		"ah", "aha", "alas", "eh", "hey", "hi", "hmm", "oh", "oops", "ouch",
		"uh", "um", "wow", "yay", "hooray", "bravo", "ugh", "whoa",
	},
})

func buildFunctionWords(classes map[PartOfSpeech][]string) map[string][]PartOfSpeech {
	out := make(map[string][]PartOfSpeech)
	for pos, words := range classes {
		for _, w := range words {
			out[w] = append(out[w], pos)
		}
	}
	return out
}
