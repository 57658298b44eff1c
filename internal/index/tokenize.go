package index

import (
	"strings"
	"unicode"
)

// defaultStopWords is the baseline English stop list; configuration may
// replace it.
var defaultStopWords = []string{
	"a", "an", "and", "are", "as", "at", "be", "but", "by", "for", "if",
	"in", "into", "is", "it", "no", "not", "of", "on", "or", "such",
	"that", "the", "their", "then", "there", "these", "they", "this",
	"to", "was", "will", "with",
}

// tokenize splits text on Unicode word boundaries and casefolds. Hashtag
// and mention sigils survive as part of their token so filters can match
// them.
func tokenize(text string) []string {
	fields := strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsNumber(r) && r != '#' && r != '@'
	})
	out := fields[:0]
	for _, f := range fields {
		if f == "#" || f == "@" {
			continue
		}
		out = append(out, f)
	}
	return out
}

// stem applies light suffix stripping, enough to conflate plural and
// progressive forms without a dictionary.
func stem(token string) string {
	for _, suffix := range []string{"ing", "ed", "es", "s"} {
		if strings.HasSuffix(token, suffix) && len(token) > len(suffix)+2 {
			return token[:len(token)-len(suffix)]
		}
	}
	return token
}

// analyzer folds tokenization, stop-word removal and stemming.
type analyzer struct {
	stop     map[string]struct{}
	stemming bool
}

func newAnalyzer(stopWords []string, stemming bool) *analyzer {
	if stopWords == nil {
		stopWords = defaultStopWords
	}
	stop := make(map[string]struct{}, len(stopWords))
	for _, w := range stopWords {
		stop[strings.ToLower(w)] = struct{}{}
	}
	return &analyzer{stop: stop, stemming: stemming}
}

// terms returns index terms with their word positions in the original text.
func (a *analyzer) terms(text string) map[string][]int {
	out := make(map[string][]int)
	for pos, tok := range tokenize(text) {
		if _, skip := a.stop[tok]; skip {
			continue
		}
		if a.stemming {
			tok = stem(tok)
		}
		out[tok] = append(out[tok], pos)
	}
	return out
}

// queryTerms analyzes a query string preserving order and duplicates.
func (a *analyzer) queryTerms(q string) []string {
	var out []string
	for _, tok := range tokenize(q) {
		if _, skip := a.stop[tok]; skip {
			continue
		}
		if a.stemming {
			tok = stem(tok)
		}
		out = append(out, tok)
	}
	return out
}
