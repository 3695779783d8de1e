package analysis

import (
	"strings"
	"unicode"
)

// stopwords are dropped during tokenization. The list is fixed so that
// scores stay comparable between runs.
var stopwords = map[string]struct{}{
	"a": {}, "an": {}, "and": {}, "are": {}, "as": {}, "at": {},
	"be": {}, "but": {}, "by": {}, "can": {}, "do": {}, "for": {},
	"from": {}, "had": {}, "has": {}, "have": {}, "he": {}, "her": {},
	"his": {}, "how": {}, "i": {}, "if": {}, "in": {}, "is": {},
	"it": {}, "its": {}, "just": {}, "me": {}, "my": {}, "no": {},
	"not": {}, "of": {}, "on": {}, "or": {}, "our": {}, "she": {},
	"so": {}, "that": {}, "the": {}, "their": {}, "them": {},
	"then": {}, "there": {}, "they": {}, "this": {}, "to": {},
	"was": {}, "we": {}, "were": {}, "what": {}, "when": {},
	"which": {}, "who": {}, "will": {}, "with": {}, "you": {},
	"your": {},
}

// tokenize splits text into lowercase terms, stripping punctuation and
// dropping stopwords and single-character tokens. No stemming is
// applied; consistency between runs matters more than recall here.
func tokenize(text string) []string {
	fields := strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsNumber(r)
	})

	tokens := make([]string, 0, len(fields))
	for _, f := range fields {
		if len(f) < 2 {
			continue
		}
		if _, skip := stopwords[f]; skip {
			continue
		}
		tokens = append(tokens, f)
	}

	return tokens
}

// termFrequencies counts term occurrences in one document, normalized
// by document length
func termFrequencies(tokens []string) map[string]float64 {
	if len(tokens) == 0 {
		return nil
	}

	counts := make(map[string]float64, len(tokens))
	for _, t := range tokens {
		counts[t]++
	}

	total := float64(len(tokens))
	for t := range counts {
		counts[t] /= total
	}

	return counts
}
