package terminology

import (
	"strings"
	"unicode"
)

var irregularLemmas = map[string]string{
	"men":       "man",
	"women":     "woman",
	"children":  "child",
	"people":    "person",
	"diagnoses": "diagnosis",
	"ladies":    "lady",
}

// Words ending in "s" that are not plurals.
var invariantLemmas = map[string]bool{
	"diabetes": true,
	"mellitus": true,
	"herpes":   true,
	"measles":  true,
	"mumps":    true,
	"rabies":   true,
	"scabies":  true,
	"rickets":  true,
	"series":   true,
	"species":  true,
	"news":     true,
	"aids":     true,
	"this":     true,
	"does":     true,
	"always":   true,
}

// Tokenize lower-cases text and splits it on anything that is not a letter
// or a digit.
func Tokenize(text string) []string {
	return strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
}

// Lemmatize reduces a lower-case token to its dictionary form. The rules
// only fold plural inflection; derivational variants such as "diabetic"
// are listed explicitly in the condition table. Lemmatize is idempotent.
func Lemmatize(token string) string {
	if lemma, ok := irregularLemmas[token]; ok {
		return lemma
	}
	if invariantLemmas[token] || len(token) <= 3 {
		return token
	}
	n := len(token)
	switch {
	case strings.HasSuffix(token, "ies"):
		return token[:n-3] + "y"
	case strings.HasSuffix(token, "sses"):
		return token[:n-2]
	case strings.HasSuffix(token, "ss"), strings.HasSuffix(token, "us"), strings.HasSuffix(token, "is"):
		return token
	case strings.HasSuffix(token, "s"):
		return token[:n-1]
	}
	return token
}

// Lemmas tokenizes text and lemmatizes every token.
func Lemmas(text string) []string {
	tokens := Tokenize(text)
	for i, t := range tokens {
		tokens[i] = Lemmatize(t)
	}
	return tokens
}

// NormalizePhrase returns the lookup key for a phrase: its lemmas joined by
// single spaces.
func NormalizePhrase(phrase string) string {
	return strings.Join(Lemmas(phrase), " ")
}
