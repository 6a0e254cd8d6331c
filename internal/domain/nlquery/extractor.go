package nlquery

import (
	"strconv"
	"strings"

	"github.com/ehr/nlq/internal/domain/terminology"
	"github.com/ehr/nlq/pkg/fhirmodels"
)

// Gender cue lemmas. Female cues are checked first so that "female" is never
// read as "male".
var (
	femaleCues = map[string]bool{"female": true, "woman": true, "girl": true, "lady": true}
	maleCues   = map[string]bool{"male": true, "man": true, "boy": true, "gentleman": true, "gentlemen": true}
)

var aggregateCues = map[string]bool{"average": true, "mean": true, "median": true}

// Comparison cues. A single-word cue is followed directly by the number, a
// two-word cue is the word plus "than".
var (
	greaterCues     = map[string]bool{"over": true, "above": true}
	greaterThanCues = map[string]bool{"more": true, "greater": true, "older": true}
	lessCues        = map[string]bool{"under": true, "below": true}
	lessThanCues    = map[string]bool{"less": true, "younger": true, "fewer": true}
)

// Words allowed between a comparison cue and its number ("over the age of 50").
var ageFiller = map[string]bool{"the": true, "age": true, "of": true, "aged": true}

const maxFiller = 3

var unitWords = map[string]int{
	"zero": 0, "one": 1, "two": 2, "three": 3, "four": 4, "five": 5,
	"six": 6, "seven": 7, "eight": 8, "nine": 9, "ten": 10,
	"eleven": 11, "twelve": 12, "thirteen": 13, "fourteen": 14, "fifteen": 15,
	"sixteen": 16, "seventeen": 17, "eighteen": 18, "nineteen": 19,
}

var tensWords = map[string]int{
	"twenty": 20, "thirty": 30, "forty": 40, "fifty": 50,
	"sixty": 60, "seventy": 70, "eighty": 80, "ninety": 90,
}

// Extractor reads structured intent out of a free-text question. It holds
// no per-call state and is safe for concurrent use.
type Extractor struct {
	mapper *terminology.Mapper
}

// NewExtractor creates an extractor over mapper; nil selects the built-in
// condition table.
func NewExtractor(mapper *terminology.Mapper) *Extractor {
	if mapper == nil {
		mapper = terminology.DefaultMapper()
	}
	return &Extractor{mapper: mapper}
}

// Extract never fails. Text with nothing recognizable yields the default
// intent: no conditions, no age filter, no gender, search, Patient.
func (x *Extractor) Extract(text string) ExtractedIntent {
	intent := NewExtractedIntent()

	tokens := terminology.Tokenize(text)
	lemmas := make([]string, len(tokens))
	for i, t := range tokens {
		lemmas[i] = terminology.Lemmatize(t)
	}

	intent.Conditions = x.conditions(lemmas)
	intent.AgeFilters = ageFilters(tokens)
	intent.Gender = gender(lemmas)
	intent.QueryIntent = classify(lemmas)
	if len(intent.Conditions) > 0 {
		intent.ResourceTypes = append(intent.ResourceTypes, fhirmodels.ResourceCondition)
	}
	return intent
}

// conditions scans the lemmas left to right, trying the longest phrase
// window first at each position. Matched tokens are consumed. Results are
// unique by code in order of first appearance.
func (x *Extractor) conditions(lemmas []string) []terminology.ConditionTerm {
	found := []terminology.ConditionTerm{}
	seen := make(map[string]bool)
	maxWords := x.mapper.MaxPhraseWords()

	for i := 0; i < len(lemmas); {
		width := maxWords
		if rest := len(lemmas) - i; rest < width {
			width = rest
		}
		matched := 0
		for n := width; n >= 1; n-- {
			term, ok := x.mapper.Lookup(strings.Join(lemmas[i:i+n], " "))
			if !ok {
				continue
			}
			if !seen[term.Code] {
				seen[term.Code] = true
				found = append(found, term)
			}
			matched = n
			break
		}
		if matched == 0 {
			matched = 1
		}
		i += matched
	}
	return found
}

// ageFilters returns every age constraint in the order it appears.
func ageFilters(tokens []string) []AgeFilter {
	filters := []AgeFilter{}
	for i := 0; i < len(tokens); i++ {
		tok := tokens[i]
		switch {
		case tok == "between":
			lo, n, ok := parseNumber(tokens, i+1)
			if !ok {
				continue
			}
			j := i + 1 + n
			if j >= len(tokens) || (tokens[j] != "and" && tokens[j] != "to") {
				continue
			}
			hi, m, ok := parseNumber(tokens, j+1)
			if !ok {
				continue
			}
			filters = append(filters, Between(lo, hi))
			i = j + m

		case greaterCues[tok], lessCues[tok]:
			if v, end, ok := numberAfterCue(tokens, i+1); ok {
				filters = append(filters, comparison(greaterCues[tok], v))
				i = end - 1
			}

		case greaterThanCues[tok], lessThanCues[tok]:
			if i+1 < len(tokens) && tokens[i+1] == "than" {
				if v, end, ok := numberAfterCue(tokens, i+2); ok {
					filters = append(filters, comparison(greaterThanCues[tok], v))
					i = end - 1
				}
			}
		}
	}
	return filters
}

func comparison(greater bool, years int) AgeFilter {
	if greater {
		return OlderThan(years)
	}
	return YoungerThan(years)
}

// numberAfterCue parses the number following a comparison cue, skipping a
// few filler words. It returns the index just past the number.
func numberAfterCue(tokens []string, start int) (int, int, bool) {
	i := start
	for skipped := 0; i < len(tokens) && ageFiller[tokens[i]] && skipped < maxFiller; skipped++ {
		i++
	}
	v, n, ok := parseNumber(tokens, i)
	if !ok {
		return 0, 0, false
	}
	return v, i + n, true
}

// parseNumber reads a number written as digits ("65") or words ("sixty
// five", "eighteen") at tokens[i]. It returns the value and how many tokens
// it spans.
func parseNumber(tokens []string, i int) (int, int, bool) {
	if i >= len(tokens) {
		return 0, 0, false
	}
	tok := tokens[i]
	if v, err := strconv.Atoi(tok); err == nil {
		return v, 1, true
	}
	if v, ok := unitWords[tok]; ok {
		return v, 1, true
	}
	if v, ok := tensWords[tok]; ok {
		if i+1 < len(tokens) {
			if u, ok := unitWords[tokens[i+1]]; ok && u > 0 && u < 10 {
				return v + u, 2, true
			}
		}
		return v, 1, true
	}
	return 0, 0, false
}

func gender(lemmas []string) Gender {
	for _, l := range lemmas {
		if femaleCues[l] {
			return GenderFemale
		}
	}
	for _, l := range lemmas {
		if maleCues[l] {
			return GenderMale
		}
	}
	return GenderUnspecified
}

// classify checks count cues before aggregate cues and defaults to search.
func classify(lemmas []string) QueryIntent {
	for i, l := range lemmas {
		if l == "count" {
			return IntentCount
		}
		if i+1 < len(lemmas) {
			next := lemmas[i+1]
			if (l == "how" && next == "many") || (l == "number" && next == "of") {
				return IntentCount
			}
		}
	}
	for _, l := range lemmas {
		if aggregateCues[l] {
			return IntentAggregate
		}
	}
	return IntentSearch
}
