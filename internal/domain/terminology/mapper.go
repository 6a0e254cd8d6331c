package terminology

import (
	"fmt"
	"strings"
)

// Mapper resolves normalized condition phrases to coded terms. It is built
// once and never mutated, so it is safe for concurrent use without locking.
type Mapper struct {
	index    map[string]ConditionTerm
	entries  []Entry
	maxWords int
}

// NewMapper indexes every phrase of every entry under its normalized form.
// Two entries claiming the same phrase with different codes is an error.
func NewMapper(entries []Entry) (*Mapper, error) {
	m := &Mapper{
		index:   make(map[string]ConditionTerm),
		entries: make([]Entry, 0, len(entries)),
	}
	for _, e := range entries {
		if e.Code == "" {
			return nil, fmt.Errorf("condition %q has no code", e.CanonicalTerm)
		}
		if e.System == "" {
			e.System = SystemSNOMED
		}
		for _, phrase := range e.Phrases() {
			key := NormalizePhrase(phrase)
			if key == "" {
				continue
			}
			if existing, ok := m.index[key]; ok {
				if existing.Code != e.Code {
					return nil, fmt.Errorf("phrase %q maps to both %s and %s", key, existing.Code, e.Code)
				}
				continue
			}
			m.index[key] = e.term(key)
			if words := strings.Count(key, " ") + 1; words > m.maxWords {
				m.maxWords = words
			}
		}
		m.entries = append(m.entries, e)
	}
	return m, nil
}

// MustNewMapper is NewMapper for tables known to be valid at compile time.
func MustNewMapper(entries []Entry) *Mapper {
	m, err := NewMapper(entries)
	if err != nil {
		panic(err)
	}
	return m
}

var defaultMapper = MustNewMapper(DefaultEntries())

// DefaultMapper returns the process-wide mapper over the built-in table.
func DefaultMapper() *Mapper {
	return defaultMapper
}

// Lookup resolves a phrase. The phrase is normalized first, so callers may
// pass raw text or an already lemmatized key.
func (m *Mapper) Lookup(phrase string) (ConditionTerm, bool) {
	t, ok := m.index[NormalizePhrase(phrase)]
	return t, ok
}

// MaxPhraseWords is the length of the longest indexed phrase in words.
func (m *Mapper) MaxPhraseWords() int {
	return m.maxWords
}

// Entries returns a copy of the table rows in load order.
func (m *Mapper) Entries() []Entry {
	out := make([]Entry, len(m.entries))
	copy(out, m.entries)
	return out
}

// Len returns the number of indexed phrases.
func (m *Mapper) Len() int {
	return len(m.index)
}
