package terminology

import "github.com/ehr/nlq/pkg/fhirmodels"

// Coding system URIs.
const (
	SystemSNOMED = fhirmodels.SystemSNOMED
	SystemICD10  = fhirmodels.SystemICD10
)

// ConditionTerm is a resolved condition: the phrase that matched plus the
// coded concept it maps to.
type ConditionTerm struct {
	Phrase        string `json:"term"`
	CanonicalTerm string `json:"canonical_term"`
	Code          string `json:"code"`
	CodingSystem  string `json:"system"`
	DisplayName   string `json:"display"`
}

// Entry is one row of the condition table. Variants are surface forms that
// resolve to the same concept; the canonical term is always a variant of
// itself.
type Entry struct {
	CanonicalTerm string   `json:"canonical_term"`
	Code          string   `json:"code"`
	System        string   `json:"system"`
	Display       string   `json:"display"`
	Variants      []string `json:"variants,omitempty"`
}

// Phrases returns the canonical term followed by every variant.
func (e Entry) Phrases() []string {
	out := make([]string, 0, len(e.Variants)+1)
	out = append(out, e.CanonicalTerm)
	out = append(out, e.Variants...)
	return out
}

func (e Entry) term(phrase string) ConditionTerm {
	return ConditionTerm{
		Phrase:        phrase,
		CanonicalTerm: e.CanonicalTerm,
		Code:          e.Code,
		CodingSystem:  e.System,
		DisplayName:   e.Display,
	}
}
