package nlquery

import (
	"bytes"
	"encoding/json"
	"fmt"

	"github.com/ehr/nlq/internal/domain/terminology"
	"github.com/ehr/nlq/internal/platform/fhir"
	"github.com/ehr/nlq/pkg/fhirmodels"
)

// QueryIntent classifies what the question asks for.
type QueryIntent string

const (
	IntentSearch    QueryIntent = "search"
	IntentCount     QueryIntent = "count"
	IntentAggregate QueryIntent = "aggregate"
)

// Gender is the administrative gender a question restricts to. The zero
// value means no restriction and serializes as null.
type Gender string

const (
	GenderUnspecified Gender = ""
	GenderMale        Gender = fhirmodels.GenderMale
	GenderFemale      Gender = fhirmodels.GenderFemale
)

func (g Gender) MarshalJSON() ([]byte, error) {
	if g == GenderUnspecified {
		return []byte("null"), nil
	}
	return json.Marshal(string(g))
}

func (g *Gender) UnmarshalJSON(data []byte) error {
	if bytes.Equal(data, []byte("null")) {
		*g = GenderUnspecified
		return nil
	}
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	*g = Gender(s)
	return nil
}

// AgeOperator is the comparison an AgeFilter applies.
type AgeOperator string

const (
	AgeGreaterThan AgeOperator = ">"
	AgeLessThan    AgeOperator = "<"
	AgeRange       AgeOperator = "range"
)

// AgeFilter is a constraint on patient age in years. Greater-than and
// less-than carry Value; range carries Min and Max with Min <= Max.
type AgeFilter struct {
	Operator AgeOperator `json:"operator"`
	Value    *int        `json:"value,omitempty"`
	Min      *int        `json:"min,omitempty"`
	Max      *int        `json:"max,omitempty"`
}

// OlderThan returns a greater-than filter.
func OlderThan(years int) AgeFilter {
	return AgeFilter{Operator: AgeGreaterThan, Value: &years}
}

// YoungerThan returns a less-than filter.
func YoungerThan(years int) AgeFilter {
	return AgeFilter{Operator: AgeLessThan, Value: &years}
}

// Between returns a range filter. Bounds given in descending order are
// swapped.
func Between(a, b int) AgeFilter {
	if a > b {
		a, b = b, a
	}
	return AgeFilter{Operator: AgeRange, Min: &a, Max: &b}
}

// Validate checks that the filter carries the fields its operator needs.
func (f AgeFilter) Validate() error {
	switch f.Operator {
	case AgeGreaterThan, AgeLessThan:
		if f.Value == nil {
			return fmt.Errorf("age filter %q requires a value", f.Operator)
		}
		if *f.Value < 0 {
			return fmt.Errorf("age filter value must not be negative")
		}
	case AgeRange:
		if f.Min == nil || f.Max == nil {
			return fmt.Errorf("age range requires min and max")
		}
		if *f.Min > *f.Max {
			return fmt.Errorf("age range min %d exceeds max %d", *f.Min, *f.Max)
		}
	default:
		return fmt.Errorf("unknown age operator %q", f.Operator)
	}
	return nil
}

// ExtractedIntent is the structured reading of one question.
type ExtractedIntent struct {
	Conditions    []terminology.ConditionTerm `json:"conditions"`
	AgeFilters    []AgeFilter                 `json:"age_filters"`
	Gender        Gender                      `json:"gender"`
	QueryIntent   QueryIntent                 `json:"query_intent"`
	ResourceTypes []string                    `json:"resource_types"`
}

// NewExtractedIntent returns the intent of a question with no recognized
// entities.
func NewExtractedIntent() ExtractedIntent {
	return ExtractedIntent{
		Conditions:    []terminology.ConditionTerm{},
		AgeFilters:    []AgeFilter{},
		QueryIntent:   IntentSearch,
		ResourceTypes: []string{fhirmodels.ResourcePatient},
	}
}

// ConditionCodes returns the codes of the extracted conditions in order.
func (e ExtractedIntent) ConditionCodes() []string {
	codes := make([]string, len(e.Conditions))
	for i, c := range e.Conditions {
		codes[i] = c.Code
	}
	return codes
}

// PrimaryAgeFilter returns the filter that compilation honors: the first one.
func (e ExtractedIntent) PrimaryAgeFilter() (AgeFilter, bool) {
	if len(e.AgeFilters) == 0 {
		return AgeFilter{}, false
	}
	return e.AgeFilters[0], true
}

// Param is one search parameter. Several values under one name are sent as
// repeated parameters.
type Param struct {
	Name   string
	Values []string
}

// Params is an ordered parameter set.
type Params []Param

// Add appends values under name, skipping empty values. Values for a name
// already present are appended to it.
func (p *Params) Add(name string, values ...string) {
	kept := make([]string, 0, len(values))
	for _, v := range values {
		if v != "" {
			kept = append(kept, v)
		}
	}
	if name == "" || len(kept) == 0 {
		return
	}
	for i := range *p {
		if (*p)[i].Name == name {
			(*p)[i].Values = append((*p)[i].Values, kept...)
			return
		}
	}
	*p = append(*p, Param{Name: name, Values: kept})
}

// Get returns the values of name, or nil.
func (p Params) Get(name string) []string {
	for _, param := range p {
		if param.Name == name {
			return param.Values
		}
	}
	return nil
}

// Has reports whether name is present.
func (p Params) Has(name string) bool {
	return p.Get(name) != nil
}

// MarshalJSON writes an object in parameter order. A single value is a
// string, several values are an array.
func (p Params) MarshalJSON() ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte('{')
	for i, param := range p {
		if i > 0 {
			buf.WriteByte(',')
		}
		key, err := json.Marshal(param.Name)
		if err != nil {
			return nil, err
		}
		buf.Write(key)
		buf.WriteByte(':')

		var val []byte
		if len(param.Values) == 1 {
			val, err = json.Marshal(param.Values[0])
		} else {
			val, err = json.Marshal(param.Values)
		}
		if err != nil {
			return nil, err
		}
		buf.Write(val)
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}

// CompiledQuery is a provider-neutral FHIR search.
type CompiledQuery struct {
	ResourceType string   `json:"resourceType"`
	Parameters   Params   `json:"parameters"`
	Include      []string `json:"_include"`
	ResultCap    int      `json:"_count"`
}

// Translation is a question read and compiled, but not executed.
type Translation struct {
	OriginalQuery   string          `json:"original_query"`
	ExtractedIntent ExtractedIntent `json:"extracted_entities"`
	CompiledQuery   CompiledQuery   `json:"fhir_query"`
	RequestURL      string          `json:"fhir_url"`
}

// FetchSummary reports how retrieval went. A partial fetch is not an error
// to the caller; Error carries the cause for diagnostics.
type FetchSummary struct {
	State   fhir.FetchState `json:"state"`
	Pages   int             `json:"pages"`
	Total   *int            `json:"total,omitempty"`
	Partial bool            `json:"partial"`
	Error   string          `json:"error,omitempty"`
}

// PipelineResult is the full answer to one question.
type PipelineResult struct {
	Translation
	Records []fhir.Record `json:"results"`
	Fetch   FetchSummary  `json:"fetch"`
}
