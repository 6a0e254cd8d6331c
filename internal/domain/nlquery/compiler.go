package nlquery

import (
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/ehr/nlq/internal/platform/fhir"
	"github.com/ehr/nlq/pkg/fhirmodels"
	"github.com/ehr/nlq/pkg/pagination"
)

// conditionLink filters patients by the code of a Condition that references
// them.
var conditionLink = fhir.HasParam{
	TargetType:  fhirmodels.ResourceCondition,
	TargetParam: fhirmodels.ConditionSubject,
	SearchParam: "code",
}

// conditionInclude returns the linked Condition resources with the patients.
var conditionInclude = fhir.IncludeParam{
	SourceType:  fhirmodels.ResourceCondition,
	SearchParam: fhirmodels.ConditionSubject,
}

// Compiler turns an ExtractedIntent into a FHIR search. Compile is a pure
// function of the intent and the clock's current year.
type Compiler struct {
	resultCap int
	now       func() time.Time
}

// NewCompiler creates a compiler. A resultCap below 1 selects the default
// cap; a nil clock selects time.Now.
func NewCompiler(resultCap int, now func() time.Time) *Compiler {
	if resultCap < 1 {
		resultCap = pagination.DefaultResultCap
	}
	if now == nil {
		now = time.Now
	}
	return &Compiler{resultCap: resultCap, now: now}
}

// ResultCap returns the cap put on every compiled query.
func (c *Compiler) ResultCap() int {
	return c.resultCap
}

// Compile builds the search. Parameters are added in a fixed order: the
// condition link, birthdate bounds, gender.
func (c *Compiler) Compile(intent ExtractedIntent) CompiledQuery {
	q := CompiledQuery{
		ResourceType: fhirmodels.ResourcePatient,
		Parameters:   Params{},
		Include:      []string{},
		ResultCap:    c.resultCap,
	}
	if len(intent.ResourceTypes) > 0 && intent.ResourceTypes[0] != "" {
		q.ResourceType = intent.ResourceTypes[0]
	}

	if len(intent.Conditions) > 0 {
		q.Parameters.Add(conditionLink.Name(), strings.Join(intent.ConditionCodes(), ","))
		q.Include = append(q.Include, conditionInclude.String())
	}

	if f, ok := intent.PrimaryAgeFilter(); ok && f.Validate() == nil {
		q.Parameters.Add(fhirmodels.ParamBirthdate, birthdateBounds(f, c.now().Year())...)
	}

	if intent.Gender != GenderUnspecified {
		q.Parameters.Add(fhirmodels.ParamGender, string(intent.Gender))
	}
	return q
}

// birthdateBounds converts an age filter into birth date bounds relative to
// year. Someone older than N was born on or before the last day of year-N;
// someone younger than N on or after the first day of year-N. Birth years
// stop at 1, the earliest FHIR date.
func birthdateBounds(f AgeFilter, year int) []string {
	born := func(age int) int {
		if y := year - age; y > 1 {
			return y
		}
		return 1
	}
	switch f.Operator {
	case AgeGreaterThan:
		return []string{fhir.DateValue(fhir.PrefixLe, born(*f.Value), time.December, 31)}
	case AgeLessThan:
		return []string{fhir.DateValue(fhir.PrefixGe, born(*f.Value), time.January, 1)}
	case AgeRange:
		return []string{
			fhir.DateValue(fhir.PrefixGe, born(*f.Max), time.January, 1),
			fhir.DateValue(fhir.PrefixLe, born(*f.Min), time.December, 31),
		}
	}
	return nil
}

// Characters left unescaped in rendered values for readability.
var valueUnescaper = strings.NewReplacer("%2C", ",", "%3A", ":")

// RenderURL renders the search as a GET URL under baseURL. Parameters keep
// their compiled order, multi-valued parameters repeat the key, and the
// include directives and _count come last. The output depends only on q
// and baseURL.
func RenderURL(q CompiledQuery, baseURL string) string {
	var b strings.Builder
	b.WriteString(strings.TrimRight(baseURL, "/"))
	b.WriteByte('/')
	b.WriteString(q.ResourceType)

	sep := byte('?')
	write := func(name, value string) {
		b.WriteByte(sep)
		sep = '&'
		b.WriteString(name)
		b.WriteByte('=')
		b.WriteString(valueUnescaper.Replace(url.QueryEscape(value)))
	}

	for _, p := range q.Parameters {
		for _, v := range p.Values {
			write(p.Name, v)
		}
	}
	for _, inc := range q.Include {
		write(fhirmodels.ParamInclude, inc)
	}
	if q.ResultCap > 0 {
		write(fhirmodels.ParamCount, strconv.Itoa(q.ResultCap))
	}
	return b.String()
}
