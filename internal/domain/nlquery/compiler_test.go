package nlquery

import (
	"encoding/json"
	"reflect"
	"testing"
	"time"

	"github.com/ehr/nlq/internal/domain/terminology"
)

const testBaseURL = "https://hapi.fhir.org/baseR4"

func fixedClock() time.Time {
	return time.Date(2025, time.March, 14, 9, 30, 0, 0, time.UTC)
}

func newTestCompiler() *Compiler {
	return NewCompiler(100, fixedClock)
}

func TestCompile_DiabeticOver50(t *testing.T) {
	intent := NewExtractor(nil).Extract("Show me all diabetic patients over 50")
	q := newTestCompiler().Compile(intent)

	if q.ResourceType != "Patient" {
		t.Errorf("expected Patient, got %s", q.ResourceType)
	}
	if got := q.Parameters.Get("_has:Condition:subject:code"); !reflect.DeepEqual(got, []string{"44054006"}) {
		t.Errorf("expected condition link 44054006, got %v", got)
	}
	if got := q.Parameters.Get("birthdate"); !reflect.DeepEqual(got, []string{"le1975-12-31"}) {
		t.Errorf("expected le1975-12-31, got %v", got)
	}
	if q.Parameters.Has("gender") {
		t.Error("expected no gender parameter")
	}
	if !reflect.DeepEqual(q.Include, []string{"Condition:subject"}) {
		t.Errorf("expected Condition:subject include, got %v", q.Include)
	}
	if q.ResultCap != 100 {
		t.Errorf("expected cap 100, got %d", q.ResultCap)
	}
}

func TestCompile_CountIntentKeepsIncludeAndCap(t *testing.T) {
	intent := NewExtractor(nil).Extract("How many male patients have depression?")
	q := newTestCompiler().Compile(intent)

	if q.Parameters.Has("birthdate") {
		t.Error("expected no birthdate parameter")
	}
	if got := q.Parameters.Get("gender"); !reflect.DeepEqual(got, []string{"male"}) {
		t.Errorf("expected gender male, got %v", got)
	}
	if len(q.Include) != 1 {
		t.Errorf("expected include directive with a condition present, got %v", q.Include)
	}
	if q.ResultCap != 100 {
		t.Errorf("expected count intent to keep cap 100, got %d", q.ResultCap)
	}
}

func TestCompile_AgeBounds(t *testing.T) {
	tests := []struct {
		name   string
		filter AgeFilter
		want   []string
	}{
		{"greater than", OlderThan(60), []string{"le1965-12-31"}},
		{"less than", YoungerThan(40), []string{"ge1985-01-01"}},
		{"range", Between(30, 45), []string{"ge1980-01-01", "le1995-12-31"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			intent := NewExtractedIntent()
			intent.AgeFilters = []AgeFilter{tt.filter}
			q := newTestCompiler().Compile(intent)
			if got := q.Parameters.Get("birthdate"); !reflect.DeepEqual(got, tt.want) {
				t.Errorf("expected %v, got %v", tt.want, got)
			}
		})
	}
}

func TestCompile_LargeAgesClampBirthYear(t *testing.T) {
	tests := []struct {
		filter AgeFilter
		want   []string
	}{
		{OlderThan(200), []string{"le1825-12-31"}},
		{Between(60, 200), []string{"ge1825-01-01", "le1965-12-31"}},
		{OlderThan(2025), []string{"le0001-12-31"}},
		{YoungerThan(5000), []string{"ge0001-01-01"}},
	}
	c := newTestCompiler()
	for _, tt := range tests {
		intent := NewExtractedIntent()
		intent.AgeFilters = []AgeFilter{tt.filter}
		q := c.Compile(intent)
		if got := q.Parameters.Get("birthdate"); !reflect.DeepEqual(got, tt.want) {
			t.Errorf("%+v: expected %v, got %v", tt.filter, tt.want, got)
		}
	}
}

func TestCompile_OnlyFirstAgeFilterHonored(t *testing.T) {
	intent := NewExtractedIntent()
	intent.AgeFilters = []AgeFilter{Between(30, 45), OlderThan(80)}
	q := newTestCompiler().Compile(intent)

	if got := q.Parameters.Get("birthdate"); len(got) != 2 || got[0] != "ge1980-01-01" {
		t.Errorf("expected range bounds only, got %v", got)
	}
}

func TestCompile_SkipsInvalidAgeFilter(t *testing.T) {
	intent := NewExtractedIntent()
	intent.AgeFilters = []AgeFilter{{Operator: AgeRange, Min: intPtr(5)}}
	q := newTestCompiler().Compile(intent)
	if q.Parameters.Has("birthdate") {
		t.Errorf("expected malformed filter to be ignored, got %v", q.Parameters)
	}
}

func TestCompile_NoEntities(t *testing.T) {
	q := newTestCompiler().Compile(NewExtractedIntent())

	if len(q.Parameters) != 0 {
		t.Errorf("expected no parameters, got %v", q.Parameters)
	}
	if len(q.Include) != 0 {
		t.Errorf("expected no include, got %v", q.Include)
	}
	if got := RenderURL(q, testBaseURL); got != testBaseURL+"/Patient?_count=100" {
		t.Errorf("unexpected url %s", got)
	}
}

func TestCompile_NeverEmitsEmptyValues(t *testing.T) {
	intent := NewExtractedIntent()
	intent.Conditions = []terminology.ConditionTerm{{Code: "1"}, {Code: "2"}}
	intent.Gender = GenderFemale
	intent.AgeFilters = []AgeFilter{YoungerThan(10)}

	for _, p := range newTestCompiler().Compile(intent).Parameters {
		if len(p.Values) == 0 {
			t.Errorf("parameter %s has no values", p.Name)
		}
		for _, v := range p.Values {
			if v == "" {
				t.Errorf("parameter %s has an empty value", p.Name)
			}
		}
	}
}

func TestCompile_ParameterOrder(t *testing.T) {
	intent := NewExtractor(nil).Extract("Find female patients with hypertension under 65")
	q := newTestCompiler().Compile(intent)

	var names []string
	for _, p := range q.Parameters {
		names = append(names, p.Name)
	}
	want := []string{"_has:Condition:subject:code", "birthdate", "gender"}
	if !reflect.DeepEqual(names, want) {
		t.Errorf("expected %v, got %v", want, names)
	}
}

func TestCompile_DefaultsAndResourceType(t *testing.T) {
	c := NewCompiler(0, nil)
	if c.ResultCap() != 100 {
		t.Errorf("expected default cap 100, got %d", c.ResultCap())
	}

	intent := NewExtractedIntent()
	intent.ResourceTypes = []string{"Condition", "Patient"}
	if got := c.Compile(intent).ResourceType; got != "Condition" {
		t.Errorf("expected first resource type, got %s", got)
	}
	intent.ResourceTypes = nil
	if got := c.Compile(intent).ResourceType; got != "Patient" {
		t.Errorf("expected Patient fallback, got %s", got)
	}
}

func TestCompile_Deterministic(t *testing.T) {
	intent := NewExtractor(nil).Extract("Show me patients with heart disease and diabetes between 40 and 60")
	c := newTestCompiler()

	a, _ := json.Marshal(c.Compile(intent))
	b, _ := json.Marshal(c.Compile(intent))
	if string(a) != string(b) {
		t.Errorf("compilation not deterministic:\n%s\n%s", a, b)
	}
	if RenderURL(c.Compile(intent), testBaseURL) != RenderURL(c.Compile(intent), testBaseURL) {
		t.Error("rendered url not stable")
	}
}

func TestRenderURL(t *testing.T) {
	intent := NewExtractor(nil).Extract("List female patients with asthma between 30 and 45 years old")
	q := newTestCompiler().Compile(intent)

	want := testBaseURL + "/Patient?_has:Condition:subject:code=195967001" +
		"&birthdate=ge1980-01-01&birthdate=le1995-12-31" +
		"&gender=female&_include=Condition:subject&_count=100"
	if got := RenderURL(q, testBaseURL+"/"); got != want {
		t.Errorf("unexpected url\n got: %s\nwant: %s", got, want)
	}
}

func TestRenderURL_CommaJoinedCodesAndEscaping(t *testing.T) {
	q := CompiledQuery{
		ResourceType: "Patient",
		Parameters:   Params{{Name: "_has:Condition:subject:code", Values: []string{"56265001,44054006"}}, {Name: "name", Values: []string{"o'neil & sons"}}},
		ResultCap:    10,
	}
	want := testBaseURL + "/Patient?_has:Condition:subject:code=56265001,44054006&name=o%27neil+%26+sons&_count=10"
	if got := RenderURL(q, testBaseURL); got != want {
		t.Errorf("unexpected url\n got: %s\nwant: %s", got, want)
	}
}

func TestRoundTripStable(t *testing.T) {
	x := NewExtractor(nil)
	c := newTestCompiler()
	for _, text := range ExampleQueries {
		first := RenderURL(c.Compile(x.Extract(text)), testBaseURL)
		for i := 0; i < 3; i++ {
			if got := RenderURL(c.Compile(x.Extract(text)), testBaseURL); got != first {
				t.Errorf("%q: url changed between runs: %s vs %s", text, first, got)
			}
		}
	}
}
