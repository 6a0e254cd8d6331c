package nlquery

import (
	"context"
	"fmt"

	"github.com/ehr/nlq/internal/platform/fhir"
)

// ExampleQueries is the canned question set run by the examples command.
var ExampleQueries = []string{
	"Show me all diabetic patients over 50",
	"Find female patients with hypertension under 65",
	"List patients with asthma between 30 and 45 years old",
	"How many male patients have depression?",
	"Show me patients with heart disease and diabetes over 60",
	"Find all patients with cancer under 40",
}

// exampleSampleSize is how many records an example report keeps.
const exampleSampleSize = 5

// ExampleReport summarizes one example run.
type ExampleReport struct {
	OriginalQuery     string           `json:"original_query"`
	ExtractedEntities *ExtractedIntent `json:"extracted_entities,omitempty"`
	FHIRQuery         *CompiledQuery   `json:"fhir_query,omitempty"`
	FHIRURL           string           `json:"fhir_url,omitempty"`
	TotalResults      int              `json:"total_results"`
	ResultsCount      int              `json:"results_count"`
	Results           []fhir.Record    `json:"results"`
	PagesFetched      int              `json:"pages_fetched"`
	FetchState        fhir.FetchState  `json:"fetch_state,omitempty"`
	FetchError        string           `json:"fetch_error,omitempty"`
	Error             string           `json:"error,omitempty"`
}

// RunExamples processes each query in turn and returns the reports keyed
// "query_1", "query_2", ... in input order.
func (s *Service) RunExamples(ctx context.Context, queries []string) map[string]ExampleReport {
	reports := make(map[string]ExampleReport, len(queries))
	for i, q := range queries {
		key := fmt.Sprintf("query_%d", i+1)

		res, err := s.ProcessQuery(ctx, q)
		if err != nil {
			reports[key] = ExampleReport{OriginalQuery: q, Results: []fhir.Record{}, Error: err.Error()}
			continue
		}

		total := len(res.Records)
		if res.Fetch.Total != nil {
			total = *res.Fetch.Total
		}
		sample := res.Records
		if len(sample) > exampleSampleSize {
			sample = sample[:exampleSampleSize]
		}
		reports[key] = ExampleReport{
			OriginalQuery:     q,
			ExtractedEntities: &res.ExtractedIntent,
			FHIRQuery:         &res.CompiledQuery,
			FHIRURL:           res.RequestURL,
			TotalResults:      total,
			ResultsCount:      len(res.Records),
			Results:           sample,
			PagesFetched:      res.Fetch.Pages,
			FetchState:        res.Fetch.State,
			FetchError:        res.Fetch.Error,
		}
	}
	return reports
}
