package nlquery

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/labstack/echo/v4"

	"github.com/ehr/nlq/internal/platform/fhir"
)

func newTestHandler(f fhir.Fetcher) (*Handler, *echo.Echo) {
	return NewHandler(newTestService(f)), echo.New()
}

func postJSON(e *echo.Echo, path, body string) (echo.Context, *httptest.ResponseRecorder) {
	req := httptest.NewRequest(http.MethodPost, path, strings.NewReader(body))
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	rec := httptest.NewRecorder()
	return e.NewContext(req, rec), rec
}

func TestHandler_ProcessQuery(t *testing.T) {
	f := &fakeFetcher{result: &fhir.FetchResult{
		Records: []fhir.Record{fhir.MustRecord(`{"resourceType":"Patient","id":"p1","gender":"female"}`)},
		Pages:   1,
		State:   fhir.StateComplete,
	}}
	h, e := newTestHandler(f)
	c, rec := postJSON(e, "/query", `{"query":"Find female patients with hypertension under 65"}`)

	if err := h.ProcessQuery(c); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}

	var body map[string]json.RawMessage
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	for _, key := range []string{"original_query", "extracted_entities", "fhir_query", "fhir_url", "results"} {
		if _, ok := body[key]; !ok {
			t.Errorf("response missing %q", key)
		}
	}

	var fhirURL string
	_ = json.Unmarshal(body["fhir_url"], &fhirURL)
	if !strings.Contains(fhirURL, "_has:Condition:subject:code=38341003") || !strings.Contains(fhirURL, "gender=female") {
		t.Errorf("unexpected fhir_url %s", fhirURL)
	}

	var results []map[string]any
	if err := json.Unmarshal(body["results"], &results); err != nil {
		t.Fatalf("decode results: %v", err)
	}
	if len(results) != 1 || results[0]["id"] != "p1" || results[0]["gender"] != "female" {
		t.Errorf("expected raw resource passthrough, got %v", results)
	}

	var entities map[string]any
	_ = json.Unmarshal(body["extracted_entities"], &entities)
	if entities["gender"] != "female" {
		t.Errorf("expected gender female, got %v", entities["gender"])
	}
}

func TestHandler_ProcessQueryPartialIsOK(t *testing.T) {
	f := &fakeFetcher{result: &fhir.FetchResult{
		Pages:    1,
		State:    fhir.StateAborted,
		FailedIn: fhir.StateRequesting,
		Err:      fhir.ErrUpstreamStatus,
	}}
	h, e := newTestHandler(f)
	c, rec := postJSON(e, "/query", `{"query":"patients with asthma"}`)

	if err := h.ProcessQuery(c); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	var res struct {
		Results []json.RawMessage `json:"results"`
		Fetch   FetchSummary      `json:"fetch"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &res); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if res.Results == nil || len(res.Results) != 0 {
		t.Errorf("expected empty results array, got %v", res.Results)
	}
	if !res.Fetch.Partial || res.Fetch.Error == "" {
		t.Errorf("expected partial fetch summary, got %+v", res.Fetch)
	}
}

func TestHandler_ProcessQueryBadRequests(t *testing.T) {
	tests := []struct {
		name string
		body string
	}{
		{"empty query", `{"query":""}`},
		{"whitespace query", `{"query":"   "}`},
		{"missing query", `{}`},
		{"non-string query", `{"query":42}`},
		{"malformed json", `{"query":`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := &fakeFetcher{}
			h, e := newTestHandler(f)
			c, rec := postJSON(e, "/query", tt.body)

			if err := h.ProcessQuery(c); err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if rec.Code != http.StatusBadRequest {
				t.Errorf("expected 400, got %d", rec.Code)
			}
			var oo fhir.OperationOutcome
			if err := json.Unmarshal(rec.Body.Bytes(), &oo); err != nil {
				t.Fatalf("decode: %v", err)
			}
			if oo.ResourceType != "OperationOutcome" || !oo.HasErrors() {
				t.Errorf("expected error OperationOutcome, got %+v", oo)
			}
			if len(f.calls()) != 0 {
				t.Error("expected no fetch")
			}
		})
	}
}

func TestHandler_TranslateQuery(t *testing.T) {
	f := &fakeFetcher{}
	h, e := newTestHandler(f)
	c, rec := postJSON(e, "/query/translate", `{"query":"Show me all diabetic patients over 50"}`)

	if err := h.TranslateQuery(c); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	var body map[string]json.RawMessage
	_ = json.Unmarshal(rec.Body.Bytes(), &body)
	if _, ok := body["results"]; ok {
		t.Error("translate response must not carry results")
	}
	if _, ok := body["fhir_query"]; !ok {
		t.Error("translate response missing fhir_query")
	}
	if len(f.calls()) != 0 {
		t.Error("translate must not fetch")
	}
}

func TestHandler_RegisterRoutes(t *testing.T) {
	h, e := newTestHandler(&fakeFetcher{})
	h.RegisterRoutes(e)

	req := httptest.NewRequest(http.MethodPost, "/query", strings.NewReader(`{"query":"patients with obesity"}`))
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Errorf("POST /query: expected 200, got %d", rec.Code)
	}

	req = httptest.NewRequest(http.MethodGet, "/query", nil)
	rec = httptest.NewRecorder()
	e.ServeHTTP(rec, req)
	if rec.Code != http.StatusMethodNotAllowed {
		t.Errorf("GET /query: expected 405, got %d", rec.Code)
	}
}
