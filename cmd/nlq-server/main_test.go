package main

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"

	"github.com/ehr/nlq/internal/config"
	"github.com/ehr/nlq/internal/domain/nlquery"
	"github.com/ehr/nlq/internal/platform/db"
	"github.com/ehr/nlq/internal/platform/fhir"
)

func testConfig(baseURL string) *config.Config {
	return &config.Config{
		Port:               "0",
		Env:                "test",
		LogLevel:           "info",
		FHIRBaseURL:        baseURL,
		FHIRMaxPages:       3,
		FHIRPageSize:       50,
		FHIRRequestTimeout: 5 * time.Second,
		ResultCap:          100,
		RateLimitRPS:       100,
		RateLimitBurst:     100,
		RequestTimeout:     20 * time.Second,
		BodyLimit:          "64K",
		CORSOrigins:        []string{"*"},
		AuthMode:           "development",
	}
}

func testRecords() []fhir.Record {
	return []fhir.Record{
		fhir.MustRecord(`{"resourceType":"Patient","id":"p1","gender":"female","birthDate":"1960-04-02"}`),
		fhir.MustRecord(`{"resourceType":"Patient","id":"p2","gender":"male","birthDate":"1955-11-20"}`),
		fhir.MustRecord(`{"resourceType":"Condition","id":"c1","subject":{"reference":"Patient/p1"}}`),
	}
}

func newTestApp(t *testing.T, cfg *config.Config) *app {
	t.Helper()
	a, err := newApp(context.Background(), cfg, zerolog.Nop(), fhir.NewStaticFetcher(testRecords()))
	if err != nil {
		t.Fatalf("newApp: %v", err)
	}
	t.Cleanup(a.close)
	return a
}

func serve(e *echo.Echo, method, target, body string, headers map[string]string) *httptest.ResponseRecorder {
	var req *http.Request
	if body != "" {
		req = httptest.NewRequest(method, target, strings.NewReader(body))
		req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	} else {
		req = httptest.NewRequest(method, target, nil)
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)
	return rec
}

func TestRouter_Health(t *testing.T) {
	e := newTestApp(t, testConfig("https://fhir.example.org/baseR4")).router()

	rec := serve(e, http.MethodGet, "/health", "", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	var body map[string]string
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if body["status"] != "healthy" || body["service"] != "FHIR NLP Service" {
		t.Errorf("unexpected health body: %v", body)
	}
}

func TestRouter_Query(t *testing.T) {
	e := newTestApp(t, testConfig("https://fhir.example.org/baseR4")).router()

	rec := serve(e, http.MethodPost, "/query", `{"query":"Show me all diabetic patients over 50"}`, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	if rec.Header().Get(echo.HeaderXRequestID) == "" {
		t.Error("expected a request id header")
	}
	if got := rec.Header().Get("Cache-Control"); got != "no-store" {
		t.Errorf("query responses must not be cached, got %q", got)
	}

	var res struct {
		OriginalQuery string            `json:"original_query"`
		FHIRURL       string            `json:"fhir_url"`
		Results       []json.RawMessage `json:"results"`
		Fetch         struct {
			State string `json:"state"`
		} `json:"fetch"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &res); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if res.OriginalQuery != "Show me all diabetic patients over 50" {
		t.Errorf("unexpected original_query %q", res.OriginalQuery)
	}
	if !strings.HasPrefix(res.FHIRURL, "https://fhir.example.org/baseR4/Patient?_has:Condition:subject:code=44054006&birthdate=le") {
		t.Errorf("unexpected fhir_url %q", res.FHIRURL)
	}
	if len(res.Results) != 3 {
		t.Errorf("expected 3 results, got %d", len(res.Results))
	}
	if res.Fetch.State != string(fhir.StateComplete) {
		t.Errorf("expected complete fetch, got %q", res.Fetch.State)
	}
}

func TestRouter_QueryRejectsEmpty(t *testing.T) {
	e := newTestApp(t, testConfig("https://fhir.example.org/baseR4")).router()

	rec := serve(e, http.MethodPost, "/query", `{"query":"   "}`, nil)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), `"resourceType":"OperationOutcome"`) {
		t.Errorf("expected an OperationOutcome body, got %s", rec.Body.String())
	}
}

func TestRouter_Translate(t *testing.T) {
	e := newTestApp(t, testConfig("https://fhir.example.org/baseR4")).router()

	rec := serve(e, http.MethodPost, "/query/translate", `{"query":"Find female patients with hypertension under 65"}`, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	var body map[string]json.RawMessage
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if _, ok := body["results"]; ok {
		t.Error("translate must not return results")
	}
	if !strings.Contains(string(body["fhir_url"]), "gender=female") {
		t.Errorf("expected gender in url, got %s", body["fhir_url"])
	}
}

func TestRouter_Terminology(t *testing.T) {
	e := newTestApp(t, testConfig("https://fhir.example.org/baseR4")).router()

	rec := serve(e, http.MethodGet, "/api/v1/terminology/conditions", "", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("list: expected 200, got %d", rec.Code)
	}

	rec = serve(e, http.MethodGet, "/api/v1/terminology/conditions/lookup?phrase=high+blood+pressure", "", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("lookup: expected 200, got %d", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), `"code":"38341003"`) {
		t.Errorf("expected hypertension code, got %s", rec.Body.String())
	}
}

func TestRouter_MetricsCountQueries(t *testing.T) {
	e := newTestApp(t, testConfig("https://fhir.example.org/baseR4")).router()

	serve(e, http.MethodPost, "/query", `{"query":"How many male patients have depression?"}`, nil)

	rec := serve(e, http.MethodGet, "/metrics", "", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), `nlq_queries_total{environment="test",intent="count",outcome="complete"} 1`) {
		t.Errorf("expected query counter in exposition, got:\n%s", rec.Body.String())
	}
}

func TestRouter_UpstreamHealth(t *testing.T) {
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/baseR4/metadata" {
			http.NotFound(w, r)
			return
		}
		w.Header().Set("Content-Type", "application/fhir+json")
		_, _ = w.Write([]byte(`{"resourceType":"CapabilityStatement","fhirVersion":"4.0.1","software":{"name":"HAPI FHIR","version":"7.0"}}`))
	}))
	defer upstream.Close()

	e := newTestApp(t, testConfig(upstream.URL+"/baseR4")).router()

	rec := serve(e, http.MethodGet, "/health/upstream", "", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	var status fhir.ProbeStatus
	if err := json.Unmarshal(rec.Body.Bytes(), &status); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if !status.Up || status.FHIRVersion != "4.0.1" {
		t.Errorf("unexpected probe status %+v", status)
	}
}

func TestRouter_UpstreamHealthDown(t *testing.T) {
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer upstream.Close()

	e := newTestApp(t, testConfig(upstream.URL)).router()

	rec := serve(e, http.MethodGet, "/health/upstream", "", nil)
	if rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected 503, got %d", rec.Code)
	}
}

func TestRouter_QueryDeadlineKeepsReceivedPages(t *testing.T) {
	release := make(chan struct{})
	var upstream *httptest.Server
	upstream = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("page") == "2" {
			select {
			case <-r.Context().Done():
			case <-release:
			}
			return
		}
		next := upstream.URL + "/Patient?page=2"
		bundle := fhir.NewSearchBundle([]fhir.Record{
			fhir.MustRecord(`{"resourceType":"Patient","id":"p1"}`),
		}, nil, r.URL.String(), next)
		w.Header().Set("Content-Type", "application/fhir+json")
		_ = json.NewEncoder(w).Encode(bundle)
	}))
	t.Cleanup(upstream.Close)
	t.Cleanup(func() { close(release) })

	cfg := testConfig(upstream.URL)
	cfg.FHIRRequestTimeout = 5 * time.Second
	cfg.RequestTimeout = 300 * time.Millisecond
	a, err := newApp(context.Background(), cfg, zerolog.Nop(), nil)
	if err != nil {
		t.Fatalf("newApp: %v", err)
	}
	t.Cleanup(a.close)
	e := a.router()

	rec := serve(e, http.MethodPost, "/query", `{"query":"patients with diabetes"}`, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200 with partial records, got %d: %s", rec.Code, rec.Body.String())
	}

	var body struct {
		Results []map[string]interface{} `json:"results"`
		Fetch   struct {
			State   string `json:"state"`
			Pages   int    `json:"pages"`
			Partial bool   `json:"partial"`
		} `json:"fetch"`
	}
	dec := json.NewDecoder(bytes.NewReader(rec.Body.Bytes()))
	if err := dec.Decode(&body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if dec.More() {
		t.Fatalf("response holds more than one JSON document: %s", rec.Body.String())
	}
	if len(body.Results) != 1 || body.Results[0]["id"] != "p1" {
		t.Errorf("expected the first page's record, got %v", body.Results)
	}
	if body.Fetch.State != "aborted" || body.Fetch.Pages != 2 || !body.Fetch.Partial {
		t.Errorf("unexpected fetch summary %+v", body.Fetch)
	}
}

func TestRouter_ExternalAuthRequiresToken(t *testing.T) {
	cfg := testConfig("https://fhir.example.org/baseR4")
	cfg.AuthMode = "external"
	cfg.AuthSigningKey = "test-signing-key"
	e := newTestApp(t, cfg).router()

	rec := serve(e, http.MethodPost, "/query", `{"query":"patients with asthma"}`, nil)
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 without token, got %d", rec.Code)
	}

	rec = serve(e, http.MethodGet, "/health", "", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected public health endpoint, got %d", rec.Code)
	}
}

func TestRunQuery_DryRun(t *testing.T) {
	a := newTestApp(t, testConfig("https://fhir.example.org/baseR4"))

	var buf bytes.Buffer
	if err := runQuery(context.Background(), a.service, "List patients with asthma between 30 and 45 years old", true, &buf); err != nil {
		t.Fatalf("runQuery: %v", err)
	}
	var body map[string]json.RawMessage
	if err := json.Unmarshal(buf.Bytes(), &body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if _, ok := body["results"]; ok {
		t.Error("dry run must not fetch")
	}
	if !strings.Contains(string(body["fhir_url"]), "195967001") {
		t.Errorf("expected asthma code in url, got %s", body["fhir_url"])
	}
}

func TestRunQuery_Empty(t *testing.T) {
	a := newTestApp(t, testConfig("https://fhir.example.org/baseR4"))

	var buf bytes.Buffer
	if err := runQuery(context.Background(), a.service, "", false, &buf); err == nil {
		t.Fatal("expected an error for an empty question")
	}
}

func TestWriteReport(t *testing.T) {
	a := newTestApp(t, testConfig("https://fhir.example.org/baseR4"))
	path := filepath.Join(t.TempDir(), "report.json")

	reports := a.service.RunExamples(context.Background(), nlquery.ExampleQueries)
	if err := writeReport(path, reports); err != nil {
		t.Fatalf("writeReport: %v", err)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read report: %v", err)
	}
	var decoded map[string]nlquery.ExampleReport
	if err := json.Unmarshal(data, &decoded); err != nil {
		t.Fatalf("decode report: %v", err)
	}
	if len(decoded) != len(nlquery.ExampleQueries) {
		t.Fatalf("expected %d entries, got %d", len(nlquery.ExampleQueries), len(decoded))
	}
	if decoded["query_1"].ResultsCount != 3 {
		t.Errorf("expected 3 results for query_1, got %d", decoded["query_1"].ResultsCount)
	}
	if !bytes.Contains(data, []byte("\n  \"query_1\"")) {
		t.Error("expected a two-space indented report")
	}
}

func TestPrintMigrationStatus(t *testing.T) {
	applied := time.Date(2025, time.March, 1, 10, 30, 0, 0, time.UTC)
	var buf bytes.Buffer
	printMigrationStatus(&buf, []db.MigrationStatus{
		{Version: 1, Name: "condition_terms", Applied: true, AppliedAt: &applied},
		{Version: 2, Name: "term_index"},
	})

	out := buf.String()
	if !strings.Contains(out, "2025-03-01 10:30:00") {
		t.Errorf("expected applied timestamp, got:\n%s", out)
	}
	if !strings.Contains(out, "pending") {
		t.Errorf("expected pending row, got:\n%s", out)
	}
}

func TestNewLogger_Level(t *testing.T) {
	cfg := testConfig("https://fhir.example.org/baseR4")
	cfg.LogLevel = "WARN"

	var buf bytes.Buffer
	logger := newLogger(cfg, &buf)
	logger.Info().Msg("hidden")
	logger.Warn().Msg("shown")

	if strings.Contains(buf.String(), "hidden") {
		t.Error("info line should be filtered at warn level")
	}
	if !strings.Contains(buf.String(), "shown") {
		t.Error("warn line should be written")
	}
}

func TestRouter_OpenAPI(t *testing.T) {
	e := newTestApp(t, testConfig("https://fhir.example.org/baseR4")).router()

	rec := serve(e, http.MethodGet, "/api/v1/openapi.json", "", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), `"/query/translate"`) {
		t.Error("expected the translate path in the document")
	}
}

func TestRouter_DocsPagePolicy(t *testing.T) {
	e := newTestApp(t, testConfig("https://fhir.example.org/baseR4")).router()

	rec := serve(e, http.MethodGet, "/api/v1/docs", "", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	if csp := rec.Header().Get("Content-Security-Policy"); !strings.Contains(csp, "https://unpkg.com") {
		t.Errorf("docs page policy must admit the Swagger UI assets, got %q", csp)
	}
	if got := rec.Header().Get("Cache-Control"); got != "" {
		t.Errorf("docs page needs no no-store, got %q", got)
	}
}
