package nlquery

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/ehr/nlq/internal/platform/auth"
	"github.com/ehr/nlq/internal/platform/fhir"
	"github.com/ehr/nlq/internal/platform/middleware"
)

// ErrEmptyQuery is returned for a question that is empty or only whitespace.
var ErrEmptyQuery = errors.New("query must not be empty")

// FetchSettings are the record server coordinates and fetch budget.
type FetchSettings struct {
	BaseURL  string
	MaxPages int
	PageSize int
	Timeout  time.Duration
}

// QueryEvent describes one processed question. It carries codes and
// counts, never the question text or record content.
type QueryEvent struct {
	RequestID      string
	Subject        string
	DryRun         bool
	Intent         QueryIntent
	ConditionCodes []string
	AgeFiltered    bool
	Gender         Gender
	URL            string
	Records        int
	Pages          int
	State          fhir.FetchState
	Err            error
	Duration       time.Duration
}

// EventSink receives an event for every processed question.
type EventSink interface {
	QueryProcessed(ctx context.Context, ev QueryEvent)
}

// QueryObserver records pipeline metrics.
type QueryObserver interface {
	ObserveQuery(intent, outcome string, elapsed time.Duration, records int)
}

// LogSink writes events as structured log lines.
type LogSink struct {
	logger zerolog.Logger
}

func NewLogSink(logger zerolog.Logger) *LogSink {
	return &LogSink{logger: logger}
}

func (s *LogSink) QueryProcessed(_ context.Context, ev QueryEvent) {
	var evt *zerolog.Event
	if ev.State == fhir.StateAborted {
		evt = s.logger.Warn().AnErr("fetch_error", ev.Err)
	} else {
		evt = s.logger.Info()
	}
	evt.
		Str("type", "nlq_audit").
		Str("request_id", ev.RequestID).
		Str("user_id", ev.Subject).
		Bool("dry_run", ev.DryRun).
		Str("intent", string(ev.Intent)).
		Strs("condition_codes", ev.ConditionCodes).
		Bool("age_filtered", ev.AgeFiltered).
		Str("gender", string(ev.Gender)).
		Str("fhir_url", ev.URL).
		Int("records", ev.Records).
		Int("pages", ev.Pages).
		Str("fetch_state", string(ev.State)).
		Dur("duration", ev.Duration).
		Msg("query_processed")
}

// Service runs the pipeline: extract, compile, render, fetch.
type Service struct {
	extractor *Extractor
	compiler  *Compiler
	fetcher   fhir.Fetcher
	settings  FetchSettings
	sink      EventSink
	observer  QueryObserver
}

// ServiceOption configures a Service.
type ServiceOption func(*Service)

// WithEventSink replaces the event sink.
func WithEventSink(sink EventSink) ServiceOption {
	return func(s *Service) {
		if sink != nil {
			s.sink = sink
		}
	}
}

// WithQueryObserver registers a metrics observer.
func WithQueryObserver(o QueryObserver) ServiceOption {
	return func(s *Service) {
		s.observer = o
	}
}

// NewService wires the pipeline. Events go to a no-op logger unless a sink
// is supplied.
func NewService(extractor *Extractor, compiler *Compiler, fetcher fhir.Fetcher, settings FetchSettings, opts ...ServiceOption) *Service {
	s := &Service{
		extractor: extractor,
		compiler:  compiler,
		fetcher:   fetcher,
		settings:  settings,
		sink:      NewLogSink(zerolog.Nop()),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Translate extracts, compiles and renders a question without contacting
// the record server.
func (s *Service) Translate(ctx context.Context, text string) (*Translation, error) {
	start := time.Now()
	t, err := s.translate(text)
	if err != nil {
		s.observe(IntentSearch, "rejected", start, 0)
		return nil, err
	}

	ev := s.event(ctx, t)
	ev.DryRun = true
	ev.Duration = time.Since(start)
	s.sink.QueryProcessed(ctx, ev)
	s.observe(t.ExtractedIntent.QueryIntent, "translated", start, 0)
	return t, nil
}

// ProcessQuery answers a question. Only an empty question is an error; a
// failed or partial fetch still yields a result with the records received.
func (s *Service) ProcessQuery(ctx context.Context, text string) (*PipelineResult, error) {
	start := time.Now()
	t, err := s.translate(text)
	if err != nil {
		s.observe(IntentSearch, "rejected", start, 0)
		return nil, err
	}

	fetched := s.fetcher.Fetch(ctx, fhir.FetchRequest{
		URL:       t.RequestURL,
		MaxPages:  s.settings.MaxPages,
		PageSize:  s.settings.PageSize,
		ResultCap: t.CompiledQuery.ResultCap,
		Timeout:   s.settings.Timeout,
	})

	records := fetched.Records
	if records == nil {
		records = []fhir.Record{}
	}
	result := &PipelineResult{
		Translation: *t,
		Records:     records,
		Fetch: FetchSummary{
			State:   fetched.State,
			Pages:   fetched.Pages,
			Total:   fetched.Total,
			Partial: fetched.Partial(),
		},
	}
	if fetched.Err != nil {
		result.Fetch.Error = fetched.Err.Error()
	}

	ev := s.event(ctx, t)
	ev.Records = len(records)
	ev.Pages = fetched.Pages
	ev.State = fetched.State
	ev.Err = fetched.Err
	ev.Duration = time.Since(start)
	s.sink.QueryProcessed(ctx, ev)

	outcome := "complete"
	if fetched.Partial() {
		outcome = "partial"
	}
	s.observe(t.ExtractedIntent.QueryIntent, outcome, start, len(records))
	return result, nil
}

func (s *Service) translate(text string) (*Translation, error) {
	if strings.TrimSpace(text) == "" {
		return nil, ErrEmptyQuery
	}
	intent := s.extractor.Extract(text)
	compiled := s.compiler.Compile(intent)
	return &Translation{
		OriginalQuery:   text,
		ExtractedIntent: intent,
		CompiledQuery:   compiled,
		RequestURL:      RenderURL(compiled, s.settings.BaseURL),
	}, nil
}

func (s *Service) event(ctx context.Context, t *Translation) QueryEvent {
	_, aged := t.ExtractedIntent.PrimaryAgeFilter()
	return QueryEvent{
		RequestID:      middleware.RequestIDFromContext(ctx),
		Subject:        auth.UserIDFromContext(ctx),
		Intent:         t.ExtractedIntent.QueryIntent,
		ConditionCodes: t.ExtractedIntent.ConditionCodes(),
		AgeFiltered:    aged,
		Gender:         t.ExtractedIntent.Gender,
		URL:            t.RequestURL,
	}
}

func (s *Service) observe(intent QueryIntent, outcome string, start time.Time, records int) {
	if s.observer != nil {
		s.observer.ObserveQuery(string(intent), outcome, time.Since(start), records)
	}
}
