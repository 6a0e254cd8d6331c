package fhir

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/hashicorp/go-retryablehttp"
	"github.com/rs/zerolog"
	"golang.org/x/time/rate"

	"github.com/ehr/nlq/pkg/fhirmodels"
	"github.com/ehr/nlq/pkg/pagination"
)

// DefaultRequestTimeout bounds a single page request when the caller sets none.
const DefaultRequestTimeout = 30 * time.Second

// maxPageBytes caps how much of one response body is read.
const maxPageBytes = 32 << 20

var (
	// ErrUpstreamStatus is returned when a page request answers with a
	// status other than 200.
	ErrUpstreamStatus = errors.New("unexpected upstream status")
	// ErrInvalidURL is returned when a fetch is started without a URL.
	ErrInvalidURL = errors.New("invalid request URL")
)

// FetchState is the state of one paginated fetch.
type FetchState string

const (
	StateIdle         FetchState = "idle"
	StateRequesting   FetchState = "requesting"
	StatePageReceived FetchState = "page-received"
	StateComplete     FetchState = "complete"
	StateAborted      FetchState = "aborted"
)

// FetchRequest describes one paginated fetch. Zero budget fields take the
// pagination package defaults.
type FetchRequest struct {
	URL       string
	MaxPages  int
	PageSize  int
	ResultCap int
	Timeout   time.Duration
}

// FetchResult is the outcome of a fetch. It is always returned, even when
// the fetch aborted; Records then holds the pages that arrived before the
// failure.
type FetchResult struct {
	Records []Record
	// Pages is the number of page requests issued.
	Pages int
	// Total is the server-declared result size from the first page.
	Total *int
	State FetchState
	// FailedIn is the state that was active when the fetch aborted.
	FailedIn FetchState
	Err      error
}

// Partial reports whether the fetch stopped on a failure.
func (r *FetchResult) Partial() bool {
	return r.State == StateAborted
}

// Fetcher retrieves the records of a compiled search.
type Fetcher interface {
	Fetch(ctx context.Context, req FetchRequest) *FetchResult
}

// PageObserver is notified after every page request.
type PageObserver interface {
	ObservePage(outcome string, elapsed time.Duration)
}

// HTTPFetcher pages through a FHIR search over HTTP. Pages are requested
// strictly one after another since each continuation comes from the
// previous page.
type HTTPFetcher struct {
	client   *retryablehttp.Client
	limiter  *rate.Limiter
	logger   zerolog.Logger
	observer PageObserver
}

// Option configures an HTTPFetcher.
type Option func(*HTTPFetcher)

// WithRetryMax sets how often the transport retries a failed request.
// The default of zero leaves retry decisions to the caller.
func WithRetryMax(n int) Option {
	return func(f *HTTPFetcher) {
		if n >= 0 {
			f.client.RetryMax = n
		}
	}
}

// WithRateLimit paces page requests to at most rps per second. Zero or
// negative disables pacing.
func WithRateLimit(rps float64) Option {
	return func(f *HTTPFetcher) {
		if rps > 0 {
			f.limiter = rate.NewLimiter(rate.Limit(rps), 1)
		}
	}
}

// WithLogger sets the logger for page events and transport retries.
func WithLogger(logger zerolog.Logger) Option {
	return func(f *HTTPFetcher) {
		f.logger = logger
		f.client.Logger = retryLogger{logger: logger}
	}
}

// WithPageObserver registers an observer for page requests.
func WithPageObserver(o PageObserver) Option {
	return func(f *HTTPFetcher) {
		f.observer = o
	}
}

// WithHTTPClient replaces the underlying HTTP client.
func WithHTTPClient(c *http.Client) Option {
	return func(f *HTTPFetcher) {
		if c != nil {
			f.client.HTTPClient = c
		}
	}
}

// NewHTTPFetcher creates a fetcher. Without options it performs no retries
// and no pacing and logs nothing.
func NewHTTPFetcher(opts ...Option) *HTTPFetcher {
	client := retryablehttp.NewClient()
	client.RetryMax = 0
	client.RetryWaitMin = 200 * time.Millisecond
	client.RetryWaitMax = 2 * time.Second
	client.ErrorHandler = retryablehttp.PassthroughErrorHandler
	client.Logger = retryLogger{logger: zerolog.Nop()}

	f := &HTTPFetcher{client: client, logger: zerolog.Nop()}
	for _, opt := range opts {
		opt(f)
	}
	return f
}

// Fetch runs the page loop: Idle -> Requesting -> (PageReceived ->
// Requesting)* -> Complete | Aborted. It never fails; transport errors,
// timeouts, malformed payloads and cancellation abort the loop and keep the
// records already received.
func (f *HTTPFetcher) Fetch(ctx context.Context, req FetchRequest) *FetchResult {
	budget := pagination.Budget{
		MaxPages:  req.MaxPages,
		PageSize:  req.PageSize,
		ResultCap: req.ResultCap,
	}.Normalize()
	timeout := req.Timeout
	if timeout <= 0 {
		timeout = DefaultRequestTimeout
	}

	res := &FetchResult{State: StateIdle}
	if req.URL == "" {
		f.abort(res, fmt.Errorf("%w: empty", ErrInvalidURL))
		return res
	}

	next := WithPageSize(req.URL, budget.PageSize)
	for next != "" {
		if err := ctx.Err(); err != nil {
			f.abort(res, err)
			break
		}

		res.State = StateRequesting
		res.Pages++
		page, err := f.fetchPage(ctx, next, timeout)
		if err != nil {
			f.abort(res, err)
			break
		}

		res.State = StatePageReceived
		if res.Pages == 1 {
			res.Total = page.Total
		}
		res.Records = append(res.Records, page.Records...)
		f.logger.Debug().
			Str("url", next).
			Int("page", res.Pages).
			Int("records", len(page.Records)).
			Bool("has_next", page.Next != "").
			Msg("fhir page received")

		if !budget.Continue(res.Pages, len(res.Records), page.Next != "") {
			break
		}
		next = page.Next
	}

	if res.State != StateAborted {
		res.State = StateComplete
	}
	res.Records = res.Records[:budget.Limit(len(res.Records))]
	return res
}

func (f *HTTPFetcher) abort(res *FetchResult, err error) {
	res.FailedIn = res.State
	res.State = StateAborted
	res.Err = err
	f.logger.Warn().
		Err(err).
		Str("failed_in", string(res.FailedIn)).
		Int("pages", res.Pages).
		Int("records", len(res.Records)).
		Msg("fhir fetch aborted")
}

func (f *HTTPFetcher) fetchPage(ctx context.Context, pageURL string, timeout time.Duration) (page *Page, err error) {
	if f.limiter != nil {
		if err := f.limiter.Wait(ctx); err != nil {
			return nil, fmt.Errorf("rate limit wait: %w", err)
		}
	}

	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	start := time.Now()
	defer func() {
		if f.observer == nil {
			return
		}
		outcome := "ok"
		if err != nil {
			outcome = "error"
		}
		f.observer.ObservePage(outcome, time.Since(start))
	}()

	httpReq, err := retryablehttp.NewRequestWithContext(ctx, http.MethodGet, pageURL, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidURL, err)
	}
	httpReq.Header.Set("Accept", fhirmodels.MediaTypeFHIRJSON)

	resp, err := f.client.Do(httpReq)
	if err != nil {
		if resp != nil {
			resp.Body.Close()
		}
		return nil, fmt.Errorf("GET %s: %w", pageURL, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxPageBytes))
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", pageURL, err)
	}

	if resp.StatusCode != http.StatusOK {
		detail := http.StatusText(resp.StatusCode)
		if _, perr := ParsePage(body); errors.Is(perr, ErrOperationOutcome) {
			detail = perr.Error()
		}
		return nil, fmt.Errorf("%w: %d %s", ErrUpstreamStatus, resp.StatusCode, detail)
	}

	return ParsePage(body)
}

// WithPageSize sets the _count parameter of rawURL to n, keeping every
// other parameter in place. The parameter is appended when absent.
func WithPageSize(rawURL string, n int) string {
	if n <= 0 {
		return rawURL
	}
	count := fhirmodels.ParamCount + "=" + strconv.Itoa(n)

	base, query, hasQuery := strings.Cut(rawURL, "?")
	if !hasQuery || query == "" {
		return base + "?" + count
	}

	parts := strings.Split(query, "&")
	replaced := false
	for i, p := range parts {
		if p == fhirmodels.ParamCount || strings.HasPrefix(p, fhirmodels.ParamCount+"=") {
			parts[i] = count
			replaced = true
		}
	}
	if !replaced {
		parts = append(parts, count)
	}
	return base + "?" + strings.Join(parts, "&")
}

// retryLogger adapts zerolog to retryablehttp.LeveledLogger.
type retryLogger struct {
	logger zerolog.Logger
}

func (l retryLogger) Error(msg string, keysAndValues ...interface{}) {
	l.logger.Error().Fields(keysAndValues).Msg(msg)
}

func (l retryLogger) Info(msg string, keysAndValues ...interface{}) {
	l.logger.Info().Fields(keysAndValues).Msg(msg)
}

func (l retryLogger) Debug(msg string, keysAndValues ...interface{}) {
	l.logger.Debug().Fields(keysAndValues).Msg(msg)
}

func (l retryLogger) Warn(msg string, keysAndValues ...interface{}) {
	l.logger.Warn().Fields(keysAndValues).Msg(msg)
}

var _ retryablehttp.LeveledLogger = retryLogger{}
