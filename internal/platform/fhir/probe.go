package fhir

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/hashicorp/go-retryablehttp"
	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"

	"github.com/ehr/nlq/pkg/fhirmodels"
)

// ProbeStatus is the result of one upstream capability check.
type ProbeStatus struct {
	URL         string    `json:"url"`
	Up          bool      `json:"up"`
	StatusCode  int       `json:"status_code,omitempty"`
	FHIRVersion string    `json:"fhir_version,omitempty"`
	Software    string    `json:"software,omitempty"`
	Error       string    `json:"error,omitempty"`
	LatencyMS   int64     `json:"latency_ms"`
	CheckedAt   time.Time `json:"checked_at"`
}

// Prober periodically fetches the record server's CapabilityStatement.
type Prober struct {
	metadataURL string
	timeout     time.Duration
	client      *retryablehttp.Client
	logger      zerolog.Logger

	mu       sync.RWMutex
	last     *ProbeStatus
	onResult func(ProbeStatus)
	cron     *cron.Cron
}

// NewProber creates a prober for the server rooted at baseURL.
func NewProber(baseURL string, timeout time.Duration, logger zerolog.Logger) *Prober {
	if timeout <= 0 {
		timeout = DefaultRequestTimeout
	}
	client := retryablehttp.NewClient()
	client.RetryMax = 0
	client.ErrorHandler = retryablehttp.PassthroughErrorHandler
	client.Logger = retryLogger{logger: logger}

	return &Prober{
		metadataURL: strings.TrimRight(baseURL, "/") + "/metadata",
		timeout:     timeout,
		client:      client,
		logger:      logger,
	}
}

// OnResult registers a callback invoked after every check.
func (p *Prober) OnResult(fn func(ProbeStatus)) {
	p.mu.Lock()
	p.onResult = fn
	p.mu.Unlock()
}

// Check performs one probe and records its result.
func (p *Prober) Check(ctx context.Context) ProbeStatus {
	start := time.Now()
	status := ProbeStatus{URL: p.metadataURL, CheckedAt: start.UTC()}

	if err := p.fetchCapability(ctx, &status); err != nil {
		status.Error = err.Error()
		p.logger.Warn().Err(err).Str("url", p.metadataURL).Msg("upstream probe failed")
	} else {
		status.Up = true
	}
	status.LatencyMS = time.Since(start).Milliseconds()

	p.mu.Lock()
	p.last = &status
	fn := p.onResult
	p.mu.Unlock()

	if fn != nil {
		fn(status)
	}
	return status
}

func (p *Prober) fetchCapability(ctx context.Context, status *ProbeStatus) error {
	ctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	req, err := retryablehttp.NewRequestWithContext(ctx, http.MethodGet, p.metadataURL, nil)
	if err != nil {
		return err
	}
	req.Header.Set("Accept", fhirmodels.MediaTypeFHIRJSON)

	resp, err := p.client.Do(req)
	if err != nil {
		if resp != nil {
			resp.Body.Close()
		}
		return err
	}
	defer resp.Body.Close()

	status.StatusCode = resp.StatusCode
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("%w: %d", ErrUpstreamStatus, resp.StatusCode)
	}

	var cs struct {
		ResourceType string `json:"resourceType"`
		FHIRVersion  string `json:"fhirVersion"`
		Software     struct {
			Name    string `json:"name"`
			Version string `json:"version"`
		} `json:"software"`
	}
	if err := json.NewDecoder(io.LimitReader(resp.Body, maxPageBytes)).Decode(&cs); err != nil {
		return fmt.Errorf("%w: %v", ErrMalformedPayload, err)
	}
	if cs.ResourceType != "CapabilityStatement" {
		return fmt.Errorf("%w: expected CapabilityStatement, got %q", ErrMalformedPayload, cs.ResourceType)
	}
	status.FHIRVersion = cs.FHIRVersion
	status.Software = strings.TrimSpace(cs.Software.Name + " " + cs.Software.Version)
	return nil
}

// Last returns the most recent probe result.
func (p *Prober) Last() (ProbeStatus, bool) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.last == nil {
		return ProbeStatus{}, false
	}
	return *p.last, true
}

// Start schedules the probe with a standard cron spec ("*/5 * * * *",
// "@every 1m") and runs one check immediately.
func (p *Prober) Start(schedule string) error {
	c := cron.New(cron.WithLogger(cronLogger{logger: p.logger}))
	if _, err := c.AddFunc(schedule, func() {
		p.Check(context.Background())
	}); err != nil {
		return fmt.Errorf("invalid probe schedule %q: %w", schedule, err)
	}

	p.mu.Lock()
	p.cron = c
	p.mu.Unlock()

	c.Start()
	go p.Check(context.Background())
	return nil
}

// Stop halts the schedule and waits for a running check to finish.
func (p *Prober) Stop() {
	p.mu.RLock()
	c := p.cron
	p.mu.RUnlock()
	if c != nil {
		<-c.Stop().Done()
	}
}

// cronLogger adapts zerolog to cron.Logger.
type cronLogger struct {
	logger zerolog.Logger
}

func (l cronLogger) Info(msg string, keysAndValues ...interface{}) {
	l.logger.Debug().Fields(keysAndValues).Msg(msg)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	l.logger.Error().Err(err).Fields(keysAndValues).Msg(msg)
}
