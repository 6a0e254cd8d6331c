// Package telemetry exposes service metrics in the Prometheus format. The
// Provider satisfies the pipeline and fetcher observer interfaces and
// carries an echo middleware for HTTP metrics.
package telemetry

import (
	"net/http"
	"strconv"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/ehr/nlq/internal/platform/fhir"
)

// TelemetryConfig holds telemetry settings.
type TelemetryConfig struct {
	Namespace      string
	ServiceVersion string
	Environment    string
	// MetricsEnabled nil means enabled.
	MetricsEnabled *bool
}

func (c *TelemetryConfig) metricsOn() bool {
	if c.MetricsEnabled == nil {
		return true
	}
	return *c.MetricsEnabled
}

func (c *TelemetryConfig) applyDefaults() {
	if c.Namespace == "" {
		c.Namespace = "nlq"
	}
	if c.ServiceVersion == "" {
		c.ServiceVersion = "0.0.0"
	}
	if c.Environment == "" {
		c.Environment = "development"
	}
}

// BoolPtr is a helper for TelemetryConfig.MetricsEnabled.
func BoolPtr(b bool) *bool {
	return &b
}

var (
	durationBuckets = []float64{.005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10, 30}
	recordBuckets   = []float64{0, 1, 5, 10, 25, 50, 100, 250, 500, 1000}
)

// Provider owns a registry and the service's collectors.
type Provider struct {
	cfg      TelemetryConfig
	registry *prometheus.Registry

	httpRequests *prometheus.CounterVec
	httpDuration *prometheus.HistogramVec
	httpInFlight prometheus.Gauge

	queries       *prometheus.CounterVec
	queryDuration *prometheus.HistogramVec
	queryRecords  prometheus.Histogram

	pages        *prometheus.CounterVec
	pageDuration prometheus.Histogram

	upstreamUp      prometheus.Gauge
	upstreamLatency prometheus.Gauge
}

// NewProvider registers the collectors on a fresh registry together with
// the Go runtime and process collectors.
func NewProvider(cfg TelemetryConfig) *Provider {
	cfg.applyDefaults()
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	f := promauto.With(reg)
	ns := cfg.Namespace
	constLabels := prometheus.Labels{"environment": cfg.Environment}

	p := &Provider{cfg: cfg, registry: reg}

	p.httpRequests = f.NewCounterVec(prometheus.CounterOpts{
		Namespace: ns, Name: "http_requests_total",
		Help:        "Total number of HTTP requests",
		ConstLabels: constLabels,
	}, []string{"method", "route", "status"})
	p.httpDuration = f.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: ns, Name: "http_request_duration_seconds",
		Help:        "HTTP request duration in seconds",
		Buckets:     durationBuckets,
		ConstLabels: constLabels,
	}, []string{"method", "route"})
	p.httpInFlight = f.NewGauge(prometheus.GaugeOpts{
		Namespace: ns, Name: "http_requests_in_flight",
		Help:        "Number of HTTP requests currently being processed",
		ConstLabels: constLabels,
	})

	p.queries = f.NewCounterVec(prometheus.CounterOpts{
		Namespace: ns, Name: "queries_total",
		Help:        "Questions processed by intent and outcome",
		ConstLabels: constLabels,
	}, []string{"intent", "outcome"})
	p.queryDuration = f.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: ns, Name: "query_duration_seconds",
		Help:        "End to end question processing time",
		Buckets:     durationBuckets,
		ConstLabels: constLabels,
	}, []string{"intent"})
	p.queryRecords = f.NewHistogram(prometheus.HistogramOpts{
		Namespace: ns, Name: "query_records",
		Help:        "Records returned per executed question",
		Buckets:     recordBuckets,
		ConstLabels: constLabels,
	})

	p.pages = f.NewCounterVec(prometheus.CounterOpts{
		Namespace: ns, Name: "upstream_pages_total",
		Help:        "Page requests sent to the record server by outcome",
		ConstLabels: constLabels,
	}, []string{"outcome"})
	p.pageDuration = f.NewHistogram(prometheus.HistogramOpts{
		Namespace: ns, Name: "upstream_page_duration_seconds",
		Help:        "Record server page request duration",
		Buckets:     durationBuckets,
		ConstLabels: constLabels,
	})

	p.upstreamUp = f.NewGauge(prometheus.GaugeOpts{
		Namespace: ns, Name: "upstream_up",
		Help:        "1 when the last record server probe succeeded",
		ConstLabels: constLabels,
	})
	p.upstreamLatency = f.NewGauge(prometheus.GaugeOpts{
		Namespace: ns, Name: "upstream_probe_latency_seconds",
		Help:        "Latency of the last record server probe",
		ConstLabels: constLabels,
	})

	f.NewGaugeFunc(prometheus.GaugeOpts{
		Namespace: ns, Name: "build_info",
		Help:        "Build information",
		ConstLabels: prometheus.Labels{"environment": cfg.Environment, "version": cfg.ServiceVersion},
	}, func() float64 { return 1 })

	return p
}

// Registry returns the provider's registry.
func (p *Provider) Registry() *prometheus.Registry {
	return p.registry
}

// ObserveQuery records one processed question.
func (p *Provider) ObserveQuery(intent, outcome string, elapsed time.Duration, records int) {
	if !p.cfg.metricsOn() {
		return
	}
	p.queries.WithLabelValues(intent, outcome).Inc()
	p.queryDuration.WithLabelValues(intent).Observe(elapsed.Seconds())
	if outcome == "complete" || outcome == "partial" {
		p.queryRecords.Observe(float64(records))
	}
}

// ObservePage records one page request to the record server.
func (p *Provider) ObservePage(outcome string, elapsed time.Duration) {
	if !p.cfg.metricsOn() {
		return
	}
	p.pages.WithLabelValues(outcome).Inc()
	p.pageDuration.Observe(elapsed.Seconds())
}

// ObserveProbe records the result of a record server health probe.
func (p *Provider) ObserveProbe(s fhir.ProbeStatus) {
	if s.Up {
		p.upstreamUp.Set(1)
	} else {
		p.upstreamUp.Set(0)
	}
	p.upstreamLatency.Set(float64(s.LatencyMS) / 1000)
}

// MetricsMiddleware records count, latency and in-flight requests per
// route template.
func (p *Provider) MetricsMiddleware() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			if !p.cfg.metricsOn() {
				return next(c)
			}
			p.httpInFlight.Inc()
			defer p.httpInFlight.Dec()

			start := time.Now()
			err := next(c)

			route := c.Path()
			if route == "" {
				route = "unmatched"
			}
			status := c.Response().Status
			if he, ok := err.(*echo.HTTPError); ok && !c.Response().Committed {
				status = he.Code
			}
			method := c.Request().Method
			p.httpRequests.WithLabelValues(method, route, strconv.Itoa(status)).Inc()
			p.httpDuration.WithLabelValues(method, route).Observe(time.Since(start).Seconds())
			return err
		}
	}
}

// Handler serves the registry in the Prometheus text format.
func (p *Provider) Handler() http.Handler {
	return promhttp.HandlerFor(p.registry, promhttp.HandlerOpts{Registry: p.registry})
}

// PrometheusHandler is Handler wrapped for echo.
func (p *Provider) PrometheusHandler() echo.HandlerFunc {
	return echo.WrapHandler(p.Handler())
}
