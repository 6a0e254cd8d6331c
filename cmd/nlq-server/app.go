package main

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/labstack/echo/v4"
	echomw "github.com/labstack/echo/v4/middleware"
	"github.com/rs/zerolog"

	"github.com/ehr/nlq/internal/config"
	"github.com/ehr/nlq/internal/domain/nlquery"
	"github.com/ehr/nlq/internal/domain/terminology"
	"github.com/ehr/nlq/internal/platform/auth"
	"github.com/ehr/nlq/internal/platform/db"
	"github.com/ehr/nlq/internal/platform/fhir"
	"github.com/ehr/nlq/internal/platform/middleware"
	"github.com/ehr/nlq/internal/platform/openapi"
	"github.com/ehr/nlq/internal/platform/telemetry"
)

const (
	serviceName    = "FHIR NLP Service"
	serviceVersion = "0.1.0"

	openAPIPath = "/api/v1/openapi.json"
	docsPath    = "/api/v1/docs"
)

// newLogger builds the root logger. Development gets console output.
func newLogger(cfg *config.Config, w io.Writer) zerolog.Logger {
	logger := zerolog.New(w).With().Timestamp().Logger()
	if cfg.IsDev() {
		logger = zerolog.New(zerolog.ConsoleWriter{Out: w}).With().Timestamp().Logger()
	}
	level, err := zerolog.ParseLevel(strings.ToLower(cfg.LogLevel))
	if err != nil || cfg.LogLevel == "" {
		level = zerolog.InfoLevel
	}
	return logger.Level(level)
}

// app holds the wired pipeline and its supporting services.
type app struct {
	cfg     *config.Config
	logger  zerolog.Logger
	metrics *telemetry.Provider
	mapper  *terminology.Mapper
	service *nlquery.Service
	prober  *fhir.Prober
	pool    *pgxpool.Pool
}

// newApp wires the pipeline from cfg. A nil fetcher selects the fixture
// file when one is configured and the live record server otherwise.
func newApp(ctx context.Context, cfg *config.Config, logger zerolog.Logger, fetcher fhir.Fetcher) (*app, error) {
	a := &app{
		cfg:    cfg,
		logger: logger,
		metrics: telemetry.NewProvider(telemetry.TelemetryConfig{
			ServiceVersion: serviceVersion,
			Environment:    cfg.Env,
		}),
	}

	sources := []terminology.ConditionSource{}
	if cfg.TerminologyDatabaseURL != "" {
		pool, err := db.NewPool(ctx, cfg.TerminologyDatabaseURL, db.PoolConfig{
			MaxConns: cfg.DBMaxConns,
			MinConns: cfg.DBMinConns,
		})
		if err != nil {
			return nil, fmt.Errorf("terminology database: %w", err)
		}
		a.pool = pool
		sources = append(sources, terminology.NewConditionSourcePG(pool))
		logger.Info().Msg("connected to terminology database")
	}

	mapper, err := terminology.BuildMapper(ctx, sources...)
	if err != nil {
		a.close()
		return nil, err
	}
	a.mapper = mapper
	logger.Info().Int("phrases", mapper.Len()).Msg("condition table loaded")

	if fetcher == nil {
		fetcher, err = a.newFetcher()
		if err != nil {
			a.close()
			return nil, err
		}
	}

	a.service = nlquery.NewService(
		nlquery.NewExtractor(mapper),
		nlquery.NewCompiler(cfg.ResultCap, nil),
		fetcher,
		nlquery.FetchSettings{
			BaseURL:  cfg.FHIRBaseURL,
			MaxPages: cfg.FHIRMaxPages,
			PageSize: cfg.FHIRPageSize,
			Timeout:  cfg.FHIRRequestTimeout,
		},
		nlquery.WithEventSink(nlquery.NewLogSink(logger)),
		nlquery.WithQueryObserver(a.metrics),
	)

	a.prober = fhir.NewProber(cfg.FHIRBaseURL, cfg.FHIRRequestTimeout, logger)
	a.prober.OnResult(a.metrics.ObserveProbe)
	return a, nil
}

func (a *app) newFetcher() (fhir.Fetcher, error) {
	if a.cfg.FHIRFixtureFile != "" {
		static, err := fhir.LoadBundleFile(a.cfg.FHIRFixtureFile)
		if err != nil {
			return nil, err
		}
		a.logger.Info().
			Str("file", a.cfg.FHIRFixtureFile).
			Int("records", static.Len()).
			Msg("serving records from fixture file")
		return static, nil
	}
	return fhir.NewHTTPFetcher(
		fhir.WithRetryMax(a.cfg.FHIRRetryMax),
		fhir.WithRateLimit(a.cfg.FHIRRateLimitRPS),
		fhir.WithLogger(a.logger),
		fhir.WithPageObserver(a.metrics),
	), nil
}

// startProbe schedules the upstream probe when a schedule is configured.
func (a *app) startProbe() error {
	if a.cfg.UpstreamProbeSchedule == "" {
		return nil
	}
	if err := a.prober.Start(a.cfg.UpstreamProbeSchedule); err != nil {
		return err
	}
	a.logger.Info().Str("schedule", a.cfg.UpstreamProbeSchedule).Msg("upstream probe scheduled")
	return nil
}

func (a *app) close() {
	if a.prober != nil {
		a.prober.Stop()
	}
	if a.pool != nil {
		a.pool.Close()
	}
}

// router builds the echo server with the full middleware chain.
func (a *app) router() *echo.Echo {
	cfg := a.cfg
	logger := a.logger

	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	// Global middleware
	e.Use(middleware.Recovery(logger))
	e.Use(middleware.RequestID())
	e.Use(middleware.Logger(logger))
	e.Use(a.metrics.MetricsMiddleware())
	e.Use(middleware.SecurityHeaders(middleware.SecurityHeadersConfig{DocsPath: docsPath}))
	e.Use(echomw.CORSWithConfig(echomw.CORSConfig{
		AllowOrigins: cfg.CORSOrigins,
		AllowMethods: []string{http.MethodGet, http.MethodPost},
		AllowHeaders: []string{"Authorization", "Content-Type", "X-Request-ID"},
	}))
	e.Use(middleware.BodyLimit(cfg.BodyLimit))
	e.Use(middleware.RequestTimeout(cfg.RequestTimeout, auth.IsPublicPath))

	rateLimitCfg := middleware.RateLimitConfig{
		RequestsPerSecond: cfg.RateLimitRPS,
		BurstSize:         cfg.RateLimitBurst,
	}
	if rateLimitCfg.RequestsPerSecond <= 0 {
		rateLimitCfg = middleware.DefaultRateLimitConfig()
	}
	e.Use(middleware.RateLimit(rateLimitCfg))

	// Auth middleware
	if cfg.ResolvedAuthMode() == "development" {
		logger.Warn().Msg("development auth is active, requests are not authenticated")
		e.Use(auth.DevAuthMiddleware())
	} else {
		jwtCfg := auth.JWTConfig{
			Issuer:   cfg.AuthIssuer,
			Audience: cfg.AuthAudience,
			JWKSURL:  cfg.AuthJWKSURL,
			Skipper:  auth.AuthSkipper,
		}
		if cfg.AuthSigningKey != "" {
			jwtCfg.SigningKey = []byte(cfg.AuthSigningKey)
		}
		e.Use(auth.JWTMiddleware(jwtCfg))
	}

	e.Use(middleware.Audit(logger))

	e.GET("/health", func(c echo.Context) error {
		return c.JSON(http.StatusOK, map[string]string{
			"status":  "healthy",
			"service": serviceName,
		})
	})
	e.GET("/health/upstream", a.upstreamHealth)
	if a.pool != nil {
		pool := a.pool
		e.GET("/health/db", db.HealthHandler(pool, func() *db.PoolStats { return db.GetPoolStats(pool) }))
	}
	e.GET("/metrics", a.metrics.PrometheusHandler())

	nlquery.NewHandler(a.service).RegisterRoutes(e)

	apiV1 := e.Group("/api/v1")
	terminology.NewHandler(a.mapper).RegisterRoutes(apiV1)
	openapi.NewGenerator(serviceVersion, "/", openAPIPath).RegisterRoutes(apiV1)

	return e
}

// upstreamHealth serves the last probe result, probing once when none has
// run yet.
func (a *app) upstreamHealth(c echo.Context) error {
	status, ok := a.prober.Last()
	if !ok {
		ctx, cancel := context.WithTimeout(c.Request().Context(), 10*time.Second)
		defer cancel()
		status = a.prober.Check(ctx)
	}
	code := http.StatusOK
	if !status.Up {
		code = http.StatusServiceUnavailable
	}
	return c.JSON(code, status)
}
