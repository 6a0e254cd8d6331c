package config

import (
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/spf13/viper"
)

type Config struct {
	Port     string `mapstructure:"PORT"`
	Env      string `mapstructure:"ENV"`
	LogLevel string `mapstructure:"LOG_LEVEL"`

	FHIRBaseURL        string        `mapstructure:"FHIR_BASE_URL"`
	FHIRMaxPages       int           `mapstructure:"FHIR_MAX_PAGES"`
	FHIRPageSize       int           `mapstructure:"FHIR_PAGE_SIZE"`
	FHIRRequestTimeout time.Duration `mapstructure:"FHIR_REQUEST_TIMEOUT"`
	FHIRRetryMax       int           `mapstructure:"FHIR_RETRY_MAX"`
	FHIRRateLimitRPS   float64       `mapstructure:"FHIR_RATE_LIMIT_RPS"`
	FHIRFixtureFile    string        `mapstructure:"FHIR_FIXTURE_FILE"`
	ResultCap          int           `mapstructure:"RESULT_CAP"`

	RateLimitRPS   float64       `mapstructure:"RATE_LIMIT_RPS"`
	RateLimitBurst int           `mapstructure:"RATE_LIMIT_BURST"`
	RequestTimeout time.Duration `mapstructure:"REQUEST_TIMEOUT"`
	BodyLimit      string        `mapstructure:"BODY_LIMIT"`
	CORSOrigins    []string      `mapstructure:"CORS_ORIGINS"`

	AuthMode       string `mapstructure:"AUTH_MODE"`
	AuthIssuer     string `mapstructure:"AUTH_ISSUER"`
	AuthAudience   string `mapstructure:"AUTH_AUDIENCE"`
	AuthJWKSURL    string `mapstructure:"AUTH_JWKS_URL"`
	AuthSigningKey string `mapstructure:"AUTH_SIGNING_KEY"`

	TerminologyDatabaseURL string `mapstructure:"TERMINOLOGY_DATABASE_URL"`
	DBMaxConns             int32  `mapstructure:"DB_MAX_CONNS"`
	DBMinConns             int32  `mapstructure:"DB_MIN_CONNS"`

	UpstreamProbeSchedule string `mapstructure:"UPSTREAM_PROBE_SCHEDULE"`

	TLSEnabled  bool   `mapstructure:"TLS_ENABLED"`
	TLSCertFile string `mapstructure:"TLS_CERT_FILE"`
	TLSKeyFile  string `mapstructure:"TLS_KEY_FILE"`
}

var defaults = map[string]interface{}{
	"PORT":                     "8000",
	"ENV":                      "development",
	"LOG_LEVEL":                "info",
	"FHIR_BASE_URL":            "https://hapi.fhir.org/baseR4",
	"FHIR_MAX_PAGES":           3,
	"FHIR_PAGE_SIZE":           50,
	"FHIR_REQUEST_TIMEOUT":     "30s",
	"FHIR_RETRY_MAX":           0,
	"FHIR_RATE_LIMIT_RPS":      0,
	"FHIR_FIXTURE_FILE":        "",
	"RESULT_CAP":               100,
	"RATE_LIMIT_RPS":           20,
	"RATE_LIMIT_BURST":         40,
	"REQUEST_TIMEOUT":          "120s",
	"BODY_LIMIT":               "64K",
	"CORS_ORIGINS":             "*",
	"AUTH_MODE":                "", // inferred from ENV
	"AUTH_ISSUER":              "",
	"AUTH_AUDIENCE":            "",
	"AUTH_JWKS_URL":            "",
	"AUTH_SIGNING_KEY":         "",
	"TERMINOLOGY_DATABASE_URL": "",
	"DB_MAX_CONNS":             4,
	"DB_MIN_CONNS":             0,
	"UPSTREAM_PROBE_SCHEDULE":  "",
	"TLS_ENABLED":              false,
	"TLS_CERT_FILE":            "",
	"TLS_KEY_FILE":             "",
}

// Load reads the environment, then an optional .env file in the working
// directory. Environment variables win.
func Load() (*Config, error) {
	return load(".env")
}

func load(envFile string) (*Config, error) {
	v := viper.New()
	v.SetConfigFile(envFile)
	v.SetConfigType("env")
	v.AutomaticEnv()

	for key, val := range defaults {
		v.SetDefault(key, val)
		// Unmarshal only sees env vars that are bound.
		_ = v.BindEnv(key)
	}

	// A missing .env file is fine.
	_ = v.ReadInConfig()

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}
	cfg.CORSOrigins = splitList(cfg.CORSOrigins)
	return cfg, nil
}

// splitList flattens comma separated entries and drops blanks.
func splitList(in []string) []string {
	var out []string
	for _, item := range in {
		for _, part := range strings.Split(item, ",") {
			if part = strings.TrimSpace(part); part != "" {
				out = append(out, part)
			}
		}
	}
	return out
}

func (c *Config) IsDev() bool {
	return c.Env == "development"
}

// IsProduction returns true when the server is configured for production mode.
func (c *Config) IsProduction() bool {
	return c.Env == "production"
}

// ResolvedAuthMode returns AUTH_MODE when set. Otherwise development
// environments run without auth and everything else expects bearer tokens.
func (c *Config) ResolvedAuthMode() string {
	if c.AuthMode != "" {
		return c.AuthMode
	}
	if c.IsDev() {
		return "development"
	}
	return "external"
}

// Validate checks that the configuration is usable.
func (c *Config) Validate() error {
	u, err := url.Parse(c.FHIRBaseURL)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return fmt.Errorf("FHIR_BASE_URL must be an absolute http(s) URL, got %q", c.FHIRBaseURL)
	}
	if c.FHIRMaxPages < 1 {
		return fmt.Errorf("FHIR_MAX_PAGES must be at least 1, got %d", c.FHIRMaxPages)
	}
	if c.FHIRPageSize < 1 {
		return fmt.Errorf("FHIR_PAGE_SIZE must be at least 1, got %d", c.FHIRPageSize)
	}
	if c.ResultCap < 1 {
		return fmt.Errorf("RESULT_CAP must be at least 1, got %d", c.ResultCap)
	}
	if c.FHIRRequestTimeout <= 0 {
		return fmt.Errorf("FHIR_REQUEST_TIMEOUT must be positive, got %s", c.FHIRRequestTimeout)
	}
	if c.RequestTimeout <= 0 {
		return fmt.Errorf("REQUEST_TIMEOUT must be positive, got %s", c.RequestTimeout)
	}
	if budget := time.Duration(c.FHIRMaxPages) * c.FHIRRequestTimeout; c.RequestTimeout < budget {
		return fmt.Errorf("REQUEST_TIMEOUT %s is shorter than FHIR_MAX_PAGES x FHIR_REQUEST_TIMEOUT (%s)", c.RequestTimeout, budget)
	}
	if c.FHIRRetryMax < 0 {
		return fmt.Errorf("FHIR_RETRY_MAX must not be negative, got %d", c.FHIRRetryMax)
	}
	if c.FHIRRateLimitRPS < 0 || c.RateLimitRPS < 0 {
		return fmt.Errorf("rate limits must not be negative")
	}

	switch mode := c.ResolvedAuthMode(); mode {
	case "development":
		if c.IsProduction() {
			return fmt.Errorf("AUTH_MODE \"development\" is not allowed when ENV=production")
		}
	case "external":
		if c.AuthSigningKey == "" && c.AuthJWKSURL == "" {
			return fmt.Errorf(
				"AUTH_JWKS_URL or AUTH_SIGNING_KEY must be set when AUTH_MODE is \"external\" (current ENV=%q)", c.Env)
		}
	default:
		return fmt.Errorf("AUTH_MODE must be \"development\" or \"external\", got %q", mode)
	}

	if c.TLSEnabled {
		if c.TLSCertFile == "" {
			return fmt.Errorf("TLS_CERT_FILE is required when TLS_ENABLED is true")
		}
		if c.TLSKeyFile == "" {
			return fmt.Errorf("TLS_KEY_FILE is required when TLS_ENABLED is true")
		}
	}
	return nil
}
