package middleware

import (
	"strings"

	"github.com/labstack/echo/v4"
)

const (
	apiContentPolicy = "default-src 'none'; frame-ancestors 'none'"
	// The docs page pulls Swagger UI from unpkg and fetches the document from this origin.
	docsContentPolicy = "default-src 'none'; script-src 'unsafe-inline' https://unpkg.com; " +
		"style-src 'unsafe-inline' https://unpkg.com; img-src 'self' data:; connect-src 'self'; " +
		"frame-ancestors 'none'"
)

// SecurityHeadersConfig selects per-path header behaviour.
type SecurityHeadersConfig struct {
	// DocsPath is the HTML API docs page. Empty means none.
	DocsPath string
}

// SecurityHeaders sets hardening headers on every response. Query routes
// return patient records, so their responses are marked no-store.
func SecurityHeaders(cfg SecurityHeadersConfig) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			path := c.Request().URL.Path
			h := c.Response().Header()
			h.Set("X-Content-Type-Options", "nosniff")
			h.Set("X-Frame-Options", "DENY")
			h.Set("Referrer-Policy", "no-referrer")
			if cfg.DocsPath != "" && path == cfg.DocsPath {
				h.Set("Content-Security-Policy", docsContentPolicy)
			} else {
				h.Set("Content-Security-Policy", apiContentPolicy)
			}
			if IsQueryPath(path) {
				h.Set("Cache-Control", "no-store")
			}
			return next(c)
		}
	}
}

// IsQueryPath reports whether path is one of the /query routes.
func IsQueryPath(path string) bool {
	return path == "/query" || strings.HasPrefix(path, "/query/")
}
