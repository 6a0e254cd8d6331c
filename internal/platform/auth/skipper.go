package auth

import (
	"github.com/labstack/echo/v4"
)

// publicPaths are reachable without credentials.
var publicPaths = map[string]bool{
	"/health":          true,
	"/health/upstream": true,
	"/metrics":         true,
}

// AuthSkipper reports whether the matched route is public. Use it as the
// JWTConfig Skipper.
func AuthSkipper(c echo.Context) bool {
	return IsPublicPath(c.Path())
}

// IsPublicPath reports whether path is a public infrastructure endpoint.
func IsPublicPath(path string) bool {
	return publicPaths[path]
}
