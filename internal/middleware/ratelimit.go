package middleware

import (
	"math"
	"net/http"
	"strings"

	"github.com/labstack/echo/v4"
	echomw "github.com/labstack/echo/v4/middleware"
	"golang.org/x/time/rate"

	"edge-forwarder/internal/config"
)

// RateLimiter returns a per-client-IP limiter allowing rps requests per second
// with a burst of ceil(rps). The forwarder's own endpoints are never limited.
// Rejected requests get an empty 429, matching the forwarder's bodiless errors.
func RateLimiter(rps float64) echo.MiddlewareFunc {
	store := echomw.NewRateLimiterMemoryStoreWithConfig(echomw.RateLimiterMemoryStoreConfig{
		Rate:  rate.Limit(rps),
		Burst: int(math.Ceil(rps)),
	})

	return echomw.RateLimiterWithConfig(echomw.RateLimiterConfig{
		Skipper: func(c echo.Context) bool {
			return strings.HasPrefix(c.Request().URL.Path, config.OpsPrefix)
		},
		Store: store,
		ErrorHandler: func(c echo.Context, _ error) error {
			return c.NoContent(http.StatusForbidden)
		},
		DenyHandler: func(c echo.Context, _ string, _ error) error {
			return c.NoContent(http.StatusTooManyRequests)
		},
	})
}
