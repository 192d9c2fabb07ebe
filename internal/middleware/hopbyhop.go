package middleware

import (
	"net/http"
	"strings"

	"github.com/golang/gddo/httputil/header"
	"github.com/labstack/echo/v4"

	"edge-forwarder/internal/config"
)

// hopByHopHeaders describe a single connection and are never forwarded.
var hopByHopHeaders = []string{
	"Connection",
	"Proxy-Connection",
	"Keep-Alive",
	"Proxy-Authenticate",
	"Proxy-Authorization",
	"TE",
	"Trailer",
	"Upgrade",
}

// StripHopByHop returns an Echo middleware that removes hop-by-hop headers
// from the inbound request, including any named in the Connection header.
// Forwarded responses are relayed untouched; the forwarder's own endpoints
// get nosniff and frame-deny headers.
func StripHopByHop() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			removeHopByHop(c.Request().Header)

			if strings.HasPrefix(c.Request().URL.Path, config.OpsPrefix) {
				c.Response().Header().Set("X-Content-Type-Options", "nosniff")
				c.Response().Header().Set("X-Frame-Options", "DENY")
			}

			return next(c)
		}
	}
}

func removeHopByHop(h http.Header) {
	for _, name := range header.ParseList(h, "Connection") {
		h.Del(name)
	}
	for _, name := range hopByHopHeaders {
		h.Del(name)
	}
}
