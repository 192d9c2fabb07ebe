package middleware

import (
	"strings"

	"github.com/labstack/echo/v4"
	echomw "github.com/labstack/echo/v4/middleware"

	"edge-forwarder/internal/config"
)

// RequestIDKey is the echo.Context key holding the request id.
const RequestIDKey = "request_id"

// RequestID assigns each request an id (the inbound X-Request-Id when
// present) and stores it under RequestIDKey for logging. The id is echoed in
// the response only on the forwarder's own routes; relayed responses carry
// the target's headers plus the CORS pair and nothing else.
func RequestID() echo.MiddlewareFunc {
	return echomw.RequestIDWithConfig(echomw.RequestIDConfig{
		RequestIDHandler: func(c echo.Context, id string) {
			c.Set(RequestIDKey, id)
			if !strings.HasPrefix(c.Request().URL.Path, config.OpsPrefix) {
				c.Response().Header().Del(echo.HeaderXRequestID)
			}
		},
	})
}
