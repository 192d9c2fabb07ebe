package middleware

import (
	"errors"
	"time"

	"github.com/labstack/echo/v4"

	"edge-forwarder/internal/metrics"
)

// MetricsMiddleware returns an Echo middleware that records request count,
// latency and in-flight gauge. Each request is labelled with its route and
// the outcome the forward handler stored under metrics.OutcomeKey; status is
// reduced to its class since relayed targets may answer with any code.
func MetricsMiddleware(m *metrics.Metrics) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			m.RequestsInFlight.Inc()
			defer m.RequestsInFlight.Dec()

			start := time.Now()

			err := next(c)

			// An *echo.HTTPError (body limit, rate limiter, router 404) is
			// written later by Echo's error handler.
			statusCode := c.Response().Status
			var he *echo.HTTPError
			if err != nil && errors.As(err, &he) {
				statusCode = he.Code
			}

			route := metrics.NormalizePath(c.Request().URL.Path)
			labels := []string{
				metrics.NormalizeMethod(c.Request().Method),
				metrics.StatusClass(statusCode),
				route,
				requestOutcome(c, route),
			}

			m.RequestsTotal.WithLabelValues(labels...).Inc()
			m.RequestDuration.WithLabelValues(labels...).Observe(time.Since(start).Seconds())

			return err
		}
	}
}

func requestOutcome(c echo.Context, route string) string {
	if outcome, ok := c.Get(metrics.OutcomeKey).(string); ok && outcome != "" {
		return outcome
	}
	if route == "forward" {
		return metrics.OutcomeNotForwarded
	}
	return metrics.OutcomeLocal
}
