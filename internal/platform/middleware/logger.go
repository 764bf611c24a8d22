package middleware

import (
	"errors"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"
)

// Logger attaches a request-scoped logger to the request context, so handlers
// can use zerolog.Ctx, and logs one line per admin request.
func Logger(logger zerolog.Logger) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			start := time.Now()
			req := c.Request()

			reqLog := logger.With().
				Str("component", "admin_http").
				Str("request_id", requestID(c)).
				Logger()
			c.SetRequest(req.WithContext(reqLog.WithContext(req.Context())))

			err := next(c)

			status := c.Response().Status
			var he *echo.HTTPError
			if errors.As(err, &he) {
				status = he.Code
			}

			evt := reqLog.Info()
			switch {
			case status >= http.StatusInternalServerError:
				evt = reqLog.Error().Err(err)
			case err != nil:
				evt = reqLog.Warn().Err(err)
			case req.URL.Path == "/health" || req.URL.Path == "/metrics":
				evt = reqLog.Debug()
			}

			evt.
				Str("method", req.Method).
				Str("path", req.URL.Path).
				Int("status", status).
				Dur("latency", time.Since(start)).
				Str("remote_ip", c.RealIP()).
				Msg("admin request")

			return err
		}
	}
}
