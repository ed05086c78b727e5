package middleware

import (
	"time"

	"github.com/carebook/scheduler/internal/platform/apperr"
	"github.com/carebook/scheduler/internal/platform/auth"
	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"
)

func Logger(logger zerolog.Logger) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			start := time.Now()
			req := c.Request()
			rid, _ := c.Get("request_id").(string)

			err := next(c)

			status := c.Response().Status
			if he, ok := err.(*echo.HTTPError); ok {
				status = he.Code
			} else if err != nil {
				status = apperr.HTTPStatus(err)
			}

			evt := logger.Info()
			if err != nil && status >= 500 {
				evt = logger.Error().Err(err)
			} else if err != nil {
				evt = logger.Warn().Err(err)
			}

			callerID, role := auth.CallerFromContext(c.Request().Context())
			evt.
				Str("request_id", rid).
				Str("method", req.Method).
				Str("path", req.URL.Path).
				Int("status", status).
				Dur("latency", time.Since(start)).
				Str("remote_ip", c.RealIP()).
				Str("caller_id", callerID).
				Str("caller_role", role).
				Msg("request")

			return err
		}
	}
}
