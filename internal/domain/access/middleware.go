package access

import (
	"net/http"

	"github.com/carebook/scheduler/internal/platform/auth"
	"github.com/labstack/echo/v4"
)

const callerContextKey = "caller"

// CallerMiddleware resolves the authenticated identity into a Caller and
// stores it on the echo context.
func CallerMiddleware(r *Resolver) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			id, role := auth.CallerFromContext(c.Request().Context())
			if id == "" || role == "" {
				return echo.NewHTTPError(http.StatusUnauthorized, "missing caller identity")
			}
			caller, err := r.Resolve(c.Request().Context(), id, role)
			if err != nil {
				return err
			}
			c.Set(callerContextKey, caller)
			return next(c)
		}
	}
}

// CallerFrom returns the Caller resolved by CallerMiddleware.
func CallerFrom(c echo.Context) (Caller, bool) {
	caller, ok := c.Get(callerContextKey).(Caller)
	return caller, ok
}

// SetCaller stores caller on c. Used by handler tests.
func SetCaller(c echo.Context, caller Caller) {
	c.Set(callerContextKey, caller)
}

// RequireCapability rejects callers whose role lacks want.
func RequireCapability(want Capability) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			caller, ok := CallerFrom(c)
			if !ok {
				return echo.NewHTTPError(http.StatusUnauthorized, "missing caller identity")
			}
			if !caller.Can(want) {
				return echo.NewHTTPError(http.StatusForbidden, "access denied")
			}
			return next(c)
		}
	}
}
