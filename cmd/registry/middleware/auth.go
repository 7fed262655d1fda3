package middleware

import (
	"github.com/labstack/echo/v4"
	"github.com/lyzr/plugin-registry/common/auth"
)

// UserHeader carries the identity resolved by the fronting gateway.
// Identity resolution itself happens upstream; this layer only consumes
// its output for audit stamping.
const UserHeader = "X-User-ID"

// ResolveUser extracts the X-User-ID header and threads it into the
// request context so release mutations can stamp the acting user. An
// absent header leaves the context untouched; audit fields then default
// to "anonymous".
func ResolveUser() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			user := c.Request().Header.Get(UserHeader)
			if user != "" {
				ctx := auth.WithUser(c.Request().Context(), user)
				c.SetRequest(c.Request().WithContext(ctx))
			}
			return next(c)
		}
	}
}
