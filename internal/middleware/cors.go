package middleware

import (
	"github.com/labstack/echo/v4"
)

// AllowAnyOrigin returns an Echo middleware that stamps
// Access-Control-Allow-Origin: * on every response before the handler runs,
// so responses produced by Echo itself, such as recovered panics, are
// readable by browsers too.
func AllowAnyOrigin() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			c.Response().Header().Set(echo.HeaderAccessControlAllowOrigin, "*")
			return next(c)
		}
	}
}
