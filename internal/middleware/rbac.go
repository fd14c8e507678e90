package middleware

import (
	"net/http"
	"slices"

	"github.com/labstack/echo/v4"
)

const RoleAdmin = "admin"

// RequireRoles lets the request through only when the role claim set by
// JWTMiddleware is one of roles.
func RequireRoles(roles ...string) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			role, _ := c.Get("role").(string)
			if role == "" {
				return c.JSON(http.StatusForbidden, echo.Map{"error": "role missing"})
			}
			if !slices.Contains(roles, role) {
				return c.JSON(http.StatusForbidden, echo.Map{"error": "access denied"})
			}
			return next(c)
		}
	}
}

// AdminGuard restricts a group to operators holding the admin role.
func AdminGuard(next echo.HandlerFunc) echo.HandlerFunc {
	return RequireRoles(RoleAdmin)(next)
}
