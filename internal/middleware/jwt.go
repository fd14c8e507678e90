package middleware

import (
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/sudo-init-do/taskmarket/internal/utils"
)

// JWTMiddleware authenticates the caller and sets user_id and role on the
// context for the handlers.
func JWTMiddleware(secret []byte) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			tokenStr, err := utils.BearerToken(c.Request().Header.Get("Authorization"))
			if err != nil {
				return c.JSON(http.StatusUnauthorized, echo.Map{"error": err.Error()})
			}
			id, role, err := utils.ParseToken(secret, tokenStr)
			if err != nil {
				return c.JSON(http.StatusUnauthorized, echo.Map{"error": "invalid or expired token"})
			}
			c.Set("user_id", id)
			c.Set("role", role)
			return next(c)
		}
	}
}
