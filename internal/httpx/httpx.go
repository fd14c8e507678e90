// Package httpx holds the response helpers shared by the domain handlers.
package httpx

import (
	"errors"
	"log"
	"math"
	"net/http"
	"strconv"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/sudo-init-do/taskmarket/internal/apperr"
)

// Error answers err with the status of its taxonomy code. Unknown errors are
// logged and reported as internal without leaking their text.
func Error(c echo.Context, err error) error {
	code := apperr.CodeOf(err)
	if code == apperr.Internal {
		log.Printf("[http][ERROR] %s %s: %v", c.Request().Method, c.Path(), err)
		return c.JSON(http.StatusInternalServerError, echo.Map{"error": "internal error", "code": code})
	}
	var e *apperr.Error
	errors.As(err, &e)
	return c.JSON(apperr.HTTPStatus(code), echo.Map{"error": e.Reason, "code": code})
}

// BadRequest answers a malformed request body or parameter.
func BadRequest(c echo.Context, msg string) error {
	return c.JSON(http.StatusBadRequest, echo.Map{"error": msg, "code": apperr.InvalidParameter})
}

// Caller returns the authenticated account set by the JWT middleware.
func Caller(c echo.Context) (string, bool) {
	id, ok := c.Get("user_id").(string)
	return id, ok && id != ""
}

func Unauthorized(c echo.Context) error {
	return c.JSON(http.StatusUnauthorized, echo.Map{"error": "unauthorized"})
}

// QueryUint parses an optional unsigned query parameter.
func QueryUint(c echo.Context, name string) (uint64, error) {
	v := c.QueryParam(name)
	if v == "" {
		return 0, nil
	}
	return strconv.ParseUint(v, 10, 64)
}

const maxSeconds = math.MaxInt64 / int64(time.Second)

// Seconds converts a request duration in seconds. It fails for negative
// values and for values a time.Duration cannot hold.
func Seconds(secs int64) (time.Duration, bool) {
	if secs < 0 || secs > maxSeconds {
		return 0, false
	}
	return time.Duration(secs) * time.Second, true
}
