package escrow

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// asCaller stands in for the JWT middleware.
func asCaller(next echo.HandlerFunc) echo.HandlerFunc {
	return func(c echo.Context) error {
		if id := c.Request().Header.Get("X-Account"); id != "" {
			c.Set("user_id", id)
		}
		return next(c)
	}
}

func call(e *echo.Echo, method, path, account, body string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	if account != "" {
		req.Header.Set("X-Account", account)
	}
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)
	return rec
}

func TestHandlersLifecycle(t *testing.T) {
	f := newFixture(t)
	e := echo.New()
	NewHandler(f.svc).Register(e.Group("/escrow"), asCaller)

	rec := call(e, http.MethodPost, "/escrow/tasks", "owner",
		`{"task_id":"t1","counterparty":"worker","amount":500,"duration_secs":3600,"description":"docs"}`)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	var task Task
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &task))
	assert.Equal(t, "t1", task.ID)
	assert.True(t, task.Deadline.Equal(f.start.Add(time.Hour)))

	rec = call(e, http.MethodPost, "/escrow/owner/tasks/t1/complete", "stranger", "")
	assert.Equal(t, http.StatusForbidden, rec.Code)
	assert.Contains(t, rec.Body.String(), `"code":"UNAUTHORIZED"`)

	rec = call(e, http.MethodPost, "/escrow/owner/tasks/t1/complete", "worker", "")
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, int64(500), f.balance(t, "worker"))

	rec = call(e, http.MethodPost, "/escrow/tasks/t1/cancel", "owner", "")
	assert.Equal(t, http.StatusConflict, rec.Code)

	rec = call(e, http.MethodGet, "/escrow/owner/stats", "", "")
	require.Equal(t, http.StatusOK, rec.Code)
	var stats Stats
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &stats))
	assert.Equal(t, 1, stats.Completed)
	assert.Zero(t, stats.Held)

	rec = call(e, http.MethodGet, "/escrow/owner/tasks/missing", "", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestHandlersRejectAnonymousAndBadBody(t *testing.T) {
	f := newFixture(t)
	e := echo.New()
	NewHandler(f.svc).Register(e.Group("/escrow"), asCaller)

	rec := call(e, http.MethodPost, "/escrow/init", "", "")
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = call(e, http.MethodPost, "/escrow/tasks", "owner", `{"amount":"lots"}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = call(e, http.MethodPost, "/escrow/tasks", "owner",
		`{"task_id":"t1","counterparty":"worker","amount":500,"duration_secs":18446744134}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, int64(100000), f.balance(t, "owner"))
	rec = call(e, http.MethodGet, "/escrow/owner/tasks/t1", "", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = call(e, http.MethodPost, "/escrow/init", "owner", "")
	assert.Equal(t, http.StatusConflict, rec.Code)
	assert.Contains(t, rec.Body.String(), "ALREADY_INITIALIZED")
}
