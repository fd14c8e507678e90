package matching

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func asCaller(next echo.HandlerFunc) echo.HandlerFunc {
	return func(c echo.Context) error {
		if id := c.Request().Header.Get("X-Account"); id != "" {
			c.Set("user_id", id)
		}
		return next(c)
	}
}

func send(e *echo.Echo, method, path, account, body string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	if account != "" {
		req.Header.Set("X-Account", account)
	}
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)
	return rec
}

func TestHandlersOfferBidMatch(t *testing.T) {
	f := newFixture(t)
	f.task(t, "t1", 10000)
	e := echo.New()
	NewHandler(f.eng).Register(e.Group("/markets"), asCaller)

	rec := send(e, http.MethodPost, "/markets/admin/offers", "owner", `{"task_id":"t1","price":10000,"duration_secs":3600}`)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	assert.Contains(t, rec.Body.String(), `"matches":[]`)

	rec = send(e, http.MethodGet, "/markets/admin/levels/task_offer", "", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"price":10000`)

	rec = send(e, http.MethodGet, "/markets/admin/best", "", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "10000")

	rec = send(e, http.MethodGet, "/markets/admin/orders/1", "", "")
	require.Equal(t, http.StatusOK, rec.Code)
	var o Order
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &o))
	assert.Equal(t, TaskOffer, o.Side)

	rec = send(e, http.MethodPost, "/markets/admin/bids", "provider", `{"task_id":"t1","price":8000,"duration_secs":3600}`)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	var placed struct {
		Order   Order   `json:"order"`
		Matches []Match `json:"matches"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &placed))
	require.Len(t, placed.Matches, 1)
	assert.Equal(t, int64(7980), placed.Matches[0].Net)

	rec = send(e, http.MethodGet, "/markets/admin", "", "")
	require.Equal(t, http.StatusOK, rec.Code)
	var s Stats
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &s))
	assert.Equal(t, uint64(1), s.TotalMatches)

	rec = send(e, http.MethodGet, "/markets/admin/orders/1", "", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestHandlersStatusAndValidation(t *testing.T) {
	f := newFixture(t)
	f.task(t, "t1", 10000)
	e := echo.New()
	NewHandler(f.eng).Register(e.Group("/markets"), asCaller)

	rec := send(e, http.MethodDelete, "/markets/admin/orders/abc?side=task_offer", "owner", "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = send(e, http.MethodPost, "/markets/admin/bids", "provider", `{"task_id":"t1","price":1000,"duration_secs":18446744134}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Zero(t, f.stats(t).OpenBids)

	rec = send(e, http.MethodPost, "/markets/status", "owner", `{"status":"paused"}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code, "owner has no market")

	rec = send(e, http.MethodPost, "/markets/status", "admin", `{"status":"paused"}`)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	rec = send(e, http.MethodPost, "/markets/admin/offers", "owner", `{"task_id":"t1","price":10000,"duration_secs":3600}`)
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.Contains(t, rec.Body.String(), "MARKET_NOT_OPERATIONAL")

	rec = send(e, http.MethodPost, "/markets/admin/sweep", "", "")
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}
