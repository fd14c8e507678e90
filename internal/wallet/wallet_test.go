package wallet

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sudo-init-do/taskmarket/internal/store/memstore"
)

func TestFundAndBalance(t *testing.T) {
	svc := NewService(memstore.New())
	ctx := context.Background()

	r, err := svc.Fund(ctx, "ops", "alice", 500)
	require.NoError(t, err)
	assert.Equal(t, int64(500), r.Balance)
	assert.NotEmpty(t, r.ID)

	r, err = svc.Fund(ctx, "ops", "alice", 250)
	require.NoError(t, err)
	assert.Equal(t, int64(750), r.Balance)

	_, err = svc.Fund(ctx, "ops", "alice", 0)
	assert.ErrorIs(t, err, ErrInvalidAmount)

	bal, err := svc.Balance(ctx, "alice")
	require.NoError(t, err)
	assert.Equal(t, int64(750), bal)

	bal, err = svc.Balance(ctx, "nobody")
	require.NoError(t, err)
	assert.Zero(t, bal)
}

func TestHandlers(t *testing.T) {
	h := NewHandler(NewService(memstore.New()))
	e := echo.New()

	req := httptest.NewRequest(http.MethodPost, "/admin/wallets/bob/fund", strings.NewReader(`{"amount":900}`))
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)
	c.SetParamNames("account")
	c.SetParamValues("bob")
	c.Set("user_id", "ops")
	require.NoError(t, h.AdminFund(c))
	assert.Equal(t, http.StatusOK, rec.Code)

	req = httptest.NewRequest(http.MethodGet, "/wallet/balance", nil)
	rec = httptest.NewRecorder()
	c = e.NewContext(req, rec)
	c.Set("user_id", "bob")
	require.NoError(t, h.Balance(c))
	assert.JSONEq(t, `{"user_id":"bob","balance":900}`, rec.Body.String())

	rec = httptest.NewRecorder()
	c = e.NewContext(httptest.NewRequest(http.MethodGet, "/wallet/balance", nil), rec)
	require.NoError(t, h.Balance(c))
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}
