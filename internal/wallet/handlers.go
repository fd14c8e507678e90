package wallet

import (
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/sudo-init-do/taskmarket/internal/httpx"
)

type Handler struct {
	svc *Service
}

func NewHandler(svc *Service) *Handler {
	return &Handler{svc: svc}
}

// Balance returns the authenticated caller's balance.
func (h *Handler) Balance(c echo.Context) error {
	caller, ok := httpx.Caller(c)
	if !ok {
		return httpx.Unauthorized(c)
	}
	bal, err := h.svc.Balance(c.Request().Context(), caller)
	if err != nil {
		return httpx.Error(c, err)
	}
	return c.JSON(http.StatusOK, echo.Map{
		"user_id": caller,
		"balance": bal,
	})
}

type fundRequest struct {
	Amount int64 `json:"amount"`
}

// AdminFund credits an account. Mounted behind AdminGuard.
func (h *Handler) AdminFund(c echo.Context) error {
	operator, ok := httpx.Caller(c)
	if !ok {
		return httpx.Unauthorized(c)
	}
	var req fundRequest
	if err := c.Bind(&req); err != nil {
		return httpx.BadRequest(c, "invalid request")
	}
	r, err := h.svc.Fund(c.Request().Context(), operator, c.Param("account"), req.Amount)
	if err != nil {
		return httpx.Error(c, err)
	}
	return c.JSON(http.StatusOK, r)
}
