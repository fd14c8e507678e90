package escrow

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

// Register mounts the ledger routes. auth guards the mutating ones.
func (h *Handler) Register(g *echo.Group, auth echo.MiddlewareFunc) {
	g.POST("/init", h.Initialize, auth)
	g.POST("/tasks", h.Create, auth)
	g.POST("/tasks/:id/cancel", h.Cancel, auth)
	g.POST("/tasks/:id/refund", h.ClaimExpiredRefund, auth)
	g.POST("/:owner/tasks/:id/complete", h.Complete, auth)
	g.GET("/:owner/tasks/:id", h.GetTask)
	g.GET("/:owner/stats", h.Stats)
}

func (h *Handler) Initialize(c echo.Context) error {
	caller, ok := httpx.Caller(c)
	if !ok {
		return httpx.Unauthorized(c)
	}
	if err := h.svc.Initialize(c.Request().Context(), caller); err != nil {
		return httpx.Error(c, err)
	}
	return c.JSON(http.StatusCreated, echo.Map{"message": "ledger initialized", "owner": caller})
}

type createBody struct {
	TaskID       string `json:"task_id"`
	Counterparty string `json:"counterparty"`
	Amount       int64  `json:"amount"`
	DurationSecs int64  `json:"duration_secs"`
	Description  string `json:"description"`
}

func (h *Handler) Create(c echo.Context) error {
	caller, ok := httpx.Caller(c)
	if !ok {
		return httpx.Unauthorized(c)
	}
	var body createBody
	if err := c.Bind(&body); err != nil {
		return httpx.BadRequest(c, "invalid request body")
	}
	d, ok := httpx.Seconds(body.DurationSecs)
	if !ok {
		return httpx.BadRequest(c, "invalid duration_secs")
	}
	t, err := h.svc.Create(c.Request().Context(), caller, CreateRequest{
		ID:           body.TaskID,
		Counterparty: body.Counterparty,
		Amount:       body.Amount,
		Duration:     d,
		Description:  body.Description,
	})
	if err != nil {
		return httpx.Error(c, err)
	}
	return c.JSON(http.StatusCreated, t)
}

func (h *Handler) Complete(c echo.Context) error {
	caller, ok := httpx.Caller(c)
	if !ok {
		return httpx.Unauthorized(c)
	}
	t, err := h.svc.Complete(c.Request().Context(), caller, c.Param("owner"), c.Param("id"))
	if err != nil {
		return httpx.Error(c, err)
	}
	return c.JSON(http.StatusOK, t)
}

func (h *Handler) Cancel(c echo.Context) error {
	caller, ok := httpx.Caller(c)
	if !ok {
		return httpx.Unauthorized(c)
	}
	t, err := h.svc.Cancel(c.Request().Context(), caller, c.Param("id"))
	if err != nil {
		return httpx.Error(c, err)
	}
	return c.JSON(http.StatusOK, t)
}

func (h *Handler) ClaimExpiredRefund(c echo.Context) error {
	caller, ok := httpx.Caller(c)
	if !ok {
		return httpx.Unauthorized(c)
	}
	t, err := h.svc.ClaimExpiredRefund(c.Request().Context(), caller, c.Param("id"))
	if err != nil {
		return httpx.Error(c, err)
	}
	return c.JSON(http.StatusOK, t)
}

func (h *Handler) GetTask(c echo.Context) error {
	t, err := h.svc.GetTask(c.Request().Context(), c.Param("owner"), c.Param("id"))
	if err != nil {
		return httpx.Error(c, err)
	}
	return c.JSON(http.StatusOK, t)
}

func (h *Handler) Stats(c echo.Context) error {
	s, err := h.svc.Stats(c.Request().Context(), c.Param("owner"))
	if err != nil {
		return httpx.Error(c, err)
	}
	return c.JSON(http.StatusOK, s)
}
