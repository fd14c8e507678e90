package bidding

import (
	"context"
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

func (h *Handler) Register(g *echo.Group, auth echo.MiddlewareFunc) {
	g.POST("/init", h.Initialize, auth)
	g.POST("/:platform/tasks", h.Publish, auth)
	g.POST("/:platform/tasks/:id/bids", h.PlaceBid, auth)
	g.POST("/:platform/tasks/:id/select", h.SelectWinner, auth)
	g.POST("/:platform/tasks/:id/complete", h.Complete, auth)
	g.POST("/:platform/tasks/:id/cancel", h.Cancel, auth)
	g.GET("/:platform/tasks/:id", h.GetTask)
	g.GET("/:platform/tasks/:id/bids", h.GetBids)
	g.GET("/:platform/stats", h.Stats)
}

func (h *Handler) Initialize(c echo.Context) error {
	caller, ok := httpx.Caller(c)
	if !ok {
		return httpx.Unauthorized(c)
	}
	if err := h.svc.Initialize(c.Request().Context(), caller); err != nil {
		return httpx.Error(c, err)
	}
	return c.JSON(http.StatusCreated, echo.Map{"message": "platform initialized", "platform": caller})
}

type publishBody struct {
	TaskID       string `json:"task_id"`
	Description  string `json:"description"`
	MaxBudget    int64  `json:"max_budget"`
	DurationSecs int64  `json:"duration_secs"`
}

func (h *Handler) Publish(c echo.Context) error {
	caller, ok := httpx.Caller(c)
	if !ok {
		return httpx.Unauthorized(c)
	}
	var body publishBody
	if err := c.Bind(&body); err != nil {
		return httpx.BadRequest(c, "invalid request body")
	}
	d, ok := httpx.Seconds(body.DurationSecs)
	if !ok {
		return httpx.BadRequest(c, "invalid duration_secs")
	}
	t, err := h.svc.Publish(c.Request().Context(), caller, c.Param("platform"), PublishRequest{
		ID:          body.TaskID,
		Description: body.Description,
		MaxBudget:   body.MaxBudget,
		Duration:    d,
	})
	if err != nil {
		return httpx.Error(c, err)
	}
	return c.JSON(http.StatusCreated, t)
}

type bidBody struct {
	Price      int64  `json:"price"`
	Reputation uint64 `json:"reputation"`
}

func (h *Handler) PlaceBid(c echo.Context) error {
	caller, ok := httpx.Caller(c)
	if !ok {
		return httpx.Unauthorized(c)
	}
	var body bidBody
	if err := c.Bind(&body); err != nil {
		return httpx.BadRequest(c, "invalid request body")
	}
	b, err := h.svc.PlaceBid(c.Request().Context(), caller, c.Param("platform"), c.Param("id"), body.Price, body.Reputation)
	if err != nil {
		return httpx.Error(c, err)
	}
	return c.JSON(http.StatusCreated, b)
}

func (h *Handler) SelectWinner(c echo.Context) error {
	return h.transition(c, h.svc.SelectWinner)
}

func (h *Handler) Complete(c echo.Context) error {
	return h.transition(c, h.svc.Complete)
}

func (h *Handler) Cancel(c echo.Context) error {
	return h.transition(c, h.svc.Cancel)
}

type transitionFunc func(ctx context.Context, caller, platform, id string) (Task, error)

func (h *Handler) transition(c echo.Context, fn transitionFunc) error {
	caller, ok := httpx.Caller(c)
	if !ok {
		return httpx.Unauthorized(c)
	}
	t, err := fn(c.Request().Context(), caller, c.Param("platform"), c.Param("id"))
	if err != nil {
		return httpx.Error(c, err)
	}
	return c.JSON(http.StatusOK, t)
}

func (h *Handler) GetTask(c echo.Context) error {
	t, err := h.svc.GetTask(c.Request().Context(), c.Param("platform"), c.Param("id"))
	if err != nil {
		return httpx.Error(c, err)
	}
	return c.JSON(http.StatusOK, t)
}

func (h *Handler) GetBids(c echo.Context) error {
	bids, err := h.svc.GetBids(c.Request().Context(), c.Param("platform"), c.Param("id"))
	if err != nil {
		return httpx.Error(c, err)
	}
	return c.JSON(http.StatusOK, echo.Map{"bids": bids, "count": len(bids)})
}

func (h *Handler) Stats(c echo.Context) error {
	s, err := h.svc.PlatformStats(c.Request().Context(), c.Param("platform"))
	if err != nil {
		return httpx.Error(c, err)
	}
	return c.JSON(http.StatusOK, s)
}
