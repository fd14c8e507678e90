package matching

import (
	"context"
	"net/http"
	"strconv"

	"github.com/labstack/echo/v4"

	"github.com/sudo-init-do/taskmarket/internal/httpx"
)

type Handler struct {
	eng *Engine
}

func NewHandler(eng *Engine) *Handler {
	return &Handler{eng: eng}
}

func (h *Handler) Register(g *echo.Group, auth echo.MiddlewareFunc) {
	g.POST("/init", h.Initialize, auth)
	g.POST("/status", h.SetStatus, auth)
	g.POST("/:market/offers", h.PublishTaskOffer, auth)
	g.POST("/:market/bids", h.PlaceServiceBid, auth)
	g.POST("/:market/match", h.ExecuteMatch, auth)
	g.POST("/:market/batch", h.ExecuteBatch, auth)
	g.POST("/:market/sweep", h.Sweep, auth)
	g.DELETE("/:market/orders/:id", h.CancelOrder, auth)
	g.GET("/:market", h.Stats)
	g.GET("/:market/orders/:id", h.GetOrder)
	g.GET("/:market/levels/:side", h.PriceLevels)
	g.GET("/:market/best", h.BestPrices)
}

func (h *Handler) Initialize(c echo.Context) error {
	caller, ok := httpx.Caller(c)
	if !ok {
		return httpx.Unauthorized(c)
	}
	if err := h.eng.InitializeMarket(c.Request().Context(), caller); err != nil {
		return httpx.Error(c, err)
	}
	return c.JSON(http.StatusCreated, echo.Map{"message": "market initialized", "market": caller})
}

// SetStatus changes the status of the caller's own market.
func (h *Handler) SetStatus(c echo.Context) error {
	caller, ok := httpx.Caller(c)
	if !ok {
		return httpx.Unauthorized(c)
	}
	var body struct {
		Status Status `json:"status"`
	}
	if err := c.Bind(&body); err != nil {
		return httpx.BadRequest(c, "invalid request body")
	}
	if err := h.eng.SetStatus(c.Request().Context(), caller, caller, body.Status); err != nil {
		return httpx.Error(c, err)
	}
	return c.JSON(http.StatusOK, echo.Map{"market": caller, "status": body.Status})
}

type orderBody struct {
	TaskID       string `json:"task_id"`
	Price        int64  `json:"price"`
	DurationSecs int64  `json:"duration_secs"`
	Metadata     string `json:"metadata"`
}

type placeFunc func(ctx context.Context, agent, market string, req OrderRequest) (Order, []Match, error)

func (h *Handler) place(c echo.Context, fn placeFunc) error {
	caller, ok := httpx.Caller(c)
	if !ok {
		return httpx.Unauthorized(c)
	}
	var body orderBody
	if err := c.Bind(&body); err != nil {
		return httpx.BadRequest(c, "invalid request body")
	}
	d, ok := httpx.Seconds(body.DurationSecs)
	if !ok {
		return httpx.BadRequest(c, "invalid duration_secs")
	}
	o, matches, err := fn(c.Request().Context(), caller, c.Param("market"), OrderRequest{
		TaskID:   body.TaskID,
		Price:    body.Price,
		Duration: d,
		Metadata: body.Metadata,
	})
	if err != nil {
		return httpx.Error(c, err)
	}
	if matches == nil {
		matches = []Match{}
	}
	return c.JSON(http.StatusCreated, echo.Map{"order": o, "matches": matches})
}

func (h *Handler) PublishTaskOffer(c echo.Context) error {
	return h.place(c, h.eng.PublishTaskOffer)
}

func (h *Handler) PlaceServiceBid(c echo.Context) error {
	return h.place(c, h.eng.PlaceServiceBid)
}

func (h *Handler) ExecuteMatch(c echo.Context) error {
	caller, ok := httpx.Caller(c)
	if !ok {
		return httpx.Unauthorized(c)
	}
	var body struct {
		OfferID uint64 `json:"offer_id"`
		BidID   uint64 `json:"bid_id"`
	}
	if err := c.Bind(&body); err != nil {
		return httpx.BadRequest(c, "invalid request body")
	}
	m, err := h.eng.ExecuteMatch(c.Request().Context(), caller, c.Param("market"), body.OfferID, body.BidID)
	if err != nil {
		return httpx.Error(c, err)
	}
	return c.JSON(http.StatusOK, m)
}

func (h *Handler) ExecuteBatch(c echo.Context) error {
	caller, ok := httpx.Caller(c)
	if !ok {
		return httpx.Unauthorized(c)
	}
	var body struct {
		Max int `json:"max"`
	}
	if err := c.Bind(&body); err != nil {
		return httpx.BadRequest(c, "invalid request body")
	}
	matches, err := h.eng.ExecuteBatchMatches(c.Request().Context(), caller, c.Param("market"), body.Max)
	if err != nil {
		return httpx.Error(c, err)
	}
	if matches == nil {
		matches = []Match{}
	}
	return c.JSON(http.StatusOK, echo.Map{"matches": matches, "count": len(matches)})
}

func (h *Handler) Sweep(c echo.Context) error {
	caller, ok := httpx.Caller(c)
	if !ok {
		return httpx.Unauthorized(c)
	}
	n, err := h.eng.CleanExpiredOrders(c.Request().Context(), caller, c.Param("market"))
	if err != nil {
		return httpx.Error(c, err)
	}
	return c.JSON(http.StatusOK, echo.Map{"removed": n})
}

func (h *Handler) CancelOrder(c echo.Context) error {
	caller, ok := httpx.Caller(c)
	if !ok {
		return httpx.Unauthorized(c)
	}
	id, err := strconv.ParseUint(c.Param("id"), 10, 64)
	if err != nil {
		return httpx.BadRequest(c, "invalid order id")
	}
	side := Side(c.QueryParam("side"))
	if err := h.eng.CancelOrder(c.Request().Context(), caller, c.Param("market"), id, side); err != nil {
		return httpx.Error(c, err)
	}
	return c.JSON(http.StatusOK, echo.Map{"message": "order cancelled", "order_id": id})
}

func (h *Handler) Stats(c echo.Context) error {
	s, err := h.eng.Stats(c.Request().Context(), c.Param("market"))
	if err != nil {
		return httpx.Error(c, err)
	}
	return c.JSON(http.StatusOK, s)
}

func (h *Handler) GetOrder(c echo.Context) error {
	id, err := strconv.ParseUint(c.Param("id"), 10, 64)
	if err != nil {
		return httpx.BadRequest(c, "invalid order id")
	}
	o, err := h.eng.GetOrder(c.Request().Context(), c.Param("market"), id)
	if err != nil {
		return httpx.Error(c, err)
	}
	return c.JSON(http.StatusOK, o)
}

func (h *Handler) PriceLevels(c echo.Context) error {
	levels, err := h.eng.PriceLevels(c.Request().Context(), c.Param("market"), Side(c.Param("side")))
	if err != nil {
		return httpx.Error(c, err)
	}
	return c.JSON(http.StatusOK, echo.Map{"side": c.Param("side"), "levels": levels})
}

func (h *Handler) BestPrices(c echo.Context) error {
	b, err := h.eng.BestPrices(c.Request().Context(), c.Param("market"))
	if err != nil {
		return httpx.Error(c, err)
	}
	return c.JSON(http.StatusOK, b)
}
