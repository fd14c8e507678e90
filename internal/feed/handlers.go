package feed

import (
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/websocket"
	"github.com/labstack/echo/v4"

	"github.com/sudo-init-do/taskmarket/internal/events"
	"github.com/sudo-init-do/taskmarket/internal/httpx"
	"github.com/sudo-init-do/taskmarket/internal/store"
)

const writeWait = 10 * time.Second

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

type Handler struct {
	store store.Store
	hub   *Hub
}

func NewHandler(st store.Store, hub *Hub) *Handler {
	return &Handler{store: st, hub: hub}
}

func (h *Handler) Register(g *echo.Group) {
	g.GET("/:owner", h.Backlog)
	g.GET("/:owner/ws", h.Stream)
}

// Backlog returns a page of owner's events after the given sequence.
func (h *Handler) Backlog(c echo.Context) error {
	after, err := httpx.QueryUint(c, "after")
	if err != nil {
		return httpx.BadRequest(c, "invalid after")
	}
	limit, _ := strconv.Atoi(c.QueryParam("limit"))
	page, err := h.store.Events(c.Request().Context(), c.Param("owner"), after, limit)
	if err != nil {
		return httpx.Error(c, err)
	}
	if page == nil {
		page = []events.Event{}
	}
	next := after
	if len(page) > 0 {
		next = page[len(page)-1].Seq
	}
	return c.JSON(http.StatusOK, echo.Map{"events": page, "next": next})
}

// Stream replays owner's events after ?after= and then pushes live ones.
// The subscription is taken before the replay so nothing committed in
// between is lost; duplicates are skipped by sequence.
func (h *Handler) Stream(c echo.Context) error {
	owner := c.Param("owner")
	after, err := httpx.QueryUint(c, "after")
	if err != nil {
		return httpx.BadRequest(c, "invalid after")
	}

	ws, err := upgrader.Upgrade(c.Response(), c.Request(), nil)
	if err != nil {
		return err
	}
	defer ws.Close()

	sub := h.hub.subscribe(owner)
	defer h.hub.unsubscribe(owner, sub)

	go func() {
		for {
			if _, _, err := ws.ReadMessage(); err != nil {
				sub.close()
				return
			}
		}
	}()

	ctx := c.Request().Context()
	last := after
	for {
		page, err := h.store.Events(ctx, owner, last, 0)
		if err != nil {
			return nil
		}
		for _, e := range page {
			if err := write(ws, e); err != nil {
				return nil
			}
			last = e.Seq
		}
		if len(page) < store.ClampLimit(0) {
			break
		}
	}

	for {
		select {
		case <-sub.done:
			return nil
		case e := <-sub.send:
			if e.Seq <= last {
				continue
			}
			if err := write(ws, e); err != nil {
				return nil
			}
			last = e.Seq
		}
	}
}

func write(ws *websocket.Conn, e events.Event) error {
	_ = ws.SetWriteDeadline(time.Now().Add(writeWait))
	return ws.WriteJSON(e)
}
