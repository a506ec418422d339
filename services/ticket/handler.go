package ticket

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"wecodesec-tools/pkg/httpapi"
)

type Handler struct {
	proxy Proxy
}

func NewHandler(proxy Proxy) *Handler {
	return &Handler{proxy: proxy}
}

func RegisterRoutes(r *gin.Engine, h *Handler) {
	r.GET("/tickets/events", h.ListTickets)
	r.GET("/tickets/events/:eventId", h.GetTicket)
}

func (h *Handler) ListTickets(c *gin.Context) {
	q := ListQuery{
		Offset:  intQuery(c, "offset", DefaultOffset),
		Size:    intQuery(c, "size", DefaultSize),
		Status:  c.Query("status"),
		Time:    c.Query("time"),
		Keyword: c.Query("keyword"),
	}

	body, err := h.proxy.ListTickets(c.Request.Context(), q)
	if err != nil {
		_ = c.Error(err)
		return
	}
	httpapi.OK(c, http.StatusOK, body, "ticket list fetched successfully")
}

func (h *Handler) GetTicket(c *gin.Context) {
	body, err := h.proxy.GetTicket(c.Request.Context(), c.Param("eventId"))
	if err != nil {
		_ = c.Error(err)
		return
	}
	httpapi.OK(c, http.StatusOK, body, "ticket detail fetched successfully")
}

// intQuery falls back to def when the parameter is missing or not an int.
func intQuery(c *gin.Context, key string, def int) int {
	raw, ok := c.GetQuery(key)
	if !ok {
		return def
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		return def
	}
	return v
}
