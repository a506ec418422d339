package aitask

import (
	"encoding/json"
	"net/http"

	"github.com/gin-gonic/gin"

	"wecodesec-tools/pkg/errutil"
	"wecodesec-tools/pkg/httpapi"
)

type Handler struct {
	svc *Service
}

func NewHandler(svc *Service) *Handler {
	return &Handler{svc: svc}
}

type createActivityRequest struct {
	AppID       string `json:"app_id"`
	TaskContent string `json:"task_content"`
}

func RegisterRoutes(r *gin.Engine, h *Handler) {
	events := r.Group("/tickets/events/:eventId")
	events.POST("/activities", h.CreateActivity)
	events.GET("/activities", h.ListActivities)
	events.GET("/artifacts", h.ListArtifacts)
}

func (h *Handler) CreateActivity(c *gin.Context) {
	body, err := c.GetRawData()
	if err != nil {
		_ = c.Error(errutil.BadRequest("failed to read request body", err))
		return
	}
	if len(body) == 0 {
		_ = c.Error(errutil.BadRequest("request body must not be empty", nil))
		return
	}

	var req createActivityRequest
	if err := json.Unmarshal(body, &req); err != nil {
		_ = c.Error(errutil.BadRequest("request body must be a JSON object", err))
		return
	}

	view, err := h.svc.CreateTask(c.Request.Context(), c.Param("eventId"), req.AppID, req.TaskContent)
	if err != nil {
		_ = c.Error(err)
		return
	}

	httpapi.OK(c, http.StatusCreated, view, "AI task created successfully")
}

func (h *Handler) ListActivities(c *gin.Context) {
	views, err := h.svc.ListActivities(c.Request.Context(), c.Param("eventId"))
	if err != nil {
		_ = c.Error(err)
		return
	}
	httpapi.OK(c, http.StatusOK, views, "activities fetched successfully")
}

func (h *Handler) ListArtifacts(c *gin.Context) {
	views, err := h.svc.ListArtifacts(c.Request.Context(), c.Param("eventId"))
	if err != nil {
		_ = c.Error(err)
		return
	}
	httpapi.OK(c, http.StatusOK, views, "artifacts fetched successfully")
}
