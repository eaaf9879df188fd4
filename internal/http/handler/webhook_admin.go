package handler

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"jobboard.app/atsbridge/internal/http/dto"
	"jobboard.app/atsbridge/internal/model"
	"jobboard.app/atsbridge/internal/service"
)

type WebhookAdminHandler struct {
	service service.WebhookAdminService
}

func NewWebhookAdminHandler(service service.WebhookAdminService) *WebhookAdminHandler {
	return &WebhookAdminHandler{service: service}
}

func (h *WebhookAdminHandler) List(c *gin.Context) {
	var q dto.ListWebhooksQuery
	if err := c.ShouldBindQuery(&q); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	params := service.WebhookListParams{
		Status:       model.WebhookStatus(q.Status),
		ConnectionID: q.ConnectionID,
		Limit:        q.Limit,
	}
	if q.EventType != "" {
		evt := model.EventType(q.EventType)
		params.EventType = &evt
	}

	records, err := h.service.List(c.Request.Context(), params)
	if err != nil {
		respondStoreError(c, err, "list webhooks")
		return
	}

	resp := dto.ListWebhooksResponse{Webhooks: make([]dto.WebhookResponse, 0, len(records))}
	for i := range records {
		resp.Webhooks = append(resp.Webhooks, dto.ToWebhookResponse(&records[i], false))
	}
	resp.Count = len(resp.Webhooks)
	c.JSON(http.StatusOK, resp)
}

func (h *WebhookAdminHandler) Get(c *gin.Context) {
	id, ok := webhookID(c)
	if !ok {
		return
	}

	rec, err := h.service.Get(c.Request.Context(), id)
	if err != nil {
		respondStoreError(c, err, "get webhook")
		return
	}
	c.JSON(http.StatusOK, dto.ToWebhookResponse(rec, true))
}

func (h *WebhookAdminHandler) Retry(c *gin.Context) {
	id, ok := webhookID(c)
	if !ok {
		return
	}

	rec, err := h.service.Retry(c.Request.Context(), id)
	if err != nil {
		respondStoreError(c, err, "retry webhook")
		return
	}
	c.JSON(http.StatusAccepted, dto.ToWebhookResponse(rec, false))
}

func (h *WebhookAdminHandler) Schema(c *gin.Context) {
	schema, err := h.service.Schema(c.Param("event_type"))
	if err != nil {
		respondStoreError(c, err, "build schema")
		return
	}
	c.JSON(http.StatusOK, schema)
}

func webhookID(c *gin.Context) (int64, bool) {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid webhook id"})
		return 0, false
	}
	return id, true
}
