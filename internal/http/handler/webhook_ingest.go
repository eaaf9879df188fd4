package handler

import (
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"go.opentelemetry.io/otel/trace"

	"jobboard.app/atsbridge/internal/http/dto"
	"jobboard.app/atsbridge/internal/service"
)

const maxWebhookBody = 1 << 20

type WebhookIngestHandler struct {
	service     service.WebhookIngestService
	traceHeader string
}

func NewWebhookIngestHandler(service service.WebhookIngestService, traceHeader string) *WebhookIngestHandler {
	return &WebhookIngestHandler{
		service:     service,
		traceHeader: traceHeader,
	}
}

func (h *WebhookIngestHandler) Receive(c *gin.Context) {
	ctx := c.Request.Context()

	connectionID, err := strconv.ParseInt(c.Param("connection_id"), 10, 64)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid connection id"})
		return
	}

	body, err := io.ReadAll(http.MaxBytesReader(c.Writer, c.Request.Body, maxWebhookBody))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "failed to read request body"})
		return
	}

	params := service.WebhookIngestParams{
		ConnectionID: connectionID,
		Headers:      c.Request.Header,
		Body:         body,
	}
	traceID := c.GetHeader(h.traceHeader)
	if traceID == "" {
		if spanCtx := trace.SpanContextFromContext(ctx); spanCtx.IsValid() {
			traceID = spanCtx.TraceID().String()
		}
	}
	if traceID != "" {
		params.TraceID = &traceID
	}

	result, err := h.service.Ingest(ctx, params)
	if err != nil {
		switch {
		case errors.Is(err, service.ErrConnectionNotFound):
			c.JSON(http.StatusNotFound, gin.H{"error": "connection not found"})
		case errors.Is(err, service.ErrConnectionInactive):
			c.JSON(http.StatusForbidden, gin.H{"error": "connection is inactive"})
		case errors.Is(err, service.ErrInvalidSignature):
			c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid signature"})
		case errors.Is(err, service.ErrInvalidBody):
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		default:
			slog.ErrorContext(ctx, "failed to ingest webhook", "error", err, "connection_id", connectionID)
			c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to ingest webhook"})
		}
		return
	}

	status := http.StatusAccepted
	if result.Duplicate {
		status = http.StatusOK
	}
	c.JSON(status, dto.IngestWebhookResponse{
		WebhookID: result.Webhook.ID,
		EventType: result.Webhook.EventType,
		Duplicate: result.Duplicate,
		Notified:  result.Notified,
	})
}
