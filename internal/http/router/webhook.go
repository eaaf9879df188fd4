package router

import (
	"github.com/gin-gonic/gin"

	"jobboard.app/atsbridge/internal/http/handler"
)

func WebhookIngestRouter(router *gin.RouterGroup, handler *handler.WebhookIngestHandler) {
	router.POST("/:connection_id", handler.Receive)
}

func WebhookAdminRouter(router *gin.RouterGroup, handler *handler.WebhookAdminHandler) {
	router.GET("/webhooks", handler.List)
	router.GET("/webhooks/:id", handler.Get)
	router.POST("/webhooks/:id/retry", handler.Retry)
	router.GET("/webhook-schemas/:event_type", handler.Schema)
}
