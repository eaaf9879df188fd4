package router

import (
	"github.com/gin-gonic/gin"

	"jobboard.app/atsbridge/internal/http/handler"
	"jobboard.app/atsbridge/internal/http/middleware"
	"jobboard.app/atsbridge/internal/service"
)

type RouterConfig struct {
	TraceHeaderName string
	AdminAPIKey     string
}

func SetupRoutes(router *gin.Engine, services *service.Services, cfg RouterConfig) {
	router.GET("/health", func(c *gin.Context) {
		c.JSON(200, gin.H{"status": "ok"})
	})

	ingestHandler := handler.NewWebhookIngestHandler(services.WebhookIngest(), cfg.TraceHeaderName)
	WebhookIngestRouter(router.Group("/webhooks"), ingestHandler)

	v1 := router.Group("/api/v1", middleware.RequireAdminKey(cfg.AdminAPIKey))
	{
		adminHandler := handler.NewWebhookAdminHandler(services.WebhookAdmin())
		WebhookAdminRouter(v1, adminHandler)
	}
}
