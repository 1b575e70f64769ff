package http

import (
	"log/slog"

	"github.com/gin-gonic/gin"
	"github.com/layer-3/litkit/service"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// SetupRouter sets up the Gin router
func SetupRouter(toolkit *service.Toolkit, conn *service.ConnectionManager, apiToken string, logger *slog.Logger) *gin.Engine {
	router := gin.New()
	router.Use(gin.Recovery(), RequestLogger(logger))

	// Create handlers
	handlers := NewToolHandlers(toolkit, conn)

	router.GET("/healthz", handlers.Health)
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	// Tool routes
	tools := router.Group("/tools")
	tools.Use(TokenAuthMiddleware(apiToken))
	{
		tools.GET("", handlers.List)
		tools.POST("/:name", handlers.Invoke)
	}

	return router
}
