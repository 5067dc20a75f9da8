package api

import (
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
)

// SetupRoutes sets up the API routes
func SetupRoutes(handler *Handler, logger zerolog.Logger) *gin.Engine {
	router := gin.New()

	// Middleware
	router.Use(Recovery())
	router.Use(CORS())
	router.Use(Logger(logger))

	router.GET("/health", handler.HealthCheck)
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	// API v1
	v1 := router.Group("/api/v1")
	{
		runs := v1.Group("/runs")
		{
			runs.GET("", handler.ListRuns)
			runs.POST("", handler.StartRun)
			runs.GET("/:id", handler.GetRun)
			runs.GET("/:id/partitions", handler.GetAudits)
			runs.GET("/:id/report", handler.GetReport)
		}
	}

	return router
}
