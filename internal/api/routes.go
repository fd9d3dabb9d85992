package api

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

// SetupRoutes registers every route on router. metrics may be nil.
func SetupRoutes(router *gin.Engine, h *Handler, metrics http.Handler) {
	router.GET("/healthz", h.Healthz)
	if metrics != nil {
		router.GET("/metrics", gin.WrapH(metrics))
	}

	v1 := router.Group("/api/v1")
	{
		v1.GET("/health", h.GetHealth)
		v1.GET("/alerts/search", h.SearchAlerts)

		mon := v1.Group("/monitoring")
		mon.GET("/status", h.GetMonitoringStatus)
		mon.POST("/start", h.StartMonitoring)
		mon.POST("/stop", h.StopMonitoring)
		mon.POST("/run", h.RunMonitoring)
	}
}
