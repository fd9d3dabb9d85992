// Package api exposes the health views and scheduler controls over HTTP.
package api

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"healthwatch/internal/logger"
	"healthwatch/internal/scheduler"
	"healthwatch/pkg/models"
)

// HealthReader is the read side served by the API.
type HealthReader interface {
	ServiceHealth(ctx context.Context) models.HealthOverview
	SearchAlerts(ctx context.Context, term string, start, end *time.Time) ([]models.Alert, error)
}

// Controller drives the monitoring loop.
type Controller interface {
	Start()
	Stop()
	RunNow(ctx context.Context) (models.RunRecord, error)
	Status() scheduler.Status
}

// Handler holds the route handlers.
type Handler struct {
	health  HealthReader
	control Controller
}

// NewHandler creates a handler.
func NewHandler(health HealthReader, control Controller) *Handler {
	return &Handler{health: health, control: control}
}

// GetHealth returns the per-service overview.
func (h *Handler) GetHealth(c *gin.Context) {
	c.JSON(http.StatusOK, h.health.ServiceHealth(c.Request.Context()))
}

// SearchAlerts filters stored alerts by q, start and end.
func (h *Handler) SearchAlerts(c *gin.Context) {
	start, err := parseDateParam(c.Query("start"), false)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	end, err := parseDateParam(c.Query("end"), true)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if start != nil && end != nil && end.Before(*start) {
		c.JSON(http.StatusBadRequest, gin.H{"error": "end is before start"})
		return
	}

	alerts, err := h.health.SearchAlerts(c.Request.Context(), c.Query("q"), start, end)
	if err != nil {
		logger.Errorf("Alert search failed: %v", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "search failed"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"alerts": alerts, "count": len(alerts)})
}

// GetMonitoringStatus returns the scheduler status.
func (h *Handler) GetMonitoringStatus(c *gin.Context) {
	c.JSON(http.StatusOK, h.control.Status())
}

// StartMonitoring starts the scheduler.
func (h *Handler) StartMonitoring(c *gin.Context) {
	h.control.Start()
	c.JSON(http.StatusOK, h.control.Status())
}

// StopMonitoring stops the scheduler.
func (h *Handler) StopMonitoring(c *gin.Context) {
	h.control.Stop()
	c.JSON(http.StatusOK, h.control.Status())
}

// RunMonitoring runs one cycle immediately. The cycle outlives a client that
// disconnects mid-run so its writes and run record still land.
func (h *Handler) RunMonitoring(c *gin.Context) {
	run, err := h.control.RunNow(context.WithoutCancel(c.Request.Context()))
	if errors.Is(err, scheduler.ErrNotRunning) {
		c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
		return
	}
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, run)
}

// Healthz is the liveness check.
func (h *Handler) Healthz(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

// parseDateParam accepts RFC3339 or YYYY-MM-DD. A bare end date covers the
// whole day.
func parseDateParam(raw string, endOfDay bool) (*time.Time, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil, nil
	}
	if t, err := time.Parse(time.RFC3339, raw); err == nil {
		return &t, nil
	}
	t, err := time.Parse(time.DateOnly, raw)
	if err != nil {
		return nil, fmt.Errorf("invalid date %q: use RFC3339 or YYYY-MM-DD", raw)
	}
	if endOfDay {
		t = t.Add(24*time.Hour - time.Nanosecond)
	}
	return &t, nil
}
