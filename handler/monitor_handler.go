package handler

import (
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/crypto_gateway/service"
)

// MonitorHandler exposes the trigger endpoints the external scheduler hits.
type MonitorHandler struct {
	monitor  *service.Monitor
	notifier *service.Notifier
}

func NewMonitorHandler(monitor *service.Monitor, notifier *service.Notifier) *MonitorHandler {
	return &MonitorHandler{monitor: monitor, notifier: notifier}
}

// POST /internal/monitor/run?limit=50&timeout_seconds=60
func (h *MonitorHandler) RunPass(c *gin.Context) {
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "50"))
	timeoutSec, _ := strconv.Atoi(c.DefaultQuery("timeout_seconds", "60"))

	stats, err := h.monitor.RunPass(c.Request.Context(), limit, time.Duration(timeoutSec)*time.Second)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, stats)
}

// POST /internal/notifications/retry?limit=20
func (h *MonitorHandler) RetryNotifications(c *gin.Context) {
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "20"))

	stats, err := h.notifier.RetryFailed(c.Request.Context(), limit)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, stats)
}
