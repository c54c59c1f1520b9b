package controllers

import (
	"context"
	"net/http"
	"time"

	"fintracker/utils"

	"github.com/gin-gonic/gin"
)

// HealthChecker проверяет доступность хранилища
type HealthChecker interface {
	Ping(ctx context.Context) error
}

// OpsController обслуживает служебные эндпоинты: здоровье и метрики
type OpsController struct {
	checker HealthChecker
}

// NewOpsController создает OpsController; checker может быть nil (хранилище в памяти)
func NewOpsController(checker HealthChecker) *OpsController {
	return &OpsController{checker: checker}
}

// RegisterRoutes регистрирует служебные маршруты
func (c *OpsController) RegisterRoutes(r gin.IRouter) {
	r.GET("/healthz", c.Health)
	r.GET("/metrics", c.Metrics)
}

// Health отвечает 200, если хранилище доступно
func (c *OpsController) Health(ctx *gin.Context) {
	if c.checker != nil {
		pingCtx, cancel := context.WithTimeout(ctx.Request.Context(), 2*time.Second)
		defer cancel()

		if err := c.checker.Ping(pingCtx); err != nil {
			utils.LogError("Health check failed: %v", err)
			ctx.JSON(http.StatusServiceUnavailable, gin.H{"status": "unavailable"})
			return
		}
	}
	ctx.JSON(http.StatusOK, gin.H{"status": "ok"})
}

// Metrics возвращает снимок метрик приложения
func (c *OpsController) Metrics(ctx *gin.Context) {
	ctx.JSON(http.StatusOK, utils.GetMetrics().GetMetricsSnapshot())
}
