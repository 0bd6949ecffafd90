// SPDX-License-Identifier: Apache-2.0

package api

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/qcollector/fieldmigrate/pkg/roll"
)

type routerConfig struct {
	resolve RoleResolver
	logger  *slog.Logger
}

type RouterOption func(*routerConfig)

// WithRoleResolver replaces the default header-based authentication.
func WithRoleResolver(resolve RoleResolver) RouterOption {
	return func(c *routerConfig) {
		c.resolve = resolve
	}
}

func WithRouterLogger(logger *slog.Logger) RouterOption {
	return func(c *routerConfig) {
		c.logger = logger
	}
}

// NewRouter builds the migration API under /api/v1/migrations.
func NewRouter(r *roll.Roll, opts ...RouterOption) *gin.Engine {
	cfg := &routerConfig{
		resolve: HeaderRoleResolver,
		logger:  slog.Default(),
	}
	for _, o := range opts {
		o(cfg)
	}

	gin.SetMode(gin.ReleaseMode)
	engine := gin.New()
	engine.Use(gin.Recovery(), requestLogger(cfg.logger))

	engine.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	h := NewHandler(r)
	admin := requireRole(cfg.resolve, RoleAdmin)
	super := requireRole(cfg.resolve, RoleSuperAdmin)

	m := engine.Group("/api/v1/migrations")
	{
		m.POST("/preview", admin, h.Preview)
		m.POST("/execute", admin, h.Execute)
		m.GET("/history/:formId", admin, h.History)
		m.GET("/backups/:formId", admin, h.Backups)
		m.GET("/queue/status", admin, h.QueueStatus)

		m.POST("/rollback/:migrationId", super, h.Rollback)
		m.POST("/restore/:backupId", super, h.Restore)
		m.DELETE("/cleanup", super, h.Cleanup)
	}

	return engine
}

func requestLogger(logger *slog.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		logger.Info("http request",
			slog.String("method", c.Request.Method),
			slog.String("path", c.Request.URL.Path),
			slog.Int("status", c.Writer.Status()),
			slog.Duration("duration", time.Since(start)))
	}
}
