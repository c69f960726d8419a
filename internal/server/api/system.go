package api

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/fx"
	"gorm.io/gorm"

	"github.com/looplj/agentpay/internal/build"
	"github.com/looplj/agentpay/internal/log"
)

type SystemHandlersParams struct {
	fx.In

	DB *gorm.DB
}

func NewSystemHandlers(params SystemHandlersParams) *SystemHandlers {
	return &SystemHandlers{DB: params.DB}
}

type SystemHandlers struct {
	DB *gorm.DB
}

// Health reports ready once the database answers a ping.
func (h *SystemHandlers) Health(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
	defer cancel()

	status, code := "ok", http.StatusOK

	sqlDB, err := h.DB.DB()
	if err == nil {
		err = sqlDB.PingContext(ctx)
	}

	if err != nil {
		log.Warn(ctx, "health check failed", log.Cause(err))

		status, code = "unavailable", http.StatusServiceUnavailable
	}

	c.JSON(code, gin.H{
		"status":  status,
		"version": build.Version,
	})
}
