package handlers

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/docingest/docingest/pkg/logger"
)

// Pinger is anything with a reachability check (database pool, Redis).
type Pinger interface {
	Ping(ctx context.Context) error
}

type HealthHandler struct {
	pingers map[string]Pinger
	logger  logger.Logger
}

func NewHealthHandler(pingers map[string]Pinger, log logger.Logger) *HealthHandler {
	return &HealthHandler{pingers: pingers, logger: log}
}

// Check pings every dependency. Any failure degrades the response to 503.
func (h *HealthHandler) Check(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
	defer cancel()

	status := http.StatusOK
	deps := make(map[string]string, len(h.pingers))
	for name, p := range h.pingers {
		if err := p.Ping(ctx); err != nil {
			h.logger.Warn("Dependency unhealthy",
				logger.String("dependency", name),
				logger.Error(err),
			)
			deps[name] = "down"
			status = http.StatusServiceUnavailable
			continue
		}
		deps[name] = "ok"
	}

	c.JSON(status, gin.H{
		"status":       healthWord(status),
		"dependencies": deps,
	})
}

func healthWord(status int) string {
	if status == http.StatusOK {
		return "healthy"
	}
	return "degraded"
}
