package routes

import (
	"github.com/gin-gonic/gin"

	"github.com/docingest/docingest/api/handlers"
	"github.com/docingest/docingest/api/middleware"
)

// SetupRoutes registers the full API surface.
func SetupRoutes(r *gin.Engine, h *handlers.Handlers, corsOrigins ...string) {
	r.Use(middleware.CORS(corsOrigins...))

	r.GET("/healthz", h.Health.Check)

	v1 := r.Group("/api/v1")

	docs := v1.Group("/documents")
	{
		docs.POST("", h.Document.Upload)
		docs.GET("", h.Document.List)
		docs.GET("/:id", h.Document.Get)
		docs.DELETE("/:id", h.Document.Delete)
		docs.GET("/:id/status", h.Document.Status)
		docs.GET("/:id/download", h.Document.Download)
		docs.POST("/:id/reprocess", h.Document.Reprocess)
	}
}
