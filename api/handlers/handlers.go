package handlers

import (
	"github.com/docingest/docingest/internal/service/document"
	"github.com/docingest/docingest/pkg/logger"
)

type Handlers struct {
	Document *DocumentHandler
	Health   *HealthHandler
}

func NewHandlers(svc *document.Service, pingers map[string]Pinger, log logger.Logger) *Handlers {
	return &Handlers{
		Document: NewDocumentHandler(svc, log),
		Health:   NewHealthHandler(pingers, log),
	}
}
