package handlers

import (
	"errors"
	"io"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/docingest/docingest/internal/models"
	"github.com/docingest/docingest/internal/service/document"
	"github.com/docingest/docingest/internal/store"
	"github.com/docingest/docingest/pkg/logger"
	"github.com/docingest/docingest/pkg/queue"
)

const downloadURLTTL = 15 * time.Minute

type DocumentHandler struct {
	service *document.Service
	logger  logger.Logger
}

func NewDocumentHandler(service *document.Service, log logger.Logger) *DocumentHandler {
	return &DocumentHandler{service: service, logger: log}
}

// DocumentResponse is the API projection of a document record.
type DocumentResponse struct {
	ID           string         `json:"id"`
	Name         string         `json:"name"`
	Size         int64          `json:"size"`
	MimeType     string         `json:"mimeType"`
	Status       string         `json:"status"`
	ErrorMessage string         `json:"errorMessage,omitempty"`
	Metadata     map[string]any `json:"metadata,omitempty"`
	CreatedAt    string         `json:"createdAt"`
	UpdatedAt    string         `json:"updatedAt"`
}

type ErrorResponse struct {
	Error   string `json:"error,omitempty"`
	Message string `json:"message"`
}

// Upload accepts a multipart file, stores it and queues processing.
func (h *DocumentHandler) Upload(c *gin.Context) {
	file, header, err := c.Request.FormFile("file")
	if err != nil {
		h.handleError(c, http.StatusBadRequest, "Invalid file upload", err)
		return
	}
	defer file.Close()

	data, err := io.ReadAll(file)
	if err != nil {
		h.handleError(c, http.StatusBadRequest, "Failed to read file", err)
		return
	}

	contentType := header.Header.Get("Content-Type")
	doc, err := h.service.Upload(c.Request.Context(), data, header.Filename, contentType)
	if err != nil {
		if errors.Is(err, document.ErrValidation) {
			h.handleError(c, http.StatusBadRequest, "Upload rejected", err)
			return
		}
		h.handleError(c, http.StatusInternalServerError, "Failed to process upload", err)
		return
	}

	c.JSON(http.StatusAccepted, toDocumentResponse(doc))
}

// List returns all documents, newest first.
func (h *DocumentHandler) List(c *gin.Context) {
	docs, err := h.service.List(c.Request.Context())
	if err != nil {
		h.handleError(c, http.StatusInternalServerError, "Failed to list documents", err)
		return
	}

	out := make([]DocumentResponse, len(docs))
	for i, doc := range docs {
		out[i] = toDocumentResponse(doc)
	}
	c.JSON(http.StatusOK, gin.H{"documents": out, "count": len(out)})
}

// Get returns one document record, extracted text included.
func (h *DocumentHandler) Get(c *gin.Context) {
	doc, err := h.service.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		h.notFoundOr500(c, err, "Failed to get document")
		return
	}

	resp := toDocumentResponse(doc)
	c.JSON(http.StatusOK, gin.H{
		"document":      resp,
		"extractedText": doc.ExtractedText,
	})
}

// Status reports the record status plus the queue's view of the job.
func (h *DocumentHandler) Status(c *gin.Context) {
	id := c.Param("id")

	doc, err := h.service.Get(c.Request.Context(), id)
	if err != nil {
		h.notFoundOr500(c, err, "Failed to get document status")
		return
	}

	job, err := h.service.JobStatus(c.Request.Context(), id)
	if err != nil {
		h.logger.Warn("Queue status unavailable",
			logger.String("documentId", id),
			logger.Error(err),
		)
		job = queue.JobStatus{DocumentID: id, State: queue.JobStateUnknown}
	}

	c.JSON(http.StatusOK, gin.H{
		"documentId":   doc.ID,
		"status":       string(doc.Status),
		"errorMessage": doc.ErrorMessage,
		"job":          job,
		"updatedAt":    doc.UpdatedAt.Format(time.RFC3339),
	})
}

// Download redirects to a presigned URL for the original file.
func (h *DocumentHandler) Download(c *gin.Context) {
	url, err := h.service.DownloadURL(c.Request.Context(), c.Param("id"), downloadURLTTL)
	if err != nil {
		h.notFoundOr500(c, err, "Failed to create download URL")
		return
	}
	c.JSON(http.StatusOK, gin.H{"url": url, "expiresIn": downloadURLTTL.String()})
}

// Reprocess queues a fresh processing job for an existing document.
func (h *DocumentHandler) Reprocess(c *gin.Context) {
	doc, err := h.service.Resubmit(c.Request.Context(), c.Param("id"))
	if err != nil {
		h.notFoundOr500(c, err, "Failed to resubmit document")
		return
	}
	c.JSON(http.StatusAccepted, toDocumentResponse(doc))
}

// Delete removes the document, its blob and any queued job.
func (h *DocumentHandler) Delete(c *gin.Context) {
	if err := h.service.Delete(c.Request.Context(), c.Param("id")); err != nil {
		h.notFoundOr500(c, err, "Failed to delete document")
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "Document deleted", "id": c.Param("id")})
}

func (h *DocumentHandler) notFoundOr500(c *gin.Context, err error, message string) {
	if errors.Is(err, store.ErrNotFound) {
		h.handleError(c, http.StatusNotFound, "Document not found", err)
		return
	}
	h.handleError(c, http.StatusInternalServerError, message, err)
}

func (h *DocumentHandler) handleError(c *gin.Context, status int, message string, err error) {
	h.logger.Error(message,
		logger.String("path", c.Request.URL.Path),
		logger.Error(err),
	)

	response := ErrorResponse{Message: message}
	if err != nil {
		response.Error = err.Error()
	}
	c.JSON(status, response)
}

func toDocumentResponse(doc *models.Document) DocumentResponse {
	return DocumentResponse{
		ID:           doc.ID,
		Name:         doc.Name,
		Size:         doc.Size,
		MimeType:     doc.MimeType,
		Status:       string(doc.Status),
		ErrorMessage: doc.ErrorMessage,
		Metadata:     doc.Metadata,
		CreatedAt:    doc.CreatedAt.Format(time.RFC3339),
		UpdatedAt:    doc.UpdatedAt.Format(time.RFC3339),
	}
}
