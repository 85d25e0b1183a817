// Package document owns the upload/list/delete surface in front of the
// record store, blob store and job queue.
package document

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/docingest/docingest/internal/models"
	"github.com/docingest/docingest/internal/store"
	"github.com/docingest/docingest/pkg/logger"
	"github.com/docingest/docingest/pkg/queue"
	"github.com/docingest/docingest/pkg/storage"
)

// ErrValidation marks a rejected upload (too large, wrong type).
var ErrValidation = errors.New("invalid upload")

// Jobs is the slice of the queue the service needs.
type Jobs interface {
	Enqueue(ctx context.Context, payload models.ProcessPayload) (string, error)
	Status(ctx context.Context, documentID string) (queue.JobStatus, error)
	Delete(ctx context.Context, documentID string) error
}

// Config bounds uploads.
type Config struct {
	MaxFileSize  int64
	AllowedTypes []string
}

// Service wires the collaborators for the document API.
type Service struct {
	store  store.DocumentStore
	blobs  storage.Storage
	jobs   Jobs
	logger logger.Logger
	cfg    Config
}

func NewService(docs store.DocumentStore, blobs storage.Storage, jobs Jobs, log logger.Logger, cfg Config) *Service {
	if cfg.MaxFileSize <= 0 {
		cfg.MaxFileSize = 50 * 1024 * 1024
	}
	if len(cfg.AllowedTypes) == 0 {
		cfg.AllowedTypes = []string{"application/pdf"}
	}
	return &Service{store: docs, blobs: blobs, jobs: jobs, logger: log, cfg: cfg}
}

// Upload stores the file bytes, inserts a pending record and queues the
// processing job. A duplicate job for the same document is treated as
// success: the work is already queued.
func (s *Service) Upload(ctx context.Context, data []byte, filename, contentType string) (*models.Document, error) {
	if err := s.validate(int64(len(data)), contentType); err != nil {
		return nil, err
	}

	id := uuid.New().String()
	key := storage.NewObjectKey(filename)

	info, err := s.blobs.Upload(ctx, data, key, contentType)
	if err != nil {
		return nil, fmt.Errorf("upload file: %w", err)
	}

	doc := &models.Document{
		ID:       id,
		Name:     filename,
		Size:     int64(len(data)),
		MimeType: contentType,
		Status:   models.StatusPending,
		Metadata: map[string]any{
			models.MetaObjectKey: info.Key,
			models.MetaObjectURL: info.URL,
		},
	}
	if err := s.store.Insert(ctx, doc); err != nil {
		return nil, fmt.Errorf("insert document record: %w", err)
	}

	if err := s.enqueue(ctx, doc, info.Key); err != nil {
		return nil, err
	}

	s.logger.Info("Document uploaded",
		logger.String("documentId", id),
		logger.String("filename", filename),
		logger.Int64("size", doc.Size),
	)
	return doc, nil
}

// Resubmit queues a new processing job for an existing document, the path a
// document in error (or ready, for re-extraction) takes back to processing.
func (s *Service) Resubmit(ctx context.Context, id string) (*models.Document, error) {
	doc, err := s.store.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	key, ok := doc.Metadata[models.MetaObjectKey].(string)
	if !ok || key == "" {
		return nil, fmt.Errorf("document %s has no stored object key", id)
	}
	if err := s.enqueue(ctx, doc, key); err != nil {
		return nil, err
	}
	return doc, nil
}

func (s *Service) Get(ctx context.Context, id string) (*models.Document, error) {
	return s.store.GetByID(ctx, id)
}

func (s *Service) List(ctx context.Context) ([]*models.Document, error) {
	return s.store.List(ctx)
}

// Delete removes the queued job (if any), the blob and the record. Blob and
// job cleanup are best effort; the record is the source of truth.
func (s *Service) Delete(ctx context.Context, id string) error {
	doc, err := s.store.GetByID(ctx, id)
	if err != nil {
		return err
	}

	if err := s.jobs.Delete(ctx, id); err != nil {
		s.logger.Warn("Failed to remove queued job",
			logger.String("documentId", id),
			logger.Error(err),
		)
	}
	if key, ok := doc.Metadata[models.MetaObjectKey].(string); ok && key != "" {
		if err := s.blobs.Delete(ctx, key); err != nil {
			s.logger.Warn("Failed to delete blob",
				logger.String("documentId", id),
				logger.String("key", key),
				logger.Error(err),
			)
		}
	}
	return s.store.Delete(ctx, id)
}

// JobStatus projects the queue state for status polling.
func (s *Service) JobStatus(ctx context.Context, id string) (queue.JobStatus, error) {
	return s.jobs.Status(ctx, id)
}

// DownloadURL returns a presigned URL for the original file.
func (s *Service) DownloadURL(ctx context.Context, id string, ttl time.Duration) (string, error) {
	doc, err := s.store.GetByID(ctx, id)
	if err != nil {
		return "", err
	}
	key, ok := doc.Metadata[models.MetaObjectKey].(string)
	if !ok || key == "" {
		return "", fmt.Errorf("document %s has no stored object key", id)
	}
	return s.blobs.SignedURL(ctx, key, ttl)
}

func (s *Service) enqueue(ctx context.Context, doc *models.Document, key string) error {
	_, err := s.jobs.Enqueue(ctx, models.ProcessPayload{
		DocumentID: doc.ID,
		ObjectKey:  key,
		FileName:   doc.Name,
	})
	if errors.Is(err, queue.ErrDuplicateJob) {
		s.logger.Info("Processing job already queued",
			logger.String("documentId", doc.ID),
		)
		return nil
	}
	if err != nil {
		return fmt.Errorf("enqueue processing job: %w", err)
	}
	return nil
}

func (s *Service) validate(size int64, contentType string) error {
	if size == 0 {
		return fmt.Errorf("%w: empty file", ErrValidation)
	}
	if size > s.cfg.MaxFileSize {
		return fmt.Errorf("%w: file size %d exceeds limit of %d bytes", ErrValidation, size, s.cfg.MaxFileSize)
	}
	for _, t := range s.cfg.AllowedTypes {
		if strings.EqualFold(t, contentType) {
			return nil
		}
	}
	return fmt.Errorf("%w: unsupported file type %q", ErrValidation, contentType)
}
