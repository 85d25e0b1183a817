// Package store persists document records. The worker reads and writes
// through this interface only; it keeps no document state in memory between
// jobs.
package store

import (
	"context"
	"errors"

	"github.com/docingest/docingest/internal/models"
)

// ErrNotFound is returned when the referenced document id has no record.
var ErrNotFound = errors.New("document not found")

// DocumentStore is the durable record of documents. Update applies a
// partial record: only non-nil fields change, and metadata merges with
// existing keys. Implementations must be safe for concurrent use.
type DocumentStore interface {
	Insert(ctx context.Context, doc *models.Document) error
	GetByID(ctx context.Context, id string) (*models.Document, error)
	List(ctx context.Context) ([]*models.Document, error)
	Update(ctx context.Context, id string, upd models.DocumentUpdate) error
	Delete(ctx context.Context, id string) error
}
