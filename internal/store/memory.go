package store

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/docingest/docingest/internal/models"
)

// MemoryStore is an in-process DocumentStore with the same partial-update
// and metadata-merge semantics as the Postgres implementation. It backs
// tests and local runs without a database.
type MemoryStore struct {
	mu   sync.RWMutex
	docs map[string]*models.Document
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{docs: make(map[string]*models.Document)}
}

func (s *MemoryStore) Insert(_ context.Context, doc *models.Document) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now()
	doc.CreatedAt = now
	doc.UpdatedAt = now
	s.docs[doc.ID] = cloneDocument(doc)
	return nil
}

func (s *MemoryStore) GetByID(_ context.Context, id string) (*models.Document, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	doc, ok := s.docs[id]
	if !ok {
		return nil, ErrNotFound
	}
	return cloneDocument(doc), nil
}

func (s *MemoryStore) List(_ context.Context) ([]*models.Document, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	docs := make([]*models.Document, 0, len(s.docs))
	for _, doc := range s.docs {
		docs = append(docs, cloneDocument(doc))
	}
	sort.Slice(docs, func(i, j int) bool {
		return docs[i].CreatedAt.After(docs[j].CreatedAt)
	})
	return docs, nil
}

func (s *MemoryStore) Update(_ context.Context, id string, upd models.DocumentUpdate) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	doc, ok := s.docs[id]
	if !ok {
		return ErrNotFound
	}
	if upd.IsZero() {
		return nil
	}
	if upd.Status != nil {
		doc.Status = *upd.Status
	}
	if upd.ErrorMessage != nil {
		doc.ErrorMessage = *upd.ErrorMessage
	}
	if upd.ExtractedText != nil {
		doc.ExtractedText = *upd.ExtractedText
	}
	if upd.Metadata != nil {
		if doc.Metadata == nil {
			doc.Metadata = make(map[string]any, len(upd.Metadata))
		}
		for k, v := range upd.Metadata {
			doc.Metadata[k] = v
		}
	}
	doc.UpdatedAt = time.Now()
	return nil
}

func (s *MemoryStore) Delete(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.docs[id]; !ok {
		return ErrNotFound
	}
	delete(s.docs, id)
	return nil
}

func cloneDocument(doc *models.Document) *models.Document {
	out := *doc
	if doc.Metadata != nil {
		out.Metadata = make(map[string]any, len(doc.Metadata))
		for k, v := range doc.Metadata {
			out.Metadata[k] = v
		}
	}
	return &out
}
