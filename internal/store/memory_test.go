package store

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/docingest/docingest/internal/models"
)

func newDoc(id, name string) *models.Document {
	return &models.Document{
		ID:       id,
		Name:     name,
		Size:     1024,
		MimeType: "application/pdf",
		Status:   models.StatusPending,
		Metadata: map[string]any{
			models.MetaObjectKey: "documents/abc-" + name,
		},
	}
}

func TestMemoryStoreInsertGet(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()

	require.NoError(t, s.Insert(ctx, newDoc("d1", "a.pdf")))

	got, err := s.GetByID(ctx, "d1")
	require.NoError(t, err)
	assert.Equal(t, "a.pdf", got.Name)
	assert.Equal(t, models.StatusPending, got.Status)
	assert.False(t, got.CreatedAt.IsZero())

	_, err = s.GetByID(ctx, "missing")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestMemoryStorePartialUpdate(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	require.NoError(t, s.Insert(ctx, newDoc("d1", "a.pdf")))

	text := "hello world"
	ready := models.StatusReady
	require.NoError(t, s.Update(ctx, "d1", models.DocumentUpdate{
		ExtractedText: &text,
		Status:        &ready,
	}))

	// Updating only the status must not disturb text or metadata.
	processing := models.StatusProcessing
	require.NoError(t, s.Update(ctx, "d1", models.DocumentUpdate{Status: &processing}))

	got, err := s.GetByID(ctx, "d1")
	require.NoError(t, err)
	assert.Equal(t, models.StatusProcessing, got.Status)
	assert.Equal(t, "hello world", got.ExtractedText)
	assert.Equal(t, "documents/abc-a.pdf", got.Metadata[models.MetaObjectKey])
}

func TestMemoryStoreMetadataMerge(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	require.NoError(t, s.Insert(ctx, newDoc("d1", "a.pdf")))

	require.NoError(t, s.Update(ctx, "d1", models.DocumentUpdate{
		Metadata: map[string]any{models.MetaPageCount: 3},
	}))

	got, err := s.GetByID(ctx, "d1")
	require.NoError(t, err)
	assert.Equal(t, 3, got.Metadata[models.MetaPageCount])
	assert.Equal(t, "documents/abc-a.pdf", got.Metadata[models.MetaObjectKey],
		"merge must keep prior keys")
}

func TestMemoryStoreUpdateErrors(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()

	errStatus := models.StatusError
	err := s.Update(ctx, "ghost", models.DocumentUpdate{Status: &errStatus})
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestMemoryStoreClearErrorMessage(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	require.NoError(t, s.Insert(ctx, newDoc("d1", "a.pdf")))

	errStatus := models.StatusError
	msg := "extraction blew up"
	require.NoError(t, s.Update(ctx, "d1", models.DocumentUpdate{Status: &errStatus, ErrorMessage: &msg}))

	ready := models.StatusReady
	empty := ""
	text := "recovered"
	require.NoError(t, s.Update(ctx, "d1", models.DocumentUpdate{
		Status: &ready, ErrorMessage: &empty, ExtractedText: &text,
	}))

	got, err := s.GetByID(ctx, "d1")
	require.NoError(t, err)
	assert.Empty(t, got.ErrorMessage)
	assert.Equal(t, models.StatusReady, got.Status)
}

func TestMemoryStoreListOrdering(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()

	require.NoError(t, s.Insert(ctx, newDoc("d1", "old.pdf")))
	time.Sleep(2 * time.Millisecond)
	require.NoError(t, s.Insert(ctx, newDoc("d2", "new.pdf")))

	docs, err := s.List(ctx)
	require.NoError(t, err)
	require.Len(t, docs, 2)
	assert.Equal(t, "d2", docs[0].ID, "newest first")
}

func TestMemoryStoreDelete(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	require.NoError(t, s.Insert(ctx, newDoc("d1", "a.pdf")))

	require.NoError(t, s.Delete(ctx, "d1"))
	_, err := s.GetByID(ctx, "d1")
	assert.ErrorIs(t, err, ErrNotFound)
	assert.ErrorIs(t, s.Delete(ctx, "d1"), ErrNotFound)
}

func TestMemoryStoreCopiesAreIsolated(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	require.NoError(t, s.Insert(ctx, newDoc("d1", "a.pdf")))

	got, err := s.GetByID(ctx, "d1")
	require.NoError(t, err)
	got.Metadata["injected"] = true

	again, err := s.GetByID(ctx, "d1")
	require.NoError(t, err)
	assert.NotContains(t, again.Metadata, "injected")
}
