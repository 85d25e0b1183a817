package worker

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/hibiken/asynq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/docingest/docingest/internal/models"
	"github.com/docingest/docingest/internal/store"
	"github.com/docingest/docingest/pkg/extractor"
	"github.com/docingest/docingest/pkg/logger"
	"github.com/docingest/docingest/pkg/queue"
	"github.com/docingest/docingest/pkg/storage"
)

type fakeBlobs struct {
	objects   map[string][]byte
	err       error
	downloads int
}

func (f *fakeBlobs) Upload(_ context.Context, data []byte, key, _ string) (storage.UploadInfo, error) {
	if f.objects == nil {
		f.objects = make(map[string][]byte)
	}
	f.objects[key] = data
	return storage.UploadInfo{Key: key, URL: "http://blobs.local/" + key}, nil
}

func (f *fakeBlobs) Download(_ context.Context, key string) ([]byte, error) {
	f.downloads++
	if f.err != nil {
		return nil, f.err
	}
	data, ok := f.objects[key]
	if !ok {
		return nil, storage.ErrNotFound
	}
	return data, nil
}

func (f *fakeBlobs) Delete(_ context.Context, key string) error {
	delete(f.objects, key)
	return nil
}

func (f *fakeBlobs) SignedURL(_ context.Context, key string, _ time.Duration) (string, error) {
	return "http://blobs.local/signed/" + key, nil
}

type fakeExtractor struct {
	result *extractor.Result
	err    error
	calls  int
}

func (f *fakeExtractor) Extract(_ context.Context, _ []byte) (*extractor.Result, error) {
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	return f.result, nil
}

type fakeSnapshots struct {
	saved []queue.JobStatus
}

func (f *fakeSnapshots) SaveSnapshot(_ context.Context, st queue.JobStatus) error {
	f.saved = append(f.saved, st)
	return nil
}

// brokenStore simulates record-store unavailability.
type brokenStore struct {
	store.DocumentStore
	updateErr error
}

func (s *brokenStore) Update(ctx context.Context, id string, upd models.DocumentUpdate) error {
	if s.updateErr != nil {
		return s.updateErr
	}
	return s.DocumentStore.Update(ctx, id, upd)
}

func processTask(t *testing.T, payload models.ProcessPayload) *asynq.Task {
	t.Helper()
	data, err := json.Marshal(payload)
	require.NoError(t, err)
	return asynq.NewTask(models.TaskTypeDocumentProcess, data)
}

func seedDocument(t *testing.T, docs store.DocumentStore, id, key string) {
	t.Helper()
	err := docs.Insert(context.Background(), &models.Document{
		ID:       id,
		Name:     "report.pdf",
		Size:     64,
		MimeType: "application/pdf",
		Status:   models.StatusPending,
		Metadata: map[string]any{models.MetaObjectKey: key},
	})
	require.NoError(t, err)
}

func TestPipelineHappyPath(t *testing.T) {
	ctx := context.Background()
	docs := store.NewMemoryStore()
	seedDocument(t, docs, "d1", "k1")

	blobs := &fakeBlobs{objects: map[string][]byte{"k1": []byte("%PDF- fake")}}
	ex := &fakeExtractor{result: &extractor.Result{Text: "hello world", PageCount: 3}}
	snaps := &fakeSnapshots{}
	p := NewPipeline(docs, blobs, ex, snaps, logger.NewTestLogger())

	err := p.ProcessTask(ctx, processTask(t, models.ProcessPayload{
		DocumentID: "d1", ObjectKey: "k1", FileName: "report.pdf",
	}))
	require.NoError(t, err)

	doc, err := docs.GetByID(ctx, "d1")
	require.NoError(t, err)
	assert.Equal(t, models.StatusReady, doc.Status)
	assert.Equal(t, "hello world", doc.ExtractedText)
	assert.Empty(t, doc.ErrorMessage)
	assert.Equal(t, 3, doc.Metadata[models.MetaPageCount])
	assert.Equal(t, "k1", doc.Metadata[models.MetaObjectKey], "prior metadata keys survive")
	assert.NotEmpty(t, doc.Metadata[models.MetaExtractedAt])

	require.Len(t, snaps.saved, 1)
	assert.Equal(t, queue.JobStateCompleted, snaps.saved[0].State)
}

func TestPipelineTransientDownloadFailure(t *testing.T) {
	ctx := context.Background()
	docs := store.NewMemoryStore()
	seedDocument(t, docs, "d1", "k1")

	blobs := &fakeBlobs{err: errors.New("connection reset")}
	ex := &fakeExtractor{}
	p := NewPipeline(docs, blobs, ex, nil, logger.NewTestLogger())

	err := p.ProcessTask(ctx, processTask(t, models.ProcessPayload{
		DocumentID: "d1", ObjectKey: "k1", FileName: "report.pdf",
	}))
	require.Error(t, err)
	assert.NotErrorIs(t, err, asynq.SkipRetry, "transient failures stay retryable")
	assert.Zero(t, ex.calls, "extraction must not run without the blob")

	doc, gerr := docs.GetByID(ctx, "d1")
	require.NoError(t, gerr)
	assert.Equal(t, models.StatusError, doc.Status)
	assert.Contains(t, doc.ErrorMessage, "download")
	assert.Empty(t, doc.ExtractedText)
}

func TestPipelineTerminalExtractionFailure(t *testing.T) {
	ctx := context.Background()
	docs := store.NewMemoryStore()
	seedDocument(t, docs, "d1", "k1")

	blobs := &fakeBlobs{objects: map[string][]byte{"k1": []byte("%PDF- locked")}}
	ex := &fakeExtractor{err: extractor.NewExtractionError(extractor.CodePasswordProtected, "PDF is password protected")}
	snaps := &fakeSnapshots{}
	p := NewPipeline(docs, blobs, ex, snaps, logger.NewTestLogger())

	err := p.ProcessTask(ctx, processTask(t, models.ProcessPayload{
		DocumentID: "d1", ObjectKey: "k1", FileName: "report.pdf",
	}))
	require.Error(t, err)
	assert.ErrorIs(t, err, asynq.SkipRetry, "content failures must not be retried")
	assert.Equal(t, 1, ex.calls)

	doc, gerr := docs.GetByID(ctx, "d1")
	require.NoError(t, gerr)
	assert.Equal(t, models.StatusError, doc.Status)
	assert.Contains(t, doc.ErrorMessage, "password protected")

	require.Len(t, snaps.saved, 1)
	assert.Equal(t, queue.JobStateFailed, snaps.saved[0].State)
}

func TestPipelineParseErrorIsRetryable(t *testing.T) {
	ctx := context.Background()
	docs := store.NewMemoryStore()
	seedDocument(t, docs, "d1", "k1")

	blobs := &fakeBlobs{objects: map[string][]byte{"k1": []byte("%PDF- odd")}}
	ex := &fakeExtractor{err: extractor.NewExtractionError(extractor.CodeParseError, "parser hiccup")}
	p := NewPipeline(docs, blobs, ex, nil, logger.NewTestLogger())

	err := p.ProcessTask(ctx, processTask(t, models.ProcessPayload{
		DocumentID: "d1", ObjectKey: "k1", FileName: "report.pdf",
	}))
	require.Error(t, err)
	assert.NotErrorIs(t, err, asynq.SkipRetry)
}

func TestPipelineDocumentNotFound(t *testing.T) {
	ctx := context.Background()
	docs := store.NewMemoryStore()
	blobs := &fakeBlobs{}
	p := NewPipeline(docs, blobs, &fakeExtractor{}, nil, logger.NewTestLogger())

	err := p.ProcessTask(ctx, processTask(t, models.ProcessPayload{
		DocumentID: "ghost", ObjectKey: "k1", FileName: "report.pdf",
	}))
	require.Error(t, err)
	assert.ErrorIs(t, err, asynq.SkipRetry, "queue/store inconsistency is permanent")
	assert.Zero(t, blobs.downloads, "blob store must not be touched")
}

func TestPipelineStoreUnavailableBeforeBlob(t *testing.T) {
	ctx := context.Background()
	docs := &brokenStore{DocumentStore: store.NewMemoryStore(), updateErr: errors.New("store down")}
	blobs := &fakeBlobs{}
	p := NewPipeline(docs, blobs, &fakeExtractor{}, nil, logger.NewTestLogger())

	err := p.ProcessTask(ctx, processTask(t, models.ProcessPayload{
		DocumentID: "d1", ObjectKey: "k1", FileName: "report.pdf",
	}))
	require.Error(t, err)
	assert.NotErrorIs(t, err, asynq.SkipRetry, "store outage is transient")
	assert.Zero(t, blobs.downloads, "abort before touching the blob store")
}

func TestPipelineMalformedPayload(t *testing.T) {
	p := NewPipeline(store.NewMemoryStore(), &fakeBlobs{}, &fakeExtractor{}, nil, logger.NewTestLogger())

	err := p.ProcessTask(context.Background(), asynq.NewTask(models.TaskTypeDocumentProcess, []byte("{not json")))
	require.Error(t, err)
	assert.ErrorIs(t, err, asynq.SkipRetry)
}

func TestPipelineRateLimitDefersJobStart(t *testing.T) {
	ctx := context.Background()
	docs := store.NewMemoryStore()
	seedDocument(t, docs, "d1", "k1")

	blobs := &fakeBlobs{objects: map[string][]byte{"k1": []byte("%PDF- fake")}}
	ex := &fakeExtractor{result: &extractor.Result{Text: "hi", PageCount: 1}}
	p := NewPipeline(docs, blobs, ex, nil, logger.NewTestLogger()).
		WithRateLimit(1, time.Minute)

	task := processTask(t, models.ProcessPayload{DocumentID: "d1", ObjectKey: "k1", FileName: "report.pdf"})
	require.NoError(t, p.ProcessTask(ctx, task))

	err := p.ProcessTask(ctx, task)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrRateLimited)
	assert.Equal(t, 1, ex.calls, "second start must be deferred before any work")
}

func TestPipelineResubmitFromReadyClearsText(t *testing.T) {
	ctx := context.Background()
	docs := store.NewMemoryStore()
	err := docs.Insert(ctx, &models.Document{
		ID:            "d1",
		Name:          "report.pdf",
		Size:          64,
		MimeType:      "application/pdf",
		Status:        models.StatusReady,
		ExtractedText: "old text from first run",
		Metadata:      map[string]any{models.MetaObjectKey: "k1"},
	})
	require.NoError(t, err)

	// Re-submission of a ready document; the blob store is down this time.
	blobs := &fakeBlobs{err: errors.New("connection reset")}
	p := NewPipeline(docs, blobs, &fakeExtractor{}, nil, logger.NewTestLogger())

	perr := p.ProcessTask(ctx, processTask(t, models.ProcessPayload{
		DocumentID: "d1", ObjectKey: "k1", FileName: "report.pdf",
	}))
	require.Error(t, perr)

	doc, err := docs.GetByID(ctx, "d1")
	require.NoError(t, err)
	assert.Equal(t, models.StatusError, doc.Status)
	assert.Empty(t, doc.ExtractedText, "text from the previous run must not survive leaving ready")
	assert.Contains(t, doc.ErrorMessage, "download")
}

func TestPipelineResubmissionAfterError(t *testing.T) {
	ctx := context.Background()
	docs := store.NewMemoryStore()
	seedDocument(t, docs, "d1", "k1")

	blobs := &fakeBlobs{err: errors.New("flaky backend")}
	ex := &fakeExtractor{result: &extractor.Result{Text: "hello world", PageCount: 3}}
	p := NewPipeline(docs, blobs, ex, nil, logger.NewTestLogger())
	task := processTask(t, models.ProcessPayload{DocumentID: "d1", ObjectKey: "k1", FileName: "report.pdf"})

	require.Error(t, p.ProcessTask(ctx, task))
	doc, _ := docs.GetByID(ctx, "d1")
	require.Equal(t, models.StatusError, doc.Status)

	// Backend recovers; the retry must clear the error state.
	blobs.err = nil
	blobs.objects = map[string][]byte{"k1": []byte("%PDF- fake")}
	require.NoError(t, p.ProcessTask(ctx, task))

	doc, err := docs.GetByID(ctx, "d1")
	require.NoError(t, err)
	assert.Equal(t, models.StatusReady, doc.Status)
	assert.Empty(t, doc.ErrorMessage, "error message clears on recovery")
	assert.Equal(t, "hello world", doc.ExtractedText)
}
