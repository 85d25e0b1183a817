package worker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/hibiken/asynq"
	"golang.org/x/time/rate"

	"github.com/docingest/docingest/internal/models"
	"github.com/docingest/docingest/internal/store"
	"github.com/docingest/docingest/pkg/extractor"
	"github.com/docingest/docingest/pkg/logger"
	"github.com/docingest/docingest/pkg/queue"
	"github.com/docingest/docingest/pkg/storage"
)

// ErrRateLimited defers a job start. The server treats it as a short
// reschedule, not a failed attempt.
var ErrRateLimited = errors.New("job start rate limited")

// Pipeline executes the ingestion steps for one job: mark processing, fetch
// the record, download the blob, extract text, persist the outcome, and
// report back to the queue by returning nil or an error. Errors wrapping
// asynq.SkipRetry are terminal; everything else is retried.
type Pipeline struct {
	store     store.DocumentStore
	blobs     storage.Storage
	extractor extractor.Extractor
	snapshots queue.SnapshotStore
	limiter   *rate.Limiter
	logger    logger.Logger
}

// NewPipeline wires the pipeline's collaborators. snapshots may be nil when
// retained status snapshots are not wanted (tests, local runs).
func NewPipeline(
	docs store.DocumentStore,
	blobs storage.Storage,
	ex extractor.Extractor,
	snapshots queue.SnapshotStore,
	log logger.Logger,
) *Pipeline {
	return &Pipeline{
		store:     docs,
		blobs:     blobs,
		extractor: ex,
		snapshots: snapshots,
		logger:    log,
	}
}

// WithRateLimit caps job starts at n per window to bound load on the
// extraction and storage backends.
func (p *Pipeline) WithRateLimit(n int, window time.Duration) *Pipeline {
	if n > 0 && window > 0 {
		p.limiter = rate.NewLimiter(rate.Every(window/time.Duration(n)), n)
	}
	return p
}

// ProcessTask is the asynq handler for document:process jobs.
func (p *Pipeline) ProcessTask(ctx context.Context, t *asynq.Task) error {
	if p.limiter != nil && !p.limiter.Allow() {
		return fmt.Errorf("deferring job start: %w", ErrRateLimited)
	}

	var payload models.ProcessPayload
	if err := json.Unmarshal(t.Payload(), &payload); err != nil {
		// A payload that does not parse will not parse next time either.
		return fmt.Errorf("unmarshal job payload: %v: %w", err, asynq.SkipRetry)
	}

	start := time.Now()
	attempt, _ := asynq.GetRetryCount(ctx)
	log := p.logger.With(
		logger.String("documentId", payload.DocumentID),
		logger.String("fileName", payload.FileName),
	)
	log.Info("Processing document", logger.Int("attempt", attempt+1))

	// Mark the document processing before any side effects so status polls
	// see progress. If the store is down there is nothing else to touch yet.
	// Clearing the text here keeps it set only while the document is ready:
	// a re-submitted ready document invalidates its previous extraction.
	processing := models.StatusProcessing
	noText := ""
	if err := p.store.Update(ctx, payload.DocumentID, models.DocumentUpdate{
		Status:        &processing,
		ExtractedText: &noText,
	}); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			// The queue references a document the store has never seen.
			// Retrying cannot reconcile the two.
			return p.terminal(ctx, payload, fmt.Errorf("document not found: %s", payload.DocumentID), log)
		}
		return fmt.Errorf("mark document processing: %w", err)
	}

	doc, err := p.store.GetByID(ctx, payload.DocumentID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return p.terminal(ctx, payload, fmt.Errorf("document not found: %s", payload.DocumentID), log)
		}
		return p.retryable(ctx, payload, fmt.Errorf("fetch document: %w", err), log)
	}

	data, err := p.blobs.Download(ctx, payload.ObjectKey)
	if err != nil {
		return p.retryable(ctx, payload, fmt.Errorf("download %s: %w", payload.ObjectKey, err), log)
	}
	log.Debug("Downloaded blob", logger.Int("bytes", len(data)))

	result, err := p.extractor.Extract(ctx, data)
	if err != nil {
		var xerr *extractor.ExtractionError
		if errors.As(err, &xerr) && xerr.Terminal() {
			return p.terminal(ctx, payload, err, log)
		}
		return p.retryable(ctx, payload, fmt.Errorf("extract text: %w", err), log)
	}

	next, terr := models.Transition(doc.Status, models.EventExtracted)
	if terr != nil {
		// Contract violation: the worker holds the only active job for this
		// document, so it must be in processing here.
		return p.terminal(ctx, payload, terr, log)
	}

	noErr := ""
	update := models.DocumentUpdate{
		Status:        &next,
		ExtractedText: &result.Text,
		ErrorMessage:  &noErr,
		Metadata: map[string]any{
			models.MetaPageCount:   result.PageCount,
			models.MetaExtractedAt: time.Now().UTC().Format(time.RFC3339),
			models.MetaPDFInfo:     result.Metadata,
		},
	}
	if err := p.store.Update(ctx, payload.DocumentID, update); err != nil {
		return p.retryable(ctx, payload, fmt.Errorf("persist extraction result: %w", err), log)
	}

	took := time.Since(start)
	p.saveSnapshot(ctx, payload.DocumentID, queue.JobStateCompleted, "", attempt, log)
	if w := t.ResultWriter(); w != nil {
		out, merr := json.Marshal(models.ProcessResult{
			DocumentID: payload.DocumentID,
			PageCount:  result.PageCount,
			TextLength: len(result.Text),
			DurationMS: took.Milliseconds(),
		})
		if merr == nil {
			if _, werr := w.Write(out); werr != nil {
				log.Warn("Failed to write job result", logger.Error(werr))
			}
		}
	}

	log.Info("Document processing complete",
		logger.Int("pages", result.PageCount),
		logger.Int("textLength", len(result.Text)),
		logger.Duration("took", took),
	)
	return nil
}

// retryable records the failure on the document and hands the attempt back
// to the queue. When this was the last attempt, the failed state is also
// retained as a snapshot.
func (p *Pipeline) retryable(ctx context.Context, payload models.ProcessPayload, cause error, log logger.Logger) error {
	log.Warn("Document processing attempt failed", logger.Error(cause))
	p.failDocument(ctx, payload.DocumentID, cause, log)

	if n, ok := asynq.GetRetryCount(ctx); ok {
		if maxRetry, ok := asynq.GetMaxRetry(ctx); ok && n >= maxRetry {
			p.saveSnapshot(ctx, payload.DocumentID, queue.JobStateFailed, cause.Error(), n, log)
		}
	}
	return cause
}

// terminal records the failure and tells the queue not to retry.
func (p *Pipeline) terminal(ctx context.Context, payload models.ProcessPayload, cause error, log logger.Logger) error {
	log.Error("Document processing failed permanently", logger.Error(cause))
	p.failDocument(ctx, payload.DocumentID, cause, log)

	attempt, _ := asynq.GetRetryCount(ctx)
	p.saveSnapshot(ctx, payload.DocumentID, queue.JobStateFailed, cause.Error(), attempt, log)
	return fmt.Errorf("%v: %w", cause, asynq.SkipRetry)
}

// failDocument persists status=error with the message, dropping any text a
// previous run left behind. Best effort: if the store is unreachable the
// queue still drives the retry.
func (p *Pipeline) failDocument(ctx context.Context, id string, cause error, log logger.Logger) {
	errStatus := models.StatusError
	msg := cause.Error()
	noText := ""
	err := p.store.Update(ctx, id, models.DocumentUpdate{
		Status:        &errStatus,
		ErrorMessage:  &msg,
		ExtractedText: &noText,
	})
	if err != nil && !errors.Is(err, store.ErrNotFound) {
		log.Error("Failed to record document error", logger.Error(err))
	}
}

func (p *Pipeline) saveSnapshot(ctx context.Context, documentID string, state queue.JobState, errMsg string, attempts int, log logger.Logger) {
	if p.snapshots == nil {
		return
	}
	st := queue.JobStatus{
		DocumentID: documentID,
		State:      state,
		Attempts:   attempts,
		Error:      errMsg,
		FinishedAt: time.Now(),
	}
	if err := p.snapshots.SaveSnapshot(ctx, st); err != nil {
		log.Warn("Failed to save job snapshot", logger.Error(err))
	}
}
