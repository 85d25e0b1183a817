// Package queue stores processing jobs durably in Redis via asynq. The job
// ID is the document ID, which is what prevents two concurrent jobs for the
// same document.
package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/hibiken/asynq"
	"github.com/redis/go-redis/v9"

	"github.com/docingest/docingest/internal/models"
	"github.com/docingest/docingest/pkg/logger"
)

// QueueDocuments is the single queue all processing jobs go through.
const QueueDocuments = "documents"

const snapshotKeyPrefix = "docingest:job:"

// ErrDuplicateJob signals that a waiting or active job already exists for
// the document. Callers should treat it as success, not surface it.
var ErrDuplicateJob = errors.New("job already queued for document")

// JobState is the externally visible lifecycle state of a job.
type JobState string

const (
	JobStateWaiting   JobState = "waiting"
	JobStateActive    JobState = "active"
	JobStateDelayed   JobState = "delayed"
	JobStateCompleted JobState = "completed"
	JobStateFailed    JobState = "failed"
	JobStateUnknown   JobState = "unknown"
)

// JobStatus is the read-only projection served to status polls.
type JobStatus struct {
	DocumentID  string    `json:"documentId"`
	State       JobState  `json:"status"`
	Attempts    int       `json:"attempts"`
	MaxAttempts int       `json:"maxAttempts"`
	Error       string    `json:"error,omitempty"`
	FinishedAt  time.Time `json:"finishedAt,omitempty"`
}

// SnapshotStore persists final job states beyond queue eviction. The worker
// writes through this after completion or terminal failure.
type SnapshotStore interface {
	SaveSnapshot(ctx context.Context, st JobStatus) error
}

// RedisConfig holds the Redis connection settings shared by the queue and
// the worker server.
type RedisConfig struct {
	Addr     string
	Password string
	DB       int
}

// Config holds retry and retention policy. MaxAttempts counts total
// attempts including the first.
type Config struct {
	Redis              RedisConfig
	MaxAttempts        int
	JobTimeout         time.Duration
	BackoffBase        time.Duration
	BackoffCap         time.Duration
	CompletedRetention time.Duration
	FailedRetention    time.Duration
}

// Queue wraps the asynq client for submission, the inspector for status
// reads, and a plain Redis handle for retained status snapshots.
type Queue struct {
	client    *asynq.Client
	inspector *asynq.Inspector
	redis     *redis.Client
	cfg       Config
	logger    logger.Logger
}

func New(cfg Config, log logger.Logger) *Queue {
	opt := asynq.RedisClientOpt{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	}
	return &Queue{
		client:    asynq.NewClient(opt),
		inspector: asynq.NewInspector(opt),
		redis: redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		}),
		cfg:    cfg,
		logger: log,
	}
}

// Enqueue submits a processing job keyed by the document ID. A second
// submission while one is waiting or active returns ErrDuplicateJob.
func (q *Queue) Enqueue(ctx context.Context, payload models.ProcessPayload) (string, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return "", fmt.Errorf("marshal job payload: %w", err)
	}

	task := asynq.NewTask(models.TaskTypeDocumentProcess, data)
	info, err := q.client.EnqueueContext(ctx, task, q.enqueueOptions(payload.DocumentID)...)
	if err != nil {
		if terr := translateEnqueueError(err); errors.Is(terr, ErrDuplicateJob) {
			return payload.DocumentID, fmt.Errorf("%w: %s", ErrDuplicateJob, payload.DocumentID)
		}
		return "", fmt.Errorf("enqueue job: %w", err)
	}

	q.logger.Info("Queued document processing job",
		logger.String("documentId", payload.DocumentID),
		logger.String("objectKey", payload.ObjectKey),
	)
	return info.ID, nil
}

// enqueueOptions maps the retry/retention policy onto submission options.
// MaxAttempts counts the first run, asynq's MaxRetry does not, hence the -1.
func (q *Queue) enqueueOptions(documentID string) []asynq.Option {
	return []asynq.Option{
		asynq.TaskID(documentID),
		asynq.Queue(QueueDocuments),
		asynq.MaxRetry(q.cfg.MaxAttempts - 1),
		asynq.Timeout(q.cfg.JobTimeout),
		asynq.Retention(q.cfg.CompletedRetention),
	}
}

// Status reports the job state for a document, falling back to the retained
// snapshot once the queue has evicted the job. Never-seen documents report
// JobStateUnknown.
func (q *Queue) Status(ctx context.Context, documentID string) (JobStatus, error) {
	info, err := q.inspector.GetTaskInfo(QueueDocuments, documentID)
	if err == nil {
		return statusFromTaskInfo(documentID, info), nil
	}
	if !isTaskGone(err) {
		return JobStatus{}, fmt.Errorf("inspect job: %w", err)
	}

	data, rerr := q.redis.Get(ctx, snapshotKey(documentID)).Bytes()
	if rerr == redis.Nil {
		return JobStatus{DocumentID: documentID, State: JobStateUnknown}, nil
	}
	if rerr != nil {
		return JobStatus{}, fmt.Errorf("read job snapshot: %w", rerr)
	}

	var st JobStatus
	if err := json.Unmarshal(data, &st); err != nil {
		return JobStatus{}, fmt.Errorf("unmarshal job snapshot: %w", err)
	}
	return st, nil
}

// SaveSnapshot retains a final job state: completed jobs for the shorter
// observability window, failed jobs for the operator-visible one.
func (q *Queue) SaveSnapshot(ctx context.Context, st JobStatus) error {
	data, err := json.Marshal(st)
	if err != nil {
		return fmt.Errorf("marshal job snapshot: %w", err)
	}
	ttl := q.cfg.CompletedRetention
	if st.State == JobStateFailed {
		ttl = q.cfg.FailedRetention
	}
	if err := q.redis.Set(ctx, snapshotKey(st.DocumentID), data, ttl).Err(); err != nil {
		return fmt.Errorf("save job snapshot: %w", err)
	}
	return nil
}

// Delete removes a queued job and its snapshot, used when the document
// itself is deleted. A job that is gone already is not an error.
func (q *Queue) Delete(ctx context.Context, documentID string) error {
	if err := q.inspector.DeleteTask(QueueDocuments, documentID); err != nil && !isTaskGone(err) {
		return fmt.Errorf("delete job: %w", err)
	}
	if err := q.redis.Del(ctx, snapshotKey(documentID)).Err(); err != nil {
		return fmt.Errorf("delete job snapshot: %w", err)
	}
	return nil
}

// Ping reports Redis reachability, used by health checks.
func (q *Queue) Ping(ctx context.Context) error {
	return q.redis.Ping(ctx).Err()
}

func (q *Queue) Close() error {
	return errors.Join(q.client.Close(), q.inspector.Close(), q.redis.Close())
}

// Backoff computes the delay before retry number attempt (0-based):
// base * 2^attempt, capped at maxDelay.
func Backoff(base, maxDelay time.Duration, attempt int) time.Duration {
	if attempt < 0 {
		attempt = 0
	}
	d := base
	for i := 0; i < attempt; i++ {
		d *= 2
		if maxDelay > 0 && d >= maxDelay {
			return maxDelay
		}
	}
	if maxDelay > 0 && d > maxDelay {
		return maxDelay
	}
	return d
}

func translateEnqueueError(err error) error {
	if errors.Is(err, asynq.ErrTaskIDConflict) {
		return ErrDuplicateJob
	}
	return err
}

func isTaskGone(err error) bool {
	return errors.Is(err, asynq.ErrTaskNotFound) || errors.Is(err, asynq.ErrQueueNotFound)
}

func snapshotKey(documentID string) string {
	return snapshotKeyPrefix + documentID
}

func statusFromTaskInfo(documentID string, info *asynq.TaskInfo) JobStatus {
	st := JobStatus{
		DocumentID:  documentID,
		State:       stateFromTask(info.State),
		Attempts:    info.Retried,
		MaxAttempts: info.MaxRetry + 1,
		Error:       info.LastErr,
	}
	if info.State == asynq.TaskStateCompleted {
		st.FinishedAt = info.CompletedAt
	}
	return st
}

func stateFromTask(s asynq.TaskState) JobState {
	switch s {
	case asynq.TaskStatePending:
		return JobStateWaiting
	case asynq.TaskStateActive:
		return JobStateActive
	case asynq.TaskStateScheduled, asynq.TaskStateRetry:
		return JobStateDelayed
	case asynq.TaskStateCompleted:
		return JobStateCompleted
	case asynq.TaskStateArchived:
		return JobStateFailed
	default:
		return JobStateUnknown
	}
}
