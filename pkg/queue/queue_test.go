package queue

import (
	"fmt"
	"testing"
	"time"

	"github.com/hibiken/asynq"
	"github.com/stretchr/testify/assert"
)

func TestBackoffExponential(t *testing.T) {
	base := 5 * time.Second
	maxDelay := 5 * time.Minute

	assert.Equal(t, 5*time.Second, Backoff(base, maxDelay, 0))
	assert.Equal(t, 10*time.Second, Backoff(base, maxDelay, 1))
	assert.Equal(t, 20*time.Second, Backoff(base, maxDelay, 2))
	assert.Equal(t, 40*time.Second, Backoff(base, maxDelay, 3))
}

func TestBackoffCap(t *testing.T) {
	base := 5 * time.Second
	maxDelay := 30 * time.Second

	assert.Equal(t, 30*time.Second, Backoff(base, maxDelay, 3))
	assert.Equal(t, 30*time.Second, Backoff(base, maxDelay, 50), "large attempts must not overflow")
	assert.Equal(t, 5*time.Second, Backoff(base, maxDelay, -1), "negative attempt clamps to base")
}

func TestStateMapping(t *testing.T) {
	cases := map[asynq.TaskState]JobState{
		asynq.TaskStatePending:   JobStateWaiting,
		asynq.TaskStateActive:    JobStateActive,
		asynq.TaskStateScheduled: JobStateDelayed,
		asynq.TaskStateRetry:     JobStateDelayed,
		asynq.TaskStateCompleted: JobStateCompleted,
		asynq.TaskStateArchived:  JobStateFailed,
	}
	for in, want := range cases {
		assert.Equal(t, want, stateFromTask(in), "asynq state %v", in)
	}
}

func TestStatusFromTaskInfo(t *testing.T) {
	done := time.Now()
	st := statusFromTaskInfo("d1", &asynq.TaskInfo{
		ID:          "d1",
		State:       asynq.TaskStateCompleted,
		Retried:     1,
		MaxRetry:    2,
		CompletedAt: done,
	})

	assert.Equal(t, "d1", st.DocumentID)
	assert.Equal(t, JobStateCompleted, st.State)
	assert.Equal(t, 1, st.Attempts)
	assert.Equal(t, 3, st.MaxAttempts, "MaxRetry excludes the first attempt")
	assert.Equal(t, done, st.FinishedAt)
}

func TestTranslateEnqueueError(t *testing.T) {
	wrapped := fmt.Errorf("enqueue: %w", asynq.ErrTaskIDConflict)
	assert.ErrorIs(t, translateEnqueueError(wrapped), ErrDuplicateJob)

	other := fmt.Errorf("redis down")
	assert.Equal(t, other, translateEnqueueError(other))
}

func TestEnqueueOptionsRetryBudget(t *testing.T) {
	q := &Queue{cfg: Config{
		MaxAttempts:        3,
		JobTimeout:         10 * time.Minute,
		CompletedRetention: 24 * time.Hour,
	}}

	byType := map[asynq.OptionType]asynq.Option{}
	for _, opt := range q.enqueueOptions("d1") {
		byType[opt.Type()] = opt
	}

	// Three total attempts means two asynq retries after the first run.
	assert.Equal(t, 2, byType[asynq.MaxRetryOpt].Value())
	assert.Equal(t, "d1", byType[asynq.TaskIDOpt].Value())
	assert.Equal(t, QueueDocuments, byType[asynq.QueueOpt].Value())
	assert.Equal(t, 10*time.Minute, byType[asynq.TimeoutOpt].Value())
	assert.Equal(t, 24*time.Hour, byType[asynq.RetentionOpt].Value())
}
