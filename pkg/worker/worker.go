// Package worker drains the job queue with a bounded pool of concurrent
// slots and runs the ingestion pipeline for each job.
package worker

import (
	"errors"
	"fmt"
	"time"

	"github.com/hibiken/asynq"

	"github.com/docingest/docingest/internal/models"
	"github.com/docingest/docingest/pkg/logger"
	"github.com/docingest/docingest/pkg/queue"
)

// Config sizes the pool and the retry policy.
type Config struct {
	Redis           queue.RedisConfig
	Concurrency     int
	BackoffBase     time.Duration
	BackoffCap      time.Duration
	RateLimit       int
	RateWindow      time.Duration
	ShutdownTimeout time.Duration
}

// Worker owns the asynq server. Each server slot processes one job to
// completion; slots share nothing but the queue and the adapters behind the
// pipeline.
type Worker struct {
	server *asynq.Server
	mux    *asynq.ServeMux
	logger logger.Logger
}

func New(cfg Config, pipeline *Pipeline, log logger.Logger) *Worker {
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = 2
	}
	pipeline.WithRateLimit(cfg.RateLimit, cfg.RateWindow)

	server := asynq.NewServer(
		asynq.RedisClientOpt{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		},
		asynq.Config{
			Concurrency: cfg.Concurrency,
			Queues:      map[string]int{queue.QueueDocuments: 1},
			RetryDelayFunc: func(n int, err error, _ *asynq.Task) time.Duration {
				if errors.Is(err, ErrRateLimited) {
					return rateDeferDelay(cfg)
				}
				return queue.Backoff(cfg.BackoffBase, cfg.BackoffCap, n)
			},
			// Rate-limit deferrals are reschedules, not failed attempts.
			IsFailure: func(err error) bool {
				return !errors.Is(err, ErrRateLimited)
			},
			ShutdownTimeout: cfg.ShutdownTimeout,
			Logger:          &asynqLogger{log: log.Named("asynq")},
		},
	)

	mux := asynq.NewServeMux()
	mux.HandleFunc(models.TaskTypeDocumentProcess, pipeline.ProcessTask)

	return &Worker{server: server, mux: mux, logger: log}
}

// Start begins pulling jobs. It does not block.
func (w *Worker) Start() error {
	if err := w.server.Start(w.mux); err != nil {
		return fmt.Errorf("start worker server: %w", err)
	}
	w.logger.Info("Worker started")
	return nil
}

// Stop stops dequeuing, waits for in-flight jobs up to the shutdown
// timeout, and abandons the rest back to the queue for redelivery.
func (w *Worker) Stop() {
	w.server.Stop()
	w.server.Shutdown()
	w.logger.Info("Worker stopped")
}

func rateDeferDelay(cfg Config) time.Duration {
	if cfg.RateLimit <= 0 || cfg.RateWindow <= 0 {
		return time.Second
	}
	return cfg.RateWindow / time.Duration(cfg.RateLimit)
}

// asynqLogger routes asynq's internal logging through zap.
type asynqLogger struct {
	log logger.Logger
}

func (l *asynqLogger) Debug(args ...interface{}) { l.log.Debug(fmt.Sprint(args...)) }
func (l *asynqLogger) Info(args ...interface{})  { l.log.Info(fmt.Sprint(args...)) }
func (l *asynqLogger) Warn(args ...interface{})  { l.log.Warn(fmt.Sprint(args...)) }
func (l *asynqLogger) Error(args ...interface{}) { l.log.Error(fmt.Sprint(args...)) }
func (l *asynqLogger) Fatal(args ...interface{}) { l.log.Fatal(fmt.Sprint(args...)) }
