package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/docingest/docingest/config"
	"github.com/docingest/docingest/internal/store"
	"github.com/docingest/docingest/pkg/extractor"
	"github.com/docingest/docingest/pkg/logger"
	"github.com/docingest/docingest/pkg/queue"
	"github.com/docingest/docingest/pkg/storage"
	"github.com/docingest/docingest/pkg/worker"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		panic(err)
	}

	log, err := logger.New(
		logger.WithLevel(cfg.Log.Level),
		logger.WithEncoding(cfg.Log.Encoding),
		logger.WithOutputPaths(cfg.Log.OutputPaths),
	)
	if err != nil {
		panic(err)
	}
	defer log.Sync()

	ctx := context.Background()

	docs, err := store.NewPostgresStore(ctx, cfg.Database)
	if err != nil {
		log.Fatal("Failed to connect to database", logger.Error(err))
	}
	defer docs.Close()

	blobs, err := storage.New(cfg.Storage, log.Named("storage"))
	if err != nil {
		log.Fatal("Failed to init object storage", logger.Error(err))
	}

	jobs := queue.New(cfg.Queue, log.Named("queue"))
	defer jobs.Close()

	pipeline := worker.NewPipeline(docs, blobs, extractor.NewPDFExtractor(log.Named("extractor")), jobs, log.Named("pipeline"))

	w := worker.New(worker.Config{
		Redis:           cfg.Queue.Redis,
		Concurrency:     cfg.Worker.Concurrency,
		BackoffBase:     cfg.Queue.BackoffBase,
		BackoffCap:      cfg.Queue.BackoffCap,
		RateLimit:       cfg.Worker.RateLimit,
		RateWindow:      cfg.Worker.RateWindow,
		ShutdownTimeout: cfg.Worker.ShutdownTimeout,
	}, pipeline, log.Named("worker"))

	if err := w.Start(); err != nil {
		log.Error("Failed to start worker", logger.Error(err))
		os.Exit(1)
	}

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	<-sigChan

	log.Info("Shutting down worker...")
	w.Stop()
}
