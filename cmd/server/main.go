package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/gin-gonic/gin"

	"github.com/docingest/docingest/api/handlers"
	"github.com/docingest/docingest/api/routes"
	"github.com/docingest/docingest/config"
	"github.com/docingest/docingest/internal/service/document"
	"github.com/docingest/docingest/internal/store"
	"github.com/docingest/docingest/pkg/logger"
	"github.com/docingest/docingest/pkg/queue"
	"github.com/docingest/docingest/pkg/storage"
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

	svc := document.NewService(docs, blobs, jobs, log.Named("document"), document.Config{
		MaxFileSize:  cfg.Upload.MaxFileSize,
		AllowedTypes: cfg.Upload.AllowedTypes,
	})

	h := handlers.NewHandlers(svc, map[string]handlers.Pinger{
		"database": docs,
		"queue":    jobs,
	}, log)

	r := gin.New()
	r.Use(gin.Recovery())
	routes.SetupRoutes(r, h, cfg.HTTP.CORSOrigins...)

	srv := &http.Server{
		Addr:    cfg.HTTP.Addr,
		Handler: r,
	}

	go func() {
		log.Info("Server starting", logger.String("addr", cfg.HTTP.Addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error("Server error", logger.Error(err))
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info("Shutting down server...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.HTTP.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error("Server forced to shutdown", logger.Error(err))
	}
}
