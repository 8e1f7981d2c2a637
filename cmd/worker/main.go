package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/hibiken/asynq"
	"github.com/lalith-99/chatline/internal/config"
	"github.com/lalith-99/chatline/internal/db"
	"github.com/lalith-99/chatline/internal/jobs"
	"github.com/lalith-99/chatline/internal/observ"
	"github.com/lalith-99/chatline/internal/repository/postgres"
	"github.com/lalith-99/chatline/internal/storage"
	"go.uber.org/zap"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.LoadConfig()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	logger, err := observ.NewLogger(observ.LoggerOptions{
		Service: "chatline-worker",
		Node:    cfg.NodeID,
		Env:     cfg.Env,
		Level:   cfg.LogLevel,
	})
	if err != nil {
		return fmt.Errorf("create logger: %w", err)
	}
	defer logger.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	database, err := db.New(ctx, cfg.DatabaseURL, logger)
	if err != nil {
		return fmt.Errorf("connect to database: %w", err)
	}
	defer database.Close()

	blobs, err := storage.NewFSStore(cfg.AttachmentDir)
	if err != nil {
		return fmt.Errorf("open attachment store: %w", err)
	}

	redisOpt, err := asynq.ParseRedisURI(cfg.RedisURL)
	if err != nil {
		return fmt.Errorf("parse REDIS_URL: %w", err)
	}

	links := postgres.NewLinkStore(database.Pool())
	locks := postgres.NewBlobLocks(database.Pool())
	srv := jobs.NewServer(redisOpt, cfg.WorkerConcurrency, logger)
	srv.Handle(jobs.TypeLinkPreview, jobs.NewPreviewHandler(links, blobs, locks, &http.Client{Timeout: 10 * time.Second}, logger))

	logger.Info("starting chatline worker",
		zap.Int("concurrency", cfg.WorkerConcurrency),
		zap.String("env", cfg.Env),
	)
	return srv.Run(ctx)
}
