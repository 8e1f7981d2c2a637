package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/hibiken/asynq"
	"github.com/lalith-99/chatline/internal/api"
	"github.com/lalith-99/chatline/internal/chat"
	"github.com/lalith-99/chatline/internal/config"
	"github.com/lalith-99/chatline/internal/db"
	"github.com/lalith-99/chatline/internal/jobs"
	"github.com/lalith-99/chatline/internal/observ"
	"github.com/lalith-99/chatline/internal/realtime"
	"github.com/lalith-99/chatline/internal/repository/postgres"
	"github.com/lalith-99/chatline/internal/storage"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	// ---------------------------------------------------------------
	// 1. Config and logger
	// ---------------------------------------------------------------
	cfg, err := config.LoadConfig()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	logger, err := observ.NewLogger(observ.LoggerOptions{
		Service: "chatline-server",
		Node:    cfg.NodeID,
		Env:     cfg.Env,
		Level:   cfg.LogLevel,
	})
	if err != nil {
		return fmt.Errorf("create logger: %w", err)
	}
	defer logger.Sync()

	if cfg.Env == "production" {
		gin.SetMode(gin.ReleaseMode)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// ---------------------------------------------------------------
	// 2. Postgres, Redis, attachment store
	// ---------------------------------------------------------------
	database, err := db.New(ctx, cfg.DatabaseURL, logger)
	if err != nil {
		return fmt.Errorf("connect to database: %w", err)
	}
	defer database.Close()

	if err := database.Migrate(ctx); err != nil {
		return fmt.Errorf("migrate: %w", err)
	}

	redisOpts, err := redis.ParseURL(cfg.RedisURL)
	if err != nil {
		return fmt.Errorf("parse REDIS_URL: %w", err)
	}
	rdb := redis.NewClient(redisOpts)
	defer rdb.Close()
	if err := rdb.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("ping redis: %w", err)
	}

	blobs, err := storage.NewFSStore(cfg.AttachmentDir)
	if err != nil {
		return fmt.Errorf("open attachment store: %w", err)
	}

	stores := postgres.NewStores(database.Pool())

	// ---------------------------------------------------------------
	// 3. Messaging core
	//
	// Log -> Relay -> Hub: the relay delivers locally and queues the
	// message for the other nodes; Forward drains the queue into Redis.
	// ---------------------------------------------------------------
	registry := chat.NewRegistry(stores.Conversations, stores.Memberships, stores.Messages, stores.FriendRequests, blobs, stores.BlobLocks, logger)
	hub := realtime.NewHub(registry, cfg.SubscriberQueueDepth, logger)
	presence := realtime.NewPresence(cfg.PresenceTimeout, logger)
	registry.Observe(hub)
	registry.Observe(presence)

	relay := realtime.NewRelay(rdb, hub, cfg.NodeID, logger)
	messageLog := chat.NewLog(registry, stores.Messages, blobs, relay, chat.LogConfig{
		MaxMessageLength:   cfg.MaxMessageLength,
		MaxAttachmentBytes: cfg.MaxAttachmentBytes,
	}, logger)

	go presence.Run(ctx)
	go relay.Forward(ctx)
	go func() {
		if err := relay.Run(ctx); err != nil {
			logger.Error("relay stopped", zap.Error(err))
		}
	}()

	asynqOpt, err := asynq.ParseRedisURI(cfg.RedisURL)
	if err != nil {
		return fmt.Errorf("parse REDIS_URL for tasks: %w", err)
	}
	taskClient := asynq.NewClient(asynqOpt)
	defer taskClient.Close()

	// ---------------------------------------------------------------
	// 4. HTTP server
	// ---------------------------------------------------------------
	router := api.NewRouter(api.Deps{
		Users:    stores.Users,
		Links:    stores.Links,
		Registry: registry,
		Log:      messageLog,
		Hub:      hub,
		Presence: presence,
		Previews: jobs.NewPreviewScheduler(taskClient, logger),
		Blobs:    blobs,
		Health: func(ctx context.Context) error {
			if err := database.Health(ctx); err != nil {
				return err
			}
			return rdb.Ping(ctx).Err()
		},
		JWTSecret:          cfg.JWTSecret,
		TokenTTL:           cfg.TokenTTL,
		MediaURL:           cfg.MediaURL,
		PublicMediaURL:     cfg.PublicMediaURL,
		MaxAttachmentBytes: cfg.MaxAttachmentBytes,
		Logger:             logger,
	})

	srv := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("starting chatline",
			zap.String("port", cfg.Port),
			zap.String("env", cfg.Env),
			zap.String("node_id", cfg.NodeID),
		)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("serve http: %w", err)
		}
	case <-ctx.Done():
	}

	logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	hub.Close()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown http: %w", err)
	}
	return nil
}
