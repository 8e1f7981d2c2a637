package jobs

import (
	"context"
	"fmt"

	"github.com/hibiken/asynq"
	"go.uber.org/zap"
)

// Server runs the background handlers against the asynq queue in Redis.
type Server struct {
	server *asynq.Server
	mux    *asynq.ServeMux
}

func NewServer(redis asynq.RedisConnOpt, concurrency int, logger *zap.Logger) *Server {
	if concurrency <= 0 {
		concurrency = 10
	}
	srv := asynq.NewServer(redis, asynq.Config{
		Concurrency: concurrency,
		Logger:      logger.Sugar(),
		ErrorHandler: asynq.ErrorHandlerFunc(func(ctx context.Context, task *asynq.Task, err error) {
			logger.Warn("task failed", zap.String("type", task.Type()), zap.Error(err))
		}),
	})
	return &Server{server: srv, mux: asynq.NewServeMux()}
}

func (s *Server) Handle(taskType string, h asynq.Handler) {
	s.mux.Handle(taskType, h)
}

// Run starts processing and blocks until ctx is cancelled, then shuts
// down gracefully.
func (s *Server) Run(ctx context.Context) error {
	if err := s.server.Start(s.mux); err != nil {
		return fmt.Errorf("start task server: %w", err)
	}
	<-ctx.Done()
	s.server.Shutdown()
	return nil
}
