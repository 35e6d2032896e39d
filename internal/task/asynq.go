package task

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/hibiken/asynq"
	"go.uber.org/zap"
)

const (
	defaultQueue = "reelforge"
	maxRetry     = 3
	retention    = 24 * time.Hour
)

type RedisConfig struct {
	Addr     string
	Password string
}

func (c RedisConfig) opt() asynq.RedisClientOpt {
	return asynq.RedisClientOpt{Addr: c.Addr, Password: c.Password}
}

// AsynqDispatcher enqueues tasks into Redis for any worker process to pick up.
type AsynqDispatcher struct {
	client *asynq.Client
	queue  string
}

func NewAsynqDispatcher(redis RedisConfig, queue string) *AsynqDispatcher {
	if queue == "" {
		queue = defaultQueue
	}
	return &AsynqDispatcher{client: asynq.NewClient(redis.opt()), queue: queue}
}

func (d *AsynqDispatcher) Dispatch(ctx context.Context, taskType, jobID string) error {
	payload, err := encode(jobID)
	if err != nil {
		return err
	}

	_, err = d.client.EnqueueContext(ctx, asynq.NewTask(taskType, payload),
		asynq.Queue(d.queue),
		asynq.MaxRetry(maxRetry),
		asynq.Retention(retention),
	)
	if err != nil {
		return fmt.Errorf("enqueue %s for job %s: %w", taskType, jobID, err)
	}
	return nil
}

func (d *AsynqDispatcher) Close() error {
	return d.client.Close()
}

// Server consumes tasks from Redis and routes them to registered handlers.
type Server struct {
	srv    *asynq.Server
	mux    *asynq.ServeMux
	logger *zap.Logger
}

type ServerConfig struct {
	Queue       string
	Concurrency int
	LogLevel    string
}

func NewServer(redis RedisConfig, cfg ServerConfig, logger *zap.Logger) *Server {
	queue := cfg.Queue
	if queue == "" {
		queue = defaultQueue
	}
	concurrency := cfg.Concurrency
	if concurrency <= 0 {
		concurrency = 10
	}

	logger = logger.Named("worker")
	srv := asynq.NewServer(redis.opt(), asynq.Config{
		Concurrency: concurrency,
		Queues:      map[string]int{queue: 1},
		Logger:      logger.Sugar(),
		LogLevel:    logLevel(cfg.LogLevel),
	})

	return &Server{srv: srv, mux: asynq.NewServeMux(), logger: logger}
}

func (s *Server) Handle(taskType string, h Handler) {
	s.mux.HandleFunc(taskType, func(ctx context.Context, t *asynq.Task) error {
		jobID, err := decode(t.Payload())
		if err != nil {
			s.logger.Error("Dropping malformed task", zap.String("type", t.Type()), zap.Error(err))
			return fmt.Errorf("%w: %v", asynq.SkipRetry, err)
		}
		return h(ctx, jobID)
	})
}

// Run processes tasks until ctx is cancelled.
func (s *Server) Run(ctx context.Context) error {
	if err := s.srv.Start(s.mux); err != nil {
		return fmt.Errorf("start worker: %w", err)
	}
	s.logger.Info("Worker started")

	<-ctx.Done()
	s.srv.Shutdown()
	s.logger.Info("Worker stopped")
	return nil
}

func logLevel(level string) asynq.LogLevel {
	switch {
	case strings.EqualFold(level, "debug"):
		return asynq.DebugLevel
	case strings.EqualFold(level, "warn"):
		return asynq.WarnLevel
	case strings.EqualFold(level, "error"):
		return asynq.ErrorLevel
	default:
		return asynq.InfoLevel
	}
}
