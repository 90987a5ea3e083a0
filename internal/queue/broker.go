package queue

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/hibiken/asynq"

	"github.com/dharsanguruparan/racketdrop/internal/config"
)

// RedisOpt converts the redis settings into asynq connection options.
func RedisOpt(cfg config.RedisConfig) asynq.RedisClientOpt {
	return asynq.RedisClientOpt{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	}
}

// Broker enqueues analysis jobs on asynq.
type Broker struct {
	client   *asynq.Client
	queue    string
	maxRetry int
	timeout  time.Duration
}

// NewBroker builds a Broker backed by a new asynq client.
func NewBroker(redis asynq.RedisClientOpt, cfg config.QueueConfig) *Broker {
	return &Broker{
		client:   asynq.NewClient(redis),
		queue:    cfg.Name,
		maxRetry: cfg.MaxRetry,
		timeout:  cfg.TaskTimeout,
	}
}

// Enqueue schedules one analysis task for the job's item.
func (b *Broker) Enqueue(ctx context.Context, job Job) error {
	data, err := EncodeJob(job)
	if err != nil {
		return err
	}
	task := asynq.NewTask(TaskAnalyze, data)
	opts := []asynq.Option{asynq.Queue(b.queue), asynq.MaxRetry(b.maxRetry)}
	if b.timeout > 0 {
		opts = append(opts, asynq.Timeout(b.timeout))
	}
	if _, err := b.client.EnqueueContext(ctx, task, opts...); err != nil {
		return fmt.Errorf("enqueue analyze task: %w", err)
	}
	return nil
}

// Close releases the underlying redis connection.
func (b *Broker) Close() error {
	return b.client.Close()
}

// NewServer builds the asynq worker server consuming the configured queue.
// Failed tasks are logged through logger before asynq retries or archives them.
func NewServer(redis asynq.RedisClientOpt, cfg config.QueueConfig, concurrency int, logger *slog.Logger) *asynq.Server {
	return asynq.NewServer(redis, asynq.Config{
		Concurrency: concurrency,
		Queues:      map[string]int{cfg.Name: 1},
		Logger:      &asynqLogger{l: logger.With("component", "asynq")},
		ErrorHandler: asynq.ErrorHandlerFunc(func(ctx context.Context, task *asynq.Task, err error) {
			retried, _ := asynq.GetRetryCount(ctx)
			maxRetry, _ := asynq.GetMaxRetry(ctx)
			logger.Error("task failed",
				"type", task.Type(),
				"retried", retried,
				"max_retry", maxRetry,
				"error", err,
			)
		}),
	})
}

// NewScheduler registers the periodic orphan sweep on the configured queue.
func NewScheduler(redis asynq.RedisClientOpt, cfg config.QueueConfig, spec string, logger *slog.Logger) (*asynq.Scheduler, error) {
	scheduler := asynq.NewScheduler(redis, &asynq.SchedulerOpts{
		Location: time.UTC,
		Logger:   &asynqLogger{l: logger.With("component", "asynq-scheduler")},
	})
	if _, err := scheduler.Register(spec, asynq.NewTask(TaskSweepOrphans, nil), asynq.Queue(cfg.Name), asynq.MaxRetry(0)); err != nil {
		return nil, fmt.Errorf("register orphan sweep: %w", err)
	}
	return scheduler, nil
}

// asynqLogger routes asynq's internal logging into slog.
type asynqLogger struct {
	l *slog.Logger
}

func (a *asynqLogger) Debug(args ...interface{}) { a.l.Debug(fmt.Sprint(args...)) }
func (a *asynqLogger) Info(args ...interface{})  { a.l.Info(fmt.Sprint(args...)) }
func (a *asynqLogger) Warn(args ...interface{})  { a.l.Warn(fmt.Sprint(args...)) }
func (a *asynqLogger) Error(args ...interface{}) { a.l.Error(fmt.Sprint(args...)) }
func (a *asynqLogger) Fatal(args ...interface{}) {
	a.l.Error(fmt.Sprint(args...))
	os.Exit(1)
}
