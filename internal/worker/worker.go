package worker

import (
	"context"
	"fmt"

	"github.com/hibiken/asynq"
	"go.uber.org/zap"

	"github.com/finbridge/marketgate/internal/config"
	"github.com/finbridge/marketgate/internal/service/metering"
	"github.com/finbridge/marketgate/internal/tasks"
)

// RunWorkers starts the asynq server and scheduler for background
// maintenance (usage-log retention). The returned shutdown func blocks until
// in-flight tasks finish.
func RunWorkers(cfg *config.Config, meteringSvc *metering.Service, logger *zap.Logger) (<-chan error, func(context.Context)) {
	errChan := make(chan error, 2)

	redisConnOpts := asynq.RedisClientOpt{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	}

	srv := asynq.NewServer(
		redisConnOpts,
		asynq.Config{
			Concurrency: 10,
			Queues: map[string]int{
				"critical": 6,
				"default":  3,
				"low":      1,
			},
			ErrorHandler: asynq.ErrorHandlerFunc(func(ctx context.Context, task *asynq.Task, err error) {
				log := logger.Named("AsynqServerErrorHandler")
				log.Error("Asynq task processing failed",
					zap.String("task_id", task.Type()),
					zap.ByteString("payload", task.Payload()),
					zap.Error(err),
				)
			}),
			Logger: NewAsynqLoggerAdapter(logger.Named("AsynqServer")),
		},
	)

	mux := asynq.NewServeMux()

	pruneHandler := tasks.NewUsagePruneHandler(meteringSvc, logger)
	mux.HandleFunc(tasks.TypeUsagePrune, pruneHandler.ProcessTask)

	go func() {
		logger.Info("Starting Asynq Server...")
		if err := srv.Run(mux); err != nil {
			logger.Error("Asynq Server run failed", zap.Error(err))
			errChan <- fmt.Errorf("asynq server error: %w", err)
		}
		logger.Info("Asynq Server stopped.")
	}()

	scheduler := asynq.NewScheduler(
		redisConnOpts,
		&asynq.SchedulerOpts{
			Logger: NewAsynqLoggerAdapter(logger.Named("AsynqScheduler")),
		},
	)

	usagePruneTask, err := tasks.NewUsagePruneTask()
	if err != nil {
		logger.Error("Failed to create usage prune task for scheduler", zap.Error(err))
		errChan <- fmt.Errorf("scheduler task creation error: %w", err)
	} else {
		entryID, err := scheduler.Register("@every 6h", usagePruneTask)
		if err != nil {
			logger.Error("Could not register periodic usage prune task", zap.Error(err))
			errChan <- fmt.Errorf("scheduler registration error: %w", err)
		} else {
			logger.Info("Registered periodic usage log retention task", zap.String("entry_id", entryID), zap.String("schedule", "@every 6h"))
		}
	}

	go func() {
		logger.Info("Starting Asynq Scheduler...")
		if err := scheduler.Run(); err != nil {
			logger.Error("Asynq Scheduler run failed", zap.Error(err))
			errChan <- fmt.Errorf("asynq scheduler error: %w", err)
		}
		logger.Info("Asynq Scheduler stopped.")
	}()

	shutdownFunc := func(ctx context.Context) {
		logger.Info("Shutting down Asynq Scheduler...")
		scheduler.Shutdown()

		logger.Info("Shutting down Asynq Server...")
		srv.Shutdown()
	}

	return errChan, shutdownFunc
}

type asynqLoggerAdapter struct {
	logger *zap.Logger
}

func NewAsynqLoggerAdapter(logger *zap.Logger) *asynqLoggerAdapter {
	return &asynqLoggerAdapter{logger: logger.WithOptions(zap.AddCallerSkip(1))}
}

func (l *asynqLoggerAdapter) Debug(args ...interface{}) {
	l.logger.Debug(fmt.Sprint(args...))
}
func (l *asynqLoggerAdapter) Info(args ...interface{}) {
	l.logger.Info(fmt.Sprint(args...))
}
func (l *asynqLoggerAdapter) Warn(args ...interface{}) {
	l.logger.Warn(fmt.Sprint(args...))
}
func (l *asynqLoggerAdapter) Error(args ...interface{}) {
	l.logger.Error(fmt.Sprint(args...))
}
func (l *asynqLoggerAdapter) Fatal(args ...interface{}) {
	l.logger.Fatal(fmt.Sprint(args...))
}
