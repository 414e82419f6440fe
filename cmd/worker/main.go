package main

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"golang.org/x/sync/errgroup"

	"dochub/internal/app"
	"dochub/internal/httputil"
	"dochub/internal/pipeline"
	"dochub/internal/queue"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	deps, err := app.Build(ctx)
	if err != nil {
		slog.Default().Error("failed to build dependencies", "err", err)
		os.Exit(1)
	}
	defer deps.Close()
	deps.Log.Info("pipeline worker starting")

	if err := run(ctx, deps); err != nil {
		deps.Log.Error("pipeline worker stopped", "err", err)
		os.Exit(1)
	}
}

// run consumes process and summarize tasks until ctx is cancelled or a consumer fails.
func run(ctx context.Context, deps app.Deps) error {
	if deps.Queue == nil {
		return errors.New("worker requires QUEUE_PROVIDER=nats")
	}
	handler := pipeline.TaskHandler(deps.Pipeline)

	g, ctx := errgroup.WithContext(ctx)
	for _, tt := range []queue.TaskType{queue.TaskTypeProcess, queue.TaskTypeSummarize} {
		g.Go(func() error {
			return deps.Queue.Worker(ctx, tt, logged(deps.Log, tt, handler))
		})
	}
	g.Go(func() error {
		return httputil.ServeHealth(ctx, deps.Log, deps.Config.Port, "worker", deps.HealthChecks())
	})
	return g.Wait()
}

func logged(log *slog.Logger, tt queue.TaskType, next queue.Handler) queue.Handler {
	return func(ctx context.Context, task queue.Task) error {
		err := next(ctx, task)
		switch {
		case err == nil:
			log.Debug("task done", "type", tt, "task_id", task.ID)
		case queue.IsPermanent(err):
			log.Warn("task rejected", "type", tt, "task_id", task.ID, "err", err)
		default:
			log.Error("task failed", "type", tt, "task_id", task.ID, "attempt", task.Attempts, "err", err)
		}
		return err
	}
}
