package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"dochub/internal/queue"
	"dochub/internal/store"
	"dochub/internal/summarize"
	"dochub/internal/workpool"
)

// Dispatcher hands a freshly uploaded document to the pipeline without blocking the
// request that created it.
type Dispatcher interface {
	DispatchProcess(ctx context.Context, id uuid.UUID) error
	DispatchSummarize(ctx context.Context, id uuid.UUID, t summarize.Type) error
}

// QueueDispatcher publishes tasks for cmd/worker.
type QueueDispatcher struct {
	queue queue.Queue
}

func NewQueueDispatcher(q queue.Queue) *QueueDispatcher {
	return &QueueDispatcher{queue: q}
}

func (d *QueueDispatcher) DispatchProcess(ctx context.Context, id uuid.UUID) error {
	return d.enqueue(ctx, queue.TaskTypeProcess, id, "")
}

func (d *QueueDispatcher) DispatchSummarize(ctx context.Context, id uuid.UUID, t summarize.Type) error {
	return d.enqueue(ctx, queue.TaskTypeSummarize, id, string(t))
}

func (d *QueueDispatcher) enqueue(ctx context.Context, tt queue.TaskType, id uuid.UUID, summaryType string) error {
	task, err := queue.NewDocumentTask(tt, id, summaryType)
	if err != nil {
		return err
	}
	if err := queue.EnqueueWithRetry(ctx, d.queue, task, 3, 100*time.Millisecond); err != nil {
		return fmt.Errorf("enqueue %s task: %w", tt, err)
	}
	return nil
}

// InlineDispatcher runs the pipeline in-process on its own pool. It must not share the
// orchestrator's stage pool: a dispatched run blocks on a stage slot.
type InlineDispatcher struct {
	orch   *Orchestrator
	pool   *workpool.Pool
	logger *slog.Logger
}

func NewInlineDispatcher(orch *Orchestrator, pool *workpool.Pool, logger *slog.Logger) *InlineDispatcher {
	if logger == nil {
		logger = slog.Default()
	}
	return &InlineDispatcher{orch: orch, pool: pool, logger: logger.With("component", "dispatcher")}
}

func (d *InlineDispatcher) DispatchProcess(ctx context.Context, id uuid.UUID) error {
	runCtx := context.WithoutCancel(ctx)
	return d.pool.Go(func() {
		if _, err := d.orch.ProcessDocument(runCtx, id); err != nil {
			d.logger.Error("inline processing failed", "document_id", id, "err", err)
		}
	})
}

func (d *InlineDispatcher) DispatchSummarize(ctx context.Context, id uuid.UUID, t summarize.Type) error {
	runCtx := context.WithoutCancel(ctx)
	return d.pool.Go(func() {
		if _, err := d.orch.SummarizeDocument(runCtx, id, t); err != nil {
			d.logger.Error("inline summarization failed", "document_id", id, "err", err)
		}
	})
}

// TaskHandler adapts the orchestrator to queue tasks. Precondition failures and
// stage-fatal errors are permanent; anything else is retried by the queue.
func TaskHandler(orch *Orchestrator) queue.Handler {
	return func(ctx context.Context, task queue.Task) error {
		p, err := queue.DecodeDocumentPayload(task)
		if err != nil {
			return err
		}
		switch task.Type {
		case queue.TaskTypeProcess:
			_, err = orch.ProcessDocument(ctx, p.DocumentID)
		case queue.TaskTypeSummarize:
			_, err = orch.SummarizeDocument(ctx, p.DocumentID, summarize.Type(p.SummaryType))
		default:
			return queue.Permanent(fmt.Errorf("unsupported task type %q", task.Type))
		}
		return classifyTaskError(err)
	}
}

func classifyTaskError(err error) error {
	if err == nil {
		return nil
	}
	var pe *PreconditionError
	if errors.As(err, &pe) || errors.Is(err, store.ErrDocumentNotFound) {
		return queue.Permanent(err)
	}
	// A failed extraction needs an explicit reprocess; a summarize timeout may be retried.
	var se *StageError
	if errors.As(err, &se) && se.Stage != "summarize" {
		return queue.Permanent(err)
	}
	return err
}

var (
	_ Dispatcher = (*QueueDispatcher)(nil)
	_ Dispatcher = (*InlineDispatcher)(nil)
)
