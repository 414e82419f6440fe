package queue

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/nats-io/nats.go"

	"dochub/internal/retry"
	"dochub/internal/workpool"
)

const (
	defaultSubjectPrefix = "dochub.tasks."
	defaultMaxAttempts   = 5

	headerTaskType = "Dochub-Task-Type"
	headerAttempt  = "Dochub-Attempt"
	headerError    = "Dochub-Error"

	drainTimeout = 30 * time.Second
)

// NATSQueue publishes tasks on per-type subjects and consumes them through queue groups,
// so each task reaches exactly one worker. Tasks that fail permanently, or run out of
// attempts, are parked on a dead-letter subject for inspection.
//
// Deliveries are handed to a handler pool when one is configured, so a subscription
// runs as many tasks at once as the pool allows. Retries wait out their backoff on a
// timer and are then re-published; nothing sleeps inside a subscription callback.
type NATSQueue struct {
	nc          *nats.Conn
	publish     func(*nats.Msg) error
	log         *slog.Logger
	handlers    *workpool.Pool
	prefix      string
	taskTimeout time.Duration
	retryBase   time.Duration
}

var _ Queue = (*NATSQueue)(nil)

// NATSOption configures a NATSQueue.
type NATSOption func(*NATSQueue)

// WithLogger sets the logger used for retry and dead-letter events.
func WithLogger(log *slog.Logger) NATSOption {
	return func(q *NATSQueue) { q.log = log }
}

// WithSubjectPrefix overrides the "dochub.tasks." subject prefix.
func WithSubjectPrefix(prefix string) NATSOption {
	return func(q *NATSQueue) { q.prefix = prefix }
}

// WithTaskTimeout bounds a single handler invocation. Zero disables the bound.
func WithTaskTimeout(d time.Duration) NATSOption {
	return func(q *NATSQueue) { q.taskTimeout = d }
}

// WithRetryBase sets the base delay of the exponential re-enqueue backoff.
func WithRetryBase(d time.Duration) NATSOption {
	return func(q *NATSQueue) { q.retryBase = d }
}

// WithHandlerPool runs deliveries on pool instead of the subscription goroutine.
func WithHandlerPool(pool *workpool.Pool) NATSOption {
	return func(q *NATSQueue) { q.handlers = pool }
}

// NewNATS constructs a queue on an established connection. The caller owns nc.
func NewNATS(nc *nats.Conn, opts ...NATSOption) *NATSQueue {
	q := &NATSQueue{
		nc:        nc,
		log:       slog.Default(),
		prefix:    defaultSubjectPrefix,
		retryBase: time.Second,
	}
	if nc != nil {
		q.publish = nc.PublishMsg
	}
	for _, opt := range opts {
		opt(q)
	}
	return q
}

func (q *NATSQueue) subject(t TaskType) string { return q.prefix + string(t) }

// DeadLetterSubject is where exhausted tasks of type t are parked.
func (q *NATSQueue) DeadLetterSubject(t TaskType) string { return q.prefix + "dead." + string(t) }

func (q *NATSQueue) Enqueue(ctx context.Context, task Task) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if task.Type == "" {
		return errors.New("task type required")
	}
	if task.ID == uuid.Nil {
		task.ID = uuid.New()
	}
	return q.send(q.subject(task.Type), task, nil)
}

func (q *NATSQueue) send(subject string, task Task, handlerErr error) error {
	body, err := json.Marshal(task)
	if err != nil {
		return err
	}
	msg := nats.NewMsg(subject)
	msg.Data = body
	msg.Header.Set(headerTaskType, string(task.Type))
	msg.Header.Set(headerAttempt, strconv.Itoa(task.Attempts))
	if handlerErr != nil {
		msg.Header.Set(headerError, handlerErr.Error())
	}
	return q.publish(msg)
}

// Worker consumes taskType until ctx is cancelled. On shutdown the subscription is
// drained, in-flight handlers finish, and pending retries are published at once so
// another worker picks them up.
func (q *NATSQueue) Worker(ctx context.Context, taskType TaskType, handler Handler) error {
	group := "workers-" + string(taskType)
	w := q.newConsumer(handler)
	sub, err := q.nc.QueueSubscribe(q.subject(taskType), group, func(msg *nats.Msg) {
		w.dispatch(ctx, msg.Data)
	})
	if err != nil {
		return err
	}
	q.log.Info("queue worker subscribed", "subject", q.subject(taskType), "group", group, "pooled", q.handlers != nil)
	<-ctx.Done()

	err = sub.Drain()
	deadline := time.Now().Add(drainTimeout)
	for sub.IsValid() && time.Now().Before(deadline) {
		time.Sleep(50 * time.Millisecond)
	}
	w.wait()
	return err
}

// consumer tracks the handlers and scheduled re-publishes of one subscription.
type consumer struct {
	q       *NATSQueue
	handler Handler
	wg      sync.WaitGroup
}

func (q *NATSQueue) newConsumer(handler Handler) *consumer {
	return &consumer{q: q, handler: handler}
}

func (w *consumer) wait() { w.wg.Wait() }

// dispatch hands one delivery to the handler pool, or runs it inline when there is no
// pool or the worker is shutting down. It blocks while the pool is saturated.
func (w *consumer) dispatch(ctx context.Context, data []byte) {
	w.wg.Add(1)
	run := func() {
		defer w.wg.Done()
		w.handle(ctx, data)
	}
	if w.q.handlers == nil || ctx.Err() != nil {
		run()
		return
	}
	if err := w.q.handlers.Go(run); err != nil {
		w.q.log.Warn("handler pool rejected task; running inline", "err", err)
		run()
	}
}

func (w *consumer) handle(ctx context.Context, data []byte) {
	q := w.q
	var task Task
	if err := json.Unmarshal(data, &task); err != nil {
		q.log.Error("failed to decode task", "err", err)
		return
	}

	// Flushed early by a stopping worker; wait out the rest of the backoff here.
	if wait := time.Until(task.NotBefore); wait > 0 {
		w.schedule(ctx, task, wait)
		return
	}

	// A started task finishes even if the worker is stopping.
	runCtx, cancel := context.WithoutCancel(ctx), context.CancelFunc(func() {})
	if q.taskTimeout > 0 {
		runCtx, cancel = context.WithTimeout(runCtx, q.taskTimeout)
	}
	err := w.handler(runCtx, task)
	cancel()
	if err == nil {
		return
	}
	if IsPermanent(err) {
		q.deadLetter(task, err)
		return
	}
	w.retryTask(ctx, task, err)
}

func (w *consumer) retryTask(ctx context.Context, task Task, handlerErr error) {
	q := w.q
	task.Attempts++
	if task.MaxAttempts == 0 {
		task.MaxAttempts = defaultMaxAttempts
	}
	if task.Attempts >= task.MaxAttempts {
		q.deadLetter(task, handlerErr)
		return
	}

	wait := retry.ExponentialBackoff(task.Attempts, q.retryBase)
	task.NotBefore = time.Now().Add(wait)
	q.log.Warn("task failed; retry scheduled", "id", task.ID, "type", task.Type, "attempt", task.Attempts, "in", wait, "err", handlerErr)
	w.schedule(ctx, task, wait)
}

// schedule re-publishes task after wait. Cancelling ctx publishes it immediately so the
// task outlives this worker; NotBefore keeps the remaining backoff.
func (w *consumer) schedule(ctx context.Context, task Task, wait time.Duration) {
	w.wg.Add(1)
	go func() {
		defer w.wg.Done()
		timer := time.NewTimer(wait)
		defer timer.Stop()
		select {
		case <-timer.C:
		case <-ctx.Done():
		}
		if err := w.q.Enqueue(context.WithoutCancel(ctx), task); err != nil {
			w.q.log.Error("failed to re-enqueue task", "id", task.ID, "type", task.Type, "err", err)
		}
	}()
}

func (q *NATSQueue) deadLetter(task Task, handlerErr error) {
	q.log.Error("task parked on dead-letter subject", "id", task.ID, "type", task.Type, "attempts", task.Attempts, "err", handlerErr)
	if err := q.send(q.DeadLetterSubject(task.Type), task, handlerErr); err != nil {
		q.log.Error("failed to publish dead letter", "id", task.ID, "err", err)
	}
}
