// Package workpool bounds the number of concurrent blocking stages (OCR, model calls)
// and enforces a per-stage deadline.
package workpool

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime"
	"time"

	"github.com/panjf2000/ants/v2"
	"golang.org/x/sync/semaphore"
)

// ErrStageTimeout is returned when a stage does not finish within its deadline.
var ErrStageTimeout = errors.New("stage timed out")

// Pool wraps an ants pool. A task holds one of size slots from submission until fn
// returns, so waiting for a worker happens on the slots, where a deadline can apply,
// and never inside ants.
type Pool struct {
	pool   *ants.Pool
	slots  *semaphore.Weighted
	logger *slog.Logger
}

// Option configures a Pool.
type Option func(*Pool)

// WithLogger sets a custom logger.
// Default is slog.Default().
func WithLogger(logger *slog.Logger) Option {
	return func(p *Pool) {
		if logger != nil {
			p.logger = logger
		}
	}
}

// New creates a pool of size workers; size <= 0 means runtime.NumCPU().
func New(size int, opts ...Option) (*Pool, error) {
	if size <= 0 {
		size = runtime.NumCPU()
	}
	p := &Pool{logger: slog.Default()}
	for _, opt := range opts {
		opt(p)
	}
	pool, err := ants.NewPool(size, ants.WithPanicHandler(func(v any) {
		p.logger.Error("worker panicked", "panic", v)
	}))
	if err != nil {
		return nil, err
	}
	p.pool = pool
	p.slots = semaphore.NewWeighted(int64(size))
	return p, nil
}

// Run executes fn on a pool worker and waits for it. The deadline covers time spent
// waiting for a free worker. On timeout fn's context is cancelled and ErrStageTimeout
// returned; fn may still be running and keeps its slot until it returns.
func (p *Pool) Run(ctx context.Context, timeout time.Duration, fn func(ctx context.Context) error) error {
	stageCtx, cancel := ctx, context.CancelFunc(func() {})
	if timeout > 0 {
		stageCtx, cancel = context.WithTimeout(ctx, timeout)
	}
	defer cancel()

	if err := p.slots.Acquire(stageCtx, 1); err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		p.logger.Warn("no free worker before stage deadline", "timeout", timeout, "busy", p.Running())
		return ErrStageTimeout
	}

	done := make(chan error, 1)
	err := p.submit(func() {
		defer func() {
			if r := recover(); r != nil {
				done <- fmt.Errorf("stage panicked: %v", r)
			}
		}()
		done <- fn(stageCtx)
	})
	if err != nil {
		return fmt.Errorf("submit stage: %w", err)
	}

	select {
	case err := <-done:
		if err != nil && ctx.Err() == nil && errors.Is(stageCtx.Err(), context.DeadlineExceeded) {
			return ErrStageTimeout
		}
		return err
	case <-stageCtx.Done():
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return ErrStageTimeout
	}
}

// Go submits fn without waiting for it to finish. It blocks while every worker is busy.
func (p *Pool) Go(fn func()) error {
	if err := p.slots.Acquire(context.Background(), 1); err != nil {
		return err
	}
	return p.submit(fn)
}

// submit hands fn to ants with a slot already held; the slot is released when fn returns.
func (p *Pool) submit(fn func()) error {
	err := p.pool.Submit(func() {
		defer p.slots.Release(1)
		fn()
	})
	if err != nil {
		p.slots.Release(1)
	}
	return err
}

// Running reports the number of busy workers.
func (p *Pool) Running() int {
	return p.pool.Running()
}

// Cap reports the pool size.
func (p *Pool) Cap() int {
	return p.pool.Cap()
}

// Release waits up to timeout for in-flight work, then frees the workers.
func (p *Pool) Release(timeout time.Duration) {
	if timeout <= 0 {
		p.pool.Release()
		return
	}
	if err := p.pool.ReleaseTimeout(timeout); err != nil {
		p.logger.Warn("worker pool release timed out", "err", err)
	}
}
