package workpool

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"dochub/internal/logger"
)

func newPool(t *testing.T, size int) *Pool {
	t.Helper()
	p, err := New(size, WithLogger(logger.Discard()))
	require.NoError(t, err)
	t.Cleanup(func() { p.Release(0) })
	return p
}

func TestRunReturnsStageResult(t *testing.T) {
	p := newPool(t, 2)

	assert.NoError(t, p.Run(context.Background(), time.Second, func(context.Context) error { return nil }))

	boom := errors.New("boom")
	assert.ErrorIs(t, p.Run(context.Background(), time.Second, func(context.Context) error { return boom }), boom)
}

func TestRunTimesOut(t *testing.T) {
	p := newPool(t, 1)

	err := p.Run(context.Background(), 20*time.Millisecond, func(ctx context.Context) error {
		<-ctx.Done()
		return ctx.Err()
	})
	assert.ErrorIs(t, err, ErrStageTimeout)
}

func TestRunTimesOutWaitingForABusyWorker(t *testing.T) {
	p := newPool(t, 1)
	stuck := make(chan struct{})
	defer close(stuck)

	// A stage that ignores its context keeps the only worker busy.
	err := p.Run(context.Background(), 20*time.Millisecond, func(context.Context) error {
		<-stuck
		return nil
	})
	require.ErrorIs(t, err, ErrStageTimeout)

	start := time.Now()
	err = p.Run(context.Background(), 50*time.Millisecond, func(context.Context) error { return nil })
	assert.ErrorIs(t, err, ErrStageTimeout)
	assert.Less(t, time.Since(start), time.Second, "the deadline covers the wait for a worker")
}

func TestRunSucceedsOnceWorkerFrees(t *testing.T) {
	p := newPool(t, 1)
	release := make(chan struct{})

	go func() { _ = p.Run(context.Background(), time.Second, func(context.Context) error { <-release; return nil }) }()
	require.Eventually(t, func() bool { return p.Running() == 1 }, time.Second, 5*time.Millisecond)

	time.AfterFunc(20*time.Millisecond, func() { close(release) })
	assert.NoError(t, p.Run(context.Background(), time.Second, func(context.Context) error { return nil }))
}

func TestGoBlocksWhileSaturated(t *testing.T) {
	p := newPool(t, 1)
	release := make(chan struct{})
	require.NoError(t, p.Go(func() { <-release }))

	var ran atomic.Bool
	submitted := make(chan struct{})
	go func() {
		_ = p.Go(func() { ran.Store(true) })
		close(submitted)
	}()

	select {
	case <-submitted:
		t.Fatal("Go returned while the only worker was busy")
	case <-time.After(30 * time.Millisecond):
	}
	close(release)
	<-submitted
	assert.Eventually(t, ran.Load, time.Second, 5*time.Millisecond)
}

func TestRunParentCancellationIsNotATimeout(t *testing.T) {
	p := newPool(t, 1)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := p.Run(ctx, time.Second, func(ctx context.Context) error {
		<-ctx.Done()
		return ctx.Err()
	})
	assert.ErrorIs(t, err, context.Canceled)
}

func TestRunRecoversPanics(t *testing.T) {
	p := newPool(t, 1)
	err := p.Run(context.Background(), time.Second, func(context.Context) error { panic("bad image") })
	require.Error(t, err)
	assert.Contains(t, err.Error(), "bad image")
}

func TestRunBoundsConcurrency(t *testing.T) {
	const size = 2
	p := newPool(t, size)

	var (
		current, peak atomic.Int32
		wg            sync.WaitGroup
	)
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_ = p.Run(context.Background(), time.Second, func(context.Context) error {
				n := current.Add(1)
				for {
					old := peak.Load()
					if n <= old || peak.CompareAndSwap(old, n) {
						break
					}
				}
				time.Sleep(10 * time.Millisecond)
				current.Add(-1)
				return nil
			})
		}()
	}
	wg.Wait()
	assert.LessOrEqual(t, peak.Load(), int32(size))
	assert.Equal(t, size, p.Cap())
}

func TestDefaultSize(t *testing.T) {
	p := newPool(t, 0)
	assert.Greater(t, p.Cap(), 0)
}
