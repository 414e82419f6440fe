package pipeline

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"dochub/internal/logger"
	"dochub/internal/queue"
	"dochub/internal/store"
	"dochub/internal/summarize"
	"dochub/internal/workpool"
)

func TestQueueDispatcher(t *testing.T) {
	id := uuid.New()

	tests := []struct {
		name     string
		dispatch func(d *QueueDispatcher) error
		setup    func(*queue.MockQueue)
		wantType queue.TaskType
		wantSum  string
		wantErr  bool
	}{
		{
			name:     "process",
			dispatch: func(d *QueueDispatcher) error { return d.DispatchProcess(context.Background(), id) },
			setup: func(m *queue.MockQueue) {
				m.On("Enqueue", mock.Anything, mock.Anything).Return(nil).Once()
			},
			wantType: queue.TaskTypeProcess,
		},
		{
			name: "summarize",
			dispatch: func(d *QueueDispatcher) error {
				return d.DispatchSummarize(context.Background(), id, summarize.Extractive)
			},
			setup: func(m *queue.MockQueue) {
				m.On("Enqueue", mock.Anything, mock.Anything).Return(nil).Once()
			},
			wantType: queue.TaskTypeSummarize,
			wantSum:  "extractive",
		},
		{
			name:     "retries then fails",
			dispatch: func(d *QueueDispatcher) error { return d.DispatchProcess(context.Background(), id) },
			setup: func(m *queue.MockQueue) {
				m.On("Enqueue", mock.Anything, mock.Anything).Return(errors.New("no responders")).Times(3)
			},
			wantType: queue.TaskTypeProcess,
			wantErr:  true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			q := new(queue.MockQueue)
			tt.setup(q)

			err := tt.dispatch(NewQueueDispatcher(q))
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				require.NoError(t, err)
			}
			q.AssertExpectations(t)

			task := q.Calls[0].Arguments.Get(1).(queue.Task)
			assert.Equal(t, tt.wantType, task.Type)
			p, err := queue.DecodeDocumentPayload(task)
			require.NoError(t, err)
			assert.Equal(t, id, p.DocumentID)
			assert.Equal(t, tt.wantSum, p.SummaryType)
		})
	}
}

func TestInlineDispatcher(t *testing.T) {
	h := newHarness(t, false)
	pool, err := workpool.New(2)
	require.NoError(t, err)
	t.Cleanup(func() { pool.Release(time.Second) })

	doc := h.upload(t, "a.txt", "text/plain", "compliance audit notes", nil)
	d := NewInlineDispatcher(h.orch, pool, logger.Discard())
	require.NoError(t, d.DispatchProcess(context.Background(), doc.ID))

	require.Eventually(t, func() bool {
		got, err := h.store.GetDocument(context.Background(), doc.ID)
		return err == nil && got.State == store.StateCompleted
	}, 5*time.Second, 20*time.Millisecond)

	require.NoError(t, d.DispatchSummarize(context.Background(), doc.ID, summarize.Extractive))
	require.Eventually(t, func() bool {
		_, err := h.store.GetSummary(context.Background(), doc.ID, string(summarize.Extractive))
		return err == nil
	}, 5*time.Second, 20*time.Millisecond)
}

func TestTaskHandler(t *testing.T) {
	h := newHarness(t, false)
	handle := TaskHandler(h.orch)
	ctx := context.Background()

	doc := h.upload(t, "a.txt", "text/plain", "budget", nil)
	task, err := queue.NewDocumentTask(queue.TaskTypeProcess, doc.ID, "")
	require.NoError(t, err)
	require.NoError(t, handle(ctx, task))

	// A redelivered process task hits a terminal document.
	err = handle(ctx, task)
	assert.True(t, queue.IsPermanent(err))

	missing, err := queue.NewDocumentTask(queue.TaskTypeSummarize, uuid.New(), "")
	require.NoError(t, err)
	assert.True(t, queue.IsPermanent(handle(ctx, missing)))

	bad := queue.Task{Type: queue.TaskTypeProcess, Payload: []byte("{")}
	assert.True(t, queue.IsPermanent(handle(ctx, bad)))

	unknown, err := queue.NewDocumentTask(queue.TaskType("index"), doc.ID, "")
	require.NoError(t, err)
	assert.True(t, queue.IsPermanent(handle(ctx, unknown)))
}

func TestClassifyTaskError(t *testing.T) {
	id := uuid.New()
	tests := []struct {
		name      string
		err       error
		permanent bool
	}{
		{"nil", nil, false},
		{"precondition", &PreconditionError{Op: "summarize", DocumentID: id, Err: ErrNotCompleted}, true},
		{"extract stage", &StageError{Stage: "extract", DocumentID: id, Err: workpool.ErrStageTimeout}, true},
		{"summarize stage", &StageError{Stage: "summarize", DocumentID: id, Err: workpool.ErrStageTimeout}, false},
		{"not found", store.ErrDocumentNotFound, true},
		{"transient", errors.New("connection reset"), false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := classifyTaskError(tt.err)
			assert.Equal(t, tt.permanent, queue.IsPermanent(err))
			if tt.err == nil {
				assert.NoError(t, err)
			}
		})
	}
}
