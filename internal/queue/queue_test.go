package queue

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

func TestDocumentTaskRoundTrip(t *testing.T) {
	id := uuid.New()
	task, err := NewDocumentTask(TaskTypeSummarize, id, "abstractive")
	require.NoError(t, err)
	assert.Equal(t, TaskTypeSummarize, task.Type)
	assert.NotEqual(t, uuid.Nil, task.ID)

	p, err := DecodeDocumentPayload(task)
	require.NoError(t, err)
	assert.Equal(t, id, p.DocumentID)
	assert.Equal(t, "abstractive", p.SummaryType)
}

func TestDecodeDocumentPayloadRejectsGarbage(t *testing.T) {
	_, err := DecodeDocumentPayload(Task{Payload: []byte("{")})
	assert.True(t, IsPermanent(err))

	_, err = DecodeDocumentPayload(Task{Payload: []byte(`{}`)})
	assert.True(t, IsPermanent(err))
}

func TestPermanent(t *testing.T) {
	base := errors.New("stored file unreadable")
	wrapped := fmt.Errorf("process: %w", Permanent(base))

	assert.True(t, IsPermanent(wrapped))
	assert.ErrorIs(t, wrapped, base)
	assert.False(t, IsPermanent(base))
	assert.NoError(t, Permanent(nil))
}

func TestEnqueueWithRetry(t *testing.T) {
	task := Task{Type: TaskTypeProcess}

	q := new(MockQueue)
	q.On("Enqueue", mock.Anything, task).Return(errors.New("no responders")).Twice()
	q.On("Enqueue", mock.Anything, task).Return(nil).Once()

	err := EnqueueWithRetry(context.Background(), q, task, 3, time.Millisecond)
	require.NoError(t, err)
	q.AssertNumberOfCalls(t, "Enqueue", 3)
}

func TestEnqueueWithRetryGivesUp(t *testing.T) {
	task := Task{Type: TaskTypeProcess}
	q := new(MockQueue)
	q.On("Enqueue", mock.Anything, task).Return(errors.New("no responders"))

	err := EnqueueWithRetry(context.Background(), q, task, 2, time.Millisecond)
	assert.EqualError(t, err, "no responders")
	q.AssertNumberOfCalls(t, "Enqueue", 2)
}
