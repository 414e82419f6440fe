package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"dochub/internal/retry"
)

// TaskType enumerates supported task categories.
type TaskType string

const (
	TaskTypeProcess   TaskType = "process"
	TaskTypeSummarize TaskType = "summarize"
)

// Task represents a unit of work handed from the gateway to workers.
type Task struct {
	ID          uuid.UUID
	Type        TaskType
	Payload     []byte
	Attempts    int
	MaxAttempts int
	NotBefore   time.Time
}

// DocumentPayload is the body of process and summarize tasks.
type DocumentPayload struct {
	DocumentID  uuid.UUID `json:"document_id"`
	SummaryType string    `json:"summary_type,omitempty"`
}

// NewDocumentTask builds a task addressed at one document.
func NewDocumentTask(taskType TaskType, docID uuid.UUID, summaryType string) (Task, error) {
	body, err := json.Marshal(DocumentPayload{DocumentID: docID, SummaryType: summaryType})
	if err != nil {
		return Task{}, err
	}
	return Task{ID: uuid.New(), Type: taskType, Payload: body, MaxAttempts: 3}, nil
}

// DecodeDocumentPayload reads the payload written by NewDocumentTask.
func DecodeDocumentPayload(task Task) (DocumentPayload, error) {
	var p DocumentPayload
	if err := json.Unmarshal(task.Payload, &p); err != nil {
		return DocumentPayload{}, Permanent(fmt.Errorf("decode payload: %w", err))
	}
	if p.DocumentID == uuid.Nil {
		return DocumentPayload{}, Permanent(errors.New("payload missing document_id"))
	}
	return p, nil
}

// Handler processes one task. Returning an error re-enqueues the task unless it is Permanent.
type Handler func(context.Context, Task) error

// Queue exposes a minimal contract to enqueue and consume tasks.
type Queue interface {
	Enqueue(ctx context.Context, task Task) error
	Worker(ctx context.Context, taskType TaskType, handler Handler) error
}

type permanentError struct {
	err error
}

func (e *permanentError) Error() string { return e.err.Error() }
func (e *permanentError) Unwrap() error { return e.err }

// Permanent marks err as not worth retrying.
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return &permanentError{err: err}
}

// IsPermanent reports whether err was marked with Permanent.
func IsPermanent(err error) bool {
	var p *permanentError
	return errors.As(err, &p)
}

// EnqueueWithRetry attempts to enqueue with retries and exponential backoff.
func EnqueueWithRetry(ctx context.Context, q Queue, task Task, attempts int, base time.Duration) error {
	return retry.Do(ctx, attempts, base, func(ctx context.Context) error {
		return q.Enqueue(ctx, task)
	})
}
