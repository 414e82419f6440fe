// Package store is the document record store: documents, summaries and users.
// It is the single writer of a document's processing state.
package store

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"

	"dochub/internal/blob"
)

type State string

const (
	StatePending    State = "pending"
	StateProcessing State = "processing"
	StateCompleted  State = "completed"
	StateFailed     State = "failed"
)

var (
	ErrDocumentNotFound = errors.New("document not found")
	ErrSummaryNotFound  = errors.New("summary not found")
	ErrUserNotFound     = errors.New("user not found")
	ErrAlreadyClaimed   = errors.New("document is not pending")
	ErrNotProcessing    = errors.New("document is not processing")
	ErrNotRequeueable   = errors.New("document is not in a terminal or stale state")
)

// Document is the record of one upload. ExtractedText and Confidence are non-nil
// exactly when State is completed.
type Document struct {
	ID               uuid.UUID
	OriginalFilename string
	Blob             blob.Ref
	Size             int64
	MIMEType         string
	Title            string
	CategoryHint     string
	Department       string
	OwnerID          uuid.NullUUID
	ExtractedText    *string
	Confidence       *float64
	Language         string
	Category         string
	Priority         string
	State            State
	Attempt          int
	FailureReason    string
	CreatedAt        time.Time
	UpdatedAt        time.Time
}

// NewDocument carries what the upload handler knows before processing.
type NewDocument struct {
	OriginalFilename string
	Blob             blob.Ref
	Size             int64
	MIMEType         string
	Title            string
	CategoryHint     string
	Department       string
	OwnerID          uuid.NullUUID
}

// Extraction is persisted atomically with the completed state.
type Extraction struct {
	Text       string
	Confidence float64
	Language   string
	Category   string
	Priority   string
	// Attempt, when set, must match the claimed attempt so a reclaimed run cannot
	// overwrite its successor.
	Attempt int
}

type Summary struct {
	ID         string
	DocumentID uuid.UUID
	Text       string
	Type       string
	Language   string
	Confidence float64
	CreatedAt  time.Time
}

type User struct {
	ID         uuid.UUID
	Name       string
	Role       string
	Department string
	CreatedAt  time.Time
}

// Store defines the persistence contract shared by the Postgres and SQLite backends.
type Store interface {
	CreateDocument(ctx context.Context, doc NewDocument) (Document, error)
	GetDocument(ctx context.Context, id uuid.UUID) (Document, error)
	ListDocuments(ctx context.Context, offset, limit int) ([]Document, error)
	SearchDocuments(ctx context.Context, query string, limit int) ([]Document, error)
	GetDocumentsByIDs(ctx context.Context, ids []uuid.UUID) ([]Document, error)
	CountByState(ctx context.Context) (map[State]int, error)

	// ClaimDocument moves a pending document to processing. Only one caller wins.
	ClaimDocument(ctx context.Context, id uuid.UUID) (Document, error)
	CompleteExtraction(ctx context.Context, id uuid.UUID, ext Extraction) (Document, error)
	FailDocument(ctx context.Context, id uuid.UUID, reason string) error
	// RequeueDocument moves a failed or completed document back to pending for a new
	// attempt and drops its summaries. A document stuck in processing for longer than
	// staleAfter is reclaimed the same way; staleAfter <= 0 never reclaims.
	RequeueDocument(ctx context.Context, id uuid.UUID, staleAfter time.Duration) (Document, error)

	GetSummary(ctx context.Context, docID uuid.UUID, summaryType string) (Summary, error)
	// CreateSummaryIfAbsent inserts sum unless one already exists for its (document, type)
	// and returns the stored row either way.
	CreateSummaryIfAbsent(ctx context.Context, sum Summary) (Summary, bool, error)

	UpsertUser(ctx context.Context, u User) (User, error)
	GetUser(ctx context.Context, id uuid.UUID) (User, error)

	Close() error
}
