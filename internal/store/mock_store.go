package store

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/mock"
)

// MockStore is a mock implementation of Store using testify/mock.
type MockStore struct {
	mock.Mock
}

var _ Store = (*MockStore)(nil)

func (m *MockStore) CreateDocument(ctx context.Context, doc NewDocument) (Document, error) {
	args := m.Called(ctx, doc)
	return args.Get(0).(Document), args.Error(1)
}

func (m *MockStore) GetDocument(ctx context.Context, id uuid.UUID) (Document, error) {
	args := m.Called(ctx, id)
	return args.Get(0).(Document), args.Error(1)
}

func (m *MockStore) ListDocuments(ctx context.Context, offset, limit int) ([]Document, error) {
	args := m.Called(ctx, offset, limit)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]Document), args.Error(1)
}

func (m *MockStore) SearchDocuments(ctx context.Context, query string, limit int) ([]Document, error) {
	args := m.Called(ctx, query, limit)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]Document), args.Error(1)
}

func (m *MockStore) GetDocumentsByIDs(ctx context.Context, ids []uuid.UUID) ([]Document, error) {
	args := m.Called(ctx, ids)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]Document), args.Error(1)
}

func (m *MockStore) CountByState(ctx context.Context) (map[State]int, error) {
	args := m.Called(ctx)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(map[State]int), args.Error(1)
}

func (m *MockStore) ClaimDocument(ctx context.Context, id uuid.UUID) (Document, error) {
	args := m.Called(ctx, id)
	return args.Get(0).(Document), args.Error(1)
}

func (m *MockStore) CompleteExtraction(ctx context.Context, id uuid.UUID, ext Extraction) (Document, error) {
	args := m.Called(ctx, id, ext)
	return args.Get(0).(Document), args.Error(1)
}

func (m *MockStore) FailDocument(ctx context.Context, id uuid.UUID, reason string) error {
	args := m.Called(ctx, id, reason)
	return args.Error(0)
}

func (m *MockStore) RequeueDocument(ctx context.Context, id uuid.UUID, staleAfter time.Duration) (Document, error) {
	args := m.Called(ctx, id, staleAfter)
	return args.Get(0).(Document), args.Error(1)
}

func (m *MockStore) GetSummary(ctx context.Context, docID uuid.UUID, summaryType string) (Summary, error) {
	args := m.Called(ctx, docID, summaryType)
	return args.Get(0).(Summary), args.Error(1)
}

func (m *MockStore) CreateSummaryIfAbsent(ctx context.Context, sum Summary) (Summary, bool, error) {
	args := m.Called(ctx, sum)
	return args.Get(0).(Summary), args.Bool(1), args.Error(2)
}

func (m *MockStore) UpsertUser(ctx context.Context, u User) (User, error) {
	args := m.Called(ctx, u)
	return args.Get(0).(User), args.Error(1)
}

func (m *MockStore) GetUser(ctx context.Context, id uuid.UUID) (User, error) {
	args := m.Called(ctx, id)
	return args.Get(0).(User), args.Error(1)
}

func (m *MockStore) Close() error {
	args := m.Called()
	return args.Error(0)
}
