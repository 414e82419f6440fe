package graph

import (
	"context"

	"github.com/stretchr/testify/mock"
)

// MockGraph is a mock implementation of Store using testify/mock.
type MockGraph struct {
	mock.Mock
}

var _ Store = (*MockGraph)(nil)

func (m *MockGraph) UpsertNode(ctx context.Context, n Node) error {
	args := m.Called(ctx, n)
	return args.Error(0)
}

func (m *MockGraph) CreateEdge(ctx context.Context, e Edge) (Edge, error) {
	args := m.Called(ctx, e)
	return args.Get(0).(Edge), args.Error(1)
}

func (m *MockGraph) AllRelationships(ctx context.Context) (Snapshot, error) {
	args := m.Called(ctx)
	return args.Get(0).(Snapshot), args.Error(1)
}

func (m *MockGraph) RelatedDocuments(ctx context.Context, documentID string) ([]Related, error) {
	args := m.Called(ctx, documentID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]Related), args.Error(1)
}

func (m *MockGraph) Query(ctx context.Context, c Capability, raw string) ([]Row, error) {
	args := m.Called(ctx, c, raw)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]Row), args.Error(1)
}

func (m *MockGraph) Close() error {
	args := m.Called()
	return args.Error(0)
}
