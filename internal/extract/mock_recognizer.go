package extract

import (
	"context"

	"github.com/stretchr/testify/mock"
)

// MockRecognizer is a mock implementation of Recognizer using testify/mock.
type MockRecognizer struct {
	mock.Mock
}

func (m *MockRecognizer) Recognize(ctx context.Context, png []byte) ([]Token, error) {
	args := m.Called(ctx, png)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]Token), args.Error(1)
}

func (m *MockRecognizer) Close() error {
	args := m.Called()
	return args.Error(0)
}
