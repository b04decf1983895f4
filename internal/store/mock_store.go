package store

import (
	"context"

	"github.com/stretchr/testify/mock"
)

// MockStore is a mock implementation of Store using testify/mock.
type MockStore struct {
	mock.Mock
}

func (m *MockStore) GetQuestion(ctx context.Context, id string) (Question, error) {
	args := m.Called(ctx, id)
	return args.Get(0).(Question), args.Error(1)
}

func (m *MockStore) GetKeyPoints(ctx context.Context, id string) ([]KeyPoint, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]KeyPoint), args.Error(1)
}

func (m *MockStore) ListQuestions(ctx context.Context) ([]Question, error) {
	args := m.Called(ctx)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]Question), args.Error(1)
}

func (m *MockStore) SaveQuestion(ctx context.Context, q Question) error {
	args := m.Called(ctx, q)
	return args.Error(0)
}
