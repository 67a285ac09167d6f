package mocks

import (
	"context"

	"serial-novel/internal/repository"

	"github.com/stretchr/testify/mock"
)

// MockTaskRepository is a mock type for the repository.TaskRepository type
type MockTaskRepository struct {
	mock.Mock
}

// Save provides a mock function with given fields: ctx, rec
func (_m *MockTaskRepository) Save(ctx context.Context, rec *repository.TaskRecord) error {
	ret := _m.Called(ctx, rec)

	var r0 error
	if rf, ok := ret.Get(0).(func(context.Context, *repository.TaskRecord) error); ok {
		r0 = rf(ctx, rec)
	} else {
		r0 = ret.Error(0)
	}
	return r0
}

// ListByStory provides a mock function with given fields: ctx, title, limit
func (_m *MockTaskRepository) ListByStory(ctx context.Context, title string, limit int) ([]*repository.TaskRecord, error) {
	ret := _m.Called(ctx, title, limit)

	var r0 []*repository.TaskRecord
	if v := ret.Get(0); v != nil {
		r0 = v.([]*repository.TaskRecord)
	}
	return r0, ret.Error(1)
}

// NewMockTaskRepository creates a new instance of MockTaskRepository. It also registers a testing interface on the mock and a cleanup function to assert the mocks expectations.
func NewMockTaskRepository(t interface {
	mock.TestingT
	Cleanup(func())
}) *MockTaskRepository {
	m := &MockTaskRepository{}
	m.Mock.Test(t)

	t.Cleanup(func() { m.AssertExpectations(t) })

	return m
}

var _ repository.TaskRepository = (*MockTaskRepository)(nil)
