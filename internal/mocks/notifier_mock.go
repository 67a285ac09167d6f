package mocks

import (
	"context"

	"serial-novel/internal/messaging"

	"github.com/stretchr/testify/mock"
)

// MockNotifier is a mock type for the messaging.Notifier type
type MockNotifier struct {
	mock.Mock
}

// Notify provides a mock function with given fields: ctx, payload
func (_m *MockNotifier) Notify(ctx context.Context, payload messaging.NotificationPayload) error {
	ret := _m.Called(ctx, payload)

	var r0 error
	if rf, ok := ret.Get(0).(func(context.Context, messaging.NotificationPayload) error); ok {
		r0 = rf(ctx, payload)
	} else {
		r0 = ret.Error(0)
	}
	return r0
}

// NewMockNotifier creates a new instance of MockNotifier. It also registers a testing interface on the mock and a cleanup function to assert the mocks expectations.
func NewMockNotifier(t interface {
	mock.TestingT
	Cleanup(func())
}) *MockNotifier {
	m := &MockNotifier{}
	m.Mock.Test(t)

	t.Cleanup(func() { m.AssertExpectations(t) })

	return m
}

var _ messaging.Notifier = (*MockNotifier)(nil)

// MockTaskPublisher is a mock type for the messaging.TaskPublisher type
type MockTaskPublisher struct {
	mock.Mock
}

// PublishTask provides a mock function with given fields: ctx, payload
func (_m *MockTaskPublisher) PublishTask(ctx context.Context, payload messaging.TaskPayload) error {
	return _m.Called(ctx, payload).Error(0)
}

// NewMockTaskPublisher creates a new instance of MockTaskPublisher.
func NewMockTaskPublisher(t interface {
	mock.TestingT
	Cleanup(func())
}) *MockTaskPublisher {
	m := &MockTaskPublisher{}
	m.Mock.Test(t)

	t.Cleanup(func() { m.AssertExpectations(t) })

	return m
}

var _ messaging.TaskPublisher = (*MockTaskPublisher)(nil)
