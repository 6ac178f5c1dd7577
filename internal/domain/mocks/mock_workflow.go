// Package mocks holds testify mocks of the domain interfaces.
package mocks

import (
	"context"

	"github.com/stretchr/testify/mock"

	"taintaudit.dev/pkg/taintaudit/internal/domain"
	m "taintaudit.dev/pkg/taintaudit/internal/model"
)

// MockWorkflow is a mock implementation of domain.Workflow.
type MockWorkflow struct {
	mock.Mock
}

var _ domain.Workflow = (*MockWorkflow)(nil)

// NewMockWorkflow creates a MockWorkflow whose expectations are asserted when
// the test ends.
func NewMockWorkflow(t interface {
	mock.TestingT
	Cleanup(func())
}) *MockWorkflow {
	mw := &MockWorkflow{}
	mw.Mock.Test(t)

	t.Cleanup(func() { mw.AssertExpectations(t) })

	return mw
}

// Scan provides a mock function.
func (_m *MockWorkflow) Scan(ctx context.Context, args domain.ScanArgs) (m.Report, error) {
	ret := _m.Called(ctx, args)

	var report m.Report

	switch fn := ret.Get(0).(type) {
	case func(context.Context, domain.ScanArgs) m.Report:
		report = fn(ctx, args)
	case m.Report:
		report = fn
	}

	return report, ret.Error(1)
}

// View provides a mock function.
func (_m *MockWorkflow) View(ctx context.Context, args domain.ViewArgs) error {
	ret := _m.Called(ctx, args)

	return ret.Error(0)
}

// Rules provides a mock function.
func (_m *MockWorkflow) Rules(ctx context.Context, args domain.RulesArgs) error {
	ret := _m.Called(ctx, args)

	return ret.Error(0)
}
