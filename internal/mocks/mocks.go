// File: internal/mocks/mocks.go
package mocks

import (
	"context"
	"time"

	"github.com/stretchr/testify/mock"

	"github.com/probelight/specdriver/api/schemas"
)

// -- Reasoning Oracle Mock --

// MockReasoningOracle mocks the schemas.ReasoningOracle interface.
type MockReasoningOracle struct {
	mock.Mock
}

func (m *MockReasoningOracle) Interpret(ctx context.Context, req schemas.InterpretRequest) (*schemas.ExecutionPlan, error) {
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	default:
	}
	args := m.Called(ctx, req)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*schemas.ExecutionPlan), args.Error(1)
}

// -- Vision Oracle Mock --

// MockVisionOracle mocks the schemas.VisionOracle interface.
type MockVisionOracle struct {
	mock.Mock
}

func (m *MockVisionOracle) Resolve(ctx context.Context, req schemas.ResolveRequest) (*schemas.Resolution, error) {
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	default:
	}
	args := m.Called(ctx, req)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*schemas.Resolution), args.Error(1)
}

// -- Session Mock --

// MockSession implements the schemas.Session interface for testing.
type MockSession struct {
	mock.Mock
}

func (m *MockSession) Navigate(ctx context.Context, url string) error {
	return m.Called(ctx, url).Error(0)
}
func (m *MockSession) Exists(ctx context.Context, selector string) (bool, error) {
	args := m.Called(ctx, selector)
	return args.Bool(0), args.Error(1)
}
func (m *MockSession) Click(ctx context.Context, selector string) error {
	return m.Called(ctx, selector).Error(0)
}
func (m *MockSession) ClickDOM(ctx context.Context, selector string) error {
	return m.Called(ctx, selector).Error(0)
}
func (m *MockSession) Fill(ctx context.Context, selector, value string) error {
	return m.Called(ctx, selector, value).Error(0)
}
func (m *MockSession) FillDOM(ctx context.Context, selector, value string) error {
	return m.Called(ctx, selector, value).Error(0)
}
func (m *MockSession) SelectOption(ctx context.Context, selector, value string) error {
	return m.Called(ctx, selector, value).Error(0)
}
func (m *MockSession) Hover(ctx context.Context, selector string) error {
	return m.Called(ctx, selector).Error(0)
}
func (m *MockSession) Scroll(ctx context.Context, direction string) error {
	return m.Called(ctx, direction).Error(0)
}
func (m *MockSession) Text(ctx context.Context, selector string) (string, error) {
	args := m.Called(ctx, selector)
	return args.String(0), args.Error(1)
}
func (m *MockSession) ContainsText(ctx context.Context, needle string) (bool, error) {
	args := m.Called(ctx, needle)
	return args.Bool(0), args.Error(1)
}
func (m *MockSession) Screenshot(ctx context.Context) ([]byte, error) {
	args := m.Called(ctx)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]byte), args.Error(1)
}
func (m *MockSession) DOM(ctx context.Context) (string, error) {
	args := m.Called(ctx)
	return args.String(0), args.Error(1)
}
func (m *MockSession) Evaluate(ctx context.Context, expr string, out any) error {
	return m.Called(ctx, expr, out).Error(0)
}
func (m *MockSession) WaitQuiescence(ctx context.Context, bound time.Duration) error {
	return m.Called(ctx, bound).Error(0)
}
func (m *MockSession) PageErrors() []schemas.PageError {
	args := m.Called()
	if args.Get(0) == nil {
		return nil
	}
	return args.Get(0).([]schemas.PageError)
}
func (m *MockSession) Close(ctx context.Context) error { return m.Called(ctx).Error(0) }

// -- Store Mock --

// MockStore mocks the schemas.Store interface.
type MockStore struct {
	mock.Mock
}

func (m *MockStore) SaveReport(ctx context.Context, report *schemas.RunReport) error {
	return m.Called(ctx, report).Error(0)
}
