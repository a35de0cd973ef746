// Package mocks provides test doubles for the llm package.
package mocks

import (
	"context"

	mock "github.com/stretchr/testify/mock"

	llm "github.com/sells-group/cutting-params/internal/llm"
)

// Completer is a mock type for the llm.Completer interface.
type Completer struct {
	mock.Mock
	ID string
}

// Complete provides a mock function with given fields: ctx, req
func (_m *Completer) Complete(ctx context.Context, req llm.Request) (*llm.Response, error) {
	ret := _m.Called(ctx, req)

	if len(ret) == 0 {
		panic("no return value specified for Complete")
	}

	var r0 *llm.Response
	var r1 error
	if rf, ok := ret.Get(0).(func(context.Context, llm.Request) (*llm.Response, error)); ok {
		return rf(ctx, req)
	}
	if rf, ok := ret.Get(0).(func(context.Context, llm.Request) *llm.Response); ok {
		r0 = rf(ctx, req)
	} else if ret.Get(0) != nil {
		r0 = ret.Get(0).(*llm.Response)
	}

	if rf, ok := ret.Get(1).(func(context.Context, llm.Request) error); ok {
		r1 = rf(ctx, req)
	} else {
		r1 = ret.Error(1)
	}

	return r0, r1
}

// Name returns ID, or "mock" when unset. It is not recorded as a call.
func (_m *Completer) Name() string {
	if _m.ID != "" {
		return _m.ID
	}
	return "mock"
}

// Reply builds a response carrying text, for use with Return.
func Reply(text string) *llm.Response {
	return &llm.Response{Text: text, Model: "mock"}
}

// NewCompleter creates a new Completer and registers a cleanup that asserts
// the mock expectations.
func NewCompleter(t interface {
	mock.TestingT
	Cleanup(func())
}) *Completer {
	m := &Completer{}
	m.Mock.Test(t)

	t.Cleanup(func() { m.AssertExpectations(t) })

	return m
}
