package llm

import (
	"context"
	"sync"

	"github.com/stretchr/testify/mock"

	"github.com/sells-group/cutting-params/pkg/anthropic"
)

type mockAnthropicClient struct {
	mock.Mock
}

func (m *mockAnthropicClient) CreateMessage(ctx context.Context, req anthropic.MessageRequest) (*anthropic.MessageResponse, error) {
	args := m.Called(ctx, req)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*anthropic.MessageResponse), args.Error(1)
}

// scriptedCompleter returns canned replies in order and counts calls.
type scriptedCompleter struct {
	mu      sync.Mutex
	name    string
	replies []string
	errs    []error
	calls   int
	reqs    []Request
}

func (s *scriptedCompleter) Name() string { return s.name }

func (s *scriptedCompleter) Complete(ctx context.Context, req Request) (*Response, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	i := s.calls
	s.calls++
	s.reqs = append(s.reqs, req)
	if i < len(s.errs) && s.errs[i] != nil {
		return nil, s.errs[i]
	}
	text := ""
	if i < len(s.replies) {
		text = s.replies[i]
	}
	return &Response{Text: text, Model: s.name}, nil
}
