// Package llm provides provider-neutral structured completions used by every
// model-backed step of the advisor.
package llm

import (
	"context"
	"errors"
	"sync"

	"github.com/sells-group/cutting-params/internal/model"
)

// ErrInvalidResponse marks a completion that violated its output contract.
var ErrInvalidResponse = errors.New("invalid model response")

// Request is a single-turn completion.
type Request struct {
	System string
	User   string
	// MaxTokens caps output; zero uses the completer's default.
	MaxTokens int64
	// JSON asks the provider for a JSON object where it supports that natively.
	JSON bool
	// CacheSystem marks the system prompt as reusable across calls.
	CacheSystem bool
	// Phase labels the call in cost logs ("route", "relevance", ...).
	Phase string
}

// Response is the text and accounting of a completion.
type Response struct {
	Text  string
	Model string
	Usage model.Usage
}

// Completer runs one completion.
type Completer interface {
	Complete(ctx context.Context, req Request) (*Response, error)
	// Name identifies provider and model, e.g. "anthropic/claude-haiku-4-5".
	Name() string
}

// Meter accumulates usage across the calls of one run.
type Meter struct {
	mu    sync.Mutex
	usage model.Usage
}

// Add records a call's usage.
func (m *Meter) Add(u model.Usage) {
	m.mu.Lock()
	m.usage.Add(u)
	m.mu.Unlock()
}

// Usage returns the accumulated usage.
func (m *Meter) Usage() model.Usage {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.usage
}

type meterKey struct{}

// WithMeter attaches m to ctx so guarded completers record into it.
func WithMeter(ctx context.Context, m *Meter) context.Context {
	return context.WithValue(ctx, meterKey{}, m)
}

// MeterFrom returns the meter attached to ctx, or nil.
func MeterFrom(ctx context.Context) *Meter {
	m, _ := ctx.Value(meterKey{}).(*Meter)
	return m
}
