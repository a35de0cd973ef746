package llm

import (
	"context"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/sells-group/cutting-params/internal/resilience"
)

// Policy is applied around every call of a guarded completer.
type Policy struct {
	// Limiter paces calls; shared by all completers of a process.
	Limiter *rate.Limiter
	// Timeout bounds each call.
	Timeout resilience.Timeout
	// Breaker rejects calls while the upstream is failing.
	Breaker *resilience.Breaker
}

type guarded struct {
	next   Completer
	policy Policy
}

// Guard wraps c with pacing, a per-call timeout, a circuit breaker and usage
// metering into the context's Meter. It never retries.
func Guard(c Completer, p Policy) Completer {
	return &guarded{next: c, policy: p}
}

func (g *guarded) Name() string { return g.next.Name() }

func (g *guarded) Complete(ctx context.Context, req Request) (*Response, error) {
	if g.policy.Limiter != nil {
		if err := g.policy.Limiter.Wait(ctx); err != nil {
			return nil, err
		}
	}

	resp, err := resilience.Guard(ctx, g.policy.Breaker, func(ctx context.Context) (*Response, error) {
		return resilience.Call(ctx, g.policy.Timeout, func(ctx context.Context) (*Response, error) {
			return g.next.Complete(ctx, req)
		})
	})
	if err != nil {
		zap.L().Warn("llm: call failed",
			zap.String("completer", g.next.Name()),
			zap.String("phase", req.Phase),
			zap.Bool("transient", resilience.IsTransient(err)),
			zap.Error(err),
		)
		return nil, err
	}

	if m := MeterFrom(ctx); m != nil {
		m.Add(resp.Usage)
	}
	return resp, nil
}
