// Package relevance prunes retrieved tool chunks with a two-evaluator
// cascade: a chunk the primary evaluator accepts is kept at once, and a
// rejected chunk gets a second opinion from an independent evaluator.
package relevance

import (
	"context"
	"fmt"
	"strings"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/sells-group/cutting-params/internal/llm"
	"github.com/sells-group/cutting-params/internal/model"
)

const rubric = `As a manufacturing expert, your task is to evaluate if a reference matches a user's query about machining tools.

Evaluation rules:
1. Focus ONLY on three elements in the query:
   - Tool name (for example HM Carbide, D10, D20, D60, Cermet, PKD/PCD)
   - Machining operation (turning, milling, drilling, ...)
   - Questioned parameters (cutting speed, feed rate, ...)
2. IGNORE every material or metal specification in the query.

Example:
Query: "What's the cutting speed for turning ABC-1234 steel with D10?"
- Tool: D10
- Operation: turning
- Questioned parameter: cutting speed
- Material ABC-1234: ignored

Decide whether the reference contains information that helps answer the query for that tool and operation.
Respond with JSON only: {"thought": "<one short sentence>", "judge": "relevant" | "not relevant"}`

// Stage names the evaluator whose verdict decided a chunk.
type Stage string

const (
	StagePrimary   Stage = "primary"
	StageSecondary Stage = "secondary"
)

// Decision records how one chunk was judged.
type Decision struct {
	Index     int                     `json:"index"`
	Accepted  bool                    `json:"accepted"`
	DecidedBy Stage                   `json:"decided_by"`
	Primary   *model.RelevanceVerdict `json:"primary,omitempty"`
	Secondary *model.RelevanceVerdict `json:"secondary,omitempty"`
	Errors    []string                `json:"errors,omitempty"`
}

type verdict model.RelevanceVerdict

func (v *verdict) Validate() error {
	v.Judge = strings.ToLower(strings.TrimSpace(v.Judge))
	switch v.Judge {
	case model.JudgeRelevant, model.JudgeNotRelevant:
		return nil
	}
	return eris.Errorf("judge must be %q or %q, got %q", model.JudgeRelevant, model.JudgeNotRelevant, v.Judge)
}

// Filter runs the cascade. Primary and secondary should differ in model,
// and ideally in provider, so that their misses are uncorrelated.
type Filter struct {
	primary     llm.Completer
	secondary   llm.Completer
	concurrency int
}

// New creates a Filter judging up to concurrency chunks at a time.
func New(primary, secondary llm.Completer, concurrency int) *Filter {
	if concurrency < 1 {
		concurrency = 1
	}
	return &Filter{primary: primary, secondary: secondary, concurrency: concurrency}
}

// Filter returns the accepted chunks in their original order, with one
// decision per input chunk. Evaluator failures never surface a chunk: a
// failed primary escalates, and a failed secondary rejects.
func (f *Filter) Filter(ctx context.Context, query string, chunks []string) ([]string, []Decision) {
	decisions := make([]Decision, len(chunks))

	g := new(errgroup.Group)
	g.SetLimit(f.concurrency)
	for i, chunk := range chunks {
		g.Go(func() error {
			decisions[i] = f.judge(ctx, i, query, chunk)
			return nil
		})
	}
	_ = g.Wait()

	var kept []string
	for i, d := range decisions {
		if d.Accepted {
			kept = append(kept, chunks[i])
		}
	}
	zap.L().Info("relevance: chunks filtered",
		zap.Int("considered", len(chunks)),
		zap.Int("kept", len(kept)),
	)
	return kept, decisions
}

func (f *Filter) judge(ctx context.Context, index int, query, chunk string) Decision {
	d := Decision{Index: index, DecidedBy: StagePrimary}

	v, err := f.evaluate(ctx, f.primary, query, chunk)
	if err != nil {
		d.Errors = append(d.Errors, fmt.Sprintf("primary: %v", err))
	} else {
		d.Primary = &v
		if v.Relevant() {
			d.Accepted = true
			return d
		}
	}

	d.DecidedBy = StageSecondary
	v, err = f.evaluate(ctx, f.secondary, query, chunk)
	if err != nil {
		d.Errors = append(d.Errors, fmt.Sprintf("secondary: %v", err))
		zap.L().Warn("relevance: chunk rejected, evaluators failed",
			zap.Int("chunk", index),
			zap.Strings("errors", d.Errors),
		)
		return d
	}
	d.Secondary = &v
	d.Accepted = v.Relevant()
	zap.L().Debug("relevance: escalated",
		zap.Int("chunk", index),
		zap.Bool("accepted", d.Accepted),
		zap.String("thought", v.Thought),
	)
	return d
}

func (f *Filter) evaluate(ctx context.Context, c llm.Completer, query, chunk string) (model.RelevanceVerdict, error) {
	if c == nil {
		return model.RelevanceVerdict{}, eris.New("relevance: evaluator not configured")
	}
	v, err := llm.CompleteJSON[verdict](ctx, c, llm.Request{
		System:      rubric,
		User:        fmt.Sprintf("Query: %s\nReference: %s", query, chunk),
		MaxTokens:   256,
		CacheSystem: true,
		Phase:       "relevance",
	})
	if err != nil {
		return model.RelevanceVerdict{}, err
	}
	return model.RelevanceVerdict(v), nil
}
