package pipeline

import (
	"context"
	"strings"

	"go.uber.org/zap"

	"github.com/sells-group/cutting-params/internal/llm"
)

const decomposeSystem = `Rewrite the user's machining query to be specific and clear so retrieval works well.
If the query asks for several parameters, split it into one query per parameter.

Instructions:
1. Identify the machining operation, the material, the tool and every requested parameter.
2. Write one self-contained query for EACH requested parameter, restating operation, material and tool.
3. Respond with JSON only: {"queries": ["...", "..."]}

Examples:
Original: "I wanna turn 1.4125 steel with D10, cutting speed?"
{"queries": ["What's the cutting speed for turning 1.4125 steel with D10 tool?"]}

Original: "I wanna turn 1.4125 steel with D10, cutting speed and feed rate?"
{"queries": ["What's the cutting speed for turning 1.4125 steel with D10 tool?", "What's the feed rate for turning 1.4125 steel with D10 tool?"]}`

type decomposition struct {
	Queries []string `json:"queries"`
}

// NormalizeQuery collapses runs of whitespace and trims the ends.
func NormalizeQuery(q string) string {
	return strings.Join(strings.Fields(q), " ")
}

// Decomposer splits a multi-parameter query into single-parameter
// sub-queries.
type Decomposer struct {
	llm llm.Completer
}

// NewDecomposer creates a Decomposer.
func NewDecomposer(c llm.Completer) *Decomposer {
	return &Decomposer{llm: c}
}

// Decompose returns the sub-queries of query in order. When the model fails
// or returns nothing usable, the normalized query is the only sub-query.
func (d *Decomposer) Decompose(ctx context.Context, query string) []string {
	fallback := []string{NormalizeQuery(query)}

	out, err := llm.CompleteJSON[decomposition](ctx, d.llm, llm.Request{
		System:      decomposeSystem,
		User:        query,
		MaxTokens:   512,
		CacheSystem: true,
		Phase:       "decompose",
	})
	if err != nil {
		zap.L().Warn("pipeline: decomposition failed, using original query", zap.Error(err))
		return fallback
	}

	subs := make([]string, 0, len(out.Queries))
	for _, q := range out.Queries {
		if q = NormalizeQuery(q); q != "" {
			subs = append(subs, q)
		}
	}
	if len(subs) == 0 {
		zap.L().Warn("pipeline: decomposition returned no queries, using original query")
		return fallback
	}
	return subs
}
