package model

import (
	"fmt"
	"time"
)

// Usage aggregates model consumption for a run.
type Usage struct {
	Calls        int     `json:"calls"`
	InputTokens  int64   `json:"input_tokens"`
	OutputTokens int64   `json:"output_tokens"`
	CostUSD      float64 `json:"cost_usd"`
}

// Add accumulates other into u.
func (u *Usage) Add(other Usage) {
	u.Calls += other.Calls
	u.InputTokens += other.InputTokens
	u.OutputTokens += other.OutputTokens
	u.CostUSD += other.CostUSD
}

// Evidence records what the parameter route found for a sub-query.
type Evidence struct {
	Material         string  `json:"material,omitempty"`
	MaterialScore    float64 `json:"material_score,omitempty"`
	MaterialDoc      bool    `json:"material_doc"`
	ChunksConsidered int     `json:"chunks_considered"`
	ChunksKept       int     `json:"chunks_kept"`
	// Warnings explain evidence that was expected but unavailable.
	Warnings []string `json:"warnings,omitempty"`
}

// Warn records a missing-evidence warning and returns it.
func (e *Evidence) Warn(format string, args ...any) string {
	msg := fmt.Sprintf(format, args...)
	e.Warnings = append(e.Warnings, msg)
	return msg
}

// SubQueryResult is the outcome of one sub-query. A failure is recorded here
// and never propagated to sibling sub-queries.
type SubQueryResult struct {
	SubQuery   string                `json:"sub_query"`
	Route      Route                 `json:"route"`
	Answer     *RecommendationAnswer `json:"answer,omitempty"`
	Message    string                `json:"message,omitempty"`
	Successful bool                  `json:"successful"`
	Error      string                `json:"error,omitempty"`
	Evidence   *Evidence             `json:"evidence,omitempty"`
}

// QueryResult is the outcome of a full query run.
type QueryResult struct {
	RunID      string           `json:"run_id,omitempty"`
	Query      string           `json:"query"`
	SubQueries []string         `json:"sub_queries"`
	Results    []SubQueryResult `json:"results"`
	Usage      Usage            `json:"usage"`
	StartedAt  time.Time        `json:"started_at"`
	Duration   time.Duration    `json:"duration_ns"`
}

// Succeeded returns the number of successful sub-query results.
func (q *QueryResult) Succeeded() int {
	n := 0
	for _, r := range q.Results {
		if r.Successful {
			n++
		}
	}
	return n
}
