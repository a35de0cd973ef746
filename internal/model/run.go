package model

import "time"

// RunStatus is the lifecycle state of a recorded query run.
type RunStatus string

const (
	RunStatusRunning  RunStatus = "running"
	RunStatusComplete RunStatus = "complete"
	RunStatusFailed   RunStatus = "failed"
)

// Run is a persisted query run.
type Run struct {
	ID        string       `json:"id"`
	Query     string       `json:"query"`
	Status    RunStatus    `json:"status"`
	Result    *QueryResult `json:"result,omitempty"`
	Error     string       `json:"error,omitempty"`
	CreatedAt time.Time    `json:"created_at"`
	UpdatedAt time.Time    `json:"updated_at"`
}

// RunFilter narrows ListRuns.
type RunFilter struct {
	Status RunStatus
	Limit  int
	Offset int
}
