package model

import "time"

// JobStatus tracks a research job through its lifecycle. Queued and running
// jobs are "active"; succeeded and failed are terminal and never transition
// again.
type JobStatus string

const (
	JobStatusQueued    JobStatus = "queued"
	JobStatusRunning   JobStatus = "running"
	JobStatusSucceeded JobStatus = "succeeded"
	JobStatusFailed    JobStatus = "failed"
)

// Active reports whether the status counts against the one-active-job-per-
// entity invariant.
func (s JobStatus) Active() bool {
	return s == JobStatusQueued || s == JobStatusRunning
}

// Terminal reports whether the status permits no further transitions.
func (s JobStatus) Terminal() bool {
	return s == JobStatusSucceeded || s == JobStatusFailed
}

// ResearchJob is one unit of enrichment work for an entity. Jobs reference
// entities but do not own their lifecycle, and job history is append-only.
type ResearchJob struct {
	ID            string     `json:"id" db:"id"`
	EntityKind    Kind       `json:"entity_kind" db:"entity_kind"`
	EntityID      string     `json:"entity_id" db:"entity_id"`
	Status        JobStatus  `json:"status" db:"status"`
	CreatedAt     time.Time  `json:"created_at" db:"created_at"`
	StartedAt     *time.Time `json:"started_at,omitempty" db:"started_at"`
	CompletedAt   *time.Time `json:"completed_at,omitempty" db:"completed_at"`
	ResultSummary string     `json:"result_summary,omitempty" db:"result_summary"`
	ErrorMessage  string     `json:"error_message,omitempty" db:"error_message"`
}

// ResearchResult is the output of one research procedure call.
type ResearchResult struct {
	Summary      string  `json:"summary"`
	Notes        string  `json:"notes"`
	Confidence   float64 `json:"confidence,omitempty"`
	InputTokens  int64   `json:"input_tokens,omitempty"`
	OutputTokens int64   `json:"output_tokens,omitempty"`
}
