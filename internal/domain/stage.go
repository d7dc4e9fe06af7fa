package domain

import "time"

// Stage is one execution of one logical stage within a Run (§3).
type Stage struct {
	RunID     string      `json:"run_id"`
	Name      StageName   `json:"stage_name"`
	Order     int         `json:"stage_order"`
	Status    StageStatus `json:"status"`
	JobID     string      `json:"job_id,omitempty"`

	StartedAt   *time.Time `json:"started_at,omitempty"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
	ExecutionMs int64      `json:"execution_time_ms"`

	InputCount  int `json:"input_count"`
	OutputCount int `json:"output_count"`

	TokensUsed       int     `json:"tokens_used"`
	APICallsMade     int     `json:"api_calls_made"`
	EstimatedCostUSD float64 `json:"estimated_cost_usd"`

	StageResults       map[string]any `json:"stage_results,omitempty"`
	PerformanceMetrics map[string]any `json:"performance_metrics,omitempty"`
	RetryHistory       []RetryAttempt `json:"retry_history,omitempty"`

	ErrorMessage string `json:"error_message,omitempty"`
}

// RetryAttempt records one retry issued by internal/retry against a stage attempt.
type RetryAttempt struct {
	Attempt int       `json:"attempt"`
	DelayMs int64     `json:"delay_ms"`
	Reason  string    `json:"reason"`
	At      time.Time `json:"at"`
}

// Validate enforces the Stage invariants from §3 (I8): completed_at >=
// started_at and a non-negative execution time.
func (s Stage) Validate() error {
	if s.StartedAt != nil && s.CompletedAt != nil && s.CompletedAt.Before(*s.StartedAt) {
		return NewFieldError("completed_at", "must not be before started_at")
	}
	if s.ExecutionMs < 0 {
		return NewFieldError("execution_time_ms", "must be non-negative")
	}
	if s.OutputCount < 0 {
		return NewFieldError("output_count", "must be non-negative")
	}
	return nil
}

// NewStage builds a pending Stage row for name within run.
func NewStage(runID string, name StageName) Stage {
	return Stage{
		RunID:  runID,
		Name:   name,
		Order:  name.Order(),
		Status: StageStatusPending,
	}
}
