package domain

import "time"

// PipelineVersion tags the coordinator algorithm version recorded on every Run.
const PipelineVersion = "v2"

// Run is one end-to-end invocation of the coordinator for one Source.
type Run struct {
	ID       string    `json:"id"`
	SourceID string    `json:"source_id"`
	Pipeline string    `json:"pipeline_version"`
	Status   RunStatus `json:"status"`

	// OwnerID identifies the worker process instance that claimed this run.
	// It is recorded only: cleanupOrphanedRuns selects orphans by status and
	// LastHeartbeatAt, not by owner.
	OwnerID string `json:"owner_id,omitempty"`

	StartedAt         time.Time  `json:"started_at"`
	CompletedAt       *time.Time `json:"completed_at,omitempty"`
	LastHeartbeatAt   time.Time  `json:"last_heartbeat_at"`
	TotalExecutionMs  int64      `json:"total_execution_time_ms"`

	ConfigSnapshot map[string]any `json:"configuration_snapshot,omitempty"`

	Totals RunTotals `json:"totals"`

	OpportunitiesPerMinute    float64 `json:"opportunities_per_minute"`
	TokensPerOpportunity      float64 `json:"tokens_per_opportunity"`
	CostPerOpportunityUSD     float64 `json:"cost_per_opportunity_usd"`
	SuccessRatePercentage     float64 `json:"success_rate_percentage"`
	SLACompliancePercentage   float64 `json:"sla_compliance_percentage"`
	SLAGrade                  string  `json:"sla_grade"`

	FailureBreakdown map[string]int `json:"failure_breakdown,omitempty"`

	ConcurrentProcessingDetected bool `json:"concurrent_processing_detected"`

	FinalResults map[string]any `json:"final_results,omitempty"`
	ErrorDetails *ClassifiedError `json:"error_details,omitempty"`
}

// RunTotals holds the monotonic counters accumulated over the lifetime of a run.
type RunTotals struct {
	OpportunitiesProcessed int     `json:"opportunities_processed"`
	TokensUsed             int     `json:"tokens_used"`
	APICalls               int     `json:"api_calls"`
	OpportunitiesBypassedLLM int   `json:"opportunities_bypassed_llm"`
	EstimatedCostUSD       float64 `json:"estimated_cost_usd"`
}

// IsTerminal reports whether the run has reached a terminal status.
func (r Run) IsTerminal() bool {
	return r.Status.IsTerminal()
}

// NewRun builds a Run in the "started" state for sourceID, stamped at now.
func NewRun(id, sourceID, ownerID string, now time.Time, configSnapshot map[string]any) Run {
	return Run{
		ID:              id,
		SourceID:        sourceID,
		Pipeline:        PipelineVersion,
		Status:          RunStatusStarted,
		OwnerID:         ownerID,
		StartedAt:       now,
		LastHeartbeatAt: now,
		ConfigSnapshot:  configSnapshot,
		FailureBreakdown: map[string]int{},
	}
}
