package domain

// OpportunityPath is the analytics record for one extracted opportunity's
// journey through a run (§3).
type OpportunityPath struct {
	RunID            string   `json:"run_id"`
	APIOpportunityID string   `json:"api_opportunity_id"`
	Title            string   `json:"title"`
	SourceID         string   `json:"source_id"`

	PathType   PathType `json:"path_type"`
	PathReason string   `json:"path_reason"`

	StagesProcessed []StageName  `json:"stages_processed"`
	FinalOutcome    FinalOutcome `json:"final_outcome"`

	TokensUsed      int     `json:"tokens_used"`
	ProcessingMs    int64   `json:"processing_time_ms"`
	CostUSD         float64 `json:"cost_usd"`

	DuplicateDetected        bool     `json:"duplicate_detected"`
	ExistingOpportunityID    *string  `json:"existing_opportunity_id,omitempty"`
	ChangesDetected          []string `json:"changes_detected,omitempty"`
	DuplicateDetectionMethod string   `json:"duplicate_detection_method,omitempty"`

	QualityScore float64 `json:"quality_score,omitempty"`
}

// Validate enforces I6: the final outcome must be in the set allowed for
// the path type.
func (p OpportunityPath) Validate() error {
	if !p.PathType.OutcomeAllowed(p.FinalOutcome) {
		return NewFieldError("final_outcome",
			"outcome %q is not allowed for path type %q", p.FinalOutcome, p.PathType)
	}
	return nil
}
