package domain

// DetectionMatchMethod records how an existing opportunity was located
// during duplicate detection.
type DetectionMatchMethod string

const (
	MatchMethodID         DetectionMatchMethod = "id"
	MatchMethodTitle      DetectionMatchMethod = "title"
	MatchMethodNone       DetectionMatchMethod = "none"
)

// DuplicateDetectionSession is the analytics record for one invocation of
// EarlyDuplicateDetector within a run (§3).
type DuplicateDetectionSession struct {
	RunID    string `json:"run_id"`
	SourceID string `json:"source_id"`

	TotalOpportunitiesChecked int `json:"total_opportunities_checked"`
	NewOpportunities          int `json:"new_opportunities"`
	DuplicatesToUpdate        int `json:"duplicates_to_update"`
	DuplicatesToSkip          int `json:"duplicates_to_skip"`
	ValidationFailures        int `json:"validation_failures"`

	DetectionTimeMs      int64 `json:"detection_time_ms"`
	DatabaseQueriesMade  int   `json:"database_queries_made"`

	IDMatches          int `json:"id_matches"`
	TitleMatches       int `json:"title_matches"`
	FreshnessSkips     int `json:"freshness_skips"`
}

// LLMProcessingBypassed is opportunities_bypassed_llm fixed to update+skip
// per the Open Questions resolution in §9.
func (d DuplicateDetectionSession) LLMProcessingBypassed() int {
	return d.DuplicatesToUpdate + d.DuplicatesToSkip
}

// Validate enforces I7: total_checked == new + update + skip + validation_failures.
func (d DuplicateDetectionSession) Validate() error {
	sum := d.NewOpportunities + d.DuplicatesToUpdate + d.DuplicatesToSkip + d.ValidationFailures
	if sum != d.TotalOpportunitiesChecked {
		return NewFieldError("total_opportunities_checked",
			"must equal new(%d)+update(%d)+skip(%d)+validation_failures(%d), got %d",
			d.NewOpportunities, d.DuplicatesToUpdate, d.DuplicatesToSkip, d.ValidationFailures, d.TotalOpportunitiesChecked)
	}
	return nil
}
