package domain

import (
	"strings"
	"time"
)

// RawOpportunity is the shape a DataExtractor produces for one record: a
// decoded response fragment plus the fields the rest of the pipeline needs
// to address it, before it has been matched against the canonical store.
type RawOpportunity struct {
	APIOpportunityID string `json:"api_opportunity_id"`
	Title            string `json:"title"`

	Description   *string    `json:"description,omitempty"`
	FundingType   *string    `json:"funding_type,omitempty"`
	Agency        *string    `json:"agency,omitempty"`
	TotalFunding  *float64   `json:"total_funding,omitempty"`
	MinAward      *float64   `json:"min_award,omitempty"`
	MaxAward      *float64   `json:"max_award,omitempty"`
	OpenDate      *time.Time `json:"open_date,omitempty"`
	CloseDate     *time.Time `json:"close_date,omitempty"`
	Eligibility   *string    `json:"eligibility,omitempty"`
	URL           *string    `json:"url,omitempty"`

	// Analysis is populated by the AnalysisAgent stage (scoring/categorization).
	Analysis map[string]any `json:"analysis,omitempty"`
}

// IsValidForDetection reports whether the record carries enough identity to
// be classified by EarlyDuplicateDetector (§4.6 step 1).
func (r RawOpportunity) IsValidForDetection() bool {
	return strings.TrimSpace(r.APIOpportunityID) != "" || strings.TrimSpace(r.Title) != ""
}

// NormalizedTitle lowercases and collapses whitespace, used for the
// secondary title-match lookup in §4.6 step 2.
func (r RawOpportunity) NormalizedTitle() string {
	return NormalizeTitle(r.Title)
}

// NormalizeTitle lowercases and collapses whitespace in s.
func NormalizeTitle(s string) string {
	fields := strings.Fields(strings.ToLower(s))
	return strings.Join(fields, " ")
}

// Opportunity is the normalized funding record stored in the canonical store.
type Opportunity struct {
	ID               string  `json:"id"`
	SourceID         string  `json:"source_id"`
	APIOpportunityID string  `json:"api_opportunity_id"`

	Title       string  `json:"title"`
	Description *string `json:"description,omitempty"`

	FundingType  *string  `json:"funding_type,omitempty"`
	Agency       *string  `json:"agency,omitempty"`
	MinAward     *float64 `json:"min_award,omitempty"`
	MaxAward     *float64 `json:"max_award,omitempty"`
	TotalFunding *float64 `json:"total_funding,omitempty"`

	OpenDate    *time.Time `json:"open_date,omitempty"`
	CloseDate   *time.Time `json:"close_date,omitempty"`
	Eligibility *string    `json:"eligibility,omitempty"`
	URL         *string    `json:"url,omitempty"`

	Analysis map[string]any `json:"analysis,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Validate enforces the Opportunity invariants from §3: non-negative award
// amounts and close_date >= open_date when both are present.
func (o Opportunity) Validate() error {
	if o.SourceID == "" {
		return NewFieldError("source_id", "required")
	}
	if o.APIOpportunityID == "" {
		return NewFieldError("api_opportunity_id", "required")
	}
	for name, v := range map[string]*float64{
		"min_award": o.MinAward, "max_award": o.MaxAward, "total_funding": o.TotalFunding,
	} {
		if v != nil && *v < 0 {
			return NewFieldError(name, "must be non-negative")
		}
	}
	if o.OpenDate != nil && o.CloseDate != nil && o.CloseDate.Before(*o.OpenDate) {
		return NewFieldError("close_date", "must not be before open_date")
	}
	return nil
}

// Fresh reports whether the opportunity was last updated within window of now.
func (o Opportunity) Fresh(now time.Time, window time.Duration) bool {
	return now.Sub(o.UpdatedAt) < window
}
