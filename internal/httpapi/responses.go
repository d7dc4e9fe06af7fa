package httpapi

import "github.com/EnergySystemsGroup/Meridian-ESG-sub002/internal/domain"

// sourceSummary is GET /sources' list-item shape — trimmed relative to a
// full Source so the listing stays cheap (§6: "list of Source summaries").
type sourceSummary struct {
	ID            string    `json:"id"`
	Name          string    `json:"name"`
	Organization  string    `json:"organization"`
	Type          string    `json:"type"`
	Active        bool      `json:"active"`
	HandlerType   string    `json:"handler_type"`
	LastCheckedAt *string   `json:"last_checked_at,omitempty"`
}

func newSourceSummary(s domain.Source) sourceSummary {
	sum := sourceSummary{
		ID:           s.ID,
		Name:         s.Name,
		Organization: s.Organization,
		Type:         string(s.Type),
		Active:       s.Active,
		HandlerType:  string(s.HandlerType),
	}
	if s.LastCheckedAt != nil {
		formatted := s.LastCheckedAt.UTC().Format(timeLayout)
		sum.LastCheckedAt = &formatted
	}
	return sum
}

const timeLayout = "2006-01-02T15:04:05.000Z07:00"

// runDetail is GET /runs/{id}'s response (§6: "run detail including
// stages, paths, detection session").
type runDetail struct {
	Run              domain.Run                        `json:"run"`
	Stages           []domain.Stage                     `json:"stages"`
	Paths            []domain.OpportunityPath           `json:"paths"`
	DetectionSession *domain.DuplicateDetectionSession  `json:"detection_session,omitempty"`
}

// processErrorBody is §7's structured error body for a failed trigger:
// {status:"error", pipeline:"v2", error, failedStage, runId}.
type processErrorBody struct {
	Status      string `json:"status"`
	Pipeline    string `json:"pipeline"`
	Error       string `json:"error"`
	FailedStage string `json:"failedStage,omitempty"`
	RunID       string `json:"runId,omitempty"`
}

// processAcceptedBody is the 202 body returned when a run is enqueued
// (§6: "POST /sources/{id}/process — enqueue a run; 202 with run-id").
type processAcceptedBody struct {
	Status string `json:"status"`
	RunID  string `json:"run_id"`
}

// errorBody is the generic {"error": "..."} shape used for 4xx/5xx
// responses outside the process endpoints, matching pkg/api/handlers.go's
// gin.H{"error": ...} idiom.
type errorBody struct {
	Error string `json:"error"`
}
