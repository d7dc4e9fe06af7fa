// Package domain holds the canonical record types shared across the
// ingestion coordinator: sources, their configuration bundles, canonical
// opportunities, and the run/stage/path analytics records that track one
// pass of the pipeline.
package domain

// SourceType classifies the organization that publishes a Source's API.
type SourceType string

const (
	SourceTypeFederal  SourceType = "federal"
	SourceTypeState    SourceType = "state"
	SourceTypeLocal    SourceType = "local"
	SourceTypeUtility  SourceType = "utility"
	SourceTypePrivate  SourceType = "private"
	SourceTypeNonprofit SourceType = "nonprofit"
)

// IsValid reports whether t is one of the recognized source types.
func (t SourceType) IsValid() bool {
	switch t {
	case SourceTypeFederal, SourceTypeState, SourceTypeLocal, SourceTypeUtility, SourceTypePrivate, SourceTypeNonprofit:
		return true
	default:
		return false
	}
}

// HandlerType selects which extraction strategy a Source's DataExtractor uses.
type HandlerType string

const (
	HandlerTypeStandard    HandlerType = "standard"
	HandlerTypeDocument    HandlerType = "document"
	HandlerTypeStatePortal HandlerType = "state_portal"
)

// IsValid reports whether h is one of the recognized handler types.
func (h HandlerType) IsValid() bool {
	switch h {
	case HandlerTypeStandard, HandlerTypeDocument, HandlerTypeStatePortal:
		return true
	default:
		return false
	}
}

// AuthType selects the shape of a Source's AuthDescriptor.
type AuthType string

const (
	AuthTypeNone   AuthType = "none"
	AuthTypeAPIKey AuthType = "apikey"
	AuthTypeBasic  AuthType = "basic"
	AuthTypeBearer AuthType = "bearer"
)

// IsValid reports whether a is one of the recognized auth types.
func (a AuthType) IsValid() bool {
	switch a {
	case AuthTypeNone, AuthTypeAPIKey, AuthTypeBasic, AuthTypeBearer:
		return true
	default:
		return false
	}
}

// APIKeyLocation selects where an api-key auth credential is placed on the request.
type APIKeyLocation string

const (
	APIKeyLocationHeader APIKeyLocation = "header"
	APIKeyLocationQuery  APIKeyLocation = "query"
)

// IsValid reports whether l is a recognized API key placement.
func (l APIKeyLocation) IsValid() bool {
	return l == APIKeyLocationHeader || l == APIKeyLocationQuery
}

// HTTPMethod is the request method used for a fetch or detail call.
type HTTPMethod string

const (
	MethodGET    HTTPMethod = "GET"
	MethodPOST   HTTPMethod = "POST"
	MethodPUT    HTTPMethod = "PUT"
	MethodDELETE HTTPMethod = "DELETE"
)

// IsValid reports whether m is a recognized HTTP method.
func (m HTTPMethod) IsValid() bool {
	switch m {
	case MethodGET, MethodPOST, MethodPUT, MethodDELETE:
		return true
	default:
		return false
	}
}

// PaginationType selects how SourceConfiguration advances through pages.
type PaginationType string

const (
	PaginationTypeOffset PaginationType = "offset"
	PaginationTypePage   PaginationType = "page"
	PaginationTypeCursor PaginationType = "cursor"
)

// IsValid reports whether p is a recognized pagination type.
func (p PaginationType) IsValid() bool {
	switch p {
	case PaginationTypeOffset, PaginationTypePage, PaginationTypeCursor:
		return true
	default:
		return false
	}
}

// ParamPlacement selects whether a pagination parameter goes in the query
// string or the request body.
type ParamPlacement string

const (
	ParamPlacementQuery ParamPlacement = "query"
	ParamPlacementBody  ParamPlacement = "body"
)

// IsValid reports whether p is a recognized parameter placement.
func (p ParamPlacement) IsValid() bool {
	return p == ParamPlacementQuery || p == ParamPlacementBody
}

// CanonicalField is one of the normalized Opportunity fields a response
// mapping entry may target.
type CanonicalField string

const (
	FieldTitle         CanonicalField = "title"
	FieldDescription   CanonicalField = "description"
	FieldFundingType   CanonicalField = "fundingType"
	FieldAgency        CanonicalField = "agency"
	FieldTotalFunding  CanonicalField = "totalFunding"
	FieldMinAward      CanonicalField = "minAward"
	FieldMaxAward      CanonicalField = "maxAward"
	FieldOpenDate      CanonicalField = "openDate"
	FieldCloseDate     CanonicalField = "closeDate"
	FieldEligibility   CanonicalField = "eligibility"
	FieldURL           CanonicalField = "url"
)

// IsValid reports whether f is a recognized canonical field.
func (f CanonicalField) IsValid() bool {
	switch f {
	case FieldTitle, FieldDescription, FieldFundingType, FieldAgency, FieldTotalFunding,
		FieldMinAward, FieldMaxAward, FieldOpenDate, FieldCloseDate, FieldEligibility, FieldURL:
		return true
	default:
		return false
	}
}

// RunStatus is the lifecycle status of a Run.
type RunStatus string

const (
	RunStatusStarted    RunStatus = "started"
	RunStatusProcessing RunStatus = "processing"
	RunStatusCompleted  RunStatus = "completed"
	RunStatusFailed     RunStatus = "failed"
)

// IsTerminal reports whether s is a terminal run status.
func (s RunStatus) IsTerminal() bool {
	return s == RunStatusCompleted || s == RunStatusFailed
}

// StageName is one of the fixed logical stages a Run walks through, in order.
type StageName string

const (
	StageSourceOrchestrator   StageName = "source_orchestrator"
	StageAPIFetch             StageName = "api_fetch"
	StageDataExtraction       StageName = "data_extraction"
	StageEarlyDuplicateDetector StageName = "early_duplicate_detector"
	StageAnalysis             StageName = "analysis"
	StageFilter               StageName = "filter"
	StageStorage              StageName = "storage"
	StageDirectUpdate         StageName = "direct_update"
)

// Order returns the fixed stage_order for a given stage name, matching §3.
func (s StageName) Order() int {
	switch s {
	case StageSourceOrchestrator:
		return 1
	case StageAPIFetch:
		return 2
	case StageDataExtraction:
		return 3
	case StageEarlyDuplicateDetector:
		return 4
	case StageAnalysis:
		return 5
	case StageFilter:
		return 6
	case StageStorage:
		return 7
	case StageDirectUpdate:
		return 8
	default:
		return 0
	}
}

// StageStatus is the lifecycle status of a single Stage row.
type StageStatus string

const (
	StageStatusPending    StageStatus = "pending"
	StageStatusProcessing StageStatus = "processing"
	StageStatusCompleted  StageStatus = "completed"
	StageStatusFailed     StageStatus = "failed"
	StageStatusSkipped    StageStatus = "skipped"
)

// IsTerminal reports whether s is a terminal stage status.
func (s StageStatus) IsTerminal() bool {
	return s == StageStatusCompleted || s == StageStatusFailed || s == StageStatusSkipped
}

// PathType is the classification EarlyDuplicateDetector assigns to one opportunity.
type PathType string

const (
	PathTypeNew    PathType = "NEW"
	PathTypeUpdate PathType = "UPDATE"
	PathTypeSkip   PathType = "SKIP"
)

// FinalOutcome is the terminal disposition recorded for an OpportunityPath.
type FinalOutcome string

const (
	OutcomeStored      FinalOutcome = "stored"
	OutcomeUpdated     FinalOutcome = "updated"
	OutcomeSkipped     FinalOutcome = "skipped"
	OutcomeFilteredOut FinalOutcome = "filtered_out"
	OutcomeFailed      FinalOutcome = "failed"
)

// AllowedOutcomes returns the set of final outcomes permitted for a path type (§3, I6).
func (p PathType) AllowedOutcomes() []FinalOutcome {
	switch p {
	case PathTypeNew:
		return []FinalOutcome{OutcomeStored, OutcomeFilteredOut, OutcomeFailed}
	case PathTypeUpdate:
		return []FinalOutcome{OutcomeUpdated, OutcomeFailed}
	case PathTypeSkip:
		return []FinalOutcome{OutcomeSkipped}
	default:
		return nil
	}
}

// OutcomeAllowed reports whether outcome is a valid terminus for p (I6).
func (p PathType) OutcomeAllowed(outcome FinalOutcome) bool {
	for _, o := range p.AllowedOutcomes() {
		if o == outcome {
			return true
		}
	}
	return false
}
