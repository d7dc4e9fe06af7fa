// Package contracts declares the Go interfaces C8's coordinator drives
// through a source's 8-stage pipeline (C10, §4.10). None of these have a
// concrete implementation here: source analysis, data extraction, LLM
// enhancement, filtering, and storage are external collaborators supplied by
// the deployment, the same way tarsy treats its LLM client and MCP tool
// servers as injected collaborators behind small interfaces
// (pkg/agent/orchestrator.go, pkg/llm/client.go).
package contracts

import (
	"context"
	"time"

	"github.com/EnergySystemsGroup/Meridian-ESG-sub002/internal/domain"
)

// AnalysisResult is SourceAnalyzer.Analyze's output (§4.10).
type AnalysisResult struct {
	Endpoint      string
	Workflow      string
	Confidence    float64
	TokensUsed    int
	APICalls      int
	ExecutionTime time.Duration
}

// SourceAnalyzer inspects a source's configuration/endpoint and decides how
// it should be queried. It never mutates source.
type SourceAnalyzer interface {
	Analyze(ctx context.Context, source domain.Source) (AnalysisResult, error)
}

// ExtractionMetrics is part of DataExtractor.Extract's output.
type ExtractionMetrics struct {
	TotalFound    int
	TotalRetrieved int
	APICalls      int
	TotalTokens   int
	ExecutionTime time.Duration
}

// ExtractionResult is DataExtractor.Extract's output (§4.10).
type ExtractionResult struct {
	Opportunities  []domain.RawOpportunity
	RawResponseID  string // empty when the source has no raw-response capture
	Metrics        ExtractionMetrics
}

// DataExtractor fetches raw opportunities from a source, handling pagination
// and detail fan-out per the source's configuration, and maps each one to a
// RawOpportunity keyed by APIOpportunityID.
type DataExtractor interface {
	Extract(ctx context.Context, source domain.Source, analysis AnalysisResult) (ExtractionResult, error)
}

// AnalysisMetrics is part of AnalysisAgent.Enhance's output.
type AnalysisMetrics struct {
	TotalTokens   int
	TotalAPICalls int
	ExecutionTime time.Duration
}

// EnhanceResult is AnalysisAgent.Enhance's output (§4.10).
type EnhanceResult struct {
	Opportunities []domain.Opportunity
	Metrics       AnalysisMetrics
}

// AnalysisAgent enriches newly-discovered opportunities (e.g. LLM scoring).
// Output order must match input order.
type AnalysisAgent interface {
	Enhance(ctx context.Context, newOpportunities []domain.Opportunity, source domain.Source) (EnhanceResult, error)
}

// FilterMetrics is part of FilterFunction.Filter's output.
type FilterMetrics struct {
	ExecutionTime time.Duration
	Included      int
	Excluded      int
}

// FilterResult is FilterFunction.Filter's output (§4.10).
type FilterResult struct {
	Included []domain.Opportunity
	Metrics  FilterMetrics
}

// FilterFunction is a deterministic, pure predicate-and-project step over
// enhanced opportunities.
type FilterFunction interface {
	Filter(ctx context.Context, enhanced []domain.Opportunity) (FilterResult, error)
}

// StorageMetrics is part of StorageAgent.Store's output.
type StorageMetrics struct {
	NewOpportunities int
	Updated          int
	Failed           int
	ExecutionTime    time.Duration
}

// StoreResult is StorageAgent.Store's output (§4.10).
type StoreResult struct {
	Metrics StorageMetrics
}

// StorageAgent persists included opportunities. Storing the same
// APIOpportunityID again within a short window must be a no-op
// (idempotency, §4.10).
type StorageAgent interface {
	Store(ctx context.Context, included []domain.Opportunity, source domain.Source, forceFullReprocessing bool) (StoreResult, error)
}

// Datastore is the full relational/key-value contract the coordinator and
// its sibling components (C3-C7, C9) drive: CRUD plus optimistic-concurrency
// updates over every persisted entity in §4 and the advisory-lock primitive
// backing C3. Concrete implementations live in internal/storage.
type Datastore interface {
	GetSource(ctx context.Context, id string) (domain.Source, error)
	ListActiveSources(ctx context.Context) ([]domain.Source, error)
	UpdateSourceLastChecked(ctx context.Context, id string, at time.Time) error

	GetSourceConfiguration(ctx context.Context, sourceID string) (domain.SourceConfiguration, error)

	FindOpportunitiesByAPIID(ctx context.Context, sourceID string, apiOpportunityIDs []string) (map[string]domain.Opportunity, error)
	FindOpportunitiesByNormalizedTitle(ctx context.Context, sourceID string, normalizedTitles []string) (map[string]domain.Opportunity, error)
	UpsertOpportunity(ctx context.Context, opp domain.Opportunity) error

	// UpdateOpportunityFields applies a conditional, partial update to an
	// existing opportunity (C7, §4.7): only fields are written, updated_at is
	// stamped to now, and the write is rejected with ErrConcurrentModification
	// if the row's updated_at no longer matches expectedUpdatedAt.
	UpdateOpportunityFields(ctx context.Context, opportunityID string, fields map[string]any, expectedUpdatedAt time.Time) error

	CreateRun(ctx context.Context, run domain.Run) error
	GetRun(ctx context.Context, id string) (domain.Run, error)
	UpdateRun(ctx context.Context, run domain.Run, expectedStatus domain.RunStatus) error
	ListOrphanedRuns(ctx context.Context, heartbeatOlderThan time.Time) ([]domain.Run, error)

	UpsertStage(ctx context.Context, stage domain.Stage) error
	GetStage(ctx context.Context, runID string, name domain.StageName) (domain.Stage, error)

	RecordOpportunityPath(ctx context.Context, path domain.OpportunityPath) error
	RecordDuplicateDetectionSession(ctx context.Context, session domain.DuplicateDetectionSession) error

	SaveRawResponse(ctx context.Context, runID string, sourceID string, payload []byte) (string, error)
	GetRawResponse(ctx context.Context, id string) ([]byte, error)
}
