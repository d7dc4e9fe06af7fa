// Package coordinator implements StageOrchestrator (C8, §4.8): the
// processSource algorithm that drives one source through the fixed 8-stage
// pipeline, wiring together C1-C7, C9, and C10's external collaborators.
package coordinator

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/EnergySystemsGroup/Meridian-ESG-sub002/internal/classify"
	"github.com/EnergySystemsGroup/Meridian-ESG-sub002/internal/contracts"
	"github.com/EnergySystemsGroup/Meridian-ESG-sub002/internal/directupdate"
	"github.com/EnergySystemsGroup/Meridian-ESG-sub002/internal/domain"
	"github.com/EnergySystemsGroup/Meridian-ESG-sub002/internal/duplicate"
	"github.com/EnergySystemsGroup/Meridian-ESG-sub002/internal/forceflag"
	"github.com/EnergySystemsGroup/Meridian-ESG-sub002/internal/lock"
	"github.com/EnergySystemsGroup/Meridian-ESG-sub002/internal/retry"
	"github.com/EnergySystemsGroup/Meridian-ESG-sub002/internal/runmanager"
	"github.com/google/uuid"
)

// Options customizes one processSource invocation (§4.8 step 1).
type Options struct {
	OptimizationEnabled      bool
	EarlyDuplicateDetection  bool
	MetricsCollection        bool
}

// Result is processSource's return value. When a stage fails after the run
// has started, Err is a *domain.ClassifiedError and FailedStage names where
// it occurred; the coordinator never panics or propagates the raw stage
// error to callers (§4.8 step 16). A failure loading the source or its
// configuration, or starting the run, comes back as a plain wrapped error
// with no RunID or FailedStage.
type Result struct {
	RunID                    string
	Status                   domain.RunStatus
	ConcurrentProcessingDetected bool
	TotalOpportunitiesProcessed int
	FailedStage              domain.StageName
	Err                      error
}

// Locker is the subset of *lock.Manager the coordinator needs (C3, §4.3),
// narrowed to an interface so tests can exercise lock contention without a
// real Postgres connection.
type Locker interface {
	TryAcquire(ctx context.Context, sourceID string) (acquired bool, l *lock.Lock, err error)
	Release(ctx context.Context, l *lock.Lock) error
}

// Coordinator wires C1-C7, C9, and the external collaborators (C10) into
// the fixed pipeline.
type Coordinator struct {
	store     contracts.Datastore
	locks     Locker
	flags     *forceflag.Flag
	runs      *runmanager.Manager
	detector  *duplicate.Detector
	direct    *directupdate.Handler

	analyzer  contracts.SourceAnalyzer
	extractor contracts.DataExtractor
	analysis  contracts.AnalysisAgent
	filter    contracts.FilterFunction
	storage   contracts.StorageAgent

	log *slog.Logger
}

// New builds a Coordinator from its component dependencies.
func New(
	store contracts.Datastore,
	locks Locker,
	flags *forceflag.Flag,
	runs *runmanager.Manager,
	detector *duplicate.Detector,
	direct *directupdate.Handler,
	analyzer contracts.SourceAnalyzer,
	extractor contracts.DataExtractor,
	analysis contracts.AnalysisAgent,
	filter contracts.FilterFunction,
	storage contracts.StorageAgent,
	log *slog.Logger,
) *Coordinator {
	if log == nil {
		log = slog.Default()
	}
	return &Coordinator{
		store: store, locks: locks, flags: flags, runs: runs, detector: detector, direct: direct,
		analyzer: analyzer, extractor: extractor, analysis: analysis, filter: filter, storage: storage,
		log: log,
	}
}

// ProcessSource runs §4.8's algorithm end to end for sourceID. runID, if
// non-empty, is injected for idempotent resume; otherwise one is generated.
func (c *Coordinator) ProcessSource(ctx context.Context, sourceID, runID string, opts Options) Result {
	started := time.Now()

	source, err := c.store.GetSource(ctx, sourceID)
	if err != nil {
		return Result{Status: domain.RunStatusFailed, Err: fmt.Errorf("storage error loading source: %w", err)}
	}

	acquired, heldLock, lockErr := c.locks.TryAcquire(ctx, sourceID)
	concurrentDetected := !acquired
	if lockErr != nil {
		c.log.Warn("lock subsystem unreachable, proceeding without exclusivity", "source_id", sourceID, "error", lockErr)
		concurrentDetected = true
	}
	defer func() {
		if acquired {
			if err := c.locks.Release(ctx, heldLock); err != nil {
				c.log.Warn("failed to release source lock", "source_id", sourceID, "error", err)
			}
		}
	}()

	config, err := c.store.GetSourceConfiguration(ctx, sourceID)
	if err != nil {
		return Result{Status: domain.RunStatusFailed, Err: fmt.Errorf("storage error loading source configuration: %w", err)}
	}

	forceFlag, err := c.flags.ShouldForceFullProcessing(ctx, sourceID)
	if err != nil {
		c.log.Warn("failed to read force-reprocessing flag, defaulting to false", "source_id", sourceID, "error", err)
	}

	runID, err = c.runs.StartRun(ctx, runID, sourceID, uuid.New().String(), map[string]any{
		"pipeline_version":             domain.PipelineVersion,
		"optimization_enabled":         opts.OptimizationEnabled,
		"early_duplicate_detection":    opts.EarlyDuplicateDetection,
		"metrics_collection":           opts.MetricsCollection,
		"force_full_reprocessing_used": forceFlag,
	})
	if err != nil {
		return Result{Status: domain.RunStatusFailed, Err: fmt.Errorf("failed to start run: %w", err)}
	}

	if concurrentDetected {
		if err := c.runs.SetConcurrentProcessingDetected(ctx, runID, true); err != nil {
			c.log.Warn("failed to stamp concurrent-processing flag", "run_id", runID, "error", err)
		}
	}

	rm := c.runs.ForRun(runID)
	run := &runState{
		runID: runID, sourceID: sourceID, source: source, config: config,
		forceFlag: forceFlag, concurrentDetected: concurrentDetected,
	}

	if err := c.runPipeline(ctx, run, rm); err != nil {
		classified := asClassified(err, run.failedStage)
		if recordErr := rm.RecordStageFailure(ctx, run.failedStage, 1, classified, time.Since(started)); recordErr != nil {
			c.log.Error("failed to record stage failure", "run_id", runID, "error", recordErr)
		}
		if err := c.runs.FailRun(ctx, runID, classified, run.forceFlag); err != nil {
			c.log.Error("failed to mark run failed", "run_id", runID, "error", err)
		}
		return Result{
			RunID: runID, Status: domain.RunStatusFailed, FailedStage: run.failedStage,
			ConcurrentProcessingDetected: concurrentDetected, Err: classified,
		}
	}

	if err := c.runs.UpdateOptimizationMetrics(ctx, runID, runmanager.OptimizationInputs{
		TotalOpportunities:      run.totalProcessed,
		BypassedLLM:             run.bypassedLLM,
		TotalTokens:             run.totalTokens,
		TotalAPICalls:           run.totalAPICalls,
		EstimatedCostUSD:        run.estimatedCostUSD,
		SuccessfulOpportunities: run.totalProcessed,
	}); err != nil {
		c.log.Warn("failed to update optimization metrics", "run_id", runID, "error", err)
	}

	if err := c.runs.CompleteRun(ctx, runID, time.Since(started), map[string]any{
		"new_count": run.newCount, "update_count": run.updateCount, "skip_count": run.skipCount,
	}, forceFlag); err != nil {
		c.log.Error("failed to complete run", "run_id", runID, "error", err)
	}

	return Result{
		RunID: runID, Status: domain.RunStatusCompleted,
		ConcurrentProcessingDetected: concurrentDetected,
		TotalOpportunitiesProcessed:  run.totalProcessed,
	}
}

// runState accumulates the per-run counters and context threaded across
// runPipeline's stages, kept out of Coordinator itself so ProcessSource is
// safely reentrant across concurrent sources.
type runState struct {
	runID, sourceID string
	source          domain.Source
	config          domain.SourceConfiguration
	forceFlag       bool
	concurrentDetected bool

	newCount, updateCount, skipCount int
	storedCount, updatedCount        int
	totalProcessed                   int
	bypassedLLM                      int
	totalTokens, totalAPICalls       int
	estimatedCostUSD                 float64

	failedStage domain.StageName
}

// asClassified returns err unchanged if it's already a *domain.ClassifiedError
// (as RetryStage's failures are), otherwise classifies it fresh — covers the
// unretried stages (early_duplicate_detector) whose store errors reach
// runPipeline unclassified.
func asClassified(err error, stage domain.StageName) *domain.ClassifiedError {
	if classifiedErr, ok := err.(*domain.ClassifiedError); ok {
		return classifiedErr
	}
	return classify.Classify(err, stage)
}

// runPipeline executes stages 1 (source_orchestrator) through direct_update,
// stamping run's counters as it goes. Any stage error sets run.failedStage
// and is returned for ProcessSource to classify and fail the run with.
func (c *Coordinator) runPipeline(ctx context.Context, run *runState, rm *runmanager.RunBinding) error {
	analysisResult, err := c.stageSourceOrchestrator(ctx, run, rm)
	if err != nil {
		run.failedStage = domain.StageSourceOrchestrator
		return err
	}

	extraction, err := c.stageDataExtraction(ctx, run, rm, analysisResult)
	if err != nil {
		run.failedStage = domain.StageDataExtraction
		return err
	}

	detection, err := c.stageEarlyDuplicateDetector(ctx, run, rm, extraction)
	if err != nil {
		run.failedStage = domain.StageEarlyDuplicateDetector
		return err
	}

	if len(detection.New) > 0 {
		if err := c.branchNew(ctx, run, rm, detection.New); err != nil {
			return err
		}
	} else {
		c.skipStage(ctx, run, domain.StageAnalysis, "no_new_opportunities")
		c.skipStage(ctx, run, domain.StageFilter, "no_new_opportunities")
		c.skipStage(ctx, run, domain.StageStorage, "no_new_opportunities")
	}

	if len(detection.Update) > 0 {
		c.branchUpdate(ctx, run, detection.Update)
	} else {
		c.skipStage(ctx, run, domain.StageDirectUpdate, "no_update_opportunities")
	}

	run.skipCount += len(detection.Skip)
	// total_opportunities_processed counts records that made it all the way
	// through their branch (stored or successfully updated), not merely
	// routed to NEW/UPDATE — a record the filter stage drops never "processed".
	run.totalProcessed = run.storedCount + run.updatedCount

	return nil
}

func (c *Coordinator) stageSourceOrchestrator(ctx context.Context, run *runState, rm *runmanager.RunBinding) (contracts.AnalysisResult, error) {
	_ = c.runs.UpdateStage(ctx, run.runID, domain.StageSourceOrchestrator, domain.StageStatusProcessing, nil, nil, 0, 0, 0, 0, "")

	result, _, err := retry.RetryStage(ctx, domain.StageSourceOrchestrator, func(ctx context.Context) (contracts.AnalysisResult, error) {
		return c.analyzer.Analyze(ctx, run.source)
	}, rm, retry.Conservative)
	if err != nil {
		return contracts.AnalysisResult{}, err
	}

	run.totalTokens += result.TokensUsed
	run.totalAPICalls += result.APICalls
	_ = c.runs.UpdateStage(ctx, run.runID, domain.StageSourceOrchestrator, domain.StageStatusCompleted,
		map[string]any{"endpoint": result.Endpoint, "workflow": result.Workflow, "confidence": result.Confidence},
		nil, result.TokensUsed, result.APICalls, 0, 1, "")
	return result, nil
}

func (c *Coordinator) stageDataExtraction(ctx context.Context, run *runState, rm *runmanager.RunBinding, analysis contracts.AnalysisResult) (contracts.ExtractionResult, error) {
	_ = c.runs.UpdateStage(ctx, run.runID, domain.StageDataExtraction, domain.StageStatusProcessing, nil, nil, 0, 0, 1, 0, "")

	result, _, err := retry.RetryStage(ctx, domain.StageDataExtraction, func(ctx context.Context) (contracts.ExtractionResult, error) {
		return c.extractor.Extract(ctx, run.source, analysis)
	}, rm, retry.Default)
	if err != nil {
		return contracts.ExtractionResult{}, err
	}

	run.totalTokens += result.Metrics.TotalTokens
	run.totalAPICalls += result.Metrics.APICalls
	_ = c.runs.UpdateStage(ctx, run.runID, domain.StageDataExtraction, domain.StageStatusCompleted,
		map[string]any{
			"total_available": result.Metrics.TotalFound, "api_fetched_results": result.Metrics.TotalRetrieved,
			"extracted_opportunities": len(result.Opportunities),
		},
		nil, result.Metrics.TotalTokens, result.Metrics.APICalls, 1, len(result.Opportunities), "")
	return result, nil
}

func (c *Coordinator) stageEarlyDuplicateDetector(ctx context.Context, run *runState, rm *runmanager.RunBinding, extraction contracts.ExtractionResult) (duplicate.Result, error) {
	_ = c.runs.UpdateStage(ctx, run.runID, domain.StageEarlyDuplicateDetector, domain.StageStatusProcessing, nil, nil, 0, 0, len(extraction.Opportunities), 0, "")

	result, err := c.detector.Detect(ctx, run.runID, run.sourceID, extraction.Opportunities, run.forceFlag)
	if err != nil {
		return duplicate.Result{}, err
	}

	run.newCount = len(result.New)
	run.updateCount = len(result.Update)
	run.bypassedLLM = result.Session.LLMProcessingBypassed()

	if err := c.runs.RecordDuplicateDetectionSession(ctx, result.Session); err != nil {
		c.log.Warn("failed to record duplicate detection session", "run_id", run.runID, "error", err)
	}

	outputCount := run.newCount + run.updateCount
	_ = c.runs.UpdateStage(ctx, run.runID, domain.StageEarlyDuplicateDetector, domain.StageStatusCompleted,
		map[string]any{"new": run.newCount, "update": run.updateCount, "skip": len(result.Skip)},
		nil, 0, 0, len(extraction.Opportunities), outputCount, "")

	for _, skip := range result.Skip {
		path := domain.OpportunityPath{
			RunID: run.runID, SourceID: run.sourceID, APIOpportunityID: skip.APIRecord.APIOpportunityID,
			Title: skip.APIRecord.Title, PathType: domain.PathTypeSkip, PathReason: skip.Reason,
			StagesProcessed: []domain.StageName{domain.StageEarlyDuplicateDetector}, FinalOutcome: domain.OutcomeSkipped,
		}
		if err := c.runs.RecordOpportunityPath(ctx, path); err != nil {
			c.log.Warn("failed to record opportunity path", "run_id", run.runID, "error", err)
		}
	}

	return result, nil
}

func (c *Coordinator) skipStage(ctx context.Context, run *runState, name domain.StageName, reason string) {
	if err := c.runs.UpdateStage(ctx, run.runID, name, domain.StageStatusSkipped,
		map[string]any{"reason": reason}, nil, 0, 0, 0, 0, ""); err != nil {
		c.log.Warn("failed to mark stage skipped", "run_id", run.runID, "stage", name, "error", err)
	}
}

// branchNew drives Branch A (§4.8 step 9): analysis → filter → storage.
func (c *Coordinator) branchNew(ctx context.Context, run *runState, rm *runmanager.RunBinding, newEntries []duplicate.NewEntry) error {
	opportunities := make([]domain.Opportunity, 0, len(newEntries))
	for _, e := range newEntries {
		opportunities = append(opportunities, rawToOpportunity(e.APIRecord, run.sourceID))
	}

	_ = c.runs.UpdateStage(ctx, run.runID, domain.StageAnalysis, domain.StageStatusProcessing, nil, nil, 0, 0, len(opportunities), 0, "")
	enhanced, _, err := retry.RetryStage(ctx, domain.StageAnalysis, func(ctx context.Context) (contracts.EnhanceResult, error) {
		return c.analysis.Enhance(ctx, opportunities, run.source)
	}, rm, retry.Default)
	if err != nil {
		run.failedStage = domain.StageAnalysis
		return err
	}
	run.totalTokens += enhanced.Metrics.TotalTokens
	run.totalAPICalls += enhanced.Metrics.TotalAPICalls
	if len(enhanced.Opportunities) != len(opportunities) {
		c.log.Warn("analysis stage count mismatch", "run_id", run.runID, "input", len(opportunities), "output", len(enhanced.Opportunities))
	}
	_ = c.runs.UpdateStage(ctx, run.runID, domain.StageAnalysis, domain.StageStatusCompleted, nil, nil,
		enhanced.Metrics.TotalTokens, enhanced.Metrics.TotalAPICalls, len(opportunities), len(enhanced.Opportunities), "")

	_ = c.runs.UpdateStage(ctx, run.runID, domain.StageFilter, domain.StageStatusProcessing, nil, nil, 0, 0, len(enhanced.Opportunities), 0, "")
	filtered, _, err := retry.RetryStage(ctx, domain.StageFilter, func(ctx context.Context) (contracts.FilterResult, error) {
		return c.filter.Filter(ctx, enhanced.Opportunities)
	}, rm, retry.Default)
	if err != nil {
		run.failedStage = domain.StageFilter
		return err
	}
	_ = c.runs.UpdateStage(ctx, run.runID, domain.StageFilter, domain.StageStatusCompleted,
		map[string]any{"included": filtered.Metrics.Included, "excluded": filtered.Metrics.Excluded}, nil,
		0, 0, len(enhanced.Opportunities), len(filtered.Included), "")

	for _, opp := range enhanced.Opportunities {
		if !containsOpportunity(filtered.Included, opp) {
			c.recordNewPath(ctx, run, opp, domain.OutcomeFilteredOut, "filtered_out",
				[]domain.StageName{domain.StageAnalysis, domain.StageFilter})
		}
	}

	if len(filtered.Included) == 0 {
		c.skipStage(ctx, run, domain.StageStorage, "no_storage_opportunities")
		return nil
	}

	_ = c.runs.UpdateStage(ctx, run.runID, domain.StageStorage, domain.StageStatusProcessing, nil, nil, 0, 0, len(filtered.Included), 0, "")
	stored, _, err := retry.RetryStage(ctx, domain.StageStorage, func(ctx context.Context) (contracts.StoreResult, error) {
		return c.storage.Store(ctx, filtered.Included, run.source, run.forceFlag)
	}, rm, retry.Aggressive)
	if err != nil {
		run.failedStage = domain.StageStorage
		return err
	}
	_ = c.runs.UpdateStage(ctx, run.runID, domain.StageStorage, domain.StageStatusCompleted,
		map[string]any{"new_opportunities": stored.Metrics.NewOpportunities, "updated": stored.Metrics.Updated, "failed": stored.Metrics.Failed},
		nil, 0, 0, len(filtered.Included), stored.Metrics.NewOpportunities+stored.Metrics.Updated, "")
	run.storedCount += stored.Metrics.NewOpportunities + stored.Metrics.Updated

	for _, opp := range filtered.Included {
		c.recordNewPath(ctx, run, opp, domain.OutcomeStored, "stored",
			[]domain.StageName{domain.StageAnalysis, domain.StageFilter, domain.StageStorage})
	}
	return nil
}

// branchUpdate drives Branch B (§4.8 step 10): direct_update. Failures here
// are counted, not retried or fatal, per §4.7.
func (c *Coordinator) branchUpdate(ctx context.Context, run *runState, updates []duplicate.UpdateEntry) {
	_ = c.runs.UpdateStage(ctx, run.runID, domain.StageDirectUpdate, domain.StageStatusProcessing, nil, nil, 0, 0, len(updates), 0, "")

	result := c.direct.Apply(ctx, updates)

	_ = c.runs.UpdateStage(ctx, run.runID, domain.StageDirectUpdate, domain.StageStatusCompleted,
		map[string]any{"successful": result.Metrics.Successful, "failed": result.Metrics.Failed, "skipped": result.Metrics.Skipped},
		nil, 0, 0, len(updates), result.Metrics.TotalProcessed, "")

	run.updatedCount += len(result.Successful)

	for _, outcome := range result.Successful {
		c.recordUpdatePath(ctx, run, outcome.Entry, domain.OutcomeUpdated)
	}
	for _, outcome := range result.Failed {
		c.recordUpdatePath(ctx, run, outcome.Entry, domain.OutcomeFailed)
	}
	for _, outcome := range result.Skipped {
		c.recordUpdatePath(ctx, run, outcome.Entry, domain.OutcomeFailed)
	}
}

func (c *Coordinator) recordNewPath(ctx context.Context, run *runState, opp domain.Opportunity, outcome domain.FinalOutcome, reason string, stages []domain.StageName) {
	path := domain.OpportunityPath{
		RunID: run.runID, SourceID: run.sourceID, APIOpportunityID: opp.APIOpportunityID, Title: opp.Title,
		PathType: domain.PathTypeNew, PathReason: reason, StagesProcessed: stages, FinalOutcome: outcome,
	}
	if err := c.runs.RecordOpportunityPath(ctx, path); err != nil {
		c.log.Warn("failed to record opportunity path", "run_id", run.runID, "error", err)
	}
}

func (c *Coordinator) recordUpdatePath(ctx context.Context, run *runState, entry duplicate.UpdateEntry, outcome domain.FinalOutcome) {
	path := domain.OpportunityPath{
		RunID: run.runID, SourceID: run.sourceID, APIOpportunityID: entry.APIRecord.APIOpportunityID, Title: entry.APIRecord.Title,
		PathType: domain.PathTypeUpdate, PathReason: entry.Reason,
		StagesProcessed: []domain.StageName{domain.StageEarlyDuplicateDetector, domain.StageDirectUpdate},
		FinalOutcome:    outcome, ChangesDetected: entry.ChangesDetected,
		DuplicateDetected: true, ExistingOpportunityID: &entry.DBRecord.ID,
	}
	if err := c.runs.RecordOpportunityPath(ctx, path); err != nil {
		c.log.Warn("failed to record opportunity path", "run_id", run.runID, "error", err)
	}
}

func rawToOpportunity(raw domain.RawOpportunity, sourceID string) domain.Opportunity {
	return domain.Opportunity{
		SourceID: sourceID, APIOpportunityID: raw.APIOpportunityID, Title: raw.Title,
		Description: raw.Description, FundingType: raw.FundingType, Agency: raw.Agency,
		MinAward: raw.MinAward, MaxAward: raw.MaxAward, TotalFunding: raw.TotalFunding,
		OpenDate: raw.OpenDate, CloseDate: raw.CloseDate, Eligibility: raw.Eligibility, URL: raw.URL,
		Analysis: raw.Analysis,
	}
}

func containsOpportunity(list []domain.Opportunity, target domain.Opportunity) bool {
	for _, o := range list {
		if o.APIOpportunityID == target.APIOpportunityID {
			return true
		}
	}
	return false
}
