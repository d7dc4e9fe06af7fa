// Package runmanager implements RunManager (C5, §4.5): the single-writer
// lifecycle owner for a pipeline Run and its Stage rows. It fulfils
// internal/retry.RunManager so C2's retrier can report bookkeeping straight
// into a run's stage history.
package runmanager

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/EnergySystemsGroup/Meridian-ESG-sub002/internal/classify"
	"github.com/EnergySystemsGroup/Meridian-ESG-sub002/internal/contracts"
	"github.com/EnergySystemsGroup/Meridian-ESG-sub002/internal/domain"
	"github.com/EnergySystemsGroup/Meridian-ESG-sub002/internal/forceflag"
	"github.com/EnergySystemsGroup/Meridian-ESG-sub002/internal/metrics"
	"github.com/google/uuid"
)

// DefaultOrphanTimeout is the default stage-timeout guard armed by StartRun
// (§4.5). CleanupOrphanedRuns takes its staleness cutoff as an argument.
const DefaultOrphanTimeout = 30 * time.Minute

// OrphanedRunReason is the failure reason recorded by cleanupOrphanedRuns.
const OrphanedRunReason = "orphaned_run_cleanup"

const estimatedCostPerThousandTokensUSD = 0.01

// Manager is the C5 RunManager: it owns a per-run mutex and a per-run
// timeout timer, and serializes every write to a run's Run/Stage rows
// through store.
type Manager struct {
	store     contracts.Datastore
	flags     *forceflag.Flag
	log       *slog.Logger
	timeout   time.Duration

	mu       sync.Mutex
	runLocks map[string]*sync.Mutex
	timers   map[string]*time.Timer
}

// New builds a Manager backed by store, using flags for the force-flag
// reconciliation completeRun/failRun perform.
func New(store contracts.Datastore, flags *forceflag.Flag, log *slog.Logger) *Manager {
	if log == nil {
		log = slog.Default()
	}
	return &Manager{
		store:    store,
		flags:    flags,
		log:      log,
		timeout:  DefaultOrphanTimeout,
		runLocks: make(map[string]*sync.Mutex),
		timers:   make(map[string]*time.Timer),
	}
}

// WithTimeout overrides the stage-timeout guard duration (tests use a much
// shorter one than the 30-minute production default).
func (m *Manager) WithTimeout(d time.Duration) *Manager {
	m.timeout = d
	return m
}

func (m *Manager) lockFor(runID string) *sync.Mutex {
	m.mu.Lock()
	defer m.mu.Unlock()
	l, ok := m.runLocks[runID]
	if !ok {
		l = &sync.Mutex{}
		m.runLocks[runID] = l
	}
	return l
}

// StartRun creates a Run row in the "processing" state and arms the stage
// timeout guard (§4.5). If runID is non-empty and a run with that id already
// exists, StartRun is idempotent and returns the existing id without error.
func (m *Manager) StartRun(ctx context.Context, runID, sourceID, ownerID string, configSnapshot map[string]any) (string, error) {
	if runID == "" {
		runID = uuid.New().String()
	} else if _, err := m.store.GetRun(ctx, runID); err == nil {
		return runID, nil
	}

	run := domain.NewRun(runID, sourceID, ownerID, time.Now(), configSnapshot)
	run.Status = domain.RunStatusProcessing
	if err := m.store.CreateRun(ctx, run); err != nil {
		return "", fmt.Errorf("failed to create run: %w", err)
	}

	m.armTimeoutGuard(runID)
	return runID, nil
}

func (m *Manager) armTimeoutGuard(runID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if t, ok := m.timers[runID]; ok {
		t.Stop()
	}
	m.timers[runID] = time.AfterFunc(m.timeout, func() {
		ctx := context.Background()
		run, err := m.store.GetRun(ctx, runID)
		if err != nil || run.IsTerminal() {
			return
		}
		classified := &domain.ClassifiedError{
			Category:    domain.CategoryTimeout,
			Retryable:   false,
			UserMessage: "run exceeded its timeout guard",
			Original:    "run timeout guard expired",
		}
		if err := m.FailRun(ctx, runID, classified, forceUsedFromSnapshot(run)); err != nil {
			m.log.Error("failed to fail timed-out run", "run_id", runID, "error", err)
		}
	})
}

func (m *Manager) disarmTimeoutGuard(runID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if t, ok := m.timers[runID]; ok {
		t.Stop()
		delete(m.timers, runID)
	}
}

// UpdateStage upserts a Stage row, stamping started_at/completed_at and
// deriving execution_time_ms and estimated cost per §4.5.
func (m *Manager) UpdateStage(ctx context.Context, runID string, name domain.StageName, status domain.StageStatus, stageResults, performanceMetrics map[string]any, tokensUsed, apiCallsMade, inputCount, outputCount int, jobID string) error {
	lock := m.lockFor(runID)
	lock.Lock()
	defer lock.Unlock()

	existing, err := m.store.GetStage(ctx, runID, name)
	if err != nil {
		existing = domain.NewStage(runID, name)
	}

	now := time.Now()
	if existing.Status == domain.StageStatusPending && status == domain.StageStatusProcessing {
		existing.StartedAt = &now
	}
	if status.IsTerminal() {
		existing.CompletedAt = &now
		if existing.StartedAt != nil && existing.ExecutionMs == 0 {
			existing.ExecutionMs = now.Sub(*existing.StartedAt).Milliseconds()
		}
	}

	existing.Status = status
	if stageResults != nil {
		existing.StageResults = stageResults
	}
	if performanceMetrics != nil {
		existing.PerformanceMetrics = performanceMetrics
	}
	existing.TokensUsed = tokensUsed
	existing.APICallsMade = apiCallsMade
	existing.InputCount = inputCount
	existing.OutputCount = outputCount
	existing.EstimatedCostUSD = float64(tokensUsed) / 1000.0 * estimatedCostPerThousandTokensUSD
	if jobID != "" {
		existing.JobID = jobID
	}

	if err := existing.Validate(); err != nil {
		return fmt.Errorf("invalid stage update: %w", err)
	}
	if err := m.store.UpsertStage(ctx, existing); err != nil {
		return fmt.Errorf("failed to upsert stage: %w", err)
	}
	return nil
}

// RecordOpportunityPath persists one opportunity's per-run routing decision
// (§4.5, §4.8's opportunity_processing_paths sink).
func (m *Manager) RecordOpportunityPath(ctx context.Context, path domain.OpportunityPath) error {
	if err := path.Validate(); err != nil {
		return fmt.Errorf("invalid opportunity path: %w", err)
	}
	if err := m.store.RecordOpportunityPath(ctx, path); err != nil {
		return fmt.Errorf("failed to record opportunity path: %w", err)
	}
	return nil
}

// RecordDuplicateDetectionSession persists C6's per-run detection summary (§4.5).
func (m *Manager) RecordDuplicateDetectionSession(ctx context.Context, session domain.DuplicateDetectionSession) error {
	if err := session.Validate(); err != nil {
		return fmt.Errorf("invalid duplicate detection session: %w", err)
	}
	if err := m.store.RecordDuplicateDetectionSession(ctx, session); err != nil {
		return fmt.Errorf("failed to record duplicate detection session: %w", err)
	}
	return nil
}

// SetConcurrentProcessingDetected stamps a run's concurrent_processing_detected
// flag (§4.8 step 2: the coordinator continues past a held source lock rather
// than blocking, and records that it did so).
func (m *Manager) SetConcurrentProcessingDetected(ctx context.Context, runID string, detected bool) error {
	lock := m.lockFor(runID)
	lock.Lock()
	defer lock.Unlock()

	run, err := m.store.GetRun(ctx, runID)
	if err != nil {
		return fmt.Errorf("failed to load run: %w", err)
	}
	run.ConcurrentProcessingDetected = detected
	if err := m.store.UpdateRun(ctx, run, run.Status); err != nil {
		return fmt.Errorf("failed to persist concurrent-processing flag: %w", err)
	}
	return nil
}

// OptimizationInputs bundles the raw counters UpdateOptimizationMetrics needs.
type OptimizationInputs struct {
	TotalOpportunities      int
	BypassedLLM             int
	TotalTokens             int
	TotalAPICalls           int
	EstimatedCostUSD        float64
	SuccessfulOpportunities int
	FailureCounts           []int
}

// UpdateOptimizationMetrics recomputes a run's derived metrics via C9 and
// persists them (§4.5).
func (m *Manager) UpdateOptimizationMetrics(ctx context.Context, runID string, in OptimizationInputs) error {
	lock := m.lockFor(runID)
	lock.Lock()
	defer lock.Unlock()

	run, err := m.store.GetRun(ctx, runID)
	if err != nil {
		return fmt.Errorf("failed to load run: %w", err)
	}

	run.Totals = domain.RunTotals{
		OpportunitiesProcessed:   in.TotalOpportunities,
		OpportunitiesBypassedLLM: in.BypassedLLM,
		TokensUsed:               in.TotalTokens,
		APICalls:                 in.TotalAPICalls,
		EstimatedCostUSD:         in.EstimatedCostUSD,
	}

	m.recomputeMetrics(&run, in.FailureCounts)

	if err := m.store.UpdateRun(ctx, run, run.Status); err != nil {
		return fmt.Errorf("failed to persist optimization metrics: %w", err)
	}
	return nil
}

func (m *Manager) recomputeMetrics(run *domain.Run, failureCounts []int) {
	run.OpportunitiesPerMinute = metrics.OpportunitiesPerMinute(run.Totals.OpportunitiesProcessed, run.TotalExecutionMs)
	run.TokensPerOpportunity = metrics.TokensPerOpportunity(run.Totals.TokensUsed, run.Totals.OpportunitiesProcessed)
	run.CostPerOpportunityUSD = metrics.CostPerOpportunityUSD(run.Totals.EstimatedCostUSD, run.Totals.OpportunitiesProcessed)
	run.SuccessRatePercentage = metrics.SuccessRatePercentage(failureCounts, run.Totals.OpportunitiesProcessed)
	run.SLACompliancePercentage = metrics.SLACompliancePercentage(metrics.SLAInputs{
		OpportunitiesPerMinute: run.OpportunitiesPerMinute,
		SuccessRatePercentage:  run.SuccessRatePercentage,
		CostPerOpportunityUSD:  run.CostPerOpportunityUSD,
		TotalExecutionMs:       run.TotalExecutionMs,
	})
	run.SLAGrade = metrics.SLAGrade(run.SLACompliancePercentage)
}

// CompleteRun transitions a run to completed, guarded against a run that is
// already terminal (§4.5's single-writer safety rule).
func (m *Manager) CompleteRun(ctx context.Context, runID string, totalTime time.Duration, finalResults map[string]any, forceWasUsed bool) error {
	lock := m.lockFor(runID)
	lock.Lock()
	defer lock.Unlock()

	run, err := m.store.GetRun(ctx, runID)
	if err != nil {
		return fmt.Errorf("failed to load run: %w", err)
	}
	if run.IsTerminal() {
		return nil
	}

	now := time.Now()
	run.Status = domain.RunStatusCompleted
	run.CompletedAt = &now
	run.TotalExecutionMs = totalTime.Milliseconds()
	run.FinalResults = finalResults

	if err := m.store.UpdateRun(ctx, run, domain.RunStatusProcessing); err != nil {
		return fmt.Errorf("failed to complete run: %w", err)
	}
	m.disarmTimeoutGuard(runID)

	if m.flags != nil {
		if err := m.flags.ReconcileOnCompletion(ctx, run.SourceID, forceWasUsed, true); err != nil {
			m.log.Warn("failed to reconcile force flag on success", "run_id", runID, "error", err)
		}
	}
	return nil
}

// FailRun transitions a run to failed unless it's already terminal (§4.5).
// forceWasUsed must reflect whether the force-reprocessing flag was active
// at step 4 of the run being failed (I9/§4.4), not whether a stage name is
// available; classified.Stage already carries the failing stage for
// FailureBreakdown/logging purposes.
func (m *Manager) FailRun(ctx context.Context, runID string, classified *domain.ClassifiedError, forceWasUsed bool) error {
	lock := m.lockFor(runID)
	lock.Lock()
	defer lock.Unlock()

	run, err := m.store.GetRun(ctx, runID)
	if err != nil {
		return fmt.Errorf("failed to load run: %w", err)
	}
	if run.IsTerminal() {
		return nil
	}
	priorStatus := run.Status

	now := time.Now()
	run.Status = domain.RunStatusFailed
	run.CompletedAt = &now
	run.ErrorDetails = classified
	if run.FailureBreakdown == nil {
		run.FailureBreakdown = map[string]int{}
	}
	run.FailureBreakdown[string(classified.Category)]++
	run.TotalExecutionMs = now.Sub(run.StartedAt).Milliseconds()

	var counts []int
	for _, c := range run.FailureBreakdown {
		counts = append(counts, c)
	}
	m.recomputeMetrics(&run, counts)

	if err := m.store.UpdateRun(ctx, run, priorStatus); err != nil {
		return fmt.Errorf("failed to fail run: %w", err)
	}
	m.disarmTimeoutGuard(runID)

	if m.flags != nil {
		if err := m.flags.ReconcileOnCompletion(ctx, run.SourceID, forceWasUsed, false); err != nil {
			m.log.Warn("failed to reconcile force flag on failure", "run_id", runID, "error", err)
		}
	}
	return nil
}

// ForRun returns an internal/retry.RunManager adapter bound to runID, so
// C2's RetryStage can report bookkeeping against the one run it's driving
// without needing to thread a run id through the retry package's interface.
func (m *Manager) ForRun(runID string) *RunBinding {
	return &RunBinding{m: m, runID: runID}
}

// RunBinding adapts Manager to internal/retry.RunManager for a single run.
type RunBinding struct {
	m     *Manager
	runID string
}

// AddRetryAttempt appends a retry attempt to the bound run's stage history (§4.2, §4.5).
func (b *RunBinding) AddRetryAttempt(ctx context.Context, stage domain.StageName, attempt int, delay time.Duration, reason string) error {
	lock := b.m.lockFor(b.runID)
	lock.Lock()
	defer lock.Unlock()

	existing, err := b.m.store.GetStage(ctx, b.runID, stage)
	if err != nil {
		existing = domain.NewStage(b.runID, stage)
	}
	existing.RetryHistory = append(existing.RetryHistory, domain.RetryAttempt{
		Attempt: attempt,
		DelayMs: delay.Milliseconds(),
		Reason:  reason,
		At:      time.Now(),
	})
	if err := b.m.store.UpsertStage(ctx, existing); err != nil {
		return fmt.Errorf("failed to record retry attempt: %w", err)
	}
	return nil
}

// RecordStageFailure fulfils internal/retry.RunManager.
func (b *RunBinding) RecordStageFailure(ctx context.Context, stage domain.StageName, attempt int, classified *domain.ClassifiedError, elapsed time.Duration) error {
	b.m.log.Warn("stage failed", "run_id", b.runID, "stage", stage, "attempt", attempt, "category", classified.Category, "elapsed_ms", elapsed.Milliseconds())

	lock := b.m.lockFor(b.runID)
	lock.Lock()
	defer lock.Unlock()

	existing, err := b.m.store.GetStage(ctx, b.runID, stage)
	if err != nil {
		existing = domain.NewStage(b.runID, stage)
	}
	now := time.Now()
	existing.Status = domain.StageStatusFailed
	existing.CompletedAt = &now
	existing.ErrorMessage = classified.Error()
	if existing.StartedAt != nil && existing.ExecutionMs == 0 {
		existing.ExecutionMs = now.Sub(*existing.StartedAt).Milliseconds()
	}
	if err := b.m.store.UpsertStage(ctx, existing); err != nil {
		return fmt.Errorf("failed to record stage failure: %w", err)
	}
	return nil
}

// RecordRecovery fulfils internal/retry.RunManager.
func (b *RunBinding) RecordRecovery(ctx context.Context, stage domain.StageName, attempts int) error {
	b.m.log.Info("stage recovered after retries", "run_id", b.runID, "stage", stage, "attempts", attempts)
	return nil
}

// CleanupOrphanedRuns marks runs stuck in started/processing whose heartbeat
// is older than cutoff as failed, per §4.5.
func (m *Manager) CleanupOrphanedRuns(ctx context.Context, olderThan time.Duration) (int, error) {
	cutoff := time.Now().Add(-olderThan)
	orphans, err := m.store.ListOrphanedRuns(ctx, cutoff)
	if err != nil {
		return 0, fmt.Errorf("failed to list orphaned runs: %w", err)
	}

	classified := classify.Classify(fmt.Errorf("%s", OrphanedRunReason), domain.StageSourceOrchestrator)
	count := 0
	for _, run := range orphans {
		if err := m.FailRun(ctx, run.ID, classified, forceUsedFromSnapshot(run)); err != nil {
			m.log.Error("failed to clean up orphaned run", "run_id", run.ID, "error", err)
			continue
		}
		count++
	}
	return count, nil
}

// forceUsedFromSnapshot recovers whether the force-reprocessing flag was
// active at step 4 of run from the configuration snapshot StartRun stamped
// on it (§4.4: "changes mid-run do not affect that run"), for the two
// FailRun call sites — the timeout guard and orphan cleanup — that only
// have the stored Run to work from, not a live *coordinator.runState.
func forceUsedFromSnapshot(run domain.Run) bool {
	used, _ := run.ConfigSnapshot["force_full_reprocessing_used"].(bool)
	return used
}
