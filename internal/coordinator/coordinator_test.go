package coordinator

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/EnergySystemsGroup/Meridian-ESG-sub002/internal/contracts"
	"github.com/EnergySystemsGroup/Meridian-ESG-sub002/internal/directupdate"
	"github.com/EnergySystemsGroup/Meridian-ESG-sub002/internal/domain"
	"github.com/EnergySystemsGroup/Meridian-ESG-sub002/internal/duplicate"
	"github.com/EnergySystemsGroup/Meridian-ESG-sub002/internal/forceflag"
	"github.com/EnergySystemsGroup/Meridian-ESG-sub002/internal/lock"
	"github.com/EnergySystemsGroup/Meridian-ESG-sub002/internal/runmanager"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeStore is a full in-memory contracts.Datastore used across every
// coordinator scenario test.
type fakeStore struct {
	mu          sync.Mutex
	sources     map[string]domain.Source
	configs     map[string]domain.SourceConfiguration
	byAPIID     map[string]domain.Opportunity
	runs        map[string]domain.Run
	stages      map[string]domain.Stage
	paths       []domain.OpportunityPath
	sessions    []domain.DuplicateDetectionSession
	opportunities []domain.Opportunity
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		sources: map[string]domain.Source{}, configs: map[string]domain.SourceConfiguration{},
		byAPIID: map[string]domain.Opportunity{}, runs: map[string]domain.Run{}, stages: map[string]domain.Stage{},
	}
}

func stageKey(runID string, name domain.StageName) string { return runID + "/" + string(name) }

func (s *fakeStore) GetSource(ctx context.Context, id string) (domain.Source, error) {
	if src, ok := s.sources[id]; ok {
		return src, nil
	}
	return domain.Source{ID: id, Name: "test-source"}, nil
}
func (s *fakeStore) ListActiveSources(ctx context.Context) ([]domain.Source, error) { return nil, nil }
func (s *fakeStore) UpdateSourceLastChecked(ctx context.Context, id string, at time.Time) error {
	return nil
}
func (s *fakeStore) GetSourceConfiguration(ctx context.Context, sourceID string) (domain.SourceConfiguration, error) {
	return s.configs[sourceID], nil
}
func (s *fakeStore) FindOpportunitiesByAPIID(ctx context.Context, sourceID string, ids []string) (map[string]domain.Opportunity, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := map[string]domain.Opportunity{}
	for _, id := range ids {
		if o, ok := s.byAPIID[id]; ok {
			out[id] = o
		}
	}
	return out, nil
}
func (s *fakeStore) FindOpportunitiesByNormalizedTitle(ctx context.Context, sourceID string, titles []string) (map[string]domain.Opportunity, error) {
	return map[string]domain.Opportunity{}, nil
}
func (s *fakeStore) UpsertOpportunity(ctx context.Context, opp domain.Opportunity) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.opportunities = append(s.opportunities, opp)
	return nil
}
func (s *fakeStore) UpdateOpportunityFields(ctx context.Context, opportunityID string, fields map[string]any, expectedUpdatedAt time.Time) error {
	return nil
}
func (s *fakeStore) CreateRun(ctx context.Context, run domain.Run) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.runs[run.ID] = run
	return nil
}
func (s *fakeStore) GetRun(ctx context.Context, id string) (domain.Run, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.runs[id]
	if !ok {
		return domain.Run{}, domain.ErrNotFound
	}
	return r, nil
}
func (s *fakeStore) UpdateRun(ctx context.Context, run domain.Run, expectedStatus domain.RunStatus) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.runs[run.ID] = run
	return nil
}
func (s *fakeStore) ListOrphanedRuns(ctx context.Context, heartbeatOlderThan time.Time) ([]domain.Run, error) {
	return nil, nil
}
func (s *fakeStore) UpsertStage(ctx context.Context, stage domain.Stage) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.stages[stageKey(stage.RunID, stage.Name)] = stage
	return nil
}
func (s *fakeStore) GetStage(ctx context.Context, runID string, name domain.StageName) (domain.Stage, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	st, ok := s.stages[stageKey(runID, name)]
	if !ok {
		return domain.Stage{}, domain.ErrNotFound
	}
	return st, nil
}
func (s *fakeStore) RecordOpportunityPath(ctx context.Context, path domain.OpportunityPath) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.paths = append(s.paths, path)
	return nil
}
func (s *fakeStore) RecordDuplicateDetectionSession(ctx context.Context, session domain.DuplicateDetectionSession) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sessions = append(s.sessions, session)
	return nil
}
func (s *fakeStore) SaveRawResponse(ctx context.Context, runID, sourceID string, payload []byte) (string, error) {
	return "raw-1", nil
}
func (s *fakeStore) GetRawResponse(ctx context.Context, id string) ([]byte, error) { return nil, nil }

func (s *fakeStore) stage(runID string, name domain.StageName) (domain.Stage, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	st, ok := s.stages[stageKey(runID, name)]
	return st, ok
}

// fakeFlagStore backs forceflag.Flag in tests.
type fakeFlagStore struct {
	global bool
	source map[string]bool
}

func newFakeFlagStore() *fakeFlagStore { return &fakeFlagStore{source: map[string]bool{}} }

func (f *fakeFlagStore) GetSourceForceFlag(ctx context.Context, sourceID string) (bool, error) {
	return f.source[sourceID], nil
}
func (f *fakeFlagStore) SetSourceForceFlag(ctx context.Context, sourceID string, value bool) error {
	f.source[sourceID] = value
	return nil
}
func (f *fakeFlagStore) GetGlobalForceFlag(ctx context.Context) (bool, error) { return f.global, nil }
func (f *fakeFlagStore) SetGlobalForceFlag(ctx context.Context, value bool) error {
	f.global = value
	return nil
}

// fakeLocker always grants the lock, unless denyNext is set.
type fakeLocker struct {
	denyNext bool
}

func (l *fakeLocker) TryAcquire(ctx context.Context, sourceID string) (bool, *lock.Lock, error) {
	if l.denyNext {
		return false, nil, nil
	}
	return true, &lock.Lock{ID: 1}, nil
}
func (l *fakeLocker) Release(ctx context.Context, held *lock.Lock) error { return nil }

// fakeAnalyzer/fakeExtractor/fakeAnalysis/fakeFilter/fakeStorage implement
// C10's collaborator interfaces with scripted, deterministic output.

type fakeAnalyzer struct{}

func (fakeAnalyzer) Analyze(ctx context.Context, source domain.Source) (contracts.AnalysisResult, error) {
	return contracts.AnalysisResult{Endpoint: "/opportunities", Workflow: "single_call", TokensUsed: 100, APICalls: 1}, nil
}

type fakeExtractor struct {
	raw []domain.RawOpportunity
}

func (f fakeExtractor) Extract(ctx context.Context, source domain.Source, analysis contracts.AnalysisResult) (contracts.ExtractionResult, error) {
	return contracts.ExtractionResult{
		Opportunities: f.raw,
		Metrics:       contracts.ExtractionMetrics{TotalFound: len(f.raw), TotalRetrieved: len(f.raw), APICalls: 1, TotalTokens: 50},
	}, nil
}

type fakeAnalysisAgent struct{}

func (fakeAnalysisAgent) Enhance(ctx context.Context, newOpportunities []domain.Opportunity, source domain.Source) (contracts.EnhanceResult, error) {
	return contracts.EnhanceResult{Opportunities: newOpportunities, Metrics: contracts.AnalysisMetrics{TotalTokens: 30, TotalAPICalls: 1}}, nil
}

// fakeFilter drops the last opportunity in the input, to exercise the
// filtered_out path-recording branch.
type fakeFilter struct{}

func (fakeFilter) Filter(ctx context.Context, enhanced []domain.Opportunity) (contracts.FilterResult, error) {
	if len(enhanced) == 0 {
		return contracts.FilterResult{}, nil
	}
	included := enhanced[:len(enhanced)-1]
	return contracts.FilterResult{
		Included: included,
		Metrics:  contracts.FilterMetrics{Included: len(included), Excluded: len(enhanced) - len(included)},
	}, nil
}

type fakeStorageAgent struct{}

func (fakeStorageAgent) Store(ctx context.Context, included []domain.Opportunity, source domain.Source, force bool) (contracts.StoreResult, error) {
	return contracts.StoreResult{Metrics: contracts.StorageMetrics{NewOpportunities: len(included)}}, nil
}

func rawOpp(id, title string) domain.RawOpportunity {
	return domain.RawOpportunity{APIOpportunityID: id, Title: title}
}

func newTestCoordinator(store *fakeStore, locker Locker, raw []domain.RawOpportunity) *Coordinator {
	flags := forceflag.New(newFakeFlagStore())
	runs := runmanager.New(store, flags, nil)
	return New(
		store, locker, flags, runs, duplicate.New(store), directupdate.New(store),
		fakeAnalyzer{}, fakeExtractor{raw: raw}, fakeAnalysisAgent{}, fakeFilter{}, fakeStorageAgent{}, nil,
	)
}

// TestProcessSourceAllNewThreeItems mirrors §8's literal "All-new, 3 items"
// scenario: 3 brand-new records, the filter stage drops one, leaving 2
// stored; direct_update has nothing to do and is marked skipped.
func TestProcessSourceAllNewThreeItems(t *testing.T) {
	store := newFakeStore()
	raw := []domain.RawOpportunity{
		rawOpp("opp-1", "Grant One"),
		rawOpp("opp-2", "Grant Two"),
		rawOpp("opp-3", "Grant Three"),
	}
	c := newTestCoordinator(store, &fakeLocker{}, raw)

	result := c.ProcessSource(context.Background(), "source-1", "", Options{})

	require.NoError(t, result.Err)
	assert.Equal(t, domain.RunStatusCompleted, result.Status)
	assert.False(t, result.ConcurrentProcessingDetected)
	assert.Equal(t, 2, result.TotalOpportunitiesProcessed)

	extraction, ok := store.stage(result.RunID, domain.StageDataExtraction)
	require.True(t, ok)
	assert.Equal(t, 1, extraction.InputCount)
	assert.Equal(t, 3, extraction.OutputCount)

	dedup, ok := store.stage(result.RunID, domain.StageEarlyDuplicateDetector)
	require.True(t, ok)
	assert.Equal(t, 3, dedup.InputCount)
	assert.Equal(t, 3, dedup.OutputCount)

	analysis, ok := store.stage(result.RunID, domain.StageAnalysis)
	require.True(t, ok)
	assert.Equal(t, 3, analysis.InputCount)
	assert.Equal(t, 3, analysis.OutputCount)

	filter, ok := store.stage(result.RunID, domain.StageFilter)
	require.True(t, ok)
	assert.Equal(t, 3, filter.InputCount)
	assert.Equal(t, 2, filter.OutputCount)

	storage, ok := store.stage(result.RunID, domain.StageStorage)
	require.True(t, ok)
	assert.Equal(t, 2, storage.InputCount)
	assert.Equal(t, 2, storage.OutputCount)

	directUpdate, ok := store.stage(result.RunID, domain.StageDirectUpdate)
	require.True(t, ok)
	assert.Equal(t, domain.StageStatusSkipped, directUpdate.Status)

	run, err := store.GetRun(context.Background(), result.RunID)
	require.NoError(t, err)
	assert.Equal(t, 2, run.Totals.OpportunitiesProcessed)
}

// TestProcessSourceNoOpportunitiesSkipsDownstreamStages covers the
// zero-extraction boundary: the extractor returns no opportunities, so every
// stage after early_duplicate_detector is marked skipped, never invoked.
func TestProcessSourceNoOpportunitiesSkipsDownstreamStages(t *testing.T) {
	store := newFakeStore()
	c := newTestCoordinator(store, &fakeLocker{}, nil)

	result := c.ProcessSource(context.Background(), "source-1", "", Options{})

	require.NoError(t, result.Err)
	assert.Equal(t, 0, result.TotalOpportunitiesProcessed)

	for _, name := range []domain.StageName{domain.StageAnalysis, domain.StageFilter, domain.StageStorage, domain.StageDirectUpdate} {
		st, ok := store.stage(result.RunID, name)
		require.True(t, ok, "stage %s should still have a row", name)
		assert.Equal(t, domain.StageStatusSkipped, st.Status)
	}
}

// TestProcessSourceLockContentionStillProcesses covers §4.8's rule that a
// held lock doesn't block the run; it flags concurrent_processing_detected
// and proceeds.
func TestProcessSourceLockContentionStillProcesses(t *testing.T) {
	store := newFakeStore()
	c := newTestCoordinator(store, &fakeLocker{denyNext: true}, []domain.RawOpportunity{rawOpp("opp-1", "Grant One")})

	result := c.ProcessSource(context.Background(), "source-1", "", Options{})

	require.NoError(t, result.Err)
	assert.True(t, result.ConcurrentProcessingDetected)
}

// TestProcessSourceExtractorFailureFailsRunWithoutPanicking exercises the
// non-re-throwing error boundary (§4.8 step 16): a hard extractor failure
// fails the run with a classified error instead of propagating the raw one.
func TestProcessSourceExtractorFailureFailsRunWithoutPanicking(t *testing.T) {
	store := newFakeStore()
	flags := forceflag.New(newFakeFlagStore())
	runs := runmanager.New(store, flags, nil)
	c := New(
		store, &fakeLocker{}, flags, runs, duplicate.New(store), directupdate.New(store),
		fakeAnalyzer{}, failingExtractor{}, fakeAnalysisAgent{}, fakeFilter{}, fakeStorageAgent{}, nil,
	)

	result := c.ProcessSource(context.Background(), "source-1", "", Options{})

	require.Error(t, result.Err)
	assert.Equal(t, domain.RunStatusFailed, result.Status)
	assert.Equal(t, domain.StageDataExtraction, result.FailedStage)

	run, err := store.GetRun(context.Background(), result.RunID)
	require.NoError(t, err)
	assert.Equal(t, domain.RunStatusFailed, run.Status)
}

type failingExtractor struct{}

func (failingExtractor) Extract(ctx context.Context, source domain.Source, analysis contracts.AnalysisResult) (contracts.ExtractionResult, error) {
	return contracts.ExtractionResult{}, extractionValidationError{}
}

// extractionValidationError classifies as CategoryValidation/non-retryable,
// so the scenario test fails on the first attempt instead of waiting out
// internal/retry's backoff schedule.
type extractionValidationError struct{}

func (extractionValidationError) Error() string { return "extraction validation failure: malformed response" }
