package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/EnergySystemsGroup/Meridian-ESG-sub002/internal/coordinator"
	"github.com/EnergySystemsGroup/Meridian-ESG-sub002/internal/domain"
	"github.com/EnergySystemsGroup/Meridian-ESG-sub002/internal/storage"
)

func init() {
	gin.SetMode(gin.TestMode)
}

// fakeStore is an in-memory Store fake covering exactly what the handlers
// under test exercise, the same narrow-fake idiom internal/duplicate and
// internal/runmanager's own tests use.
type fakeStore struct {
	sources  map[string]domain.Source
	runs     map[string]domain.Run
	stages   map[string][]domain.Stage
	paths    map[string][]domain.OpportunityPath
	sessions map[string]domain.DuplicateDetectionSession
	raw      map[string][]byte
	global   bool
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		sources:  map[string]domain.Source{},
		runs:     map[string]domain.Run{},
		stages:   map[string][]domain.Stage{},
		paths:    map[string][]domain.OpportunityPath{},
		sessions: map[string]domain.DuplicateDetectionSession{},
		raw:      map[string][]byte{},
	}
}

func (f *fakeStore) GetSource(_ context.Context, id string) (domain.Source, error) {
	src, ok := f.sources[id]
	if !ok {
		return domain.Source{}, fmt.Errorf("source %s: %w", id, domain.ErrNotFound)
	}
	return src, nil
}
func (f *fakeStore) ListActiveSources(_ context.Context) ([]domain.Source, error) {
	var out []domain.Source
	for _, s := range f.sources {
		if s.Active {
			out = append(out, s)
		}
	}
	return out, nil
}
func (f *fakeStore) UpdateSourceLastChecked(_ context.Context, id string, at time.Time) error {
	src := f.sources[id]
	src.LastCheckedAt = &at
	f.sources[id] = src
	return nil
}
func (f *fakeStore) GetSourceConfiguration(_ context.Context, sourceID string) (domain.SourceConfiguration, error) {
	return f.sources[sourceID].Configuration, nil
}
func (f *fakeStore) FindOpportunitiesByAPIID(context.Context, string, []string) (map[string]domain.Opportunity, error) {
	return nil, nil
}
func (f *fakeStore) FindOpportunitiesByNormalizedTitle(context.Context, string, []string) (map[string]domain.Opportunity, error) {
	return nil, nil
}
func (f *fakeStore) UpsertOpportunity(context.Context, domain.Opportunity) error { return nil }
func (f *fakeStore) UpdateOpportunityFields(context.Context, string, map[string]any, time.Time) error {
	return nil
}
func (f *fakeStore) CreateRun(_ context.Context, run domain.Run) error {
	f.runs[run.ID] = run
	return nil
}
func (f *fakeStore) GetRun(_ context.Context, id string) (domain.Run, error) {
	run, ok := f.runs[id]
	if !ok {
		return domain.Run{}, fmt.Errorf("run %s: %w", id, domain.ErrNotFound)
	}
	return run, nil
}
func (f *fakeStore) UpdateRun(_ context.Context, run domain.Run, _ domain.RunStatus) error {
	f.runs[run.ID] = run
	return nil
}
func (f *fakeStore) ListOrphanedRuns(context.Context, time.Time) ([]domain.Run, error) { return nil, nil }
func (f *fakeStore) UpsertStage(context.Context, domain.Stage) error                   { return nil }
func (f *fakeStore) GetStage(context.Context, string, domain.StageName) (domain.Stage, error) {
	return domain.Stage{}, nil
}
func (f *fakeStore) RecordOpportunityPath(context.Context, domain.OpportunityPath) error { return nil }
func (f *fakeStore) RecordDuplicateDetectionSession(context.Context, domain.DuplicateDetectionSession) error {
	return nil
}
func (f *fakeStore) SaveRawResponse(_ context.Context, runID, sourceID string, payload []byte) (string, error) {
	id := runID + ":" + sourceID
	f.raw[id] = payload
	return id, nil
}
func (f *fakeStore) GetRawResponse(_ context.Context, id string) ([]byte, error) {
	payload, ok := f.raw[id]
	if !ok {
		return nil, fmt.Errorf("raw response %s: %w", id, domain.ErrNotFound)
	}
	return payload, nil
}
func (f *fakeStore) ListSources(_ context.Context) ([]domain.Source, error) {
	var out []domain.Source
	for _, s := range f.sources {
		out = append(out, s)
	}
	return out, nil
}
func (f *fakeStore) CreateSource(_ context.Context, src domain.Source) error {
	f.sources[src.ID] = src
	return nil
}
func (f *fakeStore) UpdateSource(_ context.Context, src domain.Source) error {
	if _, ok := f.sources[src.ID]; !ok {
		return fmt.Errorf("source %s: %w", src.ID, domain.ErrNotFound)
	}
	f.sources[src.ID] = src
	return nil
}
func (f *fakeStore) DeleteSource(_ context.Context, id string) error {
	if _, ok := f.sources[id]; !ok {
		return fmt.Errorf("source %s: %w", id, domain.ErrNotFound)
	}
	delete(f.sources, id)
	return nil
}
func (f *fakeStore) ListStagesByRun(_ context.Context, runID string) ([]domain.Stage, error) {
	return f.stages[runID], nil
}
func (f *fakeStore) ListOpportunityPathsByRun(_ context.Context, runID string) ([]domain.OpportunityPath, error) {
	return f.paths[runID], nil
}
func (f *fakeStore) GetDuplicateDetectionSessionByRun(_ context.Context, runID string) (domain.DuplicateDetectionSession, error) {
	session, ok := f.sessions[runID]
	if !ok {
		return domain.DuplicateDetectionSession{}, fmt.Errorf("session for run %s: %w", runID, domain.ErrNotFound)
	}
	return session, nil
}
func (f *fakeStore) GetGlobalForceFlag(context.Context) (bool, error) { return f.global, nil }
func (f *fakeStore) Health(context.Context) (*storage.HealthStatus, error) {
	return &storage.HealthStatus{Status: "healthy"}, nil
}

type fakeProcessor struct {
	result coordinator.Result
}

func (f *fakeProcessor) ProcessSource(_ context.Context, sourceID, runID string, _ coordinator.Options) coordinator.Result {
	if runID == "" {
		runID = "generated-run"
	}
	f.result.RunID = runID
	return f.result
}

type fakeFlags struct {
	store *fakeStore
}

func (f *fakeFlags) SetGlobal(_ context.Context, value bool) error {
	f.store.global = value
	return nil
}

func testServer(store *fakeStore, proc *fakeProcessor) *Server {
	return New(store, proc, &fakeFlags{store: store}, nil)
}

func doJSON(t *testing.T, router http.Handler, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var reader *bytes.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(raw)
	} else {
		reader = bytes.NewReader(nil)
	}
	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	return rec
}

func TestListSourcesEmpty(t *testing.T) {
	store := newFakeStore()
	router := testServer(store, &fakeProcessor{}).Router()

	rec := doJSON(t, router, http.MethodGet, "/sources", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `[]`, rec.Body.String())
}

func TestGetSourceNotFound(t *testing.T) {
	store := newFakeStore()
	router := testServer(store, &fakeProcessor{}).Router()

	rec := doJSON(t, router, http.MethodGet, "/sources/missing", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestCreateSourceRejectsNearDuplicate(t *testing.T) {
	store := newFakeStore()
	store.sources["existing-1"] = domain.Source{
		ID: "existing-1", Name: "Rural Broadband Grants", Organization: "USDA", Active: true,
	}
	router := testServer(store, &fakeProcessor{}).Router()

	body := map[string]any{
		"name": "Rural Broadband Grants", "organization": "USDA",
		"type": string(domain.SourceTypeFederal), "auth_type": string(domain.AuthTypeNone),
		"handler_type": string(domain.HandlerTypeStandard),
	}
	rec := doJSON(t, router, http.MethodPost, "/sources", body)
	assert.Equal(t, http.StatusConflict, rec.Code)
}

func TestCreateSourceSucceeds(t *testing.T) {
	store := newFakeStore()
	router := testServer(store, &fakeProcessor{}).Router()

	body := map[string]any{
		"name": "Brand New Opportunity Feed", "organization": "DOE",
		"type": string(domain.SourceTypeFederal), "auth_type": string(domain.AuthTypeNone),
		"handler_type": string(domain.HandlerTypeStandard),
	}
	rec := doJSON(t, router, http.MethodPost, "/sources", body)
	require.Equal(t, http.StatusCreated, rec.Code)

	var resp map[string]string
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.NotEmpty(t, resp["id"])
	assert.Len(t, store.sources, 1)
}

func TestTriggerSourceProcessReturns202(t *testing.T) {
	store := newFakeStore()
	store.sources["source-1"] = domain.Source{ID: "source-1", Name: "Source", Active: true}
	proc := &fakeProcessor{result: coordinator.Result{Status: domain.RunStatusCompleted}}
	router := testServer(store, proc).Router()

	rec := doJSON(t, router, http.MethodPost, "/sources/source-1/process", nil)
	assert.Equal(t, http.StatusAccepted, rec.Code)

	var resp processAcceptedBody
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "accepted", resp.Status)
	assert.NotEmpty(t, resp.RunID)
}

func TestTriggerNextDueReturnsErrorBodyOnFailure(t *testing.T) {
	store := newFakeStore()
	store.sources["source-1"] = domain.Source{ID: "source-1", Name: "Source", Active: true}
	proc := &fakeProcessor{result: coordinator.Result{
		Status: domain.RunStatusFailed, FailedStage: domain.StageDataExtraction,
		Err: fmt.Errorf("boom"),
	}}
	router := testServer(store, proc).Router()

	rec := doJSON(t, router, http.MethodPost, "/process", nil)
	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)

	var body processErrorBody
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "error", body.Status)
	assert.Equal(t, domain.PipelineVersion, body.Pipeline)
	assert.Equal(t, string(domain.StageDataExtraction), body.FailedStage)
}

func TestTriggerNextDueIdleWhenNoActiveSources(t *testing.T) {
	store := newFakeStore()
	router := testServer(store, &fakeProcessor{}).Router()

	rec := doJSON(t, router, http.MethodPost, "/process", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "idle")
}

func TestGetRunAssemblesDetail(t *testing.T) {
	store := newFakeStore()
	store.runs["run-1"] = domain.Run{ID: "run-1", SourceID: "source-1", Status: domain.RunStatusCompleted}
	store.stages["run-1"] = []domain.Stage{{RunID: "run-1", Name: domain.StageSourceOrchestrator}}
	store.sessions["run-1"] = domain.DuplicateDetectionSession{RunID: "run-1", SourceID: "source-1"}
	router := testServer(store, &fakeProcessor{}).Router()

	rec := doJSON(t, router, http.MethodGet, "/runs/run-1", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var detail runDetail
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &detail))
	assert.Equal(t, "run-1", detail.Run.ID)
	assert.Len(t, detail.Stages, 1)
	require.NotNil(t, detail.DetectionSession)
	assert.Equal(t, "source-1", detail.DetectionSession.SourceID)
}

func TestGetRunNotFound(t *testing.T) {
	store := newFakeStore()
	router := testServer(store, &fakeProcessor{}).Router()

	rec := doJSON(t, router, http.MethodGet, "/runs/missing", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestGlobalForceFlagRoundtrip(t *testing.T) {
	store := newFakeStore()
	router := testServer(store, &fakeProcessor{}).Router()

	rec := doJSON(t, router, http.MethodGet, "/system-config/global_force_full_reprocessing", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"value":false}`, rec.Body.String())

	rec = doJSON(t, router, http.MethodPut, "/system-config/global_force_full_reprocessing", forceFlagRequest{Value: true})
	require.Equal(t, http.StatusOK, rec.Code)
	assert.True(t, store.global)
}

func TestHealthz(t *testing.T) {
	store := newFakeStore()
	router := testServer(store, &fakeProcessor{}).Router()

	rec := doJSON(t, router, http.MethodGet, "/healthz", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
}
