package duplicate

import (
	"context"
	"testing"
	"time"

	"github.com/EnergySystemsGroup/Meridian-ESG-sub002/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeStore struct {
	byID    map[string]domain.Opportunity
	byTitle map[string]domain.Opportunity
}

func newFakeStore() *fakeStore {
	return &fakeStore{byID: map[string]domain.Opportunity{}, byTitle: map[string]domain.Opportunity{}}
}

func (s *fakeStore) FindOpportunitiesByAPIID(ctx context.Context, sourceID string, ids []string) (map[string]domain.Opportunity, error) {
	out := map[string]domain.Opportunity{}
	for _, id := range ids {
		if o, ok := s.byID[id]; ok {
			out[id] = o
		}
	}
	return out, nil
}

func (s *fakeStore) FindOpportunitiesByNormalizedTitle(ctx context.Context, sourceID string, titles []string) (map[string]domain.Opportunity, error) {
	out := map[string]domain.Opportunity{}
	for _, t := range titles {
		if o, ok := s.byTitle[t]; ok {
			out[t] = o
		}
	}
	return out, nil
}

func ptr[T any](v T) *T { return &v }

func TestDetectValidationFailure(t *testing.T) {
	store := newFakeStore()
	d := New(store)

	result, err := d.Detect(context.Background(), "run-1", "source-1", []domain.RawOpportunity{
		{APIOpportunityID: "", Title: "   "},
	}, false)
	require.NoError(t, err)

	require.Len(t, result.Skip, 1)
	assert.Equal(t, ReasonValidationFailure, result.Skip[0].Reason)
	assert.Equal(t, 1, result.Session.ValidationFailures)
	assert.Equal(t, 0, result.Session.NewOpportunities)
}

func TestDetectNewWhenNoMatch(t *testing.T) {
	store := newFakeStore()
	d := New(store)

	result, err := d.Detect(context.Background(), "run-1", "source-1", []domain.RawOpportunity{
		{APIOpportunityID: "opp-1", Title: "Grant for widgets"},
	}, false)
	require.NoError(t, err)

	require.Len(t, result.New, 1)
	assert.Equal(t, ReasonNoDuplicateFound, result.New[0].Reason)
}

func TestDetectFreshnessSkip(t *testing.T) {
	store := newFakeStore()
	store.byID["opp-1"] = domain.Opportunity{
		ID: "db-1", APIOpportunityID: "opp-1", Title: "Grant for widgets", UpdatedAt: time.Now(),
	}
	d := New(store)

	result, err := d.Detect(context.Background(), "run-1", "source-1", []domain.RawOpportunity{
		{APIOpportunityID: "opp-1", Title: "Grant for widgets"},
	}, false)
	require.NoError(t, err)

	require.Len(t, result.Skip, 1)
	assert.Equal(t, ReasonFreshNoUpdateNeeded, result.Skip[0].Reason)
	assert.Equal(t, 1, result.Session.FreshnessSkips)
}

func TestDetectNoChangesAfterFreshnessWindow(t *testing.T) {
	store := newFakeStore()
	store.byID["opp-1"] = domain.Opportunity{
		ID: "db-1", APIOpportunityID: "opp-1", Title: "Grant for widgets",
		UpdatedAt: time.Now().Add(-48 * time.Hour),
	}
	d := New(store)

	result, err := d.Detect(context.Background(), "run-1", "source-1", []domain.RawOpportunity{
		{APIOpportunityID: "opp-1", Title: "Grant for widgets"},
	}, false)
	require.NoError(t, err)

	require.Len(t, result.Skip, 1)
	assert.Equal(t, ReasonNoChangesDetected, result.Skip[0].Reason)
}

func TestDetectFieldsChanged(t *testing.T) {
	store := newFakeStore()
	store.byID["opp-1"] = domain.Opportunity{
		ID: "db-1", APIOpportunityID: "opp-1", Title: "Grant for widgets",
		TotalFunding: ptr(1000.0),
		UpdatedAt:    time.Now().Add(-48 * time.Hour),
	}
	d := New(store)

	result, err := d.Detect(context.Background(), "run-1", "source-1", []domain.RawOpportunity{
		{APIOpportunityID: "opp-1", Title: "Grant for widgets", TotalFunding: ptr(2000.0)},
	}, false)
	require.NoError(t, err)

	require.Len(t, result.Update, 1)
	assert.Contains(t, result.Update[0].ChangesDetected, "total_funding")
	assert.Equal(t, ReasonFieldsChanged, result.Update[0].Reason)
}

func TestDetectTitleFallbackMatch(t *testing.T) {
	store := newFakeStore()
	store.byTitle["grant for widgets"] = domain.Opportunity{
		ID: "db-1", APIOpportunityID: "other-id", Title: "Grant For Widgets",
		UpdatedAt: time.Now().Add(-48 * time.Hour),
	}
	d := New(store)

	result, err := d.Detect(context.Background(), "run-1", "source-1", []domain.RawOpportunity{
		{APIOpportunityID: "", Title: "Grant For Widgets"},
	}, false)
	require.NoError(t, err)

	require.Len(t, result.Skip, 1)
	assert.Equal(t, ReasonNoChangesDetected, result.Skip[0].Reason)
	assert.Equal(t, 1, result.Session.TitleMatches)
}

func TestDetectTitleMatchDoesNotPromoteWhenIDsDiffer(t *testing.T) {
	store := newFakeStore()
	store.byTitle["grant for widgets"] = domain.Opportunity{
		ID: "db-1", APIOpportunityID: "other-id", Title: "Grant For Widgets",
		UpdatedAt: time.Now().Add(-48 * time.Hour),
	}
	d := New(store)

	result, err := d.Detect(context.Background(), "run-1", "source-1", []domain.RawOpportunity{
		{APIOpportunityID: "opp-1", Title: "Grant For Widgets"},
	}, false)
	require.NoError(t, err)

	require.Len(t, result.New, 1, "id mismatch must block the title match, routing to NEW instead")
	assert.Equal(t, 0, result.Session.TitleMatches)
}

func TestDetectForceFullReprocessing(t *testing.T) {
	store := newFakeStore()
	store.byID["opp-1"] = domain.Opportunity{ID: "db-1", APIOpportunityID: "opp-1", UpdatedAt: time.Now()}
	d := New(store)

	result, err := d.Detect(context.Background(), "run-1", "source-1", []domain.RawOpportunity{
		{APIOpportunityID: "opp-1", Title: "Grant for widgets"},
	}, true)
	require.NoError(t, err)

	require.Len(t, result.New, 1)
	assert.Equal(t, ReasonForceFullReprocess, result.New[0].Reason)
	assert.Empty(t, result.Skip)
}

func TestDetectSessionInvariantHolds(t *testing.T) {
	store := newFakeStore()
	d := New(store)

	result, err := d.Detect(context.Background(), "run-1", "source-1", []domain.RawOpportunity{
		{APIOpportunityID: "opp-1", Title: "A"},
		{APIOpportunityID: "", Title: ""},
	}, false)
	require.NoError(t, err)
	require.NoError(t, result.Session.Validate())
}
