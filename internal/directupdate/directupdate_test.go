package directupdate

import (
	"context"
	"testing"
	"time"

	"github.com/EnergySystemsGroup/Meridian-ESG-sub002/internal/domain"
	"github.com/EnergySystemsGroup/Meridian-ESG-sub002/internal/duplicate"
	"github.com/stretchr/testify/assert"
)

type fakeStore struct {
	conflictIDs map[string]bool
	failIDs     map[string]bool
	applied     map[string]map[string]any
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		conflictIDs: map[string]bool{},
		failIDs:     map[string]bool{},
		applied:     map[string]map[string]any{},
	}
}

func (s *fakeStore) FindOpportunitiesByAPIID(ctx context.Context, sourceID string, ids []string) (map[string]domain.Opportunity, error) {
	return nil, nil
}
func (s *fakeStore) FindOpportunitiesByNormalizedTitle(ctx context.Context, sourceID string, titles []string) (map[string]domain.Opportunity, error) {
	return nil, nil
}
func (s *fakeStore) UpsertOpportunity(ctx context.Context, opp domain.Opportunity) error { return nil }

func (s *fakeStore) UpdateOpportunityFields(ctx context.Context, opportunityID string, fields map[string]any, expectedUpdatedAt time.Time) error {
	if s.conflictIDs[opportunityID] {
		return domain.ErrConcurrentModification
	}
	if s.failIDs[opportunityID] {
		return assert.AnError
	}
	s.applied[opportunityID] = fields
	return nil
}

func ptr[T any](v T) *T { return &v }

func TestApplySuccessful(t *testing.T) {
	store := newFakeStore()
	h := New(store)

	entries := []duplicate.UpdateEntry{
		{
			APIRecord:       domain.RawOpportunity{TotalFunding: ptr(500.0)},
			DBRecord:        domain.Opportunity{ID: "opp-1", UpdatedAt: time.Now()},
			ChangesDetected: []string{"total_funding"},
		},
	}

	result := h.Apply(context.Background(), entries)
	assert.Len(t, result.Successful, 1)
	assert.Equal(t, 1, result.Metrics.Successful)
	assert.Equal(t, 1, result.Metrics.TotalProcessed)
	assert.Equal(t, 500.0, *store.applied["opp-1"]["total_funding"].(*float64))
}

func TestApplySkipsOnConcurrentModification(t *testing.T) {
	store := newFakeStore()
	store.conflictIDs["opp-2"] = true
	h := New(store)

	entries := []duplicate.UpdateEntry{
		{
			DBRecord:        domain.Opportunity{ID: "opp-2", UpdatedAt: time.Now()},
			ChangesDetected: []string{"title"},
		},
	}

	result := h.Apply(context.Background(), entries)
	assert.Len(t, result.Skipped, 1)
	assert.Equal(t, 1, result.Metrics.Skipped)
	assert.Empty(t, result.Successful)
}

func TestApplyCountsFailures(t *testing.T) {
	store := newFakeStore()
	store.failIDs["opp-3"] = true
	h := New(store)

	entries := []duplicate.UpdateEntry{
		{
			DBRecord:        domain.Opportunity{ID: "opp-3", UpdatedAt: time.Now()},
			ChangesDetected: []string{"title"},
		},
	}

	result := h.Apply(context.Background(), entries)
	assert.Len(t, result.Failed, 1)
	assert.Equal(t, 1, result.Metrics.Failed)
}

func TestApplyOnlyWritesChangedFields(t *testing.T) {
	store := newFakeStore()
	h := New(store)

	entries := []duplicate.UpdateEntry{
		{
			APIRecord:       domain.RawOpportunity{Title: "New Title", TotalFunding: ptr(10.0)},
			DBRecord:        domain.Opportunity{ID: "opp-4", UpdatedAt: time.Now()},
			ChangesDetected: []string{"title"},
		},
	}

	h.Apply(context.Background(), entries)
	fields := store.applied["opp-4"]
	assert.Contains(t, fields, "title")
	assert.NotContains(t, fields, "total_funding")
}
