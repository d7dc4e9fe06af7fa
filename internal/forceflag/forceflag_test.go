package forceflag

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeStore struct {
	global       bool
	perSource    map[string]bool
	globalErr    error
	sourceErr    error
	setSourceErr error
}

func newFakeStore() *fakeStore {
	return &fakeStore{perSource: make(map[string]bool)}
}

func (s *fakeStore) GetSourceForceFlag(_ context.Context, sourceID string) (bool, error) {
	if s.sourceErr != nil {
		return false, s.sourceErr
	}
	return s.perSource[sourceID], nil
}

func (s *fakeStore) SetSourceForceFlag(_ context.Context, sourceID string, value bool) error {
	if s.setSourceErr != nil {
		return s.setSourceErr
	}
	s.perSource[sourceID] = value
	return nil
}

func (s *fakeStore) GetGlobalForceFlag(_ context.Context) (bool, error) {
	if s.globalErr != nil {
		return false, s.globalErr
	}
	return s.global, nil
}

func (s *fakeStore) SetGlobalForceFlag(_ context.Context, value bool) error {
	s.global = value
	return nil
}

func TestShouldForceFullProcessingGlobalWins(t *testing.T) {
	store := newFakeStore()
	store.global = true
	f := New(store)

	should, err := f.ShouldForceFullProcessing(context.Background(), "source-1")
	require.NoError(t, err)
	assert.True(t, should)
}

func TestShouldForceFullProcessingPerSource(t *testing.T) {
	store := newFakeStore()
	store.perSource["source-1"] = true
	f := New(store)

	should, err := f.ShouldForceFullProcessing(context.Background(), "source-1")
	require.NoError(t, err)
	assert.True(t, should)

	should, err = f.ShouldForceFullProcessing(context.Background(), "source-2")
	require.NoError(t, err)
	assert.False(t, should)
}

func TestReconcileOnCompletionClearsOnSuccess(t *testing.T) {
	store := newFakeStore()
	store.perSource["source-1"] = true
	f := New(store)

	require.NoError(t, f.ReconcileOnCompletion(context.Background(), "source-1", true, true))
	assert.False(t, store.perSource["source-1"])
}

func TestReconcileOnCompletionResetsOnFailure(t *testing.T) {
	store := newFakeStore()
	store.perSource["source-1"] = true
	f := New(store)

	require.NoError(t, f.ReconcileOnCompletion(context.Background(), "source-1", true, false))
	assert.True(t, store.perSource["source-1"])
}

func TestReconcileOnCompletionNoopWhenForceNotUsed(t *testing.T) {
	store := newFakeStore()
	f := New(store)

	require.NoError(t, f.ReconcileOnCompletion(context.Background(), "source-1", false, true))
	_, ok := store.perSource["source-1"]
	assert.False(t, ok)
}
