// Package forceflag implements ForceReprocessingFlag (C4, §4.4): the
// per-source and process-wide overrides that make early-duplicate detection
// bypass freshness/change checks and reprocess every opportunity a source
// returns.
package forceflag

import "context"

// Store is the persistence contract forceflag needs from the Datastore
// (system_config + api_sources.force_full_reprocessing, §6).
type Store interface {
	GetSourceForceFlag(ctx context.Context, sourceID string) (bool, error)
	SetSourceForceFlag(ctx context.Context, sourceID string, value bool) error
	GetGlobalForceFlag(ctx context.Context) (bool, error)
	SetGlobalForceFlag(ctx context.Context, value bool) error
}

// Flag evaluates and reconciles the force-full-reprocessing override.
type Flag struct {
	store Store
}

// New builds a Flag backed by store.
func New(store Store) *Flag {
	return &Flag{store: store}
}

// ShouldForceFullProcessing returns true iff the per-source flag or the
// global flag is set (§4.4).
func (f *Flag) ShouldForceFullProcessing(ctx context.Context, sourceID string) (bool, error) {
	global, err := f.store.GetGlobalForceFlag(ctx)
	if err != nil {
		return false, err
	}
	if global {
		return true, nil
	}
	return f.store.GetSourceForceFlag(ctx, sourceID)
}

// ReconcileOnCompletion applies the per-source flag's post-run transition
// (§4.4): cleared on a completed run that used force, re-set on a failed run
// that used force so the next run retries the full reprocessing. It is a
// no-op when forceWasUsed is false.
func (f *Flag) ReconcileOnCompletion(ctx context.Context, sourceID string, forceWasUsed bool, runSucceeded bool) error {
	if !forceWasUsed {
		return nil
	}
	return f.store.SetSourceForceFlag(ctx, sourceID, !runSucceeded)
}

// SetGlobal sets or clears the process-wide override, e.g. from the admin
// HTTP surface's PUT /system-config/global_force_full_reprocessing.
func (f *Flag) SetGlobal(ctx context.Context, value bool) error {
	return f.store.SetGlobalForceFlag(ctx, value)
}

// SetSource sets or clears the per-source override directly, independent of
// the automatic reconciliation above (e.g. an operator forcing one source's
// next run from the admin surface).
func (f *Flag) SetSource(ctx context.Context, sourceID string, value bool) error {
	return f.store.SetSourceForceFlag(ctx, sourceID, value)
}
