// Package directupdate implements DirectUpdateHandler (C7, §4.7): applies
// C6's UPDATE list to the canonical store with conditional, field-scoped
// writes, skipping (not retrying) any row a concurrent writer touched first.
package directupdate

import (
	"context"
	"errors"
	"time"

	"github.com/EnergySystemsGroup/Meridian-ESG-sub002/internal/domain"
	"github.com/EnergySystemsGroup/Meridian-ESG-sub002/internal/duplicate"
)

// Outcome is one update item's final disposition.
type Outcome struct {
	Entry duplicate.UpdateEntry
	Err   error
}

// Metrics summarizes one Apply call (§4.7).
type Metrics struct {
	TotalProcessed int
	Successful     int
	Failed         int
	Skipped        int
	ExecutionTime  time.Duration
}

// Result is Apply's full output.
type Result struct {
	Successful []Outcome
	Failed     []Outcome
	Skipped    []Outcome
	Metrics    Metrics
}

// Store is the slice of the Datastore the Handler writes through.
type Store interface {
	UpdateOpportunityFields(ctx context.Context, opportunityID string, fields map[string]any, expectedUpdatedAt time.Time) error
}

// Handler applies conditional updates to a Store.
type Handler struct {
	store Store
}

// New builds a Handler over store.
func New(store Store) *Handler {
	return &Handler{store: store}
}

// Apply issues one conditional field update per entry in updates, only
// writing the fields entry.ChangesDetected names (§4.7).
func (h *Handler) Apply(ctx context.Context, updates []duplicate.UpdateEntry) Result {
	started := time.Now()
	var result Result

	for _, entry := range updates {
		fields := fieldsToUpdate(entry)
		err := h.store.UpdateOpportunityFields(ctx, entry.DBRecord.ID, fields, entry.DBRecord.UpdatedAt)
		switch {
		case err == nil:
			result.Successful = append(result.Successful, Outcome{Entry: entry})
		case errors.Is(err, domain.ErrConcurrentModification):
			result.Skipped = append(result.Skipped, Outcome{Entry: entry, Err: err})
		default:
			result.Failed = append(result.Failed, Outcome{Entry: entry, Err: err})
		}
	}

	result.Metrics = Metrics{
		TotalProcessed: len(result.Successful) + len(result.Failed) + len(result.Skipped),
		Successful:     len(result.Successful),
		Failed:         len(result.Failed),
		Skipped:        len(result.Skipped),
		ExecutionTime:  time.Since(started),
	}
	return result
}

// fieldsToUpdate projects entry's API record onto the field names its diff
// flagged as changed (§4.7: "only the fields in changesDetected").
func fieldsToUpdate(entry duplicate.UpdateEntry) map[string]any {
	fields := make(map[string]any, len(entry.ChangesDetected))
	api := entry.APIRecord
	for _, name := range entry.ChangesDetected {
		switch name {
		case "title":
			fields["title"] = api.Title
		case "description":
			fields["description"] = api.Description
		case "close_date":
			fields["close_date"] = api.CloseDate
		case "min_award":
			fields["min_award"] = api.MinAward
		case "max_award":
			fields["max_award"] = api.MaxAward
		case "total_funding":
			fields["total_funding"] = api.TotalFunding
		case "eligibility":
			fields["eligibility"] = api.Eligibility
		case "url":
			fields["url"] = api.URL
		}
	}
	return fields
}
