// Package duplicate implements EarlyDuplicateDetector (C6, §4.6): the
// validate → lookup → freshness → change-detection pipeline that decides,
// for each extracted opportunity, whether it's new, needs updating, or can
// be skipped before any LLM analysis runs.
package duplicate

import (
	"context"
	"strconv"
	"strings"
	"time"

	"github.com/EnergySystemsGroup/Meridian-ESG-sub002/internal/domain"
)

// DefaultFreshnessWindow is §4.6's default freshness window.
const DefaultFreshnessWindow = 24 * time.Hour

// Detection reason strings, verbatim from §4.6 so persisted path_reason
// values are stable across deployments.
const (
	ReasonValidationFailure   = "validation_failure"
	ReasonNoDuplicateFound    = "no_duplicate_found"
	ReasonFreshNoUpdateNeeded = "fresh_no_update_needed"
	ReasonNoChangesDetected   = "no_changes_detected"
	ReasonFieldsChanged       = "fields_changed"
	ReasonForceFullReprocess  = "force_full_reprocessing"
)

// materialFields is the fixed set of fields change detection compares (§4.6 step 4b).
var materialFields = []string{"title", "description", "close_date", "min_award", "max_award", "total_funding", "eligibility", "url"}

// UpdateEntry is one record routed to UPDATE.
type UpdateEntry struct {
	APIRecord       domain.RawOpportunity
	DBRecord        domain.Opportunity
	ChangesDetected []string
	Reason          string
}

// SkipEntry is one record routed to SKIP.
type SkipEntry struct {
	APIRecord      domain.RawOpportunity
	ExistingRecord *domain.Opportunity
	Reason         string
}

// NewEntry is one record routed to NEW.
type NewEntry struct {
	APIRecord domain.RawOpportunity
	Reason    string
}

// Result is EarlyDuplicateDetector's full output (§4.6).
type Result struct {
	New     []NewEntry
	Update  []UpdateEntry
	Skip    []SkipEntry
	Session domain.DuplicateDetectionSession
}

// Store is the slice of the Datastore the Detector reads: the batched
// api-id lookup and the exact normalized-title fallback lookup.
type Store interface {
	FindOpportunitiesByAPIID(ctx context.Context, sourceID string, apiOpportunityIDs []string) (map[string]domain.Opportunity, error)
	FindOpportunitiesByNormalizedTitle(ctx context.Context, sourceID string, normalizedTitles []string) (map[string]domain.Opportunity, error)
}

// Detector runs the detection algorithm against a Store.
type Detector struct {
	store           Store
	freshnessWindow time.Duration
}

// New builds a Detector over store, using DefaultFreshnessWindow.
func New(store Store) *Detector {
	return &Detector{store: store, freshnessWindow: DefaultFreshnessWindow}
}

// WithFreshnessWindow overrides the freshness window.
func (d *Detector) WithFreshnessWindow(w time.Duration) *Detector {
	d.freshnessWindow = w
	return d
}

// Detect classifies each of opportunities as NEW, UPDATE, or SKIP against
// sourceID's canonical records, per §4.6's algorithm. When forceFullReprocessing
// is true, every valid record is routed to NEW without any store lookup.
func (d *Detector) Detect(ctx context.Context, runID, sourceID string, opportunities []domain.RawOpportunity, forceFullReprocessing bool) (Result, error) {
	started := time.Now()
	session := domain.DuplicateDetectionSession{RunID: runID, SourceID: sourceID}
	result := Result{}

	var valid []domain.RawOpportunity
	for _, opp := range opportunities {
		session.TotalOpportunitiesChecked++
		if !opp.IsValidForDetection() {
			session.ValidationFailures++
			result.Skip = append(result.Skip, SkipEntry{APIRecord: opp, Reason: ReasonValidationFailure})
			continue
		}
		valid = append(valid, opp)
	}

	if forceFullReprocessing {
		for _, opp := range valid {
			result.New = append(result.New, NewEntry{APIRecord: opp, Reason: ReasonForceFullReprocess})
		}
		session.NewOpportunities = len(valid)
		session.DetectionTimeMs = time.Since(started).Milliseconds()
		result.Session = session
		return result, nil
	}

	byID, err := d.lookupByID(ctx, sourceID, valid)
	if err != nil {
		return Result{}, err
	}
	session.DatabaseQueriesMade++

	var unmatched []domain.RawOpportunity
	matches := make(map[string]domain.Opportunity, len(valid))
	for _, opp := range valid {
		if existing, ok := byID[opp.APIOpportunityID]; ok && opp.APIOpportunityID != "" {
			matches[recordKey(opp)] = existing
			session.IDMatches++
			continue
		}
		unmatched = append(unmatched, opp)
	}

	if len(unmatched) > 0 {
		byTitle, err := d.lookupByTitle(ctx, sourceID, unmatched)
		if err != nil {
			return Result{}, err
		}
		session.DatabaseQueriesMade++
		for _, opp := range unmatched {
			existing, ok := byTitle[opp.NormalizedTitle()]
			if !ok {
				continue
			}
			// Boundary rule (§8): a title match must not promote to
			// UPDATE if both records carry a non-blank api_opportunity_id
			// and those ids differ — id equality always wins over title.
			if opp.APIOpportunityID != "" && existing.APIOpportunityID != "" && opp.APIOpportunityID != existing.APIOpportunityID {
				continue
			}
			matches[recordKey(opp)] = existing
			session.TitleMatches++
		}
	}

	now := time.Now()
	for _, opp := range valid {
		existing, found := matches[recordKey(opp)]
		if !found {
			result.New = append(result.New, NewEntry{APIRecord: opp, Reason: ReasonNoDuplicateFound})
			session.NewOpportunities++
			continue
		}

		if existing.Fresh(now, d.freshnessWindow) {
			session.FreshnessSkips++
			session.DuplicatesToSkip++
			existingCopy := existing
			result.Skip = append(result.Skip, SkipEntry{APIRecord: opp, ExistingRecord: &existingCopy, Reason: ReasonFreshNoUpdateNeeded})
			continue
		}

		changes := detectChanges(opp, existing)
		if len(changes) == 0 {
			session.DuplicatesToSkip++
			existingCopy := existing
			result.Skip = append(result.Skip, SkipEntry{APIRecord: opp, ExistingRecord: &existingCopy, Reason: ReasonNoChangesDetected})
			continue
		}

		session.DuplicatesToUpdate++
		result.Update = append(result.Update, UpdateEntry{APIRecord: opp, DBRecord: existing, ChangesDetected: changes, Reason: ReasonFieldsChanged})
	}

	session.DetectionTimeMs = time.Since(started).Milliseconds()
	result.Session = session
	return result, nil
}

// recordKey disambiguates records that share neither a populated id nor
// title collision, keeping the match map keyed consistently across the
// id-lookup and title-lookup passes.
func recordKey(opp domain.RawOpportunity) string {
	if opp.APIOpportunityID != "" {
		return "id:" + opp.APIOpportunityID
	}
	return "title:" + opp.NormalizedTitle()
}

func (d *Detector) lookupByID(ctx context.Context, sourceID string, opportunities []domain.RawOpportunity) (map[string]domain.Opportunity, error) {
	var ids []string
	for _, opp := range opportunities {
		if opp.APIOpportunityID != "" {
			ids = append(ids, opp.APIOpportunityID)
		}
	}
	if len(ids) == 0 {
		return map[string]domain.Opportunity{}, nil
	}
	return d.store.FindOpportunitiesByAPIID(ctx, sourceID, ids)
}

func (d *Detector) lookupByTitle(ctx context.Context, sourceID string, opportunities []domain.RawOpportunity) (map[string]domain.Opportunity, error) {
	var titles []string
	for _, opp := range opportunities {
		if t := opp.NormalizedTitle(); t != "" {
			titles = append(titles, t)
		}
	}
	if len(titles) == 0 {
		return map[string]domain.Opportunity{}, nil
	}
	return d.store.FindOpportunitiesByNormalizedTitle(ctx, sourceID, titles)
}

// detectChanges diffs opp against existing over materialFields (§4.6 step 4b).
func detectChanges(opp domain.RawOpportunity, existing domain.Opportunity) []string {
	var changed []string
	if !stringPtrEqual(&opp.Title, &existing.Title) {
		changed = append(changed, "title")
	}
	if !stringPtrEqual(opp.Description, existing.Description) {
		changed = append(changed, "description")
	}
	if !timePtrEqual(opp.CloseDate, existing.CloseDate) {
		changed = append(changed, "close_date")
	}
	if !float64PtrEqual(opp.MinAward, existing.MinAward) {
		changed = append(changed, "min_award")
	}
	if !float64PtrEqual(opp.MaxAward, existing.MaxAward) {
		changed = append(changed, "max_award")
	}
	if !float64PtrEqual(opp.TotalFunding, existing.TotalFunding) {
		changed = append(changed, "total_funding")
	}
	if !stringPtrEqual(opp.Eligibility, existing.Eligibility) {
		changed = append(changed, "eligibility")
	}
	if !stringPtrEqual(opp.URL, existing.URL) {
		changed = append(changed, "url")
	}
	return changed
}

func stringPtrEqual(a, b *string) bool {
	if a == nil && b == nil {
		return true
	}
	if a == nil || b == nil {
		return false
	}
	return strings.TrimSpace(*a) == strings.TrimSpace(*b)
}

func timePtrEqual(a, b *time.Time) bool {
	if a == nil && b == nil {
		return true
	}
	if a == nil || b == nil {
		return false
	}
	return a.Equal(*b)
}

func float64PtrEqual(a, b *float64) bool {
	if a == nil && b == nil {
		return true
	}
	if a == nil || b == nil {
		return false
	}
	// Parse-after-format mirrors §4.6's "numeric fields compared after
	// parsing" wording — guards against representations differing only in
	// float formatting noise picked up across a DB round trip.
	as := strconv.FormatFloat(*a, 'f', -1, 64)
	bs := strconv.FormatFloat(*b, 'f', -1, 64)
	return as == bs
}
