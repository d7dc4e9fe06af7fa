package storage

import (
	"context"
	"fmt"

	"github.com/EnergySystemsGroup/Meridian-ESG-sub002/internal/domain"
)

// RecordOpportunityPath persists one opportunity_processing_paths row (§3, I6).
func (s *Store) RecordOpportunityPath(ctx context.Context, path domain.OpportunityPath) error {
	stages, err := marshalOrNil(path.StagesProcessed)
	if err != nil {
		return fmt.Errorf("storage error encoding stages_processed: %w", err)
	}
	changes, err := marshalOrNil(path.ChangesDetected)
	if err != nil {
		return fmt.Errorf("storage error encoding changes_detected: %w", err)
	}

	const q = `
		INSERT INTO opportunity_processing_paths (
			run_id, api_opportunity_id, title, source_id, path_type, path_reason,
			stages_processed, final_outcome, tokens_used, processing_time_ms,
			cost_usd, duplicate_detected, existing_opportunity_id, changes_detected,
			duplicate_detection_method, quality_score
		) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16)`

	_, err = s.pool.Exec(ctx, q,
		path.RunID, path.APIOpportunityID, path.Title, path.SourceID, path.PathType,
		path.PathReason, stages, path.FinalOutcome, path.TokensUsed, path.ProcessingMs,
		path.CostUSD, path.DuplicateDetected, path.ExistingOpportunityID, changes,
		path.DuplicateDetectionMethod, path.QualityScore,
	)
	if err != nil {
		return fmt.Errorf("storage error recording opportunity path for run %s: %w", path.RunID, err)
	}
	return nil
}

// RecordDuplicateDetectionSession persists one duplicate_detection_sessions row (§3).
func (s *Store) RecordDuplicateDetectionSession(ctx context.Context, session domain.DuplicateDetectionSession) error {
	const q = `
		INSERT INTO duplicate_detection_sessions (
			run_id, source_id, total_opportunities_checked, new_opportunities,
			duplicates_to_update, duplicates_to_skip, validation_failures,
			detection_time_ms, database_queries_made, id_matches, title_matches,
			freshness_skips
		) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12)`

	_, err := s.pool.Exec(ctx, q,
		session.RunID, session.SourceID, session.TotalOpportunitiesChecked,
		session.NewOpportunities, session.DuplicatesToUpdate, session.DuplicatesToSkip,
		session.ValidationFailures, session.DetectionTimeMs, session.DatabaseQueriesMade,
		session.IDMatches, session.TitleMatches, session.FreshnessSkips,
	)
	if err != nil {
		return fmt.Errorf("storage error recording duplicate detection session for run %s: %w", session.RunID, err)
	}
	return nil
}
