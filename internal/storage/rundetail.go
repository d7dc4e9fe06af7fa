package storage

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/EnergySystemsGroup/Meridian-ESG-sub002/internal/domain"
)

// These read-only aggregations back internal/httpapi's GET /runs/{id}
// route (§6: "run detail including stages, paths, detection session"); none
// of them are part of contracts.Datastore since the coordinator itself never
// needs a run's full stage/path list, only one stage at a time.

// ListStagesByRun returns every pipeline_stages row for runID, ordered by
// stage_order.
func (s *Store) ListStagesByRun(ctx context.Context, runID string) ([]domain.Stage, error) {
	const q = `
		SELECT run_id, stage_name, stage_order, status, job_id, started_at,
		       completed_at, execution_time_ms, input_count, output_count,
		       tokens_used, api_calls_made, estimated_cost_usd, stage_results,
		       performance_metrics, retry_history, error_message
		FROM pipeline_stages WHERE run_id = $1 ORDER BY stage_order`

	rows, err := s.pool.Query(ctx, q, runID)
	if err != nil {
		return nil, fmt.Errorf("storage error listing stages for run %s: %w", runID, err)
	}
	defer rows.Close()

	var stages []domain.Stage
	for rows.Next() {
		stage, err := scanStage(rows)
		if err != nil {
			return nil, fmt.Errorf("storage error scanning stage row: %w", err)
		}
		stages = append(stages, stage)
	}
	return stages, rows.Err()
}

func scanStage(row rowScanner) (domain.Stage, error) {
	var (
		stage        domain.Stage
		stageName    string
		stageResults []byte
		perfMetrics  []byte
		retryHistory []byte
	)
	if err := row.Scan(
		&stage.RunID, &stageName, &stage.Order, &stage.Status, &stage.JobID,
		&stage.StartedAt, &stage.CompletedAt, &stage.ExecutionMs, &stage.InputCount,
		&stage.OutputCount, &stage.TokensUsed, &stage.APICallsMade, &stage.EstimatedCostUSD,
		&stageResults, &perfMetrics, &retryHistory, &stage.ErrorMessage,
	); err != nil {
		return domain.Stage{}, err
	}
	stage.Name = domain.StageName(stageName)

	if len(stageResults) > 0 {
		if err := json.Unmarshal(stageResults, &stage.StageResults); err != nil {
			return domain.Stage{}, fmt.Errorf("failed to decode stage results: %w", err)
		}
	}
	if len(perfMetrics) > 0 {
		if err := json.Unmarshal(perfMetrics, &stage.PerformanceMetrics); err != nil {
			return domain.Stage{}, fmt.Errorf("failed to decode stage performance metrics: %w", err)
		}
	}
	if len(retryHistory) > 0 {
		if err := json.Unmarshal(retryHistory, &stage.RetryHistory); err != nil {
			return domain.Stage{}, fmt.Errorf("failed to decode stage retry history: %w", err)
		}
	}
	return stage, nil
}

// ListOpportunityPathsByRun returns every opportunity_processing_paths row
// recorded for runID.
func (s *Store) ListOpportunityPathsByRun(ctx context.Context, runID string) ([]domain.OpportunityPath, error) {
	const q = `
		SELECT run_id, api_opportunity_id, title, source_id, path_type, path_reason,
		       stages_processed, final_outcome, tokens_used, processing_time_ms,
		       cost_usd, duplicate_detected, existing_opportunity_id, changes_detected,
		       duplicate_detection_method, quality_score
		FROM opportunity_processing_paths WHERE run_id = $1 ORDER BY api_opportunity_id`

	rows, err := s.pool.Query(ctx, q, runID)
	if err != nil {
		return nil, fmt.Errorf("storage error listing opportunity paths for run %s: %w", runID, err)
	}
	defer rows.Close()

	var paths []domain.OpportunityPath
	for rows.Next() {
		var (
			p            domain.OpportunityPath
			pathType     string
			finalOutcome string
			stages       []byte
			changes      []byte
		)
		if err := rows.Scan(
			&p.RunID, &p.APIOpportunityID, &p.Title, &p.SourceID, &pathType, &p.PathReason,
			&stages, &finalOutcome, &p.TokensUsed, &p.ProcessingMs,
			&p.CostUSD, &p.DuplicateDetected, &p.ExistingOpportunityID, &changes,
			&p.DuplicateDetectionMethod, &p.QualityScore,
		); err != nil {
			return nil, fmt.Errorf("storage error scanning opportunity path row: %w", err)
		}
		p.PathType = domain.PathType(pathType)
		p.FinalOutcome = domain.FinalOutcome(finalOutcome)
		if len(stages) > 0 {
			if err := json.Unmarshal(stages, &p.StagesProcessed); err != nil {
				return nil, fmt.Errorf("failed to decode stages_processed: %w", err)
			}
		}
		if len(changes) > 0 {
			if err := json.Unmarshal(changes, &p.ChangesDetected); err != nil {
				return nil, fmt.Errorf("failed to decode changes_detected: %w", err)
			}
		}
		paths = append(paths, p)
	}
	return paths, rows.Err()
}

// GetDuplicateDetectionSessionByRun loads the single duplicate_detection_sessions
// row for runID, if early_duplicate_detector ran.
func (s *Store) GetDuplicateDetectionSessionByRun(ctx context.Context, runID string) (domain.DuplicateDetectionSession, error) {
	const q = `
		SELECT run_id, source_id, total_opportunities_checked, new_opportunities,
		       duplicates_to_update, duplicates_to_skip, validation_failures,
		       detection_time_ms, database_queries_made, id_matches, title_matches,
		       freshness_skips
		FROM duplicate_detection_sessions WHERE run_id = $1`

	var d domain.DuplicateDetectionSession
	err := s.pool.QueryRow(ctx, q, runID).Scan(
		&d.RunID, &d.SourceID, &d.TotalOpportunitiesChecked, &d.NewOpportunities,
		&d.DuplicatesToUpdate, &d.DuplicatesToSkip, &d.ValidationFailures,
		&d.DetectionTimeMs, &d.DatabaseQueriesMade, &d.IDMatches, &d.TitleMatches,
		&d.FreshnessSkips,
	)
	if err != nil {
		if err == pgx.ErrNoRows {
			return domain.DuplicateDetectionSession{}, fmt.Errorf("duplicate detection session for run %s: %w", runID, domain.ErrNotFound)
		}
		return domain.DuplicateDetectionSession{}, fmt.Errorf("storage error loading duplicate detection session for run %s: %w", runID, err)
	}
	return d, nil
}
