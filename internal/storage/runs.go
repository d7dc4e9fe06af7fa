package storage

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/EnergySystemsGroup/Meridian-ESG-sub002/internal/domain"
)

// CreateRun inserts a new pipeline_runs row with the run's own status.
func (s *Store) CreateRun(ctx context.Context, run domain.Run) error {
	snapshot, err := marshalOrNil(run.ConfigSnapshot)
	if err != nil {
		return fmt.Errorf("storage error encoding run configuration snapshot: %w", err)
	}
	breakdown, err := marshalOrNil(run.FailureBreakdown)
	if err != nil {
		return fmt.Errorf("storage error encoding run failure breakdown: %w", err)
	}

	const q = `
		INSERT INTO pipeline_runs (
			id, source_id, pipeline_version, status, owner_id, started_at,
			last_heartbeat_at, configuration_snapshot, failure_breakdown
		) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9)`

	_, err = s.pool.Exec(ctx, q,
		run.ID, run.SourceID, run.Pipeline, run.Status, run.OwnerID,
		run.StartedAt, run.LastHeartbeatAt, snapshot, breakdown,
	)
	if err != nil {
		return fmt.Errorf("storage error creating run %s: %w", run.ID, err)
	}
	return nil
}

// GetRun loads a Run by id.
func (s *Store) GetRun(ctx context.Context, id string) (domain.Run, error) {
	const q = `
		SELECT id, source_id, pipeline_version, status, owner_id, started_at,
		       completed_at, last_heartbeat_at, total_execution_time_ms,
		       configuration_snapshot, opportunities_processed, tokens_used,
		       api_calls, opportunities_bypassed_llm, estimated_cost_usd,
		       opportunities_per_minute, tokens_per_opportunity,
		       cost_per_opportunity_usd, success_rate_percentage,
		       sla_compliance_percentage, sla_grade, failure_breakdown,
		       concurrent_processing_detected, final_results, error_details
		FROM pipeline_runs WHERE id = $1`

	row := s.pool.QueryRow(ctx, q, id)
	run, err := scanRun(row)
	if err != nil {
		if err == pgx.ErrNoRows {
			return domain.Run{}, fmt.Errorf("run %s: %w", id, domain.ErrNotFound)
		}
		return domain.Run{}, fmt.Errorf("storage error loading run %s: %w", id, err)
	}
	return run, nil
}

// UpdateRun persists run's full current state, rejecting the write with
// ErrConcurrentModification if the row's status has moved away from
// expectedStatus since the caller last read it (optimistic concurrency over
// the run's lifecycle transitions, mirroring C7's field-update pattern).
func (s *Store) UpdateRun(ctx context.Context, run domain.Run, expectedStatus domain.RunStatus) error {
	snapshot, err := marshalOrNil(run.ConfigSnapshot)
	if err != nil {
		return fmt.Errorf("storage error encoding run configuration snapshot: %w", err)
	}
	breakdown, err := marshalOrNil(run.FailureBreakdown)
	if err != nil {
		return fmt.Errorf("storage error encoding run failure breakdown: %w", err)
	}
	finalResults, err := marshalOrNil(run.FinalResults)
	if err != nil {
		return fmt.Errorf("storage error encoding run final results: %w", err)
	}
	errDetails, err := marshalOrNil(run.ErrorDetails)
	if err != nil {
		return fmt.Errorf("storage error encoding run error details: %w", err)
	}

	const q = `
		UPDATE pipeline_runs SET
			status = $1, completed_at = $2, last_heartbeat_at = $3,
			total_execution_time_ms = $4, configuration_snapshot = $5,
			opportunities_processed = $6, tokens_used = $7, api_calls = $8,
			opportunities_bypassed_llm = $9, estimated_cost_usd = $10,
			opportunities_per_minute = $11, tokens_per_opportunity = $12,
			cost_per_opportunity_usd = $13, success_rate_percentage = $14,
			sla_compliance_percentage = $15, sla_grade = $16,
			failure_breakdown = $17, concurrent_processing_detected = $18,
			final_results = $19, error_details = $20
		WHERE id = $21 AND status = $22`

	tag, err := s.pool.Exec(ctx, q,
		run.Status, run.CompletedAt, run.LastHeartbeatAt, run.TotalExecutionMs, snapshot,
		run.Totals.OpportunitiesProcessed, run.Totals.TokensUsed, run.Totals.APICalls,
		run.Totals.OpportunitiesBypassedLLM, run.Totals.EstimatedCostUSD,
		run.OpportunitiesPerMinute, run.TokensPerOpportunity,
		run.CostPerOpportunityUSD, run.SuccessRatePercentage,
		run.SLACompliancePercentage, run.SLAGrade,
		breakdown, run.ConcurrentProcessingDetected,
		finalResults, errDetails,
		run.ID, expectedStatus,
	)
	if err != nil {
		return fmt.Errorf("storage error updating run %s: %w", run.ID, err)
	}
	if tag.RowsAffected() == 0 {
		exists, checkErr := s.runExists(ctx, run.ID)
		if checkErr != nil {
			return checkErr
		}
		if !exists {
			return fmt.Errorf("run %s: %w", run.ID, domain.ErrNotFound)
		}
		return fmt.Errorf("run %s: %w", run.ID, domain.ErrConcurrentModification)
	}
	return nil
}

// ListOrphanedRuns returns every non-terminal run whose heartbeat has gone
// stale (older than heartbeatOlderThan), the set RunManager.CleanupOrphanedRuns
// sweeps (§4.5).
func (s *Store) ListOrphanedRuns(ctx context.Context, heartbeatOlderThan time.Time) ([]domain.Run, error) {
	const q = `
		SELECT id, source_id, pipeline_version, status, owner_id, started_at,
		       completed_at, last_heartbeat_at, total_execution_time_ms,
		       configuration_snapshot, opportunities_processed, tokens_used,
		       api_calls, opportunities_bypassed_llm, estimated_cost_usd,
		       opportunities_per_minute, tokens_per_opportunity,
		       cost_per_opportunity_usd, success_rate_percentage,
		       sla_compliance_percentage, sla_grade, failure_breakdown,
		       concurrent_processing_detected, final_results, error_details
		FROM pipeline_runs
		WHERE status IN ('started', 'processing') AND last_heartbeat_at < $1
		ORDER BY last_heartbeat_at`

	rows, err := s.pool.Query(ctx, q, heartbeatOlderThan)
	if err != nil {
		return nil, fmt.Errorf("storage error listing orphaned runs: %w", err)
	}
	defer rows.Close()

	var runs []domain.Run
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, fmt.Errorf("storage error scanning run row: %w", err)
		}
		runs = append(runs, run)
	}
	return runs, rows.Err()
}

func (s *Store) runExists(ctx context.Context, id string) (bool, error) {
	var exists bool
	err := s.pool.QueryRow(ctx, `SELECT EXISTS(SELECT 1 FROM pipeline_runs WHERE id = $1)`, id).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("storage error checking run %s existence: %w", id, err)
	}
	return exists, nil
}

func scanRun(row rowScanner) (domain.Run, error) {
	var (
		run          domain.Run
		status       string
		snapshot     []byte
		breakdown    []byte
		finalResults []byte
		errDetails   []byte
	)
	if err := row.Scan(
		&run.ID, &run.SourceID, &run.Pipeline, &status, &run.OwnerID, &run.StartedAt,
		&run.CompletedAt, &run.LastHeartbeatAt, &run.TotalExecutionMs, &snapshot,
		&run.Totals.OpportunitiesProcessed, &run.Totals.TokensUsed, &run.Totals.APICalls,
		&run.Totals.OpportunitiesBypassedLLM, &run.Totals.EstimatedCostUSD,
		&run.OpportunitiesPerMinute, &run.TokensPerOpportunity,
		&run.CostPerOpportunityUSD, &run.SuccessRatePercentage,
		&run.SLACompliancePercentage, &run.SLAGrade, &breakdown,
		&run.ConcurrentProcessingDetected, &finalResults, &errDetails,
	); err != nil {
		return domain.Run{}, err
	}
	run.Status = domain.RunStatus(status)

	if len(snapshot) > 0 {
		if err := json.Unmarshal(snapshot, &run.ConfigSnapshot); err != nil {
			return domain.Run{}, fmt.Errorf("failed to decode run configuration snapshot: %w", err)
		}
	}
	if len(breakdown) > 0 {
		if err := json.Unmarshal(breakdown, &run.FailureBreakdown); err != nil {
			return domain.Run{}, fmt.Errorf("failed to decode run failure breakdown: %w", err)
		}
	}
	if len(finalResults) > 0 {
		if err := json.Unmarshal(finalResults, &run.FinalResults); err != nil {
			return domain.Run{}, fmt.Errorf("failed to decode run final results: %w", err)
		}
	}
	if len(errDetails) > 0 {
		if err := json.Unmarshal(errDetails, &run.ErrorDetails); err != nil {
			return domain.Run{}, fmt.Errorf("failed to decode run error details: %w", err)
		}
	}
	return run, nil
}
