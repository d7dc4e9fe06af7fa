package storage

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/EnergySystemsGroup/Meridian-ESG-sub002/internal/domain"
)

// UpsertStage inserts or overwrites the (run_id, stage_name) row, the write
// RunManager.UpdateStage issues on every stage transition (§4.5).
func (s *Store) UpsertStage(ctx context.Context, stage domain.Stage) error {
	stageResults, err := marshalOrNil(stage.StageResults)
	if err != nil {
		return fmt.Errorf("storage error encoding stage results: %w", err)
	}
	perfMetrics, err := marshalOrNil(stage.PerformanceMetrics)
	if err != nil {
		return fmt.Errorf("storage error encoding stage performance metrics: %w", err)
	}
	retryHistory, err := marshalOrNil(stage.RetryHistory)
	if err != nil {
		return fmt.Errorf("storage error encoding stage retry history: %w", err)
	}

	const q = `
		INSERT INTO pipeline_stages (
			run_id, stage_name, stage_order, status, job_id, started_at,
			completed_at, execution_time_ms, input_count, output_count,
			tokens_used, api_calls_made, estimated_cost_usd, stage_results,
			performance_metrics, retry_history, error_message
		) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17)
		ON CONFLICT (run_id, stage_name) DO UPDATE SET
			stage_order = EXCLUDED.stage_order,
			status = EXCLUDED.status,
			job_id = EXCLUDED.job_id,
			started_at = EXCLUDED.started_at,
			completed_at = EXCLUDED.completed_at,
			execution_time_ms = EXCLUDED.execution_time_ms,
			input_count = EXCLUDED.input_count,
			output_count = EXCLUDED.output_count,
			tokens_used = EXCLUDED.tokens_used,
			api_calls_made = EXCLUDED.api_calls_made,
			estimated_cost_usd = EXCLUDED.estimated_cost_usd,
			stage_results = EXCLUDED.stage_results,
			performance_metrics = EXCLUDED.performance_metrics,
			retry_history = EXCLUDED.retry_history,
			error_message = EXCLUDED.error_message`

	_, err = s.pool.Exec(ctx, q,
		stage.RunID, stage.Name, stage.Order, stage.Status, stage.JobID,
		stage.StartedAt, stage.CompletedAt, stage.ExecutionMs, stage.InputCount,
		stage.OutputCount, stage.TokensUsed, stage.APICallsMade, stage.EstimatedCostUSD,
		stageResults, perfMetrics, retryHistory, stage.ErrorMessage,
	)
	if err != nil {
		return fmt.Errorf("storage error upserting stage %s for run %s: %w", stage.Name, stage.RunID, err)
	}
	return nil
}

// GetStage loads one stage row by (runID, name).
func (s *Store) GetStage(ctx context.Context, runID string, name domain.StageName) (domain.Stage, error) {
	const q = `
		SELECT run_id, stage_name, stage_order, status, job_id, started_at,
		       completed_at, execution_time_ms, input_count, output_count,
		       tokens_used, api_calls_made, estimated_cost_usd, stage_results,
		       performance_metrics, retry_history, error_message
		FROM pipeline_stages WHERE run_id = $1 AND stage_name = $2`

	var (
		stage        domain.Stage
		stageName    string
		stageResults []byte
		perfMetrics  []byte
		retryHistory []byte
	)
	err := s.pool.QueryRow(ctx, q, runID, name).Scan(
		&stage.RunID, &stageName, &stage.Order, &stage.Status, &stage.JobID,
		&stage.StartedAt, &stage.CompletedAt, &stage.ExecutionMs, &stage.InputCount,
		&stage.OutputCount, &stage.TokensUsed, &stage.APICallsMade, &stage.EstimatedCostUSD,
		&stageResults, &perfMetrics, &retryHistory, &stage.ErrorMessage,
	)
	if err != nil {
		if err == pgx.ErrNoRows {
			return domain.Stage{}, fmt.Errorf("stage %s for run %s: %w", name, runID, domain.ErrNotFound)
		}
		return domain.Stage{}, fmt.Errorf("storage error loading stage %s for run %s: %w", name, runID, err)
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
