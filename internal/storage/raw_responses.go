package storage

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/EnergySystemsGroup/Meridian-ESG-sub002/internal/domain"
)

// SaveRawResponse stores the raw bytes an extractor fetched from a source's
// API, keyed by a generated id, so the admin surface's
// GET /raw-responses/{id} route (§6) can serve it back for debugging.
func (s *Store) SaveRawResponse(ctx context.Context, runID string, sourceID string, payload []byte) (string, error) {
	id := uuid.NewString()
	const q = `INSERT INTO api_raw_responses (id, run_id, source_id, payload) VALUES ($1,$2,$3,$4)`
	if _, err := s.pool.Exec(ctx, q, id, runID, sourceID, payload); err != nil {
		return "", fmt.Errorf("storage error saving raw response for run %s: %w", runID, err)
	}
	return id, nil
}

// GetRawResponse loads a previously saved raw response payload by id.
func (s *Store) GetRawResponse(ctx context.Context, id string) ([]byte, error) {
	var payload []byte
	err := s.pool.QueryRow(ctx, `SELECT payload FROM api_raw_responses WHERE id = $1`, id).Scan(&payload)
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, fmt.Errorf("raw response %s: %w", id, domain.ErrNotFound)
		}
		return nil, fmt.Errorf("storage error loading raw response %s: %w", id, err)
	}
	return payload, nil
}
