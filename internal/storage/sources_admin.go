package storage

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/EnergySystemsGroup/Meridian-ESG-sub002/internal/domain"
)

// These methods sit outside contracts.Datastore: they back internal/httpapi's
// admin surface (§6's POST/PUT /sources routes) rather than the coordinator
// pipeline, which only ever reads a Source it didn't register.

// ListSources returns every non-deleted Source regardless of Active, the
// admin surface's GET /sources listing (§6) — unlike ListActiveSources,
// which the coordinator's next-due selection uses.
func (s *Store) ListSources(ctx context.Context) ([]domain.Source, error) {
	const q = `
		SELECT s.id, s.name, s.organization, s.type, s.base_url, s.api_endpoint,
		       s.handler_type, s.auth, s.update_cadence, s.active,
		       s.force_full_reprocessing, s.last_checked_at, s.created_at,
		       s.updated_at, s.deleted_at, c.config
		FROM api_sources s
		LEFT JOIN api_source_configurations c ON c.source_id = s.id
		WHERE s.deleted_at IS NULL
		ORDER BY s.id`

	rows, err := s.pool.Query(ctx, q)
	if err != nil {
		return nil, fmt.Errorf("storage error listing sources: %w", err)
	}
	defer rows.Close()

	var sources []domain.Source
	for rows.Next() {
		src, err := scanSource(rows)
		if err != nil {
			return nil, fmt.Errorf("storage error scanning source row: %w", err)
		}
		sources = append(sources, src)
	}
	return sources, rows.Err()
}

// CreateSource inserts a new Source and its configuration row.
func (s *Store) CreateSource(ctx context.Context, src domain.Source) error {
	if err := src.Validate(); err != nil {
		return err
	}
	auth, err := json.Marshal(src.Auth)
	if err != nil {
		return fmt.Errorf("storage error encoding auth descriptor: %w", err)
	}
	cfg, err := json.Marshal(src.Configuration)
	if err != nil {
		return fmt.Errorf("storage error encoding source configuration: %w", err)
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("storage error starting transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	const insertSource = `
		INSERT INTO api_sources (
			id, name, organization, type, base_url, api_endpoint, handler_type,
			auth, update_cadence, active, force_full_reprocessing, created_at, updated_at
		) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,now(),now())`
	if _, err := tx.Exec(ctx, insertSource,
		src.ID, src.Name, src.Organization, src.Type, src.BaseURL, src.APIEndpoint,
		src.HandlerType, auth, src.UpdateCadence, src.Active, src.ForceFullReprocessing,
	); err != nil {
		return fmt.Errorf("storage error inserting source %s: %w", src.ID, err)
	}

	const insertConfig = `
		INSERT INTO api_source_configurations (source_id, config, updated_at)
		VALUES ($1, $2, now())`
	if _, err := tx.Exec(ctx, insertConfig, src.ID, cfg); err != nil {
		return fmt.Errorf("storage error inserting configuration for source %s: %w", src.ID, err)
	}

	return tx.Commit(ctx)
}

// UpdateSource overwrites an existing Source and its configuration row.
func (s *Store) UpdateSource(ctx context.Context, src domain.Source) error {
	if err := src.Validate(); err != nil {
		return err
	}
	auth, err := json.Marshal(src.Auth)
	if err != nil {
		return fmt.Errorf("storage error encoding auth descriptor: %w", err)
	}
	cfg, err := json.Marshal(src.Configuration)
	if err != nil {
		return fmt.Errorf("storage error encoding source configuration: %w", err)
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("storage error starting transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	const updateSource = `
		UPDATE api_sources SET
			name = $1, organization = $2, type = $3, base_url = $4, api_endpoint = $5,
			handler_type = $6, auth = $7, update_cadence = $8, active = $9,
			force_full_reprocessing = $10, updated_at = now()
		WHERE id = $11 AND deleted_at IS NULL`
	tag, err := tx.Exec(ctx, updateSource,
		src.Name, src.Organization, src.Type, src.BaseURL, src.APIEndpoint,
		src.HandlerType, auth, src.UpdateCadence, src.Active, src.ForceFullReprocessing, src.ID,
	)
	if err != nil {
		return fmt.Errorf("storage error updating source %s: %w", src.ID, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("source %s: %w", src.ID, domain.ErrNotFound)
	}

	const upsertConfig = `
		INSERT INTO api_source_configurations (source_id, config, updated_at)
		VALUES ($1, $2, now())
		ON CONFLICT (source_id) DO UPDATE SET config = EXCLUDED.config, updated_at = now()`
	if _, err := tx.Exec(ctx, upsertConfig, src.ID, cfg); err != nil {
		return fmt.Errorf("storage error updating configuration for source %s: %w", src.ID, err)
	}

	return tx.Commit(ctx)
}

// DeleteSource soft-deletes a Source by stamping deleted_at.
func (s *Store) DeleteSource(ctx context.Context, id string) error {
	now := time.Now()
	tag, err := s.pool.Exec(ctx, `UPDATE api_sources SET deleted_at = $1, active = FALSE WHERE id = $2 AND deleted_at IS NULL`, now, id)
	if err != nil {
		return fmt.Errorf("storage error deleting source %s: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("source %s: %w", id, domain.ErrNotFound)
	}
	return nil
}
