package storage

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/EnergySystemsGroup/Meridian-ESG-sub002/internal/domain"
)

// GetSource loads a Source by id, joined with its configuration row.
func (s *Store) GetSource(ctx context.Context, id string) (domain.Source, error) {
	const q = `
		SELECT s.id, s.name, s.organization, s.type, s.base_url, s.api_endpoint,
		       s.handler_type, s.auth, s.update_cadence, s.active,
		       s.force_full_reprocessing, s.last_checked_at, s.created_at,
		       s.updated_at, s.deleted_at, c.config
		FROM api_sources s
		LEFT JOIN api_source_configurations c ON c.source_id = s.id
		WHERE s.id = $1`

	row := s.pool.QueryRow(ctx, q, id)
	src, err := scanSource(row)
	if err != nil {
		if err == pgx.ErrNoRows {
			return domain.Source{}, fmt.Errorf("source %s: %w", id, domain.ErrNotFound)
		}
		return domain.Source{}, fmt.Errorf("storage error loading source %s: %w", id, err)
	}
	return src, nil
}

// ListActiveSources returns every non-deleted, active Source.
func (s *Store) ListActiveSources(ctx context.Context) ([]domain.Source, error) {
	const q = `
		SELECT s.id, s.name, s.organization, s.type, s.base_url, s.api_endpoint,
		       s.handler_type, s.auth, s.update_cadence, s.active,
		       s.force_full_reprocessing, s.last_checked_at, s.created_at,
		       s.updated_at, s.deleted_at, c.config
		FROM api_sources s
		LEFT JOIN api_source_configurations c ON c.source_id = s.id
		WHERE s.active AND s.deleted_at IS NULL
		ORDER BY s.id`

	rows, err := s.pool.Query(ctx, q)
	if err != nil {
		return nil, fmt.Errorf("storage error listing active sources: %w", err)
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

// UpdateSourceLastChecked stamps api_sources.last_checked_at.
func (s *Store) UpdateSourceLastChecked(ctx context.Context, id string, at time.Time) error {
	tag, err := s.pool.Exec(ctx, `UPDATE api_sources SET last_checked_at = $1 WHERE id = $2`, at, id)
	if err != nil {
		return fmt.Errorf("storage error updating last_checked_at for source %s: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("source %s: %w", id, domain.ErrNotFound)
	}
	return nil
}

// GetSourceConfiguration loads just the configuration column for sourceID.
func (s *Store) GetSourceConfiguration(ctx context.Context, sourceID string) (domain.SourceConfiguration, error) {
	var raw []byte
	err := s.pool.QueryRow(ctx, `SELECT config FROM api_source_configurations WHERE source_id = $1`, sourceID).Scan(&raw)
	if err != nil {
		if err == pgx.ErrNoRows {
			return domain.SourceConfiguration{}, fmt.Errorf("configuration for source %s: %w", sourceID, domain.ErrNotFound)
		}
		return domain.SourceConfiguration{}, fmt.Errorf("storage error loading configuration for source %s: %w", sourceID, err)
	}
	var cfg domain.SourceConfiguration
	if err := json.Unmarshal(raw, &cfg); err != nil {
		return domain.SourceConfiguration{}, fmt.Errorf("storage error decoding configuration for source %s: %w", sourceID, err)
	}
	return cfg, nil
}

// rowScanner is satisfied by both pgx.Row (QueryRow) and pgx.Rows (Query),
// letting scanSource serve both GetSource and ListActiveSources.
type rowScanner interface {
	Scan(dest ...any) error
}

func scanSource(row rowScanner) (domain.Source, error) {
	var (
		src       domain.Source
		auth      []byte
		cfgRaw    []byte
		typ       string
		handler   string
	)
	if err := row.Scan(
		&src.ID, &src.Name, &src.Organization, &typ, &src.BaseURL, &src.APIEndpoint,
		&handler, &auth, &src.UpdateCadence, &src.Active,
		&src.ForceFullReprocessing, &src.LastCheckedAt, &src.CreatedAt,
		&src.UpdatedAt, &src.DeletedAt, &cfgRaw,
	); err != nil {
		return domain.Source{}, err
	}
	src.Type = domain.SourceType(typ)
	src.HandlerType = domain.HandlerType(handler)

	if len(auth) > 0 {
		if err := json.Unmarshal(auth, &src.Auth); err != nil {
			return domain.Source{}, fmt.Errorf("failed to decode auth descriptor: %w", err)
		}
	}
	if len(cfgRaw) > 0 {
		if err := json.Unmarshal(cfgRaw, &src.Configuration); err != nil {
			return domain.Source{}, fmt.Errorf("failed to decode source configuration: %w", err)
		}
	}
	return src, nil
}
