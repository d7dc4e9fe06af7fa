package storage

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/EnergySystemsGroup/Meridian-ESG-sub002/internal/domain"
)

// globalForceFlagKey is the system_config row forceflag.Flag reads/writes
// for the process-wide override (§6's PUT /system-config/
// global_force_full_reprocessing route).
const globalForceFlagKey = "global_force_full_reprocessing"

// GetSourceForceFlag reads api_sources.force_full_reprocessing, fulfilling
// forceflag.Store.
func (s *Store) GetSourceForceFlag(ctx context.Context, sourceID string) (bool, error) {
	var value bool
	err := s.pool.QueryRow(ctx, `SELECT force_full_reprocessing FROM api_sources WHERE id = $1`, sourceID).Scan(&value)
	if err != nil {
		if err == pgx.ErrNoRows {
			return false, fmt.Errorf("source %s: %w", sourceID, domain.ErrNotFound)
		}
		return false, fmt.Errorf("storage error reading source force flag %s: %w", sourceID, err)
	}
	return value, nil
}

// SetSourceForceFlag writes api_sources.force_full_reprocessing.
func (s *Store) SetSourceForceFlag(ctx context.Context, sourceID string, value bool) error {
	tag, err := s.pool.Exec(ctx, `UPDATE api_sources SET force_full_reprocessing = $1 WHERE id = $2`, value, sourceID)
	if err != nil {
		return fmt.Errorf("storage error writing source force flag %s: %w", sourceID, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("source %s: %w", sourceID, domain.ErrNotFound)
	}
	return nil
}

// GetGlobalForceFlag reads the process-wide override from system_config.
func (s *Store) GetGlobalForceFlag(ctx context.Context) (bool, error) {
	var raw []byte
	err := s.pool.QueryRow(ctx, `SELECT value FROM system_config WHERE key = $1`, globalForceFlagKey).Scan(&raw)
	if err != nil {
		if err == pgx.ErrNoRows {
			return false, nil
		}
		return false, fmt.Errorf("storage error reading global force flag: %w", err)
	}
	var value bool
	if err := json.Unmarshal(raw, &value); err != nil {
		return false, fmt.Errorf("storage error decoding global force flag: %w", err)
	}
	return value, nil
}

// SetGlobalForceFlag writes the process-wide override into system_config.
func (s *Store) SetGlobalForceFlag(ctx context.Context, value bool) error {
	raw, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("storage error encoding global force flag: %w", err)
	}
	const q = `
		INSERT INTO system_config (key, value, updated_at) VALUES ($1, $2, now())
		ON CONFLICT (key) DO UPDATE SET value = EXCLUDED.value, updated_at = now()`
	if _, err := s.pool.Exec(ctx, q, globalForceFlagKey, raw); err != nil {
		return fmt.Errorf("storage error writing global force flag: %w", err)
	}
	return nil
}
