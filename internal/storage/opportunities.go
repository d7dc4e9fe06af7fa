package storage

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/EnergySystemsGroup/Meridian-ESG-sub002/internal/domain"
)

// FindOpportunitiesByAPIID batches a lookup of existing opportunities for
// sourceID by their api_opportunity_id, the primary identity match C6 tries
// first (§4.6 step 2).
func (s *Store) FindOpportunitiesByAPIID(ctx context.Context, sourceID string, apiOpportunityIDs []string) (map[string]domain.Opportunity, error) {
	if len(apiOpportunityIDs) == 0 {
		return map[string]domain.Opportunity{}, nil
	}
	const q = `
		SELECT id, source_id, api_opportunity_id, title, description, funding_type,
		       agency, min_award, max_award, total_funding, open_date, close_date,
		       eligibility, url, analysis, created_at, updated_at
		FROM funding_opportunities
		WHERE source_id = $1 AND api_opportunity_id = ANY($2)`

	rows, err := s.pool.Query(ctx, q, sourceID, apiOpportunityIDs)
	if err != nil {
		return nil, fmt.Errorf("storage error finding opportunities by api id: %w", err)
	}
	defer rows.Close()

	out := make(map[string]domain.Opportunity, len(apiOpportunityIDs))
	for rows.Next() {
		opp, err := scanOpportunity(rows)
		if err != nil {
			return nil, fmt.Errorf("storage error scanning opportunity row: %w", err)
		}
		out[opp.APIOpportunityID] = opp
	}
	return out, rows.Err()
}

// FindOpportunitiesByNormalizedTitle batches the secondary exact
// normalized_title match C6 falls back to for records its api_opportunity_id
// lookup did not match (§4.6 step 2).
func (s *Store) FindOpportunitiesByNormalizedTitle(ctx context.Context, sourceID string, normalizedTitles []string) (map[string]domain.Opportunity, error) {
	if len(normalizedTitles) == 0 {
		return map[string]domain.Opportunity{}, nil
	}
	const q = `
		SELECT id, source_id, api_opportunity_id, title, description, funding_type,
		       agency, min_award, max_award, total_funding, open_date, close_date,
		       eligibility, url, analysis, created_at, updated_at
		FROM funding_opportunities
		WHERE source_id = $1 AND normalized_title = ANY($2)`

	rows, err := s.pool.Query(ctx, q, sourceID, normalizedTitles)
	if err != nil {
		return nil, fmt.Errorf("storage error finding opportunities by normalized title: %w", err)
	}
	defer rows.Close()

	out := make(map[string]domain.Opportunity, len(normalizedTitles))
	for rows.Next() {
		opp, err := scanOpportunity(rows)
		if err != nil {
			return nil, fmt.Errorf("storage error scanning opportunity row: %w", err)
		}
		out[domain.NormalizeTitle(opp.Title)] = opp
	}
	return out, rows.Err()
}

// UpsertOpportunity inserts opp, or overwrites the existing row for the same
// (source_id, api_opportunity_id) pair — the idempotent write StorageAgent
// relies on (§4.10).
func (s *Store) UpsertOpportunity(ctx context.Context, opp domain.Opportunity) error {
	if opp.ID == "" {
		opp.ID = uuid.NewString()
	}
	analysis, err := marshalOrNil(opp.Analysis)
	if err != nil {
		return fmt.Errorf("storage error encoding opportunity analysis: %w", err)
	}

	const q = `
		INSERT INTO funding_opportunities (
			id, source_id, api_opportunity_id, title, normalized_title, description,
			funding_type, agency, min_award, max_award, total_funding, open_date,
			close_date, eligibility, url, analysis, created_at, updated_at
		) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,now(),now())
		ON CONFLICT (source_id, api_opportunity_id) DO UPDATE SET
			title = EXCLUDED.title,
			normalized_title = EXCLUDED.normalized_title,
			description = EXCLUDED.description,
			funding_type = EXCLUDED.funding_type,
			agency = EXCLUDED.agency,
			min_award = EXCLUDED.min_award,
			max_award = EXCLUDED.max_award,
			total_funding = EXCLUDED.total_funding,
			open_date = EXCLUDED.open_date,
			close_date = EXCLUDED.close_date,
			eligibility = EXCLUDED.eligibility,
			url = EXCLUDED.url,
			analysis = EXCLUDED.analysis,
			updated_at = now()`

	_, err = s.pool.Exec(ctx, q,
		opp.ID, opp.SourceID, opp.APIOpportunityID, opp.Title, domain.NormalizeTitle(opp.Title),
		opp.Description, opp.FundingType, opp.Agency, opp.MinAward, opp.MaxAward,
		opp.TotalFunding, opp.OpenDate, opp.CloseDate, opp.Eligibility, opp.URL, analysis,
	)
	if err != nil {
		return fmt.Errorf("storage error upserting opportunity %s: %w", opp.APIOpportunityID, err)
	}
	return nil
}

// UpdateOpportunityFields applies a conditional partial update (C7, §4.7):
// only the named fields are written, updated_at is stamped to now, and the
// write is rejected with ErrConcurrentModification if the row's updated_at
// has moved since the caller last read it.
func (s *Store) UpdateOpportunityFields(ctx context.Context, opportunityID string, fields map[string]any, expectedUpdatedAt time.Time) error {
	if len(fields) == 0 {
		return nil
	}

	allowed := map[string]bool{
		"title": true, "description": true, "funding_type": true, "agency": true,
		"min_award": true, "max_award": true, "total_funding": true,
		"open_date": true, "close_date": true, "eligibility": true, "url": true,
		"analysis": true,
	}

	setClauses := make([]string, 0, len(fields)+1)
	args := make([]any, 0, len(fields)+3)
	i := 1
	for name, value := range fields {
		if !allowed[name] {
			return fmt.Errorf("storage error: field %q is not updatable", name)
		}
		setClauses = append(setClauses, fmt.Sprintf("%s = $%d", name, i))
		args = append(args, value)
		i++
	}
	setClauses = append(setClauses, "updated_at = now()")

	args = append(args, opportunityID, expectedUpdatedAt)
	q := fmt.Sprintf(
		"UPDATE funding_opportunities SET %s WHERE id = $%d AND updated_at = $%d",
		strings.Join(setClauses, ", "), i, i+1,
	)

	tag, err := s.pool.Exec(ctx, q, args...)
	if err != nil {
		return fmt.Errorf("storage error updating opportunity %s: %w", opportunityID, err)
	}
	if tag.RowsAffected() == 0 {
		exists, checkErr := s.opportunityExists(ctx, opportunityID)
		if checkErr != nil {
			return checkErr
		}
		if !exists {
			return fmt.Errorf("opportunity %s: %w", opportunityID, domain.ErrNotFound)
		}
		return fmt.Errorf("opportunity %s: %w", opportunityID, domain.ErrConcurrentModification)
	}
	return nil
}

func (s *Store) opportunityExists(ctx context.Context, id string) (bool, error) {
	var exists bool
	err := s.pool.QueryRow(ctx, `SELECT EXISTS(SELECT 1 FROM funding_opportunities WHERE id = $1)`, id).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("storage error checking opportunity %s existence: %w", id, err)
	}
	return exists, nil
}

func scanOpportunity(rows rowScanner) (domain.Opportunity, error) {
	var opp domain.Opportunity
	var analysis []byte
	if err := rows.Scan(
		&opp.ID, &opp.SourceID, &opp.APIOpportunityID, &opp.Title, &opp.Description,
		&opp.FundingType, &opp.Agency, &opp.MinAward, &opp.MaxAward, &opp.TotalFunding,
		&opp.OpenDate, &opp.CloseDate, &opp.Eligibility, &opp.URL, &analysis,
		&opp.CreatedAt, &opp.UpdatedAt,
	); err != nil {
		return domain.Opportunity{}, err
	}
	if len(analysis) > 0 {
		if err := json.Unmarshal(analysis, &opp.Analysis); err != nil {
			return domain.Opportunity{}, fmt.Errorf("failed to decode opportunity analysis: %w", err)
		}
	}
	return opp, nil
}

func marshalOrNil(v any) ([]byte, error) {
	if v == nil {
		return nil, nil
	}
	return json.Marshal(v)
}
