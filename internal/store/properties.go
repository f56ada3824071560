package store

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/jmoiron/sqlx"

	"github.com/user/tagwatch/internal/model"
)

// PropertyRepo reads the properties table. Properties are
// managed by an external collaborator (the dashboard, out of scope here);
// this repository is read-only.
type PropertyRepo struct {
	db *sqlx.DB
}

type propertyRow struct {
	ID                   string         `db:"id"`
	DisplayName          string         `db:"display_name"`
	TargetURL            string         `db:"target_url"`
	ExpectedAnalyticsID  sql.NullString `db:"expected_analytics_id"`
	ExpectedTagManagerID sql.NullString `db:"expected_tag_manager_id"`
	UsesConsentMode      bool           `db:"uses_consent_mode"`
	Slug                 string         `db:"slug"`
	IsActive             bool           `db:"is_active"`
}

func (r propertyRow) toModel() model.Property {
	return model.Property{
		ID:                   r.ID,
		DisplayName:          r.DisplayName,
		TargetURL:            r.TargetURL,
		ExpectedAnalyticsID:  r.ExpectedAnalyticsID.String,
		ExpectedTagManagerID: r.ExpectedTagManagerID.String,
		UsesConsentMode:      r.UsesConsentMode,
		Slug:                 r.Slug,
		IsActive:             r.IsActive,
	}
}

// ListActive returns every property with is_active = true, ordered by id so
// repeated runs enumerate the queue identically (property.Source's
// contract).
func (r *PropertyRepo) ListActive(ctx context.Context) ([]model.Property, error) {
	const q = `
		SELECT id, display_name, target_url, expected_analytics_id,
		       expected_tag_manager_id, uses_consent_mode, slug, is_active
		FROM properties
		WHERE is_active = true
		ORDER BY id`

	var rows []propertyRow
	if err := r.db.SelectContext(ctx, &rows, q); err != nil {
		return nil, fmt.Errorf("store: list active properties: %w", err)
	}

	out := make([]model.Property, 0, len(rows))
	for _, row := range rows {
		out = append(out, row.toModel())
	}
	return out, nil
}

// Get fetches a single property by id, used by the Retry Queue Processor
// to rebuild the target for a queued entry.
func (r *PropertyRepo) Get(ctx context.Context, id string) (model.Property, error) {
	const q = `
		SELECT id, display_name, target_url, expected_analytics_id,
		       expected_tag_manager_id, uses_consent_mode, slug, is_active
		FROM properties WHERE id = $1`

	var row propertyRow
	if err := r.db.GetContext(ctx, &row, q, id); err != nil {
		return model.Property{}, fmt.Errorf("store: get property %s: %w", id, err)
	}
	return row.toModel(), nil
}
