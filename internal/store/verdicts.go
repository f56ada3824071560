package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/user/tagwatch/internal/model"
)

// VerdictRepo persists the verdicts table, unique on
// (run_id, property_id, phase). It implements scheduler.VerdictStore
// directly, so *VerdictRepo can be passed to scheduler.New without an
// adapter.
type VerdictRepo struct {
	db *sqlx.DB
}

type verdictDetails struct {
	NavigationStatus    int                              `json:"navigationStatus"`
	NavigationFinalURL  string                           `json:"navigationFinalUrl"`
	Redirected          bool                             `json:"redirected"`
	AnalyticsIDCheck    model.IdCheckResult              `json:"analyticsIdCheck"`
	TagManagerIDCheck   model.IdCheckResult              `json:"tagManagerIdCheck"`
	PageViewCheck       model.PageViewResult             `json:"pageViewCheck"`
	ConsentModeObserved bool                             `json:"consentModeObserved"`
	ExtractionSource    model.ExtractionMetrics          `json:"extractionSource"`
}

type verdictRow struct {
	ID                  string         `db:"id"`
	RunID               string         `db:"run_id"`
	PropertyID          string         `db:"property_id"`
	Phase               int            `db:"phase"`
	Status              string         `db:"status"`
	AnalyticsIDActual   sql.NullString `db:"analytics_id_actual"`
	TagManagerIDsActual []byte         `db:"tag_manager_ids_actual"`
	PageViewDetected    bool           `db:"page_view_detected"`
	HasIssues           bool           `db:"has_issues"`
	IssueKinds          []byte         `db:"issue_kinds"`
	IssueSummary        sql.NullString `db:"issue_summary"`
	ScreenshotURL       sql.NullString `db:"screenshot_url"`
	DurationMs          int64          `db:"duration_ms"`
	Details             []byte         `db:"details"`
	CreatedAt           time.Time      `db:"created_at"`
}

func toVerdictRow(v model.Verdict) (verdictRow, error) {
	details := verdictDetails{
		NavigationStatus:    v.NavigationStatus,
		NavigationFinalURL:  v.NavigationFinalURL,
		Redirected:          v.Redirected,
		AnalyticsIDCheck:    v.AnalyticsIDCheck,
		TagManagerIDCheck:   v.TagManagerIDCheck,
		PageViewCheck:       v.PageViewCheck,
		ConsentModeObserved: v.ConsentModeObserved,
		ExtractionSource:    v.ExtractionSource,
	}
	detailsJSON, err := json.Marshal(details)
	if err != nil {
		return verdictRow{}, fmt.Errorf("marshal verdict details: %w", err)
	}

	tagManagerIDs := v.TagManagerIDCheck.AllFound
	tagManagerJSON, err := json.Marshal(tagManagerIDs)
	if err != nil {
		return verdictRow{}, fmt.Errorf("marshal tag manager ids: %w", err)
	}

	kinds := make([]string, 0, len(v.Issues))
	var summary string
	for _, iss := range v.Issues {
		kinds = append(kinds, string(iss.Kind))
		if summary == "" {
			summary = iss.Message
		}
	}
	kindsJSON, err := json.Marshal(kinds)
	if err != nil {
		return verdictRow{}, fmt.Errorf("marshal issue kinds: %w", err)
	}

	return verdictRow{
		ID:                  uuid.NewString(),
		RunID:               v.RunID,
		PropertyID:          v.PropertyID,
		Phase:               int(v.Phase),
		Status:              string(v.Status),
		AnalyticsIDActual:   sql.NullString{String: v.AnalyticsIDCheck.ChosenActual, Valid: v.AnalyticsIDCheck.ChosenActual != ""},
		TagManagerIDsActual: tagManagerJSON,
		PageViewDetected:    v.PageViewCheck.Count > 0,
		HasIssues:           len(v.Issues) > 0,
		IssueKinds:          kindsJSON,
		IssueSummary:        sql.NullString{String: summary, Valid: summary != ""},
		ScreenshotURL:       sql.NullString{String: v.ScreenshotRef, Valid: v.ScreenshotRef != ""},
		DurationMs:          v.WallClockMs,
		Details:             detailsJSON,
		CreatedAt:            time.Now(),
	}, nil
}

// Upsert inserts a verdict row, or replaces it if the existing row is the
// Phase-1 timeout placeholder being superseded by the real Phase-2 result —
// the same overwrite-once contract internal/tempcache enforces in memory.
func (r *VerdictRepo) Upsert(ctx context.Context, v model.Verdict) error {
	row, err := toVerdictRow(v)
	if err != nil {
		return fmt.Errorf("store: upsert verdict %s/%s: %w", v.RunID, v.PropertyID, err)
	}

	const q = `
		INSERT INTO verdicts (id, run_id, property_id, phase, status, analytics_id_actual,
		                       tag_manager_ids_actual, page_view_detected, has_issues, issue_kinds,
		                       issue_summary, screenshot_url, duration_ms, details, created_at)
		VALUES (:id, :run_id, :property_id, :phase, :status, :analytics_id_actual,
		        :tag_manager_ids_actual, :page_view_detected, :has_issues, :issue_kinds,
		        :issue_summary, :screenshot_url, :duration_ms, :details, :created_at)
		ON CONFLICT (run_id, property_id, phase) DO UPDATE SET
			status = EXCLUDED.status,
			analytics_id_actual = EXCLUDED.analytics_id_actual,
			tag_manager_ids_actual = EXCLUDED.tag_manager_ids_actual,
			page_view_detected = EXCLUDED.page_view_detected,
			has_issues = EXCLUDED.has_issues,
			issue_kinds = EXCLUDED.issue_kinds,
			issue_summary = EXCLUDED.issue_summary,
			screenshot_url = EXCLUDED.screenshot_url,
			duration_ms = EXCLUDED.duration_ms,
			details = EXCLUDED.details
		WHERE verdicts.status = 'timeout'`

	if _, err := r.db.NamedExecContext(ctx, q, row); err != nil {
		return fmt.Errorf("store: upsert verdict %s/%s: %w", v.RunID, v.PropertyID, err)
	}
	return nil
}

// PersistTimeoutVerdict satisfies scheduler.VerdictStore: it durably records
// a Phase-1 timeout placeholder the instant it happens, independent of the
// Batch Uploader's later flush of the Temp Cache.
func (r *VerdictRepo) PersistTimeoutVerdict(ctx context.Context, v model.Verdict) error {
	return r.Upsert(ctx, v)
}

// TimeoutPropertyIDs satisfies scheduler.VerdictStore: every propertyId with
// a recorded Phase-1 timeout verdict for runID, used to rebuild the Phase-2
// queue after a restart.
func (r *VerdictRepo) TimeoutPropertyIDs(ctx context.Context, runID string) ([]string, error) {
	const q = `
		SELECT property_id FROM verdicts
		WHERE run_id = $1 AND phase = 1 AND status = 'timeout'
		ORDER BY property_id`

	var ids []string
	if err := r.db.SelectContext(ctx, &ids, q, runID); err != nil {
		return nil, fmt.Errorf("store: timeout property ids for run %s: %w", runID, err)
	}
	return ids, nil
}

// BatchInsert is the Batch Uploader's chunked verdict flush:
// every verdict in chunk is upserted in a single transaction so a chunk
// either lands whole or not at all.
func (r *VerdictRepo) BatchInsert(ctx context.Context, verdicts []model.Verdict) error {
	if len(verdicts) == 0 {
		return nil
	}

	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("store: begin verdict batch: %w", err)
	}
	defer tx.Rollback()

	for _, v := range verdicts {
		row, err := toVerdictRow(v)
		if err != nil {
			return fmt.Errorf("store: batch insert verdict %s/%s: %w", v.RunID, v.PropertyID, err)
		}
		const q = `
			INSERT INTO verdicts (id, run_id, property_id, phase, status, analytics_id_actual,
			                       tag_manager_ids_actual, page_view_detected, has_issues, issue_kinds,
			                       issue_summary, screenshot_url, duration_ms, details, created_at)
			VALUES (:id, :run_id, :property_id, :phase, :status, :analytics_id_actual,
			        :tag_manager_ids_actual, :page_view_detected, :has_issues, :issue_kinds,
			        :issue_summary, :screenshot_url, :duration_ms, :details, :created_at)
			ON CONFLICT (run_id, property_id, phase) DO UPDATE SET
				status = EXCLUDED.status,
				analytics_id_actual = EXCLUDED.analytics_id_actual,
				tag_manager_ids_actual = EXCLUDED.tag_manager_ids_actual,
				page_view_detected = EXCLUDED.page_view_detected,
				has_issues = EXCLUDED.has_issues,
				issue_kinds = EXCLUDED.issue_kinds,
				issue_summary = EXCLUDED.issue_summary,
				screenshot_url = EXCLUDED.screenshot_url,
				duration_ms = EXCLUDED.duration_ms,
				details = EXCLUDED.details`
		if _, err := tx.NamedExecContext(ctx, q, row); err != nil {
			return fmt.Errorf("store: batch insert verdict %s/%s: %w", v.RunID, v.PropertyID, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("store: commit verdict batch: %w", err)
	}
	return nil
}

// UpdateScreenshotURL fills in a verdict row's public URL once its
// screenshot finishes uploading, independent of the
// chunked verdict insert landing the rest of the row.
func (r *VerdictRepo) UpdateScreenshotURL(ctx context.Context, runID, propertyID string, phase model.Phase, url string) error {
	const q = `
		UPDATE verdicts SET screenshot_url = $4
		WHERE run_id = $1 AND property_id = $2 AND phase = $3`
	if _, err := r.db.ExecContext(ctx, q, runID, propertyID, int(phase), url); err != nil {
		return fmt.Errorf("store: update screenshot url %s/%s: %w", runID, propertyID, err)
	}
	return nil
}
