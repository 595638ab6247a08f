package mergelog

import (
	"context"
	"net/http"
	"time"

	"github.com/Gobusters/ectoerror/httperror"
	"github.com/Gobusters/ectologger"
	"github.com/google/uuid"
	"github.com/huandu/go-sqlbuilder"

	"github.com/ahg-archives/bramble/pkg/database"
	"github.com/ahg-archives/bramble/pkg/models"
	"github.com/ahg-archives/bramble/pkg/tracing"
)

// Repository handles merge audit log persistence
type Repository struct {
	db     database.DB
	logger ectologger.Logger
}

// NewRepository creates a new merge log repository
func NewRepository(db database.DB, logger ectologger.Logger) *Repository {
	return &Repository{
		db:     db,
		logger: logger,
	}
}

// Create writes one audit entry. Runs on the merge transaction when the
// context carries one.
func (r *Repository) Create(ctx context.Context, entry *models.MergeLogEntry) (*models.MergeLogEntry, error) {
	ctx, span := tracing.StartSpan(ctx, "mergelog.Repository.Create")
	defer span.End()

	if entry.ID == "" {
		entry.ID = uuid.New().String()
	}
	entry.MergedAt = time.Now().UTC()

	sb := sqlbuilder.PostgreSQL.NewInsertBuilder()
	sb.InsertInto("merge_log")
	sb.Cols("id", "primary_id", "merged_id", "detection_id", "field_choices", "slugs_redirected", "assets_moved", "merged_by", "notes", "merged_at")
	sb.Values(entry.ID, entry.PrimaryID, entry.MergedID, entry.DetectionID, entry.FieldChoices, entry.SlugsRedirected, entry.AssetsMoved, entry.MergedBy, entry.Notes, entry.MergedAt)

	query, args := sb.Build()
	if _, err := database.Resolve(ctx, r.db).ExecContext(ctx, query, args...); err != nil {
		r.logger.WithContext(ctx).WithError(err).WithFields(map[string]any{
			"primary_id": entry.PrimaryID,
			"merged_id":  entry.MergedID,
		}).Error("Failed to create merge log entry")
		return nil, httperror.NewHTTPError(http.StatusInternalServerError, "failed to record merge")
	}

	return entry, nil
}

// ListByRecord retrieves merge history involving a record as either side
func (r *Repository) ListByRecord(ctx context.Context, recordID int) ([]models.MergeLogEntry, error) {
	ctx, span := tracing.StartSpan(ctx, "mergelog.Repository.ListByRecord")
	defer span.End()

	query := `
		SELECT id, primary_id, merged_id, detection_id, field_choices, slugs_redirected, assets_moved, merged_by, notes, merged_at
		FROM merge_log
		WHERE primary_id = $1 OR merged_id = $1
		ORDER BY merged_at DESC
	`

	var entries []models.MergeLogEntry
	if err := r.db.SelectContext(ctx, &entries, query, recordID); err != nil {
		r.logger.WithContext(ctx).WithError(err).Error("Failed to list merge log entries")
		return nil, httperror.NewHTTPError(http.StatusInternalServerError, "failed to list merge history")
	}

	return entries, nil
}

// ListRecent retrieves the most recent merges
func (r *Repository) ListRecent(ctx context.Context, limit int) ([]models.MergeLogEntry, error) {
	ctx, span := tracing.StartSpan(ctx, "mergelog.Repository.ListRecent")
	defer span.End()

	if limit < 1 || limit > 200 {
		limit = 50
	}

	query := `
		SELECT id, primary_id, merged_id, detection_id, field_choices, slugs_redirected, assets_moved, merged_by, notes, merged_at
		FROM merge_log
		ORDER BY merged_at DESC
		LIMIT $1
	`

	var entries []models.MergeLogEntry
	if err := r.db.SelectContext(ctx, &entries, query, limit); err != nil {
		r.logger.WithContext(ctx).WithError(err).Error("Failed to list recent merges")
		return nil, httperror.NewHTTPError(http.StatusInternalServerError, "failed to list recent merges")
	}

	return entries, nil
}
