package scanjob

import (
	"context"
	"fmt"
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

var scanColumns = []string{
	"id", "repository_id", "status", "total_records", "processed_records",
	"duplicates_found", "cancel_requested", "started_by", "error_message",
	"started_at", "completed_at", "created_at", "updated_at",
}

// Repository handles scan job persistence
type Repository struct {
	db     database.DB
	logger ectologger.Logger
}

// NewRepository creates a new scan job repository
func NewRepository(db database.DB, logger ectologger.Logger) *Repository {
	return &Repository{
		db:     db,
		logger: logger,
	}
}

// Create creates a pending scan job
func (r *Repository) Create(ctx context.Context, job *models.ScanJob) (*models.ScanJob, error) {
	ctx, span := tracing.StartSpan(ctx, "scanjob.Repository.Create")
	defer span.End()

	if job.ID == "" {
		job.ID = uuid.New().String()
	}
	job.Status = models.ScanStatusPending
	job.CreatedAt = time.Now().UTC()
	job.UpdatedAt = job.CreatedAt

	sb := sqlbuilder.PostgreSQL.NewInsertBuilder()
	sb.InsertInto("dedupe_scans")
	sb.Cols("id", "repository_id", "status", "total_records", "processed_records", "duplicates_found", "cancel_requested", "started_by", "created_at", "updated_at")
	sb.Values(job.ID, job.RepositoryID, job.Status, job.TotalRecords, job.ProcessedRecords, job.DuplicatesFound, job.CancelRequested, job.StartedBy, job.CreatedAt, job.UpdatedAt)

	query, args := sb.Build()
	if _, err := r.db.ExecContext(ctx, query, args...); err != nil {
		r.logger.WithContext(ctx).WithError(err).WithFields(map[string]any{"scan_id": job.ID}).Error("Failed to create scan job")
		return nil, httperror.NewHTTPError(http.StatusInternalServerError, "failed to create scan job")
	}

	return job, nil
}

// Get retrieves a scan job by ID
func (r *Repository) Get(ctx context.Context, id string) (*models.ScanJob, error) {
	ctx, span := tracing.StartSpan(ctx, "scanjob.Repository.Get")
	defer span.End()

	sb := sqlbuilder.PostgreSQL.NewSelectBuilder()
	sb.Select(scanColumns...)
	sb.From("dedupe_scans")
	sb.Where(sb.Equal("id", id))

	query, args := sb.Build()
	var job models.ScanJob
	if err := r.db.GetContext(ctx, &job, query, args...); err != nil {
		if err.Error() == "sql: no rows in result set" {
			return nil, httperror.NewHTTPError(http.StatusNotFound, fmt.Sprintf("scan %s not found", id))
		}
		r.logger.WithContext(ctx).WithError(err).Error("Failed to get scan job")
		return nil, httperror.NewHTTPError(http.StatusInternalServerError, "failed to get scan job")
	}

	return &job, nil
}

// List retrieves recent scan jobs, newest first
func (r *Repository) List(ctx context.Context, limit int) ([]models.ScanJob, error) {
	ctx, span := tracing.StartSpan(ctx, "scanjob.Repository.List")
	defer span.End()

	if limit < 1 || limit > 200 {
		limit = 50
	}

	sb := sqlbuilder.PostgreSQL.NewSelectBuilder()
	sb.Select(scanColumns...)
	sb.From("dedupe_scans")
	sb.OrderBy("created_at DESC")
	sb.Limit(limit)

	query, args := sb.Build()
	var jobs []models.ScanJob
	if err := r.db.SelectContext(ctx, &jobs, query, args...); err != nil {
		r.logger.WithContext(ctx).WithError(err).Error("Failed to list scan jobs")
		return nil, httperror.NewHTTPError(http.StatusInternalServerError, "failed to list scan jobs")
	}

	return jobs, nil
}

// MarkRunning transitions a pending job to running and records the corpus
// size. Fails when the job is not pending so a job never runs twice.
func (r *Repository) MarkRunning(ctx context.Context, id string, totalRecords int) error {
	ctx, span := tracing.StartSpan(ctx, "scanjob.Repository.MarkRunning")
	defer span.End()

	now := time.Now().UTC()
	query := `
		UPDATE dedupe_scans
		SET status = $1, total_records = $2, started_at = $3, updated_at = $3
		WHERE id = $4 AND status = $5
	`

	result, err := r.db.ExecContext(ctx, query, models.ScanStatusRunning, totalRecords, now, id, models.ScanStatusPending)
	if err != nil {
		r.logger.WithContext(ctx).WithError(err).Error("Failed to mark scan running")
		return httperror.NewHTTPError(http.StatusInternalServerError, "failed to start scan")
	}

	rows, _ := result.RowsAffected()
	if rows == 0 {
		return httperror.NewHTTPError(http.StatusConflict, fmt.Sprintf("scan %s is not pending", id))
	}

	return nil
}

// Checkpoint persists scan progress. Both counters are stored so a resumed
// job picks up exactly where the last checkpoint left off.
func (r *Repository) Checkpoint(ctx context.Context, id string, processed, duplicatesFound int) error {
	ctx, span := tracing.StartSpan(ctx, "scanjob.Repository.Checkpoint")
	defer span.End()

	query := `
		UPDATE dedupe_scans
		SET processed_records = $1, duplicates_found = $2, updated_at = $3
		WHERE id = $4 AND status = $5
	`

	if _, err := r.db.ExecContext(ctx, query, processed, duplicatesFound, time.Now().UTC(), id, models.ScanStatusRunning); err != nil {
		r.logger.WithContext(ctx).WithError(err).Error("Failed to checkpoint scan")
		return httperror.NewHTTPError(http.StatusInternalServerError, "failed to checkpoint scan")
	}

	return nil
}

// RequestCancel flags a job for cooperative cancellation. The scan loop
// honors the flag at its next checkpoint.
func (r *Repository) RequestCancel(ctx context.Context, id string) error {
	ctx, span := tracing.StartSpan(ctx, "scanjob.Repository.RequestCancel")
	defer span.End()

	query := `
		UPDATE dedupe_scans
		SET cancel_requested = TRUE, updated_at = $1
		WHERE id = $2 AND status IN ($3, $4)
	`

	result, err := r.db.ExecContext(ctx, query, time.Now().UTC(), id, models.ScanStatusPending, models.ScanStatusRunning)
	if err != nil {
		r.logger.WithContext(ctx).WithError(err).Error("Failed to request scan cancellation")
		return httperror.NewHTTPError(http.StatusInternalServerError, "failed to cancel scan")
	}

	rows, _ := result.RowsAffected()
	if rows == 0 {
		return httperror.NewHTTPError(http.StatusConflict, fmt.Sprintf("scan %s is not cancellable", id))
	}

	return nil
}

// IsCancelRequested reads the cancellation flag
func (r *Repository) IsCancelRequested(ctx context.Context, id string) (bool, error) {
	ctx, span := tracing.StartSpan(ctx, "scanjob.Repository.IsCancelRequested")
	defer span.End()

	var requested bool
	query := `SELECT cancel_requested FROM dedupe_scans WHERE id = $1`
	if err := r.db.GetContext(ctx, &requested, query, id); err != nil {
		if err.Error() == "sql: no rows in result set" {
			return false, httperror.NewHTTPError(http.StatusNotFound, fmt.Sprintf("scan %s not found", id))
		}
		r.logger.WithContext(ctx).WithError(err).Error("Failed to read scan cancel flag")
		return false, httperror.NewHTTPError(http.StatusInternalServerError, "failed to read scan")
	}

	return requested, nil
}

// MarkCompleted finishes a running job with final counters
func (r *Repository) MarkCompleted(ctx context.Context, id string, processed, duplicatesFound int) error {
	return r.finish(ctx, "scanjob.Repository.MarkCompleted", id, models.ScanStatusCompleted, processed, duplicatesFound, nil)
}

// MarkCancelled finishes a job that honored a cancellation request
func (r *Repository) MarkCancelled(ctx context.Context, id string, processed, duplicatesFound int) error {
	return r.finish(ctx, "scanjob.Repository.MarkCancelled", id, models.ScanStatusCancelled, processed, duplicatesFound, nil)
}

// MarkFailed finishes a job with an error message
func (r *Repository) MarkFailed(ctx context.Context, id string, processed, duplicatesFound int, errMsg string) error {
	return r.finish(ctx, "scanjob.Repository.MarkFailed", id, models.ScanStatusFailed, processed, duplicatesFound, &errMsg)
}

func (r *Repository) finish(ctx context.Context, spanName, id, status string, processed, duplicatesFound int, errMsg *string) error {
	ctx, span := tracing.StartSpan(ctx, spanName)
	defer span.End()

	now := time.Now().UTC()
	query := `
		UPDATE dedupe_scans
		SET status = $1, processed_records = $2, duplicates_found = $3, error_message = $4, completed_at = $5, updated_at = $5
		WHERE id = $6 AND status IN ($7, $8)
	`

	result, err := r.db.ExecContext(ctx, query, status, processed, duplicatesFound, errMsg, now, id, models.ScanStatusPending, models.ScanStatusRunning)
	if err != nil {
		r.logger.WithContext(ctx).WithError(err).Error("Failed to finish scan")
		return httperror.NewHTTPError(http.StatusInternalServerError, "failed to finish scan")
	}

	rows, _ := result.RowsAffected()
	if rows == 0 {
		return httperror.NewHTTPError(http.StatusConflict, fmt.Sprintf("scan %s is already finished", id))
	}

	return nil
}

// FindStale returns running jobs whose last update is older than the given
// age. Used at startup to pick jobs abandoned by a crashed worker back up
// from their last checkpoint.
func (r *Repository) FindStale(ctx context.Context, olderThan time.Duration) ([]models.ScanJob, error) {
	ctx, span := tracing.StartSpan(ctx, "scanjob.Repository.FindStale")
	defer span.End()

	query := `
		SELECT id, repository_id, status, total_records, processed_records, duplicates_found, cancel_requested, started_by, error_message, started_at, completed_at, created_at, updated_at
		FROM dedupe_scans
		WHERE status = $1 AND updated_at < $2
	`

	cutoff := time.Now().UTC().Add(-olderThan)
	var jobs []models.ScanJob
	if err := r.db.SelectContext(ctx, &jobs, query, models.ScanStatusRunning, cutoff); err != nil {
		r.logger.WithContext(ctx).WithError(err).Error("Failed to find stale scans")
		return nil, httperror.NewHTTPError(http.StatusInternalServerError, "failed to find stale scans")
	}

	return jobs, nil
}
