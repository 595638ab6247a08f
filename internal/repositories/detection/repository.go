package detection

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

var detectionColumns = []string{
	"id", "record_a_id", "record_b_id", "similarity_score", "detection_method",
	"detection_details", "status", "scan_id", "reviewed_by", "reviewed_at",
	"review_notes", "created_at", "updated_at",
}

// Repository handles duplicate detection persistence
type Repository struct {
	db     database.DB
	logger ectologger.Logger
}

// NewRepository creates a new detection repository
func NewRepository(db database.DB, logger ectologger.Logger) *Repository {
	return &Repository{
		db:     db,
		logger: logger,
	}
}

// DB exposes the underlying database for transaction control
func (r *Repository) DB() database.DB {
	return r.db
}

// CanonicalPair orders a record pair so the smaller id is always first.
// Every stored detection uses this ordering, making (a, b) and (b, a) the
// same row.
func CanonicalPair(a, b int) (int, int) {
	if a > b {
		return b, a
	}
	return a, b
}

// Upsert stores a detection for a record pair. When the pair already exists
// the row is only rewritten if the new score is strictly higher; review state
// is never touched. Safe under concurrent scan workers: the conflict target
// plus the score guard make the highest score win regardless of arrival order.
func (r *Repository) Upsert(ctx context.Context, det *models.DetectionRecord) error {
	ctx, span := tracing.StartSpan(ctx, "detection.Repository.Upsert")
	defer span.End()

	det.RecordAID, det.RecordBID = CanonicalPair(det.RecordAID, det.RecordBID)
	if det.ID == "" {
		det.ID = uuid.New().String()
	}
	if det.Status == "" {
		det.Status = models.DetectionStatusPending
	}
	now := time.Now().UTC()
	det.CreatedAt = now
	det.UpdatedAt = now

	ib := database.NewInsertBuilder()
	ib.InsertInto("duplicate_detections")
	ib.Cols("id", "record_a_id", "record_b_id", "similarity_score", "detection_method", "detection_details", "status", "scan_id", "created_at", "updated_at")
	ib.Values(det.ID, det.RecordAID, det.RecordBID, det.SimilarityScore, det.DetectionMethod, det.DetectionDetails, det.Status, det.ScanID, det.CreatedAt, det.UpdatedAt)

	ub := ib.OnConflict("record_a_id", "record_b_id")
	ub.Set(
		ub.Assign("similarity_score", database.Excluded("similarity_score")),
		ub.Assign("detection_method", database.Excluded("detection_method")),
		ub.Assign("detection_details", database.Excluded("detection_details")),
		ub.Assign("scan_id", database.Excluded("scan_id")),
		ub.Assign("updated_at", database.Excluded("updated_at")),
	)
	ub.Where("EXCLUDED.similarity_score > duplicate_detections.similarity_score")

	query, args := ib.Build()
	if _, err := database.Resolve(ctx, r.db).ExecContext(ctx, query, args...); err != nil {
		r.logger.WithContext(ctx).WithError(err).WithFields(map[string]any{
			"record_a_id": det.RecordAID,
			"record_b_id": det.RecordBID,
		}).Error("Failed to upsert detection")
		return httperror.NewHTTPError(http.StatusInternalServerError, "failed to store detection")
	}

	return nil
}

// Get retrieves a detection by ID
func (r *Repository) Get(ctx context.Context, id string) (*models.DetectionRecord, error) {
	ctx, span := tracing.StartSpan(ctx, "detection.Repository.Get")
	defer span.End()

	sb := sqlbuilder.PostgreSQL.NewSelectBuilder()
	sb.Select(detectionColumns...)
	sb.From("duplicate_detections")
	sb.Where(sb.Equal("id", id))

	query, args := sb.Build()
	var det models.DetectionRecord
	if err := database.Resolve(ctx, r.db).GetContext(ctx, &det, query, args...); err != nil {
		if err.Error() == "sql: no rows in result set" {
			return nil, httperror.NewHTTPError(http.StatusNotFound, fmt.Sprintf("detection %s not found", id))
		}
		r.logger.WithContext(ctx).WithError(err).Error("Failed to get detection")
		return nil, httperror.NewHTTPError(http.StatusInternalServerError, "failed to get detection")
	}

	return &det, nil
}

// GetByPair retrieves the detection for a record pair in either order.
// Returns nil without error when the pair has never been flagged.
func (r *Repository) GetByPair(ctx context.Context, recordA, recordB int) (*models.DetectionRecord, error) {
	ctx, span := tracing.StartSpan(ctx, "detection.Repository.GetByPair")
	defer span.End()

	a, b := CanonicalPair(recordA, recordB)
	query := `
		SELECT id, record_a_id, record_b_id, similarity_score, detection_method, detection_details, status, scan_id, reviewed_by, reviewed_at, review_notes, created_at, updated_at
		FROM duplicate_detections
		WHERE record_a_id = $1 AND record_b_id = $2
		LIMIT 1
	`

	var det models.DetectionRecord
	if err := database.Resolve(ctx, r.db).GetContext(ctx, &det, query, a, b); err != nil {
		if err.Error() == "sql: no rows in result set" {
			return nil, nil
		}
		r.logger.WithContext(ctx).WithError(err).Error("Failed to get detection by pair")
		return nil, httperror.NewHTTPError(http.StatusInternalServerError, "failed to get detection")
	}

	return &det, nil
}

// ListByStatus retrieves detections with the given status, highest score first
func (r *Repository) ListByStatus(ctx context.Context, status string, limit, offset int) ([]models.DetectionRecord, error) {
	ctx, span := tracing.StartSpan(ctx, "detection.Repository.ListByStatus")
	defer span.End()

	if limit < 1 || limit > 500 {
		limit = 100
	}
	if offset < 0 {
		offset = 0
	}

	sb := sqlbuilder.PostgreSQL.NewSelectBuilder()
	sb.Select(detectionColumns...)
	sb.From("duplicate_detections")
	if status != "" {
		sb.Where(sb.Equal("status", status))
	}
	sb.OrderBy("similarity_score DESC", "created_at DESC")
	sb.Limit(limit)
	sb.Offset(offset)

	query, args := sb.Build()
	var detections []models.DetectionRecord
	if err := database.Resolve(ctx, r.db).SelectContext(ctx, &detections, query, args...); err != nil {
		r.logger.WithContext(ctx).WithError(err).Error("Failed to list detections")
		return nil, httperror.NewHTTPError(http.StatusInternalServerError, "failed to list detections")
	}

	return detections, nil
}

// ListByRecord retrieves all detections involving a record
func (r *Repository) ListByRecord(ctx context.Context, recordID int) ([]models.DetectionRecord, error) {
	ctx, span := tracing.StartSpan(ctx, "detection.Repository.ListByRecord")
	defer span.End()

	query := `
		SELECT id, record_a_id, record_b_id, similarity_score, detection_method, detection_details, status, scan_id, reviewed_by, reviewed_at, review_notes, created_at, updated_at
		FROM duplicate_detections
		WHERE record_a_id = $1 OR record_b_id = $1
		ORDER BY similarity_score DESC, created_at DESC
	`

	var detections []models.DetectionRecord
	if err := database.Resolve(ctx, r.db).SelectContext(ctx, &detections, query, recordID); err != nil {
		r.logger.WithContext(ctx).WithError(err).Error("Failed to list detections by record")
		return nil, httperror.NewHTTPError(http.StatusInternalServerError, "failed to list detections")
	}

	return detections, nil
}

// Dismiss marks a pending detection as dismissed by the given actor
func (r *Repository) Dismiss(ctx context.Context, id string, actor string, notes *string) error {
	return r.review(ctx, "detection.Repository.Dismiss", id, models.DetectionStatusDismissed, actor, notes)
}

// Confirm marks a pending detection as confirmed by the given actor
func (r *Repository) Confirm(ctx context.Context, id string, actor string, notes *string) error {
	return r.review(ctx, "detection.Repository.Confirm", id, models.DetectionStatusConfirmed, actor, notes)
}

func (r *Repository) review(ctx context.Context, spanName, id, status, actor string, notes *string) error {
	ctx, span := tracing.StartSpan(ctx, spanName)
	defer span.End()

	now := time.Now().UTC()
	query := `
		UPDATE duplicate_detections
		SET status = $1, reviewed_by = $2, reviewed_at = $3, review_notes = $4, updated_at = $3
		WHERE id = $5 AND status = $6
	`

	result, err := database.Resolve(ctx, r.db).ExecContext(ctx, query, status, actor, now, notes, id, models.DetectionStatusPending)
	if err != nil {
		r.logger.WithContext(ctx).WithError(err).Error("Failed to update detection review status")
		return httperror.NewHTTPError(http.StatusInternalServerError, "failed to update detection")
	}

	rows, _ := result.RowsAffected()
	if rows == 0 {
		return httperror.NewHTTPError(http.StatusConflict, fmt.Sprintf("detection %s is not pending review", id))
	}

	return nil
}

// MarkMergedByPair flags the detection for a record pair as merged. Called
// inside the merge transaction; missing detections are not an error since a
// merge can be initiated directly from the catalog.
func (r *Repository) MarkMergedByPair(ctx context.Context, recordA, recordB int, actor string) error {
	ctx, span := tracing.StartSpan(ctx, "detection.Repository.MarkMergedByPair")
	defer span.End()

	a, b := CanonicalPair(recordA, recordB)
	now := time.Now().UTC()
	query := `
		UPDATE duplicate_detections
		SET status = $1, reviewed_by = $2, reviewed_at = $3, updated_at = $3
		WHERE record_a_id = $4 AND record_b_id = $5
	`

	if _, err := database.Resolve(ctx, r.db).ExecContext(ctx, query, models.DetectionStatusMerged, actor, now, a, b); err != nil {
		r.logger.WithContext(ctx).WithError(err).Error("Failed to mark detection merged")
		return httperror.NewHTTPError(http.StatusInternalServerError, "failed to mark detection merged")
	}

	return nil
}

// RetargetRecord repoints detections referencing an absorbed record at the
// record that survived the merge, dropping any that would collide with an
// existing pair. Called inside the merge transaction.
func (r *Repository) RetargetRecord(ctx context.Context, fromRecord, toRecord int) error {
	ctx, span := tracing.StartSpan(ctx, "detection.Repository.RetargetRecord")
	defer span.End()

	q := database.Resolve(ctx, r.db)

	// delete pairs that already exist against the surviving record
	del := `
		DELETE FROM duplicate_detections d
		WHERE (d.record_a_id = $1 OR d.record_b_id = $1)
		AND d.status = $3
		AND EXISTS (
			SELECT 1 FROM duplicate_detections o
			WHERE o.record_a_id = LEAST($2, CASE WHEN d.record_a_id = $1 THEN d.record_b_id ELSE d.record_a_id END)
			AND o.record_b_id = GREATEST($2, CASE WHEN d.record_a_id = $1 THEN d.record_b_id ELSE d.record_a_id END)
		)
	`
	if _, err := q.ExecContext(ctx, del, fromRecord, toRecord, models.DetectionStatusPending); err != nil {
		r.logger.WithContext(ctx).WithError(err).Error("Failed to prune colliding detections")
		return httperror.NewHTTPError(http.StatusInternalServerError, "failed to retarget detections")
	}

	upd := `
		UPDATE duplicate_detections
		SET record_a_id = LEAST($2, CASE WHEN record_a_id = $1 THEN record_b_id ELSE record_a_id END),
		    record_b_id = GREATEST($2, CASE WHEN record_a_id = $1 THEN record_b_id ELSE record_a_id END),
		    updated_at = NOW()
		WHERE (record_a_id = $1 OR record_b_id = $1)
		AND status = $3
	`
	if _, err := q.ExecContext(ctx, upd, fromRecord, toRecord, models.DetectionStatusPending); err != nil {
		r.logger.WithContext(ctx).WithError(err).Error("Failed to retarget detections")
		return httperror.NewHTTPError(http.StatusInternalServerError, "failed to retarget detections")
	}

	return nil
}

// Statistics aggregates detection counts, the overall average score, pending
// counts by detection method, and merges in the last 30 days.
func (r *Repository) Statistics(ctx context.Context) (*models.DetectionStatistics, error) {
	ctx, span := tracing.StartSpan(ctx, "detection.Repository.Statistics")
	defer span.End()

	q := database.Resolve(ctx, r.db)

	var totals struct {
		Total        int     `db:"total"`
		Pending      int     `db:"pending"`
		Confirmed    int     `db:"confirmed"`
		Dismissed    int     `db:"dismissed"`
		Merged       int     `db:"merged"`
		AverageScore float64 `db:"average_score"`
	}
	totalsQuery := `
		SELECT
			COUNT(*) AS total,
			COUNT(*) FILTER (WHERE status = 'pending') AS pending,
			COUNT(*) FILTER (WHERE status = 'confirmed') AS confirmed,
			COUNT(*) FILTER (WHERE status = 'dismissed') AS dismissed,
			COUNT(*) FILTER (WHERE status = 'merged') AS merged,
			ROUND(COALESCE(AVG(similarity_score), 0)::numeric, 4)::float8 AS average_score
		FROM duplicate_detections
	`
	if err := q.GetContext(ctx, &totals, totalsQuery); err != nil {
		r.logger.WithContext(ctx).WithError(err).Error("Failed to aggregate detection totals")
		return nil, httperror.NewHTTPError(http.StatusInternalServerError, "failed to get statistics")
	}

	byMethodQuery := `
		SELECT detection_method, COUNT(*) AS count
		FROM duplicate_detections
		WHERE status = 'pending'
		GROUP BY detection_method
	`
	rows, err := q.QueryxContext(ctx, byMethodQuery)
	if err != nil {
		r.logger.WithContext(ctx).WithError(err).Error("Failed to aggregate detections by method")
		return nil, httperror.NewHTTPError(http.StatusInternalServerError, "failed to get statistics")
	}
	defer rows.Close()

	byMethod := map[string]int{}
	for rows.Next() {
		var method string
		var count int
		if err := rows.Scan(&method, &count); err != nil {
			r.logger.WithContext(ctx).WithError(err).Error("Failed to scan method count")
			return nil, httperror.NewHTTPError(http.StatusInternalServerError, "failed to get statistics")
		}
		byMethod[method] = count
	}
	if err := rows.Err(); err != nil {
		r.logger.WithContext(ctx).WithError(err).Error("Failed to read method counts")
		return nil, httperror.NewHTTPError(http.StatusInternalServerError, "failed to get statistics")
	}

	var recentMerges int
	recentQuery := `SELECT COUNT(*) FROM merge_log WHERE merged_at > NOW() - INTERVAL '30 days'`
	if err := q.GetContext(ctx, &recentMerges, recentQuery); err != nil {
		r.logger.WithContext(ctx).WithError(err).Error("Failed to count recent merges")
		return nil, httperror.NewHTTPError(http.StatusInternalServerError, "failed to get statistics")
	}

	return &models.DetectionStatistics{
		Total:        totals.Total,
		Pending:      totals.Pending,
		Confirmed:    totals.Confirmed,
		Dismissed:    totals.Dismissed,
		Merged:       totals.Merged,
		AverageScore: totals.AverageScore,
		ByMethod:     byMethod,
		RecentMerges: recentMerges,
	}, nil
}
