package record

import (
	"context"
	"database/sql"
	"fmt"
	"net/http"

	"github.com/Gobusters/ectoerror/httperror"
	"github.com/Gobusters/ectologger"
	"github.com/lib/pq"

	"github.com/ahg-archives/bramble/pkg/database"
	"github.com/ahg-archives/bramble/pkg/models"
	"github.com/ahg-archives/bramble/pkg/records"
	"github.com/ahg-archives/bramble/pkg/tracing"
)

// The catalog root object is a structural placeholder and never a real
// description, so every query excludes it.
const rootRecordID = 1

// Creation events carry the creator and date range of the described material.
const creationEventTypeID = 111

// Repository reads the collection management system's catalog tables. It
// implements records.Repository and records.AssetMover.
type Repository struct {
	db      database.DB
	logger  ectologger.Logger
	culture string
}

// NewRepository creates a catalog repository reading i18n rows for the given
// culture (e.g. "en").
func NewRepository(db database.DB, logger ectologger.Logger, culture string) *Repository {
	if culture == "" {
		culture = "en"
	}
	return &Repository{
		db:      db,
		logger:  logger,
		culture: culture,
	}
}

var _ records.Repository = (*Repository)(nil)
var _ records.AssetMover = (*Repository)(nil)

// Count returns the number of catalog records in scope
func (r *Repository) Count(ctx context.Context, scope records.Scope) (int, error) {
	ctx, span := tracing.StartSpan(ctx, "record.Repository.Count")
	defer span.End()

	query := `SELECT COUNT(*) FROM information_object WHERE id != $1 AND ($2::int IS NULL OR repository_id = $2)`

	var count int
	if err := r.db.GetContext(ctx, &count, query, rootRecordID, scope.RepositoryID); err != nil {
		r.logger.WithContext(ctx).WithError(err).Error("Failed to count catalog records")
		return 0, httperror.NewHTTPError(http.StatusInternalServerError, "failed to count records")
	}

	return count, nil
}

// List pages through catalog records in stable id order. Only the fields the
// scan probes with are loaded.
func (r *Repository) List(ctx context.Context, scope records.Scope, limit, offset int) ([]models.RecordData, error) {
	ctx, span := tracing.StartSpan(ctx, "record.Repository.List")
	defer span.End()

	if limit < 1 || limit > 1000 {
		limit = 500
	}
	if offset < 0 {
		offset = 0
	}

	query := `
		SELECT io.id, io.repository_id, COALESCE(io.identifier, '') AS identifier, COALESCE(ioi.title, '') AS title
		FROM information_object io
		LEFT JOIN information_object_i18n ioi ON io.id = ioi.id AND ioi.culture = $1
		WHERE io.id != $2 AND ($3::int IS NULL OR io.repository_id = $3)
		ORDER BY io.id
		LIMIT $4 OFFSET $5
	`

	var rows []models.RecordData
	if err := r.db.SelectContext(ctx, &rows, query, r.culture, rootRecordID, scope.RepositoryID, limit, offset); err != nil {
		r.logger.WithContext(ctx).WithError(err).Error("Failed to list catalog records")
		return nil, httperror.NewHTTPError(http.StatusInternalServerError, "failed to list records")
	}

	return rows, nil
}

// Get loads one record's comparable fields including its creation event and
// first stored file digest.
func (r *Repository) Get(ctx context.Context, id int) (*models.RecordData, error) {
	ctx, span := tracing.StartSpan(ctx, "record.Repository.Get")
	defer span.End()

	query := `
		SELECT io.id, io.repository_id, COALESCE(io.identifier, '') AS identifier, COALESCE(ioi.title, '') AS title
		FROM information_object io
		LEFT JOIN information_object_i18n ioi ON io.id = ioi.id AND ioi.culture = $1
		WHERE io.id = $2
	`

	var rec models.RecordData
	if err := r.db.GetContext(ctx, &rec, query, r.culture, id); err != nil {
		if err.Error() == "sql: no rows in result set" {
			return nil, httperror.NewHTTPError(http.StatusNotFound, fmt.Sprintf("record %d not found", id))
		}
		r.logger.WithContext(ctx).WithError(err).Error("Failed to get catalog record")
		return nil, httperror.NewHTTPError(http.StatusInternalServerError, "failed to get record")
	}

	eventQuery := `
		SELECT COALESCE(ai.authorized_form_of_name, '') AS creator, e.start_date, e.end_date
		FROM event e
		LEFT JOIN actor_i18n ai ON e.actor_id = ai.id AND ai.culture = $1
		WHERE e.object_id = $2 AND e.type_id = $3
		LIMIT 1
	`
	var event struct {
		Creator   string       `db:"creator"`
		StartDate sql.NullTime `db:"start_date"`
		EndDate   sql.NullTime `db:"end_date"`
	}
	err := r.db.GetContext(ctx, &event, eventQuery, r.culture, id, creationEventTypeID)
	if err != nil && err.Error() != "sql: no rows in result set" {
		r.logger.WithContext(ctx).WithError(err).Error("Failed to get creation event")
		return nil, httperror.NewHTTPError(http.StatusInternalServerError, "failed to get record")
	}
	if err == nil {
		rec.Creator = event.Creator
		if event.StartDate.Valid {
			start := event.StartDate.Time
			rec.StartDate = &start
		}
		if event.EndDate.Valid {
			end := event.EndDate.Time
			rec.EndDate = &end
		}
	}

	checksumQuery := `
		SELECT COALESCE(checksum_sha256, '') AS checksum_sha256, COALESCE(checksum_md5, '') AS checksum_md5, COALESCE(file_name, '') AS file_name
		FROM ahg_file_checksum
		WHERE information_object_id = $1
		LIMIT 1
	`
	var sums struct {
		ChecksumSHA256 string `db:"checksum_sha256"`
		ChecksumMD5    string `db:"checksum_md5"`
		FileName       string `db:"file_name"`
	}
	err = r.db.GetContext(ctx, &sums, checksumQuery, id)
	if err != nil && err.Error() != "sql: no rows in result set" {
		r.logger.WithContext(ctx).WithError(err).Error("Failed to get file checksums")
		return nil, httperror.NewHTTPError(http.StatusInternalServerError, "failed to get record")
	}
	if err == nil {
		rec.ChecksumSHA256 = sums.ChecksumSHA256
		rec.ChecksumMD5 = sums.ChecksumMD5
		rec.FileName = sums.FileName
	}

	return &rec, nil
}

// Titles returns candidate titles in scope for fuzzy comparison
func (r *Repository) Titles(ctx context.Context, scope records.Scope, excludeID int) ([]records.TitleRow, error) {
	ctx, span := tracing.StartSpan(ctx, "record.Repository.Titles")
	defer span.End()

	query := `
		SELECT io.id, ioi.title
		FROM information_object io
		JOIN information_object_i18n ioi ON io.id = ioi.id AND ioi.culture = $1
		WHERE io.id != $2 AND io.id != $3
		AND ioi.title IS NOT NULL AND ioi.title != ''
		AND ($4::int IS NULL OR io.repository_id = $4)
	`

	var rows []records.TitleRow
	if err := r.db.SelectContext(ctx, &rows, query, r.culture, rootRecordID, excludeID, scope.RepositoryID); err != nil {
		r.logger.WithContext(ctx).WithError(err).Error("Failed to list candidate titles")
		return nil, httperror.NewHTTPError(http.StatusInternalServerError, "failed to list titles")
	}

	return rows, nil
}

// TitleCandidates is the bounded variant of Titles used by interactive checks
func (r *Repository) TitleCandidates(ctx context.Context, scope records.Scope, excludeID, limit int) ([]records.TitleRow, error) {
	ctx, span := tracing.StartSpan(ctx, "record.Repository.TitleCandidates")
	defer span.End()

	query := `
		SELECT io.id, ioi.title
		FROM information_object io
		JOIN information_object_i18n ioi ON io.id = ioi.id AND ioi.culture = $1
		WHERE io.id != $2 AND io.id != $3
		AND ioi.title IS NOT NULL AND ioi.title != ''
		AND ($4::int IS NULL OR io.repository_id = $4)
		ORDER BY io.id
		LIMIT $5
	`

	var rows []records.TitleRow
	if err := r.db.SelectContext(ctx, &rows, query, r.culture, rootRecordID, excludeID, scope.RepositoryID, limit); err != nil {
		r.logger.WithContext(ctx).WithError(err).Error("Failed to list candidate titles")
		return nil, httperror.NewHTTPError(http.StatusInternalServerError, "failed to list titles")
	}

	return rows, nil
}

// FindByIdentifier returns ids of records with exactly this identifier
func (r *Repository) FindByIdentifier(ctx context.Context, identifier string, excludeID int) ([]int, error) {
	ctx, span := tracing.StartSpan(ctx, "record.Repository.FindByIdentifier")
	defer span.End()

	query := `
		SELECT id FROM information_object
		WHERE identifier = $1 AND id != $2 AND id != $3
	`

	var ids []int
	if err := r.db.SelectContext(ctx, &ids, query, identifier, rootRecordID, excludeID); err != nil {
		r.logger.WithContext(ctx).WithError(err).Error("Failed to find records by identifier")
		return nil, httperror.NewHTTPError(http.StatusInternalServerError, "failed to find records")
	}

	return ids, nil
}

// Identifiers returns all non-empty identifiers for fuzzy comparison
func (r *Repository) Identifiers(ctx context.Context, excludeID int) ([]records.IdentifierRow, error) {
	ctx, span := tracing.StartSpan(ctx, "record.Repository.Identifiers")
	defer span.End()

	query := `
		SELECT id, identifier FROM information_object
		WHERE identifier IS NOT NULL AND identifier != ''
		AND id != $1 AND id != $2
	`

	var rows []records.IdentifierRow
	if err := r.db.SelectContext(ctx, &rows, query, rootRecordID, excludeID); err != nil {
		r.logger.WithContext(ctx).WithError(err).Error("Failed to list identifiers")
		return nil, httperror.NewHTTPError(http.StatusInternalServerError, "failed to list identifiers")
	}

	return rows, nil
}

// CreationEvents returns creation events with creator names
func (r *Repository) CreationEvents(ctx context.Context, excludeID int) ([]records.CreationRow, error) {
	ctx, span := tracing.StartSpan(ctx, "record.Repository.CreationEvents")
	defer span.End()

	query := `
		SELECT io.id, COALESCE(ai.authorized_form_of_name, '') AS creator, e.start_date, e.end_date
		FROM information_object io
		JOIN event e ON io.id = e.object_id AND e.type_id = $1
		LEFT JOIN actor_i18n ai ON e.actor_id = ai.id AND ai.culture = $2
		WHERE io.id != $3 AND io.id != $4
	`

	var rows []records.CreationRow
	if err := r.db.SelectContext(ctx, &rows, query, creationEventTypeID, r.culture, rootRecordID, excludeID); err != nil {
		r.logger.WithContext(ctx).WithError(err).Error("Failed to list creation events")
		return nil, httperror.NewHTTPError(http.StatusInternalServerError, "failed to list creation events")
	}

	return rows, nil
}

// FindByChecksum returns stored digest rows matching checksum. The digest
// column is chosen by length: 64 hex chars is SHA-256, anything else MD5.
func (r *Repository) FindByChecksum(ctx context.Context, checksum string, excludeID int) ([]records.ChecksumRow, error) {
	ctx, span := tracing.StartSpan(ctx, "record.Repository.FindByChecksum")
	defer span.End()

	column := "checksum_md5"
	if len(checksum) == 64 {
		column = "checksum_sha256"
	}

	query := fmt.Sprintf(`
		SELECT information_object_id AS record_id, digital_object_id AS asset_id, COALESCE(file_name, '') AS file_name
		FROM ahg_file_checksum
		WHERE %s = $1 AND information_object_id != $2
	`, column)

	var rows []records.ChecksumRow
	if err := r.db.SelectContext(ctx, &rows, query, checksum, excludeID); err != nil {
		r.logger.WithContext(ctx).WithError(err).Error("Failed to find records by checksum")
		return nil, httperror.NewHTTPError(http.StatusInternalServerError, "failed to find records")
	}

	return rows, nil
}

// Summaries loads display summaries for a batch of record ids
func (r *Repository) Summaries(ctx context.Context, ids []int) ([]models.RecordSummary, error) {
	ctx, span := tracing.StartSpan(ctx, "record.Repository.Summaries")
	defer span.End()

	if len(ids) == 0 {
		return nil, nil
	}

	query := `
		SELECT io.id, io.repository_id, COALESCE(io.identifier, '') AS identifier, COALESCE(ioi.title, '') AS title, COALESCE(s.slug, '') AS slug
		FROM information_object io
		LEFT JOIN information_object_i18n ioi ON io.id = ioi.id AND ioi.culture = $1
		LEFT JOIN slug s ON io.id = s.object_id
		WHERE io.id = ANY($2)
	`

	var rows []models.RecordSummary
	if err := r.db.SelectContext(ctx, &rows, query, r.culture, intArray(ids)); err != nil {
		r.logger.WithContext(ctx).WithError(err).Error("Failed to load record summaries")
		return nil, httperror.NewHTTPError(http.StatusInternalServerError, "failed to load records")
	}

	return rows, nil
}

// ListSlugs returns the URL slugs pointing at a record
func (r *Repository) ListSlugs(ctx context.Context, recordID int) ([]string, error) {
	ctx, span := tracing.StartSpan(ctx, "record.Repository.ListSlugs")
	defer span.End()

	query := `SELECT slug FROM slug WHERE object_id = $1`

	var slugs []string
	if err := database.Resolve(ctx, r.db).SelectContext(ctx, &slugs, query, recordID); err != nil {
		r.logger.WithContext(ctx).WithError(err).Error("Failed to list slugs")
		return nil, httperror.NewHTTPError(http.StatusInternalServerError, "failed to list slugs")
	}

	return slugs, nil
}

// MoveAssets reassigns every digital asset from one record to another inside
// the merge transaction and returns the moved asset ids.
func (r *Repository) MoveAssets(ctx context.Context, fromRecord, toRecord int) ([]int64, error) {
	ctx, span := tracing.StartSpan(ctx, "record.Repository.MoveAssets")
	defer span.End()

	query := `
		UPDATE digital_object
		SET object_id = $1
		WHERE object_id = $2
		RETURNING id
	`

	var moved []int64
	if err := database.Resolve(ctx, r.db).SelectContext(ctx, &moved, query, toRecord, fromRecord); err != nil {
		r.logger.WithContext(ctx).WithError(err).Error("Failed to move digital assets")
		return nil, httperror.NewHTTPError(http.StatusInternalServerError, "failed to move assets")
	}

	if len(moved) > 0 {
		reassign := `UPDATE ahg_file_checksum SET information_object_id = $1 WHERE information_object_id = $2`
		if _, err := database.Resolve(ctx, r.db).ExecContext(ctx, reassign, toRecord, fromRecord); err != nil {
			r.logger.WithContext(ctx).WithError(err).Error("Failed to reassign checksum rows")
			return nil, httperror.NewHTTPError(http.StatusInternalServerError, "failed to move assets")
		}
	}

	return moved, nil
}

func intArray(ids []int) any {
	out := make([]int64, len(ids))
	for i, id := range ids {
		out[i] = int64(id)
	}
	return pq.Array(out)
}
