// Package records defines the read surface over the catalog that the
// duplicate engine consumes, plus the asset operations a merge needs. The
// catalog schema is owned by the collection management system; this service
// only ever rewrites asset ownership and detection bookkeeping.
package records

import (
	"context"
	"time"

	"github.com/ahg-archives/bramble/pkg/models"
)

// Scope restricts candidate queries to one repository. The zero value means
// the whole catalog.
type Scope struct {
	RepositoryID *int
}

// TitleRow is a candidate for title comparison.
type TitleRow struct {
	ID    int    `db:"id"`
	Title string `db:"title"`
}

// IdentifierRow is a candidate for identifier comparison.
type IdentifierRow struct {
	ID         int    `db:"id"`
	Identifier string `db:"identifier"`
}

// CreationRow is a candidate creation event: who made the record's material
// and when.
type CreationRow struct {
	ID        int        `db:"id"`
	Creator   string     `db:"creator"`
	StartDate *time.Time `db:"start_date"`
	EndDate   *time.Time `db:"end_date"`
}

// ChecksumRow is a stored file digest for an attached asset.
type ChecksumRow struct {
	RecordID int    `db:"record_id"`
	AssetID  int64  `db:"asset_id"`
	FileName string `db:"file_name"`
}

// Repository reads catalog records for matching.
type Repository interface {
	// Count returns the number of records in scope.
	Count(ctx context.Context, scope Scope) (int, error)

	// List pages through records in scope in stable id order.
	List(ctx context.Context, scope Scope, limit, offset int) ([]models.RecordData, error)

	// Get loads one record's comparable fields.
	Get(ctx context.Context, id int) (*models.RecordData, error)

	// Titles returns candidate titles in scope, excluding excludeID.
	Titles(ctx context.Context, scope Scope, excludeID int) ([]TitleRow, error)

	// FindByIdentifier returns ids of records with exactly this identifier.
	FindByIdentifier(ctx context.Context, identifier string, excludeID int) ([]int, error)

	// Identifiers returns all non-empty identifiers, excluding excludeID.
	Identifiers(ctx context.Context, excludeID int) ([]IdentifierRow, error)

	// CreationEvents returns creation events with creator names, excluding excludeID.
	CreationEvents(ctx context.Context, excludeID int) ([]CreationRow, error)

	// FindByChecksum returns asset rows whose digest equals checksum,
	// excluding assets attached to excludeID.
	FindByChecksum(ctx context.Context, checksum string, excludeID int) ([]ChecksumRow, error)

	// Summaries loads display summaries for a batch of record ids.
	Summaries(ctx context.Context, ids []int) ([]models.RecordSummary, error)
}

// AssetMover reassigns a record's attachments during a merge.
type AssetMover interface {
	// ListSlugs returns the URL slugs pointing at a record.
	ListSlugs(ctx context.Context, recordID int) ([]string, error)

	// MoveAssets reassigns every digital asset from one record to another
	// and returns the moved asset ids.
	MoveAssets(ctx context.Context, fromRecord, toRecord int) ([]int64, error)
}
