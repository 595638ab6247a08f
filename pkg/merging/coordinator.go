// Package merging executes reviewed record merges.
package merging

import (
	"context"
	"database/sql"
	"net/http"

	"github.com/Gobusters/ectoerror/httperror"
	"github.com/Gobusters/ectologger"

	"github.com/ahg-archives/bramble/pkg/database"
	"github.com/ahg-archives/bramble/pkg/models"
	"github.com/ahg-archives/bramble/pkg/records"
	"github.com/ahg-archives/bramble/pkg/tracing"
)

// DetectionStore is the slice of the detection repository the merge needs
type DetectionStore interface {
	GetByPair(ctx context.Context, recordA, recordB int) (*models.DetectionRecord, error)
	MarkMergedByPair(ctx context.Context, recordA, recordB int, actor string) error
	RetargetRecord(ctx context.Context, fromRecord, toRecord int) error
}

// MergeLogStore persists the merge audit trail
type MergeLogStore interface {
	Create(ctx context.Context, entry *models.MergeLogEntry) (*models.MergeLogEntry, error)
}

// RecordSource loads the records being merged
type RecordSource interface {
	Get(ctx context.Context, id int) (*models.RecordData, error)
}

// Notifier emits the merge event after commit
type Notifier interface {
	RecordsMerged(ctx context.Context, entry *models.MergeLogEntry) error
}

// PostMergePolicy runs after a merge commits. Implementations decide what
// happens to the merged record itself; the coordinator never touches it.
type PostMergePolicy interface {
	AfterMerge(ctx context.Context, entry *models.MergeLogEntry) error
}

// NoopPolicy leaves merged records in place. Catalog operators archive or
// delete them on their own schedule.
type NoopPolicy struct{}

func (NoopPolicy) AfterMerge(ctx context.Context, entry *models.MergeLogEntry) error {
	return nil
}

// Coordinator merges a duplicate pair: digital assets move to the primary
// record, the detection is closed, and one audit row records what happened.
// Everything except eventing runs in a single transaction.
type Coordinator struct {
	logger     ectologger.Logger
	db         database.DB
	detections DetectionStore
	mergeLog   MergeLogStore
	assets     records.AssetMover
	source     RecordSource
	policy     PostMergePolicy
	notifier   Notifier
}

func NewCoordinator(logger ectologger.Logger, db database.DB, detections DetectionStore, mergeLog MergeLogStore, assets records.AssetMover, source RecordSource, policy PostMergePolicy, notifier Notifier) *Coordinator {
	if policy == nil {
		policy = NoopPolicy{}
	}
	return &Coordinator{
		logger:     logger,
		db:         db,
		detections: detections,
		mergeLog:   mergeLog,
		assets:     assets,
		source:     source,
		policy:     policy,
		notifier:   notifier,
	}
}

// Merge moves everything attached to the merged record onto the primary
// record and writes the audit entry. The merged record's own row is left
// untouched for the post-merge policy.
func (c *Coordinator) Merge(ctx context.Context, req models.MergeRequest, actor string) (*models.MergeLogEntry, error) {
	ctx, span := tracing.StartSpan(ctx, "merging.Coordinator.Merge")
	defer span.End()

	if req.PrimaryID == req.MergedID {
		return nil, httperror.NewHTTPError(http.StatusBadRequest, "cannot merge a record into itself")
	}

	if _, err := c.source.Get(ctx, req.PrimaryID); err != nil {
		return nil, err
	}
	if _, err := c.source.Get(ctx, req.MergedID); err != nil {
		return nil, err
	}

	log := c.logger.WithContext(ctx).WithFields(map[string]any{
		"primary_id": req.PrimaryID,
		"merged_id":  req.MergedID,
		"actor":      actor,
	})

	ctxTx, tx, err := c.db.GetTx(ctx, &sql.TxOptions{})
	if err != nil {
		return nil, err
	}
	defer tx.Rollback(ctxTx)

	slugs, err := c.assets.ListSlugs(ctxTx, req.MergedID)
	if err != nil {
		return nil, err
	}

	moved, err := c.assets.MoveAssets(ctxTx, req.MergedID, req.PrimaryID)
	if err != nil {
		return nil, err
	}

	detection, err := c.detections.GetByPair(ctxTx, req.PrimaryID, req.MergedID)
	if err != nil {
		return nil, err
	}
	if err := c.detections.MarkMergedByPair(ctxTx, req.PrimaryID, req.MergedID, actor); err != nil {
		return nil, err
	}
	if err := c.detections.RetargetRecord(ctxTx, req.MergedID, req.PrimaryID); err != nil {
		return nil, err
	}

	entry := &models.MergeLogEntry{
		PrimaryID:       req.PrimaryID,
		MergedID:        req.MergedID,
		DetectionID:     req.DetectionID,
		FieldChoices:    req.FieldChoices,
		SlugsRedirected: slugs,
		AssetsMoved:     moved,
		MergedBy:        &actor,
		Notes:           req.Notes,
	}
	if entry.DetectionID == nil && detection != nil {
		entry.DetectionID = &detection.ID
	}

	entry, err = c.mergeLog.Create(ctxTx, entry)
	if err != nil {
		return nil, err
	}

	if err := tx.Commit(ctxTx); err != nil {
		return nil, err
	}

	log.WithFields(map[string]any{
		"assets_moved":     len(moved),
		"slugs_redirected": len(slugs),
	}).Info("Records merged")

	if err := c.policy.AfterMerge(ctx, entry); err != nil {
		log.WithError(err).Warn("Post-merge policy failed")
	}

	if c.notifier != nil {
		if err := c.notifier.RecordsMerged(ctx, entry); err != nil {
			log.WithError(err).Warn("Failed to emit merge event")
		}
	}

	return entry, nil
}
