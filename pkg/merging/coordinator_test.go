package merging

import (
	"context"
	"database/sql"
	"errors"
	"testing"

	"github.com/Gobusters/ectologger"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ahg-archives/bramble/pkg/database"
	"github.com/ahg-archives/bramble/pkg/models"
)

type fakeTx struct {
	database.Tx
	committed  bool
	rolledBack bool
}

func (t *fakeTx) IsOpen() bool { return !t.committed && !t.rolledBack }

func (t *fakeTx) Commit(ctx context.Context) error {
	t.committed = true
	return nil
}

func (t *fakeTx) Rollback(ctx context.Context) error {
	if t.committed {
		return nil
	}
	t.rolledBack = true
	return nil
}

type fakeDB struct {
	database.DB
	tx *fakeTx
}

func (db *fakeDB) GetTx(ctx context.Context, opts *sql.TxOptions) (context.Context, database.Tx, error) {
	db.tx = &fakeTx{}
	return ctx, db.tx, nil
}

type fakeDetections struct {
	byPair      *models.DetectionRecord
	marked      bool
	retargeted  bool
	markErr     error
	markedActor string
}

func (f *fakeDetections) GetByPair(ctx context.Context, recordA, recordB int) (*models.DetectionRecord, error) {
	return f.byPair, nil
}

func (f *fakeDetections) MarkMergedByPair(ctx context.Context, recordA, recordB int, actor string) error {
	if f.markErr != nil {
		return f.markErr
	}
	f.marked = true
	f.markedActor = actor
	return nil
}

func (f *fakeDetections) RetargetRecord(ctx context.Context, fromRecord, toRecord int) error {
	f.retargeted = true
	return nil
}

type fakeMergeLog struct {
	created *models.MergeLogEntry
}

func (f *fakeMergeLog) Create(ctx context.Context, entry *models.MergeLogEntry) (*models.MergeLogEntry, error) {
	entry.ID = "ml-1"
	f.created = entry
	return entry, nil
}

type fakeAssets struct {
	slugs []string
	moved []int64
	from  int
	to    int
}

func (f *fakeAssets) ListSlugs(ctx context.Context, recordID int) ([]string, error) {
	return f.slugs, nil
}

func (f *fakeAssets) MoveAssets(ctx context.Context, fromRecord, toRecord int) ([]int64, error) {
	f.from = fromRecord
	f.to = toRecord
	return f.moved, nil
}

type fakeRecords struct {
	known map[int]bool
}

func (f *fakeRecords) Get(ctx context.Context, id int) (*models.RecordData, error) {
	if !f.known[id] {
		return nil, errors.New("record not found")
	}
	return &models.RecordData{ID: id}, nil
}

type capturingPolicy struct {
	entry *models.MergeLogEntry
}

func (p *capturingPolicy) AfterMerge(ctx context.Context, entry *models.MergeLogEntry) error {
	p.entry = entry
	return nil
}

type capturingNotifier struct {
	entry *models.MergeLogEntry
}

func (n *capturingNotifier) RecordsMerged(ctx context.Context, entry *models.MergeLogEntry) error {
	n.entry = entry
	return nil
}

func testLogger() ectologger.Logger {
	return ectologger.NewEctoLogger(func(_ ectologger.EctoLogMessage) {})
}

func TestMergeMovesAssetsAndWritesAudit(t *testing.T) {
	db := &fakeDB{}
	detections := &fakeDetections{byPair: &models.DetectionRecord{ID: "det-1", RecordAID: 10, RecordBID: 20}}
	mergeLog := &fakeMergeLog{}
	assets := &fakeAssets{slugs: []string{"old-slug"}, moved: []int64{7, 8}}
	source := &fakeRecords{known: map[int]bool{10: true, 20: true}}
	policy := &capturingPolicy{}
	notifier := &capturingNotifier{}

	c := NewCoordinator(testLogger(), db, detections, mergeLog, assets, source, policy, notifier)

	notes := "confirmed in review"
	entry, err := c.Merge(context.Background(), models.MergeRequest{
		PrimaryID:    10,
		MergedID:     20,
		FieldChoices: models.FieldChoices{"title": models.FieldChoicePrimary},
		Notes:        &notes,
	}, "archivist@example.org")
	require.NoError(t, err)
	require.NotNil(t, entry)

	assert.Equal(t, 10, entry.PrimaryID)
	assert.Equal(t, 20, entry.MergedID)
	require.NotNil(t, entry.DetectionID)
	assert.Equal(t, "det-1", *entry.DetectionID)
	assert.Equal(t, models.StringList{"old-slug"}, entry.SlugsRedirected)
	assert.Equal(t, models.Int64List{7, 8}, entry.AssetsMoved)
	require.NotNil(t, entry.MergedBy)
	assert.Equal(t, "archivist@example.org", *entry.MergedBy)

	assert.Equal(t, 20, assets.from)
	assert.Equal(t, 10, assets.to)
	assert.True(t, detections.marked)
	assert.Equal(t, "archivist@example.org", detections.markedActor)
	assert.True(t, detections.retargeted)
	require.NotNil(t, db.tx)
	assert.True(t, db.tx.committed)
	assert.Same(t, entry, policy.entry)
	assert.Same(t, entry, notifier.entry)
}

func TestMergeRejectsSelfMerge(t *testing.T) {
	c := NewCoordinator(testLogger(), &fakeDB{}, &fakeDetections{}, &fakeMergeLog{}, &fakeAssets{}, &fakeRecords{known: map[int]bool{10: true}}, nil, nil)

	_, err := c.Merge(context.Background(), models.MergeRequest{PrimaryID: 10, MergedID: 10}, "actor")
	assert.Error(t, err)
}

func TestMergeRequiresBothRecords(t *testing.T) {
	c := NewCoordinator(testLogger(), &fakeDB{}, &fakeDetections{}, &fakeMergeLog{}, &fakeAssets{}, &fakeRecords{known: map[int]bool{10: true}}, nil, nil)

	_, err := c.Merge(context.Background(), models.MergeRequest{PrimaryID: 10, MergedID: 99}, "actor")
	assert.Error(t, err)
}

func TestMergeRollsBackOnFailure(t *testing.T) {
	db := &fakeDB{}
	detections := &fakeDetections{markErr: errors.New("db down")}
	source := &fakeRecords{known: map[int]bool{10: true, 20: true}}

	c := NewCoordinator(testLogger(), db, detections, &fakeMergeLog{}, &fakeAssets{}, source, nil, nil)

	_, err := c.Merge(context.Background(), models.MergeRequest{PrimaryID: 10, MergedID: 20}, "actor")
	require.Error(t, err)
	require.NotNil(t, db.tx)
	assert.False(t, db.tx.committed)
	assert.True(t, db.tx.rolledBack)
}

func TestMergeWithoutDetectionStillLogs(t *testing.T) {
	db := &fakeDB{}
	mergeLog := &fakeMergeLog{}
	source := &fakeRecords{known: map[int]bool{10: true, 20: true}}

	c := NewCoordinator(testLogger(), db, &fakeDetections{}, mergeLog, &fakeAssets{}, source, nil, nil)

	entry, err := c.Merge(context.Background(), models.MergeRequest{PrimaryID: 10, MergedID: 20}, "actor")
	require.NoError(t, err)
	assert.Nil(t, entry.DetectionID)
	assert.NotNil(t, mergeLog.created)
}
