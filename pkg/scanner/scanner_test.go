package scanner

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/Gobusters/ectologger"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ahg-archives/bramble/pkg/models"
	"github.com/ahg-archives/bramble/pkg/records"
	"github.com/ahg-archives/bramble/pkg/rules"
)

type fakeJobs struct {
	mu              sync.Mutex
	jobs            map[string]*models.ScanJob
	checkpoints     int
	cancelAfter     int // request cancel once this many checkpoints happened; 0 = never
	cancelRequested bool
}

func newFakeJobs() *fakeJobs {
	return &fakeJobs{jobs: map[string]*models.ScanJob{}}
}

func (f *fakeJobs) Create(ctx context.Context, job *models.ScanJob) (*models.ScanJob, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	job.ID = uuid.New().String()
	job.Status = models.ScanStatusPending
	f.jobs[job.ID] = job
	return job, nil
}

func (f *fakeJobs) Get(ctx context.Context, id string) (*models.ScanJob, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	job, ok := f.jobs[id]
	if !ok {
		return nil, errors.New("scan not found")
	}
	copied := *job
	return &copied, nil
}

func (f *fakeJobs) List(ctx context.Context, limit int) ([]models.ScanJob, error) {
	return nil, nil
}

func (f *fakeJobs) MarkRunning(ctx context.Context, id string, totalRecords int) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	job := f.jobs[id]
	if job.Status != models.ScanStatusPending {
		return errors.New("scan is not pending")
	}
	job.Status = models.ScanStatusRunning
	job.TotalRecords = totalRecords
	return nil
}

func (f *fakeJobs) Checkpoint(ctx context.Context, id string, processed, duplicatesFound int) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.checkpoints++
	if f.cancelAfter > 0 && f.checkpoints >= f.cancelAfter {
		f.cancelRequested = true
	}
	job := f.jobs[id]
	job.ProcessedRecords = processed
	job.DuplicatesFound = duplicatesFound
	return nil
}

func (f *fakeJobs) IsCancelRequested(ctx context.Context, id string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.cancelRequested, nil
}

func (f *fakeJobs) RequestCancel(ctx context.Context, id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.cancelRequested = true
	return nil
}

func (f *fakeJobs) finish(id, status string, processed, duplicatesFound int, errMsg string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	job := f.jobs[id]
	job.Status = status
	job.ProcessedRecords = processed
	job.DuplicatesFound = duplicatesFound
	if errMsg != "" {
		job.ErrorMessage = &errMsg
	}
	return nil
}

func (f *fakeJobs) MarkCompleted(ctx context.Context, id string, processed, duplicatesFound int) error {
	return f.finish(id, models.ScanStatusCompleted, processed, duplicatesFound, "")
}

func (f *fakeJobs) MarkCancelled(ctx context.Context, id string, processed, duplicatesFound int) error {
	return f.finish(id, models.ScanStatusCancelled, processed, duplicatesFound, "")
}

func (f *fakeJobs) MarkFailed(ctx context.Context, id string, processed, duplicatesFound int, errMsg string) error {
	return f.finish(id, models.ScanStatusFailed, processed, duplicatesFound, errMsg)
}

type fakeDetections struct {
	mu     sync.Mutex
	stored []models.DetectionRecord
}

func (f *fakeDetections) Upsert(ctx context.Context, det *models.DetectionRecord) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.stored = append(f.stored, *det)
	return nil
}

type fakeCorpus struct {
	records []models.RecordData
}

func (f *fakeCorpus) Count(ctx context.Context, scope records.Scope) (int, error) {
	return len(f.records), nil
}

func (f *fakeCorpus) List(ctx context.Context, scope records.Scope, limit, offset int) ([]models.RecordData, error) {
	if offset >= len(f.records) {
		return nil, nil
	}
	end := offset + limit
	if end > len(f.records) {
		end = len(f.records)
	}
	return f.records[offset:end], nil
}

type fakeChecker struct {
	candidates map[int][]rules.Candidate
	err        error
}

func (f *fakeChecker) CheckRecord(ctx context.Context, probe models.RecordData, scope records.Scope) ([]rules.Candidate, error) {
	if f.err != nil {
		return nil, f.err
	}
	return f.candidates[probe.ID], nil
}

func testLogger() ectologger.Logger {
	return ectologger.NewEctoLogger(func(_ ectologger.EctoLogMessage) {})
}

func corpusOf(n int) *fakeCorpus {
	c := &fakeCorpus{}
	for i := 1; i <= n; i++ {
		c.records = append(c.records, models.RecordData{ID: i + 1}) // ids start past the root record
	}
	return c
}

func testConfig() Config {
	cfg := DefaultConfig()
	cfg.Workers = 1
	cfg.PageSize = 3
	cfg.CheckpointEvery = 2
	cfg.JobTimeout = time.Minute
	return cfg
}

func TestRunScanStoresDetectionsAboveThreshold(t *testing.T) {
	jobs := newFakeJobs()
	detections := &fakeDetections{}
	checker := &fakeChecker{candidates: map[int][]rules.Candidate{
		2: {
			{RecordID: 9, MaxScore: 0.91, Methods: []string{"title_similarity"}},
			{RecordID: 10, MaxScore: 0.42, Methods: []string{"title_similarity"}},
		},
		4: {
			{RecordID: 9, MaxScore: 0.88},
		},
	}}

	s := NewScanner(testLogger(), jobs, detections, corpusOf(6), checker, nil, testConfig())

	job, err := s.StartScan(context.Background(), nil, "archivist@example.org")
	require.NoError(t, err)

	result, err := s.RunScan(context.Background(), job.ID)
	require.NoError(t, err)
	assert.Equal(t, 6, result.Processed)
	assert.Equal(t, 2, result.DuplicatesFound)
	assert.Empty(t, result.Errors)

	require.Len(t, detections.stored, 2)
	byPair := map[int]models.DetectionRecord{}
	for _, d := range detections.stored {
		byPair[d.RecordAID] = d
	}
	assert.Equal(t, "title_similarity", byPair[2].DetectionMethod)
	assert.Equal(t, 0.91, byPair[2].SimilarityScore)
	assert.Equal(t, "combined", byPair[4].DetectionMethod)
	require.NotNil(t, byPair[2].ScanID)
	assert.Equal(t, job.ID, *byPair[2].ScanID)

	final, err := jobs.Get(context.Background(), job.ID)
	require.NoError(t, err)
	assert.Equal(t, models.ScanStatusCompleted, final.Status)
	assert.Equal(t, 6, final.TotalRecords)
	assert.Equal(t, 6, final.ProcessedRecords)
	assert.Equal(t, 2, final.DuplicatesFound)
	assert.Greater(t, jobs.checkpoints, 0)
}

func TestStartScanStoresTotalRecords(t *testing.T) {
	jobs := newFakeJobs()
	s := NewScanner(testLogger(), jobs, &fakeDetections{}, corpusOf(7), &fakeChecker{}, nil, testConfig())

	job, err := s.StartScan(context.Background(), nil, "archivist@example.org")
	require.NoError(t, err)

	// the pending job already reports its size, before any worker runs it
	assert.Equal(t, models.ScanStatusPending, job.Status)
	assert.Equal(t, 7, job.TotalRecords)
}

func TestRunScanInvokesProgressCallback(t *testing.T) {
	jobs := newFakeJobs()
	cfg := testConfig()

	var calls [][2]int
	cfg.OnProgress = func(processed, total int) {
		calls = append(calls, [2]int{processed, total})
	}

	s := NewScanner(testLogger(), jobs, &fakeDetections{}, corpusOf(6), &fakeChecker{}, nil, cfg)

	job, err := s.StartScan(context.Background(), nil, "")
	require.NoError(t, err)

	_, err = s.RunScan(context.Background(), job.ID)
	require.NoError(t, err)

	assert.Equal(t, [][2]int{{2, 6}, {4, 6}, {6, 6}}, calls)
}

func TestRunScanHonoursCancellation(t *testing.T) {
	jobs := newFakeJobs()
	jobs.cancelAfter = 1
	detections := &fakeDetections{}
	checker := &fakeChecker{}

	s := NewScanner(testLogger(), jobs, detections, corpusOf(50), checker, nil, testConfig())

	job, err := s.StartScan(context.Background(), nil, "")
	require.NoError(t, err)

	result, err := s.RunScan(context.Background(), job.ID)
	require.NoError(t, err)
	assert.Less(t, result.Processed, 50)

	final, err := jobs.Get(context.Background(), job.ID)
	require.NoError(t, err)
	assert.Equal(t, models.ScanStatusCancelled, final.Status)
}

func TestRunScanRecordsRuleErrorsAndCompletes(t *testing.T) {
	jobs := newFakeJobs()
	detections := &fakeDetections{}
	checker := &fakeChecker{err: errors.New("catalog unavailable")}

	s := NewScanner(testLogger(), jobs, detections, corpusOf(4), checker, nil, testConfig())

	job, err := s.StartScan(context.Background(), nil, "")
	require.NoError(t, err)

	result, err := s.RunScan(context.Background(), job.ID)
	require.NoError(t, err)
	assert.Equal(t, 4, result.Processed)
	assert.Len(t, result.Errors, 4)

	final, err := jobs.Get(context.Background(), job.ID)
	require.NoError(t, err)
	assert.Equal(t, models.ScanStatusCompleted, final.Status)
}

func TestRunScanFailsWhenErrorBudgetExhausted(t *testing.T) {
	jobs := newFakeJobs()
	checker := &fakeChecker{err: errors.New("catalog unavailable")}

	s := NewScanner(testLogger(), jobs, &fakeDetections{}, corpusOf(200), checker, nil, testConfig())

	job, err := s.StartScan(context.Background(), nil, "")
	require.NoError(t, err)

	result, err := s.RunScan(context.Background(), job.ID)
	require.NoError(t, err)
	assert.Len(t, result.Errors, maxRecordedErrors)
	assert.Less(t, result.Processed, 200)

	final, err := jobs.Get(context.Background(), job.ID)
	require.NoError(t, err)
	assert.Equal(t, models.ScanStatusFailed, final.Status)
	require.NotNil(t, final.ErrorMessage)
	assert.Contains(t, *final.ErrorMessage, "record errors")
}

func TestRunScanResumesFromCheckpoint(t *testing.T) {
	jobs := newFakeJobs()
	detections := &fakeDetections{}
	checker := &fakeChecker{candidates: map[int][]rules.Candidate{
		3: {{RecordID: 20, MaxScore: 0.95}}, // before the checkpoint, must not rerun
		8: {{RecordID: 21, MaxScore: 0.9}},
	}}

	s := NewScanner(testLogger(), jobs, detections, corpusOf(10), checker, nil, testConfig())

	job, err := s.StartScan(context.Background(), nil, "")
	require.NoError(t, err)

	// crashed worker: running with a durable checkpoint at 4 records
	jobs.mu.Lock()
	stored := jobs.jobs[job.ID]
	stored.Status = models.ScanStatusRunning
	stored.ProcessedRecords = 4
	stored.DuplicatesFound = 1
	jobs.mu.Unlock()

	result, err := s.RunScan(context.Background(), job.ID)
	require.NoError(t, err)
	assert.Equal(t, 10, result.Processed)
	assert.Equal(t, 2, result.DuplicatesFound)

	// only the record past the checkpoint was rescanned
	require.Len(t, detections.stored, 1)
	assert.Equal(t, 8, detections.stored[0].RecordAID)

	final, err := jobs.Get(context.Background(), job.ID)
	require.NoError(t, err)
	assert.Equal(t, models.ScanStatusCompleted, final.Status)
	assert.Equal(t, 10, final.ProcessedRecords)
	assert.Equal(t, 2, final.DuplicatesFound)
}

func TestRunScanRejectsNonPendingJob(t *testing.T) {
	jobs := newFakeJobs()
	s := NewScanner(testLogger(), jobs, &fakeDetections{}, corpusOf(2), &fakeChecker{}, nil, testConfig())

	job, err := s.StartScan(context.Background(), nil, "")
	require.NoError(t, err)

	_, err = s.RunScan(context.Background(), job.ID)
	require.NoError(t, err)

	_, err = s.RunScan(context.Background(), job.ID)
	assert.Error(t, err)
}

func TestCancelSetsFlag(t *testing.T) {
	jobs := newFakeJobs()
	s := NewScanner(testLogger(), jobs, &fakeDetections{}, corpusOf(1), &fakeChecker{}, nil, testConfig())

	job, err := s.StartScan(context.Background(), nil, "")
	require.NoError(t, err)

	require.NoError(t, s.Cancel(context.Background(), job.ID))
	requested, err := jobs.IsCancelRequested(context.Background(), job.ID)
	require.NoError(t, err)
	assert.True(t, requested)
}
