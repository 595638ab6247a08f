// Package scanner runs batch duplicate scans over the catalog.
package scanner

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/Gobusters/ectoerror/httperror"
	"github.com/Gobusters/ectologger"

	"github.com/ahg-archives/bramble/pkg/models"
	"github.com/ahg-archives/bramble/pkg/records"
	"github.com/ahg-archives/bramble/pkg/rules"
	"github.com/ahg-archives/bramble/pkg/tracing"
)

// JobStore persists scan job state
type JobStore interface {
	Create(ctx context.Context, job *models.ScanJob) (*models.ScanJob, error)
	Get(ctx context.Context, id string) (*models.ScanJob, error)
	List(ctx context.Context, limit int) ([]models.ScanJob, error)
	MarkRunning(ctx context.Context, id string, totalRecords int) error
	Checkpoint(ctx context.Context, id string, processed, duplicatesFound int) error
	IsCancelRequested(ctx context.Context, id string) (bool, error)
	RequestCancel(ctx context.Context, id string) error
	MarkCompleted(ctx context.Context, id string, processed, duplicatesFound int) error
	MarkCancelled(ctx context.Context, id string, processed, duplicatesFound int) error
	MarkFailed(ctx context.Context, id string, processed, duplicatesFound int, errMsg string) error
}

// DetectionStore records duplicate pairs found during the scan
type DetectionStore interface {
	Upsert(ctx context.Context, det *models.DetectionRecord) error
}

// Corpus pages through the records to scan
type Corpus interface {
	Count(ctx context.Context, scope records.Scope) (int, error)
	List(ctx context.Context, scope records.Scope, limit, offset int) ([]models.RecordData, error)
}

// Checker evaluates one record against the active rules
type Checker interface {
	CheckRecord(ctx context.Context, probe models.RecordData, scope records.Scope) ([]rules.Candidate, error)
}

// Notifier emits scan lifecycle events
type Notifier interface {
	DuplicateDetected(ctx context.Context, det *models.DetectionRecord) error
	ScanCompleted(ctx context.Context, job *models.ScanJob) error
}

type Config struct {
	Workers         int
	PageSize        int
	CheckpointEvery int
	StoreThreshold  float64
	JobTimeout      time.Duration

	// OnProgress, when set, is invoked at every checkpoint with the
	// running processed count and the scan's total.
	OnProgress func(processed, total int)
}

func DefaultConfig() Config {
	return Config{
		Workers:         4,
		PageSize:        500,
		CheckpointEvery: 100,
		StoreThreshold:  0.75,
		JobTimeout:      6 * time.Hour,
	}
}

// maxRecordedErrors caps both the per-scan error list and the number of
// record failures a scan tolerates before aborting as failed.
const maxRecordedErrors = 25

// Scanner walks the catalog with a worker pool and stores every pair
// that clears the detection threshold.
type Scanner struct {
	logger     ectologger.Logger
	jobs       JobStore
	detections DetectionStore
	corpus     Corpus
	checker    Checker
	notifier   Notifier
	cfg        Config
}

func NewScanner(logger ectologger.Logger, jobs JobStore, detections DetectionStore, corpus Corpus, checker Checker, notifier Notifier, cfg Config) *Scanner {
	if cfg.Workers <= 0 {
		cfg.Workers = 4
	}
	if cfg.PageSize <= 0 {
		cfg.PageSize = 500
	}
	if cfg.CheckpointEvery <= 0 {
		cfg.CheckpointEvery = 100
	}
	if cfg.StoreThreshold <= 0 {
		cfg.StoreThreshold = 0.75
	}
	if cfg.JobTimeout <= 0 {
		cfg.JobTimeout = 6 * time.Hour
	}
	return &Scanner{
		logger:     logger,
		jobs:       jobs,
		detections: detections,
		corpus:     corpus,
		checker:    checker,
		notifier:   notifier,
		cfg:        cfg,
	}
}

// StartScan creates a pending scan job with the eligible record count
// already stored. The job does no work until a worker picks it up with
// RunScan.
func (s *Scanner) StartScan(ctx context.Context, repositoryID *int, actor string) (*models.ScanJob, error) {
	ctx, span := tracing.StartSpan(ctx, "scanner.Scanner.StartScan")
	defer span.End()

	total, err := s.corpus.Count(ctx, records.Scope{RepositoryID: repositoryID})
	if err != nil {
		return nil, err
	}

	job := &models.ScanJob{
		RepositoryID: repositoryID,
		TotalRecords: total,
	}
	if actor != "" {
		job.StartedBy = &actor
	}

	created, err := s.jobs.Create(ctx, job)
	if err != nil {
		return nil, err
	}

	s.logger.WithContext(ctx).WithFields(map[string]any{
		"scan_id":       created.ID,
		"actor":         actor,
		"total_records": total,
	}).Info("Scan job created")

	return created, nil
}

// Cancel flags a pending or running scan for cancellation. The running
// worker notices at its next checkpoint.
func (s *Scanner) Cancel(ctx context.Context, scanID string) error {
	ctx, span := tracing.StartSpan(ctx, "scanner.Scanner.Cancel")
	defer span.End()

	return s.jobs.RequestCancel(ctx, scanID)
}

type recordOutcome struct {
	stored int
	err    error
}

// RunScan executes a scan job to completion. It claims a pending job (or
// resumes a running one from its checkpoint), walks the corpus with a bounded
// worker pool, checkpoints progress, and leaves the job in a terminal state
// whatever happens.
func (s *Scanner) RunScan(ctx context.Context, scanID string) (*models.ScanResult, error) {
	ctx, span := tracing.StartSpan(ctx, "scanner.Scanner.RunScan")
	defer span.End()

	job, err := s.jobs.Get(ctx, scanID)
	if err != nil {
		return nil, err
	}

	scope := records.Scope{RepositoryID: job.RepositoryID}
	total, err := s.corpus.Count(ctx, scope)
	if err != nil {
		return nil, err
	}

	// A job already in running state belongs to a crashed worker; pick it
	// back up from its last durable checkpoint instead of starting over.
	resumeProcessed, resumeFound := 0, 0
	switch job.Status {
	case models.ScanStatusPending:
		if err := s.jobs.MarkRunning(ctx, scanID, total); err != nil {
			return nil, err
		}
	case models.ScanStatusRunning:
		resumeProcessed = job.ProcessedRecords
		resumeFound = job.DuplicatesFound
	default:
		return nil, httperror.NewHTTPError(http.StatusConflict, fmt.Sprintf("scan %s is %s", scanID, job.Status))
	}

	log := s.logger.WithContext(ctx).WithFields(map[string]any{
		"scan_id":       scanID,
		"total_records": total,
	})
	if resumeProcessed > 0 {
		log.WithFields(map[string]any{"resume_from": resumeProcessed}).Info("Scan resumed from checkpoint")
	} else {
		log.Info("Scan started")
	}

	// Workers and the producer run under the timeout; job state writes
	// use the parent context so a timed-out scan can still be marked.
	runCtx, cancel := context.WithTimeout(ctx, s.cfg.JobTimeout)
	defer cancel()

	recordCh := make(chan models.RecordData)
	outcomeCh := make(chan recordOutcome)

	var wg sync.WaitGroup
	for i := 0; i < s.cfg.Workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for rec := range recordCh {
				stored, err := s.scanRecord(runCtx, rec, scope, scanID)
				select {
				case outcomeCh <- recordOutcome{stored: stored, err: err}:
				case <-runCtx.Done():
					return
				}
			}
		}()
	}

	producerErr := make(chan error, 1)
	go func() {
		defer close(recordCh)
		offset := resumeProcessed
		for {
			page, err := s.corpus.List(runCtx, scope, s.cfg.PageSize, offset)
			if err != nil {
				producerErr <- err
				return
			}
			if len(page) == 0 {
				producerErr <- nil
				return
			}
			for _, rec := range page {
				select {
				case recordCh <- rec:
				case <-runCtx.Done():
					producerErr <- runCtx.Err()
					return
				}
			}
			offset += len(page)
		}
	}()

	go func() {
		wg.Wait()
		close(outcomeCh)
	}()

	result := &models.ScanResult{Processed: resumeProcessed, DuplicatesFound: resumeFound}
	cancelled := false
	errCount := 0
	aborted := false
	for out := range outcomeCh {
		result.Processed++
		result.DuplicatesFound += out.stored
		if out.err != nil {
			errCount++
			if len(result.Errors) < maxRecordedErrors {
				result.Errors = append(result.Errors, out.err.Error())
			}
			if errCount >= maxRecordedErrors && !aborted {
				aborted = true
				cancel()
			}
		}

		if result.Processed%s.cfg.CheckpointEvery == 0 {
			if err := s.jobs.Checkpoint(ctx, scanID, result.Processed, result.DuplicatesFound); err != nil {
				log.WithError(err).Warn("Failed to checkpoint scan progress")
			}
			if s.cfg.OnProgress != nil {
				s.cfg.OnProgress(result.Processed, total)
			}
			requested, err := s.jobs.IsCancelRequested(ctx, scanID)
			if err != nil {
				log.WithError(err).Warn("Failed to check cancellation flag")
			} else if requested && !cancelled {
				cancelled = true
				cancel()
			}
		}
	}

	feedErr := <-producerErr

	switch {
	case cancelled:
		if err := s.jobs.MarkCancelled(ctx, scanID, result.Processed, result.DuplicatesFound); err != nil {
			return result, err
		}
		log.WithFields(map[string]any{"processed": result.Processed}).Info("Scan cancelled")
	case aborted:
		msg := fmt.Sprintf("aborted after %d record errors", errCount)
		if len(result.Errors) > 0 {
			msg = fmt.Sprintf("%s, last: %s", msg, result.Errors[len(result.Errors)-1])
		}
		if err := s.jobs.MarkFailed(ctx, scanID, result.Processed, result.DuplicatesFound, msg); err != nil {
			return result, err
		}
		log.WithFields(map[string]any{"record_errors": errCount}).Error("Scan aborted, record error budget exhausted")
	case runCtx.Err() == context.DeadlineExceeded:
		if err := s.jobs.MarkFailed(ctx, scanID, result.Processed, result.DuplicatesFound, "scan timed out"); err != nil {
			return result, err
		}
		log.Error("Scan timed out")
	case feedErr != nil && feedErr != context.Canceled:
		if err := s.jobs.MarkFailed(ctx, scanID, result.Processed, result.DuplicatesFound, feedErr.Error()); err != nil {
			return result, err
		}
		log.WithError(feedErr).Error("Scan failed")
	default:
		if err := s.jobs.MarkCompleted(ctx, scanID, result.Processed, result.DuplicatesFound); err != nil {
			return result, err
		}
		log.WithFields(map[string]any{
			"processed":        result.Processed,
			"duplicates_found": result.DuplicatesFound,
		}).Info("Scan completed")
	}

	if s.notifier != nil {
		if job, err := s.jobs.Get(ctx, scanID); err == nil {
			if err := s.notifier.ScanCompleted(ctx, job); err != nil {
				log.WithError(err).Warn("Failed to emit scan completion event")
			}
		}
	}

	return result, nil
}

// scanRecord checks one record against the rules and stores every
// candidate pair that clears the threshold. Returns how many were stored.
func (s *Scanner) scanRecord(ctx context.Context, rec models.RecordData, scope records.Scope, scanID string) (int, error) {
	candidates, err := s.checker.CheckRecord(ctx, rec, scope)
	if err != nil {
		return 0, err
	}

	stored := 0
	for _, c := range candidates {
		if c.MaxScore < s.cfg.StoreThreshold {
			continue
		}

		method := "combined"
		if len(c.Methods) > 0 {
			method = c.Methods[0]
		}

		id := scanID
		det := &models.DetectionRecord{
			RecordAID:        rec.ID,
			RecordBID:        c.RecordID,
			SimilarityScore:  c.MaxScore,
			DetectionMethod:  method,
			DetectionDetails: c.Details,
			ScanID:           &id,
		}
		if err := s.detections.Upsert(ctx, det); err != nil {
			return stored, err
		}
		stored++

		if s.notifier != nil {
			if err := s.notifier.DuplicateDetected(ctx, det); err != nil {
				s.logger.WithContext(ctx).WithError(err).Warn("Failed to emit detection event")
			}
		}
	}

	return stored, nil
}
