// Package events handles event emission for deduplication lifecycle changes
package events

import (
	"context"
	"encoding/json"

	"github.com/Gobusters/ectologger"

	"github.com/ahg-archives/bramble/pkg/kafka"
	"github.com/ahg-archives/bramble/pkg/models"
	"github.com/ahg-archives/bramble/pkg/tracing"
)

// SchemaVersion is the current event schema version
const SchemaVersion = "1.0"

// Event types
const (
	EventDuplicateDetected  = "duplicate.detected"
	EventDuplicateConfirmed = "duplicate.confirmed"
	EventDuplicateDismissed = "duplicate.dismissed"
	EventRecordsMerged      = "records.merged"
	EventScanCompleted      = "scan.completed"
)

// Emitter publishes deduplication events. A nil Emitter is valid and
// drops everything, which is how deployments without Kafka run.
type Emitter struct {
	producer *kafka.Producer
	logger   ectologger.Logger
}

// NewEmitter creates a new event emitter
func NewEmitter(producer *kafka.Producer, logger ectologger.Logger) *Emitter {
	return &Emitter{
		producer: producer,
		logger:   logger,
	}
}

func (e *Emitter) enabled() bool {
	return e != nil && e.producer != nil
}

// DuplicateDetected emits an event for a newly stored detection
func (e *Emitter) DuplicateDetected(ctx context.Context, det *models.DetectionRecord) error {
	if !e.enabled() {
		return nil
	}
	ctx, span := tracing.StartSpan(ctx, "events.Emitter.DuplicateDetected")
	defer span.End()

	scanID := ""
	if det.ScanID != nil {
		scanID = *det.ScanID
	}

	event := &kafka.DedupeEvent{
		EventType:   EventDuplicateDetected,
		DetectionID: det.ID,
		ScanID:      scanID,
		RecordAID:   det.RecordAID,
		RecordBID:   det.RecordBID,
		Score:       det.SimilarityScore,
		Method:      det.DetectionMethod,
	}

	if err := e.producer.PublishDedupeEvent(ctx, event); err != nil {
		e.logger.WithContext(ctx).WithError(err).Error("Failed to emit duplicate.detected event")
		return err
	}

	return nil
}

// DuplicateReviewed emits the confirm or dismiss decision for a detection
func (e *Emitter) DuplicateReviewed(ctx context.Context, det *models.DetectionRecord, status, actor string) error {
	if !e.enabled() {
		return nil
	}
	ctx, span := tracing.StartSpan(ctx, "events.Emitter.DuplicateReviewed")
	defer span.End()

	eventType := EventDuplicateDismissed
	if status == models.DetectionStatusConfirmed {
		eventType = EventDuplicateConfirmed
	}

	event := &kafka.DedupeEvent{
		EventType:   eventType,
		DetectionID: det.ID,
		RecordAID:   det.RecordAID,
		RecordBID:   det.RecordBID,
		Score:       det.SimilarityScore,
		Method:      det.DetectionMethod,
		Actor:       actor,
	}

	if err := e.producer.PublishDedupeEvent(ctx, event); err != nil {
		e.logger.WithContext(ctx).WithError(err).Error("Failed to emit review event")
		return err
	}

	return nil
}

// RecordsMerged emits the merge audit entry after a successful merge
func (e *Emitter) RecordsMerged(ctx context.Context, entry *models.MergeLogEntry) error {
	if !e.enabled() {
		return nil
	}
	ctx, span := tracing.StartSpan(ctx, "events.Emitter.RecordsMerged")
	defer span.End()

	data, _ := json.Marshal(map[string]any{
		"schema_version":   SchemaVersion,
		"merge_log_id":     entry.ID,
		"slugs_redirected": entry.SlugsRedirected,
		"assets_moved":     entry.AssetsMoved,
	})

	detectionID := ""
	if entry.DetectionID != nil {
		detectionID = *entry.DetectionID
	}
	actor := ""
	if entry.MergedBy != nil {
		actor = *entry.MergedBy
	}

	event := &kafka.DedupeEvent{
		EventType:   EventRecordsMerged,
		DetectionID: detectionID,
		RecordAID:   entry.PrimaryID,
		RecordBID:   entry.MergedID,
		Actor:       actor,
		Data:        data,
	}

	if err := e.producer.PublishDedupeEvent(ctx, event); err != nil {
		e.logger.WithContext(ctx).WithError(err).Error("Failed to emit records.merged event")
		return err
	}

	return nil
}

// ScanCompleted emits the terminal state of a batch scan
func (e *Emitter) ScanCompleted(ctx context.Context, job *models.ScanJob) error {
	if !e.enabled() {
		return nil
	}
	ctx, span := tracing.StartSpan(ctx, "events.Emitter.ScanCompleted")
	defer span.End()

	data, _ := json.Marshal(map[string]any{
		"schema_version":    SchemaVersion,
		"status":            job.Status,
		"total_records":     job.TotalRecords,
		"processed_records": job.ProcessedRecords,
		"duplicates_found":  job.DuplicatesFound,
	})

	event := &kafka.DedupeEvent{
		EventType: EventScanCompleted,
		ScanID:    job.ID,
		Data:      data,
	}

	if err := e.producer.PublishDedupeEvent(ctx, event); err != nil {
		e.logger.WithContext(ctx).WithError(err).Error("Failed to emit scan.completed event")
		return err
	}

	return nil
}
