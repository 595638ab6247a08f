// Package worker runs batch scans off the request path.
package worker

import (
	"context"
	"encoding/json"

	"github.com/Gobusters/ectologger"

	"github.com/ahg-archives/bramble/pkg/kafka"
	"github.com/ahg-archives/bramble/pkg/scanner"
	"github.com/ahg-archives/bramble/pkg/tracing"
)

// Dispatcher hands scan jobs to a worker. With Kafka configured the job id
// goes on the scan topic; without it the scan runs in-process.
type Dispatcher struct {
	logger   ectologger.Logger
	producer *kafka.Producer
	scanner  *scanner.Scanner
}

func NewDispatcher(logger ectologger.Logger, producer *kafka.Producer, scanner *scanner.Scanner) *Dispatcher {
	return &Dispatcher{
		logger:   logger,
		producer: producer,
		scanner:  scanner,
	}
}

// Dispatch queues the scan for execution
func (d *Dispatcher) Dispatch(ctx context.Context, scanID string) error {
	ctx, span := tracing.StartSpan(ctx, "worker.Dispatcher.Dispatch")
	defer span.End()

	if d.producer != nil {
		data, err := json.Marshal(kafka.ScanRequest{ScanID: scanID})
		if err != nil {
			return err
		}
		return d.producer.PublishDedupeEvent(ctx, &kafka.DedupeEvent{
			EventType: "scan.requested",
			ScanID:    scanID,
			Data:      data,
		})
	}

	// In-process fallback. The request context ends with the response, so
	// the scan runs under its own context.
	go func() {
		if _, err := d.scanner.RunScan(context.Background(), scanID); err != nil {
			d.logger.WithError(err).WithFields(map[string]any{"scan_id": scanID}).Error("Background scan failed")
		}
	}()

	return nil
}

// ScanWorker consumes scan requests and runs them to completion. It plugs
// into the startup manager as a dependency.
type ScanWorker struct {
	logger   ectologger.Logger
	consumer *kafka.Consumer
	scanner  *scanner.Scanner
}

func NewScanWorker(logger ectologger.Logger, cfg kafka.ConsumerConfig, s *scanner.Scanner) *ScanWorker {
	w := &ScanWorker{
		logger:  logger,
		scanner: s,
	}
	w.consumer = kafka.NewConsumer(cfg, logger, w.handle)
	return w
}

func (w *ScanWorker) handle(ctx context.Context, msg *kafka.IncomingMessage) error {
	req, err := msg.ParseScanRequest()
	if err != nil {
		w.logger.WithContext(ctx).WithError(err).Error("Failed to parse scan request")
		return nil // malformed messages are committed, not retried
	}
	if req.ScanID == "" {
		return nil
	}

	_, err = w.scanner.RunScan(ctx, req.ScanID)
	return err
}

// GetName implements startup.Dependency
func (w *ScanWorker) GetName() string {
	return "scan-worker"
}

// DependsOn implements startup.Dependency
func (w *ScanWorker) DependsOn() []string {
	return []string{"database"}
}

// Start implements startup.Dependency
func (w *ScanWorker) Start(ctx context.Context) error {
	return w.consumer.Start(ctx)
}

// Stop implements startup.Dependency
func (w *ScanWorker) Stop(ctx context.Context) error {
	return w.consumer.Stop()
}

// Health reports whether the underlying consumer is connected
func (w *ScanWorker) Health() bool {
	return w.consumer.Health()
}
