package kafka

import (
	"context"
	"encoding/json"
	"strconv"
	"time"

	"github.com/Gobusters/ectologger"
	"github.com/segmentio/kafka-go"

	"github.com/ahg-archives/bramble/pkg/tracing"
)

// Producer handles Kafka event emission
type Producer struct {
	writer *kafka.Writer
	logger ectologger.Logger
	topic  string
}

// ProducerConfig holds Kafka producer configuration
type ProducerConfig struct {
	Brokers      []string
	Topic        string
	BatchSize    int
	BatchTimeout time.Duration
	RequiredAcks int
	Compression  string
}

// NewProducer creates a new Kafka producer
func NewProducer(cfg ProducerConfig, logger ectologger.Logger) *Producer {
	compression := kafka.Snappy
	switch cfg.Compression {
	case "gzip":
		compression = kafka.Gzip
	case "lz4":
		compression = kafka.Lz4
	case "zstd":
		compression = kafka.Zstd
	case "none":
		compression = 0
	}

	writer := &kafka.Writer{
		Addr:                   kafka.TCP(cfg.Brokers...),
		Balancer:               &kafka.LeastBytes{},
		BatchSize:              cfg.BatchSize,
		BatchTimeout:           cfg.BatchTimeout,
		RequiredAcks:           kafka.RequiredAcks(cfg.RequiredAcks),
		Compression:            compression,
		AllowAutoTopicCreation: true,
	}

	return &Producer{
		writer: writer,
		logger: logger,
		topic:  cfg.Topic,
	}
}

// Close closes the producer
func (p *Producer) Close() error {
	return p.writer.Close()
}

// DedupeEvent is the envelope for every deduplication lifecycle event
type DedupeEvent struct {
	EventType   string          `json:"event_type"` // duplicate.detected, duplicate.confirmed, duplicate.dismissed, records.merged, scan.completed
	DetectionID string          `json:"detection_id,omitempty"`
	ScanID      string          `json:"scan_id,omitempty"`
	RecordAID   int             `json:"record_a_id,omitempty"`
	RecordBID   int             `json:"record_b_id,omitempty"`
	Score       float64         `json:"score,omitempty"`
	Method      string          `json:"method,omitempty"`
	Actor       string          `json:"actor,omitempty"`
	Data        json.RawMessage `json:"data,omitempty"`
	Timestamp   time.Time       `json:"timestamp"`
}

// PublishDedupeEvent publishes an event to the dedupe topic. The message key
// is the record pair so downstream consumers see a pair's events in order.
func (p *Producer) PublishDedupeEvent(ctx context.Context, event *DedupeEvent) error {
	ctx, span := tracing.StartSpan(ctx, "kafka.Producer.PublishDedupeEvent")
	defer span.End()

	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now().UTC()
	}

	data, err := json.Marshal(event)
	if err != nil {
		return err
	}

	key := event.DetectionID
	if key == "" {
		key = strconv.Itoa(event.RecordAID) + ":" + strconv.Itoa(event.RecordBID)
	}
	if key == "0:0" {
		key = event.ScanID
	}

	msg := kafka.Message{
		Topic: p.topic,
		Key:   []byte(key),
		Value: data,
		Headers: []kafka.Header{
			{Key: "event_type", Value: []byte(event.EventType)},
		},
	}

	if err := p.writer.WriteMessages(ctx, msg); err != nil {
		p.logger.WithContext(ctx).WithError(err).Error("Failed to publish dedupe event")
		return err
	}

	p.logger.WithContext(ctx).WithFields(map[string]any{
		"event_type":   event.EventType,
		"detection_id": event.DetectionID,
		"scan_id":      event.ScanID,
	}).Debug("Published dedupe event")

	return nil
}
