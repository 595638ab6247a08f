package kafka

import (
	"encoding/json"
	"time"
)

// IncomingMessage wraps a raw Kafka message with parsed headers
type IncomingMessage struct {
	Key       string
	Value     []byte
	Headers   map[string]string
	Partition int
	Offset    int64
	Timestamp time.Time
	Topic     string
}

// ScanRequest asks a worker to run a batch duplicate scan
type ScanRequest struct {
	ScanID       string `json:"scan_id,omitempty"`
	RepositoryID *int   `json:"repository_id,omitempty"`
	RequestedBy  string `json:"requested_by,omitempty"`
}

// ParseScanRequest parses the message value as a scan request
func (m *IncomingMessage) ParseScanRequest() (*ScanRequest, error) {
	var req ScanRequest
	if err := json.Unmarshal(m.Value, &req); err != nil {
		return nil, err
	}
	return &req, nil
}
