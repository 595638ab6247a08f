package models

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"time"
)

// Field choice values in a merge request
const (
	FieldChoicePrimary = "primary"
	FieldChoiceMerged  = "merged"
)

// FieldChoices records, per conflicting field, which record's value the
// reviewer kept.
type FieldChoices map[string]string

func (f *FieldChoices) Scan(src any) error {
	if src == nil {
		*f = nil
		return nil
	}
	b, ok := src.([]byte)
	if !ok {
		return fmt.Errorf("FieldChoices.Scan: expected []byte, got %T", src)
	}
	return json.Unmarshal(b, f)
}

func (f FieldChoices) Value() (driver.Value, error) {
	if f == nil {
		return json.Marshal(FieldChoices{})
	}
	return json.Marshal(f)
}

// StringList is a JSONB-persisted string slice.
type StringList []string

func (l *StringList) Scan(src any) error {
	if src == nil {
		*l = nil
		return nil
	}
	b, ok := src.([]byte)
	if !ok {
		return fmt.Errorf("StringList.Scan: expected []byte, got %T", src)
	}
	return json.Unmarshal(b, l)
}

func (l StringList) Value() (driver.Value, error) {
	if l == nil {
		return json.Marshal([]string{})
	}
	return json.Marshal(l)
}

// Int64List is a JSONB-persisted id slice.
type Int64List []int64

func (l *Int64List) Scan(src any) error {
	if src == nil {
		*l = nil
		return nil
	}
	b, ok := src.([]byte)
	if !ok {
		return fmt.Errorf("Int64List.Scan: expected []byte, got %T", src)
	}
	return json.Unmarshal(b, l)
}

func (l Int64List) Value() (driver.Value, error) {
	if l == nil {
		return json.Marshal([]int64{})
	}
	return json.Marshal(l)
}

// MergeLogEntry is the audit row written for every merge.
type MergeLogEntry struct {
	ID              string       `json:"id" db:"id"`
	PrimaryID       int          `json:"primary_id" db:"primary_id"`
	MergedID        int          `json:"merged_id" db:"merged_id"`
	DetectionID     *string      `json:"detection_id,omitempty" db:"detection_id"`
	FieldChoices    FieldChoices `json:"field_choices" db:"field_choices"`
	SlugsRedirected StringList   `json:"slugs_redirected" db:"slugs_redirected"`
	AssetsMoved     Int64List    `json:"assets_moved" db:"assets_moved"`
	MergedBy        *string      `json:"merged_by,omitempty" db:"merged_by"`
	Notes           *string      `json:"notes,omitempty" db:"notes"`
	MergedAt        time.Time    `json:"merged_at" db:"merged_at"`
}

// MergeRequest is the request to merge a duplicate pair.
type MergeRequest struct {
	PrimaryID    int          `json:"primary_id" validate:"required"`
	MergedID     int          `json:"merged_id" validate:"required"`
	DetectionID  *string      `json:"detection_id,omitempty"`
	FieldChoices FieldChoices `json:"field_choices,omitempty"`
	Notes        *string      `json:"notes,omitempty"`
}
