package models

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"time"
)

// Detection review statuses
const (
	DetectionStatusPending   = "pending"
	DetectionStatusConfirmed = "confirmed"
	DetectionStatusDismissed = "dismissed"
	DetectionStatusMerged    = "merged"
)

// DetectionRecord is one stored duplicate finding for a canonical record pair.
// RecordAID is always the smaller catalog id of the pair.
type DetectionRecord struct {
	ID               string           `json:"id" db:"id"`
	RecordAID        int              `json:"record_a_id" db:"record_a_id"`
	RecordBID        int              `json:"record_b_id" db:"record_b_id"`
	SimilarityScore  float64          `json:"similarity_score" db:"similarity_score"`
	DetectionMethod  string           `json:"detection_method" db:"detection_method"`
	DetectionDetails DetectionDetails `json:"detection_details" db:"detection_details"`
	Status           string           `json:"status" db:"status"`
	ScanID           *string          `json:"scan_id,omitempty" db:"scan_id"`
	ReviewedBy       *string          `json:"reviewed_by,omitempty" db:"reviewed_by"`
	ReviewedAt       *time.Time       `json:"reviewed_at,omitempty" db:"reviewed_at"`
	ReviewNotes      *string          `json:"review_notes,omitempty" db:"review_notes"`
	CreatedAt        time.Time        `json:"created_at" db:"created_at"`
	UpdatedAt        time.Time        `json:"updated_at" db:"updated_at"`
}

// DetectionDetails carries the evidence behind a detection. Which fields are
// populated depends on the rule type that produced it.
type DetectionDetails struct {
	Methods           []string      `json:"methods,omitempty"` // rule types that flagged the pair
	Scores            []float64     `json:"scores,omitempty"`  // per-rule scores, parallel to Methods
	MatchedTitle      string        `json:"matched_title,omitempty"`
	MatchedIdentifier string        `json:"matched_identifier,omitempty"`
	MatchedCreator    string        `json:"matched_creator,omitempty"`
	MatchedChecksum   string        `json:"matched_checksum,omitempty"`
	FileName          string        `json:"file_name,omitempty"`
	DateOverlap       bool          `json:"date_overlap,omitempty"`
	Factors           *FactorScores `json:"factors,omitempty"` // combined rule only
}

// FactorScores is the per-factor breakdown produced by the combined rule.
type FactorScores struct {
	Title      float64 `json:"title"`
	Identifier float64 `json:"identifier"`
	Date       float64 `json:"date"`
	Creator    float64 `json:"creator"`
}

func (d *DetectionDetails) Scan(src any) error {
	if src == nil {
		*d = DetectionDetails{}
		return nil
	}
	b, ok := src.([]byte)
	if !ok {
		return fmt.Errorf("DetectionDetails.Scan: expected []byte, got %T", src)
	}
	return json.Unmarshal(b, d)
}

func (d DetectionDetails) Value() (driver.Value, error) {
	return json.Marshal(d)
}

// DetectionStatistics is the aggregate view over stored detections.
type DetectionStatistics struct {
	Total        int            `json:"total"`
	Pending      int            `json:"pending"`
	Confirmed    int            `json:"confirmed"`
	Dismissed    int            `json:"dismissed"`
	Merged       int            `json:"merged"`
	AverageScore float64        `json:"average_score"`
	ByMethod     map[string]int `json:"by_method"`      // pending detections per detection method
	RecentMerges int            `json:"recent_merges"` // merges in the last 30 days
}
