package models

import "time"

// RecordData is the comparable field set of one catalog record, as loaded by
// the record repository. Zero-value fields mean the catalog has no data there.
type RecordData struct {
	ID             int        `json:"id" db:"id"`
	RepositoryID   *int       `json:"repository_id,omitempty" db:"repository_id"`
	Title          string     `json:"title" db:"title"`
	Identifier     string     `json:"identifier" db:"identifier"`
	Creator        string     `json:"creator" db:"creator"`
	StartDate      *time.Time `json:"start_date,omitempty" db:"start_date"`
	EndDate        *time.Time `json:"end_date,omitempty" db:"end_date"`
	ChecksumSHA256 string     `json:"checksum_sha256,omitempty" db:"checksum_sha256"`
	ChecksumMD5    string     `json:"checksum_md5,omitempty" db:"checksum_md5"`
	FileName       string     `json:"file_name,omitempty" db:"file_name"`
}

// RecordSummary is the lightweight record view returned with matches.
type RecordSummary struct {
	ID           int    `json:"id" db:"id"`
	Title        string `json:"title" db:"title"`
	Identifier   string `json:"identifier" db:"identifier"`
	Slug         string `json:"slug" db:"slug"`
	RepositoryID *int   `json:"repository_id,omitempty" db:"repository_id"`
}

// Match is one candidate flagged against a probe record.
type Match struct {
	RecordID int              `json:"record_id"`
	Score    float64          `json:"score"`
	Method   string           `json:"method"`
	Blocking bool             `json:"blocking"`
	Details  DetectionDetails `json:"details"`
}

// RealtimeMatch is a Match enriched with the candidate's summary for display
// in the cataloguing UI.
type RealtimeMatch struct {
	Match
	Record RecordSummary `json:"record"`
}
