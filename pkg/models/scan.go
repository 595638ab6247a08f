package models

import "time"

// Scan job statuses
const (
	ScanStatusPending   = "pending"
	ScanStatusRunning   = "running"
	ScanStatusCompleted = "completed"
	ScanStatusFailed    = "failed"
	ScanStatusCancelled = "cancelled"
)

// ScanJob tracks one batch duplicate scan over the catalog.
type ScanJob struct {
	ID               string     `json:"id" db:"id"`
	RepositoryID     *int       `json:"repository_id,omitempty" db:"repository_id"` // nil = whole catalog
	Status           string     `json:"status" db:"status"`
	TotalRecords     int        `json:"total_records" db:"total_records"`
	ProcessedRecords int        `json:"processed_records" db:"processed_records"`
	DuplicatesFound  int        `json:"duplicates_found" db:"duplicates_found"`
	CancelRequested  bool       `json:"cancel_requested" db:"cancel_requested"`
	StartedBy        *string    `json:"started_by,omitempty" db:"started_by"`
	ErrorMessage     *string    `json:"error_message,omitempty" db:"error_message"`
	StartedAt        *time.Time `json:"started_at,omitempty" db:"started_at"`
	CompletedAt      *time.Time `json:"completed_at,omitempty" db:"completed_at"`
	CreatedAt        time.Time  `json:"created_at" db:"created_at"`
	UpdatedAt        time.Time  `json:"updated_at" db:"updated_at"`
}

// Terminal returns true when the job can no longer change state.
func (j *ScanJob) Terminal() bool {
	switch j.Status {
	case ScanStatusCompleted, ScanStatusFailed, ScanStatusCancelled:
		return true
	}
	return false
}

// ScanResult summarizes a finished (or cancelled) scan pass.
type ScanResult struct {
	Processed       int      `json:"processed"`
	DuplicatesFound int      `json:"duplicates_found"`
	Errors          []string `json:"errors,omitempty"`
}

// StartScanRequest is the request to launch a batch scan.
type StartScanRequest struct {
	RepositoryID *int `json:"repository_id,omitempty"`
}
