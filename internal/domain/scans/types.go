package scans

import (
	"encoding/json"
	"errors"
	"time"
)

// Status is the lifecycle state shared by a queue job and its scan.
type Status string

const (
	StatusPending    Status = "pending"
	StatusProcessing Status = "processing"
	StatusCompleted  Status = "completed"
	StatusFailed     Status = "failed"
)

// Terminal reports whether no further claims can happen from this status.
func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusFailed
}

func (s Status) Valid() bool {
	switch s {
	case StatusPending, StatusProcessing, StatusCompleted, StatusFailed:
		return true
	}
	return false
}

var (
	ErrNotFound            = errors.New("not found")
	ErrDuplicateSubmission = errors.New("duplicate submission")
	ErrClaimLost           = errors.New("job is no longer claimed by this worker")
	ErrInvalidImage        = errors.New("invalid image")
	ErrInvalidInput        = errors.New("invalid input")
)

// QueueJob is one durable unit of label-ingestion work.
type QueueJob struct {
	ID             string
	UserID         string
	ScanID         string
	ImageURL       string
	OCRText        string
	IdempotencyKey string
	Status         Status
	RetryCount     int
	ErrorMessage   string
	ProcessedData  json.RawMessage
	CreatedAt      time.Time
	ProcessedAt    *time.Time
}

// Scan is the user-facing record of a submitted label photo.
type Scan struct {
	ID        string
	UserID    string
	ImageKey  string
	ImageURL  string
	Status    Status
	VintageID string
	CreatedAt time.Time
	UpdatedAt time.Time
}

// ListCursor positions a page strictly after the scan with this creation
// time and id, in newest-first order.
type ListCursor struct {
	CreatedAt time.Time
	ScanID    string
}

// ScanPage is one page of a user's scans. Next is nil on the last page.
type ScanPage struct {
	Items []ScanDetail
	Next  *ListCursor
}

// ScanDetail joins a scan with the state of its queue job.
type ScanDetail struct {
	Scan
	JobID         string
	RetryCount    int
	ErrorMessage  string
	ProcessedData json.RawMessage
	ProcessedAt   *time.Time
}

// NewSubmission carries the rows written when a photo is accepted.
type NewSubmission struct {
	JobID          string
	ScanID         string
	UserID         string
	ImageKey       string
	ImageURL       string
	OCRText        string
	IdempotencyKey string
}

// Completion is written when a claimed job finishes successfully.
type Completion struct {
	ProcessedData json.RawMessage
	VintageID     string
}
