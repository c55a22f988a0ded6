package scans

import (
	"context"
	"time"
)

// Repository is the durable job store behind the ingestion pipeline.
type Repository interface {
	// CreateSubmission inserts the pending queue job and its scan atomically.
	// A repeated idempotency key returns ErrDuplicateSubmission.
	CreateSubmission(ctx context.Context, sub NewSubmission) (*QueueJob, error)

	// ClaimPending moves up to limit pending jobs to processing in a single
	// statement and returns them. Concurrent callers never receive the same row.
	ClaimPending(ctx context.Context, limit int) ([]QueueJob, error)

	// ListStale returns up to limit processing jobs claimed before cutoff.
	ListStale(ctx context.Context, cutoff time.Time, limit int) ([]QueueJob, error)

	// Complete marks a processing job completed. ErrClaimLost is returned when
	// the job is no longer in processing.
	Complete(ctx context.Context, jobID string, c Completion) error

	// ApplyTransition records a failure outcome for a processing job whose
	// retry count still equals t.PreviousRetryCount.
	ApplyTransition(ctx context.Context, jobID string, t Transition) error

	GetJob(ctx context.Context, jobID string) (*QueueJob, error)
	GetScan(ctx context.Context, userID, scanID string) (*ScanDetail, error)
	// ListScans returns the user's scans newest first, starting after the
	// cursor when one is given.
	ListScans(ctx context.Context, userID string, after *ListCursor, limit int) ([]ScanDetail, error)
}
