package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/corkboard/server/internal/domain/scans"
	"github.com/corkboard/server/internal/metrics"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// ScanRepository is the durable job store: queue_jobs plus the scans they
// belong to. Every status change on a job is mirrored onto its scan in the
// same statement.
type ScanRepository struct {
	pool *pgxpool.Pool
	tx   pgx.Tx
}

var _ scans.Repository = (*ScanRepository)(nil)

const queueJobColumns = `id::text, user_id::text, scan_id, image_url, COALESCE(ocr_text, ''),
       idempotency_key, status, retry_count, error_message, processed_data, created_at, processed_at`

func (r *ScanRepository) queryer() queryer {
	return pick(r.pool, r.tx)
}

func (r *ScanRepository) CreateSubmission(ctx context.Context, sub scans.NewSubmission) (*scans.QueueJob, error) {
	var job *scans.QueueJob
	err := runInTx(ctx, r.pool, r.tx, func(tx pgx.Tx) error {
		if err := ensureUser(ctx, tx, sub.UserID); err != nil {
			return err
		}
		if _, err := tx.Exec(ctx, `
INSERT INTO scans (id, user_id, image_key, image_url, status)
VALUES ($1, $2, $3, $4, 'pending')`,
			sub.ScanID, sub.UserID, sub.ImageKey, sub.ImageURL,
		); err != nil {
			return fmt.Errorf("insert scan: %w", err)
		}

		row := tx.QueryRow(ctx, `
INSERT INTO queue_jobs (id, user_id, scan_id, image_url, ocr_text, idempotency_key, status)
VALUES ($1, $2, $3, $4, $5, $6, 'pending')
RETURNING `+queueJobColumns,
			sub.JobID, sub.UserID, sub.ScanID, sub.ImageURL, nullIfEmpty(sub.OCRText), nullIfEmpty(sub.IdempotencyKey),
		)
		created, err := scanQueueJob(row)
		if err != nil {
			if isUniqueViolation(err) {
				return scans.ErrDuplicateSubmission
			}
			return fmt.Errorf("insert queue job: %w", err)
		}
		job = created
		return nil
	})
	if err != nil {
		return nil, err
	}
	return job, nil
}

// ClaimPending locks up to limit pending rows, skipping rows another claimer
// holds, and flips them to processing in the same statement.
func (r *ScanRepository) ClaimPending(ctx context.Context, limit int) (claimed []scans.QueueJob, err error) {
	if limit <= 0 {
		return nil, nil
	}
	start := time.Now()
	defer func() { metrics.RecordQuery(metrics.OpClaimPending, start, err) }()

	rows, err := r.queryer().Query(ctx, `
WITH claimed AS (
  UPDATE queue_jobs
     SET status = 'processing',
         processed_at = now()
   WHERE id IN (
         SELECT id
           FROM queue_jobs
          WHERE status = 'pending'
          ORDER BY created_at
          LIMIT $1
            FOR UPDATE SKIP LOCKED
   )
  RETURNING *
), mirrored AS (
  UPDATE scans s
     SET status = 'processing',
         updated_at = now()
    FROM claimed c
   WHERE s.id = c.scan_id
)
SELECT `+queueJobColumns+`
  FROM claimed
 ORDER BY created_at`, limit)
	if err != nil {
		return nil, fmt.Errorf("claim pending jobs: %w", err)
	}
	return collectQueueJobs(rows)
}

// ListStale reads processing jobs claimed before cutoff. It takes no row
// locks; two recoverers racing on a job are settled by the retry_count guard
// in ApplyTransition.
func (r *ScanRepository) ListStale(ctx context.Context, cutoff time.Time, limit int) (stale []scans.QueueJob, err error) {
	if limit <= 0 {
		return nil, nil
	}
	start := time.Now()
	defer func() { metrics.RecordQuery(metrics.OpListStale, start, err) }()

	rows, err := r.queryer().Query(ctx, `
SELECT `+queueJobColumns+`
  FROM queue_jobs
 WHERE status = 'processing'
   AND processed_at < $1
 ORDER BY processed_at
 LIMIT $2`, cutoff, limit)
	if err != nil {
		return nil, fmt.Errorf("list stale jobs: %w", err)
	}
	return collectQueueJobs(rows)
}

func (r *ScanRepository) Complete(ctx context.Context, jobID string, c scans.Completion) error {
	start := time.Now()
	tag, err := r.queryer().Exec(ctx, `
WITH done AS (
  UPDATE queue_jobs
     SET status = 'completed',
         processed_data = $2,
         error_message = NULL,
         processed_at = now()
   WHERE id = $1
     AND status = 'processing'
  RETURNING scan_id
)
UPDATE scans s
   SET status = 'completed',
       vintage_id = $3,
       updated_at = now()
  FROM done
 WHERE s.id = done.scan_id`,
		jobID, []byte(c.ProcessedData), nullIfEmpty(c.VintageID),
	)
	metrics.RecordQuery(metrics.OpCompleteJob, start, err)
	if err != nil {
		return fmt.Errorf("complete job %s: %w", jobID, err)
	}
	if tag.RowsAffected() == 0 {
		return scans.ErrClaimLost
	}
	return nil
}

// ApplyTransition only succeeds while the job is still processing with the
// retry count the caller observed, so a recovered claim and a late worker can
// never both record an outcome.
func (r *ScanRepository) ApplyTransition(ctx context.Context, jobID string, t scans.Transition) error {
	start := time.Now()
	tag, err := r.queryer().Exec(ctx, `
WITH moved AS (
  UPDATE queue_jobs
     SET status = $2,
         retry_count = $3,
         error_message = $4,
         processed_at = now()
   WHERE id = $1
     AND status = 'processing'
     AND retry_count = $5
  RETURNING scan_id
)
UPDATE scans s
   SET status = $2,
       updated_at = now()
  FROM moved
 WHERE s.id = moved.scan_id`,
		jobID, string(t.Status), t.RetryCount, nullIfEmpty(t.ErrorMessage), t.PreviousRetryCount,
	)
	metrics.RecordQuery(metrics.OpApplyTransition, start, err)
	if err != nil {
		return fmt.Errorf("transition job %s: %w", jobID, err)
	}
	if tag.RowsAffected() == 0 {
		return scans.ErrClaimLost
	}
	return nil
}

func (r *ScanRepository) GetJob(ctx context.Context, jobID string) (*scans.QueueJob, error) {
	row := r.queryer().QueryRow(ctx, `SELECT `+queueJobColumns+` FROM queue_jobs WHERE id = $1`, jobID)
	job, err := scanQueueJob(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, scans.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get job %s: %w", jobID, err)
	}
	return job, nil
}

const scanDetailQuery = `
SELECT s.id, s.user_id::text, s.image_key, s.image_url, s.status, COALESCE(s.vintage_id::text, ''),
       s.created_at, s.updated_at,
       j.id::text, j.retry_count, j.error_message, j.processed_data, j.processed_at
  FROM scans s
  JOIN queue_jobs j ON j.scan_id = s.id`

func (r *ScanRepository) GetScan(ctx context.Context, userID, scanID string) (*scans.ScanDetail, error) {
	row := r.queryer().QueryRow(ctx, scanDetailQuery+`
 WHERE s.id = $1 AND s.user_id = $2`, scanID, userID)
	detail, err := scanScanDetail(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, scans.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get scan %s: %w", scanID, err)
	}
	return detail, nil
}

func (r *ScanRepository) ListScans(ctx context.Context, userID string, after *scans.ListCursor, limit int) ([]scans.ScanDetail, error) {
	args := []any{userID, limit}
	keyset := ""
	if after != nil {
		keyset = ` AND (s.created_at, s.id) < ($3, $4)`
		args = append(args, after.CreatedAt, after.ScanID)
	}
	rows, err := r.queryer().Query(ctx, scanDetailQuery+`
 WHERE s.user_id = $1`+keyset+`
 ORDER BY s.created_at DESC, s.id DESC
 LIMIT $2`, args...)
	if err != nil {
		return nil, fmt.Errorf("list scans: %w", err)
	}
	defer rows.Close()

	var out []scans.ScanDetail
	for rows.Next() {
		detail, err := scanScanDetail(rows)
		if err != nil {
			return nil, fmt.Errorf("scan row: %w", err)
		}
		out = append(out, *detail)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate scans: %w", err)
	}
	return out, nil
}

func collectQueueJobs(rows pgx.Rows) ([]scans.QueueJob, error) {
	defer rows.Close()
	var jobs []scans.QueueJob
	for rows.Next() {
		job, err := scanQueueJob(rows)
		if err != nil {
			return nil, fmt.Errorf("scan queue job: %w", err)
		}
		jobs = append(jobs, *job)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate queue jobs: %w", err)
	}
	return jobs, nil
}

func scanQueueJob(row pgx.Row) (*scans.QueueJob, error) {
	var (
		job            scans.QueueJob
		status         string
		idempotencyKey *string
		errorMessage   *string
		processed      []byte
	)
	if err := row.Scan(
		&job.ID,
		&job.UserID,
		&job.ScanID,
		&job.ImageURL,
		&job.OCRText,
		&idempotencyKey,
		&status,
		&job.RetryCount,
		&errorMessage,
		&processed,
		&job.CreatedAt,
		&job.ProcessedAt,
	); err != nil {
		return nil, err
	}
	job.Status = scans.Status(status)
	job.IdempotencyKey = derefString(idempotencyKey)
	job.ErrorMessage = derefString(errorMessage)
	if len(processed) > 0 {
		job.ProcessedData = processed
	}
	return &job, nil
}

func scanScanDetail(row pgx.Row) (*scans.ScanDetail, error) {
	var (
		d            scans.ScanDetail
		status       string
		errorMessage *string
		processed    []byte
	)
	if err := row.Scan(
		&d.ID,
		&d.UserID,
		&d.ImageKey,
		&d.ImageURL,
		&status,
		&d.VintageID,
		&d.CreatedAt,
		&d.UpdatedAt,
		&d.JobID,
		&d.RetryCount,
		&errorMessage,
		&processed,
		&d.ProcessedAt,
	); err != nil {
		return nil, err
	}
	d.Status = scans.Status(status)
	d.ErrorMessage = derefString(errorMessage)
	if len(processed) > 0 {
		d.ProcessedData = processed
	}
	return &d, nil
}
