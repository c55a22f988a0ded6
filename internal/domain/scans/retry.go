package scans

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/rs/zerolog"
)

// DefaultMaxRetries is the failure ceiling after which a job is failed permanently.
const DefaultMaxRetries = 3

const maxErrorMessageLen = 1000

// Transition is the outcome of a failed processing attempt.
type Transition struct {
	Status             Status
	RetryCount         int
	PreviousRetryCount int
	ErrorMessage       string
}

// RetryPolicy decides between pending retry and permanent failure.
type RetryPolicy struct {
	MaxRetries int
}

func (p RetryPolicy) ceiling() int {
	if p.MaxRetries <= 0 {
		return DefaultMaxRetries
	}
	return p.MaxRetries
}

// OnFailure computes the next state for a job that failed while processing.
func (p RetryPolicy) OnFailure(job QueueJob, cause error) Transition {
	next := job.RetryCount + 1
	status := StatusPending
	if next >= p.ceiling() {
		status = StatusFailed
	}
	msg := "unknown error"
	if cause != nil {
		msg = cause.Error()
	}
	return Transition{
		Status:             status,
		RetryCount:         next,
		PreviousRetryCount: job.RetryCount,
		ErrorMessage:       truncateMessage(msg, maxErrorMessageLen),
	}
}

// truncateMessage cuts msg to at most n bytes on a rune boundary and drops
// any invalid UTF-8, which the error_message column rejects.
func truncateMessage(msg string, n int) string {
	msg = strings.ToValidUTF8(msg, "")
	if len(msg) <= n {
		return msg
	}
	for n > 0 && !utf8.RuneStart(msg[n]) {
		n--
	}
	return msg[:n]
}

// RetryManager applies RetryPolicy outcomes to the job store.
type RetryManager struct {
	repo   Repository
	policy RetryPolicy
	logger zerolog.Logger
}

func NewRetryManager(repo Repository, policy RetryPolicy, logger zerolog.Logger) *RetryManager {
	return &RetryManager{repo: repo, policy: policy, logger: logger}
}

// Fail records a processing failure for job and returns the applied transition.
func (m *RetryManager) Fail(ctx context.Context, job QueueJob, cause error) (Transition, error) {
	t := m.policy.OnFailure(job, cause)
	if err := m.repo.ApplyTransition(ctx, job.ID, t); err != nil {
		return t, fmt.Errorf("apply transition for job %s: %w", job.ID, err)
	}

	evt := m.logger.Warn()
	if t.Status == StatusFailed {
		evt = m.logger.Error()
	}
	evt.Str("job_id", job.ID).
		Str("scan_id", job.ScanID).
		Int("retry_count", t.RetryCount).
		Str("status", string(t.Status)).
		Str("error", t.ErrorMessage).
		Msg("scan processing attempt failed")
	return t, nil
}

// RecoverStale treats jobs stuck in processing since before cutoff as failed
// attempts. It returns the number of jobs recovered.
func (m *RetryManager) RecoverStale(ctx context.Context, cutoff time.Time, limit int) (int, error) {
	stale, err := m.repo.ListStale(ctx, cutoff, limit)
	if err != nil {
		return 0, fmt.Errorf("list stale jobs: %w", err)
	}
	recovered := 0
	for _, job := range stale {
		if _, err := m.Fail(ctx, job, fmt.Errorf("claim expired")); err != nil {
			if errors.Is(err, ErrClaimLost) {
				continue
			}
			m.logger.Error().Err(err).Str("job_id", job.ID).Msg("stale job recovery failed")
			continue
		}
		recovered++
	}
	return recovered, nil
}
