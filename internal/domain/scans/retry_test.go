package scans

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"
	"unicode/utf8"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"
)

func TestRetryPolicyOnFailure(t *testing.T) {
	tests := []struct {
		name       string
		policy     RetryPolicy
		retryCount int
		wantStatus Status
		wantCount  int
	}{
		{name: "first failure retries", policy: RetryPolicy{MaxRetries: 3}, retryCount: 0, wantStatus: StatusPending, wantCount: 1},
		{name: "second failure retries", policy: RetryPolicy{MaxRetries: 3}, retryCount: 1, wantStatus: StatusPending, wantCount: 2},
		{name: "third failure is terminal", policy: RetryPolicy{MaxRetries: 3}, retryCount: 2, wantStatus: StatusFailed, wantCount: 3},
		{name: "past ceiling stays terminal", policy: RetryPolicy{MaxRetries: 3}, retryCount: 5, wantStatus: StatusFailed, wantCount: 6},
		{name: "zero value uses default ceiling", policy: RetryPolicy{}, retryCount: 2, wantStatus: StatusFailed, wantCount: 3},
		{name: "ceiling of one", policy: RetryPolicy{MaxRetries: 1}, retryCount: 0, wantStatus: StatusFailed, wantCount: 1},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := tt.policy.OnFailure(QueueJob{RetryCount: tt.retryCount}, errors.New("boom"))
			require.Equal(t, tt.wantStatus, got.Status)
			require.Equal(t, tt.wantCount, got.RetryCount)
			require.Equal(t, tt.retryCount, got.PreviousRetryCount)
			require.Equal(t, "boom", got.ErrorMessage)
		})
	}
}

func TestRetryPolicyTruncatesLongMessages(t *testing.T) {
	got := RetryPolicy{}.OnFailure(QueueJob{}, errors.New(strings.Repeat("x", 5000)))
	require.Len(t, got.ErrorMessage, maxErrorMessageLen)

	got = RetryPolicy{}.OnFailure(QueueJob{}, errors.New(strings.Repeat("a", 999)+"é rest"))
	require.Len(t, got.ErrorMessage, 999)
	require.True(t, utf8.ValidString(got.ErrorMessage))

	got = RetryPolicy{}.OnFailure(QueueJob{}, errors.New("bad \xff byte"))
	require.Equal(t, "bad  byte", got.ErrorMessage)

	got = RetryPolicy{}.OnFailure(QueueJob{}, nil)
	require.Equal(t, "unknown error", got.ErrorMessage)
}

func TestRetryManagerThreeFailuresReachFailed(t *testing.T) {
	ctx := context.Background()
	repo := newMemRepository()
	manager := NewRetryManager(repo, RetryPolicy{MaxRetries: 3}, zerolog.Nop())

	_, err := repo.CreateSubmission(ctx, NewSubmission{JobID: "job-1", ScanID: "scan-1", UserID: "u"})
	require.NoError(t, err)

	var statuses []Status
	for i := 0; i < 3; i++ {
		claimed, err := repo.ClaimPending(ctx, 1)
		require.NoError(t, err)
		require.Len(t, claimed, 1)
		statuses = append(statuses, claimed[0].Status)

		tr, err := manager.Fail(ctx, claimed[0], errors.New("model timeout"))
		require.NoError(t, err)
		statuses = append(statuses, tr.Status)
	}

	require.Equal(t, []Status{
		StatusProcessing, StatusPending,
		StatusProcessing, StatusPending,
		StatusProcessing, StatusFailed,
	}, statuses)

	job, err := repo.GetJob(ctx, "job-1")
	require.NoError(t, err)
	require.Equal(t, StatusFailed, job.Status)
	require.Equal(t, 3, job.RetryCount)
	require.Equal(t, "model timeout", job.ErrorMessage)

	claimed, err := repo.ClaimPending(ctx, 10)
	require.NoError(t, err)
	require.Empty(t, claimed, "failed jobs must never be claimed again")
}

func TestRetryManagerRecoverStale(t *testing.T) {
	ctx := context.Background()
	repo := newMemRepository()
	manager := NewRetryManager(repo, RetryPolicy{MaxRetries: 3}, zerolog.Nop())

	_, err := repo.CreateSubmission(ctx, NewSubmission{JobID: "job-1", ScanID: "scan-1", UserID: "u"})
	require.NoError(t, err)
	_, err = repo.ClaimPending(ctx, 1)
	require.NoError(t, err)

	recovered, err := manager.RecoverStale(ctx, time.Now().Add(-time.Hour), 10)
	require.NoError(t, err)
	require.Zero(t, recovered, "recently claimed jobs are not stale")

	recovered, err = manager.RecoverStale(ctx, time.Now().Add(time.Second), 10)
	require.NoError(t, err)
	require.Equal(t, 1, recovered)

	job, err := repo.GetJob(ctx, "job-1")
	require.NoError(t, err)
	require.Equal(t, StatusPending, job.Status)
	require.Equal(t, 1, job.RetryCount)
	require.Equal(t, "claim expired", job.ErrorMessage)
}

func TestRetryManagerFailAfterClaimLost(t *testing.T) {
	ctx := context.Background()
	repo := newMemRepository()
	manager := NewRetryManager(repo, RetryPolicy{}, zerolog.Nop())

	_, err := repo.CreateSubmission(ctx, NewSubmission{JobID: "job-1", ScanID: "scan-1", UserID: "u"})
	require.NoError(t, err)

	_, err = manager.Fail(ctx, QueueJob{ID: "job-1"}, errors.New("boom"))
	require.ErrorIs(t, err, ErrClaimLost)
}

func TestStatusTerminal(t *testing.T) {
	require.True(t, StatusCompleted.Terminal())
	require.True(t, StatusFailed.Terminal())
	require.False(t, StatusPending.Terminal())
	require.False(t, StatusProcessing.Terminal())
	require.False(t, Status("other").Valid())
}
