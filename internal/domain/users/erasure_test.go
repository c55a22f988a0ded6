package users

import (
	"bytes"
	"context"
	"errors"
	"testing"

	"github.com/corkboard/server/internal/audit"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"
)

const testUserID = "6f1c3b4e-8d2a-4f5b-9c1d-2e3f4a5b6c7d"

type stubRepo struct {
	counts ErasureCounts
	err    error
	calls  []string
}

func (s *stubRepo) DeleteUserData(_ context.Context, userID string) (ErasureCounts, error) {
	s.calls = append(s.calls, userID)
	return s.counts, s.err
}

type stubObjects struct {
	prefixes []string
	err      error
}

func (s *stubObjects) RemovePrefix(_ context.Context, prefix string) (int, error) {
	s.prefixes = append(s.prefixes, prefix)
	return 2, s.err
}

type stubCache struct{ users []string }

func (s *stubCache) InvalidateUser(_ context.Context, userID string) error {
	s.users = append(s.users, userID)
	return nil
}

func TestEraseUserRemovesRowsObjectsAndCache(t *testing.T) {
	var buf bytes.Buffer
	repo := &stubRepo{counts: ErasureCounts{QueueJobs: 2, Tastings: 3, Scans: 2, Preferences: 1}}
	objects := &stubObjects{}
	cache := &stubCache{}
	svc := NewErasureService(repo, objects, cache, audit.NewLoggerWithZerolog(zerolog.New(&buf)), zerolog.Nop())

	counts, err := svc.EraseUser(context.Background(), testUserID, testUserID, "10.0.0.1")
	require.NoError(t, err)
	require.Equal(t, repo.counts, counts)
	require.Equal(t, []string{"scans/" + testUserID + "/"}, objects.prefixes)
	require.Equal(t, []string{testUserID}, cache.users)
	require.Contains(t, buf.String(), `"action":"account.erased"`)
	require.Contains(t, buf.String(), `"status":"success"`)
}

func TestEraseUserObjectFailureIsNotFatal(t *testing.T) {
	svc := NewErasureService(&stubRepo{}, &stubObjects{err: errors.New("s3 down")}, nil, nil, zerolog.Nop())

	_, err := svc.EraseUser(context.Background(), testUserID, "cli", "")
	require.NoError(t, err)
}

func TestEraseUserNotFound(t *testing.T) {
	objects := &stubObjects{}
	svc := NewErasureService(&stubRepo{err: ErrUserNotFound}, objects, nil, nil, zerolog.Nop())

	_, err := svc.EraseUser(context.Background(), testUserID, "cli", "")
	require.ErrorIs(t, err, ErrUserNotFound)
	require.Empty(t, objects.prefixes)

	repo := &stubRepo{}
	svc = NewErasureService(repo, nil, nil, nil, zerolog.Nop())
	_, err = svc.EraseUser(context.Background(), "not-a-uuid", "cli", "")
	require.ErrorIs(t, err, ErrUserNotFound)
	require.Empty(t, repo.calls)
}

func TestEraseUserDatabaseFailure(t *testing.T) {
	objects := &stubObjects{}
	svc := NewErasureService(&stubRepo{err: errors.New("deadlock")}, objects, nil, nil, zerolog.Nop())

	_, err := svc.EraseUser(context.Background(), testUserID, "cli", "")
	require.Error(t, err)
	require.Empty(t, objects.prefixes, "objects stay until rows are gone")
}
