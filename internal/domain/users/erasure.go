package users

import (
	"context"
	"errors"
	"fmt"
	"strconv"

	"github.com/corkboard/server/internal/audit"
	"github.com/corkboard/server/internal/domain/ids"
	"github.com/corkboard/server/internal/domain/scans"
	"github.com/rs/zerolog"
)

var ErrUserNotFound = errors.New("user not found")

// ErasureCounts reports how many rows were removed per table.
type ErasureCounts struct {
	QueueJobs   int64
	Tastings    int64
	Scans       int64
	Preferences int64
}

// Repository removes a user's rows. DeleteUserData deletes queue jobs,
// tastings, scans and preferences, then the user row, in one transaction.
// It returns ErrUserNotFound when no user row exists.
type Repository interface {
	DeleteUserData(ctx context.Context, userID string) (ErasureCounts, error)
}

// ObjectRemover deletes stored objects under a key prefix.
type ObjectRemover interface {
	RemovePrefix(ctx context.Context, prefix string) (int, error)
}

// CacheInvalidator drops cached per-user responses.
type CacheInvalidator interface {
	InvalidateUser(ctx context.Context, userID string) error
}

type ErasureService struct {
	repo    Repository
	objects ObjectRemover
	cache   CacheInvalidator
	audit   *audit.Logger
	logger  zerolog.Logger
}

func NewErasureService(repo Repository, objects ObjectRemover, cache CacheInvalidator, auditLogger *audit.Logger, logger zerolog.Logger) *ErasureService {
	return &ErasureService{
		repo:    repo,
		objects: objects,
		cache:   cache,
		audit:   auditLogger,
		logger:  logger.With().Str("component", "erasure").Logger(),
	}
}

// EraseUser deletes every row owned by userID before the identity itself,
// then removes stored photos and cached responses. Object and cache cleanup
// failures are logged; the database erasure is what must succeed.
func (s *ErasureService) EraseUser(ctx context.Context, userID, actor, ipAddress string) (ErasureCounts, error) {
	if err := ids.ValidateUUID(userID); err != nil {
		return ErasureCounts{}, ErrUserNotFound
	}

	counts, err := s.repo.DeleteUserData(ctx, userID)
	if err != nil {
		if errors.Is(err, ErrUserNotFound) {
			return ErasureCounts{}, err
		}
		s.audit.LogFailure("account.erased", actor, "user", userID, ipAddress, map[string]string{"error": err.Error()})
		return ErasureCounts{}, fmt.Errorf("erase user data: %w", err)
	}

	removed := 0
	if s.objects != nil {
		removed, err = s.objects.RemovePrefix(ctx, scans.ImagePrefix(userID))
		if err != nil {
			s.logger.Warn().Err(err).Str("user_id", userID).Msg("failed to remove stored scan images")
		}
	}
	if s.cache != nil {
		if err := s.cache.InvalidateUser(ctx, userID); err != nil {
			s.logger.Warn().Err(err).Str("user_id", userID).Msg("failed to invalidate cached responses")
		}
	}

	s.audit.LogSuccess("account.erased", actor, "user", userID, ipAddress, map[string]string{
		"queue_jobs":  strconv.FormatInt(counts.QueueJobs, 10),
		"tastings":    strconv.FormatInt(counts.Tastings, 10),
		"scans":       strconv.FormatInt(counts.Scans, 10),
		"preferences": strconv.FormatInt(counts.Preferences, 10),
		"objects":     strconv.Itoa(removed),
	})
	return counts, nil
}
