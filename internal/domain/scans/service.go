package scans

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/corkboard/server/internal/domain/ids"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

const maxOCRTextLen = 20000

// ImageStore persists normalised label photos.
type ImageStore interface {
	Put(ctx context.Context, key string, data []byte, contentType string) (string, error)
	Remove(ctx context.Context, key string) error
}

// Trigger asks the pipeline to run soon. Failures are tolerated by callers.
type Trigger interface {
	TriggerProcessing(ctx context.Context) error
}

// NormalizeFunc turns uploaded bytes into a storable JPEG.
type NormalizeFunc func(raw []byte) ([]byte, error)

// SubmitInput is a label photo submitted by a user.
type SubmitInput struct {
	UserID         string
	Image          []byte
	OCRText        string
	IdempotencyKey string
}

// SubmitResult is returned as soon as the job is durably queued.
type SubmitResult struct {
	JobID  string
	ScanID string
	Status Status
}

type Service struct {
	repo      Repository
	images    ImageStore
	normalize NormalizeFunc
	trigger   Trigger
	logger    zerolog.Logger
}

func NewService(repo Repository, images ImageStore, normalize NormalizeFunc, trigger Trigger, logger zerolog.Logger) *Service {
	return &Service{repo: repo, images: images, normalize: normalize, trigger: trigger, logger: logger}
}

// Submit stores the photo, queues a pending job and fires the on-demand
// trigger. A trigger failure never fails the submission.
func (s *Service) Submit(ctx context.Context, in SubmitInput) (*SubmitResult, error) {
	if s.repo == nil || s.images == nil {
		return nil, fmt.Errorf("scan service not configured")
	}
	if err := ids.ValidateUUID(in.UserID); err != nil {
		return nil, fmt.Errorf("%w: user id", ErrInvalidInput)
	}
	if len(in.Image) == 0 {
		return nil, fmt.Errorf("%w: image is empty", ErrInvalidImage)
	}
	ocr := strings.TrimSpace(in.OCRText)
	if len(ocr) > maxOCRTextLen {
		return nil, fmt.Errorf("%w: ocr text exceeds %d bytes", ErrInvalidInput, maxOCRTextLen)
	}

	data := in.Image
	if s.normalize != nil {
		normalized, err := s.normalize(in.Image)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrInvalidImage, err)
		}
		data = normalized
	}

	scanID, err := ids.NewULID()
	if err != nil {
		return nil, fmt.Errorf("generate scan id: %w", err)
	}
	key := ImageKey(in.UserID, scanID)
	url, err := s.images.Put(ctx, key, data, "image/jpeg")
	if err != nil {
		return nil, fmt.Errorf("store image: %w", err)
	}

	job, err := s.repo.CreateSubmission(ctx, NewSubmission{
		JobID:          uuid.NewString(),
		ScanID:         scanID,
		UserID:         in.UserID,
		ImageKey:       key,
		ImageURL:       url,
		OCRText:        ocr,
		IdempotencyKey: strings.TrimSpace(in.IdempotencyKey),
	})
	if err != nil {
		s.discardImage(ctx, key)
		if errors.Is(err, ErrDuplicateSubmission) {
			return nil, err
		}
		return nil, fmt.Errorf("queue scan: %w", err)
	}

	if s.trigger != nil {
		if err := s.trigger.TriggerProcessing(ctx); err != nil {
			s.logger.Warn().Err(err).Str("job_id", job.ID).Msg("on-demand trigger failed; job stays pending for the poller")
		}
	}

	return &SubmitResult{JobID: job.ID, ScanID: job.ScanID, Status: job.Status}, nil
}

// discardImage removes a photo whose job was never queued. Failures are
// logged; the object is otherwise left for account erasure.
func (s *Service) discardImage(ctx context.Context, key string) {
	if err := s.images.Remove(context.WithoutCancel(ctx), key); err != nil {
		s.logger.Warn().Err(err).Str("image_key", key).Msg("failed to remove orphaned scan image")
	}
}

// Get returns one of the user's scans with its job state.
func (s *Service) Get(ctx context.Context, userID, scanID string) (*ScanDetail, error) {
	if err := ids.ValidateULID(scanID); err != nil {
		return nil, ErrNotFound
	}
	return s.repo.GetScan(ctx, userID, strings.ToUpper(scanID))
}

// List returns a page of the user's scans, newest first. One extra row is
// read to learn whether another page follows.
func (s *Service) List(ctx context.Context, userID string, after *ListCursor, limit int) (*ScanPage, error) {
	if limit <= 0 {
		limit = 20
	}
	if limit > 50 {
		limit = 50
	}
	rows, err := s.repo.ListScans(ctx, userID, after, limit+1)
	if err != nil {
		return nil, err
	}
	page := &ScanPage{Items: rows}
	if len(rows) > limit {
		page.Items = rows[:limit]
		last := page.Items[limit-1]
		page.Next = &ListCursor{CreatedAt: last.CreatedAt, ScanID: last.ID}
	}
	return page, nil
}

// ImageKey is the object key of a scan's photo. All of a user's photos share
// the ImagePrefix of that user.
func ImageKey(userID, scanID string) string {
	return ImagePrefix(userID) + scanID + ".jpg"
}

func ImagePrefix(userID string) string {
	return "scans/" + userID + "/"
}
