package scans

import (
	"context"
	"sort"
	"sync"
	"time"
)

type memRepository struct {
	mu    sync.Mutex
	jobs  map[string]*QueueJob
	scans map[string]*Scan
	seq   int
	order map[string]int

	createErr error
}

func newMemRepository() *memRepository {
	return &memRepository{
		jobs:  map[string]*QueueJob{},
		scans: map[string]*Scan{},
		order: map[string]int{},
	}
}

func (m *memRepository) CreateSubmission(_ context.Context, sub NewSubmission) (*QueueJob, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.createErr != nil {
		return nil, m.createErr
	}
	if sub.IdempotencyKey != "" {
		for _, j := range m.jobs {
			if j.IdempotencyKey == sub.IdempotencyKey {
				return nil, ErrDuplicateSubmission
			}
		}
	}
	now := time.Now()
	job := &QueueJob{
		ID:             sub.JobID,
		UserID:         sub.UserID,
		ScanID:         sub.ScanID,
		ImageURL:       sub.ImageURL,
		OCRText:        sub.OCRText,
		IdempotencyKey: sub.IdempotencyKey,
		Status:         StatusPending,
		CreatedAt:      now,
	}
	m.jobs[job.ID] = job
	m.seq++
	m.order[job.ID] = m.seq
	m.scans[sub.ScanID] = &Scan{ID: sub.ScanID, UserID: sub.UserID, ImageKey: sub.ImageKey, ImageURL: sub.ImageURL, Status: StatusPending, CreatedAt: now, UpdatedAt: now}
	copied := *job
	return &copied, nil
}

func (m *memRepository) ClaimPending(_ context.Context, limit int) ([]QueueJob, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var pending []*QueueJob
	for _, j := range m.jobs {
		if j.Status == StatusPending {
			pending = append(pending, j)
		}
	}
	sort.Slice(pending, func(a, b int) bool { return m.order[pending[a].ID] < m.order[pending[b].ID] })
	if len(pending) > limit {
		pending = pending[:limit]
	}
	now := time.Now()
	out := make([]QueueJob, 0, len(pending))
	for _, j := range pending {
		j.Status = StatusProcessing
		j.ProcessedAt = &now
		out = append(out, *j)
	}
	return out, nil
}

func (m *memRepository) ListStale(_ context.Context, cutoff time.Time, limit int) ([]QueueJob, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []QueueJob
	for _, j := range m.jobs {
		if j.Status == StatusProcessing && j.ProcessedAt != nil && j.ProcessedAt.Before(cutoff) && len(out) < limit {
			out = append(out, *j)
		}
	}
	return out, nil
}

func (m *memRepository) Complete(_ context.Context, jobID string, c Completion) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	j, ok := m.jobs[jobID]
	if !ok || j.Status != StatusProcessing {
		return ErrClaimLost
	}
	j.Status = StatusCompleted
	j.ProcessedData = c.ProcessedData
	return nil
}

func (m *memRepository) ApplyTransition(_ context.Context, jobID string, t Transition) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	j, ok := m.jobs[jobID]
	if !ok || j.Status != StatusProcessing || j.RetryCount != t.PreviousRetryCount {
		return ErrClaimLost
	}
	j.Status = t.Status
	j.RetryCount = t.RetryCount
	j.ErrorMessage = t.ErrorMessage
	return nil
}

func (m *memRepository) GetJob(_ context.Context, jobID string) (*QueueJob, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	j, ok := m.jobs[jobID]
	if !ok {
		return nil, ErrNotFound
	}
	copied := *j
	return &copied, nil
}

func (m *memRepository) GetScan(_ context.Context, userID, scanID string) (*ScanDetail, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.scans[scanID]
	if !ok || s.UserID != userID {
		return nil, ErrNotFound
	}
	return &ScanDetail{Scan: *s}, nil
}

func (m *memRepository) ListScans(_ context.Context, userID string, after *ListCursor, limit int) ([]ScanDetail, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var mine []ScanDetail
	for _, s := range m.scans {
		if s.UserID == userID {
			mine = append(mine, ScanDetail{Scan: *s})
		}
	}
	sort.Slice(mine, func(i, j int) bool {
		if !mine[i].CreatedAt.Equal(mine[j].CreatedAt) {
			return mine[i].CreatedAt.After(mine[j].CreatedAt)
		}
		return mine[i].ID > mine[j].ID
	})
	var out []ScanDetail
	for _, d := range mine {
		if after != nil {
			if d.CreatedAt.After(after.CreatedAt) || (d.CreatedAt.Equal(after.CreatedAt) && d.ID >= after.ScanID) {
				continue
			}
		}
		if len(out) == limit {
			break
		}
		out = append(out, d)
	}
	return out, nil
}
