package jobs

import (
	"context"
	"fmt"
	"time"

	"github.com/corkboard/server/internal/domain/scans"
	"github.com/riverqueue/river"
	"github.com/riverqueue/river/rivertype"
)

// Inserter is the subset of *river.Client used to enqueue jobs.
type Inserter interface {
	Insert(ctx context.Context, args river.JobArgs, opts *river.InsertOpts) (*rivertype.JobInsertResult, error)
}

// Trigger enqueues an on-demand processing pass after a submission commits.
// Inserts within the same short window collapse into one job.
type Trigger struct {
	client Inserter
}

var _ scans.Trigger = (*Trigger)(nil)

func NewTrigger(client Inserter) *Trigger {
	return &Trigger{client: client}
}

func (t *Trigger) TriggerProcessing(ctx context.Context) error {
	if t == nil || t.client == nil {
		return fmt.Errorf("job client not configured")
	}
	opts := InsertOptsForKind(JobKindProcessScans)
	opts.UniqueOpts = river.UniqueOpts{ByPeriod: 2 * time.Second}
	if _, err := t.client.Insert(ctx, ProcessScansArgs{Reason: ReasonSubmission}, &opts); err != nil {
		return fmt.Errorf("enqueue process_scans: %w", err)
	}
	return nil
}
