package jobs

import (
	"context"
	"fmt"
	"time"

	"github.com/corkboard/server/internal/pipeline"
	"github.com/riverqueue/river"
	"github.com/rs/zerolog"
)

const (
	ReasonSubmission = "submission"
	ReasonPoll       = "poll"

	defaultMaxPasses  = 5
	defaultJobTimeout = 10 * time.Minute
)

// BatchRunner processes one claimed batch of scans.
type BatchRunner interface {
	RunOnce(ctx context.Context, batchSize int) (pipeline.BatchResult, error)
}

// StaleRecoverer returns expired claims to the retry path.
type StaleRecoverer interface {
	RecoverStale(ctx context.Context, staleAfter time.Duration, limit int) (int, error)
}

// ProcessScansArgs triggers a pass over pending scans. Reason is recorded for
// logging only; every trigger does the same work.
type ProcessScansArgs struct {
	Reason string `json:"reason"`
}

func (ProcessScansArgs) Kind() string { return JobKindProcessScans }

// ProcessScansWorker runs batches until the queue looks drained or MaxPasses
// is reached. The remaining backlog is left to the next trigger.
type ProcessScansWorker struct {
	river.WorkerDefaults[ProcessScansArgs]
	Runner    BatchRunner
	BatchSize int
	MaxPasses int
	Logger    zerolog.Logger
}

func (ProcessScansWorker) Kind() string { return JobKindProcessScans }

func (w ProcessScansWorker) Timeout(*river.Job[ProcessScansArgs]) time.Duration {
	return defaultJobTimeout
}

func (w ProcessScansWorker) Work(ctx context.Context, job *river.Job[ProcessScansArgs]) error {
	if w.Runner == nil {
		return fmt.Errorf("scan processor not configured")
	}
	if job == nil {
		return fmt.Errorf("process scans job missing")
	}
	batch := w.BatchSize
	if batch <= 0 {
		batch = 10
	}
	passes := w.MaxPasses
	if passes <= 0 {
		passes = defaultMaxPasses
	}

	var total pipeline.BatchResult
	for i := 0; i < passes; i++ {
		res, err := w.Runner.RunOnce(ctx, batch)
		if err != nil {
			return err
		}
		total.Claimed += res.Claimed
		total.Completed += res.Completed
		total.Retried += res.Retried
		total.Failed += res.Failed
		total.Lost += res.Lost
		if res.Claimed < batch {
			break
		}
	}

	if total.Claimed > 0 {
		w.Logger.Debug().
			Str("reason", job.Args.Reason).
			Int("claimed", total.Claimed).
			Int("completed", total.Completed).
			Msg("process scans job finished")
	}
	return nil
}

type RecoverStaleArgs struct{}

func (RecoverStaleArgs) Kind() string { return JobKindRecoverStale }

type RecoverStaleWorker struct {
	river.WorkerDefaults[RecoverStaleArgs]
	Recoverer  StaleRecoverer
	StaleAfter time.Duration
	Limit      int
}

func (RecoverStaleWorker) Kind() string { return JobKindRecoverStale }

func (w RecoverStaleWorker) Work(ctx context.Context, job *river.Job[RecoverStaleArgs]) error {
	if w.Recoverer == nil {
		return fmt.Errorf("stale recoverer not configured")
	}
	staleAfter := w.StaleAfter
	if staleAfter <= 0 {
		staleAfter = 15 * time.Minute
	}
	limit := w.Limit
	if limit <= 0 {
		limit = 100
	}
	_, err := w.Recoverer.RecoverStale(ctx, staleAfter, limit)
	return err
}

// WorkerDeps wires the pipeline into River workers.
type WorkerDeps struct {
	Processor interface {
		BatchRunner
		StaleRecoverer
	}
	BatchSize  int
	StaleAfter time.Duration
	Logger     zerolog.Logger
}

func NewWorkers(deps WorkerDeps) *river.Workers {
	workers := river.NewWorkers()
	river.AddWorker[ProcessScansArgs](workers, ProcessScansWorker{
		Runner:    deps.Processor,
		BatchSize: deps.BatchSize,
		Logger:    deps.Logger,
	})
	river.AddWorker[RecoverStaleArgs](workers, RecoverStaleWorker{
		Recoverer:  deps.Processor,
		StaleAfter: deps.StaleAfter,
	})
	return workers
}
