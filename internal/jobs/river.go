package jobs

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"time"

	"github.com/corkboard/server/internal/config"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/riverqueue/river"
	"github.com/riverqueue/river/riverdriver/riverpgxv5"
	"github.com/riverqueue/river/rivertype"
)

const (
	JobKindProcessScans = "process_scans"
	JobKindRecoverStale = "recover_stale_scans"
)

const (
	// ProcessScansMaxAttempts only covers failures of the batch itself, such
	// as an unreachable database. Per-scan retries are counted on the scan's
	// queue job.
	ProcessScansMaxAttempts = 3
	RecoverStaleMaxAttempts = 1
)

// RetryConfig controls per-kind retry behavior.
type RetryConfig struct {
	MaxAttempts int
	BaseDelay   time.Duration
	MaxDelay    time.Duration
}

// RetryPolicy implements River's ClientRetryPolicy with per-kind exponential backoff.
type RetryPolicy struct {
	Default RetryConfig
	ByKind  map[string]RetryConfig
}

func NewRetryPolicy() *RetryPolicy {
	return &RetryPolicy{
		Default: RetryConfig{
			MaxAttempts: ProcessScansMaxAttempts,
			BaseDelay:   10 * time.Second,
			MaxDelay:    5 * time.Minute,
		},
		ByKind: map[string]RetryConfig{
			JobKindProcessScans: {
				MaxAttempts: ProcessScansMaxAttempts,
				BaseDelay:   10 * time.Second,
				MaxDelay:    2 * time.Minute,
			},
			JobKindRecoverStale: {
				MaxAttempts: RecoverStaleMaxAttempts,
			},
		},
	}
}

// NextRetry determines the next retry time for a failed job.
func (p *RetryPolicy) NextRetry(job *rivertype.JobRow) time.Time {
	cfg := p.configFor(job.Kind)
	if cfg.BaseDelay == 0 {
		return time.Now()
	}

	attempt := job.Attempt
	if attempt < 1 {
		attempt = 1
	}

	delay := time.Duration(float64(cfg.BaseDelay) * math.Pow(2, float64(attempt-1)))
	if cfg.MaxDelay > 0 && delay > cfg.MaxDelay {
		delay = cfg.MaxDelay
	}

	if job.AttemptedAt != nil {
		return job.AttemptedAt.Add(delay)
	}
	return time.Now().Add(delay)
}

func (p *RetryPolicy) configFor(kind string) RetryConfig {
	if p == nil {
		return RetryConfig{MaxAttempts: ProcessScansMaxAttempts, BaseDelay: 10 * time.Second, MaxDelay: 5 * time.Minute}
	}
	if cfg, ok := p.ByKind[kind]; ok {
		return cfg
	}
	return p.Default
}

// InsertOptsForKind returns default insert options for a job kind.
func InsertOptsForKind(kind string) river.InsertOpts {
	return river.InsertOpts{MaxAttempts: NewRetryPolicy().configFor(kind).MaxAttempts}
}

// NewClientConfig builds a River client configuration. A nil workers bundle
// yields an insert-only client.
func NewClientConfig(workers *river.Workers, logger *slog.Logger, hooks []rivertype.Hook, periodicJobs []*river.PeriodicJob, maxWorkers int) *river.Config {
	policy := NewRetryPolicy()
	cfg := &river.Config{
		RetryPolicy: policy,
		MaxAttempts: policy.Default.MaxAttempts,
		Hooks:       hooks,
	}
	if workers != nil {
		if maxWorkers <= 0 {
			maxWorkers = 2
		}
		cfg.Workers = workers
		cfg.PeriodicJobs = periodicJobs
		cfg.Queues = map[string]river.QueueConfig{
			river.QueueDefault: {MaxWorkers: maxWorkers},
		}
	}
	if logger != nil {
		cfg.Logger = logger
		cfg.ErrorHandler = NewAlertingErrorHandler(logger, nil)
	}
	return cfg
}

// NewClient creates a River client using pgx v5.
func NewClient(pool *pgxpool.Pool, workers *river.Workers, logger *slog.Logger, hooks []rivertype.Hook, periodicJobs []*river.PeriodicJob, maxWorkers int) (*river.Client[pgx.Tx], error) {
	return river.NewClient(riverpgxv5.New(pool), NewClientConfig(workers, logger, hooks, periodicJobs, maxWorkers))
}

// NewPeriodicJobs schedules the pending-scan poller, which picks up work the
// on-demand trigger missed, and stale claim recovery.
func NewPeriodicJobs(cfg config.PipelineConfig) []*river.PeriodicJob {
	poll := cfg.PollInterval
	if poll <= 0 {
		poll = 30 * time.Second
	}
	recoverEvery := cfg.StaleClaimAfter / 3
	if recoverEvery < time.Minute {
		recoverEvery = time.Minute
	}

	return []*river.PeriodicJob{
		river.NewPeriodicJob(
			river.PeriodicInterval(poll),
			func() (river.JobArgs, *river.InsertOpts) {
				return ProcessScansArgs{Reason: ReasonPoll}, nil
			},
			&river.PeriodicJobOpts{RunOnStart: true},
		),
		river.NewPeriodicJob(
			river.PeriodicInterval(recoverEvery),
			func() (river.JobArgs, *river.InsertOpts) {
				return RecoverStaleArgs{}, nil
			},
			&river.PeriodicJobOpts{RunOnStart: false},
		),
	}
}

// AlertFunc is invoked when a job fails or panics.
type AlertFunc func(ctx context.Context, job *rivertype.JobRow, err error)

// AlertingErrorHandler logs job failures and forwards them to Notify.
type AlertingErrorHandler struct {
	Logger *slog.Logger
	Notify AlertFunc
}

func NewAlertingErrorHandler(logger *slog.Logger, notify AlertFunc) *AlertingErrorHandler {
	return &AlertingErrorHandler{Logger: logger, Notify: notify}
}

func (h *AlertingErrorHandler) HandleError(ctx context.Context, job *rivertype.JobRow, err error) *river.ErrorHandlerResult {
	h.report(ctx, job, "job failed", err, "")
	return nil
}

func (h *AlertingErrorHandler) HandlePanic(ctx context.Context, job *rivertype.JobRow, panicVal any, trace string) *river.ErrorHandlerResult {
	h.report(ctx, job, "job panicked", fmt.Errorf("panic: %v", panicVal), trace)
	return nil
}

func (h *AlertingErrorHandler) report(ctx context.Context, job *rivertype.JobRow, msg string, err error, trace string) {
	if h.Logger != nil {
		attrs := []any{"job_id", job.ID, "kind", job.Kind, "attempt", job.Attempt, "max_attempts", job.MaxAttempts, "error", err}
		if trace != "" {
			attrs = append(attrs, "trace", trace)
		}
		h.Logger.ErrorContext(ctx, msg, attrs...)
	}
	if h.Notify != nil {
		h.Notify(ctx, job, err)
	}
}
