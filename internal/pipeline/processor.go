// Package pipeline drives claimed label scans through extraction and entity
// resolution and records each outcome on the job store.
package pipeline

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/corkboard/server/internal/domain/catalog"
	"github.com/corkboard/server/internal/domain/scans"
	"github.com/corkboard/server/internal/extraction"
	"github.com/corkboard/server/internal/metrics"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"golang.org/x/sync/errgroup"
)

const (
	tracerName         = "github.com/corkboard/server/internal/pipeline"
	defaultConcurrency = 4
	// failureWriteTimeout bounds the outcome write once the batch context is gone.
	failureWriteTimeout = 10 * time.Second
)

type Extractor interface {
	Extract(ctx context.Context, req extraction.Request) (*extraction.Result, error)
}

type Resolver interface {
	Resolve(ctx context.Context, attrs catalog.Attributes) (*catalog.Resolution, error)
}

// CacheInvalidator drops a user's cached similarity results after a scan
// adds to their catalog.
type CacheInvalidator interface {
	InvalidateUser(ctx context.Context, userID string) error
}

// ProcessedData is stored on a completed job.
type ProcessedData struct {
	Extraction extraction.Label   `json:"extraction"`
	Resolution catalog.Resolution `json:"resolution"`
}

// BatchResult counts the outcomes of one RunOnce pass.
type BatchResult struct {
	Claimed   int `json:"claimed"`
	Completed int `json:"completed"`
	Retried   int `json:"retried"`
	Failed    int `json:"failed"`
	Lost      int `json:"lost"`
}

type Processor struct {
	jobs        scans.Repository
	retries     *scans.RetryManager
	extractor   Extractor
	resolver    Resolver
	cache       CacheInvalidator
	concurrency int
	logger      zerolog.Logger
}

type Option func(*Processor)

// WithConcurrency bounds how many jobs of one batch run at once.
func WithConcurrency(n int) Option {
	return func(p *Processor) {
		if n > 0 {
			p.concurrency = n
		}
	}
}

func WithCache(c CacheInvalidator) Option {
	return func(p *Processor) { p.cache = c }
}

func NewProcessor(jobs scans.Repository, retries *scans.RetryManager, extractor Extractor, resolver Resolver, logger zerolog.Logger, opts ...Option) *Processor {
	p := &Processor{
		jobs:        jobs,
		retries:     retries,
		extractor:   extractor,
		resolver:    resolver,
		concurrency: defaultConcurrency,
		logger:      logger.With().Str("component", "pipeline").Logger(),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

type outcome int

const (
	outcomeCompleted outcome = iota
	outcomeRetried
	outcomeFailed
	outcomeLost
)

func (o outcome) label() string {
	switch o {
	case outcomeCompleted:
		return "completed"
	case outcomeRetried:
		return "retry"
	case outcomeFailed:
		return "failed"
	default:
		return "claim_lost"
	}
}

// RunOnce claims up to batchSize pending jobs and processes them. Only a
// failed claim is returned as an error; per-job failures go through the
// retry manager.
func (p *Processor) RunOnce(ctx context.Context, batchSize int) (BatchResult, error) {
	ctx, span := otel.Tracer(tracerName).Start(ctx, "pipeline.RunOnce")
	defer span.End()

	start := time.Now()
	jobs, err := p.jobs.ClaimPending(ctx, batchSize)
	if err != nil {
		span.SetStatus(codes.Error, err.Error())
		return BatchResult{}, fmt.Errorf("claim pending jobs: %w", err)
	}
	span.SetAttributes(attribute.Int("claimed", len(jobs)))
	if len(jobs) == 0 {
		return BatchResult{}, nil
	}
	metrics.ScansClaimed.Add(float64(len(jobs)))

	outcomes := make([]outcome, len(jobs))
	var g errgroup.Group
	g.SetLimit(p.concurrency)
	for i := range jobs {
		g.Go(func() error {
			outcomes[i] = p.process(ctx, jobs[i])
			return nil
		})
	}
	_ = g.Wait()

	res := BatchResult{Claimed: len(jobs)}
	for _, o := range outcomes {
		metrics.ScanOutcomes.WithLabelValues(o.label()).Inc()
		switch o {
		case outcomeCompleted:
			res.Completed++
		case outcomeRetried:
			res.Retried++
		case outcomeFailed:
			res.Failed++
		case outcomeLost:
			res.Lost++
		}
	}
	p.logger.Info().
		Int("claimed", res.Claimed).
		Int("completed", res.Completed).
		Int("retried", res.Retried).
		Int("failed", res.Failed).
		Int("lost", res.Lost).
		Dur("duration", time.Since(start)).
		Msg("scan batch processed")
	return res, nil
}

func (p *Processor) process(ctx context.Context, job scans.QueueJob) outcome {
	ctx, span := otel.Tracer(tracerName).Start(ctx, "pipeline.processJob")
	defer span.End()
	span.SetAttributes(
		attribute.String("job_id", job.ID),
		attribute.String("scan_id", job.ScanID),
		attribute.Int("retry_count", job.RetryCount),
	)

	data, vintageID, err := p.extractAndResolve(ctx, job)
	if err != nil {
		span.SetStatus(codes.Error, err.Error())
		return p.fail(ctx, job, err)
	}

	if err := p.jobs.Complete(ctx, job.ID, scans.Completion{ProcessedData: data, VintageID: vintageID}); err != nil {
		if errors.Is(err, scans.ErrClaimLost) {
			p.logger.Warn().Str("job_id", job.ID).Str("scan_id", job.ScanID).Msg("claim lost before completion")
			return outcomeLost
		}
		span.SetStatus(codes.Error, err.Error())
		return p.fail(ctx, job, fmt.Errorf("record completion: %w", err))
	}

	p.logger.Info().
		Str("job_id", job.ID).
		Str("scan_id", job.ScanID).
		Int("retry_count", job.RetryCount).
		Str("status", string(scans.StatusCompleted)).
		Str("vintage_id", vintageID).
		Msg("scan processed")

	if p.cache != nil {
		if err := p.cache.InvalidateUser(ctx, job.UserID); err != nil {
			p.logger.Warn().Err(err).Str("user_id", job.UserID).Msg("similarity cache invalidation failed")
		}
	}
	return outcomeCompleted
}

func (p *Processor) extractAndResolve(ctx context.Context, job scans.QueueJob) (json.RawMessage, string, error) {
	result, err := p.extractor.Extract(ctx, extraction.Request{
		JobID:    job.ID,
		OCRText:  job.OCRText,
		ImageURL: job.ImageURL,
	})
	if err != nil {
		metrics.ExtractionDuration.WithLabelValues("error").Observe(0)
		return nil, "", fmt.Errorf("extract: %w", err)
	}
	metrics.ExtractionDuration.WithLabelValues("success").Observe(result.Duration.Seconds())

	label := result.Label
	resolution, err := p.resolver.Resolve(ctx, catalog.Attributes{
		ProducerName: label.ProducerName,
		WineName:     label.WineName,
		Year:         label.Vintage,
		NonVintage:   label.IsNonVintage,
		Varietals:    label.Varietals,
		Region:       label.Region,
		Country:      label.Country,
	})
	if err != nil {
		return nil, "", fmt.Errorf("resolve: %w", err)
	}
	for _, entity := range resolution.Conflicts {
		metrics.ResolverConflicts.WithLabelValues(entity).Inc()
	}

	data, err := json.Marshal(ProcessedData{Extraction: label, Resolution: *resolution})
	if err != nil {
		return nil, "", fmt.Errorf("encode processed data: %w", err)
	}
	return data, resolution.VintageID, nil
}

// fail records the attempt even when the batch context was cancelled, so a
// shutdown does not strand the job in processing.
func (p *Processor) fail(ctx context.Context, job scans.QueueJob, cause error) outcome {
	writeCtx := ctx
	if ctx.Err() != nil {
		var cancel context.CancelFunc
		writeCtx, cancel = context.WithTimeout(context.WithoutCancel(ctx), failureWriteTimeout)
		defer cancel()
	}

	t, err := p.retries.Fail(writeCtx, job, cause)
	if err != nil {
		if errors.Is(err, scans.ErrClaimLost) {
			p.logger.Warn().Str("job_id", job.ID).Msg("claim lost before failure could be recorded")
			return outcomeLost
		}
		// The job stays in processing; stale recovery will pick it up.
		p.logger.Error().Err(err).Str("job_id", job.ID).Msg("record failure")
		return outcomeLost
	}
	if t.Status == scans.StatusFailed {
		return outcomeFailed
	}
	return outcomeRetried
}

// RecoverStale returns jobs whose claim is older than staleAfter to the retry
// path.
func (p *Processor) RecoverStale(ctx context.Context, staleAfter time.Duration, limit int) (int, error) {
	ctx, span := otel.Tracer(tracerName).Start(ctx, "pipeline.RecoverStale")
	defer span.End()

	n, err := p.retries.RecoverStale(ctx, time.Now().Add(-staleAfter), limit)
	if err != nil {
		span.SetStatus(codes.Error, err.Error())
		return 0, err
	}
	if n > 0 {
		metrics.StaleScansRecovered.Add(float64(n))
		p.logger.Warn().Int("recovered", n).Dur("stale_after", staleAfter).Msg("recovered expired scan claims")
	}
	return n, nil
}
