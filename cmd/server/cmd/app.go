package cmd

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/corkboard/server/internal/api"
	"github.com/corkboard/server/internal/api/handlers"
	"github.com/corkboard/server/internal/audit"
	"github.com/corkboard/server/internal/auth"
	"github.com/corkboard/server/internal/cache"
	"github.com/corkboard/server/internal/config"
	"github.com/corkboard/server/internal/domain/catalog"
	"github.com/corkboard/server/internal/domain/scans"
	"github.com/corkboard/server/internal/domain/similarity"
	"github.com/corkboard/server/internal/domain/tastings"
	"github.com/corkboard/server/internal/domain/users"
	"github.com/corkboard/server/internal/extraction"
	"github.com/corkboard/server/internal/jobs"
	"github.com/corkboard/server/internal/metrics"
	"github.com/corkboard/server/internal/objectstore"
	"github.com/corkboard/server/internal/pipeline"
	"github.com/corkboard/server/internal/storage/postgres"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
	"github.com/riverqueue/river"
	"github.com/riverqueue/river/rivertype"
	"github.com/rs/zerolog"
)

const connectTimeout = 10 * time.Second

// app owns the long-lived resources shared by the subcommands. Optional
// backends (object store, redis) stay nil when unconfigured or unreachable.
type app struct {
	cfg    config.Config
	logger zerolog.Logger

	pool    *pgxpool.Pool
	repo    *postgres.Repository
	objects *objectstore.Store
	redis   *redis.Client
	cache   *cache.SimilarityCache

	processor *pipeline.Processor
	river     *river.Client[pgx.Tx]
}

type appOptions struct {
	// objectStore connects to the bucket; required for submissions.
	objectStore bool
	// riverWorkers registers pipeline workers and periodic jobs. Without it
	// the River client can only insert.
	riverWorkers bool
	// river creates a River client at all.
	river bool
}

func newApp(ctx context.Context, cfg config.Config, logger zerolog.Logger, opts appOptions) (*app, error) {
	a := &app{cfg: cfg, logger: logger}

	poolCfg, err := postgres.ParsePoolConfig(cfg.Database.URL, postgres.PoolConfig{
		MaxConns: int32(cfg.Database.MaxConnections),
		MinConns: int32(cfg.Database.MaxIdle),
	})
	if err != nil {
		return nil, fmt.Errorf("database config: %w", err)
	}
	connectCtx, cancel := context.WithTimeout(ctx, connectTimeout)
	defer cancel()
	a.pool, err = pgxpool.NewWithConfig(connectCtx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("database connection failed: %w", err)
	}
	a.repo, err = postgres.NewRepository(a.pool)
	if err != nil {
		a.Close()
		return nil, err
	}

	if opts.objectStore {
		a.objects, err = objectstore.NewStore(connectCtx, cfg.ObjectStore, logger)
		if err != nil {
			a.Close()
			return nil, fmt.Errorf("object store: %w", err)
		}
	}

	if cfg.Redis.URL != "" {
		a.redis, err = cache.NewClient(connectCtx, cfg.Redis.URL)
		if err != nil {
			logger.Warn().Err(err).Msg("redis unavailable; similarity cache disabled")
		} else {
			a.cache = cache.NewSimilarityCache(a.redis, cfg.Redis.SimilarityTTL)
		}
	}

	a.processor = a.newProcessor()

	if opts.river {
		var workers *river.Workers
		var periodic []*river.PeriodicJob
		if opts.riverWorkers {
			workers = jobs.NewWorkers(jobs.WorkerDeps{
				Processor:  a.processor,
				BatchSize:  cfg.Pipeline.BatchSize,
				StaleAfter: cfg.Pipeline.StaleClaimAfter,
				Logger:     logger,
			})
			periodic = jobs.NewPeriodicJobs(cfg.Pipeline)
		}
		hooks := []rivertype.Hook{metrics.NewRiverMetricsHook()}
		slogger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: slogLevel(cfg.Logging.Level)}))
		a.river, err = jobs.NewClient(a.pool, workers, slogger, hooks, periodic, cfg.Pipeline.Concurrency)
		if err != nil {
			a.Close()
			return nil, fmt.Errorf("river client: %w", err)
		}
	}

	return a, nil
}

// connectObjectStore attaches the bucket when it is reachable. Commands that
// only clean up photos carry on without it.
func (a *app) connectObjectStore(ctx context.Context) {
	if a.objects != nil {
		return
	}
	connectCtx, cancel := context.WithTimeout(ctx, connectTimeout)
	defer cancel()
	store, err := objectstore.NewStore(connectCtx, a.cfg.ObjectStore, a.logger)
	if err != nil {
		a.logger.Warn().Err(err).Msg("object store unavailable; stored photos are left in place")
		return
	}
	a.objects = store
}

func (a *app) newProcessor() *pipeline.Processor {
	cfg := a.cfg
	model := extraction.NewClient(cfg.AI.BaseURL, cfg.AI.APIKey, cfg.AI.Model,
		extraction.WithRateLimit(cfg.AI.RequestsPerSecond),
		extraction.WithMaxRetries(cfg.AI.MaxRetries),
	)
	retries := scans.NewRetryManager(a.repo.Scans(), scans.RetryPolicy{MaxRetries: cfg.Pipeline.MaxRetries}, a.logger)

	opts := []pipeline.Option{pipeline.WithConcurrency(cfg.Pipeline.Concurrency)}
	if a.cache != nil {
		opts = append(opts, pipeline.WithCache(a.cache))
	}
	return pipeline.NewProcessor(
		a.repo.Scans(),
		retries,
		extraction.NewExtractor(model, cfg.Pipeline.ExtractionTimeout),
		catalog.NewResolver(a.repo.Catalog()),
		a.logger,
		opts...,
	)
}

// erasure builds the account erasure service. Interfaces are only set when
// the backend exists so the service sees a true nil otherwise.
func (a *app) erasure() *users.ErasureService {
	var objects users.ObjectRemover
	if a.objects != nil {
		objects = a.objects
	}
	var invalidator users.CacheInvalidator
	if a.cache != nil {
		invalidator = a.cache
	}
	return users.NewErasureService(a.repo.Users(), objects, invalidator, audit.NewLoggerWithZerolog(a.logger), a.logger)
}

func (a *app) router() *api.Router {
	cfg := a.cfg

	var trigger scans.Trigger
	if a.river != nil {
		trigger = jobs.NewTrigger(a.river)
	}
	var images scans.ImageStore
	if a.objects != nil {
		images = a.objects
	}
	var routeCache api.SimilarityCache
	optional := map[string]handlers.Pinger{}
	if a.cache != nil {
		routeCache = a.cache
		optional["cache"] = a.cache
	}
	if a.objects != nil {
		optional["object_store"] = a.objects
	}

	engine := similarity.NewEngine(a.repo.Tastings(), a.repo.Vectors(), a.repo.Catalog(), similarity.Options{
		DefaultLimit: cfg.Similarity.DefaultLimit,
		MaxLimit:     cfg.Similarity.MaxLimit,
		Threshold:    cfg.Similarity.Threshold,
	})

	return api.NewRouter(api.Dependencies{
		Config:     cfg,
		Logger:     a.logger,
		Tokens:     auth.NewJWTManager(cfg.Auth.JWTSecret, cfg.Auth.JWTExpiry, cfg.Auth.Issuer),
		Scans:      scans.NewService(a.repo.Scans(), images, objectstore.NormalizeImage, trigger, a.logger),
		Similarity: engine,
		Tastings:   tastings.NewService(a.repo.Tastings()),
		Accounts:   a.erasure(),
		Cache:      routeCache,
		Health:     handlers.NewHealthChecker(a.repo, a.river != nil, optional, Version, GitCommit),
		Version:    Version,
		GitCommit:  GitCommit,
		BuildDate:  BuildDate,
	})
}

func (a *app) Close() {
	if a.redis != nil {
		if err := a.redis.Close(); err != nil {
			a.logger.Warn().Err(err).Msg("redis close error")
		}
	}
	if a.pool != nil {
		a.pool.Close()
	}
}

// startRiver starts the River client and returns a function that stops it.
func (a *app) startRiver(ctx context.Context) (func(), error) {
	if a.river == nil {
		return func() {}, nil
	}
	if err := a.river.Start(ctx); err != nil {
		return nil, fmt.Errorf("river workers failed to start: %w", err)
	}
	a.logger.Info().Msg("river background job workers started")
	return func() {
		stopCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := a.river.Stop(stopCtx); err != nil {
			a.logger.Error().Err(err).Msg("river workers shutdown error")
			return
		}
		a.logger.Info().Msg("river workers stopped")
	}, nil
}

// startDBCollector samples pool statistics until the returned function runs.
func (a *app) startDBCollector(ctx context.Context) func() {
	collector := metrics.NewDBCollector(a.pool)
	collectorCtx, cancel := context.WithCancel(ctx)
	go collector.Start(collectorCtx, 15*time.Second)
	return func() {
		cancel()
		collector.Stop()
	}
}

func slogLevel(level string) slog.Level {
	switch level {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
