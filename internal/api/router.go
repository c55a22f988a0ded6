package api

import (
	"net/http"

	"github.com/corkboard/server/internal/api/handlers"
	"github.com/corkboard/server/internal/api/middleware"
	"github.com/corkboard/server/internal/auth"
	"github.com/corkboard/server/internal/config"
	"github.com/corkboard/server/internal/domain/similarity"
	"github.com/corkboard/server/internal/metrics"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
)

// SimilarityCache is the per-user response cache; the router also uses it to
// invalidate after imports.
type SimilarityCache interface {
	handlers.SimilarityCache
	handlers.CacheInvalidator
}

// Dependencies are the services behind the HTTP API. Cache may be nil.
type Dependencies struct {
	Config     config.Config
	Logger     zerolog.Logger
	Tokens     *auth.JWTManager
	Scans      handlers.ScanService
	Similarity handlers.SimilarityEngine
	Tastings   handlers.TastingImporter
	Accounts   handlers.AccountEraser
	Cache      SimilarityCache
	Health     *handlers.HealthChecker

	Version   string
	GitCommit string
	BuildDate string
}

// Router is the assembled HTTP handler. Close stops the rate limiter's
// background cleanup.
type Router struct {
	Handler http.Handler
	limiter *middleware.RateLimiter
}

func (r *Router) Close() {
	if r.limiter != nil {
		r.limiter.Stop()
	}
}

func NewRouter(deps Dependencies) *Router {
	cfg := deps.Config
	env := cfg.Environment
	limiter := middleware.NewRateLimiter(cfg.RateLimit)

	cache := deps.Cache

	scansHandler := handlers.NewScansHandler(deps.Scans, env, cfg.ObjectStore.MaxUploadBytes)
	similarityHandler := handlers.NewSimilarityHandler(deps.Similarity, similarityCache(cache), env, similarity.Options{
		DefaultLimit: cfg.Similarity.DefaultLimit,
		MaxLimit:     cfg.Similarity.MaxLimit,
		Threshold:    cfg.Similarity.Threshold,
	})
	tastingsHandler := handlers.NewTastingsHandler(deps.Tastings, invalidator(cache), env)
	accountHandler := handlers.NewAccountHandler(deps.Accounts, cfg.Auth.CookieName, env)

	requireUser := middleware.RequireUser(deps.Tokens, cfg.Auth.CookieName, env)
	userLimit := limiter.Middleware(middleware.TierAuthenticated)
	authed := func(h http.Handler) http.Handler {
		return requireUser(userLimit(h))
	}
	jsonBody := middleware.RequestSize(middleware.DefaultMaxBodySize)

	mux := http.NewServeMux()
	mux.Handle("GET /healthz", handlers.Healthz())
	if deps.Health != nil {
		mux.Handle("GET /readyz", deps.Health.Readyz())
	}
	mux.Handle("GET /version", limiter.Middleware(middleware.TierPublic)(VersionHandler(deps.Version, deps.GitCommit, deps.BuildDate)))
	mux.Handle("GET /metrics", promhttp.HandlerFor(metrics.Registry, promhttp.HandlerOpts{}))

	if deps.Scans != nil {
		submit := middleware.UploadRequestSize(scansHandler.MaxImageBytes)(
			middleware.Idempotency(env)(http.HandlerFunc(scansHandler.Submit)))
		mux.Handle("POST /api/v1/scans", authed(submit))
		mux.Handle("GET /api/v1/scans", authed(http.HandlerFunc(scansHandler.List)))
		mux.Handle("GET /api/v1/scans/{id}", authed(http.HandlerFunc(scansHandler.Get)))
	}
	if deps.Similarity != nil {
		mux.Handle("GET /api/v1/wines/similar", authed(http.HandlerFunc(similarityHandler.Similar)))
	}
	if deps.Tastings != nil {
		mux.Handle("POST /api/v1/tastings/import", authed(jsonBody(http.HandlerFunc(tastingsHandler.Import))))
	}
	if deps.Accounts != nil {
		mux.Handle("DELETE /api/v1/account", authed(http.HandlerFunc(accountHandler.Delete)))
	}

	// RequestLogging and the metrics middleware read the matched pattern from the
	// request the mux sees, so neither may replace it.
	var handler http.Handler = mux
	handler = metrics.HTTPMiddleware(handler)
	handler = middleware.RequestLogging()(handler)
	handler = middleware.SecurityHeaders(env == "production")(handler)
	handler = middleware.Tracing(handler)
	handler = middleware.CorrelationID(deps.Logger)(handler)

	return &Router{Handler: handler, limiter: limiter}
}

func similarityCache(c SimilarityCache) handlers.SimilarityCache {
	if c == nil {
		return nil
	}
	return c
}

func invalidator(c SimilarityCache) handlers.CacheInvalidator {
	if c == nil {
		return nil
	}
	return c
}
