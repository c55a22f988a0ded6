package handlers

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/corkboard/server/internal/metrics"
)

const checkTimeout = 2 * time.Second

// HealthCheck is the readiness report.
type HealthCheck struct {
	Status    string                 `json:"status"`
	Version   string                 `json:"version"`
	GitCommit string                 `json:"git_commit"`
	Checks    map[string]CheckResult `json:"checks"`
	Timestamp string                 `json:"timestamp"`
}

type CheckResult struct {
	Status    string         `json:"status"`
	Message   string         `json:"message,omitempty"`
	LatencyMs int64          `json:"latency_ms"`
	Details   map[string]any `json:"details,omitempty"`
}

type Database interface {
	Ping(ctx context.Context) error
	MigrationState(ctx context.Context) (version int64, dirty bool, err error)
	QueueDepth(ctx context.Context) (map[string]int64, error)
}

// Pinger is an optional dependency such as object storage.
type Pinger interface {
	Ping(ctx context.Context) error
}

type HealthChecker struct {
	db         Database
	queueReady bool
	optional   map[string]Pinger
	version    string
	gitCommit  string
}

// NewHealthChecker reports on db and, when queueReady is false, flags the River
// client as absent. Optional checks only degrade the report.
func NewHealthChecker(db Database, queueReady bool, optional map[string]Pinger, version, gitCommit string) *HealthChecker {
	return &HealthChecker{db: db, queueReady: queueReady, optional: optional, version: version, gitCommit: gitCommit}
}

// Readyz fails with 503 when the database, schema or job queue is not usable.
func (h *HealthChecker) Readyz() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-r.Context().Done():
			writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "shutting_down"})
			return
		default:
		}

		report := h.Check(r.Context())
		status := http.StatusOK
		if report.Status == "unhealthy" {
			status = http.StatusServiceUnavailable
		}
		writeJSON(w, status, report)
	})
}

// Check runs every check and records the outcome as metrics.
func (h *HealthChecker) Check(ctx context.Context) HealthCheck {
	checks := map[string]CheckResult{
		"database":   h.timed(ctx, "database", h.checkDatabase),
		"migrations": h.timed(ctx, "migrations", h.checkMigrations),
		"job_queue":  h.timed(ctx, "job_queue", h.checkJobQueue),
	}
	for name, pinger := range h.optional {
		if pinger == nil {
			continue
		}
		checks[name] = h.timed(ctx, name, func(ctx context.Context) CheckResult {
			if err := pinger.Ping(ctx); err != nil {
				return CheckResult{Status: "warn", Message: err.Error()}
			}
			return CheckResult{Status: "pass"}
		})
	}

	overall := "healthy"
	for _, check := range checks {
		if check.Status == "fail" {
			overall = "unhealthy"
			break
		}
		if check.Status == "warn" {
			overall = "degraded"
		}
	}

	return HealthCheck{
		Status:    overall,
		Version:   h.version,
		GitCommit: h.gitCommit,
		Checks:    checks,
		Timestamp: time.Now().UTC().Format(time.RFC3339),
	}
}

func (h *HealthChecker) timed(ctx context.Context, name string, check func(context.Context) CheckResult) CheckResult {
	ctx, cancel := context.WithTimeout(ctx, checkTimeout)
	defer cancel()

	start := time.Now()
	result := check(ctx)
	elapsed := time.Since(start)
	result.LatencyMs = elapsed.Milliseconds()

	value := 0.0
	switch result.Status {
	case "pass":
		value = 1
	case "warn":
		value = 0.5
	}
	metrics.HealthCheckStatus.WithLabelValues(name).Set(value)
	metrics.HealthCheckLatency.WithLabelValues(name).Set(elapsed.Seconds())
	return result
}

func (h *HealthChecker) checkDatabase(ctx context.Context) CheckResult {
	if h.db == nil {
		return CheckResult{Status: "fail", Message: "database not configured"}
	}
	if err := h.db.Ping(ctx); err != nil {
		return CheckResult{Status: "fail", Message: "database ping failed", Details: map[string]any{"error": err.Error()}}
	}
	return CheckResult{Status: "pass"}
}

func (h *HealthChecker) checkMigrations(ctx context.Context) CheckResult {
	if h.db == nil {
		return CheckResult{Status: "fail", Message: "database not configured"}
	}
	version, dirty, err := h.db.MigrationState(ctx)
	if err != nil {
		return CheckResult{Status: "fail", Message: "migration state unavailable", Details: map[string]any{
			"error":       err.Error(),
			"remediation": "run: corkboard migrate up",
		}}
	}
	if dirty {
		return CheckResult{Status: "fail", Message: fmt.Sprintf("migration %d is dirty", version), Details: map[string]any{
			"version": version,
			"dirty":   true,
		}}
	}
	return CheckResult{Status: "pass", Details: map[string]any{"version": version}}
}

func (h *HealthChecker) checkJobQueue(ctx context.Context) CheckResult {
	if !h.queueReady {
		return CheckResult{Status: "fail", Message: "job queue client not running"}
	}
	if h.db == nil {
		return CheckResult{Status: "pass"}
	}
	depth, err := h.db.QueueDepth(ctx)
	if err != nil {
		return CheckResult{Status: "warn", Message: "queue depth unavailable", Details: map[string]any{"error": err.Error()}}
	}
	details := make(map[string]any, len(depth))
	for status, count := range depth {
		details[status] = count
	}
	return CheckResult{Status: "pass", Details: details}
}

// Healthz is a liveness probe with no dependencies.
func Healthz() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		_ = json.NewEncoder(w).Encode(map[string]string{"status": "ok"})
	})
}
