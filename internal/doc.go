// Package internal holds the Corkboard server internals.
//
// The internal tree is organized by responsibility:
// - api: HTTP handlers, middleware, problem responses and routing
// - domain: scans, catalog resolution, tastings, similarity and erasure
// - storage: PostgreSQL repositories, migrations and the pgvector index
// - pipeline, jobs: scan processing and the River jobs that drive it
// - extraction: the vision model client and strict label parsing
// - auth, audit, config, metrics, telemetry: shared infrastructure
//
// Code in internal/ is not meant for external import.
package internal
