// Package storage persists samples and import audit records. Two backends
// implement the same Store interface: Postgres (pgx) for server deployments
// and SQLite (modernc) for single-binary setups and tests. Both rely on the
// database's unique constraint on (kind, source, timestamp) to make the
// idempotent-insert guarantee atomic under concurrent ingestion.
package storage

import (
	"context"
	"time"

	"github.com/meltforce/vitals/internal/models"
)

// ConflictPolicy selects what happens when an insert collides with an
// existing (kind, source, timestamp) tuple.
type ConflictPolicy string

const (
	// KeepFirst silently drops the colliding insert. The first-seen value
	// for a tuple wins; replaying a "since last sync" window is a no-op.
	KeepFirst ConflictPolicy = "keep-first"
	// KeepMax replaces the stored row when the incoming normalized value
	// is larger. Stored counts then include superseding updates.
	KeepMax ConflictPolicy = "keep-max"
)

// SampleQuery selects samples of one kind in a half-open time range
// [Start, End).
type SampleQuery struct {
	Kind        string
	Start       time.Time
	End         time.Time
	NewestFirst bool
	Limit       int // 0 means no limit
}

// Store is the persistence interface consumed by the ingest and aggregation
// layers.
type Store interface {
	// InsertSamples persists a batch, applying the conflict policy per
	// row. Returns the number of rows actually stored.
	InsertSamples(ctx context.Context, samples []models.Sample, policy ConflictPolicy) (int64, error)

	// InsertImportBatch records one ingest call's audit row.
	InsertImportBatch(ctx context.Context, b models.ImportBatch) error

	// QueryImportBatches returns the most recent audit rows.
	QueryImportBatches(ctx context.Context, limit int) ([]models.ImportBatch, error)

	// QuerySamples returns samples matching the query, ordered by
	// timestamp (ascending unless NewestFirst).
	QuerySamples(ctx context.Context, q SampleQuery) ([]models.Sample, error)

	// LatestSamples returns the newest sample per kind.
	LatestSamples(ctx context.Context) ([]models.Sample, error)

	// Stats returns coverage statistics over all stored data.
	Stats(ctx context.Context) (*DataStats, error)

	Close() error
}

// DataStats holds aggregate statistics about all stored data.
type DataStats struct {
	TotalSamples       int64   `json:"total_samples"`
	TotalImportBatches int64   `json:"total_import_batches"`
	DistinctKinds      int64   `json:"distinct_kinds"`
	EarliestTimestamp  *string `json:"earliest_timestamp"`
	LatestTimestamp    *string `json:"latest_timestamp"`
}
