package storage

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/golang-migrate/migrate/v4"
	_ "github.com/golang-migrate/migrate/v4/database/postgres"
	_ "github.com/golang-migrate/migrate/v4/source/file"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/meltforce/vitals/internal/models"
)

// Postgres implements Store on a pgxpool.Pool.
type Postgres struct {
	Pool *pgxpool.Pool
}

// NewPostgres creates a Postgres store with a connection pool.
func NewPostgres(ctx context.Context, dsn string) (*Postgres, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("creating pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("pinging database: %w", err)
	}
	return &Postgres{Pool: pool}, nil
}

// Close closes the connection pool.
func (db *Postgres) Close() error {
	db.Pool.Close()
	return nil
}

// RunMigrations applies all pending migrations from the given directory.
func RunMigrations(dsn, migrationsPath string) error {
	m, err := migrate.New("file://"+migrationsPath, dsn)
	if err != nil {
		return fmt.Errorf("creating migrator: %w", err)
	}
	defer m.Close()

	if err := m.Up(); err != nil && err != migrate.ErrNoChange {
		return fmt.Errorf("running migrations: %w", err)
	}
	return nil
}

// conflictClause returns the ON CONFLICT suffix for a policy. KeepMax only
// replaces a row when the incoming normalized value is strictly larger.
func conflictClause(policy ConflictPolicy) string {
	if policy == KeepMax {
		return ` ON CONFLICT (kind, source, ts) DO UPDATE SET
 raw_value = EXCLUDED.raw_value, unit = EXCLUDED.unit,
 normalized_value = EXCLUDED.normalized_value, metadata = EXCLUDED.metadata
 WHERE EXCLUDED.normalized_value > samples.normalized_value`
	}
	return " ON CONFLICT (kind, source, ts) DO NOTHING"
}

// InsertSamples batch-inserts samples. Returns the number actually stored
// (duplicates resolve per the conflict policy). Callers must not repeat a
// (kind, source, timestamp) tuple within one batch.
func (db *Postgres) InsertSamples(ctx context.Context, samples []models.Sample, policy ConflictPolicy) (int64, error) {
	if len(samples) == 0 {
		return 0, nil
	}

	query := `INSERT INTO samples (kind, source, ts, raw_value, unit, normalized_value, metadata)
VALUES `
	args := make([]any, 0, len(samples)*7)
	valueStrings := make([]string, 0, len(samples))

	for i, s := range samples {
		base := i * 7
		valueStrings = append(valueStrings, fmt.Sprintf(
			"($%d,$%d,$%d,$%d,$%d,$%d,$%d)",
			base+1, base+2, base+3, base+4, base+5, base+6, base+7,
		))
		meta, err := marshalMetadata(s.Metadata)
		if err != nil {
			return 0, fmt.Errorf("encoding metadata for %s@%s: %w", s.Kind, s.Timestamp, err)
		}
		args = append(args, s.Kind, s.Source, s.Timestamp, s.RawValue, s.Unit, s.NormalizedValue, meta)
	}

	query += strings.Join(valueStrings, ",") + conflictClause(policy)

	tag, err := db.Pool.Exec(ctx, query, args...)
	if err != nil {
		return 0, fmt.Errorf("inserting samples: %w", err)
	}
	return tag.RowsAffected(), nil
}

// QuerySamples retrieves samples of one kind in [Start, End).
func (db *Postgres) QuerySamples(ctx context.Context, q SampleQuery) ([]models.Sample, error) {
	query := `SELECT kind, source, ts, raw_value, unit, normalized_value, metadata
	 FROM samples
	 WHERE kind = $1 AND ts >= $2 AND ts < $3
	 ORDER BY ts `
	if q.NewestFirst {
		query += "DESC"
	} else {
		query += "ASC"
	}
	args := []any{q.Kind, models.FormatTimestamp(q.Start), models.FormatTimestamp(q.End)}
	if q.Limit > 0 {
		query += " LIMIT $4"
		args = append(args, q.Limit)
	}

	rows, err := db.Pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("querying samples: %w", err)
	}
	defer rows.Close()

	return scanSampleRows(rows)
}

// LatestSamples returns the most recent sample for each kind.
func (db *Postgres) LatestSamples(ctx context.Context) ([]models.Sample, error) {
	rows, err := db.Pool.Query(ctx,
		`SELECT DISTINCT ON (kind) kind, source, ts, raw_value, unit, normalized_value, metadata
		 FROM samples
		 ORDER BY kind, ts DESC`)
	if err != nil {
		return nil, fmt.Errorf("querying latest samples: %w", err)
	}
	defer rows.Close()

	return scanSampleRows(rows)
}

// InsertImportBatch records one ingest call's audit row.
func (db *Postgres) InsertImportBatch(ctx context.Context, b models.ImportBatch) error {
	_, err := db.Pool.Exec(ctx,
		`INSERT INTO import_batches (id, received_at, source, status, samples_received,
		 samples_stored, workouts_received, workouts_stored, raw_payload, error_message)
		 VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10)`,
		b.ID, b.ReceivedAt, b.Source, b.Status, b.SamplesReceived,
		b.SamplesStored, b.WorkoutsReceived, b.WorkoutsStored, b.RawPayload, b.ErrorMessage)
	if err != nil {
		return fmt.Errorf("inserting import batch: %w", err)
	}
	return nil
}

// QueryImportBatches returns the most recent audit rows.
func (db *Postgres) QueryImportBatches(ctx context.Context, limit int) ([]models.ImportBatch, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := db.Pool.Query(ctx,
		`SELECT id, received_at, source, status, samples_received, samples_stored,
		 workouts_received, workouts_stored, error_message
		 FROM import_batches
		 ORDER BY received_at DESC
		 LIMIT $1`, limit)
	if err != nil {
		return nil, fmt.Errorf("querying import batches: %w", err)
	}
	defer rows.Close()

	var result []models.ImportBatch
	for rows.Next() {
		var b models.ImportBatch
		if err := rows.Scan(&b.ID, &b.ReceivedAt, &b.Source, &b.Status,
			&b.SamplesReceived, &b.SamplesStored, &b.WorkoutsReceived,
			&b.WorkoutsStored, &b.ErrorMessage); err != nil {
			return nil, fmt.Errorf("scanning import batch: %w", err)
		}
		result = append(result, b)
	}
	return result, rows.Err()
}

// Stats returns coverage statistics over all stored data.
func (db *Postgres) Stats(ctx context.Context) (*DataStats, error) {
	stats := &DataStats{}

	err := db.Pool.QueryRow(ctx,
		`SELECT COUNT(*), COUNT(DISTINCT kind), MIN(ts), MAX(ts) FROM samples`,
	).Scan(&stats.TotalSamples, &stats.DistinctKinds, &stats.EarliestTimestamp, &stats.LatestTimestamp)
	if err != nil {
		return nil, fmt.Errorf("counting samples: %w", err)
	}

	err = db.Pool.QueryRow(ctx,
		`SELECT COUNT(*) FROM import_batches`,
	).Scan(&stats.TotalImportBatches)
	if err != nil {
		return nil, fmt.Errorf("counting import batches: %w", err)
	}

	return stats, nil
}

func scanSampleRows(rows pgx.Rows) ([]models.Sample, error) {
	var result []models.Sample
	for rows.Next() {
		var s models.Sample
		var meta []byte
		if err := rows.Scan(&s.Kind, &s.Source, &s.Timestamp, &s.RawValue,
			&s.Unit, &s.NormalizedValue, &meta); err != nil {
			return nil, fmt.Errorf("scanning sample row: %w", err)
		}
		if err := unmarshalMetadata(meta, &s.Metadata); err != nil {
			return nil, fmt.Errorf("decoding metadata: %w", err)
		}
		result = append(result, s)
	}
	return result, rows.Err()
}

func marshalMetadata(m map[string]any) ([]byte, error) {
	if len(m) == 0 {
		return nil, nil
	}
	return json.Marshal(m)
}

func unmarshalMetadata(data []byte, out *map[string]any) error {
	if len(data) == 0 {
		return nil
	}
	return json.Unmarshal(data, out)
}
