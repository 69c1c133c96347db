package storage

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"

	"github.com/meltforce/vitals/internal/models"
)

// SQLite implements Store on an embedded database. Used for single-binary
// deployments and by the test suite (":memory:").
type SQLite struct {
	db *sql.DB
}

const sqliteSchema = `
CREATE TABLE IF NOT EXISTS samples (
	id               INTEGER PRIMARY KEY,
	kind             TEXT NOT NULL,
	source           TEXT NOT NULL,
	ts               TEXT NOT NULL,
	raw_value        REAL NOT NULL,
	unit             TEXT NOT NULL DEFAULT '',
	normalized_value REAL NOT NULL,
	metadata         TEXT,
	UNIQUE (kind, source, ts)
);
CREATE INDEX IF NOT EXISTS idx_samples_kind_ts ON samples (kind, ts);

CREATE TABLE IF NOT EXISTS import_batches (
	id                TEXT PRIMARY KEY,
	received_at       TIMESTAMP NOT NULL,
	source            TEXT NOT NULL,
	status            TEXT NOT NULL,
	samples_received  INTEGER NOT NULL DEFAULT 0,
	samples_stored    INTEGER NOT NULL DEFAULT 0,
	workouts_received INTEGER NOT NULL DEFAULT 0,
	workouts_stored   INTEGER NOT NULL DEFAULT 0,
	raw_payload       BLOB,
	error_message     TEXT
);
`

// OpenSQLite opens (or creates) the database at path and ensures the schema
// exists. Pass ":memory:" for an ephemeral database.
func OpenSQLite(path string) (*SQLite, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("opening sqlite db: %w", err)
	}
	if _, err := db.Exec(sqliteSchema); err != nil {
		db.Close()
		return nil, fmt.Errorf("creating schema: %w", err)
	}
	return &SQLite{db: db}, nil
}

// Close closes the database.
func (s *SQLite) Close() error {
	return s.db.Close()
}

// InsertSamples persists a batch inside one transaction, applying the
// conflict policy per row. Returns the number of rows actually stored.
func (s *SQLite) InsertSamples(ctx context.Context, samples []models.Sample, policy ConflictPolicy) (int64, error) {
	if len(samples) == 0 {
		return 0, nil
	}

	query := `INSERT INTO samples (kind, source, ts, raw_value, unit, normalized_value, metadata)
		VALUES (?,?,?,?,?,?,?)`
	if policy == KeepMax {
		query += ` ON CONFLICT (kind, source, ts) DO UPDATE SET
			raw_value = excluded.raw_value, unit = excluded.unit,
			normalized_value = excluded.normalized_value, metadata = excluded.metadata
			WHERE excluded.normalized_value > samples.normalized_value`
	} else {
		query += ` ON CONFLICT (kind, source, ts) DO NOTHING`
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("beginning insert tx: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, query)
	if err != nil {
		return 0, fmt.Errorf("preparing insert: %w", err)
	}
	defer stmt.Close()

	var stored int64
	for _, smp := range samples {
		meta, err := marshalMetadata(smp.Metadata)
		if err != nil {
			return 0, fmt.Errorf("encoding metadata for %s@%s: %w", smp.Kind, smp.Timestamp, err)
		}
		res, err := stmt.ExecContext(ctx, smp.Kind, smp.Source, smp.Timestamp,
			smp.RawValue, smp.Unit, smp.NormalizedValue, meta)
		if err != nil {
			return 0, fmt.Errorf("inserting sample %s@%s: %w", smp.Kind, smp.Timestamp, err)
		}
		n, err := res.RowsAffected()
		if err != nil {
			return 0, fmt.Errorf("reading rows affected: %w", err)
		}
		stored += n
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("committing insert tx: %w", err)
	}
	return stored, nil
}

// QuerySamples retrieves samples of one kind in [Start, End).
func (s *SQLite) QuerySamples(ctx context.Context, q SampleQuery) ([]models.Sample, error) {
	query := `SELECT kind, source, ts, raw_value, unit, normalized_value, metadata
	 FROM samples
	 WHERE kind = ? AND ts >= ? AND ts < ?
	 ORDER BY ts `
	if q.NewestFirst {
		query += "DESC"
	} else {
		query += "ASC"
	}
	args := []any{q.Kind, models.FormatTimestamp(q.Start), models.FormatTimestamp(q.End)}
	if q.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, q.Limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("querying samples: %w", err)
	}
	defer rows.Close()

	return scanSQLSampleRows(rows)
}

// LatestSamples returns the most recent sample for each kind.
func (s *SQLite) LatestSamples(ctx context.Context) ([]models.Sample, error) {
	// SQLite's bare-column-with-MAX semantics pick the row the max came from.
	rows, err := s.db.QueryContext(ctx,
		`SELECT kind, source, ts, raw_value, unit, normalized_value, metadata, MAX(ts)
		 FROM samples
		 GROUP BY kind
		 ORDER BY kind`)
	if err != nil {
		return nil, fmt.Errorf("querying latest samples: %w", err)
	}
	defer rows.Close()

	var result []models.Sample
	for rows.Next() {
		var smp models.Sample
		var meta []byte
		var maxTS string
		if err := rows.Scan(&smp.Kind, &smp.Source, &smp.Timestamp, &smp.RawValue,
			&smp.Unit, &smp.NormalizedValue, &meta, &maxTS); err != nil {
			return nil, fmt.Errorf("scanning latest sample: %w", err)
		}
		if err := unmarshalMetadata(meta, &smp.Metadata); err != nil {
			return nil, fmt.Errorf("decoding metadata: %w", err)
		}
		result = append(result, smp)
	}
	return result, rows.Err()
}

// InsertImportBatch records one ingest call's audit row.
func (s *SQLite) InsertImportBatch(ctx context.Context, b models.ImportBatch) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO import_batches (id, received_at, source, status, samples_received,
		 samples_stored, workouts_received, workouts_stored, raw_payload, error_message)
		 VALUES (?,?,?,?,?,?,?,?,?,?)`,
		b.ID.String(), b.ReceivedAt, b.Source, b.Status, b.SamplesReceived,
		b.SamplesStored, b.WorkoutsReceived, b.WorkoutsStored, b.RawPayload, b.ErrorMessage)
	if err != nil {
		return fmt.Errorf("inserting import batch: %w", err)
	}
	return nil
}

// QueryImportBatches returns the most recent audit rows.
func (s *SQLite) QueryImportBatches(ctx context.Context, limit int) ([]models.ImportBatch, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, received_at, source, status, samples_received, samples_stored,
		 workouts_received, workouts_stored, error_message
		 FROM import_batches
		 ORDER BY received_at DESC
		 LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("querying import batches: %w", err)
	}
	defer rows.Close()

	var result []models.ImportBatch
	for rows.Next() {
		var b models.ImportBatch
		var id string
		if err := rows.Scan(&id, &b.ReceivedAt, &b.Source, &b.Status,
			&b.SamplesReceived, &b.SamplesStored, &b.WorkoutsReceived,
			&b.WorkoutsStored, &b.ErrorMessage); err != nil {
			return nil, fmt.Errorf("scanning import batch: %w", err)
		}
		parsed, err := parseBatchID(id)
		if err != nil {
			return nil, err
		}
		b.ID = parsed
		result = append(result, b)
	}
	return result, rows.Err()
}

// Stats returns coverage statistics over all stored data.
func (s *SQLite) Stats(ctx context.Context) (*DataStats, error) {
	stats := &DataStats{}

	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*), COUNT(DISTINCT kind), MIN(ts), MAX(ts) FROM samples`,
	).Scan(&stats.TotalSamples, &stats.DistinctKinds, &stats.EarliestTimestamp, &stats.LatestTimestamp)
	if err != nil {
		return nil, fmt.Errorf("counting samples: %w", err)
	}

	err = s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM import_batches`,
	).Scan(&stats.TotalImportBatches)
	if err != nil {
		return nil, fmt.Errorf("counting import batches: %w", err)
	}

	return stats, nil
}

func parseBatchID(s string) (uuid.UUID, error) {
	id, err := uuid.Parse(s)
	if err != nil {
		return uuid.Nil, fmt.Errorf("parsing import batch id %q: %w", s, err)
	}
	return id, nil
}

func scanSQLSampleRows(rows *sql.Rows) ([]models.Sample, error) {
	var result []models.Sample
	for rows.Next() {
		var smp models.Sample
		var meta []byte
		if err := rows.Scan(&smp.Kind, &smp.Source, &smp.Timestamp, &smp.RawValue,
			&smp.Unit, &smp.NormalizedValue, &meta); err != nil {
			return nil, fmt.Errorf("scanning sample row: %w", err)
		}
		if err := unmarshalMetadata(meta, &smp.Metadata); err != nil {
			return nil, fmt.Errorf("decoding metadata: %w", err)
		}
		result = append(result, smp)
	}
	return result, rows.Err()
}
