// Package ingest normalizes and persists exporter payloads. The exporter
// re-sends "since last sync" windows, so every write path here must be safe
// to replay indefinitely: the store's unique (kind, source, timestamp)
// constraint makes repeated delivery a no-op.
package ingest

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/meltforce/vitals/internal/metrics"
	"github.com/meltforce/vitals/internal/models"
	"github.com/meltforce/vitals/internal/storage"
)

// ErrMalformedBatch is returned when the payload envelope lacks the expected
// top-level shape. It is fatal to the call only; nothing is stored except
// the audit row.
var ErrMalformedBatch = errors.New("malformed batch envelope")

// Provider processes exporter payloads into the store.
type Provider struct {
	store  storage.Store
	norm   *Normalizer
	policy storage.ConflictPolicy
	log    *slog.Logger
}

// NewProvider creates an ingest provider. An empty conflict policy defaults
// to keep-first.
func NewProvider(store storage.Store, policy storage.ConflictPolicy, log *slog.Logger) *Provider {
	if policy == "" {
		policy = storage.KeepFirst
	}
	return &Provider{store: store, norm: NewNormalizer(), policy: policy, log: log}
}

// Ingest processes one payload delivered via the given source tag. The call
// is fail-soft per point: malformed points and unknown kinds are counted and
// skipped, never aborting the batch. Exactly one ImportBatch audit row is
// written per call.
func (p *Provider) Ingest(ctx context.Context, payload *models.Payload, source string) (*Result, error) {
	result := &Result{ImportID: uuid.New()}

	batch := models.ImportBatch{
		ID:         result.ImportID,
		ReceivedAt: time.Now().UTC(),
		Source:     source,
		Status:     models.ImportStatusSuccess,
	}
	if payload != nil {
		// A payload that just decoded from JSON re-marshals without error.
		batch.RawPayload, _ = json.Marshal(payload)
	}

	if payload == nil || payload.Malformed() {
		msg := ErrMalformedBatch.Error()
		batch.Status = models.ImportStatusError
		batch.ErrorMessage = &msg
		if err := p.store.InsertImportBatch(ctx, batch); err != nil {
			p.log.Error("failed to record malformed batch", "error", err)
		}
		return result, ErrMalformedBatch
	}

	samples := p.collectSamples(payload.Data.Metrics, source, result)
	workouts := p.collectWorkouts(payload.Data.Workouts, source, result)

	storeErr := p.persist(ctx, samples, workouts, result)
	if storeErr != nil {
		msg := storeErr.Error()
		batch.Status = models.ImportStatusError
		batch.ErrorMessage = &msg
	}

	result.SamplesSkipped = int64(result.SamplesReceived) - result.SamplesStored
	if len(result.RejectedKinds) > 0 {
		result.Message = fmt.Sprintf(
			"some metrics were rejected because their kind is not registered: %v",
			result.RejectedKinds)
	}

	batch.SamplesReceived = result.SamplesReceived
	batch.SamplesStored = result.SamplesStored
	batch.WorkoutsReceived = result.WorkoutsReceived
	batch.WorkoutsStored = result.WorkoutsStored

	if err := p.store.InsertImportBatch(ctx, batch); err != nil {
		if storeErr == nil {
			storeErr = fmt.Errorf("recording import batch: %w", err)
		} else {
			p.log.Error("failed to record import batch", "error", err)
		}
	}

	return result, storeErr
}

// collectSamples normalizes metric data points, skipping bad points and
// unregistered kinds, and deduplicates within the batch so the store sees
// each (kind, source, timestamp) tuple at most once per call.
func (p *Provider) collectSamples(wireMetrics []models.WireMetric, source string, result *Result) []models.Sample {
	var samples []models.Sample
	rejectedSet := map[string]bool{}

	for _, m := range wireMetrics {
		for _, raw := range m.Data {
			result.SamplesReceived++

			s, err := p.norm.Normalize(m.Name, m.Units, raw, source)
			if err != nil {
				if errors.Is(err, metrics.ErrUnsupportedMetricKind) {
					if !rejectedSet[m.Name] {
						result.RejectedKinds = append(result.RejectedKinds, m.Name)
						rejectedSet[m.Name] = true
					}
				} else {
					p.log.Warn("skipping data point", "metric", m.Name, "error", err)
				}
				continue
			}
			samples = append(samples, *s)
		}
	}

	return p.dedupeBatch(samples)
}

func (p *Provider) collectWorkouts(workouts []models.WireWorkout, source string, result *Result) []models.Sample {
	var samples []models.Sample
	for _, w := range workouts {
		result.WorkoutsReceived++

		s, err := p.norm.NormalizeWorkout(w, source)
		if err != nil {
			p.log.Warn("skipping workout", "name", w.Name, "error", err)
			continue
		}
		samples = append(samples, *s)
	}
	return p.dedupeBatch(samples)
}

// dedupeBatch resolves tuple collisions inside one batch before the store
// sees them: the exporter has been observed emitting two samples per minute
// at the same timestamp with different magnitudes. Keep-first retains the
// earlier point, keep-max the larger normalized value.
func (p *Provider) dedupeBatch(samples []models.Sample) []models.Sample {
	if len(samples) < 2 {
		return samples
	}

	index := make(map[string]int, len(samples))
	out := samples[:0]
	for _, s := range samples {
		key := s.Kind + "\x00" + s.Source + "\x00" + s.Timestamp
		if at, seen := index[key]; seen {
			if p.policy == storage.KeepMax && s.NormalizedValue > out[at].NormalizedValue {
				out[at] = s
			}
			continue
		}
		index[key] = len(out)
		out = append(out, s)
	}
	return out
}

func (p *Provider) persist(ctx context.Context, samples, workouts []models.Sample, result *Result) error {
	if len(samples) > 0 {
		stored, err := p.store.InsertSamples(ctx, samples, p.policy)
		if err != nil {
			return fmt.Errorf("inserting samples: %w", err)
		}
		result.SamplesStored = stored
	}
	if len(workouts) > 0 {
		stored, err := p.store.InsertSamples(ctx, workouts, p.policy)
		if err != nil {
			return fmt.Errorf("inserting workout samples: %w", err)
		}
		result.WorkoutsStored = stored
	}
	return nil
}
