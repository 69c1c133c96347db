// Package aggregate answers range queries over stored samples at a requested
// granularity. It is a pure read path: every query recomputes from the store,
// so there is no cached aggregate state to invalidate.
package aggregate

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/meltforce/vitals/internal/metrics"
	"github.com/meltforce/vitals/internal/models"
	"github.com/meltforce/vitals/internal/storage"
)

// SampleSource is the slice of the store the engine reads from.
type SampleSource interface {
	QuerySamples(ctx context.Context, q storage.SampleQuery) ([]models.Sample, error)
}

// Engine computes rollups per the metric-kind registry's policies.
type Engine struct {
	store SampleSource
	log   *slog.Logger
}

// NewEngine creates an aggregation engine over the given sample source.
func NewEngine(store SampleSource, log *slog.Logger) *Engine {
	return &Engine{store: store, log: log}
}

// Request describes one aggregation query. Granularity may be empty, meaning
// the kind's default. Limit only applies when the effective granularity is
// none.
type Request struct {
	Kind        string
	Start       time.Time
	End         time.Time
	Granularity string
	Limit       int
}

// Series is the query result. Samples is populated for granularity none,
// Groups (plus Summary when non-empty) otherwise.
type Series struct {
	Kind        string              `json:"kind"`
	Granularity metrics.Granularity `json:"granularity"`
	Unit        string              `json:"unit,omitempty"`
	Samples     []models.Sample     `json:"samples,omitempty"`
	Groups      []Group             `json:"groups"`
	Summary     *Summary            `json:"summary,omitempty"`
}

// Group is one rolled-up period.
type Group struct {
	Period         string   `json:"period"`
	Value          float64  `json:"value"`
	SampleCount    int      `json:"sample_count"`
	Min            *float64 `json:"min,omitempty"`
	Max            *float64 `json:"max,omitempty"`
	FirstTimestamp string   `json:"first_sample_timestamp"`
	LastTimestamp  string   `json:"last_sample_timestamp"`
}

// Summary is computed over the already-aggregated per-period values: a
// sum-of-sums for cumulative kinds. Values are rounded to 2 decimals for
// presentation stability.
type Summary struct {
	Total            float64   `json:"total"`
	AveragePerPeriod float64   `json:"average_per_period"`
	PeriodCount      int       `json:"period_count"`
	DateRange        DateRange `json:"date_range"`
}

// DateRange is the first and last sample timestamp covered by a summary.
type DateRange struct {
	Start string `json:"start"`
	End   string `json:"end"`
}

// Query runs one aggregation request.
func (e *Engine) Query(ctx context.Context, req Request) (*Series, error) {
	policy, err := metrics.Lookup(req.Kind)
	if err != nil {
		return nil, err
	}

	gran, err := metrics.ParseGranularity(req.Granularity)
	if err != nil {
		return nil, err
	}
	if gran == "" {
		gran = policy.DefaultGranularity
	}

	series := &Series{
		Kind:        req.Kind,
		Granularity: gran,
		Unit:        policy.CanonicalUnit,
		Groups:      []Group{},
	}

	if gran == metrics.None {
		samples, err := e.store.QuerySamples(ctx, storage.SampleQuery{
			Kind:        req.Kind,
			Start:       req.Start,
			End:         req.End,
			NewestFirst: true,
			Limit:       req.Limit,
		})
		if err != nil {
			return nil, fmt.Errorf("loading raw samples: %w", err)
		}
		series.Samples = samples
		if series.Unit == "" && len(samples) > 0 {
			series.Unit = samples[0].Unit
		}
		return series, nil
	}

	samples, err := e.store.QuerySamples(ctx, storage.SampleQuery{
		Kind:  req.Kind,
		Start: req.Start,
		End:   req.End,
	})
	if err != nil {
		return nil, fmt.Errorf("loading samples: %w", err)
	}

	samples = applySourceFilter(samples, policy)
	if len(samples) == 0 {
		return series, nil
	}
	if series.Unit == "" {
		series.Unit = samples[0].Unit
	}

	groups, err := e.group(samples, gran, policy)
	if err != nil {
		return nil, err
	}
	series.Groups = groups
	series.Summary = summarize(groups)

	return series, nil
}

// applySourceFilter drops samples excluded by the kind's source filter, if
// any. This runs before grouping so a lower-priority device's concurrent
// recording of the same activity never reaches the accumulator.
func applySourceFilter(samples []models.Sample, policy metrics.Policy) []models.Sample {
	if policy.SourceFilter == nil {
		return samples
	}
	out := samples[:0]
	for _, s := range samples {
		if policy.SourceFilter(s.Source, s.Metadata) {
			out = append(out, s)
		}
	}
	return out
}

// group rolls samples (ascending by timestamp) into periods. Input order is
// preserved into group order because period keys are prefixes of the
// lexicographically sorted timestamps.
func (e *Engine) group(samples []models.Sample, gran metrics.Granularity, policy metrics.Policy) ([]Group, error) {
	var groups []Group
	var acc *accumulator

	for _, s := range samples {
		key, err := periodKey(s.Timestamp, gran)
		if err != nil {
			// Stored timestamps are canonical; a bad one is store
			// corruption, not a per-sample skip.
			return nil, fmt.Errorf("deriving period key: %w", err)
		}

		if acc == nil || acc.period != key {
			if acc != nil {
				groups = append(groups, acc.finish(policy))
			}
			acc = newAccumulator(key)
		}
		acc.add(s, policy)
	}
	if acc != nil {
		groups = append(groups, acc.finish(policy))
	}

	return groups, nil
}

// summarize computes the summary block over per-period values. Callers only
// invoke it with at least one group; zero groups return no summary at all.
func summarize(groups []Group) *Summary {
	if len(groups) == 0 {
		return nil
	}

	var total float64
	for _, g := range groups {
		total += g.Value
	}

	return &Summary{
		Total:            round2(total),
		AveragePerPeriod: round2(total / float64(len(groups))),
		PeriodCount:      len(groups),
		DateRange: DateRange{
			Start: groups[0].FirstTimestamp,
			End:   groups[len(groups)-1].LastTimestamp,
		},
	}
}
