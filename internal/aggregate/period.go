package aggregate

import (
	"fmt"
	"math"

	"github.com/meltforce/vitals/internal/metrics"
	"github.com/meltforce/vitals/internal/models"
)

// periodKey derives the grouping key for a canonical timestamp. Day, month
// and year keys are string prefixes (lengths 10, 7, 4) of the stored
// timestamp, which sorts lexicographically in chronological order. Week keys
// use ISO-8601 week numbering so year boundaries land in the right week.
func periodKey(timestamp string, gran metrics.Granularity) (string, error) {
	switch gran {
	case metrics.Daily:
		if len(timestamp) < 10 {
			return "", fmt.Errorf("timestamp %q too short for day key", timestamp)
		}
		return timestamp[:10], nil
	case metrics.Monthly:
		if len(timestamp) < 7 {
			return "", fmt.Errorf("timestamp %q too short for month key", timestamp)
		}
		return timestamp[:7], nil
	case metrics.Yearly:
		if len(timestamp) < 4 {
			return "", fmt.Errorf("timestamp %q too short for year key", timestamp)
		}
		return timestamp[:4], nil
	case metrics.Weekly:
		t, err := models.ParseTimestamp(timestamp)
		if err != nil {
			return "", fmt.Errorf("parsing timestamp for week key: %w", err)
		}
		year, week := t.ISOWeek()
		return fmt.Sprintf("%04d-W%02d", year, week), nil
	case metrics.Total:
		return "total", nil
	}
	return "", fmt.Errorf("no period key for granularity %q", gran)
}

// accumulator builds one group as samples stream through in timestamp order.
type accumulator struct {
	period  string
	sum     float64
	count   int
	min     float64
	max     float64
	firstTS string
	lastTS  string
}

func newAccumulator(period string) *accumulator {
	return &accumulator{period: period}
}

// value picks the side of the sample the aggregation operates on: the
// normalized value (canonical unit) for convertible kinds, the raw value
// otherwise.
func value(s models.Sample, policy metrics.Policy) float64 {
	if policy.Convertible() {
		return s.NormalizedValue
	}
	return s.RawValue
}

func (a *accumulator) add(s models.Sample, policy metrics.Policy) {
	v := value(s, policy)
	if a.count == 0 {
		a.min, a.max = v, v
		a.firstTS = s.Timestamp
	} else {
		a.min = math.Min(a.min, v)
		a.max = math.Max(a.max, v)
	}
	a.sum += v
	a.count++
	a.lastTS = s.Timestamp
}

func (a *accumulator) finish(policy metrics.Policy) Group {
	g := Group{
		Period:         a.period,
		SampleCount:    a.count,
		FirstTimestamp: a.firstTS,
		LastTimestamp:  a.lastTS,
	}
	switch policy.Aggregation {
	case metrics.Average:
		g.Value = round2(a.sum / float64(a.count))
		mn, mx := a.min, a.max
		g.Min = &mn
		g.Max = &mx
	default:
		g.Value = round2(a.sum)
	}
	return g
}

// round2 rounds to 2 decimal places for presentation stability.
func round2(v float64) float64 {
	return math.Round(v*100) / 100
}
