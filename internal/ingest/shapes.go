package ingest

import "github.com/meltforce/vitals/internal/metrics"

// MetricShape describes the data point structure for a metric kind.
type MetricShape int

const (
	ShapeQty       MetricShape = iota // Standard: {"qty": N}
	ShapeMinAvgMax                    // Heart rate: {"Min": N, "Avg": N, "Max": N}
	ShapeSleep                        // Sleep: {"totalSleep": N, per-stage durations}
)

// DetectMetricShape returns the expected data point shape for a kind. Exactly
// heart_rate and sleep_analysis deviate from the single-quantity shape.
func DetectMetricShape(kind metrics.Kind) MetricShape {
	switch kind {
	case metrics.HeartRate:
		return ShapeMinAvgMax
	case metrics.SleepAnalysis:
		return ShapeSleep
	default:
		return ShapeQty
	}
}
