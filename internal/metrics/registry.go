// Package metrics is the metric-kind registry: canonical kinds, wire-name
// resolution, and per-kind policy (aggregation, default granularity, unit
// conversion, source filtering). Adding a metric kind or changing a policy
// happens here, never in the ingest or aggregation loops.
package metrics

import (
	"errors"
	"fmt"
	"sort"
	"strings"
)

// Kind is a canonical metric kind.
type Kind string

const (
	StepCount        Kind = "step_count"
	ActiveEnergy     Kind = "active_energy"
	BasalEnergy      Kind = "basal_energy"
	Distance         Kind = "distance"
	ExerciseMinutes  Kind = "exercise_minutes"
	FlightsClimbed   Kind = "flights_climbed"
	HeartRate        Kind = "heart_rate"
	RestingHeartRate Kind = "resting_heart_rate"
	HeartRateVar     Kind = "heart_rate_variability"
	RespiratoryRate  Kind = "respiratory_rate"
	BloodOxygen      Kind = "blood_oxygen_saturation"
	Weight           Kind = "weight_body_mass"
	VO2Max           Kind = "vo2_max"
	SleepAnalysis    Kind = "sleep_analysis"
)

// Aggregation selects how sample values combine within a period.
type Aggregation int

const (
	// Sum is for cumulative kinds: values add up over a period.
	Sum Aggregation = iota
	// Average is for point-in-time kinds: values are averaged, with
	// min/max reported alongside.
	Average
)

var (
	// ErrUnsupportedMetricKind is returned when a wire name or kind token
	// does not resolve to a registered kind.
	ErrUnsupportedMetricKind = errors.New("unsupported metric kind")
)

// Policy describes how one metric kind is normalized and aggregated.
type Policy struct {
	Aggregation        Aggregation
	DefaultGranularity Granularity

	// CanonicalUnit is the unit normalized values are expressed in.
	// Empty means the kind is not convertible: normalized value equals
	// raw value and queries report the stored unit.
	CanonicalUnit string

	// Convert maps a raw unit to the factor that takes a raw value into
	// the canonical unit. Only consulted when CanonicalUnit is set.
	// Units absent from the map pass through with factor 1.
	Convert map[string]float64

	// SourceFilter, when set, restricts which samples participate in
	// aggregation. It receives the sample's source tag and metadata and
	// returns true to keep the sample.
	SourceFilter func(source string, metadata map[string]any) bool
}

// Convertible reports whether normalized values differ from raw values.
func (p Policy) Convertible() bool { return p.CanonicalUnit != "" }

// Factor returns the conversion factor from the given raw unit to the
// canonical unit. Non-convertible kinds and unknown units yield 1.
func (p Policy) Factor(unit string) float64 {
	if p.Convert == nil {
		return 1
	}
	if f, ok := p.Convert[unit]; ok {
		return f
	}
	return 1
}

// kcalPerKJ converts kilojoules to kilocalories.
const kcalPerKJ = 1.0 / 4.184

// energyConvert is shared by the energy kinds: kcal is canonical, kJ divides
// by 4.184. Raw values and units are never mutated; the factor only feeds
// the normalized value.
var energyConvert = map[string]float64{
	"kcal": 1,
	"kJ":   kcalPerKJ,
}

// stepSourceFilter keeps samples from the realtime export path, or from the
// general export path when the recording device is wrist-worn. A phone and a
// watch recording the same walk otherwise both land in the store and would
// double the daily total.
func stepSourceFilter(source string, metadata map[string]any) bool {
	if source == SourceRealtimeExport {
		return true
	}
	if source != SourceGeneralExport {
		return false
	}
	device, _ := metadata["device"].(string)
	return strings.Contains(device, "Watch")
}

// Source tags attached by the ingest layer. The realtime path is the HAE
// automation that pushes as data is recorded; the general path is the
// periodic "since last sync" export.
const (
	SourceGeneralExport  = "health-auto-export"
	SourceRealtimeExport = "health-auto-export-realtime"
)

var registry = map[Kind]Policy{
	StepCount: {
		Aggregation:        Sum,
		DefaultGranularity: Daily,
		SourceFilter:       stepSourceFilter,
	},
	ActiveEnergy: {
		Aggregation:        Sum,
		DefaultGranularity: Daily,
		CanonicalUnit:      "kcal",
		Convert:            energyConvert,
	},
	BasalEnergy: {
		Aggregation:        Sum,
		DefaultGranularity: Daily,
		CanonicalUnit:      "kcal",
		Convert:            energyConvert,
	},
	Distance:        {Aggregation: Sum, DefaultGranularity: Daily},
	ExerciseMinutes: {Aggregation: Sum, DefaultGranularity: Daily},
	FlightsClimbed:  {Aggregation: Sum, DefaultGranularity: Daily},

	HeartRate:        {Aggregation: Average, DefaultGranularity: None},
	RestingHeartRate: {Aggregation: Average, DefaultGranularity: None},
	HeartRateVar:     {Aggregation: Average, DefaultGranularity: None},
	RespiratoryRate:  {Aggregation: Average, DefaultGranularity: None},
	BloodOxygen:      {Aggregation: Average, DefaultGranularity: None},
	Weight:           {Aggregation: Average, DefaultGranularity: None},
	VO2Max:           {Aggregation: Average, DefaultGranularity: None},
	SleepAnalysis:    {Aggregation: Average, DefaultGranularity: None},
}

// wireNames maps external exporter names to canonical kinds. Most HAE names
// match the canonical kind; aliases cover older exporter versions.
var wireNames = map[string]Kind{
	"step_count":               StepCount,
	"steps":                    StepCount,
	"active_energy":            ActiveEnergy,
	"basal_energy_burned":      BasalEnergy,
	"basal_energy":             BasalEnergy,
	"walking_running_distance": Distance,
	"distance":                 Distance,
	"apple_exercise_time":      ExerciseMinutes,
	"exercise_minutes":         ExerciseMinutes,
	"flights_climbed":          FlightsClimbed,
	"heart_rate":               HeartRate,
	"resting_heart_rate":       RestingHeartRate,
	"heart_rate_variability":   HeartRateVar,
	"respiratory_rate":         RespiratoryRate,
	"blood_oxygen_saturation":  BloodOxygen,
	"weight_body_mass":         Weight,
	"weight":                   Weight,
	"vo2_max":                  VO2Max,
	"sleep_analysis":           SleepAnalysis,
}

// Resolve maps an external wire name to a canonical kind.
func Resolve(wireName string) (Kind, error) {
	if k, ok := wireNames[wireName]; ok {
		return k, nil
	}
	return "", fmt.Errorf("resolving %q: %w", wireName, ErrUnsupportedMetricKind)
}

// Lookup returns the policy for a canonical kind token. Workout-derived
// kinds (workout_<name>) are not in the registry but are valid cumulative
// kinds with no conversion.
func Lookup(kind string) (Policy, error) {
	if p, ok := registry[Kind(kind)]; ok {
		return p, nil
	}
	if strings.HasPrefix(kind, "workout_") {
		return Policy{Aggregation: Sum, DefaultGranularity: Daily}, nil
	}
	return Policy{}, fmt.Errorf("looking up %q: %w", kind, ErrUnsupportedMetricKind)
}

// Kinds returns all registered canonical kinds, for catalog endpoints.
func Kinds() []Kind {
	out := make([]Kind, 0, len(registry))
	for k := range registry {
		out = append(out, k)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}
