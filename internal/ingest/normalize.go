package ingest

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/meltforce/vitals/internal/metrics"
	"github.com/meltforce/vitals/internal/models"
)

// Normalizer converts raw exporter data points into canonical samples. It is
// a pure transform: metric-kind resolution, shape handling, and unit
// normalization all come from the registry, and nothing here touches the
// store.
type Normalizer struct{}

// NewNormalizer creates a Normalizer.
func NewNormalizer() *Normalizer {
	return &Normalizer{}
}

// Normalize converts one raw data point of the named wire metric into a
// Sample. The source tag identifies the export path that delivered the
// batch; the data point's own "source" field (the recording device) lands
// in metadata.
func (n *Normalizer) Normalize(wireName, units string, raw json.RawMessage, source string) (*models.Sample, error) {
	kind, err := metrics.Resolve(wireName)
	if err != nil {
		return nil, err
	}

	s := &models.Sample{
		Kind:   string(kind),
		Source: source,
		Unit:   units,
	}

	switch DetectMetricShape(kind) {
	case ShapeMinAvgMax:
		var dp models.WireHeartRatePoint
		if err := json.Unmarshal(raw, &dp); err != nil {
			return nil, fmt.Errorf("parsing min/avg/max point: %w", err)
		}
		if dp.Date.IsZero() {
			return nil, fmt.Errorf("%s point has no timestamp", wireName)
		}
		s.Timestamp = models.FormatTimestamp(dp.Date.Time)
		s.RawValue = dp.Avg
		s.Metadata = map[string]any{"min": dp.Min, "max": dp.Max}
		addDevice(s.Metadata, dp.Device)

	case ShapeSleep:
		var dp models.WireSleepPoint
		if err := json.Unmarshal(raw, &dp); err != nil {
			return nil, fmt.Errorf("parsing sleep point: %w", err)
		}
		if dp.Date.IsZero() {
			return nil, fmt.Errorf("%s point has no timestamp", wireName)
		}
		s.Timestamp = models.FormatTimestamp(dp.Date.Time)
		s.RawValue = dp.TotalSleep
		s.Metadata = map[string]any{
			"asleep": dp.Asleep,
			"core":   dp.Core,
			"deep":   dp.Deep,
			"rem":    dp.REM,
			"awake":  dp.Awake,
			"inBed":  dp.InBed,
		}
		addDevice(s.Metadata, dp.Device)

	default:
		var dp models.WireQtyPoint
		if err := json.Unmarshal(raw, &dp); err != nil {
			return nil, fmt.Errorf("parsing qty point: %w", err)
		}
		if dp.Date.IsZero() {
			return nil, fmt.Errorf("%s point has no timestamp", wireName)
		}
		s.Timestamp = models.FormatTimestamp(dp.Date.Time)
		s.RawValue = dp.Qty
		if dp.Device != "" {
			s.Metadata = map[string]any{"device": dp.Device}
		}
	}

	policy, err := metrics.Lookup(s.Kind)
	if err != nil {
		return nil, err
	}
	s.NormalizedValue = s.RawValue * policy.Factor(units)

	return s, nil
}

// NormalizeWorkout converts a workout into a degenerate sample under the
// workout_<name> kind. The sample's value is the workout duration in
// seconds; energy and distance ride along in metadata.
func (n *Normalizer) NormalizeWorkout(w models.WireWorkout, source string) (*models.Sample, error) {
	if w.Start.IsZero() {
		return nil, fmt.Errorf("workout %q has no start timestamp", w.Name)
	}

	s := &models.Sample{
		Kind:            "workout_" + workoutSlug(w.Name),
		Source:          source,
		Timestamp:       models.FormatTimestamp(w.Start.Time),
		RawValue:        w.Duration,
		Unit:            "s",
		NormalizedValue: w.Duration,
		Metadata:        map[string]any{"name": w.Name},
	}
	if w.ID != "" {
		s.Metadata["workout_id"] = w.ID
	}
	if !w.End.IsZero() {
		s.Metadata["end"] = models.FormatTimestamp(w.End.Time)
	}
	if w.ActiveEnergyBurned != nil {
		s.Metadata["active_energy"] = w.ActiveEnergyBurned.Qty
		s.Metadata["active_energy_units"] = w.ActiveEnergyBurned.Units
	}
	if w.Distance != nil {
		s.Metadata["distance"] = w.Distance.Qty
		s.Metadata["distance_units"] = w.Distance.Units
	}

	return s, nil
}

func addDevice(meta map[string]any, device string) {
	if device != "" {
		meta["device"] = device
	}
}

func workoutSlug(name string) string {
	slug := strings.ToLower(strings.TrimSpace(name))
	slug = strings.ReplaceAll(slug, " ", "_")
	if slug == "" {
		slug = "unknown"
	}
	return slug
}
