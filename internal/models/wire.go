package models

import (
	"encoding/json"
	"fmt"
	"time"
)

// ExportTime handles the Health Auto Export date format:
// "2006-01-02 15:04:05 -0700", with a date-only fallback used by
// aggregated sleep data.
type ExportTime struct {
	time.Time
}

const (
	ExportTimeLayout     = "2006-01-02 15:04:05 -0700"
	ExportDateOnlyLayout = "2006-01-02"
)

func (t *ExportTime) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	return t.Parse(s)
}

func (t ExportTime) MarshalJSON() ([]byte, error) {
	return json.Marshal(t.Format(ExportTimeLayout))
}

// Parse parses an exporter time string, trying full datetime first, then
// date-only.
func (t *ExportTime) Parse(s string) error {
	parsed, err := time.Parse(ExportTimeLayout, s)
	if err == nil {
		t.Time = parsed
		return nil
	}
	parsed, err2 := time.Parse(ExportDateOnlyLayout, s)
	if err2 == nil {
		t.Time = parsed
		return nil
	}
	return fmt.Errorf("cannot parse export time %q: %w", s, err)
}

// Payload is the top-level REST API JSON structure pushed by the exporter.
type Payload struct {
	Data PayloadData `json:"data"`
}

// PayloadData contains the arrays of health data.
type PayloadData struct {
	Metrics  []WireMetric  `json:"metrics"`
	Workouts []WireWorkout `json:"workouts"`
}

// Malformed reports whether the envelope lacks the expected shape: neither
// a metrics nor a workouts array is present. Present-but-empty arrays are a
// valid empty sync window, not a malformed batch.
func (p *Payload) Malformed() bool {
	return p.Data.Metrics == nil && p.Data.Workouts == nil
}

// WireMetric is a single metric entry with name, units, and data points.
// Data points stay raw until the normalizer detects their shape.
type WireMetric struct {
	Name  string            `json:"name"`
	Units string            `json:"units"`
	Data  []json.RawMessage `json:"data"`
}

// WireQtyPoint is the standard data point shape with a single quantity.
type WireQtyPoint struct {
	Date   ExportTime `json:"date"`
	Qty    float64    `json:"qty"`
	Device string     `json:"source"`
}

// WireHeartRatePoint has Min/Avg/Max fields (capitalized in the exporter's
// JSON) instead of a single quantity.
type WireHeartRatePoint struct {
	Date   ExportTime `json:"date"`
	Min    float64    `json:"Min"`
	Avg    float64    `json:"Avg"`
	Max    float64    `json:"Max"`
	Device string     `json:"source"`
}

// WireSleepPoint is a nightly sleep summary: the primary quantity is
// totalSleep, with per-stage durations alongside.
type WireSleepPoint struct {
	Date       ExportTime `json:"date"`
	TotalSleep float64    `json:"totalSleep"`
	Asleep     float64    `json:"asleep"`
	Core       float64    `json:"core"`
	Deep       float64    `json:"deep"`
	REM        float64    `json:"rem"`
	Awake      float64    `json:"awake"`
	InBed      float64    `json:"inBed"`
	Device     string     `json:"source"`
}

// WireWorkout is a workout from the exporter. Workouts are stored as
// degenerate samples under a workout_<name> kind.
type WireWorkout struct {
	ID       string     `json:"id"`
	Name     string     `json:"name"`
	Start    ExportTime `json:"start"`
	End      ExportTime `json:"end"`
	Duration float64    `json:"duration"`

	ActiveEnergyBurned *WireQuantity `json:"activeEnergyBurned,omitempty"`
	Distance           *WireQuantity `json:"distance,omitempty"`
}

// WireQuantity is the {"qty": N, "units": "..."} structure.
type WireQuantity struct {
	Qty   float64 `json:"qty"`
	Units string  `json:"units"`
}
