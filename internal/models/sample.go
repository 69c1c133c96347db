// Package models holds the stored record types and the Health Auto Export
// wire format.
package models

import (
	"time"

	"github.com/google/uuid"
)

// TimestampLayout is the canonical stored timestamp format. Timestamps are
// rendered in UTC with this layout so that lexicographic order equals
// chronological order; the aggregation engine groups by string prefix and
// relies on that.
const TimestampLayout = "2006-01-02 15:04:05"

// FormatTimestamp renders a time in the canonical stored form.
func FormatTimestamp(t time.Time) string {
	return t.UTC().Format(TimestampLayout)
}

// ParseTimestamp parses a canonical stored timestamp back into a UTC time.
func ParseTimestamp(s string) (time.Time, error) {
	return time.Parse(TimestampLayout, s)
}

// Sample is one normalized biometric data point, keyed by its
// (Kind, Source, Timestamp) tuple. Under the default keep-first policy a
// tuple is written once and never updated; keep-max lets a larger later
// value supersede it.
type Sample struct {
	Kind      string `json:"kind"`
	Source    string `json:"source"`
	Timestamp string `json:"timestamp"`

	// RawValue and Unit are preserved verbatim from the exporter.
	RawValue float64 `json:"raw_value"`
	Unit     string  `json:"unit"`

	// NormalizedValue is RawValue converted to the kind's canonical unit.
	// Equal to RawValue for non-convertible kinds.
	NormalizedValue float64 `json:"normalized_value"`

	// Metadata carries shape-specific extras: heart rate min/max, sleep
	// stage breakdowns, the recording device name.
	Metadata map[string]any `json:"metadata,omitempty"`
}

// ImportBatch is the audit record for one ingest call. Exactly one row is
// written per call, regardless of how many samples inside were skipped.
type ImportBatch struct {
	ID               uuid.UUID `json:"id"`
	ReceivedAt       time.Time `json:"received_at"`
	Source           string    `json:"source"`
	Status           string    `json:"status"`
	SamplesReceived  int       `json:"samples_received"`
	SamplesStored    int64     `json:"samples_stored"`
	WorkoutsReceived int       `json:"workouts_received"`
	WorkoutsStored   int64     `json:"workouts_stored"`
	RawPayload       []byte    `json:"-"`
	ErrorMessage     *string   `json:"error_message,omitempty"`
}

// Import batch statuses.
const (
	ImportStatusSuccess = "success"
	ImportStatusError   = "error"
)
