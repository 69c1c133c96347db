package ingest

import "github.com/google/uuid"

// Result holds the outcome of an ingest call. Stored counts below received
// counts are the caller's signal that points were skipped; per-point
// failures never fail the call.
type Result struct {
	ImportID uuid.UUID `json:"import_id"`

	SamplesReceived int   `json:"samples_received"`
	SamplesStored   int64 `json:"samples_stored"`
	SamplesSkipped  int64 `json:"samples_skipped"`

	WorkoutsReceived int   `json:"workouts_received"`
	WorkoutsStored   int64 `json:"workouts_stored"`

	RejectedKinds []string `json:"rejected_kinds,omitempty"`
	Message       string   `json:"message,omitempty"`
}
