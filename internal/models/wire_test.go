package models

import (
	"encoding/json"
	"sort"
	"testing"
	"time"
)

// TestExportTimeParseFull verifies the exporter's datetime format parses
// with its zone offset intact.
func TestExportTimeParseFull(t *testing.T) {
	var et ExportTime
	if err := et.Parse("2024-02-06 14:30:00 -0800"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	want := time.Date(2024, 2, 6, 14, 30, 0, 0, time.FixedZone("", -8*3600))
	if !et.Equal(want) {
		t.Errorf("parsed %v, want %v", et.Time, want)
	}
}

// TestExportTimeParseDateOnly verifies the date-only fallback used by
// aggregated sleep data.
func TestExportTimeParseDateOnly(t *testing.T) {
	var et ExportTime
	if err := et.Parse("2024-02-06"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if et.Year() != 2024 || et.Month() != 2 || et.Day() != 6 {
		t.Errorf("parsed %v, want 2024-02-06", et.Time)
	}
}

// TestExportTimeParseInvalid verifies garbage fails instead of silently
// zeroing the timestamp.
func TestExportTimeParseInvalid(t *testing.T) {
	var et ExportTime
	if err := et.Parse("last tuesday"); err == nil {
		t.Error("expected error for unparseable time")
	}
}

// TestExportTimeUnmarshalJSON verifies the JSON hook parses exporter
// payload dates.
func TestExportTimeUnmarshalJSON(t *testing.T) {
	var p WireQtyPoint
	if err := json.Unmarshal([]byte(`{"date":"2024-02-06 14:30:00 -0800","qty":58}`), &p); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if p.Qty != 58 || p.Date.IsZero() {
		t.Errorf("got qty=%v date=%v", p.Qty, p.Date.Time)
	}
}

// TestFormatTimestampLexicographicOrder verifies the core invariant: the
// canonical string form sorts lexicographically in chronological order,
// even when inputs arrive in mixed zone offsets.
func TestFormatTimestampLexicographicOrder(t *testing.T) {
	times := []time.Time{
		time.Date(2024, 2, 6, 23, 30, 0, 0, time.FixedZone("", -8*3600)),
		time.Date(2024, 2, 7, 1, 0, 0, 0, time.UTC),
		time.Date(2024, 2, 7, 12, 0, 0, 0, time.FixedZone("", 2*3600)),
		time.Date(2023, 12, 31, 23, 59, 59, 0, time.UTC),
	}

	formatted := make([]string, len(times))
	for i, tm := range times {
		formatted[i] = FormatTimestamp(tm)
	}

	sortedByTime := append([]time.Time(nil), times...)
	sort.Slice(sortedByTime, func(i, j int) bool { return sortedByTime[i].Before(sortedByTime[j]) })
	sortedByString := append([]string(nil), formatted...)
	sort.Strings(sortedByString)

	for i, tm := range sortedByTime {
		if FormatTimestamp(tm) != sortedByString[i] {
			t.Fatalf("lexicographic order diverges from chronological at %d: %q vs %q",
				i, FormatTimestamp(tm), sortedByString[i])
		}
	}
}

// TestTimestampRoundTrip verifies Format and Parse invert each other in UTC.
func TestTimestampRoundTrip(t *testing.T) {
	orig := time.Date(2024, 2, 6, 22, 30, 0, 0, time.FixedZone("", -8*3600))
	s := FormatTimestamp(orig)
	if s != "2024-02-07 06:30:00" {
		t.Errorf("FormatTimestamp = %q, want UTC rendering", s)
	}
	back, err := ParseTimestamp(s)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !back.Equal(orig) {
		t.Errorf("round trip %v != %v", back, orig)
	}
}

// TestPayloadMalformed verifies the envelope-shape check: the metrics and
// workouts arrays must be present, but may be empty.
func TestPayloadMalformed(t *testing.T) {
	tests := []struct {
		name string
		json string
		want bool
	}{
		{"no data key", `{"unexpected":"shape"}`, true},
		{"data key without arrays", `{"data":{}}`, true},
		{"empty sync window", `{"data":{"metrics":[],"workouts":[]}}`, false},
		{"empty metrics array only", `{"data":{"metrics":[]}}`, false},
		{"metrics present", `{"data":{"metrics":[{"name":"step_count","units":"count","data":[]}]}}`, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var p Payload
			if err := json.Unmarshal([]byte(tt.json), &p); err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if got := p.Malformed(); got != tt.want {
				t.Errorf("Malformed() = %v, want %v", got, tt.want)
			}
		})
	}
}
