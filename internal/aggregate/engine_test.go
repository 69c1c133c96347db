package aggregate

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"math"
	"testing"
	"time"

	"github.com/meltforce/vitals/internal/metrics"
	"github.com/meltforce/vitals/internal/models"
	"github.com/meltforce/vitals/internal/storage"
)

// stubSource serves canned samples, honoring the query's ordering and limit
// the same way the real store does.
type stubSource struct {
	samples []models.Sample
}

func (s *stubSource) QuerySamples(_ context.Context, q storage.SampleQuery) ([]models.Sample, error) {
	var out []models.Sample
	for _, sm := range s.samples {
		if sm.Kind == q.Kind {
			out = append(out, sm)
		}
	}
	if q.NewestFirst {
		for i, j := 0, len(out)-1; i < j; i, j = i+1, j-1 {
			out[i], out[j] = out[j], out[i]
		}
	}
	if q.Limit > 0 && len(out) > q.Limit {
		out = out[:q.Limit]
	}
	return out, nil
}

func testEngine(samples []models.Sample) *Engine {
	log := slog.New(slog.NewTextHandler(io.Discard, nil))
	return NewEngine(&stubSource{samples: samples}, log)
}

func sample(kind string, ts time.Time, value float64) models.Sample {
	return models.Sample{
		Kind:            kind,
		Source:          metrics.SourceRealtimeExport,
		Timestamp:       models.FormatTimestamp(ts),
		RawValue:        value,
		NormalizedValue: value,
	}
}

func TestQueryDailySum(t *testing.T) {
	samples := []models.Sample{
		sample("flights_climbed", time.Date(2024, 2, 6, 9, 0, 0, 0, time.UTC), 3),
		sample("flights_climbed", time.Date(2024, 2, 6, 17, 0, 0, 0, time.UTC), 5),
		sample("flights_climbed", time.Date(2024, 2, 7, 8, 0, 0, 0, time.UTC), 2),
	}

	series, err := testEngine(samples).Query(context.Background(), Request{
		Kind: "flights_climbed", Granularity: "daily",
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if len(series.Groups) != 2 {
		t.Fatalf("groups = %d, want 2", len(series.Groups))
	}
	if series.Groups[0].Period != "2024-02-06" || series.Groups[0].Value != 8 {
		t.Errorf("first group = %+v, want 2024-02-06 / 8", series.Groups[0])
	}
	if series.Groups[0].SampleCount != 2 {
		t.Errorf("first group count = %d, want 2", series.Groups[0].SampleCount)
	}
	if series.Groups[1].Period != "2024-02-07" || series.Groups[1].Value != 2 {
		t.Errorf("second group = %+v, want 2024-02-07 / 2", series.Groups[1])
	}
	// Sum groups carry no min/max.
	if series.Groups[0].Min != nil || series.Groups[0].Max != nil {
		t.Error("sum group must not carry min/max")
	}
}

func TestQueryDailyAverageWithMinMax(t *testing.T) {
	day := time.Date(2024, 2, 6, 0, 0, 0, 0, time.UTC)
	samples := []models.Sample{
		sample("heart_rate", day.Add(8*time.Hour), 58),
		sample("heart_rate", day.Add(12*time.Hour), 72),
		sample("heart_rate", day.Add(18*time.Hour), 95),
	}

	series, err := testEngine(samples).Query(context.Background(), Request{
		Kind: "heart_rate", Granularity: "daily",
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(series.Groups) != 1 {
		t.Fatalf("groups = %d, want 1", len(series.Groups))
	}

	g := series.Groups[0]
	if g.Value != 75 {
		t.Errorf("avg = %v, want 75", g.Value)
	}
	if g.Min == nil || g.Max == nil {
		t.Fatal("average group must carry min/max")
	}
	if *g.Min != 58 || *g.Max != 95 {
		t.Errorf("min/max = %v/%v, want 58/95", *g.Min, *g.Max)
	}
}

func TestQueryDefaultGranularityNone(t *testing.T) {
	// heart_rate defaults to raw samples newest first.
	day := time.Date(2024, 2, 6, 0, 0, 0, 0, time.UTC)
	var samples []models.Sample
	for i := 0; i < 100; i++ {
		samples = append(samples, sample("heart_rate", day.Add(time.Duration(i)*time.Minute), float64(60+i%20)))
	}

	series, err := testEngine(samples).Query(context.Background(), Request{
		Kind: "heart_rate", Limit: 5,
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if series.Granularity != metrics.None {
		t.Errorf("granularity = %q, want none", series.Granularity)
	}
	if len(series.Samples) != 5 {
		t.Fatalf("samples = %d, want 5", len(series.Samples))
	}
	if series.Samples[0].Timestamp != "2024-02-06 01:39:00" {
		t.Errorf("first sample = %q, want the newest", series.Samples[0].Timestamp)
	}
	if len(series.Groups) != 0 || series.Summary != nil {
		t.Error("raw series must not carry groups or a summary")
	}
}

// TestQueryStepSourcePriority verifies the step-count device filter: phone
// samples delivered via the general export are dropped so a phone and watch
// recording the same walk do not double the total.
func TestQueryStepSourcePriority(t *testing.T) {
	ts := time.Date(2024, 2, 6, 9, 0, 0, 0, time.UTC)
	watch := sample("step_count", ts, 500)
	watch.Source = metrics.SourceGeneralExport
	watch.Metadata = map[string]any{"device": "Apple Watch"}

	phone := sample("step_count", ts.Add(time.Minute), 480)
	phone.Source = metrics.SourceGeneralExport
	phone.Metadata = map[string]any{"device": "iPhone"}

	realtime := sample("step_count", ts.Add(2*time.Minute), 30)
	realtime.Source = metrics.SourceRealtimeExport

	series, err := testEngine([]models.Sample{watch, phone, realtime}).Query(context.Background(), Request{
		Kind: "step_count", Granularity: "daily",
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(series.Groups) != 1 {
		t.Fatalf("groups = %d, want 1", len(series.Groups))
	}
	if got := series.Groups[0].Value; got != 530 {
		t.Errorf("daily steps = %v, want 530 (phone sample excluded)", got)
	}
	if series.Groups[0].SampleCount != 2 {
		t.Errorf("count = %d, want 2", series.Groups[0].SampleCount)
	}
}

func TestQueryEmptyRange(t *testing.T) {
	series, err := testEngine(nil).Query(context.Background(), Request{
		Kind: "step_count", Granularity: "daily",
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if series.Groups == nil || len(series.Groups) != 0 {
		t.Errorf("groups = %#v, want empty non-nil slice", series.Groups)
	}
	if series.Summary != nil {
		t.Error("empty result must omit the summary")
	}
}

func TestQueryUnknownKind(t *testing.T) {
	_, err := testEngine(nil).Query(context.Background(), Request{Kind: "mood_score"})
	if err == nil {
		t.Fatal("expected an error for an unregistered kind")
	}
}

func TestQueryInvalidGranularity(t *testing.T) {
	_, err := testEngine(nil).Query(context.Background(), Request{
		Kind: "step_count", Granularity: "hourly",
	})
	if err == nil {
		t.Fatal("expected an error for an unknown granularity")
	}
}

// TestSummaryMatchesTotalGranularity checks the sum-of-sums consistency:
// the daily summary total must equal the single group produced by the total
// granularity over the same samples.
func TestSummaryMatchesTotalGranularity(t *testing.T) {
	var samples []models.Sample
	base := time.Date(2024, 2, 1, 12, 0, 0, 0, time.UTC)
	for i := 0; i < 14; i++ {
		samples = append(samples, sample("flights_climbed", base.AddDate(0, 0, i), float64(i)+0.5))
	}
	eng := testEngine(samples)

	daily, err := eng.Query(context.Background(), Request{Kind: "flights_climbed", Granularity: "daily"})
	if err != nil {
		t.Fatal(err)
	}
	total, err := eng.Query(context.Background(), Request{Kind: "flights_climbed", Granularity: "total"})
	if err != nil {
		t.Fatal(err)
	}

	if daily.Summary == nil || total.Summary == nil {
		t.Fatal("both queries must produce a summary")
	}
	if len(total.Groups) != 1 || total.Groups[0].Period != "total" {
		t.Fatalf("total groups = %+v, want a single 'total' group", total.Groups)
	}
	if math.Abs(daily.Summary.Total-total.Groups[0].Value) > 0.01 {
		t.Errorf("daily summary total %v != total-granularity value %v",
			daily.Summary.Total, total.Groups[0].Value)
	}
	if daily.Summary.PeriodCount != 14 {
		t.Errorf("period count = %d, want 14", daily.Summary.PeriodCount)
	}
}

// TestQueryEnergyScenario walks the worked example: 100 kJ and 50 kcal on
// the same day aggregate to 100/4.184 + 50 in kcal.
func TestQueryEnergyScenario(t *testing.T) {
	day := time.Date(2024, 2, 6, 0, 0, 0, 0, time.UTC)

	kj := sample("active_energy", day.Add(9*time.Hour), 100)
	kj.Unit = "kJ"
	kj.NormalizedValue = 100 / 4.184

	kcal := sample("active_energy", day.Add(17*time.Hour), 50)
	kcal.Unit = "kcal"

	series, err := testEngine([]models.Sample{kj, kcal}).Query(context.Background(), Request{
		Kind: "active_energy", Granularity: "daily",
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if series.Unit != "kcal" {
		t.Errorf("unit = %q, want canonical kcal", series.Unit)
	}
	if len(series.Groups) != 1 {
		t.Fatalf("groups = %d, want 1", len(series.Groups))
	}

	want := round2(100/4.184 + 50) // 73.9
	if got := series.Groups[0].Value; got != want {
		t.Errorf("daily energy = %v, want %v", got, want)
	}
}

func TestQueryWeeklyAcrossYearBoundary(t *testing.T) {
	// 2024-12-30 and 2025-01-02 are both ISO week 2025-W01.
	samples := []models.Sample{
		sample("flights_climbed", time.Date(2024, 12, 29, 10, 0, 0, 0, time.UTC), 1),
		sample("flights_climbed", time.Date(2024, 12, 30, 10, 0, 0, 0, time.UTC), 2),
		sample("flights_climbed", time.Date(2025, 1, 2, 10, 0, 0, 0, time.UTC), 4),
	}

	series, err := testEngine(samples).Query(context.Background(), Request{
		Kind: "flights_climbed", Granularity: "weekly",
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(series.Groups) != 2 {
		t.Fatalf("groups = %v, want 2", series.Groups)
	}
	if series.Groups[0].Period != "2024-W52" || series.Groups[0].Value != 1 {
		t.Errorf("first group = %+v, want 2024-W52 / 1", series.Groups[0])
	}
	if series.Groups[1].Period != "2025-W01" || series.Groups[1].Value != 6 {
		t.Errorf("second group = %+v, want 2025-W01 / 6", series.Groups[1])
	}
}

func ExampleEngine_Query() {
	eng := testEngine([]models.Sample{
		sample("flights_climbed", time.Date(2024, 2, 6, 9, 0, 0, 0, time.UTC), 3),
		sample("flights_climbed", time.Date(2024, 2, 6, 17, 0, 0, 0, time.UTC), 5),
	})
	series, _ := eng.Query(context.Background(), Request{Kind: "flights_climbed", Granularity: "daily"})
	fmt.Println(series.Groups[0].Period, series.Groups[0].Value)
	// Output: 2024-02-06 8
}
