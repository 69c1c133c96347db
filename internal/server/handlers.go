package server

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/meltforce/vitals/internal/aggregate"
	"github.com/meltforce/vitals/internal/ingest"
	"github.com/meltforce/vitals/internal/metrics"
	"github.com/meltforce/vitals/internal/models"
)

func (s *Server) ingestHandler(source string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var payload models.Payload
		if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid JSON: " + err.Error()})
			return
		}

		result, err := s.provider.Ingest(r.Context(), &payload, source)
		if err != nil {
			if errors.Is(err, ingest.ErrMalformedBatch) {
				writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
				return
			}
			s.log.Error("ingest error", "error", err)
			writeJSON(w, http.StatusServiceUnavailable, map[string]string{"error": err.Error()})
			return
		}

		writeJSON(w, http.StatusOK, result)
	}
}

func (s *Server) handleQueryMetrics(w http.ResponseWriter, r *http.Request) {
	kind := r.URL.Query().Get("kind")
	if kind == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "kind parameter required"})
		return
	}

	start, end, err := parseTimeRange(r)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
		return
	}

	limit := 0
	if v := r.URL.Query().Get("limit"); v != "" {
		limit, err = strconv.Atoi(v)
		if err != nil || limit < 0 {
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": "limit must be a non-negative integer"})
			return
		}
	}

	series, err := s.engine.Query(r.Context(), aggregate.Request{
		Kind:        kind,
		Start:       start,
		End:         end,
		Granularity: r.URL.Query().Get("granularity"),
		Limit:       limit,
	})
	if err != nil {
		if errors.Is(err, metrics.ErrUnsupportedMetricKind) || errors.Is(err, metrics.ErrInvalidGranularity) {
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
			return
		}
		s.log.Error("query error", "kind", kind, "error", err)
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"error": err.Error()})
		return
	}

	writeJSON(w, http.StatusOK, series)
}

func (s *Server) handleLatestMetrics(w http.ResponseWriter, r *http.Request) {
	samples, err := s.store.LatestSamples(r.Context())
	if err != nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"error": err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, samples)
}

func (s *Server) handleKinds(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, metrics.Kinds())
}

func (s *Server) handleImports(w http.ResponseWriter, r *http.Request) {
	limit := 0
	if v := r.URL.Query().Get("limit"); v != "" {
		var err error
		limit, err = strconv.Atoi(v)
		if err != nil {
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": "limit must be an integer"})
			return
		}
	}

	batches, err := s.store.QueryImportBatches(r.Context(), limit)
	if err != nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"error": err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, batches)
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	stats, err := s.store.Stats(r.Context())
	if err != nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"error": err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, stats)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

// parseTimeRange reads either days=N (last N days ending now) or explicit
// start/end query parameters (RFC 3339 or YYYY-MM-DD, end date inclusive).
func parseTimeRange(r *http.Request) (start, end time.Time, err error) {
	if daysStr := r.URL.Query().Get("days"); daysStr != "" {
		days, convErr := strconv.Atoi(daysStr)
		if convErr != nil || days <= 0 {
			return time.Time{}, time.Time{}, errors.New("days must be a positive integer")
		}
		end = time.Now()
		start = end.AddDate(0, 0, -days)
		return
	}

	startStr := r.URL.Query().Get("start")
	endStr := r.URL.Query().Get("end")

	if startStr == "" {
		// Default: last 7 days
		end = time.Now()
		start = end.AddDate(0, 0, -7)
		return
	}

	start, err = time.Parse(time.RFC3339, startStr)
	if err != nil {
		start, err = time.Parse("2006-01-02", startStr)
		if err != nil {
			return time.Time{}, time.Time{}, err
		}
	}

	if endStr == "" {
		end = time.Now()
	} else {
		end, err = time.Parse(time.RFC3339, endStr)
		if err != nil {
			end, err = time.Parse("2006-01-02", endStr)
			if err != nil {
				return time.Time{}, time.Time{}, err
			}
			// End of day for date-only
			end = end.Add(24 * time.Hour)
		}
	}
	return
}
