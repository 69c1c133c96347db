package mcp

import (
	"context"
	"time"

	"github.com/mark3labs/mcp-go/mcp"

	"github.com/meltforce/vitals/internal/aggregate"
	"github.com/meltforce/vitals/internal/metrics"
)

// defaultTimeRange returns start/end defaulting to the last 7 days.
func defaultTimeRange(startStr, endStr string) (time.Time, time.Time, error) {
	var start, end time.Time
	var err error

	if endStr != "" {
		end, err = parseFlexTime(endStr)
		if err != nil {
			return time.Time{}, time.Time{}, err
		}
	} else {
		end = time.Now()
	}

	if startStr != "" {
		start, err = parseFlexTime(startStr)
		if err != nil {
			return time.Time{}, time.Time{}, err
		}
	} else {
		start = end.AddDate(0, 0, -7)
	}

	return start, end, nil
}

func parseFlexTime(s string) (time.Time, error) {
	t, err := time.Parse(time.RFC3339, s)
	if err == nil {
		return t, nil
	}
	t, err = time.Parse("2006-01-02", s)
	if err == nil {
		return t, nil
	}
	return time.Time{}, err
}

// --- Tool definitions ---

var toolQueryMetrics = mcp.NewTool("query_metrics",
	mcp.WithDescription("Query aggregated biometric samples. Cumulative kinds (steps, energy, distance) are summed per period, point-in-time kinds (heart rate, weight) are averaged with min/max. Granularity 'none' returns raw samples newest-first."),
	mcp.WithString("kind", mcp.Required(), mcp.Description("Metric kind (e.g. step_count, heart_rate, active_energy, sleep_analysis)")),
	mcp.WithString("start", mcp.Description("Start date (ISO 8601 or YYYY-MM-DD). Defaults to 7 days ago.")),
	mcp.WithString("end", mcp.Description("End date (ISO 8601 or YYYY-MM-DD). Defaults to now.")),
	mcp.WithString("granularity", mcp.Description("Rollup width. Defaults per kind (daily for cumulative kinds, none otherwise)."), mcp.Enum("none", "daily", "weekly", "monthly", "yearly", "total")),
	mcp.WithNumber("limit", mcp.Description("Max raw samples when granularity is none. Defaults to 100.")),
)

var toolListMetricKinds = mcp.NewTool("list_metric_kinds",
	mcp.WithDescription("List all registered metric kinds."),
)

var toolGetImportLog = mcp.NewTool("get_import_log",
	mcp.WithDescription("Return recent import batches: receipt time, source, status, and stored-vs-received counts."),
	mcp.WithNumber("limit", mcp.Description("Max entries. Defaults to 50.")),
)

var toolGetDataStats = mcp.NewTool("get_data_stats",
	mcp.WithDescription("Return coverage statistics: total samples, distinct kinds, earliest/latest timestamps, import batch count."),
)

// --- Tool handlers ---

func (h *handlers) queryMetrics(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	kind, err := req.RequireString("kind")
	if err != nil {
		return mcp.NewToolResultError("kind parameter is required"), nil
	}

	start, end, err := defaultTimeRange(req.GetString("start", ""), req.GetString("end", ""))
	if err != nil {
		return mcp.NewToolResultError("invalid date format: " + err.Error()), nil
	}

	limit := req.GetInt("limit", 100)

	series, err := h.engine.Query(ctx, aggregate.Request{
		Kind:        kind,
		Start:       start,
		End:         end,
		Granularity: req.GetString("granularity", ""),
		Limit:       limit,
	})
	if err != nil {
		h.log.Error("mcp query_metrics", "kind", kind, "error", err)
		return mcp.NewToolResultError("query failed: " + err.Error()), nil
	}

	result, err := mcp.NewToolResultJSON(series)
	if err != nil {
		return mcp.NewToolResultError("encoding result: " + err.Error()), nil
	}
	return result, nil
}

func (h *handlers) listMetricKinds(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	result, err := mcp.NewToolResultJSON(metrics.Kinds())
	if err != nil {
		return mcp.NewToolResultError("encoding result: " + err.Error()), nil
	}
	return result, nil
}

func (h *handlers) getImportLog(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	batches, err := h.store.QueryImportBatches(ctx, req.GetInt("limit", 50))
	if err != nil {
		h.log.Error("mcp get_import_log", "error", err)
		return mcp.NewToolResultError("query failed: " + err.Error()), nil
	}

	result, err := mcp.NewToolResultJSON(batches)
	if err != nil {
		return mcp.NewToolResultError("encoding result: " + err.Error()), nil
	}
	return result, nil
}

func (h *handlers) getDataStats(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	stats, err := h.store.Stats(ctx)
	if err != nil {
		h.log.Error("mcp get_data_stats", "error", err)
		return mcp.NewToolResultError("query failed: " + err.Error()), nil
	}

	result, err := mcp.NewToolResultJSON(stats)
	if err != nil {
		return mcp.NewToolResultError("encoding result: " + err.Error()), nil
	}
	return result, nil
}
