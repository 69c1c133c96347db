// Package mcp exposes the aggregation engine to MCP clients.
package mcp

import (
	"log/slog"

	"github.com/mark3labs/mcp-go/server"

	"github.com/meltforce/vitals/internal/aggregate"
	"github.com/meltforce/vitals/internal/storage"
)

// New creates an MCP server with all tools registered.
func New(engine *aggregate.Engine, store storage.Store, version string, log *slog.Logger) *server.MCPServer {
	s := server.NewMCPServer("vitals", version,
		server.WithToolCapabilities(false),
		server.WithInstructions("Biometric time-series server. Query aggregated health metrics at daily/weekly/monthly/yearly/total granularity, list metric kinds, and inspect import history."),
	)

	h := &handlers{engine: engine, store: store, log: log}

	s.AddTools(
		server.ServerTool{Tool: toolQueryMetrics, Handler: h.queryMetrics},
		server.ServerTool{Tool: toolListMetricKinds, Handler: h.listMetricKinds},
		server.ServerTool{Tool: toolGetImportLog, Handler: h.getImportLog},
		server.ServerTool{Tool: toolGetDataStats, Handler: h.getDataStats},
	)

	return s
}

// handlers holds dependencies for MCP tool handlers.
type handlers struct {
	engine *aggregate.Engine
	store  storage.Store
	log    *slog.Logger
}
