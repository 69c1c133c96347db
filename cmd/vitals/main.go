package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	mcpserver "github.com/mark3labs/mcp-go/server"
	"tailscale.com/tsnet"

	"github.com/meltforce/vitals/internal/aggregate"
	"github.com/meltforce/vitals/internal/config"
	"github.com/meltforce/vitals/internal/ingest"
	"github.com/meltforce/vitals/internal/mcp"
	"github.com/meltforce/vitals/internal/server"
	"github.com/meltforce/vitals/internal/storage"
)

// Version is set at build time via -ldflags.
var Version = "dev"

func main() {
	configPath := flag.String("config", "config.yaml", "path to config file")
	migrateOnly := flag.Bool("migrate-only", false, "run migrations and exit")
	mcpStdio := flag.Bool("mcp", false, "serve MCP over stdio instead of HTTP")
	flag.Parse()

	log := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelInfo}))
	log.Info("vitals starting", "version", Version)

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	ctx := context.Background()
	store, err := openStore(ctx, cfg, *migrateOnly, log)
	if err != nil {
		log.Error("failed to open store", "error", err)
		os.Exit(1)
	}
	if store == nil {
		return // migrate-only
	}
	defer store.Close()
	log.Info("store ready", "driver", cfg.Database.Driver)

	provider := ingest.NewProvider(store, storage.ConflictPolicy(cfg.Ingest.ConflictPolicy), log)
	engine := aggregate.NewEngine(store, log)

	if *mcpStdio {
		mcpSrv := mcp.New(engine, store, Version, log)
		if err := mcpserver.ServeStdio(mcpSrv); err != nil {
			log.Error("mcp server error", "error", err)
			os.Exit(1)
		}
		return
	}

	srv := server.New(store, provider, engine, cfg.Auth.APIKey, log)

	var listener net.Listener

	if cfg.Tailscale.Enabled {
		tsServer := &tsnet.Server{
			Hostname: cfg.Tailscale.Hostname,
			Dir:      cfg.Tailscale.StateDir,
		}
		if err := tsServer.Start(); err != nil {
			log.Error("tsnet start failed", "error", err)
			os.Exit(1)
		}
		defer tsServer.Close()

		listener, err = tsServer.Listen("tcp", ":80")
		if err != nil {
			log.Error("tsnet listen failed", "error", err)
			os.Exit(1)
		}
		log.Info("tsnet server starting", "hostname", cfg.Tailscale.Hostname)
	} else {
		addr := fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port)
		listener, err = net.Listen("tcp", addr)
		if err != nil {
			log.Error("listen failed", "addr", addr, "error", err)
			os.Exit(1)
		}
		log.Info("server starting", "addr", addr, "mode", "plain http")
	}

	httpSrv := &http.Server{Handler: srv}

	go func() {
		if err := httpSrv.Serve(listener); err != nil && err != http.ErrServerClosed {
			log.Error("server error", "error", err)
			os.Exit(1)
		}
	}()

	// Graceful shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	sig := <-quit
	log.Info("shutting down", "signal", sig)

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := httpSrv.Shutdown(shutdownCtx); err != nil {
		log.Error("shutdown error", "error", err)
	}
	log.Info("server stopped")
}

// openStore connects the configured backend. Returns (nil, nil) when
// migrateOnly completed and the process should exit.
func openStore(ctx context.Context, cfg *config.Config, migrateOnly bool, log *slog.Logger) (storage.Store, error) {
	switch cfg.Database.Driver {
	case "postgres":
		dsn := cfg.Database.Postgres.DSN()
		if err := storage.RunMigrations(dsn, "migrations"); err != nil {
			return nil, fmt.Errorf("running migrations: %w", err)
		}
		log.Info("migrations applied")
		if migrateOnly {
			log.Info("migrate-only: exiting")
			return nil, nil
		}
		return storage.NewPostgres(ctx, dsn)
	case "sqlite":
		// Schema is applied on open; migrate-only is a no-op beyond that.
		db, err := storage.OpenSQLite(cfg.Database.SQLite.Path)
		if err != nil {
			return nil, err
		}
		if migrateOnly {
			db.Close()
			log.Info("migrate-only: exiting")
			return nil, nil
		}
		return db, nil
	}
	return nil, fmt.Errorf("unknown database driver %q", cfg.Database.Driver)
}
