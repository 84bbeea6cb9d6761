package main

import (
	"context"
	"flag"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/atanasmihaylov/certificate-transparency/internal/api"
	"github.com/atanasmihaylov/certificate-transparency/internal/certdb"
	"github.com/atanasmihaylov/certificate-transparency/internal/checks"
	"github.com/atanasmihaylov/certificate-transparency/internal/config"
	"github.com/atanasmihaylov/certificate-transparency/internal/ctlog"
	"github.com/atanasmihaylov/certificate-transparency/internal/db"
	"github.com/atanasmihaylov/certificate-transparency/internal/scan"
	"github.com/atanasmihaylov/certificate-transparency/internal/scheduler"
)

// Injected at build time via -ldflags; defaults to "dev".
var version = "dev"

func main() {
	configPath := flag.String("config", "config.yaml", "path to config file")
	flag.Parse()

	// ── Logging (initial — overridden below once config is loaded) ─────────
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	})))

	// ── Config ─────────────────────────────────────────────────────────────
	cfg, err := config.Load(*configPath)
	if err != nil {
		slog.Error("load config", "error", err)
		os.Exit(1)
	}

	// Re-configure logging with the level from config (default: info).
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: parseLogLevel(cfg.LogLevel),
	})))
	slog.Info("ctmon starting",
		"version", version,
		"log_level", cfg.LogLevel,
		"http_addr", cfg.HTTPAddr,
		"db_path", cfg.DBPath,
		"logs", len(cfg.Logs))

	// ── Database ───────────────────────────────────────────────────────────
	database, err := db.Open(cfg.DBPath)
	if err != nil {
		slog.Error("open database", "error", err)
		os.Exit(1)
	}
	defer database.Close()

	if err := db.RunMigrations(database); err != nil {
		slog.Error("run migrations", "error", err)
		os.Exit(1)
	}

	// Mark any scans that were 'running' when last process exited as failed.
	if err := scan.MarkStaleScansFailed(database); err != nil {
		slog.Warn("mark stale scans", "error", err)
	}

	// ── Checks ─────────────────────────────────────────────────────────────
	selected, err := checks.Select(cfg.Checks)
	if err != nil {
		slog.Error("select checks", "error", err)
		os.Exit(1)
	}

	// ── Scan manager ───────────────────────────────────────────────────────
	clients := make([]scan.LogClient, 0, len(cfg.Logs))
	for _, l := range cfg.Logs {
		clients = append(clients, ctlog.New(l.Name, l.URL, time.Duration(cfg.Fetch.TimeoutSeconds)*time.Second))
	}
	store := certdb.New(database)
	mgr := scan.NewManager(database, store, clients, selected, scan.Config{
		Workers:   cfg.Fetch.Workers,
		RangeSize: cfg.Fetch.RangeSize,
		QueueSize: cfg.QueueSize,
	})

	// ── Scheduler ──────────────────────────────────────────────────────────
	sched := scheduler.New()
	if !cfg.ScanPaused && cfg.Schedule != "" {
		if err := sched.SetScanJob(cfg.Schedule, func() {
			slog.Info("scheduled scan triggered")
			if _, err := mgr.Start(context.Background(), "schedule"); err != nil {
				slog.Warn("scheduled scan start", "error", err)
			}
		}); err != nil {
			slog.Warn("invalid cron expression", "expr", cfg.Schedule, "error", err)
		}
	}
	sched.Start()
	defer sched.Stop()

	// ── HTTP server ────────────────────────────────────────────────────────
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	srv := api.New(cfg.HTTPAddr, database, store, cfg, mgr, sched, version)
	if err := srv.Run(ctx); err != nil {
		slog.Error("server error", "error", err)
		os.Exit(1)
	}
	slog.Info("ctmon stopped")
}

// parseLogLevel converts a config string ("debug", "info", "warn", "error")
// to its slog.Level equivalent. Unknown values default to Info.
func parseLogLevel(s string) slog.Level {
	switch strings.ToLower(s) {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
