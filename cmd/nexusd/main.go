// Command nexusd is the per-node scheduler daemon: it loads
// configuration, opens the shared store, wires the GPU inventory,
// runner, notification and tracker hooks, then serves the HTTP API
// while the scheduler and GC run in the background. Wiring follows
// ClusterCockpit-cc-backend's cmd/cc-backend/main.go: flag-parsed
// config path, a single http.Server, and signal-driven graceful
// shutdown.
package main

import (
	"context"
	"database/sql"
	"flag"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/uptrace/bun"
	"github.com/uptrace/bun/dialect/pgdialect"
	"github.com/uptrace/bun/dialect/sqlitedialect"

	_ "github.com/jackc/pgx/v5/stdlib"
	_ "modernc.org/sqlite"

	"github.com/nexuscluster/nexus/api"
	"github.com/nexuscluster/nexus/config"
	"github.com/nexuscluster/nexus/gc"
	"github.com/nexuscluster/nexus/gpuinfo"
	"github.com/nexuscluster/nexus/metrics"
	"github.com/nexuscluster/nexus/notify"
	"github.com/nexuscluster/nexus/runner"
	"github.com/nexuscluster/nexus/scheduler"
	"github.com/nexuscluster/nexus/session"
	sqlstore "github.com/nexuscluster/nexus/store/sql"
	"github.com/nexuscluster/nexus/tracker"
)

const (
	shutdownTimeout = 15 * time.Second
	gcInterval      = 10 * time.Minute
	terminalJobTTL  = 7 * 24 * time.Hour
)

func main() {
	var configPath string
	flag.StringVar(&configPath, "config", "./nexusd.toml", "path to the daemon's TOML configuration file")
	flag.Parse()

	if err := run(configPath); err != nil {
		slog.Error("nexusd exited with error", "error", err)
		os.Exit(1)
	}
}

func run(configPath string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	log := newLogger(cfg.LogLevel)
	slog.SetDefault(log)

	db, err := openDB(cfg.StoreEndpoint)
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}
	defer db.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	if err := sqlstore.InitSchema(ctx, db); err != nil {
		cancel()
		return fmt.Errorf("init schema: %w", err)
	}
	cancel()

	store := sqlstore.New(db)

	var gpus gpuinfo.Source
	if cfg.MockGPUs {
		gpus = gpuinfo.Mock{}
	} else {
		gpus = &gpuinfo.Real{Log: log.With("component", "gpuinfo")}
	}

	jobRunner := &runner.Runner{
		Sessions:  session.Screen{Log: log.With("component", "session")},
		Artifacts: store,
		Log:       log.With("component", "runner"),
	}

	notifier := &notify.WebhookSender{Log: log.With("component", "notify")}
	wandbFinder := &tracker.WandbFinder{Log: log.With("component", "tracker")}

	sched := &scheduler.Scheduler{
		Store:    store,
		Runner:   jobRunner,
		GPUs:     gpus,
		Notifier: notifier,
		Tracker:  wandbFinder,
		Node:     cfg.NodeName,
		Interval: time.Duration(cfg.RefreshRate) * time.Second,
		MockGPUs: cfg.MockGPUs,
		Log:      log.With("component", "scheduler"),
	}

	registry := prometheus.NewRegistry()
	collector := metrics.NewCollector(registry, store, gpus, cfg.NodeName)

	logFile := ""
	if dir := os.Getenv("NEXUS_LOG_DIR"); dir != "" {
		logFile = dir + "/nexusd.log"
	}

	server := &api.Server{
		Store:     store,
		Runner:    jobRunner,
		GPUs:      gpus,
		Notifier:  notifier,
		Tracker:   wandbFinder,
		Metrics:   collector,
		Node:      cfg.NodeName,
		Version:   "dev",
		APIKey:    cfg.APIKey,
		LogFile:   logFile,
		StartedAt: time.Now(),
		Log:       log.With("component", "api"),
	}

	sweeper := &gc.GC{
		Store: store,
		Config: gc.Config{
			Interval:       gcInterval,
			TerminalJobTTL: terminalJobTTL,
		},
		Log: log.With("component", "gc"),
	}

	appCtx, stopSignals := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stopSignals()

	if err := sched.Start(appCtx); err != nil {
		return fmt.Errorf("start scheduler: %w", err)
	}
	if err := sweeper.Start(); err != nil {
		return fmt.Errorf("start gc: %w", err)
	}

	httpServer := &http.Server{
		Addr:         net.JoinHostPort(cfg.Host, fmt.Sprintf("%d", cfg.Port)),
		Handler:      server.Router(),
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Info("nexusd listening", "addr", httpServer.Addr, "node", cfg.NodeName)
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	select {
	case <-appCtx.Done():
		log.Info("shutting down")
	case err := <-errCh:
		return fmt.Errorf("http server: %w", err)
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer shutdownCancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		log.Warn("http server shutdown error", "error", err)
	}
	if err := sched.Stop(shutdownTimeout); err != nil {
		log.Warn("scheduler shutdown error", "error", err)
	}
	if err := sweeper.Stop(); err != nil {
		log.Warn("gc shutdown error", "error", err)
	}

	return nil
}

func newLogger(level config.LogLevel) *slog.Logger {
	var slogLevel slog.Level
	switch level {
	case config.LogDebug:
		slogLevel = slog.LevelDebug
	case config.LogWarning:
		slogLevel = slog.LevelWarn
	case config.LogError:
		slogLevel = slog.LevelError
	default:
		slogLevel = slog.LevelInfo
	}
	return slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: slogLevel}))
}

// openDB dials either PostgreSQL (store_endpoint starting with
// "postgres://") or an embedded SQLite file, per spec §6 ("the SQL
// store's location is external").
func openDB(endpoint string) (*bun.DB, error) {
	if strings.HasPrefix(endpoint, "postgres://") || strings.HasPrefix(endpoint, "postgresql://") {
		sqldb, err := sql.Open("pgx", endpoint)
		if err != nil {
			return nil, err
		}
		return bun.NewDB(sqldb, pgdialect.New()), nil
	}
	sqldb, err := sql.Open("sqlite", sqliteDSN(endpoint))
	if err != nil {
		return nil, err
	}
	sqldb.SetMaxOpenConns(1) // important for sqlite: avoid "database is locked" under concurrent writers
	return bun.NewDB(sqldb, sqlitedialect.New()), nil
}

// sqliteDSN appends the WAL/busy-timeout pragmas the scheduler and API
// goroutines both need to write to the same SQLite file concurrently,
// mirroring gqs's sql test harness exactly.
func sqliteDSN(endpoint string) string {
	sep := "?"
	if strings.Contains(endpoint, "?") {
		sep = "&"
	}
	return endpoint + sep + "_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)"
}
