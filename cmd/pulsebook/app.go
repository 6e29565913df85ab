package main

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"time"

	"github.com/pulsebook/pulsebook/internal/config"
	"github.com/pulsebook/pulsebook/internal/localdb"
	"github.com/pulsebook/pulsebook/internal/pulse"
	"github.com/pulsebook/pulsebook/internal/records"
	"github.com/pulsebook/pulsebook/internal/remotedb"
	syncp "github.com/pulsebook/pulsebook/internal/sync"
	"github.com/pulsebook/pulsebook/internal/telemetry"
)

type globalFlags struct {
	configPath string
	verbose    bool
}

// app holds the wired components shared by the subcommands.
type app struct {
	cfg       *config.Config
	cfgSource string
	log       *slog.Logger

	dbPath string
	local  *localdb.Store
	remote *remotedb.Store

	engine   *syncp.Engine
	records  *records.Service
	searcher *pulse.Searcher

	closers []func()
}

// openApp loads the configuration and wires every component. withTelemetry
// enables OTLP export for long-running commands.
func openApp(ctx context.Context, flags *globalFlags, withTelemetry bool) (*app, error) {
	a := &app{}

	// --- Logger --------------------------------------------------------------

	logLevel := slog.LevelInfo
	if flags.verbose {
		logLevel = slog.LevelDebug
	}
	console := slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: logLevel})
	a.log = slog.New(telemetry.NewHandler(console, nil))
	slog.SetDefault(a.log)

	// --- Config --------------------------------------------------------------

	cfg, source, err := loadConfig(flags.configPath)
	if err != nil {
		return nil, err
	}
	a.cfg, a.cfgSource = cfg, source
	a.log.Debug("config loaded",
		"source", source,
		"remote", cfg.RemoteEnabled(),
		"sync_interval", cfg.Sync.Interval,
	)

	// --- Telemetry (optional) ------------------------------------------------

	if withTelemetry && cfg.Telemetry != nil {
		shutdownTel, err := telemetry.Setup(ctx, cfg.Telemetry, version)
		if err != nil {
			a.log.Error("telemetry setup failed, continuing without telemetry", "error", err)
		} else {
			a.log.Info("telemetry enabled", "endpoint", cfg.Telemetry.OTLPEndpoint)
			a.closers = append(a.closers, func() {
				flushCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
				defer cancel()
				if err := shutdownTel(flushCtx); err != nil {
					a.log.Error("telemetry shutdown error", "error", err)
				}
			})
		}
	}

	// --- Local DB ------------------------------------------------------------

	a.dbPath = cfg.LocalDBPath
	if a.dbPath == "" {
		if a.dbPath, err = localdb.DefaultDBPath(); err != nil {
			a.Close()
			return nil, fmt.Errorf("resolving local DB path: %w", err)
		}
	}
	a.local, err = localdb.Open(a.dbPath)
	if err != nil {
		a.Close()
		return nil, fmt.Errorf("opening local DB at %q: %w", a.dbPath, err)
	}
	a.closers = append(a.closers, func() {
		if err := a.local.Close(); err != nil {
			a.log.Error("closing local DB", "error", err)
		}
	})
	a.log.Debug("local DB opened", "path", a.dbPath)

	// --- Remote DB (optional) ------------------------------------------------

	// The reconciler must see an untyped nil when no remote is configured.
	var remote syncp.RemoteStore
	if cfg.RemoteEnabled() {
		r := cfg.Remote
		pool, err := remotedb.NewPool(ctx, remotedb.Options{
			URL:              r.URL,
			MaxConns:         r.MaxConns,
			MinConns:         r.MinConns,
			ConnectTimeout:   r.ConnectTimeout,
			StatementTimeout: r.StatementTimeout,
		})
		if err != nil {
			a.Close()
			return nil, err
		}
		a.remote = remotedb.NewStore(pool, r.PingAttempts)
		a.closers = append(a.closers, a.remote.Close)
		remote = a.remote
	} else {
		a.log.Info("no remote configured, running local-only")
	}

	// --- Sync engine ---------------------------------------------------------

	reconciler := syncp.NewReconciler(a.local, remote, syncp.Options{
		MaxAttempts:   cfg.Sync.MaxAttempts,
		RecordTimeout: cfg.Sync.RecordTimeout,
		DetailsLimit:  cfg.Sync.DetailsLimit,
	}, a.log)
	a.engine = syncp.NewEngine(reconciler, a.local, cfg.Sync.Interval, a.log)

	// --- Records and search --------------------------------------------------

	a.records = records.NewService(a.local, a.log)
	a.searcher = pulse.NewSearcher(a.local, nil, pulse.Options{
		CandidateLimit: cfg.Search.CandidateLimit,
		Threshold:      cfg.Search.Threshold,
		ModelThreshold: cfg.Search.ModelThreshold,
	}, a.log)

	return a, nil
}

// Close releases resources in reverse order of acquisition.
func (a *app) Close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		a.closers[i]()
	}
	a.closers = nil
}

// loadConfig reads path, or the default path when empty. A missing default
// file selects the built-in defaults; a missing explicit file is an error.
func loadConfig(path string) (*config.Config, string, error) {
	explicit := path != ""
	if !explicit {
		var err error
		if path, err = config.DefaultPath(); err != nil {
			return nil, "", err
		}
	}
	cfg, err := config.Load(path)
	switch {
	case err == nil:
		return cfg, path, nil
	case !explicit && errors.Is(err, fs.ErrNotExist):
		return config.Default(), "built-in defaults", nil
	default:
		return nil, "", fmt.Errorf("loading config from %q: %w", path, err)
	}
}
