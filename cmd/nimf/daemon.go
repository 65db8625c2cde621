package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"time"

	"nimf/internal/config"
	"nimf/internal/dbusctl"
	"nimf/internal/engine"
	"nimf/internal/health"
	"nimf/internal/ic"
	"nimf/internal/ipc"
	"nimf/internal/logging"
	"nimf/internal/metrics"
	"nimf/internal/reactor"
	"nimf/internal/store"
	"nimf/internal/xim"

	_ "nimf/internal/engines/romaji"
	_ "nimf/internal/engines/systemkeyboard"
)

const (
	reactorQueue   = 1024
	crashRetention = 30 * 24 * time.Hour
	slowReactor    = 100 * time.Millisecond
	settingsPoll   = 2 * time.Second
)

// daemon holds everything the server wires together. Sources run under
// reactor.Serve; the rest is reached only from reactor tasks.
type daemon struct {
	logger *logging.Logger
	crash  *logging.CrashReporter
	loader *config.Loader
	debug  bool

	store    *store.Store
	settings *store.Settings
	registry *engine.Registry
	hub      *ic.Hub
	loop     *reactor.Loop
	metrics  *metrics.Metrics
	health   *health.Checker

	sources []reactor.Source
}

func newDaemon(configPath string, debug bool) (*daemon, error) {
	loader := config.NewLoader(configPath, slog.Default())
	cfg, err := loader.Load()
	if err != nil {
		return nil, fmt.Errorf("load config %s: %w", loader.Path(), err)
	}

	if err := cfg.EnsureDirectories(); err != nil {
		slog.Warn("create directories", "error", err)
	}

	logCfg, err := logging.FromConfig(cfg.Logging)
	if err != nil {
		return nil, fmt.Errorf("logging config: %w", err)
	}
	if debug {
		logCfg.Level = logging.LevelDebug
	}
	logger, err := logging.New(logCfg)
	if err != nil {
		return nil, err
	}
	logging.SetDefault(logger)

	d := &daemon{logger: logger, loader: loader, debug: debug}
	if d.crash, err = logging.NewCrashReporter(logging.DefaultCrashDir(), "nimf", version, logger); err != nil {
		logger.Warn("crash reports disabled", "error", err)
	}

	if d.store, err = store.Open(cfg.Settings.Database); err != nil {
		logger.Warn("settings database unavailable, using file settings only", "path", cfg.Settings.Database, "error", err)
		d.store = nil
	}
	d.settings = store.NewSettings(d.store, cfg, logger.WithComponent("settings").Logger)

	engLog := logger.WithComponent("engine").Logger
	d.registry = engine.NewRegistry(d.settings, engLog)
	if err := d.registry.Load(engineIDs(cfg), d.settings); err != nil {
		logger.Warn("some engines failed to load", "error", err)
	}
	if d.registry.Len() == 0 {
		d.close()
		return nil, fmt.Errorf("no engine could be loaded")
	}
	if _, err := d.registry.Default(); err != nil {
		logger.Warn("no default engine", "error", err)
	}

	d.loop = reactor.New(reactorQueue, logger.WithComponent("reactor").Logger)
	if d.crash != nil {
		d.loop.OnPanic(func(value any, stack []byte) {
			if _, err := d.crash.Report(value, stack); err != nil {
				logger.Error("write crash report", "error", err)
			}
		})
	}

	d.hub = ic.NewHub(d.registry, logger.WithComponent("hub").Logger)
	d.metrics = metrics.New()
	d.health = health.NewChecker()
	d.apply(cfg)

	if err := d.setupSources(cfg); err != nil {
		d.close()
		return nil, err
	}
	loader.OnChange(d.reload)
	return d, nil
}

// setupSources builds the socket server, the optional bridges and the
// metrics endpoint. Only a failure to bind the socket is fatal.
func (d *daemon) setupSources(cfg *config.Config) error {
	observers := ic.Observers{d.metrics}

	srv := ipc.NewServer(ipc.ServerConfig{
		Address:         cfg.Server.Address,
		WriteTimeout:    time.Duration(cfg.IPC.WriteTimeoutMs) * time.Millisecond,
		MaxConnections:  cfg.IPC.MaxConnections,
		AllowOtherUsers: cfg.IPC.AllowOtherUsers,
	}, d.hub, d.loop, d.logger.WithComponent("ipc").Logger, d.metrics)
	if err := srv.Listen(); err != nil {
		return err
	}
	d.sources = append(d.sources, srv, d.optional(d.loader, "config"))
	d.registerChecks(srv)

	if cfg.Server.XIM {
		ximLog := d.logger.WithComponent("xim").Logger
		bridge := xim.NewBridge(d.hub, ximLog, d.metrics)
		x, err := xim.Open(xim.Options{Display: cfg.Server.XIMDisplay}, bridge, ximLog)
		switch {
		case errors.Is(err, xim.ErrBridgeUnavailable):
			d.logger.Warn("running without XIM", "error", err)
			d.health.RegisterFunc("xim", false, health.Static(health.StatusDegraded, err.Error()))
		case err != nil:
			return err
		default:
			d.sources = append(d.sources, d.optional(x, "xim"))
			d.health.RegisterFunc("xim", false, health.Static(health.StatusHealthy, "serving "+xim.DefaultOptions().Name))
		}
	}

	if cfg.DBus.Enabled {
		svc, err := dbusctl.Open(d.hub, d.logger.WithComponent("dbus").Logger)
		if err != nil {
			d.logger.Warn("running without session bus", "error", err)
			d.health.RegisterFunc("dbus", false, health.Static(health.StatusDegraded, err.Error()))
		} else {
			observers = append(observers, svc)
			d.sources = append(d.sources, d.optional(svc, "dbus"))
			d.health.RegisterFunc("dbus", false, health.Static(health.StatusHealthy, "owns "+dbusctl.BusName))
		}
	}

	if cfg.Metrics.Enabled {
		ms := metrics.NewServer(cfg.Metrics.Address, d.metrics, d.logger.WithComponent("metrics").Logger)
		ms.Mount(d.health.Routes)
		if err := ms.Listen(); err != nil {
			d.logger.Warn("running without metrics endpoint", "error", err)
		} else {
			d.sources = append(d.sources, d.optional(ms, "metrics"))
		}
	}

	if d.store != nil {
		d.sources = append(d.sources, d.settingsRefresher())
	}

	if d.crash != nil {
		d.sources = append(d.sources, reactor.Every("crash-cleanup", 24*time.Hour, func() {
			if err := d.crash.Cleanup(crashRetention); err != nil {
				d.logger.Warn("clean crash reports", "error", err)
			}
		}))
	}

	d.hub.SetObserver(observers)
	return nil
}

// optional wraps a source that may fail without taking the socket server
// down. The failure is logged and its health entry marked degraded.
func (d *daemon) optional(src reactor.Source, component string) reactor.Source {
	return reactor.Optional(src, func(name string, err error) {
		d.logger.Warn("component stopped, server keeps running", "component", name, "error", err)
		d.health.RegisterFunc(component, false, health.Static(health.StatusDegraded, err.Error()))
	})
}

// settingsRefresher re-reads the stored default engine off the reactor, so
// a change made with nimfctl reaches new contexts without a restart.
func (d *daemon) settingsRefresher() reactor.Source {
	return reactor.SourceFunc{
		SourceName: "settings-refresh",
		Fn: func(ctx context.Context, _ *reactor.Loop) error {
			ticker := time.NewTicker(settingsPoll)
			defer ticker.Stop()
			for {
				select {
				case <-ctx.Done():
					return nil
				case <-ticker.C:
					if err := d.settings.Refresh(); err != nil {
						d.logger.Warn("refresh settings", "error", err)
					}
				}
			}
		},
	}
}

// registerChecks adds the components every server has. The bridges register
// their own entries once it is known whether they came up.
func (d *daemon) registerChecks(srv *ipc.Server) {
	d.health.RegisterFunc("reactor", true, health.ReactorCheck(d.loop, slowReactor))
	d.health.RegisterFunc("engines", true, health.OnLoop(d.loop, func() health.CheckResult {
		ids := d.registry.IDs()
		if len(ids) == 0 {
			return health.CheckResult{Status: health.StatusUnhealthy, Message: "no engine loaded"}
		}
		return health.CheckResult{Status: health.StatusHealthy, Details: map[string]any{"loaded": ids}}
	}))
	d.health.RegisterFunc("ipc", true, func(context.Context) health.CheckResult {
		return health.CheckResult{
			Status:  health.StatusHealthy,
			Details: map[string]any{"connections": srv.ConnectionCount()},
		}
	})
	if d.store != nil {
		d.health.RegisterFunc("settings", false, health.Func(d.store.Ping))
	} else {
		d.health.RegisterFunc("settings", false, health.Static(health.StatusDegraded, "file settings only"))
	}
}

// engineIDs returns the active engines plus the built-in fallback, which the
// default engine lookup relies on.
func engineIDs(cfg *config.Config) []string {
	ids := cfg.ActiveEngines()
	if !slices.Contains(ids, store.BuiltinDefaultEngine) {
		ids = append(ids, store.BuiltinDefaultEngine)
	}
	return ids
}

func (d *daemon) run(ctx context.Context) error {
	if d.crash != nil {
		defer d.crash.Recover()
	}
	d.logger.Info("nimf started", "version", version, "engines", d.registry.IDs())
	d.loop.Post(func() { d.health.SetReady(true) })
	err := reactor.Serve(ctx, d.loop, d.sources...)
	d.logger.Info("nimf stopped")
	return err
}

// apply pushes the hot-reloadable parts of cfg into the running server.
func (d *daemon) apply(cfg *config.Config) {
	d.registry.SetTriggerKeys(cfg.TriggerKeys())
	d.registry.SetHotkeys(cfg.Server.Hotkeys)
	d.hub.SetSingleton(cfg.Server.UseSingleton)
	d.settings.SetConfig(cfg)

	if !d.debug {
		if level, err := logging.ParseLevel(cfg.Logging.Level); err == nil {
			d.logger.SetLevel(level)
		}
	}
}

// reload runs on the reactor for every successfully reloaded config.
func (d *daemon) reload(cfg *config.Config) {
	d.apply(cfg)
	if want := engineIDs(cfg); !slices.Equal(want, d.registry.IDs()) {
		d.logger.Warn("active engine list changed, restart to apply", "loaded", d.registry.IDs(), "configured", want)
	}
	d.logger.Info("configuration reloaded", "path", d.loader.Path())
}

func (d *daemon) close() {
	if d.store != nil {
		if err := d.store.Close(); err != nil {
			d.logger.Warn("close settings database", "error", err)
		}
	}
	if err := d.logger.Close(); err != nil {
		fmt.Printf("nimf: close log: %v\n", err)
	}
}
