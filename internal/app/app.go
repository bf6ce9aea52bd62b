package app

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/coreos/go-systemd/v22/daemon"

	"snapsched/internal/config"
	"snapsched/internal/registry"
	"snapsched/internal/runtime/supervisor"
	"snapsched/internal/schedclient"
	"snapsched/internal/schedule"
	"snapsched/internal/server"
	"snapsched/pkg/logx"
)

type App struct {
	cfgPath string

	cfgm *config.ConfigManager
	sup  *supervisor.Supervisor

	log  logx.Logger
	logs *logx.Service

	store   registry.Store
	jobs    *schedclient.Client
	metrics *server.Metrics
	http    *server.Service

	shutdownTimeout time.Duration
}

// NewApp loads the config and builds every component. Nothing is started.
func NewApp(cfgPath string) (*App, error) {
	cfgm := config.NewConfigManager(cfgPath)
	cfg, err := cfgm.Load()
	if err != nil {
		return nil, err
	}

	logSvc, log := logx.New(mapLogConfig(cfg))
	appLog := log.With(logx.String("comp", "app"))

	rc, err := mapRegistryConfig(cfg)
	if err != nil {
		return nil, err
	}
	store, err := registry.Open(rc, log.With(logx.String("comp", "registry")))
	if err != nil {
		return nil, fmt.Errorf("open registry: %w", err)
	}
	appLog.Info("registry opened", logx.String("driver", rc.Driver), logx.String("path", rc.Path))

	var metrics *server.Metrics
	if cfg.Metrics.Enabled {
		metrics = server.NewMetrics()
	}

	cc, err := mapSchedClientConfig(cfg, metrics.ObserveUpstream)
	if err != nil {
		_ = store.Close()
		return nil, err
	}
	jobs, err := schedclient.New(cc, log)
	if err != nil {
		_ = store.Close()
		return nil, err
	}

	sc, shutdown, err := mapServerConfig(cfg)
	if err != nil {
		_ = store.Close()
		return nil, err
	}

	a := &App{
		cfgPath:         cfgPath,
		cfgm:            cfgm,
		log:             appLog,
		logs:            logSvc,
		store:           store,
		jobs:            jobs,
		metrics:         metrics,
		shutdownTimeout: shutdown,
	}

	rec := schedule.NewReconciler(jobs, store, mapReconcilerOptions(cfg, log))
	flt := schedule.NewFilter(store, jobs, log)
	handler := server.NewRouter(server.Deps{
		Registry:    store,
		Reconciler:  rec,
		Filter:      flt,
		Metrics:     metrics,
		MetricsPath: cfg.Metrics.Path,
		Health:      a.health,
		Log:         log,
	})
	a.http = server.New(sc, handler, log)

	appLog.Info("scheduler service configured",
		logx.String("base_url", jobs.BaseURL()),
		logx.Int("max_retention", rec.MaxRetention()),
		logx.String("trigger_on_update", cfg.Schedule.TriggerOnUpdate),
		logx.String("delete_policy", cfg.Schedule.DeletePolicy),
	)
	return a, nil
}

// Done is closed when the app supervisor context is canceled (fatal error or Stop()).
func (a *App) Done() <-chan struct{} {
	if a.sup == nil {
		ch := make(chan struct{})
		close(ch)
		return ch
	}
	return a.sup.Context().Done()
}

// Err returns the first fatal error observed by the supervisor (if any).
func (a *App) Err() error {
	if a.sup == nil {
		return nil
	}
	return a.sup.Err()
}

// Addr returns the bound HTTP address.
func (a *App) Addr() string { return a.http.Addr() }

func (a *App) health() any {
	out := map[string]supervisor.Snapshot{}
	if a.sup != nil {
		out["app"] = a.sup.Snapshot()
	}
	if sup := a.http.Supervisor(); sup != nil {
		out["http"] = sup.Snapshot()
	}
	return out
}

func (a *App) Start(ctx context.Context) error {
	a.sup = supervisor.New(ctx, supervisor.WithLogger(a.log), supervisor.WithCancelOnError(true))

	a.cfgm.SetLogger(a.log.With(logx.String("comp", "config")))
	// Reject reloads that would fail on the next restart.
	a.cfgm.SetValidator(func(_ context.Context, cfg *config.Config) error {
		if _, err := mapRegistryConfig(cfg); err != nil {
			return err
		}
		if _, err := mapSchedClientConfig(cfg, nil); err != nil {
			return err
		}
		_, _, err := mapServerConfig(cfg)
		return err
	})

	if err := a.http.Start(a.sup.Context()); err != nil {
		a.sup.Cancel()
		return fmt.Errorf("http listen: %w", err)
	}

	sub := a.cfgm.Subscribe(8)
	a.sup.Go("config.reload", func(c context.Context) error {
		defer a.cfgm.Unsubscribe(sub)
		lastApplied := a.cfgm.Get()
		for {
			select {
			case <-c.Done():
				return nil
			case newCfg, ok := <-sub:
				if !ok {
					return nil
				}
				a.applyConfig(lastApplied, newCfg)
				lastApplied = newCfg
			}
		}
	})

	a.sup.Go("config.watch", func(c context.Context) error {
		return a.cfgm.Watch(c)
	})
	a.sup.Go("systemd.watchdog", func(c context.Context) error {
		return watchdogLoop(c, a.log)
	})

	sdNotify(a.log, daemon.SdNotifyReady)
	a.log.Info("app started", logx.String("addr", a.http.Addr()))
	return nil
}

// applyConfig applies the live-reloadable part of a new config (logging)
// and reports sections that need a restart.
func (a *App) applyConfig(prev, next *config.Config) {
	sections, attrs, restart := config.SummarizeConfigChange(prev, next)
	if len(sections) == 0 {
		a.log.Info("config reloaded (no changes)")
		return
	}

	a.logs.Apply(mapLogConfig(next))

	fields := append([]logx.Field{logx.String("changed", strings.Join(sections, ","))}, attrs...)
	a.log.Info("config reloaded", fields...)
	if len(restart) > 0 {
		a.log.Warn("config sections changed; restart required for changes to take effect",
			logx.String("sections", strings.Join(restart, ",")))
	}
}

func (a *App) Stop(ctx context.Context, reason StopReason) error {
	if a.sup == nil {
		return nil
	}
	a.log.Info("stopping", logx.String("reason", string(reason)))
	sdNotify(a.log, daemon.SdNotifyStopping)

	// http drains in-flight requests before the app context is canceled.
	a.step(ctx, "http", a.shutdownTimeout, func(c context.Context) error { a.http.Stop(c); return nil })

	a.step(ctx, "supervisor", 2*time.Second, a.sup.Stop)
	a.step(ctx, "registry", time.Second, func(context.Context) error { return a.store.Close() })

	a.log.Info("stopped")
	if a.logs != nil {
		_ = a.logs.Close()
	}
	return nil
}

// step runs one shutdown step bounded by max and by the caller's deadline,
// so one component cannot stall the whole stop.
func (a *App) step(ctx context.Context, name string, max time.Duration, fn func(context.Context) error) {
	start := time.Now()
	if dl, ok := ctx.Deadline(); ok {
		max = min(max, time.Until(dl))
	}
	// With no time left fn still runs, on an expired context.
	stepCtx, cancel := context.WithTimeout(ctx, max)
	defer cancel()

	done := make(chan error, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				done <- fmt.Errorf("panic in stop step %s: %v", name, r)
			}
		}()
		done <- fn(stepCtx)
	}()

	select {
	case err := <-done:
		if err != nil {
			a.log.Warn("stop step error", logx.String("name", name), logx.Err(err))
		}
		a.log.Debug("stop step end", logx.String("name", name), logx.Duration("took", time.Since(start)))
	case <-stepCtx.Done():
		a.log.Warn("stop step deadline reached (continuing)",
			logx.String("name", name),
			logx.Duration("elapsed", time.Since(start)),
		)
	}
}
