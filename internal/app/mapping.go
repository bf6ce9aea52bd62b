package app

import (
	"strings"
	"time"

	"snapsched/internal/config"
	"snapsched/internal/registry"
	"snapsched/internal/schedclient"
	"snapsched/internal/schedule"
	"snapsched/internal/server"
	"snapsched/pkg/logx"
)

const (
	defaultSchedulerTimeout = 10 * time.Second
	defaultBusyTimeout      = 5 * time.Second
	defaultShutdownTimeout  = 10 * time.Second
)

func mapLogConfig(cfg *config.Config) logx.Config {
	return logx.Config{
		Level:   cfg.Logging.Level,
		Console: cfg.Logging.Console,
		JSON:    cfg.Logging.JSON,
		File: logx.FileConfig{
			Enabled: cfg.Logging.File.Enabled,
			Path:    cfg.Logging.File.Path,
		},
	}
}

func mapRegistryConfig(cfg *config.Config) (registry.Config, error) {
	rc := cfg.Registry
	busy, err := config.ParseDurationOrDefault("registry.busy_timeout", rc.BusyTimeout, defaultBusyTimeout)
	if err != nil {
		return registry.Config{}, err
	}
	return registry.Config{
		Driver:      strings.ToLower(strings.TrimSpace(rc.Driver)),
		Path:        strings.TrimSpace(rc.Path),
		BusyTimeout: busy,
	}, nil
}

func mapSchedClientConfig(cfg *config.Config, observe func(string, int, time.Duration)) (schedclient.Config, error) {
	ss := cfg.SchedulerService
	// An explicit "0s" disables the per-request timeout.
	timeout := defaultSchedulerTimeout
	if strings.TrimSpace(ss.Timeout) != "" {
		d, err := config.ParseDurationField("scheduler_service.timeout", ss.Timeout)
		if err != nil {
			return schedclient.Config{}, err
		}
		timeout = d
	}
	return schedclient.Config{
		Scheme:     ss.Scheme,
		Host:       ss.Host,
		Port:       ss.Port,
		Timeout:    timeout,
		RatePerSec: ss.RatePerSec,
		Burst:      ss.Burst,
		Observe:    observe,
	}, nil
}

func mapReconcilerOptions(cfg *config.Config, log logx.Logger) schedule.Options {
	return schedule.Options{
		MaxRetention:  cfg.Schedule.MaxRetention,
		TriggerPolicy: schedule.TriggerPolicy(cfg.Schedule.TriggerOnUpdate),
		DeletePolicy:  schedule.DeletePolicy(cfg.Schedule.DeletePolicy),
		Log:           log,
	}
}

// mapServerConfig returns the listener config and the graceful shutdown budget.
func mapServerConfig(cfg *config.Config) (server.Config, time.Duration, error) {
	h := cfg.HTTP
	read, err := config.ParseDurationOrDefault("http.read_timeout", h.ReadTimeout, 10*time.Second)
	if err != nil {
		return server.Config{}, 0, err
	}
	write, err := config.ParseDurationOrDefault("http.write_timeout", h.WriteTimeout, 30*time.Second)
	if err != nil {
		return server.Config{}, 0, err
	}
	idle, err := config.ParseDurationOrDefault("http.idle_timeout", h.IdleTimeout, 60*time.Second)
	if err != nil {
		return server.Config{}, 0, err
	}
	shutdown, err := config.ParseDurationOrDefault("http.shutdown_timeout", h.ShutdownTimeout, defaultShutdownTimeout)
	if err != nil {
		return server.Config{}, 0, err
	}
	return server.Config{
		Addr:         strings.TrimSpace(h.Addr),
		ReadTimeout:  read,
		WriteTimeout: write,
		IdleTimeout:  idle,
	}, shutdown, nil
}
