package config

import (
	"errors"
	"fmt"
	"net"
	"strings"

	"snapsched/pkg/logx"
)

// Validate checks ranges and enum values. It expects a config that already
// went through WithDefaults.
func (c *Config) Validate() error {
	if c == nil {
		return errors.New("config is nil")
	}
	var errs []error

	if !logx.ValidLevel(c.Logging.Level) {
		errs = append(errs, fmt.Errorf("logging.level: unknown level %q", c.Logging.Level))
	}

	if _, _, err := net.SplitHostPort(c.HTTP.Addr); err != nil {
		errs = append(errs, fmt.Errorf("http.addr: %w", err))
	}
	durations := []struct{ path, raw string }{
		{"http.read_timeout", c.HTTP.ReadTimeout},
		{"http.write_timeout", c.HTTP.WriteTimeout},
		{"http.idle_timeout", c.HTTP.IdleTimeout},
		{"http.shutdown_timeout", c.HTTP.ShutdownTimeout},
		{"scheduler_service.timeout", c.SchedulerService.Timeout},
		{"registry.busy_timeout", c.Registry.BusyTimeout},
	}
	for _, d := range durations {
		if _, err := ParseDurationField(d.path, d.raw); err != nil {
			errs = append(errs, err)
		}
	}

	ss := c.SchedulerService
	if strings.TrimSpace(ss.Host) == "" {
		errs = append(errs, errors.New("scheduler_service.host: required"))
	}
	if ss.Port < 1 || ss.Port > 65535 {
		errs = append(errs, fmt.Errorf("scheduler_service.port: %d out of range 1-65535", ss.Port))
	}
	switch ss.Scheme {
	case "http", "https":
	default:
		errs = append(errs, fmt.Errorf("scheduler_service.scheme: unsupported %q", ss.Scheme))
	}
	if ss.RatePerSec < 0 {
		errs = append(errs, errors.New("scheduler_service.rate_per_sec: must be >= 0"))
	}
	if ss.Burst < 0 {
		errs = append(errs, errors.New("scheduler_service.burst: must be >= 0"))
	}

	if c.Schedule.MaxRetention <= 0 {
		errs = append(errs, fmt.Errorf("schedule.max_retention: must be > 0, got %d", c.Schedule.MaxRetention))
	}
	switch c.Schedule.TriggerOnUpdate {
	case TriggerReroll, TriggerKeep:
	default:
		errs = append(errs, fmt.Errorf("schedule.trigger_on_update: use %q or %q", TriggerReroll, TriggerKeep))
	}
	switch c.Schedule.DeletePolicy {
	case DeleteFirst, DeleteStrict:
	default:
		errs = append(errs, fmt.Errorf("schedule.delete_policy: use %q or %q", DeleteFirst, DeleteStrict))
	}

	switch strings.ToLower(strings.TrimSpace(c.Registry.Driver)) {
	case "memory", "mem":
	case "file", "sqlite":
		if strings.TrimSpace(c.Registry.Path) == "" {
			errs = append(errs, fmt.Errorf("registry.path: required for driver %q", c.Registry.Driver))
		}
	default:
		errs = append(errs, fmt.Errorf("registry.driver: unknown driver %q", c.Registry.Driver))
	}

	if c.Metrics.Enabled && !strings.HasPrefix(c.Metrics.Path, "/") {
		errs = append(errs, fmt.Errorf("metrics.path: must start with '/', got %q", c.Metrics.Path))
	}

	return errors.Join(errs...)
}
