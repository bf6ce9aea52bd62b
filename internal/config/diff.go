package config

import (
	"sort"
	"strings"

	"snapsched/pkg/logx"
)

// Sections that only take effect after a process restart.
var restartSections = map[string]bool{
	"http":              true,
	"scheduler_service": true,
	"schedule":          true,
	"registry":          true,
	"metrics":           true,
}

// SummarizeConfigChange returns (1) a sorted list of changed sections,
// (2) structured attrs for logging, and (3) the changed sections that need
// a restart. Only logging is applied live.
func SummarizeConfigChange(oldCfg, newCfg *Config) ([]string, []logx.Field, []string) {
	if oldCfg == nil {
		oldCfg = &Config{}
	}
	if newCfg == nil {
		newCfg = &Config{}
	}

	changed := make([]string, 0, 6)
	attrs := make([]logx.Field, 0, 16)

	if oldCfg.Logging != newCfg.Logging {
		changed = append(changed, "logging")
		attrs = append(attrs,
			logx.String("logging.level", newCfg.Logging.Level),
			logx.Bool("logging.console", newCfg.Logging.Console),
			logx.Bool("logging.file_enabled", newCfg.Logging.File.Enabled),
		)
	}

	if oldCfg.HTTP != newCfg.HTTP {
		changed = append(changed, "http")
		attrs = append(attrs, logx.String("http.addr", strings.TrimSpace(newCfg.HTTP.Addr)))
	}

	if oldCfg.SchedulerService != newCfg.SchedulerService {
		ss := newCfg.SchedulerService
		changed = append(changed, "scheduler_service")
		attrs = append(attrs,
			logx.String("scheduler_service.host", ss.Host),
			logx.Int("scheduler_service.port", ss.Port),
			logx.String("scheduler_service.timeout", strings.TrimSpace(ss.Timeout)),
		)
	}

	if oldCfg.Schedule != newCfg.Schedule {
		changed = append(changed, "schedule")
		attrs = append(attrs,
			logx.Int("schedule.max_retention", newCfg.Schedule.MaxRetention),
			logx.String("schedule.trigger_on_update", newCfg.Schedule.TriggerOnUpdate),
			logx.String("schedule.delete_policy", newCfg.Schedule.DeletePolicy),
		)
	}

	// Registry path may point at tenant data; only report whether it is set.
	if oldCfg.Registry != newCfg.Registry {
		changed = append(changed, "registry")
		attrs = append(attrs,
			logx.String("registry.driver", newCfg.Registry.Driver),
			logx.Bool("registry.path_set", strings.TrimSpace(newCfg.Registry.Path) != ""),
		)
	}

	if oldCfg.Metrics != newCfg.Metrics {
		changed = append(changed, "metrics")
		attrs = append(attrs, logx.Bool("metrics.enabled", newCfg.Metrics.Enabled))
	}

	sort.Strings(changed)

	var restart []string
	for _, s := range changed {
		if restartSections[s] {
			restart = append(restart, s)
		}
	}
	return changed, attrs, restart
}
