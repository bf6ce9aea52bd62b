package config

// Config is the on-disk configuration of the snapsched service.
//
// The file may be JSON or YAML (.yaml/.yml). Unknown keys are rejected.
// All durations are Go duration strings (e.g. "500ms", "10s", "1m").
type Config struct {
	Logging          LoggingConfig          `json:"logging"`
	HTTP             HTTPConfig             `json:"http"`
	SchedulerService SchedulerServiceConfig `json:"scheduler_service"`
	Schedule         ScheduleConfig         `json:"schedule"`
	Registry         RegistryConfig         `json:"registry"`
	Metrics          MetricsConfig          `json:"metrics"`
}

type LoggingConfig struct {
	Level   string      `json:"level"`
	Console bool        `json:"console"`
	JSON    bool        `json:"json,omitempty"`
	File    LoggingFile `json:"file"`
}

type LoggingFile struct {
	Enabled bool   `json:"enabled"`
	Path    string `json:"path"`
}

// HTTPConfig controls the REST listener.
//
// Defaults:
//   - addr: "127.0.0.1:8774"
//   - read_timeout: "10s"
//   - write_timeout: "30s"
//   - idle_timeout: "60s"
//   - shutdown_timeout: "10s"
type HTTPConfig struct {
	Addr            string `json:"addr,omitempty"`
	ReadTimeout     string `json:"read_timeout,omitempty"`
	WriteTimeout    string `json:"write_timeout,omitempty"`
	IdleTimeout     string `json:"idle_timeout,omitempty"`
	ShutdownTimeout string `json:"shutdown_timeout,omitempty"`
}

// SchedulerServiceConfig points at the external recurring-task service.
//
// Example:
//
//	"scheduler_service": { "host": "127.0.0.1", "port": 8780 }
type SchedulerServiceConfig struct {
	Host   string `json:"host"`
	Port   int    `json:"port"`
	Scheme string `json:"scheme,omitempty"` // default: "http"

	// Timeout bounds each outbound request. "0s" disables it and leaves
	// deadlines to the caller context.
	Timeout string `json:"timeout,omitempty"`

	// Client-side rate limit. RatePerSec <= 0 disables limiting.
	RatePerSec float64 `json:"rate_per_sec,omitempty"`
	Burst      int     `json:"burst,omitempty"`
}

// ScheduleConfig controls reconciliation behavior.
//
// Defaults:
//   - max_retention: 30
//   - trigger_on_update: "reroll"
//   - delete_policy: "first"
type ScheduleConfig struct {
	MaxRetention    int    `json:"max_retention,omitempty"`
	TriggerOnUpdate string `json:"trigger_on_update,omitempty"`
	DeletePolicy    string `json:"delete_policy,omitempty"`
}

// RegistryConfig selects the bundled resource registry backend.
//
// Example:
//
//	"registry": { "driver": "sqlite", "path": "./snapsched.db" }
type RegistryConfig struct {
	Driver      string `json:"driver"`
	Path        string `json:"path,omitempty"`
	BusyTimeout string `json:"busy_timeout,omitempty"` // sqlite only
}

type MetricsConfig struct {
	Enabled bool   `json:"enabled"`
	Path    string `json:"path,omitempty"` // default: "/metrics"
}

const (
	DefaultHTTPAddr     = "127.0.0.1:8774"
	DefaultMaxRetention = 30
	DefaultMetricsPath  = "/metrics"

	TriggerReroll = "reroll"
	TriggerKeep   = "keep"

	DeleteFirst  = "first"
	DeleteStrict = "strict"
)

// WithDefaults returns a copy of cfg with empty fields filled in.
func (c Config) WithDefaults() Config {
	if c.HTTP.Addr == "" {
		c.HTTP.Addr = DefaultHTTPAddr
	}
	if c.SchedulerService.Scheme == "" {
		c.SchedulerService.Scheme = "http"
	}
	if c.Schedule.MaxRetention == 0 {
		c.Schedule.MaxRetention = DefaultMaxRetention
	}
	if c.Schedule.TriggerOnUpdate == "" {
		c.Schedule.TriggerOnUpdate = TriggerReroll
	}
	if c.Schedule.DeletePolicy == "" {
		c.Schedule.DeletePolicy = DeleteFirst
	}
	if c.Registry.Driver == "" {
		c.Registry.Driver = "memory"
	}
	if c.Metrics.Path == "" {
		c.Metrics.Path = DefaultMetricsPath
	}
	return c
}
