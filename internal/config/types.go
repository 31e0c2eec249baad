package config

import (
	"fmt"
	"time"

	"unionbot/internal/notify"
	"unionbot/internal/sched"
	"unionbot/internal/storage"
	"unionbot/pkg/logx"
)

type Config struct {
	Telegram  TelegramConfig  `json:"telegram"`
	Logging   LoggingConfig   `json:"logging"`
	Storage   StorageConfig   `json:"storage"`
	Notify    NotifyConfig    `json:"notify,omitempty"`
	Status    StatusConfig    `json:"status,omitempty"`
	Scheduler SchedulerConfig `json:"scheduler,omitempty"`
}

type TelegramConfig struct {
	Token     string `json:"token"`
	ParseMode string `json:"parse_mode,omitempty"`
	// Timeout is a Go duration string (e.g. "10s").
	Timeout string `json:"timeout,omitempty"`
}

type LoggingConfig struct {
	Level   string `json:"level,omitempty"`
	Console bool   `json:"console,omitempty"`
	File    string `json:"file,omitempty"`
}

type StorageConfig struct {
	// Driver selects the backend: "sqlite" (default), "postgres" or
	// "memory".
	Driver string `json:"driver,omitempty"`
	Path   string `json:"path,omitempty"`
	DSN    string `json:"dsn,omitempty"`
	// BusyTimeout is a Go duration string, sqlite only.
	BusyTimeout string `json:"busy_timeout,omitempty"`
}

type NotifyConfig struct {
	RatePerSec float64 `json:"rate_per_sec,omitempty"`
	Burst      int     `json:"burst,omitempty"`
}

type StatusConfig struct {
	Enabled bool   `json:"enabled,omitempty"`
	Addr    string `json:"addr,omitempty"`
}

// SchedulerConfig overrides the built-in kind catalog. All durations are Go
// duration strings. Omitted kinds keep their defaults.
type SchedulerConfig struct {
	// ExecTimeout bounds a single handler call, e.g. "10s".
	ExecTimeout string                `json:"exec_timeout,omitempty"`
	Kinds       map[string]KindConfig `json:"kinds,omitempty"`
}

type KindConfig struct {
	Tick    string                  `json:"tick,omitempty"`
	Windows map[string]WindowConfig `json:"windows,omitempty"`
}

type WindowConfig struct {
	Open      string `json:"open,omitempty"`
	Close     string `json:"close,omitempty"`
	Unbounded bool   `json:"unbounded,omitempty"`
}

// LogxConfig maps the logging section onto the logger's own config type.
func (c *Config) LogxConfig() logx.Config {
	return logx.Config{
		Level:   c.Logging.Level,
		Console: c.Logging.Console,
		File: logx.FileConfig{
			Enabled: c.Logging.File != "",
			Path:    c.Logging.File,
		},
	}
}

// StorageConfigValue resolves the storage section, parsing duration fields.
func (c *Config) StorageConfigValue() (storage.Config, error) {
	busy, err := ParseDurationField("storage.busy_timeout", c.Storage.BusyTimeout)
	if err != nil {
		return storage.Config{}, err
	}
	return storage.Config{
		Driver:      c.Storage.Driver,
		Path:        c.Storage.Path,
		DSN:         c.Storage.DSN,
		BusyTimeout: busy,
	}, nil
}

func (c *Config) NotifyConfigValue() notify.Config {
	return notify.Config{PerSecond: c.Notify.RatePerSec, Burst: c.Notify.Burst}
}

func (c *Config) TelegramTimeout() (time.Duration, error) {
	return ParseDurationOrDefault("telegram.timeout", c.Telegram.Timeout, 10*time.Second)
}

// SchedConfig resolves the scheduler section into per-kind tick and window
// overrides. Unknown kind or phase names are rejected here rather than at
// scanner start so a bad config never reaches the running service.
func (c *Config) SchedConfig() (sched.Config, error) {
	out := sched.Config{}

	var err error
	out.ExecTimeout, err = ParseDurationField("scheduler.exec_timeout", c.Scheduler.ExecTimeout)
	if err != nil {
		return sched.Config{}, err
	}

	known := sched.DefaultKinds()
	for name, kc := range c.Scheduler.Kinds {
		kind := sched.Kind(name)
		spec, ok := known[kind]
		if !ok {
			return sched.Config{}, fmt.Errorf("scheduler.kinds.%s: unknown kind", name)
		}

		if kc.Tick != "" {
			tick, err := ParseDurationField("scheduler.kinds."+name+".tick", kc.Tick)
			if err != nil {
				return sched.Config{}, err
			}
			if tick > 0 {
				if out.Ticks == nil {
					out.Ticks = make(map[sched.Kind]time.Duration)
				}
				out.Ticks[kind] = tick
			}
		}

		for phase, wc := range kc.Windows {
			if !hasPhase(spec, phase) {
				return sched.Config{}, fmt.Errorf("scheduler.kinds.%s.windows.%s: unknown phase", name, phase)
			}
			prefix := "scheduler.kinds." + name + ".windows." + phase
			// Window bounds are signed deltas relative to the target
			// instant, written exactly as the scheduler evaluates them: a
			// deliver window reaching 2 minutes past the target is
			// open: "-2m", close: "0s".
			open, err := ParseSignedDurationField(prefix+".open", wc.Open)
			if err != nil {
				return sched.Config{}, err
			}
			closeAt, err := ParseSignedDurationField(prefix+".close", wc.Close)
			if err != nil {
				return sched.Config{}, err
			}
			if out.Windows == nil {
				out.Windows = make(map[sched.Kind]map[string]sched.Window)
			}
			if out.Windows[kind] == nil {
				out.Windows[kind] = make(map[string]sched.Window)
			}
			out.Windows[kind][phase] = sched.Window{
				Open:      open,
				Close:     closeAt,
				Unbounded: wc.Unbounded,
			}
		}
	}
	return out, nil
}

func hasPhase(spec sched.KindSpec, name string) bool {
	for _, p := range spec.Phases {
		if p.Name == name {
			return true
		}
	}
	return false
}
