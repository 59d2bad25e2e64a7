package config

// Config is the whole tickd configuration file. JSON and YAML are both
// accepted; YAML is coerced to JSON before strict decoding, so unknown
// keys are rejected in either format.
type Config struct {
	Logging  LoggingConfig  `json:"logging"`
	Timers   TimersConfig   `json:"timers"`
	Jobs     JobsConfig     `json:"jobs,omitempty"`
	Journal  *JournalConfig `json:"journal,omitempty"`
	Watchdog WatchdogConfig `json:"watchdog,omitempty"`
}

type LoggingConfig struct {
	Level   string      `json:"level"`
	Console bool        `json:"console"`
	File    LoggingFile `json:"file"`
}

type LoggingFile struct {
	Enabled bool   `json:"enabled"`
	Path    string `json:"path"`
}

// TimersConfig controls the scheduler core.
//
// All durations are Go duration strings (e.g. "500ms", "10s", "1m").
type TimersConfig struct {
	// TickEvery is the self-driven wake-up period. The tick engine works
	// in whole seconds; values under "1s" are raised to "1s".
	TickEvery string `json:"tick_every,omitempty"`

	// WakeupSource picks the platform wake-up: "auto" (interval timer
	// where available, ticker otherwise), "alarm" or "ticker".
	WakeupSource string `json:"wakeup_source,omitempty"`

	// ReportPerSec bounds how many error-reporter lines hit the log per
	// second. Excess reports are counted and dropped.
	ReportPerSec int `json:"report_per_sec,omitempty"`

	// StatusEvery is the period of the status log line. "0s" disables it.
	StatusEvery string `json:"status_every,omitempty"`
}

// JobsConfig declares the recurring jobs driven through the scheduler.
type JobsConfig struct {
	// Timezone applies to cron evaluation. Empty means local time.
	Timezone string `json:"timezone,omitempty"`

	// Timeout is the default per-run cap for command jobs. Default "1m".
	Timeout string `json:"timeout,omitempty"`

	Entries []JobEntry `json:"entries,omitempty"`
}

// JobEntry is one named schedule.
//
// Schedule accepts cron ("*/5 * * * *", "@hourly"), Go durations
// ("55m") and HH:MM-as-duration ("02:30"); see the jobs package for the
// exact grammar.
type JobEntry struct {
	Name     string   `json:"name"`
	Schedule string   `json:"schedule"`
	Kind     string   `json:"kind,omitempty"` // "command" | "heartbeat"; inferred when empty
	Command  []string `json:"command,omitempty"`
	Timeout  string   `json:"timeout,omitempty"`
}

// JournalConfig controls the run journal.
//
// Example:
//
//	"journal": { "driver": "sqlite", "path": "./tickd_runs.db" }
type JournalConfig struct {
	Driver      string `json:"driver"`
	Path        string `json:"path,omitempty"`
	BusyTimeout string `json:"busy_timeout,omitempty"` // Go duration string (sqlite)
	Keep        int    `json:"keep,omitempty"`         // memory driver; rows retained

	// PruneAfter is the retention window; rows older than this are
	// removed by a prune timer on the scheduler. "0s" keeps everything.
	PruneAfter string `json:"prune_after,omitempty"`

	// PruneEvery is how often the prune timer fires. Default "1h".
	PruneEvery string `json:"prune_every,omitempty"`
}

// WatchdogConfig controls systemd notify/watchdog integration.
//
// Enabled is a pointer so an omitted section can default to true; the
// integration is a no-op outside systemd either way.
type WatchdogConfig struct {
	Enabled *bool `json:"enabled,omitempty"`
}

// WatchdogEnabled resolves the tri-state Enabled flag.
func (c *Config) WatchdogEnabled() bool {
	if c == nil || c.Watchdog.Enabled == nil {
		return true
	}
	return *c.Watchdog.Enabled
}
