package app

import (
	"fmt"
	"strings"
	"time"

	"tickd/internal/timer"
	"tickd/internal/timer/wakeup"
)

// mapTimerConfig resolves the timers section into a scheduler config,
// the wake-up source name, and the status-line period.
func mapTimerConfig(cfg *Config) (timer.Config, string, time.Duration, error) {
	tc := timer.Config{}
	source := "auto"
	statusEvery := time.Minute
	if cfg == nil {
		return tc, source, statusEvery, nil
	}

	tick, err := parseDurationOrDefault("timers.tick_every", cfg.Timers.TickEvery, time.Second)
	if err != nil {
		return timer.Config{}, "", 0, err
	}
	tc.TickEvery = tick

	if cfg.Timers.ReportPerSec < 0 {
		return timer.Config{}, "", 0, fmt.Errorf("timers.report_per_sec must be >= 0")
	}
	tc.ReportPerSec = cfg.Timers.ReportPerSec

	if s := strings.ToLower(strings.TrimSpace(cfg.Timers.WakeupSource)); s != "" {
		source = s
	}
	switch source {
	case "auto", "alarm", "ticker":
	default:
		return timer.Config{}, "", 0, fmt.Errorf("unknown timers.wakeup_source: %s", cfg.Timers.WakeupSource)
	}

	statusEvery, err = parseDurationOrDefault("timers.status_every", cfg.Timers.StatusEvery, time.Minute)
	if err != nil {
		return timer.Config{}, "", 0, err
	}
	return tc, source, statusEvery, nil
}

// openWakeup builds the wake-up source for the configured name. "auto"
// returns nil so the scheduler picks the platform default.
func openWakeup(source string) (wakeup.Source, error) {
	switch source {
	case "", "auto":
		return nil, nil
	case "ticker":
		return wakeup.NewTicker(), nil
	case "alarm":
		a, err := wakeup.NewAlarm()
		if err != nil {
			return nil, fmt.Errorf("timers.wakeup_source=alarm: %w", err)
		}
		return a, nil
	default:
		return nil, fmt.Errorf("unknown timers.wakeup_source: %s", source)
	}
}
