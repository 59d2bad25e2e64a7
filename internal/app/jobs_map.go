package app

import (
	"fmt"
	"strings"
	"time"

	"go.uber.org/multierr"

	"tickd/internal/jobs"
)

func mapJobsConfig(cfg *Config) (jobs.Config, error) {
	if cfg == nil {
		return jobs.Config{}, nil
	}
	timeout, err := parseDurationField("jobs.timeout", cfg.Jobs.Timeout)
	if err != nil {
		return jobs.Config{}, err
	}
	if tz := strings.TrimSpace(cfg.Jobs.Timezone); tz != "" {
		if _, err := time.LoadLocation(tz); err != nil {
			return jobs.Config{}, fmt.Errorf("jobs.timezone: invalid %q: %w", tz, err)
		}
	}
	return jobs.Config{Timezone: cfg.Jobs.Timezone, Timeout: timeout}, nil
}

// mapJobEntries converts config entries into registry jobs. The checks
// here run inside the reload validator too, so a bad entry rejects the
// whole reload before commit.
func mapJobEntries(cfg *Config) ([]jobs.Job, error) {
	if cfg == nil || len(cfg.Jobs.Entries) == 0 {
		return nil, nil
	}
	out := make([]jobs.Job, 0, len(cfg.Jobs.Entries))
	for i, e := range cfg.Jobs.Entries {
		name := strings.TrimSpace(e.Name)
		if name == "" {
			return nil, fmt.Errorf("jobs.entries[%d]: name is required", i)
		}
		if _, err := jobs.ParseSchedule(e.Schedule); err != nil {
			return nil, fmt.Errorf("jobs.entries[%d] (%s): %w", i, name, err)
		}
		timeout, err := parseDurationField(fmt.Sprintf("jobs.entries[%d].timeout", i), e.Timeout)
		if err != nil {
			return nil, err
		}
		kind := jobs.Kind(strings.ToLower(strings.TrimSpace(e.Kind)))
		switch kind {
		case "", jobs.KindCommand, jobs.KindHeartbeat:
		default:
			return nil, fmt.Errorf("jobs.entries[%d] (%s): unknown kind %q", i, name, e.Kind)
		}
		out = append(out, jobs.Job{
			Name:     name,
			Schedule: e.Schedule,
			Kind:     kind,
			Command:  append([]string(nil), e.Command...),
			Timeout:  timeout,
		})
	}
	return out, nil
}

// validateConfig is the pre-commit gate for hot reloads. Anything the
// mappers reject never reaches the running services. Section errors are
// collected so one rejection names every problem.
func validateConfig(cfg *Config) error {
	var errs error
	if _, _, _, err := mapTimerConfig(cfg); err != nil {
		errs = multierr.Append(errs, err)
	}
	if _, err := mapJobsConfig(cfg); err != nil {
		errs = multierr.Append(errs, err)
	}
	if _, err := mapJobEntries(cfg); err != nil {
		errs = multierr.Append(errs, err)
	}
	if _, _, err := mapJournalConfig(cfg); err != nil {
		errs = multierr.Append(errs, err)
	}
	if _, _, err := pruneWindows(cfg); err != nil {
		errs = multierr.Append(errs, err)
	}
	return errs
}
