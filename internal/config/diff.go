package config

import (
	"reflect"
	"sort"
	"strings"

	"tickd/pkg/logx"
)

// SummarizeChange returns (1) a compact list of changed sections,
// (2) structured attrs safe for logging, and (3) the names of jobs
// whose definition changed.
func SummarizeChange(oldCfg, newCfg *Config) ([]string, []logx.Field, []string) {
	if oldCfg == nil {
		oldCfg = &Config{}
	}
	if newCfg == nil {
		newCfg = &Config{}
	}

	changed := make([]string, 0, 5)
	attrs := make([]logx.Field, 0, 12)

	if oldCfg.Logging != newCfg.Logging {
		changed = append(changed, "logging")
		attrs = append(attrs,
			logx.String("logging.level", newCfg.Logging.Level),
			logx.Bool("logging.console", newCfg.Logging.Console),
			logx.Bool("logging.file_enabled", newCfg.Logging.File.Enabled),
		)
	}

	if oldCfg.Timers != newCfg.Timers {
		changed = append(changed, "timers")
		attrs = append(attrs,
			logx.String("timers.tick_every", strings.TrimSpace(newCfg.Timers.TickEvery)),
			logx.String("timers.wakeup_source", strings.TrimSpace(newCfg.Timers.WakeupSource)),
			logx.Int("timers.report_per_sec", newCfg.Timers.ReportPerSec),
			logx.String("timers.status_every", strings.TrimSpace(newCfg.Timers.StatusEvery)),
		)
	}

	// Jobs: diffed by name so the reload log can say which ones moved.
	changedJobs := diffJobs(oldCfg.Jobs, newCfg.Jobs)
	if len(changedJobs) > 0 ||
		strings.TrimSpace(oldCfg.Jobs.Timezone) != strings.TrimSpace(newCfg.Jobs.Timezone) ||
		strings.TrimSpace(oldCfg.Jobs.Timeout) != strings.TrimSpace(newCfg.Jobs.Timeout) {
		changed = append(changed, "jobs")
		attrs = append(attrs,
			logx.Int("jobs.count", len(newCfg.Jobs.Entries)),
			logx.Int("jobs.changed_count", len(changedJobs)),
			logx.String("jobs.timezone", strings.TrimSpace(newCfg.Jobs.Timezone)),
		)
	}

	// Journal; a nil section means disabled.
	if !journalEqual(oldCfg.Journal, newCfg.Journal) {
		changed = append(changed, "journal")
		var driver string
		var pathSet bool
		if newCfg.Journal != nil {
			driver = strings.TrimSpace(newCfg.Journal.Driver)
			pathSet = strings.TrimSpace(newCfg.Journal.Path) != ""
		}
		attrs = append(attrs,
			logx.String("journal.driver", driver),
			logx.Bool("journal.path_set", pathSet),
		)
	}

	if oldCfg.WatchdogEnabled() != newCfg.WatchdogEnabled() {
		changed = append(changed, "watchdog")
		attrs = append(attrs, logx.Bool("watchdog.enabled", newCfg.WatchdogEnabled()))
	}

	sort.Strings(changed)
	return changed, attrs, changedJobs
}

func journalEqual(a, b *JournalConfig) bool {
	if (a == nil) != (b == nil) {
		return false
	}
	if a == nil {
		return true
	}
	return *a == *b
}

func diffJobs(oldJ, newJ JobsConfig) []string {
	oldByName := make(map[string]JobEntry, len(oldJ.Entries))
	for _, e := range oldJ.Entries {
		oldByName[e.Name] = e
	}
	newByName := make(map[string]JobEntry, len(newJ.Entries))
	for _, e := range newJ.Entries {
		newByName[e.Name] = e
	}

	set := map[string]struct{}{}
	for k := range oldByName {
		set[k] = struct{}{}
	}
	for k := range newByName {
		set[k] = struct{}{}
	}

	out := make([]string, 0, len(set))
	for name := range set {
		o, oOK := oldByName[name]
		n, nOK := newByName[name]
		if oOK != nOK || !reflect.DeepEqual(o, n) {
			out = append(out, name)
		}
	}
	sort.Strings(out)
	return out
}
