package app

import (
	"fmt"
	"strings"
	"time"

	"tickd/internal/journal"
)

func mapJournalConfig(cfg *Config) (journal.Config, bool, error) {
	if cfg == nil || cfg.Journal == nil {
		return journal.Config{}, false, nil
	}
	jc := cfg.Journal
	driver := strings.TrimSpace(jc.Driver)
	if driver == "" || strings.EqualFold(driver, "none") {
		return journal.Config{}, false, nil
	}

	dl := strings.ToLower(driver)
	switch dl {
	case "memory":
		if jc.Keep < 0 {
			return journal.Config{}, false, fmt.Errorf("journal.keep must be >= 0")
		}
		return journal.Config{Driver: dl, Keep: jc.Keep}, true, nil
	case "sqlite", "sqlite3":
		path := strings.TrimSpace(jc.Path)
		if path == "" {
			return journal.Config{}, false, fmt.Errorf("journal.path is required when journal.driver=sqlite")
		}
		busy, err := parseDurationOrDefault("journal.busy_timeout", jc.BusyTimeout, 1*time.Second)
		if err != nil {
			return journal.Config{}, false, err
		}
		return journal.Config{Driver: dl, Path: path, BusyTimeout: busy}, true, nil
	default:
		return journal.Config{}, false, fmt.Errorf("unknown journal.driver: %s", driver)
	}
}

// pruneWindows resolves the journal retention window and the prune
// cadence. A zero window disables pruning.
func pruneWindows(cfg *Config) (after, every time.Duration, err error) {
	if cfg == nil || cfg.Journal == nil {
		return 0, 0, nil
	}
	after, err = parseDurationField("journal.prune_after", cfg.Journal.PruneAfter)
	if err != nil {
		return 0, 0, err
	}
	every, err = parseDurationOrDefault("journal.prune_every", cfg.Journal.PruneEvery, time.Hour)
	if err != nil {
		return 0, 0, err
	}
	return after, every, nil
}
