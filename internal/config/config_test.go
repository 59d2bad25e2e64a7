package config

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"tickd/pkg/logx"
)

func writeFile(t *testing.T, dir, name, body string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatalf("write %s: %v", name, err)
	}
	return path
}

func TestParseJSONStrict(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()

	path := writeFile(t, dir, "config.json", `{
		"logging": {"level": "debug", "console": true, "file": {"enabled": false, "path": ""}},
		"timers": {"tick_every": "2s", "report_per_sec": 10},
		"jobs": {"timezone": "UTC", "entries": [
			{"name": "beat", "schedule": "5m"},
			{"name": "backup", "schedule": "0 3 * * *", "command": ["sh", "-c", "true"], "timeout": "30s"}
		]},
		"journal": {"driver": "sqlite", "path": "./runs.db", "prune_after": "168h"}
	}`)

	m := NewManager(path)
	cfg, err := m.Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Logging.Level != "debug" || !cfg.Logging.Console {
		t.Fatalf("logging = %+v", cfg.Logging)
	}
	if cfg.Timers.TickEvery != "2s" || cfg.Timers.ReportPerSec != 10 {
		t.Fatalf("timers = %+v", cfg.Timers)
	}
	if len(cfg.Jobs.Entries) != 2 || cfg.Jobs.Entries[1].Command[2] != "true" {
		t.Fatalf("jobs = %+v", cfg.Jobs)
	}
	if cfg.Journal == nil || cfg.Journal.Driver != "sqlite" {
		t.Fatalf("journal = %+v", cfg.Journal)
	}
	if !cfg.WatchdogEnabled() {
		t.Fatal("omitted watchdog section should default to enabled")
	}
	if got := m.Get(); got != cfg {
		t.Fatal("Get should return the committed config")
	}
}

func TestParseYAML(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()

	path := writeFile(t, dir, "config.yaml", `
logging:
  level: info
  console: true
  file:
    enabled: true
    path: ./tickd.log
timers:
  tick_every: 1s
  wakeup_source: ticker
jobs:
  timeout: 45s
  entries:
    - name: beat
      schedule: "01:30"
    - name: df
      schedule: "@hourly"
      command: [df, -h]
watchdog:
  enabled: false
`)

	cfg, err := NewManager(path).Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Logging.File.Path != "./tickd.log" {
		t.Fatalf("file path = %q", cfg.Logging.File.Path)
	}
	if cfg.Timers.WakeupSource != "ticker" {
		t.Fatalf("wakeup_source = %q", cfg.Timers.WakeupSource)
	}
	if len(cfg.Jobs.Entries) != 2 || cfg.Jobs.Entries[1].Command[0] != "df" {
		t.Fatalf("jobs = %+v", cfg.Jobs.Entries)
	}
	if cfg.WatchdogEnabled() {
		t.Fatal("explicit watchdog.enabled=false ignored")
	}
}

func TestParseRejectsUnknownFields(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()

	jsonPath := writeFile(t, dir, "bad.json", `{"logging": {"level": "info"}, "totally_unknown": 1}`)
	if _, err := NewManager(jsonPath).Parse(); err == nil {
		t.Fatal("unknown top-level key accepted in JSON")
	}

	yamlPath := writeFile(t, dir, "bad.yaml", "timers:\n  tick_evry: 1s\n")
	if _, err := NewManager(yamlPath).Parse(); err == nil {
		t.Fatal("misspelled key accepted in YAML")
	}
}

func TestParseRejectsTrailingData(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()

	path := writeFile(t, dir, "config.json", `{"logging": {"level": "info"}}{"more": true}`)
	if _, err := NewManager(path).Parse(); err == nil {
		t.Fatal("trailing JSON document accepted")
	}
}

func TestDurationHelpers(t *testing.T) {
	t.Parallel()
	if d, err := ParseDurationField("x", " 90s "); err != nil || d != 90*time.Second {
		t.Fatalf("got %v, %v", d, err)
	}
	if d, err := ParseDurationField("x", ""); err != nil || d != 0 {
		t.Fatalf("empty: got %v, %v", d, err)
	}
	if _, err := ParseDurationField("x", "banana"); err == nil {
		t.Fatal("invalid duration accepted")
	}
	if _, err := ParseDurationField("x", "-5s"); err == nil {
		t.Fatal("negative duration accepted")
	}
	if d, err := ParseDurationOrDefault("x", "", time.Minute); err != nil || d != time.Minute {
		t.Fatalf("default: got %v, %v", d, err)
	}
	if d, err := ParseDurationOrDefault("x", "3s", time.Minute); err != nil || d != 3*time.Second {
		t.Fatalf("explicit: got %v, %v", d, err)
	}
}

func TestSummarizeChange(t *testing.T) {
	t.Parallel()

	oldCfg := &Config{
		Logging: LoggingConfig{Level: "info"},
		Timers:  TimersConfig{TickEvery: "1s"},
		Jobs: JobsConfig{Entries: []JobEntry{
			{Name: "beat", Schedule: "5m"},
			{Name: "gone", Schedule: "1h"},
		}},
	}
	off := false
	newCfg := &Config{
		Logging: LoggingConfig{Level: "debug"},
		Timers:  TimersConfig{TickEvery: "1s"},
		Jobs: JobsConfig{Entries: []JobEntry{
			{Name: "beat", Schedule: "10m"},
			{Name: "fresh", Schedule: "2h"},
		}},
		Journal:  &JournalConfig{Driver: "memory"},
		Watchdog: WatchdogConfig{Enabled: &off},
	}

	sections, _, changedJobs := SummarizeChange(oldCfg, newCfg)
	want := []string{"jobs", "journal", "logging", "watchdog"}
	if len(sections) != len(want) {
		t.Fatalf("sections = %v, want %v", sections, want)
	}
	for i := range want {
		if sections[i] != want[i] {
			t.Fatalf("sections = %v, want %v", sections, want)
		}
	}
	wantJobs := []string{"beat", "fresh", "gone"}
	if len(changedJobs) != len(wantJobs) {
		t.Fatalf("changedJobs = %v, want %v", changedJobs, wantJobs)
	}
	for i := range wantJobs {
		if changedJobs[i] != wantJobs[i] {
			t.Fatalf("changedJobs = %v, want %v", changedJobs, wantJobs)
		}
	}

	if s, _, j := SummarizeChange(newCfg, newCfg); len(s) != 0 || len(j) != 0 {
		t.Fatalf("identical configs reported changes: %v %v", s, j)
	}
}

func TestPublishDropsStaleForSlowSubscriber(t *testing.T) {
	t.Parallel()
	m := NewManager("unused")
	ch := m.Subscribe(1)
	defer m.Unsubscribe(ch)

	a := &Config{Logging: LoggingConfig{Level: "a"}}
	b := &Config{Logging: LoggingConfig{Level: "b"}}
	c := &Config{Logging: LoggingConfig{Level: "c"}}
	m.publish(a)
	m.publish(b)
	m.publish(c)

	got := <-ch
	if got.Logging.Level != "c" {
		t.Fatalf("slow subscriber got %q, want latest %q", got.Logging.Level, "c")
	}
	select {
	case extra := <-ch:
		t.Fatalf("unexpected extra delivery: %+v", extra)
	default:
	}
}

func TestReloadSkipsUnchangedAndValidates(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	path := writeFile(t, dir, "config.json", `{"logging": {"level": "info"}}`)

	m := NewManager(path)
	m.SetLogger(logx.Nop())
	if _, err := m.Load(); err != nil {
		t.Fatalf("Load: %v", err)
	}
	ch := m.Subscribe(4)
	defer m.Unsubscribe(ch)

	// Same content: no publish.
	m.reload(context.Background())
	select {
	case <-ch:
		t.Fatal("unchanged content was published")
	default:
	}

	// Rejected by validator: no commit, no publish.
	m.SetValidator(func(context.Context, *Config) error { return errors.New("nope") })
	writeFile(t, dir, "config.json", `{"logging": {"level": "debug"}}`)
	m.reload(context.Background())
	if m.Get().Logging.Level != "info" {
		t.Fatal("rejected config was committed")
	}

	// Accepted: committed and published.
	m.SetValidator(nil)
	m.reload(context.Background())
	select {
	case got := <-ch:
		if got.Logging.Level != "debug" {
			t.Fatalf("published level = %q", got.Logging.Level)
		}
	default:
		t.Fatal("changed config was not published")
	}
	if m.Get().Logging.Level != "debug" {
		t.Fatal("changed config was not committed")
	}
}
