package app

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"tickd/internal/config"
	"tickd/internal/eventbus"
	"tickd/internal/jobs"
	"tickd/internal/timer"
)

func TestMapTimerConfigDefaults(t *testing.T) {
	t.Parallel()
	tc, source, statusEvery, err := mapTimerConfig(&config.Config{})
	if err != nil {
		t.Fatalf("mapTimerConfig: %v", err)
	}
	if tc.TickEvery != time.Second || source != "auto" || statusEvery != time.Minute {
		t.Fatalf("got %+v source=%q status=%v", tc, source, statusEvery)
	}
}

func TestMapTimerConfigRejects(t *testing.T) {
	t.Parallel()
	var cfg config.Config
	cfg.Timers.WakeupSource = "sundial"
	if _, _, _, err := mapTimerConfig(&cfg); err == nil {
		t.Fatal("unknown wakeup_source accepted")
	}

	cfg = config.Config{}
	cfg.Timers.ReportPerSec = -1
	if _, _, _, err := mapTimerConfig(&cfg); err == nil {
		t.Fatal("negative report_per_sec accepted")
	}

	cfg = config.Config{}
	cfg.Timers.TickEvery = "soon"
	if _, _, _, err := mapTimerConfig(&cfg); err == nil {
		t.Fatal("bad tick_every accepted")
	}
}

func TestOpenWakeup(t *testing.T) {
	t.Parallel()
	if src, err := openWakeup("auto"); err != nil || src != nil {
		t.Fatalf("auto: got %v, %v", src, err)
	}
	src, err := openWakeup("ticker")
	if err != nil || src == nil {
		t.Fatalf("ticker: got %v, %v", src, err)
	}
	_ = src.Close()
	if _, err := openWakeup("quartz"); err == nil {
		t.Fatal("unknown source accepted")
	}
}

func TestMapJournalConfig(t *testing.T) {
	t.Parallel()
	if _, enabled, err := mapJournalConfig(&config.Config{}); err != nil || enabled {
		t.Fatalf("absent section: enabled=%v err=%v", enabled, err)
	}

	cfg := &config.Config{Journal: &config.JournalConfig{Driver: "none"}}
	if _, enabled, _ := mapJournalConfig(cfg); enabled {
		t.Fatal("driver none should disable")
	}

	cfg = &config.Config{Journal: &config.JournalConfig{Driver: "Memory", Keep: 32}}
	jc, enabled, err := mapJournalConfig(cfg)
	if err != nil || !enabled || jc.Driver != "memory" || jc.Keep != 32 {
		t.Fatalf("memory: %+v enabled=%v err=%v", jc, enabled, err)
	}

	cfg = &config.Config{Journal: &config.JournalConfig{Driver: "sqlite"}}
	if _, _, err := mapJournalConfig(cfg); err == nil {
		t.Fatal("sqlite without path accepted")
	}

	cfg = &config.Config{Journal: &config.JournalConfig{Driver: "sqlite", Path: "x.db", BusyTimeout: "2s"}}
	jc, _, err = mapJournalConfig(cfg)
	if err != nil || jc.BusyTimeout != 2*time.Second {
		t.Fatalf("sqlite: %+v err=%v", jc, err)
	}

	cfg = &config.Config{Journal: &config.JournalConfig{Driver: "redis"}}
	if _, _, err := mapJournalConfig(cfg); err == nil {
		t.Fatal("unknown driver accepted")
	}
}

func TestPruneWindows(t *testing.T) {
	t.Parallel()
	after, every, err := pruneWindows(&config.Config{Journal: &config.JournalConfig{Driver: "memory", PruneAfter: "72h"}})
	if err != nil || after != 72*time.Hour || every != time.Hour {
		t.Fatalf("got after=%v every=%v err=%v", after, every, err)
	}
	if after, _, _ := pruneWindows(&config.Config{}); after != 0 {
		t.Fatal("absent journal section should disable pruning")
	}
}

func TestMapJobEntries(t *testing.T) {
	t.Parallel()
	var cfg config.Config
	cfg.Jobs.Entries = []config.JobEntry{
		{Name: " beat ", Schedule: "5m"},
		{Name: "backup", Schedule: "@daily", Kind: "Command", Command: []string{"sh", "-c", "true"}, Timeout: "30s"},
	}
	list, err := mapJobEntries(&cfg)
	if err != nil {
		t.Fatalf("mapJobEntries: %v", err)
	}
	if len(list) != 2 || list[0].Name != "beat" || list[1].Kind != jobs.KindCommand || list[1].Timeout != 30*time.Second {
		t.Fatalf("list = %+v", list)
	}

	bad := []config.JobEntry{
		{Name: "", Schedule: "5m"},
		{Name: "x", Schedule: ""},
		{Name: "x", Schedule: "5m", Kind: "cron"},
		{Name: "x", Schedule: "5m", Timeout: "soon"},
	}
	for i, e := range bad {
		var c config.Config
		c.Jobs.Entries = []config.JobEntry{e}
		if _, err := mapJobEntries(&c); err == nil {
			t.Fatalf("bad[%d] accepted: %+v", i, e)
		}
	}
}

func TestValidateConfig(t *testing.T) {
	t.Parallel()
	var cfg config.Config
	cfg.Timers.TickEvery = "1s"
	cfg.Jobs.Timezone = "UTC"
	cfg.Jobs.Entries = []config.JobEntry{{Name: "beat", Schedule: "10m"}}
	if err := validateConfig(&cfg); err != nil {
		t.Fatalf("valid config rejected: %v", err)
	}

	cfg.Jobs.Timezone = "Mars/Olympus"
	if err := validateConfig(&cfg); err == nil {
		t.Fatal("bad timezone accepted")
	}
}

func TestRunFromEvent(t *testing.T) {
	t.Parallel()
	at := time.Date(2024, 5, 1, 8, 0, 0, 0, time.UTC)

	run, ok := runFromEvent(eventbus.Event{Type: "timer.failed", Data: timer.TimerEvent{
		Handle: 7, At: at, Duration: 80 * time.Millisecond, Error: "boom",
	}})
	if !ok || run.Name != "timer" || run.Handle != 7 || !run.Failed() || !run.Started.Equal(at) {
		t.Fatalf("timer.failed -> %+v ok=%v", run, ok)
	}

	run, ok = runFromEvent(eventbus.Event{Type: "job.run", Data: jobs.RunEvent{
		Name: "backup", Handle: 3, Started: at, Duration: time.Second,
	}})
	if !ok || run.Name != "backup" || run.Failed() {
		t.Fatalf("job.run -> %+v ok=%v", run, ok)
	}

	if _, ok := runFromEvent(eventbus.Event{Type: "timer.removed", Data: timer.TimerEvent{Handle: 7}}); ok {
		t.Fatal("timer.removed should not record a run")
	}
	if _, ok := runFromEvent(eventbus.Event{Type: "timer.cleared", Data: 3}); ok {
		t.Fatal("timer.cleared should not record a run")
	}
}

func TestAppLifecycle(t *testing.T) {
	dir := t.TempDir()
	cfgPath := filepath.Join(dir, "config.json")
	body := `{
		"logging": {"level": "error", "console": false},
		"timers": {"tick_every": "1s", "wakeup_source": "ticker", "status_every": "0s"},
		"jobs": {"timezone": "UTC", "entries": [{"name": "beat", "schedule": "1h"}]},
		"journal": {"driver": "memory", "keep": 16, "prune_after": "24h"}
	}`
	if err := os.WriteFile(cfgPath, []byte(body), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}

	a, err := NewApp(cfgPath)
	if err != nil {
		t.Fatalf("NewApp: %v", err)
	}
	select {
	case <-a.Done():
	default:
		t.Fatal("Done should report closed before Start")
	}
	if a.jrnl == nil {
		t.Fatal("journal should be open")
	}

	if err := a.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if got := a.reg.Len(); got != 1 {
		t.Fatalf("jobs installed = %d, want 1", got)
	}
	snap := a.sched.Snapshot()
	if !snap.Running || snap.Mode != "tick" {
		t.Fatalf("snapshot = %+v", snap)
	}
	// One job timer plus the journal prune timer.
	if snap.Pending != 2 {
		t.Fatalf("pending = %d, want 2", snap.Pending)
	}

	// A published run lands in the journal through the recorder loop. The
	// recorder subscribes asynchronously, so keep publishing until one
	// delivery sticks.
	deadline := time.Now().Add(2 * time.Second)
	for {
		a.bus.Publish(eventbus.Event{Type: "job.run", Time: time.Now(), Data: jobs.RunEvent{
			Name: "beat", Handle: 1, Started: time.Now(), Duration: time.Millisecond,
		}})
		rows, err := a.jrnl.RecentRuns(context.Background(), 5)
		if err != nil {
			t.Fatalf("RecentRuns: %v", err)
		}
		if len(rows) >= 1 && rows[0].Name == "beat" {
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("run never reached the journal: %+v", rows)
		}
		time.Sleep(10 * time.Millisecond)
	}

	stopCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := a.Stop(stopCtx, StopAppStop); err != nil {
		t.Fatalf("Stop: %v", err)
	}
}
