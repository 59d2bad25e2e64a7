package app

import (
	"context"
	"fmt"
	"strings"
	"time"

	"tickd/internal/eventbus"
	"tickd/internal/jobs"
	"tickd/internal/journal"
	"tickd/internal/timer"
	"tickd/internal/watchdog"
	logx "tickd/pkg/logx"
)

type App struct {
	cfgPath string

	cfgm *ConfigManager
	sup  *Supervisor

	log  logx.Logger
	logs *logx.Service
	bus  eventbus.Bus
	jrnl journal.Journal

	sched *timer.Scheduler
	reg   *jobs.Registry
	wd    *watchdog.Service

	entries []jobs.Job

	statusEvery time.Duration
	pruneAfter  time.Duration
	pruneEvery  time.Duration
}

func NewApp(cfgPath string) (*App, error) {
	cfgm := NewConfigManager(cfgPath)
	cfg, err := cfgm.Load()
	if err != nil {
		return nil, err
	}

	logSvc, log := logx.New(logx.Config{
		Level:   cfg.Logging.Level,
		Console: cfg.Logging.Console,
		File: logx.FileConfig{
			Enabled: cfg.Logging.File.Enabled,
			Path:    cfg.Logging.File.Path,
		},
	})
	log = log.With(logx.String("comp", "app"))

	bus := eventbus.New()

	// Journal (optional)
	var jrnl journal.Journal
	if jc, enabled, err := mapJournalConfig(cfg); err != nil {
		return nil, err
	} else if enabled {
		j, err := journal.Open(jc, log.With(logx.String("comp", "journal")))
		if err != nil {
			return nil, err
		}
		jrnl = j
		log.Info("journal enabled", logx.String("driver", jc.Driver))
	}

	// Scheduler core
	tcfg, source, statusEvery, err := mapTimerConfig(cfg)
	if err != nil {
		return nil, err
	}
	var opts []timer.Option
	src, err := openWakeup(source)
	if err != nil {
		return nil, err
	}
	if src != nil {
		opts = append(opts, timer.WithSource(src))
	}
	sched := timer.New(tcfg, log.With(logx.String("comp", "timer")), bus, opts...)

	// Jobs mapping. Entries are resolved here too so a bad initial
	// config fails construction instead of surfacing mid-run.
	jcfg, err := mapJobsConfig(cfg)
	if err != nil {
		return nil, err
	}
	entries, err := mapJobEntries(cfg)
	if err != nil {
		return nil, err
	}
	reg := jobs.New(jcfg, log.With(logx.String("comp", "jobs")), bus, sched)

	var wd *watchdog.Service
	if cfg.WatchdogEnabled() {
		wd = watchdog.New(log.With(logx.String("comp", "watchdog")), sched)
	}

	pruneAfter, pruneEvery, err := pruneWindows(cfg)
	if err != nil {
		return nil, err
	}

	return &App{
		cfgPath:     cfgPath,
		cfgm:        cfgm,
		log:         log,
		logs:        logSvc,
		bus:         bus,
		jrnl:        jrnl,
		sched:       sched,
		reg:         reg,
		wd:          wd,
		entries:     entries,
		statusEvery: statusEvery,
		pruneAfter:  pruneAfter,
		pruneEvery:  pruneEvery,
	}, nil
}

// Scheduler exposes the timer facade, mainly for operational inspection.
func (a *App) Scheduler() *timer.Scheduler { return a.sched }

// Done is closed when the app supervisor context is canceled (fatal error or Stop()).
func (a *App) Done() <-chan struct{} {
	if a.sup == nil {
		ch := make(chan struct{})
		close(ch)
		return ch
	}
	return a.sup.Context().Done()
}

// Err returns the first fatal error observed by the supervisor (if any).
func (a *App) Err() error {
	if a.sup == nil {
		return nil
	}
	return a.sup.Err()
}

func (a *App) Start(ctx context.Context) error {
	a.sup = NewSupervisor(ctx, WithLogger(a.log), WithCancelOnError(true))

	// transactional config reload: validate before commit/publish
	if a.cfgm != nil {
		a.cfgm.SetLogger(a.log.With(logx.String("comp", "config")))
		a.cfgm.SetValidator(func(_ context.Context, cfg *Config) error {
			return validateConfig(cfg)
		})
	}

	a.sched.Start(a.sup.Context())

	// Install configured jobs. Apply collects per-entry errors; entries
	// that pass still land.
	if err := a.reg.Apply(a.entries); err != nil {
		a.log.Warn("some jobs failed to install", logx.Any("err", err))
	}

	if a.wd != nil {
		if err := a.wd.Start(); err != nil {
			a.log.Warn("systemd notify failed", logx.Any("err", err))
		}
	}

	// Periodic status line, scheduled like any other timer.
	if a.statusEvery > 0 {
		if _, err := a.sched.Add(a.statusEvery, func(context.Context, ...any) error {
			a.logStatus()
			return nil
		}); err != nil {
			a.log.Warn("status timer not armed", logx.Any("err", err))
		}
	}

	// Journal retention rides the scheduler too.
	if a.jrnl != nil && a.pruneAfter > 0 {
		if _, err := a.sched.Add(a.pruneEvery, func(c context.Context, _ ...any) error {
			n, err := a.jrnl.PruneBefore(c, time.Now().Add(-a.pruneAfter))
			if err != nil {
				return fmt.Errorf("journal prune: %w", err)
			}
			if n > 0 {
				a.log.Debug("journal pruned", logx.Int64("rows", n))
			}
			return nil
		}); err != nil {
			a.log.Warn("prune timer not armed", logx.Any("err", err))
		}
	}

	// Journal recorder: completed runs flow from the bus into storage.
	// The subscription lives inside the loop, so a restart after a panic
	// re-subscribes; events published while the recorder was down are lost,
	// which is the bus contract anyway.
	if a.jrnl != nil && a.bus != nil {
		a.sup.GoRestart("journal.record", func(c context.Context) error {
			events, unsub := a.bus.Subscribe(256)
			defer unsub()
			for {
				select {
				case <-c.Done():
					return c.Err()
				case e, ok := <-events:
					if !ok {
						return c.Err()
					}
					run, ok := runFromEvent(e)
					if !ok {
						continue
					}
					wctx, cancel := context.WithTimeout(c, 3*time.Second)
					if err := a.jrnl.AppendRun(wctx, run); err != nil {
						a.log.Warn("journal append failed", logx.Any("err", err))
					}
					cancel()
				}
			}
		}, WithPublishFirstError(true))
	}

	// Optional: log events for observability/debug (components can also subscribe themselves).
	if a.bus != nil {
		events, unsub := a.bus.Subscribe(128)
		a.sup.Go0("eventbus.log", func(c context.Context) {
			defer unsub()
			for {
				select {
				case <-c.Done():
					return
				case e, ok := <-events:
					if !ok {
						return
					}
					// Keep this debug-level to avoid noise for frequent timers.
					a.log.Debug("event", logx.String("type", e.Type), logx.Time("time", e.Time))
				}
			}
		})
	}

	// hot reload config fan-out
	sub := a.cfgm.Subscribe(8)
	a.sup.Go0("config.reload", func(c context.Context) {
		defer a.cfgm.Unsubscribe(sub)
		// Track last applied config to generate a safe diff summary.
		lastApplied := a.cfgm.Get()
		for {
			select {
			case <-c.Done():
				return
			case newCfg, ok := <-sub:
				if !ok {
					return
				}
				// Coalesce bursts: keep only the latest config in the channel.
				for {
					select {
					case newer := <-sub:
						if newer != nil {
							newCfg = newer
						}
					default:
						goto APPLY
					}
				}
			APPLY:
				prevCfg := lastApplied
				sections, attrs, changedJobs := SummarizeConfigChange(prevCfg, newCfg)
				if len(sections) > 0 {
					fields := append([]logx.Field{logx.String("changed", strings.Join(sections, ","))}, attrs...)
					a.log.Debug("config change summary", fields...)
					if len(changedJobs) > 0 {
						a.log.Debug("job config changes detected", logx.Any("jobs", changedJobs))
					}
				} else {
					a.log.Debug("config reload received, but no effective changes detected")
				}
				lastApplied = newCfg

				// The scheduler core, journal driver and watchdog are fixed at
				// construction; flag those so the operator knows a reload alone
				// is not enough.
				for _, s := range sections {
					switch s {
					case "timers", "journal", "watchdog":
						a.log.Warn("config changed; restart required for changes to take effect", logx.String("section", s))
					}
				}

				// apply logging updates
				a.logs.Apply(logx.Config{
					Level:   newCfg.Logging.Level,
					Console: newCfg.Logging.Console,
					File: logx.FileConfig{
						Enabled: newCfg.Logging.File.Enabled,
						Path:    newCfg.Logging.File.Path,
					},
				})

				// apply job updates (live). Registry-level settings are fixed
				// at construction; only the entry set reconciles.
				if prevCfg != nil && (prevCfg.Jobs.Timezone != newCfg.Jobs.Timezone || prevCfg.Jobs.Timeout != newCfg.Jobs.Timeout) {
					a.log.Warn("jobs.timezone/jobs.timeout changed; restart required for changes to take effect")
				}
				if list, err := mapJobEntries(newCfg); err != nil {
					a.log.Warn("invalid jobs config; keeping previous", logx.Any("err", err))
				} else if err := a.reg.Apply(list); err != nil {
					a.log.Warn("some jobs failed to install", logx.Any("err", err))
				}

				// Keep the final log line concise and human-friendly (details are in debug logs).
				if len(sections) > 0 {
					fields := append([]logx.Field{logx.String("changed", strings.Join(sections, ","))}, attrs...)
					a.log.Info("config reloaded", fields...)
				} else {
					a.log.Info("config reloaded (no changes)")
				}
			}
		}
	})

	a.sup.Go("config.watch", func(c context.Context) error {
		return a.cfgm.Watch(c)
	})

	a.log.Info("app started")
	return nil
}

func (a *App) Stop(ctx context.Context, reason StopReason) error {
	if a.sup == nil {
		return nil
	}
	a.log.Info("stopping", logx.String("reason", string(reason)))

	// First, cancel the app run context so background loops start unwinding immediately.
	a.sup.Cancel()

	// Helper: run a shutdown step with an upper bound so one component can't stall the whole stop.
	step := func(name string, max time.Duration, fn func(context.Context) error) {
		start := time.Now()
		a.log.Debug("stop step begin", logx.String("name", name), logx.Duration("max", max))

		stepCtx := ctx
		var cancel context.CancelFunc
		if max > 0 {
			// respect the caller's deadline; never extend it
			if dl, ok := ctx.Deadline(); ok {
				rem := time.Until(dl)
				if rem <= 0 {
					max = 0
				} else if rem < max {
					max = rem
				}
			}
			if max > 0 {
				stepCtx, cancel = context.WithTimeout(ctx, max)
				defer cancel()
			}
		}

		done := make(chan error, 1)
		go func() {
			defer func() {
				if r := recover(); r != nil {
					done <- fmt.Errorf("panic in stop step %s: %v", name, r)
				}
			}()
			done <- fn(stepCtx)
		}()

		select {
		case err := <-done:
			if err != nil {
				a.log.Warn("stop step error", logx.String("name", name), logx.String("err", err.Error()))
			}
			took := time.Since(start)
			if took >= 500*time.Millisecond {
				a.log.Info("stop step end", logx.String("name", name), logx.Duration("took", took))
			} else {
				a.log.Debug("stop step end", logx.String("name", name), logx.Duration("took", took))
			}
		case <-stepCtx.Done():
			// Contract: fn MUST honor stepCtx and return promptly. If it doesn't, log a leak signal.
			elapsed := time.Since(start)
			a.log.Warn(
				"stop step deadline reached (continuing)",
				logx.String("name", name),
				logx.String("err", stepCtx.Err().Error()),
				logx.Duration("elapsed", elapsed),
			)
			// Leak logging: observe when/if the step eventually finishes.
			go func() {
				err := <-done
				took := time.Since(start)
				if err != nil {
					a.log.Warn("stop step finished after deadline", logx.String("name", name), logx.String("err", err.Error()), logx.Duration("took", took))
				} else {
					a.log.Info("stop step finished after deadline", logx.String("name", name), logx.Duration("took", took))
				}
			}()
		}
	}

	// Watchdog first so systemd sees STOPPING=1 before the slower steps.
	step("watchdog", 1*time.Second, func(context.Context) error {
		if a.wd != nil {
			a.wd.Stop()
		}
		return nil
	})
	step("jobs", 2*time.Second, func(context.Context) error { a.reg.StopAll(); return nil })
	step("scheduler", 3*time.Second, func(c context.Context) error {
		a.sched.Stop(c)
		return a.sched.Close()
	})
	step("journal", 1*time.Second, func(context.Context) error {
		if a.jrnl != nil {
			return a.jrnl.Close()
		}
		return nil
	})

	// Finally, wait for supervised goroutines (config watch/reload, journal recorder, etc.)
	step("supervisor", 2*time.Second, func(c context.Context) error { return a.sup.Wait(c) })

	a.log.Info("stopped")
	if a.logs != nil {
		a.logs.Close()
	}
	return nil
}

func (a *App) logStatus() {
	snap := a.sched.Snapshot()
	fields := []logx.Field{
		logx.String("mode", snap.Mode),
		logx.Int("pending", snap.Pending),
		logx.Uint64("fired", snap.Fired),
		logx.Uint64("failed", snap.Failed),
		logx.Int("jobs", a.reg.Len()),
	}
	if !snap.NextFire.IsZero() {
		fields = append(fields, logx.Time("next_fire", snap.NextFire))
	}
	if sup := a.sup; sup != nil {
		fields = append(fields, logx.Int64("goroutines", sup.CountersNow().Active))
	}
	a.log.Info("status", fields...)
}

// runFromEvent maps bus traffic to journal rows. Only completed runs
// are recorded; removal and clear events carry no run.
func runFromEvent(e eventbus.Event) (journal.Run, bool) {
	switch data := e.Data.(type) {
	case timer.TimerEvent:
		if e.Type != "timer.fired" && e.Type != "timer.failed" {
			return journal.Run{}, false
		}
		return journal.Run{
			Name:     "timer",
			Handle:   uint64(data.Handle),
			Started:  data.At,
			Duration: data.Duration,
			Error:    data.Error,
		}, true
	case jobs.RunEvent:
		return journal.Run{
			Name:     data.Name,
			Handle:   data.Handle,
			Started:  data.Started,
			Duration: data.Duration,
			Error:    data.Error,
		}, true
	default:
		return journal.Run{}, false
	}
}
