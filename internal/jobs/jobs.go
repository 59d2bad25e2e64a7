// Package jobs maps named, config-driven schedules onto the timer
// scheduler.
//
// Interval jobs become one persistent timer each. Cron jobs are chained
// one-shots: every fire computes the next occurrence with robfig/cron
// and arms a fresh timer for it, so the scheduler stays the only thing
// that owns time. Job bodies run on the scheduler's dispatch path,
// which is why command jobs always carry a timeout.
package jobs

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/multierr"

	"tickd/internal/eventbus"
	"tickd/internal/timer"
	"tickd/pkg/logx"
)

// Kind selects what a job run does.
type Kind string

const (
	KindCommand   Kind = "command"
	KindHeartbeat Kind = "heartbeat"
)

// Job is one named schedule. Command holds the argv for command jobs;
// Timeout caps a single run and falls back to the registry default.
type Job struct {
	Name     string
	Schedule string
	Kind     Kind
	Command  []string
	Timeout  time.Duration
}

// Config tunes the registry.
type Config struct {
	Timezone string        // IANA zone for cron evaluation; "" means local time
	Timeout  time.Duration // default per-run cap for command jobs
}

func (c Config) withDefaults() Config {
	if c.Timeout <= 0 {
		c.Timeout = time.Minute
	}
	return c
}

// RunEvent is the payload published on the bus as "job.run".
type RunEvent struct {
	Name     string        `json:"name"`
	Handle   uint64        `json:"handle"`
	Started  time.Time     `json:"started"`
	Duration time.Duration `json:"duration"`
	Error    string        `json:"error,omitempty"`
}

// JobStatus is a point-in-time view of one installed job.
type JobStatus struct {
	Name     string    `json:"name"`
	Schedule string    `json:"schedule"`
	Kind     Kind      `json:"kind"`
	Handle   uint64    `json:"handle"`
	NextRun  time.Time `json:"next_run"` // cron jobs only; interval jobs are paced by the scheduler
	Runs     uint64    `json:"runs"`
	Fails    uint64    `json:"fails"`
	LastErr  string    `json:"last_err,omitempty"`
}

// Registry owns the installed job set and its timers.
type Registry struct {
	cfg    Config
	log    logx.Logger
	bus    eventbus.Bus
	sched  *timer.Scheduler
	parser cron.Parser
	loc    *time.Location
	now    func() time.Time

	mu   sync.Mutex
	jobs map[string]*entry
}

type entry struct {
	job  Job
	spec Spec
	cs   cron.Schedule // nil for interval jobs

	// Guarded by Registry.mu.
	handle  timer.Handle
	nextAt  time.Time
	runs    uint64
	fails   uint64
	lastErr string
}

// New builds an empty registry on top of sched. Install jobs with
// Upsert or Apply once the scheduler is running.
func New(cfg Config, log logx.Logger, bus eventbus.Bus, sched *timer.Scheduler) *Registry {
	if log.IsZero() {
		log = logx.Nop()
	}
	r := &Registry{
		cfg:   cfg.withDefaults(),
		log:   log,
		bus:   bus,
		sched: sched,
		parser: cron.NewParser(
			cron.SecondOptional | cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor),
		loc:  time.Local,
		now:  time.Now,
		jobs: make(map[string]*entry),
	}
	if tz := strings.TrimSpace(cfg.Timezone); tz != "" {
		loc, err := time.LoadLocation(tz)
		if err != nil {
			log.Warn("invalid timezone; falling back to Local", logx.String("tz", tz), logx.Any("err", err))
		} else {
			r.loc = loc
		}
	}
	return r
}

// Upsert installs or replaces the named job. An unchanged job is left
// alone so its phase survives config reloads; a changed one is re-armed
// from now.
func (r *Registry) Upsert(job Job) error {
	job.Name = strings.TrimSpace(job.Name)
	if job.Name == "" {
		return errors.New("job name required")
	}
	spec, err := ParseSchedule(job.Schedule)
	if err != nil {
		return fmt.Errorf("job %s: %w", job.Name, err)
	}
	if job.Kind == "" {
		if len(job.Command) > 0 {
			job.Kind = KindCommand
		} else {
			job.Kind = KindHeartbeat
		}
	}
	switch job.Kind {
	case KindCommand:
		if len(job.Command) == 0 {
			return fmt.Errorf("job %s: command required", job.Name)
		}
	case KindHeartbeat:
	default:
		return fmt.Errorf("job %s: unknown kind %q", job.Name, job.Kind)
	}
	var cs cron.Schedule
	if spec.IsCron() {
		cs, err = r.parser.Parse(spec.Cron)
		if err != nil {
			return fmt.Errorf("job %s: invalid cron %q: %w", job.Name, spec.Cron, err)
		}
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if old, ok := r.jobs[job.Name]; ok {
		if jobEqual(old.job, job) {
			return nil
		}
		r.dropLocked(old)
	}
	e := &entry{job: job, spec: spec, cs: cs}
	if err := r.armLocked(e); err != nil {
		return fmt.Errorf("job %s: %w", job.Name, err)
	}
	r.jobs[job.Name] = e
	r.log.Info("job installed",
		logx.String("job", job.Name),
		logx.String("schedule", job.Schedule),
		logx.String("kind", string(job.Kind)),
		logx.Uint64("handle", uint64(e.handle)))
	return nil
}

// Remove uninstalls the named job and cancels its timer. Unknown names
// report false.
func (r *Registry) Remove(name string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.jobs[strings.TrimSpace(name)]
	if !ok {
		return false
	}
	r.dropLocked(e)
	delete(r.jobs, e.job.Name)
	r.log.Info("job removed", logx.String("job", e.job.Name))
	return true
}

// Apply reconciles the installed set against want: new names are
// installed, changed ones re-armed, absent ones removed. Per-job
// failures are collected; the rest of the set is still applied.
func (r *Registry) Apply(want []Job) error {
	var errs error
	seen := make(map[string]struct{}, len(want))
	for _, j := range want {
		name := strings.TrimSpace(j.Name)
		if name == "" {
			errs = multierr.Append(errs, errors.New("job name required"))
			continue
		}
		if _, dup := seen[name]; dup {
			errs = multierr.Append(errs, fmt.Errorf("job %s: duplicate name", name))
			continue
		}
		seen[name] = struct{}{}
		if err := r.Upsert(j); err != nil {
			errs = multierr.Append(errs, err)
		}
	}

	r.mu.Lock()
	var stale []string
	for name := range r.jobs {
		if _, ok := seen[name]; !ok {
			stale = append(stale, name)
		}
	}
	r.mu.Unlock()
	for _, name := range stale {
		r.Remove(name)
	}
	return errs
}

// StopAll cancels every installed job's timer and empties the registry.
// Timers the scheduler hosts for anyone else are untouched.
func (r *Registry) StopAll() {
	r.mu.Lock()
	defer r.mu.Unlock()
	for name, e := range r.jobs {
		r.dropLocked(e)
		delete(r.jobs, name)
	}
}

// Len reports the number of installed jobs.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.jobs)
}

// Snapshot lists installed jobs sorted by name.
func (r *Registry) Snapshot() []JobStatus {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]JobStatus, 0, len(r.jobs))
	for _, e := range r.jobs {
		out = append(out, JobStatus{
			Name:     e.job.Name,
			Schedule: e.job.Schedule,
			Kind:     e.job.Kind,
			Handle:   uint64(e.handle),
			NextRun:  e.nextAt,
			Runs:     e.runs,
			Fails:    e.fails,
			LastErr:  e.lastErr,
		})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

func (r *Registry) armLocked(e *entry) error {
	cb := r.callback(e)
	if e.cs != nil {
		now := r.now().In(r.loc)
		next := e.cs.Next(now)
		if next.IsZero() {
			return errors.New("cron schedule has no future run")
		}
		delay := next.Sub(now)
		if delay <= 0 {
			delay = time.Second
		}
		h, err := r.sched.AddOnce(delay, cb)
		if err != nil {
			return err
		}
		e.handle, e.nextAt = h, next
		return nil
	}
	h, err := r.sched.Add(e.spec.Every, cb)
	if err != nil {
		return err
	}
	e.handle = h
	return nil
}

func (r *Registry) dropLocked(e *entry) {
	if e.handle != 0 {
		r.sched.Remove(e.handle)
		e.handle = 0
	}
}

func (r *Registry) callback(e *entry) timer.Callback {
	return func(ctx context.Context, _ ...any) error {
		started := r.now()
		err := r.execute(ctx, e.job)
		dur := r.now().Sub(started)

		r.mu.Lock()
		h := e.handle
		e.runs++
		if err != nil {
			e.fails++
			e.lastErr = err.Error()
		} else {
			e.lastErr = ""
		}
		// Chain the next cron occurrence, unless the job was replaced
		// or removed while this run was in flight.
		if e.cs != nil && r.jobs[e.job.Name] == e {
			if aerr := r.armLocked(e); aerr != nil {
				r.log.Error("job re-arm failed", logx.String("job", e.job.Name), logx.Err(aerr))
			}
		}
		r.mu.Unlock()

		if err != nil {
			r.log.Warn("job.failed", logx.String("job", e.job.Name), logx.Duration("dur", dur), logx.Any("err", err))
		} else {
			r.log.Debug("job.completed", logx.String("job", e.job.Name), logx.Duration("dur", dur))
		}
		if r.bus != nil {
			r.bus.Publish(eventbus.Event{Type: "job.run", Time: started, Data: RunEvent{
				Name:     e.job.Name,
				Handle:   uint64(h),
				Started:  started,
				Duration: dur,
				Error:    errString(err),
			}})
		}
		if err != nil {
			return fmt.Errorf("job %s: %w", e.job.Name, err)
		}
		return nil
	}
}

func jobEqual(a, b Job) bool {
	if a.Name != b.Name || a.Schedule != b.Schedule || a.Kind != b.Kind || a.Timeout != b.Timeout {
		return false
	}
	if len(a.Command) != len(b.Command) {
		return false
	}
	for i := range a.Command {
		if a.Command[i] != b.Command[i] {
			return false
		}
	}
	return true
}

func errString(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}
