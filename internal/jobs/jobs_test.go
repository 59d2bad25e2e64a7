package jobs

import (
	"context"
	"strings"
	"sync"
	"testing"
	"time"

	"tickd/internal/eventbus"
	"tickd/internal/timer"
	"tickd/pkg/logx"
)

type loopReg struct {
	interval   time.Duration
	persistent bool
	cb         timer.Callback
}

// fakeLoop stands in for a host event loop: it records registrations
// and lets the test invoke callbacks by hand.
type fakeLoop struct {
	mu   sync.Mutex
	next timer.Handle
	regs map[timer.Handle]loopReg
}

func newFakeLoop() *fakeLoop { return &fakeLoop{regs: make(map[timer.Handle]loopReg)} }

func (l *fakeLoop) RegisterTimer(interval time.Duration, persistent bool, cb timer.Callback, args []any) (timer.Handle, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.next++
	l.regs[l.next] = loopReg{interval: interval, persistent: persistent, cb: cb}
	return l.next, nil
}

func (l *fakeLoop) CancelTimer(h timer.Handle) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	if _, ok := l.regs[h]; !ok {
		return false
	}
	delete(l.regs, h)
	return true
}

func (l *fakeLoop) ClearAll() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.regs = make(map[timer.Handle]loopReg)
}

func (l *fakeLoop) reg(t *testing.T, h timer.Handle) loopReg {
	t.Helper()
	l.mu.Lock()
	defer l.mu.Unlock()
	r, ok := l.regs[h]
	if !ok {
		t.Fatalf("no registration for handle %d", h)
	}
	return r
}

func (l *fakeLoop) has(h timer.Handle) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	_, ok := l.regs[h]
	return ok
}

func (l *fakeLoop) count() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.regs)
}

// fire invokes the callback registered for h on the test goroutine. A
// one-shot registration is consumed first, like a real loop would.
func (l *fakeLoop) fire(t *testing.T, h timer.Handle) error {
	t.Helper()
	l.mu.Lock()
	r, ok := l.regs[h]
	if ok && !r.persistent {
		delete(l.regs, h)
	}
	l.mu.Unlock()
	if !ok {
		t.Fatalf("no registration for handle %d", h)
	}
	return r.cb(context.Background())
}

func newTestRegistry(t *testing.T, bus eventbus.Bus) (*Registry, *fakeLoop) {
	t.Helper()
	loop := newFakeLoop()
	sched := timer.New(timer.Config{}, logx.Nop(), bus, timer.WithEventLoop(loop))
	sched.Start(context.Background())
	t.Cleanup(func() { sched.Stop(context.Background()) })

	r := New(Config{Timezone: "UTC"}, logx.Nop(), bus, sched)
	base := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	r.now = func() time.Time { return base }
	return r, loop
}

func TestUpsertInstallsIntervalJob(t *testing.T) {
	t.Parallel()
	r, loop := newTestRegistry(t, nil)

	if err := r.Upsert(Job{Name: "beat", Schedule: "01:30"}); err != nil {
		t.Fatalf("Upsert: %v", err)
	}
	st := r.Snapshot()
	if len(st) != 1 || st[0].Name != "beat" || st[0].Kind != KindHeartbeat {
		t.Fatalf("unexpected snapshot: %+v", st)
	}

	reg := loop.reg(t, timer.Handle(st[0].Handle))
	if !reg.persistent {
		t.Fatal("interval job should register a persistent timer")
	}
	if reg.interval != 90*time.Minute {
		t.Fatalf("interval = %v, want 90m", reg.interval)
	}

	if err := loop.fire(t, timer.Handle(st[0].Handle)); err != nil {
		t.Fatalf("fire: %v", err)
	}
	st = r.Snapshot()
	if st[0].Runs != 1 || st[0].Fails != 0 {
		t.Fatalf("runs/fails = %d/%d, want 1/0", st[0].Runs, st[0].Fails)
	}
	if loop.count() != 1 {
		t.Fatalf("interval job must keep its single registration, have %d", loop.count())
	}
}

func TestCronJobChainsOneShots(t *testing.T) {
	t.Parallel()
	r, loop := newTestRegistry(t, nil)

	if err := r.Upsert(Job{Name: "quarterly", Schedule: "*/15 * * * *"}); err != nil {
		t.Fatalf("Upsert: %v", err)
	}
	st := r.Snapshot()
	h1 := timer.Handle(st[0].Handle)

	reg := loop.reg(t, h1)
	if reg.persistent {
		t.Fatal("cron job should register a one-shot")
	}
	if reg.interval != 15*time.Minute {
		t.Fatalf("delay to next quarter hour = %v, want 15m", reg.interval)
	}
	wantNext := time.Date(2024, 3, 1, 12, 15, 0, 0, time.UTC)
	if !st[0].NextRun.Equal(wantNext) {
		t.Fatalf("NextRun = %v, want %v", st[0].NextRun, wantNext)
	}

	if err := loop.fire(t, h1); err != nil {
		t.Fatalf("fire: %v", err)
	}

	st = r.Snapshot()
	h2 := timer.Handle(st[0].Handle)
	if h2 == h1 {
		t.Fatal("cron job must re-arm under a fresh handle")
	}
	if loop.has(h1) {
		t.Fatal("consumed one-shot registration is still present")
	}
	if reg := loop.reg(t, h2); reg.persistent {
		t.Fatal("re-armed cron timer should be a one-shot")
	}
	if st[0].Runs != 1 {
		t.Fatalf("runs = %d, want 1", st[0].Runs)
	}
}

func TestUpsertUnchangedKeepsTimer(t *testing.T) {
	t.Parallel()
	r, loop := newTestRegistry(t, nil)

	job := Job{Name: "beat", Schedule: "5m"}
	if err := r.Upsert(job); err != nil {
		t.Fatalf("Upsert: %v", err)
	}
	h1 := r.Snapshot()[0].Handle
	if err := r.Upsert(job); err != nil {
		t.Fatalf("Upsert again: %v", err)
	}
	if h2 := r.Snapshot()[0].Handle; h2 != h1 {
		t.Fatalf("unchanged job re-armed: handle %d -> %d", h1, h2)
	}
	if loop.count() != 1 {
		t.Fatalf("registrations = %d, want 1", loop.count())
	}
}

func TestUpsertChangedReplacesTimer(t *testing.T) {
	t.Parallel()
	r, loop := newTestRegistry(t, nil)

	if err := r.Upsert(Job{Name: "beat", Schedule: "5m"}); err != nil {
		t.Fatalf("Upsert: %v", err)
	}
	h1 := timer.Handle(r.Snapshot()[0].Handle)

	if err := r.Upsert(Job{Name: "beat", Schedule: "10m"}); err != nil {
		t.Fatalf("Upsert changed: %v", err)
	}
	h2 := timer.Handle(r.Snapshot()[0].Handle)
	if h1 == h2 {
		t.Fatal("changed job kept its old timer")
	}
	if loop.has(h1) {
		t.Fatal("old registration not cancelled")
	}
	if got := loop.reg(t, h2).interval; got != 10*time.Minute {
		t.Fatalf("new interval = %v, want 10m", got)
	}
}

func TestRemoveCancelsTimer(t *testing.T) {
	t.Parallel()
	r, loop := newTestRegistry(t, nil)

	if err := r.Upsert(Job{Name: "beat", Schedule: "5m"}); err != nil {
		t.Fatalf("Upsert: %v", err)
	}
	h := timer.Handle(r.Snapshot()[0].Handle)

	if !r.Remove("beat") {
		t.Fatal("Remove returned false for installed job")
	}
	if loop.has(h) {
		t.Fatal("registration survived Remove")
	}
	if r.Remove("beat") {
		t.Fatal("Remove of unknown job returned true")
	}
	if r.Len() != 0 {
		t.Fatalf("Len = %d, want 0", r.Len())
	}
}

func TestApplyReconciles(t *testing.T) {
	t.Parallel()
	r, loop := newTestRegistry(t, nil)

	if err := r.Apply([]Job{
		{Name: "a", Schedule: "5m"},
		{Name: "b", Schedule: "10m"},
	}); err != nil {
		t.Fatalf("Apply: %v", err)
	}
	if r.Len() != 2 || loop.count() != 2 {
		t.Fatalf("after first apply: len=%d regs=%d", r.Len(), loop.count())
	}
	hb := timer.Handle(r.Snapshot()[1].Handle) // "b"

	if err := r.Apply([]Job{
		{Name: "b", Schedule: "20m"},
		{Name: "c", Schedule: "1h"},
	}); err != nil {
		t.Fatalf("Apply: %v", err)
	}
	st := r.Snapshot()
	if len(st) != 2 || st[0].Name != "b" || st[1].Name != "c" {
		t.Fatalf("unexpected set after reconcile: %+v", st)
	}
	if timer.Handle(st[0].Handle) == hb {
		t.Fatal("changed job b kept its old timer")
	}
	if loop.count() != 2 {
		t.Fatalf("registrations = %d, want 2", loop.count())
	}

	err := r.Apply([]Job{
		{Name: "ok", Schedule: "5m"},
		{Name: "ok", Schedule: "5m"},
		{Name: "broken", Schedule: "definitely not"},
	})
	if err == nil {
		t.Fatal("expected combined error for duplicate and invalid jobs")
	}
	if !strings.Contains(err.Error(), "duplicate name") {
		t.Fatalf("error should name the duplicate: %v", err)
	}
	// The valid job still landed.
	if _, ok := find(r.Snapshot(), "ok"); !ok {
		t.Fatal("valid job was not applied alongside failures")
	}
}

func find(st []JobStatus, name string) (JobStatus, bool) {
	for _, s := range st {
		if s.Name == name {
			return s, true
		}
	}
	return JobStatus{}, false
}

func TestUpsertValidation(t *testing.T) {
	t.Parallel()
	r, _ := newTestRegistry(t, nil)

	tests := []struct {
		name string
		job  Job
	}{
		{name: "empty name", job: Job{Schedule: "5m"}},
		{name: "missing schedule", job: Job{Name: "x"}},
		{name: "command kind without argv", job: Job{Name: "x", Schedule: "5m", Kind: KindCommand}},
		{name: "unknown kind", job: Job{Name: "x", Schedule: "5m", Kind: Kind("banana")}},
		{name: "bad cron", job: Job{Name: "x", Schedule: "cron:61 * * * *"}},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			if err := r.Upsert(tt.job); err == nil {
				t.Fatalf("Upsert(%+v): expected error", tt.job)
			}
		})
	}
	if r.Len() != 0 {
		t.Fatalf("rejected jobs leaked into the registry: %d", r.Len())
	}
}

func TestCommandJobRuns(t *testing.T) {
	t.Parallel()
	r, loop := newTestRegistry(t, nil)

	if err := r.Upsert(Job{Name: "ok", Schedule: "5m", Command: []string{"sh", "-c", "true"}}); err != nil {
		t.Fatalf("Upsert: %v", err)
	}
	st := r.Snapshot()
	if st[0].Kind != KindCommand {
		t.Fatalf("kind = %s, want command", st[0].Kind)
	}
	if err := loop.fire(t, timer.Handle(st[0].Handle)); err != nil {
		t.Fatalf("fire: %v", err)
	}
	if st := r.Snapshot(); st[0].Runs != 1 || st[0].Fails != 0 {
		t.Fatalf("runs/fails = %d/%d, want 1/0", st[0].Runs, st[0].Fails)
	}
}

func TestCommandJobReportsFailure(t *testing.T) {
	t.Parallel()
	r, loop := newTestRegistry(t, nil)

	if err := r.Upsert(Job{Name: "bad", Schedule: "5m", Command: []string{"sh", "-c", "echo boom; exit 3"}}); err != nil {
		t.Fatalf("Upsert: %v", err)
	}
	h := timer.Handle(r.Snapshot()[0].Handle)

	err := loop.fire(t, h)
	if err == nil {
		t.Fatal("expected error from failing command")
	}
	if !strings.Contains(err.Error(), "job bad") || !strings.Contains(err.Error(), "exit status 3") {
		t.Fatalf("unexpected error: %v", err)
	}

	st := r.Snapshot()
	if st[0].Fails != 1 {
		t.Fatalf("fails = %d, want 1", st[0].Fails)
	}
	if !strings.Contains(st[0].LastErr, "exit status 3") {
		t.Fatalf("LastErr = %q", st[0].LastErr)
	}
}

func TestRunEventPublished(t *testing.T) {
	t.Parallel()
	bus := eventbus.New()
	r, loop := newTestRegistry(t, bus)

	events, unsub := bus.Subscribe(16)
	defer unsub()

	if err := r.Upsert(Job{Name: "beat", Schedule: "5m"}); err != nil {
		t.Fatalf("Upsert: %v", err)
	}
	h := timer.Handle(r.Snapshot()[0].Handle)
	if err := loop.fire(t, h); err != nil {
		t.Fatalf("fire: %v", err)
	}

	for {
		select {
		case e := <-events:
			if e.Type != "job.run" {
				continue
			}
			run, ok := e.Data.(RunEvent)
			if !ok {
				t.Fatalf("job.run payload is %T", e.Data)
			}
			if run.Name != "beat" || run.Handle != uint64(h) || run.Error != "" {
				t.Fatalf("unexpected run event: %+v", run)
			}
			return
		default:
			t.Fatal("no job.run event published")
		}
	}
}

func TestStopAllLeavesForeignTimersAlone(t *testing.T) {
	t.Parallel()
	r, loop := newTestRegistry(t, nil)

	if err := r.Apply([]Job{{Name: "a", Schedule: "5m"}, {Name: "b", Schedule: "10m"}}); err != nil {
		t.Fatalf("Apply: %v", err)
	}
	foreign, err := r.sched.Add(time.Minute, func(context.Context, ...any) error { return nil })
	if err != nil {
		t.Fatalf("Add: %v", err)
	}

	r.StopAll()
	if r.Len() != 0 {
		t.Fatalf("Len = %d after StopAll", r.Len())
	}
	if !loop.has(foreign) {
		t.Fatal("StopAll cancelled a timer it does not own")
	}
	if loop.count() != 1 {
		t.Fatalf("registrations = %d, want only the foreign timer", loop.count())
	}
}
