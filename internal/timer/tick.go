package timer

import (
	"context"
	"fmt"
	"runtime/debug"
	"sync"
	"sync/atomic"
	"time"

	"tickd/internal/eventbus"
	"tickd/internal/timer/wakeup"
	"tickd/pkg/logx"
)

// tickDriver is the self-driven execution strategy: a store of tasks
// bucketed by fire second, drained by one tick per wake-up.
//
// All mutation happens under mu. The mutex is never held while a
// callback runs, so callbacks are free to call Add/Remove/RemoveAll,
// including removing themselves. Ticks cannot re-enter: the wake-up
// source coalesces deliveries and a single dispatch goroutine consumes
// them.
type tickDriver struct {
	cfg Config
	log logx.Logger
	bus eventbus.Bus
	rep Reporter
	src wakeup.Source
	now func() time.Time

	mu      sync.Mutex
	buckets map[int64]map[Handle]*task // fire second -> due set
	live    map[Handle]struct{}       // present iff the handle may still fire
	last    Handle                    // allocator cursor; wraps past zero
	armed   bool

	fired  atomic.Uint64
	failed atomic.Uint64
}

func newTickDriver(cfg Config, log logx.Logger, bus eventbus.Bus, rep Reporter, src wakeup.Source, now func() time.Time) *tickDriver {
	return &tickDriver{
		cfg:     cfg,
		log:     log,
		bus:     bus,
		rep:     rep,
		src:     src,
		now:     now,
		buckets: map[int64]map[Handle]*task{},
		live:    map[Handle]struct{}{},
	}
}

func (d *tickDriver) mode() string { return "tick" }

func (d *tickDriver) add(interval time.Duration, persistent bool, cb Callback, args []any) (Handle, error) {
	if cb == nil {
		return 0, ErrNotCallable
	}

	d.mu.Lock()
	h := d.nextHandleLocked()
	t := &task{handle: h, cb: cb, args: args, interval: interval, persistent: persistent}
	d.insertLocked(t, d.now())
	d.live[h] = struct{}{}
	// First pending task arms the wake-up; it stays armed until a tick
	// finds the store empty.
	if !d.armed {
		d.src.Arm(d.cfg.TickEvery)
		d.armed = true
	}
	fireSec := t.fireSec
	d.mu.Unlock()

	d.log.Debug("timer added",
		logx.Uint64("handle", uint64(h)),
		logx.Duration("interval", interval),
		logx.Bool("persistent", persistent),
		logx.Time("fire_at", time.Unix(fireSec, 0)))
	return h, nil
}

func (d *tickDriver) remove(h Handle) bool {
	d.mu.Lock()
	_, wasLive := d.live[h]
	delete(d.live, h)
	for sec, bucket := range d.buckets {
		if _, ok := bucket[h]; ok {
			delete(bucket, h)
			if len(bucket) == 0 {
				delete(d.buckets, sec)
			}
			break
		}
	}
	d.mu.Unlock()

	if wasLive {
		if d.bus != nil {
			d.bus.Publish(eventbus.Event{Type: "timer.removed", Data: TimerEvent{Handle: h}})
		}
		d.log.Debug("timer removed", logx.Uint64("handle", uint64(h)))
	}
	return true
}

func (d *tickDriver) removeAll() {
	d.mu.Lock()
	n := len(d.live)
	d.buckets = map[int64]map[Handle]*task{}
	d.live = map[Handle]struct{}{}
	if d.armed {
		d.src.Disarm()
		d.armed = false
	}
	d.mu.Unlock()

	if n > 0 {
		if d.bus != nil {
			d.bus.Publish(eventbus.Event{Type: "timer.cleared", Data: n})
		}
		d.log.Debug("all timers removed", logx.Int("count", n))
	}
}

func (d *tickDriver) pending() int {
	d.mu.Lock()
	n := len(d.live)
	d.mu.Unlock()
	return n
}

func (d *tickDriver) stats() driverStats {
	d.mu.Lock()
	defer d.mu.Unlock()
	st := driverStats{
		pending: len(d.live),
		armed:   d.armed,
		fired:   d.fired.Load(),
		failed:  d.failed.Load(),
	}
	var minSec int64
	for sec := range d.buckets {
		if minSec == 0 || sec < minSec {
			minSec = sec
		}
	}
	if minSec != 0 {
		st.nextFire = time.Unix(minSec, 0)
	}
	return st
}

func (d *tickDriver) dispatch() func(ctx context.Context) error {
	return func(ctx context.Context) error {
		for {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-d.src.C():
				d.tick(ctx)
			}
		}
	}
}

func (d *tickDriver) quiesce() {
	d.mu.Lock()
	if d.armed {
		d.src.Disarm()
		d.armed = false
	}
	d.mu.Unlock()
}

func (d *tickDriver) resume() {
	d.mu.Lock()
	if len(d.buckets) > 0 && !d.armed {
		d.src.Arm(d.cfg.TickEvery)
		d.armed = true
	}
	d.mu.Unlock()
}

// tick drains every bucket that is due. Overdue buckets accumulate when
// the process was busy or suspended; all of them are processed in one
// pass, in unspecified order.
func (d *tickDriver) tick(ctx context.Context) {
	d.mu.Lock()
	if len(d.buckets) == 0 {
		// Idle: stop waking up until the next registration re-arms.
		if d.armed {
			d.src.Disarm()
			d.armed = false
		}
		d.mu.Unlock()
		return
	}
	nowSec := d.now().Unix()
	var due []*task
	for sec, bucket := range d.buckets {
		if sec > nowSec {
			continue
		}
		for _, t := range bucket {
			due = append(due, t)
		}
		delete(d.buckets, sec)
	}
	d.mu.Unlock()

	for _, t := range due {
		d.runOne(ctx, t)
	}
}

func (d *tickDriver) runOne(ctx context.Context, t *task) {
	d.mu.Lock()
	if _, ok := d.live[t.handle]; !ok {
		// Removed after becoming due but before we got to it.
		d.mu.Unlock()
		return
	}
	if !t.persistent {
		// One-shot: consumed now. A Remove from inside the callback
		// stays an idempotent no-op.
		delete(d.live, t.handle)
	}
	d.mu.Unlock()

	started := d.now()
	err := d.invoke(ctx, t)
	dur := d.now().Sub(started)

	if err != nil {
		d.failed.Add(1)
		d.rep.Report(&CallbackError{Handle: t.handle, Err: err})
		if d.bus != nil {
			d.bus.Publish(eventbus.Event{Type: "timer.failed", Time: started, Data: TimerEvent{
				Handle: t.handle, Persistent: t.persistent, At: started, Duration: dur, Error: err.Error(),
			}})
		}
	} else {
		d.fired.Add(1)
		if d.bus != nil {
			d.bus.Publish(eventbus.Event{Type: "timer.fired", Time: started, Data: TimerEvent{
				Handle: t.handle, Persistent: t.persistent, At: started, Duration: dur,
			}})
		}
	}

	if !t.persistent {
		return
	}
	d.mu.Lock()
	if _, ok := d.live[t.handle]; ok {
		// Respace from completion time, not the original schedule:
		// intervals never accumulate a backlog but drift under load.
		d.insertLocked(t, d.now())
	}
	d.mu.Unlock()
}

func (d *tickDriver) invoke(ctx context.Context, t *task) (err error) {
	defer func() {
		if r := recover(); r != nil {
			d.log.Error("timer callback panicked",
				logx.Uint64("handle", uint64(t.handle)),
				logx.Any("panic", r),
				logx.Stack(string(debug.Stack())))
			err = fmt.Errorf("panic: %v", r)
		}
	}()
	return t.cb(ctx, t.args...)
}

// insertLocked places t into the bucket for from+interval. The fire
// time is rounded up to a whole second so a task never becomes due
// before its interval has fully elapsed.
func (d *tickDriver) insertLocked(t *task, from time.Time) {
	t.fireSec = ceilSec(from.Add(t.interval))
	bucket := d.buckets[t.fireSec]
	if bucket == nil {
		bucket = map[Handle]*task{}
		d.buckets[t.fireSec] = bucket
	}
	bucket[t.handle] = t
}

// nextHandleLocked issues the next free handle. The cursor wraps past
// the top of the uint64 range back to 1; zero and still-live handles
// are skipped so a wrap can never collide with an active timer.
func (d *tickDriver) nextHandleLocked() Handle {
	for {
		d.last++
		if d.last == 0 {
			d.last = 1
		}
		if _, taken := d.live[d.last]; !taken {
			return d.last
		}
	}
}

func ceilSec(tm time.Time) int64 {
	sec := tm.Unix()
	if tm.After(time.Unix(sec, 0)) {
		sec++
	}
	return sec
}
