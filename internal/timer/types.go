package timer

import (
	"context"
	"time"

	"tickd/internal/timer/wakeup"
)

// Handle identifies one scheduled timer. It stays stable across the
// repeated firings of a persistent timer. Zero is never issued; it is
// the "no timer" sentinel returned together with an error.
type Handle uint64

// Callback is the unit of work a timer runs. The context is the
// scheduler's run context and is canceled on shutdown. Returning a
// non-nil error marks the run as failed; the error is reported but the
// timer itself keeps its schedule.
type Callback func(ctx context.Context, args ...any) error

// EventLoop is the timer primitive of a host event loop. When a
// Scheduler is constructed with WithEventLoop, every public operation
// is a thin forward to these three calls and the internal store stays
// unused. The loop validates its own input and owns the handle space.
type EventLoop interface {
	RegisterTimer(interval time.Duration, persistent bool, cb Callback, args []any) (Handle, error)
	CancelTimer(h Handle) bool
	ClearAll()
}

// Reporter receives scheduler errors: rejected registrations and
// callback failures. Implementations must not block and must not
// panic; reporting happens on the dispatch path.
type Reporter interface {
	Report(err error)
}

// ReporterFunc adapts a function to the Reporter interface.
type ReporterFunc func(err error)

func (f ReporterFunc) Report(err error) { f(err) }

// TimerEvent is the payload of "timer.*" bus events.
type TimerEvent struct {
	Handle     Handle        `json:"handle"`
	Persistent bool          `json:"persistent"`
	At         time.Time     `json:"at"`
	Duration   time.Duration `json:"duration"`
	Error      string        `json:"error,omitempty"`
}

// Config controls the scheduler.
type Config struct {
	// TickEvery is the self-driven wake-up period. Floored to one
	// second; the tick path is not built for sub-second precision.
	TickEvery time.Duration

	// ReportPerSec bounds how many errors per second the default
	// log-backed reporter writes. Excess reports are dropped.
	ReportPerSec int
}

func (c Config) withDefaults() Config {
	if c.TickEvery < time.Second {
		c.TickEvery = time.Second
	}
	if c.ReportPerSec <= 0 {
		c.ReportPerSec = 5
	}
	return c
}

// Option customizes a Scheduler at construction time.
type Option func(*Scheduler)

// WithEventLoop delegates all scheduling to the given loop. The
// self-driven store, allocator and tick engine stay unused.
func WithEventLoop(loop EventLoop) Option {
	return func(s *Scheduler) { s.loop = loop }
}

// WithSource replaces the platform wake-up source used in self-driven
// mode. Ignored when an event loop is configured. The caller keeps
// ownership: Close will not touch a supplied source.
func WithSource(src wakeup.Source) Option {
	return func(s *Scheduler) { s.src = src }
}

// WithReporter replaces the default log-backed error reporter.
func WithReporter(rep Reporter) Option {
	return func(s *Scheduler) { s.rep = rep }
}

// WithNow replaces the clock. Tests use this to drive the tick engine
// deterministically.
func WithNow(now func() time.Time) Option {
	return func(s *Scheduler) { s.now = now }
}

// task is one scheduled unit of work in the self-driven store.
type task struct {
	handle     Handle
	cb         Callback
	args       []any
	interval   time.Duration // immutable for the life of the timer
	persistent bool
	fireSec    int64 // unix second of the bucket holding this task
}
