package timer

import (
	"context"
	"time"
)

// driver is the execution strategy behind the facade. Exactly one
// implementation is picked when the Scheduler is constructed.
type driver interface {
	mode() string
	add(interval time.Duration, persistent bool, cb Callback, args []any) (Handle, error)
	remove(h Handle) bool
	removeAll()
	pending() int
	stats() driverStats

	// dispatch returns the long-running loop feeding the tick engine,
	// or nil if the driver needs no goroutine of its own.
	dispatch() func(ctx context.Context) error
	// quiesce stops wake-ups without touching registered timers.
	quiesce()
	// resume re-arms wake-ups if timers are still registered.
	resume()
}

type driverStats struct {
	pending  int
	armed    bool
	fired    uint64
	failed   uint64
	nextFire time.Time
}

// loopDriver forwards every operation to the host event loop. The
// loop owns validation, the handle space and the firing of callbacks.
type loopDriver struct {
	loop EventLoop
}

func (d *loopDriver) mode() string { return "loop" }

func (d *loopDriver) add(interval time.Duration, persistent bool, cb Callback, args []any) (Handle, error) {
	return d.loop.RegisterTimer(interval, persistent, cb, args)
}

func (d *loopDriver) remove(h Handle) bool { return d.loop.CancelTimer(h) }

func (d *loopDriver) removeAll() { d.loop.ClearAll() }

func (d *loopDriver) pending() int { return 0 }

func (d *loopDriver) stats() driverStats { return driverStats{} }

func (d *loopDriver) dispatch() func(ctx context.Context) error { return nil }

func (d *loopDriver) quiesce() {}

func (d *loopDriver) resume() {}
