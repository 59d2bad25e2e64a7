// Package timer implements tickd's process-local timer scheduler.
//
// A single Scheduler instance owns all pending timers for the process.
// Callers register callbacks to run once (AddOnce) or repeatedly (Add)
// after an interval, and cancel them with Remove/RemoveAll. Behind the
// facade one of two drivers does the work, fixed at construction time:
//
//   - delegating: every operation forwards to a host event loop that
//     exposes its own timer primitive (see EventLoop);
//   - self-driven: timers live in an internal store bucketed by fire
//     second, and a periodic wake-up source (see wakeup.Source) triggers
//     a tick that drains everything due.
//
// The self-driven path is deliberately coarse: wake-ups arrive about
// once per second, so a timer due at second T fires somewhere in
// [T, T+1). Persistent timers respace from the moment they finished
// running, not from the original schedule, so a slow callback delays
// later fires instead of accumulating a backlog.
//
// Callback failures (errors and panics alike) are contained at the tick
// boundary: they are handed to the configured Reporter and never stop
// sibling timers or the scheduler itself.
package timer
