//go:build linux

package wakeup

import (
	"os"
	"os/signal"
	"sync"
	"time"

	"golang.org/x/sys/unix"
)

// Alarm is a Source backed by the kernel's real-time interval timer:
// setitimer(ITIMER_REAL) delivers SIGALRM to the process on each period.
//
// The interval timer is process-wide, so create at most one Alarm per
// process. Delivery granularity is coarse; periods below one second are
// honored by the kernel but tickd arms this source at whole seconds.
type Alarm struct {
	mu     sync.Mutex
	armed  bool
	closed bool

	sig  chan os.Signal
	stop chan struct{}
	ch   chan struct{}
}

func NewAlarm() (*Alarm, error) {
	a := &Alarm{
		sig:  make(chan os.Signal, 1),
		stop: make(chan struct{}),
		ch:   make(chan struct{}, 1),
	}
	signal.Notify(a.sig, unix.SIGALRM)

	go func() {
		for {
			select {
			case <-a.stop:
				return
			case <-a.sig:
				select {
				case a.ch <- struct{}{}:
				default:
				}
			}
		}
	}()
	return a, nil
}

func (a *Alarm) Arm(every time.Duration) {
	if every <= 0 {
		every = time.Second
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.closed {
		return
	}
	it := unix.Itimerval{
		Interval: unix.NsecToTimeval(every.Nanoseconds()),
		Value:    unix.NsecToTimeval(every.Nanoseconds()),
	}
	if _, err := unix.Setitimer(unix.ITIMER_REAL, it); err == nil {
		a.armed = true
	}
}

func (a *Alarm) Disarm() {
	a.mu.Lock()
	defer a.mu.Unlock()
	if !a.armed {
		return
	}
	_, _ = unix.Setitimer(unix.ITIMER_REAL, unix.Itimerval{})
	a.armed = false
}

func (a *Alarm) C() <-chan struct{} { return a.ch }

func (a *Alarm) Close() error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.closed {
		return nil
	}
	a.closed = true
	if a.armed {
		_, _ = unix.Setitimer(unix.ITIMER_REAL, unix.Itimerval{})
		a.armed = false
	}
	signal.Stop(a.sig)
	close(a.stop)
	return nil
}

// Default picks the best wake-up source for this platform: the kernel
// interval timer, falling back to a plain ticker if it cannot be set up.
func Default() Source {
	if a, err := NewAlarm(); err == nil {
		return a
	}
	return NewTicker()
}
