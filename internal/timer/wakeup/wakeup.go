// Package wakeup provides the periodic wake-up sources that drive the
// scheduler when no host event loop is available.
//
// A Source delivers coalesced wake-ups on C(): consumers that fall behind
// see at most one pending wake-up, never a backlog.
package wakeup

import (
	"errors"
	"sync"
	"time"
)

// ErrUnsupported is returned by constructors for sources the current
// platform cannot provide.
var ErrUnsupported = errors.New("wakeup: unsupported on this platform")

// Source delivers periodic wake-ups.
//
// Arm starts (or re-starts with a new period) the wake-up stream; Disarm
// stops it. Both are idempotent. C() stays valid across Arm/Disarm cycles
// and is never closed; Close releases OS resources and silences C() for good.
type Source interface {
	Arm(every time.Duration)
	Disarm()
	C() <-chan struct{}
	Close() error
}

// Ticker is a portable Source backed by time.Ticker.
type Ticker struct {
	mu     sync.Mutex
	tick   *time.Ticker
	stop   chan struct{}
	closed bool

	ch chan struct{}
}

func NewTicker() *Ticker {
	return &Ticker{ch: make(chan struct{}, 1)}
}

func (s *Ticker) Arm(every time.Duration) {
	if every <= 0 {
		every = time.Second
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	s.disarmLocked()

	t := time.NewTicker(every)
	stop := make(chan struct{})
	s.tick = t
	s.stop = stop

	go func() {
		for {
			select {
			case <-stop:
				return
			case <-t.C:
				// Coalesce: drop the tick if one is already pending.
				select {
				case s.ch <- struct{}{}:
				default:
				}
			}
		}
	}()
}

func (s *Ticker) Disarm() {
	s.mu.Lock()
	s.disarmLocked()
	s.mu.Unlock()
}

func (s *Ticker) disarmLocked() {
	if s.tick != nil {
		s.tick.Stop()
		s.tick = nil
	}
	if s.stop != nil {
		close(s.stop)
		s.stop = nil
	}
}

func (s *Ticker) C() <-chan struct{} { return s.ch }

func (s *Ticker) Close() error {
	s.mu.Lock()
	s.closed = true
	s.disarmLocked()
	s.mu.Unlock()
	return nil
}
