// Package watchdog wires the process into systemd service supervision:
// READY/STOPPING notifications plus, when the unit sets WatchdogSec, a
// periodic WATCHDOG=1 keep-alive scheduled on the timer scheduler.
// Outside systemd every call is a cheap no-op.
package watchdog

import (
	"context"
	"time"

	"github.com/coreos/go-systemd/v22/daemon"

	"tickd/internal/timer"
	"tickd/pkg/logx"
)

type Service struct {
	log   logx.Logger
	sched *timer.Scheduler

	handle   timer.Handle
	interval time.Duration

	notify func(state string) (bool, error)
	period func() (time.Duration, error)
}

func New(log logx.Logger, sched *timer.Scheduler) *Service {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Service{
		log:    log,
		sched:  sched,
		notify: func(state string) (bool, error) { return daemon.SdNotify(false, state) },
		period: func() (time.Duration, error) { return daemon.SdWatchdogEnabled(false) },
	}
}

// Start announces readiness. When the unit carries a watchdog budget it
// also arms a persistent keep-alive at half that budget; the scheduler
// must already be running.
func (s *Service) Start() error {
	if ack, err := s.notify(daemon.SdNotifyReady); err != nil {
		s.log.Warn("sd_notify failed", logx.Err(err))
	} else if ack {
		s.log.Info("systemd notified ready")
	}

	wd, err := s.period()
	if err != nil {
		s.log.Warn("watchdog probe failed", logx.Err(err))
		return nil
	}
	if wd <= 0 {
		return nil
	}

	every := wd / 2
	if every < time.Second {
		// Fire times are rounded up to whole seconds, so budgets under
		// ~2s cannot be honored reliably.
		every = time.Second
		s.log.Warn("watchdog budget is tight for second-granularity timers", logx.Duration("budget", wd))
	}
	h, err := s.sched.Add(every, func(context.Context, ...any) error {
		_, nerr := s.notify(daemon.SdNotifyWatchdog)
		return nerr
	})
	if err != nil {
		return err
	}
	s.handle, s.interval = h, every
	s.log.Info("watchdog keep-alive armed", logx.Duration("every", every), logx.Duration("budget", wd))
	return nil
}

// Stop cancels the keep-alive and announces shutdown.
func (s *Service) Stop() {
	if s.handle != 0 {
		s.sched.Remove(s.handle)
		s.handle = 0
	}
	if _, err := s.notify(daemon.SdNotifyStopping); err != nil {
		s.log.Warn("sd_notify failed", logx.Err(err))
	}
}

// Interval reports the armed keep-alive period, zero when not armed.
func (s *Service) Interval() time.Duration { return s.interval }
