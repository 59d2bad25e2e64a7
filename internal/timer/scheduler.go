package timer

import (
	"context"
	"fmt"
	"sync"
	"time"

	"tickd/internal/eventbus"
	"tickd/internal/runtime/supervisor"
	"tickd/internal/timer/wakeup"
	"tickd/pkg/logx"
)

// Scheduler is the timer facade. Construct exactly one per process with
// New; the driver behind it (event loop vs self-driven tick engine) is
// fixed for the scheduler's lifetime.
type Scheduler struct {
	mu  sync.Mutex
	cfg Config
	log logx.Logger
	bus eventbus.Bus

	loop   EventLoop
	src    wakeup.Source
	ownSrc bool
	rep    Reporter
	now    func() time.Time

	drv driver

	sup      *supervisor.Supervisor
	stopCh   chan struct{}
	stopDone chan struct{}
}

func New(cfg Config, log logx.Logger, bus eventbus.Bus, opts ...Option) *Scheduler {
	if log.IsZero() {
		log = logx.Nop()
	}
	s := &Scheduler{
		cfg: cfg.withDefaults(),
		log: log,
		bus: bus,
		now: time.Now,
	}
	for _, o := range opts {
		o(s)
	}
	if s.now == nil {
		s.now = time.Now
	}
	if s.rep == nil {
		s.rep = NewLogReporter(s.log, s.cfg.ReportPerSec)
	}

	if s.loop != nil {
		s.drv = &loopDriver{loop: s.loop}
		return s
	}
	if s.src == nil {
		s.src = wakeup.Default()
		s.ownSrc = true
	}
	s.drv = newTickDriver(s.cfg, s.log, s.bus, s.rep, s.src, s.now)
	return s
}

// Supervisor returns the scheduler's internal supervisor (nil if not
// started). This is used for operational visibility.
func (s *Scheduler) Supervisor() *supervisor.Supervisor {
	s.mu.Lock()
	sup := s.sup
	s.mu.Unlock()
	return sup
}

// Start begins serving registrations and, in self-driven mode, spawns
// the dispatch goroutine that turns wake-ups into ticks. Idempotent.
func (s *Scheduler) Start(ctx context.Context) {
	if ctx == nil {
		ctx = context.Background()
	}
	s.mu.Lock()
	if s.stopCh != nil {
		// If stopping, wait for it to finish before restarting.
		done := s.stopDone
		s.mu.Unlock()
		if done != nil {
			select {
			case <-done:
			case <-ctx.Done():
				return
			}
		} else {
			return
		}
		s.mu.Lock()
		if s.stopCh != nil {
			s.mu.Unlock()
			return
		}
	}

	s.stopCh = make(chan struct{})
	s.stopDone = nil
	s.sup = supervisor.New(ctx,
		supervisor.WithLogger(s.log.With(logx.String("comp", "timer"))),
		// A broken dispatch loop restarts; it must not take the app down.
		supervisor.WithCancelOnError(false),
	)
	sup := s.sup
	s.mu.Unlock()

	if run := s.drv.dispatch(); run != nil {
		sup.GoRestart("dispatch", run, supervisor.WithPublishFirstError(true))
	}
	// Timers that survived a Stop/Start cycle need the wake-up re-armed.
	s.drv.resume()

	s.log.Info("scheduler started", logx.String("mode", s.drv.mode()), logx.Duration("tick_every", s.cfg.TickEvery))
}

// Stop disarms wake-ups and waits (bounded by ctx) for the dispatch
// goroutine to finish. Registered timers stay in the store and resume
// on the next Start.
func (s *Scheduler) Stop(ctx context.Context) {
	if ctx == nil {
		ctx = context.Background()
	}
	s.mu.Lock()
	if s.stopCh == nil {
		s.mu.Unlock()
		return
	}
	// If already stopping, wait.
	if s.stopDone != nil {
		done := s.stopDone
		s.mu.Unlock()
		select {
		case <-done:
		case <-ctx.Done():
		}
		return
	}

	done := make(chan struct{})
	s.stopDone = done
	close(s.stopCh)
	sup := s.sup
	s.mu.Unlock()

	s.drv.quiesce()
	if sup != nil {
		sup.Cancel()
	}

	go func() {
		// Wait unbounded in background; caller can still time out.
		if sup != nil {
			_ = sup.Wait(context.Background())
		}
		s.mu.Lock()
		s.stopCh = nil
		s.stopDone = nil
		s.sup = nil
		s.mu.Unlock()
		close(done)
	}()

	select {
	case <-done:
		s.log.Info("scheduler stopped")
	case <-ctx.Done():
		s.log.Warn("scheduler stop timed out", logx.Err(ctx.Err()))
	}
}

// Close stops the scheduler and releases the wake-up source it created.
// Sources supplied via WithSource belong to the caller and stay open.
func (s *Scheduler) Close() error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	s.Stop(ctx)
	if s.ownSrc && s.src != nil {
		return s.src.Close()
	}
	return nil
}

// Add registers a persistent timer: cb runs with args every interval
// until the returned handle is removed. The zero handle plus a non-nil
// error signal rejection; every rejection also goes to the Reporter.
func (s *Scheduler) Add(interval time.Duration, cb Callback, args ...any) (Handle, error) {
	return s.add(interval, cb, args, true)
}

// AddOnce registers a one-shot timer: cb runs once after interval and
// the handle is released.
func (s *Scheduler) AddOnce(interval time.Duration, cb Callback, args ...any) (Handle, error) {
	return s.add(interval, cb, args, false)
}

func (s *Scheduler) add(interval time.Duration, cb Callback, args []any, persistent bool) (Handle, error) {
	if interval <= 0 {
		err := fmt.Errorf("%w: got %v", ErrInvalidInterval, interval)
		s.rep.Report(err)
		return 0, err
	}

	s.mu.Lock()
	running := s.stopCh != nil
	stopping := s.stopDone != nil
	s.mu.Unlock()
	if !running {
		s.rep.Report(ErrStopped)
		return 0, ErrStopped
	}
	if stopping {
		s.rep.Report(ErrStopping)
		return 0, ErrStopping
	}

	h, err := s.drv.add(interval, persistent, cb, args)
	if err != nil {
		s.rep.Report(err)
		return 0, err
	}
	return h, nil
}

// Remove cancels the timer with the given handle. Cancellation is
// idempotent and total: unknown or already-fired handles succeed too.
// A removed timer never runs again, even if it was already due when
// Remove was called.
func (s *Scheduler) Remove(h Handle) bool { return s.drv.remove(h) }

// RemoveAll cancels every timer and disarms the wake-up. With an event
// loop configured it asks the loop to clear its timers instead.
func (s *Scheduler) RemoveAll() { s.drv.removeAll() }

// Pending reports how many timers are currently scheduled. Always zero
// in event-loop mode; the loop owns its own registry.
func (s *Scheduler) Pending() int { return s.drv.pending() }
