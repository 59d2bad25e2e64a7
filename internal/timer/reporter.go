package timer

import (
	"sync/atomic"

	"golang.org/x/time/rate"

	"tickd/pkg/logx"
)

// NewLogReporter returns the default Reporter: errors go to the log,
// throttled to perSec lines per second. The scheduler reports on the
// dispatch path, so over-budget errors are counted and dropped rather
// than queued.
func NewLogReporter(log logx.Logger, perSec int) Reporter {
	if perSec <= 0 {
		perSec = 5
	}
	return &logReporter{
		log: log,
		lim: rate.NewLimiter(rate.Limit(perSec), perSec),
	}
}

type logReporter struct {
	log     logx.Logger
	lim     *rate.Limiter
	dropped atomic.Uint64
}

func (r *logReporter) Report(err error) {
	if err == nil {
		return
	}
	if !r.lim.Allow() {
		r.dropped.Add(1)
		return
	}
	r.log.Error("scheduler error", logx.Err(err))
}

// Dropped reports how many errors the rate limit suppressed.
func (r *logReporter) Dropped() uint64 { return r.dropped.Load() }
