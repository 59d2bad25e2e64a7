package journal

import (
	"errors"
	"time"
)

var ErrDisabled = errors.New("journal disabled")

// Config configures the run journal.
//
// Driver values:
//   - "memory": bounded in-process ring, lost on restart
//   - "sqlite": SQLite database file
//
// If Driver is empty or "none", journaling is disabled.
type Config struct {
	Driver      string
	Path        string        // sqlite only
	BusyTimeout time.Duration // sqlite only; 0 means default
	Keep        int           // memory only; runs retained, 0 means default
}

// Run records one timer or job execution.
// Keep it compact and schema-stable.
type Run struct {
	ID       string // assigned on append when empty
	Name     string
	Handle   uint64
	Started  time.Time
	Duration time.Duration
	Error    string
}

// Failed reports whether the run ended in an error.
func (r Run) Failed() bool { return r.Error != "" }
