// Package journal keeps a history of timer and job runs.
//
// Rows arrive through AppendRun; the app feeds it from the event bus.
// Retention is the caller's business: the app wires a periodic
// PruneBefore through the same scheduler the journal records.
package journal

import (
	"context"
	"errors"
	"strings"
	"time"

	"tickd/pkg/logx"
)

// Journal is the minimal run-history API used by the app.
type Journal interface {
	AppendRun(ctx context.Context, r Run) error
	RecentRuns(ctx context.Context, limit int) ([]Run, error)
	PruneBefore(ctx context.Context, cutoff time.Time) (removed int64, err error)
	Close() error
}

// Open initializes the configured journal.
// It returns (nil, nil) if journaling is disabled.
func Open(cfg Config, log logx.Logger) (Journal, error) {
	driver := strings.ToLower(strings.TrimSpace(cfg.Driver))
	if driver == "" || driver == "none" {
		return nil, nil
	}
	if log.IsZero() {
		log = logx.Nop()
	}

	switch driver {
	case "memory":
		return openMemory(cfg), nil
	case "sqlite", "sqlite3":
		return openSQLite(cfg, log)
	default:
		return nil, errors.New("unknown journal driver: " + driver)
	}
}
