package journal

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
)

const defaultKeep = 512

// memoryJournal keeps the most recent runs in a bounded slice,
// oldest first. Cheap enough for tests and journal-less deployments
// that still want `recent runs` diagnostics.
type memoryJournal struct {
	mu   sync.Mutex
	keep int
	runs []Run
}

func openMemory(cfg Config) Journal {
	keep := cfg.Keep
	if keep <= 0 {
		keep = defaultKeep
	}
	return &memoryJournal{keep: keep}
}

func (m *memoryJournal) AppendRun(_ context.Context, r Run) error {
	if r.ID == "" {
		r.ID = uuid.NewString()
	}
	if r.Started.IsZero() {
		r.Started = time.Now()
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.runs = append(m.runs, r)
	if len(m.runs) > m.keep {
		m.runs = m.runs[len(m.runs)-m.keep:]
	}
	return nil
}

func (m *memoryJournal) RecentRuns(_ context.Context, limit int) ([]Run, error) {
	if limit <= 0 {
		limit = 50
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	n := len(m.runs)
	if limit > n {
		limit = n
	}
	out := make([]Run, 0, limit)
	for i := n - 1; i >= n-limit; i-- {
		out = append(out, m.runs[i])
	}
	return out, nil
}

func (m *memoryJournal) PruneBefore(_ context.Context, cutoff time.Time) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	kept := m.runs[:0]
	var removed int64
	for _, r := range m.runs {
		if r.Started.Before(cutoff) {
			removed++
			continue
		}
		kept = append(kept, r)
	}
	m.runs = kept
	return removed, nil
}

func (m *memoryJournal) Close() error { return nil }
