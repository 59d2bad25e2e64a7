package timer

import "time"

// Snapshot is a point-in-time diagnostic view of the scheduler.
type Snapshot struct {
	Mode     string    `json:"mode"`
	Running  bool      `json:"running"`
	Pending  int       `json:"pending"`
	Armed    bool      `json:"armed"`
	Fired    uint64    `json:"fired"`
	Failed   uint64    `json:"failed"`
	NextFire time.Time `json:"next_fire"`
}

func (s *Scheduler) Snapshot() Snapshot {
	st := s.drv.stats()
	s.mu.Lock()
	running := s.stopCh != nil && s.stopDone == nil
	s.mu.Unlock()
	return Snapshot{
		Mode:     s.drv.mode(),
		Running:  running,
		Pending:  st.pending,
		Armed:    st.armed,
		Fired:    st.fired,
		Failed:   st.failed,
		NextFire: st.nextFire,
	}
}
