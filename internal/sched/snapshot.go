package sched

import "time"

// KindStatus is the operational view of one kind's loop.
type KindStatus struct {
	Kind      Kind          `json:"kind"`
	TickEvery time.Duration `json:"tick_every"`
	Pending   int           `json:"pending"`
	LastTick  time.Time     `json:"last_tick"`
	LastError string        `json:"last_error,omitempty"`
}

// Snapshot is served by the status endpoint: per kind, the size of the
// pending working set and the timestamp of the last successful tick.
type Snapshot struct {
	Kinds []KindStatus `json:"kinds"`
}

func (s *Service) Snapshot() Snapshot {
	out := Snapshot{Kinds: make([]KindStatus, 0, len(s.kinds))}
	for _, k := range sortedKinds(s.kinds) {
		ks := s.kinds[k]
		st := KindStatus{Kind: k, TickEvery: ks.TickEvery}
		if sc, ok := s.scanners[k]; ok {
			st.Pending, st.LastTick, st.LastError = sc.Status()
		}
		out.Kinds = append(out.Kinds, st)
	}
	return out
}
