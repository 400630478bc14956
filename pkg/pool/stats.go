package pool

import "sync/atomic"

// Stats provides a snapshot of pool state and lifetime counters.
type Stats struct {
	Capacity        int   `json:"capacity"`
	Idle            int   `json:"idle"`
	Outstanding     int   `json:"outstanding"`
	Acquires        int64 `json:"acquires"`
	Releases        int64 `json:"releases"`
	InvalidReleases int64 `json:"invalid_releases"`
	// Waited counts acquires that blocked for more than a millisecond
	// before a handle became available.
	Waited int64 `json:"waited"`
	Closed bool  `json:"closed"`
}

// Stats returns a snapshot of the pool's current state. Idle and
// Outstanding sum to Capacity while the pool is open and quiescent; a
// snapshot taken mid-acquire can observe a handle in transit between
// the two.
func (p *Pool[T]) Stats() Stats {
	p.mu.Lock()
	idle := len(p.idle)
	outstanding := len(p.outstanding)
	closed := p.closed
	p.mu.Unlock()

	return Stats{
		Capacity:        p.capacity,
		Idle:            idle,
		Outstanding:     outstanding,
		Acquires:        atomic.LoadInt64(&p.stats.acquires),
		Releases:        atomic.LoadInt64(&p.stats.releases),
		InvalidReleases: atomic.LoadInt64(&p.stats.invalidReleases),
		Waited:          atomic.LoadInt64(&p.stats.waited),
		Closed:          closed,
	}
}
