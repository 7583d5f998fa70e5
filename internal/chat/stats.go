package chat

import (
	"slices"
	"sync"
	"time"
)

type roundTrip struct {
	at      time.Time
	elapsed time.Duration
	failed  bool
}

// StatsSnapshot summarizes the ask round trips inside the window.
type StatsSnapshot struct {
	Count  int     `json:"count"`
	Failed int     `json:"failed"`
	MinMs  int64   `json:"min_ms"`
	MaxMs  int64   `json:"max_ms"`
	AvgMs  float64 `json:"avg_ms"`
	P50Ms  float64 `json:"p50_ms"`
	P95Ms  float64 `json:"p95_ms"`
}

// Stats keeps ask round trips for a rolling window. Latency figures include
// failed round trips.
type Stats struct {
	mu     sync.Mutex
	trips  []roundTrip
	window time.Duration
	now    func() time.Time
}

func NewStats(window time.Duration) *Stats {
	if window <= 0 {
		window = time.Hour
	}
	return &Stats{
		trips:  make([]roundTrip, 0, 64),
		window: window,
		now:    time.Now,
	}
}

// Record adds one round trip.
func (s *Stats) Record(elapsed time.Duration, failed bool) {
	if elapsed < 0 {
		elapsed = 0
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	now := s.now()
	s.pruneLocked(now)
	s.trips = append(s.trips, roundTrip{at: now, elapsed: elapsed, failed: failed})
}

func (s *Stats) Snapshot() StatsSnapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.pruneLocked(s.now())
	if len(s.trips) == 0 {
		return StatsSnapshot{}
	}

	ms := make([]int64, 0, len(s.trips))
	var sum int64
	snap := StatsSnapshot{Count: len(s.trips)}
	for _, rt := range s.trips {
		v := rt.elapsed.Milliseconds()
		ms = append(ms, v)
		sum += v
		if rt.failed {
			snap.Failed++
		}
	}
	slices.Sort(ms)

	snap.MinMs = ms[0]
	snap.MaxMs = ms[len(ms)-1]
	snap.AvgMs = float64(sum) / float64(len(ms))
	snap.P50Ms = percentile(ms, 50)
	snap.P95Ms = percentile(ms, 95)
	return snap
}

func (s *Stats) pruneLocked(now time.Time) {
	cutoff := now.Add(-s.window)
	s.trips = slices.DeleteFunc(s.trips, func(rt roundTrip) bool {
		return rt.at.Before(cutoff)
	})
}

// percentile interpolates linearly between the closest ranks of a sorted
// slice.
func percentile(sorted []int64, pct float64) float64 {
	switch {
	case len(sorted) == 0:
		return 0
	case pct <= 0:
		return float64(sorted[0])
	case pct >= 100:
		return float64(sorted[len(sorted)-1])
	}
	idx := float64(len(sorted)-1) * pct / 100
	lower := int(idx)
	if lower+1 >= len(sorted) {
		return float64(sorted[lower])
	}
	lo, hi := float64(sorted[lower]), float64(sorted[lower+1])
	return lo + (hi-lo)*(idx-float64(lower))
}
