package metrics

import (
	"sync"
	"time"
)

// DefaultAlpha is the smoothing factor used when NewLatencyTracker is given
// one outside (0,1).
const DefaultAlpha = 0.2

// FamilyLatency summarises the scoring calls of one family since start.
type FamilyLatency struct {
	// EWMAms is the smoothed latency of successful calls in milliseconds.
	// Failed calls are counted but do not move it; a burst of timeouts would
	// otherwise pin it to the deadline.
	EWMAms float64
	Max    time.Duration
	OK     uint64
	Error  uint64
	// LastAt is the time of the most recent call, LastErrorAt of the most
	// recent failure. Both are zero until such a call is seen.
	LastAt      time.Time
	LastErrorAt time.Time
}

// ErrorRate is Error / (OK + Error), or 0 without observations.
func (l FamilyLatency) ErrorRate() float64 {
	if total := l.OK + l.Error; total > 0 {
		return float64(l.Error) / float64(total)
	}
	return 0
}

// LatencyTracker keeps a FamilyLatency per family. A nil tracker ignores
// observations.
type LatencyTracker struct {
	alpha float64
	// Now is the clock used to stamp observations.
	Now func() time.Time

	mu    sync.Mutex
	stats map[string]FamilyLatency
}

func NewLatencyTracker(alpha float64) *LatencyTracker {
	if alpha <= 0 || alpha >= 1 {
		alpha = DefaultAlpha
	}
	return &LatencyTracker{alpha: alpha, Now: time.Now, stats: map[string]FamilyLatency{}}
}

// Observe records one scoring call that took d and failed with err, if
// non-nil.
func (t *LatencyTracker) Observe(family string, d time.Duration, err error) {
	if t == nil {
		return
	}
	d = max(d, 0)
	now := t.Now()

	t.mu.Lock()
	defer t.mu.Unlock()

	st := t.stats[family]
	st.LastAt = now
	st.Max = max(st.Max, d)
	if err != nil {
		st.Error++
		st.LastErrorAt = now
		t.stats[family] = st
		return
	}
	ms := float64(d) / float64(time.Millisecond)
	if st.OK == 0 {
		st.EWMAms = ms
	} else {
		st.EWMAms += t.alpha * (ms - st.EWMAms)
	}
	st.OK++
	t.stats[family] = st
}

func (t *LatencyTracker) Get(family string) (FamilyLatency, bool) {
	if t == nil {
		return FamilyLatency{}, false
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	st, ok := t.stats[family]
	return st, ok
}

// Snapshot copies the current per-family stats.
func (t *LatencyTracker) Snapshot() map[string]FamilyLatency {
	if t == nil {
		return nil
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make(map[string]FamilyLatency, len(t.stats))
	for family, st := range t.stats {
		out[family] = st
	}
	return out
}
