package llm

import (
	"context"
	"errors"
	"slices"
	"sync"
	"time"
)

type call struct {
	at      time.Time
	latency time.Duration
	class   Class // Empty for a successful call
}

// StatsSnapshot summarizes the calls inside the window.
type StatsSnapshot struct {
	Calls    int            `json:"calls"`
	Failed   int            `json:"failed"`
	Failures map[string]int `json:"failures,omitempty"`
	MinMs    int64          `json:"min_ms"`
	MaxMs    int64          `json:"max_ms"`
	AvgMs    float64        `json:"avg_ms"`
	P50Ms    float64        `json:"p50_ms"`
	P95Ms    float64        `json:"p95_ms"`
	P99Ms    float64        `json:"p99_ms"`
}

// CallStats keeps the outcome and latency of recent generation calls.
type CallStats struct {
	mu     sync.Mutex
	calls  []call
	window time.Duration
	now    func() time.Time
}

func NewCallStats(window time.Duration) *CallStats {
	if window <= 0 {
		window = time.Hour
	}
	return &CallStats{window: window, now: time.Now}
}

// Record adds one call. class is empty when the call succeeded.
func (s *CallStats) Record(latency time.Duration, class Class) {
	latency = max(latency, 0)

	s.mu.Lock()
	defer s.mu.Unlock()
	now := s.now()
	s.expireLocked(now)
	s.calls = append(s.calls, call{at: now, latency: latency, class: class})
}

func (s *CallStats) Snapshot() StatsSnapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.expireLocked(s.now())

	var snap StatsSnapshot
	if len(s.calls) == 0 {
		return snap
	}
	ms := make([]int64, len(s.calls))
	var total int64
	for i, c := range s.calls {
		ms[i] = c.latency.Milliseconds()
		total += ms[i]
		if c.class != "" {
			if snap.Failures == nil {
				snap.Failures = make(map[string]int)
			}
			snap.Failures[string(c.class)]++
			snap.Failed++
		}
	}
	slices.Sort(ms)

	snap.Calls = len(ms)
	snap.MinMs = ms[0]
	snap.MaxMs = ms[len(ms)-1]
	snap.AvgMs = float64(total) / float64(len(ms))
	snap.P50Ms = percentile(ms, 50)
	snap.P95Ms = percentile(ms, 95)
	snap.P99Ms = percentile(ms, 99)
	return snap
}

// expireLocked drops calls older than the window. Calls are appended in time
// order, so the expired ones form a prefix.
func (s *CallStats) expireLocked(now time.Time) {
	cutoff := now.Add(-s.window)
	i := 0
	for i < len(s.calls) && s.calls[i].at.Before(cutoff) {
		i++
	}
	if i > 0 {
		s.calls = slices.Delete(s.calls, 0, i)
	}
}

// percentile interpolates linearly between the closest ranks of sorted.
func percentile(sorted []int64, pct float64) float64 {
	switch {
	case len(sorted) == 0:
		return 0
	case pct <= 0:
		return float64(sorted[0])
	case pct >= 100:
		return float64(sorted[len(sorted)-1])
	}
	rank := float64(len(sorted)-1) * pct / 100
	lo := int(rank)
	if lo+1 >= len(sorted) {
		return float64(sorted[lo])
	}
	frac := rank - float64(lo)
	return float64(sorted[lo]) + float64(sorted[lo+1]-sorted[lo])*frac
}

// Timed wraps a Client and feeds every call, successful or not, into Stats.
// A call cut short by the caller's cancellation is not counted.
type Timed struct {
	Client
	Stats *CallStats
}

// WithStats wraps c so that its calls feed stats.
func WithStats(c Client, stats *CallStats) *Timed {
	return &Timed{Client: c, Stats: stats}
}

func (t *Timed) Submit(ctx context.Context, req Request) (string, error) {
	start := time.Now()
	out, err := t.Client.Submit(ctx, req)
	if errors.Is(err, context.Canceled) {
		return out, err
	}
	t.Stats.Record(time.Since(start), Classify(err))
	return out, err
}
